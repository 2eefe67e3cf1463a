// Copyright 2025 Certen Protocol
//
// Configuration for the upload service (service U).

package config

import (
	"fmt"
	"strings"
)

// UploadConfig holds all configuration for the upload service.
type UploadConfig struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Database
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime int
	DatabaseMaxLifetime int
	AutoMigrate         bool

	// Inter-service
	SharedSecret      string
	PaymentBaseURL    string
	PaymentCallTimeout int // seconds

	// Signing
	BundlerKeyPath string

	// Hot store (KV cache + queue fabric backing)
	RedisURL string

	// Warm store (local filesystem, best-effort)
	WarmStoreDir string

	// Cold store (S3-compatible object store, commit point)
	ColdStoreBucket   string
	ColdStoreRegion   string
	ColdStoreEndpoint string // non-empty to target a minio-compatible endpoint
	ColdStoreForcePathStyle bool

	// Chain gateway (external blockchain collaborator)
	ChainGatewayURL     string
	ChainGatewayAPIKey  string

	// Downstream optical-post gateways (secondary indexers/mirrors)
	DownstreamGatewayURLs []string
	DownstreamAdminKey    string

	// Size / eligibility
	MaxItemSizeBytes      int64
	FreeUploadLimitBytes  int64
	PremiumTagsFile       string

	// Offset index retention
	OffsetIndexRetentionDays int

	// Queue / worker tuning (structured, loaded from YAML operational config)
	QueueConfigFile string

	// Bundling thresholds
	OverdueBlocks int
	DropBlocks    int
	ConfirmBlocks int

	// Fan-out
	FirestoreEnabled bool

	LogLevel string
}

// LoadUploadConfig reads the upload service configuration from the
// environment.
func LoadUploadConfig() (*UploadConfig, error) {
	cfg := &UploadConfig{
		ListenAddr:  getEnv("UPLOAD_LISTEN_ADDR", ":8081"),
		MetricsAddr: getEnv("UPLOAD_METRICS_ADDR", ":9091"),

		DatabaseURL:         getEnv("UPLOAD_DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("UPLOAD_DATABASE_MAX_CONNS", 20),
		DatabaseMinConns:    getEnvInt("UPLOAD_DATABASE_MIN_CONNS", 2),
		DatabaseMaxIdleTime: getEnvInt("UPLOAD_DATABASE_MAX_IDLE_TIME", 300),
		DatabaseMaxLifetime: getEnvInt("UPLOAD_DATABASE_MAX_LIFETIME", 3600),
		AutoMigrate:         getEnvBool("UPLOAD_AUTO_MIGRATE", false),

		SharedSecret:       getEnv("SHARED_SECRET", ""),
		PaymentBaseURL:     getEnv("PAYMENT_BASE_URL", "http://127.0.0.1:8080"),
		PaymentCallTimeout: getEnvInt("PAYMENT_CALL_TIMEOUT_SECONDS", 10),

		BundlerKeyPath: getEnv("BUNDLER_KEY_PATH", ""),

		RedisURL: getEnv("UPLOAD_REDIS_URL", "redis://127.0.0.1:6379/1"),

		WarmStoreDir: getEnv("WARM_STORE_DIR", "/var/lib/bundler-gateway/warm"),

		ColdStoreBucket:         getEnv("COLD_STORE_BUCKET", ""),
		ColdStoreRegion:         getEnv("COLD_STORE_REGION", "us-east-1"),
		ColdStoreEndpoint:       getEnv("COLD_STORE_ENDPOINT", ""),
		ColdStoreForcePathStyle: getEnvBool("COLD_STORE_FORCE_PATH_STYLE", false),

		ChainGatewayURL:    getEnv("CHAIN_GATEWAY_URL", ""),
		ChainGatewayAPIKey: getEnv("CHAIN_GATEWAY_API_KEY", ""),

		DownstreamGatewayURLs: getEnvList("DOWNSTREAM_GATEWAY_URLS"),
		DownstreamAdminKey:    getEnv("DOWNSTREAM_ADMIN_KEY", ""),

		MaxItemSizeBytes:     getEnvInt64("MAX_ITEM_SIZE_BYTES", 10*1024*1024*1024),
		FreeUploadLimitBytes: getEnvInt64("FREE_UPLOAD_LIMIT_BYTES", 517120),
		PremiumTagsFile:      getEnv("PREMIUM_TAGS_FILE", "config/premium-tags.yaml"),

		OffsetIndexRetentionDays: getEnvInt("OFFSET_INDEX_RETENTION_DAYS", 365),

		QueueConfigFile: getEnv("QUEUE_CONFIG_FILE", "config/queues.yaml"),

		OverdueBlocks: getEnvInt("OVERDUE_BLOCKS", 200),
		DropBlocks:    getEnvInt("DROP_BLOCKS", 50),
		ConfirmBlocks: getEnvInt("CONFIRM_BLOCKS", 18),

		FirestoreEnabled: getEnvBool("FIRESTORE_ENABLED", false),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	return cfg, nil
}

// Validate enforces that production-required fields are present.
func (c *UploadConfig) Validate() error {
	var errs []string
	if c.DatabaseURL == "" {
		errs = append(errs, "UPLOAD_DATABASE_URL is required")
	}
	if len(c.SharedSecret) != 64 {
		errs = append(errs, "SHARED_SECRET must be 32 bytes hex-encoded (64 hex chars)")
	}
	if c.BundlerKeyPath == "" {
		errs = append(errs, "BUNDLER_KEY_PATH is required")
	}
	if c.ColdStoreBucket == "" {
		errs = append(errs, "COLD_STORE_BUCKET is required")
	}
	if c.MaxItemSizeBytes <= 0 {
		errs = append(errs, "MAX_ITEM_SIZE_BYTES must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("upload configuration invalid:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
