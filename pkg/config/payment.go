// Copyright 2025 Certen Protocol
//
// Configuration for the payment service (service P).

package config

import (
	"fmt"
	"strings"
)

// PaymentConfig holds all configuration for the payment service.
type PaymentConfig struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Database
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime int // seconds
	DatabaseMaxLifetime int // seconds
	DatabaseRequired    bool
	AutoMigrate         bool

	// Inter-service
	SharedSecret   string // 32-byte hex, authenticates calls from the upload service
	UploadBaseURL  string // used only for outbound notifications, if any

	// Hot cache / KV URL. Loaded but not used by paymentd, which opens
	// no Redis connection (the oracle cache is in-process).
	RedisURL string

	// Pricing
	InfrastructureFeeBps       int // single named config value (spec §9 open question: pick one, 5-15%)
	OracleCacheTTLSeconds      int
	StablecoinVolatilityBpsExtra int // +10% default
	StablecoinFloorAtomic      int64

	// Gasless payment protocol
	GaslessFinalizeToleranceBps int    // default 500 = 5%
	DefaultModeOneShot          string // "exact-only" | "topup" | "hybrid"; loaded but not read
	DefaultModeRaw              string // same values; loaded but not read
	PayeeAddress                string // settlement address stablecoin transfers pay to

	// Stablecoin networks (structured, loaded from YAML operational config)
	StablecoinNetworksFile string

	// Fiat processor (Stripe)
	StripeSecretKey    string
	StripeWebhookSecret string

	// Crypto top-up chain watcher
	ChainGatewayURL    string
	ChainGatewayAPIKey string

	// Fiat/stablecoin rate feed (pkg/payment/oracle)
	FiatOracleURL    string
	FiatOracleAPIKey string

	// Name-system (ARNS) purchase
	GovernanceTokenContract string
	NameRegistryURL         string
	NameRegistryAPIKey      string

	LogLevel string
}

// LoadPaymentConfig reads the payment service configuration from the
// environment. Required variables have no defaults; call Validate()
// after Load to enforce that.
func LoadPaymentConfig() (*PaymentConfig, error) {
	cfg := &PaymentConfig{
		ListenAddr:  getEnv("PAYMENT_LISTEN_ADDR", ":8080"),
		MetricsAddr: getEnv("PAYMENT_METRICS_ADDR", ":9090"),

		DatabaseURL:         getEnv("PAYMENT_DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("PAYMENT_DATABASE_MAX_CONNS", 10),
		DatabaseMinConns:    getEnvInt("PAYMENT_DATABASE_MIN_CONNS", 2),
		DatabaseMaxIdleTime: getEnvInt("PAYMENT_DATABASE_MAX_IDLE_TIME", 300),
		DatabaseMaxLifetime: getEnvInt("PAYMENT_DATABASE_MAX_LIFETIME", 3600),
		DatabaseRequired:    getEnvBool("PAYMENT_DATABASE_REQUIRED", true),
		AutoMigrate:         getEnvBool("PAYMENT_AUTO_MIGRATE", false),

		SharedSecret:  getEnv("SHARED_SECRET", ""),
		UploadBaseURL: getEnv("UPLOAD_BASE_URL", ""),

		RedisURL: getEnv("PAYMENT_REDIS_URL", "redis://127.0.0.1:6379/0"),

		InfrastructureFeeBps:         getEnvInt("INFRASTRUCTURE_FEE_BPS", 1500),
		OracleCacheTTLSeconds:        getEnvInt("ORACLE_CACHE_TTL_SECONDS", 60),
		StablecoinVolatilityBpsExtra: getEnvInt("STABLECOIN_VOLATILITY_BPS", 1000),
		StablecoinFloorAtomic:        getEnvInt64("STABLECOIN_FLOOR_ATOMIC", 1000),

		GaslessFinalizeToleranceBps: getEnvInt("GASLESS_FINALIZE_TOLERANCE_BPS", 500),
		DefaultModeOneShot:          getEnv("GASLESS_DEFAULT_MODE_ONE_SHOT", "hybrid"),
		DefaultModeRaw:              getEnv("GASLESS_DEFAULT_MODE_RAW", "exact-only"),
		PayeeAddress:                getEnv("PAYEE_ADDRESS", ""),

		StablecoinNetworksFile: getEnv("STABLECOIN_NETWORKS_FILE", "config/stablecoin-networks.yaml"),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		ChainGatewayURL:    getEnv("CHAIN_GATEWAY_URL", ""),
		ChainGatewayAPIKey: getEnv("CHAIN_GATEWAY_API_KEY", ""),

		FiatOracleURL:    getEnv("FIAT_ORACLE_URL", ""),
		FiatOracleAPIKey: getEnv("FIAT_ORACLE_API_KEY", ""),

		GovernanceTokenContract: getEnv("GOVERNANCE_TOKEN_CONTRACT", ""),
		NameRegistryURL:         getEnv("NAME_REGISTRY_URL", ""),
		NameRegistryAPIKey:      getEnv("NAME_REGISTRY_API_KEY", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	return cfg, nil
}

// Validate enforces that production-required fields are present.
func (c *PaymentConfig) Validate() error {
	var errs []string
	if c.DatabaseURL == "" {
		errs = append(errs, "PAYMENT_DATABASE_URL is required")
	}
	if len(c.SharedSecret) != 64 {
		errs = append(errs, "SHARED_SECRET must be 32 bytes hex-encoded (64 hex chars)")
	}
	if c.InfrastructureFeeBps < 0 || c.InfrastructureFeeBps > 10000 {
		errs = append(errs, "INFRASTRUCTURE_FEE_BPS must be in [0, 10000]")
	}
	if len(errs) > 0 {
		return fmt.Errorf("payment configuration invalid:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
