package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/certen/bundler-gateway/pkg/chaingateway"
	"github.com/certen/bundler-gateway/pkg/config"
	"github.com/certen/bundler-gateway/pkg/kv"
	"github.com/certen/bundler-gateway/pkg/queue"
	"github.com/certen/bundler-gateway/pkg/statusfanout"
	"github.com/certen/bundler-gateway/pkg/upload/dedupe"
	"github.com/certen/bundler-gateway/pkg/upload/ingest"
	"github.com/certen/bundler-gateway/pkg/upload/offsetindex"
	"github.com/certen/bundler-gateway/pkg/upload/paymentclient"
	uploadserver "github.com/certen/bundler-gateway/pkg/upload/server"
	"github.com/certen/bundler-gateway/pkg/upload/signer"
	"github.com/certen/bundler-gateway/pkg/upload/store"
	"github.com/certen/bundler-gateway/pkg/upload/triplestore"
	"github.com/certen/bundler-gateway/pkg/upload/workers"
)

// HealthStatus tracks the health of the upload service's dependencies
// for the /health endpoint.
type HealthStatus struct {
	Status        string `json:"status"` // "ok", "degraded", "error"
	Database      string `json:"database"`
	ChainGateway  string `json:"chain_gateway"`
	ColdStore     string `json:"cold_store"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	startTime     time.Time
	mu            sync.RWMutex
}

var healthStatus = &HealthStatus{
	Status:       "starting",
	Database:     "unknown",
	ChainGateway: "unknown",
	ColdStore:    "unknown",
	startTime:    time.Now(),
}

func (h *HealthStatus) SetDatabase(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Database = status
	h.updateOverallStatus()
}

func (h *HealthStatus) SetChainGateway(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ChainGateway = status
	h.updateOverallStatus()
}

func (h *HealthStatus) SetColdStore(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ColdStore = status
	h.updateOverallStatus()
}

func (h *HealthStatus) updateOverallStatus() {
	if h.Database == "disconnected" {
		h.Status = "error"
		return
	}
	if h.ChainGateway == "disconnected" || h.ColdStore == "disconnected" {
		h.Status = "degraded"
		return
	}
	h.Status = "ok"
}

func (h *HealthStatus) ToJSON() []byte {
	h.mu.Lock()
	h.UptimeSeconds = int64(time.Since(h.startTime).Seconds())
	h.mu.Unlock()
	h.mu.RLock()
	defer h.mu.RUnlock()
	data, _ := json.Marshal(h)
	return data
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("🚀 Starting upload service (service U)...")

	cfg, err := config.LoadUploadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration:", err)
	}

	log.Println("🗄️ Connecting to upload database...")
	dbClient, err := store.NewClient(store.Config{
		DatabaseURL:     cfg.DatabaseURL,
		MaxConns:        cfg.DatabaseMaxConns,
		MinConns:        cfg.DatabaseMinConns,
		MaxIdleTimeSecs: cfg.DatabaseMaxIdleTime,
		MaxLifetimeSecs: cfg.DatabaseMaxLifetime,
	}, store.WithLogger(log.New(log.Writer(), "[upload/store] ", log.LstdFlags)))
	if err != nil {
		log.Fatalf("❌ Database connection REQUIRED but failed: %v", err)
	}
	log.Println("✅ Connected to upload database")
	healthStatus.SetDatabase("connected")

	if cfg.AutoMigrate {
		if err := dbClient.MigrateUp(context.Background()); err != nil {
			log.Fatalf("❌ Database migration failed: %v", err)
		}
		log.Println("✅ Database migrations applied")
	}

	items := store.NewDataItemRepository(dbClient)
	plans := store.NewBundlePlanRepository(dbClient)
	bundles := store.NewBundleTransactionRepository(dbClient)
	offsets := store.NewOffsetRepository(dbClient)
	cursors := store.NewWorkerCursorRepository(dbClient)
	sessions := store.NewMultipartSessionRepository(dbClient)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("❌ Invalid UPLOAD_REDIS_URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("❌ Redis connection REQUIRED but failed: %v", err)
	}
	log.Println("✅ Connected to Redis (hot cache + queue fabric)")

	hotStore := kv.NewRedisStore(redisClient, "upload:hot")
	queueBackend := queue.NewRedisBackend(redisClient, "upload:queue")
	fabric := queue.New(queueBackend, log.New(log.Writer(), "[queue] ", log.LstdFlags))

	var coldStore triplestore.ColdStore
	if cfg.ColdStoreBucket == "" {
		log.Println("⚠️ COLD_STORE_BUCKET not set - using in-memory cold store (non-durable)")
		coldStore = triplestore.NewMemoryColdStore()
		healthStatus.SetColdStore("degraded")
	} else {
		s3Cold, err := triplestore.NewS3ColdStore(context.Background(), triplestore.S3Config{
			Bucket:         cfg.ColdStoreBucket,
			Region:         cfg.ColdStoreRegion,
			Endpoint:       cfg.ColdStoreEndpoint,
			ForcePathStyle: cfg.ColdStoreForcePathStyle,
		})
		if err != nil {
			log.Fatalf("❌ Cold store connection REQUIRED but failed: %v", err)
		}
		coldStore = s3Cold
		healthStatus.SetColdStore("connected")
	}
	triple := triplestore.New(coldStore, cfg.WarmStoreDir, hotStore,
		triplestore.WithLogger(log.New(log.Writer(), "[triplestore] ", log.LstdFlags)))

	bundlerSigner, err := signer.LoadFromHexFile(cfg.BundlerKeyPath)
	if err != nil {
		log.Fatalf("❌ Failed to load bundler signing key: %v", err)
	}
	log.Printf("🔑 Bundler signing identity: %s", bundlerSigner.Address())

	var chain chaingateway.Client
	if cfg.ChainGatewayURL == "" {
		log.Println("⚠️ CHAIN_GATEWAY_URL not set - using deterministic chain gateway stub")
		chain = chaingateway.NewStub(1)
		healthStatus.SetChainGateway("degraded")
	} else {
		chain = chaingateway.NewHTTPClient(cfg.ChainGatewayURL, cfg.ChainGatewayAPIKey)
		healthStatus.SetChainGateway("connected")
	}

	dedupeGuard := dedupe.New(hotStore)
	paymentSvc := paymentclient.New(cfg.PaymentBaseURL, cfg.SharedSecret, cfg.PaymentCallTimeout)

	premiumTags, err := config.LoadPremiumTagsConfig(cfg.PremiumTagsFile)
	if err != nil {
		log.Fatalf("❌ Failed to load premium tags config: %v", err)
	}
	log.Printf("🏷️ Loaded %d premium tag(s), %d free-allowlisted address(es)", len(premiumTags.PremiumTags), len(premiumTags.FreeAllowList))

	statusCfg := statusfanout.DefaultConfig()
	statusCfg.Enabled = cfg.FirestoreEnabled
	statusClient, err := statusfanout.NewClient(context.Background(), statusCfg)
	if err != nil {
		log.Fatalf("❌ Failed to start status fan-out client: %v", err)
	}

	index := offsetindex.New(offsets, hotStore)

	ingestSvc := ingest.New(ingest.Config{
		MaxItemSizeBytes:      cfg.MaxItemSizeBytes,
		FreeUploadLimitBytes:  cfg.FreeUploadLimitBytes,
		OverdueBlocks:         int64(cfg.OverdueBlocks),
		DownstreamGatewayURLs: cfg.DownstreamGatewayURLs,
		PremiumTags:           premiumTags.PremiumTags,
	}, items, sessions, triple, dedupeGuard, paymentSvc, fabric, chain, bundlerSigner,
		ingest.WithLogger(log.New(log.Writer(), "[ingest] ", log.LstdFlags)))

	workerCfg := workers.DefaultConfig()
	workerCfg.PremiumTags = premiumTags.PremiumTags
	workerCfg.FreeAllowList = premiumTags.FreeAllowList
	workerCfg.DownstreamGatewayURLs = cfg.DownstreamGatewayURLs
	workerCfg.ConfirmationTarget = int64(cfg.ConfirmBlocks)
	workerCfg.DropAfterBlocks = int64(cfg.DropBlocks)

	pipeline := workers.New(workerCfg, items, plans, bundles, offsets, cursors,
		triple, fabric, chain, bundlerSigner, statusClient, index,
		log.New(log.Writer(), "[workers] ", log.LstdFlags))

	queueCfg, err := config.LoadQueueConfig(cfg.QueueConfigFile)
	if err != nil {
		log.Fatalf("❌ Failed to load queue config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pipeline.RunAll(ctx, queueCfg)
	log.Println("⚙️ Bundling pipeline workers started")

	uploadRouter := uploadserver.NewRouter(uploadserver.Deps{
		Ingest:                ingestSvc,
		Items:                 items,
		Offsets:               index,
		Chain:                 chain,
		ProtocolVersion:       ingest.ProtocolVersion,
		BundlerAddresses:      []string{bundlerSigner.Address()},
		FreeUploadLimitBytes:  cfg.FreeUploadLimitBytes,
		DownstreamGatewayURLs: cfg.DownstreamGatewayURLs,
		Logger:                log.New(log.Writer(), "[upload-http] ", log.LstdFlags),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch healthStatus.Status {
		case "ok":
			w.WriteHeader(http.StatusOK)
		case "degraded":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write(healthStatus.ToJSON())
	})
	mux.Handle("/", uploadRouter)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("📊 Upload service metrics listening on %s", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, metricsMux); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	log.Printf("✅ Upload service ready")
	log.Printf("   - POST /tx")
	log.Printf("   - POST /tx/raw")
	log.Printf("   - POST /multipart")
	log.Printf("   - GET  /tx/:id")
	log.Printf("   - GET  /tx/:id/offset")
	log.Printf("   - GET  /info")

	go func() {
		log.Printf("🌐 Upload service API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("🛑 Shutting down upload service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Printf("✅ Upload service stopped")
}
