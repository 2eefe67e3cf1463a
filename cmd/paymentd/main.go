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

	"github.com/certen/bundler-gateway/pkg/chaingateway"
	"github.com/certen/bundler-gateway/pkg/config"
	"github.com/certen/bundler-gateway/pkg/payment/arns"
	"github.com/certen/bundler-gateway/pkg/payment/cryptotopup"
	"github.com/certen/bundler-gateway/pkg/payment/fiat"
	"github.com/certen/bundler-gateway/pkg/payment/gasless"
	"github.com/certen/bundler-gateway/pkg/payment/ledger"
	"github.com/certen/bundler-gateway/pkg/payment/nameregistry"
	"github.com/certen/bundler-gateway/pkg/payment/oracle"
	"github.com/certen/bundler-gateway/pkg/payment/pricing"
	paymentserver "github.com/certen/bundler-gateway/pkg/payment/server"
	"github.com/certen/bundler-gateway/pkg/payment/store"
)

// HealthStatus tracks the health of the payment service's dependencies
// for the /health endpoint.
type HealthStatus struct {
	Status        string `json:"status"` // "ok", "degraded", "error"
	Database      string `json:"database"`
	ChainGateway  string `json:"chain_gateway"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	startTime     time.Time
	mu            sync.RWMutex
}

var healthStatus = &HealthStatus{
	Status:       "starting",
	Database:     "unknown",
	ChainGateway: "unknown",
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

func (h *HealthStatus) updateOverallStatus() {
	if h.Database == "disconnected" {
		h.Status = "error"
		return
	}
	if h.ChainGateway == "disconnected" {
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
	log.Printf("🚀 Starting payment service (service P)...")

	cfg, err := config.LoadPaymentConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration:", err)
	}

	log.Println("🗄️ Connecting to payment database...")
	dbClient, err := store.NewClient(store.Config{
		DatabaseURL:     cfg.DatabaseURL,
		MaxConns:        cfg.DatabaseMaxConns,
		MinConns:        cfg.DatabaseMinConns,
		MaxIdleTimeSecs: cfg.DatabaseMaxIdleTime,
		MaxLifetimeSecs: cfg.DatabaseMaxLifetime,
	}, store.WithLogger(log.New(log.Writer(), "[payment/store] ", log.LstdFlags)))
	if err != nil {
		log.Fatalf("❌ Database connection REQUIRED but failed: %v", err)
	}
	log.Println("✅ Connected to payment database")
	healthStatus.SetDatabase("connected")

	if cfg.AutoMigrate {
		if err := dbClient.MigrateUp(context.Background()); err != nil {
			log.Fatalf("❌ Database migration failed: %v", err)
		}
		log.Println("✅ Database migrations applied")
	}

	stablecoinNetworks, err := config.LoadStablecoinNetworksConfig(cfg.StablecoinNetworksFile)
	if err != nil {
		log.Fatalf("❌ Failed to load stablecoin networks config: %v", err)
	}
	log.Printf("🔗 Loaded %d stablecoin network(s) from %s", len(stablecoinNetworks.Enabled()), cfg.StablecoinNetworksFile)

	chain := chaingateway.NewHTTPClient(cfg.ChainGatewayURL, cfg.ChainGatewayAPIKey)
	if cfg.ChainGatewayURL == "" {
		log.Println("⚠️ CHAIN_GATEWAY_URL not set - crypto top-ups will be unavailable")
		healthStatus.SetChainGateway("disconnected")
	} else {
		healthStatus.SetChainGateway("connected")
	}

	fiatOracle := oracle.NewHTTPClient(cfg.FiatOracleURL, cfg.FiatOracleAPIKey)
	registry := nameregistry.NewHTTPClient(cfg.NameRegistryURL, cfg.NameRegistryAPIKey)

	pricingSvc := pricing.New(pricing.Config{
		Chain:                 chain,
		Fiat:                  fiatOracle,
		CacheTTL:              time.Duration(cfg.OracleCacheTTLSeconds) * time.Second,
		InfrastructureFeeBps:  cfg.InfrastructureFeeBps,
		VolatilityBufferBps:   cfg.StablecoinVolatilityBpsExtra,
		StablecoinFloorAtomic: cfg.StablecoinFloorAtomic,
		Logger:                log.New(log.Writer(), "[pricing] ", log.LstdFlags),
	})

	ledgerEngine := ledger.New(dbClient, pricingSvc, ledger.WithLogger(log.New(log.Writer(), "[ledger] ", log.LstdFlags)))

	gaslessEngine := gasless.New(gasless.Config{
		Networks:             stablecoinNetworks,
		PayeeAddress:         cfg.PayeeAddress,
		Payments:             store.NewGaslessPaymentRepository(dbClient),
		Ledger:               ledgerEngine,
		Pricing:              pricingSvc,
		FinalizeToleranceBps: cfg.GaslessFinalizeToleranceBps,
		Logger:               log.New(log.Writer(), "[gasless] ", log.LstdFlags),
	})

	fiatSvc := fiat.New(fiat.Config{
		APIKey:        cfg.StripeSecretKey,
		Quotes:        store.NewFiatQuoteRepository(dbClient),
		Ledger:        ledgerEngine,
		Pricing:       pricingSvc,
		WebhookSecret: cfg.StripeWebhookSecret,
		Logger:        log.New(log.Writer(), "[fiat] ", log.LstdFlags),
	})

	cryptoTopupSvc := cryptotopup.New(cryptotopup.Config{
		Chain:    chain,
		Deposits: store.NewCryptoDepositRepository(dbClient),
		Ledger:   ledgerEngine,
		Pricing:  pricingSvc,
		Logger:   log.New(log.Writer(), "[cryptotopup] ", log.LstdFlags),
	})

	arnsSvc := arns.New(arns.Config{
		Registry:  registry,
		Purchases: store.NewArnsPurchaseRepository(dbClient),
		Ledger:    ledgerEngine,
		Pricing:   pricingSvc,
		Logger:    log.New(log.Writer(), "[arns] ", log.LstdFlags),
	})

	paymentRouter := paymentserver.NewRouter(paymentserver.Deps{
		Ledger:       ledgerEngine,
		Pricing:      pricingSvc,
		Gasless:      gaslessEngine,
		Fiat:         fiatSvc,
		CryptoTopup:  cryptoTopupSvc,
		Arns:         arnsSvc,
		SharedSecret: cfg.SharedSecret,
		Logger:       log.New(log.Writer(), "[payment-http] ", log.LstdFlags),
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
	mux.Handle("/", paymentRouter)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("📊 Payment service metrics listening on %s", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, metricsMux); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	log.Printf("✅ Payment service ready")
	log.Printf("   - POST /x402/payment/:scheme/:address")
	log.Printf("   - GET  /balance")
	log.Printf("   - POST /account/balance/:scheme")
	log.Printf("   - GET  /arns/price/:intent/:name")

	go func() {
		log.Printf("🌐 Payment service API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("🛑 Shutting down payment service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Printf("✅ Payment service stopped")
}
