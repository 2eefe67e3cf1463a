// Package workers implements ten bundling-pipeline stage handlers run
// against pkg/queue.Fabric: new-data-item, planner, preparer, poster,
// seeder, verifier, put-offsets, optical-post, unbundle-nested, and
// cleanup-warm (spec §4.7/§4.8). finalize-multipart is the eleventh
// named stage in the queue tuning table, but its work
// (assemble, verify, pay, triple-write) runs synchronously from the
// HTTP handler so the still-connected client gets its receipt back
// (pkg/upload/ingest.Service.Finalize); see DESIGN.md.
package workers

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/certen/bundler-gateway/pkg/chaingateway"
	"github.com/certen/bundler-gateway/pkg/circuitbreaker"
	"github.com/certen/bundler-gateway/pkg/config"
	"github.com/certen/bundler-gateway/pkg/envelope"
	"github.com/certen/bundler-gateway/pkg/money"
	"github.com/certen/bundler-gateway/pkg/queue"
	"github.com/certen/bundler-gateway/pkg/statusfanout"
	"github.com/certen/bundler-gateway/pkg/upload/offsetindex"
	"github.com/certen/bundler-gateway/pkg/upload/store"
	"github.com/certen/bundler-gateway/pkg/upload/triplestore"
)

// Signer is implemented by pkg/upload/signer.Ed25519Signer; the
// preparer stage reuses the same identity ingest uses for raw-blob
// envelopes to sign assembled bundle payloads.
type Signer interface {
	Sign(payload []byte, tags []envelope.Tag) (*envelope.Envelope, error)
}

// Config is the tuning the pipeline needs beyond per-stage queue
// settings (config.QueueConfig), which callers pass separately to Run.
type Config struct {
	// MaxPlanBytes and MaxPlanItems bound one bundle plan (spec §4.8
	// planner: 2GiB / 10000 items).
	MaxPlanBytes int64
	MaxPlanItems int

	// PlanInterval is how often the planner singleton wakes to look for
	// work (spec §4.8: ~every 5 minutes).
	PlanInterval time.Duration
	// PremiumTags segregates planning into one eligible set per tag,
	// plus the untagged ("") free set (spec §4.8).
	PremiumTags []string
	// PlannerLockTTL bounds how long one planning pass may hold the
	// cluster-wide singleton lock before another instance may try.
	PlannerLockTTL time.Duration

	// ConfirmationTarget is the confirmation count the verifier treats
	// as permanent (spec §4.8: 18 blocks).
	ConfirmationTarget int64
	// BlockTime estimates chain block production, used by the verifier
	// to translate the "50 blocks with no confirmation" drop condition
	// into a wall-clock bound against bundle_txs.posted_at.
	BlockTime time.Duration
	// DropAfterBlocks is the no-confirmation block count past which a
	// posted bundle is considered dropped (spec §4.8: 50 blocks).
	DropAfterBlocks int64

	// PreparerConcurrency bounds concurrent cold-store reads while
	// assembling one plan's payload (spec §4.8: <=100).
	PreparerConcurrency int
	// OffsetBatchSize bounds one put-offsets upsert call (spec §4.8: <=250).
	OffsetBatchSize int
	// VerifierPollInterval throttles the verifier's re-enqueue-self loop
	// while a bundle's confirmation is still pending.
	VerifierPollInterval time.Duration

	// DownstreamGatewayURLs is optical-post's primary+secondary
	// destinations, primary first (spec §4.8).
	DownstreamGatewayURLs []string
	// PremiumGatewayURLs adds extra destinations for items carrying one
	// of the configured premium tags, keyed by tag value.
	PremiumGatewayURLs map[string][]string
	// FreeAllowList skips optical-post entirely for these owner
	// addresses (spec §4.8, shared with config.PremiumTagsConfig).
	FreeAllowList []string
	// CanarySampleEvery posts to secondaries for 1-in-N items only;
	// primary always receives every item.
	CanarySampleEvery int

	// InlineThresholdBytes bounds how small a nested item must be to
	// skip its own cold-store copy during unbundle-nested, relying
	// instead on retrieval through the parent's stored bytes plus offset.
	InlineThresholdBytes int64

	// CleanupAfter is how long an item must have been permanent before
	// cleanup-warm removes its warm-tier copy (spec §4.8: 24h).
	CleanupAfter time.Duration
	// CleanupBatchSize and CleanupHeartbeat tune one cleanup-warm pass
	// (spec §4.8: batches of 500, heartbeat 15s).
	CleanupBatchSize int
	CleanupHeartbeat time.Duration
	// CleanupAbortAfterErrors stops a cleanup-warm pass early past this
	// many consecutive per-item errors (spec §4.8: 10).
	CleanupAbortAfterErrors int
}

// DefaultConfig mirrors the pipeline tuning from spec §4.8.
func DefaultConfig() Config {
	return Config{
		MaxPlanBytes:            2 * 1024 * 1024 * 1024,
		MaxPlanItems:            10000,
		PlanInterval:            5 * time.Minute,
		PlannerLockTTL:          2 * time.Minute,
		ConfirmationTarget:      18,
		BlockTime:               2 * time.Minute,
		DropAfterBlocks:         50,
		PreparerConcurrency:     100,
		OffsetBatchSize:         250,
		VerifierPollInterval:    10 * time.Second,
		CanarySampleEvery:       10,
		InlineThresholdBytes:    256 * 1024,
		CleanupAfter:            24 * time.Hour,
		CleanupBatchSize:        500,
		CleanupHeartbeat:        15 * time.Second,
		CleanupAbortAfterErrors: 10,
	}
}

// Workers wires every repository, the triple store, the queue fabric,
// the chain gateway, and the status fan-out client together into the
// ten stage handlers.
type Workers struct {
	cfg Config

	items    *store.DataItemRepository
	plans    *store.BundlePlanRepository
	bundles  *store.BundleTransactionRepository
	offsets  *store.OffsetRepository
	cursors  *store.WorkerCursorRepository

	triple *triplestore.Store
	queue  *queue.Fabric
	chain  chaingateway.Client
	signer Signer
	status *statusfanout.Client
	index  *offsetindex.Index

	breakersMu sync.Mutex
	breakers   map[string]*circuitbreaker.Breaker

	logger *log.Logger
}

func New(cfg Config, items *store.DataItemRepository, plans *store.BundlePlanRepository,
	bundles *store.BundleTransactionRepository, offsets *store.OffsetRepository, cursors *store.WorkerCursorRepository,
	triple *triplestore.Store, fabric *queue.Fabric, chain chaingateway.Client, signer Signer, status *statusfanout.Client,
	index *offsetindex.Index, logger *log.Logger) *Workers {
	if logger == nil {
		logger = log.New(log.Writer(), "[workers] ", log.LstdFlags)
	}
	return &Workers{
		cfg: cfg, items: items, plans: plans, bundles: bundles, offsets: offsets, cursors: cursors,
		triple: triple, queue: fabric, chain: chain, signer: signer, status: status, index: index,
		breakers: make(map[string]*circuitbreaker.Breaker),
		logger:   logger,
	}
}

// StageSettings adapts config.QueueSettings (the YAML-tunable
// Duration-wrapped shape) into queue.StageConfig (the plain
// time.Duration shape pkg/queue consumes). The two packages use
// different duration types so that pkg/queue doesn't import pkg/config.
func StageSettings(s config.QueueSettings) queue.StageConfig {
	return queue.StageConfig{
		Concurrency: s.Concurrency,
		MaxAttempts: s.MaxAttempts,
		BaseBackoff: s.BaseBackoff.Duration,
		MaxBackoff:  s.MaxBackoff.Duration,
		Retention:   s.Retention.Duration,
	}
}

func (w *Workers) publish(ctx context.Context, bundleID, itemID string, stage statusfanout.Stage, data map[string]interface{}) {
	w.status.Publish(ctx, statusfanout.Event{BundleID: bundleID, ItemID: itemID, Stage: stage, Timestamp: time.Now(), Data: data})
}

// nativeReward computes the native-token fee for a bundle of
// payloadSize bytes at the chain gateway's current sampled rate,
// expressed as plain decimal arithmetic against
// money.BytesPerPricingUnit rather than through the credits-oriented
// pkg/money conversions, since a bundle's on-chain reward is paid in
// native token, never credits.
func nativeReward(pricePerUnit string, payloadSize int64) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(pricePerUnit)
	if err != nil {
		return decimal.Zero, err
	}
	proportion := decimal.NewFromInt(payloadSize).Div(decimal.NewFromInt(money.BytesPerPricingUnit))
	return rate.Mul(proportion), nil
}

// RunAll launches every queue-driven stage handler against fabric using
// per-stage tuning from qcfg, plus the two ticker-driven loops
// (planner, cleanup-warm), and blocks until ctx is canceled. Callers
// (cmd/uploadd) run it in its own goroutine.
func (w *Workers) RunAll(ctx context.Context, qcfg config.QueueConfig) {
	stages := map[string]queue.Handler{
		"new-data-item":   w.NewDataItem,
		"preparer":        w.Preparer,
		"poster":          w.Poster,
		"seeder":          w.Seeder,
		"verifier":        w.Verifier,
		"put-offsets":     w.PutOffsets,
		"optical-post":    w.OpticalPost,
		"unbundle-nested": w.UnbundleNested,
	}

	var wg sync.WaitGroup
	for stage, handler := range stages {
		stage, handler := stage, handler
		settings, ok := qcfg.Stages[stage]
		if !ok {
			w.logger.Printf("no queue settings configured for stage %q, skipping", stage)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.queue.Run(ctx, stage, StageSettings(settings), handler)
		}()
	}

	wg.Add(2)
	go func() { defer wg.Done(); w.RunPlanner(ctx) }()
	go func() { defer wg.Done(); w.RunCleanupWarm(ctx) }()

	wg.Wait()
}

// parsePlanID wraps uuid.Parse with a package-consistent error message;
// every stage handler after the planner decodes a plan id off a job
// payload the same way.
func parsePlanID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("bad plan id %q: %w", s, err)
	}
	return id, nil
}
