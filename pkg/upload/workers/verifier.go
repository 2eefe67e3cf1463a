package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/certen/bundler-gateway/pkg/queue"
	"github.com/certen/bundler-gateway/pkg/statusfanout"
	"github.com/certen/bundler-gateway/pkg/upload/ingest"
	"github.com/certen/bundler-gateway/pkg/upload/store"
)

type verifierJob struct {
	TxID   string `json:"txId"`
	PlanID string `json:"planId"`
}

// Verifier handles one verifier job: polls the chain gateway for a
// posted bundle's confirmation count (spec §4.8). A bundle reaching
// ConfirmationTarget confirmations is permanent; one stuck at zero
// confirmations past DropAfterBlocks worth of wall-clock time is
// dropped and its items requeued. Otherwise the job re-enqueues itself
// and returns nil — pkg/queue's own retry/backoff accounting is tuned
// for transient RPC failures, not a multi-hour confirmation wait, so a
// still-pending status is success from Fabric's point of view, not a
// failure to retry.
func (w *Workers) Verifier(ctx context.Context, job queue.Job) error {
	var in verifierJob
	if err := json.Unmarshal(job.Payload, &in); err != nil {
		return fmt.Errorf("verifier: decode payload: %w", err)
	}
	planID, err := parsePlanID(in.PlanID)
	if err != nil {
		return fmt.Errorf("verifier: %w", err)
	}

	plan, err := w.plans.ByID(ctx, nil, planID)
	if err != nil {
		return fmt.Errorf("verifier: load plan %s: %w", planID, err)
	}
	if plan.Status == store.PlanStatusPermanent || plan.Status == store.PlanStatusDropped {
		return nil
	}

	bundleTx, err := w.bundles.ByID(ctx, nil, in.TxID)
	if err != nil {
		return fmt.Errorf("verifier: load bundle tx %s: %w", in.TxID, err)
	}

	status, err := w.chain.GetTxStatus(ctx, in.TxID)
	if err != nil {
		return fmt.Errorf("verifier: get tx status %s: %w", in.TxID, err)
	}

	target := w.cfg.ConfirmationTarget
	if target <= 0 {
		target = 18
	}
	if status.Confirmed || status.Confirmations >= target {
		return w.markPlanPermanent(ctx, planID, in.TxID)
	}

	if status.Confirmations == 0 && bundleTx.PostedAt != nil {
		blockTime := w.cfg.BlockTime
		if blockTime <= 0 {
			blockTime = 2 * time.Minute
		}
		dropAfter := w.cfg.DropAfterBlocks
		if dropAfter <= 0 {
			dropAfter = 50
		}
		if time.Since(*bundleTx.PostedAt) > blockTime*time.Duration(dropAfter) {
			return w.dropPostedPlan(ctx, planID, in.TxID)
		}
	}

	return w.reenqueueVerify(ctx, in)
}

// markPlanPermanent transitions a plan, its bundle tx, and every item it
// (or a nested item riding on it) covers to permanent, then evicts each
// item's hot-cache copy: the chain is now the durable copy (spec §4.8).
func (w *Workers) markPlanPermanent(ctx context.Context, planID uuid.UUID, txID string) error {
	if err := w.items.MarkPermanent(ctx, nil, planID); err != nil {
		return fmt.Errorf("verifier: mark items permanent for plan %s: %w", planID, err)
	}
	if err := w.bundles.SetStatus(ctx, nil, txID, store.BundleTxStatusPermanent); err != nil {
		return fmt.Errorf("verifier: set bundle tx %s permanent: %w", txID, err)
	}
	if err := w.plans.SetStatus(ctx, nil, planID, store.PlanStatusPermanent); err != nil {
		return fmt.Errorf("verifier: set plan %s permanent: %w", planID, err)
	}

	items, err := w.items.ByPlan(ctx, nil, planID)
	if err != nil {
		return fmt.Errorf("verifier: list items for hot eviction, plan %s: %w", planID, err)
	}
	for _, item := range items {
		if err := w.triple.EvictHot(ctx, item.ID); err != nil {
			w.logger.Printf("verifier: evict hot copy for %s failed: %v", item.ID, err)
		}
	}

	w.publish(ctx, txID, "", statusfanout.StageConfirmed, map[string]interface{}{"planId": planID.String()})
	return nil
}

// dropPostedPlan marks a bundle tx and its plan dropped after too long
// without a single confirmation, requeuing the plan's items to new with
// a fresh deadline so the planner can try again in a later bundle.
func (w *Workers) dropPostedPlan(ctx context.Context, planID uuid.UUID, txID string) error {
	if err := w.bundles.SetStatus(ctx, nil, txID, store.BundleTxStatusDropped); err != nil {
		return fmt.Errorf("verifier: set bundle tx %s dropped: %w", txID, err)
	}
	newDeadline, err := w.chain.CurrentHeight(ctx)
	if err != nil {
		return fmt.Errorf("verifier: current height for requeue deadline: %w", err)
	}
	if err := w.items.RequeueDropped(ctx, nil, planID, txID, newDeadline); err != nil {
		return fmt.Errorf("verifier: requeue items for dropped plan %s: %w", planID, err)
	}
	if err := w.plans.SetStatus(ctx, nil, planID, store.PlanStatusDropped); err != nil {
		return fmt.Errorf("verifier: set plan %s dropped: %w", planID, err)
	}
	w.publish(ctx, txID, "", statusfanout.StageDropped, map[string]interface{}{"planId": planID.String()})
	return nil
}

// reenqueueVerify re-submits the same verify job after a short delay,
// throttled by VerifierPollInterval, instead of relying on Fabric's
// retry accounting (MaxAttempts/backoff are tuned for transient RPC
// failures, not a multi-hour confirmation wait).
func (w *Workers) reenqueueVerify(ctx context.Context, in verifierJob) error {
	interval := w.cfg.VerifierPollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(interval):
	}
	if err := w.queue.Enqueue(ctx, ingest.StageVerify, in.TxID, in); err != nil {
		return fmt.Errorf("verifier: re-enqueue %s: %w", in.TxID, err)
	}
	return nil
}
