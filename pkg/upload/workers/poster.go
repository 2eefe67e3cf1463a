package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/certen/bundler-gateway/pkg/chaingateway"
	"github.com/certen/bundler-gateway/pkg/queue"
	"github.com/certen/bundler-gateway/pkg/statusfanout"
	"github.com/certen/bundler-gateway/pkg/upload/ingest"
	"github.com/certen/bundler-gateway/pkg/upload/store"
)

type seederJob struct {
	TxID     string `json:"txId"`
	PlanID   string `json:"planId"`
	DraftKey string `json:"draftKey"`
}

// putOffsetsPlanJob is the plan-level put-offsets shape, emitted once
// per posted plan. The nested-item shape (emitted by unbundle-nested)
// is putOffsetsNestedJob in put_offsets.go.
type putOffsetsPlanJob struct {
	PlanID     string `json:"planId"`
	OffsetsKey string `json:"offsetsKey"`
	TxID       string `json:"txId"`
}

// Poster handles one poster job: reads the signed draft a prepare pass
// left in the triple store, submits it to the chain gateway, and on
// success persists the now chain-assigned transaction id before handing
// off to seeder and put-offsets (spec §4.8). A submit failure that looks
// like insufficient wallet balance drops the plan outright rather than
// retrying forever against a gateway that will never accept it.
func (w *Workers) Poster(ctx context.Context, job queue.Job) error {
	var in posterJob
	if err := json.Unmarshal(job.Payload, &in); err != nil {
		return fmt.Errorf("poster: decode payload: %w", err)
	}
	planID, err := uuid.Parse(in.PlanID)
	if err != nil {
		return fmt.Errorf("poster: bad plan id %q: %w", in.PlanID, err)
	}

	plan, err := w.plans.ByID(ctx, nil, planID)
	if err != nil {
		return fmt.Errorf("poster: load plan %s: %w", planID, err)
	}
	if plan.Status != store.PlanStatusPrepared {
		// Already posted by an earlier attempt; resubmitting would mint a
		// second on-chain transaction for the same payload.
		return nil
	}

	raw, err := w.triple.Read(ctx, in.DraftKey)
	if err != nil {
		return fmt.Errorf("poster: read draft %s: %w", in.DraftKey, err)
	}

	txID, err := w.chain.SubmitTx(ctx, raw)
	if err != nil {
		balance, berr := w.chain.WalletBalance(ctx)
		if berr != nil {
			w.logger.Printf("poster: submit failed for plan %s and wallet balance check also failed: %v", planID, berr)
		} else {
			w.logger.Printf("poster: submit failed for plan %s, wallet balance %s: %v", planID, balance, err)
		}
		if isUnrecoverableSubmitErr(err) {
			return w.dropPlan(ctx, planID, "submit-failed:"+err.Error())
		}
		return fmt.Errorf("poster: submit tx for plan %s: %w", planID, err)
	}

	priceRate, err := w.chain.PricePerUnit(ctx)
	if err != nil {
		return fmt.Errorf("poster: price per unit: %w", err)
	}
	reward, err := nativeReward(priceRate, in.PayloadSize)
	if err != nil {
		return fmt.Errorf("poster: compute reward: %w", err)
	}

	if _, err := w.bundles.Create(ctx, nil, txID, planID, in.PayloadSize, reward); err != nil {
		return fmt.Errorf("poster: create bundle tx %s: %w", txID, err)
	}
	postedAt := time.Now()
	if err := w.bundles.MarkPosted(ctx, nil, txID, reward, postedAt); err != nil {
		return fmt.Errorf("poster: mark bundle tx %s posted: %w", txID, err)
	}
	if err := w.plans.SetStatus(ctx, nil, planID, store.PlanStatusPosted); err != nil {
		return fmt.Errorf("poster: set plan %s posted: %w", planID, err)
	}

	if err := w.queue.Enqueue(ctx, ingest.StageSeed, txID, seederJob{
		TxID: txID, PlanID: planID.String(), DraftKey: in.DraftKey,
	}); err != nil {
		return fmt.Errorf("poster: enqueue seeder: %w", err)
	}
	if err := w.queue.Enqueue(ctx, ingest.StagePutOffsets, planID.String(), putOffsetsPlanJob{
		PlanID: planID.String(), OffsetsKey: in.OffsetsKey, TxID: txID,
	}); err != nil {
		return fmt.Errorf("poster: enqueue put-offsets: %w", err)
	}

	w.publish(ctx, txID, "", statusfanout.StagePosted, map[string]interface{}{"planId": planID.String(), "payloadSize": in.PayloadSize})
	return nil
}

func (w *Workers) dropPlan(ctx context.Context, planID uuid.UUID, reason string) error {
	if err := w.plans.SetStatus(ctx, nil, planID, store.PlanStatusDropped); err != nil {
		return fmt.Errorf("drop plan %s: set status: %w", planID, err)
	}
	newDeadline, err := w.chain.CurrentHeight(ctx)
	if err != nil {
		return fmt.Errorf("drop plan %s: current height for requeue deadline: %w", planID, err)
	}
	if err := w.items.RequeueDropped(ctx, nil, planID, reason, newDeadline); err != nil {
		return fmt.Errorf("drop plan %s: requeue items: %w", planID, err)
	}
	w.publish(ctx, "", "", statusfanout.StageDropped, map[string]interface{}{"planId": planID.String(), "reason": reason})
	return nil
}

// isUnrecoverableSubmitErr reports whether a submit failure is worth
// retrying at all. The chain gateway wraps insufficient-balance
// rejections distinctly from transient RPC failures; everything else is
// treated as retryable.
func isUnrecoverableSubmitErr(err error) bool {
	return errors.Is(err, chaingateway.ErrInsufficientBalance)
}
