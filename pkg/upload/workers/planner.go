package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/certen/bundler-gateway/pkg/statusfanout"
	"github.com/certen/bundler-gateway/pkg/upload/ingest"
	"github.com/certen/bundler-gateway/pkg/upload/store"
)

// plannerLockName is the cluster-wide singleton lock key (spec §4.7: the
// planner must run as exactly one instance across the fleet).
const plannerLockName = "planner-singleton"

// RunPlanner drives the planner on a ticker rather than as a
// queue.Handler: it is not triggered by a per-item job, it wakes
// periodically and looks for eligible work itself (spec §4.8). TryLock
// keeps it a cluster-wide singleton even when multiple upload service
// instances run this loop.
func (w *Workers) RunPlanner(ctx context.Context) {
	interval := w.cfg.PlanInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.planOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.planOnce(ctx)
		}
	}
}

func (w *Workers) planOnce(ctx context.Context) {
	acquired, err := w.queue.TryLock(ctx, plannerLockName, w.cfg.PlannerLockTTL)
	if err != nil {
		w.logger.Printf("planner: lock attempt failed: %v", err)
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := w.queue.Unlock(ctx, plannerLockName); err != nil {
			w.logger.Printf("planner: unlock failed: %v", err)
		}
	}()

	tags := append([]string{""}, w.cfg.PremiumTags...)
	for _, tag := range tags {
		if err := w.planTag(ctx, tag); err != nil {
			w.logger.Printf("planner: tag=%q: %v", tag, err)
		}
	}
}

// planTag fetches one premium tag's eligible items and packs them into
// as many plans as needed in arrival order (oldest first, per
// EligibleForPlanning), never exceeding MaxPlanBytes or MaxPlanItems
// per plan (spec §4.8). Only one plan is open at a time: it is closed
// as soon as the next item does not fit, and a closed plan is never
// revisited. Items are not sorted by size.
func (w *Workers) planTag(ctx context.Context, tag string) error {
	fetchLimit := w.cfg.MaxPlanItems * 4
	items, err := w.items.EligibleForPlanning(ctx, nil, tag, fetchLimit)
	if err != nil {
		return fmt.Errorf("list eligible items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	var bucket []*store.DataItem
	var bucketBytes int64
	flush := func() error {
		if len(bucket) == 0 {
			return nil
		}
		if err := w.createPlan(ctx, tag, bucket, bucketBytes); err != nil {
			return err
		}
		bucket = nil
		bucketBytes = 0
		return nil
	}

	for _, item := range items {
		if len(bucket) >= w.cfg.MaxPlanItems || bucketBytes+item.ByteCount > w.cfg.MaxPlanBytes {
			if err := flush(); err != nil {
				return err
			}
		}
		bucket = append(bucket, item)
		bucketBytes += item.ByteCount
	}
	return flush()
}

func (w *Workers) createPlan(ctx context.Context, premiumTag string, items []*store.DataItem, totalBytes int64) error {
	appName := ""
	plan, err := w.plans.Create(ctx, nil, premiumTag, appName, len(items), totalBytes)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	if err := w.items.AssignToPlan(ctx, nil, plan.ID, ids); err != nil {
		return fmt.Errorf("assign items to plan %s: %w", plan.ID, err)
	}

	if err := w.queue.Enqueue(ctx, ingest.StagePrepare, plan.ID.String(), preparerJob{PlanID: plan.ID.String()}); err != nil {
		return fmt.Errorf("enqueue preparer for plan %s: %w", plan.ID, err)
	}

	w.publish(ctx, plan.ID.String(), "", statusfanout.StagePlanned, map[string]interface{}{"itemCount": len(items), "totalBytes": totalBytes})
	return nil
}
