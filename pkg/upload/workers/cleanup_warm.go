package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/certen/bundler-gateway/pkg/upload/store"
)

const cleanupWarmCursorName = "cleanup-warm:after-id"

// RunCleanupWarm drives the cleanup-warm stage on a ticker, same as
// RunPlanner: it is not per-job work, it periodically sweeps items that
// have been permanent for CleanupAfter and removes their now-redundant
// warm-tier copy, the cold store being the sole remaining durable copy
// (spec §4.8). Progress is a simple cursor in worker_cursors so a
// restart resumes mid-sweep instead of rescanning from the start.
func (w *Workers) RunCleanupWarm(ctx context.Context) {
	heartbeat := w.cfg.CleanupHeartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat * 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.cleanupWarmPass(ctx); err != nil {
				w.logger.Printf("cleanup-warm: pass failed: %v", err)
			}
		}
	}
}

func (w *Workers) cleanupWarmPass(ctx context.Context) error {
	afterID, err := w.cursors.Get(ctx, cleanupWarmCursorName)
	if err != nil && err != store.ErrCursorNotFound {
		return fmt.Errorf("load cursor: %w", err)
	}

	cutoff := time.Now().Add(-w.cfg.CleanupAfter)
	batchSize := w.cfg.CleanupBatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	heartbeat := w.cfg.CleanupHeartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	abortAfter := w.cfg.CleanupAbortAfterErrors
	if abortAfter <= 0 {
		abortAfter = 10
	}

	lastLog := time.Now()
	consecutiveErrors := 0

	for {
		items, err := w.items.PermanentOlderThan(ctx, nil, cutoff, afterID, batchSize)
		if err != nil {
			return fmt.Errorf("list permanent items after %q: %w", afterID, err)
		}
		if len(items) == 0 {
			return nil
		}

		const concurrency = 8
		sem := make(chan struct{}, concurrency)
		var wg sync.WaitGroup
		var mu sync.Mutex

		for _, item := range items {
			item := item
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				if err := w.triple.RemoveWarm(item.ID); err != nil {
					mu.Lock()
					consecutiveErrors++
					mu.Unlock()
					w.logger.Printf("cleanup-warm: remove warm copy for %s failed: %v", item.ID, err)
					return
				}
				mu.Lock()
				consecutiveErrors = 0
				mu.Unlock()
			}()
		}
		wg.Wait()

		afterID = items[len(items)-1].ID
		if err := w.cursors.Set(ctx, cleanupWarmCursorName, afterID); err != nil {
			return fmt.Errorf("save cursor at %q: %w", afterID, err)
		}

		if consecutiveErrors >= abortAfter {
			return fmt.Errorf("aborting pass after %d consecutive errors at cursor %q", consecutiveErrors, afterID)
		}
		if time.Since(lastLog) >= heartbeat {
			w.logger.Printf("cleanup-warm: cursor at %q", afterID)
			lastLog = time.Now()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
