// Copyright 2025 Certen Protocol
//
// Package queue is the durable-queue role of the "three Redis-like
// roles" split (REDESIGN FLAGS): per-stage job queues with concurrency
// caps, exponential-backoff retry, and retention of recent completed
// and failed jobs. Jobs are globally locked by the fabric so a single
// logical queue can be safely drained by more than one worker process;
// the planner additionally uses a dedicated lock key to stay a
// cluster-wide singleton (spec §4.7).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// Job is one unit of work enqueued onto a stage's queue.
type Job struct {
	ID         string
	Stage      string
	Payload    json.RawMessage
	Attempt    int
	EnqueuedAt time.Time
	NotBefore  time.Time // retry backoff: not dequeued before this time
}

// Handler processes one job. Returning an error triggers the retry
// policy; ctx carries the stage's configured deadline.
type Handler func(ctx context.Context, job Job) error

// StageConfig is one stage's tuning, mirrored from
// config.QueueSettings so the fabric doesn't import pkg/config.
type StageConfig struct {
	Concurrency int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Retention   time.Duration
}

// Backend is the durable storage the fabric drives. RedisBackend is the
// production implementation; MemoryBackend backs tests.
type Backend interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks up to the given timeout for a ready job on stage,
	// returning ok=false on timeout.
	Dequeue(ctx context.Context, stage string, timeout time.Duration) (Job, bool, error)
	Complete(ctx context.Context, job Job) error
	Fail(ctx context.Context, job Job, retain time.Duration) error
	Retry(ctx context.Context, job Job, notBefore time.Time) error
	// TryLock acquires a cluster-wide named lock (used for the planner
	// singleton), returning false if already held.
	TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, name string) error
}

// Fabric drives one or more stages against a Backend.
type Fabric struct {
	backend Backend
	logger  *log.Logger
}

// New constructs a Fabric. logger defaults to a bracketed stdlib
// logger if nil, matching the teacher's WithLogger convention.
func New(backend Backend, logger *log.Logger) *Fabric {
	if logger == nil {
		logger = log.New(log.Writer(), "[Queue] ", log.LstdFlags)
	}
	return &Fabric{backend: backend, logger: logger}
}

// Enqueue submits a new job with Attempt 0.
func (f *Fabric) Enqueue(ctx context.Context, stage string, id string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: marshal payload: %w", err)
	}
	return f.backend.Enqueue(ctx, Job{
		ID:         id,
		Stage:      stage,
		Payload:    raw,
		EnqueuedAt: time.Now(),
	})
}

// Run starts cfg.Concurrency workers pulling from stage until ctx is
// canceled, then drains in-flight handlers before returning.
func (f *Fabric) Run(ctx context.Context, stage string, cfg StageConfig, handler Handler) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	done := make(chan struct{}, cfg.Concurrency)
	for i := 0; i < cfg.Concurrency; i++ {
		go func(workerID int) {
			defer func() { done <- struct{}{} }()
			f.worker(ctx, stage, cfg, handler, workerID)
		}(i)
	}
	for i := 0; i < cfg.Concurrency; i++ {
		<-done
	}
}

func (f *Fabric) worker(ctx context.Context, stage string, cfg StageConfig, handler Handler, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, ok, err := f.backend.Dequeue(ctx, stage, 2*time.Second)
		if err != nil {
			f.logger.Printf("stage=%s worker=%d dequeue error: %v", stage, workerID, err)
			continue
		}
		if !ok {
			continue
		}

		f.handle(ctx, stage, cfg, handler, job)
	}
}

func (f *Fabric) handle(ctx context.Context, stage string, cfg StageConfig, handler Handler, job Job) {
	err := handler(ctx, job)
	if err == nil {
		if cerr := f.backend.Complete(ctx, job); cerr != nil {
			f.logger.Printf("stage=%s job=%s complete error: %v", stage, job.ID, cerr)
		}
		return
	}

	job.Attempt++
	if job.Attempt >= cfg.MaxAttempts {
		f.logger.Printf("stage=%s job=%s failed permanently after %d attempts: %v", stage, job.ID, job.Attempt, err)
		if ferr := f.backend.Fail(ctx, job, cfg.Retention); ferr != nil {
			f.logger.Printf("stage=%s job=%s fail-record error: %v", stage, job.ID, ferr)
		}
		return
	}

	backoff := backoffFor(job.Attempt, cfg.BaseBackoff, cfg.MaxBackoff)
	f.logger.Printf("stage=%s job=%s attempt=%d failed, retrying in %s: %v", stage, job.ID, job.Attempt, backoff, err)
	if rerr := f.backend.Retry(ctx, job, time.Now().Add(backoff)); rerr != nil {
		f.logger.Printf("stage=%s job=%s retry-record error: %v", stage, job.ID, rerr)
	}
}

// backoffFor implements the ~5s/25s/125s progression from spec §4.7:
// base * 5^(attempt-1), capped at maxBackoff.
func backoffFor(attempt int, base, maxBackoff time.Duration) time.Duration {
	if base <= 0 {
		base = 5 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 5
		if maxBackoff > 0 && d > maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// TryLock acquires the planner's cluster-wide singleton lock.
func (f *Fabric) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return f.backend.TryLock(ctx, name, ttl)
}

// Unlock releases a previously acquired lock.
func (f *Fabric) Unlock(ctx context.Context, name string) error {
	return f.backend.Unlock(ctx, name)
}
