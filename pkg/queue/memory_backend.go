package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend for tests and single-node
// development. It polls on a short interval rather than blocking the
// way Redis's BRPOP does.
type MemoryBackend struct {
	mu        sync.Mutex
	ready     map[string][]Job
	delayed   map[string][]Job
	completed map[string][]Job
	failed    map[string][]Job
	locks     map[string]time.Time
}

// NewMemoryBackend constructs an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		ready:     make(map[string][]Job),
		delayed:   make(map[string][]Job),
		completed: make(map[string][]Job),
		failed:    make(map[string][]Job),
		locks:     make(map[string]time.Time),
	}
}

func (b *MemoryBackend) Enqueue(_ context.Context, job Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready[job.Stage] = append(b.ready[job.Stage], job)
	return nil
}

func (b *MemoryBackend) Dequeue(ctx context.Context, stage string, timeout time.Duration) (Job, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if job, ok := b.tryDequeue(stage); ok {
			return job, true, nil
		}
		if time.Now().After(deadline) {
			return Job{}, false, nil
		}
		select {
		case <-ctx.Done():
			return Job{}, false, nil
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (b *MemoryBackend) tryDequeue(stage string) (Job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.promoteDelayedLocked(stage)

	q := b.ready[stage]
	if len(q) == 0 {
		return Job{}, false
	}
	job := q[0]
	b.ready[stage] = q[1:]
	return job, true
}

func (b *MemoryBackend) promoteDelayedLocked(stage string) {
	now := time.Now()
	remaining := b.delayed[stage][:0]
	for _, job := range b.delayed[stage] {
		if now.After(job.NotBefore) || now.Equal(job.NotBefore) {
			b.ready[stage] = append(b.ready[stage], job)
		} else {
			remaining = append(remaining, job)
		}
	}
	b.delayed[stage] = remaining
}

func (b *MemoryBackend) Complete(_ context.Context, job Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed[job.Stage] = append(b.completed[job.Stage], job)
	if len(b.completed[job.Stage]) > completedRetentionCount {
		b.completed[job.Stage] = b.completed[job.Stage][len(b.completed[job.Stage])-completedRetentionCount:]
	}
	return nil
}

func (b *MemoryBackend) Fail(_ context.Context, job Job, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed[job.Stage] = append(b.failed[job.Stage], job)
	if len(b.failed[job.Stage]) > failedRetentionCount {
		b.failed[job.Stage] = b.failed[job.Stage][len(b.failed[job.Stage])-failedRetentionCount:]
	}
	return nil
}

func (b *MemoryBackend) Retry(_ context.Context, job Job, notBefore time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job.NotBefore = notBefore
	b.delayed[job.Stage] = append(b.delayed[job.Stage], job)
	return nil
}

func (b *MemoryBackend) TryLock(_ context.Context, name string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if expiry, ok := b.locks[name]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	b.locks[name] = time.Now().Add(ttl)
	return true, nil
}

func (b *MemoryBackend) Unlock(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.locks, name)
	return nil
}
