package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFabric_EnqueueAndHandleSucceeds(t *testing.T) {
	backend := NewMemoryBackend()
	f := New(backend, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var handled int32

	go f.Run(ctx, "new-data-item", StageConfig{Concurrency: 2, MaxAttempts: 3}, func(ctx context.Context, job Job) error {
		atomic.AddInt32(&handled, 1)
		cancel()
		return nil
	})

	require.NoError(t, f.Enqueue(context.Background(), "new-data-item", "job-1", map[string]string{"id": "item-1"}))

	time.Sleep(50 * time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&handled), int32(1))
}

func TestFabric_RetriesThenFailsPermanently(t *testing.T) {
	backend := NewMemoryBackend()
	f := New(backend, nil)
	f.Enqueue(context.Background(), "poster", "job-1", map[string]string{})

	var attempts int
	for {
		job, ok, err := backend.Dequeue(context.Background(), "poster", 10*time.Millisecond)
		require.NoError(t, err)
		if !ok {
			break
		}
		attempts++
		f.handle(context.Background(), "poster", StageConfig{MaxAttempts: 2, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, func(ctx context.Context, job Job) error {
			return errors.New("always fails")
		}, job)
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 2, attempts)
	assert.Len(t, backend.failed["poster"], 1)
}

func TestFabric_LockIsSingleton(t *testing.T) {
	backend := NewMemoryBackend()
	f := New(backend, nil)

	ok1, err := f.TryLock(context.Background(), "planner", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok1)

	ok2, err := f.TryLock(context.Background(), "planner", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok2)

	require.NoError(t, f.Unlock(context.Background(), "planner"))
	ok3, err := f.TryLock(context.Background(), "planner", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok3)
}

func TestJob_PayloadRoundTrips(t *testing.T) {
	backend := NewMemoryBackend()
	f := New(backend, nil)
	type payload struct {
		ItemID string `json:"item_id"`
	}
	require.NoError(t, f.Enqueue(context.Background(), "new-data-item", "j1", payload{ItemID: "abc"}))

	job, ok, err := backend.Dequeue(context.Background(), "new-data-item", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	var decoded payload
	require.NoError(t, json.Unmarshal(job.Payload, &decoded))
	assert.Equal(t, "abc", decoded.ItemID)
}
