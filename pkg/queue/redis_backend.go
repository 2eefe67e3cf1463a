package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend over a single Redis instance: a list
// per stage for ready jobs, a sorted set per stage for delayed
// retries (scored by the Unix-millisecond NotBefore time), and capped
// lists for completed/failed retention.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) readyKey(stage string) string     { return fmt.Sprintf("%s:ready:%s", b.prefix, stage) }
func (b *RedisBackend) delayedKey(stage string) string   { return fmt.Sprintf("%s:delayed:%s", b.prefix, stage) }
func (b *RedisBackend) completedKey(stage string) string { return fmt.Sprintf("%s:completed:%s", b.prefix, stage) }
func (b *RedisBackend) failedKey(stage string) string    { return fmt.Sprintf("%s:failed:%s", b.prefix, stage) }
func (b *RedisBackend) lockKey(name string) string       { return fmt.Sprintf("%s:lock:%s", b.prefix, name) }

const (
	completedRetentionCount = 1000 // spec §4.7: last 1,000 completed
	failedRetentionCount    = 5000 // spec §4.7: last 5,000 failed
)

func (b *RedisBackend) Enqueue(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return b.client.LPush(ctx, b.readyKey(job.Stage), raw).Err()
}

func (b *RedisBackend) Dequeue(ctx context.Context, stage string, timeout time.Duration) (Job, bool, error) {
	if err := b.promoteDelayed(ctx, stage); err != nil {
		return Job{}, false, err
	}

	res, err := b.client.BRPop(ctx, timeout, b.readyKey(stage)).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return Job{}, false, fmt.Errorf("queue: decode job: %w", err)
	}
	return job, true, nil
}

// promoteDelayed moves any retry whose NotBefore has elapsed from the
// delayed sorted set into the ready list.
func (b *RedisBackend) promoteDelayed(ctx context.Context, stage string) error {
	now := time.Now().UnixMilli()
	members, err := b.client.ZRangeByScore(ctx, b.delayedKey(stage), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	pipe := b.client.TxPipeline()
	for _, m := range members {
		pipe.LPush(ctx, b.readyKey(stage), m)
		pipe.ZRem(ctx, b.delayedKey(stage), m)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBackend) Complete(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := b.client.TxPipeline()
	pipe.LPush(ctx, b.completedKey(job.Stage), raw)
	pipe.LTrim(ctx, b.completedKey(job.Stage), 0, completedRetentionCount-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBackend) Fail(ctx context.Context, job Job, retain time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := b.client.TxPipeline()
	pipe.LPush(ctx, b.failedKey(job.Stage), raw)
	pipe.LTrim(ctx, b.failedKey(job.Stage), 0, failedRetentionCount-1)
	if retain > 0 {
		pipe.Expire(ctx, b.failedKey(job.Stage), retain)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBackend) Retry(ctx context.Context, job Job, notBefore time.Time) error {
	job.NotBefore = notBefore
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return b.client.ZAdd(ctx, b.delayedKey(job.Stage), redis.Z{
		Score:  float64(notBefore.UnixMilli()),
		Member: raw,
	}).Err()
}

func (b *RedisBackend) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return b.client.SetNX(ctx, b.lockKey(name), "1", ttl).Result()
}

func (b *RedisBackend) Unlock(ctx context.Context, name string) error {
	return b.client.Del(ctx, b.lockKey(name)).Err()
}
