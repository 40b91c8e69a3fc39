package service

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue carries job descriptors (bare job ids) from the orchestrator to
// workers with at-least-once delivery. Redelivery is possible after a
// worker crash, so consumers must pre-check job status before acting.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, jobID string) error
	RequeueStale(ctx context.Context, max int64) (int64, error)
}

// ErrQueueEmpty is returned by ClaimBlocking when the wait slot elapses
// without work.
var ErrQueueEmpty = errors.New("queue empty")

// redisQueue implements a reliable queue on Redis lists.
// Enqueue: LPUSH queueKey
// Claim:   BRPOPLPUSH queueKey -> processingKey
// Ack:     LREM processingKey
// Descriptors parked on processingKey by a dead worker are moved back by
// RequeueStale, which is what makes delivery at-least-once.
type redisQueue struct {
	rdb           *redis.Client
	queueKey      string
	processingKey string
}

func NewRedisQueue(rdb *redis.Client, queueKey, processingKey string) Queue {
	return &redisQueue{
		rdb:           rdb,
		queueKey:      queueKey,
		processingKey: processingKey,
	}
}

func (q *redisQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.rdb.LPush(ctx, q.queueKey, jobID).Err()
}

// ClaimBlocking waits up to timeout for a descriptor; timeout <= 0 blocks
// until work arrives or ctx is cancelled. Descriptors come out in
// submission order.
func (q *redisQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	forever := timeout <= 0
	deadline := time.Now().Add(timeout)

	slot := 1 * time.Second
	if !forever && timeout < slot {
		slot = timeout
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		wait := slot
		if !forever {
			remain := time.Until(deadline)
			if remain <= 0 {
				return "", ErrQueueEmpty
			}
			if remain < wait {
				wait = remain
			}
		}

		id, err := q.rdb.BRPopLPush(ctx, q.queueKey, q.processingKey, wait).Result()
		if err == nil {
			return id, nil
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		return "", err
	}
}

func (q *redisQueue) Ack(ctx context.Context, jobID string) error {
	return q.rdb.LRem(ctx, q.processingKey, 1, jobID).Err()
}

// RequeueStale moves descriptors from processing back to the queue.
// It's a simple reaper run on a ticker: anything a worker claimed but
// never acked becomes deliverable again.
func (q *redisQueue) RequeueStale(ctx context.Context, max int64) (int64, error) {
	var moved int64

	for i := int64(0); i < max; i++ {
		_, err := q.rdb.RPopLPush(ctx, q.processingKey, q.queueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return moved, err
		}
		moved++
	}

	return moved, nil
}
