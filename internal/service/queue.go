package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrQueueClosed = errors.New("job queue closed")

// JobQueue очередь задач аллокации; Pop блокируется до задачи или отмены ctx
type JobQueue interface {
	Push(ctx context.Context, linkID int64) error
	Pop(ctx context.Context) (int64, error)
	Close() error
}

// memoryQueue буферизированный канал внутри процесса.
// Задачи в буфере теряются при остановке процесса.
type memoryQueue struct {
	jobs      chan int64
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryQueue(size int) JobQueue {
	if size <= 0 {
		size = 1000
	}
	return &memoryQueue{
		jobs: make(chan int64, size),
		done: make(chan struct{}),
	}
}

func (q *memoryQueue) Push(ctx context.Context, linkID int64) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	case q.jobs <- linkID:
		return nil
	}
}

func (q *memoryQueue) Pop(ctx context.Context) (int64, error) {
	select {
	case <-q.done:
		return 0, ErrQueueClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	case linkID := <-q.jobs:
		return linkID, nil
	}
}

func (q *memoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

// redisQueue список Redis: LPUSH + BRPOP, воркеры могут жить в любом процессе
type redisQueue struct {
	client      *redis.Client
	key         string
	pollTimeout time.Duration
}

func NewRedisQueue(client *redis.Client, key string) JobQueue {
	return &redisQueue{
		client:      client,
		key:         key,
		pollTimeout: time.Second,
	}
}

func (q *redisQueue) Push(ctx context.Context, linkID int64) error {
	if err := q.client.LPush(ctx, q.key, linkID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue link %d: %w", linkID, err)
	}
	return nil
}

func (q *redisQueue) Pop(ctx context.Context) (int64, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		res, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, fmt.Errorf("failed to dequeue: %w", err)
		}

		// res = [key, value]
		linkID, err := strconv.ParseInt(res[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed job %q: %w", res[1], err)
		}
		return linkID, nil
	}
}

func (q *redisQueue) Close() error {
	return nil
}
