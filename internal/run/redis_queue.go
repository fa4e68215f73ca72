package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"babyagi-task-initiator/pkg/logger"
)

const (
	redisRetryBase = 200 * time.Millisecond
	redisRetryMax  = 10 * time.Second
)

// redisListClient 是队列用到的 Redis 命令子集。
type redisListClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	Close() error
}

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Key       string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现队列（LPUSH / BRPOP）。
type RedisQueue struct {
	client    redisListClient
	key       string
	wait      time.Duration
	retryBase time.Duration
	retryMax  time.Duration
}

// NewRedisQueue 创建 Redis 队列实例并检查连通性。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisQueueWithClient(client, cfg.Key, cfg.BlockWait), nil
}

// NewRedisQueueWithClient 复用已有客户端。
func NewRedisQueueWithClient(client *redis.Client, key string, wait time.Duration) *RedisQueue {
	if client == nil {
		return newRedisQueue(nil, key, wait)
	}
	return newRedisQueue(client, key, wait)
}

func newRedisQueue(client redisListClient, key string, wait time.Duration) *RedisQueue {
	if key == "" {
		key = "initiator:runs"
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{
		client:    client,
		key:       key,
		wait:      wait,
		retryBase: redisRetryBase,
		retryMax:  redisRetryMax,
	}
}

// Publish 将运行 ID 投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, runID string) error {
	if err := q.client.LPush(ctx, q.key, runID).Err(); err != nil {
		return fmt.Errorf("Redis 发布运行失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 获取运行 ID。处理失败的 ID 不会被重新放回队列。
// 网络等临时错误按指数退避重试；只有 ctx 取消或连接被关闭时才返回，返回前等待所有 worker 退出。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	log := logger.Named("redis-queue")

	var (
		wg       sync.WaitGroup
		once     sync.Once
		closeErr error
	)
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			failures := 0
			for workerCtx.Err() == nil {
				values, err := q.client.BRPop(workerCtx, q.wait, q.key).Result()
				switch {
				case err == nil:
					failures = 0
				case errors.Is(err, redis.Nil):
					failures = 0
					continue
				case workerCtx.Err() != nil:
					return
				case errors.Is(err, redis.ErrClosed):
					once.Do(func() {
						closeErr = err
						cancel()
					})
					return
				default:
					failures++
					delay := q.backoff(failures)
					log.Warn("Redis 取运行失败，稍后重试",
						slog.Any("error", err),
						slog.Int("worker", worker),
						slog.Int("failures", failures),
						slog.Duration("retry_in", delay),
					)
					if !sleepCtx(workerCtx, delay) {
						return
					}
					continue
				}
				if len(values) != 2 {
					continue
				}
				_ = handler(workerCtx, values[1])
			}
		}(i)
	}

	wg.Wait()
	if closeErr != nil {
		return closeErr
	}
	return ctx.Err()
}

func (q *RedisQueue) backoff(failures int) time.Duration {
	delay := q.retryBase
	for i := 1; i < failures && delay < q.retryMax; i++ {
		delay *= 2
	}
	if delay > q.retryMax {
		delay = q.retryMax
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

var _ Queue = (*RedisQueue)(nil)
