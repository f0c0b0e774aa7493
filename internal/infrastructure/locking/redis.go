package locking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
)

// RedisConfig configures the distributed locker.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// TTL bounds how long a crashed holder can block a key.
	TTL time.Duration
	// Wait is how long Acquire retries when ctx carries no deadline.
	Wait time.Duration
}

// RedisLocker is a Locker backed by Redis, for deployments with more than one
// process writing to the same ledger.
type RedisLocker struct {
	client *redis.Client
	locker *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	logger *slog.Logger
}

var _ TryLocker = (*RedisLocker)(nil)

// NewRedisLocker connects to Redis and verifies the connection with a ping.
func NewRedisLocker(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisLocker, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = cfg.TTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	return &RedisLocker{
		client: rdb,
		locker: redislock.New(rdb),
		ttl:    cfg.TTL,
		wait:   cfg.Wait,
		logger: logger,
	}, nil
}

// Acquire obtains the Redis lock for key, retrying with linear backoff until
// ctx (or the configured wait) expires.
func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.wait)
		defer cancel()
	}

	lock, err := r.locker.Obtain(ctx, "lock:"+key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(25 * time.Millisecond),
	})
	if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("lock %s not obtained: %w", key, ledger.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}

	return func() { r.release(lock, key) }, nil
}

// TryAcquire takes key only if nobody holds it. The lock is refreshed every
// half TTL until released, so it can guard work that outlives the TTL; a
// crashed holder still frees the key within one TTL.
func (r *RedisLocker) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	lock, err := r.locker.Obtain(ctx, "lock:"+key, r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := lock.Refresh(context.Background(), r.ttl, nil); err != nil {
					r.logger.Warn("failed to refresh lock", "key", key, "error", err)
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			r.release(lock, key)
		})
	}, true, nil
}

func (r *RedisLocker) release(lock *redislock.Lock, key string) {
	if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		r.logger.Warn("failed to release lock", "key", key, "error", err)
	}
}

// Close closes the Redis connection
func (r *RedisLocker) Close() error {
	return r.client.Close()
}
