package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/plant-scan/internal/logging"
)

// redisCommander is the subset of *redis.Client used by RedisStore.
type redisCommander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisStore persists keys in Redis without expiry. Transient failures are
// retried with exponential backoff.
type RedisStore struct {
	client         redisCommander
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr string, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, logging.NewOperationError("kvstore.redis_ping", "", err)
	}
	return NewRedisStore(client, logger), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redisCommander, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client:         client,
		logger:         logger.Named("kvstore.redis"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	var result string
	err := s.withRetry(ctx, "kvstore.redis_get", func() error {
		value, err := s.client.Get(ctx, key).Result()
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return result, err
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.withRetry(ctx, "kvstore.redis_set", func() error {
		return s.client.Set(ctx, key, value, 0).Err()
	})
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) withRetry(ctx context.Context, operation string, fn func() error) error {
	backoff := s.initialBackoff
	opLogger := logging.WithOperation(s.logger, operation, "")
	var err error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, "", ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= s.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return err
		}

		if !isTransientError(err) || attempt == s.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, "", err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, "", err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}

var _ Store = (*RedisStore)(nil)
