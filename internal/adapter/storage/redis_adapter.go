package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/platform/logging"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	ledgerKeyPrefix       = "ledger:"
	DefaultLedgerCacheTTL = 24 * time.Hour
)

var _ port.LedgerCache = (*RedisAdapter)(nil)

// RedisAdapter caches committed ledger records so replays skip the database.
// Every call goes through a circuit breaker: once Redis keeps failing the
// adapter fails fast instead of adding latency to each deduction.
type RedisAdapter struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker
}

func NewRedisAdapter(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisAdapter {
	if ttl <= 0 {
		ttl = DefaultLedgerCacheTTL
	}
	logger = logging.OrNop(logger)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-ledger-cache",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &RedisAdapter{client: client, ttl: ttl, breaker: breaker}
}

func (r *RedisAdapter) Get(ctx context.Context, key string) (*domain.OperationRecord, error) {
	raw, err := r.breaker.Execute(func() (any, error) {
		b, err := r.client.Get(ctx, ledgerKeyPrefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("ledger cache get: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	var rec domain.OperationRecord
	if err := json.Unmarshal(raw.([]byte), &rec); err != nil {
		return nil, fmt.Errorf("ledger cache decode: %w", err)
	}
	return &rec, nil
}

// Put never overwrites: ledger records are immutable once written.
func (r *RedisAdapter) Put(ctx context.Context, record domain.OperationRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("ledger cache encode: %w", err)
	}

	_, err = r.breaker.Execute(func() (any, error) {
		return nil, r.client.SetNX(ctx, ledgerKeyPrefix+record.IdempotencyKey, payload, r.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("ledger cache put: %w", err)
	}
	return nil
}
