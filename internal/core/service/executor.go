package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/platform/logging"
	"github.com/rl1809/stock-ledger/internal/platform/observability"
	"github.com/rl1809/stock-ledger/internal/port"
)

type ExecutorConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultExecutorConfig sizes the budget for ordinary contention. A version
// conflict always means another writer committed, so a hot item with balance
// B under unbounded concurrency needs B+2 attempts before every caller is
// guaranteed an answer other than ErrRetriesExhausted.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxAttempts: 5,
		BaseDelay:   20 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
	}
}

// TxExecutor runs units of work in a transaction and retries the whole unit
// on transient faults. Business and duplicate faults are returned unchanged
// after rollback; anything else is fatal.
type TxExecutor struct {
	tx     port.Transactor
	cfg    ExecutorConfig
	logger *zap.Logger
}

func NewTxExecutor(tx port.Transactor, cfg ExecutorConfig, logger *zap.Logger) *TxExecutor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &TxExecutor{
		tx:     tx,
		cfg:    cfg,
		logger: logging.OrNop(logger),
	}
}

// UnitOfWork must only touch storage through store: it is re-run from a
// clean transaction on every attempt.
type UnitOfWork[T any] func(ctx context.Context, store port.TxStore) (T, error)

// Execute commits work at most once.
func Execute[T any](ctx context.Context, e *TxExecutor, work UnitOfWork[T]) (T, error) {
	var zero T
	var lastErr error
	delays := e.newBackOff()

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		result, err := runAttempt(ctx, e.tx, attempt, work)
		if err == nil {
			return result, nil
		}

		class := domain.Classify(err)
		switch class {
		case domain.ClassBusiness, domain.ClassDuplicate:
			return zero, err
		case domain.ClassTransient:
			lastErr = err
		default:
			e.logger.Error("unit of work failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return zero, fmt.Errorf("unit of work: %w", err)
		}

		if attempt == e.cfg.MaxAttempts {
			break
		}

		delay := delays.NextBackOff()
		e.logger.Warn("retrying unit of work",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("unit of work aborted during backoff: %w", err)
		}
	}

	e.logger.Error("unit of work exhausted retries",
		zap.Int("attempts", e.cfg.MaxAttempts),
		zap.Error(lastErr),
	)
	return zero, fmt.Errorf("%w after %d attempts: %w", domain.ErrRetriesExhausted, e.cfg.MaxAttempts, lastErr)
}

// newBackOff returns a fresh schedule per Execute call: the interval doubles
// from BaseDelay up to MaxDelay, each value randomized by ±50%.
func (e *TxExecutor) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.BaseDelay
	b.MaxInterval = e.cfg.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runAttempt[T any](ctx context.Context, tx port.Transactor, attempt int, work UnitOfWork[T]) (T, error) {
	ctx, span := observability.Tracer().Start(ctx, "tx.attempt")
	defer span.End()
	span.SetAttributes(attribute.Int("tx.attempt", attempt))

	var result T
	err := tx.InTx(ctx, func(ctx context.Context, store port.TxStore) error {
		var err error
		result, err = work(ctx, store)
		return err
	})
	if err != nil {
		span.SetAttributes(attribute.String("tx.error_class", domain.Classify(err).String()))
		span.SetStatus(codes.Error, err.Error())
		var zero T
		return zero, err
	}
	return result, nil
}
