package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/platform/logging"
	"github.com/rl1809/stock-ledger/internal/platform/observability"
	"github.com/rl1809/stock-ledger/internal/port"
)

type DeductionOption func(*DeductionService)

func WithLedgerCache(cache port.LedgerCache) DeductionOption {
	return func(s *DeductionService) { s.cache = cache }
}

func WithEventPublisher(events port.EventPublisher) DeductionOption {
	return func(s *DeductionService) { s.events = events }
}

func WithLogger(logger *zap.Logger) DeductionOption {
	return func(s *DeductionService) { s.logger = logging.OrNop(logger) }
}

func WithClock(now func() time.Time) DeductionOption {
	return func(s *DeductionService) { s.now = now }
}

// DeductionService applies each idempotency key's deduction at most once.
//
// The ledger lookup before the transaction only saves work on replays. The
// unique key enforced by IdempotencyLedger.Append inside the transaction is
// what actually guarantees at-most-once.
type DeductionService struct {
	items    port.StockRepository
	ledger   port.IdempotencyLedger
	executor *TxExecutor
	cache    port.LedgerCache
	events   port.EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

func NewDeductionService(items port.StockRepository, ledger port.IdempotencyLedger, executor *TxExecutor, opts ...DeductionOption) *DeductionService {
	s := &DeductionService{
		items:    items,
		ledger:   ledger,
		executor: executor,
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type deduction struct {
	record domain.OperationRecord
	before int64
	after  int64
}

// Deduct returns a failed result for business faults (unknown item,
// insufficient balance) and an error only for fatal faults.
func (s *DeductionService) Deduct(ctx context.Context, req domain.DeductRequest) (domain.DeductResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "StockDeduction.Deduct")
	defer span.End()
	span.SetAttributes(
		attribute.String("item.code", req.ItemCode),
		attribute.Int64("deduct.quantity", req.Quantity),
		attribute.String("deduct.idempotency_key", req.IdempotencyKey),
	)

	if s.alreadyProcessed(ctx, req.IdempotencyKey) {
		span.SetAttributes(attribute.String("deduct.outcome", "replay"))
		return s.replay(ctx, req)
	}

	done, err := Execute(ctx, s.executor, func(ctx context.Context, store port.TxStore) (deduction, error) {
		item, err := store.Items().GetByCode(ctx, req.ItemCode)
		if err != nil {
			return deduction{}, err
		}
		if item == nil {
			return deduction{}, fmt.Errorf("%w: %s", domain.ErrItemNotFound, req.ItemCode)
		}

		now := s.now()
		before := item.Balance
		if err := item.Debit(req.Quantity, now); err != nil {
			return deduction{}, err
		}
		if err := store.Items().Save(ctx, item); err != nil {
			return deduction{}, err
		}

		record := domain.OperationRecord{
			IdempotencyKey: req.IdempotencyKey,
			OperationType:  domain.OperationDeduct,
			ResultSummary:  domain.DeductSummary(item.Code, req.Quantity, before, item.Balance),
			ProcessedAt:    now,
		}
		if err := store.Ledger().Append(ctx, record); err != nil {
			return deduction{}, err
		}
		return deduction{record: record, before: before, after: item.Balance}, nil
	})

	var insufficient *domain.InsufficientBalanceError
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("deduct.outcome", "committed"))
		s.afterCommit(ctx, req, done)
		return domain.DeductResult{
			Success:        true,
			Message:        domain.MessageDeducted,
			CurrentBalance: done.after,
		}, nil

	case errors.Is(err, domain.ErrItemNotFound):
		span.SetAttributes(attribute.String("deduct.outcome", "not_found"))
		s.logger.Info("deduction rejected: item not found",
			zap.String("code", req.ItemCode),
			zap.String("idempotency_key", req.IdempotencyKey),
		)
		return domain.DeductResult{Message: domain.MessageItemNotFound}, nil

	case errors.As(err, &insufficient):
		span.SetAttributes(attribute.String("deduct.outcome", "insufficient"))
		s.logger.Info("deduction rejected: insufficient balance",
			zap.String("code", req.ItemCode),
			zap.Int64("balance", insufficient.Balance),
			zap.Int64("requested", req.Quantity),
		)
		return domain.DeductResult{
			Message:        domain.MessageInsufficientStock,
			CurrentBalance: insufficient.Balance,
		}, nil

	case errors.Is(err, domain.ErrInvalidQuantity):
		span.SetAttributes(attribute.String("deduct.outcome", "invalid_quantity"))
		s.logger.Info("deduction rejected: invalid quantity",
			zap.String("code", req.ItemCode),
			zap.Int64("quantity", req.Quantity),
		)
		return domain.DeductResult{Message: domain.MessageInvalidQuantity}, nil

	case errors.Is(err, domain.ErrDuplicateOperation):
		// a concurrent request with the same key committed first
		span.SetAttributes(attribute.String("deduct.outcome", "late_duplicate"))
		return s.replay(ctx, req)

	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "deduction failed")
		return domain.DeductResult{}, fmt.Errorf("deduct %s: %w", req.ItemCode, err)
	}
}

func (s *DeductionService) alreadyProcessed(ctx context.Context, key string) bool {
	if s.cache != nil {
		record, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("ledger cache lookup failed", zap.String("idempotency_key", key), zap.Error(err))
		} else if record != nil {
			return true
		}
	}

	record, err := s.ledger.Lookup(ctx, key)
	if err != nil {
		// the unique key checked by Append still protects us
		s.logger.Warn("ledger lookup failed, continuing", zap.String("idempotency_key", key), zap.Error(err))
		return false
	}
	if record == nil {
		return false
	}

	s.remember(ctx, *record)
	return true
}

// replay reports the balance as it is now, not as it was when the key was
// first processed.
func (s *DeductionService) replay(ctx context.Context, req domain.DeductRequest) (domain.DeductResult, error) {
	item, err := s.items.GetByCode(ctx, req.ItemCode)
	if err != nil {
		return domain.DeductResult{}, fmt.Errorf("read balance for replay of %s: %w", req.IdempotencyKey, err)
	}

	var balance int64
	if item != nil {
		balance = item.Balance
	}

	s.logger.Debug("deduction already processed",
		zap.String("code", req.ItemCode),
		zap.String("idempotency_key", req.IdempotencyKey),
	)
	return domain.DeductResult{
		Success:        true,
		Message:        domain.MessageAlreadyProcessed,
		CurrentBalance: balance,
	}, nil
}

func (s *DeductionService) afterCommit(ctx context.Context, req domain.DeductRequest, done deduction) {
	s.logger.Info("stock deducted",
		zap.String("code", req.ItemCode),
		zap.Int64("quantity", req.Quantity),
		zap.Int64("before", done.before),
		zap.Int64("after", done.after),
		zap.String("idempotency_key", req.IdempotencyKey),
	)

	s.remember(ctx, done.record)

	if s.events == nil {
		return
	}
	event := domain.StockDeducted{
		EventID:        uuid.NewString(),
		IdempotencyKey: req.IdempotencyKey,
		ItemCode:       req.ItemCode,
		Quantity:       req.Quantity,
		BalanceBefore:  done.before,
		BalanceAfter:   done.after,
		OccurredAt:     done.record.ProcessedAt,
	}
	if err := s.events.PublishStockDeducted(ctx, event); err != nil {
		s.logger.Error("failed to publish stock deducted event",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Error(err),
		)
	}
}

func (s *DeductionService) remember(ctx context.Context, record domain.OperationRecord) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, record); err != nil {
		s.logger.Warn("ledger cache write failed", zap.String("idempotency_key", record.IdempotencyKey), zap.Error(err))
	}
}
