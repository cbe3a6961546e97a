package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// LedgerStore is the operation_records table. Rows are inserted once and
// never updated; the primary key on idempotency_key is what rejects a
// second insert of the same key.
type LedgerStore struct {
	q querier
}

func (s *LedgerStore) Lookup(ctx context.Context, key string) (*domain.OperationRecord, error) {
	var rec domain.OperationRecord
	err := s.q.QueryRowContext(ctx, `
		SELECT idempotency_key, operation_type, result_summary, processed_at
		FROM operation_records WHERE idempotency_key = ?`, key,
	).Scan(&rec.IdempotencyKey, &rec.OperationType, &rec.ResultSummary, &rec.ProcessedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query operation record: %w", translateError(err))
	}
	return &rec, nil
}

func (s *LedgerStore) Append(ctx context.Context, record domain.OperationRecord) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO operation_records (idempotency_key, operation_type, result_summary, processed_at)
		VALUES (?, ?, ?, ?)`,
		record.IdempotencyKey, record.OperationType, record.ResultSummary, record.ProcessedAt,
	)
	if isDuplicateEntry(err) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateOperation, record.IdempotencyKey)
	}
	if err != nil {
		return fmt.Errorf("insert operation record: %w", translateError(err))
	}
	return nil
}
