package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// LedgerCache is a best-effort copy of committed ledger records. It is never
// consulted for correctness, only to skip work on replays.
type LedgerCache interface {
	// Get returns the cached record for key, or nil on a miss
	Get(ctx context.Context, key string) (*domain.OperationRecord, error)

	// Put stores a committed record
	Put(ctx context.Context, record domain.OperationRecord) error
}
