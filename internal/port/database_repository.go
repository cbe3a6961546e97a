package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type StockRepository interface {
	// GetByCode returns the active item with the given code, or nil if none exists
	GetByCode(ctx context.Context, code string) (*domain.Item, error)

	// Save writes the item if its version still matches the stored one and bumps item.Version.
	// A mismatch returns domain.ErrConcurrencyConflict
	Save(ctx context.Context, item *domain.Item) error
}

type ItemRepository interface {
	StockRepository

	// GetByID returns the active item with the given id, or nil if none exists
	GetByID(ctx context.Context, id string) (*domain.Item, error)

	// Create inserts a new item. A code held by another active item returns domain.ErrCodeTaken
	Create(ctx context.Context, item *domain.Item) error

	// CodeExists reports whether an active item already uses the code
	CodeExists(ctx context.Context, code string) (bool, error)

	// List returns one page of active items and the total count matching the query
	List(ctx context.Context, query domain.ItemQuery) ([]domain.Item, int, error)
}

type IdempotencyLedger interface {
	// Lookup returns the record for key, or nil if the key was never processed
	Lookup(ctx context.Context, key string) (*domain.OperationRecord, error)

	// Append inserts a record. A key that already exists returns domain.ErrDuplicateOperation
	Append(ctx context.Context, record domain.OperationRecord) error
}

// TxStore is the storage view handed to a unit of work. Everything done
// through it commits or rolls back together.
type TxStore interface {
	Items() StockRepository
	Ledger() IdempotencyLedger
}

type Transactor interface {
	// InTx runs fn inside one transaction, committing when fn returns nil
	InTx(ctx context.Context, fn func(ctx context.Context, store TxStore) error) error
}
