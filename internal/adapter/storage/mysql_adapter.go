package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// querier is the part of *sql.DB and *sql.Tx the stores need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Items reads and writes outside of any explicit transaction.
func (m *MySQLAdapter) Items() *ItemStore {
	return &ItemStore{q: m.db}
}

// Ledger reads and writes outside of any explicit transaction.
func (m *MySQLAdapter) Ledger() *LedgerStore {
	return &LedgerStore{q: m.db}
}

// InTx runs fn in a READ COMMITTED transaction so every attempt sees the
// latest committed balance. The transaction is rolled back unless fn
// returns nil and the commit succeeds.
func (m *MySQLAdapter) InTx(ctx context.Context, fn func(ctx context.Context, store port.TxStore) error) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", translateError(err))
	}
	defer tx.Rollback()

	store := &txStore{
		items:  &ItemStore{q: tx},
		ledger: &LedgerStore{q: tx},
	}
	if err := fn(ctx, store); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", translateError(err))
	}
	return nil
}

type txStore struct {
	items  *ItemStore
	ledger *LedgerStore
}

func (s *txStore) Items() port.StockRepository    { return s.items }
func (s *txStore) Ledger() port.IdempotencyLedger { return s.ledger }

// translateError maps driver failures worth retrying onto
// domain.ErrTransientStorage. Context errors are left alone so they stay fatal.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errDeadlock, errLockWaitTimeout:
			return fmt.Errorf("%w: %w", domain.ErrTransientStorage, err)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return fmt.Errorf("%w: %w", domain.ErrTransientStorage, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", domain.ErrTransientStorage, err)
	}
	return err
}

func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDuplicateEntry
}
