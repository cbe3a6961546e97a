package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

var (
	_ port.ItemRepository    = (*ItemStore)(nil)
	_ port.IdempotencyLedger = (*LedgerStore)(nil)
	_ port.Transactor        = (*MySQLAdapter)(nil)
)

const itemColumns = `id, code, description, balance, created_at, updated_at, deleted_at, version`

type ItemStore struct {
	q querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*domain.Item, error) {
	var (
		item      domain.Item
		updatedAt sql.NullTime
		deletedAt sql.NullTime
	)
	err := row.Scan(&item.ID, &item.Code, &item.Description, &item.Balance,
		&item.CreatedAt, &updatedAt, &deletedAt, &item.Version)
	if err != nil {
		return nil, err
	}

	if updatedAt.Valid {
		t := updatedAt.Time
		item.UpdatedAt = &t
	}
	item.Lifecycle = domain.Active()
	if deletedAt.Valid {
		item.Lifecycle = domain.DeletedAt(deletedAt.Time)
	}
	return &item, nil
}

func (s *ItemStore) getOne(ctx context.Context, where string, arg any) (*domain.Item, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE `+where, arg)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", translateError(err))
	}
	return item, nil
}

func (s *ItemStore) GetByCode(ctx context.Context, code string) (*domain.Item, error) {
	return s.getOne(ctx, `active_code = ?`, code)
}

func (s *ItemStore) GetByID(ctx context.Context, id string) (*domain.Item, error) {
	return s.getOne(ctx, `id = ? AND deleted_at IS NULL`, id)
}

func (s *ItemStore) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM items WHERE active_code = ?)`, code,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check code: %w", translateError(err))
	}
	return exists, nil
}

func (s *ItemStore) Create(ctx context.Context, item *domain.Item) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO items (id, code, description, balance, created_at, version)
		VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, item.Code, item.Description, item.Balance, item.CreatedAt, item.Version,
	)
	if isDuplicateEntry(err) {
		return fmt.Errorf("%w: %s", domain.ErrCodeTaken, item.Code)
	}
	if err != nil {
		return fmt.Errorf("insert item: %w", translateError(err))
	}
	return nil
}

// Save only succeeds against the version the item was read with.
func (s *ItemStore) Save(ctx context.Context, item *domain.Item) error {
	var deletedAt *time.Time
	if item.Lifecycle.IsDeleted() {
		t := item.Lifecycle.DeletedAt
		deletedAt = &t
	}

	result, err := s.q.ExecContext(ctx, `
		UPDATE items
		SET description = ?, balance = ?, updated_at = ?, deleted_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND deleted_at IS NULL`,
		item.Description, item.Balance, item.UpdatedAt, deletedAt, item.ID, item.Version,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", translateError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update item: %w", translateError(err))
	}
	if rows == 0 {
		return fmt.Errorf("%w: item %s at version %d", domain.ErrConcurrencyConflict, item.ID, item.Version)
	}

	item.Version++
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *ItemStore) List(ctx context.Context, q domain.ItemQuery) ([]domain.Item, int, error) {
	where := `deleted_at IS NULL`
	var args []any
	if q.Search != "" {
		pattern := "%" + likeEscaper.Replace(q.Search) + "%"
		where += ` AND (code LIKE ? OR description LIKE ?)`
		args = append(args, pattern, pattern)
	}

	var total int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", translateError(err))
	}

	query := `SELECT ` + itemColumns + ` FROM items WHERE ` + where +
		` ORDER BY ` + orderBy(q.Sort) + ` LIMIT ? OFFSET ?`
	rows, err := s.q.QueryContext(ctx, query, append(args, q.PageSize, q.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list items: %w", translateError(err))
	}
	defer rows.Close()

	items := make([]domain.Item, 0, q.PageSize)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list items: %w", translateError(err))
	}
	return items, total, nil
}

func orderBy(sort domain.ItemSort) string {
	switch sort {
	case domain.SortRecent:
		return `created_at DESC, id`
	case domain.SortUpdated:
		return `COALESCE(updated_at, created_at) DESC, id`
	default:
		return `description, id`
	}
}
