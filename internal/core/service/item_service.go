package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/platform/logging"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ItemService covers plain item maintenance. Balance changes made here go
// through the same versioned save as deductions but are not retried: a
// conflicting concurrent edit is reported to the caller.
type ItemService struct {
	repo   port.ItemRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewItemService(repo port.ItemRepository, logger *zap.Logger) *ItemService {
	return &ItemService{
		repo:   repo,
		logger: logging.OrNop(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *ItemService) Create(ctx context.Context, code, description string, balance int64) (*domain.Item, error) {
	exists, err := s.repo.CodeExists(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("check code %s: %w", code, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrCodeTaken, code)
	}

	item := &domain.Item{
		ID:          uuid.NewString(),
		Code:        code,
		Description: description,
		Balance:     balance,
		CreatedAt:   s.now(),
		Version:     1,
		Lifecycle:   domain.Active(),
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, err
	}

	s.logger.Info("item created", zap.String("id", item.ID), zap.String("code", code))
	return item, nil
}

func (s *ItemService) GetByID(ctx context.Context, id string) (*domain.Item, error) {
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: id %s", domain.ErrItemNotFound, id)
	}
	return item, nil
}

func (s *ItemService) GetByCode(ctx context.Context, code string) (*domain.Item, error) {
	item, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrItemNotFound, code)
	}
	return item, nil
}

func (s *ItemService) Update(ctx context.Context, id, description string, balance int64) (*domain.Item, error) {
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	item.Revise(description, balance, s.now())
	if err := s.repo.Save(ctx, item); err != nil {
		return nil, err
	}

	s.logger.Info("item updated", zap.String("id", id), zap.Int64("balance", balance))
	return item, nil
}

// Delete marks the item deleted. Its code becomes free for reuse and
// deductions against it fail as not found.
func (s *ItemService) Delete(ctx context.Context, id string) error {
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	item.MarkDeleted(s.now())
	if err := s.repo.Save(ctx, item); err != nil {
		return err
	}

	s.logger.Info("item deleted", zap.String("id", id), zap.String("code", item.Code))
	return nil
}

func (s *ItemService) List(ctx context.Context, q domain.ItemQuery) (domain.ItemPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	q.Sort = domain.ParseItemSort(string(q.Sort))

	items, total, err := s.repo.List(ctx, q)
	if err != nil {
		return domain.ItemPage{}, fmt.Errorf("list items: %w", err)
	}
	return domain.NewItemPage(items, total, q), nil
}
