package handler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type fakeDeductor struct {
	mu     sync.Mutex
	result domain.DeductResult
	err    error
	calls  []domain.DeductRequest
}

func (f *fakeDeductor) Deduct(ctx context.Context, req domain.DeductRequest) (domain.DeductResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.result, f.err
}

type fakeItems struct {
	items map[string]domain.Item
	err   error
}

func newFakeItems(items ...domain.Item) *fakeItems {
	f := &fakeItems{items: make(map[string]domain.Item)}
	for _, it := range items {
		f.items[it.ID] = it
	}
	return f
}

func testItem(id, code string, balance int64) domain.Item {
	return domain.Item{
		ID:          id,
		Code:        code,
		Description: "item " + code,
		Balance:     balance,
		CreatedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Version:     1,
		Lifecycle:   domain.Active(),
	}
}

func (f *fakeItems) Create(ctx context.Context, code, description string, balance int64) (*domain.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, it := range f.items {
		if it.Code == code {
			return nil, fmt.Errorf("%w: %s", domain.ErrCodeTaken, code)
		}
	}
	it := testItem(fmt.Sprintf("id-%d", len(f.items)+1), code, balance)
	it.Description = description
	f.items[it.ID] = it
	return &it, nil
}

func (f *fakeItems) GetByID(ctx context.Context, id string) (*domain.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	it, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", domain.ErrItemNotFound, id)
	}
	return &it, nil
}

func (f *fakeItems) GetByCode(ctx context.Context, code string) (*domain.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, it := range f.items {
		if it.Code == code {
			return &it, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrItemNotFound, code)
}

func (f *fakeItems) Update(ctx context.Context, id, description string, balance int64) (*domain.Item, error) {
	it, err := f.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	it.Revise(description, balance, time.Now().UTC())
	it.Version++
	f.items[id] = *it
	return it, nil
}

func (f *fakeItems) Delete(ctx context.Context, id string) error {
	if _, err := f.GetByID(ctx, id); err != nil {
		return err
	}
	delete(f.items, id)
	return nil
}

func (f *fakeItems) List(ctx context.Context, q domain.ItemQuery) (domain.ItemPage, error) {
	if f.err != nil {
		return domain.ItemPage{}, f.err
	}
	var items []domain.Item
	for _, it := range f.items {
		items = append(items, it)
	}
	return domain.NewItemPage(items, len(items), q), nil
}
