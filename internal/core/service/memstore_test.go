package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// memStore is an in-memory transactional store. Writes made inside InTx are
// buffered and validated at commit: item versions must be unchanged and
// ledger keys must be new, mirroring the version column and primary key of
// the relational schema.
type memStore struct {
	mu     sync.Mutex
	items  map[string]domain.Item
	ledger map[string]domain.OperationRecord

	txCount   atomic.Int32
	lookups   atomic.Int32
	failSaves atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{
		items:  make(map[string]domain.Item),
		ledger: make(map[string]domain.OperationRecord),
	}
}

func (m *memStore) seed(code string, balance int64) domain.Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := domain.Item{
		ID:          uuid.NewString(),
		Code:        code,
		Description: "seeded " + code,
		Balance:     balance,
		CreatedAt:   time.Now().UTC(),
		Version:     1,
		Lifecycle:   domain.Active(),
	}
	m.items[item.ID] = item
	return item
}

func (m *memStore) balance(code string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it := m.findByCode(code); it != nil {
		return it.Balance
	}
	return -1
}

func (m *memStore) ledgerSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ledger)
}

func (m *memStore) findByCode(code string) *domain.Item {
	for _, it := range m.items {
		if it.Code == code && !it.Lifecycle.IsDeleted() {
			cp := it
			return &cp
		}
	}
	return nil
}

func (m *memStore) GetByCode(ctx context.Context, code string) (*domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findByCode(code), nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (*domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok || it.Lifecycle.IsDeleted() {
		return nil, nil
	}
	return &it, nil
}

func (m *memStore) Save(ctx context.Context, item *domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[item.ID]
	if !ok || cur.Version != item.Version || cur.Lifecycle.IsDeleted() {
		return fmt.Errorf("%w: item %s", domain.ErrConcurrencyConflict, item.ID)
	}
	item.Version++
	m.items[item.ID] = *item
	return nil
}

func (m *memStore) Create(ctx context.Context, item *domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findByCode(item.Code) != nil {
		return fmt.Errorf("%w: %s", domain.ErrCodeTaken, item.Code)
	}
	m.items[item.ID] = *item
	return nil
}

func (m *memStore) CodeExists(ctx context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findByCode(code) != nil, nil
}

func (m *memStore) List(ctx context.Context, q domain.ItemQuery) ([]domain.Item, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	search := strings.ToLower(q.Search)
	var matched []domain.Item
	for _, it := range m.items {
		if it.Lifecycle.IsDeleted() {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(it.Code), search) &&
			!strings.Contains(strings.ToLower(it.Description), search) {
			continue
		}
		matched = append(matched, it)
	}

	sort.Slice(matched, func(i, j int) bool {
		switch q.Sort {
		case domain.SortRecent:
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		case domain.SortUpdated:
			return lastTouched(matched[i]).After(lastTouched(matched[j]))
		default:
			return matched[i].Description < matched[j].Description
		}
	})

	total := len(matched)
	start := q.Offset()
	if start > total {
		start = total
	}
	end := start + q.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func lastTouched(it domain.Item) time.Time {
	if it.UpdatedAt != nil {
		return *it.UpdatedAt
	}
	return it.CreatedAt
}

func (m *memStore) Lookup(ctx context.Context, key string) (*domain.OperationRecord, error) {
	m.lookups.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.ledger[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memStore) Append(ctx context.Context, record domain.OperationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ledger[record.IdempotencyKey]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateOperation, record.IdempotencyKey)
	}
	m.ledger[record.IdempotencyKey] = record
	return nil
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, store port.TxStore) error) error {
	m.txCount.Add(1)

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		store:   m,
		writes:  make(map[string]pendingWrite),
		records: make(map[string]domain.OperationRecord),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *memStore) commit(tx *memTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, w := range tx.writes {
		if cur, ok := m.items[id]; !ok || cur.Version != w.expected {
			return fmt.Errorf("%w: item %s", domain.ErrConcurrencyConflict, id)
		}
	}
	for key := range tx.records {
		if _, ok := m.ledger[key]; ok {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateOperation, key)
		}
	}

	for id, w := range tx.writes {
		m.items[id] = w.item
	}
	for key, rec := range tx.records {
		m.ledger[key] = rec
	}
	return nil
}

type pendingWrite struct {
	item     domain.Item
	expected domain.Version
}

type memTx struct {
	store   *memStore
	writes  map[string]pendingWrite
	records map[string]domain.OperationRecord
}

func (t *memTx) Items() port.StockRepository    { return t }
func (t *memTx) Ledger() port.IdempotencyLedger { return t }

func (t *memTx) GetByCode(ctx context.Context, code string) (*domain.Item, error) {
	for _, w := range t.writes {
		if w.item.Code == code && !w.item.Lifecycle.IsDeleted() {
			cp := w.item
			return &cp, nil
		}
	}
	return t.store.GetByCode(ctx, code)
}

func (t *memTx) Save(ctx context.Context, item *domain.Item) error {
	for {
		n := t.store.failSaves.Load()
		if n <= 0 {
			break
		}
		if t.store.failSaves.CompareAndSwap(n, n-1) {
			return fmt.Errorf("%w: injected on item %s", domain.ErrConcurrencyConflict, item.ID)
		}
	}

	expected := item.Version
	if w, ok := t.writes[item.ID]; ok {
		expected = w.expected
	}
	item.Version++
	t.writes[item.ID] = pendingWrite{item: *item, expected: expected}
	return nil
}

func (t *memTx) Lookup(ctx context.Context, key string) (*domain.OperationRecord, error) {
	if rec, ok := t.records[key]; ok {
		return &rec, nil
	}
	return t.store.Lookup(ctx, key)
}

func (t *memTx) Append(ctx context.Context, record domain.OperationRecord) error {
	if _, ok := t.records[record.IdempotencyKey]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateOperation, record.IdempotencyKey)
	}
	t.store.mu.Lock()
	_, committed := t.store.ledger[record.IdempotencyKey]
	t.store.mu.Unlock()
	if committed {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateOperation, record.IdempotencyKey)
	}
	t.records[record.IdempotencyKey] = record
	return nil
}

// transactorFunc adapts a function to port.Transactor for executor tests.
type transactorFunc func(ctx context.Context, fn func(ctx context.Context, store port.TxStore) error) error

func (f transactorFunc) InTx(ctx context.Context, fn func(ctx context.Context, store port.TxStore) error) error {
	return f(ctx, fn)
}

type mapCache struct {
	mu      sync.Mutex
	records map[string]domain.OperationRecord
	err     error
}

func newMapCache() *mapCache {
	return &mapCache{records: make(map[string]domain.OperationRecord)}
}

func (c *mapCache) Get(ctx context.Context, key string) (*domain.OperationRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	rec, ok := c.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (c *mapCache) Put(ctx context.Context, record domain.OperationRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.records[record.IdempotencyKey] = record
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.StockDeducted
}

func (p *recordingPublisher) PublishStockDeducted(ctx context.Context, event domain.StockDeducted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}
