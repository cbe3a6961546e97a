package domain

import (
	"fmt"
	"time"
)

// Version is the optimistic concurrency marker of an item row. It is compared
// on every write and bumped by the store on success.
type Version int64

type LifecycleState string

const (
	LifecycleActive  LifecycleState = "active"
	LifecycleDeleted LifecycleState = "deleted"
)

// Lifecycle is either Active or Deleted{at}. DeletedAt is zero for active items.
type Lifecycle struct {
	State     LifecycleState
	DeletedAt time.Time
}

func Active() Lifecycle {
	return Lifecycle{State: LifecycleActive}
}

func DeletedAt(at time.Time) Lifecycle {
	return Lifecycle{State: LifecycleDeleted, DeletedAt: at}
}

func (l Lifecycle) IsDeleted() bool {
	return l.State == LifecycleDeleted
}

type Item struct {
	ID          string
	Code        string
	Description string
	Balance     int64
	CreatedAt   time.Time
	UpdatedAt   *time.Time
	Version     Version
	Lifecycle   Lifecycle
}

// Debit removes quantity from the balance. The balance never goes negative:
// a non-positive quantity or an insufficient balance leaves the item untouched.
func (i *Item) Debit(quantity int64, now time.Time) error {
	if quantity < 1 {
		return fmt.Errorf("%w: got %d for %s", ErrInvalidQuantity, quantity, i.Code)
	}
	if i.Balance < quantity {
		return &InsufficientBalanceError{Code: i.Code, Balance: i.Balance, Requested: quantity}
	}
	i.Balance -= quantity
	i.touch(now)
	return nil
}

func (i *Item) Revise(description string, balance int64, now time.Time) {
	i.Description = description
	i.Balance = balance
	i.touch(now)
}

func (i *Item) MarkDeleted(now time.Time) {
	i.Lifecycle = DeletedAt(now)
	i.touch(now)
}

func (i *Item) touch(now time.Time) {
	t := now
	i.UpdatedAt = &t
}

type ItemSort string

const (
	SortAlphabetical ItemSort = "alphabetical"
	SortRecent       ItemSort = "recent"
	SortUpdated      ItemSort = "updated"
)

// ParseItemSort maps a listing sort parameter; anything unknown sorts alphabetically.
func ParseItemSort(s string) ItemSort {
	switch ItemSort(s) {
	case SortRecent, SortUpdated:
		return ItemSort(s)
	default:
		return SortAlphabetical
	}
}

type ItemQuery struct {
	Page     int
	PageSize int
	Sort     ItemSort
	Search   string
}

func (q ItemQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

type ItemPage struct {
	Items      []Item
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

func NewItemPage(items []Item, total int, q ItemQuery) ItemPage {
	pages := 0
	if q.PageSize > 0 {
		pages = (total + q.PageSize - 1) / q.PageSize
	}
	return ItemPage{
		Items:      items,
		Total:      total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: pages,
	}
}
