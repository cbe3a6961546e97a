package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrItemNotFound        = errors.New("item not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidQuantity     = errors.New("quantity must be at least 1")
	ErrCodeTaken           = errors.New("item code already in use")
	ErrDuplicateOperation  = errors.New("operation already processed")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrTransientStorage    = errors.New("transient storage fault")
	ErrRetriesExhausted    = errors.New("retries exhausted")
)

type InsufficientBalanceError struct {
	Code      string
	Balance   int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: have %d, requested %d", e.Code, e.Balance, e.Requested)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

type ErrorClass int

const (
	ClassFatal ErrorClass = iota
	ClassBusiness
	ClassDuplicate
	ClassTransient
)

func (c ErrorClass) String() string {
	switch c {
	case ClassBusiness:
		return "business"
	case ClassDuplicate:
		return "duplicate"
	case ClassTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Classify decides how an error coming out of a unit of work is treated.
// Exhausted retries and cancellation are fatal even when they wrap a
// transient cause.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassFatal
	case errors.Is(err, ErrRetriesExhausted),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return ClassFatal
	case errors.Is(err, ErrItemNotFound),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrCodeTaken):
		return ClassBusiness
	case errors.Is(err, ErrDuplicateOperation):
		return ClassDuplicate
	case errors.Is(err, ErrConcurrencyConflict),
		errors.Is(err, ErrTransientStorage):
		return ClassTransient
	default:
		return ClassFatal
	}
}
