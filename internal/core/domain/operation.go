package domain

import (
	"fmt"
	"time"
)

const OperationDeduct = "deduct"

// OperationRecord is an append-only ledger entry. At most one exists per
// idempotency key and it is never updated after insert.
type OperationRecord struct {
	IdempotencyKey string    `json:"idempotency_key"`
	OperationType  string    `json:"operation_type"`
	ResultSummary  string    `json:"result_summary"`
	ProcessedAt    time.Time `json:"processed_at"`
}

func DeductSummary(code string, quantity, before, after int64) string {
	return fmt.Sprintf("code=%s quantity=%d before=%d after=%d", code, quantity, before, after)
}

type DeductRequest struct {
	ItemCode       string
	Quantity       int64
	IdempotencyKey string
}

type DeductResult struct {
	Success        bool
	Message        string
	CurrentBalance int64
}

const (
	MessageDeducted          = "stock deducted successfully"
	MessageAlreadyProcessed  = "already processed"
	MessageItemNotFound      = "item not found"
	MessageInsufficientStock = "insufficient balance"
	MessageInvalidQuantity   = "quantity must be at least 1"
)

// StockDeducted is emitted once per committed deduction.
type StockDeducted struct {
	EventID        string    `json:"event_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	ItemCode       string    `json:"item_code"`
	Quantity       int64     `json:"quantity"`
	BalanceBefore  int64     `json:"balance_before"`
	BalanceAfter   int64     `json:"balance_after"`
	OccurredAt     time.Time `json:"occurred_at"`
}
