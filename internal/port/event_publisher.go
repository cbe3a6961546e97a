package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type EventPublisher interface {
	// PublishStockDeducted hands off an event for delivery; it must not block on the broker
	PublishStockDeducted(ctx context.Context, event domain.StockDeducted) error
}
