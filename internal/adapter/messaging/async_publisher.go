package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/platform/logging"
	"github.com/rl1809/stock-ledger/internal/port"
)

var (
	ErrQueueFull       = errors.New("event queue full")
	ErrPublisherClosed = errors.New("event publisher closed")
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 1024
	sendTimeout      = 5 * time.Second
)

// Sink delivers one event to the broker.
type Sink interface {
	Send(ctx context.Context, event domain.StockDeducted) error
}

var _ port.EventPublisher = (*AsyncPublisher)(nil)

type envelope struct {
	event   domain.StockDeducted
	carrier propagation.MapCarrier
}

// AsyncPublisher hands events to a fixed pool of workers through a bounded
// queue. Publishing never blocks the caller: when the queue is full the event
// is rejected with ErrQueueFull.
type AsyncPublisher struct {
	sink   Sink
	queue  chan envelope
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAsyncPublisher(sink Sink, workers, queueSize int, logger *zap.Logger) *AsyncPublisher {
	if workers < 1 {
		workers = DefaultWorkers
	}
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}

	p := &AsyncPublisher{
		sink:   sink,
		queue:  make(chan envelope, queueSize),
		logger: logging.OrNop(logger),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.workerLoop(id)
		}(i)
	}
	return p
}

func (p *AsyncPublisher) PublishStockDeducted(ctx context.Context, event domain.StockDeducted) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	select {
	case p.queue <- envelope{event: event, carrier: carrier}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for the queued ones to be sent.
func (p *AsyncPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *AsyncPublisher) workerLoop(id int) {
	for env := range p.queue {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), env.carrier)
		ctx, cancel := context.WithTimeout(ctx, sendTimeout)

		if err := p.sink.Send(ctx, env.event); err != nil {
			p.logger.Error("failed to send stock deducted event",
				zap.Int("worker", id),
				zap.String("event_id", env.event.EventID),
				zap.String("idempotency_key", env.event.IdempotencyKey),
				zap.Error(err),
			)
		} else {
			p.logger.Debug("sent stock deducted event",
				zap.Int("worker", id),
				zap.String("event_id", env.event.EventID),
			)
		}

		cancel()
	}
}

// NoopPublisher discards events. It stands in when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishStockDeducted(context.Context, domain.StockDeducted) error { return nil }
