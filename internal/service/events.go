package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/efreitasn/brokerage/internal/domain"
	"github.com/efreitasn/brokerage/internal/metrics"
)

// EventSink receives committed order events.
type EventSink interface {
	Name() string
	Publish(ctx context.Context, ev domain.OrderEvent) error
}

// EventPublisher accepts order events after their transaction commits.
type EventPublisher interface {
	Publish(ev domain.OrderEvent)
}

const dispatchQueueSize = 1024

// Dispatcher fans committed order events out to every sink from a single
// worker, so each sink sees events in commit order. Delivery failures are
// logged and counted; they never reach the operation that produced the
// event.
type Dispatcher struct {
	sinks   []EventSink
	queue   chan domain.OrderEvent
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	done chan struct{}
}

// NewDispatcher creates a dispatcher. timeout bounds each sink delivery.
func NewDispatcher(timeout time.Duration, logger *slog.Logger, m *metrics.Metrics, sinks ...EventSink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan domain.OrderEvent, dispatchQueueSize),
		timeout: timeout,
		logger:  logger,
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Publish enqueues ev without blocking. When the queue is full the event is
// dropped and logged.
func (d *Dispatcher) Publish(ev domain.OrderEvent) {
	select {
	case d.queue <- ev:
	default:
		d.metrics.IncEventFailure("queue")
		d.logger.Warn("event queue full, dropping event",
			slog.String("event", ev.Type),
			slog.String("order_id", ev.Order.OrderID),
		)
	}
}

// Start launches the delivery worker. When ctx is cancelled the worker
// drains what is already queued and exits; Wait blocks until then.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		defer close(d.done)
		for {
			select {
			case ev := <-d.queue:
				d.deliver(ev)
			case <-ctx.Done():
				for {
					select {
					case ev := <-d.queue:
						d.deliver(ev)
					default:
						return
					}
				}
			}
		}
	}()
}

// Wait blocks until the worker started by Start has exited or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) deliver(ev domain.OrderEvent) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := sink.Publish(ctx, ev)
		cancel()
		if err != nil {
			d.metrics.IncEventFailure(sink.Name())
			d.logger.Warn("event delivery failed",
				slog.String("sink", sink.Name()),
				slog.String("event", ev.Type),
				slog.String("order_id", ev.Order.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// SyncPublisher delivers events inline. Tests and tools use it where a
// background worker is unwanted.
type SyncPublisher struct {
	Sinks []EventSink
}

// Publish delivers ev to every sink, ignoring failures.
func (p SyncPublisher) Publish(ev domain.OrderEvent) {
	for _, s := range p.Sinks {
		_ = s.Publish(context.Background(), ev)
	}
}
