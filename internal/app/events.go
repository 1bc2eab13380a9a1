package app

import (
	"context"
	"log/slog"
	"strings"

	"github.com/transfa/rewards-service/internal/domain"
	"github.com/transfa/rewards-service/internal/store"
	"github.com/transfa/rewards-service/pkg/metrics"
	"github.com/transfa/rewards-service/pkg/rabbitmq"
)

type pendingEvent struct {
	routingKey string
	body       interface{}
}

// eventBatch collects events raised inside a transaction. They are published only
// after the transaction commits.
type eventBatch []pendingEvent

func (b *eventBatch) add(routingKey string, body interface{}) {
	*b = append(*b, pendingEvent{routingKey: routingKey, body: body})
}

// EventEmitter publishes committed events and records their metrics.
type EventEmitter struct {
	publisher rabbitmq.Publisher
	exchange  string
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// NewEventEmitter creates an emitter. publisher may be nil, in which case only
// metrics are recorded.
func NewEventEmitter(publisher rabbitmq.Publisher, exchange string, m *metrics.Collector, logger *slog.Logger) *EventEmitter {
	return &EventEmitter{publisher: publisher, exchange: exchange, metrics: m, logger: logger}
}

func (e *EventEmitter) flush(ctx context.Context, batch eventBatch) {
	if e == nil {
		return
	}
	for _, ev := range batch {
		e.record(ev)
		if e.publisher == nil {
			continue
		}
		// The commit already happened; a lost event is logged, never surfaced to the caller.
		if err := e.publisher.Publish(ctx, e.exchange, ev.routingKey, ev.body); err != nil {
			e.logger.Warn("failed to publish event", "component", "events", "routing_key", ev.routingKey, "error", err)
		}
	}
}

func (e *EventEmitter) record(ev pendingEvent) {
	switch body := ev.body.(type) {
	case domain.LedgerEvent:
		direction := string(domain.DirectionCredit)
		if strings.HasSuffix(ev.routingKey, "consumed") {
			direction = string(domain.DirectionDebit)
		}
		e.metrics.RecordLedger(direction, string(body.Category), body.Amount.InexactFloat64())
	case domain.DistributionSummary:
		e.metrics.RecordDistribution(body.Amount.InexactFloat64())
	}
}

// runner executes one unit of work in a transaction and flushes its events on commit.
type runner struct {
	repo    store.Repository
	events  *EventEmitter
	metrics *metrics.Collector
	logger  *slog.Logger
}

func (r runner) run(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx, batch *eventBatch) error) error {
	var batch eventBatch
	err := r.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		batch = batch[:0]
		return fn(ctx, tx, &batch)
	})
	if err != nil {
		if domain.IsBusinessRejection(err) {
			r.metrics.RecordRejection(op)
			r.logger.Warn("operation rejected", "component", "app", "operation", op, "error", err)
		} else {
			r.logger.Error("operation failed", "component", "app", "operation", op, "error", err)
		}
		return err
	}
	r.events.flush(ctx, batch)
	return nil
}
