package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// Store hands pending messages to fn and marks the accepted ones published.
type Store interface {
	ProcessPending(ctx context.Context, limit int, fn func(context.Context, Message) error) (int, error)
}

// Publisher is satisfied by messaging.RabbitMQ.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

// Relay polls a Store and publishes what it finds.
type Relay struct {
	store     Store
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

func NewRelay(store Store, publisher Publisher, interval time.Duration, batchSize int, logger *zap.Logger) *Relay {
	return &Relay{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run drains the outbox every interval until ctx is cancelled. A full batch
// is followed immediately by another poll.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info("Outbox relay started",
		zap.Duration("interval", r.interval),
		zap.Int("batch_size", r.batchSize),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		for {
			n, err := r.Flush(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Warn("Outbox flush failed", zap.Int("published", n), zap.Error(err))
				}
				break
			}
			if n < r.batchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return
		case <-ticker.C:
		}
	}
}

// Flush publishes one batch and returns how many messages went out.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	return r.store.ProcessPending(ctx, r.batchSize, r.publish)
}

func (r *Relay) publish(ctx context.Context, m Message) error {
	// Continue the trace of the request that produced the event.
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(m.Headers))

	err := r.publisher.Publish(msgCtx, m.Exchange, m.RoutingKey, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: m.CorrelationID,
		MessageId:     m.DedupeKey,
		Type:          m.RoutingKey,
		Body:          m.Payload,
	})
	if err != nil {
		return err
	}

	r.logger.Info("Event published",
		zap.String("routing_key", m.RoutingKey),
		zap.String("message_id", m.DedupeKey),
		zap.String("correlation_id", m.CorrelationID),
	)
	return nil
}
