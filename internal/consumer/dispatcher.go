// Package consumer runs the saga listeners of both services on top of
// RabbitMQ deliveries.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/cache"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/logger"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/retry"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/telemetry"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Source opens a manual-ack delivery channel; messaging.RabbitMQ implements it.
type Source interface {
	Consume(ctx context.Context, queue string, prefetch int) (<-chan amqp.Delivery, error)
}

type HandlerFunc func(ctx context.Context, msg amqp.Delivery) error

// Route binds a queue to the handler of its deliveries.
type Route struct {
	Queue  string
	Handle HandlerFunc
}

// JSON decodes the body into T before calling fn. Undecodable bodies are
// reported as models.ErrMalformedEvent.
func JSON[T any](fn func(ctx context.Context, evt T) error) HandlerFunc {
	return func(ctx context.Context, msg amqp.Delivery) error {
		var evt T
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			return fmt.Errorf("decode %s: %w: %v", msg.RoutingKey, models.ErrMalformedEvent, err)
		}
		return fn(ctx, evt)
	}
}

type Outcome int

const (
	Acked Outcome = iota
	Duplicate
	Dropped
	Requeued
	DeadLettered
)

func (o Outcome) String() string {
	switch o {
	case Acked:
		return "acked"
	case Duplicate:
		return "duplicate"
	case Dropped:
		return "dropped"
	case Requeued:
		return "requeued"
	case DeadLettered:
		return "dead_lettered"
	}
	return "unknown"
}

// Dispatcher runs a fixed pool of workers per route.
//
// Settlement policy: success and business rejections are acked; malformed
// messages are dead-lettered at once; a failure caused by shutdown is
// requeued; any other error requeues the message once and dead-letters it
// when it comes back redelivered. Only successfully handled message ids are
// remembered for deduplication.
type Dispatcher struct {
	source   Source
	dedup    cache.Deduplicator
	metrics  *telemetry.SagaMetrics
	logger   *zap.Logger
	tracer   trace.Tracer
	prefetch int
	workers  int
}

func NewDispatcher(source Source, dedup cache.Deduplicator, metrics *telemetry.SagaMetrics, prefetch, workers int, logger *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		source:   source,
		dedup:    dedup,
		metrics:  metrics,
		logger:   logger,
		tracer:   otel.Tracer("github.com/prudhivi99/Distributed-Systems/stocksaga/internal/consumer"),
		prefetch: prefetch,
		workers:  workers,
	}
}

// ErrDeliveriesClosed is returned by Run when a delivery channel closes while
// its context is still live, which happens when the broker connection drops.
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// Run consumes every route until ctx is cancelled and the delivery channels
// are drained. If one channel closes on its own, the other listeners are
// stopped and Run returns ErrDeliveriesClosed.
func (d *Dispatcher) Run(ctx context.Context, routes ...Route) error {
	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		closeErr error
	)
	for _, route := range routes {
		messages, err := d.source.Consume(consumeCtx, route.Queue, d.prefetch)
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("failed to consume %s: %w", route.Queue, err)
		}

		for i := 0; i < d.workers; i++ {
			wg.Add(1)
			go func(route Route) {
				defer wg.Done()
				for msg := range messages {
					d.Process(ctx, route, msg)
				}
				if ctx.Err() == nil {
					once.Do(func() {
						closeErr = fmt.Errorf("%w: %s", ErrDeliveriesClosed, route.Queue)
						stop()
					})
				}
			}(route)
		}
		d.logger.Info("Listener started", zap.String("queue", route.Queue), zap.Int("workers", d.workers))
	}

	wg.Wait()
	if closeErr != nil {
		d.logger.Error("Listeners stopped after losing a delivery channel", zap.Error(closeErr))
		return closeErr
	}
	d.logger.Info("Listeners stopped")
	return nil
}

// Process handles and settles one delivery.
func (d *Dispatcher) Process(ctx context.Context, route Route, msg amqp.Delivery) Outcome {
	ctx = messaging.ExtractTraceContext(ctx, msg.Headers)
	ctx, span := d.tracer.Start(ctx, route.Queue+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", msg.Exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", msg.RoutingKey),
			attribute.String("messaging.message.id", msg.MessageId),
			attribute.String("messaging.message.conversation_id", msg.CorrelationId),
		),
	)
	defer span.End()

	log := logger.WithTraceContext(ctx, d.logger.With(
		zap.String("queue", route.Queue),
		zap.String("routing_key", msg.RoutingKey),
		zap.String("message_id", msg.MessageId),
		zap.String("correlation_id", msg.CorrelationId),
	))
	ctx = logger.WithContext(ctx, log)

	dedupKey := route.Queue + ":" + msg.MessageId
	dedupe := d.dedup != nil && msg.MessageId != ""
	if dedupe {
		seen, err := d.dedup.Seen(ctx, dedupKey)
		switch {
		case err != nil:
			log.Warn("Dedupe store unavailable, processing anyway", zap.Error(err))
		case seen:
			log.Info("Duplicate delivery skipped")
			d.settle(log, msg.Ack(false))
			return Duplicate
		}
	}

	err := route.Handle(ctx, msg)
	if err == nil {
		if dedupe {
			// Handlers are idempotent, so a redelivery racing this mark is harmless.
			if err := d.dedup.Mark(context.WithoutCancel(ctx), dedupKey); err != nil {
				log.Warn("Failed to mark message as handled", zap.Error(err))
			}
		}
		d.settle(log, msg.Ack(false))
		return Acked
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var domainErr *models.DomainError
	switch {
	case errors.Is(err, models.ErrMalformedEvent):
		log.Error("Malformed message, dead-lettering", zap.Error(err))
		return d.deadLetter(ctx, route, msg, log)
	case errors.As(err, &domainErr) && !retry.IsConflict(err):
		log.Warn("Message rejected by business rules, dropping", zap.Error(err))
		d.settle(log, msg.Ack(false))
		return Dropped
	case ctx.Err() != nil:
		log.Warn("Message interrupted by shutdown, requeueing", zap.Error(err))
		d.settle(log, msg.Nack(false, true))
		return Requeued
	case msg.Redelivered:
		log.Error("Redelivered message failed again, dead-lettering", zap.Error(err))
		return d.deadLetter(ctx, route, msg, log)
	default:
		log.Warn("Message failed, requeueing", zap.Error(err))
		d.settle(log, msg.Nack(false, true))
		return Requeued
	}
}

func (d *Dispatcher) deadLetter(ctx context.Context, route Route, msg amqp.Delivery, log *zap.Logger) Outcome {
	d.settle(log, msg.Nack(false, false))
	d.metrics.RecordDeadLetter(context.WithoutCancel(ctx), route.Queue)
	return DeadLettered
}

func (d *Dispatcher) settle(log *zap.Logger, err error) {
	if err != nil {
		log.Error("Failed to settle delivery", zap.Error(err))
	}
}
