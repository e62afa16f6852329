package telemetry

import (
	"context"
	"fmt"

	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Reservation outcomes recorded by SagaMetrics.
const (
	OutcomeReserved    = "reserved"
	OutcomeFailed      = "failed"
	OutcomeCompensated = "compensated"
)

// SagaMetrics counts saga progress. A nil *SagaMetrics records nothing.
type SagaMetrics struct {
	reservations        metric.Int64Counter
	transitions         metric.Int64Counter
	optimisticConflicts metric.Int64Counter
	deadLetters         metric.Int64Counter
}

func NewSagaMetrics(meter metric.Meter) (*SagaMetrics, error) {
	m := &SagaMetrics{}
	var err error

	m.reservations, err = meter.Int64Counter("saga_reservations_total",
		metric.WithDescription("Order reservation attempts by outcome"),
		metric.WithUnit("{order}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create saga_reservations_total: %w", err)
	}

	m.transitions, err = meter.Int64Counter("saga_order_transitions_total",
		metric.WithDescription("Persisted order status transitions by target status"),
		metric.WithUnit("{transition}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create saga_order_transitions_total: %w", err)
	}

	m.optimisticConflicts, err = meter.Int64Counter("saga_optimistic_conflicts_total",
		metric.WithDescription("Stale-version writes detected on orders"),
		metric.WithUnit("{conflict}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create saga_optimistic_conflicts_total: %w", err)
	}

	m.deadLetters, err = meter.Int64Counter("saga_dead_letters_total",
		metric.WithDescription("Deliveries routed to a dead-letter queue"),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create saga_dead_letters_total: %w", err)
	}

	return m, nil
}

func (m *SagaMetrics) RecordReservation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.reservations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *SagaMetrics) RecordTransition(ctx context.Context, to models.OrderStatus) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to.String())))
}

func (m *SagaMetrics) RecordOptimisticConflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.optimisticConflicts.Add(ctx, 1)
}

func (m *SagaMetrics) RecordDeadLetter(ctx context.Context, queue string) {
	if m == nil {
		return
	}
	m.deadLetters.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}
