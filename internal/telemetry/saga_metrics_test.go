package telemetry

import (
	"context"
	"testing"

	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/config"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Sum[int64] {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string]metricdata.Sum[int64])
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				sums[m.Name] = sum
			}
		}
	}
	return sums
}

func valueFor(sum metricdata.Sum[int64], key, value string) int64 {
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return 0
}

func TestSagaMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		provider.Shutdown(context.Background())
	})

	m, err := NewSagaMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordReservation(ctx, OutcomeReserved)
	m.RecordReservation(ctx, OutcomeReserved)
	m.RecordReservation(ctx, OutcomeFailed)
	m.RecordTransition(ctx, models.OrderStatusConfirmed)
	m.RecordOptimisticConflict(ctx)
	m.RecordDeadLetter(ctx, "order.created.inventory.queue")

	sums := collectSums(t, reader)

	assert.Equal(t, int64(2), valueFor(sums["saga_reservations_total"], "outcome", OutcomeReserved))
	assert.Equal(t, int64(1), valueFor(sums["saga_reservations_total"], "outcome", OutcomeFailed))
	assert.Equal(t, int64(1), valueFor(sums["saga_order_transitions_total"], "to", "CONFIRMED"))
	assert.Equal(t, int64(1), sums["saga_optimistic_conflicts_total"].DataPoints[0].Value)
	assert.Equal(t, int64(1), valueFor(sums["saga_dead_letters_total"], "queue", "order.created.inventory.queue"))
}

func TestSagaMetrics_NilIsNoop(t *testing.T) {
	var m *SagaMetrics

	assert.NotPanics(t, func() {
		m.RecordReservation(context.Background(), OutcomeReserved)
		m.RecordTransition(context.Background(), models.OrderStatusReserved)
		m.RecordOptimisticConflict(context.Background())
		m.RecordDeadLetter(context.Background(), "q")
	})
}

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(context.Background(), config.TelemetryConfig{Enabled: false}, "order-service", zap.NewNop())

	require.NoError(t, err)
	assert.NotNil(t, p.Meter("test"))
	assert.NoError(t, p.Shutdown(context.Background()))
}
