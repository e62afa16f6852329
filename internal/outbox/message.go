// Package outbox moves events written alongside state changes onto the broker.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Message is an event waiting in an outbox table. DedupeKey is unique per
// table and doubles as the AMQP message id.
type Message struct {
	ID            int64
	DedupeKey     string
	Exchange      string
	RoutingKey    string
	CorrelationID string
	Payload       []byte
	Headers       map[string]string
	CreatedAt     time.Time
}

// NewMessage marshals payload and captures the trace context of ctx.
func NewMessage(ctx context.Context, exchange, routingKey, dedupeKey, correlationID string, payload any) (Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s payload: %w", routingKey, err)
	}

	headers := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, headers)

	return Message{
		DedupeKey:     dedupeKey,
		Exchange:      exchange,
		RoutingKey:    routingKey,
		CorrelationID: correlationID,
		Payload:       body,
		Headers:       headers,
	}, nil
}

// DedupeKey builds the key identifying one event kind for one order.
func DedupeKey(routingKey, orderNumber string) string {
	return routingKey + ":" + orderNumber
}
