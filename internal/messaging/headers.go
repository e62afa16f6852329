package messaging

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
)

// HeaderCarrier adapts AMQP headers to the OpenTelemetry TextMapCarrier.
type HeaderCarrier amqp.Table

func (c HeaderCarrier) Get(key string) string {
	v, ok := c[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

func (c HeaderCarrier) Set(key, value string) {
	c[key] = value
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// InjectTraceContext writes the span context of ctx into headers.
func InjectTraceContext(ctx context.Context, headers amqp.Table) amqp.Table {
	if headers == nil {
		headers = amqp.Table{}
	}
	otel.GetTextMapPropagator().Inject(ctx, HeaderCarrier(headers))
	return headers
}

// ExtractTraceContext returns ctx joined to the trace carried in headers.
func ExtractTraceContext(ctx context.Context, headers amqp.Table) context.Context {
	if headers == nil {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, HeaderCarrier(headers))
}

// DeathOrigin returns the exchange and routing key a dead-lettered message
// was first published with, read from the x-death header.
func DeathOrigin(headers amqp.Table) (exchange, routingKey string, ok bool) {
	deaths, isSlice := headers["x-death"].([]interface{})
	if !isSlice || len(deaths) == 0 {
		return "", "", false
	}
	first, isTable := deaths[0].(amqp.Table)
	if !isTable {
		return "", "", false
	}
	exchange, _ = first["exchange"].(string)
	keys, _ := first["routing-keys"].([]interface{})
	if exchange == "" || len(keys) == 0 {
		return "", "", false
	}
	routingKey, _ = keys[0].(string)
	return exchange, routingKey, routingKey != ""
}
