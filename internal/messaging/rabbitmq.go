package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Publisher sends a message to an exchange with a routing key.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

type RabbitMQ struct {
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	pubMu  sync.Mutex
	logger *zap.Logger
}

func NewRabbitMQ(url string, logger *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	logger.Info("Connected to RabbitMQ")

	return &RabbitMQ{
		conn:   conn,
		pubCh:  channel,
		logger: logger,
	}, nil
}

// DeclareTopology declares exchanges, their dead-letter exchanges, every
// consumer queue with its DLQ, and the bindings between them.
func (r *RabbitMQ) DeclareTopology(t Topology) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	for _, exchange := range t.Exchanges {
		if err := declareExchange(ch, exchange); err != nil {
			return err
		}
		if err := declareExchange(ch, DeadLetterExchange(exchange)); err != nil {
			return err
		}
	}

	for _, b := range t.Bindings {
		dlx := DeadLetterExchange(b.Exchange)
		dlq := DeadLetterQueue(b.Queue)

		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, b.RoutingKey, dlx, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", dlq, err)
		}

		args := amqp.Table{"x-dead-letter-exchange": dlx}
		if _, err := ch.QueueDeclare(b.Queue, true, false, false, false, args); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", b.Queue, err)
		}
		if err := ch.QueueBind(b.Queue, b.RoutingKey, b.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", b.Queue, err)
		}

		r.logger.Info("Queue bound",
			zap.String("exchange", b.Exchange),
			zap.String("queue", b.Queue),
			zap.String("routing_key", b.RoutingKey),
		)
	}
	return nil
}

func declareExchange(ch *amqp.Channel, name string) error {
	err := ch.ExchangeDeclare(
		name,    // name
		"topic", // kind
		true,    // durable
		false,   // auto-delete
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", name, err)
	}
	return nil
}

// Publish sends a persistent message, adding trace headers, a message id and
// a timestamp when the caller left them empty.
func (r *RabbitMQ) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	msg.Headers = InjectTraceContext(ctx, msg.Headers)
	if msg.ContentType == "" {
		msg.ContentType = "application/json"
	}
	if msg.MessageId == "" {
		msg.MessageId = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.DeliveryMode = amqp.Persistent

	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	err := r.pubCh.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	r.logger.Debug("Message published",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
		zap.String("message_id", msg.MessageId),
	)
	return nil
}

// Consume opens a dedicated channel limited to prefetch unacked deliveries
// and starts a manual-ack consumer on queue. The channel closes when ctx ends.
func (r *RabbitMQ) Consume(ctx context.Context, queue string, prefetch int) (<-chan amqp.Delivery, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	messages, err := ch.Consume(
		queue, // queue name
		"",    // consumer tag
		false, // auto-ack (false = manual ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	go func() {
		<-ctx.Done()
		ch.Close()
	}()

	r.logger.Info("Listening on queue", zap.String("queue", queue), zap.Int("prefetch", prefetch))
	return messages, nil
}

// ReplayDeadLetters moves up to limit messages from the DLQ of queue back to
// the exchange and routing key they were originally published with. A non-nil
// limiter paces the republishing.
func (r *RabbitMQ) ReplayDeadLetters(ctx context.Context, queue string, limit int, limiter *rate.Limiter) (int, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return 0, fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	dlq := DeadLetterQueue(queue)
	replayed := 0
	for replayed < limit {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return replayed, err
			}
		}

		msg, ok, err := ch.Get(dlq, false)
		if err != nil {
			return replayed, fmt.Errorf("failed to get from %s: %w", dlq, err)
		}
		if !ok {
			break
		}

		exchange, routingKey, found := DeathOrigin(msg.Headers)
		if !found {
			r.logger.Warn("Dead letter without origin, leaving in place", zap.String("message_id", msg.MessageId))
			msg.Nack(false, true)
			break
		}

		headers := amqp.Table{}
		for k, v := range msg.Headers {
			if k != "x-death" {
				headers[k] = v
			}
		}
		err = r.Publish(ctx, exchange, routingKey, amqp.Publishing{
			Headers:       headers,
			ContentType:   msg.ContentType,
			CorrelationId: msg.CorrelationId,
			MessageId:     msg.MessageId,
			Timestamp:     msg.Timestamp,
			Type:          msg.Type,
			Body:          msg.Body,
		})
		if err != nil {
			msg.Nack(false, true)
			return replayed, err
		}
		msg.Ack(false)
		replayed++
	}

	r.logger.Info("Dead letters replayed", zap.String("queue", dlq), zap.Int("count", replayed))
	return replayed, nil
}

// Close closes the connection
func (r *RabbitMQ) Close() {
	if r.pubCh != nil {
		r.pubCh.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}
