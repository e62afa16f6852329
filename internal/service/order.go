package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/logger"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/outbox"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/retry"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/telemetry"
	"go.uber.org/zap"
)

// OrderStore is implemented by db.OrderRepository.
type OrderStore interface {
	Create(ctx context.Context, order *models.Order, events ...outbox.Message) error
	GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	List(ctx context.Context, limit int) ([]models.Order, error)
	SaveStatus(ctx context.Context, order *models.Order, expectedVersion int64, events ...outbox.Message) error
}

type OrderService struct {
	store   OrderStore
	policy  retry.Policy
	metrics *telemetry.SagaMetrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewOrderService(store OrderStore, policy retry.Policy, metrics *telemetry.SagaMetrics, logger *zap.Logger) *OrderService {
	s := &OrderService{
		store:   store,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
	policy.OnRetry = func(attempt int, err error) {
		metrics.RecordOptimisticConflict(context.Background())
		logger.Debug("Optimistic conflict, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	s.policy = policy
	return s
}

func (s *OrderService) log(ctx context.Context) *zap.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

// PlaceOrder persists a CREATED order and its order.created event together.
func (s *OrderService) PlaceOrder(ctx context.Context, req models.CreateOrderRequest, correlationID string) (*models.Order, error) {
	if len(req.OrderLineItemsDtoList) == 0 {
		return nil, fmt.Errorf("order needs at least one line item: %w", models.ErrInvalidQuantity)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	order := &models.Order{
		OrderNumber:   uuid.NewString(),
		Status:        models.OrderStatusCreated,
		CorrelationID: correlationID,
	}
	for _, item := range req.OrderLineItemsDtoList {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("line item %s: %w", item.SKU, models.ErrInvalidQuantity)
		}
		order.LineItems = append(order.LineItems, models.OrderLineItem{
			SKU:       item.SKU,
			Price:     item.Price,
			Quantity:  item.Quantity,
			ProductID: item.ProductID,
		})
	}

	msg, err := s.orderEvent(ctx, order, messaging.RoutingOrderCreated)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, order, msg); err != nil {
		return nil, err
	}

	s.metrics.RecordTransition(ctx, order.Status)
	s.log(ctx).Info("Order placed",
		zap.String("order_number", order.OrderNumber),
		zap.String("correlation_id", order.CorrelationID),
		zap.Int("line_items", len(order.LineItems)),
		zap.String("total", order.Total().StringFixed(2)),
	)
	return order, nil
}

func (s *OrderService) Get(ctx context.Context, orderNumber string) (*models.Order, error) {
	return s.store.GetByOrderNumber(ctx, orderNumber)
}

func (s *OrderService) List(ctx context.Context, limit int) ([]models.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.store.List(ctx, limit)
}

// Confirm moves a RESERVED order through COMMITTED to CONFIRMED and emits
// order.confirmed. Lost races are retried per the service policy; an order in
// any other status fails with models.ErrInvalidTransition and is not written.
func (s *OrderService) Confirm(ctx context.Context, orderNumber string) (*models.Order, error) {
	order, err := retry.Do(ctx, s.policy, func(ctx context.Context) (*models.Order, error) {
		order, err := s.store.GetByOrderNumber(ctx, orderNumber)
		if err != nil {
			return nil, err
		}

		expected := order.Version
		if err := order.Confirm(); err != nil {
			return nil, err
		}

		msg, err := s.orderEvent(ctx, order, messaging.RoutingOrderConfirmed)
		if err != nil {
			return nil, err
		}
		if err := s.store.SaveStatus(ctx, order, expected, msg); err != nil {
			return nil, err
		}
		return order, nil
	})
	if err != nil {
		s.log(ctx).Info("Order confirmation rejected", zap.String("order_number", orderNumber), zap.Error(err))
		return nil, err
	}

	s.metrics.RecordTransition(ctx, models.OrderStatusCommitted)
	s.metrics.RecordTransition(ctx, models.OrderStatusConfirmed)
	s.log(ctx).Info("Order confirmed",
		zap.String("order_number", order.OrderNumber),
		zap.String("correlation_id", order.CorrelationID),
		zap.Int64("version", order.Version),
	)
	return order, nil
}

func (s *OrderService) orderEvent(ctx context.Context, order *models.Order, routingKey string) (outbox.Message, error) {
	return outbox.NewMessage(ctx,
		messaging.OrderExchange,
		routingKey,
		outbox.DedupeKey(routingKey, order.OrderNumber),
		order.CorrelationID,
		models.NewOrderEvent(order, s.now()),
	)
}

// ApplyReserved moves a CREATED order to RESERVED. Unknown orders, orders
// already reserved or beyond, and orders in any other status are logged and
// left alone.
func (s *OrderService) ApplyReserved(ctx context.Context, evt models.InventoryReservedEvent) error {
	if evt.OrderNumber == "" {
		return fmt.Errorf("reservation outcome without orderNumber: %w", models.ErrMalformedEvent)
	}
	return s.applyOutcome(ctx, evt.OrderNumber, func(order *models.Order, log *zap.Logger) bool {
		switch {
		case order.Status.IsReservedOrBeyond():
			log.Debug("Order already reserved, ignoring duplicate outcome")
			return false
		case order.Status != models.OrderStatusCreated:
			log.Warn("Unexpected reservation outcome for order status")
			return false
		}
		return true
	}, models.OrderStatusReserved, "")
}

// ApplyReservationFailed moves a CREATED or PARTIALLY_RESERVED order to
// RESERVATION_FAILED and records the reason.
func (s *OrderService) ApplyReservationFailed(ctx context.Context, evt models.InventoryReservationFailedEvent) error {
	if evt.OrderNumber == "" {
		return fmt.Errorf("reservation outcome without orderNumber: %w", models.ErrMalformedEvent)
	}
	return s.applyOutcome(ctx, evt.OrderNumber, func(order *models.Order, log *zap.Logger) bool {
		switch order.Status {
		case models.OrderStatusReservationFailed:
			log.Debug("Order already failed, ignoring duplicate outcome")
			return false
		case models.OrderStatusCreated, models.OrderStatusPartiallyReserved:
			return true
		}
		log.Warn("Unexpected reservation failure for order status")
		return false
	}, models.OrderStatusReservationFailed, evt.Reason)
}

// applyOutcome loads the order, asks guard whether the outcome applies and
// persists the transition under the retry policy.
func (s *OrderService) applyOutcome(ctx context.Context, orderNumber string,
	guard func(*models.Order, *zap.Logger) bool, target models.OrderStatus, reason string) error {
	applied := false
	err := retry.Run(ctx, s.policy, func(ctx context.Context) error {
		applied = false
		order, err := s.store.GetByOrderNumber(ctx, orderNumber)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				s.log(ctx).Warn("Reservation outcome for unknown order", zap.String("order_number", orderNumber))
				return nil
			}
			return err
		}

		log := s.log(ctx).With(
			zap.String("order_number", orderNumber),
			zap.String("status", order.Status.String()),
			zap.String("target", target.String()),
		)
		if !guard(order, log) {
			return nil
		}

		expected := order.Version
		if err := order.TransitionTo(target); err != nil {
			return err
		}
		order.FailureReason = reason
		if err := s.store.SaveStatus(ctx, order, expected); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return err
	}

	if applied {
		s.metrics.RecordTransition(ctx, target)
		s.log(ctx).Info("Order status updated",
			zap.String("order_number", orderNumber),
			zap.String("status", target.String()),
			zap.String("reason", reason),
		)
	}
	return nil
}
