// Package service holds the use cases of the order and inventory services.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/logger"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/outbox"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/telemetry"
	"go.uber.org/zap"
)

// InventoryStore is implemented by db.InventoryRepository and its cached
// decorator.
type InventoryStore interface {
	GetBySKU(ctx context.Context, sku string) (*models.Inventory, error)
	CreateIfMissing(ctx context.Context, productID, sku string) (*models.Inventory, bool, error)
	Reserve(ctx context.Context, productID string, qty int) (*models.Inventory, error)
	Release(ctx context.Context, productID string, qty int) (*models.Inventory, error)
	Commit(ctx context.Context, productID string, qty int) (*models.Inventory, error)
	SetQuantity(ctx context.Context, productID string, qty int) (*models.Inventory, error)
	ReserveForOrder(ctx context.Context, orderNumber string, item models.EventLineItem) (*models.Inventory, bool, error)
	ReleaseForOrder(ctx context.Context, orderNumber string, events ...outbox.Message) ([]models.Reservation, error)
	CommitForOrder(ctx context.Context, orderNumber, sku string) (*models.Inventory, bool, error)
}

// OutboxWriter stores events for the relay.
type OutboxWriter interface {
	Enqueue(ctx context.Context, messages ...outbox.Message) error
}

type InventoryService struct {
	store      InventoryStore
	outbox     OutboxWriter
	compensate bool
	metrics    *telemetry.SagaMetrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewInventoryService builds the ledger service. When compensate is set, a
// partially reserved order has its reservations released before the failure
// event is emitted.
func NewInventoryService(store InventoryStore, out OutboxWriter, compensate bool, metrics *telemetry.SagaMetrics, logger *zap.Logger) *InventoryService {
	return &InventoryService{
		store:      store,
		outbox:     out,
		compensate: compensate,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *InventoryService) log(ctx context.Context) *zap.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

func (s *InventoryService) Snapshot(ctx context.Context, sku string) (models.InventorySnapshot, error) {
	inv, err := s.store.GetBySKU(ctx, sku)
	if err != nil {
		return models.InventorySnapshot{}, err
	}
	return inv.Snapshot(), nil
}

func (s *InventoryService) CreateIfMissing(ctx context.Context, productID, sku string) (*models.Inventory, bool, error) {
	if productID == "" || sku == "" {
		return nil, false, fmt.Errorf("productId and sku are required: %w", models.ErrInvalidQuantity)
	}
	inv, created, err := s.store.CreateIfMissing(ctx, productID, sku)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log(ctx).Info("Inventory created", zap.String("product_id", productID), zap.String("sku", sku))
	}
	return inv, created, nil
}

func (s *InventoryService) Reserve(ctx context.Context, productID string, qty int) (*models.Inventory, error) {
	return s.apply(ctx, "reserve", productID, qty, s.store.Reserve)
}

func (s *InventoryService) Release(ctx context.Context, productID string, qty int) (*models.Inventory, error) {
	return s.apply(ctx, "release", productID, qty, s.store.Release)
}

func (s *InventoryService) Commit(ctx context.Context, productID string, qty int) (*models.Inventory, error) {
	return s.apply(ctx, "commit", productID, qty, s.store.Commit)
}

func (s *InventoryService) SetQuantity(ctx context.Context, productID string, qty int) (*models.Inventory, error) {
	return s.apply(ctx, "set_quantity", productID, qty, s.store.SetQuantity)
}

func (s *InventoryService) apply(ctx context.Context, op, productID string, qty int,
	fn func(context.Context, string, int) (*models.Inventory, error)) (*models.Inventory, error) {
	inv, err := fn(ctx, productID, qty)
	if err != nil {
		s.log(ctx).Info("Inventory operation rejected",
			zap.String("op", op),
			zap.String("product_id", productID),
			zap.Int("quantity", qty),
			zap.Error(err),
		)
		return nil, err
	}
	s.log(ctx).Info("Inventory updated",
		zap.String("op", op),
		zap.String("product_id", productID),
		zap.String("sku", inv.SKU),
		zap.Int("quantity", inv.Quantity),
		zap.Int("reserved_quantity", inv.ReservedQuantity),
	)
	return inv, nil
}

// HandleProductCreated creates the empty inventory row for a new product.
func (s *InventoryService) HandleProductCreated(ctx context.Context, evt models.ProductCreatedEvent) error {
	if evt.ProductID == "" || evt.SKU == "" {
		return fmt.Errorf("product.created without productId or sku: %w", models.ErrMalformedEvent)
	}
	_, _, err := s.CreateIfMissing(ctx, evt.ProductID, evt.SKU)
	return err
}

// isReservationRefusal reports whether err is a business outcome that turns
// into a failure event rather than a redelivery.
func isReservationRefusal(err error) bool {
	return errors.Is(err, models.ErrInsufficientStock) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrInvalidQuantity) ||
		errors.Is(err, models.ErrReservationReleased) ||
		errors.Is(err, models.ErrSKUMismatch)
}

// HandleOrderCreated reserves every line item of the order and enqueues the
// outcome event. Line items of the same SKU are reserved as one. Any refused
// line item fails the whole order. Infrastructure errors are returned so the
// delivery is retried; already reserved items are skipped on retry.
func (s *InventoryService) HandleOrderCreated(ctx context.Context, evt models.OrderEvent) error {
	if evt.OrderNumber == "" {
		return fmt.Errorf("order.created without orderNumber: %w", models.ErrMalformedEvent)
	}
	log := s.log(ctx).With(zap.String("order_number", evt.OrderNumber))

	var reason string
	reserved := 0
	items, err := models.MergeLineItems(evt.LineItems)
	switch {
	case err != nil:
		reason = err.Error()
	case len(items) == 0:
		reason = "order has no line items"
	}
	for _, item := range items {
		_, applied, err := s.store.ReserveForOrder(ctx, evt.OrderNumber, item)
		if err != nil {
			if !isReservationRefusal(err) {
				return fmt.Errorf("reserve %s for order %s: %w", item.SKU, evt.OrderNumber, err)
			}
			reason = fmt.Sprintf("sku %s: %v", item.SKU, err)
			log.Info("Line item reservation refused", zap.String("sku", item.SKU), zap.Int("quantity", item.Quantity), zap.Error(err))
			break
		}
		reserved++
		if !applied {
			log.Debug("Line item already reserved", zap.String("sku", item.SKU))
		}
	}

	if reason == "" {
		return s.emitReserved(ctx, evt)
	}
	return s.emitFailed(ctx, evt, reason, reserved)
}

func (s *InventoryService) emitReserved(ctx context.Context, evt models.OrderEvent) error {
	msg, err := outbox.NewMessage(ctx,
		messaging.OrderExchange,
		messaging.RoutingInventoryReserved,
		outbox.DedupeKey(messaging.RoutingInventoryReserved, evt.OrderNumber),
		evt.CorrelationID,
		models.InventoryReservedEvent{
			OrderNumber:   evt.OrderNumber,
			CorrelationID: evt.CorrelationID,
			Timestamp:     s.now().UTC(),
			LineItems:     evt.LineItems,
		},
	)
	if err != nil {
		return err
	}
	if err := s.outbox.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("failed to enqueue reservation outcome: %w", err)
	}

	s.metrics.RecordReservation(ctx, telemetry.OutcomeReserved)
	s.log(ctx).Info("Order reserved",
		zap.String("order_number", evt.OrderNumber),
		zap.Int("line_items", len(evt.LineItems)),
	)
	return nil
}

func (s *InventoryService) emitFailed(ctx context.Context, evt models.OrderEvent, reason string, reserved int) error {
	msg, err := outbox.NewMessage(ctx,
		messaging.OrderExchange,
		messaging.RoutingReservationFailed,
		outbox.DedupeKey(messaging.RoutingReservationFailed, evt.OrderNumber),
		evt.CorrelationID,
		models.InventoryReservationFailedEvent{
			OrderNumber:    evt.OrderNumber,
			CorrelationID:  evt.CorrelationID,
			Timestamp:      s.now().UTC(),
			Reason:         reason,
			AttemptedItems: evt.LineItems,
		},
	)
	if err != nil {
		return err
	}

	log := s.log(ctx).With(zap.String("order_number", evt.OrderNumber), zap.String("reason", reason))

	if s.compensate {
		released, err := s.store.ReleaseForOrder(ctx, evt.OrderNumber, msg)
		if err != nil {
			return fmt.Errorf("failed to release reservations of order %s: %w", evt.OrderNumber, err)
		}
		if len(released) > 0 {
			s.metrics.RecordReservation(ctx, telemetry.OutcomeCompensated)
			log.Info("Partial reservation released", zap.Int("released_items", len(released)))
		}
	} else {
		if err := s.outbox.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("failed to enqueue reservation outcome: %w", err)
		}
		if reserved > 0 {
			log.Warn("Partial reservation left in place", zap.Int("reserved_items", reserved))
		}
	}

	s.metrics.RecordReservation(ctx, telemetry.OutcomeFailed)
	log.Info("Order reservation failed")
	return nil
}

// HandleOrderConfirmed commits the reserved stock of a confirmed order.
// Refused commits are logged and skipped. Infrastructure errors are returned
// after every line item was attempted; committed items are no-ops on retry.
func (s *InventoryService) HandleOrderConfirmed(ctx context.Context, evt models.OrderEvent) error {
	if evt.OrderNumber == "" {
		return fmt.Errorf("order.confirmed without orderNumber: %w", models.ErrMalformedEvent)
	}
	log := s.log(ctx).With(zap.String("order_number", evt.OrderNumber))

	items, err := models.MergeLineItems(evt.LineItems)
	if err != nil {
		log.Warn("Order commit refused", zap.Error(err))
		return nil
	}

	var errs []error
	for _, item := range items {
		inv, applied, err := s.store.CommitForOrder(ctx, evt.OrderNumber, item.SKU)
		switch {
		case err == nil && applied:
			log.Info("Line item committed",
				zap.String("sku", item.SKU),
				zap.Int("quantity", inv.Quantity),
				zap.Int("reserved_quantity", inv.ReservedQuantity),
			)
		case err == nil:
			log.Debug("Line item already committed", zap.String("sku", item.SKU))
		case isReservationRefusal(err):
			log.Warn("Line item commit refused", zap.String("sku", item.SKU), zap.Error(err))
		default:
			log.Error("Line item commit failed", zap.String("sku", item.SKU), zap.Error(err))
			errs = append(errs, fmt.Errorf("commit %s for order %s: %w", item.SKU, evt.OrderNumber, err))
		}
	}
	return errors.Join(errs...)
}
