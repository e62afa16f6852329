package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// API is the REST surface the scenario drives; client.SagaClient implements it.
type API interface {
	GetInventory(ctx context.Context, sku string) (*models.InventorySnapshot, error)
	SetQuantity(ctx context.Context, productID string, qty int) (*models.Inventory, error)
	CreateOrder(ctx context.Context, req models.CreateOrderRequest, correlationID string) (*models.Order, error)
	ConfirmOrder(ctx context.Context, orderNumber string) (*models.Order, error)
	WaitForStatus(ctx context.Context, orderNumber string, interval time.Duration, statuses ...models.OrderStatus) (*models.Order, error)
}

// PublishFunc announces a new product the way the catalog does.
type PublishFunc func(ctx context.Context, evt models.ProductCreatedEvent) error

type Scenario struct {
	api     API
	publish PublishFunc
	poll    time.Duration
	logger  *zap.Logger
}

type Result struct {
	OrderNumber string
	Order       *models.Order
	Inventory   *models.InventorySnapshot
}

// Run seeds stock for one product, orders qty units, confirms the order and
// waits for the inventory to settle at stock-qty with nothing reserved.
func (s *Scenario) Run(ctx context.Context, productID, sku string, stock, qty int, price decimal.Decimal) (*Result, error) {
	correlationID := uuid.NewString()
	log := s.logger.With(zap.String("correlation_id", correlationID), zap.String("sku", sku))

	err := s.publish(ctx, models.ProductCreatedEvent{
		ProductID:     productID,
		SKU:           sku,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to publish product.created: %w", err)
	}
	log.Info("Product announced", zap.String("product_id", productID))

	if _, err := s.waitInventory(ctx, sku, func(*models.InventorySnapshot) bool { return true }); err != nil {
		return nil, err
	}
	if _, err := s.api.SetQuantity(ctx, productID, stock); err != nil {
		return nil, fmt.Errorf("failed to set quantity: %w", err)
	}
	log.Info("Stock set", zap.Int("quantity", stock))

	order, err := s.api.CreateOrder(ctx, models.CreateOrderRequest{
		OrderLineItemsDtoList: []models.CreateOrderLineItemRequest{
			{SKU: sku, Price: price, Quantity: qty, ProductID: productID},
		},
	}, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	log = log.With(zap.String("order_number", order.OrderNumber))
	log.Info("Order placed", zap.Int("quantity", qty))

	order, err = s.api.WaitForStatus(ctx, order.OrderNumber, s.poll, models.OrderStatusReserved, models.OrderStatusReservationFailed)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusReservationFailed {
		return &Result{OrderNumber: order.OrderNumber, Order: order}, fmt.Errorf("reservation failed: %s", order.FailureReason)
	}
	log.Info("Order reserved", zap.Int64("version", order.Version))

	order, err = s.api.ConfirmOrder(ctx, order.OrderNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm order: %w", err)
	}
	log.Info("Order confirmed", zap.String("status", order.Status.String()))

	want := stock - qty
	snapshot, err := s.waitInventory(ctx, sku, func(snap *models.InventorySnapshot) bool {
		return snap.Quantity == want && snap.ReservedQuantity == 0
	})
	if err != nil {
		return nil, err
	}
	log.Info("Inventory settled", zap.Int("quantity", snapshot.Quantity), zap.Int("reserved", snapshot.ReservedQuantity))

	return &Result{OrderNumber: order.OrderNumber, Order: order, Inventory: snapshot}, nil
}

// waitInventory polls the snapshot until done accepts it. A missing record is
// retried since product.created is applied asynchronously.
func (s *Scenario) waitInventory(ctx context.Context, sku string, done func(*models.InventorySnapshot) bool) (*models.InventorySnapshot, error) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	var last *models.InventorySnapshot
	for {
		snap, err := s.api.GetInventory(ctx, sku)
		switch {
		case err == nil:
			last = snap
			if done(snap) {
				return snap, nil
			}
		case !errors.Is(err, models.ErrNotFound):
			return nil, fmt.Errorf("failed to read inventory %s: %w", sku, err)
		}

		select {
		case <-ctx.Done():
			if last != nil {
				return last, fmt.Errorf("inventory %s stuck at %d/%d: %w", sku, last.Quantity, last.ReservedQuantity, ctx.Err())
			}
			return nil, fmt.Errorf("inventory %s never appeared: %w", sku, ctx.Err())
		case <-ticker.C:
		}
	}
}
