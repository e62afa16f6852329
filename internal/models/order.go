package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the closed set of states an order moves through.
type OrderStatus string

const (
	OrderStatusCreated           OrderStatus = "CREATED"
	OrderStatusPartiallyReserved OrderStatus = "PARTIALLY_RESERVED"
	OrderStatusReserved          OrderStatus = "RESERVED"
	OrderStatusReservationFailed OrderStatus = "RESERVATION_FAILED"
	OrderStatusCommitted         OrderStatus = "COMMITTED"
	OrderStatusConfirmed         OrderStatus = "CONFIRMED"
	OrderStatusCancelled         OrderStatus = "CANCELLED"
	OrderStatusShipped           OrderStatus = "SHIPPED"
	OrderStatusCompleted         OrderStatus = "COMPLETED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:           {OrderStatusReserved, OrderStatusReservationFailed, OrderStatusPartiallyReserved},
	OrderStatusPartiallyReserved: {OrderStatusReserved, OrderStatusReservationFailed},
	OrderStatusReserved:          {OrderStatusCommitted, OrderStatusCancelled},
	OrderStatusCommitted:         {OrderStatusConfirmed},
	OrderStatusConfirmed:         {OrderStatusShipped, OrderStatusCompleted},
}

// AllOrderStatuses lists every state in declaration order.
func AllOrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusCreated, OrderStatusPartiallyReserved, OrderStatusReserved,
		OrderStatusReservationFailed, OrderStatusCommitted, OrderStatusConfirmed,
		OrderStatusCancelled, OrderStatusShipped, OrderStatusCompleted,
	}
}

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusPartiallyReserved, OrderStatusReserved,
		OrderStatusReservationFailed, OrderStatusCommitted, OrderStatusConfirmed,
		OrderStatusCancelled, OrderStatusShipped, OrderStatusCompleted:
		return true
	}
	return false
}

func (s OrderStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no transition leaves s.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusCompleted
}

// CanTransitionTo reports whether s -> target appears in the transition table.
// Self-transitions are not listed and are rejected.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsReservedOrBeyond reports whether stock has already been secured for the order.
func (s OrderStatus) IsReservedOrBeyond() bool {
	switch s {
	case OrderStatusReserved, OrderStatusCommitted, OrderStatusConfirmed,
		OrderStatusShipped, OrderStatusCompleted:
		return true
	}
	return false
}

type OrderLineItem struct {
	ID        int64           `json:"id,omitempty"`
	SKU       string          `json:"sku"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	ProductID string          `json:"productId"`
}

// Order is the aggregate owned by the order service. Version increases by one
// on every persisted status change.
type Order struct {
	ID            int64           `json:"id"`
	OrderNumber   string          `json:"orderNumber"`
	Status        OrderStatus     `json:"status"`
	Version       int64           `json:"version"`
	CorrelationID string          `json:"correlationId"`
	FailureReason string          `json:"reason,omitempty"`
	LineItems     []OrderLineItem `json:"orderLineItemsList"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// TransitionTo moves the order to target. The order is left untouched when
// the transition is not allowed.
func (o *Order) TransitionTo(target OrderStatus) error {
	if !o.Status.CanTransitionTo(target) {
		return fmt.Errorf("order %s: %s -> %s: %w", o.OrderNumber, o.Status, target, ErrInvalidTransition)
	}
	o.Status = target
	return nil
}

// Confirm runs RESERVED -> COMMITTED -> CONFIRMED as one step.
func (o *Order) Confirm() error {
	if !o.Status.CanTransitionTo(OrderStatusCommitted) || !OrderStatusCommitted.CanTransitionTo(OrderStatusConfirmed) {
		return fmt.Errorf("order %s: cannot confirm from %s: %w", o.OrderNumber, o.Status, ErrInvalidTransition)
	}
	o.Status = OrderStatusCommitted
	return o.TransitionTo(OrderStatusConfirmed)
}

// Total is the sum of price * quantity over all line items.
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.LineItems {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

type CreateOrderRequest struct {
	OrderLineItemsDtoList []CreateOrderLineItemRequest `json:"orderLineItemsDtoList" binding:"required,min=1,dive"`
}

type CreateOrderLineItemRequest struct {
	SKU       string          `json:"sku" binding:"required,sku"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity" binding:"required,gt=0"`
	ProductID string          `json:"productId" binding:"required"`
}
