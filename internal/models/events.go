package models

import (
	"fmt"
	"time"
)

// Event contracts shared by the order and inventory services. They are the
// only information crossing the service boundary.

type EventLineItem struct {
	SKU       string `json:"sku"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price,omitempty"`
}

// OrderEvent is published on order.created and order.confirmed.
type OrderEvent struct {
	OrderNumber   string          `json:"orderNumber"`
	CorrelationID string          `json:"correlationId"`
	Timestamp     time.Time       `json:"timestamp"`
	Status        OrderStatus     `json:"status"`
	LineItems     []EventLineItem `json:"lineItems"`
}

// InventoryReservedEvent is published when every line item was reserved.
type InventoryReservedEvent struct {
	OrderNumber   string          `json:"orderNumber"`
	CorrelationID string          `json:"correlationId"`
	Timestamp     time.Time       `json:"timestamp"`
	LineItems     []EventLineItem `json:"lineItems"`
}

// InventoryReservationFailedEvent is published when at least one line item
// could not be reserved.
type InventoryReservationFailedEvent struct {
	OrderNumber    string          `json:"orderNumber"`
	CorrelationID  string          `json:"correlationId"`
	Timestamp      time.Time       `json:"timestamp"`
	Reason         string          `json:"reason"`
	AttemptedItems []EventLineItem `json:"attemptedItems"`
}

// ProductCreatedEvent is published by the catalog when a product is added.
type ProductCreatedEvent struct {
	ProductID     string    `json:"productId"`
	SKU           string    `json:"sku"`
	Name          string    `json:"name,omitempty"`
	CorrelationID string    `json:"correlationId"`
	Timestamp     time.Time `json:"timestamp"`
}

// EventLineItems converts order line items to their event form.
func EventLineItems(items []OrderLineItem) []EventLineItem {
	out := make([]EventLineItem, 0, len(items))
	for _, item := range items {
		out = append(out, EventLineItem{
			SKU:       item.SKU,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price.String(),
		})
	}
	return out
}

// NewOrderEvent snapshots an order for publication.
func NewOrderEvent(order *Order, at time.Time) OrderEvent {
	return OrderEvent{
		OrderNumber:   order.OrderNumber,
		CorrelationID: order.CorrelationID,
		Timestamp:     at.UTC(),
		Status:        order.Status,
		LineItems:     EventLineItems(order.LineItems),
	}
}

// MergeLineItems sums the quantities of line items naming the same SKU,
// keeping first-seen order. Reservations are held per order and SKU, so each
// SKU must be reserved once with its total quantity. A SKU listed under two
// products fails with ErrSKUMismatch.
func MergeLineItems(items []EventLineItem) ([]EventLineItem, error) {
	merged := make([]EventLineItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		i, ok := index[item.SKU]
		if !ok {
			index[item.SKU] = len(merged)
			merged = append(merged, item)
			continue
		}
		if merged[i].ProductID != item.ProductID {
			return nil, fmt.Errorf("sku %s listed under products %s and %s: %w",
				item.SKU, merged[i].ProductID, item.ProductID, ErrSKUMismatch)
		}
		merged[i].Quantity += item.Quantity
	}
	return merged, nil
}
