package models

import (
	"fmt"
	"time"
)

// Inventory is the per-SKU stock record owned by the inventory service.
// ReservedQuantity never exceeds Quantity.
type Inventory struct {
	ID               int64     `json:"id"`
	SKU              string    `json:"sku"`
	ProductID        string    `json:"productId"`
	Quantity         int       `json:"quantity"`
	ReservedQuantity int       `json:"reservedQuantity"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Available is the number of units not earmarked for open orders.
func (i *Inventory) Available() int {
	return i.Quantity - i.ReservedQuantity
}

// Reserve earmarks qty units without removing them from stock.
func (i *Inventory) Reserve(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if qty > i.Available() {
		return fmt.Errorf("reserve %d of %s (available %d): %w", qty, i.SKU, i.Available(), ErrInsufficientStock)
	}
	i.ReservedQuantity += qty
	return nil
}

// Release returns qty earmarked units to the available pool.
func (i *Inventory) Release(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if qty > i.ReservedQuantity {
		return fmt.Errorf("release %d of %s (reserved %d): %w", qty, i.SKU, i.ReservedQuantity, ErrInsufficientStock)
	}
	i.ReservedQuantity -= qty
	return nil
}

// Commit removes qty previously reserved units from stock.
func (i *Inventory) Commit(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if qty > i.ReservedQuantity {
		return fmt.Errorf("commit %d of %s (reserved %d): %w", qty, i.SKU, i.ReservedQuantity, ErrInsufficientStock)
	}
	i.Quantity -= qty
	i.ReservedQuantity -= qty
	return nil
}

// SetQuantity overwrites the total quantity. It refuses values that would
// leave reserved units uncovered.
func (i *Inventory) SetQuantity(qty int) error {
	if qty < 0 || qty < i.ReservedQuantity {
		return fmt.Errorf("set quantity %d of %s (reserved %d): %w", qty, i.SKU, i.ReservedQuantity, ErrInvalidQuantity)
	}
	i.Quantity = qty
	return nil
}

// InventorySnapshot is the read model returned by GET /api/inventory/{sku}.
type InventorySnapshot struct {
	SKU              string `json:"sku"`
	Quantity         int    `json:"quantity"`
	ReservedQuantity int    `json:"reservedQuantity"`
	InStock          bool   `json:"inStock"`
}

func (i *Inventory) Snapshot() InventorySnapshot {
	return InventorySnapshot{
		SKU:              i.SKU,
		Quantity:         i.Quantity,
		ReservedQuantity: i.ReservedQuantity,
		InStock:          i.Available() > 0,
	}
}

type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "RESERVED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationCommitted ReservationStatus = "COMMITTED"
)

// Reservation records stock held for one line item of one order.
type Reservation struct {
	OrderNumber string            `json:"orderNumber"`
	SKU         string            `json:"sku"`
	ProductID   string            `json:"productId"`
	Quantity    int               `json:"quantity"`
	Status      ReservationStatus `json:"status"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}
