package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/outbox"
)

// memoryInventory mimics db.InventoryRepository, including the reservation
// ledger. failOn makes ReserveForOrder/CommitForOrder return an error for a
// product id.
type memoryInventory struct {
	mu           sync.Mutex
	rows         map[string]*models.Inventory // by product id
	reservations map[string]*models.Reservation
	failOn       map[string]error
	events       []outbox.Message
}

func newMemoryInventory() *memoryInventory {
	return &memoryInventory{
		rows:         make(map[string]*models.Inventory),
		reservations: make(map[string]*models.Reservation),
		failOn:       make(map[string]error),
	}
}

func reservationKey(orderNumber, sku string) string {
	return orderNumber + "/" + sku
}

func (m *memoryInventory) seed(productID, sku string, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[productID] = &models.Inventory{ID: int64(len(m.rows) + 1), SKU: sku, ProductID: productID, Quantity: qty}
}

func (m *memoryInventory) get(productID string) models.Inventory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[productID]
}

func (m *memoryInventory) GetBySKU(_ context.Context, sku string) (*models.Inventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.rows {
		if inv.SKU == sku {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("sku %s: %w", sku, models.ErrNotFound)
}

func (m *memoryInventory) CreateIfMissing(_ context.Context, productID, sku string) (*models.Inventory, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv, ok := m.rows[productID]; ok {
		cp := *inv
		return &cp, false, nil
	}
	inv := &models.Inventory{ID: int64(len(m.rows) + 1), SKU: sku, ProductID: productID}
	m.rows[productID] = inv
	cp := *inv
	return &cp, true, nil
}

func (m *memoryInventory) mutate(productID string, fn func(*models.Inventory) error) (*models.Inventory, error) {
	inv, ok := m.rows[productID]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", productID, models.ErrNotFound)
	}
	work := *inv
	if err := fn(&work); err != nil {
		return nil, err
	}
	*inv = work
	return &work, nil
}

func (m *memoryInventory) Reserve(_ context.Context, productID string, qty int) (*models.Inventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutate(productID, func(inv *models.Inventory) error { return inv.Reserve(qty) })
}

func (m *memoryInventory) Release(_ context.Context, productID string, qty int) (*models.Inventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutate(productID, func(inv *models.Inventory) error { return inv.Release(qty) })
}

func (m *memoryInventory) Commit(_ context.Context, productID string, qty int) (*models.Inventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutate(productID, func(inv *models.Inventory) error { return inv.Commit(qty) })
}

func (m *memoryInventory) SetQuantity(_ context.Context, productID string, qty int) (*models.Inventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutate(productID, func(inv *models.Inventory) error { return inv.SetQuantity(qty) })
}

func (m *memoryInventory) ReserveForOrder(_ context.Context, orderNumber string, item models.EventLineItem) (*models.Inventory, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failOn[item.ProductID]; err != nil {
		return nil, false, err
	}
	if res, ok := m.reservations[reservationKey(orderNumber, item.SKU)]; ok {
		if res.Status == models.ReservationReleased {
			return nil, false, models.ErrReservationReleased
		}
		return nil, false, nil
	}
	inv, err := m.mutate(item.ProductID, func(inv *models.Inventory) error {
		if inv.SKU != item.SKU {
			return models.ErrSKUMismatch
		}
		return inv.Reserve(item.Quantity)
	})
	if err != nil {
		return nil, false, err
	}
	m.reservations[reservationKey(orderNumber, item.SKU)] = &models.Reservation{
		OrderNumber: orderNumber,
		SKU:         item.SKU,
		ProductID:   item.ProductID,
		Quantity:    item.Quantity,
		Status:      models.ReservationReserved,
	}
	return inv, true, nil
}

func (m *memoryInventory) ReleaseForOrder(_ context.Context, orderNumber string, events ...outbox.Message) ([]models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var released []models.Reservation
	for _, res := range m.reservations {
		if res.OrderNumber != orderNumber || res.Status != models.ReservationReserved {
			continue
		}
		if _, err := m.mutate(res.ProductID, func(inv *models.Inventory) error { return inv.Release(res.Quantity) }); err != nil {
			return nil, err
		}
		res.Status = models.ReservationReleased
		released = append(released, *res)
	}
	sort.Slice(released, func(i, j int) bool { return released[i].SKU < released[j].SKU })
	m.events = appendUnique(m.events, events...)
	return released, nil
}

func (m *memoryInventory) CommitForOrder(_ context.Context, orderNumber, sku string) (*models.Inventory, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.reservations[reservationKey(orderNumber, sku)]
	if !ok {
		return nil, false, models.ErrNotFound
	}
	if err := m.failOn[res.ProductID]; err != nil {
		return nil, false, err
	}
	switch res.Status {
	case models.ReservationCommitted:
		return nil, false, nil
	case models.ReservationReleased:
		return nil, false, models.ErrReservationReleased
	}
	inv, err := m.mutate(res.ProductID, func(inv *models.Inventory) error { return inv.Commit(res.Quantity) })
	if err != nil {
		return nil, false, err
	}
	res.Status = models.ReservationCommitted
	return inv, true, nil
}

// memoryOutbox drops messages whose dedupe key was seen before, like the
// unique index on outbox_events.
type memoryOutbox struct {
	mu       sync.Mutex
	messages []outbox.Message
}

func (o *memoryOutbox) Enqueue(_ context.Context, messages ...outbox.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = appendUnique(o.messages, messages...)
	return nil
}

func (o *memoryOutbox) all() []outbox.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]outbox.Message(nil), o.messages...)
}

func appendUnique(dst []outbox.Message, messages ...outbox.Message) []outbox.Message {
	for _, m := range messages {
		dup := false
		for _, existing := range dst {
			if existing.DedupeKey == m.DedupeKey {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, m)
		}
	}
	return dst
}

// memoryOrders enforces the version check of db.OrderRepository. beforeSave
// runs with the lock held, before the version comparison.
type memoryOrders struct {
	mu         sync.Mutex
	orders     map[string]models.Order
	events     []outbox.Message
	saves      int
	beforeSave func(stored *models.Order)
	getErr     error
}

func newMemoryOrders() *memoryOrders {
	return &memoryOrders{orders: make(map[string]models.Order)}
}

func copyOrder(o models.Order) *models.Order {
	o.LineItems = append([]models.OrderLineItem(nil), o.LineItems...)
	return &o
}

func (s *memoryOrders) put(order models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.OrderNumber] = order
}

func (s *memoryOrders) stored(orderNumber string) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[orderNumber]
}

func (s *memoryOrders) Create(_ context.Context, order *models.Order, events ...outbox.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order.ID = int64(len(s.orders) + 1)
	s.orders[order.OrderNumber] = *copyOrder(*order)
	s.events = appendUnique(s.events, events...)
	return nil
}

func (s *memoryOrders) GetByOrderNumber(_ context.Context, orderNumber string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	o, ok := s.orders[orderNumber]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderNumber, models.ErrNotFound)
	}
	return copyOrder(o), nil
}

func (s *memoryOrders) List(_ context.Context, limit int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if len(out) == limit {
			break
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *memoryOrders) SaveStatus(_ context.Context, order *models.Order, expectedVersion int64, events ...outbox.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[order.OrderNumber]
	if !ok {
		return models.ErrOptimisticConflict
	}
	if s.beforeSave != nil {
		s.beforeSave(&stored)
		s.orders[order.OrderNumber] = stored
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("order %s at version %d: %w", order.OrderNumber, expectedVersion, models.ErrOptimisticConflict)
	}
	s.saves++
	order.Version = expectedVersion + 1
	s.orders[order.OrderNumber] = *copyOrder(*order)
	s.events = appendUnique(s.events, events...)
	return nil
}
