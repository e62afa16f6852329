package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/outbox"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(database *PostgresDB) *OrderRepository {
	return &OrderRepository{db: database.Conn}
}

// Create inserts the order, its line items and any outbox events atomically.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order, events ...outbox.Message) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		orderQuery := `
			INSERT INTO orders (order_number, status, version, correlation_id, failure_reason)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at, updated_at
		`
		err := tx.QueryRowContext(ctx, orderQuery,
			order.OrderNumber, order.Status, order.Version, order.CorrelationID, order.FailureReason,
		).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		itemQuery := `
			INSERT INTO order_line_items (order_id, sku, price, quantity, product_id)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`
		for i := range order.LineItems {
			item := &order.LineItems[i]
			err = tx.QueryRowContext(ctx, itemQuery,
				order.ID, item.SKU, item.Price, item.Quantity, item.ProductID,
			).Scan(&item.ID)
			if err != nil {
				return fmt.Errorf("failed to insert order line item: %w", err)
			}
		}

		return insertOutbox(ctx, tx, events)
	})
}

// GetByOrderNumber returns the order with its line items or
// models.ErrNotFound.
func (r *OrderRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	orderQuery := `
		SELECT id, order_number, status, version, correlation_id, failure_reason, created_at, updated_at
		FROM orders
		WHERE order_number = $1
	`
	var order models.Order
	err := r.db.QueryRowContext(ctx, orderQuery, orderNumber).Scan(
		&order.ID, &order.OrderNumber, &order.Status, &order.Version,
		&order.CorrelationID, &order.FailureReason, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", orderNumber, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	itemsQuery := `SELECT id, sku, price, quantity, product_id FROM order_line_items WHERE order_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, itemsQuery, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderLineItem
		if err := rows.Scan(&item.ID, &item.SKU, &item.Price, &item.Quantity, &item.ProductID); err != nil {
			return nil, fmt.Errorf("failed to scan order line item: %w", err)
		}
		order.LineItems = append(order.LineItems, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order line items: %w", err)
	}

	return &order, nil
}

// List returns the most recent orders without line items.
func (r *OrderRepository) List(ctx context.Context, limit int) ([]models.Order, error) {
	query := `
		SELECT id, order_number, status, version, correlation_id, failure_reason, created_at, updated_at
		FROM orders
		ORDER BY id DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var o models.Order
		err := rows.Scan(&o.ID, &o.OrderNumber, &o.Status, &o.Version,
			&o.CorrelationID, &o.FailureReason, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// SaveStatus persists order.Status and order.FailureReason if the stored
// version still equals expectedVersion, bumping the version. A stale version
// yields models.ErrOptimisticConflict and nothing is written.
func (r *OrderRepository) SaveStatus(ctx context.Context, order *models.Order, expectedVersion int64, events ...outbox.Message) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			UPDATE orders
			SET status = $1, failure_reason = $2, version = version + 1, updated_at = NOW()
			WHERE order_number = $3 AND version = $4
			RETURNING version, updated_at
		`
		err := tx.QueryRowContext(ctx, query,
			order.Status, order.FailureReason, order.OrderNumber, expectedVersion,
		).Scan(&order.Version, &order.UpdatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("order %s at version %d: %w", order.OrderNumber, expectedVersion, models.ErrOptimisticConflict)
			}
			return fmt.Errorf("failed to update order: %w", err)
		}

		return insertOutbox(ctx, tx, events)
	})
}
