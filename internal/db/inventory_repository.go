package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/outbox"
)

const inventoryColumns = "id, sku, product_id, quantity, reserved_quantity, updated_at"

type InventoryRepository struct {
	db *sql.DB
}

func NewInventoryRepository(database *PostgresDB) *InventoryRepository {
	return &InventoryRepository{db: database.Conn}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInventory(row rowScanner) (*models.Inventory, error) {
	var inv models.Inventory
	err := row.Scan(&inv.ID, &inv.SKU, &inv.ProductID, &inv.Quantity, &inv.ReservedQuantity, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetBySKU returns the inventory row for sku or models.ErrNotFound.
func (r *InventoryRepository) GetBySKU(ctx context.Context, sku string) (*models.Inventory, error) {
	query := "SELECT " + inventoryColumns + " FROM inventory WHERE sku = $1"

	inv, err := scanInventory(r.db.QueryRowContext(ctx, query, sku))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("inventory for sku %s: %w", sku, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get inventory: %w", err)
	}
	return inv, nil
}

// CreateIfMissing inserts an empty row for productID. An existing row is
// returned unchanged with created set to false.
func (r *InventoryRepository) CreateIfMissing(ctx context.Context, productID, sku string) (*models.Inventory, bool, error) {
	insert := `
		INSERT INTO inventory (sku, product_id, quantity, reserved_quantity)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT DO NOTHING
		RETURNING ` + inventoryColumns

	inv, err := scanInventory(r.db.QueryRowContext(ctx, insert, sku, productID))
	if err == nil {
		return inv, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create inventory: %w", err)
	}

	existing := "SELECT " + inventoryColumns + " FROM inventory WHERE product_id = $1 OR sku = $2 ORDER BY id LIMIT 1"
	inv, err = scanInventory(r.db.QueryRowContext(ctx, existing, productID, sku))
	if err != nil {
		return nil, false, fmt.Errorf("failed to get existing inventory: %w", err)
	}
	return inv, false, nil
}

func (r *InventoryRepository) Reserve(ctx context.Context, productID string, qty int) (*models.Inventory, error) {
	return r.mutate(ctx, productID, func(inv *models.Inventory) error { return inv.Reserve(qty) })
}

func (r *InventoryRepository) Release(ctx context.Context, productID string, qty int) (*models.Inventory, error) {
	return r.mutate(ctx, productID, func(inv *models.Inventory) error { return inv.Release(qty) })
}

func (r *InventoryRepository) Commit(ctx context.Context, productID string, qty int) (*models.Inventory, error) {
	return r.mutate(ctx, productID, func(inv *models.Inventory) error { return inv.Commit(qty) })
}

func (r *InventoryRepository) SetQuantity(ctx context.Context, productID string, qty int) (*models.Inventory, error) {
	return r.mutate(ctx, productID, func(inv *models.Inventory) error { return inv.SetQuantity(qty) })
}

// mutate applies fn to the row of productID under a row lock and writes the
// result back. When fn fails nothing is written.
func (r *InventoryRepository) mutate(ctx context.Context, productID string, fn func(*models.Inventory) error) (*models.Inventory, error) {
	var inv *models.Inventory
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		inv, err = lockInventory(ctx, tx, productID)
		if err != nil {
			return err
		}
		if err := fn(inv); err != nil {
			return err
		}
		return saveInventory(ctx, tx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func lockInventory(ctx context.Context, tx *sql.Tx, productID string) (*models.Inventory, error) {
	query := "SELECT " + inventoryColumns + " FROM inventory WHERE product_id = $1 FOR UPDATE"

	inv, err := scanInventory(tx.QueryRowContext(ctx, query, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("inventory for product %s: %w", productID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock inventory: %w", err)
	}
	return inv, nil
}

func saveInventory(ctx context.Context, tx *sql.Tx, inv *models.Inventory) error {
	query := `
		UPDATE inventory
		SET quantity = $1, reserved_quantity = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING updated_at
	`
	if err := tx.QueryRowContext(ctx, query, inv.Quantity, inv.ReservedQuantity, inv.ID).Scan(&inv.UpdatedAt); err != nil {
		return fmt.Errorf("failed to update inventory: %w", err)
	}
	return nil
}

func lockReservation(ctx context.Context, tx *sql.Tx, orderNumber, sku string) (*models.Reservation, error) {
	query := `
		SELECT order_number, sku, product_id, quantity, status, updated_at
		FROM inventory_reservations
		WHERE order_number = $1 AND sku = $2
		FOR UPDATE
	`
	var res models.Reservation
	err := tx.QueryRowContext(ctx, query, orderNumber, sku).Scan(
		&res.OrderNumber, &res.SKU, &res.ProductID, &res.Quantity, &res.Status, &res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ReserveForOrder reserves one line item of an order and records it in the
// reservation ledger. A line item already RESERVED or COMMITTED is a no-op
// reported by applied=false; one already RELEASED fails with
// models.ErrReservationReleased. A SKU that is not the product's own fails
// with models.ErrSKUMismatch.
func (r *InventoryRepository) ReserveForOrder(ctx context.Context, orderNumber string, item models.EventLineItem) (inv *models.Inventory, applied bool, err error) {
	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := lockReservation(ctx, tx, orderNumber, item.SKU)
		switch {
		case err == nil:
			if res.Status == models.ReservationReleased {
				return fmt.Errorf("order %s sku %s: %w", orderNumber, item.SKU, models.ErrReservationReleased)
			}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to get reservation: %w", err)
		}

		inv, err = lockInventory(ctx, tx, item.ProductID)
		if err != nil {
			return err
		}
		if inv.SKU != item.SKU {
			return fmt.Errorf("product %s holds sku %s, not %s: %w", item.ProductID, inv.SKU, item.SKU, models.ErrSKUMismatch)
		}
		if err := inv.Reserve(item.Quantity); err != nil {
			return err
		}
		if err := saveInventory(ctx, tx, inv); err != nil {
			return err
		}

		insert := `
			INSERT INTO inventory_reservations (order_number, sku, product_id, quantity, status)
			VALUES ($1, $2, $3, $4, $5)
		`
		if _, err := tx.ExecContext(ctx, insert, orderNumber, item.SKU, item.ProductID, item.Quantity, models.ReservationReserved); err != nil {
			return fmt.Errorf("failed to record reservation: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return inv, applied, nil
}

// ReleaseForOrder releases every RESERVED line item of an order, marks them
// RELEASED and stores events in the same transaction. Rows are locked in
// SKU order.
func (r *InventoryRepository) ReleaseForOrder(ctx context.Context, orderNumber string, events ...outbox.Message) ([]models.Reservation, error) {
	var released []models.Reservation
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			SELECT order_number, sku, product_id, quantity, status, updated_at
			FROM inventory_reservations
			WHERE order_number = $1 AND status = $2
			ORDER BY sku
			FOR UPDATE
		`
		rows, err := tx.QueryContext(ctx, query, orderNumber, models.ReservationReserved)
		if err != nil {
			return fmt.Errorf("failed to query reservations: %w", err)
		}
		var pending []models.Reservation
		for rows.Next() {
			var res models.Reservation
			if err := rows.Scan(&res.OrderNumber, &res.SKU, &res.ProductID, &res.Quantity, &res.Status, &res.UpdatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan reservation: %w", err)
			}
			pending = append(pending, res)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate reservations: %w", err)
		}

		for _, res := range pending {
			inv, err := lockInventory(ctx, tx, res.ProductID)
			if err != nil {
				return err
			}
			if err := inv.Release(res.Quantity); err != nil {
				return err
			}
			if err := saveInventory(ctx, tx, inv); err != nil {
				return err
			}
			if err := setReservationStatus(ctx, tx, &res, models.ReservationReleased); err != nil {
				return err
			}
			released = append(released, res)
		}

		return insertOutbox(ctx, tx, events)
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// CommitForOrder commits the reserved quantity of one line item. A line item
// already COMMITTED is a no-op reported by applied=false. Without a ledger
// row it fails with models.ErrNotFound; a RELEASED one fails with
// models.ErrReservationReleased.
func (r *InventoryRepository) CommitForOrder(ctx context.Context, orderNumber, sku string) (inv *models.Inventory, applied bool, err error) {
	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := lockReservation(ctx, tx, orderNumber, sku)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("reservation for order %s sku %s: %w", orderNumber, sku, models.ErrNotFound)
			}
			return fmt.Errorf("failed to get reservation: %w", err)
		}

		switch res.Status {
		case models.ReservationCommitted:
			return nil
		case models.ReservationReleased:
			return fmt.Errorf("order %s sku %s: %w", orderNumber, sku, models.ErrReservationReleased)
		}

		inv, err = lockInventory(ctx, tx, res.ProductID)
		if err != nil {
			return err
		}
		if err := inv.Commit(res.Quantity); err != nil {
			return err
		}
		if err := saveInventory(ctx, tx, inv); err != nil {
			return err
		}
		if err := setReservationStatus(ctx, tx, res, models.ReservationCommitted); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return inv, applied, nil
}

func setReservationStatus(ctx context.Context, tx *sql.Tx, res *models.Reservation, status models.ReservationStatus) error {
	query := `
		UPDATE inventory_reservations
		SET status = $1, updated_at = NOW()
		WHERE order_number = $2 AND sku = $3
		RETURNING updated_at
	`
	if err := tx.QueryRowContext(ctx, query, status, res.OrderNumber, res.SKU).Scan(&res.UpdatedAt); err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	res.Status = status
	return nil
}
