package db

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		mockDB.Close()
	})
	return mockDB, mock
}

var inventoryCols = []string{"id", "sku", "product_id", "quantity", "reserved_quantity", "updated_at"}

var reservationCols = []string{"order_number", "sku", "product_id", "quantity", "status", "updated_at"}
