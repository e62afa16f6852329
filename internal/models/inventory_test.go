package models

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInventory_ReserveCommitScenario(t *testing.T) {
	inv := &Inventory{SKU: "iphone_13", Quantity: 100}

	require.NoError(t, inv.Reserve(2))
	assert.Equal(t, 100, inv.Quantity)
	assert.Equal(t, 2, inv.ReservedQuantity)

	require.NoError(t, inv.Commit(2))
	assert.Equal(t, 98, inv.Quantity)
	assert.Equal(t, 0, inv.ReservedQuantity)
}

func TestInventory_ReserveInsufficient(t *testing.T) {
	inv := &Inventory{SKU: "iphone_13", Quantity: 100, ReservedQuantity: 10}

	err := inv.Reserve(100)
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.Equal(t, 100, inv.Quantity)
	assert.Equal(t, 10, inv.ReservedQuantity)
}

func TestInventory_ReleaseAndCommitBeyondReserved(t *testing.T) {
	inv := &Inventory{SKU: "s", Quantity: 10, ReservedQuantity: 3}

	assert.True(t, errors.Is(inv.Release(4), ErrInsufficientStock))
	assert.True(t, errors.Is(inv.Commit(4), ErrInsufficientStock))
	assert.Equal(t, 10, inv.Quantity)
	assert.Equal(t, 3, inv.ReservedQuantity)
}

func TestInventory_RoundTrips(t *testing.T) {
	t.Run("reserve then release restores reserved", func(t *testing.T) {
		inv := &Inventory{SKU: "s", Quantity: 20, ReservedQuantity: 5}
		require.NoError(t, inv.Reserve(7))
		require.NoError(t, inv.Release(7))
		assert.Equal(t, 5, inv.ReservedQuantity)
		assert.Equal(t, 20, inv.Quantity)
	})

	t.Run("reserve then commit lowers quantity only", func(t *testing.T) {
		inv := &Inventory{SKU: "s", Quantity: 20, ReservedQuantity: 5}
		require.NoError(t, inv.Reserve(7))
		require.NoError(t, inv.Commit(7))
		assert.Equal(t, 5, inv.ReservedQuantity)
		assert.Equal(t, 13, inv.Quantity)
	})
}

func TestInventory_NonPositiveQuantities(t *testing.T) {
	inv := &Inventory{SKU: "s", Quantity: 5}
	for _, qty := range []int{0, -1} {
		assert.True(t, errors.Is(inv.Reserve(qty), ErrInvalidQuantity))
		assert.True(t, errors.Is(inv.Release(qty), ErrInvalidQuantity))
		assert.True(t, errors.Is(inv.Commit(qty), ErrInvalidQuantity))
	}
}

func TestInventory_SetQuantity(t *testing.T) {
	inv := &Inventory{SKU: "s", Quantity: 5, ReservedQuantity: 3}

	require.NoError(t, inv.SetQuantity(100))
	assert.Equal(t, 100, inv.Quantity)
	assert.Equal(t, 3, inv.ReservedQuantity)

	assert.True(t, errors.Is(inv.SetQuantity(2), ErrInvalidQuantity))
	assert.True(t, errors.Is(inv.SetQuantity(-1), ErrInvalidQuantity))
	assert.Equal(t, 100, inv.Quantity)
}

func TestInventory_InvariantHoldsUnderRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	inv := &Inventory{SKU: "s", Quantity: 50}

	for i := 0; i < 5000; i++ {
		qty := rng.Intn(12)
		before := *inv
		var err error
		switch rng.Intn(4) {
		case 0:
			err = inv.Reserve(qty)
		case 1:
			err = inv.Release(qty)
		case 2:
			err = inv.Commit(qty)
		case 3:
			err = inv.SetQuantity(inv.Quantity + rng.Intn(5))
		}
		if err != nil {
			require.Equal(t, before, *inv, "failed op must not mutate")
		}
		require.GreaterOrEqual(t, inv.ReservedQuantity, 0)
		require.LessOrEqual(t, inv.ReservedQuantity, inv.Quantity)
		require.GreaterOrEqual(t, inv.Available(), 0)
	}
}

func TestInventory_Snapshot(t *testing.T) {
	inv := &Inventory{SKU: "s", Quantity: 4, ReservedQuantity: 4}
	snap := inv.Snapshot()
	assert.Equal(t, InventorySnapshot{SKU: "s", Quantity: 4, ReservedQuantity: 4, InStock: false}, snap)

	inv.Quantity = 5
	assert.True(t, inv.Snapshot().InStock)
}
