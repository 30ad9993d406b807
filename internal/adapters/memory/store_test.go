package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammerola/stockledger/internal/adapters/memory"
	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/ammerola/stockledger/test/helpers"
)

func TestStore_RunInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	product := helpers.SeedProduct(t, store)
	lot := helpers.SeedLot(t, store, product.ID, domain.Outlet("O1"), 5)

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(tx ports.Store) error {
		require.NoError(t, tx.Lots().Decrement(ctx, lot.ID, 3))
		_, err := tx.Sequences().Next(ctx, domain.TransactionSale, "261017")
		require.NoError(t, err)
		require.NoError(t, tx.Movements().Record(ctx,
			domain.NewMovement(lot, -3, domain.MovementSale, "S1", "", lot.CreatedAt)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.Lots().FindByID(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Quantity)

	movements, err := store.Movements().ListByLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Empty(t, movements)

	next, err := store.Sequences().Next(ctx, domain.TransactionSale, "261017")
	require.NoError(t, err)
	assert.Equal(t, int64(1), next, "rolled back sequence values are reused")
}

func TestStore_RunInTx_RollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	product := helpers.SeedProduct(t, store)
	lot := helpers.SeedLot(t, store, product.ID, domain.Outlet("O1"), 5)

	assert.Panics(t, func() {
		_ = store.RunInTx(ctx, func(tx ports.Store) error {
			_ = tx.Lots().Decrement(ctx, lot.ID, 5)
			panic("halfway")
		})
	})

	got, err := store.Lots().FindByID(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Quantity)
}

func TestStore_RunInTx_Nested(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	product := helpers.SeedProduct(t, store)
	lot := helpers.SeedLot(t, store, product.ID, domain.Outlet("O1"), 5)

	err := store.RunInTx(ctx, func(tx ports.Store) error {
		return tx.RunInTx(ctx, func(inner ports.Store) error {
			return inner.Lots().Increment(ctx, lot.ID, 2)
		})
	})
	require.NoError(t, err)

	got, err := store.Lots().FindByID(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Quantity)
}

func TestStore_RunInTx_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := memory.NewStore().RunInTx(ctx, func(ports.Store) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestLotRepository(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	product := helpers.SeedProduct(t, store)
	loc := domain.Outlet("O1")
	lot := helpers.SeedLot(t, store, product.ID, loc, 5, helpers.Batch("B1"))

	t.Run("find_missing_returns_nil", func(t *testing.T) {
		got, err := store.Lots().FindByID(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("returned_lots_are_copies", func(t *testing.T) {
		got, err := store.Lots().FindByID(ctx, lot.ID)
		require.NoError(t, err)
		got.Quantity = 1000

		again, err := store.Lots().FindByID(ctx, lot.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, again.Quantity)
	})

	t.Run("decrement_never_goes_negative", func(t *testing.T) {
		err := store.Lots().Decrement(ctx, lot.ID, 6)
		assert.ErrorIs(t, err, domain.ErrConflict)

		err = store.Lots().Decrement(ctx, uuid.New(), 1)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("find_by_batch", func(t *testing.T) {
		got, err := store.Lots().FindByBatch(ctx, product.ID, loc, "B1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, lot.ID, got.ID)

		got, err = store.Lots().FindByBatch(ctx, product.ID, domain.Warehouse("W1"), "B1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("create_requires_known_product", func(t *testing.T) {
		err := store.Lots().Create(ctx, helpers.CreateTestLot(uuid.New(), loc, 1))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestSequenceRepository_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	const n = 50
	var wg sync.WaitGroup
	results := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := store.Sequences().Next(ctx, domain.TransactionSale, "261017")
			assert.NoError(t, err)
			results <- v
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for v := range results {
		assert.False(t, seen[v], "duplicate value %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, n)

	other, err := store.Sequences().Next(ctx, domain.TransactionSale, "261018")
	require.NoError(t, err)
	assert.Equal(t, int64(1), other, "each day starts its own sequence")
}

func TestCustomerRepository_RecordPurchase(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	customer := helpers.SeedCustomer(t, store)

	require.NoError(t, store.Customers().RecordPurchase(ctx, customer.ID, decimal.RequireFromString("19.99")))
	require.NoError(t, store.Customers().RecordPurchase(ctx, customer.ID, decimal.RequireFromString("0.01")))

	got, err := store.Customers().FindByID(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, customer.TotalOrders+2, got.TotalOrders)
	assert.True(t, customer.TotalSpent.Add(decimal.RequireFromString("20")).Equal(got.TotalSpent))

	err = store.Customers().RecordPurchase(ctx, uuid.New(), decimal.RequireFromString("1"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
