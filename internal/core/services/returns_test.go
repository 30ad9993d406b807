package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammerola/stockledger/internal/adapters/memory"
	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/ammerola/stockledger/internal/core/services"
	"github.com/ammerola/stockledger/test/helpers"
)

func TestReturnService_ProcessReturn(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	product := helpers.SeedProduct(t, store)
	customer := helpers.SeedCustomer(t, store)
	outlet := domain.Outlet("O")

	l1 := helpers.SeedLot(t, store, product.ID, outlet, 5, helpers.ReceivedAt(saleTime.AddDate(0, 0, -2)))
	l2 := helpers.SeedLot(t, store, product.ID, outlet, 10, helpers.ReceivedAt(saleTime.AddDate(0, 0, -1)))
	unrelated := helpers.SeedLot(t, store, product.ID, outlet, 3, helpers.ReceivedAt(saleTime))

	sale, err := newSaleService(store, nil).CreateSale(ctx, ports.CreateSaleRequest{
		Location:   outlet,
		CustomerID: &customer.ID,
		Items:      []ports.SaleItem{{ProductID: product.ID, Quantity: 7}},
	})
	require.NoError(t, err)
	saleID := sale.Sale.ID

	opts := services.DefaultOptions()
	opts.Now = helpers.FixedClock(saleTime.Add(time.Hour))
	svc := services.NewReturnService(store, opts, helpers.TestLogger())

	ret, err := svc.ProcessReturn(ctx, ports.ReturnRequest{
		SaleID:      saleID,
		Items:       []domain.ReturnItem{{LotID: l1.ID, Quantity: 3, Reason: "damaged box"}},
		ProcessedBy: "cashier-2",
	})
	require.NoError(t, err)
	assert.Equal(t, saleID, ret.SaleID)
	assert.Equal(t, 3, lotQuantity(t, store, l1.ID))

	stored, err := store.Sales().FindByID(ctx, saleID)
	require.NoError(t, err)
	require.Len(t, stored.Returns, 1)
	assert.Equal(t, ret.ID, stored.Returns[0].ID)

	c, err := store.Customers().FindByID(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, c.TotalOrders, "returns leave customer aggregates alone")

	t.Run("cumulative_bound_per_lot", func(t *testing.T) {
		_, err := svc.ProcessReturn(ctx, ports.ReturnRequest{
			SaleID: saleID,
			Items:  []domain.ReturnItem{{LotID: l1.ID, Quantity: 3}},
		})
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Equal(t, 3, lotQuantity(t, store, l1.ID))

		_, err = svc.ProcessReturn(ctx, ports.ReturnRequest{
			SaleID: saleID,
			Items:  []domain.ReturnItem{{LotID: l1.ID, Quantity: 2}},
		})
		require.NoError(t, err)
		assert.Equal(t, 5, lotQuantity(t, store, l1.ID))
	})

	t.Run("duplicate_items_in_one_request_count_together", func(t *testing.T) {
		_, err := svc.ProcessReturn(ctx, ports.ReturnRequest{
			SaleID: saleID,
			Items: []domain.ReturnItem{
				{LotID: l2.ID, Quantity: 1},
				{LotID: l2.ID, Quantity: 2},
			},
		})
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Equal(t, 8, lotQuantity(t, store, l2.ID), "nothing restocked on a rejected request")
	})

	t.Run("lot_not_in_sale", func(t *testing.T) {
		_, err := svc.ProcessReturn(ctx, ports.ReturnRequest{
			SaleID: saleID,
			Items:  []domain.ReturnItem{{LotID: unrelated.ID, Quantity: 1}},
		})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("movement_carries_sold_product", func(t *testing.T) {
		movements, err := store.Movements().ListByLot(ctx, l1.ID)
		require.NoError(t, err)
		var returned int
		for _, m := range movements {
			if m.Reason != domain.MovementReturn {
				continue
			}
			returned++
			assert.Equal(t, product.ID, m.ProductID)
			assert.Equal(t, saleID, m.Reference)
		}
		assert.Equal(t, 2, returned)
	})

	t.Run("lot_product_differs_from_sold_product", func(t *testing.T) {
		other := helpers.SeedProduct(t, store)
		mismatched := &domain.Sale{
			ID:       "S2610170900",
			Location: outlet,
			Lines: []domain.SaleLine{{
				ProductID:   other.ID,
				Quantity:    1,
				Allocations: []domain.Allocation{{LotID: unrelated.ID, Quantity: 1}},
			}},
			CreatedAt: saleTime,
			UpdatedAt: saleTime,
		}
		require.NoError(t, store.Sales().Create(ctx, mismatched))

		_, err := svc.ProcessReturn(ctx, ports.ReturnRequest{
			SaleID: mismatched.ID,
			Items:  []domain.ReturnItem{{LotID: unrelated.ID, Quantity: 1}},
		})
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Equal(t, 3, lotQuantity(t, store, unrelated.ID))
	})

	t.Run("unknown_sale", func(t *testing.T) {
		_, err := svc.ProcessReturn(ctx, ports.ReturnRequest{
			SaleID: "S2610179999",
			Items:  []domain.ReturnItem{{LotID: l1.ID, Quantity: 1}},
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := svc.ProcessReturn(ctx, ports.ReturnRequest{SaleID: saleID})
		assert.ErrorIs(t, err, domain.ErrValidation)

		_, err = svc.ProcessReturn(ctx, ports.ReturnRequest{
			SaleID: saleID,
			Items:  []domain.ReturnItem{{LotID: uuid.Nil, Quantity: 1}},
		})
		assert.ErrorIs(t, err, domain.ErrValidation)

		_, err = svc.ProcessReturn(ctx, ports.ReturnRequest{
			SaleID: saleID,
			Items:  []domain.ReturnItem{{LotID: l2.ID, Quantity: 0}},
		})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("journal_nets_to_zero_for_fully_returned_lot", func(t *testing.T) {
		movements, err := store.Movements().ListByLot(ctx, l1.ID)
		require.NoError(t, err)
		net := 0
		for _, m := range movements {
			net += m.Delta
		}
		assert.Equal(t, 0, net)
	})
}
