package services_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammerola/stockledger/internal/adapters/memory"
	redis_a "github.com/ammerola/stockledger/internal/adapters/redis_adapter"
	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/ammerola/stockledger/internal/core/services"
	"github.com/ammerola/stockledger/test/helpers"
)

var saleTime = time.Date(2026, 10, 17, 10, 30, 0, 0, time.UTC)

func newSaleService(store ports.Store, cache ports.CacheRepository, opts ...func(*services.Options)) *services.SaleService {
	o := services.DefaultOptions()
	o.Now = helpers.FixedClock(saleTime)
	for _, fn := range opts {
		fn(&o)
	}
	return services.NewSaleService(store, cache, o, helpers.TestLogger())
}

func lotQuantity(t *testing.T, store ports.Store, id uuid.UUID) int {
	t.Helper()
	lot, err := store.Lots().FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, lot)
	return lot.Quantity
}

func TestSaleService_CreateSale_FIFOScenario(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	product := helpers.SeedProduct(t, store)
	outlet := domain.Outlet("O")

	l1 := helpers.SeedLot(t, store, product.ID, outlet, 5, helpers.ReceivedAt(saleTime.AddDate(0, 0, -2)), helpers.Priced("12.50"))
	l2 := helpers.SeedLot(t, store, product.ID, outlet, 10, helpers.ReceivedAt(saleTime.AddDate(0, 0, -1)))

	svc := newSaleService(store, nil)

	res, err := svc.CreateSale(ctx, ports.CreateSaleRequest{
		Location:      outlet,
		Items:         []ports.SaleItem{{ProductID: product.ID, Quantity: 7}},
		PaymentMethod: "cash",
		CreatedBy:     "cashier-1",
	})
	require.NoError(t, err)
	sale := res.Sale

	assert.Equal(t, "S2610170001", sale.ID)
	require.Len(t, sale.Lines, 1)
	line := sale.Lines[0]
	require.Len(t, line.Allocations, 2)
	assert.Equal(t, l1.ID, line.Allocations[0].LotID)
	assert.Equal(t, l1.BatchNumber, line.Allocations[0].BatchNumber)
	assert.Equal(t, 5, line.Allocations[0].Quantity)
	assert.Equal(t, l2.ID, line.Allocations[1].LotID)
	assert.Equal(t, 2, line.Allocations[1].Quantity)
	assert.True(t, decimal.RequireFromString("12.50").Equal(line.UnitPrice), "line shows the oldest lot's price")
	// 5 x 12.50 + 2 x 10.00
	assert.True(t, decimal.RequireFromString("82.50").Equal(sale.TotalAmount), sale.TotalAmount.String())
	assert.True(t, sale.TotalAmount.Equal(sale.PaidAmount))
	assert.Equal(t, []domain.Payment{{Method: "cash", Amount: sale.TotalAmount}}, sale.Payments)

	assert.Equal(t, 0, lotQuantity(t, store, l1.ID))
	assert.Equal(t, 8, lotQuantity(t, store, l2.ID))

	_, err = svc.CreateSale(ctx, ports.CreateSaleRequest{
		Location: outlet,
		Items:    []ports.SaleItem{{ProductID: product.ID, Quantity: 20}},
	})
	var ise *domain.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, 8, ise.Available)
	assert.Equal(t, 20, ise.Requested)

	assert.Equal(t, 0, lotQuantity(t, store, l1.ID))
	assert.Equal(t, 8, lotQuantity(t, store, l2.ID))
}

func TestSaleService_CreateSale_LinePricing(t *testing.T) {
	ctx := context.Background()
	outlet := domain.Outlet("O")

	tests := []struct {
		name          string
		unitPrice     *decimal.Decimal
		expectedTotal string
		expectedLots  []string
	}{
		{
			name:          "each_lot_at_its_own_price",
			expectedTotal: "50",
			expectedLots:  []string{"4", "6"},
		},
		{
			name:          "explicit_price_overrides_lots",
			unitPrice:     func() *decimal.Decimal { d := decimal.NewFromInt(5); return &d }(),
			expectedTotal: "45",
			expectedLots:  []string{"5", "5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore()
			product := helpers.SeedProduct(t, store)
			helpers.SeedLot(t, store, product.ID, outlet, 2, helpers.ReceivedAt(saleTime.AddDate(0, 0, -3)), helpers.Priced("4"))
			helpers.SeedLot(t, store, product.ID, outlet, 10, helpers.ReceivedAt(saleTime.AddDate(0, 0, -1)), helpers.Priced("6"))

			res, err := newSaleService(store, nil).CreateSale(ctx, ports.CreateSaleRequest{
				Location: outlet,
				Items:    []ports.SaleItem{{ProductID: product.ID, Quantity: 9, UnitPrice: tt.unitPrice}},
			})
			require.NoError(t, err)

			line := res.Sale.Lines[0]
			require.Len(t, line.Allocations, len(tt.expectedLots))
			for i, price := range tt.expectedLots {
				assert.True(t, decimal.RequireFromString(price).Equal(line.Allocations[i].UnitPrice),
					"allocation %d priced %s", i, line.Allocations[i].UnitPrice)
			}
			assert.True(t, decimal.RequireFromString(tt.expectedTotal).Equal(line.LineTotal), line.LineTotal.String())
			assert.True(t, line.LineTotal.Equal(res.Sale.TotalAmount))
		})
	}
}

func TestSaleService_CreateSale_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	customer := helpers.SeedCustomer(t, store)
	plenty := helpers.SeedProduct(t, store)
	second := helpers.SeedProduct(t, store)
	scarce := helpers.SeedProduct(t, store)
	outlet := domain.Outlet("O")

	plentyLot := helpers.SeedLot(t, store, plenty.ID, outlet, 50)
	secondLot := helpers.SeedLot(t, store, second.ID, outlet, 20)
	scarceLot := helpers.SeedLot(t, store, scarce.ID, outlet, 1)

	svc := newSaleService(store, nil)

	_, err := svc.CreateSale(ctx, ports.CreateSaleRequest{
		Location:   outlet,
		CustomerID: &customer.ID,
		Items: []ports.SaleItem{
			{ProductID: plenty.ID, Quantity: 10},
			{ProductID: second.ID, Quantity: 5},
			{ProductID: scarce.ID, Quantity: 2},
		},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.Equal(t, 50, lotQuantity(t, store, plentyLot.ID))
	assert.Equal(t, 20, lotQuantity(t, store, secondLot.ID))
	assert.Equal(t, 1, lotQuantity(t, store, scarceLot.ID))

	c, err := store.Customers().FindByID(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, c.TotalOrders)

	for _, id := range []uuid.UUID{plentyLot.ID, secondLot.ID} {
		movements, err := store.Movements().ListByLot(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, movements)
	}

	res, err := svc.CreateSale(ctx, ports.CreateSaleRequest{
		Location: outlet,
		Items:    []ports.SaleItem{{ProductID: plenty.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "S2610170001", res.Sale.ID, "a failed sale consumes no number")
}

func TestSaleService_CreateSale_Conservation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	product := helpers.SeedProduct(t, store)
	outlet := domain.Outlet("O")

	var lots []*domain.StockLot
	for i, qty := range []int{3, 4, 6, 2} {
		lots = append(lots, helpers.SeedLot(t, store, product.ID, outlet, qty,
			helpers.ReceivedAt(saleTime.Add(time.Duration(i)*time.Hour))))
	}

	svc := newSaleService(store, nil)
	sold := 0
	for _, qty := range []int{2, 5, 1, 4} {
		res, err := svc.CreateSale(ctx, ports.CreateSaleRequest{
			Location: outlet,
			Items:    []ports.SaleItem{{ProductID: product.ID, Quantity: qty}},
		})
		require.NoError(t, err)

		allocated := 0
		for _, a := range res.Sale.Lines[0].Allocations {
			allocated += a.Quantity
		}
		assert.Equal(t, qty, allocated)
		sold += qty
	}

	remaining := 0
	for _, lot := range lots {
		q := lotQuantity(t, store, lot.ID)
		assert.GreaterOrEqual(t, q, 0)
		remaining += q
	}
	assert.Equal(t, 15-sold, remaining)

	onHand, err := store.Lots().StockOnHand(ctx, product.ID, &outlet)
	require.NoError(t, err)
	assert.Equal(t, remaining, onHand)
}

func TestSaleService_CreateSale_SequenceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	product := helpers.SeedProduct(t, store)
	outlet := domain.Outlet("O")
	helpers.SeedLot(t, store, product.ID, outlet, 100)

	svc := newSaleService(store, nil)

	const workers = 25
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids []string
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.CreateSale(ctx, ports.CreateSaleRequest{
				Location: outlet,
				Items:    []ports.SaleItem{{ProductID: product.ID, Quantity: 2}},
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids = append(ids, res.Sale.ID)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, ids, workers)
	sort.Strings(ids)
	for i, id := range ids {
		assert.Equal(t, fmt.Sprintf("S261017%04d", i+1), id)
	}

	onHand, err := store.Lots().StockOnHand(ctx, product.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, onHand)
}

func TestSaleService_CreateSale_DayKeyFollowsTimezone(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	product := helpers.SeedProduct(t, store)
	outlet := domain.Outlet("O")
	helpers.SeedLot(t, store, product.ID, outlet, 10)

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	svc := newSaleService(store, nil, func(o *services.Options) {
		o.Timezone = tokyo
		o.Now = helpers.FixedClock(time.Date(2026, 10, 17, 23, 30, 0, 0, time.UTC))
	})

	res, err := svc.CreateSale(ctx, ports.CreateSaleRequest{
		Location: outlet,
		Items:    []ports.SaleItem{{ProductID: product.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "S2610180001", res.Sale.ID)
}

func TestSaleService_CreateSale_CustomerAndPayments(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	product := helpers.SeedProduct(t, store)
	customer := helpers.SeedCustomer(t, store)
	outlet := domain.Outlet("O")
	helpers.SeedLot(t, store, product.ID, outlet, 10, helpers.Priced("20"))

	svc := newSaleService(store, nil)
	price := decimal.NewFromInt(18)

	res, err := svc.CreateSale(ctx, ports.CreateSaleRequest{
		Location:       outlet,
		CustomerID:     &customer.ID,
		Items:          []ports.SaleItem{{ProductID: product.ID, Quantity: 3, UnitPrice: &price, Discount: decimal.NewFromInt(4)}},
		DiscountAmount: decimal.NewFromInt(5),
		Payments: []domain.Payment{
			{Method: "card", Amount: decimal.NewFromInt(30)},
			{Method: "cash", Amount: decimal.NewFromInt(10)},
		},
	})
	require.NoError(t, err)
	sale := res.Sale

	assert.True(t, decimal.NewFromInt(50).Equal(sale.Lines[0].LineTotal))
	assert.True(t, decimal.NewFromInt(50).Equal(sale.Subtotal))
	assert.True(t, decimal.NewFromInt(45).Equal(sale.TotalAmount))
	assert.True(t, decimal.NewFromInt(40).Equal(sale.PaidAmount))
	assert.True(t, decimal.NewFromInt(5).Equal(sale.DueAmount()))

	c, err := store.Customers().FindByID(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, c.TotalOrders)
	assert.True(t, decimal.NewFromInt(45).Equal(c.TotalSpent))

	unknown := uuid.New()
	_, err = svc.CreateSale(ctx, ports.CreateSaleRequest{
		Location:   outlet,
		CustomerID: &unknown,
		Items:      []ports.SaleItem{{ProductID: product.ID, Quantity: 1}},
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 7, lotQuantity(t, store, sale.Lines[0].Allocations[0].LotID))
}

func TestSaleService_CreateSale_PreselectedLots(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	product := helpers.SeedProduct(t, store)
	outlet := domain.Outlet("O")

	older := helpers.SeedLot(t, store, product.ID, outlet, 5, helpers.ReceivedAt(saleTime.AddDate(0, 0, -3)))
	newer := helpers.SeedLot(t, store, product.ID, outlet, 5, helpers.ReceivedAt(saleTime.AddDate(0, 0, -1)))
	elsewhere := helpers.SeedLot(t, store, product.ID, domain.Warehouse("W"), 5)

	svc := newSaleService(store, nil)

	res, err := svc.CreateSale(ctx, ports.CreateSaleRequest{
		Location: outlet,
		Items:    []ports.SaleItem{{LotIDs: []uuid.UUID{newer.ID}, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, product.ID, res.Sale.Lines[0].ProductID)
	assert.Equal(t, newer.ID, res.Sale.Lines[0].Allocations[0].LotID)
	assert.Equal(t, 5, lotQuantity(t, store, older.ID))

	_, err = svc.CreateSale(ctx, ports.CreateSaleRequest{
		Location: outlet,
		Items:    []ports.SaleItem{{LotIDs: []uuid.UUID{elsewhere.ID}, Quantity: 1}},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreateSale(ctx, ports.CreateSaleRequest{
		Location: outlet,
		Items:    []ports.SaleItem{{LotIDs: []uuid.UUID{uuid.New()}, Quantity: 1}},
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSaleService_CreateSale_SharedLotAcrossLines(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	product := helpers.SeedProduct(t, store)
	outlet := domain.Outlet("O")
	lot := helpers.SeedLot(t, store, product.ID, outlet, 5)

	svc := newSaleService(store, nil)

	_, err := svc.CreateSale(ctx, ports.CreateSaleRequest{
		Location: outlet,
		Items: []ports.SaleItem{
			{ProductID: product.ID, Quantity: 3},
			{ProductID: product.ID, Quantity: 3},
		},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 5, lotQuantity(t, store, lot.ID))

	res, err := svc.CreateSale(ctx, ports.CreateSaleRequest{
		Location: outlet,
		Items: []ports.SaleItem{
			{ProductID: product.ID, Quantity: 3},
			{ProductID: product.ID, Quantity: 2},
		},
	})
	require.NoError(t, err)
	assert.Len(t, res.Sale.Lines, 2)
	assert.Equal(t, 0, lotQuantity(t, store, lot.ID))
}

func TestSaleService_CreateSale_Validation(t *testing.T) {
	product := uuid.New()
	outlet := domain.Outlet("O")
	negative := decimal.NewFromInt(-1)

	tests := []struct {
		name  string
		req   ports.CreateSaleRequest
		field string
	}{
		{
			name:  "missing_location",
			req:   ports.CreateSaleRequest{Items: []ports.SaleItem{{ProductID: product, Quantity: 1}}},
			field: "location.kind",
		},
		{
			name:  "no_items",
			req:   ports.CreateSaleRequest{Location: outlet},
			field: "items",
		},
		{
			name:  "zero_quantity",
			req:   ports.CreateSaleRequest{Location: outlet, Items: []ports.SaleItem{{ProductID: product}}},
			field: "items[0].quantity",
		},
		{
			name:  "no_product_or_lots",
			req:   ports.CreateSaleRequest{Location: outlet, Items: []ports.SaleItem{{Quantity: 1}}},
			field: "items[0].product_id",
		},
		{
			name:  "negative_price",
			req:   ports.CreateSaleRequest{Location: outlet, Items: []ports.SaleItem{{ProductID: product, Quantity: 1, UnitPrice: &negative}}},
			field: "items[0].unit_price",
		},
		{
			name: "negative_payment",
			req: ports.CreateSaleRequest{
				Location: outlet,
				Items:    []ports.SaleItem{{ProductID: product, Quantity: 1}},
				Payments: []domain.Payment{{Method: "cash", Amount: negative}},
			},
			field: "payments[0].amount",
		},
		{
			name: "negative_discount",
			req: ports.CreateSaleRequest{
				Location:       outlet,
				Items:          []ports.SaleItem{{ProductID: product, Quantity: 1}},
				DiscountAmount: negative,
			},
			field: "discount_amount",
		},
	}

	svc := newSaleService(memory.NewStore(), nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateSale(context.Background(), tt.req)
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestSaleService_CreateSale_Idempotency(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	product := helpers.SeedProduct(t, store)
	outlet := domain.Outlet("O")
	lot := helpers.SeedLot(t, store, product.ID, outlet, 10)

	rds := helpers.SetupTestRedis(t)
	cache := redis_a.NewCache(rds.Client, time.Hour, helpers.TestLogger())
	svc := newSaleService(store, cache)

	req := ports.CreateSaleRequest{
		Location:       outlet,
		Items:          []ports.SaleItem{{ProductID: product.ID, Quantity: 3}},
		IdempotencyKey: "till-4-receipt-991",
	}

	first, err := svc.CreateSale(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := svc.CreateSale(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Sale.ID, second.Sale.ID)
	assert.Equal(t, 7, lotQuantity(t, store, lot.ID), "stock is deducted once")

	t.Run("key_in_flight_is_a_conflict", func(t *testing.T) {
		ok, err := cache.SetNX(ctx, "idem:sale:lock:busy-key", 1, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		req.IdempotencyKey = "busy-key"
		_, err = svc.CreateSale(ctx, req)
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.Equal(t, 7, lotQuantity(t, store, lot.ID))
	})
}

func TestSaleService_GetSale(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	product := helpers.SeedProduct(t, store)
	outlet := domain.Outlet("O")
	helpers.SeedLot(t, store, product.ID, outlet, 10)

	svc := newSaleService(store, nil)
	res, err := svc.CreateSale(ctx, ports.CreateSaleRequest{
		Location: outlet,
		Items:    []ports.SaleItem{{ProductID: product.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	got, err := svc.GetSale(ctx, res.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Sale.ID, got.ID)

	_, err = svc.GetSale(ctx, "S2610179999")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
