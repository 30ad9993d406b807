// test/benchmarks/helpers.go
package benchmarks

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ammerola/stockledger/internal/adapters/memory"
	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/services"
	"github.com/ammerola/stockledger/test/helpers"
)

// ledger is an in-memory store with services wired onto it
type ledger struct {
	store     *memory.Store
	sales     *services.SaleService
	transfers *services.TransferService
	lots      *services.LotService
	product   *domain.Product
	warehouse domain.Location
	outlet    domain.Location
}

// newLedger seeds one product with lotCount lots of qty units at both the
// warehouse and the outlet
func newLedger(b *testing.B, lotCount, qty int) *ledger {
	b.Helper()

	store := memory.NewStore()
	opts := services.DefaultOptions()
	l := &ledger{
		store:     store,
		sales:     services.NewSaleService(store, nil, opts, helpers.TestLogger()),
		transfers: services.NewTransferService(store, opts, helpers.TestLogger()),
		lots:      services.NewLotService(store, opts, helpers.TestLogger()),
		product:   helpers.SeedProduct(b, store),
		warehouse: domain.Warehouse("W1"),
		outlet:    domain.Outlet("O1"),
	}

	base := time.Now().UTC().Add(-time.Duration(lotCount) * time.Hour)
	for i := 0; i < lotCount; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		helpers.SeedLot(b, store, l.product.ID, l.warehouse, qty, helpers.ReceivedAt(at))
		helpers.SeedLot(b, store, l.product.ID, l.outlet, qty, helpers.ReceivedAt(at))
	}
	return l
}

// benchmarkLots builds n unsorted lots of one product
func benchmarkLots(productID uuid.UUID, loc domain.Location, n, qty int) []*domain.StockLot {
	base := time.Now().UTC()
	lots := make([]*domain.StockLot, n)
	for i := range lots {
		// interleave receipt times so the allocator has to sort
		offset := time.Duration((i*7919)%n) * time.Minute
		lots[i] = helpers.CreateTestLot(productID, loc, qty, helpers.ReceivedAt(base.Add(offset)))
	}
	return lots
}

// benchmarkSales builds sales spread over days with products lines each
func benchmarkSales(days, perDay, products int) []*domain.Sale {
	ids := make([]uuid.UUID, products)
	for i := range ids {
		ids[i] = uuid.New()
	}

	start := time.Now().UTC().AddDate(0, 0, -days)
	sales := make([]*domain.Sale, 0, days*perDay)
	for d := 0; d < days; d++ {
		for n := 0; n < perDay; n++ {
			lines := make([]domain.SaleLine, products)
			for p, id := range ids {
				qty := 1 + (d+n+p)%4
				lines[p] = domain.SaleLine{
					ProductID: id,
					Quantity:  qty,
					UnitPrice: decimal.NewFromInt(10),
					LineTotal: decimal.NewFromInt(int64(10 * qty)),
				}
			}
			sales = append(sales, &domain.Sale{
				ID:        fmt.Sprintf("SAL%06d%04d", d, n),
				Lines:     lines,
				CreatedAt: start.AddDate(0, 0, d).Add(time.Duration(n) * time.Minute),
			})
		}
	}
	return sales
}

// lotWorkbookRows returns n valid rows for the lot import workbook
func lotWorkbookRows(n int) [][]string {
	rows := make([][]string, n)
	for i := range rows {
		rows[i] = []string{
			uuid.NewString(), "warehouse:W1", fmt.Sprintf("B-%d", i),
			"25", "3.50", "7.00", "2027-01-31", "2026-01-02",
		}
	}
	return rows
}
