package benchmarks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/ammerola/stockledger/internal/core/services"
	"github.com/ammerola/stockledger/internal/workers"
	"github.com/ammerola/stockledger/test/helpers"
)

func BenchmarkAllocateFIFO(b *testing.B) {
	product := helpers.CreateTestProduct()
	loc := domain.Warehouse("W1")

	for _, n := range []int{10, 100, 1000} {
		lots := benchmarkLots(product.ID, loc, n, 5)
		b.Run(fmt.Sprintf("lots=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := services.AllocateFIFO(product, loc, lots, n*2, services.Reservations{}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// snapshotReset bounds the in-memory history, since every transaction
// snapshots the whole store.
const snapshotReset = 2000

func BenchmarkCreateSale(b *testing.B) {
	ctx := context.Background()

	b.Run("single_line", func(b *testing.B) {
		l := newLedger(b, 20, 1<<30)
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if i > 0 && i%snapshotReset == 0 {
				b.StopTimer()
				l = newLedger(b, 20, 1<<30)
				b.StartTimer()
			}
			_, err := l.sales.CreateSale(ctx, ports.CreateSaleRequest{
				Location:      l.outlet,
				Items:         []ports.SaleItem{{ProductID: l.product.ID, Quantity: 1}},
				PaymentMethod: "cash",
				CreatedBy:     "bench",
			})
			if err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("three_lines_same_product", func(b *testing.B) {
		l := newLedger(b, 20, 1<<30)
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if i > 0 && i%snapshotReset == 0 {
				b.StopTimer()
				l = newLedger(b, 20, 1<<30)
				b.StartTimer()
			}
			_, err := l.sales.CreateSale(ctx, ports.CreateSaleRequest{
				Location: l.outlet,
				Items: []ports.SaleItem{
					{ProductID: l.product.ID, Quantity: 2},
					{ProductID: l.product.ID, Quantity: 3, Discount: decimal.NewFromInt(1)},
					{ProductID: l.product.ID, Quantity: 1},
				},
				Payments:  []domain.Payment{{Method: "card", Amount: decimal.NewFromInt(60)}},
				CreatedBy: "bench",
			})
			if err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkTransfer(b *testing.B) {
	l := newLedger(b, 10, 1<<30)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if i > 0 && i%snapshotReset == 0 {
			b.StopTimer()
			l = newLedger(b, 10, 1<<30)
			b.StartTimer()
		}
		_, err := l.transfers.Transfer(ctx, ports.TransferRequest{
			ProductID: l.product.ID,
			From:      l.warehouse,
			To:        l.outlet,
			Quantity:  3,
			CreatedBy: "bench",
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkForecastStrategies(b *testing.B) {
	sales := benchmarkSales(30, 20, 50)
	stats := services.AggregateSales(sales, time.UTC)

	b.Run("aggregate", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			services.AggregateSales(sales, time.UTC)
		}
	})

	strategies := []services.ForecastStrategy{
		services.SimpleStrategy{Days: 30, MinSalesThreshold: 1},
		services.EnhancedStrategy{
			Days:               30,
			MinSalesThreshold:  1,
			DemandDays:         7,
			SafetyStockFactor:  decimal.RequireFromString("1.2"),
			SeasonalAdjustment: decimal.NewFromInt(1),
		},
	}
	for _, strategy := range strategies {
		b.Run(string(strategy.Name()), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				for _, st := range stats {
					strategy.Suggest(st, 10)
				}
			}
		})
	}
}

func BenchmarkParseLotWorkbook(b *testing.B) {
	data := helpers.BuildLotWorkbook(b, lotWorkbookRows(500))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rows, rowErrs, err := workers.ParseLotWorkbook(data)
		if err != nil {
			b.Fatal(err)
		}
		if len(rows) != 500 || len(rowErrs) != 0 {
			b.Fatalf("parsed %d rows with %d errors", len(rows), len(rowErrs))
		}
	}
}
