// internal/core/services/forecast.go
package services

import (
	"sort"
	"time"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SalesStats summarises one product's sales over a forecasting window.
type SalesStats struct {
	ProductID     uuid.UUID
	TotalQuantity int
	TotalRevenue  decimal.Decimal
	// DailyQuantities is keyed by calendar day (YYMMDD).
	DailyQuantities map[string]int
	LastSaleAt      time.Time
}

// MaxDaily is the busiest day's quantity.
func (s *SalesStats) MaxDaily() int {
	best := 0
	for _, q := range s.DailyQuantities {
		best = max(best, q)
	}
	return best
}

// MinDaily is the quietest day's quantity among days with sales.
func (s *SalesStats) MinDaily() int {
	least := 0
	for _, q := range s.DailyQuantities {
		if q > 0 && (least == 0 || q < least) {
			least = q
		}
	}
	return least
}

// DistinctDays counts days with at least one sale.
func (s *SalesStats) DistinctDays() int { return len(s.DailyQuantities) }

// AggregateSales groups sale lines per product. The result is ordered by
// product id.
func AggregateSales(sales []*domain.Sale, tz *time.Location) []*SalesStats {
	byProduct := make(map[uuid.UUID]*SalesStats)
	for _, sale := range sales {
		day := domain.DateKey(sale.CreatedAt, tz)
		for _, line := range sale.Lines {
			st, ok := byProduct[line.ProductID]
			if !ok {
				st = &SalesStats{
					ProductID:       line.ProductID,
					TotalRevenue:    decimal.Zero,
					DailyQuantities: make(map[string]int),
				}
				byProduct[line.ProductID] = st
			}
			st.TotalQuantity += line.Quantity
			st.TotalRevenue = st.TotalRevenue.Add(line.LineTotal)
			st.DailyQuantities[day] += line.Quantity
			if sale.CreatedAt.After(st.LastSaleAt) {
				st.LastSaleAt = sale.CreatedAt
			}
		}
	}

	out := make([]*SalesStats, 0, len(byProduct))
	for _, st := range byProduct {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProductID.String() < out[j].ProductID.String()
	})
	return out
}

// Suggestion is a strategy's recommendation for one product.
type Suggestion struct {
	Quantity int
	Inputs   domain.ForecastInputs
}

// ForecastStrategy turns sales statistics and current stock into a
// replenishment quantity. ok is false when the product does not qualify.
type ForecastStrategy interface {
	Name() domain.ForecastAlgorithm
	Window() int
	Suggest(stats *SalesStats, currentStock int) (s Suggestion, ok bool)
}

var (
	decOne         = decimal.NewFromInt(1)
	decTwo         = decimal.NewFromInt(2)
	variabilityCap = decimal.NewFromInt(2)
	frequencyCap   = decimal.RequireFromString("1.5")
)

// coverDays is how many days of average sales the simple strategy restocks.
const coverDays = 7

// SimpleStrategy suggests a week of average daily sales.
type SimpleStrategy struct {
	Days              int
	MinSalesThreshold int
}

func (SimpleStrategy) Name() domain.ForecastAlgorithm { return domain.AlgorithmSimple }

func (s SimpleStrategy) Window() int { return s.Days }

func (s SimpleStrategy) Suggest(stats *SalesStats, currentStock int) (Suggestion, bool) {
	if stats.TotalQuantity == 0 || stats.TotalQuantity < s.MinSalesThreshold {
		return Suggestion{}, false
	}

	// ceil(total / days * 7) in integers
	qty := (stats.TotalQuantity*coverDays + s.Days - 1) / s.Days

	return Suggestion{
		Quantity: qty,
		Inputs: domain.ForecastInputs{
			Days:              s.Days,
			MinSalesThreshold: s.MinSalesThreshold,
			TotalQuantity:     stats.TotalQuantity,
			TotalRevenue:      stats.TotalRevenue,
			AverageDailySales: averageDaily(stats.TotalQuantity, s.Days).Round(4),
			CurrentStock:      currentStock,
			LastSaleDate:      lastSale(stats),
		},
	}, true
}

// EnhancedStrategy scales average demand by safety stock, seasonality, sales
// variability and sales frequency, then nets out current stock.
type EnhancedStrategy struct {
	Days               int
	MinSalesThreshold  int
	DemandDays         int
	SafetyStockFactor  decimal.Decimal
	SeasonalAdjustment decimal.Decimal
}

func (EnhancedStrategy) Name() domain.ForecastAlgorithm { return domain.AlgorithmEnhanced }

func (e EnhancedStrategy) Window() int { return e.Days }

func (e EnhancedStrategy) Suggest(stats *SalesStats, currentStock int) (Suggestion, bool) {
	if stats.TotalQuantity < e.MinSalesThreshold {
		return Suggestion{}, false
	}

	days := decimal.NewFromInt(int64(e.Days))
	avg := averageDaily(stats.TotalQuantity, e.Days)

	base := avg.
		Mul(decimal.NewFromInt(int64(e.DemandDays))).
		Mul(e.SafetyStockFactor).
		Mul(e.SeasonalAdjustment)

	variability := decimal.NewFromInt(int64(stats.MaxDaily())).Div(decimal.Max(avg, decOne))
	variability = decimal.Min(variability, variabilityCap)
	base = base.Mul(variability)

	frequency := decimal.NewFromInt(int64(stats.DistinctDays())).Div(days)
	frequencyFactor := decimal.Min(frequency.Mul(decTwo), frequencyCap)
	base = base.Mul(frequencyFactor)

	// Division leaves long tails such as 40.40000000000001; round before ceil.
	net := base.Sub(decimal.NewFromInt(int64(currentStock))).Round(8).Ceil()
	if !net.IsPositive() {
		return Suggestion{}, false
	}

	variability = variability.Round(4)
	frequency = frequency.Round(4)
	frequencyFactor = frequencyFactor.Round(4)
	base = base.Round(4)
	safety, seasonal := e.SafetyStockFactor, e.SeasonalAdjustment

	return Suggestion{
		Quantity: int(net.IntPart()),
		Inputs: domain.ForecastInputs{
			Days:               e.Days,
			MinSalesThreshold:  e.MinSalesThreshold,
			DemandDays:         e.DemandDays,
			TotalQuantity:      stats.TotalQuantity,
			TotalRevenue:       stats.TotalRevenue,
			AverageDailySales:  avg.Round(4),
			MaxDailySales:      stats.MaxDaily(),
			MinDailySales:      stats.MinDaily(),
			DistinctSaleDays:   stats.DistinctDays(),
			SalesFrequency:     &frequency,
			SafetyStockFactor:  &safety,
			SeasonalAdjustment: &seasonal,
			VariabilityFactor:  &variability,
			FrequencyFactor:    &frequencyFactor,
			BaseDemand:         &base,
			CurrentStock:       currentStock,
			LastSaleDate:       lastSale(stats),
		},
	}, true
}

func averageDaily(total, days int) decimal.Decimal {
	return decimal.NewFromInt(int64(total)).Div(decimal.NewFromInt(int64(days)))
}

func lastSale(stats *SalesStats) *time.Time {
	if stats.LastSaleAt.IsZero() {
		return nil
	}
	t := stats.LastSaleAt
	return &t
}
