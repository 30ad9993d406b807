// internal/core/domain/demand.go
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DemandStatus tracks a replenishment suggestion through review.
type DemandStatus string

const (
	DemandPending  DemandStatus = "pending"
	DemandApproved DemandStatus = "approved"
	DemandRejected DemandStatus = "rejected"
	DemandExpired  DemandStatus = "expired"
)

func (s DemandStatus) IsValid() bool {
	switch s {
	case DemandPending, DemandApproved, DemandRejected, DemandExpired:
		return true
	}
	return false
}

// CanTransitionTo allows only pending demands to be resolved.
func (s DemandStatus) CanTransitionTo(next DemandStatus) bool {
	if s != DemandPending {
		return false
	}
	return next == DemandApproved || next == DemandRejected || next == DemandExpired
}

// ForecastAlgorithm names a forecasting strategy.
type ForecastAlgorithm string

const (
	AlgorithmSimple   ForecastAlgorithm = "simple"
	AlgorithmEnhanced ForecastAlgorithm = "enhanced"
)

func (a ForecastAlgorithm) IsValid() bool {
	return a == AlgorithmSimple || a == AlgorithmEnhanced
}

// ForecastInputs keeps the figures a suggestion was derived from.
type ForecastInputs struct {
	Days               int              `json:"days"`
	MinSalesThreshold  int              `json:"min_sales_threshold"`
	DemandDays         int              `json:"demand_days,omitempty"`
	TotalQuantity      int              `json:"total_quantity"`
	TotalRevenue       decimal.Decimal  `json:"total_revenue"`
	AverageDailySales  decimal.Decimal  `json:"average_daily_sales"`
	MaxDailySales      int              `json:"max_daily_sales,omitempty"`
	MinDailySales      int              `json:"min_daily_sales,omitempty"`
	DistinctSaleDays   int              `json:"distinct_sale_days,omitempty"`
	SalesFrequency     *decimal.Decimal `json:"sales_frequency,omitempty"`
	SafetyStockFactor  *decimal.Decimal `json:"safety_stock_factor,omitempty"`
	SeasonalAdjustment *decimal.Decimal `json:"seasonal_adjustment,omitempty"`
	VariabilityFactor  *decimal.Decimal `json:"variability_factor,omitempty"`
	FrequencyFactor    *decimal.Decimal `json:"frequency_factor,omitempty"`
	BaseDemand         *decimal.Decimal `json:"base_demand,omitempty"`
	CurrentStock       int              `json:"current_stock"`
	LastSaleDate       *time.Time       `json:"last_sale_date,omitempty"`
}

// Demand is a system generated replenishment suggestion awaiting review.
type Demand struct {
	ID                string            `json:"id"`
	ProductID         uuid.UUID         `json:"product_id"`
	Location          *Location         `json:"location,omitempty"`
	SuggestedQuantity int               `json:"suggested_quantity"`
	Algorithm         ForecastAlgorithm `json:"algorithm"`
	Status            DemandStatus      `json:"status"`
	Inputs            ForecastInputs    `json:"inputs"`
	Notes             string            `json:"notes,omitempty"`
	CreatedBy         string            `json:"created_by,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// NewDemandID returns DEM + a second-resolution timestamp + a random suffix.
func NewDemandID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "DEM" + now.UTC().Format("060102150405") + suffix
}
