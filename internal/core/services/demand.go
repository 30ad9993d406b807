// internal/core/services/demand.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/shopspring/decimal"
)

// ForecastDefaults fill in whatever a generate request leaves unset.
type ForecastDefaults struct {
	Algorithm          domain.ForecastAlgorithm
	Days               int
	MinSalesThreshold  int
	DemandDays         int
	SafetyStockFactor  decimal.Decimal
	SeasonalAdjustment decimal.Decimal
	PendingTTL         time.Duration
	LockTTL            time.Duration
}

// DefaultForecastDefaults returns 30 analysed days, a threshold of one unit,
// seven demand days, a 1.2 safety factor and no seasonal adjustment.
func DefaultForecastDefaults() ForecastDefaults {
	return ForecastDefaults{
		Algorithm:          domain.AlgorithmEnhanced,
		Days:               30,
		MinSalesThreshold:  1,
		DemandDays:         7,
		SafetyStockFactor:  decimal.RequireFromString("1.2"),
		SeasonalAdjustment: decimal.NewFromInt(1),
		PendingTTL:         14 * 24 * time.Hour,
		LockTTL:            2 * time.Minute,
	}
}

// DemandService runs forecasting strategies and manages pending demands.
type DemandService struct {
	store    ports.Store
	locker   ports.Locker
	defaults ForecastDefaults
	opts     Options
	logger   *slog.Logger
}

// Statically assert that *DemandService implements the DemandService interface.
var _ ports.DemandService = (*DemandService)(nil)

// NewDemandService creates a demand service. locker may be nil, in which case
// concurrent runs are not deduplicated.
func NewDemandService(store ports.Store, locker ports.Locker, defaults ForecastDefaults, opts Options, logger *slog.Logger) *DemandService {
	d := DefaultForecastDefaults()
	if !defaults.Algorithm.IsValid() {
		defaults.Algorithm = d.Algorithm
	}
	if defaults.Days <= 0 {
		defaults.Days = d.Days
	}
	if defaults.DemandDays <= 0 {
		defaults.DemandDays = d.DemandDays
	}
	if !defaults.SafetyStockFactor.IsPositive() {
		defaults.SafetyStockFactor = d.SafetyStockFactor
	}
	if !defaults.SeasonalAdjustment.IsPositive() {
		defaults.SeasonalAdjustment = d.SeasonalAdjustment
	}
	if defaults.PendingTTL <= 0 {
		defaults.PendingTTL = d.PendingTTL
	}
	if defaults.LockTTL <= 0 {
		defaults.LockTTL = d.LockTTL
	}

	return &DemandService{
		store:    store,
		locker:   locker,
		defaults: defaults,
		opts:     opts.withDefaults(),
		logger:   logger.With(slog.String("service", "demand")),
	}
}

// Strategy builds the forecasting strategy a request asks for.
func (s *DemandService) Strategy(req ports.GenerateDemandRequest) (ForecastStrategy, error) {
	algorithm := req.Algorithm
	if algorithm == "" {
		algorithm = s.defaults.Algorithm
	}

	days := req.Days
	if days == 0 {
		days = s.defaults.Days
	}
	if days < 0 {
		return nil, domain.NewValidationError("days", "must be positive")
	}

	threshold := s.defaults.MinSalesThreshold
	if req.MinSalesThreshold != nil {
		threshold = *req.MinSalesThreshold
	}
	if threshold < 0 {
		return nil, domain.NewValidationError("min_sales_threshold", "cannot be negative")
	}

	switch algorithm {
	case domain.AlgorithmSimple:
		return SimpleStrategy{Days: days, MinSalesThreshold: threshold}, nil

	case domain.AlgorithmEnhanced:
		demandDays := req.DemandDays
		if demandDays == 0 {
			demandDays = s.defaults.DemandDays
		}
		if demandDays < 0 {
			return nil, domain.NewValidationError("demand_days", "must be positive")
		}
		safety := s.defaults.SafetyStockFactor
		if req.SafetyStockFactor != nil {
			safety = *req.SafetyStockFactor
		}
		if safety.IsNegative() {
			return nil, domain.NewValidationError("safety_stock_factor", "cannot be negative")
		}
		seasonal := s.defaults.SeasonalAdjustment
		if req.SeasonalAdjustment != nil {
			seasonal = *req.SeasonalAdjustment
		}
		if seasonal.IsNegative() {
			return nil, domain.NewValidationError("seasonal_adjustment", "cannot be negative")
		}
		return EnhancedStrategy{
			Days:               days,
			MinSalesThreshold:  threshold,
			DemandDays:         demandDays,
			SafetyStockFactor:  safety,
			SeasonalAdjustment: seasonal,
		}, nil
	}

	return nil, domain.NewValidationError("algorithm", "unknown forecasting algorithm %q", algorithm)
}

// Generate forecasts demand for every product sold in the window and stores
// one pending demand per qualifying product. It never touches stock or sales.
func (s *DemandService) Generate(ctx context.Context, req ports.GenerateDemandRequest) (*ports.GenerateDemandResult, error) {
	strategy, err := s.Strategy(req)
	if err != nil {
		return nil, err
	}
	if req.Location != nil {
		if err := req.Location.Validate(); err != nil {
			return nil, err
		}
	}

	if s.locker != nil {
		key := fmt.Sprintf("lock:demand:%s:%s", strategy.Name(), scopeOf(req.Location))
		lock, err := s.locker.Obtain(ctx, key, s.defaults.LockTTL)
		if errors.Is(err, ports.ErrLockNotObtained) {
			return nil, &domain.ConflictError{Resource: "demand generation " + scopeOf(req.Location)}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to obtain demand lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "failed to release demand lock", slog.String("error", err.Error()))
			}
		}()
	}

	now := s.opts.Now()
	since := now.AddDate(0, 0, -strategy.Window())

	sales, err := s.store.Sales().ListSince(ctx, since, req.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to load sales history: %w", err)
	}

	stats := AggregateSales(sales, s.opts.Timezone)
	demands := make([]*domain.Demand, 0, len(stats))

	for _, st := range stats {
		stock, err := s.store.Lots().StockOnHand(ctx, st.ProductID, req.Location)
		if err != nil {
			return nil, fmt.Errorf("failed to read stock for product %s: %w", st.ProductID, err)
		}

		suggestion, ok := strategy.Suggest(st, stock)
		if !ok {
			continue
		}

		demand := &domain.Demand{
			ID:                domain.NewDemandID(now),
			ProductID:         st.ProductID,
			SuggestedQuantity: suggestion.Quantity,
			Algorithm:         strategy.Name(),
			Status:            domain.DemandPending,
			Inputs:            suggestion.Inputs,
			Notes:             req.Notes,
			CreatedBy:         req.CreatedBy,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if req.Location != nil {
			loc := *req.Location
			demand.Location = &loc
		}
		demands = append(demands, demand)
	}

	if len(demands) > 0 {
		if err := s.store.Demands().CreateBatch(ctx, demands); err != nil {
			return nil, fmt.Errorf("failed to save demands: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "demand generation finished",
		slog.String("algorithm", string(strategy.Name())),
		slog.String("scope", scopeOf(req.Location)),
		slog.Int("sales_analyzed", len(sales)),
		slog.Int("products_analyzed", len(stats)),
		slog.Int("demands_generated", len(demands)))

	return &ports.GenerateDemandResult{GeneratedCount: len(demands), Demands: demands}, nil
}

// List returns demands matching filter.
func (s *DemandService) List(ctx context.Context, filter ports.DemandFilter) ([]*domain.Demand, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	demands, err := s.store.Demands().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list demands: %w", err)
	}
	return demands, nil
}

// UpdateStatus resolves a pending demand.
func (s *DemandService) UpdateStatus(ctx context.Context, id string, status domain.DemandStatus) (*domain.Demand, error) {
	if !status.IsValid() {
		return nil, domain.NewValidationError("status", "unknown status %q", status)
	}

	demand, err := s.store.Demands().FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load demand: %w", err)
	}
	if demand == nil {
		return nil, domain.NewNotFoundError("demand", id)
	}
	if !demand.Status.CanTransitionTo(status) {
		return nil, domain.NewValidationError("status", "cannot move demand from %s to %s", demand.Status, status)
	}

	now := s.opts.Now()
	if err := s.store.Demands().UpdateStatus(ctx, id, demand.Status, status, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, &domain.ConflictError{Resource: "demand " + id, Err: err}
		}
		return nil, fmt.Errorf("failed to update demand: %w", err)
	}

	s.logger.InfoContext(ctx, "demand status updated",
		slog.String("demand_id", id),
		slog.String("from", string(demand.Status)),
		slog.String("to", string(status)))

	demand.Status = status
	demand.UpdatedAt = now
	return demand, nil
}

// ExpireStale expires pending demands older than olderThan, or the configured
// pending TTL when olderThan is zero.
func (s *DemandService) ExpireStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = s.defaults.PendingTTL
	}
	now := s.opts.Now()

	n, err := s.store.Demands().ExpirePending(ctx, now.Add(-olderThan), now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire demands: %w", err)
	}

	s.logger.InfoContext(ctx, "expired stale demands",
		slog.Int64("count", n),
		slog.Duration("older_than", olderThan))
	return n, nil
}

func scopeOf(loc *domain.Location) string {
	if loc == nil {
		return "all"
	}
	return loc.String()
}
