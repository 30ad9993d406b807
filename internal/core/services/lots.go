// internal/core/services/lots.go
package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/google/uuid"
)

// LotService handles stock intake and lot lookups
type LotService struct {
	store  ports.Store
	opts   Options
	logger *slog.Logger
}

// Statically assert that *LotService implements the LotService interface.
var _ ports.LotService = (*LotService)(nil)

// NewLotService creates a new lot service
func NewLotService(store ports.Store, opts Options, logger *slog.Logger) *LotService {
	return &LotService{
		store:  store,
		opts:   opts.withDefaults(),
		logger: logger.With(slog.String("service", "lots")),
	}
}

// Intake records newly received stock as a lot.
func (s *LotService) Intake(ctx context.Context, req ports.IntakeRequest) (*domain.StockLot, error) {
	if req.Quantity <= 0 {
		return nil, domain.NewValidationError("quantity", "must be positive")
	}

	lot := &domain.StockLot{
		ProductID:   req.ProductID,
		Location:    req.Location,
		BatchNumber: req.BatchNumber,
		Quantity:    req.Quantity,
		UnitCost:    req.UnitCost,
		UnitPrice:   req.UnitPrice,
		ExpiryDate:  req.ExpiryDate,
	}
	if req.ReceivedAt != nil {
		lot.ReceivedAt = *req.ReceivedAt
	}
	if err := lot.Validate(); err != nil {
		return nil, err
	}

	err := s.store.RunInTx(ctx, func(tx ports.Store) error {
		product, err := tx.Products().FindByID(ctx, lot.ProductID)
		if err != nil {
			return fmt.Errorf("failed to load product: %w", err)
		}
		if product == nil {
			return domain.NewNotFoundError("product", lot.ProductID)
		}

		now := s.opts.Now()
		lot.PrepareForStorage(now)
		if err := tx.Lots().Create(ctx, lot); err != nil {
			return fmt.Errorf("failed to save lot: %w", err)
		}
		return tx.Movements().Record(ctx,
			domain.NewMovement(lot, lot.Quantity, domain.MovementIntake, "intake", req.CreatedBy, now))
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "stock received",
		slog.String("lot_id", lot.ID.String()),
		slog.String("product_id", lot.ProductID.String()),
		slog.String("location", lot.Location.String()),
		slog.Int("quantity", lot.Quantity))

	return lot, nil
}

// GetByID retrieves a lot by ID
func (s *LotService) GetByID(ctx context.Context, id uuid.UUID) (*domain.StockLot, error) {
	lot, err := s.store.Lots().FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get lot: %w", err)
	}
	if lot == nil {
		return nil, domain.NewNotFoundError("stock lot", id)
	}
	return lot, nil
}

// List returns lots matching filter, oldest first.
func (s *LotService) List(ctx context.Context, filter ports.LotFilter) ([]*domain.StockLot, error) {
	if filter.Location != nil {
		if err := filter.Location.Validate(); err != nil {
			return nil, err
		}
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	lots, err := s.store.Lots().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list lots: %w", err)
	}
	return lots, nil
}

// Movements returns the journal of a lot, oldest first.
func (s *LotService) Movements(ctx context.Context, lotID uuid.UUID) ([]*domain.StockMovement, error) {
	if _, err := s.GetByID(ctx, lotID); err != nil {
		return nil, err
	}
	movements, err := s.store.Movements().ListByLot(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}
	return movements, nil
}
