// internal/core/services/returns.go
package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/google/uuid"
)

// ReturnService puts returned goods back into the lots they were sold from.
type ReturnService struct {
	store  ports.Store
	opts   Options
	logger *slog.Logger
}

// Statically assert that *ReturnService implements the ReturnService interface.
var _ ports.ReturnService = (*ReturnService)(nil)

// NewReturnService creates a return service.
func NewReturnService(store ports.Store, opts Options, logger *slog.Logger) *ReturnService {
	return &ReturnService{
		store:  store,
		opts:   opts.withDefaults(),
		logger: logger.With(slog.String("service", "returns")),
	}
}

// ProcessReturn validates each item against what the sale took from that lot,
// net of earlier returns, then restocks the lots and appends the return to the
// sale. Customer aggregates are left as they are.
func (s *ReturnService) ProcessReturn(ctx context.Context, req ports.ReturnRequest) (*domain.Return, error) {
	if err := validateReturnRequest(req); err != nil {
		return nil, err
	}

	var (
		ret  *domain.Return
		sale *domain.Sale
	)
	err := retryOnConflict(ctx, s.logger, s.opts, "sale return", func() error {
		var err error
		ret, sale, err = s.processReturn(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "return processed",
		slog.String("sale_id", sale.ID),
		slog.String("return_id", ret.ID.String()),
		slog.Int("items", len(ret.Items)))
	if sale.CustomerID != nil {
		s.logger.InfoContext(ctx, "customer aggregates unchanged by return",
			slog.String("sale_id", sale.ID),
			slog.String("customer_id", sale.CustomerID.String()))
	}

	return ret, nil
}

func (s *ReturnService) processReturn(ctx context.Context, req ports.ReturnRequest) (*domain.Return, *domain.Sale, error) {
	var (
		ret  *domain.Return
		sale *domain.Sale
	)

	err := s.store.RunInTx(ctx, func(tx ports.Store) error {
		var err error
		sale, err = tx.Sales().FindByIDForUpdate(ctx, req.SaleID)
		if err != nil {
			return fmt.Errorf("failed to load sale: %w", err)
		}
		if sale == nil {
			return domain.NewNotFoundError("sale", req.SaleID)
		}

		requested := make(map[uuid.UUID]int, len(req.Items))
		ids := make([]uuid.UUID, 0, len(req.Items))
		for i, item := range req.Items {
			sold := sale.SoldFromLot(item.LotID)
			if sold == 0 {
				return domain.NewValidationError(fmt.Sprintf("items[%d].lot_id", i),
					"lot %s is not part of sale %s", item.LotID, sale.ID)
			}
			already := sale.ReturnedToLot(item.LotID) + requested[item.LotID]
			if already+item.Quantity > sold {
				return domain.NewValidationError(fmt.Sprintf("items[%d].quantity", i),
					"over-return for lot %s: sold %d, already returned %d, requested %d",
					item.LotID, sold, already, item.Quantity)
			}
			if _, ok := requested[item.LotID]; !ok {
				ids = append(ids, item.LotID)
			}
			requested[item.LotID] += item.Quantity
		}

		lots, err := tx.Lots().ListByIDs(ctx, ids)
		if err != nil {
			return fmt.Errorf("failed to load lots: %w", err)
		}
		byID := make(map[uuid.UUID]*domain.StockLot, len(lots))
		for _, lot := range lots {
			byID[lot.ID] = lot
		}
		for _, id := range ids {
			lot := byID[id]
			if lot == nil {
				return domain.NewNotFoundError("stock lot", id)
			}
			if product, _ := sale.ProductForLot(id); lot.ProductID != product {
				return domain.NewValidationError("items",
					"lot %s holds product %s but sale %s sold %s from it", id, lot.ProductID, sale.ID, product)
			}
		}

		now := s.opts.Now()
		ret = &domain.Return{
			ID:          uuid.New(),
			SaleID:      sale.ID,
			Items:       req.Items,
			Notes:       req.Notes,
			ProcessedBy: req.ProcessedBy,
			CreatedAt:   now,
		}

		movements := make([]*domain.StockMovement, 0, len(req.Items))
		for _, item := range req.Items {
			if err := tx.Lots().Increment(ctx, item.LotID, item.Quantity); err != nil {
				return fmt.Errorf("failed to restock lot %s: %w", item.LotID, err)
			}
			movements = append(movements,
				domain.NewMovement(byID[item.LotID], item.Quantity, domain.MovementReturn, sale.ID, req.ProcessedBy, now))
		}

		if err := tx.Sales().AppendReturn(ctx, sale.ID, *ret); err != nil {
			return fmt.Errorf("failed to record return: %w", err)
		}
		if err := tx.Movements().Record(ctx, movements...); err != nil {
			return fmt.Errorf("failed to journal return movements: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return ret, sale, nil
}

func validateReturnRequest(req ports.ReturnRequest) error {
	if req.SaleID == "" {
		return domain.NewValidationError("sale_id", "is required")
	}
	if len(req.Items) == 0 {
		return domain.NewValidationError("items", "at least one item is required")
	}
	for i, item := range req.Items {
		if item.LotID == uuid.Nil {
			return domain.NewValidationError(fmt.Sprintf("items[%d].lot_id", i), "is required")
		}
		if item.Quantity <= 0 {
			return domain.NewValidationError(fmt.Sprintf("items[%d].quantity", i), "must be positive")
		}
	}
	return nil
}
