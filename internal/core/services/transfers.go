// internal/core/services/transfers.go
package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/google/uuid"
)

// TransferService moves stock between locations using the same FIFO
// discipline as sales.
type TransferService struct {
	store  ports.Store
	opts   Options
	logger *slog.Logger
}

// Statically assert that *TransferService implements the TransferService interface.
var _ ports.TransferService = (*TransferService)(nil)

// NewTransferService creates a transfer service.
func NewTransferService(store ports.Store, opts Options, logger *slog.Logger) *TransferService {
	return &TransferService{
		store:  store,
		opts:   opts.withDefaults(),
		logger: logger.With(slog.String("service", "transfers")),
	}
}

// Transfer drains the oldest lots at the source and merges each allocation
// into the destination lot with the same batch, creating it when missing.
func (s *TransferService) Transfer(ctx context.Context, req ports.TransferRequest) (*ports.TransferResult, error) {
	if err := validateTransferRequest(req); err != nil {
		return nil, err
	}

	var result *ports.TransferResult
	err := retryOnConflict(ctx, s.logger, s.opts, "stock transfer", func() error {
		var err error
		result, err = s.transfer(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "stock transferred",
		slog.String("transfer_id", result.TransferID.String()),
		slog.String("product_id", req.ProductID.String()),
		slog.String("from", req.From.String()),
		slog.String("to", req.To.String()),
		slog.Int("quantity", req.Quantity),
		slog.Int("source_lots", len(result.Transferred)))

	return result, nil
}

func (s *TransferService) transfer(ctx context.Context, req ports.TransferRequest) (*ports.TransferResult, error) {
	result := &ports.TransferResult{TransferID: uuid.New()}

	err := s.store.RunInTx(ctx, func(tx ports.Store) error {
		now := s.opts.Now()
		reference := "transfer:" + result.TransferID.String()

		product, err := tx.Products().FindByID(ctx, req.ProductID)
		if err != nil {
			return fmt.Errorf("failed to load product: %w", err)
		}
		if product == nil {
			return domain.NewNotFoundError("product", req.ProductID)
		}

		lots, err := tx.Lots().ListAvailable(ctx, req.ProductID, req.From)
		if err != nil {
			return fmt.Errorf("failed to load source lots: %w", err)
		}

		plan, err := AllocateFIFO(product, req.From, lots, req.Quantity, nil)
		if err != nil {
			return err
		}

		lines := make([]ports.TransferLine, 0, len(plan))
		movements := make([]*domain.StockMovement, 0, 2*len(plan))

		for _, step := range plan {
			source := step.Lot
			if err := tx.Lots().Decrement(ctx, source.ID, step.Quantity); err != nil {
				return fmt.Errorf("failed to deduct source lot %s: %w", source.ID, err)
			}
			movements = append(movements,
				domain.NewMovement(source, -step.Quantity, domain.MovementTransferOut, reference, req.CreatedBy, now))

			dest, err := s.receive(ctx, tx, source, req.To, step.Quantity)
			if err != nil {
				return err
			}
			movements = append(movements,
				domain.NewMovement(dest, step.Quantity, domain.MovementTransferIn, reference, req.CreatedBy, now))

			lines = append(lines, ports.TransferLine{
				SourceLotID:         source.ID,
				DestinationLotID:    dest.ID,
				BatchNumber:         source.BatchNumber,
				QuantityTransferred: step.Quantity,
			})
		}

		if err := tx.Movements().Record(ctx, movements...); err != nil {
			return fmt.Errorf("failed to journal transfer movements: %w", err)
		}

		result.Transferred = lines
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// receive adds qty of source's batch at loc and returns the lot that holds it.
func (s *TransferService) receive(ctx context.Context, tx ports.Store, source *domain.StockLot, loc domain.Location, qty int) (*domain.StockLot, error) {
	dest, err := tx.Lots().FindByBatch(ctx, source.ProductID, loc, source.BatchNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to look up destination lot: %w", err)
	}

	if dest != nil {
		if err := tx.Lots().Increment(ctx, dest.ID, qty); err != nil {
			return nil, fmt.Errorf("failed to credit destination lot %s: %w", dest.ID, err)
		}
		dest.Quantity += qty
		return dest, nil
	}

	dest = &domain.StockLot{
		ProductID:   source.ProductID,
		Location:    loc,
		BatchNumber: source.BatchNumber,
		Quantity:    qty,
		UnitCost:    source.UnitCost,
		UnitPrice:   source.UnitPrice,
		ReceivedAt:  source.ReceivedAt,
	}
	if source.ExpiryDate != nil {
		expiry := *source.ExpiryDate
		dest.ExpiryDate = &expiry
	}
	dest.PrepareForStorage(s.opts.Now())

	if err := tx.Lots().Create(ctx, dest); err != nil {
		return nil, fmt.Errorf("failed to create destination lot: %w", err)
	}
	return dest, nil
}

func validateTransferRequest(req ports.TransferRequest) error {
	if req.ProductID == uuid.Nil {
		return domain.NewValidationError("product_id", "is required")
	}
	if err := req.From.Validate(); err != nil {
		return domain.NewValidationError("from", "%s", err.Error())
	}
	if err := req.To.Validate(); err != nil {
		return domain.NewValidationError("to", "%s", err.Error())
	}
	if req.From == req.To {
		return domain.NewValidationError("to", "must differ from the source location")
	}
	if req.Quantity <= 0 {
		return domain.NewValidationError("quantity", "must be positive")
	}
	return nil
}
