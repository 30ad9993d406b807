// internal/core/services/sales.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	idempotencyKeyPrefix  = "idem:sale:"
	idempotencyLockPrefix = "idem:sale:lock:"
	idempotencyLockTTL    = 30 * time.Second
)

// SaleService records point-of-sale transactions against the stock ledger.
type SaleService struct {
	store  ports.Store
	cache  ports.CacheRepository
	opts   Options
	logger *slog.Logger
}

// Statically assert that *SaleService implements the SaleService interface.
var _ ports.SaleService = (*SaleService)(nil)

// NewSaleService creates a sale service. cache may be nil, which disables
// idempotency keys.
func NewSaleService(store ports.Store, cache ports.CacheRepository, opts Options, logger *slog.Logger) *SaleService {
	return &SaleService{
		store:  store,
		cache:  cache,
		opts:   opts.withDefaults(),
		logger: logger.With(slog.String("service", "sales")),
	}
}

// CreateSale validates the request, plans FIFO allocations for every line and
// then persists the sale, the lot deductions and the customer aggregates in one
// transaction. Nothing is written unless every line can be satisfied.
func (s *SaleService) CreateSale(ctx context.Context, req ports.CreateSaleRequest) (*ports.CreateSaleResult, error) {
	if err := validateSaleRequest(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" && s.cache != nil {
		replay, release, err := s.claimIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if replay != nil {
			s.logger.InfoContext(ctx, "replayed sale for idempotency key",
				slog.String("sale_id", replay.ID))
			return &ports.CreateSaleResult{Sale: replay, Replayed: true}, nil
		}
		defer release()
	}

	var sale *domain.Sale
	err := retryOnConflict(ctx, s.logger, s.opts, "sale", func() error {
		var err error
		sale, err = s.createSale(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" && s.cache != nil {
		if err := s.cache.SetWithTTL(ctx, idempotencyKeyPrefix+req.IdempotencyKey, sale.ID, s.opts.IdempotencyTTL); err != nil {
			s.logger.WarnContext(ctx, "failed to remember idempotency key",
				slog.String("sale_id", sale.ID),
				slog.String("error", err.Error()))
		}
	}

	s.logger.InfoContext(ctx, "sale created",
		slog.String("sale_id", sale.ID),
		slog.String("location", sale.Location.String()),
		slog.Int("lines", len(sale.Lines)),
		slog.Int("units", sale.TotalQuantity()),
		slog.String("total_amount", sale.TotalAmount.StringFixed(2)))

	return &ports.CreateSaleResult{Sale: sale}, nil
}

func (s *SaleService) createSale(ctx context.Context, req ports.CreateSaleRequest) (*domain.Sale, error) {
	var sale *domain.Sale

	err := s.store.RunInTx(ctx, func(tx ports.Store) error {
		now := s.opts.Now()

		if req.CustomerID != nil {
			customer, err := tx.Customers().FindByID(ctx, *req.CustomerID)
			if err != nil {
				return fmt.Errorf("failed to load customer: %w", err)
			}
			if customer == nil {
				return domain.NewNotFoundError("customer", *req.CustomerID)
			}
		}

		reserved := Reservations{}
		lines := make([]domain.SaleLine, 0, len(req.Items))
		plans := make([][]LotAllocation, 0, len(req.Items))

		for i, item := range req.Items {
			product, lots, err := s.candidateLots(ctx, tx, req.Location, i, item)
			if err != nil {
				return err
			}

			plan, err := AllocateFIFO(product, req.Location, lots, item.Quantity, reserved)
			if err != nil {
				return err
			}

			// Without an explicit price each allocation keeps its lot's price and
			// the line shows the oldest lot's price.
			allocations := toAllocations(plan)
			unitPrice := plan[0].Lot.UnitPrice
			if item.UnitPrice != nil {
				unitPrice = *item.UnitPrice
				for j := range allocations {
					allocations[j].UnitPrice = unitPrice
				}
			}

			line := domain.SaleLine{
				ProductID:   product.ID,
				ProductName: product.Name,
				Allocations: allocations,
				Quantity:    item.Quantity,
				UnitPrice:   unitPrice,
				Discount:    item.Discount,
			}
			line.LineTotal = line.ComputeTotal()
			if line.LineTotal.IsNegative() {
				return domain.NewValidationError(fmt.Sprintf("items[%d].discount", i), "exceeds the line amount")
			}

			lines = append(lines, line)
			plans = append(plans, plan)
		}

		subtotal, total := domain.ComputeSaleTotals(lines, req.DiscountAmount)
		payments := resolvePayments(req, total)

		seq, err := tx.Sequences().Next(ctx, domain.TransactionSale, domain.DateKey(now, s.opts.Timezone))
		if err != nil {
			return fmt.Errorf("failed to allocate sale number: %w", err)
		}

		sale = &domain.Sale{
			ID:             domain.FormatTransactionID(domain.TransactionSale, domain.DateKey(now, s.opts.Timezone), seq),
			Location:       req.Location,
			CustomerID:     req.CustomerID,
			Lines:          lines,
			Subtotal:       subtotal,
			DiscountAmount: req.DiscountAmount,
			TotalAmount:    total,
			Payments:       payments,
			PaidAmount:     domain.SumPayments(payments),
			Notes:          req.Notes,
			Returns:        []domain.Return{},
			CreatedBy:      req.CreatedBy,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		if err := tx.Sales().Create(ctx, sale); err != nil {
			return fmt.Errorf("failed to save sale: %w", err)
		}

		var movements []*domain.StockMovement
		for _, plan := range plans {
			for _, step := range plan {
				if err := tx.Lots().Decrement(ctx, step.Lot.ID, step.Quantity); err != nil {
					return fmt.Errorf("failed to deduct lot %s: %w", step.Lot.ID, err)
				}
				movements = append(movements,
					domain.NewMovement(step.Lot, -step.Quantity, domain.MovementSale, sale.ID, req.CreatedBy, now))
			}
		}
		if err := tx.Movements().Record(ctx, movements...); err != nil {
			return fmt.Errorf("failed to journal sale movements: %w", err)
		}

		if req.CustomerID != nil {
			if err := tx.Customers().RecordPurchase(ctx, *req.CustomerID, total); err != nil {
				return fmt.Errorf("failed to update customer aggregates: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return sale, nil
}

// candidateLots resolves the product for an item and the lots it may draw
// from. Pre-selected lots must hold that product at the sale location.
func (s *SaleService) candidateLots(ctx context.Context, tx ports.Store, loc domain.Location, idx int, item ports.SaleItem) (*domain.Product, []*domain.StockLot, error) {
	productID := item.ProductID
	var lots []*domain.StockLot

	if len(item.LotIDs) > 0 {
		found, err := tx.Lots().ListByIDs(ctx, item.LotIDs)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load lots: %w", err)
		}
		byID := make(map[uuid.UUID]*domain.StockLot, len(found))
		for _, lot := range found {
			byID[lot.ID] = lot
		}

		seen := make(map[uuid.UUID]bool, len(item.LotIDs))
		for _, id := range item.LotIDs {
			lot, ok := byID[id]
			if !ok {
				return nil, nil, domain.NewNotFoundError("stock lot", id)
			}
			if seen[id] {
				continue
			}
			seen[id] = true

			if productID == uuid.Nil {
				productID = lot.ProductID
			}
			if lot.ProductID != productID {
				return nil, nil, domain.NewValidationError(fmt.Sprintf("items[%d].lot_ids", idx),
					"lot %s does not hold product %s", id, productID)
			}
			if lot.Location != loc {
				return nil, nil, domain.NewValidationError(fmt.Sprintf("items[%d].lot_ids", idx),
					"lot %s is not stocked at %s", id, loc)
			}
			lots = append(lots, lot)
		}
	}

	product, err := tx.Products().FindByID(ctx, productID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load product: %w", err)
	}
	if product == nil {
		return nil, nil, domain.NewNotFoundError("product", productID)
	}

	if len(item.LotIDs) == 0 {
		lots, err = tx.Lots().ListAvailable(ctx, productID, loc)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load lots: %w", err)
		}
	}

	return product, lots, nil
}

// GetSale loads a sale by its identifier.
func (s *SaleService) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := s.store.Sales().FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}
	if sale == nil {
		return nil, domain.NewNotFoundError("sale", id)
	}
	return sale, nil
}

// claimIdempotencyKey returns the earlier sale for key, or takes a short lock
// on key and returns its release func.
func (s *SaleService) claimIdempotencyKey(ctx context.Context, key string) (*domain.Sale, func(), error) {
	if sale, err := s.lookupIdempotentSale(ctx, key); sale != nil || err != nil {
		return sale, nil, err
	}

	lockKey := idempotencyLockPrefix + key
	ok, err := s.cache.SetNX(ctx, lockKey, s.opts.Now().Unix(), idempotencyLockTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock idempotency key: %w", err)
	}
	if !ok {
		return nil, nil, &domain.ConflictError{Resource: "idempotency key " + key}
	}
	release := func() {
		if err := s.cache.Delete(context.WithoutCancel(ctx), lockKey); err != nil {
			s.logger.WarnContext(ctx, "failed to release idempotency lock",
				slog.String("error", err.Error()))
		}
	}

	// The holder before us may have finished between the lookup and the lock.
	sale, err := s.lookupIdempotentSale(ctx, key)
	if sale != nil || err != nil {
		release()
		return sale, nil, err
	}
	return nil, release, nil
}

func (s *SaleService) lookupIdempotentSale(ctx context.Context, key string) (*domain.Sale, error) {
	var saleID string
	err := s.cache.Get(ctx, idempotencyKeyPrefix+key, &saleID)
	if errors.Is(err, ports.ErrCacheMiss) || (err == nil && saleID == "") {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	return s.GetSale(ctx, saleID)
}

func validateSaleRequest(req ports.CreateSaleRequest) error {
	if err := req.Location.Validate(); err != nil {
		return err
	}
	if req.CustomerID != nil && *req.CustomerID == uuid.Nil {
		return domain.NewValidationError("customer_id", "is not a valid identifier")
	}
	if len(req.Items) == 0 {
		return domain.NewValidationError("items", "at least one item is required")
	}
	for i, item := range req.Items {
		field := fmt.Sprintf("items[%d]", i)
		if item.ProductID == uuid.Nil && len(item.LotIDs) == 0 {
			return domain.NewValidationError(field+".product_id", "a product or lot reference is required")
		}
		if item.Quantity <= 0 {
			return domain.NewValidationError(field+".quantity", "must be positive")
		}
		if item.UnitPrice != nil && item.UnitPrice.IsNegative() {
			return domain.NewValidationError(field+".unit_price", "cannot be negative")
		}
		if item.Discount.IsNegative() {
			return domain.NewValidationError(field+".discount", "cannot be negative")
		}
	}
	if req.DiscountAmount.IsNegative() {
		return domain.NewValidationError("discount_amount", "cannot be negative")
	}
	for i, p := range req.Payments {
		if p.Method == "" {
			return domain.NewValidationError(fmt.Sprintf("payments[%d].method", i), "is required")
		}
		if p.Amount.IsNegative() {
			return domain.NewValidationError(fmt.Sprintf("payments[%d].amount", i), "cannot be negative")
		}
	}
	return nil
}

// resolvePayments uses the explicit breakdown when given. A bare payment
// method stands for one payment of the full total.
func resolvePayments(req ports.CreateSaleRequest, total decimal.Decimal) []domain.Payment {
	if len(req.Payments) > 0 {
		return req.Payments
	}
	if req.PaymentMethod != "" {
		return []domain.Payment{{Method: req.PaymentMethod, Amount: total}}
	}
	return []domain.Payment{}
}
