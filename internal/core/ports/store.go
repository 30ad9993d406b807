// internal/core/ports/store.go
package ports

import (
	"context"
	"time"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store groups the ledger repositories and the transaction boundary that spans
// them. Repositories obtained from the tx argument of RunInTx take part in
// that transaction; lot reads through them lock the returned rows.
type Store interface {
	Lots() LotRepository
	Sales() SaleRepository
	Customers() CustomerRepository
	Products() ProductRepository
	Sequences() SequenceRepository
	Demands() DemandRepository
	Movements() MovementRepository

	// RunInTx runs fn atomically. Any error rolls back every write made
	// through tx. Nested calls join the outer transaction.
	RunInTx(ctx context.Context, fn func(tx Store) error) error
}

// LotFilter narrows lot listings.
type LotFilter struct {
	ProductID   *uuid.UUID
	Location    *domain.Location
	BatchNumber *string
	InStockOnly bool
	Limit       int
	Offset      int
}

// LotRepository persists stock lots. Finders return nil, nil when nothing matches.
type LotRepository interface {
	Create(ctx context.Context, lot *domain.StockLot) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.StockLot, error)
	// ListAvailable returns lots of product at loc with quantity > 0, oldest first.
	ListAvailable(ctx context.Context, productID uuid.UUID, loc domain.Location) ([]*domain.StockLot, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.StockLot, error)
	FindByBatch(ctx context.Context, productID uuid.UUID, loc domain.Location, batch string) (*domain.StockLot, error)
	// Decrement lowers quantity only if enough remains. Otherwise it fails
	// with domain.ErrConflict and changes nothing.
	Decrement(ctx context.Context, id uuid.UUID, qty int) error
	Increment(ctx context.Context, id uuid.UUID, qty int) error
	// StockOnHand sums quantity for product, across all locations when loc is nil.
	StockOnHand(ctx context.Context, productID uuid.UUID, loc *domain.Location) (int, error)
	List(ctx context.Context, filter LotFilter) ([]*domain.StockLot, error)
}

// SaleRepository persists sales and their returns.
type SaleRepository interface {
	Create(ctx context.Context, sale *domain.Sale) error
	FindByID(ctx context.Context, id string) (*domain.Sale, error)
	FindByIDForUpdate(ctx context.Context, id string) (*domain.Sale, error)
	AppendReturn(ctx context.Context, saleID string, ret domain.Return) error
	ListSince(ctx context.Context, since time.Time, loc *domain.Location) ([]*domain.Sale, error)
}

// CustomerRepository reads customers and maintains their purchase aggregates.
type CustomerRepository interface {
	Create(ctx context.Context, customer *domain.Customer) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error)
	// RecordPurchase atomically adds one order and amount to the aggregates.
	RecordPurchase(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
}

// ProductRepository reads catalogue products.
type ProductRepository interface {
	Create(ctx context.Context, product *domain.Product) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
}

// SequenceRepository issues date scoped transaction numbers.
type SequenceRepository interface {
	// Next atomically increments and returns the counter for (txType, dateKey).
	// The first value for a new key is 1.
	Next(ctx context.Context, txType domain.TransactionType, dateKey string) (int64, error)
}

// DemandFilter narrows demand listings.
type DemandFilter struct {
	Status    *domain.DemandStatus
	ProductID *uuid.UUID
	Algorithm *domain.ForecastAlgorithm
	Limit     int
	Offset    int
}

// DemandRepository persists replenishment suggestions.
type DemandRepository interface {
	CreateBatch(ctx context.Context, demands []*domain.Demand) error
	FindByID(ctx context.Context, id string) (*domain.Demand, error)
	List(ctx context.Context, filter DemandFilter) ([]*domain.Demand, error)
	// UpdateStatus moves a demand from one status to another and fails with
	// domain.ErrConflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to domain.DemandStatus, at time.Time) error
	// ExpirePending marks pending demands created before cutoff as expired.
	ExpirePending(ctx context.Context, cutoff, at time.Time) (int64, error)
}

// MovementRepository journals lot quantity changes.
type MovementRepository interface {
	Record(ctx context.Context, movements ...*domain.StockMovement) error
	ListByLot(ctx context.Context, lotID uuid.UUID) ([]*domain.StockMovement, error)
}
