// internal/core/ports/ledger_service.go
package ports

import (
	"context"
	"time"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaleItem is one requested sale line. LotIDs optionally pre-select the lots
// to draw from. ProductID may be omitted when LotIDs are given.
type SaleItem struct {
	ProductID uuid.UUID
	LotIDs    []uuid.UUID
	Quantity  int
	// UnitPrice defaults to the oldest candidate lot's retail price.
	UnitPrice *decimal.Decimal
	Discount  decimal.Decimal
}

// CreateSaleRequest holds the inputs of createSale.
type CreateSaleRequest struct {
	Location       domain.Location
	CustomerID     *uuid.UUID
	Items          []SaleItem
	PaymentMethod  string
	Payments       []domain.Payment
	DiscountAmount decimal.Decimal
	Notes          string
	CreatedBy      string
	IdempotencyKey string
}

// CreateSaleResult wraps the sale. Replayed is set when an idempotency key
// matched an earlier sale.
type CreateSaleResult struct {
	Sale     *domain.Sale
	Replayed bool
}

// SaleService records sales.
type SaleService interface {
	CreateSale(ctx context.Context, req CreateSaleRequest) (*CreateSaleResult, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
}

// TransferRequest moves quantity of a product between locations.
type TransferRequest struct {
	ProductID uuid.UUID
	From      domain.Location
	To        domain.Location
	Quantity  int
	CreatedBy string
}

// TransferLine echoes one source lot allocation of a transfer.
type TransferLine struct {
	SourceLotID         uuid.UUID `json:"source_lot_id"`
	DestinationLotID    uuid.UUID `json:"destination_lot_id"`
	BatchNumber         string    `json:"batch_number"`
	QuantityTransferred int       `json:"quantity_transferred"`
}

// TransferResult lists what moved, in allocation order.
type TransferResult struct {
	TransferID  uuid.UUID      `json:"transfer_id"`
	Transferred []TransferLine `json:"transferred"`
}

// TransferService moves stock between locations.
type TransferService interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// ReturnRequest reverses part of a sale.
type ReturnRequest struct {
	SaleID      string
	Items       []domain.ReturnItem
	Notes       string
	ProcessedBy string
}

// ReturnService processes returns against earlier sales.
type ReturnService interface {
	ProcessReturn(ctx context.Context, req ReturnRequest) (*domain.Return, error)
}

// GenerateDemandRequest configures one forecasting run. Zero values fall
// back to configured defaults.
type GenerateDemandRequest struct {
	Algorithm          domain.ForecastAlgorithm
	Location           *domain.Location
	Days               int
	MinSalesThreshold  *int
	DemandDays         int
	SafetyStockFactor  *decimal.Decimal
	SeasonalAdjustment *decimal.Decimal
	Notes              string
	CreatedBy          string
}

// GenerateDemandResult reports the pending demands written by a run.
type GenerateDemandResult struct {
	GeneratedCount int              `json:"generated_count"`
	Demands        []*domain.Demand `json:"demands"`
}

// DemandService forecasts replenishment and manages the resulting demands.
type DemandService interface {
	Generate(ctx context.Context, req GenerateDemandRequest) (*GenerateDemandResult, error)
	List(ctx context.Context, filter DemandFilter) ([]*domain.Demand, error)
	UpdateStatus(ctx context.Context, id string, status domain.DemandStatus) (*domain.Demand, error)
	ExpireStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IntakeRequest receives new stock at a location.
type IntakeRequest struct {
	ProductID   uuid.UUID
	Location    domain.Location
	BatchNumber string
	Quantity    int
	UnitCost    decimal.Decimal
	UnitPrice   decimal.Decimal
	ExpiryDate  *time.Time
	ReceivedAt  *time.Time
	CreatedBy   string
}

// LotService manages stock intake and lot lookups.
type LotService interface {
	Intake(ctx context.Context, req IntakeRequest) (*domain.StockLot, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.StockLot, error)
	List(ctx context.Context, filter LotFilter) ([]*domain.StockLot, error)
	Movements(ctx context.Context, lotID uuid.UUID) ([]*domain.StockMovement, error)
}
