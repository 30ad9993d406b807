// internal/handlers/sales.go
package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
)

// IdempotencyKeyHeader lets clients retry a sale without selling twice.
const IdempotencyKeyHeader = "Idempotency-Key"

// SalesHandler exposes sales and returns.
type SalesHandler struct {
	responder
	sales   ports.SaleService
	returns ports.ReturnService
}

// NewSalesHandler creates a new sales handler
func NewSalesHandler(sales ports.SaleService, returns ports.ReturnService, logger *slog.Logger) *SalesHandler {
	return &SalesHandler{
		responder: responder{logger: logger.With(slog.String("handler", "sales"))},
		sales:     sales,
		returns:   returns,
	}
}

// SaleItemRequest is one requested sale line.
type SaleItemRequest struct {
	ProductID *uuid.UUID       `json:"product_id"`
	LotIDs    []uuid.UUID      `json:"lot_ids" validate:"required_without=ProductID"`
	Quantity  int              `json:"quantity" validate:"required,gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Discount  decimal.Decimal  `json:"discount"`
}

// PaymentRequest is one tender applied to the sale.
type PaymentRequest struct {
	Method string          `json:"method" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// CreateSaleRequest is the body of POST /api/v1/sales.
type CreateSaleRequest struct {
	Location       domain.Location   `json:"location"`
	CustomerID     *uuid.UUID        `json:"customer_id,omitempty"`
	Items          []SaleItemRequest `json:"items" validate:"required,min=1,dive"`
	PaymentMethod  string            `json:"payment_method,omitempty"`
	Payments       []PaymentRequest  `json:"payments" validate:"dive"`
	DiscountAmount decimal.Decimal   `json:"discount_amount"`
	Notes          string            `json:"notes,omitempty" validate:"max=1000"`
}

func (req CreateSaleRequest) toPort(createdBy, idempotencyKey string) ports.CreateSaleRequest {
	items := make([]ports.SaleItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = ports.SaleItem{
			LotIDs:    item.LotIDs,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Discount:  item.Discount,
		}
		if item.ProductID != nil {
			items[i].ProductID = *item.ProductID
		}
	}

	payments := make([]domain.Payment, len(req.Payments))
	for i, p := range req.Payments {
		payments[i] = domain.Payment{Method: p.Method, Amount: p.Amount}
	}

	return ports.CreateSaleRequest{
		Location:       req.Location,
		CustomerID:     req.CustomerID,
		Items:          items,
		PaymentMethod:  req.PaymentMethod,
		Payments:       payments,
		DiscountAmount: req.DiscountAmount,
		Notes:          req.Notes,
		CreatedBy:      createdBy,
		IdempotencyKey: idempotencyKey,
	}
}

// SaleResponse adds the outstanding balance to a sale.
type SaleResponse struct {
	*domain.Sale
	DueAmount decimal.Decimal `json:"due_amount"`
}

func newSaleResponse(sale *domain.Sale) SaleResponse {
	return SaleResponse{Sale: sale, DueAmount: sale.DueAmount()}
}

// CreateSale handles POST /api/v1/sales
func (h *SalesHandler) CreateSale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleError(ctx, w, err, "invalid sale request")
		return
	}
	if err := validateStruct(req); err != nil {
		h.handleError(ctx, w, err, "invalid sale request")
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	result, err := h.sales.CreateSale(ctx, req.toPort(actor(r), key))
	if err != nil {
		h.handleError(ctx, w, err, "failed to create sale")
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	h.respondJSON(w, status, newSaleResponse(result.Sale))
}

// GetSale handles GET /api/v1/sales/{id}
func (h *SalesHandler) GetSale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sale, err := h.sales.GetSale(ctx, r.PathValue("id"))
	if err != nil {
		h.handleError(ctx, w, err, "failed to get sale")
		return
	}

	h.respondJSON(w, http.StatusOK, newSaleResponse(sale))
}

// ReturnItemRequest puts quantity of one lot back into stock.
type ReturnItemRequest struct {
	LotID    uuid.UUID `json:"lot_id" validate:"required"`
	Quantity int       `json:"quantity" validate:"required,gt=0"`
	Reason   string    `json:"reason,omitempty" validate:"max=255"`
}

// CreateReturnRequest is the body of POST /api/v1/sales/{id}/returns.
type CreateReturnRequest struct {
	Items []ReturnItemRequest `json:"items" validate:"required,min=1,dive"`
	Notes string              `json:"notes,omitempty" validate:"max=1000"`
}

// CreateReturn handles POST /api/v1/sales/{id}/returns
func (h *SalesHandler) CreateReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleError(ctx, w, err, "invalid return request")
		return
	}
	if err := validateStruct(req); err != nil {
		h.handleError(ctx, w, err, "invalid return request")
		return
	}

	items := make([]domain.ReturnItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = domain.ReturnItem{LotID: item.LotID, Quantity: item.Quantity, Reason: item.Reason}
	}

	ret, err := h.returns.ProcessReturn(ctx, ports.ReturnRequest{
		SaleID:      r.PathValue("id"),
		Items:       items,
		Notes:       req.Notes,
		ProcessedBy: actor(r),
	})
	if err != nil {
		h.handleError(ctx, w, err, "failed to process return")
		return
	}

	h.respondJSON(w, http.StatusCreated, ret)
}
