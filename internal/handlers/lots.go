// internal/handlers/lots.go
package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
)

// LotHandler handles stock intake and lot lookups.
type LotHandler struct {
	responder
	lots ports.LotService
}

// NewLotHandler creates a new lot handler
func NewLotHandler(lots ports.LotService, logger *slog.Logger) *LotHandler {
	return &LotHandler{
		responder: responder{logger: logger.With(slog.String("handler", "lots"))},
		lots:      lots,
	}
}

// IntakeRequest is the body of POST /api/v1/lots.
type IntakeRequest struct {
	ProductID   uuid.UUID       `json:"product_id" validate:"required"`
	Location    domain.Location `json:"location"`
	BatchNumber string          `json:"batch_number,omitempty" validate:"max=100"`
	Quantity    int             `json:"quantity" validate:"required,gt=0"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
	ReceivedAt  *time.Time      `json:"received_at,omitempty"`
}

// CreateLot handles POST /api/v1/lots
func (h *LotHandler) CreateLot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req IntakeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleError(ctx, w, err, "invalid intake request")
		return
	}
	if err := validateStruct(req); err != nil {
		h.handleError(ctx, w, err, "invalid intake request")
		return
	}

	lot, err := h.lots.Intake(ctx, ports.IntakeRequest{
		ProductID:   req.ProductID,
		Location:    req.Location,
		BatchNumber: req.BatchNumber,
		Quantity:    req.Quantity,
		UnitCost:    req.UnitCost,
		UnitPrice:   req.UnitPrice,
		ExpiryDate:  req.ExpiryDate,
		ReceivedAt:  req.ReceivedAt,
		CreatedBy:   actor(r),
	})
	if err != nil {
		h.handleError(ctx, w, err, "failed to receive stock")
		return
	}

	h.respondJSON(w, http.StatusCreated, lot)
}

// GetLot handles GET /api/v1/lots/{id}
func (h *LotHandler) GetLot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathUUID(r, "id")
	if err != nil {
		h.handleError(ctx, w, err, "invalid lot id")
		return
	}

	lot, err := h.lots.GetByID(ctx, id)
	if err != nil {
		h.handleError(ctx, w, err, "failed to get lot")
		return
	}

	h.respondJSON(w, http.StatusOK, lot)
}

// ListLots handles GET /api/v1/lots
func (h *LotHandler) ListLots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseLotFilter(r)
	if err != nil {
		h.handleError(ctx, w, err, "invalid lot filter")
		return
	}

	lots, err := h.lots.List(ctx, filter)
	if err != nil {
		h.handleError(ctx, w, err, "failed to list lots")
		return
	}
	if lots == nil {
		lots = []*domain.StockLot{}
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"lots":   lots,
		"count":  len(lots),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// Movements handles GET /api/v1/lots/{id}/movements
func (h *LotHandler) Movements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathUUID(r, "id")
	if err != nil {
		h.handleError(ctx, w, err, "invalid lot id")
		return
	}

	movements, err := h.lots.Movements(ctx, id)
	if err != nil {
		h.handleError(ctx, w, err, "failed to list movements")
		return
	}
	if movements == nil {
		movements = []*domain.StockMovement{}
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"lot_id":    id,
		"movements": movements,
	})
}

func parseLotFilter(r *http.Request) (ports.LotFilter, error) {
	var filter ports.LotFilter
	q := r.URL.Query()

	productID, err := queryUUID(r, "product_id")
	if err != nil {
		return filter, err
	}
	filter.ProductID = productID

	kind, id := q.Get("location_kind"), q.Get("location_id")
	if kind != "" || id != "" {
		loc := domain.Location{Kind: domain.LocationKind(strings.ToLower(kind)), ID: id}
		if err := loc.Validate(); err != nil {
			return filter, err
		}
		filter.Location = &loc
	}

	if batch := q.Get("batch_number"); batch != "" {
		filter.BatchNumber = &batch
	}
	filter.InStockOnly = q.Get("in_stock") == "true"

	if filter.Limit, err = queryInt(r, "limit", 100); err != nil {
		return filter, err
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		return filter, err
	}
	return filter, nil
}
