// internal/handlers/transfers.go
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
)

// TransferHandler moves stock between locations.
type TransferHandler struct {
	responder
	transfers ports.TransferService
}

// NewTransferHandler creates a new transfer handler
func NewTransferHandler(transfers ports.TransferService, logger *slog.Logger) *TransferHandler {
	return &TransferHandler{
		responder: responder{logger: logger.With(slog.String("handler", "transfers"))},
		transfers: transfers,
	}
}

// TransferRequest is the body of POST /api/v1/transfers.
type TransferRequest struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	From      domain.Location `json:"from"`
	To        domain.Location `json:"to"`
	Quantity  int             `json:"quantity" validate:"required,gt=0"`
}

// Transfer handles POST /api/v1/transfers
func (h *TransferHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleError(ctx, w, err, "invalid transfer request")
		return
	}
	if err := validateStruct(req); err != nil {
		h.handleError(ctx, w, err, "invalid transfer request")
		return
	}

	result, err := h.transfers.Transfer(ctx, ports.TransferRequest{
		ProductID: req.ProductID,
		From:      req.From,
		To:        req.To,
		Quantity:  req.Quantity,
		CreatedBy: actor(r),
	})
	if err != nil {
		h.handleError(ctx, w, err, "failed to transfer stock")
		return
	}

	h.logger.InfoContext(ctx, "stock transferred",
		slog.String("transfer_id", result.TransferID.String()),
		slog.String("from", req.From.String()),
		slog.String("to", req.To.String()),
		slog.Int("quantity", req.Quantity))

	h.respondJSON(w, http.StatusCreated, result)
}
