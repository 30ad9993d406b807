// internal/handlers/respond.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/handlers/middleware"
)

// Enqueuer submits background tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`

	ProductID *uuid.UUID `json:"product_id,omitempty"`
	Location  string     `json:"location,omitempty"`
	Available *int       `json:"available,omitempty"`
	Requested *int       `json:"requested,omitempty"`
}

// responder carries the JSON helpers shared by every handler.
type responder struct {
	logger *slog.Logger
}

func (h responder) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (h responder) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{Error: message})
}

// handleError maps service errors onto HTTP statuses. Unknown errors are
// logged and answered with an opaque 500.
func (h responder) handleError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	var (
		failedErr     *ValidationFailedError
		validationErr *domain.ValidationError
		notFoundErr   *domain.NotFoundError
		stockErr      *domain.InsufficientStockError
		conflictErr   *domain.ConflictError
	)

	switch {
	case errors.As(err, &failedErr):
		h.respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: failedErr.Error(), Details: failedErr.Fields})

	case errors.As(err, &validationErr):
		resp := ErrorResponse{Error: validationErr.Error()}
		if validationErr.Field != "" {
			resp.Details = map[string]string{validationErr.Field: validationErr.Message}
		}
		h.respondJSON(w, http.StatusBadRequest, resp)

	case errors.As(err, &notFoundErr):
		h.respondError(w, http.StatusNotFound, notFoundErr.Error())

	case errors.As(err, &stockErr):
		productID := stockErr.ProductID
		h.respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:     stockErr.Error(),
			ProductID: &productID,
			Location:  stockErr.Location.String(),
			Available: &stockErr.Available,
			Requested: &stockErr.Requested,
		})

	case errors.As(err, &conflictErr), errors.Is(err, domain.ErrConflict):
		h.logger.WarnContext(ctx, msg, slog.String("error", err.Error()))
		w.Header().Set("Retry-After", "1")
		h.respondError(w, http.StatusServiceUnavailable, "The resource is busy, please retry")

	default:
		h.logger.ErrorContext(ctx, msg, slog.String("error", err.Error()))
		h.respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decodeJSON reads a JSON body, rejecting unknown fields.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.NewValidationError("", "invalid request body: %s", err.Error())
	}
	return nil
}

// actor returns the caller identity forwarded by the gateway.
func actor(r *http.Request) string {
	if userID := middleware.UserIDFromContext(r.Context()); userID != "" {
		return userID
	}
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, domain.NewValidationError(name, "must be a UUID")
	}
	return id, nil
}

func queryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, domain.NewValidationError(name, "must be a UUID")
	}
	return &id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.NewValidationError(name, "must be a non-negative integer")
	}
	return n, nil
}
