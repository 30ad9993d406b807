// internal/handlers/demands.go
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/ammerola/stockledger/internal/workers"
)

// DemandHandler runs forecasts and reviews the resulting demands.
type DemandHandler struct {
	responder
	demands ports.DemandService
	jobs    *workers.JobTracker
	queue   Enqueuer
}

// NewDemandHandler creates a new demand handler
func NewDemandHandler(demands ports.DemandService, jobs *workers.JobTracker, queue Enqueuer, logger *slog.Logger) *DemandHandler {
	return &DemandHandler{
		responder: responder{logger: logger.With(slog.String("handler", "demands"))},
		demands:   demands,
		jobs:      jobs,
		queue:     queue,
	}
}

// GenerateDemandRequest is the body of POST /api/v1/demands/generate. Omitted
// fields fall back to the configured forecast defaults.
type GenerateDemandRequest struct {
	Algorithm          domain.ForecastAlgorithm `json:"algorithm,omitempty" validate:"omitempty,oneof=simple enhanced"`
	Location           *domain.Location         `json:"location,omitempty"`
	Days               int                      `json:"days,omitempty" validate:"gte=0,lte=365"`
	MinSalesThreshold  *int                     `json:"min_sales_threshold,omitempty" validate:"omitempty,gte=0"`
	DemandDays         int                      `json:"demand_days,omitempty" validate:"gte=0,lte=365"`
	SafetyStockFactor  *decimal.Decimal         `json:"safety_stock_factor,omitempty"`
	SeasonalAdjustment *decimal.Decimal         `json:"seasonal_adjustment,omitempty"`
	Notes              string                   `json:"notes,omitempty" validate:"max=1000"`
}

func (req GenerateDemandRequest) toPort(createdBy string) ports.GenerateDemandRequest {
	return ports.GenerateDemandRequest{
		Algorithm:          req.Algorithm,
		Location:           req.Location,
		Days:               req.Days,
		MinSalesThreshold:  req.MinSalesThreshold,
		DemandDays:         req.DemandDays,
		SafetyStockFactor:  req.SafetyStockFactor,
		SeasonalAdjustment: req.SeasonalAdjustment,
		Notes:              req.Notes,
		CreatedBy:          createdBy,
	}
}

// Generate handles POST /api/v1/demands/generate
func (h *DemandHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req GenerateDemandRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			h.handleError(ctx, w, err, "invalid generate request")
			return
		}
	}
	if err := validateStruct(req); err != nil {
		h.handleError(ctx, w, err, "invalid generate request")
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		h.enqueueGenerate(w, r, req.toPort(actor(r)))
		return
	}

	result, err := h.demands.Generate(ctx, req.toPort(actor(r)))
	if err != nil {
		h.handleError(ctx, w, err, "failed to generate demands")
		return
	}
	if result.Demands == nil {
		result.Demands = []*domain.Demand{}
	}

	h.respondJSON(w, http.StatusCreated, result)
}

func (h *DemandHandler) enqueueGenerate(w http.ResponseWriter, r *http.Request, req ports.GenerateDemandRequest) {
	ctx := r.Context()
	jobID := uuid.New().String()

	task, err := workers.NewGenerateDemandTask(workers.NewGenerateDemandPayload(jobID, req))
	if err != nil {
		h.handleError(ctx, w, err, "failed to create generate task")
		return
	}

	if err := h.jobs.Queue(ctx, jobID, workers.TypeGenerateDemand); err != nil {
		h.logger.WarnContext(ctx, "failed to record job status",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
	}

	info, err := h.queue.EnqueueContext(ctx, task,
		asynq.Queue(workers.QueueDefault),
		asynq.MaxRetry(2),
		asynq.Timeout(10*time.Minute),
		asynq.Retention(24*time.Hour))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to enqueue task",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
		h.respondError(w, http.StatusInternalServerError, "Failed to queue demand generation")
		return
	}

	h.logger.InfoContext(ctx, "demand generation queued",
		slog.String("job_id", jobID),
		slog.String("task_id", info.ID))

	h.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":  jobID,
		"status":  workers.JobQueued,
		"message": "Demand generation has been queued for processing",
	})
}

// ListDemands handles GET /api/v1/demands
func (h *DemandHandler) ListDemands(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseDemandFilter(r)
	if err != nil {
		h.handleError(ctx, w, err, "invalid demand filter")
		return
	}

	demands, err := h.demands.List(ctx, filter)
	if err != nil {
		h.handleError(ctx, w, err, "failed to list demands")
		return
	}
	if demands == nil {
		demands = []*domain.Demand{}
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"demands": demands,
		"count":   len(demands),
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// UpdateDemandRequest is the body of PATCH /api/v1/demands/{id}.
type UpdateDemandRequest struct {
	Status domain.DemandStatus `json:"status" validate:"required,oneof=approved rejected expired"`
}

// UpdateDemand handles PATCH /api/v1/demands/{id}
func (h *DemandHandler) UpdateDemand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UpdateDemandRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleError(ctx, w, err, "invalid demand update")
		return
	}
	if err := validateStruct(req); err != nil {
		h.handleError(ctx, w, err, "invalid demand update")
		return
	}

	demand, err := h.demands.UpdateStatus(ctx, r.PathValue("id"), req.Status)
	if err != nil {
		h.handleError(ctx, w, err, "failed to update demand")
		return
	}

	h.respondJSON(w, http.StatusOK, demand)
}

func parseDemandFilter(r *http.Request) (ports.DemandFilter, error) {
	var filter ports.DemandFilter
	q := r.URL.Query()

	if raw := q.Get("status"); raw != "" {
		status := domain.DemandStatus(raw)
		if !status.IsValid() {
			return filter, domain.NewValidationError("status", "unknown status %q", raw)
		}
		filter.Status = &status
	}
	if raw := q.Get("algorithm"); raw != "" {
		algorithm := domain.ForecastAlgorithm(raw)
		if !algorithm.IsValid() {
			return filter, domain.NewValidationError("algorithm", "unknown algorithm %q", raw)
		}
		filter.Algorithm = &algorithm
	}

	productID, err := queryUUID(r, "product_id")
	if err != nil {
		return filter, err
	}
	filter.ProductID = productID

	if filter.Limit, err = queryInt(r, "limit", 100); err != nil {
		return filter, err
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		return filter, err
	}
	return filter, nil
}
