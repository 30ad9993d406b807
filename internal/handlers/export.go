// internal/handlers/export.go
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	redis_a "github.com/ammerola/stockledger/internal/adapters/redis_adapter"
	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/ammerola/stockledger/internal/workers"
)

// exportCacheTTL bounds how stale a cached JSON export may be.
const exportCacheTTL = time.Minute

// ExportMetadata describes an export
type ExportMetadata struct {
	ExportDate time.Time           `json:"export_date"`
	TotalItems int                 `json:"total_items"`
	Filter     ExportFilterSummary `json:"filter"`
}

// ExportFilterSummary echoes the filters applied to an export.
type ExportFilterSummary struct {
	Status    *domain.DemandStatus      `json:"status,omitempty"`
	ProductID *uuid.UUID                `json:"product_id,omitempty"`
	Algorithm *domain.ForecastAlgorithm `json:"algorithm,omitempty"`
}

// JSONExportResponse represents the JSON export response structure
type JSONExportResponse struct {
	Demands  []*domain.Demand `json:"demands"`
	Metadata ExportMetadata   `json:"metadata"`
}

// ExportHandler handles export operations
type ExportHandler struct {
	responder
	demands ports.DemandService
	cache   ports.CacheRepository
	jobs    *workers.JobTracker
	queue   Enqueuer
}

// NewExportHandler creates a new export handler
func NewExportHandler(demands ports.DemandService, cache ports.CacheRepository, jobs *workers.JobTracker, queue Enqueuer, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{
		responder: responder{logger: logger.With(slog.String("handler", "export"))},
		demands:   demands,
		cache:     cache,
		jobs:      jobs,
		queue:     queue,
	}
}

// ExportDemands handles GET /api/v1/demands/export. The workbook is built
// inline; ?format=json returns the same rows as JSON.
func (h *ExportHandler) ExportDemands(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseDemandFilter(r)
	if err != nil {
		h.handleError(ctx, w, err, "invalid export filter")
		return
	}

	if r.URL.Query().Get("format") == "json" {
		h.exportJSON(ctx, w, filter)
		return
	}

	h.logger.InfoContext(ctx, "starting demand export")

	demands, err := workers.CollectDemands(ctx, h.demands, filter)
	if err != nil {
		h.handleError(ctx, w, err, "failed to retrieve demands")
		return
	}

	data, err := workers.RenderDemandWorkbook(demands)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to generate Excel file", slog.String("error", err.Error()))
		h.respondError(w, http.StatusInternalServerError, "Failed to generate Excel file")
		return
	}

	filename := fmt.Sprintf("demands_export_%s.xlsx", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", workers.XLSXContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	if _, err := w.Write(data); err != nil {
		h.logger.ErrorContext(ctx, "failed to write Excel response", slog.String("error", err.Error()))
		return
	}

	h.logger.InfoContext(ctx, "demand export completed",
		slog.Int("total_rows", len(demands)),
		slog.String("filename", filename))
}

func (h *ExportHandler) exportJSON(ctx context.Context, w http.ResponseWriter, filter ports.DemandFilter) {
	cacheKey := redis_a.BuildKey(redis_a.PrefixExport, "demands", exportCacheKey(filter))
	if h.cache != nil {
		var cached json.RawMessage
		if err := h.cache.Get(ctx, cacheKey, &cached); err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			w.Write(cached)
			return
		}
	}

	demands, err := workers.CollectDemands(ctx, h.demands, filter)
	if err != nil {
		h.handleError(ctx, w, err, "failed to retrieve demands")
		return
	}
	if demands == nil {
		demands = []*domain.Demand{}
	}

	body, err := json.Marshal(JSONExportResponse{
		Demands: demands,
		Metadata: ExportMetadata{
			ExportDate: time.Now().UTC(),
			TotalItems: len(demands),
			Filter: ExportFilterSummary{
				Status:    filter.Status,
				ProductID: filter.ProductID,
				Algorithm: filter.Algorithm,
			},
		},
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to marshal JSON export", slog.String("error", err.Error()))
		h.respondError(w, http.StatusInternalServerError, "Failed to generate JSON")
		return
	}

	if h.cache != nil {
		if err := h.cache.SetWithTTL(ctx, cacheKey, json.RawMessage(body), exportCacheTTL); err != nil {
			h.logger.WarnContext(ctx, "failed to cache JSON export", slog.String("error", err.Error()))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	w.Write(body)
}

// QueueExport handles POST /api/v1/demands/export. The workbook is built by
// the worker and published through object storage.
func (h *ExportHandler) QueueExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseDemandFilter(r)
	if err != nil {
		h.handleError(ctx, w, err, "invalid export filter")
		return
	}

	jobID := uuid.New().String()
	task, err := workers.NewExportDemandsTask(workers.ExportDemandsPayload{
		JobID:     jobID,
		Status:    filter.Status,
		ProductID: filter.ProductID,
		Algorithm: filter.Algorithm,
		CreatedBy: actor(r),
	})
	if err != nil {
		h.handleError(ctx, w, err, "failed to create export task")
		return
	}

	if err := h.jobs.Queue(ctx, jobID, workers.TypeExportDemands); err != nil {
		h.logger.WarnContext(ctx, "failed to record job status",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
	}

	info, err := h.queue.EnqueueContext(ctx, task,
		asynq.Queue(workers.QueueLow),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to enqueue task",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
		h.respondError(w, http.StatusInternalServerError, "Failed to queue export job")
		return
	}

	h.logger.InfoContext(ctx, "demand export queued",
		slog.String("job_id", jobID),
		slog.String("task_id", info.ID))

	h.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":  jobID,
		"status":  workers.JobQueued,
		"message": "Demand export has been queued for processing",
	})
}

func exportCacheKey(filter ports.DemandFilter) string {
	key := "all"
	if filter.Status != nil {
		key += "_status_" + string(*filter.Status)
	}
	if filter.ProductID != nil {
		key += "_product_" + filter.ProductID.String()
	}
	if filter.Algorithm != nil {
		key += "_algo_" + string(*filter.Algorithm)
	}
	return key
}
