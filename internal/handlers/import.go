// internal/handlers/import.go
package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/ammerola/stockledger/internal/workers"
)

// ImportHandler accepts lot workbooks for background intake and reports
// background job status.
type ImportHandler struct {
	responder
	storage     ports.ObjectStorage
	jobs        *workers.JobTracker
	queue       Enqueuer
	maxFileSize int64
}

// NewImportHandler creates a new import handler
func NewImportHandler(storage ports.ObjectStorage, jobs *workers.JobTracker, queue Enqueuer, maxFileSize int64, logger *slog.Logger) *ImportHandler {
	return &ImportHandler{
		responder:   responder{logger: logger.With(slog.String("handler", "import"))},
		storage:     storage,
		jobs:        jobs,
		queue:       queue,
		maxFileSize: maxFileSize,
	}
}

// ImportObjectKey is where an uploaded workbook waits for its job.
func ImportObjectKey(jobID string) string {
	return fmt.Sprintf("imports/%s.xlsx", jobID)
}

// ImportLots handles POST /api/v1/lots/import
func (h *ImportHandler) ImportLots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize)
	if err := r.ParseMultipartForm(h.maxFileSize); err != nil {
		h.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "File is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType != workers.XLSXContentType && !strings.HasSuffix(strings.ToLower(header.Filename), ".xlsx") {
		h.respondError(w, http.StatusBadRequest, "Only Excel workbooks are allowed")
		return
	}

	jobID := uuid.New().String()
	key := ImportObjectKey(jobID)
	if _, err := h.storage.Upload(ctx, key, file, workers.XLSXContentType); err != nil {
		h.logger.ErrorContext(ctx, "failed to store upload",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()))
		h.respondError(w, http.StatusInternalServerError, "Failed to save upload")
		return
	}

	if err := h.jobs.Queue(ctx, jobID, workers.TypeImportLots); err != nil {
		h.logger.WarnContext(ctx, "failed to record job status",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
	}

	task, err := workers.NewImportLotsTask(workers.ImportLotsPayload{
		JobID:     jobID,
		ObjectKey: key,
		CreatedBy: actor(r),
	})
	if err != nil {
		h.handleError(ctx, w, err, "failed to create import task")
		return
	}

	info, err := h.queue.EnqueueContext(ctx, task,
		asynq.Queue(workers.QueueDefault),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to enqueue task",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
		if delErr := h.storage.Delete(ctx, key); delErr != nil {
			h.logger.WarnContext(ctx, "failed to remove orphaned upload",
				slog.String("key", key),
				slog.String("error", delErr.Error()))
		}
		h.respondError(w, http.StatusInternalServerError, "Failed to queue import job")
		return
	}

	h.logger.InfoContext(ctx, "lot import queued",
		slog.String("job_id", jobID),
		slog.String("task_id", info.ID),
		slog.String("filename", header.Filename))

	h.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":  jobID,
		"status":  workers.JobQueued,
		"message": "Lot import has been queued for processing",
	})
}

// JobStatus handles GET /api/v1/jobs/{id}
func (h *ImportHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := r.PathValue("id")

	status, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to get job status",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
		h.respondError(w, http.StatusInternalServerError, "Failed to get job status")
		return
	}

	if status == nil {
		h.respondError(w, http.StatusNotFound, "Job not found")
		return
	}

	h.respondJSON(w, http.StatusOK, status)
}
