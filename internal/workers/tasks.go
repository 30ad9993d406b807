// internal/workers/tasks.go
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	redis_a "github.com/ammerola/stockledger/internal/adapters/redis_adapter"
	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
)

const (
	TypeGenerateDemand = "demand:generate"
	TypeExportDemands  = "demand:export"
	TypeExpireDemands  = "demand:expire"
	TypeImportLots     = "lots:import"
)

// Queue names, matching the weights configured for the asynq server.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// GenerateDemandPayload carries a forecasting run. Zero fields fall back to
// the configured forecast defaults.
type GenerateDemandPayload struct {
	JobID              string                   `json:"job_id,omitempty"`
	Algorithm          domain.ForecastAlgorithm `json:"algorithm,omitempty"`
	Location           *domain.Location         `json:"location,omitempty"`
	Days               int                      `json:"days,omitempty"`
	MinSalesThreshold  *int                     `json:"min_sales_threshold,omitempty"`
	DemandDays         int                      `json:"demand_days,omitempty"`
	SafetyStockFactor  *decimal.Decimal         `json:"safety_stock_factor,omitempty"`
	SeasonalAdjustment *decimal.Decimal         `json:"seasonal_adjustment,omitempty"`
	Notes              string                   `json:"notes,omitempty"`
	CreatedBy          string                   `json:"created_by,omitempty"`
}

// NewGenerateDemandPayload copies req into a task payload.
func NewGenerateDemandPayload(jobID string, req ports.GenerateDemandRequest) GenerateDemandPayload {
	return GenerateDemandPayload{
		JobID:              jobID,
		Algorithm:          req.Algorithm,
		Location:           req.Location,
		Days:               req.Days,
		MinSalesThreshold:  req.MinSalesThreshold,
		DemandDays:         req.DemandDays,
		SafetyStockFactor:  req.SafetyStockFactor,
		SeasonalAdjustment: req.SeasonalAdjustment,
		Notes:              req.Notes,
		CreatedBy:          req.CreatedBy,
	}
}

// Request converts the payload back into a service request.
func (p GenerateDemandPayload) Request() ports.GenerateDemandRequest {
	return ports.GenerateDemandRequest{
		Algorithm:          p.Algorithm,
		Location:           p.Location,
		Days:               p.Days,
		MinSalesThreshold:  p.MinSalesThreshold,
		DemandDays:         p.DemandDays,
		SafetyStockFactor:  p.SafetyStockFactor,
		SeasonalAdjustment: p.SeasonalAdjustment,
		Notes:              p.Notes,
		CreatedBy:          p.CreatedBy,
	}
}

// ExportDemandsPayload selects the demands written to an export workbook.
type ExportDemandsPayload struct {
	JobID     string                    `json:"job_id"`
	Status    *domain.DemandStatus      `json:"status,omitempty"`
	ProductID *uuid.UUID                `json:"product_id,omitempty"`
	Algorithm *domain.ForecastAlgorithm `json:"algorithm,omitempty"`
	CreatedBy string                    `json:"created_by,omitempty"`
}

// Filter returns the listing filter of the export.
func (p ExportDemandsPayload) Filter() ports.DemandFilter {
	return ports.DemandFilter{Status: p.Status, ProductID: p.ProductID, Algorithm: p.Algorithm}
}

// ExpireDemandsPayload overrides the pending TTL for one expiry run.
type ExpireDemandsPayload struct {
	OlderThan time.Duration `json:"older_than,omitempty"`
}

// ImportLotsPayload points at an uploaded lot workbook.
type ImportLotsPayload struct {
	JobID     string `json:"job_id"`
	ObjectKey string `json:"object_key"`
	CreatedBy string `json:"created_by,omitempty"`
}

// NewGenerateDemandTask creates a demand:generate task.
func NewGenerateDemandTask(p GenerateDemandPayload) (*asynq.Task, error) {
	return newTask(TypeGenerateDemand, p)
}

// NewExportDemandsTask creates a demand:export task.
func NewExportDemandsTask(p ExportDemandsPayload) (*asynq.Task, error) {
	return newTask(TypeExportDemands, p)
}

// NewExpireDemandsTask creates a demand:expire task.
func NewExpireDemandsTask(p ExpireDemandsPayload) (*asynq.Task, error) {
	return newTask(TypeExpireDemands, p)
}

// NewImportLotsTask creates a lots:import task.
func NewImportLotsTask(p ImportLotsPayload) (*asynq.Task, error) {
	return newTask(TypeImportLots, p)
}

func newTask(typeName string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", typeName, err)
	}
	return asynq.NewTask(typeName, data), nil
}

// decodePayload unmarshals a task payload. Malformed payloads are never retried.
func decodePayload(t *asynq.Task, dest any) error {
	if len(t.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload(), dest); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	return nil
}

// JobState is the lifecycle of a tracked background job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// JobStatus is what GET /jobs/{id} reports.
type JobStatus struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	State     JobState        `json:"state"`
	Error     string          `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// DefaultJobTTL is how long a job status stays readable.
const DefaultJobTTL = 24 * time.Hour

// JobTracker keeps job statuses in the cache under job:<id>.
type JobTracker struct {
	cache ports.CacheRepository
	ttl   time.Duration
	now   func() time.Time
}

// NewJobTracker creates a tracker. A non-positive ttl uses DefaultJobTTL.
func NewJobTracker(cache ports.CacheRepository, ttl time.Duration) *JobTracker {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	return &JobTracker{cache: cache, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

func jobKey(id string) string {
	return redis_a.BuildKey(redis_a.PrefixJob, id)
}

// Get returns the status of job id, or nil when it is unknown or expired.
func (j *JobTracker) Get(ctx context.Context, id string) (*JobStatus, error) {
	var status JobStatus
	if err := j.cache.Get(ctx, jobKey(id), &status); err != nil {
		if errors.Is(err, ports.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read job status: %w", err)
	}
	return &status, nil
}

func (j *JobTracker) Queue(ctx context.Context, id, taskType string) error {
	return j.update(ctx, id, taskType, func(s *JobStatus) { s.State = JobQueued })
}

func (j *JobTracker) Start(ctx context.Context, id, taskType string) error {
	return j.update(ctx, id, taskType, func(s *JobStatus) {
		s.State = JobRunning
		s.Error = ""
	})
}

// Complete records a successful run and its result.
func (j *JobTracker) Complete(ctx context.Context, id, taskType string, result any) error {
	var raw json.RawMessage
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal job result: %w", err)
		}
		raw = data
	}
	return j.update(ctx, id, taskType, func(s *JobStatus) {
		s.State = JobCompleted
		s.Result = raw
	})
}

func (j *JobTracker) Fail(ctx context.Context, id, taskType string, cause error) error {
	return j.update(ctx, id, taskType, func(s *JobStatus) {
		s.State = JobFailed
		s.Error = cause.Error()
	})
}

func (j *JobTracker) update(ctx context.Context, id, taskType string, apply func(*JobStatus)) error {
	if id == "" {
		return nil
	}
	now := j.now()

	status, err := j.Get(ctx, id)
	if err != nil {
		return err
	}
	if status == nil {
		status = &JobStatus{ID: id, Type: taskType, CreatedAt: now}
	}
	apply(status)
	status.UpdatedAt = now

	if err := j.cache.SetWithTTL(ctx, jobKey(id), status, j.ttl); err != nil {
		return fmt.Errorf("failed to store job status: %w", err)
	}
	return nil
}
