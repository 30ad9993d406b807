// internal/workers/demand_processor.go
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
)

// GenerateResult is stored as the result of an async forecasting job.
type GenerateResult struct {
	GeneratedCount int      `json:"generated_count"`
	DemandIDs      []string `json:"demand_ids"`
}

// DemandProcessor runs forecasting jobs
type DemandProcessor struct {
	demands ports.DemandService
	jobs    *JobTracker
	logger  *slog.Logger
}

// NewDemandProcessor creates a new demand processor
func NewDemandProcessor(demands ports.DemandService, jobs *JobTracker, logger *slog.Logger) *DemandProcessor {
	return &DemandProcessor{
		demands: demands,
		jobs:    jobs,
		logger:  logger.With(slog.String("processor", "demand")),
	}
}

// ProcessGenerate handles demand:generate. A run that loses the single-flight
// lock is dropped since the winner writes the same suggestions.
func (p *DemandProcessor) ProcessGenerate(ctx context.Context, t *asynq.Task) error {
	var payload GenerateDemandPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "generating demands",
		slog.String("job_id", payload.JobID),
		slog.String("algorithm", string(payload.Algorithm)))

	if err := p.jobs.Start(ctx, payload.JobID, TypeGenerateDemand); err != nil {
		p.logger.WarnContext(ctx, "failed to update job status", slog.String("error", err.Error()))
	}

	result, err := p.demands.Generate(ctx, payload.Request())
	if err != nil {
		p.fail(ctx, payload.JobID, err)

		switch {
		case errors.Is(err, domain.ErrConflict):
			p.logger.WarnContext(ctx, "demand generation already running, skipping",
				slog.String("job_id", payload.JobID))
			return nil
		case errors.Is(err, domain.ErrValidation):
			return fmt.Errorf("invalid forecast request: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("failed to generate demands: %w", err)
	}

	ids := make([]string, 0, len(result.Demands))
	for _, d := range result.Demands {
		ids = append(ids, d.ID)
	}
	if err := p.jobs.Complete(ctx, payload.JobID, TypeGenerateDemand, GenerateResult{
		GeneratedCount: result.GeneratedCount,
		DemandIDs:      ids,
	}); err != nil {
		p.logger.WarnContext(ctx, "failed to update job status", slog.String("error", err.Error()))
	}

	p.logger.InfoContext(ctx, "demand generation completed",
		slog.String("job_id", payload.JobID),
		slog.Int("generated_count", result.GeneratedCount))
	return nil
}

func (p *DemandProcessor) fail(ctx context.Context, jobID string, cause error) {
	if err := p.jobs.Fail(ctx, jobID, TypeGenerateDemand, cause); err != nil {
		p.logger.WarnContext(ctx, "failed to update job status", slog.String("error", err.Error()))
	}
}
