// internal/workers/cleanup_processor.go
package workers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/ammerola/stockledger/internal/core/ports"
)

// CleanupProcessor handles periodic housekeeping
type CleanupProcessor struct {
	demands ports.DemandService
	logger  *slog.Logger
}

// NewCleanupProcessor creates a new cleanup processor
func NewCleanupProcessor(demands ports.DemandService, logger *slog.Logger) *CleanupProcessor {
	return &CleanupProcessor{
		demands: demands,
		logger:  logger.With(slog.String("processor", "cleanup")),
	}
}

// ExpireDemands marks pending demands past their TTL as expired
func (p *CleanupProcessor) ExpireDemands(ctx context.Context, t *asynq.Task) error {
	var payload ExpireDemandsPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "expiring stale demands")

	expired, err := p.demands.ExpireStale(ctx, payload.OlderThan)
	if err != nil {
		return fmt.Errorf("failed to expire demands: %w", err)
	}

	p.logger.InfoContext(ctx, "stale demands expired",
		slog.Int64("rows_expired", expired))

	return nil
}
