package workers_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redis_a "github.com/ammerola/stockledger/internal/adapters/redis_adapter"
	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/ammerola/stockledger/internal/workers"
	"github.com/ammerola/stockledger/test/helpers"
)

func newJobTracker(t *testing.T) (*workers.JobTracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := redis_a.NewCache(client, time.Hour, helpers.TestLogger())
	return workers.NewJobTracker(cache, time.Hour), mr
}

func TestJobTracker_Lifecycle(t *testing.T) {
	ctx := context.Background()
	jobs, mr := newJobTracker(t)

	t.Run("unknown_job_is_nil", func(t *testing.T) {
		status, err := jobs.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, status)
	})

	t.Run("queued_then_completed", func(t *testing.T) {
		require.NoError(t, jobs.Queue(ctx, "job-1", workers.TypeImportLots))

		queued, err := jobs.Get(ctx, "job-1")
		require.NoError(t, err)
		require.NotNil(t, queued)
		assert.Equal(t, workers.JobQueued, queued.State)
		assert.Equal(t, workers.TypeImportLots, queued.Type)
		assert.False(t, queued.CreatedAt.IsZero())

		require.NoError(t, jobs.Start(ctx, "job-1", workers.TypeImportLots))
		require.NoError(t, jobs.Complete(ctx, "job-1", workers.TypeImportLots,
			workers.ImportResult{Rows: 2, Imported: 2, LotIDs: []string{"a", "b"}}))

		done, err := jobs.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, workers.JobCompleted, done.State)
		assert.Equal(t, queued.CreatedAt, done.CreatedAt)
		assert.False(t, done.UpdatedAt.Before(done.CreatedAt))

		var result workers.ImportResult
		require.NoError(t, json.Unmarshal(done.Result, &result))
		assert.Equal(t, 2, result.Imported)
		assert.Equal(t, []string{"a", "b"}, result.LotIDs)
	})

	t.Run("failed_job_keeps_error", func(t *testing.T) {
		require.NoError(t, jobs.Start(ctx, "job-2", workers.TypeExportDemands))
		require.NoError(t, jobs.Fail(ctx, "job-2", workers.TypeExportDemands, errors.New("bucket unavailable")))

		status, err := jobs.Get(ctx, "job-2")
		require.NoError(t, err)
		assert.Equal(t, workers.JobFailed, status.State)
		assert.Equal(t, "bucket unavailable", status.Error)
	})

	t.Run("status_expires", func(t *testing.T) {
		require.NoError(t, jobs.Queue(ctx, "job-3", workers.TypeGenerateDemand))
		mr.FastForward(2 * time.Hour)

		status, err := jobs.Get(ctx, "job-3")
		require.NoError(t, err)
		assert.Nil(t, status)
	})

	t.Run("empty_id_is_ignored", func(t *testing.T) {
		require.NoError(t, jobs.Start(ctx, "", workers.TypeGenerateDemand))
		assert.False(t, mr.Exists(redis_a.BuildKey(redis_a.PrefixJob, "")))
	})
}

func TestGenerateDemandPayload_Request(t *testing.T) {
	threshold := 3
	factor := decimal.RequireFromString("1.5")
	loc := domain.Outlet("O1")
	req := ports.GenerateDemandRequest{
		Algorithm:         domain.AlgorithmSimple,
		Location:          &loc,
		Days:              14,
		MinSalesThreshold: &threshold,
		SafetyStockFactor: &factor,
		CreatedBy:         "scheduler",
	}

	task, err := workers.NewGenerateDemandTask(workers.NewGenerateDemandPayload("job-9", req))
	require.NoError(t, err)
	assert.Equal(t, workers.TypeGenerateDemand, task.Type())

	var payload workers.GenerateDemandPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "job-9", payload.JobID)

	got := payload.Request()
	assert.Equal(t, req.Algorithm, got.Algorithm)
	assert.Equal(t, loc, *got.Location)
	assert.Equal(t, 14, got.Days)
	assert.Equal(t, 3, *got.MinSalesThreshold)
	assert.True(t, factor.Equal(*got.SafetyStockFactor))
	assert.Nil(t, got.SeasonalAdjustment)
	assert.Equal(t, "scheduler", got.CreatedBy)
}
