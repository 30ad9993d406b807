// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	redis_a "github.com/ammerola/stockledger/internal/adapters/redis_adapter"
	"github.com/ammerola/stockledger/internal/app"
	"github.com/ammerola/stockledger/internal/pkg/config"
	"github.com/ammerola/stockledger/internal/pkg/logger"
	"github.com/ammerola/stockledger/internal/workers"
)

// expireSchedule runs the pending demand sweep.
const expireSchedule = "@hourly"

func main() {
	slogger := logger.SetupLogger("info", "json").Logger
	ctx := context.Background()

	cfg, err := app.LoadConfig(ctx, slogger)
	if err != nil {
		slogger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Reconfigure logger with loaded settings
	slogger = logger.SetupLogger(cfg.App.LogLevel, cfg.App.LogFormat).Logger
	slogger.Info("starting worker",
		slog.String("environment", cfg.App.Environment),
		slog.String("redis_addr", cfg.Asynq.RedisAddr))

	if cfg.Ledger.StoreDriver == "memory" {
		slogger.Warn("worker is using its own in-memory store, it will not see API data")
	}

	backend, err := app.OpenBackend(ctx, cfg, false, slogger)
	if err != nil {
		slogger.Error("failed to open ledger store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer backend.Close()

	redisClient, err := app.NewRedisClient(ctx, cfg, slogger)
	if err != nil {
		slogger.Error("failed to connect to Redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer redisClient.Close()

	objects, err := app.OpenStorage(ctx, cfg, slogger)
	if err != nil {
		slogger.Error("failed to initialize storage", slog.String("error", err.Error()))
		os.Exit(1)
	}

	svc, err := app.NewServices(cfg, backend.Store, redisClient, slogger)
	if err != nil {
		slogger.Error("failed to build services", slog.String("error", err.Error()))
		os.Exit(1)
	}

	jobs := workers.NewJobTracker(redis_a.NewCache(redisClient, cfg.Redis.TTL, slogger), 24*time.Hour)

	srv := asynq.NewServer(
		app.AsynqRedisOpt(cfg),
		asynq.Config{
			Concurrency:     cfg.Asynq.Concurrency,
			Queues:          cfg.Asynq.Queues,
			StrictPriority:  cfg.Asynq.StrictPriority,
			ErrorHandler:    asynq.ErrorHandlerFunc(handleError),
			RetryDelayFunc:  exponentialBackoff,
			ShutdownTimeout: cfg.Asynq.ShutdownTimeout,
			HealthCheckFunc: healthCheck,
			Logger:          newAsynqLogger(slogger),
		},
	)

	mux := asynq.NewServeMux()

	demandProcessor := workers.NewDemandProcessor(svc.Demands, jobs, slogger)
	mux.HandleFunc(workers.TypeGenerateDemand, demandProcessor.ProcessGenerate)

	exportProcessor := workers.NewExportProcessor(svc.Demands, objects, jobs, cfg.Storage.ExportURLExpiry, slogger)
	mux.HandleFunc(workers.TypeExportDemands, exportProcessor.ProcessExport)

	importProcessor := workers.NewImportProcessor(svc.Lots, objects, jobs, slogger)
	mux.HandleFunc(workers.TypeImportLots, importProcessor.ProcessImport)

	cleanupProcessor := workers.NewCleanupProcessor(svc.Demands, slogger)
	mux.HandleFunc(workers.TypeExpireDemands, cleanupProcessor.ExpireDemands)

	scheduler, err := newScheduler(cfg, slogger)
	if err != nil {
		slogger.Error("failed to configure scheduler", slog.String("error", err.Error()))
		os.Exit(1)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Run(mux); err != nil {
			slogger.Error("failed to run worker server", slog.String("error", err.Error()))
			shutdown <- syscall.SIGTERM
		}
	}()

	if err := scheduler.Start(); err != nil {
		slogger.Error("failed to start scheduler", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slogger.Info("worker started successfully",
		slog.Int("concurrency", cfg.Asynq.Concurrency),
		slog.Any("queues", cfg.Asynq.Queues),
		slog.String("forecast_cron", cfg.Forecast.Cron))

	sig := <-shutdown
	slogger.Info("shutdown signal received", slog.String("signal", sig.String()))

	scheduler.Shutdown()
	srv.Shutdown()
	slogger.Info("worker shutdown complete")
}

// newScheduler registers the nightly forecast and the demand expiry sweep.
// Cron specs are read in the ledger timezone.
func newScheduler(cfg *config.Config, logger *slog.Logger) (*asynq.Scheduler, error) {
	tz, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	scheduler := asynq.NewScheduler(app.AsynqRedisOpt(cfg), &asynq.SchedulerOpts{
		Location: tz,
		Logger:   newAsynqLogger(logger),
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				logger.Error("failed to enqueue scheduled task", slog.String("error", err.Error()))
				return
			}
			logger.Info("scheduled task enqueued",
				slog.String("task_id", info.ID),
				slog.String("type", info.Type))
		},
	})

	if cfg.Forecast.Cron != "" {
		task, err := workers.NewGenerateDemandTask(workers.GenerateDemandPayload{CreatedBy: "scheduler"})
		if err != nil {
			return nil, err
		}
		if _, err := scheduler.Register(cfg.Forecast.Cron, task,
			asynq.Queue(workers.QueueLow), asynq.MaxRetry(1), asynq.Timeout(30*time.Minute)); err != nil {
			return nil, fmt.Errorf("failed to register forecast schedule: %w", err)
		}
	}

	expire, err := workers.NewExpireDemandsTask(workers.ExpireDemandsPayload{})
	if err != nil {
		return nil, err
	}
	if _, err := scheduler.Register(expireSchedule, expire, asynq.Queue(workers.QueueLow)); err != nil {
		return nil, fmt.Errorf("failed to register expiry schedule: %w", err)
	}

	return scheduler, nil
}

func handleError(ctx context.Context, task *asynq.Task, err error) {
	level := slog.LevelError
	if errors.Is(err, asynq.SkipRetry) {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "task processing failed",
		slog.String("type", task.Type()),
		slog.String("payload", string(task.Payload())),
		slog.String("error", err.Error()))
}

func exponentialBackoff(n int, e error, t *asynq.Task) time.Duration {
	baseDelay := time.Second
	maxDelay := 10 * time.Minute
	delay := baseDelay * time.Duration(1<<uint(n))
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func healthCheck(err error) {
	if err != nil {
		slog.Error("worker health check failed", slog.String("error", err.Error()))
	}
}

// asynqLogger adapts slog for Asynq
type asynqLogger struct {
	logger *slog.Logger
}

func newAsynqLogger(logger *slog.Logger) *asynqLogger {
	return &asynqLogger{
		logger: logger.With(slog.String("component", "asynq")),
	}
}

func (l *asynqLogger) Debug(args ...interface{}) {
	l.logger.Debug(fmt.Sprint(args...))
}

func (l *asynqLogger) Info(args ...interface{}) {
	l.logger.Info(fmt.Sprint(args...))
}

func (l *asynqLogger) Warn(args ...interface{}) {
	l.logger.Warn(fmt.Sprint(args...))
}

func (l *asynqLogger) Error(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
}

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
