// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	redis_a "github.com/ammerola/stockledger/internal/adapters/redis_adapter"
	"github.com/ammerola/stockledger/internal/app"
	"github.com/ammerola/stockledger/internal/handlers"
	"github.com/ammerola/stockledger/internal/handlers/middleware"
	"github.com/ammerola/stockledger/internal/pkg/config"
	"github.com/ammerola/stockledger/internal/pkg/logger"
	"github.com/ammerola/stockledger/internal/workers"
)

// Build information injected at compile time
var (
	Version   = "dev"
	BuildTime = "unknown"
	GoVersion = "unknown"
)

// requestTimeout bounds every handler except the workbook stream, which
// the server write timeout covers.
const requestTimeout = 30 * time.Second

func main() {
	slogger := logger.SetupLogger("info", "json").Logger

	slogger.Info("starting stock ledger API",
		slog.String("version", Version),
		slog.String("build_time", BuildTime),
		slog.String("go_version", GoVersion),
	)

	ctx := context.Background()

	cfg, err := app.LoadConfig(ctx, slogger)
	if err != nil {
		slogger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Reconfigure logger with loaded settings
	slogger = logger.SetupLogger(cfg.App.LogLevel, cfg.App.LogFormat).Logger
	slogger.Info("configuration loaded",
		slog.String("environment", cfg.App.Environment),
		slog.String("store_driver", cfg.Ledger.StoreDriver),
		slog.String("storage_driver", cfg.Storage.Driver),
	)

	deps, err := initializeDependencies(ctx, cfg, slogger)
	if err != nil {
		slogger.Error("failed to initialize dependencies", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer deps.cleanup()

	server := setupHTTPServer(cfg, deps, slogger)

	serverErrors := make(chan error, 1)
	go func() {
		slogger.Info("starting HTTP server",
			slog.String("address", cfg.GetServerAddress()),
			slog.Bool("tls", cfg.Server.TLSEnabled),
		)

		if cfg.Server.TLSEnabled {
			serverErrors <- server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogger.Error("server error", slog.String("error", err.Error()))
		}
	case sig := <-shutdown:
		slogger.Info("shutdown signal received",
			slog.String("signal", sig.String()),
		)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slogger.Error("failed to gracefully shutdown server", slog.String("error", err.Error()))
			server.Close()
		}

		slogger.Info("server shutdown complete")
	}
}

// dependencies holds all application dependencies
type dependencies struct {
	backend         *app.Backend
	redisClient     *redis.Client
	asynqClient     *asynq.Client
	asynqInspector  *asynq.Inspector
	salesHandler    *handlers.SalesHandler
	transferHandler *handlers.TransferHandler
	lotHandler      *handlers.LotHandler
	importHandler   *handlers.ImportHandler
	demandHandler   *handlers.DemandHandler
	exportHandler   *handlers.ExportHandler
	healthHandler   *handlers.HealthHandler
}

func (d *dependencies) cleanup() {
	if d.asynqInspector != nil {
		d.asynqInspector.Close()
	}
	if d.asynqClient != nil {
		d.asynqClient.Close()
	}
	if d.redisClient != nil {
		d.redisClient.Close()
	}
	if d.backend != nil {
		d.backend.Close()
	}
}

func initializeDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *dependencies, err error) {
	deps := &dependencies{}
	defer func() {
		if err != nil {
			deps.cleanup()
		}
	}()

	deps.backend, err = app.OpenBackend(ctx, cfg, !cfg.IsProduction(), logger)
	if err != nil {
		return nil, err
	}

	deps.redisClient, err = app.NewRedisClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	cache := redis_a.NewCache(deps.redisClient, cfg.Redis.TTL, logger)

	objects, err := app.OpenStorage(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	svc, err := app.NewServices(cfg, deps.backend.Store, deps.redisClient, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("initializing Asynq client")
	deps.asynqClient = asynq.NewClient(app.AsynqRedisOpt(cfg))
	deps.asynqInspector = asynq.NewInspector(app.AsynqRedisOpt(cfg))
	jobs := workers.NewJobTracker(cache, 24*time.Hour)

	maxFileSize := int64(cfg.Storage.ExcelMaxSizeMB) << 20

	deps.salesHandler = handlers.NewSalesHandler(svc.Sales, svc.Returns, logger)
	deps.transferHandler = handlers.NewTransferHandler(svc.Transfers, logger)
	deps.lotHandler = handlers.NewLotHandler(svc.Lots, logger)
	deps.importHandler = handlers.NewImportHandler(objects, jobs, deps.asynqClient, maxFileSize, logger)
	deps.demandHandler = handlers.NewDemandHandler(svc.Demands, jobs, deps.asynqClient, logger)
	deps.exportHandler = handlers.NewExportHandler(svc.Demands, cache, jobs, deps.asynqClient, logger)
	deps.healthHandler = handlers.NewHealthHandler(
		deps.backend.HealthDatabase(),
		deps.redisClient,
		deps.asynqInspector,
		cfg,
		logger,
	)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

func setupHTTPServer(cfg *config.Config, deps *dependencies, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, &handlers.Router{
		Sales:          deps.salesHandler,
		Transfers:      deps.transferHandler,
		Lots:           deps.lotHandler,
		Imports:        deps.importHandler,
		Demands:        deps.demandHandler,
		Exports:        deps.exportHandler,
		Health:         deps.healthHandler,
		RequestTimeout: requestTimeout,
	})

	mws := []func(http.Handler) http.Handler{
		middleware.Recovery(logger),
		middleware.RequestID(cfg.Security.RequestIDHeader),
		middleware.UserID(cfg.Security.UserIDHeader),
		middleware.Logger(logger),
	}
	if cfg.Security.SecureHeaders {
		mws = append(mws, middleware.SecureHeaders)
	}
	if len(cfg.Security.AllowedOrigins) > 0 {
		mws = append(mws, middleware.CORS(cfg.Security.AllowedOrigins))
	}
	if cfg.Security.RateLimitRequests > 0 {
		mws = append(mws, middleware.RateLimit(cfg.Security.RateLimitRequests, cfg.Security.RateLimitDuration))
	}

	return &http.Server{
		Addr:           cfg.GetServerAddress(),
		Handler:        middleware.Chain(mux, mws...),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
}
