// internal/app/bootstrap.go
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/ammerola/stockledger/internal/adapters/db"
	"github.com/ammerola/stockledger/internal/adapters/memory"
	redis_a "github.com/ammerola/stockledger/internal/adapters/redis_adapter"
	"github.com/ammerola/stockledger/internal/adapters/storage"
	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/ammerola/stockledger/internal/core/services"
	"github.com/ammerola/stockledger/internal/pkg/config"
	"github.com/ammerola/stockledger/migrations"
)

// LoadConfig loads configuration and overlays credentials from AWS Secrets
// Manager when AWS_SECRET_NAME is set.
func LoadConfig(ctx context.Context, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(logger)
	if err != nil {
		return nil, err
	}

	var sm config.SecretsManager = config.NewEnvSecretsManager()
	if cfg.AWS.SecretName != "" {
		aws, err := config.NewAWSSecretsManager(cfg.AWS.Region, cfg.AWS.SecretName, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create secrets manager: %w", err)
		}
		sm = aws
	}
	if err := config.ApplySecrets(ctx, cfg, sm); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Backend is the ledger store plus whatever must be closed with it.
type Backend struct {
	Store ports.Store
	// Database is nil when the ledger lives in memory.
	Database *db.Database
}

// Close releases the connection pool, if any.
func (b *Backend) Close() {
	if b.Database != nil {
		b.Database.Close()
	}
}

// HealthDatabase returns the database for health checks, or nil in memory mode.
func (b *Backend) HealthDatabase() ports.Database {
	if b.Database == nil {
		return nil
	}
	return b.Database
}

// OpenBackend opens the store selected by STORE_DRIVER. With postgres the
// embedded migrations are applied when migrate is set.
func OpenBackend(ctx context.Context, cfg *config.Config, migrate bool, logger *slog.Logger) (*Backend, error) {
	if cfg.Ledger.StoreDriver == "memory" {
		logger.Warn("using in-memory ledger store, data is lost on exit")
		return &Backend{Store: memory.NewStore()}, nil
	}

	if migrate {
		err := db.RunMigrationsWithRetry(ctx, &db.MigrationConfig{
			DatabaseURL: cfg.GetDatabaseURL(),
			Source:      migrations.FS,
		}, logger, 3)
		if err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	logger.Info("connecting to database",
		slog.String("host", cfg.Database.Host),
		slog.String("database", cfg.Database.Name))

	database, err := db.NewDatabase(ctx, DatabaseConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &Backend{Store: db.NewStore(database, logger), Database: database}, nil
}

// DatabaseConfig maps the loaded settings onto the pool config.
func DatabaseConfig(cfg *config.Config) *db.Config {
	return &db.Config{
		Host:               cfg.Database.Host,
		Port:               cfg.Database.Port,
		User:               cfg.Database.User,
		Password:           cfg.Database.Password,
		Database:           cfg.Database.Name,
		SSLMode:            cfg.Database.SSLMode,
		MaxConnections:     cfg.Database.MaxConnections,
		MinConnections:     cfg.Database.MinConnections,
		MaxConnLifetime:    cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:    cfg.Database.MaxConnIdleTime,
		HealthCheckPeriod:  cfg.Database.HealthCheckPeriod,
		ConnectTimeout:     cfg.Database.ConnectTimeout,
		StatementCacheMode: cfg.Database.StatementCacheMode,
		EnableQueryLogging: cfg.Database.EnableQueryLogging,
	}
}

// NewRedisClient connects the cache and lock client and pings it.
func NewRedisClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*redis.Client, error) {
	logger.Info("connecting to Redis",
		slog.String("host", cfg.Redis.Host),
		slog.String("port", cfg.Redis.Port))

	client := redis.NewClient(&redis.Options{
		Addr:            cfg.GetRedisAddress(),
		Password:        cfg.Redis.Password,
		DB:              cfg.Redis.DB,
		MaxRetries:      cfg.Redis.MaxRetries,
		MinRetryBackoff: cfg.Redis.MinRetryBackoff,
		MaxRetryBackoff: cfg.Redis.MaxRetryBackoff,
		DialTimeout:     cfg.Redis.DialTimeout,
		ReadTimeout:     cfg.Redis.ReadTimeout,
		WriteTimeout:    cfg.Redis.WriteTimeout,
		PoolSize:        cfg.Redis.PoolSize,
		MinIdleConns:    cfg.Redis.MinIdleConns,
		PoolTimeout:     cfg.Redis.PoolTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// AsynqRedisOpt returns the connection used by the task client, server and scheduler.
func AsynqRedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Asynq.RedisAddr,
		Password: cfg.Asynq.RedisPassword,
		DB:       cfg.Asynq.RedisDB,
	}
}

// OpenStorage opens the object store selected by STORAGE_DRIVER.
func OpenStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ports.ObjectStorage, error) {
	if cfg.Storage.Driver == "local" {
		return storage.NewLocalStorage(cfg.Storage.LocalPath, logger)
	}
	return storage.NewS3Storage(ctx, &storage.S3Config{
		Region:          cfg.AWS.Region,
		Bucket:          cfg.AWS.S3Bucket,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Endpoint:        cfg.AWS.S3Endpoint,
		UsePathStyle:    cfg.AWS.UsePathStyle,
	}, logger)
}

// ServiceOptions builds the ledger options from the loaded settings.
func ServiceOptions(cfg *config.Config) (services.Options, error) {
	tz, err := cfg.Location()
	if err != nil {
		return services.Options{}, err
	}
	opts := services.DefaultOptions()
	opts.Timezone = tz
	opts.MaxConflictRetries = cfg.Ledger.MaxConflictRetries
	opts.IdempotencyTTL = cfg.Ledger.IdempotencyTTL
	return opts, nil
}

// ForecastDefaults builds the demand defaults from the loaded settings.
func ForecastDefaults(cfg *config.Config) services.ForecastDefaults {
	d := services.DefaultForecastDefaults()
	d.Algorithm = domain.ForecastAlgorithm(cfg.Forecast.DefaultStrategy)
	d.Days = cfg.Forecast.Days
	d.MinSalesThreshold = cfg.Forecast.MinSalesThreshold
	d.DemandDays = cfg.Forecast.DemandDays
	d.SafetyStockFactor = cfg.Forecast.SafetyStockFactor
	d.SeasonalAdjustment = cfg.Forecast.SeasonalAdjustment
	d.PendingTTL = cfg.Forecast.PendingTTL
	return d
}

// Services groups the ledger services sharing one store.
type Services struct {
	Sales     *services.SaleService
	Returns   *services.ReturnService
	Transfers *services.TransferService
	Lots      *services.LotService
	Demands   *services.DemandService
}

// NewServices wires every service onto store. client may be nil, which
// disables idempotency replay and demand run deduplication.
func NewServices(cfg *config.Config, store ports.Store, client *redis.Client, logger *slog.Logger) (*Services, error) {
	opts, err := ServiceOptions(cfg)
	if err != nil {
		return nil, err
	}

	var (
		cache  ports.CacheRepository
		locker ports.Locker
	)
	if client != nil {
		cache = redis_a.NewCache(client, cfg.Redis.TTL, logger)
		locker = redis_a.NewLocker(client, logger)
	}

	return &Services{
		Sales:     services.NewSaleService(store, cache, opts, logger),
		Returns:   services.NewReturnService(store, opts, logger),
		Transfers: services.NewTransferService(store, opts, logger),
		Lots:      services.NewLotService(store, opts, logger),
		Demands:   services.NewDemandService(store, locker, ForecastDefaults(cfg), opts, logger),
	}, nil
}
