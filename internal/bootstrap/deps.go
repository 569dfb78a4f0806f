package bootstrap

import (
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"schedsync/adapter/out/messaging"
	"schedsync/adapter/out/persistence"
	"schedsync/adapter/out/provider"
	"schedsync/config"
	"schedsync/core/port/out"
	"schedsync/core/service/appointment"
	"schedsync/core/service/connection"
	"schedsync/core/service/sync"
	"schedsync/infra/database"
	"schedsync/internal/stream"
	"schedsync/pkg/logger"
)

// Dependencies wires every adapter and service once; API and worker both
// build from the same graph.
type Dependencies struct {
	Config *config.Config
	DB     *pgxpool.Pool
	SQLDB  *sqlx.DB
	Redis  *redis.Client
	Stream *stream.RedisStream

	// Repositories
	AppointmentRepo out.AppointmentRepository
	SettingsRepo    out.SettingsRepository
	ConnectionRepo  out.ConnectionRepository
	MappingRepo     out.MappingRepository
	Directory       out.TenantDirectory

	// Providers
	ProviderFactory *provider.Factory

	// Messaging
	Producer out.JobProducer
	Emitter  out.EventEmitter

	// Services
	AppointmentService *appointment.Service
	SyncService        *sync.Service
	ConnectionService  *connection.Service
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Database (pgxpool, health checks and raw access)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	// Database (sqlx for the persistence adapters)
	sqlxURL := cfg.DatabaseURL
	if strings.Contains(sqlxURL, "?") {
		sqlxURL += "&default_query_exec_mode=simple_protocol"
	} else {
		sqlxURL += "?default_query_exec_mode=simple_protocol"
	}
	sqlDB, err := sqlx.Connect("pgx", sqlxURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	// Redis: job queue, webhook idempotency, settings cache. The API can
	// limp along without it; the worker cannot consume jobs.
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.L().Warn().Err(err).Msg("redis connection failed")
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { redisClient.Close() })

			deps.Stream = stream.NewRedisStream(redisClient, "schedsync-workers")
			deps.Producer = messaging.NewRedisProducer(deps.Stream)
			deps.Emitter = messaging.NewRedisEmitter(redisClient)
		}
	} else {
		logger.L().Warn().Msg("REDIS_URL not set, sync jobs will not be enqueued")
	}

	// Repositories
	deps.AppointmentRepo = persistence.NewAppointmentAdapter(sqlDB)
	deps.SettingsRepo = persistence.NewSettingsAdapter(sqlDB)
	deps.ConnectionRepo = persistence.NewConnectionAdapter(sqlDB)
	deps.MappingRepo = persistence.NewMappingAdapter(sqlDB)
	deps.Directory = persistence.NewDirectoryAdapter(sqlDB)

	// Providers
	deps.ProviderFactory = provider.NewFactory(provider.Config{
		Google: provider.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		},
		Microsoft: provider.MicrosoftConfig{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			RedirectURL:  cfg.MicrosoftRedirectURL,
			TenantID:     cfg.MicrosoftTenantID,
		},
	})

	// Services
	deps.AppointmentService = appointment.NewService(
		deps.AppointmentRepo,
		deps.SettingsRepo,
		deps.MappingRepo,
		deps.ConnectionRepo,
		deps.Producer,
		deps.Emitter,
	)
	deps.SyncService = sync.NewService(
		deps.AppointmentRepo,
		deps.SettingsRepo,
		deps.ConnectionRepo,
		deps.MappingRepo,
		deps.ProviderFactory,
		deps.Directory,
		cfg.WebhookCallbackURL,
	)
	deps.ConnectionService = connection.NewService(
		deps.ConnectionRepo,
		deps.ProviderFactory,
		deps.Producer,
	)

	return deps, cleanup, nil
}
