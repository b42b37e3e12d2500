package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gin-gonic/gin"

	"github.com/kitewall/apigate/internal/api"
	"github.com/kitewall/apigate/internal/app"
	"github.com/kitewall/apigate/internal/app/maintenance"
	iauth "github.com/kitewall/apigate/internal/auth"
	"github.com/kitewall/apigate/internal/cache"
	"github.com/kitewall/apigate/internal/database"
	"github.com/kitewall/apigate/internal/middleware"
	"github.com/kitewall/apigate/internal/monitoring"
	"github.com/kitewall/apigate/internal/monitoring/checks"
	"github.com/kitewall/apigate/internal/realtime"
	"github.com/kitewall/apigate/internal/services"
	"github.com/kitewall/apigate/pkg/logger"
	"github.com/kitewall/apigate/pkg/mail"
)

const (
	databaseProbeTimeout = 2 * time.Second
	maintenanceProbeAge  = 48 * time.Hour
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     cache.Store
	AuditSvc  *services.AuditService
	PermSvc   *services.AppPermissionService
	Hub       *realtime.Hub
	Mailer    mail.Mailer
	Cleaner   *maintenance.Cleaner
	Monitor   *monitoring.Module
	RateStore middleware.RateStore
	Router    *gin.Engine
}

// bootstrapRuntime initialises the database, cache, services, background jobs, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	stack.AuditSvc, err = services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	stack.Mailer, err = mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}

	stack.Hub = realtime.NewHub()

	stack.PermSvc, err = services.NewAppPermissionService(stack.DB, stack.Mailer, stack.AuditSvc, stack.Hub,
		services.WithPermissionPolicy(cfg.Permission.PermissionPolicy()))
	if err != nil {
		return nil, fmt.Errorf("initialise permission service: %w", err)
	}

	if cfg.Maintenance.Enabled {
		opts := []maintenance.Option{
			maintenance.WithMailer(stack.Mailer),
			maintenance.WithReminders(cfg.Maintenance.ReminderEnabled),
			maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
		}
		if schedule := strings.TrimSpace(cfg.Maintenance.Schedule); schedule != "" {
			opts = append(opts, maintenance.WithReminderSchedule(schedule))
		}

		stack.Cleaner = maintenance.NewCleaner(stack.DB, stack.PermSvc, stack.AuditSvc, opts...)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Monitor, err = buildMonitoring(cfg, stack)
	if err != nil {
		return nil, fmt.Errorf("initialise monitoring: %w", err)
	}
	monitoring.SetModule(stack.Monitor)

	switch {
	case stack.Redis != nil:
		stack.RateStore = middleware.NewRedisRateStore(stack.Redis)
	case dbStore != nil:
		stack.RateStore = middleware.NewDatabaseRateStore(dbStore)
	}

	stack.Router, err = api.NewRouter(stack.DB, jwtSvc, cfg, stack.Hub, stack.Mailer, stack.Monitor, stack.RateStore)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// buildMonitoring wires the Prometheus registry and readiness probes for the stack.
func buildMonitoring(cfg *app.Config, stack *runtimeStack) (*monitoring.Module, error) {
	mon, err := monitoring.NewModule(monitoring.Options{})
	if err != nil {
		return nil, err
	}

	health := mon.Health()
	health.RegisterReadiness(checks.Database(stack.DB, databaseProbeTimeout))

	var pinger checks.RedisPinger
	if rc, ok := stack.Redis.(*cache.RedisClient); ok && rc != nil {
		pinger = rc
	}
	health.RegisterReadiness(checks.Redis(pinger, cfg.Cache.Redis.Enabled, 0))

	health.RegisterReadiness(checks.Realtime(stack.Hub))

	if cfg.Maintenance.Enabled {
		health.RegisterReadiness(checks.Maintenance(maintenanceProbeAge))
	}

	return mon, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if rc, ok := s.Redis.(*cache.RedisClient); ok && rc != nil {
		if err := rc.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
