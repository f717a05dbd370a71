package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yungbote/fabline-backend/internal/audit"
	"github.com/yungbote/fabline-backend/internal/data/db"
	fabhttp "github.com/yungbote/fabline-backend/internal/http"
	httpH "github.com/yungbote/fabline-backend/internal/http/handlers"
	"github.com/yungbote/fabline-backend/internal/observability"
	"github.com/yungbote/fabline-backend/internal/occupancy"
	"github.com/yungbote/fabline-backend/internal/platform/logger"
	"github.com/yungbote/fabline-backend/internal/services"
)

type App struct {
	Log       *logger.Logger
	Cfg       Config
	Backends  *Backends
	Metrics   *observability.Metrics
	Locks     *occupancy.Manager
	Events    *audit.Log
	Lifecycle services.LifecycleService
	Router    *gin.Engine
	Server    *fabhttp.Server

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
	gate         reconcileGate
}

// reconcileGate serializes startup reconciliation across replicas. release
// may be nil.
type reconcileGate func(ctx context.Context) (release func(), err error)

// advisoryGate lets the first replica reconcile at once and makes the others
// wait for it. They then reconcile too, which only finds locks already held.
func advisoryGate(log *logger.Logger, gdb *gorm.DB) reconcileGate {
	return func(ctx context.Context) (func(), error) {
		release, ok, err := db.TryAdvisoryLock(ctx, gdb, db.ReconcileLockKey)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}
		log.Info("another instance is reconciling; waiting for it")
		return db.AdvisoryLock(ctx, gdb, db.ReconcileLockKey)
	}
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading configuration...")
	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(log, cfg)
}

// NewWithConfig wires the application from an already loaded config.
func NewWithConfig(log *logger.Logger, cfg Config) (*App, error) {
	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	})
	metrics := observability.Init(log)

	backends, err := wireBackends(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	locks, events, lifecycle := wireServices(log, cfg, backends, metrics)

	server := fabhttp.NewServer(fabhttp.RouterConfig{
		Log:           log,
		ServiceName:   cfg.ServiceName,
		CORSOrigins:   cfg.CORSOrigins,
		Metrics:       metrics,
		UnitHandler:   httpH.NewUnitHandler(lifecycle),
		HealthHandler: httpH.NewHealthHandler(healthChecks(backends)),
	})

	var gate reconcileGate
	if backends.DB != nil && cfg.StoreBackend == BackendPostgres {
		gate = advisoryGate(log, backends.DB)
	}

	return &App{
		Log:          log,
		Cfg:          cfg,
		Backends:     backends,
		Metrics:      metrics,
		Locks:        locks,
		Events:       events,
		Lifecycle:    lifecycle,
		Router:       server.Engine,
		Server:       server,
		otelShutdown: otelShutdown,
		gate:         gate,
	}, nil
}

func wireServices(log *logger.Logger, cfg Config, b *Backends, metrics *observability.Metrics) (*occupancy.Manager, *audit.Log, services.LifecycleService) {
	log.Info("Wiring services...")
	locks := occupancy.NewManager(log, b.Broker, occupancy.Config{
		Keyspace:       occupancy.Keyspace{Prefix: cfg.Lock.KeyPrefix, PerStage: cfg.Lock.PerStage},
		ProvisionalTTL: cfg.Lock.ProvisionalTTL,
		StaleAfter:     cfg.Lock.StaleAfter,
		Concurrency:    cfg.Lock.Concurrency,
	})
	events := audit.NewLog(log, b.Sink, audit.RetryPolicy{
		Attempts:   cfg.Audit.RetryAttempts,
		MinBackoff: cfg.Audit.RetryBase,
		MaxBackoff: cfg.Audit.RetryMax,
		JitterFrac: audit.DefaultRetryPolicy().JitterFrac,
	})
	opts := []services.LifecycleOption{}
	if metrics != nil {
		locks = locks.WithRecorder(metrics)
		events = events.WithRecorder(metrics)
		opts = append(opts, services.WithRecorder(metrics))
	}
	lifecycle := services.NewLifecycleService(log, b.Store, locks, events,
		services.LifecycleConfig{MaxCycles: cfg.MaxReworkCycles}, opts...)
	return locks, events, lifecycle
}

func healthChecks(b *Backends) map[string]httpH.Check {
	checks := map[string]httpH.Check{}
	if b.redis != nil {
		checks["redis"] = b.redis.Ping
	}
	if b.DB != nil {
		checks["postgres"] = func(ctx context.Context) error {
			sqlDB, err := b.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	return checks
}

// Start reconciles persisted occupancy into the lock broker and starts the
// background collectors. It must finish before the server accepts claims.
func (a *App) Start(ctx context.Context) error {
	if a == nil {
		return errors.New("app not initialized")
	}
	if a.cancel != nil {
		return nil
	}
	bg, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Cfg.ReconcileOnBoot {
		if err := a.reconcile(ctx); err != nil {
			cancel()
			a.cancel = nil
			return err
		}
	}

	if a.Metrics != nil {
		a.Metrics.StartServer(bg, a.Log, a.Cfg.MetricsAddr)
		a.Metrics.StartPostgresCollector(bg, a.Log, a.Backends.DB)
		a.Metrics.StartOccupancyCollector(bg, a.Log, a.Backends.DB)
		if a.Backends.redis != nil {
			a.Metrics.StartRedisCollector(bg, a.Log, a.Backends.redis)
		}
	}
	return nil
}

func (a *App) reconcile(ctx context.Context) error {
	if a.gate != nil {
		release, err := a.gate(ctx)
		switch {
		case ctx.Err() != nil:
			if release != nil {
				release()
			}
			return fmt.Errorf("reconcile election: %w", ctx.Err())
		case err != nil:
			a.Log.Warn("reconcile election failed, reconciling anyway", "error", err)
		case release != nil:
			defer release()
		}
	}
	res := a.Lifecycle.Reconcile(ctx)
	a.Log.Info("startup reconciliation finished",
		"reconciled", res.Reconciled,
		"skipped", res.Skipped,
		"already_held", res.AlreadyHeld,
	)
	return nil
}

func (a *App) Run(addr string) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Server listening", "addr", addr)
	return a.Server.Run(addr)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (a *App) Shutdown(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return nil
	}
	return a.Server.Shutdown(ctx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	a.Backends.Close()
	if a.Log != nil {
		a.Log.Sync()
	}
}
