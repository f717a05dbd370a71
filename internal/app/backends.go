package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/fabline-backend/internal/audit"
	"github.com/yungbote/fabline-backend/internal/data/db"
	"github.com/yungbote/fabline-backend/internal/data/repos/units"
	"github.com/yungbote/fabline-backend/internal/occupancy"
	"github.com/yungbote/fabline-backend/internal/platform/logger"
)

// Backends are the three external collaborators the engine consumes.
type Backends struct {
	DB     *gorm.DB
	Store  units.RowStore
	Broker occupancy.Broker
	Sink   audit.Sink

	pg    *db.PostgresService
	redis *occupancy.RedisBroker
}

func wireBackends(log *logger.Logger, cfg Config) (*Backends, error) {
	log.Info("Wiring backends...",
		"store", cfg.StoreBackend,
		"locks", cfg.LockBackend,
		"audit", cfg.AuditBackend,
	)
	b := &Backends{}

	if cfg.NeedsPostgres() {
		pg, err := db.NewPostgresService(log, cfg.PostgresConfig())
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		if err := db.AutoMigrateAll(pg.DB()); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("postgres automigrate: %w", err)
		}
		b.pg = pg
		b.DB = pg.DB()
	}

	switch cfg.StoreBackend {
	case BackendPostgres:
		b.Store = units.NewGormStore(b.DB, log)
	default:
		b.Store = units.NewMemoryStore()
	}

	switch cfg.AuditBackend {
	case BackendPostgres:
		b.Sink = audit.NewGormSink(b.DB, log, cfg.Audit.MaxBatch)
	default:
		b.Sink = audit.NewMemorySink(cfg.Audit.MaxBatch)
	}

	switch cfg.LockBackend {
	case BackendRedis:
		rb, err := occupancy.NewRedisBroker(log, occupancy.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("init redis: %w", err)
		}
		b.redis = rb
		b.Broker = rb
	default:
		b.Broker = occupancy.NewMemoryBroker()
	}
	return b, nil
}

func (b *Backends) Close() {
	if b == nil {
		return
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pg != nil {
		_ = b.pg.Close()
	}
}
