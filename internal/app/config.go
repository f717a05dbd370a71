package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/fabline-backend/internal/data/db"
	"github.com/yungbote/fabline-backend/internal/platform/envutil"
	"github.com/yungbote/fabline-backend/internal/platform/logger"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type Config struct {
	Port        string   `yaml:"port"`
	ServiceName string   `yaml:"service_name"`
	Environment string   `yaml:"environment"`
	CORSOrigins []string `yaml:"cors_origins"`

	StoreBackend string `yaml:"store_backend"`
	LockBackend  string `yaml:"lock_backend"`
	AuditBackend string `yaml:"audit_backend"`

	Postgres PostgresSection `yaml:"postgres"`
	Redis    RedisSection    `yaml:"redis"`
	Lock     LockSection     `yaml:"lock"`
	Audit    AuditSection    `yaml:"audit"`

	MaxReworkCycles int    `yaml:"max_rework_cycles"`
	MetricsAddr     string `yaml:"metrics_addr"`
	ReconcileOnBoot bool   `yaml:"reconcile_on_boot"`
}

type PostgresSection struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisSection struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LockSection struct {
	KeyPrefix      string        `yaml:"key_prefix"`
	PerStage       bool          `yaml:"per_stage"`
	ProvisionalTTL time.Duration `yaml:"provisional_ttl"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	Concurrency    int           `yaml:"reconcile_concurrency"`
}

type AuditSection struct {
	MaxBatch      int           `yaml:"max_batch"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBase     time.Duration `yaml:"retry_base_delay"`
	RetryMax      time.Duration `yaml:"retry_max_delay"`
}

func defaultConfig() Config {
	return Config{
		Port:         "8080",
		ServiceName:  "fabline",
		Environment:  "development",
		StoreBackend: BackendPostgres,
		LockBackend:  BackendRedis,
		AuditBackend: BackendPostgres,
		Postgres: PostgresSection{
			Host:            "localhost",
			Port:            "5432",
			User:            "postgres",
			Name:            "fabline",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisSection{Addr: "localhost:6379"},
		Lock: LockSection{
			KeyPrefix:      "fabline:occupation",
			ProvisionalTTL: 30 * time.Second,
			StaleAfter:     24 * time.Hour,
			Concurrency:    8,
		},
		Audit: AuditSection{
			MaxBatch:      900,
			RetryAttempts: 3,
			RetryBase:     200 * time.Millisecond,
			RetryMax:      2 * time.Second,
		},
		MaxReworkCycles: 3,
		ReconcileOnBoot: true,
	}
}

// LoadConfig layers defaults, the YAML file named by FABLINE_CONFIG_FILE and
// the environment, in that order.
func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := defaultConfig()
	if path := envutil.String("FABLINE_CONFIG_FILE", "", log); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if log != nil {
			log.Info("Loaded config file", "path", path)
		}
	}
	cfg.applyEnv(log)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(log *logger.Logger) {
	c.Port = envutil.String("PORT", c.Port, log)
	c.ServiceName = envutil.String("SERVICE_NAME", c.ServiceName, log)
	c.Environment = envutil.String("ENVIRONMENT", c.Environment, log)
	if raw := envutil.String("CORS_ORIGINS", "", log); raw != "" {
		c.CORSOrigins = splitList(raw)
	}

	c.StoreBackend = strings.ToLower(envutil.String("STORE_BACKEND", c.StoreBackend, log))
	c.LockBackend = strings.ToLower(envutil.String("LOCK_BACKEND", c.LockBackend, log))
	c.AuditBackend = strings.ToLower(envutil.String("AUDIT_BACKEND", c.AuditBackend, log))

	c.Postgres.Host = envutil.String("POSTGRES_HOST", c.Postgres.Host, log)
	c.Postgres.Port = envutil.String("POSTGRES_PORT", c.Postgres.Port, log)
	c.Postgres.User = envutil.String("POSTGRES_USER", c.Postgres.User, log)
	c.Postgres.Password = envutil.String("POSTGRES_PASSWORD", c.Postgres.Password, log)
	c.Postgres.Name = envutil.String("POSTGRES_NAME", c.Postgres.Name, log)
	c.Postgres.SSLMode = envutil.String("POSTGRES_SSLMODE", c.Postgres.SSLMode, log)
	c.Postgres.MaxOpenConns = envutil.Int("POSTGRES_MAX_OPEN_CONNS", c.Postgres.MaxOpenConns, log)
	c.Postgres.MaxIdleConns = envutil.Int("POSTGRES_MAX_IDLE_CONNS", c.Postgres.MaxIdleConns, log)
	c.Postgres.ConnMaxLifetime = envutil.Duration("POSTGRES_CONN_MAX_LIFETIME", c.Postgres.ConnMaxLifetime, log)

	c.Redis.Addr = envutil.String("REDIS_ADDR", c.Redis.Addr, log)
	c.Redis.Password = envutil.String("REDIS_PASSWORD", c.Redis.Password, log)
	c.Redis.DB = envutil.Int("REDIS_DB", c.Redis.DB, log)

	c.Lock.KeyPrefix = envutil.String("LOCK_KEY_PREFIX", c.Lock.KeyPrefix, log)
	c.Lock.PerStage = envutil.Bool("LOCK_PER_STAGE", c.Lock.PerStage, log)
	c.Lock.ProvisionalTTL = envutil.Duration("LOCK_PROVISIONAL_TTL", c.Lock.ProvisionalTTL, log)
	c.Lock.StaleAfter = envutil.Duration("RECONCILE_STALE_AFTER", c.Lock.StaleAfter, log)
	c.Lock.Concurrency = envutil.Int("RECONCILE_CONCURRENCY", c.Lock.Concurrency, log)

	c.Audit.MaxBatch = envutil.Int("AUDIT_MAX_BATCH", c.Audit.MaxBatch, log)
	c.Audit.RetryAttempts = envutil.Int("AUDIT_RETRY_ATTEMPTS", c.Audit.RetryAttempts, log)
	c.Audit.RetryBase = envutil.Duration("AUDIT_RETRY_BASE_DELAY", c.Audit.RetryBase, log)
	c.Audit.RetryMax = envutil.Duration("AUDIT_RETRY_MAX_DELAY", c.Audit.RetryMax, log)

	c.MaxReworkCycles = envutil.Int("MAX_REWORK_CYCLES", c.MaxReworkCycles, log)
	c.MetricsAddr = envutil.String("METRICS_ADDR", c.MetricsAddr, log)
	c.ReconcileOnBoot = envutil.Bool("RECONCILE_ON_BOOT", c.ReconcileOnBoot, log)
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.LockBackend {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend)
	}
	switch c.AuditBackend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("unknown AUDIT_BACKEND %q", c.AuditBackend)
	}
	if c.MaxReworkCycles < 1 {
		return fmt.Errorf("MAX_REWORK_CYCLES must be at least 1, got %d", c.MaxReworkCycles)
	}
	if c.Audit.MaxBatch < 1 {
		return fmt.Errorf("AUDIT_MAX_BATCH must be positive, got %d", c.Audit.MaxBatch)
	}
	return nil
}

// NeedsPostgres reports whether any backend is database-backed.
func (c Config) NeedsPostgres() bool {
	return c.StoreBackend == BackendPostgres || c.AuditBackend == BackendPostgres
}

func (c Config) PostgresConfig() db.PostgresConfig {
	return db.PostgresConfig{
		Host:            c.Postgres.Host,
		Port:            c.Postgres.Port,
		User:            c.Postgres.User,
		Password:        c.Postgres.Password,
		Name:            c.Postgres.Name,
		SSLMode:         c.Postgres.SSLMode,
		MaxOpenConns:    c.Postgres.MaxOpenConns,
		MaxIdleConns:    c.Postgres.MaxIdleConns,
		ConnMaxLifetime: c.Postgres.ConnMaxLifetime,
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
