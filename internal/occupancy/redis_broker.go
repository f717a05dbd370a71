package occupancy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/fabline-backend/internal/platform/logger"
)

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	ScanCount   int64
}

// RedisBroker implements Broker on SETNX/PERSIST/EXISTS/DEL/SCAN.
type RedisBroker struct {
	log       *logger.Logger
	rdb       *goredis.Client
	scanCount int64
}

func NewRedisBroker(log *logger.Logger, cfg RedisConfig) (*RedisBroker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	b := NewRedisBrokerFromClient(log, rdb)
	if cfg.ScanCount > 0 {
		b.scanCount = cfg.ScanCount
	}
	return b, nil
}

// NewRedisBrokerFromClient wraps an existing client.
func NewRedisBrokerFromClient(log *logger.Logger, rdb *goredis.Client) *RedisBroker {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisBroker{
		log:       log.With("service", "RedisLockBroker"),
		rdb:       rdb,
		scanCount: 200,
	}
}

func (b *RedisBroker) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	return b.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (b *RedisBroker) Persist(ctx context.Context, key string) (bool, error) {
	ok, err := b.rdb.Persist(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	// PERSIST answers 0 both for a missing key and for a key that already
	// has no expiry; only the former is a failure.
	n, err := b.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *RedisBroker) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *RedisBroker) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := b.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (b *RedisBroker) Delete(ctx context.Context, key string) (int64, error) {
	return b.rdb.Del(ctx, key).Result()
}

func (b *RedisBroker) Scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	seen := map[string]struct{}{}
	for {
		keys, next, err := b.rdb.Scan(ctx, cursor, pattern, b.scanCount).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			// SCAN may return a key more than once
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// Ping checks connectivity.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *RedisBroker) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
