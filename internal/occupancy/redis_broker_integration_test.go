package occupancy

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
	"github.com/yungbote/fabline-backend/internal/platform/logger"
)

func TestRedisBrokerIntegration(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	b, err := NewRedisBroker(logger.Nop(), RedisConfig{Addr: addr, DialTimeout: 3 * time.Second})
	if err != nil {
		t.Fatalf("redis broker: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	m := NewManager(nil, b, Config{Keyspace: Keyspace{Prefix: "itest:" + uuid.NewString()}})
	key := m.Key("U-1", "")
	defer func() { _ = m.Release(ctx, key) }()

	if _, err := m.Claim(ctx, key, "W1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := m.Claim(ctx, key, "W2"); !fab.IsCode(err, fab.CodeUnitOccupied) {
		t.Fatalf("expected unit occupied, got %v", err)
	}
	keys, err := m.Keys(ctx)
	if err != nil || len(keys) != 1 || keys[0] != key {
		t.Fatalf("scan: keys=%v err=%v", keys, err)
	}
	if err := m.Release(ctx, key); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := m.Exists(ctx, key); ok {
		t.Fatalf("lock should be released")
	}
}
