package occupancy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
)

func newTestManager(b Broker) *Manager {
	return NewManager(nil, b, Config{Keyspace: Keyspace{Prefix: "test:occ"}})
}

func TestClaimReleaseExists(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	m := newTestManager(b)
	key := m.Key("U-1", fab.StageAssembly)

	leaseID, err := m.Claim(ctx, key, "W1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if leaseID == "" {
		t.Fatalf("expected lease id")
	}
	if ttl, ok := b.TTL(key); !ok || ttl != 0 {
		t.Fatalf("lock must be durable, ttl=%v ok=%v", ttl, ok)
	}
	if ok, err := m.Exists(ctx, key); err != nil || !ok {
		t.Fatalf("exists: ok=%v err=%v", ok, err)
	}
	holder, ok, err := m.Holder(ctx, key)
	if err != nil || !ok || holder.WorkerID != "W1" || holder.LeaseID != leaseID {
		t.Fatalf("holder mismatch: %+v ok=%v err=%v", holder, ok, err)
	}

	if err := m.Release(ctx, key); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := m.Release(ctx, key); err != nil {
		t.Fatalf("second release must be a no-op: %v", err)
	}
	if ok, _ := m.Exists(ctx, key); ok {
		t.Fatalf("lock should be gone")
	}
}

func TestClaimContentionReportsHolder(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(NewMemoryBroker())
	key := m.Key("U-1", "")

	if _, err := m.Claim(ctx, key, "W1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err := m.Claim(ctx, key, "W2")
	if !fab.IsCode(err, fab.CodeUnitOccupied) {
		t.Fatalf("expected unit occupied, got %v", err)
	}
	if fe := fab.AsError(err); fe.Detail("occupant") != "W1" || fe.Detail("unit_id") != "U-1" {
		t.Fatalf("error should name holder and unit: %+v", fe.Details)
	}
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	m := newTestManager(b)
	key := m.Key("U-race", "")

	const n = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Claim(ctx, key, "W"+string(rune('A'+i%26)))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !fab.IsCode(err, fab.CodeUnitOccupied) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if b.Len() != 1 {
		t.Fatalf("expected one lock, got %d", b.Len())
	}
}

func TestPersistFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	b.FailPersist = func(string) error { return errors.New("connection reset by peer") }
	m := newTestManager(b)
	key := m.Key("U-2", "")

	_, err := m.Claim(ctx, key, "W1")
	if !fab.IsCode(err, fab.CodeLockPersistFailure) {
		t.Fatalf("expected lock persist failure, got %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("half-durable lock left behind")
	}

	b.FailPersist = nil
	if _, err := m.Claim(ctx, key, "W1"); err != nil {
		t.Fatalf("retry after rollback should succeed: %v", err)
	}
}

func TestProvisionalLockExpiresIfNeverPersisted(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	b := NewMemoryBroker()
	b.SetClock(func() time.Time { return now })
	ctx := context.Background()

	if ok, err := b.SetIfAbsent(ctx, "k", "v", 30*time.Second); err != nil || !ok {
		t.Fatalf("set: ok=%v err=%v", ok, err)
	}
	now = now.Add(31 * time.Second)
	if ok, _ := b.Exists(ctx, "k"); ok {
		t.Fatalf("provisional key should have expired")
	}
}

func TestKeyspace(t *testing.T) {
	unit := Keyspace{Prefix: "p:"}
	if got := unit.Key("U-1", fab.StageWelding); got != "p:U-1" {
		t.Fatalf("unit-scoped key: %q", got)
	}
	staged := Keyspace{Prefix: "p", PerStage: true}
	key := staged.Key("U:1", fab.StageWelding)
	if key != "p:U:1:welding" {
		t.Fatalf("stage-scoped key: %q", key)
	}
	if got := staged.UnitID(key); got != "U:1" {
		t.Fatalf("unit id from staged key: %q", got)
	}
	if got := (Keyspace{}).Pattern(); got != DefaultPrefix+":*" {
		t.Fatalf("pattern: %q", got)
	}
}

func TestParseOccupant(t *testing.T) {
	occ, err := ParseOccupant("Ana Lima [W-17]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if occ.WorkerID != "W-17" || occ.Name != "Ana Lima" {
		t.Fatalf("unexpected occupant: %+v", occ)
	}
	if occ.String() != "Ana Lima [W-17]" {
		t.Fatalf("format round trip: %q", occ.String())
	}
	for _, bad := range []string{"", "Ana Lima", "[W-1]", "Ana [ ]", "Ana [W 1]"} {
		if _, err := ParseOccupant(bad); err == nil {
			t.Fatalf("expected parse failure for %q", bad)
		}
	}
}
