package occupancy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
)

type stubScanner struct {
	units []*fab.WorkUnit
	err   error
}

func (s stubScanner) ScanAll(context.Context) ([]*fab.WorkUnit, error) {
	return s.units, s.err
}

func occupiedUnit(id, occupant string, since time.Time) *fab.WorkUnit {
	u := fab.NewWorkUnit(id, since)
	u.Occupant = &occupant
	u.OccupiedSince = &since
	return u
}

func TestReconcileFreshStaleUnparsable(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	b := NewMemoryBroker()
	m := newTestManager(b).WithClock(func() time.Time { return now })

	units := []*fab.WorkUnit{
		occupiedUnit("U-fresh", "Ana [W1]", now.Add(-2*time.Hour)),
		occupiedUnit("U-stale", "Bo [W2]", now.Add(-30*time.Hour)),
		occupiedUnit("U-garbled", "someone, somewhere", now.Add(-time.Hour)),
		fab.NewWorkUnit("U-free", now),
	}
	res := m.ReconcileStore(context.Background(), stubScanner{units: units})
	if res.Reconciled != 1 || res.Skipped != 2 || res.AlreadyHeld != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if b.Len() != 1 {
		t.Fatalf("expected exactly one lock, got %d", b.Len())
	}
	holder, ok, err := m.Holder(context.Background(), m.Key("U-fresh", ""))
	if err != nil || !ok || holder.WorkerID != "W1" {
		t.Fatalf("lock should mirror persisted occupant: %+v ok=%v err=%v", holder, ok, err)
	}
	if !holder.AcquiredAt.Equal(now.Add(-2 * time.Hour)) {
		t.Fatalf("lease should keep the original occupation time, got %v", holder.AcquiredAt)
	}

	again := m.Reconcile(context.Background(), units)
	if again.Reconciled != 0 || again.AlreadyHeld != 1 || again.Skipped != 2 {
		t.Fatalf("re-run should be idempotent: %+v", again)
	}
	if b.Len() != 1 {
		t.Fatalf("re-run created extra locks")
	}
}

func TestReconcilePersistFailureCountsSkipped(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	b := NewMemoryBroker()
	b.FailPersist = func(key string) error {
		if strings.HasSuffix(key, "U-2") {
			return errors.New("i/o timeout")
		}
		return nil
	}
	m := newTestManager(b).WithClock(func() time.Time { return now })

	res := m.Reconcile(context.Background(), []*fab.WorkUnit{
		occupiedUnit("U-1", "Ana [W1]", now.Add(-time.Hour)),
		occupiedUnit("U-2", "Bo [W2]", now.Add(-time.Hour)),
	})
	if res.Reconciled != 1 || res.Skipped != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if ok, _ := m.Exists(context.Background(), m.Key("U-2", "")); ok {
		t.Fatalf("failed persist must not leave a lock")
	}
}

func TestReconcileStoreOutageReturnsZero(t *testing.T) {
	m := newTestManager(NewMemoryBroker())
	res := m.ReconcileStore(context.Background(), stubScanner{err: errors.New("connection refused")})
	if res != (ReconcileResult{}) {
		t.Fatalf("expected zero counts, got %+v", res)
	}
}

func TestReconcileWithoutTimestampSkips(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	u := occupiedUnit("U-1", "Ana [W1]", now)
	u.OccupiedSince = nil
	res := newTestManager(NewMemoryBroker()).WithClock(func() time.Time { return now }).
		Reconcile(context.Background(), []*fab.WorkUnit{u})
	if res.Skipped != 1 || res.Reconciled != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSweepReportsDrift(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	ctx := context.Background()
	m := newTestManager(NewMemoryBroker()).WithClock(func() time.Time { return now })

	if _, err := m.Claim(ctx, m.Key("U-orphan", ""), "W9"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := m.Claim(ctx, m.Key("U-ok", ""), "W1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	report, err := m.Sweep(ctx, stubScanner{units: []*fab.WorkUnit{
		occupiedUnit("U-ok", "Ana [W1]", now),
		occupiedUnit("U-lost", "Bo [W2]", now),
		fab.NewWorkUnit("U-orphan", now),
	}})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Locks != 2 {
		t.Fatalf("expected 2 locks, got %d", report.Locks)
	}
	if len(report.Orphans) != 1 || report.Orphans[0] != m.Key("U-orphan", "") {
		t.Fatalf("orphans: %v", report.Orphans)
	}
	if len(report.Unlocked) != 1 || report.Unlocked[0] != "U-lost" {
		t.Fatalf("unlocked: %v", report.Unlocked)
	}
}
