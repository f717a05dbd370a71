package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/yungbote/fabline-backend/internal/data/db"
	"github.com/yungbote/fabline-backend/internal/data/repos/testutil"
)

func TestTryAdvisoryLockSingleWinner(t *testing.T) {
	gdb := testutil.Postgres(t)
	ctx := context.Background()

	release, ok, err := db.TryAdvisoryLock(ctx, gdb, db.ReconcileLockKey)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}
	if _, ok2, err := db.TryAdvisoryLock(ctx, gdb, db.ReconcileLockKey); err != nil || ok2 {
		t.Fatalf("second lock should lose: ok=%v err=%v", ok2, err)
	}
	release()

	release, ok, err = db.TryAdvisoryLock(ctx, gdb, db.ReconcileLockKey)
	if err != nil || !ok {
		t.Fatalf("lock after release: ok=%v err=%v", ok, err)
	}
	release()
}

func TestAdvisoryLockWaitsForHolder(t *testing.T) {
	gdb := testutil.Postgres(t)
	ctx := context.Background()

	release, ok, err := db.TryAdvisoryLock(ctx, gdb, db.ReconcileLockKey)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}
	acquired := make(chan func(), 1)
	go func() {
		rel, err := db.AdvisoryLock(ctx, gdb, db.ReconcileLockKey)
		if err != nil {
			t.Errorf("wait: %v", err)
			close(acquired)
			return
		}
		acquired <- rel
	}()

	select {
	case <-acquired:
		t.Fatalf("waiter acquired the lock while it was held")
	case <-time.After(200 * time.Millisecond):
	}
	release()
	select {
	case rel := <-acquired:
		if rel != nil {
			rel()
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("waiter never acquired the lock")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	release, _, _ = db.TryAdvisoryLock(ctx, gdb, db.ReconcileLockKey)
	if release == nil {
		t.Fatalf("lock should be free again")
	}
	defer release()
	if _, err := db.AdvisoryLock(waitCtx, gdb, db.ReconcileLockKey); err == nil {
		t.Fatalf("wait should end with the context")
	}
}

func TestAutoMigrateAllIsRepeatable(t *testing.T) {
	gdb := testutil.SQLite(t)
	if err := db.AutoMigrateAll(gdb); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if !gdb.Migrator().HasIndex("audit_events", "idx_audit_events_unit_ts") {
		t.Fatalf("timeline index missing")
	}
}
