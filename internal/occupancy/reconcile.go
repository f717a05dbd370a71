package occupancy

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
)

// ReconcileResult counts the outcome of one sweep. AlreadyHeld units had a
// live lock and were left alone.
type ReconcileResult struct {
	Reconciled  int `json:"reconciled"`
	Skipped     int `json:"skipped"`
	AlreadyHeld int `json:"already_held"`
}

// UnitScanner is the slice of the row store the sweep reads.
type UnitScanner interface {
	ScanAll(ctx context.Context) ([]*fab.WorkUnit, error)
}

// ReconcileStore scans the row store and rebuilds locks. It never fails: a
// store outage is logged and yields zero counts so startup can proceed.
func (m *Manager) ReconcileStore(ctx context.Context, store UnitScanner) ReconcileResult {
	units, err := store.ScanAll(ctx)
	if err != nil {
		m.log.Error("reconciliation skipped: row store scan failed", "error", err)
		return ReconcileResult{}
	}
	return m.Reconcile(ctx, units)
}

// Reconcile recreates a durable lock for every persisted occupant that is
// fresh and parseable. Safe to re-run.
func (m *Manager) Reconcile(ctx context.Context, units []*fab.WorkUnit) ReconcileResult {
	now := m.now()
	var reconciled, skipped, held atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for _, u := range units {
		if u == nil || !u.IsOccupied() {
			continue
		}
		u := u
		g.Go(func() error {
			switch m.reconcileOne(gctx, u, now) {
			case outcomeReconciled:
				reconciled.Add(1)
			case outcomeHeld:
				held.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := ReconcileResult{
		Reconciled:  int(reconciled.Load()),
		Skipped:     int(skipped.Load()),
		AlreadyHeld: int(held.Load()),
	}
	m.recorder.Reconciled(res.Reconciled, res.Skipped, res.AlreadyHeld)
	m.log.Info("occupation locks reconciled",
		"reconciled", res.Reconciled,
		"skipped", res.Skipped,
		"already_held", res.AlreadyHeld,
	)
	return res
}

type reconcileOutcome int

const (
	outcomeSkipped reconcileOutcome = iota
	outcomeReconciled
	outcomeHeld
)

func (m *Manager) reconcileOne(ctx context.Context, u *fab.WorkUnit, now time.Time) reconcileOutcome {
	key := m.cfg.Keyspace.Key(u.ID, u.ActiveStage)
	exists, err := m.broker.Exists(ctx, key)
	if err != nil {
		m.log.Warn("reconcile: lock lookup failed", "unit_id", u.ID, "error", err)
		return outcomeSkipped
	}
	if exists {
		return outcomeHeld
	}
	if u.OccupiedSince == nil {
		m.log.Warn("reconcile: occupant without timestamp", "unit_id", u.ID)
		return outcomeSkipped
	}
	if age := now.Sub(*u.OccupiedSince); age > m.cfg.StaleAfter {
		m.log.Info("reconcile: stale occupancy ignored", "unit_id", u.ID, "age", age.String())
		return outcomeSkipped
	}
	occ, err := ParseOccupant(u.OccupantName())
	if err != nil {
		m.log.Warn("reconcile: unparsable occupant", "unit_id", u.ID, "occupant", u.OccupantName())
		return outcomeSkipped
	}
	if _, err := m.claim(ctx, key, occ.WorkerID, *u.OccupiedSince); err != nil {
		if fab.IsCode(err, fab.CodeUnitOccupied) {
			return outcomeHeld
		}
		m.log.Warn("reconcile: lock rebuild failed", "unit_id", u.ID, "error", err)
		return outcomeSkipped
	}
	return outcomeReconciled
}

// SweepReport compares live locks against persisted occupancy.
type SweepReport struct {
	Locks int `json:"locks"`
	// Orphans are locks whose unit carries no persisted occupant.
	Orphans []string `json:"orphans,omitempty"`
	// Unlocked are occupied units with no live lock.
	Unlocked []string `json:"unlocked,omitempty"`
}

// Sweep reports drift between the broker and the row store. It changes
// nothing; reconciliation is the only repair path.
func (m *Manager) Sweep(ctx context.Context, store UnitScanner) (SweepReport, error) {
	keys, err := m.Keys(ctx)
	if err != nil {
		return SweepReport{}, err
	}
	units, err := store.ScanAll(ctx)
	if err != nil {
		return SweepReport{}, fab.MapStoreError("occupancy.sweep", err)
	}

	live := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		live[k] = struct{}{}
	}
	occupied := map[string]struct{}{}
	report := SweepReport{Locks: len(keys)}
	for _, u := range units {
		if u == nil || !u.IsOccupied() {
			continue
		}
		key := m.cfg.Keyspace.Key(u.ID, u.ActiveStage)
		occupied[key] = struct{}{}
		if _, ok := live[key]; !ok {
			report.Unlocked = append(report.Unlocked, u.ID)
		}
	}
	for _, k := range keys {
		if _, ok := occupied[k]; !ok {
			report.Orphans = append(report.Orphans, k)
		}
	}
	return report, nil
}
