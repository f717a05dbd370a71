// Package occupancy is the distributed advisory lock that grants one worker
// exclusive hold of a work unit. Locks carry no expiry once established; a
// worker may hold a unit across shifts and only an explicit release or the
// startup reconciliation sweep changes that.
package occupancy

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
	"github.com/yungbote/fabline-backend/internal/platform/logger"
)

type Config struct {
	Keyspace Keyspace
	// ProvisionalTTL bounds the window between create and persist so a crash
	// there cannot leave a permanent orphan.
	ProvisionalTTL time.Duration
	// StaleAfter is the reconciliation cutoff for persisted occupancy.
	StaleAfter time.Duration
	// Concurrency bounds parallel lock creation during reconciliation.
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.ProvisionalTTL <= 0 {
		c.ProvisionalTTL = 30 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 24 * time.Hour
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	return c
}

// Recorder receives lock outcomes for metrics.
type Recorder interface {
	LockClaim(result string)
	Reconciled(reconciled, skipped, alreadyHeld int)
}

type noopRecorder struct{}

func (noopRecorder) LockClaim(string)          {}
func (noopRecorder) Reconciled(int, int, int) {}

type Manager struct {
	log      *logger.Logger
	broker   Broker
	cfg      Config
	recorder Recorder
	now      func() time.Time
}

func NewManager(log *logger.Logger, broker Broker, cfg Config) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		log:      log.With("service", "OccupationLockManager"),
		broker:   broker,
		cfg:      cfg.withDefaults(),
		recorder: noopRecorder{},
		now:      time.Now,
	}
}

func (m *Manager) WithRecorder(r Recorder) *Manager {
	if r != nil {
		m.recorder = r
	}
	return m
}

// WithClock overrides the clock used for lease timestamps and staleness.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *Manager) Keyspace() Keyspace { return m.cfg.Keyspace }

// Key is a shorthand for the configured keyspace.
func (m *Manager) Key(unitID string, stage fab.Stage) string {
	return m.cfg.Keyspace.Key(unitID, stage)
}

// Claim creates the lock iff absent and makes it durable. On contention the
// error is UnitOccupied carrying the current holder's worker id. A persist
// failure deletes the fresh lock and reports LockPersistFailure.
func (m *Manager) Claim(ctx context.Context, key, workerID string) (string, error) {
	return m.claim(ctx, key, workerID, m.now())
}

func (m *Manager) claim(ctx context.Context, key, workerID string, acquiredAt time.Time) (string, error) {
	if key == "" || workerID == "" {
		return "", fab.ValidationError("occupancy.claim", "key and worker id are required")
	}
	lease := Lease{WorkerID: workerID, LeaseID: uuid.NewString(), AcquiredAt: acquiredAt.UTC()}
	value, err := lease.encode()
	if err != nil {
		return "", fab.Wrap(fab.CodeInternal, "occupancy.claim", err)
	}

	created, err := m.broker.SetIfAbsent(ctx, key, value, m.cfg.ProvisionalTTL)
	if err != nil {
		m.recorder.LockClaim("error")
		return "", fab.MapStoreError("occupancy.claim", err)
	}
	if !created {
		m.recorder.LockClaim("occupied")
		holder := ""
		if current, ok, _ := m.Holder(ctx, key); ok {
			holder = current.WorkerID
		}
		return "", fab.UnitOccupied("occupancy.claim", m.cfg.Keyspace.UnitID(key), holder)
	}

	persisted, perr := m.broker.Persist(ctx, key)
	if perr != nil || !persisted {
		if _, derr := m.broker.Delete(ctx, key); derr != nil {
			m.log.Error("lock rollback after persist failure failed", "key", key, "error", derr)
		}
		m.recorder.LockClaim("persist_failed")
		msg := "lock vanished before persist"
		if perr != nil {
			msg = perr.Error()
		}
		return "", fab.NewError(fab.CodeLockPersistFailure, "occupancy.claim", msg, perr)
	}
	m.recorder.LockClaim("acquired")
	m.log.Debug("lock acquired", "key", key, "worker_id", workerID, "lease_id", lease.LeaseID)
	return lease.LeaseID, nil
}

// Release deletes the lock. Releasing an absent lock is not an error.
func (m *Manager) Release(ctx context.Context, key string) error {
	if _, err := m.broker.Delete(ctx, key); err != nil {
		return fab.MapStoreError("occupancy.release", err)
	}
	return nil
}

func (m *Manager) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := m.broker.Exists(ctx, key)
	if err != nil {
		return false, fab.MapStoreError("occupancy.exists", err)
	}
	return ok, nil
}

// Holder returns the lease stored under key.
func (m *Manager) Holder(ctx context.Context, key string) (Lease, bool, error) {
	raw, ok, err := m.broker.Get(ctx, key)
	if err != nil {
		return Lease{}, false, fab.MapStoreError("occupancy.holder", err)
	}
	if !ok {
		return Lease{}, false, nil
	}
	lease, err := decodeLease(raw)
	if err != nil {
		return Lease{}, true, fab.Wrap(fab.CodeInternal, "occupancy.holder", err)
	}
	return lease, true, nil
}

// Keys lists every lock currently held in the keyspace.
func (m *Manager) Keys(ctx context.Context) ([]string, error) {
	keys, err := m.broker.Scan(ctx, m.cfg.Keyspace.Pattern())
	if err != nil {
		return nil, fab.MapStoreError("occupancy.keys", err)
	}
	return keys, nil
}
