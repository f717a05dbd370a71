package units

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
)

// MemoryStore keeps deep copies of units in process. The Fail hooks, when
// set, are consulted before each operation.
type MemoryStore struct {
	mu    sync.Mutex
	units map[string]*fab.WorkUnit

	FailRead  func(id string) error
	FailWrite func(id string, updates []fab.FieldUpdate) error
	FailScan  func() error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{units: map[string]*fab.WorkUnit{}}
}

func (s *MemoryStore) ReadUnit(_ context.Context, id string) (*fab.WorkUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailRead != nil {
		if err := s.FailRead(id); err != nil {
			return nil, fab.MapStoreError("units.read", err)
		}
	}
	u, ok := s.units[id]
	if !ok {
		return nil, fab.NotFound("units.read", "unit "+id)
	}
	return u.Clone(), nil
}

func (s *MemoryStore) BatchWrite(_ context.Context, id string, updates []fab.FieldUpdate, opts ...WriteOption) (*fab.WorkUnit, error) {
	o := collectOptions(opts)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrite != nil {
		if err := s.FailWrite(id, updates); err != nil {
			return nil, fab.MapStoreError("units.batch_write", err)
		}
	}
	cur, ok := s.units[id]
	if !ok {
		return nil, fab.NotFound("units.batch_write", "unit "+id)
	}
	if o.expectVersion != nil && cur.VersionToken != *o.expectVersion {
		return nil, versionConflict("units.batch_write", id, *o.expectVersion, cur.VersionToken)
	}
	next := cur.Clone()
	if err := fab.Apply(next, updates); err != nil {
		return nil, err
	}
	s.units[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) ScanAll(_ context.Context) ([]*fab.WorkUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailScan != nil {
		if err := s.FailScan(); err != nil {
			return nil, fab.MapStoreError("units.scan_all", err)
		}
	}
	out := make([]*fab.WorkUnit, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, u *fab.WorkUnit) error {
	if u == nil || strings.TrimSpace(u.ID) == "" {
		return fab.ValidationError("units.create", "unit id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.units[u.ID]; exists {
		return fab.NewError(fab.CodeConflict, "units.create", "unit "+u.ID+" already exists", nil)
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	s.units[u.ID] = u.Clone()
	return nil
}
