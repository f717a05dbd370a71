package units

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
	"github.com/yungbote/fabline-backend/internal/platform/dbctx"
	"github.com/yungbote/fabline-backend/internal/platform/logger"
)

// ColumnMap maps logical fields onto physical columns. Fields absent from the
// map use their logical name.
type ColumnMap map[fab.Field]string

func (m ColumnMap) column(f fab.Field) string {
	if c, ok := m[f]; ok && strings.TrimSpace(c) != "" {
		return c
	}
	return string(f)
}

type GormStore struct {
	db      *gorm.DB
	log     *logger.Logger
	table   string
	columns ColumnMap
}

type GormOption func(*GormStore)

// WithTable overrides the physical table name.
func WithTable(name string) GormOption {
	return func(s *GormStore) {
		if strings.TrimSpace(name) != "" {
			s.table = strings.TrimSpace(name)
		}
	}
}

// WithColumns overrides physical column names for renamed schemas.
func WithColumns(m ColumnMap) GormOption {
	return func(s *GormStore) {
		for k, v := range m {
			s.columns[k] = v
		}
	}
}

func NewGormStore(db *gorm.DB, baseLog *logger.Logger, opts ...GormOption) *GormStore {
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	s := &GormStore{
		db:      db,
		log:     baseLog.With("repo", "WorkUnitRepo"),
		table:   fab.WorkUnit{}.TableName(),
		columns: ColumnMap{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GormStore) selectList() string {
	cols := []string{"id", "created_at"}
	for _, f := range fab.AllFields {
		phys := s.columns.column(f)
		if phys == string(f) {
			cols = append(cols, phys)
			continue
		}
		cols = append(cols, fmt.Sprintf("%s AS %s", phys, f))
	}
	return strings.Join(cols, ", ")
}

func (s *GormStore) readTx(dbc dbctx.Context, id string, lock bool) (*fab.WorkUnit, error) {
	q := dbc.DB(s.db).Table(s.table).Select(s.selectList()).Where("id = ?", id)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var u fab.WorkUnit
	if err := q.Take(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *GormStore) ReadUnit(ctx context.Context, id string) (*fab.WorkUnit, error) {
	u, err := s.readTx(dbctx.Context{Ctx: ctx}, id, false)
	if err != nil {
		return nil, fab.MapStoreError("units.read", err)
	}
	return u, nil
}

func (s *GormStore) ScanAll(ctx context.Context) ([]*fab.WorkUnit, error) {
	var rows []*fab.WorkUnit
	err := s.db.WithContext(ctx).
		Table(s.table).
		Select(s.selectList()).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fab.MapStoreError("units.scan_all", err)
	}
	return rows, nil
}

func (s *GormStore) Create(ctx context.Context, u *fab.WorkUnit) error {
	if u == nil || strings.TrimSpace(u.ID) == "" {
		return fab.ValidationError("units.create", "unit id is required")
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	row := map[string]any{"id": u.ID, "created_at": u.CreatedAt}
	for _, f := range fab.AllFields {
		row[s.columns.column(f)] = fieldValue(u, f)
	}
	if err := s.db.WithContext(ctx).Table(s.table).Create(row).Error; err != nil {
		return fab.MapStoreError("units.create", err)
	}
	return nil
}

// BatchWrite applies updates in one transaction. The row is locked, the
// updates are validated against it in memory, and only the touched columns
// are written, guarded by the version token read under the lock.
func (s *GormStore) BatchWrite(ctx context.Context, id string, updates []fab.FieldUpdate, opts ...WriteOption) (*fab.WorkUnit, error) {
	o := collectOptions(opts)
	var out *fab.WorkUnit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		cur, err := s.readTx(dbc, id, true)
		if err != nil {
			return err
		}
		if o.expectVersion != nil && cur.VersionToken != *o.expectVersion {
			return versionConflict("units.batch_write", id, *o.expectVersion, cur.VersionToken)
		}
		next := cur.Clone()
		if err := fab.Apply(next, updates); err != nil {
			return err
		}

		set := map[string]any{}
		for _, up := range updates {
			set[s.columns.column(up.Field)] = fieldValue(next, up.Field)
		}
		if len(set) == 0 {
			out = next
			return nil
		}
		res := tx.Table(s.table).
			Where("id = ? AND "+s.columns.column(fab.FieldVersionToken)+" = ?", id, cur.VersionToken).
			Updates(set)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return versionConflict("units.batch_write", id, cur.VersionToken, -1)
		}
		out = next
		return nil
	})
	if err != nil {
		s.log.Debug("batch write failed", "unit_id", id, "fields", len(updates), "error", err)
		return nil, fab.MapStoreError("units.batch_write", err)
	}
	return out, nil
}

func fieldValue(u *fab.WorkUnit, f fab.Field) any {
	switch f {
	case fab.FieldAssemblyStatus:
		return string(u.AssemblyStatus)
	case fab.FieldAssemblyClaimant:
		return u.AssemblyClaimant
	case fab.FieldAssemblyCompletedAt:
		return u.AssemblyCompletedAt
	case fab.FieldWeldingStatus:
		return string(u.WeldingStatus)
	case fab.FieldWeldingClaimant:
		return u.WeldingClaimant
	case fab.FieldWeldingCompletedAt:
		return u.WeldingCompletedAt
	case fab.FieldOccupant:
		return u.Occupant
	case fab.FieldOccupiedSince:
		return u.OccupiedSince
	case fab.FieldActiveStage:
		return string(u.ActiveStage)
	case fab.FieldReworkStatus:
		return string(u.ReworkStatus)
	case fab.FieldInspection:
		return string(u.Inspection)
	case fab.FieldStatusDetail:
		return u.StatusDetail
	case fab.FieldVersionToken:
		return u.VersionToken
	case fab.FieldUpdatedAt:
		return u.UpdatedAt
	}
	return nil
}
