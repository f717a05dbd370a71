package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
	"github.com/yungbote/fabline-backend/internal/platform/logger"
)

type Event = fab.AuditEvent

// DefaultMaxBatch is the largest row batch the backing store accepts per call.
const DefaultMaxBatch = 900

// Sink is the append-only row writer behind the log.
type Sink interface {
	AppendRows(ctx context.Context, rows []Event) error
	ListByUnit(ctx context.Context, unitID string) ([]Event, error)
	MaxBatchSize() int
}

type GormSink struct {
	db       *gorm.DB
	log      *logger.Logger
	maxBatch int
}

func NewGormSink(db *gorm.DB, baseLog *logger.Logger, maxBatch int) *GormSink {
	if maxBatch <= 0 || maxBatch > DefaultMaxBatch {
		maxBatch = DefaultMaxBatch
	}
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	return &GormSink{db: db, log: baseLog.With("repo", "AuditEventRepo"), maxBatch: maxBatch}
}

func (s *GormSink) MaxBatchSize() int { return s.maxBatch }

// AppendRows inserts one chunk inside a single transaction.
func (s *GormSink) AppendRows(ctx context.Context, rows []Event) error {
	if len(rows) == 0 {
		return nil
	}
	if len(rows) > s.maxBatch {
		return fab.ValidationError("audit.append_rows", fmt.Sprintf("batch of %d exceeds max %d", len(rows), s.maxBatch))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&rows, len(rows)).Error
	})
}

func (s *GormSink) ListByUnit(ctx context.Context, unitID string) ([]Event, error) {
	var out []Event
	err := s.db.WithContext(ctx).
		Where("unit_id = ?", unitID).
		Order("timestamp ASC").
		Find(&out).Error
	return out, err
}

// MemorySink keeps events in process. Chunks records each AppendRows size;
// Fail, when set, is consulted before every write. Event ids are unique, as
// they are in the audit table.
type MemorySink struct {
	mu       sync.Mutex
	rows     []Event
	ids      map[uuid.UUID]struct{}
	chunks   []int
	calls    int
	maxBatch int

	Fail func(call int, rows []Event) error
}

func NewMemorySink(maxBatch int) *MemorySink {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &MemorySink{maxBatch: maxBatch, ids: map[uuid.UUID]struct{}{}}
}

func (s *MemorySink) MaxBatchSize() int { return s.maxBatch }

func (s *MemorySink) AppendRows(_ context.Context, rows []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.Fail != nil {
		if err := s.Fail(s.calls, rows); err != nil {
			return err
		}
	}
	if len(rows) > s.maxBatch {
		return fab.ValidationError("audit.append_rows", fmt.Sprintf("batch of %d exceeds max %d", len(rows), s.maxBatch))
	}
	for _, r := range rows {
		if _, dup := s.ids[r.ID]; dup && r.ID != uuid.Nil {
			return fab.NewError(fab.CodeConflict, "audit.append_rows", "duplicate event id "+r.ID.String(), nil)
		}
	}
	for _, r := range rows {
		s.ids[r.ID] = struct{}{}
	}
	s.rows = append(s.rows, rows...)
	s.chunks = append(s.chunks, len(rows))
	return nil
}

func (s *MemorySink) ListByUnit(_ context.Context, unitID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, r := range s.rows {
		if r.UnitID == unitID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Chunks returns the sizes of successful writes, in order.
func (s *MemorySink) Chunks() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.chunks...)
}

// Calls counts AppendRows invocations, failed ones included.
func (s *MemorySink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
