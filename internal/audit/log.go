// Package audit is the append-only event log for lifecycle transitions.
// Writes are chunked to the sink's batch limit and retried with backoff on
// transient failures.
package audit

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
	"github.com/yungbote/fabline-backend/internal/platform/logger"
)

type RetryPolicy struct {
	Attempts   int
	MinBackoff time.Duration
	MaxBackoff time.Duration
	JitterFrac float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   3,
		MinBackoff: 200 * time.Millisecond,
		MaxBackoff: 2 * time.Second,
		JitterFrac: 0.20,
	}
}

// Recorder receives write outcomes for metrics.
type Recorder interface {
	AuditWrite(result string, rows int)
	AuditRetry()
}

type noopRecorder struct{}

func (noopRecorder) AuditWrite(string, int) {}
func (noopRecorder) AuditRetry()            {}

type Log struct {
	log      *logger.Logger
	sink     Sink
	retry    RetryPolicy
	recorder Recorder
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewLog(baseLog *logger.Logger, sink Sink, retry RetryPolicy) *Log {
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	if retry.Attempts <= 0 {
		retry.Attempts = DefaultRetryPolicy().Attempts
	}
	return &Log{
		log:      baseLog.With("service", "AuditLog"),
		sink:     sink,
		retry:    retry,
		recorder: noopRecorder{},
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func (l *Log) WithRecorder(r Recorder) *Log {
	if r != nil {
		l.recorder = r
	}
	return l
}

// WithSleep replaces the backoff wait; tests pass a no-op.
func (l *Log) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Log {
	if sleep != nil {
		l.sleep = sleep
	}
	return l
}

func (l *Log) WithClock(now func() time.Time) *Log {
	if now != nil {
		l.now = now
	}
	return l
}

// BatchResult summarises an AppendBatch call.
type BatchResult struct {
	Events          int
	TotalChunks     int
	SucceededChunks int
}

// BatchError reports where a batch stopped. Chunks before FailedChunk are
// durable; later ones were never attempted.
type BatchError struct {
	SucceededChunks int
	FailedChunk     int
	TotalChunks     int
	Err             error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("audit batch aborted at chunk %d of %d (%d written): %v",
		e.FailedChunk+1, e.TotalChunks, e.SucceededChunks, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Append durably writes one event.
func (l *Log) Append(ctx context.Context, ev Event) error {
	rows := []Event{ev}
	l.stamp(rows)
	if err := l.writeChunk(ctx, rows); err != nil {
		if fab.IsCode(fab.MapStoreError("audit.append", err), fab.CodeConflict) {
			return fab.NewError(fab.CodeConflict, "audit.append", "audit event already recorded", err)
		}
		return fab.NewError(fab.CodeLogWriteFailed, "audit.append", "audit event not recorded", err)
	}
	return nil
}

// AppendBatch writes events in chunks of at most the sink's batch size. An
// exhausted chunk aborts the rest.
func (l *Log) AppendBatch(ctx context.Context, events []Event) (BatchResult, error) {
	if len(events) == 0 {
		return BatchResult{}, nil
	}
	rows := append([]Event(nil), events...)
	l.stamp(rows)

	size := l.chunkSize()
	total := (len(rows) + size - 1) / size
	res := BatchResult{Events: len(rows), TotalChunks: total}
	for i := 0; i < total; i++ {
		lo := i * size
		hi := lo + size
		if hi > len(rows) {
			hi = len(rows)
		}
		if err := l.writeChunk(ctx, rows[lo:hi]); err != nil {
			be := &BatchError{SucceededChunks: res.SucceededChunks, FailedChunk: i, TotalChunks: total, Err: err}
			l.log.Error("audit batch aborted",
				"succeeded_chunks", be.SucceededChunks,
				"failed_chunk", be.FailedChunk,
				"total_chunks", total,
				"error", err,
			)
			return res, fab.NewError(fab.CodeLogWriteFailed, "audit.append_batch", be.Error(), be)
		}
		res.SucceededChunks++
	}
	return res, nil
}

// EventsForUnit returns the unit's events ordered by timestamp. Ties keep
// the sink's order.
func (l *Log) EventsForUnit(ctx context.Context, unitID string) ([]Event, error) {
	rows, err := l.sink.ListByUnit(ctx, unitID)
	if err != nil {
		return nil, fab.MapStoreError("audit.events_for_unit", err)
	}
	out := make([]Event, 0, len(rows))
	for _, r := range rows {
		if r.UnitID == unitID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// LatestEvent returns the most recent event of any of kinds (all kinds when
// empty), or nil.
func (l *Log) LatestEvent(ctx context.Context, unitID string, kinds ...fab.EventKind) (*Event, error) {
	events, err := l.EventsForUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	want := map[fab.EventKind]bool{}
	for _, k := range kinds {
		want[k] = true
	}
	for i := len(events) - 1; i >= 0; i-- {
		if len(want) == 0 || want[events[i].Kind] {
			ev := events[i]
			return &ev, nil
		}
	}
	return nil, nil
}

func (l *Log) chunkSize() int {
	size := DefaultMaxBatch
	if m := l.sink.MaxBatchSize(); m > 0 && m < size {
		size = m
	}
	return size
}

func (l *Log) stamp(rows []Event) {
	now := l.now().UTC()
	for i := range rows {
		if rows[i].ID == uuid.Nil {
			rows[i].ID = uuid.New()
		}
		if rows[i].Timestamp.IsZero() {
			rows[i].Timestamp = now
		}
		if rows[i].OperationDate.IsZero() {
			rows[i].OperationDate = rows[i].Timestamp
		}
	}
}

func (l *Log) writeChunk(ctx context.Context, rows []Event) error {
	var err error
	for attempt := 1; attempt <= l.retry.Attempts; attempt++ {
		err = l.sink.AppendRows(ctx, rows)
		if err == nil {
			l.recorder.AuditWrite("ok", len(rows))
			return nil
		}
		if !fab.IsTransient(err) || attempt == l.retry.Attempts {
			break
		}
		l.recorder.AuditRetry()
		wait := computeBackoff(l.retry, attempt)
		l.log.Warn("audit write failed, retrying",
			"attempt", attempt,
			"rows", len(rows),
			"backoff", wait.String(),
			"error", err,
		)
		if serr := l.sleep(ctx, wait); serr != nil {
			err = serr
			break
		}
	}
	l.recorder.AuditWrite("failed", len(rows))
	return err
}

func computeBackoff(r RetryPolicy, attempts int) time.Duration {
	minB := r.MinBackoff
	maxB := r.MaxBackoff
	j := r.JitterFrac
	if minB <= 0 {
		minB = 200 * time.Millisecond
	}
	if maxB <= 0 {
		maxB = 2 * time.Second
	}
	if j < 0 {
		j = 0
	}
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(minB) * math.Pow(2, float64(attempts-1)))
	if d > maxB {
		d = maxB
	}
	delta := float64(d) * j
	low := float64(d) - delta
	high := float64(d) + delta
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rand.Float64()*(high-low))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
