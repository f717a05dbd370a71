package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/fabline-backend/internal/data/repos/testutil"
	"github.com/yungbote/fabline-backend/internal/domain/fab"
)

func TestGormSinkRoundTrip(t *testing.T) {
	db := testutil.SQLite(t)
	sink := NewGormSink(db, testutil.Logger(t), 50)
	l := NewLog(testutil.Logger(t), sink, DefaultRetryPolicy()).WithSleep(noSleep)
	ctx := context.Background()

	events := make([]Event, 120)
	for i := range events {
		events[i] = Event{
			UnitID:    "U-7",
			Kind:      fab.EventClaim,
			Stage:     fab.StageWelding,
			Timestamp: t0.Add(time.Duration(i) * time.Second),
			Extra:     datatypes.JSON([]byte(`{"seq":1}`)),
		}
	}
	res, err := l.AppendBatch(ctx, events)
	if err != nil {
		t.Fatalf("append batch: %v", err)
	}
	if res.TotalChunks != 3 {
		t.Fatalf("expected 3 chunks of <=50, got %+v", res)
	}

	got, err := l.EventsForUnit(ctx, "U-7")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(got) != 120 {
		t.Fatalf("expected 120 rows, got %d", len(got))
	}
	if got[0].Stage != fab.StageWelding || string(got[0].Extra) != `{"seq":1}` {
		t.Fatalf("row fields lost: %+v", got[0])
	}
}

func TestGormSinkRejectsOversizedChunk(t *testing.T) {
	sink := NewGormSink(testutil.SQLite(t), nil, 2)
	err := sink.AppendRows(context.Background(), make([]Event, 3))
	if !fab.IsCode(err, fab.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSinksRejectDuplicateEventIDs(t *testing.T) {
	sinks := map[string]Sink{
		"gorm":   NewGormSink(testutil.SQLite(t), nil, 0),
		"memory": NewMemorySink(0),
	}
	for name, sink := range sinks {
		t.Run(name, func(t *testing.T) {
			l := NewLog(nil, sink, DefaultRetryPolicy()).WithSleep(noSleep)
			ctx := context.Background()
			ev := Event{ID: uuid.New(), UnitID: "U-dup", Kind: fab.EventSupervisorOverride}
			if err := l.Append(ctx, ev); err != nil {
				t.Fatalf("first append: %v", err)
			}
			if err := l.Append(ctx, ev); !fab.IsCode(err, fab.CodeConflict) {
				t.Fatalf("second append should conflict, got %v", err)
			}
			got, err := l.EventsForUnit(ctx, "U-dup")
			if err != nil || len(got) != 1 {
				t.Fatalf("expected one row, got %d (%v)", len(got), err)
			}
		})
	}
}
