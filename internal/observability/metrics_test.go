package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/fabline-backend/internal/data/repos/testutil"
	"github.com/yungbote/fabline-backend/internal/domain/fab"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Transition("assembly", "claim", "ok", time.Millisecond)
	m.LockClaim("acquired")
	m.Reconciled(1, 2, 3)
	m.AuditWrite("ok", 10)
	m.AuditRetry()
	m.BlockedUnit()
	m.SupervisorOverride()
	m.ObserveAPI("GET", "/x", "200", time.Millisecond)
	if err := m.WritePrometheus(&bytes.Buffer{}); err != nil {
		t.Fatalf("nil write: %v", err)
	}
	rec := httptest.NewRecorder()
	m.WriteHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("nil metrics should report 503, got %d", rec.Code)
	}
}

func TestRecordersFeedSeries(t *testing.T) {
	m := New()
	m.Transition("assembly", "claim", "ok", 20*time.Millisecond)
	m.Transition("assembly", "claim", "unit_occupied", time.Millisecond)
	m.LockClaim("acquired")
	m.LockClaim("acquired")
	m.Reconciled(1, 2, 0)
	m.AuditWrite("ok", 900)
	m.AuditRetry()

	if got := m.transitions.Value("assembly", "claim", "ok"); got != 1 {
		t.Fatalf("transitions ok = %v", got)
	}
	if got := m.transitionLatency.Count("assembly", "claim"); got != 2 {
		t.Fatalf("latency observations = %d", got)
	}
	if got := m.lockClaims.Value("acquired"); got != 2 {
		t.Fatalf("lock claims = %v", got)
	}
	if got := m.reconcileUnits.Value("skipped"); got != 2 {
		t.Fatalf("reconcile skipped = %v", got)
	}
	if got := m.auditRows.Value("ok"); got != 900 {
		t.Fatalf("audit rows = %v", got)
	}

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`fab_transitions_total{stage="assembly",action="claim",result="ok"} 1.000000`,
		`fab_transition_duration_seconds_bucket{stage="assembly",action="claim",le="+Inf"} 2`,
		`fab_lock_claims_total{result="acquired"} 2.000000`,
		`fab_audit_retries_total 1.000000`,
		"# TYPE fab_redis_up gauge",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("exposition missing %q\n%s", want, out)
		}
	}
}

func TestExpositionIsSorted(t *testing.T) {
	c := NewCounterVec("x_total", "x", []string{"k"})
	c.Inc("b")
	c.Inc("a")
	c.Inc("c")
	var buf bytes.Buffer
	if err := c.WritePrometheus(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	if !(strings.Index(out, `k="a"`) < strings.Index(out, `k="b"`) && strings.Index(out, `k="b"`) < strings.Index(out, `k="c"`)) {
		t.Fatalf("series not sorted:\n%s", out)
	}
}

func TestLabelEscaping(t *testing.T) {
	got := labelString([]string{"a", "b"}, []string{"x\"y", ""})
	if got != `{a="x\"y",b="unknown"}` {
		t.Fatalf("labelString = %s", got)
	}
	if withLe("", "0.5") != `{le="0.5"}` {
		t.Fatalf("withLe on empty labels")
	}
	if withLe(`{a="1"}`, "+Inf") != `{a="1",le="+Inf"}` {
		t.Fatalf("withLe merge")
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPingRedis(t *testing.T) {
	m := New()
	m.pingRedis(context.Background(), nil, pingFunc(func(context.Context) error { return nil }))
	if m.redisUp.Value() != 1 {
		t.Fatalf("expected redis up")
	}
	m.pingRedis(context.Background(), nil, pingFunc(func(context.Context) error { return errors.New("down") }))
	if m.redisUp.Value() != 0 {
		t.Fatalf("expected redis down")
	}
}

func TestSampleOccupancy(t *testing.T) {
	db := testutil.SQLite(t)
	testutil.SeedUnit(t, db, "U-1")
	testutil.SeedUnit(t, db, "U-2")
	if err := db.Model(&fab.WorkUnit{}).Where("id = ?", "U-1").
		Updates(map[string]any{"occupant": "Ana [W1]", "active_stage": string(fab.StageWelding)}).Error; err != nil {
		t.Fatalf("occupy: %v", err)
	}

	m := New()
	if err := m.sampleOccupancy(context.Background(), db); err != nil {
		t.Fatalf("sample: %v", err)
	}
	if got := m.occupiedUnits.Value(string(fab.StageWelding)); got != 1 {
		t.Fatalf("welding occupied = %v", got)
	}
	if got := m.occupiedUnits.Value(string(fab.StageAssembly)); got != 0 {
		t.Fatalf("assembly occupied = %v", got)
	}
}
