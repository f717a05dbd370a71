package observability

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
	"github.com/yungbote/fabline-backend/internal/platform/logger"
)

// Metrics holds every series the service exposes. A nil *Metrics is valid and
// records nothing, so callers never branch on whether metrics are enabled.
type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge
	apiReqTotal *Counter
	apiReqError *Counter

	transitions        *CounterVec
	transitionLatency  *HistogramVec
	lockClaims         *CounterVec
	reconcileUnits     *CounterVec
	auditWrites        *CounterVec
	auditRows          *CounterVec
	auditRetries       *Counter
	blockedUnits       *Counter
	supervisorOverride *Counter
	occupiedUnits      *GaugeVec

	pgStats   *GaugeVec
	redisUp   *Gauge
	redisPing *Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	v := strings.TrimSpace(os.Getenv("METRICS_SCRAPE_INTERVAL_SECONDS"))
	if v == "" {
		return 10 * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n) * time.Second
}

// Init builds the process-wide registry when METRICS_ENABLED is set.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = New()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

// New returns an unregistered set of series. Tests use it directly.
func New() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("fab_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"fab_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		),
		apiInflight: NewGauge("fab_api_inflight_requests", "In-flight API requests."),
		apiReqTotal: NewCounter("fab_api_requests_total_all", "Total API requests (all)."),
		apiReqError: NewCounter("fab_api_requests_error_total", "Total API requests with 5xx status."),

		transitions: NewCounterVec(
			"fab_transitions_total",
			"Transition requests by stage/action/result.",
			[]string{"stage", "action", "result"},
		),
		transitionLatency: NewHistogramVec(
			"fab_transition_duration_seconds",
			"End-to-end transition latency by stage/action.",
			[]string{"stage", "action"},
			[]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		),
		lockClaims:         NewCounterVec("fab_lock_claims_total", "Occupation lock claims by result.", []string{"result"}),
		reconcileUnits:     NewCounterVec("fab_reconcile_units_total", "Units processed by lock reconciliation by outcome.", []string{"result"}),
		auditWrites:        NewCounterVec("fab_audit_writes_total", "Audit chunk writes by result.", []string{"result"}),
		auditRows:          NewCounterVec("fab_audit_rows_total", "Audit rows by write result.", []string{"result"}),
		auditRetries:       NewCounter("fab_audit_retries_total", "Audit chunk write retries."),
		blockedUnits:       NewCounter("fab_blocked_units_total", "Blocked rework outcomes: rejections reaching the cycle limit and refused repair claims."),
		supervisorOverride: NewCounter("fab_supervisor_overrides_total", "Blocked units found released without an approval."),
		occupiedUnits:      NewGaugeVec("fab_occupied_units", "Occupied units by active stage.", []string{"stage"}),

		pgStats:   NewGaugeVec("fab_postgres_pool", "Postgres connection pool stats.", []string{"stat"}),
		redisUp:   NewGauge("fab_redis_up", "Lock broker reachability (1 up, 0 down)."),
		redisPing: NewGauge("fab_redis_ping_seconds", "Lock broker ping latency in seconds."),
	}
}

func (m *Metrics) collectors() []collector {
	return []collector{
		m.apiRequests, m.apiLatency, m.apiInflight, m.apiReqTotal, m.apiReqError,
		m.transitions, m.transitionLatency, m.lockClaims, m.reconcileUnits,
		m.auditWrites, m.auditRows, m.auditRetries, m.blockedUnits, m.supervisorOverride,
		m.occupiedUnits, m.pgStats, m.redisUp, m.redisPing,
	}
}

// StartServer exposes /metrics on a dedicated listener until ctx is done.
func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range m.collectors() {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
	m.apiReqTotal.Inc()
	if strings.HasPrefix(strings.TrimSpace(status), "5") {
		m.apiReqError.Inc()
	}
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: postgres stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
				m.pgStats.Set(float64(stats.InUse), "in_use")
				m.pgStats.Set(float64(stats.Idle), "idle")
				m.pgStats.Set(float64(stats.WaitCount), "wait_count")
				m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
				m.pgStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
			}
		}
	}()
}

// Pinger is the slice of the lock broker the redis collector needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, p Pinger) {
	if m == nil || p == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.pingRedis(ctx, log, p)
			}
		}
	}()
}

func (m *Metrics) pingRedis(ctx context.Context, log *logger.Logger, p Pinger) {
	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		m.redisUp.Set(0)
		if log != nil {
			log.Warn("metrics: redis ping failed", "error", err)
		}
		return
	}
	m.redisUp.Set(1)
	m.redisPing.Set(time.Since(start).Seconds())
}

// StartOccupancyCollector samples how many units are occupied per stage.
func (m *Metrics) StartOccupancyCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.sampleOccupancy(ctx, db); err != nil && log != nil {
					log.Warn("metrics: occupancy query failed", "error", err)
				}
			}
		}
	}()
}

func (m *Metrics) sampleOccupancy(ctx context.Context, db *gorm.DB) error {
	var rows []struct {
		ActiveStage string
		Count       int64
	}
	if err := db.WithContext(ctx).
		Model(&fab.WorkUnit{}).
		Select("active_stage, count(*) as count").
		Where("occupant IS NOT NULL AND occupant <> ''").
		Group("active_stage").
		Scan(&rows).Error; err != nil {
		return err
	}
	m.occupiedUnits.Reset()
	for _, s := range []fab.Stage{fab.StageAssembly, fab.StageWelding, fab.StageRework} {
		m.occupiedUnits.Set(0, string(s))
	}
	for _, row := range rows {
		stage := strings.TrimSpace(row.ActiveStage)
		if stage == "" {
			stage = "unknown"
		}
		m.occupiedUnits.Set(float64(row.Count), stage)
	}
	return nil
}
