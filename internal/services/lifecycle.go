package services

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/fabline-backend/internal/audit"
	"github.com/yungbote/fabline-backend/internal/data/repos/units"
	"github.com/yungbote/fabline-backend/internal/domain/fab"
	"github.com/yungbote/fabline-backend/internal/lifecycle/cycle"
	"github.com/yungbote/fabline-backend/internal/lifecycle/display"
	"github.com/yungbote/fabline-backend/internal/lifecycle/rework"
	"github.com/yungbote/fabline-backend/internal/lifecycle/stagefsm"
	"github.com/yungbote/fabline-backend/internal/occupancy"
	"github.com/yungbote/fabline-backend/internal/platform/logger"
)

// TransitionRequest is one worker action on one unit. Identities arrive
// already authenticated.
type TransitionRequest struct {
	UnitID     string
	WorkerID   string
	WorkerName string
	Stage      fab.Stage
	Action     fab.Action
	OccurredAt time.Time
	// SubUnits, when set, adds one granular audit event per index next to
	// the summary event.
	SubUnits []int
	Extra    map[string]any
}

type TransitionResult struct {
	UnitID       string    `json:"unit_id"`
	Stage        fab.Stage `json:"stage"`
	Action       string    `json:"action"`
	From         string    `json:"from"`
	NewState     string    `json:"new_state"`
	StatusDetail string    `json:"status_detail"`
	VersionToken int64     `json:"version_token"`
	LeaseID      string    `json:"lease_id,omitempty"`
	Resumed      bool      `json:"resumed,omitempty"`
	CycleCount   int       `json:"cycle_count"`
	// AuditError is set when the transition stuck but its audit record did not.
	AuditError string `json:"audit_error,omitempty"`
}

// Recorder receives orchestrator outcomes for metrics.
type Recorder interface {
	Transition(stage, action, result string, d time.Duration)
	BlockedUnit()
	SupervisorOverride()
}

type noopRecorder struct{}

func (noopRecorder) Transition(string, string, string, time.Duration) {}
func (noopRecorder) BlockedUnit()                                     {}
func (noopRecorder) SupervisorOverride()                              {}

type LifecycleConfig struct {
	MaxCycles int
}

type LifecycleService interface {
	RequestTransition(ctx context.Context, req TransitionRequest) (*TransitionResult, error)
	RecordInspection(ctx context.Context, req InspectionRequest) (*InspectionResult, error)
	UnitStatus(ctx context.Context, unitID string) (*UnitView, error)
	Timeline(ctx context.Context, unitID string) (*Timeline, error)
	Reconcile(ctx context.Context) occupancy.ReconcileResult
	RegisterUnit(ctx context.Context, unitID string) (*fab.WorkUnit, error)
}

type lifecycleService struct {
	log      *logger.Logger
	store    units.RowStore
	locks    *occupancy.Manager
	events   *audit.Log
	rework   rework.Machine
	recorder Recorder
	tracer   trace.Tracer
	now      func() time.Time
}

type LifecycleOption func(*lifecycleService)

func WithRecorder(r Recorder) LifecycleOption {
	return func(s *lifecycleService) {
		if r != nil {
			s.recorder = r
		}
	}
}

func WithClock(now func() time.Time) LifecycleOption {
	return func(s *lifecycleService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewLifecycleService(
	log *logger.Logger,
	store units.RowStore,
	locks *occupancy.Manager,
	events *audit.Log,
	cfg LifecycleConfig,
	opts ...LifecycleOption,
) LifecycleService {
	if log == nil {
		log = logger.Nop()
	}
	s := &lifecycleService{
		log:      log.With("service", "LifecycleService"),
		store:    store,
		locks:    locks,
		events:   events,
		rework:   rework.New(cfg.MaxCycles),
		recorder: noopRecorder{},
		tracer:   otel.Tracer("fabline/lifecycle"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// transition is the machine-independent result of firing a stage or rework
// machine against a snapshot.
type transition struct {
	from     string
	to       string
	commands []fab.Command
	rework   *rework.Outcome
	resumed  bool
	count    int
}

func (s *lifecycleService) RequestTransition(ctx context.Context, req TransitionRequest) (res *TransitionResult, err error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "lifecycle.RequestTransition", trace.WithAttributes(
		attribute.String("unit.id", req.UnitID),
		attribute.String("unit.stage", string(req.Stage)),
		attribute.String("transition.action", string(req.Action)),
	))
	defer func() {
		result := "ok"
		if err != nil {
			result = string(fab.CodeOf(err))
			if result == "" {
				result = "error"
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		s.recorder.Transition(string(req.Stage), string(req.Action.Canonical()), result, s.now().Sub(start))
		span.End()
	}()

	if err := validateTransition(&req); err != nil {
		return nil, err
	}
	at := req.OccurredAt
	if at.IsZero() {
		at = s.now().UTC()
	}
	action := req.Action.Canonical()

	u, err := s.store.ReadUnit(ctx, req.UnitID)
	if err != nil {
		return nil, err
	}
	s.detectOverride(ctx, u, at)

	if err := s.checkPreconditions(u, req, action); err != nil {
		return nil, err
	}

	key := s.locks.Key(u.ID, req.Stage)
	occupant := occupancy.FormatOccupant(req.WorkerID, req.WorkerName)
	snap := s.reworkSnapshot(u)

	// blocked wins over lock contention
	if action == fab.ActionClaim && req.Stage == fab.StageRework && s.rework.IsBlocked(snap) {
		s.recorder.BlockedUnit()
		return nil, fab.Blocked("lifecycle.claim", u.ID, s.rework.Count(snap), s.rework.Counter().Max)
	}
	// one stage at a time: occupancy on another stage belongs to that stage's holder
	if u.IsOccupied() && u.ActiveStage != req.Stage {
		return nil, fab.UnitOccupied("lifecycle."+string(action), u.ID, u.OccupantName())
	}

	var leaseID string
	ownsLock := false
	switch {
	case action == fab.ActionClaim:
		leaseID, err = s.locks.Claim(ctx, key, req.WorkerID)
		if err != nil {
			return nil, s.describeOccupied(err, u)
		}
		ownsLock = true
	default:
		ownsLock, err = s.requireHolder(ctx, u, snap, req, action, key)
		if err != nil {
			return nil, err
		}
	}
	rollback := func() {
		if leaseID == "" {
			return
		}
		if rerr := s.locks.Release(context.WithoutCancel(ctx), key); rerr != nil {
			s.log.Error("failed to roll back fresh lock", "unit_id", u.ID, "key", key, "error", rerr)
		}
	}

	tr, err := s.fire(u, snap, req, action, occupant, at)
	if err != nil {
		rollback()
		return nil, err
	}

	updates := fab.Updates(tr.commands)
	if req.Stage.IsFabrication() {
		updates = append(updates, stageOccupancy(action, req.Stage, occupant, at)...)
	}
	next := u.Clone()
	if err := fab.Apply(next, updates); err != nil {
		rollback()
		return nil, err
	}
	reworkText := display.ReworkPart(u.StatusDetail)
	if tr.rework != nil {
		reworkText = tr.rework.Text
	}
	detail := display.Compose(display.ForUnit(next), reworkText)
	updates = append(updates,
		fab.Set(fab.FieldStatusDetail, detail),
		fab.Set(fab.FieldVersionToken, u.VersionToken+1),
		fab.Set(fab.FieldUpdatedAt, at),
	)

	written, err := s.store.BatchWrite(ctx, u.ID, updates, units.ExpectVersion(u.VersionToken))
	if err != nil {
		rollback()
		return nil, err
	}
	if action.ReleasesLock() && ownsLock {
		if rerr := s.locks.Release(ctx, key); rerr != nil {
			// the transition is durable; Sweep reports the orphaned lock
			s.log.Error("lock release failed after transition", "unit_id", u.ID, "key", key, "error", rerr)
		}
	}

	res = &TransitionResult{
		UnitID:       u.ID,
		Stage:        req.Stage,
		Action:       string(req.Action),
		From:         tr.from,
		NewState:     tr.to,
		StatusDetail: written.StatusDetail,
		VersionToken: written.VersionToken,
		LeaseID:      leaseID,
		Resumed:      tr.resumed,
		CycleCount:   tr.count,
	}
	if aerr := s.recordTransition(ctx, u, req, tr, res, at); aerr != nil {
		res.AuditError = aerr.Error()
	}
	s.log.Info("transition applied",
		"unit_id", u.ID,
		"stage", req.Stage,
		"action", req.Action,
		"from", tr.from,
		"to", tr.to,
		"worker_id", req.WorkerID,
		"version_token", written.VersionToken,
	)
	return res, nil
}

func validateTransition(req *TransitionRequest) error {
	req.UnitID = strings.TrimSpace(req.UnitID)
	req.WorkerID = strings.TrimSpace(req.WorkerID)
	req.WorkerName = cycle.SafeName(req.WorkerName)
	if req.UnitID == "" {
		return fab.ValidationError("lifecycle.request", "unit id is required")
	}
	if req.WorkerID == "" {
		return fab.ValidationError("lifecycle.request", "worker id is required")
	}
	if strings.ContainsAny(req.WorkerID, "[] \t") {
		return fab.ValidationError("lifecycle.request", "worker id must not contain brackets or spaces")
	}
	stage, ok := fab.ParseStage(string(req.Stage))
	if !ok {
		return fab.ValidationError("lifecycle.request", "unknown stage "+string(req.Stage))
	}
	req.Stage = stage
	action, ok := fab.ParseAction(string(req.Action))
	if !ok {
		return fab.ValidationError("lifecycle.request", "unknown action "+string(req.Action))
	}
	req.Action = action
	return nil
}

// checkPreconditions re-asserts structural invariants the machines do not own.
func (s *lifecycleService) checkPreconditions(u *fab.WorkUnit, req TransitionRequest, action fab.Action) error {
	if !req.Stage.IsFabrication() {
		return nil
	}
	view := u.StageView(req.Stage)
	if req.Stage == fab.StageWelding && action == fab.ActionClaim {
		if u.StageView(fab.StageAssembly).Status != fab.StatusCompleted {
			return fab.PreconditionFailed("lifecycle.claim", "welding requires assembly to be completed")
		}
	}
	if action == fab.ActionComplete && view.Status == fab.StatusInProgress && (view.Claimant == nil || *view.Claimant == "") {
		return fab.PreconditionFailed("lifecycle.complete", string(req.Stage)+" was never claimed")
	}
	return nil
}

func (s *lifecycleService) fire(u *fab.WorkUnit, snap rework.Snapshot, req TransitionRequest, action fab.Action, occupant string, at time.Time) (transition, error) {
	stage := req.Stage
	if stage == fab.StageRework {
		out, err := s.rework.Fire(snap, action, occupant, at)
		if err != nil {
			return transition{}, err
		}
		return transition{
			from:     reworkLabel(out.From),
			to:       reworkLabel(out.To),
			commands: out.Commands,
			rework:   &out,
			count:    out.Count,
		}, nil
	}
	m, err := stagefsm.New(stage)
	if err != nil {
		return transition{}, err
	}
	claimant := req.WorkerName
	if claimant == "" {
		claimant = req.WorkerID
	}
	out, err := m.Fire(u.StageView(stage), action, claimant, at)
	if err != nil {
		return transition{}, err
	}
	return transition{
		from:     string(out.From),
		to:       string(out.To),
		commands: out.Commands,
		resumed:  out.Resumed,
		count:    s.rework.Count(snap),
	}, nil
}

// requireHolder admits a non-claim action only from the worker the unit is
// held for. A source state that holds no lock (paused) may proceed without
// one. A held source whose lock is gone is re-locked for its persisted
// occupant and refused to everyone else. It reports whether the caller now
// owns the lock.
func (s *lifecycleService) requireHolder(ctx context.Context, u *fab.WorkUnit, snap rework.Snapshot, req TransitionRequest, action fab.Action, key string) (bool, error) {
	op := "lifecycle." + string(action)
	holder, held, err := s.locks.Holder(ctx, key)
	if err != nil {
		return false, err
	}
	if held {
		if holder.WorkerID != req.WorkerID {
			return false, fab.UnitOccupied(op, u.ID, s.occupantLabel(u, holder.WorkerID))
		}
		return true, nil
	}
	if !holdsLock(u, snap, req.Stage) {
		return false, nil
	}
	occ, perr := occupancy.ParseOccupant(u.OccupantName())
	if perr != nil || occ.WorkerID != req.WorkerID {
		return false, fab.UnitOccupied(op, u.ID, u.OccupantName())
	}
	if _, err := s.locks.Claim(ctx, key, req.WorkerID); err != nil {
		return false, s.describeOccupied(err, u)
	}
	s.log.Warn("re-acquired missing lock for occupant",
		"unit_id", u.ID,
		"key", key,
		"worker_id", req.WorkerID,
	)
	return true, nil
}

// holdsLock reports whether stage sits in a state that is only reachable
// under the unit lock.
func holdsLock(u *fab.WorkUnit, snap rework.Snapshot, stage fab.Stage) bool {
	if stage == fab.StageRework {
		return snap.Status == fab.ReworkInRepair
	}
	return u.StageView(stage).Status == fab.StatusInProgress
}

// stageOccupancy mirrors the lock into the unit's occupancy fields.
func stageOccupancy(action fab.Action, stage fab.Stage, occupant string, at time.Time) []fab.FieldUpdate {
	if action == fab.ActionClaim {
		return []fab.FieldUpdate{
			fab.Set(fab.FieldOccupant, occupant),
			fab.Set(fab.FieldOccupiedSince, at),
			fab.Set(fab.FieldActiveStage, stage),
		}
	}
	return []fab.FieldUpdate{
		fab.Clear(fab.FieldOccupant),
		fab.Clear(fab.FieldOccupiedSince),
		fab.Clear(fab.FieldActiveStage),
	}
}

func (s *lifecycleService) reworkSnapshot(u *fab.WorkUnit) rework.Snapshot {
	return rework.Snapshot{UnitID: u.ID, Status: u.ReworkStatus, Text: display.ReworkPart(u.StatusDetail)}
}

// describeOccupied swaps the bare holder id for the persisted occupant label.
func (s *lifecycleService) describeOccupied(err error, u *fab.WorkUnit) error {
	fe := fab.AsError(err)
	if fe == nil || fe.Code != fab.CodeUnitOccupied {
		return err
	}
	return fab.UnitOccupied("lifecycle.claim", u.ID, s.occupantLabel(u, fe.Detail("occupant")))
}

func (s *lifecycleService) occupantLabel(u *fab.WorkUnit, workerID string) string {
	if occ, err := occupancy.ParseOccupant(u.OccupantName()); err == nil && (workerID == "" || occ.WorkerID == workerID) {
		return occ.String()
	}
	return workerID
}

func reworkLabel(s fab.ReworkStatus) string {
	if s == fab.ReworkNone {
		return "none"
	}
	return string(s)
}

func (s *lifecycleService) Reconcile(ctx context.Context) occupancy.ReconcileResult {
	return s.locks.ReconcileStore(ctx, s.store)
}

// RegisterUnit creates a unit with both fabrication stages pending.
func (s *lifecycleService) RegisterUnit(ctx context.Context, unitID string) (*fab.WorkUnit, error) {
	unitID = strings.TrimSpace(unitID)
	if unitID == "" {
		return nil, fab.ValidationError("lifecycle.register", "unit id is required")
	}
	u := fab.NewWorkUnit(unitID, s.now().UTC())
	u.StatusDetail = display.Compose(display.ForUnit(u), "")
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("unit registered", "unit_id", unitID)
	return u, nil
}
