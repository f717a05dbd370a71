package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/fabline-backend/internal/audit"
	"github.com/yungbote/fabline-backend/internal/domain/fab"
	"github.com/yungbote/fabline-backend/internal/lifecycle/cycle"
	"github.com/yungbote/fabline-backend/internal/lifecycle/display"
)

var stageEventKinds = map[fab.Action]fab.EventKind{
	fab.ActionClaim:    fab.EventClaim,
	fab.ActionPause:    fab.EventPause,
	fab.ActionComplete: fab.EventComplete,
	fab.ActionCancel:   fab.EventCancel,
}

var reworkEventKinds = map[fab.Action]fab.EventKind{
	fab.ActionClaim:    fab.EventRepairStart,
	fab.ActionPause:    fab.EventRepairPause,
	fab.ActionComplete: fab.EventRepairComplete,
	fab.ActionCancel:   fab.EventRepairCancel,
}

func eventKind(stage fab.Stage, action fab.Action) fab.EventKind {
	if stage == fab.StageRework {
		return reworkEventKinds[action.Canonical()]
	}
	return stageEventKinds[action.Canonical()]
}

func encodeExtra(fields map[string]any) datatypes.JSON {
	if len(fields) == 0 {
		return nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

// recordTransition appends the summary event and any per-sub-unit events.
// Failures are logged and returned for the caller's result only.
func (s *lifecycleService) recordTransition(ctx context.Context, u *fab.WorkUnit, req TransitionRequest, tr transition, res *TransitionResult, at time.Time) error {
	extra := map[string]any{}
	for k, v := range req.Extra {
		extra[k] = v
	}
	extra["from"] = tr.from
	extra["to"] = tr.to
	extra["version_token"] = res.VersionToken
	if res.LeaseID != "" {
		extra["lease_id"] = res.LeaseID
	}
	if req.Stage == fab.StageRework {
		extra["cycle"] = tr.count
	}
	if tr.resumed {
		extra["resumed"] = true
		if claimant := u.StageView(req.Stage).Claimant; claimant != nil && *claimant != req.WorkerName && *claimant != req.WorkerID {
			extra["resumed_from"] = *claimant
		}
	}
	if len(req.SubUnits) > 0 {
		extra["sub_units"] = len(req.SubUnits)
	}

	base := fab.AuditEvent{
		Timestamp:     s.now().UTC(),
		Kind:          eventKind(req.Stage, req.Action),
		UnitID:        u.ID,
		WorkerID:      req.WorkerID,
		WorkerName:    req.WorkerName,
		Stage:         req.Stage,
		Action:        fab.EventAction(req.Action),
		OperationDate: at,
	}
	summary := base
	summary.Extra = encodeExtra(extra)

	var err error
	if len(req.SubUnits) == 0 {
		err = s.events.Append(ctx, summary)
	} else {
		batch := make([]audit.Event, 0, len(req.SubUnits)+1)
		batch = append(batch, summary)
		for _, idx := range req.SubUnits {
			ev := base
			i := idx
			ev.SubUnitIndex = &i
			batch = append(batch, ev)
		}
		_, err = s.events.AppendBatch(ctx, batch)
	}
	if err != nil {
		s.log.Error("audit append failed after transition",
			"unit_id", u.ID,
			"stage", req.Stage,
			"action", req.Action,
			"error", err,
		)
	}
	return err
}

// overrideNamespace derives one override event id per blocked rejection, so
// concurrent detectors collide on the event's primary key.
var overrideNamespace = uuid.MustParse("6f0c8f7e-3b1d-4c55-9a2e-52d7a1f0b3c9")

type overrideMarker struct {
	Blocked bool `json:"blocked"`
}

// detectOverride notices a unit moved out of the blocked condition by hand
// and records it. It never rejects the read.
func (s *lifecycleService) detectOverride(ctx context.Context, u *fab.WorkUnit, at time.Time) bool {
	if cycle.IsBlockedText(display.ReworkPart(u.StatusDetail)) {
		return false
	}
	latest, err := s.events.LatestEvent(ctx, u.ID, fab.EventRejectInspection, fab.EventSupervisorOverride)
	if err != nil {
		s.log.Warn("override detection skipped", "unit_id", u.ID, "error", err)
		return false
	}
	if latest == nil || latest.Kind != fab.EventRejectInspection {
		return false
	}
	var marker overrideMarker
	if len(latest.Extra) == 0 || json.Unmarshal(latest.Extra, &marker) != nil || !marker.Blocked {
		return false
	}

	ev := fab.AuditEvent{
		ID:            uuid.NewSHA1(overrideNamespace, latest.ID[:]),
		Timestamp:     s.now().UTC(),
		Kind:          fab.EventSupervisorOverride,
		UnitID:        u.ID,
		Stage:         fab.StageRework,
		Action:        fab.EventActionOverride,
		OperationDate: at,
		Extra: encodeExtra(map[string]any{
			"blocked_event_id": latest.ID.String(),
			"status_detail":    u.StatusDetail,
			"rework_status":    string(u.ReworkStatus),
			"version_token":    u.VersionToken,
		}),
	}
	switch err := s.events.Append(ctx, ev); {
	case fab.IsCode(err, fab.CodeConflict):
		// another reader recorded this correction first
		return false
	case err != nil:
		s.log.Error("failed to record supervisor override", "unit_id", u.ID, "error", err)
	}
	s.recorder.SupervisorOverride()
	s.log.Warn("supervisor override detected", "unit_id", u.ID, "status_detail", u.StatusDetail)
	return true
}

// Timeline is a unit's audit history with reconstructed occupation sessions.
type Timeline struct {
	UnitID   string          `json:"unit_id"`
	Events   []audit.Event   `json:"events"`
	Sessions []audit.Session `json:"sessions"`
}

func (s *lifecycleService) Timeline(ctx context.Context, unitID string) (*Timeline, error) {
	if _, err := s.store.ReadUnit(ctx, unitID); err != nil {
		return nil, err
	}
	events, err := s.events.EventsForUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	return &Timeline{UnitID: unitID, Events: events, Sessions: audit.Sessions(events)}, nil
}

// UnitView is the read model for one unit.
type UnitView struct {
	Unit       *fab.WorkUnit `json:"unit"`
	CycleCount int           `json:"cycle_count"`
	MaxCycles  int           `json:"max_cycles"`
	Blocked    bool          `json:"blocked"`
	LockHolder string        `json:"lock_holder,omitempty"`
	Override   bool          `json:"override_detected,omitempty"`
}

func (s *lifecycleService) UnitStatus(ctx context.Context, unitID string) (*UnitView, error) {
	u, err := s.store.ReadUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	snap := s.reworkSnapshot(u)
	view := &UnitView{
		Unit:       u,
		CycleCount: s.rework.Count(snap),
		MaxCycles:  s.rework.Counter().Max,
		Blocked:    s.rework.IsBlocked(snap),
		Override:   s.detectOverride(ctx, u, s.now().UTC()),
	}
	if holder, ok, herr := s.locks.Holder(ctx, s.locks.Key(u.ID, u.ActiveStage)); herr == nil && ok {
		view.LockHolder = holder.WorkerID
	}
	return view, nil
}
