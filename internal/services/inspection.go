package services

import (
	"context"
	"strings"
	"time"

	"github.com/yungbote/fabline-backend/internal/data/repos/units"
	"github.com/yungbote/fabline-backend/internal/domain/fab"
	"github.com/yungbote/fabline-backend/internal/lifecycle/display"
)

// InspectionRequest is a quality decision on an unoccupied unit.
type InspectionRequest struct {
	UnitID        string
	InspectorID   string
	InspectorName string
	Approved      bool
	Notes         string
	OccurredAt    time.Time
}

type InspectionResult struct {
	UnitID       string `json:"unit_id"`
	Approved     bool   `json:"approved"`
	ReworkState  string `json:"rework_state"`
	CycleCount   int    `json:"cycle_count"`
	Blocked      bool   `json:"blocked"`
	StatusDetail string `json:"status_detail"`
	VersionToken int64  `json:"version_token"`
	AuditError   string `json:"audit_error,omitempty"`
}

// RecordInspection applies an inspection decision to the rework loop. The
// unit lock is held for the duration so the decision cannot interleave with
// a claim.
func (s *lifecycleService) RecordInspection(ctx context.Context, req InspectionRequest) (*InspectionResult, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.RecordInspection")
	defer span.End()

	req.UnitID = strings.TrimSpace(req.UnitID)
	req.InspectorID = strings.TrimSpace(req.InspectorID)
	if req.UnitID == "" || req.InspectorID == "" {
		return nil, fab.ValidationError("lifecycle.inspect", "unit id and inspector id are required")
	}
	at := req.OccurredAt
	if at.IsZero() {
		at = s.now().UTC()
	}

	u, err := s.store.ReadUnit(ctx, req.UnitID)
	if err != nil {
		return nil, err
	}
	s.detectOverride(ctx, u, at)
	if u.IsOccupied() {
		return nil, fab.UnitOccupied("lifecycle.inspect", u.ID, u.OccupantName())
	}

	key := s.locks.Key(u.ID, fab.StageRework)
	if _, err := s.locks.Claim(ctx, key, req.InspectorID); err != nil {
		return nil, err
	}
	defer func() {
		if rerr := s.locks.Release(context.WithoutCancel(ctx), key); rerr != nil {
			s.log.Error("failed to release inspection lock", "unit_id", u.ID, "error", rerr)
		}
	}()

	snap := s.reworkSnapshot(u)
	prior := s.rework.Count(snap)
	decide := s.rework.Reject
	if req.Approved {
		decide = s.rework.Approve
	}
	out, err := decide(snap)
	if err != nil {
		return nil, err
	}

	updates := fab.Updates(out.Commands)
	next := u.Clone()
	if err := fab.Apply(next, updates); err != nil {
		return nil, err
	}
	detail := display.Compose(display.ForUnit(next), out.Text)
	updates = append(updates,
		fab.Set(fab.FieldStatusDetail, detail),
		fab.Set(fab.FieldVersionToken, u.VersionToken+1),
		fab.Set(fab.FieldUpdatedAt, at),
	)
	written, err := s.store.BatchWrite(ctx, u.ID, updates, units.ExpectVersion(u.VersionToken))
	if err != nil {
		return nil, err
	}

	res := &InspectionResult{
		UnitID:       u.ID,
		Approved:     req.Approved,
		ReworkState:  reworkLabel(out.To),
		CycleCount:   out.Count,
		Blocked:      out.Blocked,
		StatusDetail: written.StatusDetail,
		VersionToken: written.VersionToken,
	}
	if out.Blocked {
		s.recorder.BlockedUnit()
		s.log.Warn("unit blocked after repeated rejections", "unit_id", u.ID, "cycles", out.Count)
	}

	kind := fab.EventRejectInspection
	extra := map[string]any{
		"cycle":         out.Count,
		"max_cycles":    s.rework.Counter().Max,
		"blocked":       out.Blocked,
		"version_token": written.VersionToken,
	}
	if req.Approved {
		kind = fab.EventApproveInspection
		extra["prior_cycle"] = prior
		delete(extra, "blocked")
	}
	if req.Notes != "" {
		extra["notes"] = req.Notes
	}
	ev := fab.AuditEvent{
		Timestamp:     s.now().UTC(),
		Kind:          kind,
		UnitID:        u.ID,
		WorkerID:      req.InspectorID,
		WorkerName:    strings.TrimSpace(req.InspectorName),
		Stage:         fab.StageRework,
		Action:        fab.EventActionInspect,
		OperationDate: at,
		Extra:         encodeExtra(extra),
	}
	if aerr := s.events.Append(ctx, ev); aerr != nil {
		s.log.Error("audit append failed after inspection", "unit_id", u.ID, "error", aerr)
		res.AuditError = aerr.Error()
	}
	return res, nil
}
