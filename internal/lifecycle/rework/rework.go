// Package rework implements the bounded repair loop a unit enters after a
// failed inspection. The loop allows Max rejections; after that every claim
// is refused until a supervisor intervenes out of band.
package rework

import (
	"strings"
	"time"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
	"github.com/yungbote/fabline-backend/internal/lifecycle/cycle"
)

// Snapshot is the slice of a unit the rework machine reads. Text is the
// rework part of the status detail, where the cycle count lives.
type Snapshot struct {
	UnitID string
	Status fab.ReworkStatus
	Text   string
}

// Outcome is an accepted transition. Text replaces the rework part of the
// status detail; Commands carry the remaining field writes.
type Outcome struct {
	From     fab.ReworkStatus
	To       fab.ReworkStatus
	Count    int
	Text     string
	Commands []fab.Command
	Blocked  bool
}

type Machine struct {
	counter cycle.Counter
}

func New(maxCycles int) Machine {
	return Machine{counter: cycle.New(maxCycles)}
}

func (m Machine) Counter() cycle.Counter { return m.counter }

// Count returns the cycle count embedded in the snapshot.
func (m Machine) Count(s Snapshot) int {
	return m.counter.ExtractCount(s.Text)
}

// IsBlocked reports whether the unit has exhausted its rework budget.
func (m Machine) IsBlocked(s Snapshot) bool {
	return m.counter.ShouldBlock(m.Count(s))
}

func illegal(op string, s Snapshot, requested string) error {
	current := string(s.Status)
	if current == "" {
		current = "none"
	}
	return fab.IllegalTransition("rework."+op, fab.StageRework, current, requested)
}

func in(status fab.ReworkStatus, allowed ...fab.ReworkStatus) bool {
	for _, a := range allowed {
		if status == a {
			return true
		}
	}
	return false
}

// Claim starts or resumes a repair. The blocked check runs first, regardless
// of state or lock availability.
func (m Machine) Claim(s Snapshot, occupant string, at time.Time) (Outcome, error) {
	count := m.Count(s)
	if m.counter.ShouldBlock(count) {
		return Outcome{}, fab.Blocked("rework.claim", s.UnitID, count, m.counter.Max)
	}
	if !in(s.Status, fab.ReworkRejected, fab.ReworkRepairPaused) {
		return Outcome{}, illegal("claim", s, string(fab.ActionClaim))
	}
	occupant = strings.TrimSpace(occupant)
	if occupant == "" {
		return Outcome{}, fab.ValidationError("rework.claim", "occupant is required")
	}
	if at.IsZero() {
		return Outcome{}, fab.ValidationError("rework.claim", "claim time is required")
	}
	return Outcome{
		From:  s.Status,
		To:    fab.ReworkInRepair,
		Count: count,
		Text:  m.counter.RepairText(fab.ReworkInRepair, count, occupant),
		Commands: []fab.Command{
			fab.SetField(fab.FieldReworkStatus, fab.ReworkInRepair),
			fab.SetField(fab.FieldOccupant, occupant),
			fab.SetField(fab.FieldOccupiedSince, at),
			fab.SetField(fab.FieldActiveStage, fab.StageRework),
		},
	}, nil
}

func release(status fab.ReworkStatus) []fab.Command {
	return []fab.Command{
		fab.SetField(fab.FieldReworkStatus, status),
		fab.ClearField(fab.FieldOccupant),
		fab.ClearField(fab.FieldOccupiedSince),
		fab.ClearField(fab.FieldActiveStage),
	}
}

// Pause suspends an active repair and frees the unit.
func (m Machine) Pause(s Snapshot) (Outcome, error) {
	if s.Status != fab.ReworkInRepair {
		return Outcome{}, illegal("pause", s, string(fab.ActionPause))
	}
	count := m.Count(s)
	return Outcome{
		From:     s.Status,
		To:       fab.ReworkRepairPaused,
		Count:    count,
		Text:     m.counter.RepairText(fab.ReworkRepairPaused, count, ""),
		Commands: release(fab.ReworkRepairPaused),
	}, nil
}

// Complete hands the unit back to inspection. The count is unchanged; only
// the next inspection decision moves it.
func (m Machine) Complete(s Snapshot) (Outcome, error) {
	if s.Status != fab.ReworkInRepair {
		return Outcome{}, illegal("complete", s, string(fab.ActionComplete))
	}
	count := m.Count(s)
	cmds := release(fab.ReworkPendingReinspection)
	cmds = append(cmds, fab.SetField(fab.FieldInspection, fab.InspectionPending))
	return Outcome{
		From:     s.Status,
		To:       fab.ReworkPendingReinspection,
		Count:    count,
		Text:     m.counter.RepairText(fab.ReworkPendingReinspection, count, ""),
		Commands: cmds,
	}, nil
}

// Cancel abandons the repair and restores the rejected text with the count
// that was recorded before the claim.
func (m Machine) Cancel(s Snapshot) (Outcome, error) {
	if !in(s.Status, fab.ReworkInRepair, fab.ReworkRepairPaused) {
		return Outcome{}, illegal("cancel", s, string(fab.ActionCancel))
	}
	count := m.Count(s)
	return Outcome{
		From:     s.Status,
		To:       fab.ReworkRejected,
		Count:    count,
		Text:     m.counter.RejectedText(count),
		Commands: release(fab.ReworkRejected),
	}, nil
}

// Reject records a failed inspection: the count moves up by one and the unit
// lands in Rejected, blocked when the budget is spent.
func (m Machine) Reject(s Snapshot) (Outcome, error) {
	if !in(s.Status, fab.ReworkNone, fab.ReworkPendingReinspection) {
		return Outcome{}, illegal("reject", s, "reject")
	}
	next := m.counter.Increment(m.Count(s))
	return Outcome{
		From:    s.Status,
		To:      fab.ReworkRejected,
		Count:   next,
		Text:    m.counter.RejectedText(next),
		Blocked: m.counter.ShouldBlock(next),
		Commands: []fab.Command{
			fab.SetField(fab.FieldReworkStatus, fab.ReworkRejected),
			fab.SetField(fab.FieldInspection, fab.InspectionRejected),
		},
	}, nil
}

// Approve records a passed inspection. The cycle marker is dropped from the
// text; Count reports the value it carried.
func (m Machine) Approve(s Snapshot) (Outcome, error) {
	if !in(s.Status, fab.ReworkNone, fab.ReworkPendingReinspection) {
		return Outcome{}, illegal("approve", s, "approve")
	}
	return Outcome{
		From:  s.Status,
		To:    fab.ReworkNone,
		Count: m.Count(s),
		Text:  m.counter.ApprovedText(),
		Commands: []fab.Command{
			fab.ClearField(fab.FieldReworkStatus),
			fab.SetField(fab.FieldInspection, fab.InspectionApproved),
		},
	}, nil
}

// Fire dispatches a worker action.
func (m Machine) Fire(s Snapshot, action fab.Action, occupant string, at time.Time) (Outcome, error) {
	switch action.Canonical() {
	case fab.ActionClaim:
		return m.Claim(s, occupant, at)
	case fab.ActionPause:
		return m.Pause(s)
	case fab.ActionComplete:
		return m.Complete(s)
	case fab.ActionCancel:
		return m.Cancel(s)
	}
	return Outcome{}, fab.ValidationError("rework.fire", "unknown action "+string(action))
}
