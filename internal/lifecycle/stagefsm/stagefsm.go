// Package stagefsm implements the four-state lifecycle shared by the
// fabrication stages. Transitions are pure: they return the field writes to
// perform and never touch storage, locks or the clock.
package stagefsm

import (
	"strings"
	"time"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
)

// Outcome describes an accepted transition.
type Outcome struct {
	Stage    fab.Stage
	From     fab.StageStatus
	To       fab.StageStatus
	Commands []fab.Command
	// Resumed is set when a claim picks a paused stage back up; the
	// original claimant is kept.
	Resumed bool
}

type Machine struct {
	stage fab.Stage
}

func New(stage fab.Stage) (Machine, error) {
	if !stage.IsFabrication() {
		return Machine{}, fab.ValidationError("stagefsm.new", "not a fabrication stage: "+string(stage))
	}
	return Machine{stage: stage}, nil
}

func (m Machine) Stage() fab.Stage { return m.stage }

var allowed = map[fab.Action][]fab.StageStatus{
	fab.ActionClaim:    {fab.StatusPending, fab.StatusPaused},
	fab.ActionPause:    {fab.StatusInProgress},
	fab.ActionComplete: {fab.StatusInProgress},
	fab.ActionCancel:   {fab.StatusInProgress, fab.StatusPaused},
}

// Can reports whether action is legal from status.
func Can(status fab.StageStatus, action fab.Action) bool {
	for _, s := range allowed[action.Canonical()] {
		if s == status {
			return true
		}
	}
	return false
}

func (m Machine) guard(view fab.StageView, action fab.Action) error {
	if view.Stage != "" && view.Stage != m.stage {
		return fab.ValidationError("stagefsm."+string(action), "stage view does not belong to "+string(m.stage))
	}
	if !Can(view.Status, action) {
		return fab.IllegalTransition("stagefsm."+string(action), m.stage, string(view.Status), string(action))
	}
	return nil
}

// Claim starts work on a pending stage or resumes a paused one.
func (m Machine) Claim(view fab.StageView, worker string) (Outcome, error) {
	if err := m.guard(view, fab.ActionClaim); err != nil {
		return Outcome{}, err
	}
	worker = strings.TrimSpace(worker)
	if worker == "" {
		return Outcome{}, fab.ValidationError("stagefsm.claim", "worker name is required")
	}
	out := Outcome{Stage: m.stage, From: view.Status, To: fab.StatusInProgress}
	out.Commands = append(out.Commands, fab.SetField(fab.StatusField(m.stage), fab.StatusInProgress))
	if view.Status == fab.StatusPaused && view.Claimant != nil && *view.Claimant != "" {
		out.Resumed = true
		return out, nil
	}
	out.Commands = append(out.Commands, fab.SetField(fab.ClaimantField(m.stage), worker))
	return out, nil
}

// Pause suspends work. The claimant stays for provenance.
func (m Machine) Pause(view fab.StageView) (Outcome, error) {
	if err := m.guard(view, fab.ActionPause); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Stage:    m.stage,
		From:     view.Status,
		To:       fab.StatusPaused,
		Commands: []fab.Command{fab.SetField(fab.StatusField(m.stage), fab.StatusPaused)},
	}, nil
}

// Complete finishes the stage and stamps the completion date.
func (m Machine) Complete(view fab.StageView, date time.Time) (Outcome, error) {
	if err := m.guard(view, fab.ActionComplete); err != nil {
		return Outcome{}, err
	}
	if date.IsZero() {
		return Outcome{}, fab.ValidationError("stagefsm.complete", "completion date is required")
	}
	return Outcome{
		Stage: m.stage,
		From:  view.Status,
		To:    fab.StatusCompleted,
		Commands: []fab.Command{
			fab.SetField(fab.StatusField(m.stage), fab.StatusCompleted),
			fab.SetField(fab.CompletedField(m.stage), date),
		},
	}, nil
}

// Cancel returns the stage to pending and forgets who claimed it.
func (m Machine) Cancel(view fab.StageView) (Outcome, error) {
	if err := m.guard(view, fab.ActionCancel); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Stage: m.stage,
		From:  view.Status,
		To:    fab.StatusPending,
		Commands: []fab.Command{
			fab.SetField(fab.StatusField(m.stage), fab.StatusPending),
			fab.ClearField(fab.ClaimantField(m.stage)),
			fab.ClearField(fab.CompletedField(m.stage)),
		},
	}, nil
}

// Fire dispatches action to the matching transition.
func (m Machine) Fire(view fab.StageView, action fab.Action, worker string, at time.Time) (Outcome, error) {
	switch action.Canonical() {
	case fab.ActionClaim:
		return m.Claim(view, worker)
	case fab.ActionPause:
		return m.Pause(view)
	case fab.ActionComplete:
		return m.Complete(view, at)
	case fab.ActionCancel:
		return m.Cancel(view)
	}
	return Outcome{}, fab.ValidationError("stagefsm.fire", "unknown action "+string(action))
}
