package fab

import "strings"

// Stage names a fabrication phase. Rework is the repair loop entered after a
// failed inspection and is driven by its own machine.
type Stage string

const (
	StageAssembly Stage = "assembly"
	StageWelding  Stage = "welding"
	StageRework   Stage = "rework"
)

func ParseStage(raw string) (Stage, bool) {
	switch Stage(strings.ToLower(strings.TrimSpace(raw))) {
	case StageAssembly:
		return StageAssembly, true
	case StageWelding:
		return StageWelding, true
	case StageRework:
		return StageRework, true
	}
	return "", false
}

// IsFabrication reports whether s is one of the ordered fabrication stages.
func (s Stage) IsFabrication() bool {
	return s == StageAssembly || s == StageWelding
}

type StageStatus string

const (
	StatusPending    StageStatus = "pending"
	StatusInProgress StageStatus = "in_progress"
	StatusPaused     StageStatus = "paused"
	StatusCompleted  StageStatus = "completed"
)

// Label is the short human form used in status display strings.
func (s StageStatus) Label() string {
	switch s {
	case StatusInProgress:
		return "in progress"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	default:
		return "pending"
	}
}

type ReworkStatus string

const (
	ReworkNone                ReworkStatus = ""
	ReworkRejected            ReworkStatus = "rejected"
	ReworkInRepair            ReworkStatus = "in_repair"
	ReworkRepairPaused        ReworkStatus = "repair_paused"
	ReworkPendingReinspection ReworkStatus = "pending_reinspection"
)

type InspectionResult string

const (
	InspectionNone     InspectionResult = ""
	InspectionPending  InspectionResult = "pending"
	InspectionApproved InspectionResult = "approved"
	InspectionRejected InspectionResult = "rejected"
)

// Action is what a worker asks to do with a stage. Start and Finish are the
// rework vocabulary for Claim and Complete.
type Action string

const (
	ActionClaim    Action = "claim"
	ActionPause    Action = "pause"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionStart    Action = "start"
	ActionFinish   Action = "finish"
)

func ParseAction(raw string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	switch a {
	case ActionClaim, ActionPause, ActionComplete, ActionCancel, ActionStart, ActionFinish:
		return a, true
	}
	return "", false
}

// Canonical folds the rework aliases onto the four lifecycle actions.
func (a Action) Canonical() Action {
	switch a {
	case ActionStart:
		return ActionClaim
	case ActionFinish:
		return ActionComplete
	}
	return a
}

// ReleasesLock reports whether a successful action ends the worker's hold.
func (a Action) ReleasesLock() bool {
	switch a.Canonical() {
	case ActionPause, ActionComplete, ActionCancel:
		return true
	}
	return false
}
