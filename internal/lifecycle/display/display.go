package display

import (
	"fmt"
	"strings"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
)

// Separator joins the occupancy line and the rework part of a status detail.
const Separator = " | "

type Input struct {
	Occupant   string
	Stage      fab.Stage
	Assembly   fab.StageStatus
	Welding    fab.StageStatus
	Inspection fab.InspectionResult
}

// Build renders the occupancy line of a unit's status detail.
func Build(in Input) string {
	var b strings.Builder
	occupant := strings.TrimSpace(in.Occupant)
	if occupant != "" {
		stage := string(in.Stage)
		if stage == "" {
			stage = "unit"
		}
		fmt.Fprintf(&b, "%s working %s (A %s, B %s)", occupant, stage, in.Assembly.Label(), in.Welding.Label())
	} else {
		fmt.Fprintf(&b, "available - A %s, B %s", in.Assembly.Label(), in.Welding.Label())
	}
	if suffix := inspectionSuffix(in.Inspection); suffix != "" {
		b.WriteString(" - ")
		b.WriteString(suffix)
	}
	return b.String()
}

func inspectionSuffix(r fab.InspectionResult) string {
	switch r {
	case fab.InspectionApproved:
		return "inspection approved"
	case fab.InspectionRejected:
		return "pending repair"
	case fab.InspectionPending:
		return "awaiting inspection"
	}
	return ""
}

// Compose appends the rework text, if any, to the occupancy line. A rework
// text the line already ends with is not repeated.
func Compose(line, rework string) string {
	rework = strings.TrimSpace(rework)
	if rework == "" || strings.HasSuffix(line, rework) {
		return line
	}
	return line + Separator + rework
}

// ReworkPart returns the text after the separator, "" when there is none.
func ReworkPart(detail string) string {
	idx := strings.LastIndex(detail, Separator)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(detail[idx+len(Separator):])
}

// ForUnit builds the occupancy line from a unit snapshot.
func ForUnit(u *fab.WorkUnit) string {
	return Build(Input{
		Occupant:   u.OccupantName(),
		Stage:      u.ActiveStage,
		Assembly:   u.StageView(fab.StageAssembly).Status,
		Welding:    u.StageView(fab.StageWelding).Status,
		Inspection: u.Inspection,
	})
}
