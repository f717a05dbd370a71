package display

import (
	"testing"
	"time"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
)

func TestBuild(t *testing.T) {
	cases := []struct {
		name string
		in   Input
		want string
	}{
		{
			name: "available",
			in:   Input{Assembly: fab.StatusCompleted, Welding: fab.StatusPending},
			want: "available - A completed, B pending",
		},
		{
			name: "occupied",
			in:   Input{Occupant: "Ana [W-1]", Stage: fab.StageWelding, Assembly: fab.StatusCompleted, Welding: fab.StatusInProgress},
			want: "Ana [W-1] working welding (A completed, B in progress)",
		},
		{
			name: "approved",
			in:   Input{Assembly: fab.StatusCompleted, Welding: fab.StatusCompleted, Inspection: fab.InspectionApproved},
			want: "available - A completed, B completed - inspection approved",
		},
		{
			name: "rejected",
			in:   Input{Assembly: fab.StatusCompleted, Welding: fab.StatusCompleted, Inspection: fab.InspectionRejected},
			want: "available - A completed, B completed - pending repair",
		},
		{
			name: "pending inspection",
			in:   Input{Assembly: fab.StatusCompleted, Welding: fab.StatusCompleted, Inspection: fab.InspectionPending},
			want: "available - A completed, B completed - awaiting inspection",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Build(tc.in); got != tc.want {
				t.Fatalf("Build() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestComposeAndReworkPart(t *testing.T) {
	line := "available - A completed, B completed - pending repair"
	if Compose(line, "") != line {
		t.Fatalf("empty rework part must leave line untouched")
	}
	detail := Compose(line, "rejected, cycle 1 of 3, pending repair")
	if got := ReworkPart(detail); got != "rejected, cycle 1 of 3, pending repair" {
		t.Fatalf("ReworkPart = %q", got)
	}
	approved := "available - A completed, B completed - inspection approved"
	if Compose(approved, "inspection approved") != approved {
		t.Fatalf("approved marker must not repeat")
	}
	if ReworkPart(line) != "" {
		t.Fatalf("expected no rework part")
	}
}

func TestForUnit(t *testing.T) {
	u := fab.NewWorkUnit("U-1", time.Now())
	occ := "Bo [W-2]"
	u.Occupant = &occ
	u.ActiveStage = fab.StageAssembly
	u.AssemblyStatus = fab.StatusInProgress
	if got := ForUnit(u); got != "Bo [W-2] working assembly (A in progress, B pending)" {
		t.Fatalf("unexpected line %q", got)
	}
}
