package rework

import (
	"testing"
	"time"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
	"github.com/yungbote/fabline-backend/internal/lifecycle/cycle"
)

var now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func rejected(n int) Snapshot {
	return Snapshot{UnitID: "U-9", Status: fab.ReworkRejected, Text: cycle.BuildRejectedText(n)}
}

func step(s Snapshot, out Outcome) Snapshot {
	return Snapshot{UnitID: s.UnitID, Status: out.To, Text: out.Text}
}

func TestClaimPauseCompleteKeepsCount(t *testing.T) {
	m := New(3)
	s := rejected(2)

	out, err := m.Claim(s, "Ana [W-1]", now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if out.To != fab.ReworkInRepair || out.Count != 2 {
		t.Fatalf("unexpected claim outcome: %+v", out)
	}
	if !fab.Touches(out.Commands, fab.FieldOccupant) || !fab.Touches(out.Commands, fab.FieldOccupiedSince) {
		t.Fatalf("claim must write occupancy fields: %+v", out.Commands)
	}
	s = step(s, out)

	out, err = m.Pause(s)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if cycle.ExtractCount(out.Text) != 2 {
		t.Fatalf("pause lost the count: %q", out.Text)
	}
	s = step(s, out)

	out, err = m.Claim(s, "Bo [W-2]", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	s = step(s, out)

	out, err = m.Complete(s)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.To != fab.ReworkPendingReinspection || cycle.ExtractCount(out.Text) != 2 {
		t.Fatalf("complete must not move the count: %+v", out)
	}
	for _, c := range out.Commands {
		if c.Field == fab.FieldOccupant && c.Kind != fab.CmdClearField {
			t.Fatalf("complete must clear the occupant")
		}
	}
}

func TestCancelRestoresRejectedText(t *testing.T) {
	m := New(3)
	s := rejected(1)
	out, err := m.Claim(s, "Ana [W-1]", now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	out, err = m.Cancel(step(s, out))
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out.To != fab.ReworkRejected || out.Text != cycle.BuildRejectedText(1) {
		t.Fatalf("cancel should restore rejected text, got %+v", out)
	}
}

func TestBlockedClaimFailsFirst(t *testing.T) {
	m := New(3)
	for _, status := range []fab.ReworkStatus{fab.ReworkRejected, fab.ReworkRepairPaused, fab.ReworkInRepair} {
		s := Snapshot{UnitID: "U-9", Status: status, Text: cycle.BuildRejectedText(3)}
		_, err := m.Claim(s, "Ana [W-1]", now)
		if !fab.IsCode(err, fab.CodeBlocked) {
			t.Fatalf("status %s: expected blocked, got %v", status, err)
		}
	}
}

func TestRejectIncrementsAndBlocks(t *testing.T) {
	m := New(3)
	s := Snapshot{UnitID: "U-9", Status: fab.ReworkNone}
	for want := 1; want <= 3; want++ {
		out, err := m.Reject(s)
		if err != nil {
			t.Fatalf("reject %d: %v", want, err)
		}
		if out.Count != want {
			t.Fatalf("expected count %d, got %d", want, out.Count)
		}
		if out.Blocked != (want == 3) {
			t.Fatalf("blocked flag wrong at %d", want)
		}
		s = Snapshot{UnitID: s.UnitID, Status: fab.ReworkPendingReinspection, Text: out.Text}
	}
	if !cycle.IsBlockedText(s.Text) {
		t.Fatalf("third rejection should produce blocked text, got %q", s.Text)
	}
}

func TestRejectRequiresInspectableState(t *testing.T) {
	m := New(3)
	_, err := m.Reject(Snapshot{Status: fab.ReworkInRepair, Text: cycle.BuildRepairText(fab.ReworkInRepair, 1, "")})
	if !fab.IsCode(err, fab.CodeIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
}

func TestApproveDropsMarker(t *testing.T) {
	m := New(3)
	out, err := m.Approve(Snapshot{Status: fab.ReworkPendingReinspection, Text: cycle.BuildRepairText(fab.ReworkPendingReinspection, 2, "")})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if out.Count != 2 || cycle.ExtractCount(out.Text) != 0 || out.To != fab.ReworkNone {
		t.Fatalf("unexpected approve outcome: %+v", out)
	}
}

func TestIllegalReworkTransitions(t *testing.T) {
	m := New(3)
	if _, err := m.Pause(rejected(1)); !fab.IsCode(err, fab.CodeIllegalTransition) {
		t.Fatalf("pause from rejected should be illegal, got %v", err)
	}
	if _, err := m.Complete(Snapshot{Status: fab.ReworkRepairPaused}); !fab.IsCode(err, fab.CodeIllegalTransition) {
		t.Fatalf("complete from paused should be illegal, got %v", err)
	}
	if _, err := m.Cancel(rejected(1)); !fab.IsCode(err, fab.CodeIllegalTransition) {
		t.Fatalf("cancel from rejected should be illegal, got %v", err)
	}
	if _, err := m.Claim(Snapshot{Status: fab.ReworkPendingReinspection, Text: cycle.BuildRepairText(fab.ReworkPendingReinspection, 1, "")}, "Ana [W-1]", now); !fab.IsCode(err, fab.CodeIllegalTransition) {
		t.Fatalf("claim from pending reinspection should be illegal, got %v", err)
	}
}
