package cycle

import (
	"testing"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
)

func TestExtractCount_RoundTrip(t *testing.T) {
	for n := 0; n <= 10; n++ {
		want := n
		if want > DefaultMax {
			want = DefaultMax
		}
		if got := ExtractCount(BuildRejectedText(n)); got != want {
			t.Fatalf("n=%d: ExtractCount(BuildRejectedText) = %d, want %d", n, got, want)
		}
	}
}

func TestExtractCount_NoMarker(t *testing.T) {
	for _, text := range []string{"", "available - A pending, B pending", "inspection approved"} {
		if got := ExtractCount(text); got != 0 {
			t.Fatalf("ExtractCount(%q) = %d, want 0", text, got)
		}
	}
}

func TestExtractCount_EmbeddedInComposite(t *testing.T) {
	text := "available - A completed, B completed - pending repair | rejected, cycle 2 of 3, pending repair"
	if got := ExtractCount(text); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := ExtractCount("repair paused, cycle 1 of 3"); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}

func TestShouldBlockAndIncrement(t *testing.T) {
	cases := []struct {
		n     int
		block bool
		next  int
	}{
		{0, false, 1},
		{1, false, 2},
		{2, false, 3},
		{3, true, 3},
		{7, true, 3},
	}
	for _, tc := range cases {
		if got := ShouldBlock(tc.n); got != tc.block {
			t.Fatalf("ShouldBlock(%d) = %v", tc.n, got)
		}
		if got := Increment(tc.n); got != tc.next {
			t.Fatalf("Increment(%d) = %d, want %d", tc.n, got, tc.next)
		}
	}
	if Increment(Increment(3)) != 3 {
		t.Fatalf("increment must stay capped")
	}
}

func TestRejectedText_Blocked(t *testing.T) {
	text := BuildRejectedText(3)
	if !IsBlockedText(text) {
		t.Fatalf("expected blocked text, got %q", text)
	}
	if IsBlockedText(BuildRejectedText(2)) {
		t.Fatalf("cycle 2 must not read as blocked")
	}
}

func TestRepairText(t *testing.T) {
	if got := BuildRepairText(fab.ReworkInRepair, 2, "Ana [W-1]"); got != "in repair by Ana [W-1], cycle 2 of 3" {
		t.Fatalf("unexpected in-repair text %q", got)
	}
	if got := BuildRepairText(fab.ReworkInRepair, 2, ""); got != "in repair, cycle 2 of 3" {
		t.Fatalf("unexpected anonymous in-repair text %q", got)
	}
	if got := BuildRepairText(fab.ReworkRepairPaused, 1, "ignored"); got != "repair paused, cycle 1 of 3" {
		t.Fatalf("unexpected paused text %q", got)
	}
	if got := ExtractCount(BuildRepairText(fab.ReworkPendingReinspection, 2, "")); got != 2 {
		t.Fatalf("pending reinspection text lost the count: %d", got)
	}
}

func TestApprovedTextDropsMarker(t *testing.T) {
	if ExtractCount(BuildApprovedText()) != 0 {
		t.Fatalf("approved text should carry no cycle marker")
	}
}

func TestCounter_CustomMax(t *testing.T) {
	c := New(5)
	if c.ShouldBlock(3) {
		t.Fatalf("max 5 should not block at 3")
	}
	if got := c.ExtractCount(c.RejectedText(4)); got != 4 {
		t.Fatalf("expected 4, got %d", got)
	}
	if got := c.ExtractCount(c.RejectedText(9)); got != 5 {
		t.Fatalf("expected cap 5, got %d", got)
	}
	if New(0).Max != DefaultMax {
		t.Fatalf("non-positive max should fall back to default")
	}
}

func TestExtractCount_LastMarkerWins(t *testing.T) {
	if got := ExtractCount("in repair by Cycle 3 of 3 Crew [W1], cycle 1 of 3"); got != 1 {
		t.Fatalf("expected the trailing marker, got %d", got)
	}
	if got := ExtractCount("Cycle 3 of 3 Crew [W1] - working on rework | in repair by x, cycle 2 of 3"); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestSafeName(t *testing.T) {
	cases := map[string]string{
		"Ana":                                  "Ana",
		"  Ana   Lopez ":                       "Ana Lopez",
		"Cycle 3 of 3 Crew":                    "Crew",
		"x | BLOCKED - rework limit reached":   "x - rework limit reached",
		"cycle 1 of 2cycle 2 of 3":             "",
		"blocked crew":                         "crew",
		"cycle 10 of 30, recycle 2 of 3 night": ", recycle 2 of 3 night",
	}
	for in, want := range cases {
		if got := SafeName(in); got != want {
			t.Fatalf("SafeName(%q) = %q, want %q", in, got, want)
		}
		if ExtractCount(SafeName(in)) != 0 || IsBlockedText(SafeName(in)) {
			t.Fatalf("SafeName(%q) still carries a marker", in)
		}
	}
	if got := BuildRepairText(fab.ReworkInRepair, 1, "Cycle 3 of 3 Crew"); ExtractCount(got) != 1 || got != "in repair by Crew, cycle 1 of 3" {
		t.Fatalf("repair text should sanitize the worker: %q", got)
	}
}
