// Package cycle parses and renders the bounded rework-cycle count carried in
// a unit's status detail text. The count is never stored on its own.
package cycle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
)

// DefaultMax is the number of rejections tolerated before a unit is blocked.
const DefaultMax = 3

// BlockedMarker prefixes the text of a unit whose rework loop is exhausted.
const BlockedMarker = "BLOCKED"

const blockedPhrase = BlockedMarker + " - rework limit reached"

var (
	countPattern = regexp.MustCompile(`(?i)\bcycle\s+(\d+)\s+of\s+\d+`)
	// markerPattern matches everything ExtractCount and IsBlockedText react
	// to, plus the display separator.
	markerPattern = regexp.MustCompile(`(?i)\bcycle\s+\d+\s+of\s+\d+|` + regexp.QuoteMeta(BlockedMarker) + `|\|`)
)

type Counter struct {
	Max int
}

func New(max int) Counter {
	if max <= 0 {
		max = DefaultMax
	}
	return Counter{Max: max}
}

func (c Counter) max() int {
	if c.Max <= 0 {
		return DefaultMax
	}
	return c.Max
}

// ExtractCount returns the embedded cycle number, Max for blocked text and 0
// when the text carries no marker (a unit that was never rejected).
func (c Counter) ExtractCount(text string) int {
	if IsBlockedText(text) {
		return c.max()
	}
	// the marker always closes the text; anything earlier is free text
	all := countPattern.FindAllStringSubmatch(text, -1)
	if len(all) == 0 {
		return 0
	}
	n, err := strconv.Atoi(all[len(all)-1][1])
	if err != nil || n < 0 {
		return 0
	}
	if n > c.max() {
		return c.max()
	}
	return n
}

func (c Counter) Increment(n int) int {
	if n < 0 {
		n = 0
	}
	if n+1 > c.max() {
		return c.max()
	}
	return n + 1
}

func (c Counter) ShouldBlock(n int) bool {
	return n >= c.max()
}

func (c Counter) marker(n int) string {
	return fmt.Sprintf("cycle %d of %d", n, c.max())
}

func (c Counter) RejectedText(n int) string {
	if n < 0 {
		n = 0
	}
	if c.ShouldBlock(n) {
		return fmt.Sprintf("%s (%s), supervisor required", blockedPhrase, c.marker(c.max()))
	}
	return fmt.Sprintf("rejected, %s, pending repair", c.marker(n))
}

// RepairText renders the rework part of the status detail for state. worker
// is optional and only shown while the unit is in repair.
func (c Counter) RepairText(state fab.ReworkStatus, n int, worker string) string {
	if n > c.max() {
		n = c.max()
	}
	worker = SafeName(worker)
	switch state {
	case fab.ReworkInRepair:
		if worker != "" {
			return fmt.Sprintf("in repair by %s, %s", worker, c.marker(n))
		}
		return fmt.Sprintf("in repair, %s", c.marker(n))
	case fab.ReworkRepairPaused:
		return fmt.Sprintf("repair paused, %s", c.marker(n))
	case fab.ReworkPendingReinspection:
		return fmt.Sprintf("repaired, %s, pending reinspection", c.marker(n))
	default:
		return c.RejectedText(n)
	}
}

// ApprovedText drops the cycle marker.
func (c Counter) ApprovedText() string {
	return "inspection approved"
}

func IsBlockedText(text string) bool {
	return strings.Contains(text, blockedPhrase)
}

// SafeName strips cycle markers, the blocked marker and the display
// separator from a free-text name so it cannot be read back as a count.
func SafeName(name string) string {
	for {
		next := markerPattern.ReplaceAllString(name, " ")
		next = strings.Join(strings.Fields(next), " ")
		if next == name {
			return next
		}
		name = next
	}
}

var std = New(DefaultMax)

func ExtractCount(text string) int { return std.ExtractCount(text) }
func Increment(n int) int          { return std.Increment(n) }
func ShouldBlock(n int) bool       { return std.ShouldBlock(n) }
func BuildRejectedText(n int) string {
	return std.RejectedText(n)
}
func BuildRepairText(state fab.ReworkStatus, n int, worker string) string {
	return std.RepairText(state, n, worker)
}
func BuildApprovedText() string { return std.ApprovedText() }
