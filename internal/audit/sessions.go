package audit

import (
	"time"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
)

// Session is one continuous occupation reconstructed from the log.
type Session struct {
	Stage      fab.Stage  `json:"stage"`
	WorkerID   string     `json:"worker_id"`
	WorkerName string     `json:"worker_name"`
	Start      time.Time  `json:"start"`
	End        *time.Time `json:"end,omitempty"`
	EndKind    string     `json:"end_kind,omitempty"`
}

func (s Session) Duration(now time.Time) time.Duration {
	if s.End != nil {
		return s.End.Sub(s.Start)
	}
	return now.Sub(s.Start)
}

// Sessions pairs each start event with the next end event on the same
// stage. Events must be in timestamp order. Sub-unit events and unmatched
// ends are ignored.
func Sessions(events []Event) []Session {
	var out []Session
	open := map[fab.Stage]int{}
	for _, ev := range events {
		if ev.SubUnitIndex != nil {
			continue
		}
		switch {
		case ev.IsSessionStart():
			// an unterminated earlier session stays open-ended
			out = append(out, Session{
				Stage:      ev.Stage,
				WorkerID:   ev.WorkerID,
				WorkerName: ev.WorkerName,
				Start:      ev.Timestamp,
			})
			open[ev.Stage] = len(out) - 1
		case ev.IsSessionEnd():
			idx, ok := open[ev.Stage]
			if !ok {
				continue
			}
			end := ev.Timestamp
			out[idx].End = &end
			out[idx].EndKind = string(ev.Kind)
			delete(open, ev.Stage)
		}
	}
	return out
}
