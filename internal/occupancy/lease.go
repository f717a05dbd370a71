package occupancy

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
)

// Lease is the value stored under a lock key.
type Lease struct {
	WorkerID   string    `json:"worker_id"`
	LeaseID    string    `json:"lease_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

func (l Lease) encode() (string, error) {
	raw, err := json.Marshal(l)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeLease(raw string) (Lease, error) {
	var l Lease
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		return Lease{}, fmt.Errorf("decode lease: %w", err)
	}
	return l, nil
}

// Occupant is the worker identity persisted in a unit's occupant field as
// "<name> [<worker id>]".
type Occupant struct {
	WorkerID string
	Name     string
}

var occupantPattern = regexp.MustCompile(`^(.*\S)\s*\[([^\[\]\s]+)\]$`)

func FormatOccupant(workerID, name string) string {
	workerID = strings.TrimSpace(workerID)
	name = strings.TrimSpace(name)
	if name == "" {
		name = workerID
	}
	return fmt.Sprintf("%s [%s]", name, workerID)
}

// ParseOccupant recovers the worker identity from a persisted occupant field.
func ParseOccupant(raw string) (Occupant, error) {
	m := occupantPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Occupant{}, fab.ValidationError("occupancy.parse", fmt.Sprintf("occupant %q has no worker id", raw))
	}
	return Occupant{Name: strings.TrimSpace(m[1]), WorkerID: m[2]}, nil
}

func (o Occupant) String() string {
	return FormatOccupant(o.WorkerID, o.Name)
}

// Keyspace builds lock keys. Keys are unit-scoped unless PerStage is set.
type Keyspace struct {
	Prefix   string
	PerStage bool
}

const DefaultPrefix = "fabline:occupation"

func (k Keyspace) prefix() string {
	p := strings.TrimRight(strings.TrimSpace(k.Prefix), ":")
	if p == "" {
		return DefaultPrefix
	}
	return p
}

func (k Keyspace) Key(unitID string, stage fab.Stage) string {
	if k.PerStage && stage != "" {
		return fmt.Sprintf("%s:%s:%s", k.prefix(), unitID, stage)
	}
	return fmt.Sprintf("%s:%s", k.prefix(), unitID)
}

// Pattern matches every lock key in the keyspace.
func (k Keyspace) Pattern() string {
	return k.prefix() + ":*"
}

// UnitID extracts the unit id from a key built by Key.
func (k Keyspace) UnitID(key string) string {
	rest := strings.TrimPrefix(key, k.prefix()+":")
	if k.PerStage {
		if idx := strings.LastIndex(rest, ":"); idx > 0 {
			if _, ok := fab.ParseStage(rest[idx+1:]); ok {
				return rest[:idx]
			}
		}
	}
	return rest
}
