package fab

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type EventKind string

const (
	EventClaim              EventKind = "claim"
	EventPause              EventKind = "pause"
	EventComplete           EventKind = "complete"
	EventCancel             EventKind = "cancel"
	EventRejectInspection   EventKind = "reject_inspection"
	EventApproveInspection  EventKind = "approve_inspection"
	EventRepairStart        EventKind = "repair_start"
	EventRepairPause        EventKind = "repair_pause"
	EventRepairComplete     EventKind = "repair_complete"
	EventRepairCancel       EventKind = "repair_cancel"
	EventSupervisorOverride EventKind = "supervisor_override"
)

// EventAction is the coarse verb recorded next to the kind.
type EventAction string

const (
	EventActionClaim    EventAction = "claim"
	EventActionPause    EventAction = "pause"
	EventActionComplete EventAction = "complete"
	EventActionCancel   EventAction = "cancel"
	EventActionStart    EventAction = "start"
	EventActionFinish   EventAction = "finish"
	EventActionInspect  EventAction = "inspect"
	EventActionOverride EventAction = "override"
)

// AuditEvent is an immutable record of one lifecycle transition.
type AuditEvent struct {
	ID            uuid.UUID      `gorm:"type:uuid;column:id;primaryKey" json:"id"`
	Timestamp     time.Time      `gorm:"column:timestamp;not null;index" json:"timestamp"`
	Kind          EventKind      `gorm:"column:event_kind;not null;index" json:"event_kind"`
	UnitID        string         `gorm:"column:unit_id;not null;index" json:"unit_id"`
	WorkerID      string         `gorm:"column:worker_id;index" json:"worker_id"`
	WorkerName    string         `gorm:"column:worker_name" json:"worker_name"`
	Stage         Stage          `gorm:"column:stage" json:"stage"`
	Action        EventAction    `gorm:"column:action" json:"action"`
	OperationDate time.Time      `gorm:"column:operation_date;not null" json:"operation_date"`
	Extra         datatypes.JSON `gorm:"column:extra" json:"extra,omitempty"`
	SubUnitIndex  *int           `gorm:"column:sub_unit_index" json:"sub_unit_index,omitempty"`
}

func (AuditEvent) TableName() string { return "audit_events" }

// IsSessionStart reports whether the event opens an occupation session.
func (e AuditEvent) IsSessionStart() bool {
	return e.Kind == EventClaim || e.Kind == EventRepairStart
}

// IsSessionEnd reports whether the event closes an occupation session.
func (e AuditEvent) IsSessionEnd() bool {
	switch e.Kind {
	case EventPause, EventComplete, EventCancel, EventRepairPause, EventRepairComplete, EventRepairCancel:
		return true
	}
	return false
}
