package fab

import (
	"fmt"
	"time"
)

// Field is a logical column name. Row stores map it onto their physical
// layout; nothing above the store knows column positions or names.
type Field string

const (
	FieldAssemblyStatus      Field = "assembly_status"
	FieldAssemblyClaimant    Field = "assembly_claimant"
	FieldAssemblyCompletedAt Field = "assembly_completed_at"
	FieldWeldingStatus       Field = "welding_status"
	FieldWeldingClaimant     Field = "welding_claimant"
	FieldWeldingCompletedAt  Field = "welding_completed_at"
	FieldOccupant            Field = "occupant"
	FieldOccupiedSince       Field = "occupied_since"
	FieldActiveStage         Field = "active_stage"
	FieldReworkStatus        Field = "rework_status"
	FieldInspection          Field = "inspection_result"
	FieldStatusDetail        Field = "status_detail"
	FieldVersionToken        Field = "version_token"
	FieldUpdatedAt           Field = "updated_at"
)

// AllFields lists every logical field a row store must be able to write.
var AllFields = []Field{
	FieldAssemblyStatus, FieldAssemblyClaimant, FieldAssemblyCompletedAt,
	FieldWeldingStatus, FieldWeldingClaimant, FieldWeldingCompletedAt,
	FieldOccupant, FieldOccupiedSince, FieldActiveStage,
	FieldReworkStatus, FieldInspection,
	FieldStatusDetail, FieldVersionToken, FieldUpdatedAt,
}

// StatusField, ClaimantField and CompletedField resolve a fabrication stage's
// per-stage columns.
func StatusField(s Stage) Field {
	if s == StageWelding {
		return FieldWeldingStatus
	}
	return FieldAssemblyStatus
}

func ClaimantField(s Stage) Field {
	if s == StageWelding {
		return FieldWeldingClaimant
	}
	return FieldAssemblyClaimant
}

func CompletedField(s Stage) Field {
	if s == StageWelding {
		return FieldWeldingCompletedAt
	}
	return FieldAssemblyCompletedAt
}

// FieldUpdate is one entry of an atomic batch write. A nil Value clears the field.
type FieldUpdate struct {
	Field Field
	Value any
}

// Set / Clear build updates.
func Set(f Field, v any) FieldUpdate { return FieldUpdate{Field: f, Value: v} }
func Clear(f Field) FieldUpdate      { return FieldUpdate{Field: f} }

// Apply writes updates onto u in order. It is the in-memory twin of a row
// store batch write and fails on unknown fields or mistyped values without
// touching u.
func Apply(u *WorkUnit, updates []FieldUpdate) error {
	next := u.Clone()
	for _, up := range updates {
		if err := applyOne(next, up); err != nil {
			return err
		}
	}
	*u = *next
	return nil
}

func applyOne(u *WorkUnit, up FieldUpdate) error {
	switch up.Field {
	case FieldAssemblyStatus:
		return setStatus(&u.AssemblyStatus, up)
	case FieldWeldingStatus:
		return setStatus(&u.WeldingStatus, up)
	case FieldAssemblyClaimant:
		return setStringPtr(&u.AssemblyClaimant, up)
	case FieldWeldingClaimant:
		return setStringPtr(&u.WeldingClaimant, up)
	case FieldOccupant:
		return setStringPtr(&u.Occupant, up)
	case FieldAssemblyCompletedAt:
		return setTimePtr(&u.AssemblyCompletedAt, up)
	case FieldWeldingCompletedAt:
		return setTimePtr(&u.WeldingCompletedAt, up)
	case FieldOccupiedSince:
		return setTimePtr(&u.OccupiedSince, up)
	case FieldActiveStage:
		if up.Value == nil {
			u.ActiveStage = ""
			return nil
		}
		switch v := up.Value.(type) {
		case Stage:
			u.ActiveStage = v
		case string:
			u.ActiveStage = Stage(v)
		default:
			return badValue(up)
		}
	case FieldReworkStatus:
		if up.Value == nil {
			u.ReworkStatus = ReworkNone
			return nil
		}
		switch v := up.Value.(type) {
		case ReworkStatus:
			u.ReworkStatus = v
		case string:
			u.ReworkStatus = ReworkStatus(v)
		default:
			return badValue(up)
		}
	case FieldInspection:
		if up.Value == nil {
			u.Inspection = InspectionNone
			return nil
		}
		switch v := up.Value.(type) {
		case InspectionResult:
			u.Inspection = v
		case string:
			u.Inspection = InspectionResult(v)
		default:
			return badValue(up)
		}
	case FieldStatusDetail:
		if up.Value == nil {
			u.StatusDetail = ""
			return nil
		}
		s, ok := up.Value.(string)
		if !ok {
			return badValue(up)
		}
		u.StatusDetail = s
	case FieldVersionToken:
		switch v := up.Value.(type) {
		case int64:
			u.VersionToken = v
		case int:
			u.VersionToken = int64(v)
		default:
			return badValue(up)
		}
	case FieldUpdatedAt:
		t, ok := up.Value.(time.Time)
		if !ok {
			return badValue(up)
		}
		u.UpdatedAt = t
	default:
		return ValidationError("fab.apply", fmt.Sprintf("unknown field %q", up.Field))
	}
	return nil
}

func setStatus(dst *StageStatus, up FieldUpdate) error {
	switch v := up.Value.(type) {
	case nil:
		*dst = StatusPending
	case StageStatus:
		*dst = v
	case string:
		*dst = StageStatus(v)
	default:
		return badValue(up)
	}
	return nil
}

func setStringPtr(dst **string, up FieldUpdate) error {
	switch v := up.Value.(type) {
	case nil:
		*dst = nil
	case string:
		s := v
		*dst = &s
	case *string:
		*dst = cloneString(v)
	default:
		return badValue(up)
	}
	return nil
}

func setTimePtr(dst **time.Time, up FieldUpdate) error {
	switch v := up.Value.(type) {
	case nil:
		*dst = nil
	case time.Time:
		t := v
		*dst = &t
	case *time.Time:
		*dst = cloneTime(v)
	default:
		return badValue(up)
	}
	return nil
}

func badValue(up FieldUpdate) error {
	return ValidationError("fab.apply", fmt.Sprintf("field %q: unsupported value type %T", up.Field, up.Value))
}
