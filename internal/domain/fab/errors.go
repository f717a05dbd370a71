package fab

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrorCode standardizes failure semantics across the engine.
type ErrorCode string

const (
	CodeIllegalTransition  ErrorCode = "illegal_transition"
	CodeUnitOccupied       ErrorCode = "unit_occupied"
	CodeBlocked            ErrorCode = "blocked"
	CodeLockPersistFailure ErrorCode = "lock_persist_failure"
	CodeLogWriteFailed     ErrorCode = "log_write_failed"
	CodeStoreUnavailable   ErrorCode = "store_unavailable"

	CodeValidation         ErrorCode = "validation"
	CodeNotFound           ErrorCode = "not_found"
	CodeConflict           ErrorCode = "conflict"
	CodePreconditionFailed ErrorCode = "precondition_failed"
	CodeRetryable          ErrorCode = "retryable"
	CodeInternal           ErrorCode = "internal"
)

// Error is the canonical engine error. Details carries the context a caller
// needs to render a precise message (current occupant, current state, ...).
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Details map[string]string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Detail returns one context value, "" when absent.
func (e *Error) Detail(key string) string {
	if e == nil || e.Details == nil {
		return ""
	}
	return e.Details[key]
}

func NewError(code ErrorCode, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// Wrap annotates err with a code. Engine errors pass through untouched.
func Wrap(code ErrorCode, op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return NewError(code, op, err.Error(), err)
}

func IsCode(err error, code ErrorCode) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}
	return fe.Code == code
}

func CodeOf(err error) ErrorCode {
	var fe *Error
	if !errors.As(err, &fe) {
		return ""
	}
	return fe.Code
}

// AsError extracts the engine error, nil when err is something else.
func AsError(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return nil
}

func ValidationError(op, msg string) error {
	return NewError(CodeValidation, op, msg, nil)
}

func NotFound(op, what string) error {
	return NewError(CodeNotFound, op, what+" not found", nil)
}

func PreconditionFailed(op, msg string) error {
	return NewError(CodePreconditionFailed, op, msg, nil)
}

// IllegalTransition reports a move the state machine rejects.
func IllegalTransition(op string, stage Stage, current, requested string) error {
	return &Error{
		Code:    CodeIllegalTransition,
		Op:      op,
		Message: fmt.Sprintf("%s cannot %s from state %s", stage, requested, current),
		Details: map[string]string{"stage": string(stage), "current": current, "requested": requested},
	}
}

// UnitOccupied reports lock contention, naming the current holder when known.
func UnitOccupied(op, unitID, occupant string) error {
	msg := fmt.Sprintf("unit %s is occupied", unitID)
	if occupant != "" {
		msg = fmt.Sprintf("unit %s is occupied by %s", unitID, occupant)
	}
	return &Error{
		Code:    CodeUnitOccupied,
		Op:      op,
		Message: msg,
		Details: map[string]string{"unit_id": unitID, "occupant": occupant},
	}
}

// Blocked reports an exhausted rework loop awaiting supervisor action.
func Blocked(op, unitID string, cycles, max int) error {
	return &Error{
		Code:    CodeBlocked,
		Op:      op,
		Message: fmt.Sprintf("unit %s reached rework cycle %d of %d and needs supervisor intervention", unitID, cycles, max),
		Details: map[string]string{"unit_id": unitID, "cycles": fmt.Sprint(cycles), "max_cycles": fmt.Sprint(max)},
	}
}

// MapStoreError classifies infrastructure failures from the row store, the
// audit sink or the lock broker.
func MapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Wrap(CodeNotFound, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Wrap(CodeRetryable, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505":
			return Wrap(CodeConflict, op, err) // unique_violation
		case "40001", "40P01", "55P03", "57P01":
			return Wrap(CodeRetryable, op, err) // serialization/deadlock/lock_not_available/admin_shutdown
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Wrap(CodeRetryable, op, err)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "duplicate key"), strings.Contains(msg, "unique constraint"):
		return Wrap(CodeConflict, op, err)
	case strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "serialization"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "temporar"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "database is locked"):
		return Wrap(CodeRetryable, op, err)
	default:
		return Wrap(CodeStoreUnavailable, op, err)
	}
}

// IsTransient reports whether a retry could plausibly succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(MapStoreError("transient", err)) {
	case CodeRetryable, CodeStoreUnavailable:
		return true
	}
	return false
}
