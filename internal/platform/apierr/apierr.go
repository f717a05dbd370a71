package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
)

type Error struct {
	Status  int
	Code    string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

var statusByCode = map[fab.ErrorCode]int{
	fab.CodeValidation:         http.StatusBadRequest,
	fab.CodeNotFound:           http.StatusNotFound,
	fab.CodeIllegalTransition:  http.StatusConflict,
	fab.CodeUnitOccupied:       http.StatusConflict,
	fab.CodeConflict:           http.StatusConflict,
	fab.CodePreconditionFailed: http.StatusPreconditionFailed,
	fab.CodeBlocked:            http.StatusLocked,
	fab.CodeLockPersistFailure: http.StatusServiceUnavailable,
	fab.CodeStoreUnavailable:   http.StatusServiceUnavailable,
	fab.CodeRetryable:          http.StatusServiceUnavailable,
	fab.CodeLogWriteFailed:     http.StatusInternalServerError,
	fab.CodeInternal:           http.StatusInternalServerError,
}

// From maps an engine error onto an HTTP status, keeping the engine code and
// its structured details for the response body.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	fe := fab.AsError(err)
	if fe == nil {
		return &Error{Status: http.StatusInternalServerError, Code: string(fab.CodeInternal), Err: err}
	}
	status, ok := statusByCode[fe.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Error{Status: status, Code: string(fe.Code), Details: fe.Details, Err: err}
}
