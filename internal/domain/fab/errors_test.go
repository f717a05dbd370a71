package fab

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestMapStoreError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"not found", gorm.ErrRecordNotFound, CodeNotFound},
		{"deadline", context.DeadlineExceeded, CodeRetryable},
		{"unique", &pgconn.PgError{Code: "23505"}, CodeConflict},
		{"serialization", &pgconn.PgError{Code: "40001"}, CodeRetryable},
		{"wrapped deadlock", fmt.Errorf("update: %w", &pgconn.PgError{Code: "40P01"}), CodeRetryable},
		{"refused", errors.New("dial tcp: connection refused"), CodeRetryable},
		{"sqlite busy", errors.New("database is locked"), CodeRetryable},
		{"other", errors.New("syntax error at or near"), CodeStoreUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := MapStoreError("op", tc.err)
			if CodeOf(got) != tc.want {
				t.Fatalf("MapStoreError(%v) = %s, want %s", tc.err, CodeOf(got), tc.want)
			}
			if !errors.Is(got, tc.err) {
				t.Fatalf("cause not preserved")
			}
		})
	}
}

func TestEngineErrorsPassThrough(t *testing.T) {
	orig := Blocked("op", "U-1", 3, 3)
	if MapStoreError("other", orig) != orig {
		t.Fatalf("engine error should pass through MapStoreError")
	}
	if Wrap(CodeInternal, "other", orig) != orig {
		t.Fatalf("engine error should pass through Wrap")
	}
	if Wrap(CodeInternal, "op", nil) != nil {
		t.Fatalf("Wrap(nil) should be nil")
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(errors.New("i/o timeout")) {
		t.Fatalf("timeout should be transient")
	}
	if IsTransient(ValidationError("op", "bad")) {
		t.Fatalf("validation should not be transient")
	}
	if IsTransient(gorm.ErrRecordNotFound) {
		t.Fatalf("not found should not be transient")
	}
	if IsTransient(nil) {
		t.Fatalf("nil is not transient")
	}
}

func TestStructuredDetails(t *testing.T) {
	err := UnitOccupied("op", "U-1", "Ana [W1]")
	fe := AsError(err)
	if fe.Detail("occupant") != "Ana [W1]" || fe.Detail("unit_id") != "U-1" {
		t.Fatalf("details missing: %+v", fe.Details)
	}
	ill := AsError(IllegalTransition("op", StageAssembly, "completed", "claim"))
	if ill.Detail("current") != "completed" || ill.Detail("requested") != "claim" {
		t.Fatalf("illegal transition details: %+v", ill.Details)
	}
	if (&Error{Code: CodeInternal}).Error() != "internal" {
		t.Fatalf("bare error string")
	}
}
