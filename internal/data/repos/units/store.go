// Package units is the system-of-record adapter for work units. Writes are
// keyed by logical field name; each adapter maps them onto its own layout.
package units

import (
	"context"
	"strconv"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
)

// RowStore reads and writes work units. BatchWrite is all-or-nothing.
type RowStore interface {
	ReadUnit(ctx context.Context, id string) (*fab.WorkUnit, error)
	BatchWrite(ctx context.Context, id string, updates []fab.FieldUpdate, opts ...WriteOption) (*fab.WorkUnit, error)
	ScanAll(ctx context.Context) ([]*fab.WorkUnit, error)
	Create(ctx context.Context, u *fab.WorkUnit) error
}

type writeOptions struct {
	expectVersion *int64
}

type WriteOption func(*writeOptions)

// ExpectVersion fails the write with a conflict unless the stored version
// token still equals v.
func ExpectVersion(v int64) WriteOption {
	return func(o *writeOptions) {
		o.expectVersion = &v
	}
}

func collectOptions(opts []WriteOption) writeOptions {
	var o writeOptions
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

func versionConflict(op, id string, expected, actual int64) error {
	return &fab.Error{
		Code:    fab.CodeConflict,
		Op:      op,
		Message: "version token mismatch for unit " + id,
		Details: map[string]string{
			"unit_id":  id,
			"expected": strconv.FormatInt(expected, 10),
			"actual":   strconv.FormatInt(actual, 10),
		},
	}
}
