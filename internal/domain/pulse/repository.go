// internal/domain/pulse/repository.go
package pulse

import (
	"context"
	"time"

	"pulse_tracker/internal/domain/tenant"
)

// MutateFunc computes the next state of a row from its locked current state.
// current is nil when no row exists. Returning a nil Pulse leaves the row as is.
type MutateFunc func(current *Pulse) (*Pulse, error)

// Store persists section pulses, one row per (schema, society, date).
type Store interface {
	// Apply locks the row for (societyID, date), calls fn and writes its result,
	// all as one atomic unit. It returns the resulting row (nil if none exists)
	// and whether a write happened.
	Apply(ctx context.Context, schema tenant.SchemaRef, societyID int64, date time.Time, fn MutateFunc) (*Pulse, bool, error)

	Get(ctx context.Context, schema tenant.SchemaRef, societyID int64, date time.Time) (*Pulse, error)
	ListByDate(ctx context.Context, schema tenant.SchemaRef, date time.Time) ([]*Pulse, error)
	ListByStatus(ctx context.Context, schema tenant.SchemaRef, statuses ...Status) ([]*Pulse, error)
	ListBySocietyRange(ctx context.Context, schema tenant.SchemaRef, societyID int64, from, to time.Time) ([]*Pulse, error)
	// ListViolations returns rows breaking the status/end-time, status/streak
	// or first/last ordering invariants.
	ListViolations(ctx context.Context, schema tenant.SchemaRef) ([]*Pulse, error)
}
