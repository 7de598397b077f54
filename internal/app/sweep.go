package app

import (
	"context"
	"time"

	"pulse_tracker/internal/domain/tenant"
)

// TenantOutcome is the result of one tenant within a sweep.
type TenantOutcome struct {
	Tenant   tenant.SchemaRef
	Report   ReconcileReport
	Err      error
	Skipped  bool // previous run for this tenant still in progress
	Duration time.Duration
}

// SweepReport summarises one scheduler tick across all tenants.
type SweepReport struct {
	RunID    string
	AsOf     time.Time
	Outcomes []TenantOutcome
	Err      error // tenant discovery failed; no tenant ran
}

// Counts returns how many tenants succeeded, failed and were skipped.
func (r SweepReport) Counts() (ok, failed, skipped int) {
	for _, o := range r.Outcomes {
		switch {
		case o.Skipped:
			skipped++
		case o.Err != nil:
			failed++
		default:
			ok++
		}
	}
	return ok, failed, skipped
}

// SweepTrigger runs one sweep on demand.
type SweepTrigger interface {
	RunOnce(ctx context.Context) SweepReport
}
