// internal/app/pulse_reconciler.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"pulse_tracker/internal/domain/pulse"
	"pulse_tracker/internal/domain/tenant"
	idb "pulse_tracker/internal/infra/database"
	"pulse_tracker/internal/infra/metrics"
)

// Pass names, used as log fields and metric labels.
const (
	PassRepair       = "repair"
	PassCloseStale   = "close_stale"
	PassPause        = "pause"
	PassEnd          = "end"
	PassMarkInactive = "mark_inactive"
)

// ReconcileReport counts what one Reconcile call changed.
type ReconcileReport struct {
	Tenant         tenant.SchemaRef
	AsOf           time.Time
	Repaired       int
	Closed         int
	Paused         int
	Ended          int
	MarkedInactive int
	RowFailures    int
	Violations     int
}

// Changed is the number of rows written.
func (r ReconcileReport) Changed() int {
	return r.Repaired + r.Closed + r.Paused + r.Ended + r.MarkedInactive
}

func (r ReconcileReport) fields() logrus.Fields {
	return logrus.Fields{
		"repaired":        r.Repaired,
		"closed":          r.Closed,
		"paused":          r.Paused,
		"ended":           r.Ended,
		"marked_inactive": r.MarkedInactive,
		"row_failures":    r.RowFailures,
		"violations":      r.Violations,
	}
}

// PulseReconciler derives the time-based transitions no single collection
// event can trigger. Reconcile is idempotent for a fixed asOf and state.
type PulseReconciler struct {
	store     pulse.Store
	societies tenant.SocietyRegistry
	logger    *logrus.Entry
	metrics   *metrics.Metrics
}

func NewPulseReconciler(store pulse.Store, societies tenant.SocietyRegistry, logger *logrus.Entry, m *metrics.Metrics) *PulseReconciler {
	return &PulseReconciler{
		store:     store,
		societies: societies,
		logger:    logger.WithField("component", "pulse_reconciler"),
		metrics:   m,
	}
}

// reconcileRun carries the per-call state shared by the passes.
type reconcileRun struct {
	t      tenant.Tenant
	asOf   time.Time
	today  time.Time
	report *ReconcileReport
	log    *logrus.Entry
}

// Reconcile runs the repair, close-stale, pause, end and mark-inactive passes
// for one tenant, in that order. Row-level failures are logged and skipped;
// a failure to scan the tenant aborts it and is returned.
func (r *PulseReconciler) Reconcile(ctx context.Context, t tenant.Tenant, asOf time.Time) (ReconcileReport, error) {
	report := ReconcileReport{Tenant: t.Schema, AsOf: asOf}
	run := &reconcileRun{
		t:      t,
		asOf:   asOf,
		today:  pulse.DateOf(asOf, t.Loc()),
		report: &report,
		log: r.logger.WithFields(logrus.Fields{
			"tenant": t.String(),
			"as_of":  asOf,
		}),
	}

	passes := []struct {
		name string
		fn   func(context.Context, *reconcileRun) error
	}{
		{PassRepair, r.repair},
		{PassCloseStale, r.closeStale},
		{PassPause, r.pause},
		{PassEnd, r.end},
		{PassMarkInactive, r.markInactive},
	}
	for _, p := range passes {
		if err := p.fn(ctx, run); err != nil {
			run.log.WithError(err).WithField("pass", p.name).Error("Reconcile aborted for tenant")
			return report, fmt.Errorf("%s pass for tenant %s: %w", p.name, t, err)
		}
	}

	r.metrics.RecordTransitions(PassRepair, report.Repaired)
	r.metrics.RecordTransitions(PassCloseStale, report.Closed)
	r.metrics.RecordTransitions(PassPause, report.Paused)
	r.metrics.RecordTransitions(PassEnd, report.Ended)
	r.metrics.RecordTransitions(PassMarkInactive, report.MarkedInactive)

	if report.Changed() > 0 || report.RowFailures > 0 {
		run.log.WithFields(report.fields()).Info("Tenant reconciled")
	} else {
		run.log.Debug("Tenant reconciled, nothing to change")
	}
	return report, nil
}

// transition applies fn to one row. Row failures are counted and swallowed
// unless the tenant itself is gone or the context is done.
func (r *PulseReconciler) transition(ctx context.Context, run *reconcileRun, pass string, societyID int64, date time.Time, fn pulse.MutateFunc) (bool, error) {
	_, written, err := r.store.Apply(ctx, run.t.Schema, societyID, date, fn)
	if err == nil {
		if written {
			run.log.WithFields(logrus.Fields{
				"pass":       pass,
				"society_id": societyID,
				"pulse_date": date.Format("2006-01-02"),
			}).Debug("Section pulse transitioned")
		}
		return written, nil
	}
	if errors.Is(err, idb.ErrTenantSchemaNotFound) || ctx.Err() != nil {
		return false, err
	}
	run.report.RowFailures++
	r.metrics.RecordRowFailure(pass)
	run.log.WithError(err).WithFields(logrus.Fields{
		"pass":       pass,
		"society_id": societyID,
		"pulse_date": date.Format("2006-01-02"),
	}).Warn("Section pulse update failed, leaving it for the next tick")
	return false, nil
}

func (r *PulseReconciler) repair(ctx context.Context, run *reconcileRun) error {
	rows, err := r.store.ListViolations(ctx, run.t.Schema)
	if err != nil {
		return err
	}
	for _, row := range rows {
		for _, v := range pulse.Violations(row) {
			run.report.Violations++
			r.metrics.RecordViolation(string(v))
			run.log.WithFields(logrus.Fields{
				"society_id": row.SocietyID,
				"pulse_date": row.PulseDate.Format("2006-01-02"),
				"status":     row.Status,
				"violation":  v,
			}).Warn("Section pulse invariant violated")
		}
		written, err := r.transition(ctx, run, PassRepair, row.SocietyID, row.PulseDate, func(cur *pulse.Pulse) (*pulse.Pulse, error) {
			return pulse.Repair(cur, run.asOf, run.t.Loc()), nil
		})
		if err != nil {
			return err
		}
		if written {
			run.report.Repaired++
		}
	}
	return nil
}

func (r *PulseReconciler) closeStale(ctx context.Context, run *reconcileRun) error {
	rows, err := r.store.ListByStatus(ctx, run.t.Schema, pulse.StatusActive, pulse.StatusPaused)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if pulse.CloseStale(row, run.today, run.asOf, run.t.Loc()) == nil {
			continue
		}
		written, err := r.transition(ctx, run, PassCloseStale, row.SocietyID, row.PulseDate, func(cur *pulse.Pulse) (*pulse.Pulse, error) {
			return pulse.CloseStale(cur, run.today, run.asOf, run.t.Loc()), nil
		})
		if err != nil {
			return err
		}
		if written {
			run.report.Closed++
		}
	}
	return nil
}

func (r *PulseReconciler) pause(ctx context.Context, run *reconcileRun) error {
	rows, err := r.store.ListByDate(ctx, run.t.Schema, run.today)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if pulse.Pause(row, run.today, run.asOf) == nil {
			continue
		}
		written, err := r.transition(ctx, run, PassPause, row.SocietyID, row.PulseDate, func(cur *pulse.Pulse) (*pulse.Pulse, error) {
			return pulse.Pause(cur, run.today, run.asOf), nil
		})
		if err != nil {
			return err
		}
		if written {
			run.report.Paused++
		}
	}
	return nil
}

func (r *PulseReconciler) end(ctx context.Context, run *reconcileRun) error {
	rows, err := r.store.ListByDate(ctx, run.t.Schema, run.today)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if pulse.End(row, run.today, run.asOf) == nil {
			if row.Status.IsOpen() && !row.LastCollectionTime.Valid {
				run.log.WithField("society_id", row.SocietyID).Warn("Open section has no collection time, cannot infer its end")
			}
			continue
		}
		written, err := r.transition(ctx, run, PassEnd, row.SocietyID, row.PulseDate, func(cur *pulse.Pulse) (*pulse.Pulse, error) {
			return pulse.End(cur, run.today, run.asOf), nil
		})
		if err != nil {
			return err
		}
		if written {
			run.report.Ended++
		}
	}
	return nil
}

func (r *PulseReconciler) markInactive(ctx context.Context, run *reconcileRun) error {
	societies, err := r.societies.ListActiveSocieties(ctx, run.t)
	if err != nil {
		return err
	}
	rows, err := r.store.ListByDate(ctx, run.t.Schema, run.today)
	if err != nil {
		return err
	}
	seen := make(map[int64]bool, len(rows))
	for _, row := range rows {
		seen[row.SocietyID] = true
	}

	yesterdayDate := run.today.AddDate(0, 0, -1)
	for _, societyID := range societies {
		if seen[societyID] {
			continue
		}

		yesterday, err := r.store.Get(ctx, run.t.Schema, societyID, yesterdayDate)
		if err != nil && !errors.Is(err, idb.ErrPulseNotFound) {
			if errors.Is(err, idb.ErrTenantSchemaNotFound) || ctx.Err() != nil {
				return err
			}
			// Without yesterday's streak the carry would be wrong; retry next tick.
			run.report.RowFailures++
			r.metrics.RecordRowFailure(PassMarkInactive)
			run.log.WithError(err).WithField("society_id", societyID).Warn("Could not read yesterday's pulse, skipping society")
			continue
		}

		written, err := r.transition(ctx, run, PassMarkInactive, societyID, run.today, func(cur *pulse.Pulse) (*pulse.Pulse, error) {
			return pulse.MarkInactive(cur, yesterday, societyID, run.today, run.asOf), nil
		})
		if err != nil {
			return err
		}
		if written {
			run.report.MarkedInactive++
		}
	}
	return nil
}
