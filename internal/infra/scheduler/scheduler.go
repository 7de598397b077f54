package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"pulse_tracker/internal/app"
	"pulse_tracker/internal/domain/tenant"
	"pulse_tracker/internal/infra/metrics"
)

// TenantReconciler reconciles one tenant as of a point in time.
type TenantReconciler interface {
	Reconcile(ctx context.Context, t tenant.Tenant, asOf time.Time) (app.ReconcileReport, error)
}

// TenantLocker excludes other processes from reconciling the same tenant.
// TryLock reports false without blocking when another holder has the lock.
type TenantLocker interface {
	TryLock(ctx context.Context, schema tenant.SchemaRef) (unlock func(), ok bool, err error)
}

// AlertNotifier is told about sweeps in which something failed.
type AlertNotifier interface {
	NotifySweepFailures(ctx context.Context, report app.SweepReport)
}

// PulseScheduler runs a reconcile sweep over every active tenant on a cron
// schedule. Tenants run in parallel up to a worker limit, and a tenant whose
// previous reconcile is still running is skipped for that tick.
type PulseScheduler struct {
	cronEngine    *cron.Cron
	directory     tenant.Directory
	reconciler    TenantReconciler
	clock         quartz.Clock
	logger        *logrus.Entry
	metrics       *metrics.Metrics
	alerts        AlertNotifier
	locker        TenantLocker
	cronSpec      string
	workers       int
	tenantTimeout time.Duration

	mu       sync.Mutex
	inFlight map[tenant.SchemaRef]bool
	cancel   context.CancelFunc
}

func NewPulseScheduler(
	directory tenant.Directory,
	reconciler TenantReconciler,
	clock quartz.Clock,
	logger *logrus.Entry,
	m *metrics.Metrics,
	cronSpec string, // e.g. "@every 1m"
	workers int,
	loc *time.Location, // location cron expressions are evaluated in
) *PulseScheduler {
	if workers < 1 {
		workers = 1
	}
	if loc == nil {
		loc = time.UTC
	}
	log := logger.WithField("component", "pulse_scheduler")
	return &PulseScheduler{
		cronEngine: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger{log})),
		),
		directory:  directory,
		reconciler: reconciler,
		clock:      clock,
		logger:     log,
		metrics:    m,
		cronSpec:   cronSpec,
		workers:    workers,
		inFlight:   make(map[tenant.SchemaRef]bool),
	}
}

// SetAlertNotifier registers n to hear about failed sweeps.
func (s *PulseScheduler) SetAlertNotifier(n AlertNotifier) {
	s.alerts = n
}

// SetTenantLocker makes every tenant run also hold locker's lock for that tenant.
func (s *PulseScheduler) SetTenantLocker(l TenantLocker) {
	s.locker = l
}

// SetTenantTimeout bounds a single tenant's reconcile. The default is zero, no
// bound: an overrunning reconcile finishes and later ticks skip the tenant.
func (s *PulseScheduler) SetTenantTimeout(d time.Duration) {
	s.tenantTimeout = d
}

// Start registers the sweep job and starts the cron engine. Jobs run with a
// context derived from ctx, cancelled by Stop.
func (s *PulseScheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting pulse scheduler...")

	runCtx, cancel := context.WithCancel(ctx)
	_, err := s.cronEngine.AddFunc(s.cronSpec, func() {
		s.logger.Debug("Cron job triggered for reconcile sweep.")
		s.RunOnce(runCtx)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("could not add reconcile cron job %q: %w", s.cronSpec, err)
	}
	s.cancel = cancel

	s.cronEngine.Start()
	s.logger.WithField("cron_spec", s.cronSpec).Info("Pulse scheduler started.")
	return nil
}

// Stop halts the schedule, cancels running sweeps and waits for them to return.
func (s *PulseScheduler) Stop() {
	s.logger.Info("Stopping pulse scheduler...")
	stopCtx := s.cronEngine.Stop() // stops new ticks; Done fires once running jobs return
	if s.cancel != nil {
		s.cancel()
	}
	<-stopCtx.Done()
	s.logger.Info("Pulse scheduler gracefully stopped.")
}

// RunOnce performs one sweep: every active tenant is reconciled as of the
// same instant. A failing tenant never stops the others.
func (s *PulseScheduler) RunOnce(ctx context.Context) app.SweepReport {
	report := app.SweepReport{
		RunID: uuid.NewString(),
		AsOf:  s.clock.Now(),
	}
	log := s.logger.WithFields(logrus.Fields{
		"run_id": report.RunID,
		"as_of":  report.AsOf,
	})

	tenants, err := s.directory.ListActive(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to list active tenants, skipping sweep")
		report.Err = fmt.Errorf("failed to list active tenants: %w", err)
		s.notify(ctx, report)
		return report
	}

	report.Outcomes = make([]app.TenantOutcome, len(tenants))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, t := range tenants {
		g.Go(func() error {
			report.Outcomes[i] = s.reconcileTenant(ctx, t, report.AsOf, log)
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.RecordSweep(report.AsOf)
	ok, failed, skipped := report.Counts()
	entry := log.WithFields(logrus.Fields{
		"tenants": len(tenants),
		"ok":      ok,
		"failed":  failed,
		"skipped": skipped,
	})
	if failed > 0 {
		entry.Warn("Reconcile sweep finished with failures")
		s.notify(ctx, report)
	} else {
		entry.Info("Reconcile sweep finished")
	}
	return report
}

func (s *PulseScheduler) reconcileTenant(ctx context.Context, t tenant.Tenant, asOf time.Time, log *logrus.Entry) (outcome app.TenantOutcome) {
	outcome.Tenant = t.Schema
	log = log.WithField("tenant", t.String())

	if !s.acquire(t.Schema) {
		outcome.Skipped = true
		s.metrics.RecordTenantSkipped()
		log.Warn("Previous reconcile still running for tenant, skipping this tick")
		return outcome
	}
	defer s.release(t.Schema)

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, t.Schema)
		if err != nil {
			outcome.Err = fmt.Errorf("failed to lock tenant: %w", err)
			s.metrics.RecordTenantReconcile(0, outcome.Err)
			log.WithError(err).Error("Could not take tenant lock")
			return outcome
		}
		if !ok {
			outcome.Skipped = true
			s.metrics.RecordTenantSkipped()
			log.Warn("Tenant is being reconciled by another process, skipping this tick")
			return outcome
		}
		defer unlock()
	}

	if s.tenantTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.tenantTimeout)
		defer cancel()
	}

	start := s.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			outcome.Err = fmt.Errorf("reconcile panicked: %v", r)
			log.WithField("panic", r).Error("Recovered from panic while reconciling tenant")
		}
		outcome.Duration = s.clock.Since(start)
		s.metrics.RecordTenantReconcile(outcome.Duration, outcome.Err)
	}()

	outcome.Report, outcome.Err = s.reconciler.Reconcile(ctx, t, asOf)
	if outcome.Err != nil {
		log.WithError(outcome.Err).Error("Tenant reconcile failed")
	}
	return outcome
}

func (s *PulseScheduler) acquire(schema tenant.SchemaRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[schema] {
		return false
	}
	s.inFlight[schema] = true
	return true
}

func (s *PulseScheduler) release(schema tenant.SchemaRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, schema)
}

func (s *PulseScheduler) notify(ctx context.Context, report app.SweepReport) {
	if s.alerts == nil {
		return
	}
	s.alerts.NotifySweepFailures(ctx, report)
}

// cronLogger adapts logrus to cron.Logger for the Recover job wrapper.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithError(err).WithFields(kvFields(keysAndValues)).Error(msg)
}

func kvFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
