package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pulse_tracker/internal/app"
	"pulse_tracker/internal/domain/tenant"
	"pulse_tracker/internal/infra/database/dbfake"
	"pulse_tracker/internal/infra/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var sweepTime = time.Date(2025, time.June, 2, 9, 30, 0, 0, time.UTC)

type fakeReconciler struct {
	mu          sync.Mutex
	calls       map[tenant.SchemaRef][]time.Time
	errs        map[tenant.SchemaRef]error
	hadDeadline map[tenant.SchemaRef]bool
	panicOn     tenant.SchemaRef

	blockOn tenant.SchemaRef
	started chan struct{}
	release chan struct{}
}

func newFakeReconciler() *fakeReconciler {
	return &fakeReconciler{
		calls:       make(map[tenant.SchemaRef][]time.Time),
		errs:        make(map[tenant.SchemaRef]error),
		hadDeadline: make(map[tenant.SchemaRef]bool),
	}
}

func (f *fakeReconciler) Reconcile(ctx context.Context, t tenant.Tenant, asOf time.Time) (app.ReconcileReport, error) {
	f.mu.Lock()
	f.calls[t.Schema] = append(f.calls[t.Schema], asOf)
	_, f.hadDeadline[t.Schema] = ctx.Deadline()
	err := f.errs[t.Schema]
	block := f.blockOn == t.Schema
	f.mu.Unlock()

	if t.Schema == f.panicOn {
		panic("boom")
	}
	if block {
		close(f.started)
		<-f.release
	}
	return app.ReconcileReport{Tenant: t.Schema, AsOf: asOf, Paused: 1}, err
}

func (f *fakeReconciler) callsFor(schema tenant.SchemaRef) []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.calls[schema]...)
}

type fakeLocker struct {
	mu       sync.Mutex
	heldElse map[tenant.SchemaRef]bool // locked by another process
	errs     map[tenant.SchemaRef]error
	unlocked []tenant.SchemaRef
}

func (l *fakeLocker) TryLock(ctx context.Context, schema tenant.SchemaRef) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.errs[schema]; err != nil {
		return nil, false, err
	}
	if l.heldElse[schema] {
		return nil, false, nil
	}
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.unlocked = append(l.unlocked, schema)
	}, true, nil
}

type recordingAlerts struct {
	mu      sync.Mutex
	reports []app.SweepReport
}

func (r *recordingAlerts) NotifySweepFailures(ctx context.Context, report app.SweepReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func newTestScheduler(t *testing.T, dir tenant.Directory, rec TenantReconciler) (*PulseScheduler, *prometheus.Registry) {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(sweepTime)
	reg := prometheus.NewRegistry()
	m, err := metrics.NewMetrics(reg)
	require.NoError(t, err)
	logger, _ := logtest.NewNullLogger()
	return NewPulseScheduler(dir, rec, clock, logrus.NewEntry(logger), m, "@every 1m", 2, time.UTC), reg
}

func tenants(schemas ...tenant.SchemaRef) []tenant.Tenant {
	out := make([]tenant.Tenant, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, tenant.Tenant{Schema: s, Location: time.UTC})
	}
	return out
}

func TestRunOnce_ReconcilesEveryTenantAtSameInstant(t *testing.T) {
	rec := newFakeReconciler()
	s, _ := newTestScheduler(t, dbfake.NewDirectory(tenants("a", "b", "c")...), rec)

	report := s.RunOnce(context.Background())
	require.NoError(t, report.Err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, sweepTime, report.AsOf)

	ok, failed, skipped := report.Counts()
	assert.Equal(t, 3, ok)
	assert.Zero(t, failed)
	assert.Zero(t, skipped)
	for _, schema := range []tenant.SchemaRef{"a", "b", "c"} {
		assert.Equal(t, []time.Time{sweepTime}, rec.callsFor(schema))
	}
}

func TestRunOnce_TenantFailuresAreIsolated(t *testing.T) {
	rec := newFakeReconciler()
	rec.errs["b"] = errors.New("schema gone")
	rec.panicOn = "c"
	s, reg := newTestScheduler(t, dbfake.NewDirectory(tenants("a", "b", "c", "d")...), rec)
	alerts := &recordingAlerts{}
	s.SetAlertNotifier(alerts)

	report := s.RunOnce(context.Background())
	require.Len(t, report.Outcomes, 4)
	assert.NoError(t, report.Outcomes[0].Err)
	assert.ErrorContains(t, report.Outcomes[1].Err, "schema gone")
	assert.ErrorContains(t, report.Outcomes[2].Err, "panicked")
	assert.NoError(t, report.Outcomes[3].Err)
	assert.Equal(t, 1, report.Outcomes[3].Report.Paused)

	require.Len(t, alerts.reports, 1)
	assert.Equal(t, report.RunID, alerts.reports[0].RunID)

	expected := `
# HELP pulse_tenant_reconciles_total Per-tenant reconcile runs started by the scheduler, by result.
# TYPE pulse_tenant_reconciles_total counter
pulse_tenant_reconciles_total{result="failed"} 2
pulse_tenant_reconciles_total{result="ok"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "pulse_tenant_reconciles_total"))
}

func TestRunOnce_DiscoveryFailure(t *testing.T) {
	dir := dbfake.NewDirectory(tenants("a")...)
	dir.SetListError(errors.New("registry unreachable"))
	rec := newFakeReconciler()
	s, _ := newTestScheduler(t, dir, rec)
	alerts := &recordingAlerts{}
	s.SetAlertNotifier(alerts)

	report := s.RunOnce(context.Background())
	assert.ErrorContains(t, report.Err, "registry unreachable")
	assert.Empty(t, report.Outcomes)
	assert.Empty(t, rec.callsFor("a"))
	assert.Len(t, alerts.reports, 1)
}

func TestRunOnce_SkipsTenantStillRunning(t *testing.T) {
	rec := newFakeReconciler()
	rec.blockOn = "slow"
	rec.started = make(chan struct{})
	rec.release = make(chan struct{})
	dir := dbfake.NewDirectory(tenants("slow")...)
	s, reg := newTestScheduler(t, dir, rec)

	first := make(chan app.SweepReport, 1)
	go func() { first <- s.RunOnce(context.Background()) }()
	<-rec.started

	dir.AddTenant(tenant.Tenant{Schema: "fast", Location: time.UTC})
	second := s.RunOnce(context.Background())
	ok, failed, skipped := second.Counts()
	assert.Equal(t, 1, ok, "other tenants still run")
	assert.Zero(t, failed)
	assert.Equal(t, 1, skipped)
	for _, o := range second.Outcomes {
		if o.Tenant == "slow" {
			assert.True(t, o.Skipped)
		}
	}

	close(rec.release)
	report := <-first
	ok, _, _ = report.Counts()
	assert.Equal(t, 1, ok)
	assert.Len(t, rec.callsFor("slow"), 1)

	// the guard is released once the run returns
	rec.mu.Lock()
	rec.blockOn = ""
	rec.mu.Unlock()
	third := s.RunOnce(context.Background())
	ok, _, skipped = third.Counts()
	assert.Equal(t, 2, ok)
	assert.Zero(t, skipped)

	expected := `
# HELP pulse_tenant_reconciles_total Per-tenant reconcile runs started by the scheduler, by result.
# TYPE pulse_tenant_reconciles_total counter
pulse_tenant_reconciles_total{result="ok"} 4
pulse_tenant_reconciles_total{result="skipped"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "pulse_tenant_reconciles_total"))
}

func TestRunOnce_OverrunningTenantIsNotCancelled(t *testing.T) {
	rec := newFakeReconciler()
	s, _ := newTestScheduler(t, dbfake.NewDirectory(tenants("big")...), rec)

	report := s.RunOnce(context.Background())
	require.NoError(t, report.Outcomes[0].Err)
	rec.mu.Lock()
	assert.False(t, rec.hadDeadline["big"], "reconcile must run without a deadline")
	rec.mu.Unlock()

	s.SetTenantTimeout(time.Hour)
	s.RunOnce(context.Background())
	rec.mu.Lock()
	assert.True(t, rec.hadDeadline["big"], "an explicit bound still applies")
	rec.mu.Unlock()
}

func TestRunOnce_TenantLockedByAnotherProcess(t *testing.T) {
	rec := newFakeReconciler()
	s, reg := newTestScheduler(t, dbfake.NewDirectory(tenants("a", "b", "c")...), rec)
	locker := &fakeLocker{
		heldElse: map[tenant.SchemaRef]bool{"b": true},
		errs:     map[tenant.SchemaRef]error{"c": errors.New("connection refused")},
	}
	s.SetTenantLocker(locker)

	report := s.RunOnce(context.Background())
	require.Len(t, report.Outcomes, 3)
	assert.NoError(t, report.Outcomes[0].Err)
	assert.True(t, report.Outcomes[1].Skipped)
	assert.ErrorContains(t, report.Outcomes[2].Err, "connection refused")

	assert.Len(t, rec.callsFor("a"), 1)
	assert.Empty(t, rec.callsFor("b"))
	assert.Empty(t, rec.callsFor("c"))
	assert.Equal(t, []tenant.SchemaRef{"a"}, locker.unlocked)

	expected := `
# HELP pulse_tenant_reconciles_total Per-tenant reconcile runs started by the scheduler, by result.
# TYPE pulse_tenant_reconciles_total counter
pulse_tenant_reconciles_total{result="failed"} 1
pulse_tenant_reconciles_total{result="ok"} 1
pulse_tenant_reconciles_total{result="skipped"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "pulse_tenant_reconciles_total"))
}

func TestStartStop(t *testing.T) {
	s, _ := newTestScheduler(t, dbfake.NewDirectory(), newFakeReconciler())
	require.NoError(t, s.Start(context.Background()))
	s.Stop()

	bad, _ := newTestScheduler(t, dbfake.NewDirectory(), newFakeReconciler())
	bad.cronSpec = "not a cron spec"
	assert.Error(t, bad.Start(context.Background()))
}
