package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse_tracker/internal/app"
	"pulse_tracker/internal/domain/pulse"
	"pulse_tracker/internal/domain/tenant"
	idb "pulse_tracker/internal/infra/database"
)

const adminID = int64(777)

type fakeSweeper struct {
	calls int
}

func (f *fakeSweeper) RunOnce(ctx context.Context) app.SweepReport {
	f.calls++
	return app.SweepReport{RunID: "run-1", Outcomes: []app.TenantOutcome{{Tenant: testTenant.Schema}}}
}

func newQueryHarness(t *testing.T) (*harness, *app.PulseQueryService, *quartz.Mock) {
	t.Helper()
	h := newHarness(t)
	clock := quartz.NewMock(t)
	clock.Set(clockAt(10, 0))
	return h, app.NewPulseQueryService(h.dir, h.store, clock), clock
}

func TestPulseQueryService_DaySummary(t *testing.T) {
	h, queries, _ := newQueryHarness(t)
	h.record(t, 1, clockAt(9, 30))
	h.record(t, 1, clockAt(9, 34))
	h.record(t, 2, clockAt(9, 58))
	h.dir.SetSocieties(testTenant.Schema, 1, 2, 3)
	h.reconcile(t, clockAt(10, 0))

	summary, err := queries.DaySummary(context.Background(), testTenant, dayD)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Societies)
	assert.Equal(t, 3, summary.TotalCollections)
	assert.Equal(t, map[pulse.Status]int{
		pulse.StatusActive:   1,
		pulse.StatusPaused:   1,
		pulse.StatusEnded:    0,
		pulse.StatusInactive: 1,
	}, summary.ByStatus)
}

func TestPulseQueryService_TodayFollowsTenantZone(t *testing.T) {
	_, queries, clock := newQueryHarness(t)
	clock.Set(time.Date(2025, time.June, 1, 22, 0, 0, 0, time.UTC))

	tokyo := tenant.Tenant{Schema: "east", Location: time.FixedZone("JST", 9*3600)}
	assert.Equal(t, dayD, queries.Today(tokyo))
	assert.Equal(t, dayD.AddDate(0, 0, -1), queries.Today(testTenant))
}

func TestPulseQueryService_SocietyHistory(t *testing.T) {
	h, queries, _ := newQueryHarness(t)
	for i := 0; i < 3; i++ {
		h.record(t, 9, clockAt(7, 0).AddDate(0, 0, -i))
	}
	h.record(t, 10, clockAt(7, 0))

	history, err := queries.SocietyHistory(context.Background(), testTenant, 9, dayD.AddDate(0, 0, -1), dayD)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, dayD.AddDate(0, 0, -1), history[0].PulseDate)
	assert.Equal(t, dayD, history[1].PulseDate)

	_, err = queries.SocietyHistory(context.Background(), testTenant, 9, dayD, dayD.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, app.ErrInvalidRange)

	_, err = queries.SocietyHistory(context.Background(), testTenant, 9, dayD.AddDate(-2, 0, 0), dayD)
	assert.ErrorIs(t, err, app.ErrInvalidRange)
}

func TestAdminService_RequiresAdmin(t *testing.T) {
	_, queries, _ := newQueryHarness(t)
	svc := app.NewAdminService(queries, &fakeSweeper{}, adminID)

	_, err := svc.SocietyPulse(context.Background(), 1, string(testTenant.Schema), 1, time.Time{})
	assert.ErrorIs(t, err, app.ErrAdminNotAuthorized)
	_, err = svc.DaySummary(context.Background(), 1, string(testTenant.Schema), time.Time{})
	assert.ErrorIs(t, err, app.ErrAdminNotAuthorized)
	_, err = svc.TriggerSweep(context.Background(), 1)
	assert.ErrorIs(t, err, app.ErrAdminNotAuthorized)
}

func TestAdminService_SocietyPulseDefaultsToToday(t *testing.T) {
	h, queries, _ := newQueryHarness(t)
	h.record(t, 5, clockAt(9, 45))
	svc := app.NewAdminService(queries, nil, adminID)

	p, err := svc.SocietyPulse(context.Background(), adminID, string(testTenant.Schema), 5, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, dayD, p.PulseDate)
	assert.Equal(t, pulse.StatusActive, p.Status)

	_, err = svc.SocietyPulse(context.Background(), adminID, string(testTenant.Schema), 6, time.Time{})
	assert.ErrorIs(t, err, idb.ErrPulseNotFound)

	_, err = svc.SocietyPulse(context.Background(), adminID, "nobody", 5, time.Time{})
	assert.ErrorIs(t, err, app.ErrUnknownTenant)
}

func TestAdminService_TriggerSweep(t *testing.T) {
	_, queries, _ := newQueryHarness(t)

	_, err := app.NewAdminService(queries, nil, adminID).TriggerSweep(context.Background(), adminID)
	assert.ErrorIs(t, err, app.ErrSweepUnavailable)

	sweeper := &fakeSweeper{}
	report, err := app.NewAdminService(queries, sweeper, adminID).TriggerSweep(context.Background(), adminID)
	require.NoError(t, err)
	assert.Equal(t, 1, sweeper.calls)
	ok, failed, skipped := report.Counts()
	assert.Equal(t, []int{1, 0, 0}, []int{ok, failed, skipped})
}
