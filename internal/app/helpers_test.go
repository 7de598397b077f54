package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"pulse_tracker/internal/app"
	"pulse_tracker/internal/domain/pulse"
	"pulse_tracker/internal/domain/tenant"
	"pulse_tracker/internal/infra/database/dbfake"
)

var testTenant = tenant.Tenant{Schema: "dairy_north", Location: time.UTC}

// day D used by the scenarios.
var dayD = time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)

func clockAt(h, m int) time.Time {
	return time.Date(2025, time.June, 2, h, m, 0, 0, time.UTC)
}

type harness struct {
	store      *dbfake.Store
	dir        *dbfake.Directory
	writer     *app.PulseWriter
	reconciler *app.PulseReconciler
	logs       *logtest.Hook
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	entry := logrus.NewEntry(logger)

	store := dbfake.NewStore(nil)
	dir := dbfake.NewDirectory(testTenant)
	return &harness{
		store:      store,
		dir:        dir,
		writer:     app.NewPulseWriter(store, entry, nil),
		reconciler: app.NewPulseReconciler(store, dir, entry, nil),
		logs:       hook,
	}
}

func (h *harness) record(t *testing.T, societyID int64, at time.Time) *pulse.Pulse {
	t.Helper()
	p, err := h.writer.RecordCollection(context.Background(), testTenant, societyID, at)
	require.NoError(t, err)
	return p
}

func (h *harness) reconcile(t *testing.T, asOf time.Time) app.ReconcileReport {
	t.Helper()
	report, err := h.reconciler.Reconcile(context.Background(), testTenant, asOf)
	require.NoError(t, err)
	return report
}

func (h *harness) row(t *testing.T, societyID int64, date time.Time) *pulse.Pulse {
	t.Helper()
	p, err := h.store.Get(context.Background(), testTenant.Schema, societyID, date)
	require.NoError(t, err)
	return p
}

func assertInvariants(t *testing.T, rows []*pulse.Pulse) {
	t.Helper()
	for _, p := range rows {
		require.Emptyf(t, pulse.Violations(p), "society %d on %s: %+v", p.SocietyID, p.PulseDate.Format("2006-01-02"), p)
	}
}
