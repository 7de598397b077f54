package telegram

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"

	"pulse_tracker/internal/app"
	"pulse_tracker/internal/domain/pulse"
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeClient struct {
	sent []sentMessage
	err  error
}

func (f *fakeClient) SendMessage(chatID int64, text string, _ *telebot.SendOptions) error {
	f.sent = append(f.sent, sentMessage{chatID, text})
	return f.err
}

func TestParsePulseArgs(t *testing.T) {
	schema, id, date, err := parsePulseArgs([]string{"dairy_a", "12"})
	require.NoError(t, err)
	assert.Equal(t, "dairy_a", schema)
	assert.Equal(t, int64(12), id)
	assert.True(t, date.IsZero())

	_, _, date, err = parsePulseArgs([]string{"dairy_a", "12", "2025-06-01"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), date)

	for _, args := range [][]string{{}, {"dairy_a"}, {"dairy_a", "x"}, {"dairy_a", "-3"}, {"dairy_a", "1", "yesterday"}, {"a", "1", "2025-06-01", "extra"}} {
		_, _, _, err := parsePulseArgs(args)
		assert.ErrorIs(t, err, errUsage, args)
	}
}

func TestParsePulsesArgs(t *testing.T) {
	schema, date, err := parsePulsesArgs([]string{"dairy_a"})
	require.NoError(t, err)
	assert.Equal(t, "dairy_a", schema)
	assert.True(t, date.IsZero())

	_, date, err = parsePulsesArgs([]string{"dairy_a", "2025-06-01"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), date)

	_, _, err = parsePulsesArgs([]string{"dairy_a", "06/01"})
	assert.ErrorIs(t, err, errUsage)
	_, _, err = parsePulsesArgs(nil)
	assert.ErrorIs(t, err, errUsage)
}

func TestFormatPulse(t *testing.T) {
	at := func(h, m int) sql.NullTime {
		return sql.NullTime{Time: time.Date(2025, time.June, 2, h, m, 0, 0, time.UTC), Valid: true}
	}
	text := formatPulse("dairy_a", &pulse.Pulse{
		SocietyID:           42,
		PulseDate:           time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC),
		Status:              pulse.StatusEnded,
		FirstCollectionTime: at(9, 0),
		LastCollectionTime:  at(9, 12),
		SectionEndTime:      at(10, 12),
		TotalCollections:    2,
	})
	assert.Equal(t, "Society 42 (dairy_a) on 2025-06-02\nStatus: ended\nCollections: 2\nFirst: 09:00, last: 09:12\nSection ended: 10:12", text)

	text = formatPulse("dairy_a", &pulse.Pulse{SocietyID: 3, Status: pulse.StatusInactive, InactiveDays: 4})
	assert.Contains(t, text, "Inactive for 4 day(s)")
}

func TestFormatSummary(t *testing.T) {
	text := formatSummary("dairy_a", app.DaySummary{
		Date:             time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC),
		Societies:        3,
		TotalCollections: 7,
		ByStatus:         map[pulse.Status]int{pulse.StatusActive: 1, pulse.StatusInactive: 2},
	})
	assert.Equal(t, "--- dairy_a on 2025-06-02 ---\nSocieties: 3, collections: 7\nactive: 1\npaused: 0\nended: 0\ninactive: 2", text)
}

func TestAdminAlerter(t *testing.T) {
	client := &fakeClient{}
	logger, hook := logtest.NewNullLogger()
	alerter := NewAdminAlerter(client, 99, logrus.NewEntry(logger))

	alerter.NotifySweepFailures(context.Background(), app.SweepReport{
		RunID:    "r1",
		Outcomes: []app.TenantOutcome{{Tenant: "ok_one"}},
	})
	assert.Empty(t, client.sent, "nothing to report")

	alerter.NotifySweepFailures(context.Background(), app.SweepReport{
		RunID: "r2",
		Outcomes: []app.TenantOutcome{
			{Tenant: "ok_one"},
			{Tenant: "dairy_b", Err: errors.New("schema missing")},
		},
	})
	require.Len(t, client.sent, 1)
	assert.Equal(t, int64(99), client.sent[0].chatID)
	assert.Contains(t, client.sent[0].text, "dairy_b: schema missing")
	assert.NotContains(t, client.sent[0].text, "ok_one")

	client.err = errors.New("chat not found")
	alerter.NotifySweepFailures(context.Background(), app.SweepReport{RunID: "r3", Err: errors.New("registry down")})
	require.Len(t, client.sent, 2)
	assert.Contains(t, client.sent[1].text, "could not list tenants")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestFormatSweep(t *testing.T) {
	text := formatSweep(app.SweepReport{
		RunID: "r9",
		AsOf:  time.Date(2025, time.June, 2, 10, 0, 0, 0, time.UTC),
		Outcomes: []app.TenantOutcome{
			{Tenant: "a", Report: app.ReconcileReport{Paused: 2, Ended: 1}},
			{Tenant: "b", Skipped: true},
			{Tenant: "c"},
		},
	})
	assert.Equal(t, "Sweep r9 as of 2025-06-02T10:00:00Z\nTenants ok: 2, failed: 0, skipped: 1\na: 3 changed, 0 row failures\nb: skipped, still running", text)
}
