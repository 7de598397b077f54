package telegram

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pulse_tracker/internal/app"
	"pulse_tracker/internal/domain/pulse"
)

const dateLayout = "2006-01-02"

var errUsage = fmt.Errorf("invalid command arguments")

// parseDateArg reads an optional YYYY-MM-DD argument; empty means zero (today).
func parseDateArg(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", errUsage)
	}
	return d, nil
}

// parsePulseArgs parses "/pulse <schema> <society_id> [date]".
func parsePulseArgs(args []string) (schema string, societyID int64, date time.Time, err error) {
	if len(args) < 2 || len(args) > 3 {
		return "", 0, time.Time{}, errUsage
	}
	societyID, err = strconv.ParseInt(args[1], 10, 64)
	if err != nil || societyID <= 0 {
		return "", 0, time.Time{}, fmt.Errorf("%w: society id must be a positive number", errUsage)
	}
	if len(args) == 3 {
		if date, err = parseDateArg(args[2]); err != nil {
			return "", 0, time.Time{}, err
		}
	}
	return args[0], societyID, date, nil
}

// parsePulsesArgs parses "/pulses <schema> [date]".
func parsePulsesArgs(args []string) (schema string, date time.Time, err error) {
	if len(args) < 1 || len(args) > 2 {
		return "", time.Time{}, errUsage
	}
	if len(args) == 2 {
		if date, err = parseDateArg(args[1]); err != nil {
			return "", time.Time{}, err
		}
	}
	return args[0], date, nil
}

func formatClock(t sql.NullTime) string {
	if !t.Valid {
		return "-"
	}
	return t.Time.Format("15:04")
}

func formatPulse(schema string, p *pulse.Pulse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Society %d (%s) on %s\n", p.SocietyID, schema, p.PulseDate.Format(dateLayout))
	fmt.Fprintf(&b, "Status: %s\n", p.Status)
	if p.Status == pulse.StatusInactive {
		fmt.Fprintf(&b, "Inactive for %d day(s)\n", p.InactiveDays)
	} else {
		fmt.Fprintf(&b, "Collections: %d\n", p.TotalCollections)
		fmt.Fprintf(&b, "First: %s, last: %s\n", formatClock(p.FirstCollectionTime), formatClock(p.LastCollectionTime))
	}
	if p.SectionEndTime.Valid {
		fmt.Fprintf(&b, "Section ended: %s\n", formatClock(p.SectionEndTime))
	}
	if p.LastChecked.Valid {
		fmt.Fprintf(&b, "Last checked: %s", p.LastChecked.Time.Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSummary(schema string, s app.DaySummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s on %s ---\n", schema, s.Date.Format(dateLayout))
	if s.Societies == 0 {
		b.WriteString("No section pulses yet.")
		return b.String()
	}
	fmt.Fprintf(&b, "Societies: %d, collections: %d\n", s.Societies, s.TotalCollections)
	for _, st := range []pulse.Status{pulse.StatusActive, pulse.StatusPaused, pulse.StatusEnded, pulse.StatusInactive} {
		fmt.Fprintf(&b, "%s: %d\n", st, s.ByStatus[st])
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSweep(r app.SweepReport) string {
	if r.Err != nil {
		return fmt.Sprintf("Sweep %s failed before reconciling any tenant: %v", r.RunID, r.Err)
	}
	ok, failed, skipped := r.Counts()
	var b strings.Builder
	fmt.Fprintf(&b, "Sweep %s as of %s\n", r.RunID, r.AsOf.Format(time.RFC3339))
	fmt.Fprintf(&b, "Tenants ok: %d, failed: %d, skipped: %d", ok, failed, skipped)
	for _, o := range r.Outcomes {
		switch {
		case o.Err != nil:
			fmt.Fprintf(&b, "\n%s: FAILED %v", o.Tenant, o.Err)
		case o.Skipped:
			fmt.Fprintf(&b, "\n%s: skipped, still running", o.Tenant)
		case o.Report.Changed() > 0 || o.Report.RowFailures > 0:
			fmt.Fprintf(&b, "\n%s: %d changed, %d row failures", o.Tenant, o.Report.Changed(), o.Report.RowFailures)
		}
	}
	return b.String()
}
