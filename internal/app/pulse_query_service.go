// internal/app/pulse_query_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"

	"pulse_tracker/internal/domain/pulse"
	"pulse_tracker/internal/domain/tenant"
	idb "pulse_tracker/internal/infra/database"
)

// MaxHistoryDays bounds SocietyHistory ranges.
const MaxHistoryDays = 366

var ErrInvalidRange = fmt.Errorf("invalid date range")

// DaySummary aggregates one tenant's pulses for a day.
type DaySummary struct {
	Date             time.Time
	Societies        int
	ByStatus         map[pulse.Status]int
	TotalCollections int
}

// PulseQueryService is the read surface used by the dashboard API and the admin bot.
type PulseQueryService struct {
	directory tenant.Directory
	store     pulse.Store
	clock     quartz.Clock
}

func NewPulseQueryService(directory tenant.Directory, store pulse.Store, clock quartz.Clock) *PulseQueryService {
	return &PulseQueryService{directory: directory, store: store, clock: clock}
}

// ResolveTenant maps a schema handle from a request to an active tenant.
func (s *PulseQueryService) ResolveTenant(ctx context.Context, schema string) (tenant.Tenant, error) {
	return s.directory.Lookup(ctx, tenant.SchemaRef(schema))
}

// Today is the tenant's current calendar date.
func (s *PulseQueryService) Today(t tenant.Tenant) time.Time {
	return pulse.DateOf(s.clock.Now(), t.Loc())
}

// SocietyPulse returns the pulse of one society on date; ErrPulseNotFound if
// the society has no row for that day yet.
func (s *PulseQueryService) SocietyPulse(ctx context.Context, t tenant.Tenant, societyID int64, date time.Time) (*pulse.Pulse, error) {
	p, err := s.store.Get(ctx, t.Schema, societyID, date)
	if err != nil {
		if errors.Is(err, idb.ErrPulseNotFound) {
			return nil, idb.ErrPulseNotFound
		}
		return nil, fmt.Errorf("failed to get pulse for society %d: %w", societyID, err)
	}
	return p, nil
}

func (s *PulseQueryService) DayPulses(ctx context.Context, t tenant.Tenant, date time.Time) ([]*pulse.Pulse, error) {
	pulses, err := s.store.ListByDate(ctx, t.Schema, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list pulses for %s: %w", date.Format("2006-01-02"), err)
	}
	return pulses, nil
}

func (s *PulseQueryService) SocietyHistory(ctx context.Context, t tenant.Tenant, societyID int64, from, to time.Time) ([]*pulse.Pulse, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: %s is before %s", ErrInvalidRange, to.Format("2006-01-02"), from.Format("2006-01-02"))
	}
	if to.Sub(from) > MaxHistoryDays*24*time.Hour {
		return nil, fmt.Errorf("%w: more than %d days", ErrInvalidRange, MaxHistoryDays)
	}
	pulses, err := s.store.ListBySocietyRange(ctx, t.Schema, societyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list pulse history for society %d: %w", societyID, err)
	}
	return pulses, nil
}

func (s *PulseQueryService) DaySummary(ctx context.Context, t tenant.Tenant, date time.Time) (DaySummary, error) {
	pulses, err := s.DayPulses(ctx, t, date)
	if err != nil {
		return DaySummary{}, err
	}
	summary := DaySummary{
		Date:      date,
		Societies: len(pulses),
		ByStatus: map[pulse.Status]int{
			pulse.StatusActive:   0,
			pulse.StatusPaused:   0,
			pulse.StatusEnded:    0,
			pulse.StatusInactive: 0,
		},
	}
	for _, p := range pulses {
		summary.ByStatus[p.Status]++
		summary.TotalCollections += p.TotalCollections
	}
	return summary, nil
}
