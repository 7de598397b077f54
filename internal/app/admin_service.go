package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pulse_tracker/internal/domain/pulse"
	"pulse_tracker/internal/domain/tenant"
	idb "pulse_tracker/internal/infra/database"
)

// Custom application-level errors for admin service
var ErrAdminNotAuthorized = fmt.Errorf("performing user is not authorized as an admin")
var ErrUnknownTenant = fmt.Errorf("unknown or inactive tenant")
var ErrSweepUnavailable = fmt.Errorf("manual sweep is not available")

// AdminService backs the operator commands of the admin bot.
type AdminService struct {
	queries         *PulseQueryService
	sweeper         SweepTrigger
	adminTelegramID int64
}

func NewAdminService(queries *PulseQueryService, sweeper SweepTrigger, adminID int64) *AdminService {
	return &AdminService{
		queries:         queries,
		sweeper:         sweeper,
		adminTelegramID: adminID,
	}
}

func (s *AdminService) authorize(performingAdminID int64) error {
	if performingAdminID != s.adminTelegramID {
		return ErrAdminNotAuthorized
	}
	return nil
}

func (s *AdminService) resolve(ctx context.Context, schema string) (tenant.Tenant, error) {
	t, err := s.queries.ResolveTenant(ctx, schema)
	if err != nil {
		if errors.Is(err, idb.ErrTenantNotFound) {
			return tenant.Tenant{}, ErrUnknownTenant
		}
		return tenant.Tenant{}, fmt.Errorf("failed to resolve tenant %q: %w", schema, err)
	}
	return t, nil
}

// SocietyPulse returns one society's pulse; a zero date means the tenant's today.
func (s *AdminService) SocietyPulse(ctx context.Context, performingAdminID int64, schema string, societyID int64, date time.Time) (*pulse.Pulse, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return nil, err
	}
	t, err := s.resolve(ctx, schema)
	if err != nil {
		return nil, err
	}
	if date.IsZero() {
		date = s.queries.Today(t)
	}
	return s.queries.SocietyPulse(ctx, t, societyID, date)
}

// DaySummary returns per-status counts for a tenant; a zero date means today.
func (s *AdminService) DaySummary(ctx context.Context, performingAdminID int64, schema string, date time.Time) (DaySummary, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return DaySummary{}, err
	}
	t, err := s.resolve(ctx, schema)
	if err != nil {
		return DaySummary{}, err
	}
	if date.IsZero() {
		date = s.queries.Today(t)
	}
	return s.queries.DaySummary(ctx, t, date)
}

// TriggerSweep runs a reconcile sweep over every tenant right away.
func (s *AdminService) TriggerSweep(ctx context.Context, performingAdminID int64) (SweepReport, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return SweepReport{}, err
	}
	if s.sweeper == nil {
		return SweepReport{}, ErrSweepUnavailable
	}
	return s.sweeper.RunOnce(ctx), nil
}
