package httpapi

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"pulse_tracker/internal/app"
	"pulse_tracker/internal/domain/tenant"
)

type collectionRequest struct {
	SocietyID   int64     `json:"society_id" validate:"required,gt=0"`
	CollectedAt time.Time `json:"collected_at" validate:"required"`
}

func (s *Server) health(c *fiber.Ctx) error {
	if s.deps.Ping != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ping(ctx); err != nil {
			s.logger.WithError(err).Warn("Health check failed")
			return fiber.NewError(fiber.StatusServiceUnavailable, "database unavailable")
		}
	}
	return c.SendString("ok")
}

func (s *Server) tenant(c *fiber.Ctx) (tenant.Tenant, error) {
	return s.deps.Queries.ResolveTenant(c.UserContext(), c.Params("schema"))
}

// dateParam reads a YYYY-MM-DD query parameter; absent means fallback.
func dateParam(c *fiber.Ctx, name string, fallback time.Time) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("%s must be YYYY-MM-DD", name))
	}
	return d, nil
}

func (s *Server) dayPulses(c *fiber.Ctx) error {
	t, err := s.tenant(c)
	if err != nil {
		return err
	}
	date, err := dateParam(c, "date", s.deps.Queries.Today(t))
	if err != nil {
		return err
	}
	pulses, err := s.deps.Queries.DayPulses(c.UserContext(), t, date)
	if err != nil {
		return err
	}
	return jsonOK(c, toPulseViews(pulses))
}

func (s *Server) daySummary(c *fiber.Ctx) error {
	t, err := s.tenant(c)
	if err != nil {
		return err
	}
	date, err := dateParam(c, "date", s.deps.Queries.Today(t))
	if err != nil {
		return err
	}
	summary, err := s.deps.Queries.DaySummary(c.UserContext(), t, date)
	if err != nil {
		return err
	}
	return jsonOK(c, toSummaryView(summary))
}

func (s *Server) societyHistory(c *fiber.Ctx) error {
	t, err := s.tenant(c)
	if err != nil {
		return err
	}
	societyID, err := c.ParamsInt("societyID")
	if err != nil || societyID <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "societyID must be a positive integer")
	}
	today := s.deps.Queries.Today(t)
	to, err := dateParam(c, "to", today)
	if err != nil {
		return err
	}
	from, err := dateParam(c, "from", to.AddDate(0, 0, -6))
	if err != nil {
		return err
	}
	pulses, err := s.deps.Queries.SocietyHistory(c.UserContext(), t, int64(societyID), from, to)
	if err != nil {
		return err
	}
	return jsonOK(c, toPulseViews(pulses))
}

func (s *Server) recordCollection(c *fiber.Ctx) error {
	t, err := s.tenant(c)
	if err != nil {
		return err
	}
	var req collectionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}
	if err := s.validate.Struct(req); err != nil {
		return err
	}
	p, err := s.deps.Writer.RecordCollection(c.UserContext(), t, req.SocietyID, req.CollectedAt)
	if err != nil {
		return err
	}
	return jsonCreated(c, toPulseView(p))
}

func (s *Server) triggerSweep(c *fiber.Ctx) error {
	if s.deps.Sweeper == nil {
		return app.ErrSweepUnavailable
	}
	report := s.deps.Sweeper.RunOnce(c.UserContext())
	return jsonOK(c, toSweepView(report))
}
