package httpapi

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"pulse_tracker/internal/app"
	"pulse_tracker/internal/domain/pulse"
	idb "pulse_tracker/internal/infra/database"
)

const dateLayout = "2006-01-02"

type errorResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

func jsonOK(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true, "data": data})
}

func jsonCreated(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": data})
}

// handleError maps domain errors onto HTTP statuses.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var (
		fe *fiber.Error
		ve validator.ValidationErrors
	)
	status := fiber.StatusInternalServerError
	resp := errorResponse{Message: err.Error()}

	switch {
	case errors.As(err, &fe):
		status = fe.Code
		resp.Message = fe.Message
	case errors.As(err, &ve):
		status = fiber.StatusUnprocessableEntity
		resp.Message = "validation failed"
		resp.Errors = make(map[string][]string, len(ve))
		for _, fieldErr := range ve {
			resp.Errors[fieldErr.Field()] = append(resp.Errors[fieldErr.Field()], fieldErr.Tag())
		}
	case errors.Is(err, idb.ErrTenantNotFound), errors.Is(err, idb.ErrTenantSchemaNotFound):
		status = fiber.StatusNotFound
		resp.Message = "unknown tenant"
	case errors.Is(err, idb.ErrPulseNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, app.ErrInvalidCollection):
		status = fiber.StatusUnprocessableEntity
	case errors.Is(err, app.ErrInvalidRange):
		status = fiber.StatusBadRequest
	case errors.Is(err, app.ErrSweepUnavailable):
		status = fiber.StatusServiceUnavailable
	}

	if status >= fiber.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.OriginalURL()).Error("HTTP request failed")
		resp.Message = "internal error"
	}
	return c.Status(status).JSON(resp)
}

type pulseView struct {
	ID                  int64      `json:"id"`
	SocietyID           int64      `json:"society_id"`
	PulseDate           string     `json:"pulse_date"`
	Status              string     `json:"status"`
	FirstCollectionTime *time.Time `json:"first_collection_time"`
	LastCollectionTime  *time.Time `json:"last_collection_time"`
	SectionEndTime      *time.Time `json:"section_end_time"`
	LastChecked         *time.Time `json:"last_checked"`
	TotalCollections    int        `json:"total_collections"`
	InactiveDays        int        `json:"inactive_days"`
}

func toPulseView(p *pulse.Pulse) pulseView {
	return pulseView{
		ID:                  p.ID,
		SocietyID:           p.SocietyID,
		PulseDate:           p.PulseDate.Format(dateLayout),
		Status:              string(p.Status),
		FirstCollectionTime: timePtr(p.FirstCollectionTime.Time, p.FirstCollectionTime.Valid),
		LastCollectionTime:  timePtr(p.LastCollectionTime.Time, p.LastCollectionTime.Valid),
		SectionEndTime:      timePtr(p.SectionEndTime.Time, p.SectionEndTime.Valid),
		LastChecked:         timePtr(p.LastChecked.Time, p.LastChecked.Valid),
		TotalCollections:    p.TotalCollections,
		InactiveDays:        p.InactiveDays,
	}
}

func toPulseViews(pulses []*pulse.Pulse) []pulseView {
	out := make([]pulseView, 0, len(pulses))
	for _, p := range pulses {
		out = append(out, toPulseView(p))
	}
	return out
}

func timePtr(t time.Time, valid bool) *time.Time {
	if !valid {
		return nil
	}
	return &t
}

type summaryView struct {
	Date             string         `json:"date"`
	Societies        int            `json:"societies"`
	ByStatus         map[string]int `json:"by_status"`
	TotalCollections int            `json:"total_collections"`
}

func toSummaryView(s app.DaySummary) summaryView {
	byStatus := make(map[string]int, len(s.ByStatus))
	for st, n := range s.ByStatus {
		byStatus[string(st)] = n
	}
	return summaryView{
		Date:             s.Date.Format(dateLayout),
		Societies:        s.Societies,
		ByStatus:         byStatus,
		TotalCollections: s.TotalCollections,
	}
}

type tenantOutcomeView struct {
	Tenant     string `json:"tenant"`
	Skipped    bool   `json:"skipped,omitempty"`
	Error      string `json:"error,omitempty"`
	Changed    int    `json:"changed"`
	DurationMS int64  `json:"duration_ms"`
}

type sweepView struct {
	RunID    string              `json:"run_id"`
	AsOf     time.Time           `json:"as_of"`
	OK       int                 `json:"ok"`
	Failed   int                 `json:"failed"`
	Skipped  int                 `json:"skipped"`
	Error    string              `json:"error,omitempty"`
	Outcomes []tenantOutcomeView `json:"outcomes"`
}

func toSweepView(r app.SweepReport) sweepView {
	ok, failed, skipped := r.Counts()
	v := sweepView{
		RunID:    r.RunID,
		AsOf:     r.AsOf,
		OK:       ok,
		Failed:   failed,
		Skipped:  skipped,
		Outcomes: make([]tenantOutcomeView, 0, len(r.Outcomes)),
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	for _, o := range r.Outcomes {
		ov := tenantOutcomeView{
			Tenant:     string(o.Tenant),
			Skipped:    o.Skipped,
			Changed:    o.Report.Changed(),
			DurationMS: o.Duration.Milliseconds(),
		}
		if o.Err != nil {
			ov.Error = o.Err.Error()
		}
		v.Outcomes = append(v.Outcomes, ov)
	}
	return v
}
