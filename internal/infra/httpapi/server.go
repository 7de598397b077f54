// Package httpapi serves the read API, the HTTP collection feed and the
// manual sweep trigger.
package httpapi

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"pulse_tracker/internal/app"
	"pulse_tracker/internal/domain/pulse"
	"pulse_tracker/internal/domain/tenant"
)

// CollectionRecorder is the write path behind POST .../collections.
type CollectionRecorder interface {
	RecordCollection(ctx context.Context, t tenant.Tenant, societyID int64, eventTime time.Time) (*pulse.Pulse, error)
}

// Deps are the services the API exposes. Sweeper, Gatherer and Ping may be nil.
type Deps struct {
	Queries  *app.PulseQueryService
	Writer   CollectionRecorder
	Sweeper  app.SweepTrigger
	Gatherer prometheus.Gatherer
	Ping     func(ctx context.Context) error
}

type Server struct {
	app      *fiber.App
	deps     Deps
	validate *validator.Validate
	logger   *logrus.Entry
}

func NewServer(deps Deps, logger *logrus.Entry) *Server {
	s := &Server{
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.WithField("component", "http_api"),
	}
	// report json names in validation errors
	s.validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})
	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(s.logRequests)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", s.health)
	if s.deps.Gatherer != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := s.app.Group("/api/v1")
	tenants := api.Group("/tenants/:schema")
	tenants.Get("/pulses", s.dayPulses)
	tenants.Get("/pulses/summary", s.daySummary)
	tenants.Get("/societies/:societyID/pulses", s.societyHistory)
	tenants.Post("/collections", s.recordCollection)
	api.Post("/sweeps", s.triggerSweep)
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen blocks serving addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.WithField("addr", addr).Info("HTTP API listening")
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
	}
	s.logger.WithFields(logrus.Fields{
		"request_id": c.Locals(requestid.ConfigDefault.ContextKey),
		"method":     c.Method(),
		"path":       c.OriginalURL(),
		"status":     status,
		"duration":   time.Since(start),
	}).Debug("HTTP request")
	return err
}
