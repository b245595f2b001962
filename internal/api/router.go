package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

// Service is the scheduling surface exposed over HTTP. *scheduling.Service
// implements it.
type Service interface {
	Location() *time.Location
	GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, date scheduling.Date) ([]scheduling.Slot, error)
	ComputeAvailabilityCounts(ctx context.Context, doctorID uuid.UUID, from scheduling.Date, days int) ([]scheduling.DayCount, error)
	BookAppointment(ctx context.Context, req scheduling.BookingRequest) (*scheduling.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	ListAppointments(ctx context.Context, doctorID uuid.UUID, from, to scheduling.Date) ([]scheduling.Appointment, error)
	RescheduleAppointment(ctx context.Context, id uuid.UUID, date scheduling.Date, at scheduling.Clock) (*scheduling.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status scheduling.AppointmentStatus) (*scheduling.Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	CreateWeeklyAvailability(ctx context.Context, in scheduling.WeeklyAvailabilityInput) (*scheduling.WeeklyAvailability, []string, error)
	SetWeeklyAvailabilityActive(ctx context.Context, id uuid.UUID, active bool) (*scheduling.WeeklyAvailability, error)
	CreateException(ctx context.Context, in scheduling.ExceptionInput) (*scheduling.Exception, error)
	DeleteException(ctx context.Context, id uuid.UUID) error
}

type RouterConfig struct {
	Service        Service
	HealthChecks   []HealthCheck
	Env            string
	Version        string
	Logger         *zap.Logger
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	h := &handlers{
		svc:      cfg.Service,
		validate: validator.New(),
		logger:   logger,
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.HealthChecks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))

		r.Route("/doctors/{doctorID}", func(r chi.Router) {
			r.Get("/slots", h.getSlots)
			r.Get("/availability-counts", h.getAvailabilityCounts)
			r.Post("/weekly-availability", h.createWeeklyAvailability)
			r.Post("/exceptions", h.createException)
		})
		r.Patch("/weekly-availability/{id}", h.setWeeklyAvailabilityActive)
		r.Delete("/exceptions/{id}", h.deleteException)

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.bookAppointment)
			r.Get("/", h.listAppointments)
			r.Get("/{id}", h.getAppointment)
			r.Delete("/{id}", h.deleteAppointment)
			r.Post("/{id}/reschedule", h.rescheduleAppointment)
			r.Post("/{id}/status", h.updateAppointmentStatus)
		})
	})

	return r
}
