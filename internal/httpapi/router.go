package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/amanthanvi/wardkeeper/internal/app"
	"github.com/amanthanvi/wardkeeper/internal/audit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readinessProbeTimeout = 2 * time.Second

// AuditLog is the read side of the audit trail exposed by the API.
type AuditLog interface {
	List(ctx context.Context, filter audit.Filter) ([]audit.RecordedEvent, error)
	Verify(ctx context.Context) (*audit.VerifyResult, error)
}

type Options struct {
	Services *app.Services
	Audit    AuditLog
	// Ready reports whether the backing store can serve requests.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
	Clock  clockwork.Clock
	// RateLimit is requests per second per client on the resource routes.
	// Zero disables limiting.
	RateLimit float64
	RateBurst int
}

// API holds the handlers. Its routes are built by NewRouter.
type API struct {
	svc    *app.Services
	audit  AuditLog
	ready  func(ctx context.Context) error
	logger *slog.Logger
	clock  clockwork.Clock
}

func newAPI(opts Options) *API {
	api := &API{
		svc:    opts.Services,
		audit:  opts.Audit,
		ready:  opts.Ready,
		logger: opts.Logger,
		clock:  opts.Clock,
	}
	if api.logger == nil {
		api.logger = slog.New(slog.DiscardHandler)
	}
	if api.clock == nil {
		api.clock = clockwork.NewRealClock()
	}
	return api
}

// NewRouter constructs the API HTTP router.
func NewRouter(opts Options) http.Handler {
	api := newAPI(opts)
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(correlationMiddleware)
	r.Use(actorMiddleware)
	r.Use(api.accessLogMiddleware)
	r.Use(metricsMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", api.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if opts.RateLimit > 0 {
			r.Use(newClientRateLimiter(opts.RateLimit, opts.RateBurst, api.clock).middleware)
		}
		api.mountResources(r)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorBody(w, r, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorBody(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
	return r
}

func (a *API) mountResources(r chi.Router) {
	r.Route("/hospitals", func(r chi.Router) {
		r.Post("/", a.createHospital)
		r.Get("/", a.listHospitals)
		r.Get("/{name}", a.getHospital)
	})
	r.Route("/departments", func(r chi.Router) {
		r.Post("/", a.createDepartment)
		r.Get("/", a.listDepartments)
	})
	r.Route("/rooms", func(r chi.Router) {
		r.Post("/", a.createRoom)
		r.Get("/", a.listRooms)
	})
	r.Route("/doctors", func(r chi.Router) {
		r.Post("/", a.createDoctor)
		r.Get("/", a.listDoctors)
		r.Get("/{license}", a.getDoctor)
		r.Delete("/{license}", a.deleteDoctor)
		r.Put("/{license}/department", a.assignDepartment)
		r.Get("/{license}/appointments", a.doctorAppointments)
	})
	r.Route("/patients", func(r chi.Router) {
		r.Post("/", a.createPatient)
		r.Get("/", a.listPatients)
		r.Get("/{dni}", a.getPatient)
		r.Patch("/{dni}", a.updatePatient)
		r.Delete("/{dni}", a.deletePatient)
		r.Get("/{dni}/record", a.getRecord)
		r.Post("/{dni}/record/{kind}", a.addRecordEntry)
		r.Get("/{dni}/appointments", a.patientAppointments)
	})
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", a.scheduleAppointment)
		r.Get("/", a.listAppointments)
		r.Get("/{id}", a.getAppointment)
		r.Patch("/{id}/status", a.updateAppointmentStatus)
	})
	r.Get("/audit", a.listAudit)
	r.Get("/audit/verify", a.verifyAudit)
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessProbeTimeout)
		defer cancel()
		if err := a.ready(ctx); err != nil {
			a.logger.WarnContext(r.Context(), "readiness check failed", "error", err.Error())
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
