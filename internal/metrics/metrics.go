package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scheduling Metrics
var (
	// AppointmentsScheduled tracks appointments booked successfully
	AppointmentsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wardkeeper_appointments_scheduled_total",
			Help: "Total appointments scheduled",
		},
	)

	// AppointmentRejections tracks scheduling attempts refused by a business rule
	AppointmentRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wardkeeper_appointment_rejections_total",
			Help: "Scheduling attempts rejected by reason",
		},
		[]string{"reason"},
	)

	// AppointmentStatusChanges tracks status transitions by target status
	AppointmentStatusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wardkeeper_appointment_status_changes_total",
			Help: "Appointment status transitions by new status",
		},
		[]string{"status"},
	)
)

// Sweeper Metrics
var (
	// SweepRuns tracks no-show sweeper executions by outcome
	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wardkeeper_sweep_runs_total",
			Help: "No-show sweeper runs by result",
		},
		[]string{"result"},
	)

	// SweepDuration tracks how long one sweep takes
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wardkeeper_sweep_duration_seconds",
			Help:    "No-show sweep duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// NoShowsMarked tracks appointments moved to no_show by the sweeper
	NoShowsMarked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wardkeeper_no_shows_marked_total",
			Help: "Total appointments marked as no-show",
		},
	)
)

// HTTP Metrics
var (
	// HTTPRequestsTotal tracks API requests by method, route pattern and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wardkeeper_http_requests_total",
			Help: "Total HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks API latency by route pattern
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wardkeeper_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// HTTPRateLimited tracks API requests refused by the per-client rate limiter
	HTTPRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wardkeeper_http_rate_limited_total",
			Help: "HTTP requests rejected with 429",
		},
	)
)

// Audit Metrics
var (
	// AuditWriteFailures tracks audit events that could not be appended
	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wardkeeper_audit_write_failures_total",
			Help: "Audit events that failed to persist",
		},
	)
)
