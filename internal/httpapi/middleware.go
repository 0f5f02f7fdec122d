package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/amanthanvi/wardkeeper/internal/audit"
	"github.com/amanthanvi/wardkeeper/internal/log"
	"github.com/amanthanvi/wardkeeper/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	correlationHeader = "X-Correlation-ID"
	actorHeader       = "X-Wardkeeper-Actor"
	maxActorLength    = 64
)

// correlationMiddleware reuses the caller's correlation id when present and
// echoes it on the response.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(correlationHeader))
		if id == "" || len(id) > 64 {
			id = log.NewCorrelationID()
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(log.WithCorrelationID(r.Context(), id)))
	})
}

// actorMiddleware tags audit events with "api:<name>" where name comes from
// the actor header, or "api:anonymous".
func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSpace(r.Header.Get(actorHeader))
		if name == "" || len(name) > maxActorLength {
			name = "anonymous"
		}
		next.ServeHTTP(w, r.WithContext(audit.WithActor(r.Context(), "api:"+name)))
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		timer := prometheus.NewTimer(prometheus.ObserverFunc(func(seconds float64) {
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, routePattern(r)).Observe(seconds)
		}))
		next.ServeHTTP(ww, r)
		timer.ObserveDuration()

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(status)).Inc()
	})
}

func (a *API) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := a.clock.Now()
		next.ServeHTTP(ww, r)

		a.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"route", routePattern(r),
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", a.clock.Since(started).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// routePattern returns the matched chi pattern so metric labels stay bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
