package httpapi

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/amanthanvi/wardkeeper/internal/app"
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestClientRateLimiterRefillsOverTime(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(apiNow)
	limiter := newClientRateLimiter(1, 2, clock)

	require.True(t, limiter.allow("10.0.0.1"))
	require.True(t, limiter.allow("10.0.0.1"))
	require.False(t, limiter.allow("10.0.0.1"))
	require.True(t, limiter.allow("10.0.0.2"))

	clock.Advance(time.Second)
	require.True(t, limiter.allow("10.0.0.1"))
	require.False(t, limiter.allow("10.0.0.1"))
}

func TestClientRateLimiterForgetsIdleClients(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(apiNow)
	limiter := newClientRateLimiter(5, 5, clock)
	require.True(t, limiter.allow("10.0.0.1"))
	require.True(t, limiter.allow("10.0.0.2"))
	require.Equal(t, 2, limiter.tracked())

	clock.Advance(limiterIdleExpiry + time.Minute)
	require.True(t, limiter.allow("10.0.0.3"))
	require.Equal(t, 1, limiter.tracked())
}

func TestRouterRateLimitsResourceRoutesOnly(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(apiNow)
	store, err := storage.Open(filepath.Join(t.TempDir(), "wardkeeper.db"), storage.Options{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	handler := NewRouter(Options{
		Services:  app.NewServices(store, app.Deps{Clock: clock}),
		Clock:     clock,
		RateLimit: 1,
		RateBurst: 1,
	})

	send := func(path, remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusNotFound, send("/hospitals/unknown", "192.0.2.10:5000").Code)

	limited := send("/hospitals/unknown", "192.0.2.10:5001")
	requireError(t, limited, http.StatusTooManyRequests, codeRateLimited)
	require.Equal(t, "1", limited.Header().Get("Retry-After"))

	require.Equal(t, http.StatusNotFound, send("/hospitals/unknown", "192.0.2.11:5000").Code)
	require.Equal(t, http.StatusOK, send("/healthz", "192.0.2.10:5002").Code)
}
