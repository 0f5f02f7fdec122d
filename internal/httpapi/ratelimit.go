package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/amanthanvi/wardkeeper/internal/metrics"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	limiterIdleExpiry     = 10 * time.Minute
	limiterCleanupPeriod  = 5 * time.Minute
	rateLimitedRetryAfter = 1
)

// clientRateLimiter keeps one token bucket per client address.
type clientRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	rate      rate.Limit
	burst     int
	clock     clockwork.Clock
	cleanupAt time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientRateLimiter(perSecond float64, burst int, clock clockwork.Clock) *clientRateLimiter {
	return &clientRateLimiter{
		limiters:  make(map[string]*limiterEntry),
		rate:      rate.Limit(perSecond),
		burst:     burst,
		clock:     clock,
		cleanupAt: clock.Now().Add(limiterCleanupPeriod),
	}
}

func (l *clientRateLimiter) allow(client string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.cleanupAt) {
		cutoff := now.Add(-limiterIdleExpiry)
		for key, entry := range l.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(l.limiters, key)
			}
		}
		l.cleanupAt = now.Add(limiterCleanupPeriod)
	}

	entry, ok := l.limiters[client]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[client] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *clientRateLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// middleware keys on RemoteAddr, which RealIP has already rewritten.
func (l *clientRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := r.RemoteAddr
		if host, _, err := net.SplitHostPort(client); err == nil {
			client = host
		}
		if !l.allow(client) {
			metrics.HTTPRateLimited.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(rateLimitedRetryAfter))
			writeErrorBody(w, r, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
