package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/relaykit/relay"
	"github.com/relaykit/relay/config"
	"github.com/relaykit/relay/observability"
	"github.com/relaykit/relay/store"
)

const (
	// rateLimitKeyPrefix namespaces rate-limit records in the store so
	// they never collide with other record kinds sharing a backend.
	rateLimitKeyPrefix = "ratelimit:"

	// DefaultClientTTL is how long an idle client entry survives in the
	// local limiter before cleanup reclaims it.
	DefaultClientTTL = 10 * time.Minute
)

// RateLimit returns the stage enforcing the configured request ceiling
// per client address within a trailing window, counting against the
// shared record store. Requests over the ceiling get 429 with a
// Retry-After hint; store failures end the request with 500.
func RateLimit(st store.Store, cfg config.RateLimitConfig, logger observability.Logger) relay.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	window := cfg.Window()
	retryAfter := retryAfterSeconds(window)
	return func(c *relay.Context) {
		addr := c.ClientAddr()
		key := rateLimitKeyPrefix + addr

		count, allowed, err := admit(c.Context(), st, key, time.Now().Add(-window), cfg.MaxRequests)
		if err != nil {
			logger.Error("rate limit check failed",
				observability.String("client_addr", addr),
				observability.Error(err),
			)
			c.Error(http.StatusInternalServerError, "internal server error")
			return
		}
		if !allowed {
			GetStageMetrics().rateLimitRejected.WithLabelValues(routeLabel(c)).Inc()
			logger.Warn("rate limit exceeded",
				observability.String("client_addr", addr),
				observability.Int("count", count),
			)
			c.Header(relay.HeaderRetryAfter, retryAfter)
			c.Error(http.StatusTooManyRequests, relay.ErrRateLimited.Error())
			return
		}

		GetStageMetrics().rateLimitAllowed.WithLabelValues(routeLabel(c)).Inc()
		c.Next()
	}
}

// admit counts the client's window and records the request. Stores with
// an atomic admission path keep concurrent requests from overshooting
// the ceiling between the count and the insert; others fall back to a
// find followed by an insert.
func admit(ctx context.Context, st store.Store, key string, since time.Time, limit int) (int, bool, error) {
	if a, ok := st.(store.Admitter); ok {
		return a.Admit(ctx, key, since, limit)
	}

	count, err := st.Find(ctx, key, since)
	if err != nil {
		return 0, false, err
	}
	if count >= limit {
		return count, false, nil
	}
	if err := st.Insert(ctx, store.Record{Key: key, At: time.Now()}); err != nil {
		return 0, false, err
	}
	return count, true, nil
}

// LocalLimiter applies a per-client token bucket when no shared record
// store is available. Idle client entries are reclaimed in the
// background once they pass the TTL.
type LocalLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	stopCh  chan struct{}
	stopped bool
}

type clientEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewLocalLimiter builds a limiter admitting maxRequests per window for
// each client and starts its cleanup loop.
func NewLocalLimiter(maxRequests int, window time.Duration) *LocalLimiter {
	if maxRequests < 1 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	l := &LocalLimiter{
		clients: make(map[string]*clientEntry),
		limit:   rate.Limit(float64(maxRequests) / window.Seconds()),
		burst:   maxRequests,
		ttl:     DefaultClientTTL,
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether the client identified by addr may proceed.
func (l *LocalLimiter) Allow(addr string) bool {
	l.mu.Lock()
	entry, ok := l.clients[addr]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[addr] = entry
	}
	entry.lastAccess = time.Now()
	l.mu.Unlock()

	return entry.limiter.Allow()
}

// UpdateLimits replaces the request ceiling and window at runtime.
// Tracked clients keep their buckets, adjusted in place, so current
// usage carries over into the new limits.
func (l *LocalLimiter) UpdateLimits(maxRequests int, window time.Duration) {
	if maxRequests < 1 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	limit := rate.Limit(float64(maxRequests) / window.Seconds())

	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = limit
	l.burst = maxRequests
	for _, entry := range l.clients {
		entry.limiter.SetLimit(limit)
		entry.limiter.SetBurst(maxRequests)
	}
}

// Stop ends the cleanup loop. Safe to call more than once.
func (l *LocalLimiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	close(l.stopCh)
}

func (l *LocalLimiter) cleanupLoop() {
	interval := l.ttl / 2
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

func (l *LocalLimiter) cleanup() {
	cutoff := time.Now().Add(-l.ttl)
	l.mu.Lock()
	defer l.mu.Unlock()
	for addr, entry := range l.clients {
		if entry.lastAccess.Before(cutoff) {
			delete(l.clients, addr)
		}
	}
}

func (l *LocalLimiter) clientCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// LocalRateLimit returns the stage enforcing the ceiling with a local
// token bucket per client address. State lives in process memory, so
// each instance counts independently.
func LocalRateLimit(limiter *LocalLimiter, logger observability.Logger) relay.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(c *relay.Context) {
		addr := c.ClientAddr()
		if !limiter.Allow(addr) {
			GetStageMetrics().rateLimitRejected.WithLabelValues(routeLabel(c)).Inc()
			logger.Warn("rate limit exceeded", observability.String("client_addr", addr))
			c.Header(relay.HeaderRetryAfter, "1")
			c.Error(http.StatusTooManyRequests, relay.ErrRateLimited.Error())
			return
		}
		GetStageMetrics().rateLimitAllowed.WithLabelValues(routeLabel(c)).Inc()
		c.Next()
	}
}

func retryAfterSeconds(window time.Duration) string {
	secs := int(window / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
