package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relay"
	"github.com/relaykit/relay/config"
	"github.com/relaykit/relay/observability"
	"github.com/relaykit/relay/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := store.New(&config.StoreConfig{Type: config.StoreTypeMemory}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func runRateLimited(stage relay.Handler, remoteAddr string) *httptest.ResponseRecorder {
	var reached bool
	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	c := relay.NewContext(rec, req)
	c.Run([]relay.Handler{stage, passThrough(&reached), func(c *relay.Context) {
		c.Status(http.StatusOK)
	}})
	return rec
}

func TestRateLimit_AllowsUnderCeiling(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	cfg := config.RateLimitConfig{Enabled: true, MaxRequests: 3, TimeMS: 60_000}
	stage := RateLimit(st, cfg, observability.NopLogger())

	for i := 0; i < 3; i++ {
		rec := runRateLimited(stage, "192.0.2.1:1000")
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := runRateLimited(stage, "192.0.2.1:1000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get(relay.HeaderRetryAfter))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())
}

func TestRateLimit_IsolatesClients(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	cfg := config.RateLimitConfig{Enabled: true, MaxRequests: 1, TimeMS: 60_000}
	stage := RateLimit(st, cfg, observability.NopLogger())

	assert.Equal(t, http.StatusOK, runRateLimited(stage, "192.0.2.1:1000").Code)
	assert.Equal(t, http.StatusOK, runRateLimited(stage, "192.0.2.2:1000").Code)
	assert.Equal(t, http.StatusTooManyRequests, runRateLimited(stage, "192.0.2.1:1000").Code)
}

func TestRateLimit_WindowSlides(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	cfg := config.RateLimitConfig{Enabled: true, MaxRequests: 1, TimeMS: 50}
	stage := RateLimit(st, cfg, observability.NopLogger())

	assert.Equal(t, http.StatusOK, runRateLimited(stage, "192.0.2.1:1000").Code)
	assert.Equal(t, http.StatusTooManyRequests, runRateLimited(stage, "192.0.2.1:1000").Code)

	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, http.StatusOK, runRateLimited(stage, "192.0.2.1:1000").Code)
}

// brokenStore fails every operation, standing in for an unreachable
// backend.
type brokenStore struct {
	findErr   error
	insertErr error
}

func (s *brokenStore) Find(context.Context, string, time.Time) (int, error) {
	return 0, s.findErr
}

func (s *brokenStore) Insert(context.Context, store.Record) error { return s.insertErr }
func (s *brokenStore) Remove(context.Context, string) error       { return nil }
func (s *brokenStore) Ping(context.Context) error                 { return nil }
func (s *brokenStore) Close() error                               { return nil }

func TestRateLimit_ConcurrentRequestsHoldTheCeiling(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	cfg := config.RateLimitConfig{Enabled: true, MaxRequests: 4, TimeMS: 60_000}
	stage := RateLimit(st, cfg, observability.NopLogger())

	const attempts = 24

	var wg sync.WaitGroup
	var served atomic.Int32
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := runRateLimited(stage, "192.0.2.1:1000")
			if rec.Code == http.StatusOK {
				served.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(cfg.MaxRequests), served.Load(),
		"concurrent requests never slip past the ceiling")
}

func TestRateLimit_StoreFailuresAre500(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		st   store.Store
	}{
		{
			name: "lookup failure",
			st:   &brokenStore{findErr: errors.New("backend down")},
		},
		{
			name: "insert failure",
			st:   &brokenStore{insertErr: errors.New("backend down")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.RateLimitConfig{Enabled: true, MaxRequests: 10, TimeMS: 60_000}
			stage := RateLimit(tt.st, cfg, observability.NopLogger())

			rec := runRateLimited(stage, "192.0.2.1:1000")
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
		})
	}
}

func TestLocalLimiter_Allow(t *testing.T) {
	t.Parallel()

	l := NewLocalLimiter(2, time.Minute)
	t.Cleanup(l.Stop)

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	// Other clients are unaffected.
	assert.True(t, l.Allow("b"))
}

func TestLocalLimiter_Refills(t *testing.T) {
	t.Parallel()

	l := NewLocalLimiter(1, 50*time.Millisecond)
	t.Cleanup(l.Stop)

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	time.Sleep(80 * time.Millisecond)

	assert.True(t, l.Allow("a"))
}

func TestLocalLimiter_CleanupRemovesIdleClients(t *testing.T) {
	t.Parallel()

	l := NewLocalLimiter(1, time.Minute)
	l.Stop()

	l.Allow("a")
	l.Allow("b")
	require.Equal(t, 2, l.clientCount())

	l.mu.Lock()
	l.clients["a"].lastAccess = time.Now().Add(-DefaultClientTTL - time.Minute)
	l.mu.Unlock()

	l.cleanup()
	assert.Equal(t, 1, l.clientCount())
}

func TestLocalLimiter_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	l := NewLocalLimiter(1, time.Second)
	l.Stop()
	l.Stop()
}

func TestLocalLimiter_UpdateLimits(t *testing.T) {
	t.Parallel()

	l := NewLocalLimiter(1, time.Minute)
	t.Cleanup(l.Stop)

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	l.UpdateLimits(3, time.Minute)

	// Tracked clients keep their spent budget rather than starting over.
	assert.False(t, l.Allow("a"))

	// New clients get the raised ceiling.
	assert.True(t, l.Allow("b"))
	assert.True(t, l.Allow("b"))
	assert.True(t, l.Allow("b"))
	assert.False(t, l.Allow("b"))
}

func TestLocalRateLimit_Stage(t *testing.T) {
	t.Parallel()

	l := NewLocalLimiter(1, time.Minute)
	t.Cleanup(l.Stop)
	stage := LocalRateLimit(l, observability.NopLogger())

	assert.Equal(t, http.StatusOK, runRateLimited(stage, "192.0.2.9:1000").Code)

	rec := runRateLimited(stage, "192.0.2.9:1000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(relay.HeaderRetryAfter))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())
}
