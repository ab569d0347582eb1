package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relay"
	"github.com/relaykit/relay/config"
	"github.com/relaykit/relay/observability"
	"github.com/relaykit/relay/realtime"
	"github.com/relaykit/relay/store"
)

func probe(t *testing.T, handler http.HandlerFunc) (*httptest.ResponseRecorder, ProbeStatus) {
	t.Helper()

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var status ProbeStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	return w, status
}

func TestLiveness_AlwaysOK(t *testing.T) {
	t.Parallel()

	h := NewHandler(nil)
	h.AddCheck(NewCheckFunc("doomed", func(context.Context) error {
		return fmt.Errorf("always failing")
	}))

	w := httptest.NewRecorder()
	h.Liveness(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestReadiness_NoChecks(t *testing.T) {
	t.Parallel()

	h := NewHandler(observability.NopLogger())

	w, status := probe(t, h.Readiness)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", status.Status)
	assert.Empty(t, status.Checks)
}

func TestReadiness_FailingCheckIs503(t *testing.T) {
	t.Parallel()

	h := NewHandler(observability.NopLogger())
	h.AddCheck(NewCheckFunc("upstream", func(context.Context) error {
		return fmt.Errorf("connection refused")
	}))
	h.AddCheck(NewCheckFunc("disk", func(context.Context) error {
		return nil
	}))

	w, status := probe(t, h.Readiness)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "error", status.Status)
	require.Contains(t, status.Checks, "upstream")
	assert.Equal(t, "error", status.Checks["upstream"].Status)
	assert.Equal(t, "connection refused", status.Checks["upstream"].Error)
	require.Contains(t, status.Checks, "disk")
	assert.Equal(t, "ok", status.Checks["disk"].Status)
}

func TestHealth_ReportsUptime(t *testing.T) {
	t.Parallel()

	h := NewHandler(observability.NopLogger())

	w, status := probe(t, h.Health)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, status.Uptime)
}

func TestRemoveCheck(t *testing.T) {
	t.Parallel()

	h := NewHandler(observability.NopLogger())
	h.AddCheck(NewCheckFunc("flaky", func(context.Context) error {
		return fmt.Errorf("broken")
	}))

	w, _ := probe(t, h.Readiness)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	h.RemoveCheck("flaky")

	w, _ = probe(t, h.Readiness)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStoreCheck(t *testing.T) {
	t.Parallel()

	cfg := config.Default().Store
	st, err := store.New(&cfg, nil)
	require.NoError(t, err)

	check := StoreCheck(st)
	assert.Equal(t, "store", check.Name())
	assert.NoError(t, check.Check(context.Background()))

	require.NoError(t, st.Close())
	assert.Error(t, check.Check(context.Background()), "a closed store is not ready")

	assert.Error(t, StoreCheck(nil).Check(context.Background()))
}

func TestRealtimeCheck(t *testing.T) {
	t.Parallel()

	assert.Error(t, RealtimeCheck(nil, 0).Check(context.Background()))

	reg := realtime.NewRegistry(config.Default().Realtime, observability.NopLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})

	check := RealtimeCheck(reg, 1)
	assert.Equal(t, "realtime", check.Name())
	assert.NoError(t, check.Check(context.Background()), "an idle registry has capacity")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relay.NewContext(w, r).Run([]relay.Handler{reg.UpgradeHandler()})
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { client.Close() })

	require.Eventually(t, func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Error(t, check.Check(context.Background()), "a full registry fails the capacity check")
	assert.NoError(t, RealtimeCheck(reg, 0).Check(context.Background()), "no ceiling means always ready")
}
