package realtime

import (
	"context"
	"encoding/json"
	"io"
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
)

func testRealtimeConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		SendBuffer:     8,
		MaxMessageSize: 1 << 16,
		WriteTimeout:   config.Duration(time.Second),
		PongTimeout:    config.Duration(5 * time.Second),
		PingInterval:   config.Duration(time.Second),
	}
}

// newTestRegistry serves the registry's upgrade handler through a real
// pipeline chain so the hijack path is exercised end to end.
func newTestRegistry(t *testing.T, cfg config.RealtimeConfig) (*Registry, *httptest.Server) {
	t.Helper()

	reg := NewRegistry(cfg, observability.NopLogger())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relay.NewContext(w, r).Run([]relay.Handler{reg.UpgradeHandler()})
	}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
		srv.Close()
	})
	return reg, srv
}

func dialRegistry(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func waitConn(t *testing.T, opened <-chan *Conn) *Conn {
	t.Helper()

	select {
	case conn := <-opened:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("open callback never fired")
		return nil
	}
}

func sendControl(t *testing.T, client *websocket.Conn, priority string, topics []string) {
	t.Helper()

	if topics == nil {
		topics = []string{}
	}
	payload, err := json.Marshal(map[string]any{"priority": priority, "keep": topics})
	require.NoError(t, err)
	require.NoError(t, client.WriteMessage(websocket.TextMessage, payload))
}

func readText(t *testing.T, client *websocket.Conn) string {
	t.Helper()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestUpgradeHandler_OpensConnection(t *testing.T) {
	t.Parallel()

	reg, srv := newTestRegistry(t, testRealtimeConfig())
	opened := make(chan *Conn, 1)
	reg.OnOpen(func(c *Conn) { opened <- c })

	dialRegistry(t, srv)
	conn := waitConn(t, opened)

	assert.Equal(t, StateOpen, conn.State())
	assert.Equal(t, PriorityNormal, conn.Priority())
	assert.Empty(t, conn.Topics())
	assert.Equal(t, 1, reg.Len())

	got, ok := reg.Get(conn.ID())
	require.True(t, ok)
	assert.Same(t, conn, got)
}

func TestUpgradeHandler_RejectsPlainRequests(t *testing.T) {
	t.Parallel()

	_, srv := newTestRegistry(t, testRealtimeConfig())

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error": "websocket upgrade required"}`, string(body))
}

func TestControlMessage_UpdatesSubscription(t *testing.T) {
	t.Parallel()

	reg, srv := newTestRegistry(t, testRealtimeConfig())
	opened := make(chan *Conn, 1)
	messages := make(chan []byte, 16)
	reg.OnOpen(func(c *Conn) { opened <- c })
	reg.OnMessage(func(_ *Conn, data []byte) { messages <- data })

	client := dialRegistry(t, srv)
	conn := waitConn(t, opened)

	sendControl(t, client, "HIGH", []string{"alpha", "beta"})

	require.Eventually(t, func() bool {
		return conn.Subscribed("alpha") && conn.Subscribed("beta")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, PriorityHigh, conn.Priority())
	assert.Equal(t, []string{"alpha", "beta"}, conn.Topics())

	// Control messages still reach the message callback.
	select {
	case data := <-messages:
		assert.JSONEq(t, `{"priority": "HIGH", "keep": ["alpha", "beta"]}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("message callback never fired")
	}
}

func TestControlMessage_MalformedShapesOnlyForward(t *testing.T) {
	t.Parallel()

	reg, srv := newTestRegistry(t, testRealtimeConfig())
	opened := make(chan *Conn, 1)
	messages := make(chan []byte, 16)
	reg.OnOpen(func(c *Conn) { opened <- c })
	reg.OnMessage(func(_ *Conn, data []byte) { messages <- data })

	client := dialRegistry(t, srv)
	conn := waitConn(t, opened)

	// Establish a known subscription first.
	sendControl(t, client, "HIGH", []string{"base"})
	require.Eventually(t, func() bool { return conn.Subscribed("base") }, 2*time.Second, 10*time.Millisecond)
	<-messages

	payloads := []string{
		`{"priority": "LOW"}`,
		`{"keep": ["other"]}`,
		`{"priority": "low", "keep": ["other"]}`,
		`{"priority": "LOW", "keep": "other"}`,
		`{"priority": "LOW", "keep": ["other", 3]}`,
		`just text`,
	}
	for _, payload := range payloads {
		require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(payload)))

		select {
		case data := <-messages:
			assert.Equal(t, payload, string(data), "unrecognized payloads are forwarded verbatim")
		case <-time.After(2 * time.Second):
			t.Fatalf("message %q never reached the callback", payload)
		}

		assert.Equal(t, PriorityHigh, conn.Priority(), "payload %q must not change priority", payload)
		assert.Equal(t, []string{"base"}, conn.Topics(), "payload %q must not change topics", payload)
	}
}

func TestControlMessage_ReplacesWholesale(t *testing.T) {
	t.Parallel()

	reg, srv := newTestRegistry(t, testRealtimeConfig())
	opened := make(chan *Conn, 1)
	reg.OnOpen(func(c *Conn) { opened <- c })

	client := dialRegistry(t, srv)
	conn := waitConn(t, opened)

	sendControl(t, client, "NORMAL", []string{"a", "b"})
	require.Eventually(t, func() bool { return conn.Subscribed("b") }, 2*time.Second, 10*time.Millisecond)

	sendControl(t, client, "LOW", []string{"c"})
	require.Eventually(t, func() bool { return conn.Subscribed("c") }, 2*time.Second, 10*time.Millisecond)

	assert.False(t, conn.Subscribed("a"), "a second control replaces the whole topic set")
	assert.False(t, conn.Subscribed("b"))
	assert.Equal(t, PriorityLow, conn.Priority())
}

func TestBroadcastAll(t *testing.T) {
	t.Parallel()

	reg, srv := newTestRegistry(t, testRealtimeConfig())
	opened := make(chan *Conn, 2)
	reg.OnOpen(func(c *Conn) { opened <- c })

	first := dialRegistry(t, srv)
	waitConn(t, opened)
	second := dialRegistry(t, srv)
	waitConn(t, opened)

	delivered := reg.BroadcastAll([]byte("to everyone"))
	assert.Equal(t, 2, delivered)

	assert.Equal(t, "to everyone", readText(t, first))
	assert.Equal(t, "to everyone", readText(t, second))
}

func TestBroadcastTopic_OnlySubscribers(t *testing.T) {
	t.Parallel()

	reg, srv := newTestRegistry(t, testRealtimeConfig())
	opened := make(chan *Conn, 2)
	reg.OnOpen(func(c *Conn) { opened <- c })

	subscriber := dialRegistry(t, srv)
	subConn := waitConn(t, opened)
	bystander := dialRegistry(t, srv)
	waitConn(t, opened)

	sendControl(t, subscriber, "NORMAL", []string{"alpha"})
	require.Eventually(t, func() bool { return subConn.Subscribed("alpha") }, 2*time.Second, 10*time.Millisecond)

	delivered := reg.BroadcastTopic("alpha", []byte("alpha news"))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, "alpha news", readText(t, subscriber))

	// The bystander never sent a control message and receives nothing.
	require.NoError(t, bystander.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := bystander.ReadMessage()
	assert.Error(t, err, "connections without a subscription see no topic traffic")
}

func TestUnicast(t *testing.T) {
	t.Parallel()

	reg, srv := newTestRegistry(t, testRealtimeConfig())
	opened := make(chan *Conn, 2)
	reg.OnOpen(func(c *Conn) { opened <- c })

	target := dialRegistry(t, srv)
	targetConn := waitConn(t, opened)
	other := dialRegistry(t, srv)
	waitConn(t, opened)

	assert.True(t, reg.Unicast(targetConn.ID(), []byte("just for you")))
	assert.Equal(t, "just for you", readText(t, target))

	require.NoError(t, other.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "unicast must not reach other connections")

	assert.False(t, reg.Unicast("no-such-id", []byte("lost")))
}

func TestCloseCallback_RunsBeforeRemoval(t *testing.T) {
	t.Parallel()

	type closeEvent struct {
		code       int
		reason     string
		lenAtClose int
		stillKnown bool
	}

	reg, srv := newTestRegistry(t, testRealtimeConfig())
	opened := make(chan *Conn, 1)
	closed := make(chan closeEvent, 1)
	reg.OnOpen(func(c *Conn) { opened <- c })
	reg.OnClose(func(c *Conn, code int, reason string) {
		_, known := reg.Get(c.ID())
		closed <- closeEvent{
			code:       code,
			reason:     reason,
			lenAtClose: reg.Len(),
			stillKnown: known,
		}
	})

	client := dialRegistry(t, srv)
	conn := waitConn(t, opened)

	err := client.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
	)
	require.NoError(t, err)

	select {
	case ev := <-closed:
		assert.Equal(t, websocket.CloseNormalClosure, ev.code)
		assert.Equal(t, "bye", ev.reason)
		assert.Equal(t, 1, ev.lenAtClose, "the callback runs before the registry forgets the connection")
		assert.True(t, ev.stillKnown)
	case <-time.After(2 * time.Second):
		t.Fatal("close callback never fired")
	}

	require.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateClosed, conn.State())
	assert.False(t, conn.Send([]byte("late")), "closed connections accept nothing")
}

func TestShutdown_ClosesEveryConnection(t *testing.T) {
	t.Parallel()

	reg, srv := newTestRegistry(t, testRealtimeConfig())
	opened := make(chan *Conn, 2)
	reg.OnOpen(func(c *Conn) { opened <- c })

	first := dialRegistry(t, srv)
	waitConn(t, opened)
	second := dialRegistry(t, srv)
	waitConn(t, opened)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, reg.Shutdown(ctx))
	assert.Equal(t, 0, reg.Len())

	for _, client := range []*websocket.Conn{first, second} {
		require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := client.ReadMessage()
		closeErr := &websocket.CloseError{}
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
		assert.Equal(t, "server shutting down", closeErr.Text)
	}

	// New upgrade attempts are rejected once the registry is down.
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestReadLimit_DropsOversizedSenders(t *testing.T) {
	t.Parallel()

	cfg := testRealtimeConfig()
	cfg.MaxMessageSize = 64

	reg, srv := newTestRegistry(t, cfg)
	opened := make(chan *Conn, 1)
	reg.OnOpen(func(c *Conn) { opened <- c })

	client := dialRegistry(t, srv)
	waitConn(t, opened)
	require.Equal(t, 1, reg.Len())

	oversized := strings.Repeat("x", 1024)
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(oversized)))

	require.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond,
		"a message above the read limit closes the connection")
}
