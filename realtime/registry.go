package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaykit/relay"
	"github.com/relaykit/relay/config"
	"github.com/relaykit/relay/observability"
)

// OpenHandler runs once a connection has reached the open state and is
// registered for delivery.
type OpenHandler func(*Conn)

// MessageHandler receives every inbound message, including recognized
// control messages.
type MessageHandler func(*Conn, []byte)

// CloseHandler runs when a connection leaves the open state. It
// receives the close code and reason and fires before the registry
// drops the connection, so lookups by id still succeed inside it.
type CloseHandler func(conn *Conn, code int, reason string)

// Registry tracks live websocket connections and fans messages out to
// them. A single registry serves one upgrade route; its handler plugs
// into the pipeline like any other terminal handler.
type Registry struct {
	logger observability.Logger

	sendBuffer     int
	maxMessageSize int64
	writeTimeout   time.Duration
	pongTimeout    time.Duration
	pingInterval   time.Duration

	upgrader websocket.Upgrader

	mu     sync.RWMutex
	conns  map[string]*Conn
	closed bool

	onOpen    OpenHandler
	onClose   CloseHandler
	onMessage MessageHandler

	wg sync.WaitGroup
}

// NewRegistry builds a registry from the realtime section of the
// configuration. Zero values fall back to the defaults so an empty
// config section still yields a working registry.
func NewRegistry(cfg config.RealtimeConfig, logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	def := config.Default().Realtime

	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	writeTimeout := cfg.WriteTimeout.Duration()
	if writeTimeout <= 0 {
		writeTimeout = def.WriteTimeout.Duration()
	}
	pongTimeout := cfg.PongTimeout.Duration()
	if pongTimeout <= 0 {
		pongTimeout = def.PongTimeout.Duration()
	}
	pingInterval := cfg.PingInterval.Duration()
	if pingInterval <= 0 || pingInterval >= pongTimeout {
		pingInterval = pongTimeout * 9 / 10
	}

	return &Registry{
		logger:         logger,
		sendBuffer:     cfg.SendBuffer,
		maxMessageSize: cfg.MaxMessageSize,
		writeTimeout:   writeTimeout,
		pongTimeout:    pongTimeout,
		pingInterval:   pingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin filtering and access control run as pipeline
			// stages before the upgrade handler.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*Conn),
	}
}

// OnOpen registers the open callback.
func (r *Registry) OnOpen(fn OpenHandler) {
	r.mu.Lock()
	r.onOpen = fn
	r.mu.Unlock()
}

// OnClose registers the close callback.
func (r *Registry) OnClose(fn CloseHandler) {
	r.mu.Lock()
	r.onClose = fn
	r.mu.Unlock()
}

// OnMessage registers the inbound message callback.
func (r *Registry) OnMessage(fn MessageHandler) {
	r.mu.Lock()
	r.onMessage = fn
	r.mu.Unlock()
}

func (r *Registry) openHandler() OpenHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onOpen
}

func (r *Registry) closeHandler() CloseHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onClose
}

func (r *Registry) messageHandler() MessageHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onMessage
}

// UpgradeHandler returns the terminal pipeline handler that upgrades
// the request to a websocket and registers the connection. It never
// calls Next: the connection is hijacked on success and the chain must
// not touch the response writer afterwards.
func (r *Registry) UpgradeHandler() relay.Handler {
	return func(c *relay.Context) {
		r.mu.RLock()
		closed := r.closed
		r.mu.RUnlock()
		if closed {
			c.Error(http.StatusServiceUnavailable, "realtime registry is shut down")
			return
		}
		if !websocket.IsWebSocketUpgrade(c.Request) {
			c.Error(http.StatusBadRequest, "websocket upgrade required")
			return
		}

		sock, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written an HTTP error to the client.
			r.logger.Warn("websocket upgrade failed",
				observability.String("path", c.Request.URL.Path),
				observability.Error(err),
			)
			c.Abort()
			return
		}

		conn := newConn(uuid.NewString(), sock, r.sendBuffer)

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			_ = sock.Close()
			return
		}
		r.conns[conn.id] = conn
		r.mu.Unlock()

		conn.state.Store(int32(StateOpen))
		connectionsTotal.Inc()
		connectionsActive.Inc()
		r.logger.Debug("websocket connection opened",
			observability.String("conn_id", conn.id),
			observability.String("client_addr", c.ClientAddr()),
		)

		if fn := r.openHandler(); fn != nil {
			fn(conn)
		}

		r.wg.Add(2)
		go r.writePump(conn)
		go r.readPump(conn)
	}
}

// readPump drains inbound frames until the connection dies. It owns
// the read side of the socket and is the only goroutine that calls
// teardown for peer-initiated closes.
func (r *Registry) readPump(c *Conn) {
	defer r.wg.Done()

	code := websocket.CloseAbnormalClosure
	reason := ""
	defer func() {
		r.teardown(c, code, reason)
	}()

	c.sock.SetReadLimit(r.maxMessageSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(r.pongTimeout))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(r.pongTimeout))
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
				reason = ce.Text
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Debug("websocket read ended",
					observability.String("conn_id", c.id),
					observability.Error(err),
				)
			}
			return
		}

		messagesReceived.Inc()
		if priority, topics, ok := parseControl(data); ok {
			c.applyControl(priority, topics)
			controlUpdates.Inc()
			r.logger.Debug("subscription updated",
				observability.String("conn_id", c.id),
				observability.String("priority", string(priority)),
				observability.Strings("topics", topics),
			)
		}
		// Every message reaches the callback, control or not.
		if fn := r.messageHandler(); fn != nil {
			fn(c, data)
		}
	}
}

// writePump serializes all data and ping writes for one connection. A
// write failure closes the socket, which wakes readPump and routes the
// close through the usual teardown path.
func (r *Registry) writePump(c *Conn) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(r.writeTimeout))
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.sock.Close()
				return
			}
			messagesSent.Inc()
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(r.writeTimeout))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.sock.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// teardown transitions a connection to closed exactly once: it fires
// the close callback while the registry still knows the connection,
// then removes it, stops its write pump, and releases the socket.
func (r *Registry) teardown(c *Conn, code int, reason string) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))

		if fn := r.closeHandler(); fn != nil {
			fn(c, code, reason)
		}

		r.mu.Lock()
		delete(r.conns, c.id)
		r.mu.Unlock()
		connectionsActive.Dec()

		close(c.done)

		// 1006 is reserved and never goes on the wire; for every
		// other code echo the close frame before dropping the socket.
		if code != websocket.CloseAbnormalClosure {
			deadline := time.Now().Add(r.writeTimeout)
			msg := websocket.FormatCloseMessage(code, reason)
			_ = c.sock.WriteControl(websocket.CloseMessage, msg, deadline)
		}
		_ = c.sock.Close()

		r.logger.Debug("websocket connection closed",
			observability.String("conn_id", c.id),
			observability.Int("code", code),
			observability.String("reason", reason),
		)
	})
}

func (r *Registry) snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// BroadcastAll queues message for every open connection and reports
// how many accepted it. Connections that are not open are skipped.
func (r *Registry) BroadcastAll(message []byte) int {
	delivered := 0
	for _, c := range r.snapshot() {
		if c.Send(message) {
			delivered++
		}
	}
	return delivered
}

// BroadcastTopic queues message for every open connection subscribed
// to topic and reports how many accepted it. Connections that never
// sent a control message have no subscriptions and receive nothing.
func (r *Registry) BroadcastTopic(topic string, message []byte) int {
	delivered := 0
	for _, c := range r.snapshot() {
		if c.Subscribed(topic) && c.Send(message) {
			delivered++
		}
	}
	return delivered
}

// Unicast queues message for the single connection with the given id.
// It reports false when the connection is unknown, not open, or its
// buffer is full.
func (r *Registry) Unicast(id string, message []byte) bool {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return c.Send(message)
}

// Get returns the connection with the given id.
func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Shutdown closes every connection with a going-away frame, rejects
// future upgrades, and waits for the pump goroutines to drain until
// ctx expires.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		r.teardown(c, websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
