package realtime

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// State is a connection's lifecycle position.
type State int32

// Connection states. Closed is terminal.
const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one registered WebSocket connection. The registry owns the
// read and write goroutines; handlers interact with a Conn only through
// its exported methods, all of which are safe for concurrent use.
type Conn struct {
	id   string
	sock *websocket.Conn

	state atomic.Int32
	send  chan []byte
	done  chan struct{}

	mu       sync.RWMutex
	priority Priority
	topics   map[string]struct{}

	closeOnce sync.Once
}

func newConn(id string, sock *websocket.Conn, sendBuffer int) *Conn {
	c := &Conn{
		id:       id,
		sock:     sock,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		priority: PriorityNormal,
		topics:   make(map[string]struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// ID returns the connection's identity.
func (c *Conn) ID() string {
	return c.id
}

// State returns the connection's lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Priority returns the connection's declared priority.
func (c *Conn) Priority() Priority {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.priority
}

// Topics returns a sorted copy of the connection's topic set.
func (c *Conn) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Subscribed reports whether the connection's topic set contains topic.
func (c *Conn) Subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

// Send queues a message for delivery. It reports false without error
// when the connection is not open or its send buffer is full; a full
// buffer drops the message rather than blocking the caller.
func (c *Conn) Send(message []byte) bool {
	if c.State() != StateOpen {
		return false
	}
	select {
	case c.send <- message:
		return true
	case <-c.done:
		return false
	default:
		messagesDropped.Inc()
		return false
	}
}

// applyControl replaces the priority and topic set in one step.
func (c *Conn) applyControl(priority Priority, topics []string) {
	set := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		set[topic] = struct{}{}
	}

	c.mu.Lock()
	c.priority = priority
	c.topics = set
	c.mu.Unlock()
}
