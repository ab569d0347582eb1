// Package realtime maintains long-lived WebSocket connections and fans
// messages out to them.
//
// Each upgraded connection gets a UUID identity and a registry entry.
// Clients declare a delivery priority and a topic set by sending a
// control message of the form
//
//	{"priority": "LOW"|"NORMAL"|"HIGH", "keep": ["topic", ...]}
//
// Both fields must be present together; the pair replaces the
// connection's previous priority and topic set wholesale. Every inbound
// message, control or not, is also forwarded to the registry's message
// callback.
//
// # Features
//
//   - Connection state machine: Connecting, Open, Closed
//   - Broadcast to all open connections or to a topic's subscribers
//   - Unicast by connection identity
//   - Per-connection writer goroutine with ping keepalive
//   - Open, close, and message callbacks; the close callback sees the
//     close code and reason before the entry is removed
//
// # Usage
//
//	registry := realtime.NewRegistry(cfg.Realtime, logger)
//	registry.OnMessage(func(c *realtime.Conn, data []byte) {
//	    // inspect or route inbound traffic
//	})
//	srv.Register(router.MethodGet, "/realtime", registry.UpgradeHandler())
//	...
//	registry.BroadcastTopic("stats", payload)
package realtime
