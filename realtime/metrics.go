package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "realtime",
		Name:      "connections_active",
		Help:      "Number of currently open websocket connections.",
	})

	connectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "realtime",
		Name:      "connections_total",
		Help:      "Total number of websocket connections accepted.",
	})

	messagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "realtime",
		Name:      "messages_received_total",
		Help:      "Total number of inbound websocket messages.",
	})

	messagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "realtime",
		Name:      "messages_sent_total",
		Help:      "Total number of outbound websocket messages written.",
	})

	messagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "realtime",
		Name:      "messages_dropped_total",
		Help:      "Total number of outbound messages dropped because a send buffer was full.",
	})

	controlUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "realtime",
		Name:      "control_updates_total",
		Help:      "Total number of subscription control messages applied.",
	})
)
