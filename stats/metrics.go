package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	systemCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "system",
		Name:      "cpu_percent",
		Help:      "CPU usage percentage at the last sample.",
	})

	systemMemoryUsedMB = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "system",
		Name:      "memory_used_mb",
		Help:      "Memory usage in megabytes at the last sample.",
	})
)
