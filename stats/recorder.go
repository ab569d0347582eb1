package stats

import (
	"net/http"
	"sync"
	"time"
)

// Recorder receives one entry per dispatched request.
type Recorder interface {
	Record(route string, status int, elapsed time.Duration)
}

// RequestTotals is a point-in-time copy of the cumulative request
// figures. Failed counts responses with status 500 and above.
type RequestTotals struct {
	Total        uint64  `json:"total"`
	Failed       uint64  `json:"failed"`
	AvgLatencyMS float64 `json:"avgLatencyMs"`
	MaxLatencyMS float64 `json:"maxLatencyMs"`
}

// WindowTotals covers the interval since the previous sample.
type WindowTotals struct {
	Count        uint64  `json:"count"`
	PerSecond    float64 `json:"perSecond"`
	AvgLatencyMS float64 `json:"avgLatencyMs"`
}

// RollingRecorder accumulates request figures under a mutex. It keeps
// cumulative totals plus a window accumulator that TakeWindow drains,
// so each sample reports the traffic of exactly one interval.
type RollingRecorder struct {
	mu        sync.Mutex
	total     uint64
	failed    uint64
	durSum    time.Duration
	durMax    time.Duration
	winCount  uint64
	winDurSum time.Duration
	winStart  time.Time
}

// NewRollingRecorder returns an empty recorder.
func NewRollingRecorder() *RollingRecorder {
	return &RollingRecorder{winStart: time.Now()}
}

// Record adds one request to the totals. The route is accepted for
// interface compatibility; aggregation is global.
func (r *RollingRecorder) Record(_ string, status int, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	if status >= http.StatusInternalServerError {
		r.failed++
	}
	r.durSum += elapsed
	if elapsed > r.durMax {
		r.durMax = elapsed
	}
	r.winCount++
	r.winDurSum += elapsed
}

// Totals returns the cumulative request figures.
func (r *RollingRecorder) Totals() RequestTotals {
	r.mu.Lock()
	defer r.mu.Unlock()

	totals := RequestTotals{
		Total:        r.total,
		Failed:       r.failed,
		MaxLatencyMS: toMillis(r.durMax),
	}
	if r.total > 0 {
		totals.AvgLatencyMS = toMillis(r.durSum) / float64(r.total)
	}
	return totals
}

// TakeWindow returns the figures accumulated since the previous call
// and resets the window.
func (r *RollingRecorder) TakeWindow() WindowTotals {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	window := WindowTotals{Count: r.winCount}
	if elapsed := now.Sub(r.winStart).Seconds(); elapsed > 0 {
		window.PerSecond = float64(r.winCount) / elapsed
	}
	if r.winCount > 0 {
		window.AvgLatencyMS = toMillis(r.winDurSum) / float64(r.winCount)
	}

	r.winCount = 0
	r.winDurSum = 0
	r.winStart = now
	return window
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

var _ Recorder = (*RollingRecorder)(nil)
