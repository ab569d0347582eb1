package stats

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/relaykit/relay/config"
	"github.com/relaykit/relay/observability"
)

// DefaultInterval applies when no sampling interval is configured.
const DefaultInterval = 5 * time.Second

const bytesPerMB = 1024 * 1024

// Snapshot is one sample of request and system figures.
type Snapshot struct {
	At            time.Time     `json:"at"`
	UptimeSeconds float64       `json:"uptimeSeconds"`
	CPUPercent    float64       `json:"cpuPercent"`
	MemoryUsedMB  float64       `json:"memoryUsedMb"`
	MemoryPercent float64       `json:"memoryPercent"`
	Goroutines    int           `json:"goroutines"`
	Requests      RequestTotals `json:"requests"`
	Window        WindowTotals  `json:"window"`
}

// Sampler periodically collects snapshots and hands them to a publish
// callback.
type Sampler struct {
	recorder *RollingRecorder
	interval time.Duration
	publish  func(Snapshot)
	logger   observability.Logger

	proc      *process.Process
	startedAt time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
	stopped bool
}

// NewSampler builds a sampler. The publish callback may be nil when
// snapshots are only pulled through Collect.
func NewSampler(
	recorder *RollingRecorder,
	cfg config.StatsConfig,
	publish func(Snapshot),
	logger observability.Logger,
) *Sampler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	interval := cfg.Interval.Duration()
	if interval <= 0 {
		interval = DefaultInterval
	}

	// Process-scoped memory readings; a lookup failure leaves proc nil
	// and Collect falls back to system figures.
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn("process stats unavailable", observability.Error(err))
		proc = nil
	}

	return &Sampler{
		recorder:  recorder,
		interval:  interval,
		publish:   publish,
		logger:    logger,
		proc:      proc,
		startedAt: time.Now(),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the sampling loop. Subsequent calls are no-ops.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return
	}
	s.running = true
	go s.loop()
}

// Stop ends the sampling loop. Safe to call more than once.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
}

func (s *Sampler) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snapshot := s.Collect()
			if s.publish != nil {
				s.publish(snapshot)
			}
		case <-s.stopCh:
			return
		}
	}
}

// Collect takes one snapshot. CPU readings compare against the previous
// call, so the first sample after startup reads zero.
func (s *Sampler) Collect() Snapshot {
	now := time.Now()
	snapshot := Snapshot{
		At:            now,
		UptimeSeconds: now.Sub(s.startedAt).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
	}
	if s.recorder != nil {
		snapshot.Requests = s.recorder.Totals()
		snapshot.Window = s.recorder.TakeWindow()
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snapshot.CPUPercent = percents[0]
	} else if err != nil {
		s.logger.Debug("cpu sample failed", observability.Error(err))
	}

	snapshot.MemoryUsedMB = s.memoryUsedMB()
	if vmem, err := mem.VirtualMemory(); err == nil {
		snapshot.MemoryPercent = vmem.UsedPercent
	}

	systemCPUPercent.Set(snapshot.CPUPercent)
	systemMemoryUsedMB.Set(snapshot.MemoryUsedMB)
	return snapshot
}

// memoryUsedMB prefers the process resident set and falls back to
// system-wide usage.
func (s *Sampler) memoryUsedMB() float64 {
	if s.proc != nil {
		if info, err := s.proc.MemoryInfo(); err == nil {
			return float64(info.RSS) / bytesPerMB
		}
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		return float64(vmem.Used) / bytesPerMB
	}
	return 0
}
