// Package stats collects request timing and system resource usage and
// exposes both as periodic JSON snapshots.
//
// The dispatcher records one entry per request into a Recorder. A
// Sampler combines those figures with process CPU and memory readings
// on a fixed interval and hands each Snapshot to a publish callback,
// which the service wires to a realtime topic. Snapshots can also be
// pulled on demand for a stats route.
//
// # Usage
//
//	recorder := stats.NewRollingRecorder()
//	sampler := stats.NewSampler(recorder, cfg.Stats, publish, logger)
//	sampler.Start()
//	defer sampler.Stop()
package stats
