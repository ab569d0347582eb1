package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"reflect"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaykit/relay/config"
	"github.com/relaykit/relay/observability"
)

// reloadMetrics holds Prometheus collectors for configuration reload
// operations, registered with the server's registry so they appear on
// the metrics endpoint.
type reloadMetrics struct {
	reloadTotal   *prometheus.CounterVec
	watcherStatus prometheus.Gauge
}

// newReloadMetrics creates the reload collectors and registers them
// with the given metrics instance.
func newReloadMetrics(m *observability.Metrics) *reloadMetrics {
	rm := &reloadMetrics{
		reloadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Name:      "config_reload_total",
				Help:      "Total number of configuration reloads by result.",
			},
			[]string{"result"},
		),
		watcherStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "relay",
				Name:      "config_watcher_running",
				Help:      "Whether the config file watcher is running (1=running, 0=stopped).",
			},
		),
	}

	// Duplicate registrations are harmless; the descriptors are
	// identical when re-registered.
	_ = m.RegisterCollector(rm.reloadTotal)
	_ = m.RegisterCollector(rm.watcherStatus)

	return rm
}

// startConfigWatcher starts the configuration watcher. Without a
// config file there is nothing to watch and reloads are unavailable.
func startConfigWatcher(
	ctx context.Context,
	app *application,
	configPath string,
	logger observability.Logger,
) *config.Watcher {
	if configPath == "" {
		logger.Debug("no config file given, hot reload disabled")
		app.reloadMetrics.watcherStatus.Set(0)
		return nil
	}

	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		logger.Info("configuration changed, reloading")
		reloadComponents(app, newCfg, logger)
	}, config.WithWatcherLogger(logger))

	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		app.reloadMetrics.watcherStatus.Set(0)
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		app.reloadMetrics.watcherStatus.Set(0)
		return watcher
	}

	app.reloadMetrics.watcherStatus.Set(1)
	return watcher
}

// reloadComponents applies a freshly loaded configuration to the
// running components. Only the log level, access list contents, and
// rate limit ceiling are adjustable at runtime; changes to anything
// fixed at startup produce a warning naming the section.
func reloadComponents(app *application, newCfg *config.Config, logger observability.Logger) {
	if newCfg.Log.Level != app.config.Log.Level {
		if err := logger.SetLevel(newCfg.Log.Level); err != nil {
			logger.Warn("invalid log level in reloaded configuration",
				observability.String("level", newCfg.Log.Level),
				observability.Error(err),
			)
		} else {
			logger.Info("log level updated",
				observability.String("level", newCfg.Log.Level),
			)
		}
	}

	if err := app.server.Reload(newCfg); err != nil {
		logger.Error("failed to reload server configuration", observability.Error(err))
		app.reloadMetrics.reloadTotal.WithLabelValues("error").Inc()
		return
	}

	warnStaticChanges(app.config, newCfg, logger)

	app.config = newCfg
	app.reloadMetrics.reloadTotal.WithLabelValues("success").Inc()
	logger.Info("configuration reloaded")
}

// warnStaticChanges flags edits to configuration sections that are
// fixed at startup, so an operator watching the logs knows a restart is
// needed for them to take effect.
func warnStaticChanges(oldCfg, newCfg *config.Config, logger observability.Logger) {
	sections := []struct {
		name          string
		before, after any
	}{
		{"server", oldCfg.Server, newCfg.Server},
		{"store", oldCfg.Store, newCfg.Store},
		{"realtime", oldCfg.Realtime, newCfg.Realtime},
		{"credential", oldCfg.Credential, newCfg.Credential},
		{"metrics", oldCfg.Metrics, newCfg.Metrics},
		{"tracing", oldCfg.Tracing, newCfg.Tracing},
		{"stats", oldCfg.Stats, newCfg.Stats},
	}
	for _, section := range sections {
		if configSectionChanged(section.before, section.after) {
			logger.Warn("configuration section changed but is fixed at startup; restart to apply",
				observability.String("section", section.name),
			)
		}
	}

	if oldCfg.Log.Format != newCfg.Log.Format || oldCfg.Log.Output != newCfg.Log.Output {
		logger.Warn("log format and output are fixed at startup; restart to apply")
	}

	if pipelineShapeChanged(oldCfg, newCfg) {
		logger.Warn("pipeline stage composition changed but is fixed at startup; restart to apply")
	}
}

// pipelineShapeChanged reports whether the pipeline configuration
// changed beyond its runtime-adjustable parts, which are the rate limit
// ceiling and window and the access list contents.
func pipelineShapeChanged(oldCfg, newCfg *config.Config) bool {
	a, b := oldCfg.Pipeline, newCfg.Pipeline
	a.RateLimit.MaxRequests, b.RateLimit.MaxRequests = 0, 0
	a.RateLimit.TimeMS, b.RateLimit.TimeMS = 0, 0
	a.Access.Blacklist, b.Access.Blacklist = nil, nil
	a.Access.Whitelist, b.Access.Whitelist = nil, nil
	return configSectionChanged(a, b)
}

// configSectionHash computes a SHA-256 hash of a configuration section
// for fast change detection.
func configSectionHash(v any) ([sha256.Size]byte, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return [sha256.Size]byte{}, false
	}
	return sha256.Sum256(data), true
}

// configSectionChanged compares two configuration sections by hash,
// falling back to reflect.DeepEqual when a section cannot be marshaled.
func configSectionChanged(oldSection, newSection any) bool {
	oldHash, oldOK := configSectionHash(oldSection)
	newHash, newOK := configSectionHash(newSection)
	if oldOK && newOK {
		return oldHash != newHash
	}
	return !reflect.DeepEqual(oldSection, newSection)
}
