package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaykit/relay/config"
	"github.com/relaykit/relay/observability"
)

// run starts every listener and blocks until a shutdown signal arrives.
func run(app *application, configPath string, logger observability.Logger) {
	ctx := context.Background()

	if err := app.server.Start(ctx); err != nil {
		logger.Fatal("failed to start server", observability.Error(err))
	}

	if app.config.Stats.Enabled {
		app.sampler.Start()
	}

	startHealthServer(app, logger)
	startMetricsServerIfEnabled(app, logger)
	watcher := startConfigWatcher(ctx, app, configPath, logger)

	waitForShutdown(app, watcher, logger)
}

// startHealthServer serves the liveness and readiness probes on the
// dedicated health address.
func startHealthServer(app *application, logger observability.Logger) {
	addr := app.config.Server.HealthAddress
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	app.checks.Routes(mux)

	app.healthServer = newAuxServer(addr, mux)

	logger.Info("starting health server", observability.String("address", addr))
	go serveAux(app.healthServer, "health", logger)
}

// startMetricsServerIfEnabled serves Prometheus exposition on the
// metrics address. The handler merges the server's own registry with
// the default one so package-level collectors appear alongside it.
func startMetricsServerIfEnabled(app *application, logger observability.Logger) {
	if !app.config.Metrics.Enabled {
		return
	}

	addr := app.config.Metrics.Address
	if addr == "" {
		addr = ":9090"
	}
	path := app.config.Metrics.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(
		prometheus.Gatherers{
			app.server.Metrics().Registry(),
			prometheus.DefaultGatherer,
		},
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))

	app.metricsServer = newAuxServer(addr, mux)

	logger.Info("starting metrics server",
		observability.String("address", addr),
		observability.String("path", path),
	)
	go serveAux(app.metricsServer, "metrics", logger)
}

func newAuxServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

func serveAux(srv *http.Server, name string, logger observability.Logger) {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(name+" server error", observability.Error(err))
	}
}

// waitForShutdown waits for a shutdown signal and performs graceful
// shutdown: the watcher stops first, then the auxiliary listeners and
// the sampler, then the server drains its requests and closes realtime
// connections and the store, and the tracer flushes last.
func waitForShutdown(app *application, watcher *config.Watcher, logger observability.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	timeout := app.config.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	if app.metricsServer != nil {
		if err := app.metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to stop metrics server gracefully", observability.Error(err))
		}
	}
	if app.healthServer != nil {
		if err := app.healthServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to stop health server gracefully", observability.Error(err))
		}
	}

	app.sampler.Stop()

	if err := app.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop server gracefully", observability.Error(err))
	}

	if err := app.tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	logger.Info("relayd stopped")
}
