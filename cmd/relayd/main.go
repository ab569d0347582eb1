// Package main is the entry point for the relayd demo service. It
// wires the relay service core into a runnable binary: HTTP API with
// login and token-gated routes, a realtime channel broadcasting
// periodic system stats, health and metrics endpoints, and a config
// watcher applying runtime-adjustable settings without a restart.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/relaykit/relay/config"
	"github.com/relaykit/relay/credential"
	"github.com/relaykit/relay/health"
	"github.com/relaykit/relay/observability"
	"github.com/relaykit/relay/server"
	"github.com/relaykit/relay/stats"
	"github.com/relaykit/relay/store"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	assetsDir   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()
	observability.SetGlobalLogger(logger)

	logger.Info("starting relayd",
		observability.String("version", version),
		observability.String("config", flags.configPath),
		observability.String("listen_address", cfg.Server.ListenAddress),
		observability.String("api_version", cfg.Server.APIVersion),
		observability.String("store", cfg.Store.Type),
		observability.Bool("realtime", cfg.Realtime.Enabled),
	)

	app := initApplication(cfg, logger)
	registerRoutes(app, flags.assetsDir)

	run(app, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("RELAY_CONFIG_PATH", ""),
		"Path to configuration file (empty runs on defaults and environment)")
	assetsDir := flag.String("assets", getEnvOrDefault("RELAY_ASSETS_DIR", "web"),
		"Directory holding static assets served by the dashboard route")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		assetsDir:   *assetsDir,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("relayd version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger from the loaded configuration.
func initLogger(cfg config.LogConfig) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: cfg.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// application holds all application components.
type application struct {
	config        *config.Config
	logger        observability.Logger
	server        *server.Server
	store         store.Store
	credentials   credential.Service
	users         map[string]string
	recorder      *stats.RollingRecorder
	sampler       *stats.Sampler
	checks        *health.Handler
	tracer        *observability.Tracer
	reloadMetrics *reloadMetrics
	healthServer  *http.Server
	metricsServer *http.Server
}

// initApplication initializes all application components.
func initApplication(cfg *config.Config, logger observability.Logger) *application {
	st, err := store.New(&cfg.Store, logger)
	if err != nil {
		logger.Fatal("failed to create store", observability.Error(err))
	}

	tracer := initTracer(cfg, logger)
	recorder := stats.NewRollingRecorder()

	srv, err := server.New(cfg,
		server.WithLogger(logger),
		server.WithStore(st),
		server.WithStats(recorder),
		server.WithTracer(tracer),
	)
	if err != nil {
		logger.Fatal("failed to create server", observability.Error(err))
	}
	srv.Metrics().SetBuildInfo(version, gitCommit, buildTime)

	app := &application{
		config:   cfg,
		logger:   logger,
		server:   srv,
		store:    st,
		recorder: recorder,
		tracer:   tracer,
	}

	initCredentials(app, cfg, logger)
	app.sampler = stats.NewSampler(recorder, cfg.Stats, statsPublisher(app), logger)
	app.checks = initChecks(app, logger)
	app.reloadMetrics = newReloadMetrics(srv.Metrics())

	return app
}

// initCredentials builds the credential service when a secret is
// configured and seeds the demo user table. Without a secret the login
// and token-gated routes stay unregistered.
func initCredentials(app *application, cfg *config.Config, logger observability.Logger) {
	if cfg.Credential.Secret == "" {
		logger.Warn("credential secret not configured, login routes disabled")
		return
	}

	creds, err := credential.NewHMACService(cfg.Credential, logger)
	if err != nil {
		logger.Fatal("failed to create credential service", observability.Error(err))
	}

	users, err := seedDemoUsers(creds, logger)
	if err != nil {
		logger.Fatal("failed to seed demo users", observability.Error(err))
	}

	app.credentials = creds
	app.users = users
}

// initTracer initializes the tracer.
func initTracer(cfg *config.Config, logger observability.Logger) *observability.Tracer {
	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		Enabled:      cfg.Tracing.Enabled,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
	})
	if err != nil {
		logger.Fatal("failed to initialize tracer", observability.Error(err))
	}
	return tracer
}

// initChecks builds the readiness checks backing the health endpoints.
func initChecks(app *application, logger observability.Logger) *health.Handler {
	checks := health.NewHandler(logger)
	checks.AddCheck(health.StoreCheck(app.store))
	if reg := app.server.Realtime(); reg != nil {
		checks.AddCheck(health.RealtimeCheck(reg, 0))
	}
	return checks
}

// statsPublisher returns the sampler callback fanning snapshots out to
// realtime subscribers of the configured stats topic.
func statsPublisher(app *application) func(stats.Snapshot) {
	reg := app.server.Realtime()
	if reg == nil {
		return nil
	}
	topic := app.config.Stats.Topic
	return func(snapshot stats.Snapshot) {
		data, err := json.Marshal(snapshot)
		if err != nil {
			app.logger.Error("stats snapshot marshal failed", observability.Error(err))
			return
		}
		reg.BroadcastTopic(topic, data)
	}
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
