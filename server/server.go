package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaykit/relay"
	"github.com/relaykit/relay/config"
	"github.com/relaykit/relay/middleware"
	"github.com/relaykit/relay/observability"
	"github.com/relaykit/relay/realtime"
	"github.com/relaykit/relay/router"
	"github.com/relaykit/relay/stats"
	"github.com/relaykit/relay/store"
)

// Lifecycle errors.
var (
	// ErrAlreadyStarted indicates Start was called on a running server.
	ErrAlreadyStarted = errors.New("server already started")

	// ErrNotRunning indicates Shutdown was called on a stopped server.
	ErrNotRunning = errors.New("server not running")
)

// State represents the server lifecycle state.
type State int32

const (
	// StateStopped indicates the server is stopped.
	StateStopped State = iota
	// StateStarting indicates the server is starting.
	StateStarting
	// StateRunning indicates the server is running.
	StateRunning
	// StateStopping indicates the server is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Server is the service core: a versioned route table dispatched
// through the middleware pipeline, with an optional realtime channel.
// It implements http.Handler and is usable without Start.
type Server struct {
	cfg      *config.Config
	logger   observability.Logger
	table    *router.Table
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	store    store.Store
	recorder stats.Recorder
	registry *realtime.Registry

	access    *middleware.AccessList
	extractor *middleware.AddrExtractor
	limiter   *middleware.LocalLimiter

	mu          sync.RWMutex
	builtins    []relay.Handler
	userStages  []relay.Handler
	contextHook func(*relay.Context)
	listenAddr  string

	httpServer *http.Server
	state      atomic.Int32
	startTime  time.Time
}

// Option is a functional option for configuring the server.
type Option func(*Server)

// WithLogger sets the logger for the server and every component it
// builds.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStore attaches a record store. When rate limiting is enabled the
// pipeline counts requests in it; without a store the limiter falls
// back to in-process token buckets.
func WithStore(st store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// WithStats attaches a request recorder fed with every completed
// dispatch.
func WithStats(rec stats.Recorder) Option {
	return func(s *Server) {
		s.recorder = rec
	}
}

// WithContextHook sets a function that runs against each fresh Context
// before routing. The hook must mutate only the context it is given.
func WithContextHook(hook func(*relay.Context)) Option {
	return func(s *Server) {
		s.contextHook = hook
	}
}

// WithTracer attaches a tracer; each dispatch then runs inside a
// server span named after the matched route pattern.
func WithTracer(tracer *observability.Tracer) Option {
	return func(s *Server) {
		s.tracer = tracer
	}
}

// WithMetrics supplies a shared metrics instance instead of having the
// server build its own.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a server from configuration. The pipeline stages named
// by cfg.Pipeline are assembled once, in their fixed relative order;
// when cfg.Realtime is enabled the upgrade route is registered at the
// configured path, outside any API version.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		logger: observability.NopLogger(),
		table:  router.NewTable(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	s.access = middleware.NewAccessList()
	s.access.Blacklist(cfg.Pipeline.Access.Blacklist...)
	s.access.Whitelist(cfg.Pipeline.Access.Whitelist...)
	s.extractor = middleware.NewAddrExtractor(cfg.Server.TrustedProxies)

	s.table.SetVersion(cfg.Server.APIVersion)
	s.builtins = s.buildStages()

	if cfg.Realtime.Enabled {
		s.registry = realtime.NewRegistry(cfg.Realtime, s.logger)
		s.table.Register(router.MethodGet, cfg.Realtime.Path,
			s.registry.UpgradeHandler(), router.WithAPIVersion(""))
	}

	s.state.Store(int32(StateStopped))

	return s, nil
}

// buildStages assembles the enabled built-in stages. Client address
// resolution is always present: the rate limiter, the access gate, and
// the request log all key on the resolved address.
func (s *Server) buildStages() []relay.Handler {
	p := s.cfg.Pipeline
	stages := make([]relay.Handler, 0, 9)

	if p.Recovery {
		stages = append(stages, middleware.Recovery(s.logger))
	}
	if p.RequestID {
		stages = append(stages, middleware.RequestID())
	}
	stages = append(stages, middleware.ClientAddr(s.extractor))
	if p.Logging {
		stages = append(stages, middleware.Logging(s.logger))
	}
	if p.RateLimit.Enabled {
		if s.store != nil {
			stages = append(stages, middleware.RateLimit(s.store, p.RateLimit, s.logger))
		} else {
			s.limiter = middleware.NewLocalLimiter(p.RateLimit.MaxRequests, p.RateLimit.Window())
			stages = append(stages, middleware.LocalRateLimit(s.limiter, s.logger))
		}
	}
	if p.QueryParser {
		stages = append(stages, middleware.QueryParams())
	}
	if p.Body.Mode != "" && p.Body.Mode != config.BodyModeOff {
		stages = append(stages, middleware.BodyParser(p.Body, s.logger))
	}
	if p.ValidateParams {
		stages = append(stages, middleware.ValidateParams())
	}
	if p.Access.Mode != "" && p.Access.Mode != config.AccessModeNone {
		stages = append(stages, middleware.Gate(p.Access.Mode, s.access, s.logger))
	}

	return stages
}

// Register adds a route under the active API version and returns a
// builder for chaining sub-path registrations. Registering on a
// running server is permitted; the route is visible to subsequent
// requests.
func (s *Server) Register(method, path string, h relay.Handler, opts ...router.RegisterOption) *router.Builder {
	return s.table.Register(method, path, h, opts...)
}

// Use appends a handler to the global chain. It runs after the
// built-in stages and before the matched route handler, for every
// request, and participates in the usual Next continuation.
func (s *Server) Use(h relay.Handler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	s.userStages = append(s.userStages, h)
	s.mu.Unlock()
}

// SetAPIVersion changes the version qualifying subsequent
// registrations and request lookups. Already-registered routes keep
// their keys.
func (s *Server) SetAPIVersion(v string) {
	s.table.SetVersion(v)
}

// Blacklist adds identities to the deny list used by the access gate.
func (s *Server) Blacklist(identities ...string) {
	s.access.Blacklist(identities...)
}

// Whitelist adds identities to the allow list used by the access gate.
func (s *Server) Whitelist(identities ...string) {
	s.access.Whitelist(identities...)
}

// Reload applies the runtime-adjustable parts of cfg: access list
// contents and, when the local limiter is in use, the rate limit
// ceiling and window. Stage composition, listener addresses, the access
// mode, and the realtime channel are fixed at construction and keep
// their original settings.
func (s *Server) Reload(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	s.access.Blacklist(cfg.Pipeline.Access.Blacklist...)
	s.access.Whitelist(cfg.Pipeline.Access.Whitelist...)

	if s.limiter != nil && cfg.Pipeline.RateLimit.Enabled {
		s.limiter.UpdateLimits(cfg.Pipeline.RateLimit.MaxRequests, cfg.Pipeline.RateLimit.Window())
	}

	s.logger.Info("server configuration reloaded",
		observability.Int("blacklisted", len(cfg.Pipeline.Access.Blacklist)),
		observability.Int("whitelisted", len(cfg.Pipeline.Access.Whitelist)),
	)
	return nil
}

// Table returns the route table.
func (s *Server) Table() *router.Table {
	return s.table
}

// Realtime returns the connection registry, or nil when the realtime
// channel is disabled.
func (s *Server) Realtime() *realtime.Registry {
	return s.registry
}

// Metrics returns the server's metrics instance, for mounting its
// handler on an exposition endpoint.
func (s *Server) Metrics() *observability.Metrics {
	return s.metrics
}

// ServeHTTP dispatches one request through the pipeline. The route is
// resolved first so downstream stages can validate against its
// parameter rules; an unmatched request flows through the same stages
// into the uniform 400 fallback.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.metrics.IncActiveRequests()
	defer s.metrics.DecActiveRequests()

	c := relay.NewContext(w, r)
	c.SetLogger(s.logger)

	s.mu.RLock()
	hook := s.contextHook
	s.mu.RUnlock()
	if hook != nil {
		hook(c)
	}

	terminal := s.resolve(c)

	route := c.RoutePattern()
	if route == "" {
		route = observability.UnmatchedRoute
	}

	var span trace.Span
	if s.tracer != nil {
		var ctx context.Context
		ctx, span = s.tracer.StartSpan(c.Context(), r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("http.target", r.URL.Path),
			),
		)
		c.WithRequestContext(observability.ContextWithSpanIdentifiers(ctx, span))
	}

	c.Run(s.chain(terminal))

	status := c.Writer.Status()
	elapsed := time.Since(start)

	s.metrics.RecordRequest(r.Method, route, status, elapsed, int64(c.Writer.Size()))
	if s.recorder != nil {
		s.recorder.Record(route, status, elapsed)
	}

	if span != nil {
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// resolve looks the request up in the route table and binds the match
// onto the context: the route pattern, the extracted path parameters,
// and the parameter rules the validation stage enforces. Unmatched
// requests get the fallback handler.
func (s *Server) resolve(c *relay.Context) relay.Handler {
	match, ok := s.lookup(c.Request.Method, c.Request.URL.Path)
	if !ok {
		return fallback
	}

	reg := match.Registration
	c.SetRoutePattern(reg.Key)
	for name, value := range match.Params {
		c.SetParam(name, value)
	}
	if len(reg.Rules) > 0 {
		c.Set(middleware.RouteRulesKey, reg.Rules)
	}

	return reg.Handler
}

// lookup qualifies the request path with the table's active API
// version before consulting the table, so clients reach versioned
// routes without carrying the version prefix and SetAPIVersion steers
// which registration answers. A path that misses under the active
// version is retried as sent, keeping explicitly versioned URLs and
// version-free registrations (realtime, per-call overrides) reachable.
func (s *Server) lookup(method, path string) (*router.Match, bool) {
	if version := s.table.Version(); version != "" {
		if match, ok := s.table.Lookup(method, router.Qualify(version, path)); ok {
			return match, true
		}
	}
	return s.table.Lookup(method, path)
}

// fallback answers every unroutable request identically. A wrong path
// and a wrong method are indistinguishable to the caller.
func fallback(c *relay.Context) {
	c.Error(http.StatusBadRequest, relay.ErrNoRoute.Error())
}

// chain builds the per-request handler slice: built-in stages, then
// user stages, then the terminal handler.
func (s *Server) chain(terminal relay.Handler) []relay.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()

	handlers := make([]relay.Handler, 0, len(s.builtins)+len(s.userStages)+1)
	handlers = append(handlers, s.builtins...)
	handlers = append(handlers, s.userStages...)
	handlers = append(handlers, terminal)
	return handlers
}

// Start binds the configured listen address and begins serving. It
// returns once the listener is accepting connections; the accept loop
// runs in the background until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrAlreadyStarted
	}

	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddress,
		Handler:           s,
		ReadTimeout:       s.cfg.Server.ReadTimeout.Duration(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:       s.cfg.Server.IdleTimeout.Duration(),
		MaxHeaderBytes:    1 << 20,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Server.ListenAddress)
	if err != nil {
		s.state.Store(int32(StateStopped))
		return fmt.Errorf("listen on %s: %w", s.cfg.Server.ListenAddress, err)
	}

	s.mu.Lock()
	s.httpServer = srv
	s.listenAddr = ln.Addr().String()
	s.mu.Unlock()

	s.startTime = time.Now()
	s.state.Store(int32(StateRunning))

	s.logger.Info("server started",
		observability.String("address", ln.Addr().String()),
		observability.String("api_version", s.table.Version()),
		observability.Int("routes", s.table.Len()),
	)

	go s.serve(srv, ln)

	return nil
}

func (s *Server) serve(srv *http.Server, ln net.Listener) {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("server accept loop failed", observability.Error(err))
	}
}

// Shutdown stops the server gracefully: realtime connections get close
// frames, in-flight requests drain, then the limiter and the store are
// released. Without a deadline on ctx the configured shutdown timeout
// applies.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrNotRunning
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
	}

	s.logger.Info("server stopping")

	if s.registry != nil {
		if err := s.registry.Shutdown(ctx); err != nil {
			s.logger.Warn("realtime shutdown incomplete", observability.Error(err))
		}
	}

	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
		if err != nil {
			if closeErr := srv.Close(); closeErr != nil {
				err = errors.Join(err, closeErr)
			}
		}
	}

	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.store != nil {
		if closeErr := s.store.Close(); closeErr != nil {
			s.logger.Warn("store close failed", observability.Error(closeErr))
		}
	}

	s.state.Store(int32(StateStopped))
	s.logger.Info("server stopped")

	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	return s.State() == StateRunning
}

// Addr returns the bound listen address, or the empty string before
// Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listenAddr
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}
