// Package config provides configuration management for the relay
// service core. Configuration is assembled from defaults, an optional
// YAML file, an optional .env file, and process environment variables,
// in that order of precedence.
package config

import (
	"fmt"
	"time"
)

// Store backend types.
const (
	StoreTypeMemory = "memory"
	StoreTypeRedis  = "redis"
)

// Body parser modes.
const (
	BodyModeOff  = "off"
	BodyModeJSON = "json"
	BodyModeRaw  = "raw"
	BodyModeText = "text"
)

// Access gate modes.
const (
	AccessModeNone      = "none"
	AccessModeBlacklist = "blacklist"
	AccessModeWhitelist = "whitelist"
)

// Config holds all settings for the relay service core.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Store      StoreConfig      `yaml:"store"`
	Credential CredentialConfig `yaml:"credential"`
	Stats      StatsConfig      `yaml:"stats"`
}

// ServerConfig holds HTTP listener settings. TrustedProxies lists the
// CIDRs (or single addresses) whose X-Forwarded-For headers are honored
// when resolving client addresses; when empty only the socket peer
// address is used.
type ServerConfig struct {
	ListenAddress   string   `yaml:"listenAddress" env:"RELAY_LISTEN_ADDRESS"`
	HealthAddress   string   `yaml:"healthAddress" env:"RELAY_HEALTH_ADDRESS"`
	APIVersion      string   `yaml:"apiVersion" env:"RELAY_API_VERSION"`
	TrustedProxies  []string `yaml:"trustedProxies"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" env:"RELAY_LOG_LEVEL"`
	Format string `yaml:"format" env:"RELAY_LOG_FORMAT"`
	Output string `yaml:"output" env:"RELAY_LOG_OUTPUT"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"RELAY_METRICS_ENABLED"`
	Address   string `yaml:"address" env:"RELAY_METRICS_ADDRESS"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" env:"RELAY_TRACING_ENABLED"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" env:"RELAY_OTLP_ENDPOINT"`
	SamplingRate float64 `yaml:"samplingRate"`
	ServiceName  string  `yaml:"serviceName"`
}

// PipelineConfig toggles the built-in middleware stages. Stages run in
// a fixed relative order regardless of the order of these fields:
// recovery, request id, request logger, rate limiter, query parser,
// body parser, parameter validator, access gate.
type PipelineConfig struct {
	Recovery       bool             `yaml:"recovery"`
	RequestID      bool             `yaml:"requestId"`
	Logging        bool             `yaml:"logging"`
	RateLimit      RateLimitConfig  `yaml:"rateLimit"`
	QueryParser    bool             `yaml:"queryParser"`
	Body           BodyParserConfig `yaml:"body"`
	ValidateParams bool             `yaml:"validateParams"`
	Access         AccessConfig     `yaml:"access"`
}

// RateLimitConfig holds rate limiter settings. The window is expressed
// in milliseconds, matching the wire-level configuration surface.
type RateLimitConfig struct {
	Enabled     bool `yaml:"enabled" env:"RELAY_RATE_LIMIT_ENABLED"`
	MaxRequests int  `yaml:"maxRequests" env:"RELAY_RATE_LIMIT_MAX"`
	TimeMS      int  `yaml:"timeMs" env:"RELAY_RATE_LIMIT_TIME_MS"`
}

// Window returns the rate limit window as a time.Duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.TimeMS) * time.Millisecond
}

// BodyParserConfig holds body parser settings. Modes are mutually
// exclusive; "off" disables the stage.
type BodyParserConfig struct {
	Mode     string `yaml:"mode"`
	MaxBytes int64  `yaml:"maxBytes"`
}

// AccessConfig holds access gate settings and the initial list
// contents. Lists grow at runtime through the server API.
type AccessConfig struct {
	Mode      string   `yaml:"mode" env:"RELAY_ACCESS_MODE"`
	Blacklist []string `yaml:"blacklist"`
	Whitelist []string `yaml:"whitelist"`
}

// RealtimeConfig holds realtime channel settings.
type RealtimeConfig struct {
	Enabled        bool     `yaml:"enabled" env:"RELAY_REALTIME_ENABLED"`
	Path           string   `yaml:"path" env:"RELAY_REALTIME_PATH"`
	SendBuffer     int      `yaml:"sendBuffer"`
	MaxMessageSize int64    `yaml:"maxMessageSize"`
	WriteTimeout   Duration `yaml:"writeTimeout"`
	PongTimeout    Duration `yaml:"pongTimeout"`
	PingInterval   Duration `yaml:"pingInterval"`
}

// StoreConfig holds keyed record store settings.
type StoreConfig struct {
	Type            string        `yaml:"type" env:"RELAY_STORE_TYPE"`
	CleanupInterval Duration      `yaml:"cleanupInterval"`
	RecordTTL       Duration      `yaml:"recordTtl"`
	Redis           RedisConfig   `yaml:"redis"`
	Breaker         BreakerConfig `yaml:"breaker"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address     string   `yaml:"address" env:"RELAY_REDIS_ADDRESS"`
	Password    string   `yaml:"password" env:"RELAY_REDIS_PASSWORD"`
	DB          int      `yaml:"db" env:"RELAY_REDIS_DB"`
	DialTimeout Duration `yaml:"dialTimeout"`
	PoolSize    int      `yaml:"poolSize"`
}

// BreakerConfig holds circuit breaker settings for the store.
type BreakerConfig struct {
	Enabled     bool     `yaml:"enabled"`
	MaxRequests uint32   `yaml:"maxRequests"`
	Interval    Duration `yaml:"interval"`
	Timeout     Duration `yaml:"timeout"`
}

// CredentialConfig holds credential service settings.
type CredentialConfig struct {
	Secret     string   `yaml:"secret" env:"RELAY_CREDENTIAL_SECRET"`
	Issuer     string   `yaml:"issuer"`
	TokenTTL   Duration `yaml:"tokenTtl"`
	BcryptCost int      `yaml:"bcryptCost"`
}

// StatsConfig holds periodic system stats settings.
type StatsConfig struct {
	Enabled  bool     `yaml:"enabled" env:"RELAY_STATS_ENABLED"`
	Interval Duration `yaml:"interval"`
	Topic    string   `yaml:"topic"`
}

// Default returns the configuration defaults. Callers overlay file and
// environment values on top of it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:   ":8080",
			HealthAddress:   ":8081",
			APIVersion:      "",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			IdleTimeout:     Duration(120 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Address:   ":9090",
			Path:      "/metrics",
			Namespace: "relay",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			SamplingRate: 1.0,
			ServiceName:  "relay",
		},
		Pipeline: PipelineConfig{
			Recovery:  true,
			RequestID: true,
			Logging:   true,
			RateLimit: RateLimitConfig{
				Enabled:     false,
				MaxRequests: 100,
				TimeMS:      60000,
			},
			QueryParser: true,
			Body: BodyParserConfig{
				Mode:     BodyModeJSON,
				MaxBytes: 1 << 20,
			},
			ValidateParams: true,
			Access: AccessConfig{
				Mode: AccessModeNone,
			},
		},
		Realtime: RealtimeConfig{
			Enabled:        true,
			Path:           "/realtime",
			SendBuffer:     256,
			MaxMessageSize: 1 << 16,
			WriteTimeout:   Duration(10 * time.Second),
			PongTimeout:    Duration(60 * time.Second),
			PingInterval:   Duration(54 * time.Second),
		},
		Store: StoreConfig{
			Type:            StoreTypeMemory,
			CleanupInterval: Duration(time.Minute),
			RecordTTL:       Duration(24 * time.Hour),
			Redis: RedisConfig{
				Address:     "localhost:6379",
				DialTimeout: Duration(5 * time.Second),
				PoolSize:    10,
			},
			Breaker: BreakerConfig{
				Enabled:     true,
				MaxRequests: 1,
				Interval:    Duration(time.Minute),
				Timeout:     Duration(30 * time.Second),
			},
		},
		Credential: CredentialConfig{
			Issuer:     "relay",
			TokenTTL:   Duration(time.Hour),
			BcryptCost: 10,
		},
		Stats: StatsConfig{
			Enabled:  false,
			Interval: Duration(10 * time.Second),
			Topic:    "system.stats",
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server: listenAddress must not be empty")
	}

	if rl := c.Pipeline.RateLimit; rl.Enabled {
		if rl.MaxRequests <= 0 {
			return fmt.Errorf("pipeline: rateLimit.maxRequests must be positive, got %d", rl.MaxRequests)
		}
		if rl.TimeMS <= 0 {
			return fmt.Errorf("pipeline: rateLimit.timeMs must be positive, got %d", rl.TimeMS)
		}
	}

	switch c.Pipeline.Body.Mode {
	case BodyModeOff, BodyModeJSON, BodyModeRaw, BodyModeText:
	default:
		return fmt.Errorf("pipeline: unknown body mode %q", c.Pipeline.Body.Mode)
	}

	switch c.Pipeline.Access.Mode {
	case AccessModeNone, AccessModeBlacklist, AccessModeWhitelist:
	default:
		return fmt.Errorf("pipeline: unknown access mode %q", c.Pipeline.Access.Mode)
	}

	switch c.Store.Type {
	case StoreTypeMemory:
	case StoreTypeRedis:
		if c.Store.Redis.Address == "" {
			return fmt.Errorf("store: redis.address must not be empty for the redis backend")
		}
	default:
		return fmt.Errorf("store: unknown type %q", c.Store.Type)
	}

	if c.Realtime.Enabled {
		if c.Realtime.Path == "" || c.Realtime.Path[0] != '/' {
			return fmt.Errorf("realtime: path must start with '/', got %q", c.Realtime.Path)
		}
		if c.Realtime.SendBuffer <= 0 {
			return fmt.Errorf("realtime: sendBuffer must be positive, got %d", c.Realtime.SendBuffer)
		}
	}

	if c.Tracing.Enabled {
		if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
			return fmt.Errorf("tracing: samplingRate must be within [0,1], got %v", c.Tracing.SamplingRate)
		}
	}

	if c.Stats.Enabled && c.Stats.Interval.Duration() <= 0 {
		return fmt.Errorf("stats: interval must be positive")
	}

	return nil
}
