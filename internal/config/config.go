// Package config provides hierarchical configuration loading for OpsPilot.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the OpsPilot core service.
type Config struct {
	Server       Server       `yaml:"server"`
	Postgres     Postgres     `yaml:"postgres"`
	NATS         NATS         `yaml:"nats"`
	OpenRouter   OpenRouter   `yaml:"openrouter"`
	Knowledge    Knowledge    `yaml:"knowledge"`
	Logging      Logging      `yaml:"logging"`
	Breaker      Breaker      `yaml:"breaker"`
	Cache        Cache        `yaml:"cache"`
	Telemetry    Telemetry    `yaml:"telemetry"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Postgres holds PostgreSQL connection configuration. An empty DSN selects
// the in-memory approval and audit stores.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. An empty URL disables event
// publishing.
type NATS struct {
	URL string `yaml:"url"`
}

// OpenRouter holds model backend configuration.
type OpenRouter struct {
	URL         string        `yaml:"url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTries    uint          `yaml:"max_tries"`
}

// Knowledge holds knowledge service configuration.
type Knowledge struct {
	URL  string `yaml:"url"`
	TopK int    `yaml:"top_k"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit breaker configuration for model and knowledge calls.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// Cache holds retrieval cache configuration.
type Cache struct {
	MaxSizeMB int64         `yaml:"max_size_mb"`
	TTL       time.Duration `yaml:"ttl"`
}

// Telemetry holds OpenTelemetry export configuration. An empty endpoint
// disables export.
type Telemetry struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Orchestrator holds analysis pipeline configuration.
type Orchestrator struct {
	// MixedPhases lists the sub-analyses a mixed-intent run executes, in
	// order. Valid entries: "compliance", "rca", "workflow".
	MixedPhases []string `yaml:"mixed_phases"`

	// RunTimeout bounds one full pipeline run.
	RunTimeout time.Duration `yaml:"run_timeout"`

	// MaxConcurrentRuns caps how many runs may execute at once. Zero or
	// negative means unlimited.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Postgres: Postgres{
			DSN:             "",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			URL: "",
		},
		OpenRouter: OpenRouter{
			URL:         "https://openrouter.ai/api/v1",
			Model:       "anthropic/claude-sonnet-4",
			Temperature: 0.1,
			Timeout:     60 * time.Second,
			MaxTries:    3,
		},
		Knowledge: Knowledge{
			URL:  "http://localhost:8001",
			TopK: 5,
		},
		Logging: Logging{
			Level:   "info",
			Service: "opspilot-core",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Cooldown:    30 * time.Second,
		},
		Cache: Cache{
			MaxSizeMB: 64,
			TTL:       5 * time.Minute,
		},
		Telemetry: Telemetry{
			ServiceName: "opspilot-core",
		},
		Orchestrator: Orchestrator{
			MixedPhases:       []string{"compliance", "rca", "workflow"},
			RunTimeout:        5 * time.Minute,
			MaxConcurrentRuns: 8,
		},
	}
}
