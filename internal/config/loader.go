package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "opspilot.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "OPSPILOT_PORT")
	setString(&cfg.Server.CORSOrigin, "OPSPILOT_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "OPSPILOT_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "OPSPILOT_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "OPSPILOT_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "OPSPILOT_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "OPSPILOT_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.OpenRouter.URL, "OPENROUTER_URL")
	setString(&cfg.OpenRouter.APIKey, "OPENROUTER_API_KEY")
	setString(&cfg.OpenRouter.Model, "OPSPILOT_MODEL")
	setFloat64(&cfg.OpenRouter.Temperature, "OPSPILOT_MODEL_TEMPERATURE")
	setDuration(&cfg.OpenRouter.Timeout, "OPSPILOT_MODEL_TIMEOUT")
	setUint(&cfg.OpenRouter.MaxTries, "OPSPILOT_MODEL_MAX_TRIES")
	setString(&cfg.Knowledge.URL, "OPSPILOT_KNOWLEDGE_URL")
	setInt(&cfg.Knowledge.TopK, "OPSPILOT_KNOWLEDGE_TOP_K")
	setString(&cfg.Logging.Level, "OPSPILOT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "OPSPILOT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "OPSPILOT_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "OPSPILOT_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Cooldown, "OPSPILOT_BREAKER_COOLDOWN")
	setInt64(&cfg.Cache.MaxSizeMB, "OPSPILOT_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "OPSPILOT_CACHE_TTL")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.ServiceName, "OTEL_SERVICE_NAME")
	setStrings(&cfg.Orchestrator.MixedPhases, "OPSPILOT_ORCH_MIXED_PHASES")
	setDuration(&cfg.Orchestrator.RunTimeout, "OPSPILOT_ORCH_RUN_TIMEOUT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.OpenRouter.URL == "" {
		return errors.New("openrouter.url is required")
	}
	if cfg.Knowledge.URL == "" {
		return errors.New("knowledge.url is required")
	}
	if cfg.Knowledge.TopK < 1 {
		return errors.New("knowledge.top_k must be >= 1")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if len(cfg.Orchestrator.MixedPhases) == 0 {
		return errors.New("orchestrator.mixed_phases must not be empty")
	}
	for _, phase := range cfg.Orchestrator.MixedPhases {
		switch phase {
		case "compliance", "rca", "workflow":
		default:
			return fmt.Errorf("orchestrator.mixed_phases: unknown phase %q", phase)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStrings(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint(dst *uint, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
