package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "flowgate.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("FLOWGATE_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
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
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
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
	setString(&cfg.Server.Port, "FLOWGATE_PORT")
	setString(&cfg.Server.CORSOrigin, "FLOWGATE_CORS_ORIGIN")
	setString(&cfg.Server.APIKey, "FLOWGATE_API_KEY")
	setBool(&cfg.Server.MCPEnabled, "FLOWGATE_MCP_ENABLED")
	setInt(&cfg.Server.RateLimit, "FLOWGATE_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "FLOWGATE_RATE_BURST")
	setString(&cfg.Store.Driver, "FLOWGATE_STORE_DRIVER")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "FLOWGATE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "FLOWGATE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "FLOWGATE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "FLOWGATE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "FLOWGATE_PG_HEALTH_CHECK")
	setString(&cfg.SQLite.Path, "FLOWGATE_SQLITE_PATH")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "FLOWGATE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FLOWGATE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "FLOWGATE_LOG_ASYNC")

	// Backends
	setString(&cfg.Backends.RPCURL, "FLOWGATE_RPC_URL")
	setString(&cfg.Backends.RPCKey, "FLOWGATE_RPC_KEY")
	setString(&cfg.Backends.DatabaseURL, "FLOWGATE_DATABASE_WORKER_URL")
	setString(&cfg.Backends.DocumentURL, "FLOWGATE_DOCUMENT_WORKER_URL")
	setString(&cfg.Backends.StorageURL, "FLOWGATE_STORAGE_WORKER_URL")
	setString(&cfg.Backends.EmailURL, "FLOWGATE_EMAIL_WORKER_URL")
	setString(&cfg.Backends.WorkerAuthToken, "FLOWGATE_WORKER_AUTH_TOKEN")
	setDuration(&cfg.Backends.Timeout, "FLOWGATE_BACKEND_TIMEOUT")
	setInt(&cfg.Backends.MaxConns, "FLOWGATE_BACKEND_MAX_CONNS")

	setDuration(&cfg.Retry.BaseDelay, "FLOWGATE_RETRY_BASE_DELAY")
	setDuration(&cfg.Retry.MaxDelay, "FLOWGATE_RETRY_MAX_DELAY")
	setInt(&cfg.Retry.MaxAttempts, "FLOWGATE_RETRY_MAX_ATTEMPTS")
	setInt(&cfg.Breaker.MaxFailures, "FLOWGATE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "FLOWGATE_BREAKER_TIMEOUT")

	// HITL
	setBool(&cfg.HITL.Enabled, "FLOWGATE_HITL_ENABLED")
	setDuration(&cfg.HITL.Timeout, "FLOWGATE_HITL_TIMEOUT")
	setDuration(&cfg.HITL.SweepInterval, "FLOWGATE_HITL_SWEEP_INTERVAL")
	setString(&cfg.HITL.WebhookSecret, "FLOWGATE_HITL_WEBHOOK_SECRET")
	setInt64(&cfg.HITL.ResumeWorkers, "FLOWGATE_HITL_RESUME_WORKERS")
	setString(&cfg.HITL.Notifier, "FLOWGATE_HITL_NOTIFIER")
	setString(&cfg.HITL.NotifierTarget, "FLOWGATE_HITL_NOTIFIER_TARGET")

	setString(&cfg.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setString(&cfg.Telegram.WebhookSecret, "TELEGRAM_WEBHOOK_SECRET")
	setString(&cfg.Slack.WebhookURL, "SLACK_WEBHOOK_URL")

	setString(&cfg.Supabase.MCPURL, "SUPABASE_MCP_URL")
	setString(&cfg.Supabase.PAT, "SUPABASE_PAT")
	setString(&cfg.Supabase.ProjectRef, "SUPABASE_PROJECT_REF")
	setDuration(&cfg.Supabase.Timeout, "SUPABASE_MCP_TIMEOUT")

	setInt64(&cfg.Cache.MaxSizeMB, "FLOWGATE_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "FLOWGATE_CACHE_TTL")

	setBool(&cfg.OTEL.Enabled, "FLOWGATE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setFloat64(&cfg.OTEL.SampleRate, "FLOWGATE_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set and collects every violation.
func validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required"))
		}
		if cfg.Postgres.MaxConns < 1 {
			errs = append(errs, errors.New("postgres.max_conns must be >= 1"))
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, errors.New("sqlite.path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", cfg.Store.Driver))
	}
	if cfg.Server.RateLimit < 0 || cfg.Server.RateBurst < 0 {
		errs = append(errs, errors.New("server.rate_limit and server.rate_burst must be >= 0"))
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst < 1 {
		errs = append(errs, errors.New("server.rate_burst must be >= 1 when rate limiting is on"))
	}
	if cfg.Supabase.Enabled() {
		if u, err := url.Parse(cfg.Supabase.MCPURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("supabase.mcp_url %q is not an absolute URL", cfg.Supabase.MCPURL))
		}
		if cfg.Supabase.Timeout <= 0 {
			errs = append(errs, errors.New("supabase.timeout must be positive"))
		}
	}
	if cfg.Breaker.MaxFailures < 1 {
		errs = append(errs, errors.New("breaker.max_failures must be >= 1"))
	}
	if cfg.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be >= 1"))
	}
	if cfg.Retry.BaseDelay <= 0 || cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		errs = append(errs, errors.New("retry delays must satisfy 0 < base_delay <= max_delay"))
	}
	if cfg.HITL.Timeout <= 0 {
		errs = append(errs, errors.New("hitl.timeout must be positive"))
	}
	if cfg.HITL.SweepInterval <= 0 {
		errs = append(errs, errors.New("hitl.sweep_interval must be positive"))
	}
	if cfg.HITL.ResumeWorkers < 1 {
		errs = append(errs, errors.New("hitl.resume_workers must be >= 1"))
	}
	switch cfg.HITL.Notifier {
	case "", "telegram", "slack":
	default:
		errs = append(errs, fmt.Errorf("hitl.notifier %q is not supported", cfg.HITL.Notifier))
	}

	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
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
