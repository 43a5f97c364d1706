package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Retry.BaseDelay != time.Second || cfg.Retry.MaxDelay != 10*time.Second || cfg.Retry.MaxAttempts != 3 {
		t.Errorf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.HITL.Timeout != 30*time.Minute {
		t.Errorf("expected hitl timeout 30m, got %v", cfg.HITL.Timeout)
	}
	if cfg.HITL.SweepInterval != 5*time.Minute {
		t.Errorf("expected sweep interval 5m, got %v", cfg.HITL.SweepInterval)
	}
	if len(cfg.HITL.Rules) != 2 {
		t.Fatalf("expected 2 default rules, got %d", len(cfg.HITL.Rules))
	}
	if cfg.HITL.Rules[0].Threshold != 1500 {
		t.Errorf("expected threshold 1500, got %v", cfg.HITL.Rules[0].Threshold)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
store:
  driver: sqlite
sqlite:
  path: /tmp/flowgate.db
hitl:
  timeout: 10m
  webhook_secret: s3cret
  rules:
    - name: big_pending_payment
      kind: all_of
      workflows: [create_and_send_facture]
      rules:
        - {kind: equals, field: payment_status, value: en_attente}
        - {kind: threshold, field: montant, threshold: 800}
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Store.Driver != "sqlite" || cfg.SQLite.Path != "/tmp/flowgate.db" {
		t.Errorf("unexpected store config: %+v %+v", cfg.Store, cfg.SQLite)
	}
	if cfg.HITL.Timeout != 10*time.Minute {
		t.Errorf("expected hitl timeout 10m, got %v", cfg.HITL.Timeout)
	}
	if len(cfg.HITL.Rules) != 1 || len(cfg.HITL.Rules[0].Rules) != 2 {
		t.Fatalf("expected one composite rule with two children, got %+v", cfg.HITL.Rules)
	}
	if cfg.HITL.Rules[0].Rules[1].Threshold != 800 {
		t.Errorf("expected nested threshold 800, got %v", cfg.HITL.Rules[0].Rules[1].Threshold)
	}
	// Unchanged fields keep defaults
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("expected default max attempts, got %d", cfg.Retry.MaxAttempts)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	yamlPath := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(yamlPath, []byte("server: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("FLOWGATE_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("FLOWGATE_HITL_TIMEOUT", "45m")
	t.Setenv("FLOWGATE_HITL_ENABLED", "false")
	t.Setenv("FLOWGATE_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("FLOWGATE_DATABASE_WORKER_URL", "http://db-worker:8000")
	t.Setenv("FLOWGATE_RETRY_BASE_DELAY", "not-a-duration")
	t.Setenv("FLOWGATE_RATE_LIMIT", "60")
	t.Setenv("SUPABASE_PAT", "sbp_test")
	t.Setenv("SUPABASE_PROJECT_REF", "abcdefgh")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.HITL.Timeout != 45*time.Minute {
		t.Errorf("expected hitl timeout 45m, got %v", cfg.HITL.Timeout)
	}
	if cfg.HITL.Enabled {
		t.Error("expected hitl disabled")
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Backends.DatabaseURL != "http://db-worker:8000" {
		t.Errorf("expected database worker URL, got %s", cfg.Backends.DatabaseURL)
	}
	if cfg.Server.RateLimit != 60 || cfg.Server.RateBurst != 200 {
		t.Errorf("unexpected rate limit %d/%d", cfg.Server.RateLimit, cfg.Server.RateBurst)
	}
	if !cfg.Supabase.Enabled() || cfg.Supabase.MCPURL != "https://mcp.supabase.com" {
		t.Errorf("expected supabase passthrough enabled, got %+v", cfg.Supabase)
	}
	// Unparseable values leave the default in place.
	if cfg.Retry.BaseDelay != time.Second {
		t.Errorf("expected base delay unchanged, got %v", cfg.Retry.BaseDelay)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "empty DSN",
			modify: func(c *Config) { c.Postgres.DSN = "" },
			errMsg: "postgres.dsn is required",
		},
		{
			name:   "unknown driver",
			modify: func(c *Config) { c.Store.Driver = "mysql" },
			errMsg: `store.driver "mysql" is not supported`,
		},
		{
			name:   "sqlite without path",
			modify: func(c *Config) { c.Store.Driver = "sqlite"; c.SQLite.Path = "" },
			errMsg: "sqlite.path is required",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "zero attempts",
			modify: func(c *Config) { c.Retry.MaxAttempts = 0 },
			errMsg: "retry.max_attempts must be >= 1",
		},
		{
			name:   "max delay below base",
			modify: func(c *Config) { c.Retry.MaxDelay = c.Retry.BaseDelay / 2 },
			errMsg: "retry delays must satisfy 0 < base_delay <= max_delay",
		},
		{
			name:   "zero timeout",
			modify: func(c *Config) { c.HITL.Timeout = 0 },
			errMsg: "hitl.timeout must be positive",
		},
		{
			name:   "negative rate limit",
			modify: func(c *Config) { c.Server.RateLimit = -1 },
			errMsg: "server.rate_limit and server.rate_burst must be >= 0",
		},
		{
			name:   "rate limit without burst",
			modify: func(c *Config) { c.Server.RateBurst = 0 },
			errMsg: "server.rate_burst must be >= 1 when rate limiting is on",
		},
		{
			name: "supabase relative url",
			modify: func(c *Config) {
				c.Supabase = Supabase{MCPURL: "mcp.supabase.com", PAT: "sbp_x", ProjectRef: "abc", Timeout: time.Minute}
			},
			errMsg: `supabase.mcp_url "mcp.supabase.com" is not an absolute URL`,
		},
		{
			name:   "unknown notifier",
			modify: func(c *Config) { c.HITL.Notifier = "pager" },
			errMsg: `hitl.notifier "pager" is not supported`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateCollectsAll(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = ""
	cfg.HITL.SweepInterval = 0

	err := validate(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.port is required", "hitl.sweep_interval must be positive"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %q", want, err.Error())
		}
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadFromUsesConfigEnv(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(yamlPath, []byte("server:\n  port: \"5555\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FLOWGATE_CONFIG", yamlPath)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "5555" {
		t.Errorf("expected port 5555 from custom YAML, got %s", cfg.Server.Port)
	}
}
