// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  http_addr: "127.0.0.1:9090"

database:
  driver: "sqlite"
  path: "./test.db"

auth:
  jwt_secret: "a-very-long-secret-for-testing-purposes"

realtime:
  redis_url: "redis://localhost:6379/0"
  subscriber_buffer: 16
  ping_interval: "15s"

messaging:
  history_limit: 50
  max_content_length: 1000

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:9090")
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, DriverSQLite)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Realtime.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("Realtime.RedisURL = %q", cfg.Realtime.RedisURL)
	}
	if cfg.Realtime.SubscriberBuffer != 16 {
		t.Errorf("Realtime.SubscriberBuffer = %d, want 16", cfg.Realtime.SubscriberBuffer)
	}
	if cfg.Realtime.PingInterval != 15*time.Second {
		t.Errorf("Realtime.PingInterval = %v, want %v", cfg.Realtime.PingInterval, 15*time.Second)
	}
	if cfg.Messaging.HistoryLimit != 50 {
		t.Errorf("Messaging.HistoryLimit = %d, want 50", cfg.Messaging.HistoryLimit)
	}
	if cfg.Messaging.MaxContentLength != 1000 {
		t.Errorf("Messaging.MaxContentLength = %d, want 1000", cfg.Messaging.MaxContentLength)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "gateway.toml", `
[server]
http_addr = "127.0.0.1:7070"

[database]
driver = "postgres"
dsn = "postgres://lectern@localhost/lectern"

[auth]
jwt_secret = "a-very-long-secret-for-testing-purposes"

[realtime]
ping_interval = "45s"
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7070", cfg.Server.HTTPAddr)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://lectern@localhost/lectern", cfg.Database.DSN)
	assert.Equal(t, 45*time.Second, cfg.Realtime.PingInterval)
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
auth:
  jwt_secret: "a-very-long-secret-for-testing-purposes"
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.HTTPAddr)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, DefaultRelayChannel, cfg.Realtime.RedisChannel)
	assert.Equal(t, DefaultSubscriberBuffer, cfg.Realtime.SubscriberBuffer)
	assert.Equal(t, DefaultPingInterval, cfg.Realtime.PingInterval)
	assert.Equal(t, DefaultHistoryLimit, cfg.Messaging.HistoryLimit)
	assert.Equal(t, DefaultMaxContentLength, cfg.Messaging.MaxContentLength)
	assert.Equal(t, DefaultLoggingLevel, cfg.Logging.Level)
	assert.Equal(t, DefaultLoggingFormat, cfg.Logging.Format)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_LECTERN_SECRET", "secret-from-environment-0123456789")
	t.Setenv("TEST_LECTERN_DB", "/tmp/from-env.db")

	configPath := writeConfig(t, "config.yaml", `
database:
  path: "${TEST_LECTERN_DB}"
auth:
  jwt_secret: "${TEST_LECTERN_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != "secret-from-environment-0123456789" {
		t.Errorf("Auth.JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Database.Path != "/tmp/from-env.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/from-env.db")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
auth:
  jwt_secret: "${LECTERN_TEST_DEFINITELY_UNSET_VAR}"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() should fail when the secret expands to empty")
	}
	if !strings.Contains(err.Error(), "auth.jwt_secret") {
		t.Errorf("error = %v, want mention of auth.jwt_secret", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() should return error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", "server:\n  http_addr: [unclosed\n")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() should return error for invalid YAML")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
auth:
  jwt_secret: "a-very-long-secret-for-testing-purposes"
realtime:
  ping_interval: "soon"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() should return error for invalid duration")
	}
	if !strings.Contains(err.Error(), "ping_interval") {
		t.Errorf("error = %v, want mention of ping_interval", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Config{
			Database: DatabaseConfig{Path: "./test.db"},
			Auth:     AuthConfig{JWTSecret: "a-very-long-secret-for-testing-purposes"},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"tailscale replaces http addr", func(c *Config) {
			c.Server.HTTPAddr = ""
			c.Tailscale = TailscaleConfig{Enabled: true, Hostname: "lectern"}
		}, ""},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }, "database.dsn"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "auth.jwt_secret"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("LECTERN_EXPAND_A", "alpha")

	tests := []struct {
		input string
		want  string
	}{
		{"${LECTERN_EXPAND_A}", "alpha"},
		{"prefix-${LECTERN_EXPAND_A}-suffix", "prefix-alpha-suffix"},
		{"${LECTERN_EXPAND_UNSET}", ""},
		{"no vars here", "no vars here"},
		{"$LECTERN_EXPAND_A", "$LECTERN_EXPAND_A"},
	}

	for _, tt := range tests {
		if got := expandEnvVars(tt.input); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("LECTERN_CONFIG", "/etc/lectern/custom.yaml")
	assert.Equal(t, "/etc/lectern/custom.yaml", DefaultPath())

	t.Setenv("LECTERN_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "lectern", "gateway.yaml"), DefaultPath())
}
