package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
database:
  default_path: "/tmp/test.db"
  create_if_missing: false
  wal_mode: true
mqtt:
  enabled: true
  broker:
    host: "localhost"
    client_id: "test-client"
  topic_prefix: "tools/sqlite"
api:
  enabled: true
  port: 9090
`)

	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.DefaultPath != "/tmp/test.db" || cfg.Database.CreateIfMissing || !cfg.Database.WALMode {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.MQTT.TopicPrefix != "tools/sqlite" || cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if cfg.API.Port != 9090 || cfg.API.Host != "127.0.0.1" {
		t.Errorf("API host/port = %s:%d", cfg.API.Host, cfg.API.Port)
	}
	if !cfg.Transport.Stdio {
		t.Error("unset transport.stdio lost its default")
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := map[string]string{
		"missing file":      filepath.Join(t.TempDir(), "absent.yaml"),
		"invalid yaml":      writeConfig(t, "invalid: [yaml: content"),
		"fails validation":  writeConfig(t, "database:\n  default_path: \"\"\n"),
		"unparseable value": writeConfig(t, "api:\n  port: eighty\n"),
	}
	for name, path := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(path, false); err == nil {
				t.Error("Load() error = nil")
			}
		})
	}
}

func TestLoad_MissingOptionalFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), true)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database != defaultConfig().Database {
		t.Errorf("Database = %+v, want defaults", cfg.Database)
	}
}

// configs/config.yaml documents the defaults and must agree with them.
func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "config.yaml"), false)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := defaultConfig()
	if cfg.Database != want.Database {
		t.Errorf("Database = %+v, want %+v", cfg.Database, want.Database)
	}
	if cfg.Transport != want.Transport || cfg.WebSocket != want.WebSocket {
		t.Errorf("Transport/WebSocket differ from defaults: %+v %+v", cfg.Transport, cfg.WebSocket)
	}
	if cfg.MQTT.Enabled || cfg.API.Enabled || cfg.InfluxDB.Enabled || cfg.Security.JWT.Required {
		t.Error("shipped config should enable only the stdio transport")
	}
	if cfg.Database.CreateIfMissing {
		t.Error("shipped config creates missing stores")
	}
}

func TestDatabaseConfig_RootDir(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{"defaults to store directory", DatabaseConfig{DefaultPath: "./data/sqlitetool.db"}, "data"},
		{"explicit root", DatabaseConfig{DefaultPath: "./data/sqlitetool.db", Root: "/srv/stores"}, "/srv/stores"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.RootDir(); got != tt.want {
				t.Errorf("RootDir() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.DefaultPath = "" },
			wantErr: true,
		},
		{
			name:    "negative busy timeout",
			mutate:  func(c *Config) { c.Database.BusyTimeout = -1 },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name: "mqtt enabled without topic prefix",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.TopicPrefix = ""
			},
			wantErr: true,
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "zero websocket ping interval",
			mutate:  func(c *Config) { c.WebSocket.PingInterval = 0 },
			wantErr: true,
		},
		{
			name:    "zero websocket message size",
			mutate:  func(c *Config) { c.WebSocket.MaxMessageSize = 0 },
			wantErr: true,
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
		{
			name:    "jwt required without secret",
			mutate:  func(c *Config) { c.Security.JWT.Required = true },
			wantErr: true,
		},
		{
			name: "jwt secret too short",
			mutate: func(c *Config) {
				c.Security.JWT.Required = true
				c.Security.JWT.Secret = "short"
			},
			wantErr: true,
		},
		{
			name: "jwt required with valid secret",
			mutate: func(c *Config) {
				c.Security.JWT.Required = true
				c.Security.JWT.Secret = validJWTSecret
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAPITimeoutConfig_Durations(t *testing.T) {
	timeouts := APITimeoutConfig{Read: 30, Write: 45, Idle: 60}

	got := []time.Duration{timeouts.ReadTimeout(), timeouts.WriteTimeout(), timeouts.IdleTimeout()}
	want := []time.Duration{30 * time.Second, 45 * time.Second, time.Minute}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("timeout %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	tests := []struct {
		key, value string
		check      func(*Config) bool
	}{
		{"SQLITETOOL_DATABASE_PATH", "/custom/path.db", func(c *Config) bool { return c.Database.DefaultPath == "/custom/path.db" }},
		{"SQLITETOOL_DATABASE_ROOT", "/srv/stores", func(c *Config) bool { return c.Database.Root == "/srv/stores" }},
		{"SQLITETOOL_STDIO", "false", func(c *Config) bool { return !c.Transport.Stdio }},
		{"SQLITETOOL_MQTT_ENABLED", "true", func(c *Config) bool { return c.MQTT.Enabled }},
		{"SQLITETOOL_MQTT_HOST", "mqtt.example.com", func(c *Config) bool { return c.MQTT.Broker.Host == "mqtt.example.com" }},
		{"SQLITETOOL_MQTT_USERNAME", "svc", func(c *Config) bool { return c.MQTT.Auth.Username == "svc" }},
		{"SQLITETOOL_MQTT_PASSWORD", "pw", func(c *Config) bool { return c.MQTT.Auth.Password == "pw" }},
		{"SQLITETOOL_API_ENABLED", "1", func(c *Config) bool { return c.API.Enabled }},
		{"SQLITETOOL_API_HOST", "192.168.1.1", func(c *Config) bool { return c.API.Host == "192.168.1.1" }},
		{"SQLITETOOL_API_PORT", "9191", func(c *Config) bool { return c.API.Port == 9191 }},
		{"SQLITETOOL_INFLUXDB_ENABLED", "true", func(c *Config) bool { return c.InfluxDB.Enabled }},
		{"SQLITETOOL_INFLUXDB_TOKEN", "secret-token", func(c *Config) bool { return c.InfluxDB.Token == "secret-token" }},
		{"SQLITETOOL_LOG_LEVEL", "debug", func(c *Config) bool { return c.Logging.Level == "debug" }},
		{"SQLITETOOL_JWT_SECRET", "jwt-secret", func(c *Config) bool { return c.Security.JWT.Secret == "jwt-secret" }},
	}

	for _, tt := range tests {
		t.Run(strings.TrimPrefix(tt.key, "SQLITETOOL_"), func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg := defaultConfig()
			applyEnvOverrides(cfg)
			if !tt.check(cfg) {
				t.Errorf("%s=%q not applied", tt.key, tt.value)
			}
		})
	}
}

func TestApplyEnvOverrides_IgnoresUnparseable(t *testing.T) {
	t.Setenv("SQLITETOOL_API_PORT", "http")
	t.Setenv("SQLITETOOL_STDIO", "maybe")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.API.Port != 8080 || !cfg.Transport.Stdio {
		t.Errorf("unparseable values changed config: port=%d stdio=%v", cfg.API.Port, cfg.Transport.Stdio)
	}
}

func TestEnvOverridesUseProjectPrefix(t *testing.T) {
	for key := range envOverrides {
		if !strings.HasPrefix(key, "SQLITETOOL_") {
			t.Errorf("override %q lacks the SQLITETOOL_ prefix", key)
		}
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Database.DefaultPath = ""
	cfg.API.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{"database.default_path", "api.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
