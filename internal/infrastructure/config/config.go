package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// minJWTSecretLength keeps HS256 secrets out of offline brute-force range.
const minJWTSecretLength = 32

// Load builds a Config from defaults, then the YAML file at path, then
// SQLITETOOL_* environment variables, and validates the result. With
// optional set, a missing file leaves the defaults in place.
func Load(path string, optional bool) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DefaultPath: "./data/sqlitetool.db",
			BusyTimeout: 5,
		},
		Transport: TransportConfig{Stdio: true},
		MQTT: MQTTConfig{
			Broker:      MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "sqlitetool"},
			QoS:         1,
			TopicPrefix: "sqlitetool",
			Reconnect:   MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60},
		},
		API: APIConfig{
			Host:     "127.0.0.1",
			Port:     8080,
			Timeouts: APITimeoutConfig{Read: 30, Write: 30, Idle: 60},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 1 << 20,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging:  LoggingConfig{Level: "info", Format: "json", Output: "stderr"},
		Security: SecurityConfig{JWT: JWTConfig{AccessTokenTTL: 60}},
	}
}

// envOverrides maps SQLITETOOL_* variables onto fields. Empty values
// are ignored, as are values that do not parse.
var envOverrides = map[string]func(*Config, string){
	"SQLITETOOL_DATABASE_PATH":    func(c *Config, v string) { c.Database.DefaultPath = v },
	"SQLITETOOL_DATABASE_ROOT":    func(c *Config, v string) { c.Database.Root = v },
	"SQLITETOOL_STDIO":            func(c *Config, v string) { setBool(&c.Transport.Stdio, v) },
	"SQLITETOOL_MQTT_ENABLED":     func(c *Config, v string) { setBool(&c.MQTT.Enabled, v) },
	"SQLITETOOL_MQTT_HOST":        func(c *Config, v string) { c.MQTT.Broker.Host = v },
	"SQLITETOOL_MQTT_USERNAME":    func(c *Config, v string) { c.MQTT.Auth.Username = v },
	"SQLITETOOL_MQTT_PASSWORD":    func(c *Config, v string) { c.MQTT.Auth.Password = v },
	"SQLITETOOL_API_ENABLED":      func(c *Config, v string) { setBool(&c.API.Enabled, v) },
	"SQLITETOOL_API_HOST":         func(c *Config, v string) { c.API.Host = v },
	"SQLITETOOL_API_PORT":         func(c *Config, v string) { setInt(&c.API.Port, v) },
	"SQLITETOOL_INFLUXDB_ENABLED": func(c *Config, v string) { setBool(&c.InfluxDB.Enabled, v) },
	"SQLITETOOL_INFLUXDB_TOKEN":   func(c *Config, v string) { c.InfluxDB.Token = v },
	"SQLITETOOL_LOG_LEVEL":        func(c *Config, v string) { c.Logging.Level = v },
	"SQLITETOOL_JWT_SECRET":       func(c *Config, v string) { c.Security.JWT.Secret = v },
}

func applyEnvOverrides(cfg *Config) {
	for key, apply := range envOverrides {
		if v := os.Getenv(key); v != "" {
			apply(cfg, v)
		}
	}
}

func setBool(dst *bool, v string) {
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

func setInt(dst *int, v string) {
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// Validate reports every problem at once, joined with "; ".
func (c *Config) Validate() error {
	var errs []string
	check := func(bad bool, msg string) {
		if bad {
			errs = append(errs, msg)
		}
	}

	check(c.Database.DefaultPath == "", "database.default_path is required")
	check(c.Database.BusyTimeout < 0, "database.busy_timeout cannot be negative")

	check(c.MQTT.QoS < 0 || c.MQTT.QoS > 2, "mqtt.qos must be 0, 1, or 2")
	check(c.MQTT.Enabled && c.MQTT.TopicPrefix == "", "mqtt.topic_prefix is required when mqtt is enabled")

	check(c.API.Port < 1 || c.API.Port > 65535, "api.port must be between 1 and 65535")

	check(c.WebSocket.PingInterval <= 0 || c.WebSocket.PongTimeout <= 0,
		"websocket.ping_interval and websocket.pong_timeout must be positive")
	check(c.WebSocket.MaxMessageSize <= 0, "websocket.max_message_size must be positive")

	check(c.InfluxDB.Enabled && c.InfluxDB.URL == "", "influxdb.url is required when influxdb is enabled")

	if jwt := c.Security.JWT; jwt.Required {
		check(jwt.Secret == "",
			"security.jwt.secret is required when security.jwt.required is set (set SQLITETOOL_JWT_SECRET)")
		check(jwt.Secret != "" && len(jwt.Secret) < minJWTSecretLength,
			fmt.Sprintf("security.jwt.secret must be at least %d characters", minJWTSecretLength))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
