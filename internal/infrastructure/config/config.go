package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for meshlink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Relay     RelayConfig     `yaml:"relay"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// DeviceConfig identifies the companion radio.
type DeviceConfig struct {
	// Port is a serial device (/dev/ttyUSB0, COM3) or tcp://host:port.
	Port     string `yaml:"port"`
	Baudrate int    `yaml:"baudrate"`

	// AppName is announced to the radio on connect.
	AppName string `yaml:"app_name"`

	// ResponseTimeout bounds each command/response exchange with the radio.
	ResponseTimeout time.Duration `yaml:"response_timeout"`

	// FetchInterval is the safety poll for queued messages.
	FetchInterval time.Duration `yaml:"fetch_interval"`

	// ContactsTTL is how long the radio's contact list is cached.
	ContactsTTL time.Duration `yaml:"contacts_ttl"`
}

// RelayConfig contains connection lifecycle timings.
type RelayConfig struct {
	CreateAttempts   int                  `yaml:"create_attempts"`
	CreateDelay      time.Duration        `yaml:"create_delay"`
	StabilizeDelay   time.Duration        `yaml:"stabilize_delay"`
	InitAttempts     int                  `yaml:"init_attempts"`
	InitDelay        time.Duration        `yaml:"init_delay"`
	NotReadyDelay    time.Duration        `yaml:"not_ready_delay"`
	ErrorPollTimeout time.Duration        `yaml:"error_poll_timeout"`
	SelfInfoTimeout  time.Duration        `yaml:"self_info_timeout"`
	Timeouts         RelayTimeoutConfig   `yaml:"timeouts"`
	Reconnect        RelayReconnectConfig `yaml:"reconnect"`

	// HealthInterval is how often relay health is published over MQTT.
	HealthInterval time.Duration `yaml:"health_interval"`

	// PollInterval is how often the persistence consumer drains the inbox.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// RelayTimeoutConfig contains caller-side timeouts for relay operations.
type RelayTimeoutConfig struct {
	Start    time.Duration `yaml:"start"`
	Send     time.Duration `yaml:"send"`
	Identity time.Duration `yaml:"identity"`
	Cleanup  time.Duration `yaml:"cleanup"`
	Join     time.Duration `yaml:"join"`
}

// RelayReconnectConfig contains automatic reconnection settings.
type RelayReconnectConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig limits outbound sends through the API.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MESHLINK_SECTION_KEY
// For example: MESHLINK_DEVICE_PORT, MESHLINK_DATABASE_PATH.
// MESHCORE_PORT and MESHCORE_BAUDRATE are also honoured.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the default configuration with environment overrides
// applied, for running without a config file.
func Default() (*Config, error) {
	cfg := defaultConfig()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Port:            "/dev/ttyUSB0",
			Baudrate:        115200,
			AppName:         "meshlink",
			ResponseTimeout: 5 * time.Second,
			FetchInterval:   30 * time.Second,
			ContactsTTL:     60 * time.Second,
		},
		Relay: RelayConfig{
			CreateAttempts:   3,
			CreateDelay:      2 * time.Second,
			StabilizeDelay:   2 * time.Second,
			InitAttempts:     3,
			InitDelay:        2 * time.Second,
			NotReadyDelay:    5 * time.Second,
			ErrorPollTimeout: 1 * time.Second,
			SelfInfoTimeout:  5 * time.Second,
			Timeouts: RelayTimeoutConfig{
				Start:    30 * time.Second,
				Send:     10 * time.Second,
				Identity: 5 * time.Second,
				Cleanup:  5 * time.Second,
				Join:     2 * time.Second,
			},
			Reconnect: RelayReconnectConfig{
				Enabled:      false,
				MaxAttempts:  5,
				InitialDelay: 5 * time.Second,
				MaxDelay:     2 * time.Minute,
			},
			HealthInterval: 30 * time.Second,
			PollInterval:   100 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Path:        "./data/meshlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "meshlink",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 30,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Legacy MESHCORE_* variables are applied first so MESHLINK_* wins.
func applyEnvOverrides(cfg *Config) error {
	// Device
	if v := os.Getenv("MESHCORE_PORT"); v != "" {
		cfg.Device.Port = v
	}
	if v := os.Getenv("MESHLINK_DEVICE_PORT"); v != "" {
		cfg.Device.Port = v
	}
	for _, name := range []string{"MESHCORE_BAUDRATE", "MESHLINK_DEVICE_BAUDRATE"} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		baud, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid baud rate %q", name, v)
		}
		cfg.Device.Baudrate = baud
	}

	// Database
	if v := os.Getenv("MESHLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("MESHLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MESHLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MESHLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("MESHLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("MESHLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device validation
	if c.Device.Port == "" {
		errs = append(errs, "device.port is required")
	}
	if c.Device.Baudrate <= 0 && !strings.HasPrefix(c.Device.Port, "tcp://") {
		errs = append(errs, "device.baudrate must be positive for serial ports")
	}

	// Relay validation
	if c.Relay.CreateAttempts < 1 {
		errs = append(errs, "relay.create_attempts must be at least 1")
	}
	if c.Relay.InitAttempts < 1 {
		errs = append(errs, "relay.init_attempts must be at least 1")
	}
	if c.Relay.Timeouts.Start <= 0 || c.Relay.Timeouts.Send <= 0 ||
		c.Relay.Timeouts.Identity <= 0 || c.Relay.Timeouts.Cleanup <= 0 || c.Relay.Timeouts.Join <= 0 {
		errs = append(errs, "relay.timeouts must all be positive")
	}
	if c.Relay.Reconnect.Enabled {
		if c.Relay.Reconnect.MaxAttempts < 1 {
			errs = append(errs, "relay.reconnect.max_attempts must be at least 1 when enabled")
		}
		if c.Relay.Reconnect.MaxDelay < c.Relay.Reconnect.InitialDelay {
			errs = append(errs, "relay.reconnect.max_delay must not be less than initial_delay")
		}
	}
	if c.Relay.PollInterval <= 0 {
		errs = append(errs, "relay.poll_interval must be positive")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Security validation
	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RequestsPerMinute < 1 {
		errs = append(errs, "security.rate_limit.requests_per_minute must be at least 1 when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
