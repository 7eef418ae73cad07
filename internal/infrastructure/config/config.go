package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/radioswitch-bridge/internal/radio"
)

// DefaultPath is used when RADIOSWITCH_CONFIG is not set.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for the radio switch bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	GPIO      GPIOConfig      `yaml:"gpio"`
	Radio     RadioConfig     `yaml:"radio"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`

	// ClientID doubles as the bridge id in availability, health and
	// discovery topics.
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
// Credentials are only sent when both fields are set.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HasCredentials reports whether both username and password are set.
func (a MQTTAuthConfig) HasCredentials() bool {
	return a.Username != "" && a.Password != ""
}

// MQTTReconnectConfig contains reconnection settings, all in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`

	// MaxElapsed bounds the initial connect retry. 0 retries until shutdown.
	MaxElapsed int `yaml:"max_elapsed"`
}

// GPIOConfig identifies the transmitter data pin.
type GPIOConfig struct {
	Chip string `yaml:"chip"`
	Pin  int    `yaml:"pin"`
}

// RadioConfig contains protocol settings.
type RadioConfig struct {
	RepeatCount int `yaml:"repeat_count"`
}

// BridgeConfig contains event loop and health settings.
type BridgeConfig struct {
	QueueSize int `yaml:"queue_size"`

	// EnqueueTimeout is in milliseconds.
	EnqueueTimeout int `yaml:"enqueue_timeout"`

	// HealthInterval is in seconds.
	HealthInterval int `yaml:"health_interval"`
}

// DeviceConfig describes one radio-controlled switch.
type DeviceConfig struct {
	Name         string `yaml:"name"`
	StatusTopic  string `yaml:"status_topic"`
	CommandTopic string `yaml:"command_topic"`
	OnCode       string `yaml:"on_code"`
	OffCode      string `yaml:"off_code"`
}

// DiscoveryConfig contains Home Assistant MQTT discovery settings.
type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Prefix  string `yaml:"prefix"`
}

// DatabaseConfig contains SQLite transmission history settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// Retention is how many days history rows are kept. 0 keeps them forever.
	Retention int `yaml:"retention"`
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

// PathFromEnv returns RADIOSWITCH_CONFIG, or DefaultPath when unset.
func PathFromEnv() string {
	if v := os.Getenv("RADIOSWITCH_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RADIOSWITCH_SECTION_KEY
// For example: RADIOSWITCH_MQTT_HOST, RADIOSWITCH_GPIO_PIN
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
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "radioswitch",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxElapsed:   0,
			},
		},
		GPIO: GPIOConfig{
			Chip: "gpiochip0",
			Pin:  4,
		},
		Radio: RadioConfig{
			RepeatCount: radio.DefaultRepeatCount,
		},
		Bridge: BridgeConfig{
			QueueSize:      64,
			EnqueueTimeout: 5000,
			HealthInterval: 30,
		},
		Discovery: DiscoveryConfig{
			Prefix: "homeassistant",
		},
		Database: DatabaseConfig{
			Path:        "./data/radioswitch.db",
			WALMode:     true,
			BusyTimeout: 5,
			Retention:   90,
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
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RADIOSWITCH_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// MQTT
	if v := os.Getenv("RADIOSWITCH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RADIOSWITCH_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RADIOSWITCH_MQTT_PORT: %w", err)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("RADIOSWITCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RADIOSWITCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// GPIO
	if v := os.Getenv("RADIOSWITCH_GPIO_CHIP"); v != "" {
		cfg.GPIO.Chip = v
	}
	if v := os.Getenv("RADIOSWITCH_GPIO_PIN"); v != "" {
		pin, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RADIOSWITCH_GPIO_PIN: %w", err)
		}
		cfg.GPIO.Pin = pin
	}

	// Storage
	if v := os.Getenv("RADIOSWITCH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("RADIOSWITCH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("RADIOSWITCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Every problem is collected so a broken file can be fixed in one pass.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	} else if strings.ContainsAny(c.MQTT.Broker.ClientID, "/+#") {
		errs = append(errs, "mqtt.broker.client_id must not contain '/', '+' or '#'")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if (c.MQTT.Auth.Username == "") != (c.MQTT.Auth.Password == "") {
		errs = append(errs, "mqtt.auth.username and mqtt.auth.password must be set together")
	}
	if c.MQTT.Reconnect.InitialDelay < 1 || c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect requires 1 <= initial_delay <= max_delay")
	}
	if c.MQTT.Reconnect.MaxElapsed < 0 {
		errs = append(errs, "mqtt.reconnect.max_elapsed must not be negative")
	}

	// GPIO validation
	if c.GPIO.Chip == "" {
		errs = append(errs, "gpio.chip is required")
	}
	if c.GPIO.Pin < 0 {
		errs = append(errs, "gpio.pin must not be negative")
	}

	// Radio and bridge validation
	if c.Radio.RepeatCount < 1 {
		errs = append(errs, "radio.repeat_count must be at least 1")
	}
	if c.Bridge.QueueSize < 1 {
		errs = append(errs, "bridge.queue_size must be at least 1")
	}
	if c.Bridge.EnqueueTimeout < 0 {
		errs = append(errs, "bridge.enqueue_timeout must not be negative")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1")
	}

	errs = append(errs, c.validateDevices()...)

	if c.Discovery.Enabled && c.Discovery.Prefix == "" {
		errs = append(errs, "discovery.prefix is required when discovery is enabled")
	}

	// Storage validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}
	if c.Database.Retention < 0 {
		errs = append(errs, "database.retention must not be negative")
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	// Logging validation
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}
	switch c.Logging.Output {
	case "stdout", "stderr":
	default:
		errs = append(errs, fmt.Sprintf("logging.output %q must be stdout or stderr", c.Logging.Output))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateDevices() []string {
	var errs []string
	names := make(map[string]bool, len(c.Devices))

	for i, d := range c.Devices {
		prefix := fmt.Sprintf("devices[%d]", i)
		if d.Name == "" {
			errs = append(errs, prefix+".name is required")
		} else if names[d.Name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is duplicated", prefix, d.Name))
		}
		names[d.Name] = true

		if d.StatusTopic == "" || d.CommandTopic == "" {
			errs = append(errs, prefix+".status_topic and command_topic are required")
		}
		// Commands are routed by exact topic, so a filter would never match.
		if strings.ContainsAny(d.StatusTopic, "+#") {
			errs = append(errs, fmt.Sprintf("%s.status_topic %q must not contain '+' or '#'", prefix, d.StatusTopic))
		}
		if strings.ContainsAny(d.CommandTopic, "+#") {
			errs = append(errs, fmt.Sprintf("%s.command_topic %q must not contain '+' or '#'", prefix, d.CommandTopic))
		}

		on, onErr := radio.ParseCode(d.OnCode)
		if onErr != nil {
			errs = append(errs, fmt.Sprintf("%s.on_code: %v", prefix, onErr))
		}
		off, offErr := radio.ParseCode(d.OffCode)
		if offErr != nil {
			errs = append(errs, fmt.Sprintf("%s.off_code: %v", prefix, offErr))
		}
		if onErr == nil && offErr == nil && len(on) != len(off) {
			errs = append(errs, fmt.Sprintf("%s: on_code and off_code lengths differ (%d vs %d)", prefix, len(on), len(off)))
		}
	}
	return errs
}

// HistoryRetention returns the history retention as a Duration, or 0 when
// history is kept forever.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.Database.Retention) * 24 * time.Hour
}

// EnqueueTimeout returns the bridge enqueue timeout as a Duration.
func (c *Config) EnqueueTimeout() time.Duration {
	return time.Duration(c.Bridge.EnqueueTimeout) * time.Millisecond
}

// HealthInterval returns the health publish interval as a Duration.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// String returns a YAML rendering of the configuration with secrets redacted.
func (c *Config) String() string {
	redacted := *c
	if redacted.MQTT.Auth.Password != "" {
		redacted.MQTT.Auth.Password = "REDACTED"
	}
	if redacted.InfluxDB.Token != "" {
		redacted.InfluxDB.Token = "REDACTED"
	}
	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}
