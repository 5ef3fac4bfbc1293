package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the camera backend.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Backend   BackendConfig           `yaml:"backend"`
	Cameras   map[string]CameraConfig `yaml:"cameras"`
	Discovery DiscoveryConfig         `yaml:"discovery"`
	Database  DatabaseConfig          `yaml:"database"`
	MQTT      MQTTConfig              `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig          `yaml:"influxdb"`
	Telemetry TelemetryConfig         `yaml:"telemetry"`
	API       APIConfig               `yaml:"api"`
	Logging   LoggingConfig           `yaml:"logging"`
}

// BackendConfig contains frontend-facing settings.
type BackendConfig struct {
	// ID names this backend instance in telemetry topics and points.
	ID string `yaml:"id"`

	// Listen is the transport URL frontends connect to:
	// "unix:///run/camera-be.sock" or "tcp://host:port".
	Listen string `yaml:"listen"`

	// Memory is the default buffer allocation mode: dmabuf, mmap or userptr.
	Memory string `yaml:"memory"`

	// Controls is the default comma-separated control list offered to a
	// frontend that does not name its own.
	Controls string `yaml:"controls"`
}

// CameraConfig overrides backend defaults for one camera, keyed by its
// unique id.
type CameraConfig struct {
	// Path is the device node. Empty resolves through the inventory and
	// /dev/v4l/by-id.
	Path     string `yaml:"path"`
	Memory   string `yaml:"memory"`
	Controls string `yaml:"controls"`
}

// DiscoveryConfig contains capture device scanning settings.
type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DevDir  string `yaml:"dev_dir"`
	ByIDDir string `yaml:"by_id_dir"`
	// Interval between rescans in seconds. 0 scans once at startup.
	Interval int `yaml:"interval"`
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

// TelemetryConfig contains periodic device status reporting settings.
type TelemetryConfig struct {
	// Interval between device status reports in seconds.
	Interval int `yaml:"interval"`
}

// APIConfig contains HTTP status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	JWT      JWTConfig        `yaml:"jwt"`
}

// JWTConfig contains bearer token settings for state-changing API routes.
// With no secret those routes are refused.
type JWTConfig struct {
	Secret string `yaml:"secret"`

	// TokenTTL is the lifetime of issued tokens in hours.
	TokenTTL int `yaml:"token_ttl"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CAMBE_SECTION_KEY
// For example: CAMBE_BACKEND_LISTEN, CAMBE_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read, parsed, or fails validation
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the default configuration with environment overrides
// applied. It is used when no config file is given.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			ID:       "camera-be",
			Listen:   "unix:///run/camera-be.sock",
			Memory:   "dmabuf",
			Controls: "contrast,brightness,hue,saturation",
		},
		Discovery: DiscoveryConfig{
			Enabled: true,
			DevDir:  "/dev",
			ByIDDir: "/dev/v4l/by-id",
		},
		Database: DatabaseConfig{
			Path:        "./data/camera-be.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "camera-be",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Telemetry: TelemetryConfig{
			Interval: 30,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			JWT: JWTConfig{
				TokenTTL: 24,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CAMBE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Backend
	if v := os.Getenv("CAMBE_BACKEND_ID"); v != "" {
		cfg.Backend.ID = v
	}
	if v := os.Getenv("CAMBE_BACKEND_LISTEN"); v != "" {
		cfg.Backend.Listen = v
	}
	if v := os.Getenv("CAMBE_BACKEND_MEMORY"); v != "" {
		cfg.Backend.Memory = v
	}

	// Database
	if v := os.Getenv("CAMBE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("CAMBE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CAMBE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CAMBE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("CAMBE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("CAMBE_JWT_SECRET"); v != "" {
		cfg.API.JWT.Secret = v
	}

	// InfluxDB
	if v := os.Getenv("CAMBE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("CAMBE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// validMemory lists the accepted buffer allocation modes.
var validMemory = map[string]bool{"": true, "dmabuf": true, "mmap": true, "userptr": true}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	// Backend
	if c.Backend.ID == "" {
		errs = append(errs, "backend.id is required")
	}
	if err := validateListen(c.Backend.Listen); err != "" {
		errs = append(errs, err)
	}
	if !validMemory[strings.ToLower(c.Backend.Memory)] {
		errs = append(errs, fmt.Sprintf("backend.memory %q must be dmabuf, mmap or userptr", c.Backend.Memory))
	}

	for id, cam := range c.Cameras {
		if id == "" {
			errs = append(errs, "cameras: unique id must not be empty")
		}
		if !validMemory[strings.ToLower(cam.Memory)] {
			errs = append(errs, fmt.Sprintf("cameras.%s.memory %q must be dmabuf, mmap or userptr", id, cam.Memory))
		}
	}

	// Discovery
	if c.Discovery.Enabled && c.Discovery.DevDir == "" {
		errs = append(errs, "discovery.dev_dir is required when discovery is enabled")
	}
	if c.Discovery.Interval < 0 {
		errs = append(errs, "discovery.interval must not be negative")
	}

	// Database
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// InfluxDB
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Telemetry.Interval < 0 {
		errs = append(errs, "telemetry.interval must not be negative")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	const minJWTSecretLength = 32
	if c.API.JWT.Secret != "" && len(c.API.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "api.jwt.secret must be at least 32 characters (set CAMBE_JWT_SECRET)")
	}
	if c.API.JWT.TokenTTL < 0 {
		errs = append(errs, "api.jwt.token_ttl must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validateListen(listen string) string {
	if listen == "" {
		return "backend.listen is required"
	}
	u, err := url.Parse(listen)
	if err != nil {
		return fmt.Sprintf("backend.listen: %v", err)
	}
	switch u.Scheme {
	case "unix":
		if u.Path == "" {
			return "backend.listen: unix URL needs a socket path"
		}
	case "tcp":
	default:
		return fmt.Sprintf("backend.listen: unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
	return ""
}

// CameraControls returns the per-camera control lists that are set.
func (c *Config) CameraControls() map[string]string {
	out := make(map[string]string)
	for id, cam := range c.Cameras {
		if cam.Controls != "" {
			out[id] = cam.Controls
		}
	}
	return out
}

// CameraPaths returns the per-camera device paths that are set.
func (c *Config) CameraPaths() map[string]string {
	out := make(map[string]string)
	for id, cam := range c.Cameras {
		if cam.Path != "" {
			out[id] = cam.Path
		}
	}
	return out
}

// GetTokenTTL returns the issued token lifetime as a Duration.
func (c *Config) GetTokenTTL() time.Duration {
	return time.Duration(c.API.JWT.TokenTTL) * time.Hour
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

// GetDiscoveryInterval returns the rescan interval; zero disables rescans.
func (c *Config) GetDiscoveryInterval() time.Duration {
	return time.Duration(c.Discovery.Interval) * time.Second
}

// GetTelemetryInterval returns the device status report interval.
func (c *Config) GetTelemetryInterval() time.Duration {
	return time.Duration(c.Telemetry.Interval) * time.Second
}
