package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Radio constraints shared with the downlink parameter validation in
// internal/lorawan. Duplicated here so config has no domain imports.
var (
	allowedFrequencies = []uint32{868100000, 868300000, 868500000}
)

const (
	maxDataRate = 6
	maxTxPower  = 27

	// minJWTSecretLength applies only when a secret is configured.
	minJWTSecretLength = 32
)

// Config is the root configuration structure for the relay daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	NodeID       string             `yaml:"node_id"`
	BindAddr     string             `yaml:"bind_addr"`
	BindPort     int                `yaml:"bind_port"`
	EndDeviceIDs []string           `yaml:"end_device_ids"`
	MessageCache MessageCacheConfig `yaml:"message_cache"`
	SendConfig   SendConfig         `yaml:"send_config"`
	Protocol     ProtocolConfig     `yaml:"protocol"`
	Radio        RadioConfig        `yaml:"radio"`
	Announcement AnnouncementConfig `yaml:"announcement"`
	ChirpStack   ChirpStackConfig   `yaml:"chirpstack"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	API          APIConfig          `yaml:"api"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	Database     DatabaseConfig     `yaml:"database"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
	Security     SecurityConfig     `yaml:"security"`
}

// MessageCacheConfig controls duplicate suppression.
type MessageCacheConfig struct {
	TimeoutMinutes         int  `yaml:"timeout_minutes"`
	CleanupIntervalSeconds int  `yaml:"cleanup_interval_seconds"`
	ResetTimeout           bool `yaml:"reset_timeout"`
}

// SendConfig controls the send scheduler and queue capacities.
type SendConfig struct {
	// PeriodicSendDelay is the scheduler period in seconds.
	PeriodicSendDelay     int `yaml:"periodic_send_delay"`
	RelayQueueSize        int `yaml:"relay_queue_size"`
	BundleQueueSize       int `yaml:"bundle_queue_size"`
	AnnouncementQueueSize int `yaml:"announcement_queue_size"`
}

// ProtocolConfig holds the frame multiplexing settings.
type ProtocolConfig struct {
	Prefixes PrefixConfig `yaml:"prefixes"`
}

// PrefixConfig maps each frame class to its prefix byte.
type PrefixConfig struct {
	Relay        uint8 `yaml:"relay"`
	Bundle       uint8 `yaml:"bundle"`
	Announcement uint8 `yaml:"announcement"`
}

// RadioConfig holds default downlink parameters.
type RadioConfig struct {
	Frequency        uint32 `yaml:"frequency"`
	DataRate         uint8  `yaml:"data_rate"`
	TxPower          int32  `yaml:"tx_power"`
	EnforceDutyCycle bool   `yaml:"enforce_duty_cycle"`
}

// AnnouncementConfig controls the periodic presence beacon.
type AnnouncementConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Interval int            `yaml:"interval"`
	HopLimit uint8          `yaml:"hop_limit"`
	Payload  string         `yaml:"payload"`
	Location LocationConfig `yaml:"location"`
}

// LocationConfig is an optional GPS position carried in announcements.
type LocationConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Altitude  float64 `yaml:"altitude"`
}

// ChirpStackConfig contains gateway bridge integration settings.
type ChirpStackConfig struct {
	// TopicPrefix is the region prefix of the gateway bridge topics (e.g. "eu868").
	TopicPrefix string `yaml:"topic_prefix"`
	// Encoding is the gateway bridge marshaler: "protobuf" or "json".
	Encoding   string   `yaml:"encoding"`
	GatewayIDs []string `yaml:"gateway_ids"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker       MQTTBrokerConfig    `yaml:"broker"`
	Auth         MQTTAuthConfig      `yaml:"auth"`
	QoS          int                 `yaml:"qos"`
	Reconnect    MQTTReconnectConfig `yaml:"reconnect"`
	StatusPrefix string              `yaml:"status_prefix"`
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
}

// APIConfig contains HTTP API server settings. The listen address comes from
// the top-level bind_addr/bind_port fields.
type APIConfig struct {
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// DatabaseConfig contains settings for the optional SQLite traffic journal.
// An empty path disables the journal.
type DatabaseConfig struct {
	Path           string `yaml:"path"`
	WALMode        bool   `yaml:"wal_mode"`
	BusyTimeout    int    `yaml:"busy_timeout"`
	RetentionHours int    `yaml:"retention_hours"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url"`
	Token          string `yaml:"token"`
	Org            string `yaml:"org"`
	Bucket         string `yaml:"bucket"`
	BatchSize      int    `yaml:"batch_size"`
	FlushInterval  int    `yaml:"flush_interval"`
	ReportInterval int    `yaml:"report_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings. An empty secret disables API auth.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LORARELAY_SECTION_KEY
// For example: LORARELAY_MQTT_HOST, LORARELAY_BIND_PORT
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

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		NodeID:   "lorarelay",
		BindAddr: "0.0.0.0",
		BindPort: 8080,
		MessageCache: MessageCacheConfig{
			TimeoutMinutes:         10,
			CleanupIntervalSeconds: 60,
		},
		SendConfig: SendConfig{
			PeriodicSendDelay:     5,
			RelayQueueSize:        64,
			BundleQueueSize:       32,
			AnnouncementQueueSize: 8,
		},
		Protocol: ProtocolConfig{
			Prefixes: PrefixConfig{
				Relay:        0x01,
				Bundle:       0x02,
				Announcement: 0x03,
			},
		},
		Radio: RadioConfig{
			Frequency:        868100000,
			DataRate:         5,
			TxPower:          14,
			EnforceDutyCycle: true,
		},
		Announcement: AnnouncementConfig{
			Interval: 300,
			HopLimit: 2,
		},
		ChirpStack: ChirpStackConfig{
			TopicPrefix: "eu868",
			Encoding:    "protobuf",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "lorarelay",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			StatusPrefix: "lorarelay",
		},
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Database: DatabaseConfig{
			WALMode:        true,
			BusyTimeout:    5,
			RetentionHours: 168,
		},
		InfluxDB: InfluxDBConfig{
			ReportInterval: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LORARELAY_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LORARELAY_NODE_ID"); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv("LORARELAY_BIND_ADDR"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("LORARELAY_BIND_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.BindPort = port
		}
	}
	if v := os.Getenv("LORARELAY_END_DEVICE_IDS"); v != "" {
		cfg.EndDeviceIDs = splitList(v)
	}

	// MQTT
	if v := os.Getenv("LORARELAY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LORARELAY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LORARELAY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// ChirpStack
	if v := os.Getenv("LORARELAY_CHIRPSTACK_TOPIC_PREFIX"); v != "" {
		cfg.ChirpStack.TopicPrefix = v
	}

	// Database
	if v := os.Getenv("LORARELAY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("LORARELAY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("LORARELAY_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// splitList splits a comma-separated environment value, dropping blanks.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration for errors.
// Every problem found is reported in a single error.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.NodeID == "" {
		errs = append(errs, "node_id is required")
	}
	if c.BindPort < 1 || c.BindPort > 65535 {
		errs = append(errs, "bind_port must be between 1 and 65535")
	}
	for i, id := range c.EndDeviceIDs {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, fmt.Sprintf("end_device_ids[%d] must not be empty", i))
		}
	}

	// Message cache
	if c.MessageCache.TimeoutMinutes <= 0 {
		errs = append(errs, "message_cache.timeout_minutes must be positive")
	}
	if c.MessageCache.CleanupIntervalSeconds <= 0 {
		errs = append(errs, "message_cache.cleanup_interval_seconds must be positive")
	}

	// Send config
	if c.SendConfig.PeriodicSendDelay <= 0 {
		errs = append(errs, "send_config.periodic_send_delay must be positive")
	}
	if c.SendConfig.RelayQueueSize <= 0 {
		errs = append(errs, "send_config.relay_queue_size must be positive")
	}
	if c.SendConfig.BundleQueueSize <= 0 {
		errs = append(errs, "send_config.bundle_queue_size must be positive")
	}
	if c.SendConfig.AnnouncementQueueSize <= 0 {
		errs = append(errs, "send_config.announcement_queue_size must be positive")
	}

	// Prefixes are compared on receive, so they must not collide.
	p := c.Protocol.Prefixes
	if p.Relay == p.Bundle || p.Relay == p.Announcement || p.Bundle == p.Announcement {
		errs = append(errs, "protocol.prefixes must be distinct")
	}

	// Radio
	if !containsFrequency(c.Radio.Frequency) {
		errs = append(errs, fmt.Sprintf("radio.frequency must be one of %v", allowedFrequencies))
	}
	if c.Radio.DataRate > maxDataRate {
		errs = append(errs, "radio.data_rate must be between 0 and 6")
	}
	if c.Radio.TxPower < 0 || c.Radio.TxPower > maxTxPower {
		errs = append(errs, "radio.tx_power must be between 0 and 27")
	}

	// Announcements
	if c.Announcement.Enabled {
		if c.Announcement.Interval <= 0 {
			errs = append(errs, "announcement.interval must be positive")
		}
		if c.Announcement.HopLimit == 0 {
			errs = append(errs, "announcement.hop_limit must be at least 1")
		}
	}

	// ChirpStack
	if c.ChirpStack.TopicPrefix == "" {
		errs = append(errs, "chirpstack.topic_prefix is required")
	}
	switch c.ChirpStack.Encoding {
	case "protobuf", "json":
	default:
		errs = append(errs, "chirpstack.encoding must be protobuf or json")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}

	// InfluxDB
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Security: auth is optional, but a configured secret must be strong.
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func containsFrequency(f uint32) bool {
	for _, allowed := range allowedFrequencies {
		if f == allowed {
			return true
		}
	}
	return false
}

// ListenAddr returns the management API listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddr, c.BindPort)
}

// CacheTimeout returns the message cache expiry window as a Duration.
func (c *Config) CacheTimeout() time.Duration {
	return time.Duration(c.MessageCache.TimeoutMinutes) * time.Minute
}

// CleanupInterval returns the cache sweep interval as a Duration.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.MessageCache.CleanupIntervalSeconds) * time.Second
}

// SendInterval returns the send scheduler period as a Duration.
func (c *Config) SendInterval() time.Duration {
	return time.Duration(c.SendConfig.PeriodicSendDelay) * time.Second
}

// AnnouncementInterval returns the announcer period as a Duration.
func (c *Config) AnnouncementInterval() time.Duration {
	return time.Duration(c.Announcement.Interval) * time.Second
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
