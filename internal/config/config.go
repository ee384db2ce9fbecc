package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all configuration for the application
type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	AWS           AWSConfig          `yaml:"aws"`
	APNs          APNsConfig         `yaml:"apns"`
	JWT           JWTConfig          `yaml:"jwt"`
	Log           LogConfig          `yaml:"log"`
	Pairing       PairingConfig      `yaml:"pairing"`
	Gateway       GatewayConfig      `yaml:"gateway"`
	Notifications NotificationConfig `yaml:"notifications"`
	RateLimit     RateLimitConfig    `yaml:"rate_limit"`
	WebSocket     WebSocketConfig    `yaml:"websocket"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver         string `yaml:"driver"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	DBName         string `yaml:"dbname"`
	SSLMode        string `yaml:"sslmode"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

// AWSConfig holds S3 upload configuration
type AWSConfig struct {
	Region     string `yaml:"region"`
	S3Bucket   string `yaml:"s3_bucket"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Endpoint   string `yaml:"endpoint"`
	PublicBase string `yaml:"public_base_url"`
}

// Enabled reports whether uploads are configured
func (c *AWSConfig) Enabled() bool {
	return c.S3Bucket != ""
}

// APNsConfig holds push notification configuration
type APNsConfig struct {
	KeyFile    string `yaml:"key_file"`
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	Topic      string `yaml:"topic"`
	Production bool   `yaml:"production"`
}

// Enabled reports whether push delivery is configured
func (c *APNsConfig) Enabled() bool {
	return c.KeyFile != ""
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// PairingConfig holds pairing code configuration
type PairingConfig struct {
	CodeTTL        time.Duration `yaml:"code_ttl"`
	PurgeInterval  time.Duration `yaml:"purge_interval"`
	PurgeRetention time.Duration `yaml:"purge_retention"`
}

// GatewayConfig holds shared collection configuration
type GatewayConfig struct {
	PageSize int `yaml:"page_size"`
}

// NotificationConfig holds partner notification configuration
type NotificationConfig struct {
	QueueSize int `yaml:"queue_size"`
	Workers   int `yaml:"workers"`
	ListLimit int `yaml:"list_limit"`
}

// RateLimitConfig holds per-user request limits
type RateLimitConfig struct {
	GeneralPerMinute int `yaml:"general_per_minute"`
	RedeemPerMinute  int `yaml:"redeem_per_minute"`
}

// WebSocketConfig holds device connection configuration
type WebSocketConfig struct {
	MaxMessageSize int64    `yaml:"max_message_size"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the configuration used for any value the file leaves unset
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:  DriverPostgres,
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Pairing: PairingConfig{
			CodeTTL:        10 * time.Minute,
			PurgeInterval:  time.Hour,
			PurgeRetention: 24 * time.Hour,
		},
		Gateway: GatewayConfig{
			PageSize: 500,
		},
		Notifications: NotificationConfig{
			QueueSize: 256,
			Workers:   2,
			ListLimit: 100,
		},
		RateLimit: RateLimitConfig{
			GeneralPerMinute: 120,
			RedeemPerMinute:  10,
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
		},
	}
}

// Load reads configuration from a YAML file on top of Default
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration on top of Default and validates it
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that would otherwise fail at runtime
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.DBName == "" {
			return fmt.Errorf("database.dbname is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Database.Driver)
	}
	if c.Pairing.CodeTTL <= 0 {
		return fmt.Errorf("pairing.code_ttl must be positive")
	}
	if c.Pairing.PurgeInterval <= 0 {
		return fmt.Errorf("pairing.purge_interval must be positive")
	}
	if c.Gateway.PageSize <= 0 {
		return fmt.Errorf("gateway.page_size must be positive")
	}
	if c.Notifications.Workers <= 0 || c.Notifications.QueueSize <= 0 {
		return fmt.Errorf("notifications.workers and notifications.queue_size must be positive")
	}
	if c.RateLimit.GeneralPerMinute <= 0 || c.RateLimit.RedeemPerMinute <= 0 {
		return fmt.Errorf("rate_limit values must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("websocket.max_message_size must be positive")
	}
	if c.APNs.Enabled() && (c.APNs.KeyID == "" || c.APNs.TeamID == "" || c.APNs.Topic == "") {
		return fmt.Errorf("apns.key_id, apns.team_id and apns.topic are required when apns.key_file is set")
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// URL returns the PostgreSQL connection URL used by the migrator
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}
