package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names the deployment the process runs in.
type Environment string

const (
	EnvLocal       Environment = "local"
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// IsLocal reports whether outbound alerts should degrade to log lines.
func (e Environment) IsLocal() bool {
	return e == EnvLocal || e == EnvDevelopment
}

// Config holds all configuration for the application.
type Config struct {
	Environment Environment     `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Primary     PrimaryConfig   `yaml:"primary"`
	Database    DatabaseConfig  `yaml:"database"`
	Redis       RedisConfig     `yaml:"redis"`
	NewRelic    NewRelicConfig  `yaml:"newrelic"`
	Alert       AlertConfig     `yaml:"alert"`
	Migration   MigrationConfig `yaml:"migration"`
	LogPath     string          `yaml:"log_path"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PrimaryConfig holds the sqlite primary store files and their tuning.
type PrimaryConfig struct {
	MainPath    string        `yaml:"main_path"`
	PathPath    string        `yaml:"path_path"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration for the secondary store.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string `yaml:"app_name"`
	LicenseKey string `yaml:"license_key"`
	Enabled    bool   `yaml:"enabled"`
}

// AlertConfig holds the owner notification settings.
type AlertConfig struct {
	OwnerUsername string `yaml:"owner_username"`
	OwnerEmail    string `yaml:"owner_email"`
	SMTPHost      string `yaml:"smtp_host"`
	SMTPPort      int    `yaml:"smtp_port"`
	SMTPUser      string `yaml:"smtp_user"`
	SMTPPassword  string `yaml:"smtp_password"`
	Sender        string `yaml:"sender"`
}

// MigrationConfig holds bulk migration tuning.
type MigrationConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// Load loads configuration from an optional YAML file named by
// TRAINLOG_CONFIG, then from environment variables, which win.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("TRAINLOG_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	cfg.overlayEnv()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Environment: EnvLocal,
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Primary: PrimaryConfig{
			MainPath:    "database/main.db",
			PathPath:    "database/path.db",
			MaxRetries:  5,
			RetryDelay:  100 * time.Millisecond,
			BusyTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Password: "postgres",
			DBName:   "trainlog",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			LockTTL: 2 * time.Hour,
		},
		NewRelic: NewRelicConfig{
			AppName: "trainlog",
		},
		Alert: AlertConfig{
			OwnerUsername: "admin",
			SMTPPort:      587,
		},
		Migration: MigrationConfig{
			BatchSize: 100,
		},
	}
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() {
	c.Environment = Environment(getEnv("ENVIRONMENT", string(c.Environment)))
	c.LogPath = getEnv("LOG_PATH", c.LogPath)

	c.Server.Port = getEnv("SERVER_PORT", c.Server.Port)
	c.Server.ReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)

	c.Primary.MainPath = getEnv("PRIMARY_MAIN_PATH", c.Primary.MainPath)
	c.Primary.PathPath = getEnv("PRIMARY_PATH_PATH", c.Primary.PathPath)
	c.Primary.MaxRetries = getIntEnv("PRIMARY_MAX_RETRIES", c.Primary.MaxRetries)
	c.Primary.RetryDelay = getDurationEnv("PRIMARY_RETRY_DELAY", c.Primary.RetryDelay)
	c.Primary.BusyTimeout = getDurationEnv("PRIMARY_BUSY_TIMEOUT", c.Primary.BusyTimeout)

	// POSTGRES_* are the names the deployment already exports.
	c.Database.Host = getEnv("POSTGRES_HOST", c.Database.Host)
	c.Database.Port = getEnv("POSTGRES_PORT", c.Database.Port)
	c.Database.User = getEnv("POSTGRES_USER", c.Database.User)
	c.Database.Password = getEnv("POSTGRES_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("POSTGRES_DB", c.Database.DBName)
	c.Database.SSLMode = getEnv("POSTGRES_SSLMODE", c.Database.SSLMode)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getIntEnv("REDIS_DB", c.Redis.DB)
	c.Redis.LockTTL = getDurationEnv("REDIS_LOCK_TTL", c.Redis.LockTTL)

	c.NewRelic.AppName = getEnv("NEW_RELIC_APP_NAME", c.NewRelic.AppName)
	c.NewRelic.LicenseKey = getEnv("NEW_RELIC_LICENSE_KEY", c.NewRelic.LicenseKey)
	c.NewRelic.Enabled = getBoolEnv("NEW_RELIC_ENABLED", c.NewRelic.Enabled)

	c.Alert.OwnerUsername = getEnv("OWNER_USERNAME", c.Alert.OwnerUsername)
	c.Alert.OwnerEmail = getEnv("OWNER_EMAIL", c.Alert.OwnerEmail)
	c.Alert.SMTPHost = getEnv("SMTP_HOST", c.Alert.SMTPHost)
	c.Alert.SMTPPort = getIntEnv("SMTP_PORT", c.Alert.SMTPPort)
	c.Alert.SMTPUser = getEnv("SMTP_USER", c.Alert.SMTPUser)
	c.Alert.SMTPPassword = getEnv("SMTP_PASSWORD", c.Alert.SMTPPassword)
	c.Alert.Sender = getEnv("SMTP_SENDER", c.Alert.Sender)

	c.Migration.BatchSize = getIntEnv("MIGRATION_BATCH_SIZE", c.Migration.BatchSize)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
