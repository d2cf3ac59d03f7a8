// Package config loads application configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read into the configuration.
// Nested keys are separated by a double underscore: INBOX_SERVER__METRICS_PORT -> server.metrics_port.
const EnvPrefix = "INBOX_"

// Config contains the full application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Log       LogConfig       `koanf:"log"`
	Redis     RedisConfig     `koanf:"redis"`
	Twilio    TwilioConfig    `koanf:"twilio"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Cron      CronConfig      `koanf:"cron"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// RedisConfig contains settings for the sent-message ledger.
type RedisConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Address  string        `koanf:"address"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	TTL      time.Duration `koanf:"ttl"`
}

// TwilioConfig contains messaging gateway settings.
type TwilioConfig struct {
	Enabled        bool          `koanf:"enabled"`
	AccountSID     string        `koanf:"account_sid"`
	AuthToken      string        `koanf:"auth_token"`
	BaseURL        string        `koanf:"base_url"`
	PhoneNumber    string        `koanf:"phone_number"`
	WhatsAppNumber string        `koanf:"whatsapp_number"`
	RateLimit      float64       `koanf:"rate_limit"`
	Timeout        time.Duration `koanf:"timeout"`
}

// SchedulerConfig contains settings for the in-process scheduled message sweep.
type SchedulerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Interval     time.Duration `koanf:"interval"`
	ClaimTimeout time.Duration `koanf:"claim_timeout"`
}

// CronConfig contains settings for the externally triggered sweep endpoint.
type CronConfig struct {
	Secret string `koanf:"secret"`
}

// Default returns configuration with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			MigrationsPath:  "migrations",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
			TTL:     72 * time.Hour,
		},
		Twilio: TwilioConfig{
			BaseURL:        "https://api.twilio.com",
			WhatsAppNumber: "whatsapp:+14155238886",
			RateLimit:      10,
			Timeout:        10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			Interval:     time.Minute,
			ClaimTimeout: 10 * time.Minute,
		},
	}
}

// Load reads configuration from defaults, an optional YAML file and INBOX_* environment variables,
// in increasing order of precedence.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Database.MaxOpenConns <= 0 {
		errs = append(errs, errors.New("database.max_open_conns must be > 0"))
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}

	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be > 0"))
	}
	if c.Scheduler.ClaimTimeout < 0 {
		errs = append(errs, errors.New("scheduler.claim_timeout must be >= 0"))
	}

	if c.Twilio.Enabled {
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("twilio.account_sid and twilio.auth_token are required when twilio is enabled"))
		}
		if c.Twilio.PhoneNumber == "" && c.Twilio.WhatsAppNumber == "" {
			errs = append(errs, errors.New("twilio.phone_number or twilio.whatsapp_number is required when twilio is enabled"))
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			errs = append(errs, errors.New("redis.address is required when redis is enabled"))
		}
		if c.Redis.TTL <= 0 {
			errs = append(errs, errors.New("redis.ttl must be > 0"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
