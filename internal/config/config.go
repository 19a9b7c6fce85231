// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// VerifyPerMinute caps payment verification calls per user.
	VerifyPerMinute int `yaml:"verify_per_minute"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
	// NodeID is this replica's snowflake node for webhook record ids (0-1023).
	NodeID int64 `yaml:"node_id"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type GatewayConfig struct {
	Provider      string        `yaml:"provider"` // razorpay | noop
	BaseURL       string        `yaml:"base_url"`
	KeyID         string        `yaml:"key_id"`
	KeySecret     string        `yaml:"key_secret"`
	WebhookSecret string        `yaml:"webhook_secret"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts uint          `yaml:"retry_attempts"`
}

type EnrollmentConfig struct {
	GuruPercent        int           `yaml:"guru_percent"`
	DefaultDeviceLimit int           `yaml:"default_device_limit"`
	GraceWindow        time.Duration `yaml:"grace_window"`
	MaxRenewalAttempts int           `yaml:"max_renewal_attempts"`
}

type SchedulerConfig struct {
	SweepCron          string        `yaml:"sweep_cron"`
	ReconcileEvery     time.Duration `yaml:"reconcile_every"`
	ReconcileOlderThan time.Duration `yaml:"reconcile_older_than"`
	CancelAfter        time.Duration `yaml:"cancel_after"`
	LockTTL            time.Duration `yaml:"lock_ttl"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type AlertsConfig struct {
	TelegramToken string `yaml:"telegram_token"`
	ChatID        int64  `yaml:"chat_id"`
	Workers       int    `yaml:"workers"`
	QueueSize     int    `yaml:"queue_size"`
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Auth       AuthConfig       `yaml:"auth"`
	Security   SecurityConfig   `yaml:"security"`
	Alerts     AlertsConfig     `yaml:"alerts"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the yaml file at path (optional when every required value
// comes from the environment), applies env overrides and defaults, then
// validates.
func LoadConfig(path string, dev bool) (*Config, error) {
	// .env is a convenience for local runs; absence is fine.
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// env-only deployment
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str("DATABASE_URL", &cfg.Database.URL)
	str("REDIS_URL", &cfg.Redis.URL)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("GATEWAY_PROVIDER", &cfg.Gateway.Provider)
	str("GATEWAY_KEY_ID", &cfg.Gateway.KeyID)
	str("GATEWAY_KEY_SECRET", &cfg.Gateway.KeySecret)
	str("GATEWAY_WEBHOOK_SECRET", &cfg.Gateway.WebhookSecret)
	str("AUTH_JWT_SECRET", &cfg.Auth.JWTSecret)
	str("SECURITY_ENCRYPTION_KEY", &cfg.Security.EncryptionKey)
	str("ALERTS_TELEGRAM_TOKEN", &cfg.Alerts.TelegramToken)
	str("LOG_LEVEL", &cfg.Log.Level)

	if v := os.Getenv("HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = n
		}
	}
	if v := os.Getenv("NODE_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Database.NodeID = n
		}
	}
	if v := os.Getenv("ALERTS_CHAT_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Alerts.ChatID = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		cfg.HTTP.ReadTimeout = 10 * time.Second
	}
	if cfg.HTTP.WriteTimeout <= 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 20 * time.Second
	}
	if cfg.HTTP.VerifyPerMinute <= 0 {
		cfg.HTTP.VerifyPerMinute = 10
	}

	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	cfg.Gateway.Provider = strings.ToLower(strings.TrimSpace(cfg.Gateway.Provider))
	if cfg.Gateway.Provider == "" {
		cfg.Gateway.Provider = "razorpay"
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = "https://api.razorpay.com/v1"
	}
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = 10 * time.Second
	}
	if cfg.Gateway.RetryAttempts == 0 {
		cfg.Gateway.RetryAttempts = 3
	}

	if cfg.Enrollment.GuruPercent <= 0 {
		cfg.Enrollment.GuruPercent = 80
	}
	if cfg.Enrollment.DefaultDeviceLimit <= 0 {
		cfg.Enrollment.DefaultDeviceLimit = 3
	}
	if cfg.Enrollment.GraceWindow <= 0 {
		cfg.Enrollment.GraceWindow = 7 * 24 * time.Hour
	}
	if cfg.Enrollment.MaxRenewalAttempts <= 0 {
		cfg.Enrollment.MaxRenewalAttempts = 3
	}

	if cfg.Scheduler.SweepCron == "" {
		cfg.Scheduler.SweepCron = "@every 1h"
	}
	if cfg.Scheduler.ReconcileEvery <= 0 {
		cfg.Scheduler.ReconcileEvery = 5 * time.Minute
	}
	if cfg.Scheduler.ReconcileOlderThan <= 0 {
		cfg.Scheduler.ReconcileOlderThan = 15 * time.Minute
	}
	if cfg.Scheduler.CancelAfter <= 0 {
		cfg.Scheduler.CancelAfter = 24 * time.Hour
	}
	if cfg.Scheduler.LockTTL <= 0 {
		cfg.Scheduler.LockTTL = 2 * time.Minute
	}

	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "sanskrit-enrollment"
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 12 * time.Hour
	}

	if cfg.Alerts.Workers <= 0 {
		cfg.Alerts.Workers = 2
	}
	if cfg.Alerts.QueueSize <= 0 {
		cfg.Alerts.QueueSize = 64
	}
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	switch c.Gateway.Provider {
	case "razorpay":
		if c.Gateway.KeyID == "" || c.Gateway.KeySecret == "" {
			return errors.New("gateway.key_id and gateway.key_secret are required")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown gateway.provider %q", c.Gateway.Provider)
	}
	if c.Gateway.WebhookSecret == "" {
		return errors.New("gateway.webhook_secret is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if n := len(c.Security.EncryptionKey); n != 16 && n != 24 && n != 32 {
		return errors.New("security.encryption_key must be 16, 24 or 32 bytes")
	}
	if c.Database.NodeID < 0 || c.Database.NodeID > 1023 {
		return errors.New("database.node_id must be between 0 and 1023")
	}
	if c.Enrollment.GuruPercent > 100 {
		return errors.New("enrollment.guru_percent must be between 1 and 100")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
