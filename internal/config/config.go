// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AdminKey        string        `yaml:"admin_key"` // X-Admin-Key for operator endpoints
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // gateway order status cache
}

type GatewayConfig struct {
	KeyID     string        `yaml:"key_id"`
	KeySecret string        `yaml:"key_secret"`
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	SessionSecret     string        `yaml:"session_secret"`
	PaymentPageSecret string        `yaml:"payment_page_secret"`
	PaymentPageTTL    time.Duration `yaml:"payment_page_ttl"`
	PublicBaseURL     string        `yaml:"public_base_url"`
}

type FeaturesConfig struct {
	Payments bool `yaml:"payments"`
}

type PricingConfig struct {
	FallbackCurrency string            `yaml:"fallback_currency"`
	Rates            map[string]string `yaml:"rates"` // per USD, overrides the built-in table
}

type SchedulerConfig struct {
	RecoveryCron  string        `yaml:"recovery_cron"`
	LifecycleCron string        `yaml:"lifecycle_cron"`
	BatchSize     int           `yaml:"batch_size"`
	GracePeriod   time.Duration `yaml:"grace_period"`
	Workers       int           `yaml:"workers"` // sweep concurrency
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type AlertsConfig struct {
	TelegramToken string  `yaml:"telegram_token"`
	AdminChatIDs  []int64 `yaml:"admin_chat_ids"`
}

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Auth      AuthConfig      `yaml:"auth"`
	Features  FeaturesConfig  `yaml:"features"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Security  SecurityConfig  `yaml:"security"`
	Alerts    AlertsConfig    `yaml:"alerts"`

	Runtime RuntimeConfig `yaml:"-"`
}

// Load parses path, applies environment overrides and defaults, and validates.
// A missing file is tolerated in dev mode.
func Load(path string, dev bool) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case dev && errors.Is(err, os.ErrNotExist):
		cfg.Features.Payments = true
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Gateway.KeyID, "GATEWAY_KEY_ID")
	setString(&cfg.Gateway.KeySecret, "GATEWAY_KEY_SECRET")
	setString(&cfg.Auth.SessionSecret, "JWT_SECRET")
	setString(&cfg.Auth.PaymentPageSecret, "PAYMENT_PAGE_SECRET")
	setString(&cfg.Security.EncryptionKey, "ENCRYPTION_KEY")
	setString(&cfg.Alerts.TelegramToken, "TELEGRAM_ALERT_TOKEN")
	setString(&cfg.HTTP.AdminKey, "ADMIN_KEY")
	if v, ok := os.LookupEnv("FEATURE_PAYMENTS"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Features.Payments = b
		}
	}
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		cfg.HTTP.ReadTimeout = 10 * time.Second
	}
	if cfg.HTTP.WriteTimeout <= 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = "https://api.razorpay.com"
	}
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = 15 * time.Second
	}
	if cfg.Auth.PaymentPageTTL <= 0 {
		cfg.Auth.PaymentPageTTL = 30 * time.Minute
	}
	if cfg.Auth.PublicBaseURL == "" {
		cfg.Auth.PublicBaseURL = "http://localhost" + cfg.HTTP.Addr
	}
	if cfg.Pricing.FallbackCurrency == "" {
		cfg.Pricing.FallbackCurrency = "USD"
	}
	if cfg.Scheduler.RecoveryCron == "" {
		cfg.Scheduler.RecoveryCron = "@every 5m"
	}
	if cfg.Scheduler.LifecycleCron == "" {
		cfg.Scheduler.LifecycleCron = "@every 15m"
	}
	if cfg.Scheduler.BatchSize <= 0 {
		cfg.Scheduler.BatchSize = 100
	}
	if cfg.Scheduler.GracePeriod <= 0 {
		cfg.Scheduler.GracePeriod = 5 * time.Minute
	}
	if cfg.Scheduler.Workers <= 0 {
		cfg.Scheduler.Workers = 4
	}
}

// Minimal validation: production needs real backends and secrets.
func (c *Config) validate() error {
	if c.Runtime.Dev {
		return nil
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if c.Gateway.KeyID == "" || c.Gateway.KeySecret == "" {
		return errors.New("gateway.key_id and gateway.key_secret are required")
	}
	if c.Auth.SessionSecret == "" || c.Auth.PaymentPageSecret == "" {
		return errors.New("auth.session_secret and auth.payment_page_secret are required")
	}
	if c.Auth.SessionSecret == c.Auth.PaymentPageSecret {
		return errors.New("auth.payment_page_secret must differ from auth.session_secret")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
