package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all costwatch configuration.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Budget   BudgetConfig   `mapstructure:"budget"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Server   ServerConfig   `mapstructure:"server"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Defaults DefaultsConfig `mapstructure:"defaults"`
}

// StorageConfig selects the cost store backend. Path is used by sqlite,
// DSN by postgres.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// Target returns the driver-specific connection target.
func (s StorageConfig) Target() string {
	if s.Driver == "postgres" {
		return s.DSN
	}
	return s.Path
}

// BudgetConfig defines the spending limit and spike detection. A limit of
// zero disables every budget alert.
type BudgetConfig struct {
	LimitUSD        float64 `mapstructure:"limit_usd"`
	HourlyMaxUSD    float64 `mapstructure:"hourly_max_usd"`
	DailyMaxUSD     float64 `mapstructure:"daily_max_usd"`
	SpikeMultiplier float64 `mapstructure:"spike_multiplier"`
	CooldownMinutes int     `mapstructure:"cooldown_minutes"`
}

// Cooldown returns the per-kind alert cooldown.
func (b BudgetConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownMinutes) * time.Minute
}

// AlertsConfig defines alerting integrations. Alerts always go to the
// console; every channel here is added on top of it.
type AlertsConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Slack   SlackConfig   `mapstructure:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	Email   EmailConfig   `mapstructure:"email"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// SlackConfig defines Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

// WebhookConfig defines generic webhook settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// EmailConfig defines SMTP settings.
type EmailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// RedisConfig defines the Redis alert feed.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
	Channel  string `mapstructure:"channel"`
	MaxLen   int64  `mapstructure:"max_len"`
}

// PricingConfig points at an optional pricing override file.
type PricingConfig struct {
	File string `mapstructure:"file"`
}

// ServerConfig defines the dashboard API.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ProxyConfig defines transparent proxy settings.
type ProxyConfig struct {
	Listen         string        `mapstructure:"listen"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxBodySize    int64         `mapstructure:"max_body_size"`
	AddCostHeaders bool          `mapstructure:"add_cost_headers"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultsConfig defines default values.
type DefaultsConfig struct {
	Agent string `mapstructure:"agent"`
}

// Load reads configuration from file and environment variables. A missing
// config file is not an error.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("find home directory: %w", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(filepath.Join(home, ".costwatch"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v, home)

	v.SetEnvPrefix("COSTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", filepath.Join(home, ".costwatch", "costwatch.db"))
	v.SetDefault("storage.dsn", "")

	v.SetDefault("budget.limit_usd", 0.0)
	v.SetDefault("budget.hourly_max_usd", 0.0)
	v.SetDefault("budget.daily_max_usd", 0.0)
	v.SetDefault("budget.spike_multiplier", 3.0)
	v.SetDefault("budget.cooldown_minutes", 60)

	v.SetDefault("alerts.timeout", "5s")
	v.SetDefault("alerts.slack.enabled", false)
	v.SetDefault("alerts.slack.webhook_url", "")
	v.SetDefault("alerts.slack.channel", "#llm-costs")
	v.SetDefault("alerts.webhook.enabled", false)
	v.SetDefault("alerts.webhook.url", "")
	v.SetDefault("alerts.webhook.secret", "")
	v.SetDefault("alerts.email.enabled", false)
	v.SetDefault("alerts.email.host", "")
	v.SetDefault("alerts.email.port", 587)
	v.SetDefault("alerts.email.username", "")
	v.SetDefault("alerts.email.password", "")
	v.SetDefault("alerts.email.from", "")
	v.SetDefault("alerts.email.to", []string{})
	v.SetDefault("alerts.redis.enabled", false)
	v.SetDefault("alerts.redis.addr", "localhost:6379")
	v.SetDefault("alerts.redis.password", "")
	v.SetDefault("alerts.redis.db", 0)
	v.SetDefault("alerts.redis.key", "costwatch:alerts")
	v.SetDefault("alerts.redis.channel", "costwatch.alerts")
	v.SetDefault("alerts.redis.max_len", 1000)

	v.SetDefault("pricing.file", "")

	v.SetDefault("server.listen", ":8090")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("proxy.listen", ":8080")
	v.SetDefault("proxy.read_timeout", "30s")
	v.SetDefault("proxy.write_timeout", "60s")
	v.SetDefault("proxy.max_body_size", 10*1024*1024) // 10 MB
	v.SetDefault("proxy.add_cost_headers", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("defaults.agent", "default")
}

// Validate rejects settings that cannot be acted on.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			return errors.New("config: storage.path is required for sqlite")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("config: storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}

	b := c.Budget
	if b.HourlyMaxUSD < 0 || b.DailyMaxUSD < 0 {
		return errors.New("config: budget spike ceilings must not be negative")
	}
	if b.SpikeMultiplier <= 0 {
		return errors.New("config: budget.spike_multiplier must be positive")
	}
	if b.CooldownMinutes < 0 {
		return errors.New("config: budget.cooldown_minutes must not be negative")
	}
	if c.Alerts.Timeout <= 0 {
		return errors.New("config: alerts.timeout must be positive")
	}
	return nil
}
