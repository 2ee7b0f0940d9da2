package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/queue"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/refresh"
)

// Config holds all Ops Sentinel configuration.
type Config struct {
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Refresh    RefreshConfig    `mapstructure:"refresh"`
	Queue      queue.Config     `mapstructure:"queue"`
	Rules      RulesConfig      `mapstructure:"rules"`
	Senders    SendersConfig    `mapstructure:"senders"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig defines the HTTP API listener.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AdminToken      string        `mapstructure:"admin_token"`
}

// CacheConfig defines alert cache lifetimes.
type CacheConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	ComputeTimeout time.Duration `mapstructure:"compute_timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	PushRetention  time.Duration `mapstructure:"push_retention"`
}

// RefreshConfig defines the refresh scheduler.
type RefreshConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	refresh.Config `mapstructure:",squash"`
}

// RulesConfig points at an optional thresholds file.
type RulesConfig struct {
	File string `mapstructure:"file"`
}

// SendersConfig defines delivery integrations.
type SendersConfig struct {
	Slack   SlackConfig   `mapstructure:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook"`
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

// EscalationConfig controls notifications for new critical alerts.
type EscalationConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Recipient string `mapstructure:"recipient"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	Output string        `mapstructure:"output"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig defines rotation for file output.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig toggles the Prometheus collector.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig defines OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
}

// Load reads configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("find home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".sentinel"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
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

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	v.SetDefault("storage.path", filepath.Join(home, ".sentinel", "sentinel.db"))

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.admin_token", "")

	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.compute_timeout", "30s")
	v.SetDefault("cache.sweep_interval", "1m")
	v.SetDefault("cache.push_retention", "24h")

	v.SetDefault("refresh.interval", "5m")
	v.SetDefault("refresh.tenant_timeout", "20s")
	v.SetDefault("refresh.concurrency", 4)

	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.poll_interval", "1s")
	v.SetDefault("queue.delivery_timeout", "10s")
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff.initial", "30s")
	v.SetDefault("queue.backoff.max", "30m")
	v.SetDefault("queue.backoff.multiplier", 2.0)
	v.SetDefault("queue.retention", "24h")

	v.SetDefault("rules.file", "")

	v.SetDefault("senders.slack.enabled", false)
	v.SetDefault("senders.slack.webhook_url", "")
	v.SetDefault("senders.slack.channel", "#ops-alerts")
	v.SetDefault("senders.webhook.enabled", false)
	v.SetDefault("senders.webhook.url", "")
	v.SetDefault("senders.webhook.secret", "")

	v.SetDefault("escalation.enabled", false)
	v.SetDefault("escalation.type", "log")
	v.SetDefault("escalation.recipient", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.file.path", filepath.Join(home, ".sentinel", "sentinel.log"))
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age_days", 28)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "ops-sentinel")
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	positive("cache.ttl", c.Cache.TTL)
	positive("cache.compute_timeout", c.Cache.ComputeTimeout)
	positive("cache.sweep_interval", c.Cache.SweepInterval)
	positive("refresh.interval", c.Refresh.Interval)
	positive("refresh.tenant_timeout", c.Refresh.TenantTimeout)
	positive("queue.poll_interval", c.Queue.PollInterval)
	positive("queue.delivery_timeout", c.Queue.DeliveryTimeout)

	if c.Refresh.Concurrency <= 0 {
		errs = append(errs, errors.New("refresh.concurrency must be positive"))
	}
	if c.Queue.Workers <= 0 {
		errs = append(errs, errors.New("queue.workers must be positive"))
	}
	if c.Queue.MaxAttempts <= 0 {
		errs = append(errs, errors.New("queue.max_attempts must be positive"))
	}
	if c.Queue.Backoff.Multiplier < 1 {
		errs = append(errs, errors.New("queue.backoff.multiplier must be at least 1"))
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or text", c.Logging.Format))
	}
	switch c.Logging.Output {
	case "stderr", "stdout", "file":
	default:
		errs = append(errs, fmt.Errorf("logging.output %q must be stderr, stdout or file", c.Logging.Output))
	}

	if c.Senders.Slack.Enabled && c.Senders.Slack.WebhookURL == "" {
		errs = append(errs, errors.New("senders.slack.webhook_url is required when slack is enabled"))
	}
	if c.Senders.Webhook.Enabled && c.Senders.Webhook.URL == "" {
		errs = append(errs, errors.New("senders.webhook.url is required when webhook is enabled"))
	}
	if c.Escalation.Enabled && c.Escalation.Recipient == "" {
		errs = append(errs, errors.New("escalation.recipient is required when escalation is enabled"))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, errors.New("tracing.sample_rate must be between 0 and 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
