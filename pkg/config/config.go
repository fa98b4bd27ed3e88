package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	Development = "development"
	Production  = "production"
)

type Config struct {
	Env       string
	Server    ServerConfig
	Store     StoreConfig
	Cache     CacheConfig
	Notify    NotifyConfig
	RateLimit RateLimitConfig
	Jobs      JobsConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins string
}

type StoreConfig struct {
	URL             string
	QueryTimeoutSec int
	ConnectAttempts int
}

type CacheConfig struct {
	URL             string
	OpTimeoutMS     int
	ConnectAttempts int
}

type NotifyConfig struct {
	SendTimeoutSec int
	Chat           ChatConfig
	Email          EmailConfig
}

type ChatConfig struct {
	WebhookURL string
	Channel    string
}

type EmailConfig struct {
	Provider       string
	From           string
	To             string
	SMTPHost       string
	SMTPPort       int
	SMTPUser       string
	SMTPPass       string
	SendGridAPIKey string
}

type RateLimitConfig struct {
	Enabled              bool
	MaxRequestsPerMinute int
}

type JobsConfig struct {
	DailySummarySchedule string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func (c *Config) IsDevelopment() bool {
	return c.Env != Production
}

func (c StoreConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSec) * time.Second
}

func (c CacheConfig) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutMS) * time.Millisecond
}

func (c NotifyConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSec) * time.Second
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/pollpulse")

	v.SetEnvPrefix("POLL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if cfg.Env != Production {
		cfg.Env = Development
	}
	cfg.Notify.Email.Provider = strings.ToLower(strings.TrimSpace(cfg.Notify.Email.Provider))

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", Development)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.readTimeout", 15)
	v.SetDefault("server.writeTimeout", 15)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.allowedOrigins", "*")

	v.SetDefault("store.url", "sqlite://./data/poll.db")
	v.SetDefault("store.queryTimeoutSec", 10)
	v.SetDefault("store.connectAttempts", 5)

	v.SetDefault("cache.url", "")
	v.SetDefault("cache.opTimeoutMS", 500)
	v.SetDefault("cache.connectAttempts", 3)

	v.SetDefault("notify.sendTimeoutSec", 10)
	v.SetDefault("notify.chat.channel", "#general")
	v.SetDefault("notify.email.provider", "smtp")
	v.SetDefault("notify.email.smtpPort", 587)

	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.maxRequestsPerMinute", 120)

	v.SetDefault("jobs.dailySummarySchedule", "5 0 * * *")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
	v.SetDefault("logging.maxSizeMB", 20)
	v.SetDefault("logging.maxBackups", 10)
	v.SetDefault("logging.maxAgeDays", 30)
}

// bindEnv maps the conventional deployment variables onto config keys. The
// POLL_ prefixed names keep working through AutomaticEnv.
func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"env":                         {"POLL_ENV", "APP_ENV"},
		"server.port":                 {"POLL_SERVER_PORT", "PORT"},
		"store.url":                   {"POLL_STORE_URL", "DATABASE_URL"},
		"cache.url":                   {"POLL_CACHE_URL", "REDIS_URL"},
		"notify.chat.webhookURL":      {"POLL_NOTIFY_CHAT_WEBHOOKURL", "SLACK_WEBHOOK_URL"},
		"notify.chat.channel":         {"POLL_NOTIFY_CHAT_CHANNEL", "SLACK_CHANNEL"},
		"notify.email.provider":       {"POLL_NOTIFY_EMAIL_PROVIDER", "EMAIL_PROVIDER"},
		"notify.email.from":           {"POLL_NOTIFY_EMAIL_FROM", "ALERT_EMAIL_FROM"},
		"notify.email.to":             {"POLL_NOTIFY_EMAIL_TO", "ALERT_EMAIL_TO"},
		"notify.email.smtpHost":       {"POLL_NOTIFY_EMAIL_SMTPHOST", "SMTP_HOST"},
		"notify.email.smtpPort":       {"POLL_NOTIFY_EMAIL_SMTPPORT", "SMTP_PORT"},
		"notify.email.smtpUser":       {"POLL_NOTIFY_EMAIL_SMTPUSER", "SMTP_USER"},
		"notify.email.smtpPass":       {"POLL_NOTIFY_EMAIL_SMTPPASS", "SMTP_PASS"},
		"notify.email.sendGridAPIKey": {"POLL_NOTIFY_EMAIL_SENDGRIDAPIKEY", "SENDGRID_API_KEY"},
		"logging.level":               {"POLL_LOGGING_LEVEL", "LOG_LEVEL"},
	}

	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	return nil
}
