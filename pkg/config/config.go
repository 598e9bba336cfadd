package config

import (
	"fmt"
	"time"
)

// Config holds runtime configuration for the notifier service.
type Config struct {
	AppEnv      string            `mapstructure:"-"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Sentry      SentryConfig      `mapstructure:"sentry"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Bot         BotConfig         `mapstructure:"bot"`
	Mail        MailConfig        `mapstructure:"mail"`
	Auth        AuthConfig        `mapstructure:"auth" validate:"required"`
	UserService UserServiceConfig `mapstructure:"user_service" validate:"required"`
	Linking     LinkingConfig     `mapstructure:"linking"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Reaper      ReaperConfig      `mapstructure:"reaper"`
	Reminders   RemindersConfig   `mapstructure:"reminders"`
}

// LoggerConfig configures the slog pipeline.
type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=json text"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SentryConfig toggles error reporting.
type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

// ServerConfig configures the internal HTTP API.
type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the settings store backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"required,oneof=postgres memory"`
	Host            string        `mapstructure:"host" validate:"required_if=Driver postgres"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user" validate:"required_if=Driver postgres"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name" validate:"required_if=Driver postgres"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig mirrors pkg/redis.Config; an empty Addr disables Redis.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// BotConfig configures the Telegram transport.
type BotConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Token      string        `mapstructure:"token" validate:"required_if=Enabled true"`
	Mode       string        `mapstructure:"mode" validate:"omitempty,oneof=polling webhook"`
	Timeout    time.Duration `mapstructure:"timeout"`
	WebhookURL string        `mapstructure:"webhook_url" validate:"required_if=Mode webhook"`
	Listen     string        `mapstructure:"listen"`
}

// MailConfig configures the outbound SMTP relay.
type MailConfig struct {
	Host     string        `mapstructure:"host" validate:"required"`
	Port     int           `mapstructure:"port" validate:"required"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from" validate:"required,email"`
	TLS      string        `mapstructure:"tls" validate:"omitempty,oneof=mandatory opportunistic none"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig holds the shared secret used to sign and verify service tokens.
type AuthConfig struct {
	Secret      string        `mapstructure:"secret" validate:"required,min=32"`
	ServiceName string        `mapstructure:"service_name" validate:"required"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
}

// UserServiceConfig points to the upstream user directory.
type UserServiceConfig struct {
	BaseURL  string        `mapstructure:"base_url" validate:"required,url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// LinkingConfig tunes the Telegram linking worker.
type LinkingConfig struct {
	QueueSize int           `mapstructure:"queue_size" validate:"gte=0"`
	Workers   int           `mapstructure:"workers" validate:"gte=0"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	DedupTTL  time.Duration `mapstructure:"dedup_ttl"`
}

// RateLimitRule is a limit over a window such as "10m".
type RateLimitRule struct {
	Limit  int    `mapstructure:"limit" validate:"gte=0"`
	Window string `mapstructure:"window"`
}

// RateLimitConfig holds link attempt limits.
type RateLimitConfig struct {
	Whitelist    []int64       `mapstructure:"whitelist"`
	LinkAttempts RateLimitRule `mapstructure:"link_attempts"`
}

// ReaperJobConfig configures a single reconciliation sweep.
type ReaperJobConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	BatchSize int           `mapstructure:"batch_size" validate:"gte=0"`
	Interval  time.Duration `mapstructure:"interval"`
}

// ReaperConfig groups both reaper instantiations.
type ReaperConfig struct {
	Settings ReaperJobConfig `mapstructure:"settings"`
	Habits   ReaperJobConfig `mapstructure:"habits"`
}

// RemindersConfig configures the daily habit reminder task.
type RemindersConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Cron     string `mapstructure:"cron"`
	Timezone string `mapstructure:"timezone"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}
