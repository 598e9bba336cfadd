// Package config provides configuration loading and validation utilities.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from YAML files and environment variables, validates it, and returns the resulting Config.
func Load() (*Config, *viper.Viper, error) {
	if err := godotenv.Load(".env.local", ".env"); err != nil {
		// env files are optional
		_ = err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(fmt.Sprintf("./configs/%s.yaml", env))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	cfg.AppEnv = env

	return cfg, v, nil
}

// Watch re-reads the config file on change and hands the fresh logger level to onLevel.
func Watch(v *viper.Viper, onLevel func(level string)) {
	if v == nil || onLevel == nil {
		return
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		onLevel(v.GetString("logger.level"))
	})
	v.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 14)

	v.SetDefault("sentry.sample_rate", 1.0)

	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.pool_timeout", 4*time.Second)
	v.SetDefault("redis.max_retries", 3)

	v.SetDefault("bot.mode", "polling")
	v.SetDefault("bot.timeout", 10*time.Second)

	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.tls", "opportunistic")
	v.SetDefault("mail.timeout", 15*time.Second)

	v.SetDefault("auth.service_name", "NOTIFICATION-SERVICE")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("user_service.timeout", 5*time.Second)
	v.SetDefault("user_service.cache_ttl", 5*time.Minute)

	v.SetDefault("linking.queue_size", 256)
	v.SetDefault("linking.workers", 1)
	v.SetDefault("linking.token_ttl", 24*time.Hour)
	v.SetDefault("linking.dedup_ttl", 24*time.Hour)

	v.SetDefault("rate_limit.link_attempts.limit", 5)
	v.SetDefault("rate_limit.link_attempts.window", "10m")

	v.SetDefault("reaper.settings.enabled", true)
	v.SetDefault("reaper.settings.batch_size", 10)
	v.SetDefault("reaper.settings.interval", 30*time.Minute)
	v.SetDefault("reaper.habits.enabled", false)
	v.SetDefault("reaper.habits.batch_size", 5)
	v.SetDefault("reaper.habits.interval", 30*time.Minute)

	v.SetDefault("reminders.enabled", false)
	v.SetDefault("reminders.cron", "0 20 * * *")
	v.SetDefault("reminders.timezone", "Europe/Berlin")
}
