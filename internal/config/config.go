/**
 * @description
 * Configuration management for the subscription API and the reminder scheduler.
 * Settings come from environment variables, with defaults for everything that
 * has a sensible local value.
 */
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the API service.
type Config struct {
	ServerPort       string `mapstructure:"SERVER_PORT"`
	DatabaseURL      string `mapstructure:"DATABASE_URL"`
	ClerkJWKSURL     string `mapstructure:"CLERK_JWKS_URL"`
	InternalAPIKey   string `mapstructure:"INTERNAL_API_KEY"`
	BusinessTimezone string `mapstructure:"BUSINESS_TIMEZONE"`
	RabbitMQURL      string `mapstructure:"RABBITMQ_URL"`
	RedisURL         string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix   string `mapstructure:"REDIS_KEY_PREFIX"`
	RunMigrations    bool   `mapstructure:"RUN_MIGRATIONS"`
	AppBaseURL       string `mapstructure:"APP_BASE_URL"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     string `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPSender   string `mapstructure:"SMTP_SENDER"`

	EmailSendTimeoutSeconds   int `mapstructure:"EMAIL_SEND_TIMEOUT_SECONDS"`
	DispatchStaleAfterMinutes int `mapstructure:"DISPATCH_STALE_AFTER_MINUTES"`
	DispatchLockTTLMinutes    int `mapstructure:"DISPATCH_LOCK_TTL_MINUTES"`
}

// EmailSendTimeout bounds a single SMTP delivery.
func (c Config) EmailSendTimeout() time.Duration {
	return time.Duration(c.EmailSendTimeoutSeconds) * time.Second
}

// DispatchStaleAfter is how long an in-flight email row may sit before another
// sweep is allowed to reclaim it.
func (c Config) DispatchStaleAfter() time.Duration {
	return time.Duration(c.DispatchStaleAfterMinutes) * time.Minute
}

func (c Config) DispatchLockTTL() time.Duration {
	return time.Duration(c.DispatchLockTTLMinutes) * time.Minute
}

// LoadConfig reads the API configuration from environment variables.
func LoadConfig() (Config, error) {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("BUSINESS_TIMEZONE", "Asia/Karachi")
	viper.SetDefault("REDIS_KEY_PREFIX", "subtrack")
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("SMTP_PORT", "587")
	viper.SetDefault("EMAIL_SEND_TIMEOUT_SECONDS", 15)
	viper.SetDefault("DISPATCH_STALE_AFTER_MINUTES", 30)
	viper.SetDefault("DISPATCH_LOCK_TTL_MINUTES", 30)
	viper.SetDefault("APP_BASE_URL", "http://localhost:3000")
	viper.AutomaticEnv()

	for _, key := range []string{
		"SERVER_PORT", "PORT", "DATABASE_URL", "CLERK_JWKS_URL", "INTERNAL_API_KEY",
		"BUSINESS_TIMEZONE", "RABBITMQ_URL", "REDIS_URL", "REDIS_KEY_PREFIX",
		"RUN_MIGRATIONS", "APP_BASE_URL",
		"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_SENDER",
		"EMAIL_SEND_TIMEOUT_SECONDS", "DISPATCH_STALE_AFTER_MINUTES", "DISPATCH_LOCK_TTL_MINUTES",
	} {
		_ = viper.BindEnv(key)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.ServerPort = port
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if _, err := time.LoadLocation(cfg.BusinessTimezone); err != nil {
		return Config{}, fmt.Errorf("invalid BUSINESS_TIMEZONE %q: %w", cfg.BusinessTimezone, err)
	}
	if cfg.EmailSendTimeoutSeconds <= 0 {
		return Config{}, fmt.Errorf("EMAIL_SEND_TIMEOUT_SECONDS must be positive")
	}
	if cfg.DispatchStaleAfterMinutes <= 0 || cfg.DispatchLockTTLMinutes <= 0 {
		return Config{}, fmt.Errorf("DISPATCH_STALE_AFTER_MINUTES and DISPATCH_LOCK_TTL_MINUTES must be positive")
	}

	return cfg, nil
}

// SchedulerConfig holds all configuration for the scheduler process.
type SchedulerConfig struct {
	APIServiceURL            string `mapstructure:"API_SERVICE_URL"`
	InternalAPIKey           string `mapstructure:"INTERNAL_API_KEY"`
	ReminderDispatchSchedule string `mapstructure:"REMINDER_DISPATCH_SCHEDULE"`
	DispatchRunOnStart       bool   `mapstructure:"DISPATCH_RUN_ON_START"`
	DispatchTimeoutMinutes   int    `mapstructure:"DISPATCH_TIMEOUT_MINUTES"`
}

func (c SchedulerConfig) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutMinutes) * time.Minute
}

// LoadSchedulerConfig reads the scheduler configuration from environment variables.
func LoadSchedulerConfig() (*SchedulerConfig, error) {
	viper.SetDefault("REMINDER_DISPATCH_SCHEDULE", "CRON_TZ=Asia/Karachi 0 9 * * *") // 09:00 business time, daily.
	viper.SetDefault("DISPATCH_RUN_ON_START", false)
	viper.SetDefault("DISPATCH_TIMEOUT_MINUTES", 10)
	viper.AutomaticEnv()

	_ = viper.BindEnv("API_SERVICE_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("REMINDER_DISPATCH_SCHEDULE")
	_ = viper.BindEnv("DISPATCH_RUN_ON_START")
	_ = viper.BindEnv("DISPATCH_TIMEOUT_MINUTES")

	var cfg SchedulerConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.APIServiceURL) == "" {
		return nil, fmt.Errorf("API_SERVICE_URL is required")
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		return nil, fmt.Errorf("INTERNAL_API_KEY is required")
	}
	if cfg.DispatchTimeoutMinutes <= 0 {
		cfg.DispatchTimeoutMinutes = 10
	}

	return &cfg, nil
}
