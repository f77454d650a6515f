/**
 * @description
 * Configuration management for the billing service. Settings come from
 * environment variables with defaults for the billing policy knobs.
 */
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds all configuration for the billing service.
type Config struct {
	ServerPort       string `mapstructure:"SERVER_PORT"`
	DatabaseURL      string `mapstructure:"DATABASE_URL"`
	RabbitMQURL      string `mapstructure:"RABBITMQ_URL"`
	RedisURL         string `mapstructure:"REDIS_URL"`
	BusinessTimezone string `mapstructure:"BUSINESS_TIMEZONE"`

	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`
	AdminJWTSecret string `mapstructure:"ADMIN_JWT_SECRET"`

	NotificationServiceURL string `mapstructure:"NOTIFICATION_SERVICE_URL"`
	GatewayBaseURL         string `mapstructure:"GATEWAY_BASE_URL"`
	GatewayAPIKey          string `mapstructure:"GATEWAY_API_KEY"`
	GatewayWebhookSecret   string `mapstructure:"GATEWAY_WEBHOOK_SECRET"`
	GatewayMerchantCode    string `mapstructure:"GATEWAY_MERCHANT_CODE"`

	// Billing policy.
	DefaultDeadlineDay     int   `mapstructure:"DEFAULT_DEADLINE_DAY"`
	DefaultGraceDays       int   `mapstructure:"DEFAULT_GRACE_DAYS"`
	CarryOverDueOffsetDays int   `mapstructure:"CARRY_OVER_DUE_OFFSET_DAYS"`
	OnTimeResetThreshold   int   `mapstructure:"ON_TIME_RESET_THRESHOLD"`
	RecalcWindowMonths     int   `mapstructure:"RECALC_WINDOW_MONTHS"`
	SLARatePerPoint        int64 `mapstructure:"SLA_RATE_PER_POINT"`
	InvoiceNumberRetries   int   `mapstructure:"INVOICE_NUMBER_RETRIES"`

	// Webhook rate limiting.
	WebhookRateLimit         int `mapstructure:"WEBHOOK_RATE_LIMIT"`
	WebhookRateWindowSeconds int `mapstructure:"WEBHOOK_RATE_WINDOW_SECONDS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (Config, error) {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("BUSINESS_TIMEZONE", "Asia/Jakarta")
	viper.SetDefault("DEFAULT_DEADLINE_DAY", 20)
	viper.SetDefault("DEFAULT_GRACE_DAYS", 1)
	viper.SetDefault("CARRY_OVER_DUE_OFFSET_DAYS", 14)
	viper.SetDefault("ON_TIME_RESET_THRESHOLD", 3)
	viper.SetDefault("RECALC_WINDOW_MONTHS", 6)
	viper.SetDefault("SLA_RATE_PER_POINT", 1000)
	viper.SetDefault("INVOICE_NUMBER_RETRIES", 3)
	viper.SetDefault("WEBHOOK_RATE_LIMIT", 60)
	viper.SetDefault("WEBHOOK_RATE_WINDOW_SECONDS", 60)
	viper.AutomaticEnv()

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("BUSINESS_TIMEZONE")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("ADMIN_JWT_SECRET")
	_ = viper.BindEnv("NOTIFICATION_SERVICE_URL")
	_ = viper.BindEnv("GATEWAY_BASE_URL")
	_ = viper.BindEnv("GATEWAY_API_KEY")
	_ = viper.BindEnv("GATEWAY_WEBHOOK_SECRET")
	_ = viper.BindEnv("GATEWAY_MERCHANT_CODE")
	_ = viper.BindEnv("DEFAULT_DEADLINE_DAY")
	_ = viper.BindEnv("DEFAULT_GRACE_DAYS")
	_ = viper.BindEnv("CARRY_OVER_DUE_OFFSET_DAYS")
	_ = viper.BindEnv("ON_TIME_RESET_THRESHOLD")
	_ = viper.BindEnv("RECALC_WINDOW_MONTHS")
	_ = viper.BindEnv("SLA_RATE_PER_POINT")
	_ = viper.BindEnv("INVOICE_NUMBER_RETRIES")
	_ = viper.BindEnv("WEBHOOK_RATE_LIMIT")
	_ = viper.BindEnv("WEBHOOK_RATE_WINDOW_SECONDS")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return Config{}, err
	}
	if port := os.Getenv("PORT"); port != "" {
		config.ServerPort = port
	}

	if config.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if config.DefaultDeadlineDay < 1 || config.DefaultDeadlineDay > 28 {
		return Config{}, fmt.Errorf("DEFAULT_DEADLINE_DAY must be between 1 and 28, got %d", config.DefaultDeadlineDay)
	}
	if config.OnTimeResetThreshold < 1 {
		return Config{}, fmt.Errorf("ON_TIME_RESET_THRESHOLD must be at least 1, got %d", config.OnTimeResetThreshold)
	}
	if config.RecalcWindowMonths < 1 {
		return Config{}, fmt.Errorf("RECALC_WINDOW_MONTHS must be at least 1, got %d", config.RecalcWindowMonths)
	}

	return config, nil
}
