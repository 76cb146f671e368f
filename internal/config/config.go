// Package config loads application settings from environment variables via
// viper, giving one place that names every knob the service reads.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// RedisURL enables cross-replica webhook event deduplication when set.
	RedisURL string `mapstructure:"REDIS_URL"`

	StripeAPIKey         string `mapstructure:"STRIPE_API_KEY"`
	StripeWebhookSecret  string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StripeYearlyPriceID  string `mapstructure:"STRIPE_YEARLY_PRICE_ID"`
	StripeMonthlyPriceID string `mapstructure:"STRIPE_MONTHLY_PRICE_ID"`

	CheckoutSuccessURL string `mapstructure:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL  string `mapstructure:"CHECKOUT_CANCEL_URL"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range []string{
		"SERVER_PORT",
		"LOG_LEVEL",
		"DATABASE_URL",
		"REDIS_URL",
		"STRIPE_API_KEY",
		"STRIPE_WEBHOOK_SECRET",
		"STRIPE_YEARLY_PRICE_ID",
		"STRIPE_MONTHLY_PRICE_ID",
		"CHECKOUT_SUCCESS_URL",
		"CHECKOUT_CANCEL_URL",
	} {
		_ = viper.BindEnv(key)
	}

	if err = viper.Unmarshal(&config); err != nil {
		return config, err
	}
	return config, config.validate()
}

func (c Config) validate() error {
	required := map[string]string{
		"DATABASE_URL":            c.DatabaseURL,
		"STRIPE_API_KEY":          c.StripeAPIKey,
		"STRIPE_WEBHOOK_SECRET":   c.StripeWebhookSecret,
		"STRIPE_YEARLY_PRICE_ID":  c.StripeYearlyPriceID,
		"STRIPE_MONTHLY_PRICE_ID": c.StripeMonthlyPriceID,
	}
	for key, value := range required {
		if value == "" {
			return fmt.Errorf("missing required configuration: %s", key)
		}
	}
	return nil
}
