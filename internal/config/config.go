/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the wallet-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	WebhookExchange      string `mapstructure:"WEBHOOK_EXCHANGE"`
	WebhookQueue         string `mapstructure:"WEBHOOK_QUEUE"`
	JWTSecret            string `mapstructure:"JWT_SECRET"`

	PaystackBaseURL        string `mapstructure:"PAYSTACK_BASE_URL"`
	PaystackSecretKey      string `mapstructure:"PAYSTACK_SECRET_KEY"`
	FlutterwaveBaseURL     string `mapstructure:"FLUTTERWAVE_BASE_URL"`
	FlutterwaveSecretKey   string `mapstructure:"FLUTTERWAVE_SECRET_KEY"`
	StripeBaseURL          string `mapstructure:"STRIPE_BASE_URL"`
	StripeSecretKey        string `mapstructure:"STRIPE_SECRET_KEY"`
	WebhookRateLimitPerMin int    `mapstructure:"WEBHOOK_RATE_LIMIT_PER_MINUTE"`
	APIRateLimitPerMin     int    `mapstructure:"API_RATE_LIMIT_PER_MINUTE"`

	IdempotencyReaperIntervalMin int `mapstructure:"IDEMPOTENCY_REAPER_INTERVAL_MINUTES"`
	IdempotencyPendingTTLMin     int `mapstructure:"IDEMPOTENCY_PENDING_TTL_MINUTES"`
	TransactionListLimit         int `mapstructure:"TRANSACTION_LIST_LIMIT"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "vaultpay:rate_limit")
	viper.SetDefault("WEBHOOK_EXCHANGE", "webhook_events")
	viper.SetDefault("WEBHOOK_QUEUE", "wallet_service.webhook_events")
	viper.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	viper.SetDefault("FLUTTERWAVE_BASE_URL", "https://api.flutterwave.com/v3")
	viper.SetDefault("STRIPE_BASE_URL", "https://api.stripe.com/v1")
	viper.SetDefault("WEBHOOK_RATE_LIMIT_PER_MINUTE", 600)
	viper.SetDefault("API_RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("IDEMPOTENCY_REAPER_INTERVAL_MINUTES", 5)
	viper.SetDefault("IDEMPOTENCY_PENDING_TTL_MINUTES", 15)
	viper.SetDefault("TRANSACTION_LIST_LIMIT", 50)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "WALLET_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("WEBHOOK_EXCHANGE")
	_ = viper.BindEnv("WEBHOOK_QUEUE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("PAYSTACK_BASE_URL")
	_ = viper.BindEnv("PAYSTACK_SECRET_KEY")
	_ = viper.BindEnv("FLUTTERWAVE_BASE_URL")
	_ = viper.BindEnv("FLUTTERWAVE_SECRET_KEY")
	_ = viper.BindEnv("STRIPE_BASE_URL")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("WEBHOOK_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("API_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("IDEMPOTENCY_REAPER_INTERVAL_MINUTES")
	_ = viper.BindEnv("IDEMPOTENCY_PENDING_TTL_MINUTES")
	_ = viper.BindEnv("TRANSACTION_LIST_LIMIT")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "vaultpay:rate_limit"
	}

	if config.WebhookRateLimitPerMin <= 0 {
		config.WebhookRateLimitPerMin = 600
	}
	if config.APIRateLimitPerMin <= 0 {
		config.APIRateLimitPerMin = 120
	}
	if config.IdempotencyReaperIntervalMin <= 0 {
		config.IdempotencyReaperIntervalMin = 5
	}
	if config.IdempotencyPendingTTLMin <= 0 {
		config.IdempotencyPendingTTLMin = 15
	}
	if config.TransactionListLimit <= 0 {
		config.TransactionListLimit = 50
	}

	return
}
