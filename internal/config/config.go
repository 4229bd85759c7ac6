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
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the usage-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort         string `mapstructure:"SERVER_PORT"`
	DatabaseURL        string `mapstructure:"DATABASE_URL"`
	RedisURL           string `mapstructure:"REDIS_URL"`
	RedisUsagePrefix   string `mapstructure:"REDIS_USAGE_PREFIX"`
	RabbitMQURL        string `mapstructure:"RABBITMQ_URL"`
	UsageEventExchange string `mapstructure:"USAGE_EVENT_EXCHANGE"`
	BillingEventQueue  string `mapstructure:"BILLING_EVENT_QUEUE"`
	JWKSURL            string `mapstructure:"JWKS_URL"`
	InternalAPIKey     string `mapstructure:"INTERNAL_API_KEY"`

	FreeAIQueriesPerDay int64 `mapstructure:"FREE_AI_QUERIES_PER_DAY"`
	FreeTestsPerDay     int64 `mapstructure:"FREE_TESTS_PER_DAY"`

	CounterTimeoutMs int `mapstructure:"COUNTER_TIMEOUT_MS"`
	LedgerTimeoutMs  int `mapstructure:"LEDGER_TIMEOUT_MS"`
	LedgerMaxRetries int `mapstructure:"LEDGER_MAX_RETRIES"`
}

// CounterTimeout returns the fast counter per-call timeout as a duration.
func (c Config) CounterTimeout() time.Duration {
	return time.Duration(c.CounterTimeoutMs) * time.Millisecond
}

// LedgerTimeout returns the durable ledger per-attempt timeout as a duration.
func (c Config) LedgerTimeout() time.Duration {
	return time.Duration(c.LedgerTimeoutMs) * time.Millisecond
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
	viper.SetDefault("SERVER_PORT", "8084")
	viper.SetDefault("REDIS_USAGE_PREFIX", "tutorhub:usage")
	viper.SetDefault("USAGE_EVENT_EXCHANGE", "tutorhub.events")
	viper.SetDefault("BILLING_EVENT_QUEUE", "usage_service.subscription_updates")
	viper.SetDefault("FREE_AI_QUERIES_PER_DAY", 5)
	viper.SetDefault("FREE_TESTS_PER_DAY", 3)
	viper.SetDefault("COUNTER_TIMEOUT_MS", 500)
	viper.SetDefault("LEDGER_TIMEOUT_MS", 3000)
	viper.SetDefault("LEDGER_MAX_RETRIES", 3)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "USAGE_REDIS_URL")
	_ = viper.BindEnv("REDIS_USAGE_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("USAGE_EVENT_EXCHANGE")
	_ = viper.BindEnv("BILLING_EVENT_QUEUE")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "USAGE_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("FREE_AI_QUERIES_PER_DAY")
	_ = viper.BindEnv("FREE_TESTS_PER_DAY")
	_ = viper.BindEnv("COUNTER_TIMEOUT_MS")
	_ = viper.BindEnv("LEDGER_TIMEOUT_MS")
	_ = viper.BindEnv("LEDGER_MAX_RETRIES")

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

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.RedisUsagePrefix = strings.TrimSpace(config.RedisUsagePrefix)
	if config.RedisUsagePrefix == "" {
		config.RedisUsagePrefix = "tutorhub:usage"
	}

	if config.FreeAIQueriesPerDay < 0 {
		log.Printf("level=warn component=config msg=\"negative free ai-query limit configured; coercing to zero\" limit=%d", config.FreeAIQueriesPerDay)
		config.FreeAIQueriesPerDay = 0
	}
	if config.FreeTestsPerDay < 0 {
		log.Printf("level=warn component=config msg=\"negative free test limit configured; coercing to zero\" limit=%d", config.FreeTestsPerDay)
		config.FreeTestsPerDay = 0
	}

	if config.CounterTimeoutMs <= 0 {
		config.CounterTimeoutMs = 500
	}
	if config.CounterTimeoutMs > 1000 {
		// The counter sits on the hot path; a slow probe must become fail-open,
		// not added latency.
		log.Printf("level=warn component=config msg=\"counter timeout above one second; capping\" timeout_ms=%d", config.CounterTimeoutMs)
		config.CounterTimeoutMs = 1000
	}
	if config.LedgerTimeoutMs <= 0 {
		config.LedgerTimeoutMs = 3000
	}
	if config.LedgerMaxRetries <= 0 {
		config.LedgerMaxRetries = 3
	}

	return
}
