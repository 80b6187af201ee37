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
	"errors"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// ErrMissingBankPrefix is returned when BANK_PREFIX is not configured.
// The prefix routes transfers, mints account numbers, and identifies this
// bank to the central registry; there is no sensible default for it.
var ErrMissingBankPrefix = errors.New("BANK_PREFIX must be set")

// Config holds all the configuration variables for the service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                    string `mapstructure:"SERVER_PORT"`
	DatabaseURL                   string `mapstructure:"DATABASE_URL"`
	BankPrefix                    string `mapstructure:"BANK_PREFIX"`
	BankName                      string `mapstructure:"BANK_NAME"`
	CentralBankURL                string `mapstructure:"CENTRAL_BANK_URL"`
	CentralBankAPIKey             string `mapstructure:"CENTRAL_BANK_API_KEY"`
	TestMode                      bool   `mapstructure:"TEST_MODE"`
	JWTSecret                     string `mapstructure:"JWT_SECRET"`
	KeyRotateOnStart              bool   `mapstructure:"KEY_ROTATE_ON_START"`
	RabbitMQURL                   string `mapstructure:"RABBITMQ_URL"`
	RedisURL                      string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix          string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	B2BRateLimitPerMinute         int    `mapstructure:"B2B_RATE_LIMIT_PER_MINUTE"`
	TrustProxyHeader              bool   `mapstructure:"TRUST_PROXY_HEADER"`
	TransferDeliveryTimeoutSecs   int    `mapstructure:"TRANSFER_DELIVERY_TIMEOUT_SECONDS"`
	TransferDeliveryMaxAttempts   int    `mapstructure:"TRANSFER_DELIVERY_MAX_ATTEMPTS"`
	SessionTTLHours               int    `mapstructure:"SESSION_TTL_HOURS"`
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
	viper.SetDefault("BANK_NAME", "JMB Pank")
	viper.SetDefault("CENTRAL_BANK_URL", "https://henno.cfd/central-bank")
	viper.SetDefault("TEST_MODE", false)
	viper.SetDefault("KEY_ROTATE_ON_START", false)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "jmbpank:rate_limit")
	viper.SetDefault("B2B_RATE_LIMIT_PER_MINUTE", 60)
	viper.SetDefault("TRUST_PROXY_HEADER", false)
	viper.SetDefault("TRANSFER_DELIVERY_TIMEOUT_SECONDS", 5)
	viper.SetDefault("TRANSFER_DELIVERY_MAX_ATTEMPTS", 3)
	viper.SetDefault("SESSION_TTL_HOURS", 24)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("BANK_PREFIX")
	_ = viper.BindEnv("BANK_NAME")
	_ = viper.BindEnv("CENTRAL_BANK_URL")
	_ = viper.BindEnv("CENTRAL_BANK_API_KEY", "CENTRAL_BANK_API_KEY", "API_KEY")
	_ = viper.BindEnv("TEST_MODE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("KEY_ROTATE_ON_START")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("B2B_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("TRUST_PROXY_HEADER")
	_ = viper.BindEnv("TRANSFER_DELIVERY_TIMEOUT_SECONDS")
	_ = viper.BindEnv("TRANSFER_DELIVERY_MAX_ATTEMPTS")
	_ = viper.BindEnv("SESSION_TTL_HOURS")

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

	config.BankPrefix = strings.TrimSpace(config.BankPrefix)
	if config.BankPrefix == "" {
		return config, ErrMissingBankPrefix
	}
	config.CentralBankURL = strings.TrimSuffix(strings.TrimSpace(config.CentralBankURL), "/")
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "jmbpank:rate_limit"
	}

	if config.B2BRateLimitPerMinute <= 0 {
		config.B2BRateLimitPerMinute = 60
	}
	if config.TransferDeliveryTimeoutSecs <= 0 {
		config.TransferDeliveryTimeoutSecs = 5
	}
	if config.TransferDeliveryMaxAttempts <= 0 {
		config.TransferDeliveryMaxAttempts = 3
	}
	if config.SessionTTLHours <= 0 {
		config.SessionTTLHours = 24
	}

	return
}
