/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the ledger service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	JWTSecret            string `mapstructure:"JWT_SECRET"`

	SettlementGraceSeconds     int    `mapstructure:"SETTLEMENT_GRACE_SECONDS"`
	ReconcileSchedule          string `mapstructure:"RECONCILE_SCHEDULE"`
	DepositCeiling             int64  `mapstructure:"DEPOSIT_CEILING"`
	SecondaryBalanceCeiling    int64  `mapstructure:"SECONDARY_BALANCE_CEILING"`
	MaxChildAccounts           int    `mapstructure:"MAX_CHILD_ACCOUNTS"`
	MaxActiveAccounts          int    `mapstructure:"MAX_ACTIVE_ACCOUNTS"`
	TransferRateLimitPerMinute int    `mapstructure:"TRANSFER_RATE_LIMIT_PER_MINUTE"`
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

	// Set default values matching the observed ledger policy.
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "bank:rate_limit")
	viper.SetDefault("SETTLEMENT_GRACE_SECONDS", 5)
	viper.SetDefault("RECONCILE_SCHEDULE", "@every 1m")
	viper.SetDefault("DEPOSIT_CEILING", 2000)
	viper.SetDefault("SECONDARY_BALANCE_CEILING", 50000)
	viper.SetDefault("MAX_CHILD_ACCOUNTS", 5)
	viper.SetDefault("MAX_ACTIVE_ACCOUNTS", 5)
	viper.SetDefault("TRANSFER_RATE_LIMIT_PER_MINUTE", 30)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT", "SERVER_PORT", "PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("SETTLEMENT_GRACE_SECONDS")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("DEPOSIT_CEILING")
	_ = viper.BindEnv("SECONDARY_BALANCE_CEILING")
	_ = viper.BindEnv("MAX_CHILD_ACCOUNTS")
	_ = viper.BindEnv("MAX_ACTIVE_ACCOUNTS")
	_ = viper.BindEnv("TRANSFER_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	// Unmarshal the configuration into the Config struct.
	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "bank:rate_limit"
	}
	config.ReconcileSchedule = strings.TrimSpace(config.ReconcileSchedule)
	if config.ReconcileSchedule == "" {
		config.ReconcileSchedule = "@every 1m"
	}

	if config.SettlementGraceSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive settlement grace configured; using default\" seconds=%d", config.SettlementGraceSeconds)
		config.SettlementGraceSeconds = 5
	}
	if config.DepositCeiling <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive deposit ceiling configured; using default\" ceiling=%d", config.DepositCeiling)
		config.DepositCeiling = 2000
	}
	if config.SecondaryBalanceCeiling <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive secondary balance ceiling configured; using default\" ceiling=%d", config.SecondaryBalanceCeiling)
		config.SecondaryBalanceCeiling = 50000
	}
	if config.MaxChildAccounts <= 0 {
		config.MaxChildAccounts = 5
	}
	if config.MaxActiveAccounts <= 0 {
		config.MaxActiveAccounts = 5
	}
	if config.TransferRateLimitPerMinute < 0 {
		config.TransferRateLimitPerMinute = 0
	}

	return
}
