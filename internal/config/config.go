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

// Config holds all the configuration variables for the ledger-service and its
// settlement worker. These values are loaded from environment variables.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	SettlementExchange     string `mapstructure:"SETTLEMENT_EXCHANGE"`
	SettlementRequestQueue string `mapstructure:"SETTLEMENT_REQUEST_QUEUE"`

	LedgerAPIBaseURL    string `mapstructure:"LEDGER_API_BASE_URL"`
	InternalAPIUsername string `mapstructure:"INTERNAL_API_USERNAME"`
	InternalAPIPassword string `mapstructure:"INTERNAL_API_PASSWORD"`

	ExplorerBaseURL  string `mapstructure:"EXPLORER_BASE_URL"`
	WalletAPIBaseURL string `mapstructure:"WALLET_API_BASE_URL"`
	WalletAPIKey     string `mapstructure:"WALLET_API_KEY"`
	MasterAddress    string `mapstructure:"MASTER_WALLET_ADDRESS"`

	SecretKey string `mapstructure:"SECRET_KEY"`

	SettlementCallbackURL string `mapstructure:"SETTLEMENT_CALLBACK_URL"`

	UsesExternalToken bool  `mapstructure:"USES_EXTERNAL_TOKEN"`
	ForceLoadAmount   int64 `mapstructure:"FORCE_LOAD_AMOUNT"`
	StartingBalance   int64 `mapstructure:"STARTING_BALANCE"`

	BatchingEnabled  bool `mapstructure:"BATCHING_ENABLED"`
	BatchHoldSeconds int  `mapstructure:"BATCH_HOLD_SECONDS"`
	// ChainDecimals is the decimal shift between native chain units and whole
	// currency units, e.g. -8 for satoshi-denominated chains.
	ChainDecimals int    `mapstructure:"CHAIN_DECIMALS"`
	ChainCurrency string `mapstructure:"CHAIN_CURRENCY"`

	PollIntervalSeconds int `mapstructure:"POLL_INTERVAL_SECONDS"`
	PollMaxAttempts     int `mapstructure:"POLL_MAX_ATTEMPTS"`

	RescanSchedule    string `mapstructure:"RESCAN_SCHEDULE"`
	RescanWindowHours int    `mapstructure:"RESCAN_WINDOW_HOURS"`
	DiscoverySchedule string `mapstructure:"DISCOVERY_SCHEDULE"`

	RedisBalanceCachePrefix string `mapstructure:"REDIS_BALANCE_CACHE_PREFIX"`
	RedisBatchKey           string `mapstructure:"REDIS_BATCH_KEY"`
}

// BatchHold returns the batching window hold interval as a duration.
func (c Config) BatchHold() time.Duration {
	return time.Duration(c.BatchHoldSeconds) * time.Second
}

// PollInterval returns the explorer polling interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
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
	viper.SetDefault("SETTLEMENT_EXCHANGE", "ledger.settlement")
	viper.SetDefault("SETTLEMENT_REQUEST_QUEUE", "settlement_worker.requests")
	viper.SetDefault("USES_EXTERNAL_TOKEN", false)
	viper.SetDefault("FORCE_LOAD_AMOUNT", 0)
	viper.SetDefault("STARTING_BALANCE", 0)
	viper.SetDefault("BATCHING_ENABLED", true)
	viper.SetDefault("BATCH_HOLD_SECONDS", 20)
	viper.SetDefault("CHAIN_DECIMALS", -8)
	viper.SetDefault("CHAIN_CURRENCY", "CREDIT")
	viper.SetDefault("POLL_INTERVAL_SECONDS", 10)
	viper.SetDefault("POLL_MAX_ATTEMPTS", 30)
	viper.SetDefault("RESCAN_SCHEDULE", "@every 10m")
	viper.SetDefault("RESCAN_WINDOW_HOURS", 72)
	viper.SetDefault("DISCOVERY_SCHEDULE", "@every 30m")
	viper.SetDefault("REDIS_BALANCE_CACHE_PREFIX", "ledger:balance")
	viper.SetDefault("REDIS_BATCH_KEY", "settlement:next_batch")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("SETTLEMENT_EXCHANGE")
	_ = viper.BindEnv("SETTLEMENT_REQUEST_QUEUE")
	_ = viper.BindEnv("LEDGER_API_BASE_URL")
	_ = viper.BindEnv("INTERNAL_API_USERNAME")
	_ = viper.BindEnv("INTERNAL_API_PASSWORD")
	_ = viper.BindEnv("EXPLORER_BASE_URL")
	_ = viper.BindEnv("WALLET_API_BASE_URL")
	_ = viper.BindEnv("WALLET_API_KEY")
	_ = viper.BindEnv("MASTER_WALLET_ADDRESS")
	_ = viper.BindEnv("SECRET_KEY")
	_ = viper.BindEnv("SETTLEMENT_CALLBACK_URL")
	_ = viper.BindEnv("USES_EXTERNAL_TOKEN")
	_ = viper.BindEnv("FORCE_LOAD_AMOUNT")
	_ = viper.BindEnv("STARTING_BALANCE")
	_ = viper.BindEnv("BATCHING_ENABLED")
	_ = viper.BindEnv("BATCH_HOLD_SECONDS")
	_ = viper.BindEnv("CHAIN_DECIMALS")
	_ = viper.BindEnv("CHAIN_CURRENCY")
	_ = viper.BindEnv("POLL_INTERVAL_SECONDS")
	_ = viper.BindEnv("POLL_MAX_ATTEMPTS")
	_ = viper.BindEnv("RESCAN_SCHEDULE")
	_ = viper.BindEnv("RESCAN_WINDOW_HOURS")
	_ = viper.BindEnv("DISCOVERY_SCHEDULE")
	_ = viper.BindEnv("REDIS_BALANCE_CACHE_PREFIX")
	_ = viper.BindEnv("REDIS_BATCH_KEY")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	config.InternalAPIUsername = strings.TrimSpace(config.InternalAPIUsername)
	config.InternalAPIPassword = strings.TrimSpace(config.InternalAPIPassword)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.ExplorerBaseURL = strings.TrimSuffix(strings.TrimSpace(config.ExplorerBaseURL), "/")
	config.LedgerAPIBaseURL = strings.TrimSuffix(strings.TrimSpace(config.LedgerAPIBaseURL), "/")
	config.WalletAPIBaseURL = strings.TrimSuffix(strings.TrimSpace(config.WalletAPIBaseURL), "/")

	if config.BatchHoldSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive batch hold configured; using default\" batch_hold_seconds=%d", config.BatchHoldSeconds)
		config.BatchHoldSeconds = 20
	}
	if config.PollIntervalSeconds <= 0 {
		config.PollIntervalSeconds = 10
	}
	if config.PollMaxAttempts <= 0 {
		config.PollMaxAttempts = 30
	}
	if config.RescanWindowHours <= 0 {
		config.RescanWindowHours = 72
	}
	if config.ForceLoadAmount < 0 {
		log.Printf("level=warn component=config msg=\"negative force load amount configured; coercing to zero\" force_load_amount=%d", config.ForceLoadAmount)
		config.ForceLoadAmount = 0
	}
	if config.StartingBalance < 0 {
		log.Printf("level=warn component=config msg=\"negative starting balance configured; coercing to zero\" starting_balance=%d", config.StartingBalance)
		config.StartingBalance = 0
	}
	if config.RedisBalanceCachePrefix == "" {
		config.RedisBalanceCachePrefix = "ledger:balance"
	}
	if config.RedisBatchKey == "" {
		config.RedisBatchKey = "settlement:next_batch"
	}

	return
}
