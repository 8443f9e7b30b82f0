package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
)

// Config holds the configuration for the resolver service
type Config struct {
	ResolverID      string
	PollingInterval time.Duration
	BatchTimeout    time.Duration
	RunOnce         bool
	WorkerCount     int
	MaxRetries      int
	FeeRateBps      int64
	MetricsPort     string
	SpenderCacheTTL time.Duration

	DatabaseURL string
	NatsURL     string
	RedisURL    string

	Credentials    Credentials
	Signers        Signers
	Networks       *Networks
	CircuitBreaker CircuitBreakerConfig
	LoggerConfig   LoggerConfig
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	cfg := &Config{}
	var err error

	if cfg.ResolverID, err = GetEnvResolverID(); err != nil {
		return nil, err
	}
	if cfg.PollingInterval, err = GetEnvPollingInterval(); err != nil {
		return nil, err
	}
	if cfg.BatchTimeout, err = GetEnvBatchTimeout(); err != nil {
		return nil, err
	}
	if cfg.RunOnce, err = GetEnvRunOnce(); err != nil {
		return nil, err
	}
	if cfg.WorkerCount, err = GetEnvWorkerCount(); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = GetEnvMaxRetries(); err != nil {
		return nil, err
	}
	if cfg.FeeRateBps, err = GetEnvFeeRateBps(); err != nil {
		return nil, err
	}
	if cfg.MetricsPort, err = GetEnvMetricsPort(); err != nil {
		return nil, err
	}
	if cfg.SpenderCacheTTL, err = GetEnvSpenderCacheTTL(); err != nil {
		return nil, err
	}
	if cfg.DatabaseURL, err = GetEnvURL("DATABASE_URL"); err != nil {
		return nil, err
	}
	if cfg.NatsURL, err = GetEnvURL("NATS_URL"); err != nil {
		return nil, err
	}
	if cfg.RedisURL, err = GetEnvURL("REDIS_URL"); err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}
	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}
	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}
	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}
	cfg.CircuitBreaker = CircuitBreakerConfig{
		Enabled:        cbEnabled,
		Threshold:      cbThreshold,
		WindowDuration: cbWindow,
		ResetTimeout:   cbReset,
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}
	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}
	cfg.LoggerConfig = LoggerConfig{Level: logLevel, Coloring: logColoring}

	if cfg.Credentials, err = LoadCredentials(); err != nil {
		return nil, err
	}
	if cfg.Signers, err = LoadSigners(); err != nil {
		return nil, err
	}
	if cfg.Networks, err = LoadNetworks(os.Getenv("NETWORKS_FILE")); err != nil {
		return nil, err
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks cross-field constraints
func validateConfig(cfg *Config) error {
	if cfg.BatchTimeout > cfg.PollingInterval && !cfg.RunOnce {
		return fmt.Errorf("BATCH_TIMEOUT (%s) must not exceed POLLING_INTERVAL (%s)", cfg.BatchTimeout, cfg.PollingInterval)
	}
	for _, n := range cfg.Networks.All() {
		if !n.ChainType.Executable() {
			return fmt.Errorf("network %d: chain type %s is not supported for execution", n.ChainID, n.ChainType)
		}
	}
	return nil
}
