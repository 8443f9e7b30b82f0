package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
)

const (
	// DefaultPollingInterval is how often a batch is started, in seconds
	DefaultPollingInterval = 300

	// DefaultBatchTimeout is the wall-clock ceiling of a single batch, in seconds
	DefaultBatchTimeout = 300

	// DefaultWorkerCount defines the default number of intents processed concurrently
	DefaultWorkerCount = 5

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultMaxRetries is the number of failed passes before an intent is refunded
	DefaultMaxRetries = 3

	// DefaultFeeRateBps is the resolver fee in basis points
	DefaultFeeRateBps = 30

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker, in seconds
	DefaultCircuitBreakerWindow = 300

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker, in seconds
	DefaultCircuitBreakerReset = 900

	// DefaultSpenderCacheTTL is how long a resolved approval spender is trusted
	DefaultSpenderCacheTTL = time.Hour
)

// GetEnvPollingInterval returns the interval between batches
func GetEnvPollingInterval() (time.Duration, error) {
	return getEnvSeconds("POLLING_INTERVAL", DefaultPollingInterval)
}

// GetEnvBatchTimeout returns the wall-clock budget of one batch
func GetEnvBatchTimeout() (time.Duration, error) {
	return getEnvSeconds("BATCH_TIMEOUT", DefaultBatchTimeout)
}

// GetEnvWorkerCount returns the number of workers from environment variables
func GetEnvWorkerCount() (int, error) {
	return getEnvPositiveInt("WORKER_COUNT", DefaultWorkerCount)
}

// GetEnvMaxRetries returns the maximum number of failed passes per intent
func GetEnvMaxRetries() (int, error) {
	return getEnvPositiveInt("MAX_RETRIES", DefaultMaxRetries)
}

// GetEnvFeeRateBps returns the fee rate in basis points
func GetEnvFeeRateBps() (int64, error) {
	raw := os.Getenv("FEE_RATE_BPS")
	if raw == "" {
		return DefaultFeeRateBps, nil
	}
	bps, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid FEE_RATE_BPS value: %s, must be an integer", raw)
	}
	if bps < 0 || bps >= 10000 {
		return 0, fmt.Errorf("FEE_RATE_BPS must be between 0 and 9999")
	}
	return bps, nil
}

// GetEnvResolverID returns the identity whose pending intents this process owns
func GetEnvResolverID() (string, error) {
	id := strings.TrimSpace(os.Getenv("RESOLVER_ID"))
	if id == "" {
		return "", fmt.Errorf("RESOLVER_ID environment variable is required")
	}
	return id, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	return getEnvBool("CIRCUIT_BREAKER_ENABLED", DefaultCircuitBreakerEnabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	return getEnvPositiveInt("CIRCUIT_BREAKER_THRESHOLD", DefaultCircuitBreakerThreshold)
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow*time.Second)
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset*time.Second)
}

// GetEnvSpenderCacheTTL returns how long approval spender lookups are cached
func GetEnvSpenderCacheTTL() (time.Duration, error) {
	return getEnvDuration("SPENDER_CACHE_TTL", DefaultSpenderCacheTTL)
}

// GetEnvLogLevel returns the log level
func GetEnvLogLevel() (logger.Level, error) {
	return logger.ParseLevel(os.Getenv("LOG_LEVEL"))
}

// GetEnvLogColoring returns whether chain prefixes are colored
func GetEnvLogColoring() (bool, error) {
	return getEnvBool("LOG_COLORING", true)
}

// GetEnvRunOnce returns whether the process runs a single batch and exits
func GetEnvRunOnce() (bool, error) {
	return getEnvBool("RUN_ONCE", false)
}

// GetEnvURL returns an optional URL-valued variable, validated when set
func GetEnvURL(name string) (string, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return "", nil
	}
	if _, err := url.Parse(raw); err != nil {
		return "", fmt.Errorf("invalid %s value: %s, must be a valid URL", name, raw)
	}
	return raw, nil
}

func getEnvSeconds(name string, def int) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return time.Duration(def) * time.Second, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", name, raw)
	}
	if secs <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", name)
	}
	return time.Duration(secs) * time.Second, nil
}

func getEnvPositiveInt(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", name, raw)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", name)
	}
	return n, nil
}

func getEnvBool(name string, def bool) (bool, error) {
	switch raw := os.Getenv(name); raw {
	case "":
		return def, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s value: %s, must be 'true' or 'false'", name, raw)
	}
}

func getEnvDuration(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", name, raw)
	}
	return parsed, nil
}
