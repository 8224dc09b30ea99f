package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eventgate/eventgate/pkg/gateway"
	"github.com/eventgate/eventgate/pkg/observability"
	"github.com/eventgate/eventgate/pkg/ratelimit"
	"github.com/eventgate/eventgate/pkg/webhooks"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Webhook dispatcher configuration
	Dispatcher DispatcherConfig

	// WebSocket gateway configuration
	Gateway GatewayConfig

	// Admin API rate limiting
	APIRateLimit ratelimit.Config

	// Redis configuration (distributed rate limiting, health checks)
	Redis RedisConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DispatcherConfig holds webhook delivery settings
type DispatcherConfig struct {
	Workers           int
	QueueSize         int
	Timeout           time.Duration
	MaxLogs           int
	LogRetention      time.Duration
	SubscriptionsFile string
	WatchFile         bool
}

// GatewayConfig holds WebSocket gateway settings
type GatewayConfig struct {
	QueueSize int
	Overflow  gateway.OverflowPolicy
	AuthGrace time.Duration
	RateLimit ratelimit.Config

	// Tokens maps credential -> identity for the static authenticator
	Tokens map[string]string
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Dispatcher:    loadDispatcherConfig(),
		Gateway:       loadGatewayConfig(),
		APIRateLimit:  loadAPIRateLimit(),
		Redis:         loadRedisConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("EVENTGATE_HOST", "0.0.0.0"),
		Port:            getEnv("EVENTGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("EVENTGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("EVENTGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("EVENTGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("EVENTGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("EVENTGATE_HEALTH_PORT", "9090"),
	}
}

// loadDispatcherConfig loads webhook dispatcher configuration from environment
func loadDispatcherConfig() DispatcherConfig {
	defaults := webhooks.DefaultConfig()
	return DispatcherConfig{
		Workers:           getEnvInt("EVENTGATE_DISPATCH_WORKERS", defaults.Workers),
		QueueSize:         getEnvInt("EVENTGATE_DISPATCH_QUEUE_SIZE", defaults.QueueSize),
		Timeout:           getEnvDuration("EVENTGATE_DISPATCH_TIMEOUT", defaults.Timeout),
		MaxLogs:           getEnvInt("EVENTGATE_DISPATCH_MAX_LOGS", defaults.MaxLogs),
		LogRetention:      getEnvDuration("EVENTGATE_DISPATCH_LOG_RETENTION", 24*time.Hour),
		SubscriptionsFile: getEnv("EVENTGATE_SUBSCRIPTIONS_FILE", ""),
		WatchFile:         getEnvBool("EVENTGATE_SUBSCRIPTIONS_WATCH", false),
	}
}

// loadGatewayConfig loads WebSocket gateway configuration from environment
func loadGatewayConfig() GatewayConfig {
	defaults := gateway.DefaultConfig()

	overflow := gateway.DropOldest
	if strings.ToLower(getEnv("EVENTGATE_WS_OVERFLOW", "drop_oldest")) == "close" {
		overflow = gateway.CloseSession
	}

	return GatewayConfig{
		QueueSize: getEnvInt("EVENTGATE_WS_QUEUE_SIZE", defaults.QueueSize),
		Overflow:  overflow,
		AuthGrace: getEnvDuration("EVENTGATE_WS_AUTH_GRACE", defaults.AuthGrace),
		RateLimit: ratelimit.Config{
			Rate:  getEnvFloat("EVENTGATE_WS_RATE", defaults.RateLimit.Rate),
			Burst: getEnvInt("EVENTGATE_WS_BURST", defaults.RateLimit.Burst),
		},
		Tokens: parseTokens(getEnv("EVENTGATE_WS_TOKENS", "")),
	}
}

// loadAPIRateLimit loads the admin API rate limit from environment
func loadAPIRateLimit() ratelimit.Config {
	defaults := ratelimit.DefaultConfig()
	return ratelimit.Config{
		Rate:  getEnvFloat("EVENTGATE_API_RATE", defaults.Rate),
		Burst: getEnvInt("EVENTGATE_API_BURST", defaults.Burst),
	}
}

// loadRedisConfig loads redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("EVENTGATE_REDIS_URL", ""),
		Password: getEnv("EVENTGATE_REDIS_PASSWORD", ""),
		DB:       getEnvInt("EVENTGATE_REDIS_DB", 0),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("EVENTGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("EVENTGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("EVENTGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("EVENTGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("EVENTGATE_OTEL_SERVICE_NAME", "eventgate"),
		OTelServiceVersion: getEnv("EVENTGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("EVENTGATE_OTEL_INSECURE", true),
	}
}

// parseTokens parses "token:identity,token:identity" pairs. A bare token
// gets an identity equal to itself.
func parseTokens(raw string) map[string]string {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, identity, found := strings.Cut(pair, ":")
		if !found {
			identity = token
		}
		if token != "" {
			tokens[token] = identity
		}
	}
	return tokens
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Dispatcher.Workers <= 0 {
		return fmt.Errorf("dispatcher workers must be positive")
	}
	if c.Dispatcher.QueueSize <= 0 {
		return fmt.Errorf("dispatcher queue size must be positive")
	}
	if c.Dispatcher.WatchFile && c.Dispatcher.SubscriptionsFile == "" {
		return fmt.Errorf("subscriptions file is required when watching is enabled")
	}

	if c.Gateway.QueueSize <= 0 {
		return fmt.Errorf("gateway queue size must be positive")
	}
	if c.Gateway.RateLimit.Rate <= 0 || c.Gateway.RateLimit.Burst <= 0 {
		return fmt.Errorf("gateway rate limit must be positive")
	}
	if len(c.Gateway.Tokens) == 0 {
		return fmt.Errorf("at least one gateway token is required")
	}

	if c.APIRateLimit.Rate <= 0 || c.APIRateLimit.Burst <= 0 {
		return fmt.Errorf("API rate limit must be positive")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
