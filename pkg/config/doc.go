// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	EVENTGATE_HOST="0.0.0.0"
//	EVENTGATE_PORT="8080"
//	EVENTGATE_HEALTH_PORT="9090"
//	EVENTGATE_READ_TIMEOUT="15s"
//	EVENTGATE_WRITE_TIMEOUT="15s"
//
// Webhook dispatcher settings:
//
//	EVENTGATE_DISPATCH_WORKERS="4"
//	EVENTGATE_DISPATCH_QUEUE_SIZE="256"
//	EVENTGATE_DISPATCH_TIMEOUT="10s"
//	EVENTGATE_SUBSCRIPTIONS_FILE="/etc/eventgate/subscriptions.yaml"
//	EVENTGATE_SUBSCRIPTIONS_WATCH="true"
//
// Gateway settings:
//
//	EVENTGATE_WS_QUEUE_SIZE="64"
//	EVENTGATE_WS_OVERFLOW="drop_oldest"  # drop_oldest, close
//	EVENTGATE_WS_AUTH_GRACE="10s"
//	EVENTGATE_WS_RATE="10"
//	EVENTGATE_WS_BURST="20"
//	EVENTGATE_WS_TOKENS="token1:identity1,token2:identity2"
//
// Rate limiting (admin API) and redis:
//
//	EVENTGATE_API_RATE="10"
//	EVENTGATE_API_BURST="20"
//	EVENTGATE_REDIS_URL="redis://localhost:6379"
//
// Observability settings:
//
//	EVENTGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	EVENTGATE_METRICS_ENABLED="true"
//	EVENTGATE_OTEL_ENABLED="false"
//	EVENTGATE_OTEL_ENDPOINT="localhost:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	server := &http.Server{
//		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
//		ReadTimeout:  cfg.Server.ReadTimeout,
//		WriteTimeout: cfg.Server.WriteTimeout,
//	}
package config
