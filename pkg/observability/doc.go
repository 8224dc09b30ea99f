// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes observability infrastructure for the event
// distribution layer: JSON logging, delivery and gateway metrics, health
// checks, and distributed tracing integration.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("component", "dispatcher").Info("dispatcher started")
//
// Context-aware logging:
//
//	logger.WithField("delivery_id", id).WithError(err).Error("delivery failed")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.DeliveryAttemptsTotal.WithLabelValues("success").Inc()
//	metrics.SessionsActive.Inc()
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(redisClient)
//	checker.AddCheck("dispatcher", dispatcherCheck)
//	status := checker.Check(ctx)
//
// # OpenTelemetry
//
// Initialize tracing:
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/webhooks: Delivery outcome notifications feeding metrics
package observability
