package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics (admin surface)
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Bus metrics
	EventsPublishedTotal *prometheus.CounterVec

	// Webhook delivery metrics
	DeliveryAttemptsTotal *prometheus.CounterVec
	DeliveryDuration      *prometheus.HistogramVec
	DeliveryQueueDepth    prometheus.Gauge
	RetryQueueDepth       prometheus.Gauge
	DeliveriesInFlight    prometheus.Gauge
	SubscriptionsActive   prometheus.Gauge

	// Gateway metrics
	SessionsActive           prometheus.Gauge
	FramesTotal              *prometheus.CounterVec
	SendQueueDropsTotal      prometheus.Counter
	RateLimitRejectionsTotal *prometheus.CounterVec
	AuthFailuresTotal        prometheus.Counter
	StreamViolationsTotal    prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventgate_http_requests_total",
				Help: "Total number of HTTP requests to the admin surface",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventgate_events_published_total",
				Help: "Total number of events accepted by the bus",
			},
			[]string{"type"},
		),

		DeliveryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventgate_delivery_attempts_total",
				Help: "Total number of webhook delivery attempts by outcome",
			},
			[]string{"outcome"},
		),
		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventgate_delivery_duration_seconds",
				Help:    "Webhook delivery attempt duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"outcome"},
		),
		DeliveryQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "eventgate_delivery_queue_depth",
				Help: "Number of delivery attempts queued for workers",
			},
		),
		RetryQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "eventgate_retry_queue_depth",
				Help: "Number of delivery attempts waiting in the retry delay queue",
			},
		),
		DeliveriesInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "eventgate_deliveries_in_flight",
				Help: "Number of (subscription, event) pairs currently in flight",
			},
		),
		SubscriptionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "eventgate_subscriptions_active",
				Help: "Number of active webhook subscriptions",
			},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "eventgate_sessions_active",
				Help: "Number of active WebSocket sessions",
			},
		),
		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventgate_frames_total",
				Help: "Total number of protocol frames by type and direction",
			},
			[]string{"type", "direction"},
		),
		SendQueueDropsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "eventgate_send_queue_drops_total",
				Help: "Total number of outbound frames dropped from full send queues",
			},
		),
		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventgate_rate_limit_rejections_total",
				Help: "Total number of rate-limited operations by surface",
			},
			[]string{"surface"},
		),
		AuthFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "eventgate_auth_failures_total",
				Help: "Total number of failed gateway authentication attempts",
			},
		),
		StreamViolationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "eventgate_stream_violations_total",
				Help: "Total number of out-of-order or duplicate stream chunks dropped",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EventsPublishedTotal,
		m.DeliveryAttemptsTotal,
		m.DeliveryDuration,
		m.DeliveryQueueDepth,
		m.RetryQueueDepth,
		m.DeliveriesInFlight,
		m.SubscriptionsActive,
		m.SessionsActive,
		m.FramesTotal,
		m.SendQueueDropsTotal,
		m.RateLimitRejectionsTotal,
		m.AuthFailuresTotal,
		m.StreamViolationsTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
