package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/eventgate/eventgate/pkg/bus"
	"github.com/eventgate/eventgate/pkg/config"
	"github.com/eventgate/eventgate/pkg/events"
	"github.com/eventgate/eventgate/pkg/gateway"
	"github.com/eventgate/eventgate/pkg/httputil"
	"github.com/eventgate/eventgate/pkg/observability"
	"github.com/eventgate/eventgate/pkg/ratelimit"
	"github.com/eventgate/eventgate/pkg/webhooks"
)

func main() {
	subsFile := flag.String("subscriptions-file", "", "YAML file to seed webhook subscriptions from (overrides EVENTGATE_SUBSCRIPTIONS_FILE)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *subsFile != "" {
		cfg.Dispatcher.SubscriptionsFile = *subsFile
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("log_level", cfg.Observability.LogLevel.String()).Info("Starting eventgate")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	// Tracing is optional; an unreachable collector should not stop the
	// process from serving.
	var otelProviders *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelProviders, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			logger.WithError(err).Warn("OpenTelemetry initialization failed, continuing without tracing")
		} else {
			shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
				return observability.ShutdownOTel(ctx, otelProviders, logger)
			})
		}
	}

	redisClient := connectRedis(cfg, logger)
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	eventBus := bus.New(logger)
	eventBus.SetPublishHook(func(e *events.Event) {
		metrics.EventsPublishedTotal.WithLabelValues(e.Type).Inc()
	})

	// Webhook delivery.
	dispatcher := webhooks.NewDispatcher(webhooks.Config{
		Workers:   cfg.Dispatcher.Workers,
		QueueSize: cfg.Dispatcher.QueueSize,
		Timeout:   cfg.Dispatcher.Timeout,
		MaxLogs:   cfg.Dispatcher.MaxLogs,
	}, logger)
	dispatcher.SetMetrics(metrics)
	dispatcher.SetNotifyFunc(func(n webhooks.Notification) {
		if n.Outcome == webhooks.OutcomeExhausted {
			logger.WithFields(map[string]interface{}{
				"subscription_id": n.SubscriptionID,
				"event_id":        n.EventID,
				"attempts":        n.Attempt,
				"error":           n.Error,
			}).Warn("Webhook delivery exhausted")
		}
	})
	dispatcher.Start(ctx)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		dispatcher.Stop()
		return nil
	})
	eventBus.Subscribe(dispatcher)

	if cfg.Dispatcher.SubscriptionsFile != "" {
		loader := webhooks.NewLoader(dispatcher, logger, cfg.Dispatcher.SubscriptionsFile)
		if err := loader.Load(); err != nil {
			log.Fatalf("Failed to load subscriptions from %s: %v", cfg.Dispatcher.SubscriptionsFile, err)
		}
		if cfg.Dispatcher.WatchFile {
			go func() {
				if err := loader.Watch(ctx); err != nil {
					logger.WithError(err).Error("Subscription file watcher stopped")
				}
			}()
		}
	}

	// WebSocket gateway. Inbound collaborator frames are republished on the
	// bus for the rest of the platform to consume.
	gw := gateway.NewGateway(gateway.Config{
		QueueSize: cfg.Gateway.QueueSize,
		Overflow:  cfg.Gateway.Overflow,
		AuthGrace: cfg.Gateway.AuthGrace,
		RateLimit: cfg.Gateway.RateLimit,
	}, gateway.NewStaticTokenAuthenticator(cfg.Gateway.Tokens), logger)
	gw.SetMetrics(metrics)
	forward := func(ctx context.Context, sessionID string, f *gateway.Frame) {
		e := events.New(f.Type, map[string]interface{}{
			"session_id": sessionID,
			"frame_id":   f.ID,
			"payload":    f.Payload,
		})
		if err := eventBus.Publish(ctx, e); err != nil {
			logger.WithError(err).WithField("session_id", sessionID).Debug("Dropping inbound frame event")
		}
	}
	for _, frameType := range []string{gateway.FrameChatSend, gateway.FrameToolCall, gateway.FrameSessionJoin, gateway.FrameCommand} {
		gw.SetHandler(frameType, forward)
	}
	eventBus.Subscribe(gw)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		gw.Manager().CloseAll()
		return nil
	})

	// Periodic maintenance: prune completed delivery logs.
	maintenance := cron.New()
	if _, err := maintenance.AddFunc("@hourly", func() {
		pruned := dispatcher.Logs().PruneCompleted(cfg.Dispatcher.LogRetention)
		if pruned > 0 {
			logger.WithField("pruned", pruned).Info("Pruned completed delivery logs")
		}
	}); err != nil {
		log.Fatalf("Failed to schedule delivery log pruning: %v", err)
	}
	maintenance.Start()
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		<-maintenance.Stop().Done()
		return nil
	})

	adminServer := buildAdminServer(ctx, cfg, logger, metrics, dispatcher, gw, redisClient, eventBus)
	healthServer := buildHealthServer(cfg, registry, redisClient)
	shutdown.RegisterServer(adminServer)
	shutdown.RegisterServer(healthServer)

	var group errgroup.Group
	group.Go(func() error {
		logger.WithField("addr", adminServer.Addr).Info("Admin server listening")
		if err := adminServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		err := shutdown.WaitForShutdown()
		cancel()
		return err
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	logger.Info("eventgate stopped")
}

// buildAdminServer assembles the admin surface: subscription CRUD, delivery
// logs and stats, and the WebSocket endpoint.
func buildAdminServer(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, dispatcher *webhooks.Dispatcher, gw *gateway.Gateway, redisClient *redis.Client, eventBus *bus.Bus) *http.Server {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()
	webhooks.NewHandlers(dispatcher).RegisterRoutes(api)
	api.HandleFunc("/events", publishHandler(eventBus, logger)).Methods(http.MethodPost)

	// The admin API is rate limited per client; the WebSocket endpoint has
	// its own per-session limits inside the gateway.
	if redisClient != nil {
		limiter := ratelimit.NewDistributedLimiter(redisClient, cfg.APIRateLimit, "eventgate:api")
		mw := ratelimit.NewDistributedMiddleware(limiter, func(err error) {
			logger.WithError(err).Warn("Distributed rate limiter degraded, failing open")
		})
		api.Use(mw.Handler)
	} else {
		mw := ratelimit.NewMiddleware(cfg.APIRateLimit)
		mw.StartCleanup(ctx, time.Minute)
		api.Use(mw.Handler)
	}

	router.HandleFunc("/ws", gw.HandleWS)

	var handler http.Handler = router
	handler = observability.HTTPMetricsMiddleware(metrics)(handler)
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "eventgate-admin")
	}

	return &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

// buildHealthServer serves liveness, readiness and metrics on a separate
// port so probes and scrapes bypass admin rate limiting.
func buildHealthServer(cfg *config.Config, registry *prometheus.Registry, redisClient *redis.Client) *http.Server {
	checker := observability.NewHealthChecker(redisClient)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health/live", checker.Liveness)
	healthMux.HandleFunc("/health/ready", checker.Readiness)
	observability.RegisterMetricsEndpoint(healthMux, registry)

	return &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
}

// publishHandler accepts events from external collaborators over HTTP and
// publishes them on the bus.
func publishHandler(eventBus *bus.Bus, logger *observability.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Type string                 `json:"type"`
			Data map[string]interface{} `json:"data"`
		}
		if !httputil.ParseJSONOrError(w, r, &body) {
			return
		}
		e := events.New(body.Type, body.Data)
		if err := eventBus.Publish(r.Context(), e); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err)
			return
		}
		observability.LoggerWithTraceContext(r.Context(), logger).WithFields(map[string]interface{}{
			"event_id":   e.ID,
			"event_type": e.Type,
		}).Debug("Event published via HTTP")
		_ = httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"id": e.ID})
	}
}

func connectRedis(cfg *config.Config, logger *observability.Logger) *redis.Client {
	if cfg.Redis.URL == "" {
		return nil
	}
	var opts *redis.Options
	if strings.HasPrefix(cfg.Redis.URL, "redis://") || strings.HasPrefix(cfg.Redis.URL, "rediss://") {
		parsed, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid redis URL: %v", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.Redis.URL, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	}
	client := redis.NewClient(opts)
	logger.WithField("addr", opts.Addr).Info("Redis connected for distributed rate limiting")
	return client
}
