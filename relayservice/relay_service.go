// Package relayservice assembles the push relay: the HTTP surface over the
// gateway and the optional Pub/Sub ingress pipeline.
package relayservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-relay/internal/api"
	"github.com/tinywideclouds/go-push-relay/internal/gateway"
	"github.com/tinywideclouds/go-push-relay/internal/observability/metrics"
	obsmw "github.com/tinywideclouds/go-push-relay/internal/observability/middleware"
	"github.com/tinywideclouds/go-push-relay/internal/pipeline"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
	"github.com/tinywideclouds/go-push-relay/relayservice/config"
)

// MetricsPath serves the relay's Prometheus collectors. It is kept apart from
// the base server's own endpoints.
const MetricsPath = "/prometheus"

type Wrapper struct {
	*microservice.BaseServer
	gateway         *gateway.Gateway
	pipelineService *messagepipeline.StreamingService[notification.SendRequest]
	logger          *slog.Logger
}

// New assembles the service. consumer may be nil, in which case no ingress
// pipeline runs.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	registry dispatch.DeviceRegistry,
	dispatcher dispatch.Dispatcher,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Gateway
	gw := gateway.New(registry, dispatcher, gateway.Config{
		Welcome: gateway.WelcomeConfig{
			Enabled: cfg.Welcome.Enabled,
			Delay:   cfg.Welcome.Delay,
			Title:   cfg.Welcome.Title,
			Message: cfg.Welcome.Message,
		},
	}, logger)

	// 3. Pipeline (optional)
	var streamingService *messagepipeline.StreamingService[notification.SendRequest]
	if consumer != nil {
		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.Ingress.NumPipelineWorkers},
			consumer,
			pipeline.SendRequestTransformer,
			pipeline.NewProcessor(gw, logger),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 4. API
	deviceAPI := api.NewDeviceAPI(gw, logger)
	registerRoutes(baseServer.Mux(), cfg, deviceAPI, authMiddleware, logger)

	return &Wrapper{
		BaseServer:      baseServer,
		gateway:         gw,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

// routeMux is the part of the base server's mux the routes need.
type routeMux interface {
	Handle(pattern string, handler http.Handler)
}

func registerRoutes(
	mux routeMux,
	cfg *config.Config,
	deviceAPI *api.DeviceAPI,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) {
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)
	limiter := httprate.Limit(
		cfg.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.RateLimitedRequestsTotal.Inc()
			api.WriteEnvelopeError(w, http.StatusTooManyRequests, "Too many requests", nil)
		}),
	)
	timeout := withTimeout(cfg.HTTPTimeout)

	// Order: request id, cors, metrics, rate limit, timeout, auth.
	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		h := authMiddleware(handlerFunc)
		h = timeout(h)
		h = limiter(h)
		h = obsmw.WithMetrics(h)
		h = corsMiddleware(h)
		mux.Handle(pattern, obsmw.WithRequestID(h))
	}

	handle("POST /devices", deviceAPI.RegisterDevice)
	handle("POST /notify", deviceAPI.SendNotification)
	handle("POST /notify-file-upload", deviceAPI.SendAuthorizationNotification)
	handle("DELETE /devices/{userId}", deviceAPI.DeleteDevice)
	handle("DELETE /devices/{$}", deviceAPI.DeleteDevice)

	// CORS preflight; the middleware writes the headers.
	preflight := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for _, p := range []string{"/devices", "/devices/{userId}", "/notify", "/notify-file-upload"} {
		mux.Handle("OPTIONS "+p, preflight)
	}

	mux.Handle("GET "+MetricsPath, promhttp.Handler())
}

// withTimeout bounds the request context; a zero duration leaves it alone.
func withTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Ingress pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start ingress pipeline: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

// Shutdown stops ingress first, then cancels pending welcome notifications,
// then drains the HTTP server.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Ingress pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	w.gateway.Close()
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
