package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/joho/godotenv"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-relay/internal/auth"
	"github.com/tinywideclouds/go-push-relay/internal/observability/metrics"
	"github.com/tinywideclouds/go-push-relay/internal/platform/apns"
	"github.com/tinywideclouds/go-push-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-relay/internal/platform/onesignal"
	"github.com/tinywideclouds/go-push-relay/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-relay/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-relay/internal/storage/sqlstore"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/relayservice"
	"github.com/tinywideclouds/go-push-relay/relayservice/config"
)

const serviceName = "go-push-relay"

//go:embed local.yaml
var configFile []byte

func main() {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", serviceName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("Service exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		return fmt.Errorf("failed to unmarshal embedded yaml config: %w", err)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return fmt.Errorf("invalid embedded config: %w", err)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		return fmt.Errorf("config failed: %w", err)
	}

	metrics.MustRegister(serviceName)

	// --- Device Registry ---
	registry, closeRegistry, err := newRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRegistry()

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		registry = cache.NewCachedRegistry(registry, redisClient, cfg.Redis.TTL, logger)
		logger.Info("Device registry upgraded", "type", "redis_cached_"+cfg.Store.Backend)
	}

	// --- Dispatcher ---
	dispatcher, err := newDispatcher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// --- Auth ---
	authMiddleware, err := newAuthMiddleware(cfg, logger)
	if err != nil {
		return err
	}

	// --- Ingress (optional) ---
	var consumer messagepipeline.MessageConsumer
	if cfg.Ingress.Enabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client failed: %w", err)
		}
		defer psClient.Close()

		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			return err
		}
	}

	// --- Service ---
	service, err := relayservice.New(cfg, consumer, registry, dispatcher, authMiddleware, logger)
	if err != nil {
		return fmt.Errorf("service creation failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr, "provider", cfg.Provider)
		errCh <- service.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return service.Shutdown(shutdownCtx)
}

func newRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.DeviceRegistry, func(), error) {
	switch cfg.Store.Backend {
	case config.StorePostgres:
		db, err := sqlstore.Open(sqlstore.Config{DSN: cfg.Store.DatabaseURL, LogSQL: cfg.Store.LogSQL}, logger)
		if err != nil {
			return nil, nil, err
		}
		registry := sqlstore.NewRegistry(db)
		if err := registry.Migrate(ctx); err != nil {
			return nil, nil, err
		}
		logger.Info("Device registry initialized", "type", "postgres")
		return registry, func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}, nil
	default:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client failed: %w", err)
		}
		logger.Info("Device registry initialized", "type", "firestore", "collection", cfg.Store.Collection)
		return fsStore.NewRegistry(fsClient, cfg.Store.Collection), func() { _ = fsClient.Close() }, nil
	}
}

func newDispatcher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.Dispatcher, error) {
	switch cfg.Provider {
	case config.ProviderFCM:
		client, err := fcm.NewMessagingClient(ctx, cfg.ProjectID, cfg.FCM.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return fcm.NewDispatcher(client, logger), nil

	case config.ProviderAPNS:
		key, err := os.ReadFile(cfg.APNS.P8KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read APNs key file: %w", err)
		}
		return apns.NewDispatcher(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: string(key),
			Development:  cfg.APNS.Development,
		}, logger)

	default:
		d := onesignal.NewDispatcher(onesignal.Config{
			AppID:      cfg.OneSignal.AppID,
			APIKey:     cfg.OneSignal.APIKey,
			Endpoint:   cfg.OneSignal.Endpoint,
			AuthScheme: cfg.OneSignal.AuthScheme,
			Timeout:    cfg.HTTPTimeout,
		}, logger)
		// Sends fail with configuration_missing until both are set.
		if !d.Configured() {
			logger.Warn("OneSignal credentials missing, notifications will fail",
				"app_id_set", cfg.OneSignal.AppID != "",
				"api_key_set", cfg.OneSignal.APIKey != "",
			)
		}
		return d, nil
	}
}

// newAuthMiddleware builds the gate. With an identity service configured and
// no shared secret, RS256 tokens are verified against its JWKS after the
// presence check.
func newAuthMiddleware(cfg *config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	gate := auth.NewGate(cfg.Auth.HMACSecret, cfg.Auth.Issuer, logger)
	if gate.Validating() || cfg.Auth.IdentityURL == "" {
		logger.Info("Auth gate configured", "validating", gate.Validating())
		return gate.Middleware, nil
	}

	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(cfg.Auth.IdentityURL, middleware.RSA256, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to discover identity service config: %w", err)
	}
	jwks, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS middleware: %w", err)
	}
	logger.Info("Auth gate configured", "validating", true, "jwks", jwksURL)
	return gate.WithVerifier(jwks), nil
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	consumerCfg := cfg.Ingress.ConsumerConfig(cfg.ProjectID)
	sub := consumerCfg.SubscriptionID
	topicID := convertPubsub(cfg.ProjectID, cfg.Ingress.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
	}
	if cfg.Ingress.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.Ingress.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub %s: %w", sub, err)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(consumerCfg, psClient, logger)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
