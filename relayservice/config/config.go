// Package config holds the single authoritative configuration of the relay
// and its environment-override layer.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	ProviderOneSignal = "onesignal"
	ProviderFCM       = "fcm"
	ProviderAPNS      = "apns"

	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
)

const (
	defaultListenAddr         = ":8080"
	defaultHTTPTimeout        = 30 * time.Second
	defaultRequestsPerMinute  = 120
	defaultWelcomeDelay       = 5 * time.Second
	defaultRedisTTL           = 24 * time.Hour
	defaultNumPipelineWorkers = 1
)

type OneSignalConfig struct {
	AppID      string
	APIKey     string
	Endpoint   string
	AuthScheme string
}

type FCMConfig struct {
	CredentialsFile string
}

type APNSConfig struct {
	KeyID       string
	TeamID      string
	BundleID    string
	P8KeyFile   string
	Development bool
}

type AuthConfig struct {
	// HMACSecret switches the gate from header presence to HS256 validation.
	HMACSecret  string
	Issuer      string
	IdentityURL string
}

type StoreConfig struct {
	Backend     string
	Collection  string
	DatabaseURL string
	LogSQL      bool
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type IngressConfig struct {
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	PubsubConsumerConfig   *messagepipeline.GooglePubsubConsumerConfig
}

// Enabled reports whether the Pub/Sub ingress should run.
func (i IngressConfig) Enabled() bool {
	return i.SubscriptionID != ""
}

// ConsumerConfig returns a copy of the consumer settings addressed to the
// fully qualified subscription name in projectID.
func (i IngressConfig) ConsumerConfig(projectID string) *messagepipeline.GooglePubsubConsumerConfig {
	var c messagepipeline.GooglePubsubConsumerConfig
	if i.PubsubConsumerConfig != nil {
		c = *i.PubsubConsumerConfig
	} else {
		c = *messagepipeline.NewGooglePubsubConsumerDefaults(i.SubscriptionID)
	}
	c.SubscriptionID = fmt.Sprintf("projects/%s/subscriptions/%s", projectID, i.SubscriptionID)
	return &c
}

type WelcomeConfig struct {
	Enabled bool
	Delay   time.Duration
	Title   string
	Message string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID         string
	ListenAddr        string
	HTTPTimeout       time.Duration
	RequestsPerMinute int

	Provider  string
	OneSignal OneSignalConfig
	FCM       FCMConfig
	APNS      APNSConfig

	Auth    AuthConfig
	Store   StoreConfig
	Redis   RedisConfig
	Ingress IngressConfig
	Welcome WelcomeConfig

	CorsConfig middleware.CorsConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	setString := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			*dst = val
		}
	}
	setInt := func(key string, dst *int) error {
		val := os.Getenv(key)
		if val == "" {
			return nil
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", key, err)
		}
		logger.Debug("Overriding config value", "key", key, "source", "env")
		*dst = n
		return nil
	}
	setBool := func(key string, dst *bool) error {
		val := os.Getenv(key)
		if val == "" {
			return nil
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%s must be a boolean: %w", key, err)
		}
		logger.Debug("Overriding config value", "key", key, "source", "env")
		*dst = b
		return nil
	}
	setDuration := func(key string, dst *time.Duration) error {
		val := os.Getenv(key)
		if val == "" {
			return nil
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%s must be a duration: %w", key, err)
		}
		logger.Debug("Overriding config value", "key", key, "source", "env")
		*dst = d
		return nil
	}

	// 1. Apply Environment Overrides
	setString("PROJECT_ID", &cfg.ProjectID)
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	setString("PUSH_PROVIDER", &cfg.Provider)

	// Credentials are never logged, only their presence.
	setString("ONESIGNAL_APP_ID", &cfg.OneSignal.AppID)
	setString("ONESIGNAL_REST_API_KEY", &cfg.OneSignal.APIKey)
	setString("ONESIGNAL_API_URL", &cfg.OneSignal.Endpoint)
	setString("ONESIGNAL_AUTH_SCHEME", &cfg.OneSignal.AuthScheme)

	setString("FCM_CREDENTIALS_FILE", &cfg.FCM.CredentialsFile)

	setString("APNS_KEY_ID", &cfg.APNS.KeyID)
	setString("APNS_TEAM_ID", &cfg.APNS.TeamID)
	setString("APNS_BUNDLE_ID", &cfg.APNS.BundleID)
	setString("APNS_P8_KEY_FILE", &cfg.APNS.P8KeyFile)

	setString("AUTH_HMAC_SECRET", &cfg.Auth.HMACSecret)
	setString("AUTH_ISSUER", &cfg.Auth.Issuer)
	setString("IDENTITY_SERVICE_URL", &cfg.Auth.IdentityURL)

	setString("STORE_BACKEND", &cfg.Store.Backend)
	setString("DATABASE_URL", &cfg.Store.DatabaseURL)

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	setString("REDIS_PASSWORD", &cfg.Redis.Password)

	setString("TOPIC_ID", &cfg.Ingress.TopicID)
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.Ingress.SubscriptionID = val
		cfg.Ingress.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	setString("SUBSCRIPTION_DLQ_TOPIC_ID", &cfg.Ingress.SubscriptionDLQTopicID)

	for _, apply := range []func() error{
		func() error { return setInt("REDIS_DB", &cfg.Redis.DB) },
		func() error { return setBool("REDIS_ENABLED", &cfg.Redis.Enabled) },
		func() error { return setInt("NUM_PIPELINE_WORKERS", &cfg.Ingress.NumPipelineWorkers) },
		func() error { return setInt("RATE_LIMIT_PER_MINUTE", &cfg.RequestsPerMinute) },
		func() error { return setDuration("HTTP_TIMEOUT", &cfg.HTTPTimeout) },
		func() error { return setBool("WELCOME_ENABLED", &cfg.Welcome.Enabled) },
		func() error { return setDuration("WELCOME_DELAY", &cfg.Welcome.Delay) },
		func() error { return setBool("APNS_DEVELOPMENT", &cfg.APNS.Development) },
	} {
		if err := apply(); err != nil {
			return nil, err
		}
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		var cleanOrigins []string
		for _, o := range strings.Split(corsOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRequestsPerMinute
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderOneSignal
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreFirestore
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = defaultRedisTTL
	}
	if cfg.Welcome.Enabled && cfg.Welcome.Delay <= 0 {
		cfg.Welcome.Delay = defaultWelcomeDelay
	}
	if cfg.Ingress.NumPipelineWorkers <= 0 {
		cfg.Ingress.NumPipelineWorkers = defaultNumPipelineWorkers
	}
	if cfg.Ingress.PubsubConsumerConfig == nil && cfg.Ingress.SubscriptionID != "" {
		cfg.Ingress.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.Ingress.SubscriptionID)
	}

	// 3. Final Validation
	switch cfg.Provider {
	case ProviderOneSignal, ProviderFCM, ProviderAPNS:
	default:
		return nil, fmt.Errorf("unknown push provider %q (want onesignal, fcm or apns)", cfg.Provider)
	}
	switch cfg.Store.Backend {
	case StoreFirestore:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("project_id is required for the firestore store (set via YAML or PROJECT_ID env var)")
		}
	case StorePostgres:
		if cfg.Store.DatabaseURL == "" {
			return nil, fmt.Errorf("database_url is required for the postgres store (set via YAML or DATABASE_URL env var)")
		}
	default:
		return nil, fmt.Errorf("unknown store backend %q (want firestore or postgres)", cfg.Store.Backend)
	}
	if cfg.Ingress.Enabled() && cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required when subscription_id is set")
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required when redis is enabled")
	}

	logger.Debug("Configuration finalized and validated successfully",
		"provider", cfg.Provider,
		"store", cfg.Store.Backend,
		"ingress", cfg.Ingress.Enabled(),
		"onesignal_credentials", cfg.OneSignal.AppID != "" && cfg.OneSignal.APIKey != "",
	)
	return cfg, nil
}
