package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlOneSignalConfig struct {
	AppID      string `yaml:"app_id"`
	APIKey     string `yaml:"rest_api_key"`
	Endpoint   string `yaml:"endpoint"`
	AuthScheme string `yaml:"auth_scheme"`
}

type YamlFCMConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
}

type YamlAPNSConfig struct {
	KeyID       string `yaml:"key_id"`
	TeamID      string `yaml:"team_id"`
	BundleID    string `yaml:"bundle_id"`
	P8KeyFile   string `yaml:"p8_key_file"`
	Development bool   `yaml:"development"`
}

type YamlAuthConfig struct {
	HMACSecret  string `yaml:"hmac_secret"`
	Issuer      string `yaml:"issuer"`
	IdentityURL string `yaml:"identity_url"`
}

type YamlStoreConfig struct {
	Backend     string `yaml:"backend"`
	Collection  string `yaml:"collection"`
	DatabaseURL string `yaml:"database_url"`
	LogSQL      bool   `yaml:"log_sql"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	TTL      string `yaml:"ttl"`
}

type YamlIngressConfig struct {
	TopicID                string `yaml:"topic_id"`
	SubscriptionID         string `yaml:"subscription_id"`
	SubscriptionDLQTopicID string `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int    `yaml:"num_pipeline_workers"`
}

type YamlWelcomeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Delay   string `yaml:"delay"`
	Title   string `yaml:"title"`
	Message string `yaml:"message"`
}

type YamlRateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

type YamlProviderConfig struct {
	Name string `yaml:"name"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID   string              `yaml:"project_id"`
	ListenAddr  string              `yaml:"listen_addr"`
	HTTPTimeout string              `yaml:"http_timeout"`
	Provider    YamlProviderConfig  `yaml:"provider"`
	OneSignal   YamlOneSignalConfig `yaml:"onesignal"`
	FCM         YamlFCMConfig       `yaml:"fcm"`
	APNS        YamlAPNSConfig      `yaml:"apns"`
	Auth        YamlAuthConfig      `yaml:"auth"`
	Store       YamlStoreConfig     `yaml:"store"`
	RedisConfig YamlRedisConfig     `yaml:"redis"`
	Ingress     YamlIngressConfig   `yaml:"ingress"`
	Welcome     YamlWelcomeConfig   `yaml:"welcome"`
	RateLimit   YamlRateLimitConfig `yaml:"rate_limit"`
	CorsConfig  YamlCorsConfig      `yaml:"cors"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	httpTimeout, err := parseDuration("http_timeout", baseCfg.HTTPTimeout)
	if err != nil {
		return nil, err
	}
	redisTTL, err := parseDuration("redis.ttl", baseCfg.RedisConfig.TTL)
	if err != nil {
		return nil, err
	}
	welcomeDelay, err := parseDuration("welcome.delay", baseCfg.Welcome.Delay)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProjectID:         baseCfg.ProjectID,
		ListenAddr:        baseCfg.ListenAddr,
		HTTPTimeout:       httpTimeout,
		RequestsPerMinute: baseCfg.RateLimit.RequestsPerMinute,
		Provider:          baseCfg.Provider.Name,
		OneSignal: OneSignalConfig{
			AppID:      baseCfg.OneSignal.AppID,
			APIKey:     baseCfg.OneSignal.APIKey,
			Endpoint:   baseCfg.OneSignal.Endpoint,
			AuthScheme: baseCfg.OneSignal.AuthScheme,
		},
		FCM: FCMConfig{
			CredentialsFile: baseCfg.FCM.CredentialsFile,
		},
		APNS: APNSConfig{
			KeyID:       baseCfg.APNS.KeyID,
			TeamID:      baseCfg.APNS.TeamID,
			BundleID:    baseCfg.APNS.BundleID,
			P8KeyFile:   baseCfg.APNS.P8KeyFile,
			Development: baseCfg.APNS.Development,
		},
		Auth: AuthConfig{
			HMACSecret:  baseCfg.Auth.HMACSecret,
			Issuer:      baseCfg.Auth.Issuer,
			IdentityURL: baseCfg.Auth.IdentityURL,
		},
		Store: StoreConfig{
			Backend:     baseCfg.Store.Backend,
			Collection:  baseCfg.Store.Collection,
			DatabaseURL: baseCfg.Store.DatabaseURL,
			LogSQL:      baseCfg.Store.LogSQL,
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      redisTTL,
		},
		Ingress: IngressConfig{
			TopicID:                baseCfg.Ingress.TopicID,
			SubscriptionID:         baseCfg.Ingress.SubscriptionID,
			SubscriptionDLQTopicID: baseCfg.Ingress.SubscriptionDLQTopicID,
			NumPipelineWorkers:     baseCfg.Ingress.NumPipelineWorkers,
		},
		Welcome: WelcomeConfig{
			Enabled: baseCfg.Welcome.Enabled,
			Delay:   welcomeDelay,
			Title:   baseCfg.Welcome.Title,
			Message: baseCfg.Welcome.Message,
		},
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
	}

	if cfg.Ingress.SubscriptionID != "" {
		cfg.Ingress.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.Ingress.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"provider", cfg.Provider,
		"store", cfg.Store.Backend,
	)

	return cfg, nil
}

func parseDuration(key, val string) (time.Duration, error) {
	if val == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, val, err)
	}
	return d, nil
}
