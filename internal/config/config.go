package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config captures runtime configuration values used by the backend service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL string

	// Environment selects logging output; "production" enables JSON logs.
	Environment string
	LogLevel    string

	StripeSecretKey string
	// StripeWebhookSecret verifies webhook signatures. When empty every
	// delivery is rejected.
	StripeWebhookSecret string

	// AuthJWTSecret verifies HS256 session tokens issued by the identity provider.
	AuthJWTSecret string

	// SiteURL is the public origin used for checkout redirect URLs.
	SiteURL string

	// AdminAPIToken guards the job admin endpoints. Empty disables them.
	AdminAPIToken string

	// DeadLetterQueueURL is an SQS queue receiving events whose reprocessing
	// exhausted its attempts. Empty logs them instead.
	DeadLetterQueueURL string

	ReprocessMaxAttempts  int
	WorkerConcurrency     int
	FeedbackRatePerMinute int
}

const (
	defaultServerAddress         = ":18111"
	defaultEnvironment           = "development"
	defaultLogLevel              = "info"
	defaultReprocessMaxAttempts  = 8
	defaultWorkerConcurrency     = 2
	defaultFeedbackRatePerMinute = 5

	envServerAddress        = "BACKEND_ADDR"
	envDatabaseURL          = "DATABASE_URL"
	envEnvironment          = "APP_ENV"
	envLogLevel             = "LOG_LEVEL"
	envStripeSecretKey      = "STRIPE_SECRET_KEY"
	envStripeWebhookSecret  = "STRIPE_WEBHOOK_SECRET"
	envAuthJWTSecret        = "AUTH_JWT_SECRET"
	envSupabaseJWTSecret    = "SUPABASE_JWT_SECRET"
	envSiteURL              = "SITE_URL"
	envPublicSiteURL        = "NEXT_PUBLIC_SITE_URL"
	envAdminAPIToken        = "ADMIN_API_TOKEN"
	envDeadLetterQueueURL   = "DEADLETTER_QUEUE_URL"
	envReprocessMaxAttempts = "REPROCESS_MAX_ATTEMPTS"
	envWorkerConcurrency    = "WORKER_CONCURRENCY"
	envFeedbackRate         = "FEEDBACK_RATE_PER_MINUTE"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	cfg := Config{
		ServerAddress:       firstNonEmpty(os.Getenv(envServerAddress), defaultServerAddress),
		DatabaseURL:         os.Getenv(envDatabaseURL),
		Environment:         firstNonEmpty(os.Getenv(envEnvironment), defaultEnvironment),
		LogLevel:            firstNonEmpty(os.Getenv(envLogLevel), defaultLogLevel),
		StripeSecretKey:     os.Getenv(envStripeSecretKey),
		StripeWebhookSecret: os.Getenv(envStripeWebhookSecret),
		AuthJWTSecret:       firstNonEmpty(os.Getenv(envAuthJWTSecret), os.Getenv(envSupabaseJWTSecret)),
		SiteURL:             strings.TrimRight(firstNonEmpty(os.Getenv(envSiteURL), os.Getenv(envPublicSiteURL)), "/"),
		AdminAPIToken:       os.Getenv(envAdminAPIToken),
		DeadLetterQueueURL:  os.Getenv(envDeadLetterQueueURL),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%s is required", envDatabaseURL)
	}
	if cfg.StripeSecretKey == "" {
		return Config{}, fmt.Errorf("%s is required", envStripeSecretKey)
	}
	if cfg.AuthJWTSecret == "" {
		return Config{}, fmt.Errorf("%s (or %s) is required", envAuthJWTSecret, envSupabaseJWTSecret)
	}
	if cfg.SiteURL == "" {
		return Config{}, fmt.Errorf("%s (or %s) is required", envSiteURL, envPublicSiteURL)
	}
	if u, err := url.Parse(cfg.SiteURL); err != nil || u.Scheme == "" || u.Host == "" {
		return Config{}, fmt.Errorf("invalid %s: must be an absolute URL", envSiteURL)
	}

	var err error
	if cfg.ReprocessMaxAttempts, err = positiveInt(envReprocessMaxAttempts, defaultReprocessMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.WorkerConcurrency, err = positiveInt(envWorkerConcurrency, defaultWorkerConcurrency); err != nil {
		return Config{}, err
	}
	if cfg.FeedbackRatePerMinute, err = positiveInt(envFeedbackRate, defaultFeedbackRatePerMinute); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadDatabaseURL reads only the database DSN, for tools that do not need the
// full service configuration.
func LoadDatabaseURL() (string, error) {
	dsn := os.Getenv(envDatabaseURL)
	if dsn == "" {
		return "", fmt.Errorf("%s is required", envDatabaseURL)
	}
	return dsn, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func positiveInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return v, nil
}
