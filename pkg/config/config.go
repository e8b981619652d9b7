package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

const (
	EnvPrefix = "KITFORGE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv               = "KITFORGE_APP_ENV"
	EnvPort                 = "KITFORGE_APP_PORT"
	EnvDBDSN                = "KITFORGE_DB_DSN"
	EnvRedisURL             = "KITFORGE_REDIS_URL"
	EnvJWTSecret            = "KITFORGE_JWT_SECRET"
	EnvJWTIssuer            = "KITFORGE_JWT_ISSUER"
	EnvAdminAPIKeyHashes    = "KITFORGE_ADMIN_API_KEY_HASHES"
	EnvFeatureStripe        = "KITFORGE_FEATURE_STRIPE_ENABLED"
	EnvFeaturePolar         = "KITFORGE_FEATURE_POLAR_ENABLED"
	EnvFeatureLemonSqueezy  = "KITFORGE_FEATURE_LEMONSQUEEZY_ENABLED"
	EnvFeatureGitHub        = "KITFORGE_FEATURE_GITHUB_ENABLED"
	EnvFeatureVercel        = "KITFORGE_FEATURE_VERCEL_ENABLED"
	EnvFeatureBuilder       = "KITFORGE_FEATURE_BUILDER_ENABLED"
	EnvFeatureGoogleSA      = "KITFORGE_FEATURE_GOOGLE_SERVICE_ACCOUNT_ENABLED"
	EnvFeatureTurnstile     = "KITFORGE_FEATURE_TURNSTILE_ENABLED"
	EnvStripeWebhookSecret  = "KITFORGE_STRIPE_WEBHOOK_SECRET"
	EnvPolarAccessToken     = "KITFORGE_POLAR_ACCESS_TOKEN"
	EnvPolarWebhookSecret   = "KITFORGE_POLAR_WEBHOOK_SECRET"
	EnvLemonWebhookSecret   = "KITFORGE_LEMONSQUEEZY_WEBHOOK_SECRET"
	EnvPurchaseCacheTTL     = "KITFORGE_PURCHASE_CACHE_TTL"
	EnvRateLimitActionLimit = "KITFORGE_RATE_LIMIT_ACTION_LIMIT"
)

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	AdminAPI      AdminAPIConfig
	RateLimit     RateLimitConfig
	PurchaseCache PurchaseCacheConfig
	Features      FeaturesConfig
	Webhooks      WebhooksConfig
	Stripe        StripeConfig
	Polar         PolarConfig
	LemonSqueezy  LemonSqueezyConfig
}

// Load reads the environment once. Callers pass the result by reference
// instead of consulting the environment per request.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env             string        `envconfig:"KITFORGE_APP_ENV" required:"true"`
	Port            string        `envconfig:"KITFORGE_APP_PORT" default:"8080"`
	PublicURL       string        `envconfig:"KITFORGE_APP_PUBLIC_URL" default:"http://localhost:3000"`
	LogLevel        string        `envconfig:"KITFORGE_LOG_LEVEL" default:"info"`
	LogFormat       string        `envconfig:"KITFORGE_LOG_FORMAT" default:"json"`
	LogWarnStack    bool          `envconfig:"KITFORGE_LOG_WARN_STACK" default:"false"`
	AutoMigrate     bool          `envconfig:"KITFORGE_AUTO_MIGRATE" default:"false"`
	ShutdownTimeout time.Duration `envconfig:"KITFORGE_SHUTDOWN_TIMEOUT" default:"15s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// DBConfig is optional: an empty DSN runs the service without persistence.
type DBConfig struct {
	DSN             string        `envconfig:"KITFORGE_DB_DSN"`
	MaxOpenConns    int           `envconfig:"KITFORGE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"KITFORGE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"KITFORGE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"KITFORGE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQueryThreshold logs statements that take longer; zero disables it.
	SlowQueryThreshold time.Duration `envconfig:"KITFORGE_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

func (d DBConfig) Enabled() bool {
	return strings.TrimSpace(d.DSN) != ""
}

// RedisConfig is optional: without a URL or address rate limiting and
// webhook replay guards are skipped.
type RedisConfig struct {
	URL          string        `envconfig:"KITFORGE_REDIS_URL"`
	Address      string        `envconfig:"KITFORGE_REDIS_ADDR"`
	Password     string        `envconfig:"KITFORGE_REDIS_PASSWORD"`
	DB           int           `envconfig:"KITFORGE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"KITFORGE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"KITFORGE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"KITFORGE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"KITFORGE_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"KITFORGE_REDIS_WRITE_TIMEOUT" default:"3s"`
}

func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type JWTConfig struct {
	Secret            string `envconfig:"KITFORGE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"KITFORGE_JWT_ISSUER" default:"kitforge"`
	ExpirationMinutes int    `envconfig:"KITFORGE_JWT_EXPIRATION_MINUTES" default:"60"`
}

// AdminAPIConfig lists argon2id hashes of the API keys accepted on admin routes.
type AdminAPIConfig struct {
	KeyHashes []string `envconfig:"KITFORGE_ADMIN_API_KEY_HASHES"`
	KeyPrefix string   `envconfig:"KITFORGE_ADMIN_API_KEY_PREFIX" default:"kf_"`
}

type RateLimitConfig struct {
	ActionWindow time.Duration `envconfig:"KITFORGE_RATE_LIMIT_ACTION_WINDOW" default:"1m"`
	ActionLimit  int           `envconfig:"KITFORGE_RATE_LIMIT_ACTION_LIMIT" default:"30"`
	CheckoutWin  time.Duration `envconfig:"KITFORGE_RATE_LIMIT_CHECKOUT_WINDOW" default:"10m"`
	CheckoutMax  int           `envconfig:"KITFORGE_RATE_LIMIT_CHECKOUT_LIMIT" default:"5"`
}

type PurchaseCacheConfig struct {
	TTL time.Duration `envconfig:"KITFORGE_PURCHASE_CACHE_TTL" default:"5m"`
}

// FeaturesConfig gates every third-party integration. A false flag disables
// the matching code path without raising an error.
type FeaturesConfig struct {
	Stripe               bool `envconfig:"KITFORGE_FEATURE_STRIPE_ENABLED" default:"false"`
	Polar                bool `envconfig:"KITFORGE_FEATURE_POLAR_ENABLED" default:"false"`
	LemonSqueezy         bool `envconfig:"KITFORGE_FEATURE_LEMONSQUEEZY_ENABLED" default:"false"`
	GitHub               bool `envconfig:"KITFORGE_FEATURE_GITHUB_ENABLED" default:"false"`
	Vercel               bool `envconfig:"KITFORGE_FEATURE_VERCEL_ENABLED" default:"false"`
	Builder              bool `envconfig:"KITFORGE_FEATURE_BUILDER_ENABLED" default:"false"`
	GoogleServiceAccount bool `envconfig:"KITFORGE_FEATURE_GOOGLE_SERVICE_ACCOUNT_ENABLED" default:"false"`
	Turnstile            bool `envconfig:"KITFORGE_FEATURE_TURNSTILE_ENABLED" default:"false"`
}

// Map exposes the flags keyed by integration name.
func (f FeaturesConfig) Map() map[string]bool {
	return map[string]bool{
		"stripe":                 f.Stripe,
		"polar":                  f.Polar,
		"lemonsqueezy":           f.LemonSqueezy,
		"github":                 f.GitHub,
		"vercel":                 f.Vercel,
		"builder":                f.Builder,
		"google_service_account": f.GoogleServiceAccount,
		"turnstile":              f.Turnstile,
	}
}

type WebhooksConfig struct {
	IdempotencyTTL   time.Duration `envconfig:"KITFORGE_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
	MaxBodyBytes     int64         `envconfig:"KITFORGE_WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
	SignatureMaxSkew time.Duration `envconfig:"KITFORGE_WEBHOOK_SIGNATURE_MAX_SKEW" default:"5m"`
}

type StripeConfig struct {
	WebhookSecret string `envconfig:"KITFORGE_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"KITFORGE_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type PolarConfig struct {
	AccessToken   string        `envconfig:"KITFORGE_POLAR_ACCESS_TOKEN"`
	WebhookSecret string        `envconfig:"KITFORGE_POLAR_WEBHOOK_SECRET"`
	Server        string        `envconfig:"KITFORGE_POLAR_SERVER" default:"sandbox"`
	SuccessURL    string        `envconfig:"KITFORGE_POLAR_SUCCESS_URL"`
	Timeout       time.Duration `envconfig:"KITFORGE_POLAR_TIMEOUT" default:"10s"`
}

type LemonSqueezyConfig struct {
	WebhookSecret string `envconfig:"KITFORGE_LEMONSQUEEZY_WEBHOOK_SECRET"`
}

// ResolveFeatures disables enabled payment integrations whose secrets are
// missing. The returned error aggregates every problem found; it is a warning
// for the caller to log, the config stays usable.
func (c *Config) ResolveFeatures() error {
	var errs error
	if c.Features.Stripe && strings.TrimSpace(c.Stripe.WebhookSecret) == "" {
		c.Features.Stripe = false
		errs = multierr.Append(errs, fmt.Errorf("%s is set but %s is empty; stripe disabled", EnvFeatureStripe, EnvStripeWebhookSecret))
	}
	if c.Features.Polar && strings.TrimSpace(c.Polar.WebhookSecret) == "" {
		c.Features.Polar = false
		errs = multierr.Append(errs, fmt.Errorf("%s is set but %s is empty; polar disabled", EnvFeaturePolar, EnvPolarWebhookSecret))
	}
	if c.Features.LemonSqueezy && strings.TrimSpace(c.LemonSqueezy.WebhookSecret) == "" {
		c.Features.LemonSqueezy = false
		errs = multierr.Append(errs, fmt.Errorf("%s is set but %s is empty; lemonsqueezy disabled", EnvFeatureLemonSqueezy, EnvLemonWebhookSecret))
	}
	return errs
}
