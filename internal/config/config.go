package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Entitlement modes. Exactly one is active per deployment.
const (
	EntitlementKey          = "key"
	EntitlementSubscription = "subscription"
)

type Config struct {
	// Server configuration
	Port            string        `envconfig:"PORT" default:"8080"`
	Mode            string        `envconfig:"GIN_MODE" default:"debug"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`

	// Database configuration
	DatabaseURL  string        `envconfig:"DATABASE_URL"`
	SQLitePath   string        `envconfig:"SQLITE_PATH" default:"activation-api.db"`
	StoreTimeout time.Duration `envconfig:"STORE_TIMEOUT" default:"10s"`

	// Redis configuration, empty disables rate limiting, replay guard and caching
	RedisURL        string        `envconfig:"REDIS_URL"`
	ProductCacheTTL time.Duration `envconfig:"PRODUCT_CACHE_TTL" default:"60s"`

	// Admin token configuration
	JWTSecret string        `envconfig:"JWT_SECRET"`
	JWTTTL    time.Duration `envconfig:"JWT_TTL" default:"168h"`

	// Entitlement and billing configuration
	EntitlementMode     string        `envconfig:"ENTITLEMENT_MODE" default:"key"`
	StripeWebhookSecret string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
	WebhookTolerance    time.Duration `envconfig:"WEBHOOK_TOLERANCE" default:"5m"`
	CheckoutPeriod      time.Duration `envconfig:"CHECKOUT_PERIOD" default:"720h"`

	// Activation attempts allowed per device per minute, 0 disables
	ActivationRateLimit int `envconfig:"ACTIVATION_RATE_LIMIT" default:"10"`

	// Brevo email configuration
	BrevoAPIKey    string `envconfig:"BREVO_API_KEY"`
	BrevoFromEmail string `envconfig:"BREVO_FROM_EMAIL"`
	BrevoFromName  string `envconfig:"BREVO_FROM_NAME" default:"Activation Service"`

	// Bootstrap admin, seeded only when both email and password are set
	AdminEmail    string `envconfig:"ADMIN_EMAIL"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`
	AdminName     string `envconfig:"ADMIN_NAME" default:"Administrator"`

	// Logging configuration
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// Ignore error if .env file doesn't exist
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.EntitlementMode = strings.ToLower(strings.TrimSpace(cfg.EntitlementMode))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	if c.JWTSecret == "" || c.JWTSecret == "your-secret-key-here" {
		return fmt.Errorf("JWT_SECRET must be set to a strong, unique value")
	}
	switch c.EntitlementMode {
	case EntitlementKey:
	case EntitlementSubscription:
		if c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when ENTITLEMENT_MODE=%s", EntitlementSubscription)
		}
	default:
		return fmt.Errorf("unknown ENTITLEMENT_MODE %q", c.EntitlementMode)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	if c.ActivationRateLimit < 0 {
		return fmt.Errorf("ACTIVATION_RATE_LIMIT must not be negative")
	}
	return nil
}

// BillingGated reports whether activation requires an active subscription.
func (c *Config) BillingGated() bool {
	return c.EntitlementMode == EntitlementSubscription
}

// SeedAdmin reports whether a bootstrap admin is configured.
func (c *Config) SeedAdmin() bool {
	return c.AdminEmail != "" && c.AdminPassword != ""
}
