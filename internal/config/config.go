package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds every runtime setting. All variables carry the TV_API_ prefix.
type Config struct {
	Port           string   `env:"TV_API_PORT" env-default:"8000"`
	Environment    string   `env:"TV_API_ENVIRONMENT" env-default:"development"`
	AppName        string   `env:"TV_API_APP_NAME" env-default:"pickletv-api"`
	LogLevel       string   `env:"TV_API_LOG_LEVEL" env-default:"info"`
	LogFormat      string   `env:"TV_API_LOG_FORMAT" env-default:"text"`
	CORSOrigins    []string `env:"TV_API_CORS_ORIGINS" env-separator:"," env-default:"*"`
	PrivacyContact string   `env:"TV_API_PRIVACY_CONTACT" env-default:"privacy@pickletv.app"`

	// TrustProxyHeaders enables CF-Connecting-IP and X-Forwarded-For. Set it
	// only when every request arrives through a proxy that overwrites them.
	TrustProxyHeaders bool `env:"TV_API_TRUST_PROXY_HEADERS" env-default:"false"`

	DB        DBConfig
	MagicLink MagicLinkConfig
	RateLimit RateLimitConfig
	Email     EmailConfig
	Assets    AssetsConfig
	Shopify   ShopifyConfig
}

type DBConfig struct {
	Driver   string `env:"TV_API_DB_DRIVER" env-default:"sqlite"`
	URL      string `env:"TV_API_DATABASE_URL" env-default:"pickletv.db"`
	MinConns int    `env:"TV_API_DB_MIN_CONNS" env-default:"2"`
	MaxConns int    `env:"TV_API_DB_MAX_CONNS" env-default:"10"`
}

type MagicLinkConfig struct {
	BaseURL        string        `env:"TV_API_MAGIC_LINK_BASE_URL" env-default:"http://localhost:8000/auth/verify"`
	Expiry         time.Duration `env:"TV_API_MAGIC_LINK_EXPIRY" env-default:"15m"`
	StatusLookback time.Duration `env:"TV_API_STATUS_LOOKBACK" env-default:"5m"`
	PollInterval   time.Duration `env:"TV_API_STATUS_POLL_INTERVAL" env-default:"2s"`
}

type RateLimitConfig struct {
	PerEmail int           `env:"TV_API_RATE_LIMIT_PER_EMAIL" env-default:"3"`
	PerIP    int           `env:"TV_API_RATE_LIMIT_PER_IP" env-default:"10"`
	Window   time.Duration `env:"TV_API_RATE_LIMIT_WINDOW" env-default:"1h"`
}

type EmailConfig struct {
	Provider      string `env:"TV_API_EMAIL_PROVIDER" env-default:"log"`
	SMTPHost      string `env:"TV_API_SMTP_HOST" env-default:"localhost"`
	SMTPPort      int    `env:"TV_API_SMTP_PORT" env-default:"587"`
	SMTPUsername  string `env:"TV_API_SMTP_USERNAME"`
	SMTPPassword  string `env:"TV_API_SMTP_PASSWORD"`
	FromEmail     string `env:"TV_API_SMTP_FROM_EMAIL" env-default:"noreply@pickletv.app"`
	FromName      string `env:"TV_API_SMTP_FROM_NAME" env-default:"dil.map"`
	PostmarkToken string `env:"TV_API_POSTMARK_TOKEN"`
}

type AssetsConfig struct {
	Backend     string `env:"TV_API_ASSETS_BACKEND" env-default:"dir"`
	Dir         string `env:"TV_API_ASSETS_DIR" env-default:"assets"`
	S3Endpoint  string `env:"TV_API_ASSETS_S3_ENDPOINT"`
	S3Region    string `env:"TV_API_ASSETS_S3_REGION" env-default:"us-east-1"`
	S3Bucket    string `env:"TV_API_ASSETS_S3_BUCKET"`
	S3Prefix    string `env:"TV_API_ASSETS_S3_PREFIX"`
	S3AccessKey string `env:"TV_API_ASSETS_S3_ACCESS_KEY"`
	S3SecretKey string `env:"TV_API_ASSETS_S3_SECRET_KEY"`
}

type ShopifyConfig struct {
	WebhookSecret string `env:"TV_API_SHOPIFY_WEBHOOK_SECRET"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown enum values and nonsensical limits.
func (c *Config) Validate() error {
	var errs []error

	switch c.DB.Driver {
	case "pgx", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("TV_API_DB_DRIVER: unknown driver %q", c.DB.Driver))
	}
	switch c.Email.Provider {
	case "smtp", "log":
	case "postmark":
		if c.Email.PostmarkToken == "" {
			errs = append(errs, errors.New("TV_API_POSTMARK_TOKEN is required for the postmark provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("TV_API_EMAIL_PROVIDER: unknown provider %q", c.Email.Provider))
	}
	switch c.Assets.Backend {
	case "dir":
	case "s3":
		if c.Assets.S3Bucket == "" {
			errs = append(errs, errors.New("TV_API_ASSETS_S3_BUCKET is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("TV_API_ASSETS_BACKEND: unknown backend %q", c.Assets.Backend))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("TV_API_LOG_FORMAT: unknown format %q", c.LogFormat))
	}

	if c.RateLimit.PerEmail < 1 || c.RateLimit.PerIP < 1 {
		errs = append(errs, errors.New("rate limits must be at least 1"))
	}
	if c.RateLimit.Window <= 0 || c.MagicLink.Expiry <= 0 || c.MagicLink.StatusLookback <= 0 || c.MagicLink.PollInterval <= 0 {
		errs = append(errs, errors.New("durations must be positive"))
	}
	if c.DB.MaxConns < 1 {
		errs = append(errs, errors.New("TV_API_DB_MAX_CONNS must be at least 1"))
	}

	return errors.Join(errs...)
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
