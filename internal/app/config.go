package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/processor/braintree"
)

// Processor kinds.
const (
	ProcessorFake      = "fake"
	ProcessorBraintree = "braintree"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images (e.g. https://cdn.example.com/images)" flag:"image-base-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (SHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Currency     string `default:"USD" usage:"ISO currency code sent to the payment processor"`
	// ClaimTimeout is how long an abandoned charge attempt blocks the order.
	ClaimTimeout time.Duration `default:"2m" usage:"Payment claim timeout" flag:"claim-timeout"`
	Processor    ProcessorConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// ProcessorConfig selects and configures the payment processor.
type ProcessorConfig struct {
	Kind      string `default:"fake" usage:"Payment processor: fake or braintree"`
	Braintree braintree.Config
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
	// KeyBySubject buckets authenticated requests by X-Auth-Subject instead of
	// client IP. Enable only behind a proxy that overwrites that header.
	KeyBySubject bool `default:"false" usage:"Rate limit by proxy-verified subject header" flag:"rate-limit-by-subject"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	switch c.Processor.Kind {
	case ProcessorFake, ProcessorBraintree:
	default:
		return errors.Errorf("unknown payment processor %q", c.Processor.Kind)
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
