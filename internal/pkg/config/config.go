package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	RealtimeDriverMongo     = "mongo"
	RealtimeDriverWebsocket = "websocket"
)

type Config struct {
	Port     string `env:"PORT,      default=8080"`
	Env      string `env:"ENV,       default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	Pricing  PricingConfig
	Mongo    MongoConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Realtime RealtimeConfig
	Payout   PayoutConfig
}

// PricingConfig amounts are in minor currency units.
type PricingConfig struct {
	TaxRateBps            int64 `env:"TAX_RATE_BPS,            default=1800"`
	FreeDeliveryThreshold int64 `env:"FREE_DELIVERY_THRESHOLD, default=50000"`
	DeliveryFee           int64 `env:"DELIVERY_FEE,            default=5000"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=marketplace"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR, default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,   default=0"`
	// Namespace prefixes every key so several devices can share one Redis.
	Namespace string `env:"STORE_NAMESPACE, default=marketplace"`
}

type AuthConfig struct {
	JWTSecret     string        `env:"JWT_SECRET, required"`
	TokenTTL      time.Duration `env:"TOKEN_TTL,            default=1h"`
	RefreshBefore time.Duration `env:"TOKEN_REFRESH_BEFORE, default=5m"`
}

type RealtimeConfig struct {
	Driver  string `env:"REALTIME_DRIVER,  default=mongo"`
	URL     string `env:"REALTIME_URL"`
	APIKey  string `env:"REALTIME_API_KEY"`
	Workers int    `env:"REALTIME_WORKERS, default=4"`
}

type PayoutConfig struct {
	URL     string        `env:"PAYOUT_URL,     default=http://localhost:8090"`
	APIKey  string        `env:"PAYOUT_API_KEY"`
	Timeout time.Duration `env:"PAYOUT_TIMEOUT, default=30s"`
}

// Load reads configuration from environment variables using go-envconfig.
func Load() *Config {
	cfg, err := LoadFrom(context.Background(), envconfig.OsLookuper())
	if err != nil {
		panic(fmt.Sprintf("config: failed to load configuration: %v", err))
	}
	return cfg
}

// LoadFrom reads configuration through lookuper and validates it.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch {
	case c.Pricing.TaxRateBps < 0 || c.Pricing.FreeDeliveryThreshold < 0 || c.Pricing.DeliveryFee < 0:
		return fmt.Errorf("pricing values must not be negative")
	case c.Realtime.Driver != RealtimeDriverMongo && c.Realtime.Driver != RealtimeDriverWebsocket:
		return fmt.Errorf("unknown REALTIME_DRIVER %q", c.Realtime.Driver)
	case c.Realtime.Driver == RealtimeDriverWebsocket && c.Realtime.URL == "":
		return fmt.Errorf("REALTIME_URL is required for the websocket driver")
	case c.Auth.TokenTTL <= 0:
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	return nil
}
