// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/shopspring/decimal"
)

// Market data providers.
const (
	ProviderAlphaVantage = "alphavantage"
	ProviderAlpaca       = "alpaca"
)

// Config is the top-level configuration for the competition engine.
type Config struct {
	Port        string        `env:"PORT" envDefault:"8080"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL string        `env:"DATABASE_URL"`
	RedisURL    string        `env:"REDIS_URL"`
	CacheTTL    time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	CORSOrigin  string        `env:"CORS_ORIGIN" envDefault:"*"`

	// StartingCash seeds every new competition.
	StartingCash decimal.Decimal `env:"STARTING_CASH" envDefault:"100000"`

	// CalendarFile overrides the embedded NYSE calendar.
	CalendarFile string `env:"MARKET_CALENDAR_FILE"`

	Auth         Auth         `envPrefix:"AUTH_"`
	Order        Order        `envPrefix:"ORDER_"`
	MarketData   MarketData   `envPrefix:"MARKET_DATA_"`
	AlphaVantage AlphaVantage `envPrefix:"ALPHA_VANTAGE_"`
	Alpaca       Alpaca       `envPrefix:"APCA_"`
	Kafka        Kafka        `envPrefix:"KAFKA_"`
	Leaderboard  Leaderboard  `envPrefix:"LEADERBOARD_"`
}

// Auth configures bearer-token verification.
type Auth struct {
	JWTSecret string `env:"JWT_SECRET"`
	Issuer    string `env:"JWT_ISSUER"`
	// UserHeader, when set, trusts a user id header from an upstream gateway
	// instead of a bearer token.
	UserHeader string `env:"USER_HEADER"`
}

// Order configures the order engine's transaction retries.
type Order struct {
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	BaseBackoff time.Duration `env:"BASE_BACKOFF" envDefault:"10ms"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"10s"`
	// MaxQuoteAge rejects orders against older quotes. Zero disables it.
	MaxQuoteAge time.Duration `env:"MAX_QUOTE_AGE" envDefault:"0s"`
}

// MarketData configures the periodic quote refresh.
type MarketData struct {
	Provider        string        `env:"PROVIDER" envDefault:"alphavantage"`
	Interval        time.Duration `env:"INTERVAL" envDefault:"15m"`
	Stocks          []string      `env:"STOCKS" envDefault:"AAPL,GOOGL,MSFT,TSLA"`
	Crypto          []string      `env:"CRYPTO" envDefault:"BTC:Bitcoin,ETH:Ethereum"`
	IncludeHeld     bool          `env:"INCLUDE_HELD" envDefault:"true"`
	RateLimitPerMin int           `env:"RATE_LIMIT_PER_MIN" envDefault:"75"`
	Concurrency     int           `env:"CONCURRENCY" envDefault:"4"`
	Disabled        bool          `env:"DISABLED" envDefault:"false"`
}

// AlphaVantage holds Alpha Vantage credentials.
type AlphaVantage struct {
	APIKey  string        `env:"API_KEY"`
	BaseURL string        `env:"BASE_URL" envDefault:"https://www.alphavantage.co/query"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// Alpaca holds credentials for the Alpaca market-data and trading APIs. The
// names follow the SDK's canonical APCA_* variables.
type Alpaca struct {
	APIKey       string `env:"API_KEY_ID"`
	APISecret    string `env:"API_SECRET_KEY"`
	BaseURL      string `env:"API_BASE_URL"`
	DataURL      string `env:"DATA_URL"`
	Feed         string `env:"DATA_FEED" envDefault:"iex"`
	SyncCalendar bool   `env:"SYNC_CALENDAR" envDefault:"false"`
}

// Kafka configures the trade event stream. Empty Brokers disables it.
type Kafka struct {
	Brokers []string `env:"BROKERS"`
	Topic   string   `env:"TOPIC" envDefault:"competition-events"`
}

// Leaderboard configures the standings cache and the optional periodic
// recompute. Zero Interval disables the loop.
type Leaderboard struct {
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"15s"`
	Interval time.Duration `env:"INTERVAL" envDefault:"0s"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return LoadFrom(nil)
}

// LoadFrom parses the given environment. A nil map reads the process
// environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints env tags cannot express.
func (c Config) Validate() error {
	var errs []error
	if !c.StartingCash.IsPositive() {
		errs = append(errs, fmt.Errorf("STARTING_CASH must be positive, got %s", c.StartingCash))
	}
	if c.Order.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("ORDER_MAX_ATTEMPTS must be at least 1, got %d", c.Order.MaxAttempts))
	}
	if c.Order.Timeout <= 0 {
		errs = append(errs, errors.New("ORDER_TIMEOUT must be positive"))
	}
	if c.Order.MaxQuoteAge < 0 {
		errs = append(errs, errors.New("ORDER_MAX_QUOTE_AGE must not be negative"))
	}
	if c.MarketData.Interval < time.Minute || c.MarketData.Interval > 15*time.Minute {
		errs = append(errs, fmt.Errorf("MARKET_DATA_INTERVAL must be between 1m and 15m, got %s", c.MarketData.Interval))
	}
	if c.MarketData.RateLimitPerMin < 1 {
		errs = append(errs, errors.New("MARKET_DATA_RATE_LIMIT_PER_MIN must be at least 1"))
	}
	if c.MarketData.Concurrency < 1 {
		errs = append(errs, errors.New("MARKET_DATA_CONCURRENCY must be at least 1"))
	}
	switch strings.ToLower(c.MarketData.Provider) {
	case ProviderAlphaVantage, ProviderAlpaca:
	default:
		errs = append(errs, fmt.Errorf("MARKET_DATA_PROVIDER %q is not one of %s, %s",
			c.MarketData.Provider, ProviderAlphaVantage, ProviderAlpaca))
	}
	if c.Leaderboard.Interval < 0 {
		errs = append(errs, errors.New("LEADERBOARD_INTERVAL must not be negative"))
	}
	return errors.Join(errs...)
}
