// Package config defines all configuration for the exchange simulator.
// Config is loaded from a JSON file (default: config.json) with defaults for
// every omitted key, so an empty file yields a runnable simulator.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the JSON file structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Failures FailuresConfig `mapstructure:"failures"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds the listen address.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port for http.Server.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// PricingModelConfig tunes the price process that drives market data.
// Drift and Volatility are annualized; the default model is geometric
// Brownian motion.
type PricingModelConfig struct {
	ModelType  string  `mapstructure:"model_type"`
	Drift      float64 `mapstructure:"drift"`
	Volatility float64 `mapstructure:"volatility"`
}

// ExchangeConfig describes the simulated venue: which symbols trade, how fast
// ticks fire, where prices start, and what every new session is granted.
type ExchangeConfig struct {
	Symbols        []string           `mapstructure:"symbols"`
	TickInterval   time.Duration      `mapstructure:"tick_interval"`
	InitialPrices  map[string]float64 `mapstructure:"initial_prices"`
	PricingModel   PricingModelConfig `mapstructure:"pricing_model"`
	DefaultBalance map[string]float64 `mapstructure:"default_balance"`
	SpreadBps      int                `mapstructure:"spread_bps"`
	PricePrecision int32              `mapstructure:"price_precision"`
	HistorySize    int                `mapstructure:"history_size"`
	BookDepth      int                `mapstructure:"book_depth"`

	// MarketNoLiquidity decides what a MARKET order with zero available
	// liquidity becomes: "reject" (default) or "cancel" (empty fill, CANCELLED).
	MarketNoLiquidity string `mapstructure:"market_no_liquidity"`
}

// FailuresConfig is the failure-injection master switch plus per-mode settings.
type FailuresConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Seed    int64         `mapstructure:"seed"` // 0 = time-derived
	Latency LatencyConfig `mapstructure:"latency"`
	Modes   ModesConfig   `mapstructure:"modes"`
}

// LatencyConfig selects the log-normal link preset.
// "stable" ≈ 46ms expected, "typical" ≈ 155ms expected.
type LatencyConfig struct {
	Mode string `mapstructure:"mode"`
}

// ModesConfig holds every independently toggleable strategy.
type ModesConfig struct {
	DropMessages     DropConfig      `mapstructure:"drop_messages"`
	DelayMessages    DelayConfig     `mapstructure:"delay_messages"`
	Duplicate        DuplicateConfig `mapstructure:"duplicate"`
	Reorder          ReorderConfig   `mapstructure:"reorder"`
	Corrupt          CorruptConfig   `mapstructure:"corrupt"`
	Throttle         ThrottleConfig  `mapstructure:"throttle"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit"`
	SilentConnection SilentConfig    `mapstructure:"silent_connection"`
}

type DropConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Probability float64 `mapstructure:"probability"`
}

type DelayConfig struct {
	Enabled bool `mapstructure:"enabled"`
	MinMs   int  `mapstructure:"min_ms"`
	MaxMs   int  `mapstructure:"max_ms"`
}

type DuplicateConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Probability float64 `mapstructure:"probability"`
	MaxCopies   int     `mapstructure:"max_copies"`
}

type ReorderConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	BufferSize int           `mapstructure:"buffer_size"`
	FlushAfter time.Duration `mapstructure:"flush_after"`
}

type CorruptConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Probability float64 `mapstructure:"probability"`
}

type ThrottleConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	Capacity      float64 `mapstructure:"capacity"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

type RateLimitConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	RequestsPerSec   int  `mapstructure:"requests_per_sec"`
	ViolationWindow  int  `mapstructure:"violation_window_sec"`
	FirstPenaltySec  int  `mapstructure:"first_penalty_sec"`
	SecondPenaltySec int  `mapstructure:"second_penalty_sec"`
}

type SilentConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	AfterMessages    int  `mapstructure:"after_messages"`
	ResetOnReconnect bool `mapstructure:"reset_on_reconnect"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a JSON file. A missing file is not an error — every
// key has a default — but a malformed file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("SIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// A missing file runs on defaults; a present-but-broken file is fatal.
	if _, statErr := os.Stat(path); statErr == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8765)

	v.SetDefault("exchange.symbols", []string{"BTC/USD", "ETH/USD"})
	v.SetDefault("exchange.tick_interval", "1s")
	v.SetDefault("exchange.initial_prices", map[string]float64{
		"BTC/USD": 50000,
		"ETH/USD": 3000,
	})
	v.SetDefault("exchange.pricing_model.model_type", "gbm")
	v.SetDefault("exchange.pricing_model.drift", 0.05)
	v.SetDefault("exchange.pricing_model.volatility", 0.5)
	v.SetDefault("exchange.default_balance", map[string]float64{
		"USD": 100000,
		"BTC": 10,
		"ETH": 100,
	})
	v.SetDefault("exchange.spread_bps", 10)
	v.SetDefault("exchange.price_precision", 2)
	v.SetDefault("exchange.history_size", 10000)
	v.SetDefault("exchange.book_depth", 10)
	v.SetDefault("exchange.market_no_liquidity", "reject")

	v.SetDefault("failures.enabled", false)
	v.SetDefault("failures.seed", 0)
	v.SetDefault("failures.latency.mode", "")
	v.SetDefault("failures.modes.drop_messages.probability", 0.05)
	v.SetDefault("failures.modes.delay_messages.min_ms", 50)
	v.SetDefault("failures.modes.delay_messages.max_ms", 500)
	v.SetDefault("failures.modes.duplicate.probability", 0.05)
	v.SetDefault("failures.modes.duplicate.max_copies", 2)
	v.SetDefault("failures.modes.reorder.buffer_size", 4)
	v.SetDefault("failures.modes.reorder.flush_after", "250ms")
	v.SetDefault("failures.modes.corrupt.probability", 0.02)
	v.SetDefault("failures.modes.throttle.capacity", 20)
	v.SetDefault("failures.modes.throttle.rate_per_second", 10)
	v.SetDefault("failures.modes.rate_limit.requests_per_sec", 10)
	v.SetDefault("failures.modes.rate_limit.violation_window_sec", 60)
	v.SetDefault("failures.modes.rate_limit.first_penalty_sec", 10)
	v.SetDefault("failures.modes.rate_limit.second_penalty_sec", 60)
	v.SetDefault("failures.modes.silent_connection.after_messages", 100)
	v.SetDefault("failures.modes.silent_connection.reset_on_reconnect", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks value ranges that would otherwise surface as confusing
// runtime behavior.
func (c *Config) Validate() error {
	if len(c.Exchange.Symbols) == 0 {
		return fmt.Errorf("exchange.symbols must not be empty")
	}
	for _, sym := range c.Exchange.Symbols {
		parts := strings.Split(sym, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("exchange.symbols: %q is not BASE/QUOTE", sym)
		}
	}
	if c.Exchange.TickInterval <= 0 {
		return fmt.Errorf("exchange.tick_interval must be > 0")
	}
	if c.Exchange.SpreadBps < 0 {
		return fmt.Errorf("exchange.spread_bps must be >= 0")
	}
	if c.Exchange.HistorySize <= 0 {
		return fmt.Errorf("exchange.history_size must be > 0")
	}
	switch c.Exchange.MarketNoLiquidity {
	case "reject", "cancel":
	default:
		return fmt.Errorf("exchange.market_no_liquidity must be \"reject\" or \"cancel\"")
	}
	if p := c.Failures.Modes.DropMessages.Probability; p < 0 || p > 1 {
		return fmt.Errorf("failures.modes.drop_messages.probability must be in [0,1]")
	}
	if p := c.Failures.Modes.Corrupt.Probability; p < 0 || p > 1 {
		return fmt.Errorf("failures.modes.corrupt.probability must be in [0,1]")
	}
	if m := c.Failures.Latency.Mode; m != "" && m != "stable" && m != "typical" {
		return fmt.Errorf("failures.latency.mode must be \"stable\" or \"typical\"")
	}
	if c.Failures.Modes.RateLimit.RequestsPerSec <= 0 {
		return fmt.Errorf("failures.modes.rate_limit.requests_per_sec must be > 0")
	}
	return nil
}
