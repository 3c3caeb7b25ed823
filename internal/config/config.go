// Package config exposes the typed engine configuration loaded from YAML,
// with environment overrides for deployment-specific values.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/trading-engine/internal/engine"
	"github.com/atmx/trading-engine/internal/grid"
	"github.com/atmx/trading-engine/internal/instrument"
	"github.com/atmx/trading-engine/internal/lifecycle"
	"github.com/atmx/trading-engine/internal/payout"
	"github.com/atmx/trading-engine/internal/risk"
	"github.com/atmx/trading-engine/internal/scheduler"
	"github.com/atmx/trading-engine/internal/signal"
)

var ErrInvalid = errors.New("config: invalid configuration")

// Feed kinds.
const (
	FeedSimulated = "simulated"
	FeedBinance   = "binance"
)

// App captures process-wide runtime settings.
type App struct {
	Name      string `yaml:"name" validate:"required"`
	Env       string `yaml:"env"`
	LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=json console"`
	HTTPAddr  string `yaml:"http_addr" validate:"required"`
	// DevMode turns invariant violations into panics.
	DevMode bool `yaml:"dev_mode"`
}

// Store selects persistence. An empty DatabaseURL keeps everything in
// memory; RedisURL adds a read-through cache in front of Postgres.
type Store struct {
	DatabaseURL string        `yaml:"database_url"`
	RedisURL    string        `yaml:"redis_url"`
	CacheTTL    time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

// Feed configures the price source and the paper order sink.
type Feed struct {
	Kind    string `yaml:"kind" validate:"oneof=simulated binance"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	// Volatility is the per-sample standard deviation of the simulated walk.
	Volatility float64 `yaml:"volatility" validate:"gte=0,lt=1"`
	Seed       int64   `yaml:"seed"`
	FailRate   float64 `yaml:"fail_rate" validate:"gte=0,lte=1"`
	// RejectRate is the share of orders the paper sink refuses.
	RejectRate float64 `yaml:"reject_rate" validate:"gte=0,lte=1"`
	// FillProbability is the chance a grid level within tolerance fills.
	FillProbability float64                    `yaml:"fill_probability" validate:"gte=0,lte=1"`
	StartPrices     map[string]decimal.Decimal `yaml:"start_prices"`
}

// Config collects every configuration leaf.
type Config struct {
	App       App              `yaml:"app"`
	Store     Store            `yaml:"store"`
	Feed      Feed             `yaml:"feed"`
	Grid      grid.Config      `yaml:"grid"`
	Signal    signal.Config    `yaml:"signal"`
	Lifecycle lifecycle.Config `yaml:"lifecycle"`
	Engine    engine.Config    `yaml:"engine"`
	Scheduler scheduler.Config `yaml:"scheduler"`
	Payout    payout.Config    `yaml:"payout"`
	Risk      risk.Config      `yaml:"risk"`

	Instruments        []string `yaml:"instruments" validate:"dive,required"`
	PriorityInstrument string   `yaml:"priority_instrument"`
}

// Default returns a configuration that runs a paper engine on simulated
// prices without external services.
func Default() *Config {
	return &Config{
		App: App{
			Name:      "trading-engine",
			Env:       "development",
			LogLevel:  "info",
			LogFormat: "json",
			HTTPAddr:  ":8080",
		},
		Store: Store{CacheTTL: 30 * time.Second},
		Feed: Feed{
			Kind:            FeedSimulated,
			Volatility:      0.002,
			Seed:            1,
			FillProbability: grid.DefaultFillProbability,
			StartPrices: map[string]decimal.Decimal{
				"BTC-USD": decimal.NewFromInt(65000),
				"ETH-USD": decimal.NewFromInt(3200),
				"XRP-USD": decimal.NewFromFloat(0.62),
			},
		},
		Grid:        grid.DefaultConfig(),
		Signal:      signal.DefaultConfig(),
		Lifecycle:   lifecycle.DefaultConfig(),
		Engine:      engine.DefaultConfig(),
		Scheduler:   scheduler.DefaultConfig(),
		Payout:      payout.DefaultConfig(),
		Risk:        risk.DefaultConfig(),
		Instruments: []string{"BTC-USD", "ETH-USD", "XRP-USD"},
	}
}

// Load reads an optional .env file, decodes the YAML file at path over the
// defaults, applies environment overrides and validates the result. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.finalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides deployment-specific values from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("PORT"); ok && v != "" {
		c.App.HTTPAddr = ":" + strings.TrimPrefix(v, ":")
	}
	if v, ok := lookup("DATABASE_URL"); ok {
		c.Store.DatabaseURL = v
	}
	if v, ok := lookup("REDIS_URL"); ok {
		c.Store.RedisURL = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.App.LogLevel = strings.ToLower(v)
	}
	if v, ok := lookup("INSTRUMENTS"); ok && v != "" {
		var list []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				list = append(list, s)
			}
		}
		c.Instruments = list
	}
	if v, ok := lookup("DEV_MODE"); ok {
		c.App.DevMode = v == "1" || strings.EqualFold(v, "true")
	}
}

// finalize copies settings that more than one section needs.
func (c *Config) finalize() {
	c.Engine.DevMode = c.App.DevMode
	if c.PriorityInstrument != "" {
		c.PriorityInstrument = strings.ToUpper(strings.TrimSpace(c.PriorityInstrument))
		c.Signal.PriorityInstrument = c.PriorityInstrument
	}
	for i, s := range c.Instruments {
		c.Instruments[i] = strings.ToUpper(strings.TrimSpace(s))
	}
}

// Validate checks field constraints and the cross-field rules the struct
// tags cannot express.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	var errs []error
	if c.Grid.Levels%2 == 0 {
		errs = append(errs, fmt.Errorf("grid.levels must be odd, got %d", c.Grid.Levels))
	}
	if c.Scheduler.TickTimeout > c.Scheduler.MomentumInterval {
		errs = append(errs, errors.New("scheduler.tick_timeout exceeds momentum_interval"))
	}
	for _, s := range c.Instruments {
		if _, err := instrument.Parse(s); err != nil {
			errs = append(errs, fmt.Errorf("instruments: %w", err))
		}
	}
	if c.PriorityInstrument != "" {
		if _, err := instrument.Parse(c.PriorityInstrument); err != nil {
			errs = append(errs, fmt.Errorf("priority_instrument: %w", err))
		}
	}
	if c.Feed.Kind == FeedSimulated {
		for _, s := range c.Instruments {
			if p, ok := c.Feed.StartPrices[s]; !ok || !p.IsPositive() {
				errs = append(errs, fmt.Errorf("feed.start_prices: %s needs a positive start price", s))
			}
		}
	}
	if c.Store.RedisURL != "" && c.Store.DatabaseURL == "" {
		errs = append(errs, errors.New("store.redis_url requires store.database_url"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// newValidator returns a validator that compares decimal fields by value,
// so numeric tags such as gt=0 apply to them.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}
