package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "DATABASE_URL", "REDIS_URL", "LOG_LEVEL", "INSTRUMENTS", "DEV_MODE"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
app:
  name: grid-bot
  http_addr: ":9000"
  dev_mode: true
grid:
  levels: 7
  spacing_fraction: "0.01"
scheduler:
  grid_interval: 15s
priority_instrument: xrp-usd
instruments: [xrp-usd]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "grid-bot", cfg.App.Name)
	assert.Equal(t, ":9000", cfg.App.HTTPAddr)
	assert.Equal(t, 7, cfg.Grid.Levels)
	assert.True(t, cfg.Grid.SpacingFraction.Equal(decimal.NewFromFloat(0.01)))
	assert.Equal(t, 15*time.Second, cfg.Scheduler.GridInterval)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.MomentumInterval, "unset keys keep defaults")
	assert.Equal(t, []string{"XRP-USD"}, cfg.Instruments)
	assert.Equal(t, "XRP-USD", cfg.Signal.PriorityInstrument)
	assert.True(t, cfg.Engine.DevMode)
	assert.True(t, cfg.Grid.OrderNotional.Equal(decimal.NewFromInt(20)))
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("INSTRUMENTS", "btc-usd, eth-usd ,")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.App.HTTPAddr)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, cfg.Instruments)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"even levels", func(c *Config) { c.Grid.Levels = 10 }},
		{"too few levels", func(c *Config) { c.Grid.Levels = 1 }},
		{"zero spacing", func(c *Config) { c.Grid.SpacingFraction = decimal.Zero }},
		{"negative notional", func(c *Config) { c.Engine.MomentumNotional = decimal.NewFromInt(-1) }},
		{"stop loss of 100%", func(c *Config) { c.Lifecycle.Grid.StopLoss = decimal.NewFromInt(1) }},
		{"sweep too fast", func(c *Config) { c.Scheduler.SweepInterval = 10 * time.Second }},
		{"sweep too slow", func(c *Config) { c.Scheduler.SweepInterval = 5 * time.Minute }},
		{"timeout beyond interval", func(c *Config) { c.Scheduler.TickTimeout = time.Minute }},
		{"unknown feed", func(c *Config) { c.Feed.Kind = "csv" }},
		{"bad instrument", func(c *Config) { c.Instruments = []string{"BTCUSD"} }},
		{"missing start price", func(c *Config) { c.Instruments = append(c.Instruments, "SOL-USD") }},
		{"cache without database", func(c *Config) { c.Store.RedisURL = "redis://localhost:6379" }},
		{"confidence out of range", func(c *Config) { c.Signal.ActionableConfidence = 101 }},
		{"bad log level", func(c *Config) { c.App.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestValidate_BinanceNeedsNoStartPrices(t *testing.T) {
	cfg := Default()
	cfg.Feed.Kind = FeedBinance
	cfg.Feed.StartPrices = nil
	cfg.Instruments = []string{"SOL-USD"}
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_DevMode(t *testing.T) {
	env := map[string]string{"DEV_MODE": "true", "DATABASE_URL": "postgres://localhost/engine"}
	cfg := Default()
	cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	cfg.finalize()

	assert.True(t, cfg.App.DevMode)
	assert.True(t, cfg.Engine.DevMode)
	assert.Equal(t, "postgres://localhost/engine", cfg.Store.DatabaseURL)
}
