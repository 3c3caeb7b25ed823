// Package risk implements exposure limits that account for correlation
// between instruments.
//
// Instruments that share a base asset (XRP-USD, XRP-USDT) move together, so
// a strategy long on all of them carries one correlated risk. The limiter
// groups instruments by base asset and enforces both a per-instrument and
// an aggregate cap on open notional.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/trading-engine/internal/instrument"
)

var (
	// ErrPerInstrumentLimitExceeded is returned when an order would push a
	// single instrument's open notional beyond the per-instrument maximum.
	ErrPerInstrumentLimitExceeded = errors.New("risk: per-instrument exposure limit exceeded")

	// ErrCorrelatedLimitExceeded is returned when an order would push the
	// aggregate exposure across instruments sharing a base asset beyond
	// the correlated maximum.
	ErrCorrelatedLimitExceeded = errors.New("risk: correlated exposure limit exceeded")
)

// Config holds the exposure caps in quote currency. A zero cap disables
// that check.
type Config struct {
	MaxPerInstrument decimal.Decimal `yaml:"max_per_instrument" validate:"gte=0"`
	MaxCorrelated    decimal.Decimal `yaml:"max_correlated" validate:"gte=0"`
}

// DefaultConfig caps each instrument at $500 and each base asset at $1500.
func DefaultConfig() Config {
	return Config{
		MaxPerInstrument: decimal.NewFromInt(500),
		MaxCorrelated:    decimal.NewFromInt(1500),
	}
}

// Limiter enforces exposure limits with correlation awareness.
type Limiter struct {
	// MaxPerInstrument is the maximum absolute open notional on one instrument.
	MaxPerInstrument decimal.Decimal

	// MaxCorrelated is the maximum aggregate absolute open notional across
	// all instruments with the same base asset.
	MaxCorrelated decimal.Decimal

	group func(string) string
}

// NewLimiter creates a limiter grouping instruments by base asset.
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		MaxPerInstrument: cfg.MaxPerInstrument,
		MaxCorrelated:    cfg.MaxCorrelated,
		group:            instrument.BaseOf,
	}
}

// CheckLimit validates whether an order respects exposure limits.
//
// Parameters:
//   - target: instrument being traded
//   - delta: signed change in open notional
//   - existing: instrument → current open notional
//
// Returns nil if the order is within limits.
func (l *Limiter) CheckLimit(target string, delta decimal.Decimal, existing map[string]decimal.Decimal) error {
	// 1. Per-instrument limit.
	next := existing[target].Add(delta)
	if l.MaxPerInstrument.IsPositive() && next.Abs().GreaterThan(l.MaxPerInstrument) {
		return ErrPerInstrumentLimitExceeded
	}

	// 2. Correlated exposure: sum |notional| across the same base asset.
	if !l.MaxCorrelated.IsPositive() {
		return nil
	}
	targetGroup := l.group(target)
	total := next.Abs()
	for inst, exposure := range existing {
		if inst == target {
			continue
		}
		if l.group(inst) == targetGroup {
			total = total.Add(exposure.Abs())
		}
	}
	if total.GreaterThan(l.MaxCorrelated) {
		return ErrCorrelatedLimitExceeded
	}
	return nil
}
