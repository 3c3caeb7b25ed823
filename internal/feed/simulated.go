// Package feed provides the engine's external collaborators for running
// without an exchange account: a simulated price source, a read-only
// Binance public-ticker source and a paper order sink.
package feed

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownInstrument = errors.New("feed: no price for instrument")
	ErrFeedDown          = errors.New("feed: simulated outage")
)

// PriceScale is the number of decimal places simulated prices carry.
const PriceScale int32 = 6

// Simulated is a seeded geometric random walk per instrument. Each call to
// GetPrice advances the walk by one step of up to ±Volatility.
type Simulated struct {
	mu         sync.Mutex
	rng        *rand.Rand
	prices     map[string]decimal.Decimal
	volatility float64
	failRate   float64
}

// NewSimulated creates a random walk starting at the given prices.
// volatility is the maximum fractional move per step (0.005 = 0.5%).
func NewSimulated(start map[string]decimal.Decimal, volatility float64, seed int64) *Simulated {
	prices := make(map[string]decimal.Decimal, len(start))
	for k, v := range start {
		prices[k] = v
	}
	return &Simulated{
		rng:        rand.New(rand.NewSource(seed)),
		prices:     prices,
		volatility: volatility,
	}
}

// WithFailRate makes a fraction of GetPrice calls fail with ErrFeedDown.
func (s *Simulated) WithFailRate(rate float64) *Simulated {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRate = rate
	return s
}

// Set overrides the current price of an instrument.
func (s *Simulated) Set(instrument string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[instrument] = price
}

func (s *Simulated) GetPrice(ctx context.Context, instrument string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[instrument]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrument)
	}
	if s.failRate > 0 && s.rng.Float64() < s.failRate {
		return decimal.Zero, ErrFeedDown
	}

	step := (s.rng.Float64()*2 - 1) * s.volatility
	next := price.Mul(decimal.NewFromFloat(1 + step)).Round(PriceScale)
	if !next.IsPositive() {
		next = price
	}
	s.prices[instrument] = next
	return next, nil
}
