// Package signal scores an instrument's recent price history into a trade
// signal using momentum, RSI, EMA/MACD and a price-derived activity proxy.
//
// Indicators:
//   - Momentum:     (latest - s[n-5]) / s[n-5] * 100
//   - RSI(14):      100 - 100/(1 + avgGain/avgLoss), simple averages over
//     the last (up to) 14 deltas
//   - EMA(period):  seeded with the oldest sample of the window, then
//     ema = p*k + ema*(1-k) with k = 2/(period+1)
//   - MACD:         EMA(12) - EMA(26)
//   - Volume proxy: mean absolute tick-to-tick percent change
//
// The engine only scores; deciding to trade is the caller's job.
package signal

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/trading-engine/internal/model"
)

var (
	// ErrInsufficientHistory is returned when there are fewer samples than
	// an indicator needs. Callers skip the pass instead of using zeros.
	ErrInsufficientHistory = errors.New("signal: insufficient price history")

	// ErrZeroReference is returned when a percentage would divide by a zero price.
	ErrZeroReference = errors.New("signal: reference price is zero")

	// NeutralRSI is reported when the average loss over the window is zero
	// and the RSI ratio is undefined.
	NeutralRSI = decimal.NewFromInt(50)

	// Scale is the number of decimal places indicator outputs are rounded to.
	Scale int32 = 8
)

const (
	// MinSamples is the shortest history that is scored at all.
	MinSamples = 5

	MomentumLookback = 5
	RSIPeriod        = 14
	FastEMAPeriod    = 12
	SlowEMAPeriod    = 26

	baseConfidence = 50
)

var hundred = decimal.NewFromInt(100)

// Config holds the scoring thresholds. Percent values are in percent
// units (3 means 3%).
type Config struct {
	MomentumThreshold         decimal.Decimal `yaml:"momentum_threshold" validate:"gte=0"`
	PriorityMomentumThreshold decimal.Decimal `yaml:"priority_momentum_threshold" validate:"gte=0"`
	RSIOverbought             decimal.Decimal `yaml:"rsi_overbought" validate:"gt=0,lte=100"`
	VolumeThreshold           decimal.Decimal `yaml:"volume_threshold" validate:"gte=0"`
	ActionableConfidence      int             `yaml:"actionable_confidence" validate:"min=0,max=100"`
	PriorityInstrument        string          `yaml:"priority_instrument"`
}

// DefaultConfig returns the thresholds the strategy was tuned with.
func DefaultConfig() Config {
	return Config{
		MomentumThreshold:         decimal.NewFromInt(3),
		PriorityMomentumThreshold: decimal.NewFromInt(2),
		RSIOverbought:             decimal.NewFromInt(70),
		VolumeThreshold:           decimal.NewFromInt(1),
		ActionableConfidence:      75,
	}
}

// Engine scores price histories. It is stateless and safe for concurrent use.
type Engine struct {
	cfg Config
	now func() time.Time
}

// NewEngine creates a scoring engine with the given thresholds.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, now: time.Now}
}

// Config returns the engine's thresholds.
func (e *Engine) Config() Config { return e.cfg }

// Score computes all indicators over history (oldest first) and returns a
// fresh signal. Confidence starts at 50 and is adjusted additively, then
// clamped to [0,100].
func (e *Engine) Score(instrument string, history []decimal.Decimal) (model.Signal, error) {
	if len(history) < MinSamples {
		return model.Signal{}, fmt.Errorf("%w: have %d samples, need %d",
			ErrInsufficientHistory, len(history), MinSamples)
	}

	momentum, err := Momentum(history)
	if err != nil {
		return model.Signal{}, err
	}
	rsi, err := RSI(history, RSIPeriod)
	if err != nil {
		return model.Signal{}, err
	}
	macd, err := MACD(history)
	if err != nil {
		return model.Signal{}, err
	}
	volume, err := VolumeProxy(history)
	if err != nil {
		return model.Signal{}, err
	}

	confidence := baseConfidence
	action := model.SideSell

	if momentum.GreaterThan(e.cfg.MomentumThreshold) && rsi.LessThan(e.cfg.RSIOverbought) {
		confidence += 25
		action = model.SideBuy
	}
	if volume.GreaterThan(e.cfg.VolumeThreshold) {
		confidence += 15
	}
	if macd.IsPositive() {
		confidence += 10
	}
	if e.cfg.PriorityInstrument != "" && instrument == e.cfg.PriorityInstrument &&
		momentum.GreaterThan(e.cfg.PriorityMomentumThreshold) {
		confidence += 20
	}

	return model.Signal{
		Instrument:  instrument,
		Price:       history[len(history)-1],
		MomentumPct: momentum,
		RSI:         rsi,
		MACD:        macd,
		VolumeProxy: volume,
		Confidence:  clamp(confidence, 0, 100),
		Action:      action,
		CreatedAt:   e.now().UTC(),
	}, nil
}

// Actionable reports whether sig should be traded: a buy above the
// configured confidence.
func (e *Engine) Actionable(sig model.Signal) bool {
	return sig.Action == model.SideBuy && sig.Confidence > e.cfg.ActionableConfidence
}

// Momentum returns the percent change of the latest sample against the
// sample MomentumLookback positions from the end.
func Momentum(history []decimal.Decimal) (decimal.Decimal, error) {
	n := len(history)
	if n < MomentumLookback {
		return decimal.Zero, ErrInsufficientHistory
	}
	ref := history[n-MomentumLookback]
	if ref.IsZero() {
		return decimal.Zero, ErrZeroReference
	}
	return history[n-1].Sub(ref).Div(ref).Mul(hundred).Round(Scale), nil
}

// RSI computes the relative strength index over the last up-to-period
// deltas using simple averages. A zero average loss yields NeutralRSI.
func RSI(history []decimal.Decimal, period int) (decimal.Decimal, error) {
	n := len(history)
	if n < 2 || period <= 0 {
		return decimal.Zero, ErrInsufficientHistory
	}

	count := period
	if n-1 < count {
		count = n - 1
	}

	gains, losses := decimal.Zero, decimal.Zero
	for i := n - count; i < n; i++ {
		change := history[i].Sub(history[i-1])
		if change.IsPositive() {
			gains = gains.Add(change)
		} else {
			losses = losses.Sub(change)
		}
	}

	c := decimal.NewFromInt(int64(count))
	avgGain := gains.Div(c)
	avgLoss := losses.Div(c)
	if avgLoss.IsZero() {
		return NeutralRSI, nil
	}

	rs := avgGain.Div(avgLoss)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs))).Round(Scale), nil
}

// EMA computes the exponential moving average over the last period samples
// (all samples when fewer), oldest to newest.
func EMA(history []decimal.Decimal, period int) (decimal.Decimal, error) {
	if len(history) == 0 || period <= 0 {
		return decimal.Zero, ErrInsufficientHistory
	}

	window := history
	if len(window) > period {
		window = window[len(window)-period:]
	}

	k := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1)))
	oneMinusK := decimal.NewFromInt(1).Sub(k)

	ema := window[0]
	for _, p := range window[1:] {
		ema = p.Mul(k).Add(ema.Mul(oneMinusK))
	}
	return ema.Round(Scale), nil
}

// MACD returns EMA(12) - EMA(26).
func MACD(history []decimal.Decimal) (decimal.Decimal, error) {
	fast, err := EMA(history, FastEMAPeriod)
	if err != nil {
		return decimal.Zero, err
	}
	slow, err := EMA(history, SlowEMAPeriod)
	if err != nil {
		return decimal.Zero, err
	}
	return fast.Sub(slow), nil
}

// VolumeProxy returns the mean absolute percent change between consecutive
// samples. The price feed carries no traded volume, so activity is
// measured from price movement alone.
func VolumeProxy(history []decimal.Decimal) (decimal.Decimal, error) {
	if len(history) < 2 {
		return decimal.Zero, ErrInsufficientHistory
	}

	sum := decimal.Zero
	count := 0
	for i := 1; i < len(history); i++ {
		prev := history[i-1]
		if prev.IsZero() {
			continue
		}
		sum = sum.Add(history[i].Sub(prev).Abs().Div(prev).Mul(hundred))
		count++
	}
	if count == 0 {
		return decimal.Zero, ErrZeroReference
	}
	return sum.Div(decimal.NewFromInt(int64(count))).Round(Scale), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
