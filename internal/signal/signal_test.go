package signal

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/trading-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func series(fs ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(fs))
	for i, f := range fs {
		out[i] = d(f)
	}
	return out
}

func randomWalk(rng *rand.Rand, n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	price := 1.0
	for i := range out {
		price *= 1 + (rng.Float64()-0.5)*0.04
		out[i] = decimal.NewFromFloat(price).Round(6)
	}
	return out
}

// --- Scoring scenarios ---

func TestScore_RisingSeriesIsActionableBuy(t *testing.T) {
	eng := NewEngine(DefaultConfig())

	sig, err := eng.Score("X", series(0.60, 0.605, 0.61, 0.615, 0.62))
	require.NoError(t, err)

	assert.InDelta(t, 3.28, sig.MomentumPct.InexactFloat64(), 0.1)
	assert.True(t, sig.RSI.LessThan(d(70)), "rsi should be below overbought, got %s", sig.RSI)
	assert.GreaterOrEqual(t, sig.Confidence, 75)
	assert.Equal(t, model.SideBuy, sig.Action)
	assert.True(t, eng.Actionable(sig))
	assert.True(t, sig.Price.Equal(d(0.62)))
}

func TestScore_InsufficientHistory(t *testing.T) {
	eng := NewEngine(DefaultConfig())

	for n := 0; n < MinSamples; n++ {
		_, err := eng.Score("X", randomWalk(rand.New(rand.NewSource(1)), n))
		assert.True(t, errors.Is(err, ErrInsufficientHistory), "n=%d: expected ErrInsufficientHistory, got %v", n, err)
	}
}

func TestScore_FlatSeriesIsNotActionable(t *testing.T) {
	eng := NewEngine(DefaultConfig())

	sig, err := eng.Score("X", series(1, 1, 1, 1, 1, 1))
	require.NoError(t, err)

	assert.True(t, sig.MomentumPct.IsZero())
	assert.True(t, sig.RSI.Equal(NeutralRSI))
	assert.Equal(t, 50, sig.Confidence)
	assert.Equal(t, model.SideSell, sig.Action)
	assert.False(t, eng.Actionable(sig))
}

func TestScore_PriorityInstrumentBonus(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PriorityInstrument = "XRP-USD"
	eng := NewEngine(cfg)
	h := series(1.00, 1.005, 1.01, 1.02, 1.025)

	priority, err := eng.Score("XRP-USD", h)
	require.NoError(t, err)
	other, err := eng.Score("ADA-USD", h)
	require.NoError(t, err)

	assert.Equal(t, other.Confidence+20, priority.Confidence)
	// Momentum of 2.5% clears the priority bar but not the buy bar.
	assert.Equal(t, model.SideSell, priority.Action)
}

func TestScore_ConfidenceClamped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PriorityInstrument = "X"
	eng := NewEngine(cfg)

	sig, err := eng.Score("X", series(1, 1.1, 1.2, 1.3, 1.4))
	require.NoError(t, err)
	assert.Equal(t, 100, sig.Confidence)
}

func TestActionable_RequiresConfidenceAboveThreshold(t *testing.T) {
	eng := NewEngine(DefaultConfig())

	assert.False(t, eng.Actionable(model.Signal{Action: model.SideBuy, Confidence: 75}))
	assert.True(t, eng.Actionable(model.Signal{Action: model.SideBuy, Confidence: 76}))
	assert.False(t, eng.Actionable(model.Signal{Action: model.SideSell, Confidence: 100}))
}

// --- Indicators ---

func TestMomentum_SignConsistency(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		h := randomWalk(rng, 5+rng.Intn(16))
		m, err := Momentum(h)
		require.NoError(t, err)

		latest, ref := h[len(h)-1], h[len(h)-5]
		switch {
		case latest.GreaterThan(ref):
			assert.True(t, m.IsPositive(), "latest > ref but momentum=%s", m)
		case latest.LessThan(ref):
			assert.True(t, m.IsNegative(), "latest < ref but momentum=%s", m)
		default:
			assert.True(t, m.IsZero())
		}
	}
}

func TestMomentum_ZeroReference(t *testing.T) {
	_, err := Momentum(series(0, 1, 1, 1, 1))
	assert.ErrorIs(t, err, ErrZeroReference)
}

func TestRSI_Bounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		h := randomWalk(rng, 2+rng.Intn(30))
		rsi, err := RSI(h, RSIPeriod)
		require.NoError(t, err)
		assert.True(t, rsi.GreaterThanOrEqual(decimal.Zero) && rsi.LessThanOrEqual(d(100)),
			"rsi out of bounds: %s", rsi)
	}
}

func TestRSI_KnownValues(t *testing.T) {
	falling, err := RSI(series(5, 4, 3, 2, 1), RSIPeriod)
	require.NoError(t, err)
	assert.True(t, falling.IsZero(), "all-loss history should give 0, got %s", falling)

	balanced, err := RSI(series(1, 2, 1, 2, 1), RSIPeriod)
	require.NoError(t, err)
	assert.True(t, balanced.Equal(d(50)), "equal gains and losses should give 50, got %s", balanced)

	rising, err := RSI(series(1, 2, 3, 4, 5), RSIPeriod)
	require.NoError(t, err)
	assert.True(t, rising.Equal(NeutralRSI), "zero average loss falls back to neutral, got %s", rising)
}

func TestRSI_UsesOnlyLastPeriodDeltas(t *testing.T) {
	// A big early loss outside the 2-delta window must not count.
	rsi, err := RSI(series(10, 1, 2, 3), 2)
	require.NoError(t, err)
	assert.True(t, rsi.Equal(NeutralRSI), "got %s", rsi)
}

func TestEMA_HandComputed(t *testing.T) {
	// window [2,3], k = 2/3: 3*2/3 + 2*1/3 = 2.6667
	ema, err := EMA(series(1, 2, 3), 2)
	require.NoError(t, err)
	assert.InDelta(t, 2.6666667, ema.InexactFloat64(), 1e-6)

	single, err := EMA(series(4.2), 12)
	require.NoError(t, err)
	assert.True(t, single.Equal(d(4.2)))

	_, err = EMA(nil, 12)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestMACD_SignFollowsTrend(t *testing.T) {
	up, err := MACD(series(1, 1.1, 1.2, 1.3, 1.4, 1.5))
	require.NoError(t, err)
	assert.True(t, up.IsPositive(), "uptrend should give positive MACD, got %s", up)

	down, err := MACD(series(1.5, 1.4, 1.3, 1.2, 1.1, 1))
	require.NoError(t, err)
	assert.True(t, down.IsNegative(), "downtrend should give negative MACD, got %s", down)
}

func TestVolumeProxy(t *testing.T) {
	v, err := VolumeProxy(series(100, 101, 100))
	require.NoError(t, err)
	// (1% + 0.990099%) / 2
	assert.InDelta(t, 0.995, v.InexactFloat64(), 0.001)

	_, err = VolumeProxy(series(1))
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}
