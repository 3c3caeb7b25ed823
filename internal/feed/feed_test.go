package feed

import (
	"context"
	"errors"
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/trading-engine/internal/engine"
	"github.com/atmx/trading-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestSimulated_WalkStaysWithinVolatility(t *testing.T) {
	sim := NewSimulated(map[string]decimal.Decimal{"XRP-USD": d(0.62)}, 0.01, 1)
	ctx := context.Background()

	prev := d(0.62)
	for i := 0; i < 500; i++ {
		p, err := sim.GetPrice(ctx, "XRP-USD")
		require.NoError(t, err)
		require.True(t, p.IsPositive())
		change := p.Sub(prev).Abs().Div(prev)
		assert.True(t, change.LessThanOrEqual(d(0.0101)), "step %d moved %s", i, change)
		prev = p
	}
}

func TestSimulated_SameSeedSameWalk(t *testing.T) {
	start := map[string]decimal.Decimal{"X-USD": d(100)}
	a := NewSimulated(start, 0.02, 7)
	b := NewSimulated(start, 0.02, 7)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		pa, _ := a.GetPrice(ctx, "X-USD")
		pb, _ := b.GetPrice(ctx, "X-USD")
		assert.True(t, pa.Equal(pb))
	}
}

func TestSimulated_Errors(t *testing.T) {
	sim := NewSimulated(nil, 0.01, 1)
	_, err := sim.GetPrice(context.Background(), "NOPE-USD")
	assert.ErrorIs(t, err, ErrUnknownInstrument)

	sim.Set("XRP-USD", d(1))
	sim.WithFailRate(1)
	_, err = sim.GetPrice(context.Background(), "XRP-USD")
	assert.ErrorIs(t, err, ErrFeedDown)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sim.GetPrice(ctx, "XRP-USD")
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeTicker struct {
	symbol string
	prices []*binance.SymbolPrice
	err    error
}

func (f *fakeTicker) ListPrices(_ context.Context, symbol string) ([]*binance.SymbolPrice, error) {
	f.symbol = symbol
	return f.prices, f.err
}

func TestBinance_GetPrice(t *testing.T) {
	ticker := &fakeTicker{prices: []*binance.SymbolPrice{{Symbol: "XRPUSDT", Price: "0.61620000"}}}
	src := NewBinanceWithTicker(ticker)

	p, err := src.GetPrice(context.Background(), "xrp-usd")
	require.NoError(t, err)
	assert.Equal(t, "XRPUSDT", ticker.symbol, "USD pairs are read from the USDT market")
	assert.True(t, p.Equal(d(0.6162)))
}

func TestBinance_Errors(t *testing.T) {
	_, err := NewBinanceWithTicker(&fakeTicker{}).GetPrice(context.Background(), "not a symbol")
	assert.Error(t, err)

	_, err = NewBinanceWithTicker(&fakeTicker{}).GetPrice(context.Background(), "XRP-USDC")
	assert.ErrorIs(t, err, ErrUnknownInstrument)

	down := errors.New("503")
	_, err = NewBinanceWithTicker(&fakeTicker{err: down}).GetPrice(context.Background(), "XRP-USD")
	assert.ErrorIs(t, err, down)

	bad := &fakeTicker{prices: []*binance.SymbolPrice{{Symbol: "XRPUSDT", Price: "n/a"}}}
	_, err = NewBinanceWithTicker(bad).GetPrice(context.Background(), "XRP-USD")
	assert.Error(t, err)
}

func TestPaperSink_Lifecycle(t *testing.T) {
	sink := NewPaperSink(0, 1)
	ctx := context.Background()
	req := engine.OrderRequest{Instrument: "XRP-USD", Side: model.SideBuy, Type: model.OrderTypeLimit, Quantity: d(10), Price: d(0.6)}

	id, err := sink.PlaceOrder(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, sink.MarkFilled(ctx, id))
	assert.ErrorIs(t, sink.MarkFilled(ctx, id), ErrNotOpen)
	assert.ErrorIs(t, sink.CancelOrder(ctx, id), ErrNotOpen)

	o, ok := sink.Order(id)
	require.True(t, ok)
	assert.Equal(t, model.OrderStatusFilled, o.Status)

	other, err := sink.PlaceOrder(ctx, req)
	require.NoError(t, err)
	require.NoError(t, sink.CancelOrder(ctx, other))
	assert.Equal(t, map[model.OrderStatus]int{model.OrderStatusFilled: 1, model.OrderStatusCancelled: 1}, sink.Counts())

	assert.ErrorIs(t, sink.MarkFilled(ctx, "missing"), ErrOrderNotFound)
}

func TestPaperSink_Rejections(t *testing.T) {
	ctx := context.Background()

	_, err := NewPaperSink(0, 1).PlaceOrder(ctx, engine.OrderRequest{Quantity: decimal.Zero, Price: d(1)})
	assert.ErrorIs(t, err, ErrRejected)

	_, err = NewPaperSink(1, 1).PlaceOrder(ctx, engine.OrderRequest{Quantity: d(1), Price: d(1)})
	assert.ErrorIs(t, err, ErrRejected)
}
