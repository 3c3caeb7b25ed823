package feed

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/atmx/trading-engine/internal/instrument"
)

// TickerClient lists public ticker prices. It wraps the Binance client so
// tests can substitute it.
type TickerClient interface {
	ListPrices(ctx context.Context, symbol string) ([]*binance.SymbolPrice, error)
}

type binanceTicker struct {
	client *binance.Client
}

func (t *binanceTicker) ListPrices(ctx context.Context, symbol string) ([]*binance.SymbolPrice, error) {
	return t.client.NewListPricesService().Symbol(symbol).Do(ctx)
}

// Binance reads spot prices from the public Binance ticker. It never
// authenticates and never trades.
type Binance struct {
	ticker TickerClient
}

// NewBinance creates a price source on the public API. baseURL overrides
// the default endpoint when non-empty (e.g. the US or testnet host).
func NewBinance(baseURL string) *Binance {
	client := binance.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &Binance{ticker: &binanceTicker{client: client}}
}

// NewBinanceWithTicker creates a price source on a custom ticker client.
func NewBinanceWithTicker(t TickerClient) *Binance {
	return &Binance{ticker: t}
}

func (b *Binance) GetPrice(ctx context.Context, raw string) (decimal.Decimal, error) {
	sym, err := instrument.Parse(raw)
	if err != nil {
		return decimal.Zero, err
	}
	symbol := sym.ExchangeSymbol()

	prices, err := b.ticker.ListPrices(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance ticker %s: %w", symbol, err)
	}
	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return decimal.Zero, fmt.Errorf("binance ticker %s: bad price %q: %w", symbol, p.Price, err)
		}
		return price, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
}
