// Package instrument handles trading symbol parsing and validation.
// Symbols are written BASE-QUOTE, e.g. XRP-USD or BTC-USDT.
package instrument

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Supported quote currencies.
const (
	QuoteUSD  = "USD"
	QuoteUSDT = "USDT"
	QuoteUSDC = "USDC"
)

var validQuotes = map[string]bool{
	QuoteUSD:  true,
	QuoteUSDT: true,
	QuoteUSDC: true,
}

// symbolRegex matches: {BASE}-{QUOTE}
// Example: XRP-USD
var symbolRegex = regexp.MustCompile(`^([A-Z0-9]{2,10})-([A-Z]{3,5})$`)

var (
	ErrInvalidSymbol = errors.New("instrument: invalid symbol format")
	ErrInvalidQuote  = errors.New("instrument: unsupported quote currency")
)

// Symbol is a parsed trading pair.
type Symbol struct {
	Raw   string `json:"symbol"`
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// Parse parses and validates a symbol string. Lowercase input is accepted.
func Parse(raw string) (*Symbol, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	matches := symbolRegex.FindStringSubmatch(s)
	if matches == nil {
		return nil, fmt.Errorf("%w: %q (expected BASE-QUOTE)", ErrInvalidSymbol, raw)
	}
	if !validQuotes[matches[2]] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuote, matches[2])
	}
	return &Symbol{Raw: s, Base: matches[1], Quote: matches[2]}, nil
}

// String returns the normalized BASE-QUOTE form.
func (s *Symbol) String() string { return s.Raw }

// ExchangeSymbol returns the concatenated exchange form. USD-quoted pairs
// are routed to their USDT market, which is where public spot liquidity is.
func (s *Symbol) ExchangeSymbol() string {
	quote := s.Quote
	if quote == QuoteUSD {
		quote = QuoteUSDT
	}
	return s.Base + quote
}

// BaseOf returns the base asset of raw, or raw itself when it does not
// parse. Used for correlation grouping where an unparseable symbol simply
// forms its own group.
func BaseOf(raw string) string {
	s, err := Parse(raw)
	if err != nil {
		return raw
	}
	return s.Base
}
