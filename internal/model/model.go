// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"errors"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// ErrInvariant marks programmer errors: state transitions that must never
// happen if the engine is used correctly (closing a closed position, a
// ladder whose levels are not strictly increasing, ...).
var ErrInvariant = errors.New("model: invariant violation")

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType distinguishes resting grid orders from momentum market orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus is the lifecycle state of an order. Filled and Cancelled are terminal.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// PositionSide is the exposure direction of a position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Strategy names the path that produced an order, position or profit.
type Strategy string

const (
	StrategyGrid     Strategy = "GRID"
	StrategyMomentum Strategy = "MOMENTUM"
)

// GridLevel is one price rung of a ladder. A level holds at most one buy
// and one sell order reference; once Filled is set both references stay
// empty until the ladder is replaced.
type GridLevel struct {
	Index        int                     `json:"index"`
	Price        decimal.Decimal         `json:"price"`
	BuyOrderRef  optional.Option[string] `json:"buy_order_ref"`
	SellOrderRef optional.Option[string] `json:"sell_order_ref"`
	Filled       bool                    `json:"filled"`
}

// GridLadder is the fixed set of levels around a center price for one
// instrument. Levels are strictly increasing in price.
type GridLadder struct {
	ID              string          `json:"id" db:"id"`
	Instrument      string          `json:"instrument" db:"instrument"`
	Levels          []GridLevel     `json:"levels" db:"levels"`
	SpacingFraction decimal.Decimal `json:"spacing_fraction" db:"spacing_fraction"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Center returns the price of the middle level.
func (l *GridLadder) Center() decimal.Decimal {
	if len(l.Levels) == 0 {
		return decimal.Zero
	}
	return l.Levels[len(l.Levels)/2].Price
}

// Range returns the distance between the highest and lowest level.
func (l *GridLadder) Range() decimal.Decimal {
	if len(l.Levels) == 0 {
		return decimal.Zero
	}
	return l.Levels[len(l.Levels)-1].Price.Sub(l.Levels[0].Price)
}

// Clone returns a deep copy safe to hand outside the owning lock.
func (l *GridLadder) Clone() *GridLadder {
	if l == nil {
		return nil
	}
	c := *l
	c.Levels = make([]GridLevel, len(l.Levels))
	copy(c.Levels, l.Levels)
	return &c
}

// Signal is a scored trade suggestion. It is created fresh on each scoring
// pass and never mutated after being emitted.
type Signal struct {
	Instrument  string          `json:"instrument"`
	Price       decimal.Decimal `json:"price"`
	MomentumPct decimal.Decimal `json:"momentum_pct"`
	RSI         decimal.Decimal `json:"rsi"`
	MACD        decimal.Decimal `json:"macd"`
	VolumeProxy decimal.Decimal `json:"volume_proxy"`
	Confidence  int             `json:"confidence"`
	Action      Side            `json:"action"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Order is an instruction handed to the order sink.
type Order struct {
	ID          string               `json:"id" db:"id"`
	Instrument  string               `json:"instrument" db:"instrument"`
	Side        Side                 `json:"side" db:"side"`
	Type        OrderType            `json:"type" db:"type"`
	Quantity    decimal.Decimal      `json:"quantity" db:"quantity"`
	Price       decimal.Decimal      `json:"price" db:"price"`
	Status      OrderStatus          `json:"status" db:"status"`
	Strategy    Strategy             `json:"strategy" db:"strategy"`
	LadderID    string               `json:"ladder_id,omitempty" db:"ladder_id"`
	SourceLevel optional.Option[int] `json:"source_level" db:"source_level"`
	CreatedAt   time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at" db:"updated_at"`
}

// Position is the exposure opened by a filled order.
type Position struct {
	ID         string          `json:"id" db:"id"`
	OrderID    string          `json:"order_id" db:"order_id"`
	Instrument string          `json:"instrument" db:"instrument"`
	Side       PositionSide    `json:"side" db:"side"`
	Strategy   Strategy        `json:"strategy" db:"strategy"`
	EntryPrice decimal.Decimal `json:"entry_price" db:"entry_price"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	StopLoss   decimal.Decimal `json:"stop_loss" db:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit" db:"take_profit"`
	Status     PositionStatus  `json:"status" db:"status"`
	ExitPrice  decimal.Decimal `json:"exit_price" db:"exit_price"`
	OpenedAt   time.Time       `json:"opened_at" db:"opened_at"`
	ClosedAt   time.Time       `json:"closed_at,omitempty" db:"closed_at"`
}

// Notional returns entry price times quantity.
func (p *Position) Notional() decimal.Decimal {
	return p.EntryPrice.Mul(p.Quantity)
}

// RealizedProfitEvent is produced exactly once when a position closes.
// USDAmount is signed: losses are negative.
type RealizedProfitEvent struct {
	ID             string          `json:"id" db:"id"`
	PositionID     string          `json:"position_id" db:"position_id"`
	Instrument     string          `json:"instrument" db:"instrument"`
	USDAmount      decimal.Decimal `json:"usd_amount" db:"usd_amount"`
	SourceStrategy Strategy        `json:"source_strategy" db:"source_strategy"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
}
