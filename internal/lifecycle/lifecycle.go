// Package lifecycle tracks orders and the positions they open, from
// placement through fill to close, and turns closed positions into
// realized-profit events.
//
// A Book holds the orders and positions of one instrument. Books carry no
// lock of their own: the engine serializes all access to an instrument's
// book behind that instrument's lock.
package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/atmx/trading-engine/internal/model"
)

var (
	ErrOrderNotFound    = errors.New("lifecycle: order not found")
	ErrPositionNotFound = errors.New("lifecycle: position not found")
	ErrDuplicateOrder   = errors.New("lifecycle: order already recorded")
	ErrInvalidPrice     = errors.New("lifecycle: price must be positive")
	ErrInvalidQuantity  = errors.New("lifecycle: quantity must be positive")

	// ErrOrderNotPending is returned when a fill or cancel targets an order
	// in a terminal state.
	ErrOrderNotPending = fmt.Errorf("%w: order is not pending", model.ErrInvariant)

	// ErrPositionClosed is returned when closing a position twice. No
	// profit event is emitted for the second close.
	ErrPositionClosed = fmt.Errorf("%w: position already closed", model.ErrInvariant)
)

// Exit holds the stop-loss and take-profit distances for a strategy as
// fractions of the entry price.
type Exit struct {
	StopLoss   decimal.Decimal `yaml:"stop_loss" validate:"gt=0,lt=1"`
	TakeProfit decimal.Decimal `yaml:"take_profit" validate:"gt=0,lt=1"`
}

// Config maps each strategy to its exit distances.
type Config struct {
	Grid     Exit `yaml:"grid"`
	Momentum Exit `yaml:"momentum"`
}

// DefaultConfig returns 8% stop / 3% target for grid positions and
// 3% stop / 8% target for momentum positions.
func DefaultConfig() Config {
	return Config{
		Grid: Exit{
			StopLoss:   decimal.NewFromFloat(0.08),
			TakeProfit: decimal.NewFromFloat(0.03),
		},
		Momentum: Exit{
			StopLoss:   decimal.NewFromFloat(0.03),
			TakeProfit: decimal.NewFromFloat(0.08),
		},
	}
}

func (c Config) exitFor(s model.Strategy) Exit {
	if s == model.StrategyMomentum {
		return c.Momentum
	}
	return c.Grid
}

// Book is the order and position ledger for one instrument.
type Book struct {
	Instrument string
	orders     map[string]*model.Order
	positions  map[string]*model.Position
}

// NewBook creates an empty book.
func NewBook(instrument string) *Book {
	return &Book{
		Instrument: instrument,
		orders:     make(map[string]*model.Order),
		positions:  make(map[string]*model.Position),
	}
}

// Order returns a copy of the order with the given id.
func (b *Book) Order(id string) (*model.Order, bool) {
	o, ok := b.orders[id]
	if !ok {
		return nil, false
	}
	cp := *o
	return &cp, true
}

// Position returns a copy of the position with the given id.
func (b *Book) Position(id string) (*model.Position, bool) {
	p, ok := b.positions[id]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// PendingOrders returns copies of every pending order, oldest first.
func (b *Book) PendingOrders() []*model.Order {
	var out []*model.Order
	for _, o := range b.orders {
		if o.Status == model.OrderStatusPending {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// OpenPositions returns copies of every open position, oldest first.
func (b *Book) OpenPositions() []*model.Position {
	var out []*model.Position
	for _, p := range b.positions {
		if p.Status == model.PositionOpen {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// OpenNotional returns the summed entry notional of open positions.
func (b *Book) OpenNotional() decimal.Decimal {
	total := decimal.Zero
	for _, p := range b.positions {
		if p.Status == model.PositionOpen {
			total = total.Add(p.Notional())
		}
	}
	return total
}

// Manager applies lifecycle transitions to books.
type Manager struct {
	cfg Config
	now func() time.Time
}

// NewManager creates a lifecycle manager with the given exit distances.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, now: time.Now}
}

// NewOrder builds a pending order. It is not recorded until Record is called.
func (m *Manager) NewOrder(id, instrument string, side model.Side, typ model.OrderType,
	strategy model.Strategy, quantity, price decimal.Decimal) *model.Order {
	now := m.now().UTC()
	return &model.Order{
		ID:          id,
		Instrument:  instrument,
		Side:        side,
		Type:        typ,
		Quantity:    quantity,
		Price:       price,
		Status:      model.OrderStatusPending,
		Strategy:    strategy,
		SourceLevel: optional.None[int](),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Record adds a pending order to the book.
func (m *Manager) Record(b *Book, o *model.Order) error {
	if _, exists := b.orders[o.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, o.ID)
	}
	if !o.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	cp := *o
	cp.Status = model.OrderStatusPending
	b.orders[o.ID] = &cp
	return nil
}

// OnFill transitions a pending order to filled and opens a position at
// fillPrice: a buy opens a long, a sell opens a short. Stop-loss and
// take-profit are derived from the order's strategy.
func (m *Manager) OnFill(b *Book, orderID string, fillPrice decimal.Decimal) (*model.Position, error) {
	if !fillPrice.IsPositive() {
		return nil, ErrInvalidPrice
	}
	o, ok := b.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if o.Status != model.OrderStatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrOrderNotPending, orderID, o.Status)
	}

	now := m.now().UTC()
	o.Status = model.OrderStatusFilled
	o.Price = fillPrice
	o.UpdatedAt = now

	exit := m.cfg.exitFor(o.Strategy)
	one := decimal.NewFromInt(1)

	pos := &model.Position{
		ID:         uuid.New().String(),
		OrderID:    o.ID,
		Instrument: o.Instrument,
		Strategy:   o.Strategy,
		EntryPrice: fillPrice,
		Quantity:   o.Quantity,
		Status:     model.PositionOpen,
		OpenedAt:   now,
	}
	if o.Side == model.SideBuy {
		pos.Side = model.PositionLong
		pos.StopLoss = fillPrice.Mul(one.Sub(exit.StopLoss))
		pos.TakeProfit = fillPrice.Mul(one.Add(exit.TakeProfit))
	} else {
		pos.Side = model.PositionShort
		pos.StopLoss = fillPrice.Mul(one.Add(exit.StopLoss))
		pos.TakeProfit = fillPrice.Mul(one.Sub(exit.TakeProfit))
	}

	b.positions[pos.ID] = pos
	cp := *pos
	return &cp, nil
}

// Cancel transitions a pending order to cancelled.
func (m *Manager) Cancel(b *Book, orderID string) error {
	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if o.Status != model.OrderStatusPending {
		return fmt.Errorf("%w: %s is %s", ErrOrderNotPending, orderID, o.Status)
	}
	o.Status = model.OrderStatusCancelled
	o.UpdatedAt = m.now().UTC()
	return nil
}

// OnClose closes an open position at exitPrice and returns the realized
// profit: (exit - entry) * qty for longs, (entry - exit) * qty for shorts.
func (m *Manager) OnClose(b *Book, positionID string, exitPrice decimal.Decimal) (model.RealizedProfitEvent, error) {
	if !exitPrice.IsPositive() {
		return model.RealizedProfitEvent{}, ErrInvalidPrice
	}
	p, ok := b.positions[positionID]
	if !ok {
		return model.RealizedProfitEvent{}, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	if p.Status == model.PositionClosed {
		return model.RealizedProfitEvent{}, fmt.Errorf("%w: %s", ErrPositionClosed, positionID)
	}

	pnl := exitPrice.Sub(p.EntryPrice).Mul(p.Quantity)
	if p.Side == model.PositionShort {
		pnl = pnl.Neg()
	}

	now := m.now().UTC()
	p.Status = model.PositionClosed
	p.ExitPrice = exitPrice
	p.ClosedAt = now

	return model.RealizedProfitEvent{
		ID:             uuid.New().String(),
		PositionID:     p.ID,
		Instrument:     p.Instrument,
		USDAmount:      pnl,
		SourceStrategy: p.Strategy,
		Timestamp:      now,
	}, nil
}

// Crossed reports whether price has reached the position's stop-loss or
// take-profit.
func Crossed(p *model.Position, price decimal.Decimal) bool {
	if p.Side == model.PositionShort {
		return price.GreaterThanOrEqual(p.StopLoss) || price.LessThanOrEqual(p.TakeProfit)
	}
	return price.LessThanOrEqual(p.StopLoss) || price.GreaterThanOrEqual(p.TakeProfit)
}

// Sweep closes every open position whose exit levels price has crossed and
// returns one profit event per closed position, oldest position first.
func (m *Manager) Sweep(b *Book, price decimal.Decimal) ([]model.RealizedProfitEvent, error) {
	var events []model.RealizedProfitEvent
	for _, p := range b.OpenPositions() {
		if !Crossed(p, price) {
			continue
		}
		ev, err := m.OnClose(b, p.ID, price)
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// Restore loads previously persisted pending orders and open positions into
// an empty book. Records in any other state are ignored.
func (b *Book) Restore(orders []model.Order, positions []model.Position) {
	for i := range orders {
		if orders[i].Status != model.OrderStatusPending {
			continue
		}
		o := orders[i]
		b.orders[o.ID] = &o
	}
	for i := range positions {
		if positions[i].Status != model.PositionOpen {
			continue
		}
		p := positions[i]
		b.positions[p.ID] = &p
	}
}
