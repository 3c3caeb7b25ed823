// Package engine owns the per-instrument trading state and runs the grid,
// momentum and profit-sweep passes over it.
//
// Each active instrument has one state container guarded by its own mutex.
// Every pass follows the same shape: read inputs without the lock, decide
// under the lock, talk to the order sink without the lock, then re-acquire
// the lock to apply the outcome with re-validation. Persistence happens
// after the final unlock, in the order the passes applied their outcome;
// events are published last.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/atmx/trading-engine/internal/grid"
	"github.com/atmx/trading-engine/internal/history"
	"github.com/atmx/trading-engine/internal/instrument"
	"github.com/atmx/trading-engine/internal/lifecycle"
	"github.com/atmx/trading-engine/internal/metrics"
	"github.com/atmx/trading-engine/internal/model"
	"github.com/atmx/trading-engine/internal/risk"
	"github.com/atmx/trading-engine/internal/signal"
	"github.com/atmx/trading-engine/internal/store"
)

var (
	ErrNotActive        = errors.New("engine: instrument is not active")
	ErrAlreadyActive    = errors.New("engine: instrument is already active")
	ErrPriceUnavailable = errors.New("engine: price unavailable")
	ErrOrderRejected    = errors.New("engine: order rejected by sink")
	ErrPersist          = errors.New("engine: persistence failed")
)

// PriceSource supplies the current price of an instrument. It may fail or
// time out; the engine then skips the tick.
type PriceSource interface {
	GetPrice(ctx context.Context, instrument string) (decimal.Decimal, error)
}

// OrderRequest is what the engine asks the order sink to place.
type OrderRequest struct {
	Instrument string
	Side       model.Side
	Type       model.OrderType
	Quantity   decimal.Decimal
	Price      decimal.Decimal
}

// OrderSink executes orders. Fills are never assumed synchronous: grid
// fills are observed by the tick-driven fill check and confirmed with
// MarkFilled.
type OrderSink interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	MarkFilled(ctx context.Context, orderID string) error
}

// Canceller is implemented by sinks that can withdraw resting orders.
// Sinks without it simply let discarded orders lapse.
type Canceller interface {
	CancelOrder(ctx context.Context, orderID string) error
}

// Payouts receives realized-profit events. It reports whether a withdrawal
// was requested.
type Payouts interface {
	Forward(ctx context.Context, ev model.RealizedProfitEvent) bool
}

// Config holds engine-wide settings.
type Config struct {
	// HistoryCapacity is the per-instrument price history length.
	HistoryCapacity int `yaml:"history_capacity" validate:"min=5"`
	// MomentumNotional is the quote-currency size of a momentum buy.
	MomentumNotional decimal.Decimal `yaml:"momentum_notional" validate:"gt=0"`
	// DevMode turns invariant violations into panics.
	DevMode bool `yaml:"-"`
}

// DefaultConfig returns a 20-sample history and $25 momentum orders.
func DefaultConfig() Config {
	return Config{
		HistoryCapacity:  history.DefaultCapacity,
		MomentumNotional: decimal.NewFromInt(25),
	}
}

// Deps are the engine's collaborators. Risk may be nil to disable
// exposure checks; Store defaults to an in-memory store.
type Deps struct {
	Prices    PriceSource
	Orders    OrderSink
	Payouts   Payouts
	Store     store.Store
	Grid      *grid.Manager
	Signals   *signal.Engine
	Lifecycle *lifecycle.Manager
	Risk      *risk.Limiter
	Log       zerolog.Logger
}

type state struct {
	mu sync.Mutex
	// persist orders batch writes. It is taken before mu is released, so
	// batches reach the store in the order they were decided.
	persist sync.Mutex
	name    string
	active  bool
	history *history.Buffer
	ladder  *model.GridLadder
	book    *lifecycle.Book
}

// handoff releases mu while holding persist. The caller must flush.
func (st *state) handoff() {
	st.persist.Lock()
	st.mu.Unlock()
}

func isPending(book *lifecycle.Book, orderID string) bool {
	o, ok := book.Order(orderID)
	return ok && o.Status == model.OrderStatusPending
}

// Engine is the per-instrument state container and tick executor. It is
// safe for concurrent use; ticks on one instrument are serialized, ticks on
// different instruments run in parallel.
type Engine struct {
	cfg       Config
	prices    PriceSource
	orders    OrderSink
	payouts   Payouts
	store     store.Store
	grid      *grid.Manager
	signals   *signal.Engine
	lifecycle *lifecycle.Manager
	risk      *risk.Limiter
	log       zerolog.Logger

	mu     sync.RWMutex
	states map[string]*state

	lmu       sync.RWMutex
	listeners []func(Event)
}

// New creates an engine.
func New(cfg Config, deps Deps) *Engine {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = history.DefaultCapacity
	}
	st := deps.Store
	if st == nil {
		st = store.NewMemoryStore()
	}
	return &Engine{
		cfg:       cfg,
		prices:    deps.Prices,
		orders:    deps.Orders,
		payouts:   deps.Payouts,
		store:     st,
		grid:      deps.Grid,
		signals:   deps.Signals,
		lifecycle: deps.Lifecycle,
		risk:      deps.Risk,
		log:       deps.Log.With().Str("component", "engine").Logger(),
		states:    make(map[string]*state),
	}
}

// OnEvent registers a listener called after every applied transition.
// Listeners run on the tick goroutine and must not block.
func (e *Engine) OnEvent(fn func(Event)) {
	e.lmu.Lock()
	defer e.lmu.Unlock()
	e.listeners = append(e.listeners, fn)
}

func (e *Engine) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	e.lmu.RLock()
	listeners := e.listeners
	e.lmu.RUnlock()
	for _, ev := range events {
		for _, fn := range listeners {
			fn(ev)
		}
	}
}

// --- Activation ---

// Activate starts tracking an instrument. Any ladder, pending orders and
// open positions persisted for it are restored; restore failures are
// logged and the instrument starts fresh.
func (e *Engine) Activate(ctx context.Context, raw string) (string, error) {
	sym, err := instrument.Parse(raw)
	if err != nil {
		return "", err
	}
	name := sym.String()

	e.mu.Lock()
	if _, ok := e.states[name]; ok {
		e.mu.Unlock()
		return name, ErrAlreadyActive
	}
	st := &state{
		name:    name,
		active:  true,
		history: history.NewBuffer(e.cfg.HistoryCapacity),
		book:    lifecycle.NewBook(name),
	}
	e.states[name] = st
	count := len(e.states)
	e.mu.Unlock()

	metrics.ActiveInstruments.Set(float64(count))
	e.restore(ctx, st)
	e.log.Info().Str("instrument", name).Msg("instrument activated")
	return name, nil
}

func (e *Engine) restore(ctx context.Context, st *state) {
	log := e.log.With().Str("instrument", st.name).Logger()

	ladder, err := e.store.GetLadder(ctx, st.name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn().Err(err).Msg("ladder restore failed")
	}
	if ladder != nil {
		if err := grid.Validate(ladder); err != nil {
			log.Warn().Err(err).Msg("discarding persisted ladder")
			ladder = nil
		}
	}
	orders, err := e.store.ListOrders(ctx, st.name)
	if err != nil {
		log.Warn().Err(err).Msg("order restore failed")
	}
	positions, err := e.store.ListPositions(ctx, st.name)
	if err != nil {
		log.Warn().Err(err).Msg("position restore failed")
	}

	var b batch
	st.mu.Lock()
	st.book.Restore(orders, positions)
	if ladder != nil {
		// References to orders that were never saved or are no longer
		// pending would block their level.
		live := func(id string) bool { return isPending(st.book, id) }
		if pruned := grid.PruneRefs(ladder, live); len(pruned) > 0 {
			log.Warn().Strs("orders", pruned).Msg("dropped dead ladder references")
			b.ladder = ladder.Clone()
		}
	}
	st.ladder = ladder
	open := len(st.book.OpenPositions())
	metrics.OpenPositions.WithLabelValues(st.name).Set(float64(open))
	st.handoff()

	if ladder != nil || open > 0 {
		log.Info().Bool("ladder", ladder != nil).Int("open_positions", open).Msg("state restored")
	}
	_ = e.flush(ctx, st, &b)
}

// Deactivate stops tracking an instrument: its ladder is destroyed and
// every pending order is cancelled. Open positions stay persisted and are
// restored on the next activation.
func (e *Engine) Deactivate(ctx context.Context, raw string) error {
	name := normalize(raw)

	e.mu.Lock()
	st, ok := e.states[name]
	if ok {
		delete(e.states, name)
	}
	count := len(e.states)
	e.mu.Unlock()
	if !ok {
		return ErrNotActive
	}
	metrics.ActiveInstruments.Set(float64(count))

	var b batch
	st.mu.Lock()
	st.active = false
	st.ladder = nil
	for _, o := range st.book.PendingOrders() {
		if err := e.lifecycle.Cancel(st.book, o.ID); err != nil {
			e.invariant(st.name, err)
			continue
		}
		b.cancel = append(b.cancel, o.ID)
		b.addOrder(st.book, o.ID)
		b.events = append(b.events, orderEvent(EventOrderCancelled, o))
	}
	b.dropLadder = true
	st.handoff()

	b.events = append(b.events, Event{Type: EventDeactivated, Instrument: name})
	e.log.Info().Str("instrument", name).Int("cancelled", len(b.cancel)).Msg("instrument deactivated")
	return e.flush(ctx, st, &b)
}

// Instruments returns the active instruments, sorted.
func (e *Engine) Instruments() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.states))
	for name := range e.states {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) state(raw string) (*state, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.states[normalize(raw)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotActive, raw)
	}
	return st, nil
}

func normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// --- Price history ---

// Record appends a price sample to the instrument's history.
func (e *Engine) Record(raw string, price decimal.Decimal) error {
	st, err := e.state(raw)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.history.Record(price)
	return nil
}

// Snapshot returns a copy of the instrument's price history, oldest first.
func (e *Engine) Snapshot(raw string) ([]decimal.Decimal, error) {
	st, err := e.state(raw)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.history.Snapshot(), nil
}

// --- Read side ---

// Ladder returns a copy of the instrument's current ladder, or nil before
// the first grid tick.
func (e *Engine) Ladder(raw string) (*model.GridLadder, error) {
	st, err := e.state(raw)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.ladder.Clone(), nil
}

// OpenPositions returns copies of the instrument's open positions.
func (e *Engine) OpenPositions(raw string) ([]*model.Position, error) {
	st, err := e.state(raw)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.book.OpenPositions(), nil
}

// PendingOrders returns copies of the instrument's pending orders.
func (e *Engine) PendingOrders(raw string) ([]*model.Order, error) {
	st, err := e.state(raw)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.book.PendingOrders(), nil
}

// Store returns the engine's persistence layer for read-side queries.
func (e *Engine) Store() store.Store { return e.store }

// exposures returns the open notional of every active instrument. Each
// state is locked on its own; callers must not hold any instrument lock.
func (e *Engine) exposures() map[string]decimal.Decimal {
	e.mu.RLock()
	states := make([]*state, 0, len(e.states))
	for _, st := range e.states {
		states = append(states, st)
	}
	e.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(states))
	for _, st := range states {
		st.mu.Lock()
		out[st.name] = st.book.OpenNotional()
		st.mu.Unlock()
	}
	return out
}

// invariant handles an error that may be an invariant violation: it panics
// in dev mode and is logged and counted otherwise. Other errors are logged
// at warn level.
func (e *Engine) invariant(instrument string, err error) {
	if errors.Is(err, model.ErrInvariant) {
		if e.cfg.DevMode {
			panic(fmt.Sprintf("%s: %v", instrument, err))
		}
		metrics.InvariantViolations.Inc()
		e.log.Error().Err(err).Str("instrument", instrument).Msg("invariant violation skipped")
		return
	}
	e.log.Warn().Err(err).Str("instrument", instrument).Msg("transition skipped")
}
