package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/trading-engine/internal/lifecycle"
	"github.com/atmx/trading-engine/internal/metrics"
	"github.com/atmx/trading-engine/internal/model"
)

// EventType names an applied state transition.
type EventType string

const (
	EventLadderInitialized EventType = "ladder_initialized"
	EventLadderRebalanced  EventType = "ladder_rebalanced"
	EventOrderPlaced       EventType = "order_placed"
	EventOrderFilled       EventType = "order_filled"
	EventOrderCancelled    EventType = "order_cancelled"
	EventSignal            EventType = "signal"
	EventPositionClosed    EventType = "position_closed"
	EventDeactivated       EventType = "instrument_deactivated"
)

// Event describes a transition the engine applied. Fields irrelevant to the
// event type are zero.
type Event struct {
	Type       EventType       `json:"type"`
	Instrument string          `json:"instrument"`
	LadderID   string          `json:"ladder_id,omitempty"`
	OrderID    string          `json:"order_id,omitempty"`
	PositionID string          `json:"position_id,omitempty"`
	Side       model.Side      `json:"side,omitempty"`
	Strategy   model.Strategy  `json:"strategy,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Amount     decimal.Decimal `json:"amount"`
	Confidence int             `json:"confidence,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

func orderEvent(t EventType, o *model.Order) Event {
	return Event{
		Type:       t,
		Instrument: o.Instrument,
		LadderID:   o.LadderID,
		OrderID:    o.ID,
		Side:       o.Side,
		Strategy:   o.Strategy,
		Price:      o.Price,
		Quantity:   o.Quantity,
	}
}

// batch collects the side effects of one pass so they can be carried out
// after the instrument lock is released.
type batch struct {
	ladder     *model.GridLadder
	dropLadder bool
	orders     []*model.Order
	positions  []*model.Position
	profits    []model.RealizedProfitEvent
	cancel     []string
	events     []Event
}

func (b *batch) addOrder(book *lifecycle.Book, id string) {
	if o, ok := book.Order(id); ok {
		b.orders = append(b.orders, o)
	}
}

func (b *batch) addPosition(book *lifecycle.Book, id string) {
	if p, ok := book.Position(id); ok {
		b.positions = append(b.positions, p)
	}
}

// flushUnordered flushes a batch built without the instrument lock.
func (e *Engine) flushUnordered(ctx context.Context, st *state, b *batch) error {
	st.persist.Lock()
	return e.flush(ctx, st, b)
}

// flush cancels discarded orders at the sink, persists the batch, forwards
// profits to the payout trigger and publishes events. Store failures do
// not stop the remaining writes; they are joined into one ErrPersist.
//
// Callers hold st.persist; it is released before events are published.
func (e *Engine) flush(ctx context.Context, st *state, b *batch) error {
	instrument := st.name
	if c, ok := e.orders.(Canceller); ok {
		for _, id := range b.cancel {
			if err := c.CancelOrder(ctx, id); err != nil {
				e.log.Warn().Err(err).Str("instrument", instrument).Str("order", id).Msg("sink cancel failed")
			}
		}
	}
	if n := len(b.cancel); n > 0 {
		metrics.OrdersCancelled.WithLabelValues(instrument).Add(float64(n))
	}

	var errs []error
	if b.dropLadder {
		if err := e.store.DeleteLadder(ctx, instrument); err != nil {
			errs = append(errs, fmt.Errorf("delete ladder: %w", err))
		}
	}
	if b.ladder != nil {
		if err := e.store.SaveLadder(ctx, b.ladder); err != nil {
			errs = append(errs, fmt.Errorf("save ladder: %w", err))
		}
	}
	for _, o := range b.orders {
		if err := e.store.SaveOrder(ctx, o); err != nil {
			errs = append(errs, fmt.Errorf("save order %s: %w", o.ID, err))
		}
	}
	for _, p := range b.positions {
		if err := e.store.SavePosition(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("save position %s: %w", p.ID, err))
		}
	}
	for i := range b.profits {
		ev := b.profits[i]
		if err := e.store.InsertProfitEvent(ctx, &ev); err != nil {
			errs = append(errs, fmt.Errorf("insert profit %s: %w", ev.ID, err))
		}
		if e.payouts != nil {
			e.payouts.Forward(ctx, ev)
		}
	}
	st.persist.Unlock()

	now := time.Now().UTC()
	for i := range b.events {
		if b.events[i].Timestamp.IsZero() {
			b.events[i].Timestamp = now
		}
	}
	e.publish(b.events)

	if len(errs) > 0 {
		err := errors.Join(errs...)
		e.log.Warn().Err(err).Str("instrument", instrument).Msg("persist failed")
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}
