package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/atmx/trading-engine/internal/grid"
	"github.com/atmx/trading-engine/internal/lifecycle"
	"github.com/atmx/trading-engine/internal/metrics"
	"github.com/atmx/trading-engine/internal/model"
	"github.com/atmx/trading-engine/internal/signal"
)

func (e *Engine) price(ctx context.Context, instrument string) (decimal.Decimal, error) {
	price, err := e.prices.GetPrice(ctx, instrument)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", ErrPriceUnavailable, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price %s", ErrPriceUnavailable, price)
	}
	return price, nil
}

type placed struct {
	placement grid.Placement
	orderID   string
}

// GridTick runs one grid pass: the ladder is initialized on first use,
// missing level orders are placed, eligible pending orders are filled and
// the ladder is rebalanced when price left its range.
func (e *Engine) GridTick(ctx context.Context, raw string) error {
	st, err := e.state(raw)
	if err != nil {
		return err
	}
	price, err := e.price(ctx, st.name)
	if err != nil {
		return err
	}
	log := e.log.With().Str("instrument", st.name).Str("loop", "grid").Logger()

	var b batch

	// 1. Decide.
	st.mu.Lock()
	if !st.active {
		st.mu.Unlock()
		return ErrNotActive
	}
	if st.ladder == nil {
		ladder, err := e.grid.Initialize(st.name, price)
		if err != nil {
			st.mu.Unlock()
			e.invariant(st.name, err)
			return err
		}
		st.ladder = ladder
		b.ladder = ladder.Clone()
		b.events = append(b.events, Event{Type: EventLadderInitialized, Instrument: st.name, LadderID: ladder.ID, Price: price})
		log.Info().Str("ladder", ladder.ID).Str("center", price.String()).Msg("ladder initialized")
	}
	plan := e.grid.Plan(st.ladder, price)
	var (
		fills []grid.Fill
		dirty bool
	)
	for _, f := range plan.Fills {
		if isPending(st.book, f.OrderID) {
			fills = append(fills, f)
			continue
		}
		// Clear the reference first so the level is placed again.
		grid.DetachOrder(st.ladder, f.OrderID)
		dirty = true
		e.invariant(st.name, fmt.Errorf("%w: level %d references order %s which is not pending",
			model.ErrInvariant, f.LevelIndex, f.OrderID))
	}
	st.mu.Unlock()

	// 2. Execute against the sink without the lock.
	var accepted []placed
	for _, p := range plan.Placements {
		id, err := e.orders.PlaceOrder(ctx, OrderRequest{
			Instrument: st.name,
			Side:       p.Side,
			Type:       model.OrderTypeLimit,
			Quantity:   p.Quantity,
			Price:      p.Price,
		})
		if err != nil {
			// Level stays without a reference; retried next tick.
			log.Warn().Err(err).Int("level", p.LevelIndex).Str("side", string(p.Side)).Msg("placement rejected")
			continue
		}
		accepted = append(accepted, placed{placement: p, orderID: id})
	}
	var confirmed []grid.Fill
	for _, f := range fills {
		if err := e.orders.MarkFilled(ctx, f.OrderID); err != nil {
			log.Warn().Err(err).Str("order", f.OrderID).Msg("fill confirmation failed")
			continue
		}
		confirmed = append(confirmed, f)
	}

	// 3. Apply with re-validation.
	st.mu.Lock()
	for _, a := range accepted {
		if !st.active {
			b.cancel = append(b.cancel, a.orderID)
			continue
		}
		if err := e.grid.AttachOrder(st.ladder, a.placement, a.orderID); err != nil {
			log.Debug().Err(err).Str("order", a.orderID).Msg("orphaned placement cancelled")
			b.cancel = append(b.cancel, a.orderID)
			continue
		}
		o := e.lifecycle.NewOrder(a.orderID, st.name, a.placement.Side, model.OrderTypeLimit,
			model.StrategyGrid, a.placement.Quantity, a.placement.Price)
		o.LadderID = a.placement.LadderID
		o.SourceLevel = optional.Some(a.placement.LevelIndex)
		if err := e.lifecycle.Record(st.book, o); err != nil {
			e.invariant(st.name, err)
			continue
		}
		b.addOrder(st.book, o.ID)
		b.events = append(b.events, orderEvent(EventOrderPlaced, o))
		metrics.OrdersPlaced.WithLabelValues(st.name, string(model.StrategyGrid), string(o.Side)).Inc()
	}

	for _, f := range confirmed {
		if !st.active {
			break
		}
		if !isPending(st.book, f.OrderID) {
			log.Debug().Str("order", f.OrderID).Msg("fill already applied by another pass")
			continue
		}
		before := st.ladder.Clone()
		sibling, err := e.grid.MarkFilled(st.ladder, f)
		if err != nil {
			e.invariant(st.name, err)
			continue
		}
		pos, err := e.lifecycle.OnFill(st.book, f.OrderID, f.Price)
		if err != nil {
			// Level stays open and is retried next tick.
			st.ladder = before
			e.invariant(st.name, err)
			continue
		}
		b.addOrder(st.book, f.OrderID)
		b.positions = append(b.positions, pos)
		if o, ok := st.book.Order(f.OrderID); ok {
			ev := orderEvent(EventOrderFilled, o)
			ev.PositionID = pos.ID
			b.events = append(b.events, ev)
		}
		metrics.Fills.WithLabelValues(st.name, string(model.StrategyGrid)).Inc()
		log.Info().Str("order", f.OrderID).Int("level", f.LevelIndex).
			Str("side", string(f.Side)).Str("price", f.Price.String()).Msg("level filled")

		if sibling != "" {
			e.cancelLocked(st, sibling, &b)
		}
	}

	if st.active {
		next, discarded, err := e.grid.Rebalance(st.ladder, price)
		switch {
		case err != nil:
			e.invariant(st.name, err)
		case next != nil:
			for _, id := range discarded {
				e.cancelLocked(st, id, &b)
			}
			log.Info().Str("old", st.ladder.ID).Str("new", next.ID).
				Str("center", price.String()).Int("cancelled", len(discarded)).Msg("ladder rebalanced")
			b.events = append(b.events, Event{Type: EventLadderRebalanced, Instrument: st.name, LadderID: next.ID, Price: price})
			metrics.Rebalances.WithLabelValues(st.name).Inc()
			st.ladder = next
		}
		if len(accepted) > 0 || len(confirmed) > 0 || next != nil || dirty {
			b.ladder = st.ladder.Clone()
		}
	}
	metrics.OpenPositions.WithLabelValues(st.name).Set(float64(len(st.book.OpenPositions())))
	st.handoff()

	// 4. Persist and publish.
	return e.flush(ctx, st, &b)
}

// cancelLocked cancels a pending order in the book and queues the sink
// cancel. Callers hold st.mu.
func (e *Engine) cancelLocked(st *state, orderID string, b *batch) {
	if err := e.lifecycle.Cancel(st.book, orderID); err != nil {
		if errors.Is(err, lifecycle.ErrOrderNotFound) {
			// Restored ladders can reference orders the book never saw.
			b.cancel = append(b.cancel, orderID)
			return
		}
		e.invariant(st.name, err)
		return
	}
	b.cancel = append(b.cancel, orderID)
	b.addOrder(st.book, orderID)
	if o, ok := st.book.Order(orderID); ok {
		b.events = append(b.events, orderEvent(EventOrderCancelled, o))
	}
}

// MomentumTick records the current price, scores the history and, when the
// signal is actionable, buys at market. Momentum orders fill at signal time.
// Too short a history is not an error: the pass is skipped.
func (e *Engine) MomentumTick(ctx context.Context, raw string) error {
	st, err := e.state(raw)
	if err != nil {
		return err
	}
	price, err := e.price(ctx, st.name)
	if err != nil {
		return err
	}
	log := e.log.With().Str("instrument", st.name).Str("loop", "momentum").Logger()

	var exposures map[string]decimal.Decimal
	if e.risk != nil {
		exposures = e.exposures()
	}

	// 1. Decide.
	st.mu.Lock()
	if !st.active {
		st.mu.Unlock()
		return ErrNotActive
	}
	st.history.Record(price)
	sig, err := e.signals.Score(st.name, st.history.Snapshot())
	st.mu.Unlock()

	if errors.Is(err, signal.ErrInsufficientHistory) {
		log.Debug().Msg("history too short, scoring skipped")
		return nil
	}
	if err != nil {
		return err
	}

	var b batch
	b.events = append(b.events, Event{
		Type:       EventSignal,
		Instrument: st.name,
		Side:       sig.Action,
		Price:      sig.Price,
		Confidence: sig.Confidence,
		Timestamp:  sig.CreatedAt,
	})
	log.Debug().
		Str("momentum", sig.MomentumPct.String()).
		Str("rsi", sig.RSI.String()).
		Str("macd", sig.MACD.String()).
		Int("confidence", sig.Confidence).
		Str("action", string(sig.Action)).
		Msg("signal scored")

	if !e.signals.Actionable(sig) {
		return e.flushUnordered(ctx, st, &b)
	}

	qty := e.cfg.MomentumNotional.Div(sig.Price).Round(grid.QuantityScale)
	if !qty.IsPositive() {
		return e.flushUnordered(ctx, st, &b)
	}
	if e.risk != nil {
		if err := e.risk.CheckLimit(st.name, qty.Mul(sig.Price), exposures); err != nil {
			metrics.RiskRejections.WithLabelValues(st.name).Inc()
			log.Info().Err(err).Int("confidence", sig.Confidence).Msg("momentum buy blocked by exposure limit")
			return e.flushUnordered(ctx, st, &b)
		}
	}

	// 2. Execute.
	id, err := e.orders.PlaceOrder(ctx, OrderRequest{
		Instrument: st.name,
		Side:       model.SideBuy,
		Type:       model.OrderTypeMarket,
		Quantity:   qty,
		Price:      sig.Price,
	})
	if err != nil {
		_ = e.flushUnordered(ctx, st, &b)
		return fmt.Errorf("%w: %w", ErrOrderRejected, err)
	}
	if err := e.orders.MarkFilled(ctx, id); err != nil {
		b.cancel = append(b.cancel, id)
		_ = e.flushUnordered(ctx, st, &b)
		return fmt.Errorf("%w: fill confirmation: %w", ErrOrderRejected, err)
	}

	// 3. Apply.
	st.mu.Lock()
	if !st.active {
		b.cancel = append(b.cancel, id)
		st.handoff()
		_ = e.flush(ctx, st, &b)
		return ErrNotActive
	}
	o := e.lifecycle.NewOrder(id, st.name, model.SideBuy, model.OrderTypeMarket, model.StrategyMomentum, qty, sig.Price)
	if err := e.lifecycle.Record(st.book, o); err != nil {
		st.handoff()
		e.invariant(st.name, err)
		return e.flush(ctx, st, &b)
	}
	pos, err := e.lifecycle.OnFill(st.book, id, sig.Price)
	if err != nil {
		st.handoff()
		e.invariant(st.name, err)
		return e.flush(ctx, st, &b)
	}
	b.addOrder(st.book, id)
	b.positions = append(b.positions, pos)
	if filled, ok := st.book.Order(id); ok {
		ev := orderEvent(EventOrderFilled, filled)
		ev.PositionID = pos.ID
		ev.Confidence = sig.Confidence
		b.events = append(b.events, ev)
	}
	metrics.OpenPositions.WithLabelValues(st.name).Set(float64(len(st.book.OpenPositions())))
	st.handoff()

	metrics.OrdersPlaced.WithLabelValues(st.name, string(model.StrategyMomentum), string(model.SideBuy)).Inc()
	metrics.Fills.WithLabelValues(st.name, string(model.StrategyMomentum)).Inc()
	log.Info().
		Str("order", id).
		Str("price", sig.Price.String()).
		Str("qty", qty.String()).
		Int("confidence", sig.Confidence).
		Msg("momentum buy filled")

	// 4. Persist and publish.
	return e.flush(ctx, st, &b)
}

// SweepTick closes every open position whose stop-loss or take-profit the
// current price has crossed and forwards each realized profit to the payout
// trigger exactly once.
func (e *Engine) SweepTick(ctx context.Context, raw string) error {
	st, err := e.state(raw)
	if err != nil {
		return err
	}
	price, err := e.price(ctx, st.name)
	if err != nil {
		return err
	}
	log := e.log.With().Str("instrument", st.name).Str("loop", "sweep").Logger()

	var b batch
	st.mu.Lock()
	if !st.active {
		st.mu.Unlock()
		return ErrNotActive
	}
	closed, err := e.lifecycle.Sweep(st.book, price)
	if err != nil {
		e.invariant(st.name, err)
	}
	for _, ev := range closed {
		b.addPosition(st.book, ev.PositionID)
		b.profits = append(b.profits, ev)
		b.events = append(b.events, Event{
			Type:       EventPositionClosed,
			Instrument: st.name,
			PositionID: ev.PositionID,
			Strategy:   ev.SourceStrategy,
			Price:      price,
			Amount:     ev.USDAmount,
			Timestamp:  ev.Timestamp,
		})
	}
	metrics.OpenPositions.WithLabelValues(st.name).Set(float64(len(st.book.OpenPositions())))
	st.handoff()

	for _, ev := range closed {
		amount, _ := ev.USDAmount.Float64()
		if ev.USDAmount.IsNegative() {
			metrics.RealizedLoss.WithLabelValues(st.name, string(ev.SourceStrategy)).Add(-amount)
		} else {
			metrics.RealizedProfit.WithLabelValues(st.name, string(ev.SourceStrategy)).Add(amount)
		}
		log.Info().
			Str("position", ev.PositionID).
			Str("exit", price.String()).
			Str("pnl", ev.USDAmount.String()).
			Str("strategy", string(ev.SourceStrategy)).
			Msg("position closed")
	}

	return e.flush(ctx, st, &b)
}
