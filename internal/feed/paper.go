package feed

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/atmx/trading-engine/internal/engine"
	"github.com/atmx/trading-engine/internal/model"
)

var (
	ErrRejected      = errors.New("paper: order rejected")
	ErrOrderNotFound = errors.New("paper: order not found")
	ErrNotOpen       = errors.New("paper: order is not open")
)

var (
	_ engine.PriceSource = (*Simulated)(nil)
	_ engine.PriceSource = (*Binance)(nil)
	_ engine.OrderSink   = (*PaperSink)(nil)
	_ engine.Canceller   = (*PaperSink)(nil)
)

// PaperOrder is the sink-side record of a paper order.
type PaperOrder struct {
	ID      string
	Request engine.OrderRequest
	Status  model.OrderStatus
}

// PaperSink accepts orders without routing them anywhere. A reject rate
// simulates transient sink failures.
type PaperSink struct {
	mu         sync.Mutex
	orders     map[string]*PaperOrder
	rng        *rand.Rand
	rejectRate float64
}

// NewPaperSink creates a paper sink rejecting roughly rejectRate of
// placements.
func NewPaperSink(rejectRate float64, seed int64) *PaperSink {
	return &PaperSink{
		orders:     make(map[string]*PaperOrder),
		rng:        rand.New(rand.NewSource(seed)),
		rejectRate: rejectRate,
	}
}

func (p *PaperSink) PlaceOrder(ctx context.Context, req engine.OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !req.Quantity.IsPositive() || !req.Price.IsPositive() {
		return "", fmt.Errorf("%w: quantity and price must be positive", ErrRejected)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rejectRate > 0 && p.rng.Float64() < p.rejectRate {
		return "", ErrRejected
	}
	id := uuid.New().String()
	p.orders[id] = &PaperOrder{ID: id, Request: req, Status: model.OrderStatusPending}
	return id, nil
}

func (p *PaperSink) MarkFilled(_ context.Context, orderID string) error {
	return p.transition(orderID, model.OrderStatusFilled)
}

func (p *PaperSink) CancelOrder(_ context.Context, orderID string) error {
	return p.transition(orderID, model.OrderStatusCancelled)
}

func (p *PaperSink) transition(orderID string, to model.OrderStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if o.Status != model.OrderStatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotOpen, orderID, o.Status)
	}
	o.Status = to
	return nil
}

// Order returns a copy of a paper order.
func (p *PaperSink) Order(id string) (PaperOrder, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return PaperOrder{}, false
	}
	return *o, true
}

// Counts returns the number of paper orders per status.
func (p *PaperSink) Counts() map[model.OrderStatus]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[model.OrderStatus]int)
	for _, o := range p.orders {
		out[o.Status]++
	}
	return out
}
