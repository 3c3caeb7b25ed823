// Package grid maintains the price ladder traded on each gridded
// instrument: an odd number of levels spaced by a fixed fraction of the
// center price, each able to hold one buy and one sell order.
//
// The manager is split into a read-only planning step and small state
// transitions so that order placement and fill confirmation, which talk
// to external systems, can run without holding the instrument lock:
//
//	plan := m.Plan(ladder, price)           // under lock
//	id, err := sink.PlaceOrder(...)         // no lock
//	err = m.AttachOrder(ladder, p, id)      // under lock, re-validated
package grid

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/atmx/trading-engine/internal/model"
)

var (
	ErrInvalidCenter     = errors.New("grid: center price must be positive")
	ErrInvalidSpacing    = errors.New("grid: spacing must keep every level positive")
	ErrInvalidLevelCount = errors.New("grid: level count must be odd and at least 3")

	// ErrNonMonotonic is an invariant violation: levels must be strictly increasing.
	ErrNonMonotonic = fmt.Errorf("%w: grid levels are not strictly increasing", model.ErrInvariant)

	// ErrStaleLadder is returned when a plan step refers to a ladder that
	// has since been replaced by a rebalance.
	ErrStaleLadder = errors.New("grid: ladder was replaced")

	// ErrLevelFilled is returned when an order is attached to, or filled
	// on, a level that already filled.
	ErrLevelFilled = errors.New("grid: level already filled")

	// ErrRefTaken is returned when the level already holds an order for that side.
	ErrRefTaken = errors.New("grid: level already holds an order for this side")

	// ErrOrderNotOnLevel is returned when a fill names an order the level
	// does not reference.
	ErrOrderNotOnLevel = errors.New("grid: order is not referenced by level")

	// QuantityScale is the number of decimal places order quantities are rounded to.
	QuantityScale int32 = 8
)

// Config holds the ladder shape and order sizing.
type Config struct {
	// Levels is the odd number of rungs, center included.
	Levels int `yaml:"levels" validate:"min=3"`
	// SpacingFraction is the distance between rungs as a fraction of center.
	SpacingFraction decimal.Decimal `yaml:"spacing_fraction" validate:"gt=0,lt=1"`
	// OrderNotional is the quote-currency size of every level order.
	OrderNotional decimal.Decimal `yaml:"order_notional" validate:"gt=0"`
	// FillTolerance is how close, as a fraction of current price, the
	// price must be to a level for its pending order to be eligible to fill.
	FillTolerance decimal.Decimal `yaml:"fill_tolerance" validate:"gte=0,lt=1"`
}

// DefaultConfig returns an 11-level ladder at 0.5% spacing with $20 orders.
func DefaultConfig() Config {
	return Config{
		Levels:          11,
		SpacingFraction: decimal.NewFromFloat(0.005),
		OrderNotional:   decimal.NewFromInt(20),
		FillTolerance:   decimal.NewFromFloat(0.001),
	}
}

// Placement is an order the plan wants placed on a level.
type Placement struct {
	LadderID   string
	LevelIndex int
	Side       model.Side
	Price      decimal.Decimal
	Quantity   decimal.Decimal
}

// Fill is a pending level order the plan wants transitioned to filled.
type Fill struct {
	LadderID   string
	LevelIndex int
	OrderID    string
	Side       model.Side
	Price      decimal.Decimal
}

// Plan is the read-only outcome of evaluating a ladder against a price.
type Plan struct {
	Placements []Placement
	Fills      []Fill
}

// Empty reports whether the plan has nothing to do.
func (p Plan) Empty() bool { return len(p.Placements) == 0 && len(p.Fills) == 0 }

// Manager builds and evaluates ladders. It keeps no per-instrument state;
// ladders are owned by the caller.
type Manager struct {
	cfg    Config
	policy FillPolicy
	now    func() time.Time
}

// NewManager creates a manager. A nil policy never fills.
func NewManager(cfg Config, policy FillPolicy) *Manager {
	if policy == nil {
		policy = NeverFill
	}
	return &Manager{cfg: cfg, policy: policy, now: time.Now}
}

// Config returns the manager's ladder configuration.
func (m *Manager) Config() Config { return m.cfg }

// Initialize builds a fresh ladder of cfg.Levels rungs around center.
func (m *Manager) Initialize(instrument string, center decimal.Decimal) (*model.GridLadder, error) {
	return m.build(instrument, center, m.cfg.SpacingFraction, m.cfg.Levels)
}

func (m *Manager) build(instrument string, center, fraction decimal.Decimal, count int) (*model.GridLadder, error) {
	if !center.IsPositive() {
		return nil, ErrInvalidCenter
	}
	if count < 3 || count%2 == 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLevelCount, count)
	}
	if !fraction.IsPositive() {
		return nil, ErrInvalidSpacing
	}

	half := count / 2
	spacing := center.Mul(fraction)
	lowest := center.Sub(spacing.Mul(decimal.NewFromInt(int64(half))))
	if !lowest.IsPositive() {
		return nil, fmt.Errorf("%w: lowest level %s", ErrInvalidSpacing, lowest)
	}

	levels := make([]model.GridLevel, count)
	for i := range levels {
		offset := decimal.NewFromInt(int64(i - half))
		levels[i] = model.GridLevel{
			Index:        i,
			Price:        center.Add(spacing.Mul(offset)),
			BuyOrderRef:  optional.None[string](),
			SellOrderRef: optional.None[string](),
		}
	}

	ladder := &model.GridLadder{
		ID:              uuid.New().String(),
		Instrument:      instrument,
		Levels:          levels,
		SpacingFraction: fraction,
		CreatedAt:       m.now().UTC(),
	}
	if err := Validate(ladder); err != nil {
		return nil, err
	}
	return ladder, nil
}

// Validate checks that ladder levels are strictly increasing in price.
func Validate(ladder *model.GridLadder) error {
	for i := 1; i < len(ladder.Levels); i++ {
		if !ladder.Levels[i].Price.GreaterThan(ladder.Levels[i-1].Price) {
			return fmt.Errorf("%w: level %d (%s) <= level %d (%s)", ErrNonMonotonic,
				i, ladder.Levels[i].Price, i-1, ladder.Levels[i-1].Price)
		}
	}
	return nil
}

// Plan decides what a tick at price should do, without mutating ladder.
//
//   - unfilled levels below price with no buy order get a buy placement;
//   - unfilled levels above price with no sell order get a sell placement;
//   - unfilled levels within FillTolerance of price that hold a pending
//     order become fill candidates if the fill policy agrees. A buy
//     reference is preferred over a sell reference.
func (m *Manager) Plan(ladder *model.GridLadder, price decimal.Decimal) Plan {
	var plan Plan
	if ladder == nil || !price.IsPositive() {
		return plan
	}

	tolerance := price.Mul(m.cfg.FillTolerance)

	for _, lvl := range ladder.Levels {
		if lvl.Filled {
			continue
		}

		switch {
		case lvl.Price.LessThan(price) && lvl.BuyOrderRef.IsNone():
			plan.Placements = append(plan.Placements, m.placement(ladder.ID, lvl, model.SideBuy))
		case lvl.Price.GreaterThan(price) && lvl.SellOrderRef.IsNone():
			plan.Placements = append(plan.Placements, m.placement(ladder.ID, lvl, model.SideSell))
		}

		if lvl.Price.Sub(price).Abs().GreaterThan(tolerance) {
			continue
		}
		orderID, side, ok := pendingRef(lvl)
		if !ok || !m.policy.ShouldFill(lvl, price) {
			continue
		}
		plan.Fills = append(plan.Fills, Fill{
			LadderID:   ladder.ID,
			LevelIndex: lvl.Index,
			OrderID:    orderID,
			Side:       side,
			Price:      lvl.Price,
		})
	}
	return plan
}

func (m *Manager) placement(ladderID string, lvl model.GridLevel, side model.Side) Placement {
	return Placement{
		LadderID:   ladderID,
		LevelIndex: lvl.Index,
		Side:       side,
		Price:      lvl.Price,
		Quantity:   m.cfg.OrderNotional.Div(lvl.Price).Round(QuantityScale),
	}
}

func pendingRef(lvl model.GridLevel) (string, model.Side, bool) {
	if id, err := lvl.BuyOrderRef.Take(); err == nil {
		return id, model.SideBuy, true
	}
	if id, err := lvl.SellOrderRef.Take(); err == nil {
		return id, model.SideSell, true
	}
	return "", "", false
}

// AttachOrder records orderID on the level a placement targeted. It fails
// when the ladder was replaced, the level filled, or the slot was taken
// meanwhile; the caller should then cancel the orphaned order.
func (m *Manager) AttachOrder(ladder *model.GridLadder, p Placement, orderID string) error {
	lvl, err := levelFor(ladder, p.LadderID, p.LevelIndex)
	if err != nil {
		return err
	}
	if lvl.Filled {
		return ErrLevelFilled
	}

	switch p.Side {
	case model.SideBuy:
		if lvl.BuyOrderRef.IsSome() {
			return ErrRefTaken
		}
		lvl.BuyOrderRef = optional.Some(orderID)
	case model.SideSell:
		if lvl.SellOrderRef.IsSome() {
			return ErrRefTaken
		}
		lvl.SellOrderRef = optional.Some(orderID)
	default:
		return fmt.Errorf("grid: unknown side %q", p.Side)
	}
	return nil
}

// MarkFilled transitions the level to filled. Both references are cleared;
// the id of the opposite-side order, if any, is returned so the caller can
// cancel it.
func (m *Manager) MarkFilled(ladder *model.GridLadder, f Fill) (string, error) {
	lvl, err := levelFor(ladder, f.LadderID, f.LevelIndex)
	if err != nil {
		return "", err
	}
	if lvl.Filled {
		return "", ErrLevelFilled
	}

	buy := lvl.BuyOrderRef.TakeOr("")
	sell := lvl.SellOrderRef.TakeOr("")

	var sibling string
	switch f.OrderID {
	case "":
		return "", ErrOrderNotOnLevel
	case buy:
		sibling = sell
	case sell:
		sibling = buy
	default:
		return "", ErrOrderNotOnLevel
	}

	lvl.Filled = true
	lvl.BuyOrderRef = optional.None[string]()
	lvl.SellOrderRef = optional.None[string]()
	return sibling, nil
}

func levelFor(ladder *model.GridLadder, ladderID string, index int) (*model.GridLevel, error) {
	if ladder == nil || ladder.ID != ladderID {
		return nil, ErrStaleLadder
	}
	if index < 0 || index >= len(ladder.Levels) {
		return nil, fmt.Errorf("grid: level index %d out of range", index)
	}
	return &ladder.Levels[index], nil
}

// NeedsRebalance reports whether price drifted more than half the ladder
// range away from its center.
func NeedsRebalance(ladder *model.GridLadder, price decimal.Decimal) bool {
	if ladder == nil || len(ladder.Levels) == 0 {
		return false
	}
	deviation := price.Sub(ladder.Center()).Abs()
	return deviation.GreaterThan(ladder.Range().Div(decimal.NewFromInt(2)))
}

// Rebalance replaces ladder wholesale with one centered at price, using the
// same spacing fraction and level count, when NeedsRebalance holds. It
// returns the new ladder and every pending order id the old ladder
// referenced. When no rebalance is needed it returns a nil ladder.
func (m *Manager) Rebalance(ladder *model.GridLadder, price decimal.Decimal) (*model.GridLadder, []string, error) {
	if !NeedsRebalance(ladder, price) {
		return nil, nil, nil
	}

	next, err := m.build(ladder.Instrument, price, ladder.SpacingFraction, len(ladder.Levels))
	if err != nil {
		return nil, nil, err
	}

	return next, PendingRefs(ladder), nil
}

// PruneRefs clears every level reference for which live reports false and
// returns the cleared ids. Cleared levels get a fresh placement on the next
// plan.
func PruneRefs(ladder *model.GridLadder, live func(orderID string) bool) []string {
	if ladder == nil {
		return nil
	}
	var pruned []string
	for i := range ladder.Levels {
		lvl := &ladder.Levels[i]
		if id, err := lvl.BuyOrderRef.Take(); err == nil && !live(id) {
			lvl.BuyOrderRef = optional.None[string]()
			pruned = append(pruned, id)
		}
		if id, err := lvl.SellOrderRef.Take(); err == nil && !live(id) {
			lvl.SellOrderRef = optional.None[string]()
			pruned = append(pruned, id)
		}
	}
	return pruned
}

// DetachOrder clears every reference to orderID and reports whether one
// was found.
func DetachOrder(ladder *model.GridLadder, orderID string) bool {
	return len(PruneRefs(ladder, func(id string) bool { return id != orderID })) > 0
}

// PendingRefs returns every order id the ladder currently references.
func PendingRefs(ladder *model.GridLadder) []string {
	if ladder == nil {
		return nil
	}
	var ids []string
	for _, lvl := range ladder.Levels {
		if id, err := lvl.BuyOrderRef.Take(); err == nil {
			ids = append(ids, id)
		}
		if id, err := lvl.SellOrderRef.Take(); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
