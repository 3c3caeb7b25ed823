package grid

import (
	"fmt"
	"testing"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/trading-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newManager(t *testing.T, spacing float64, policy FillPolicy) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SpacingFraction = d(spacing)
	return NewManager(cfg, policy)
}

// attachAll places every placement of plan with sequential fake order ids.
func attachAll(t *testing.T, m *Manager, ladder *model.GridLadder, plan Plan, prefix string) {
	t.Helper()
	for i, p := range plan.Placements {
		require.NoError(t, m.AttachOrder(ladder, p, fmt.Sprintf("%s-%d", prefix, i)))
	}
}

func assertMonotonic(t *testing.T, ladder *model.GridLadder) {
	t.Helper()
	for i := 1; i < len(ladder.Levels); i++ {
		assert.True(t, ladder.Levels[i-1].Price.LessThan(ladder.Levels[i].Price),
			"level %d (%s) must be below level %d (%s)",
			i-1, ladder.Levels[i-1].Price, i, ladder.Levels[i].Price)
	}
}

// --- Initialize ---

func TestInitialize_ShapeAndSpacing(t *testing.T) {
	m := newManager(t, 0.01, NeverFill)

	ladder, err := m.Initialize("X", d(100))
	require.NoError(t, err)

	require.Len(t, ladder.Levels, 11)
	assert.True(t, ladder.Levels[0].Price.Equal(d(95)), "lowest level should be 95, got %s", ladder.Levels[0].Price)
	assert.True(t, ladder.Levels[10].Price.Equal(d(105)), "highest level should be 105, got %s", ladder.Levels[10].Price)
	assert.True(t, ladder.Center().Equal(d(100)))
	assert.True(t, ladder.Range().Equal(d(10)))
	assert.NotEmpty(t, ladder.ID)
	for i, lvl := range ladder.Levels {
		assert.Equal(t, i, lvl.Index)
		assert.True(t, lvl.BuyOrderRef.IsNone())
		assert.True(t, lvl.SellOrderRef.IsNone())
		assert.False(t, lvl.Filled)
	}
	assertMonotonic(t, ladder)
}

func TestInitialize_Errors(t *testing.T) {
	m := newManager(t, 0.005, NeverFill)

	_, err := m.Initialize("X", decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidCenter)

	_, err = m.Initialize("X", d(-1))
	assert.ErrorIs(t, err, ErrInvalidCenter)

	even := DefaultConfig()
	even.Levels = 10
	_, err = NewManager(even, nil).Initialize("X", d(1))
	assert.ErrorIs(t, err, ErrInvalidLevelCount)

	wide := DefaultConfig()
	wide.SpacingFraction = d(0.25) // 5 rungs * 25% below center reaches zero
	_, err = NewManager(wide, nil).Initialize("X", d(1))
	assert.ErrorIs(t, err, ErrInvalidSpacing)
}

func TestValidate_DetectsNonMonotonic(t *testing.T) {
	m := newManager(t, 0.01, NeverFill)
	ladder, err := m.Initialize("X", d(100))
	require.NoError(t, err)

	ladder.Levels[3].Price = ladder.Levels[2].Price
	err = Validate(ladder)
	assert.ErrorIs(t, err, ErrNonMonotonic)
	assert.ErrorIs(t, err, model.ErrInvariant)
}

// --- Plan / placements ---

func TestPlan_PlacesBuysBelowAndSellsAbove(t *testing.T) {
	m := newManager(t, 0.01, NeverFill)
	ladder, err := m.Initialize("X", d(100))
	require.NoError(t, err)

	plan := m.Plan(ladder, d(100))
	require.Len(t, plan.Placements, 10, "center level sits at the price and gets nothing")
	assert.Empty(t, plan.Fills)

	for _, p := range plan.Placements {
		lvl := ladder.Levels[p.LevelIndex]
		if lvl.Price.LessThan(d(100)) {
			assert.Equal(t, model.SideBuy, p.Side)
		} else {
			assert.Equal(t, model.SideSell, p.Side)
		}
		assert.True(t, p.Quantity.Equal(d(20).Div(lvl.Price).Round(QuantityScale)),
			"quantity should be notional/price, got %s", p.Quantity)
		assert.Equal(t, ladder.ID, p.LadderID)
	}

	attachAll(t, m, ladder, plan, "o")
	assert.True(t, m.Plan(ladder, d(100)).Empty(), "second tick at the same price is a no-op")
}

func TestPlan_DoesNotMutateLadder(t *testing.T) {
	m := newManager(t, 0.01, AlwaysFill)
	ladder, err := m.Initialize("X", d(100))
	require.NoError(t, err)
	before := ladder.Clone()

	_ = m.Plan(ladder, d(99))
	assert.Equal(t, before, ladder)
}

func TestAttachOrder_Rejections(t *testing.T) {
	m := newManager(t, 0.01, NeverFill)
	ladder, err := m.Initialize("X", d(100))
	require.NoError(t, err)

	p := m.Plan(ladder, d(100)).Placements[0]
	require.NoError(t, m.AttachOrder(ladder, p, "a"))
	assert.ErrorIs(t, m.AttachOrder(ladder, p, "b"), ErrRefTaken)

	stale := p
	stale.LadderID = "gone"
	assert.ErrorIs(t, m.AttachOrder(ladder, stale, "c"), ErrStaleLadder)
}

// --- Fills ---

func TestTick_GridFillAtLevelPrice(t *testing.T) {
	m := newManager(t, 0.005, AlwaysFill)
	ladder, err := m.Initialize("X", d(0.62))
	require.NoError(t, err)

	attachAll(t, m, ladder, m.Plan(ladder, d(0.62)), "o")

	// Price drops onto the first level below center.
	levelPrice := ladder.Levels[4].Price
	plan := m.Plan(ladder, levelPrice)
	require.Len(t, plan.Fills, 1)

	f := plan.Fills[0]
	assert.Equal(t, 4, f.LevelIndex)
	assert.Equal(t, model.SideBuy, f.Side)
	assert.True(t, f.Price.Equal(levelPrice))

	sibling, err := m.MarkFilled(ladder, f)
	require.NoError(t, err)
	assert.Empty(t, sibling)

	filled := 0
	for _, lvl := range ladder.Levels {
		if lvl.Filled {
			filled++
		}
	}
	assert.Equal(t, 1, filled)
	assert.True(t, ladder.Levels[4].BuyOrderRef.IsNone())
}

func TestPlan_OutsideToleranceDoesNotFill(t *testing.T) {
	m := newManager(t, 0.005, AlwaysFill)
	ladder, err := m.Initialize("X", d(0.62))
	require.NoError(t, err)
	attachAll(t, m, ladder, m.Plan(ladder, d(0.62)), "o")

	// 0.6162 sits between levels 0.6138 and 0.6169, more than 0.1% from both.
	plan := m.Plan(ladder, d(0.6162))
	assert.Empty(t, plan.Fills)
}

func TestPlan_NeverFillPolicy(t *testing.T) {
	m := newManager(t, 0.01, NeverFill)
	ladder, err := m.Initialize("X", d(100))
	require.NoError(t, err)
	attachAll(t, m, ladder, m.Plan(ladder, d(100)), "o")

	assert.Empty(t, m.Plan(ladder, d(99)).Fills)
}

func TestMarkFilled_NoDoubleFill(t *testing.T) {
	m := newManager(t, 0.01, AlwaysFill)
	ladder, err := m.Initialize("X", d(100))
	require.NoError(t, err)

	// Give level 4 both a buy and a sell reference.
	ladder.Levels[4].BuyOrderRef = optional.Some("buy-4")
	ladder.Levels[4].SellOrderRef = optional.Some("sell-4")

	plan := m.Plan(ladder, d(99))
	var f Fill
	for _, candidate := range plan.Fills {
		if candidate.LevelIndex == 4 {
			f = candidate
		}
	}
	require.Equal(t, "buy-4", f.OrderID, "buy reference is preferred")

	sibling, err := m.MarkFilled(ladder, f)
	require.NoError(t, err)
	assert.Equal(t, "sell-4", sibling)

	_, err = m.MarkFilled(ladder, f)
	assert.ErrorIs(t, err, ErrLevelFilled)

	// A filled level never receives new references, at any price.
	for _, price := range []float64{90, 96, 99, 100, 104, 110} {
		for _, p := range m.Plan(ladder, d(price)).Placements {
			assert.NotEqual(t, 4, p.LevelIndex, "filled level got a placement at %v", price)
		}
		assert.True(t, ladder.Levels[4].BuyOrderRef.IsNone())
		assert.True(t, ladder.Levels[4].SellOrderRef.IsNone())
	}
	assert.ErrorIs(t, m.AttachOrder(ladder, Placement{LadderID: ladder.ID, LevelIndex: 4, Side: model.SideBuy}, "x"), ErrLevelFilled)
}

func TestMarkFilled_UnknownOrder(t *testing.T) {
	m := newManager(t, 0.01, AlwaysFill)
	ladder, err := m.Initialize("X", d(100))
	require.NoError(t, err)
	ladder.Levels[2].BuyOrderRef = optional.Some("real")

	_, err = m.MarkFilled(ladder, Fill{LadderID: ladder.ID, LevelIndex: 2, OrderID: "other"})
	assert.ErrorIs(t, err, ErrOrderNotOnLevel)
	assert.False(t, ladder.Levels[2].Filled)
}

func TestPruneRefs_ClearsDeadReferences(t *testing.T) {
	m := newManager(t, 0.01, AlwaysFill)
	ladder, err := m.Initialize("X", d(100))
	require.NoError(t, err)
	ladder.Levels[1].BuyOrderRef = optional.Some("live")
	ladder.Levels[2].BuyOrderRef = optional.Some("lost")
	ladder.Levels[8].SellOrderRef = optional.Some("gone")

	pruned := PruneRefs(ladder, func(id string) bool { return id == "live" })
	assert.ElementsMatch(t, []string{"lost", "gone"}, pruned)
	assert.Equal(t, []string{"live"}, PendingRefs(ladder))

	// The cleared level is placed again.
	plan := m.Plan(ladder, d(100))
	var levels []int
	for _, p := range plan.Placements {
		levels = append(levels, p.LevelIndex)
	}
	assert.Contains(t, levels, 2)
	assert.Contains(t, levels, 8)
	assert.NotContains(t, levels, 1)
}

func TestDetachOrder(t *testing.T) {
	m := newManager(t, 0.01, AlwaysFill)
	ladder, err := m.Initialize("X", d(100))
	require.NoError(t, err)
	ladder.Levels[3].BuyOrderRef = optional.Some("o1")

	assert.True(t, DetachOrder(ladder, "o1"))
	assert.True(t, ladder.Levels[3].BuyOrderRef.IsNone())
	assert.False(t, DetachOrder(ladder, "o1"))
	assert.False(t, DetachOrder(nil, "o1"))
}

// --- Rebalance ---

func TestRebalance_Trigger(t *testing.T) {
	m := newManager(t, 0.01, NeverFill)
	ladder, err := m.Initialize("X", d(100))
	require.NoError(t, err)
	attachAll(t, m, ladder, m.Plan(ladder, d(100)), "o")

	// Deviation 3.5 < 5 (half the range): no-op.
	next, discarded, err := m.Rebalance(ladder, d(96.5))
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Empty(t, discarded)

	// Deviation 6 > 5: full replacement around 106.
	next, discarded, err = m.Rebalance(ladder, d(106))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.NotEqual(t, ladder.ID, next.ID)
	assert.True(t, next.Center().Equal(d(106)), "new center should be 106, got %s", next.Center())
	assert.True(t, next.SpacingFraction.Equal(ladder.SpacingFraction))
	assert.Len(t, next.Levels, len(ladder.Levels))
	assert.Len(t, discarded, 10)
	assert.Empty(t, PendingRefs(next))
	assertMonotonic(t, next)
}

func TestRebalance_IsRepeatable(t *testing.T) {
	m := newManager(t, 0.01, NeverFill)
	ladder, err := m.Initialize("X", d(100))
	require.NoError(t, err)

	next, _, err := m.Rebalance(ladder, d(120))
	require.NoError(t, err)
	require.NotNil(t, next)

	again, _, err := m.Rebalance(next, d(120))
	require.NoError(t, err)
	assert.Nil(t, again, "a freshly centered ladder needs no rebalance")
}

func TestMonotonicity_AcrossRebalances(t *testing.T) {
	m := newManager(t, 0.005, NeverFill)
	ladder, err := m.Initialize("X", d(0.62))
	require.NoError(t, err)

	for _, price := range []float64{0.7, 0.5, 0.51, 0.9, 0.31, 1.5} {
		next, _, err := m.Rebalance(ladder, d(price))
		require.NoError(t, err)
		if next != nil {
			ladder = next
		}
		assertMonotonic(t, ladder)
		require.NoError(t, Validate(ladder))
	}
}

func TestProbabilisticFill_Bounds(t *testing.T) {
	always := NewProbabilisticFill(2, 1)
	never := NewProbabilisticFill(-1, 1)
	for i := 0; i < 50; i++ {
		assert.True(t, always.ShouldFill(model.GridLevel{}, d(1)))
		assert.False(t, never.ShouldFill(model.GridLevel{}, d(1)))
	}

	p := NewProbabilisticFill(DefaultFillProbability, 99)
	hits := 0
	for i := 0; i < 1000; i++ {
		if p.ShouldFill(model.GridLevel{}, d(1)) {
			hits++
		}
	}
	assert.InDelta(t, 700, hits, 80)
}
