package grid

import (
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/trading-engine/internal/model"
)

// FillPolicy decides whether a pending level order within tolerance of the
// current price is treated as filled on this tick. Production wiring can
// back it with exchange fill events; tests use the deterministic policies.
type FillPolicy interface {
	ShouldFill(level model.GridLevel, currentPrice decimal.Decimal) bool
}

// FillPolicyFunc adapts a function to FillPolicy.
type FillPolicyFunc func(level model.GridLevel, currentPrice decimal.Decimal) bool

func (f FillPolicyFunc) ShouldFill(level model.GridLevel, currentPrice decimal.Decimal) bool {
	return f(level, currentPrice)
}

var (
	AlwaysFill FillPolicy = FillPolicyFunc(func(model.GridLevel, decimal.Decimal) bool { return true })
	NeverFill  FillPolicy = FillPolicyFunc(func(model.GridLevel, decimal.Decimal) bool { return false })
)

// DefaultFillProbability is the per-tick fill rate observed for eligible levels.
const DefaultFillProbability = 0.7

// ProbabilisticFill fills eligible levels with a fixed probability. Safe
// for concurrent use.
type ProbabilisticFill struct {
	p   float64
	mu  sync.Mutex
	rng *rand.Rand
}

// NewProbabilisticFill creates a policy filling with probability p, clamped
// to [0,1], drawing from a source seeded with seed.
func NewProbabilisticFill(p float64, seed int64) *ProbabilisticFill {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return &ProbabilisticFill{p: p, rng: rand.New(rand.NewSource(seed))}
}

func (f *ProbabilisticFill) ShouldFill(model.GridLevel, decimal.Decimal) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Float64() < f.p
}
