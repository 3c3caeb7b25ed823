// Package payout forwards realized profits above a threshold to a
// withdrawal queue. It never inspects the withdrawal beyond logging it.
package payout

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/atmx/trading-engine/internal/metrics"
	"github.com/atmx/trading-engine/internal/model"
)

// ErrInvalidAmount is returned by withdrawers for non-positive amounts.
var ErrInvalidAmount = errors.New("payout: amount must be positive")

// Withdrawer queues a USD withdrawal. Implementations must not block on
// settlement; queueing is fire-and-forget from the engine's point of view.
type Withdrawer interface {
	QueueWithdrawal(ctx context.Context, usdAmount decimal.Decimal, sourceTag string) error
}

// Config holds the payout threshold and tagging.
type Config struct {
	// MinAmount is the exclusive lower bound for forwarding a profit.
	MinAmount decimal.Decimal `yaml:"min_amount" validate:"gte=0"`
	// SourceTag labels withdrawals; the event's strategy is appended.
	SourceTag string `yaml:"source_tag"`
	// QueueKey is the Redis list withdrawals are pushed onto.
	QueueKey string `yaml:"queue_key" validate:"required"`
}

// DefaultConfig forwards profits above $0.50.
func DefaultConfig() Config {
	return Config{
		MinAmount: decimal.NewFromFloat(0.50),
		SourceTag: "engine",
		QueueKey:  "payouts:pending",
	}
}

// Trigger filters realized-profit events and hands qualifying ones to a
// Withdrawer exactly once per call.
type Trigger struct {
	cfg        Config
	withdrawer Withdrawer
	log        zerolog.Logger
}

// NewTrigger creates a payout trigger.
func NewTrigger(cfg Config, w Withdrawer, log zerolog.Logger) *Trigger {
	return &Trigger{
		cfg:        cfg,
		withdrawer: w,
		log:        log.With().Str("component", "payout").Logger(),
	}
}

// Qualifies reports whether ev's amount is strictly above the threshold.
func (t *Trigger) Qualifies(ev model.RealizedProfitEvent) bool {
	return ev.USDAmount.GreaterThan(t.cfg.MinAmount)
}

// Forward queues a withdrawal for ev when it qualifies. It reports whether
// the withdrawer was called; a withdrawer error is logged, not returned.
func (t *Trigger) Forward(ctx context.Context, ev model.RealizedProfitEvent) bool {
	if !t.Qualifies(ev) {
		t.log.Debug().
			Str("event", ev.ID).
			Str("amount", ev.USDAmount.String()).
			Msg("profit below payout threshold")
		metrics.PayoutsQueued.WithLabelValues("below_threshold").Inc()
		return false
	}

	tag := t.cfg.SourceTag + ":" + string(ev.SourceStrategy)
	if err := t.withdrawer.QueueWithdrawal(ctx, ev.USDAmount, tag); err != nil {
		t.log.Warn().Err(err).
			Str("event", ev.ID).
			Str("instrument", ev.Instrument).
			Str("amount", ev.USDAmount.String()).
			Msg("withdrawal not queued")
		metrics.PayoutsQueued.WithLabelValues("error").Inc()
		return true
	}

	t.log.Info().
		Str("event", ev.ID).
		Str("instrument", ev.Instrument).
		Str("amount", ev.USDAmount.String()).
		Str("source", tag).
		Msg("withdrawal queued")
	metrics.PayoutsQueued.WithLabelValues("queued").Inc()
	return true
}
