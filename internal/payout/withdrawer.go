package payout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Withdrawal is the JSON record pushed onto the payout queue.
type Withdrawal struct {
	ID        string          `json:"id"`
	USDAmount decimal.Decimal `json:"usd_amount"`
	SourceTag string          `json:"source_tag"`
	QueuedAt  time.Time       `json:"queued_at"`
}

// RedisQueue pushes withdrawals onto a Redis list for a settlement worker
// to consume with BRPOP.
type RedisQueue struct {
	rdb *redis.Client
	key string
	now func() time.Time
}

// NewRedisQueue creates a queue writing to the list at key.
func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	return &RedisQueue{rdb: rdb, key: key, now: time.Now}
}

func (q *RedisQueue) QueueWithdrawal(ctx context.Context, usdAmount decimal.Decimal, sourceTag string) error {
	if !usdAmount.IsPositive() {
		return ErrInvalidAmount
	}
	data, err := json.Marshal(Withdrawal{
		ID:        uuid.New().String(),
		USDAmount: usdAmount,
		SourceTag: sourceTag,
		QueuedAt:  q.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode withdrawal: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("push withdrawal: %w", err)
	}
	return nil
}

// LogWithdrawer only logs withdrawals. Used when no queue is configured.
type LogWithdrawer struct {
	log zerolog.Logger
}

// NewLogWithdrawer creates a log-only withdrawer.
func NewLogWithdrawer(log zerolog.Logger) *LogWithdrawer {
	return &LogWithdrawer{log: log.With().Str("component", "withdrawer").Logger()}
}

func (w *LogWithdrawer) QueueWithdrawal(_ context.Context, usdAmount decimal.Decimal, sourceTag string) error {
	if !usdAmount.IsPositive() {
		return ErrInvalidAmount
	}
	w.log.Info().
		Str("amount", usdAmount.String()).
		Str("source", sourceTag).
		Msg("withdrawal requested (log only)")
	return nil
}
