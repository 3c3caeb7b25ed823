package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/atmx/trading-engine/internal/model"
)

// Schema creates the tables PostgresStore expects. Monetary values are
// NUMERIC; ladder levels are kept as a JSONB document since they are
// always replaced wholesale.
const Schema = `
CREATE TABLE IF NOT EXISTS grid_ladders (
	instrument       TEXT PRIMARY KEY,
	id               TEXT NOT NULL,
	levels           JSONB NOT NULL,
	spacing_fraction NUMERIC NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS orders (
	id           TEXT PRIMARY KEY,
	instrument   TEXT NOT NULL,
	side         TEXT NOT NULL,
	type         TEXT NOT NULL,
	quantity     NUMERIC NOT NULL,
	price        NUMERIC NOT NULL,
	status       TEXT NOT NULL,
	strategy     TEXT NOT NULL,
	ladder_id    TEXT NOT NULL DEFAULT '',
	source_level INT,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_instrument_idx ON orders (instrument, created_at DESC);
CREATE TABLE IF NOT EXISTS positions (
	id          TEXT PRIMARY KEY,
	order_id    TEXT NOT NULL,
	instrument  TEXT NOT NULL,
	side        TEXT NOT NULL,
	strategy    TEXT NOT NULL,
	entry_price NUMERIC NOT NULL,
	quantity    NUMERIC NOT NULL,
	stop_loss   NUMERIC NOT NULL,
	take_profit NUMERIC NOT NULL,
	status      TEXT NOT NULL,
	exit_price  NUMERIC NOT NULL DEFAULT 0,
	opened_at   TIMESTAMPTZ NOT NULL,
	closed_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS positions_instrument_idx ON positions (instrument, opened_at DESC);
CREATE TABLE IF NOT EXISTS realized_profits (
	id              TEXT PRIMARY KEY,
	position_id     TEXT NOT NULL UNIQUE,
	instrument      TEXT NOT NULL,
	usd_amount      NUMERIC NOT NULL,
	source_strategy TEXT NOT NULL,
	timestamp       TIMESTAMPTZ NOT NULL
);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// --- Ladders ---

func (s *PostgresStore) SaveLadder(ctx context.Context, l *model.GridLadder) error {
	levels, err := json.Marshal(l.Levels)
	if err != nil {
		return fmt.Errorf("encode levels: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO grid_ladders (instrument, id, levels, spacing_fraction, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)
		 ON CONFLICT (instrument) DO UPDATE
		 SET id = EXCLUDED.id, levels = EXCLUDED.levels,
		     spacing_fraction = EXCLUDED.spacing_fraction, created_at = EXCLUDED.created_at`,
		l.Instrument, l.ID, levels, l.SpacingFraction.String(), l.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetLadder(ctx context.Context, instrument string) (*model.GridLadder, error) {
	var l model.GridLadder
	var levels []byte
	var spacing string

	err := s.pool.QueryRow(ctx,
		`SELECT instrument, id, levels, spacing_fraction::TEXT, created_at
		 FROM grid_ladders WHERE instrument = $1`, instrument).
		Scan(&l.Instrument, &l.ID, &levels, &spacing, &l.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get ladder %s: %w", instrument, notFound(err))
	}
	if err := json.Unmarshal(levels, &l.Levels); err != nil {
		return nil, fmt.Errorf("decode levels: %w", err)
	}
	l.SpacingFraction, _ = decimal.NewFromString(spacing)
	return &l, nil
}

func (s *PostgresStore) DeleteLadder(ctx context.Context, instrument string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM grid_ladders WHERE instrument = $1`, instrument)
	return err
}

// --- Orders ---

const orderColumns = `id, instrument, side, type, quantity::TEXT, price::TEXT,
	status, strategy, ladder_id, source_level, created_at, updated_at`

func (s *PostgresStore) SaveOrder(ctx context.Context, o *model.Order) error {
	var level *int
	if v, err := o.SourceLevel.Take(); err == nil {
		level = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, instrument, side, type, quantity, price, status, strategy, ladder_id, source_level, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE
		 SET price = EXCLUDED.price, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		o.ID, o.Instrument, string(o.Side), string(o.Type),
		o.Quantity.String(), o.Price.String(),
		string(o.Status), string(o.Strategy), o.LadderID, level,
		o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, notFound(err))
	}
	return o, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, instrument string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE instrument = $1 ORDER BY created_at DESC`, instrument)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var side, typ, status, strategy, qty, price string
	var level *int
	if err := row.Scan(&o.ID, &o.Instrument, &side, &typ, &qty, &price,
		&status, &strategy, &o.LadderID, &level, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Side = model.Side(side)
	o.Type = model.OrderType(typ)
	o.Status = model.OrderStatus(status)
	o.Strategy = model.Strategy(strategy)
	o.Quantity, _ = decimal.NewFromString(qty)
	o.Price, _ = decimal.NewFromString(price)
	if level != nil {
		o.SourceLevel = optional.Some(*level)
	} else {
		o.SourceLevel = optional.None[int]()
	}
	return &o, nil
}

// --- Positions ---

const positionColumns = `id, order_id, instrument, side, strategy,
	entry_price::TEXT, quantity::TEXT, stop_loss::TEXT, take_profit::TEXT,
	status, exit_price::TEXT, opened_at, closed_at`

func (s *PostgresStore) SavePosition(ctx context.Context, p *model.Position) error {
	var closedAt *time.Time
	if !p.ClosedAt.IsZero() {
		closedAt = &p.ClosedAt
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, order_id, instrument, side, strategy, entry_price, quantity,
		                        stop_loss, take_profit, status, exit_price, opened_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11::NUMERIC, $12, $13)
		 ON CONFLICT (id) DO UPDATE
		 SET status = EXCLUDED.status, exit_price = EXCLUDED.exit_price, closed_at = EXCLUDED.closed_at`,
		p.ID, p.OrderID, p.Instrument, string(p.Side), string(p.Strategy),
		p.EntryPrice.String(), p.Quantity.String(),
		p.StopLoss.String(), p.TakeProfit.String(),
		string(p.Status), p.ExitPrice.String(), p.OpenedAt, closedAt,
	)
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, notFound(err))
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, instrument string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE instrument = $1 ORDER BY opened_at DESC`, instrument)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var side, strategy, status string
	var entry, qty, stop, target, exit string
	var closedAt *time.Time
	if err := row.Scan(&p.ID, &p.OrderID, &p.Instrument, &side, &strategy,
		&entry, &qty, &stop, &target, &status, &exit, &p.OpenedAt, &closedAt); err != nil {
		return nil, err
	}
	p.Side = model.PositionSide(side)
	p.Strategy = model.Strategy(strategy)
	p.Status = model.PositionStatus(status)
	p.EntryPrice, _ = decimal.NewFromString(entry)
	p.Quantity, _ = decimal.NewFromString(qty)
	p.StopLoss, _ = decimal.NewFromString(stop)
	p.TakeProfit, _ = decimal.NewFromString(target)
	p.ExitPrice, _ = decimal.NewFromString(exit)
	if closedAt != nil {
		p.ClosedAt = *closedAt
	}
	return &p, nil
}

// --- Realized profit ---

func (s *PostgresStore) InsertProfitEvent(ctx context.Context, ev *model.RealizedProfitEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO realized_profits (id, position_id, instrument, usd_amount, source_strategy, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
		ev.ID, ev.PositionID, ev.Instrument, ev.USDAmount.String(),
		string(ev.SourceStrategy), ev.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListProfitEvents(ctx context.Context, instrument string) ([]model.RealizedProfitEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, position_id, instrument, usd_amount::TEXT, source_strategy, timestamp
		 FROM realized_profits
		 WHERE $1 = '' OR instrument = $1
		 ORDER BY timestamp DESC`, instrument)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.RealizedProfitEvent
	for rows.Next() {
		var ev model.RealizedProfitEvent
		var amount, strategy string
		if err := rows.Scan(&ev.ID, &ev.PositionID, &ev.Instrument, &amount, &strategy, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.USDAmount, _ = decimal.NewFromString(amount)
		ev.SourceStrategy = model.Strategy(strategy)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
