// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Each write is independent; the engine never relies on multi-record
// transactions.
package store

import (
	"context"
	"errors"

	"github.com/atmx/trading-engine/internal/model"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Ladders (one per instrument) ---

	// SaveLadder creates or replaces the instrument's ladder.
	SaveLadder(ctx context.Context, ladder *model.GridLadder) error

	// GetLadder retrieves the current ladder of an instrument.
	GetLadder(ctx context.Context, instrument string) (*model.GridLadder, error)

	// DeleteLadder removes the instrument's ladder, if any.
	DeleteLadder(ctx context.Context, instrument string) error

	// --- Orders ---

	// SaveOrder creates or updates an order by id.
	SaveOrder(ctx context.Context, order *model.Order) error

	// GetOrder retrieves an order by id.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// ListOrders returns an instrument's orders, newest first.
	ListOrders(ctx context.Context, instrument string) ([]model.Order, error)

	// --- Positions ---

	// SavePosition creates or updates a position by id.
	SavePosition(ctx context.Context, pos *model.Position) error

	// GetPosition retrieves a position by id.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// ListPositions returns an instrument's positions, newest first.
	ListPositions(ctx context.Context, instrument string) ([]model.Position, error)

	// --- Realized profit (append-only) ---

	// InsertProfitEvent appends an immutable realized-profit record.
	InsertProfitEvent(ctx context.Context, ev *model.RealizedProfitEvent) error

	// ListProfitEvents returns profit events for an instrument, or for all
	// instruments when instrument is empty, newest first.
	ListProfitEvents(ctx context.Context, instrument string) ([]model.RealizedProfitEvent, error)
}
