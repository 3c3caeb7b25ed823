package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/trading-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh or invalidate the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, then cache) ---

func (s *CachedStore) SaveLadder(ctx context.Context, l *model.GridLadder) error {
	if err := s.primary.SaveLadder(ctx, l); err != nil {
		return err
	}
	s.set(ctx, ladderKey(l.Instrument), l)
	return nil
}

func (s *CachedStore) DeleteLadder(ctx context.Context, instrument string) error {
	if err := s.primary.DeleteLadder(ctx, instrument); err != nil {
		return err
	}
	s.rdb.Del(ctx, ladderKey(instrument))
	return nil
}

func (s *CachedStore) SaveOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.SaveOrder(ctx, o); err != nil {
		return err
	}
	s.set(ctx, orderKey(o.ID), o)
	return nil
}

func (s *CachedStore) SavePosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.SavePosition(ctx, p); err != nil {
		return err
	}
	s.set(ctx, positionKey(p.ID), p)
	// Invalidate the instrument listing; next read will re-populate.
	s.rdb.Del(ctx, positionsKey(p.Instrument))
	return nil
}

func (s *CachedStore) InsertProfitEvent(ctx context.Context, ev *model.RealizedProfitEvent) error {
	return s.primary.InsertProfitEvent(ctx, ev)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetLadder(ctx context.Context, instrument string) (*model.GridLadder, error) {
	var l model.GridLadder
	if s.get(ctx, ladderKey(instrument), &l) {
		return &l, nil
	}

	// Cache miss: read from primary.
	got, err := s.primary.GetLadder(ctx, instrument)
	if err != nil {
		return nil, err
	}
	s.set(ctx, ladderKey(instrument), got)
	return got, nil
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	if s.get(ctx, orderKey(id), &o) {
		return &o, nil
	}

	got, err := s.primary.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, orderKey(id), got)
	return got, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	var p model.Position
	if s.get(ctx, positionKey(id), &p) {
		return &p, nil
	}

	got, err := s.primary.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, positionKey(id), got)
	return got, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, instrument string) ([]model.Position, error) {
	var positions []model.Position
	if s.get(ctx, positionsKey(instrument), &positions) {
		return positions, nil
	}

	positions, err := s.primary.ListPositions(ctx, instrument)
	if err != nil {
		return nil, err
	}
	s.set(ctx, positionsKey(instrument), positions)
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListOrders(ctx context.Context, instrument string) ([]model.Order, error) {
	return s.primary.ListOrders(ctx, instrument)
}

func (s *CachedStore) ListProfitEvents(ctx context.Context, instrument string) ([]model.RealizedProfitEvent, error) {
	return s.primary.ListProfitEvents(ctx, instrument)
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func ladderKey(instrument string) string    { return fmt.Sprintf("ladder:%s", instrument) }
func orderKey(id string) string             { return fmt.Sprintf("order:%s", id) }
func positionKey(id string) string          { return fmt.Sprintf("position:%s", id) }
func positionsKey(instrument string) string { return fmt.Sprintf("positions:%s", instrument) }
