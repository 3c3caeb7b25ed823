package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	ladders   map[string]*model.GridLadder
	orders    map[string]*model.Order
	positions map[string]*model.Position
	profits   []model.RealizedProfitEvent
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ladders:   make(map[string]*model.GridLadder),
		orders:    make(map[string]*model.Order),
		positions: make(map[string]*model.Position),
	}
}

func (s *MemoryStore) SaveLadder(_ context.Context, l *model.GridLadder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	s.ladders[l.Instrument] = l.Clone()
	return nil
}

func (s *MemoryStore) GetLadder(_ context.Context, instrument string) (*model.GridLadder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.ladders[instrument]
	if !ok {
		return nil, fmt.Errorf("ladder for %s: %w", instrument, ErrNotFound)
	}
	return l.Clone(), nil
}

func (s *MemoryStore) DeleteLadder(_ context.Context, instrument string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.ladders, instrument)
	return nil
}

func (s *MemoryStore) SaveOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, instrument string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Order
	for _, o := range s.orders {
		if o.Instrument == instrument {
			result = append(result, *o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) SavePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, instrument string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.Instrument == instrument {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OpenedAt.After(result[j].OpenedAt) })
	return result, nil
}

func (s *MemoryStore) InsertProfitEvent(_ context.Context, ev *model.RealizedProfitEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.profits {
		if existing.ID == ev.ID {
			return fmt.Errorf("profit event %s already recorded", ev.ID)
		}
	}
	s.profits = append(s.profits, *ev)
	return nil
}

func (s *MemoryStore) ListProfitEvents(_ context.Context, instrument string) ([]model.RealizedProfitEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.RealizedProfitEvent
	for i := len(s.profits) - 1; i >= 0; i-- {
		if instrument == "" || s.profits[i].Instrument == instrument {
			result = append(result, s.profits[i])
		}
	}
	return result, nil
}
