package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/atmx/trading-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestMemoryStore_LadderCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ladder := &model.GridLadder{
		ID:         "l1",
		Instrument: "XRP-USD",
		Levels: []model.GridLevel{
			{Index: 0, Price: d(0.61), BuyOrderRef: optional.Some("o1")},
			{Index: 1, Price: d(0.62)},
		},
		SpacingFraction: d(0.005),
	}
	if err := s.SaveLadder(ctx, ladder); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Mutating the caller's ladder must not leak into the store.
	ladder.Levels[0].Filled = true

	got, err := s.GetLadder(ctx, "XRP-USD")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Levels[0].Filled {
		t.Error("stored ladder was mutated through the caller's copy")
	}
	if id, _ := got.Levels[0].BuyOrderRef.Take(); id != "o1" {
		t.Errorf("expected buy ref o1, got %q", id)
	}

	if err := s.DeleteLadder(ctx, "XRP-USD"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetLadder(ctx, "XRP-USD"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_OrdersUpsertAndList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	first := &model.Order{ID: "a", Instrument: "X", Status: model.OrderStatusPending, CreatedAt: now}
	second := &model.Order{ID: "b", Instrument: "X", Status: model.OrderStatusPending, CreatedAt: now.Add(time.Second)}
	other := &model.Order{ID: "c", Instrument: "Y", CreatedAt: now}
	for _, o := range []*model.Order{first, second, other} {
		if err := s.SaveOrder(ctx, o); err != nil {
			t.Fatalf("save %s: %v", o.ID, err)
		}
	}

	first.Status = model.OrderStatusFilled
	if err := s.SaveOrder(ctx, first); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetOrder(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.OrderStatusFilled {
		t.Errorf("expected FILLED after upsert, got %s", got.Status)
	}

	list, err := s.ListOrders(ctx, "X")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "b" {
		t.Errorf("expected [b a] newest first, got %+v", list)
	}

	if _, err := s.GetOrder(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_Positions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	p := &model.Position{ID: "p1", Instrument: "X", Status: model.PositionOpen, EntryPrice: d(100), Quantity: d(2)}
	if err := s.SavePosition(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	p.Status = model.PositionClosed
	p.ExitPrice = d(104)
	if err := s.SavePosition(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetPosition(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.PositionClosed || !got.ExitPrice.Equal(d(104)) {
		t.Errorf("expected closed at 104, got %s at %s", got.Status, got.ExitPrice)
	}

	list, _ := s.ListPositions(ctx, "X")
	if len(list) != 1 {
		t.Errorf("expected 1 position, got %d", len(list))
	}
}

func TestMemoryStore_ProfitEventsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	events := []model.RealizedProfitEvent{
		{ID: "e1", Instrument: "X", USDAmount: d(4)},
		{ID: "e2", Instrument: "Y", USDAmount: d(-1)},
		{ID: "e3", Instrument: "X", USDAmount: d(2)},
	}
	for i := range events {
		if err := s.InsertProfitEvent(ctx, &events[i]); err != nil {
			t.Fatalf("insert %s: %v", events[i].ID, err)
		}
	}
	if err := s.InsertProfitEvent(ctx, &events[0]); err == nil {
		t.Error("expected duplicate insert to fail")
	}

	x, _ := s.ListProfitEvents(ctx, "X")
	if len(x) != 2 || x[0].ID != "e3" {
		t.Errorf("expected [e3 e1], got %+v", x)
	}
	all, _ := s.ListProfitEvents(ctx, "")
	if len(all) != 3 {
		t.Errorf("expected 3 events, got %d", len(all))
	}
}
