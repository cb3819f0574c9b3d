package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"saboracampo/backend/internal/domain"
	"saboracampo/backend/internal/store"
)

func seedOrder(t *testing.T, s *Store) *domain.Order {
	t.Helper()

	number, err := s.NextOrderNumber(context.Background())
	if err != nil {
		t.Fatalf("next order number: %v", err)
	}
	order, err := s.CreateOrder(context.Background(), domain.Order{
		ID:        "ord-test",
		Number:    number,
		Seller:    domain.PersonSnapshot{ID: "seller", Name: "Vendedor"},
		State:     domain.OrderOpen,
		LineItems: []domain.LineItem{},
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func TestUpdateOrderStaleVersionConflicts(t *testing.T) {
	s := NewSeeded()
	order := seedOrder(t, s)

	first := *order
	first.TotalCents = 100
	updated, err := s.UpdateOrder(context.Background(), first)
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	if updated.Version != order.Version+1 {
		t.Fatalf("expected version bump to %d, got %d", order.Version+1, updated.Version)
	}

	stale := *order
	stale.TotalCents = 200
	if _, err := s.UpdateOrder(context.Background(), stale); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on stale version, got %v", err)
	}

	current, err := s.GetOrderByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if current.TotalCents != 100 {
		t.Fatalf("stale write must not land, got total %d", current.TotalCents)
	}
}

func TestDeleteOrderStaleVersionConflicts(t *testing.T) {
	s := NewSeeded()
	order := seedOrder(t, s)

	bumped := *order
	if _, err := s.UpdateOrder(context.Background(), bumped); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := s.DeleteOrder(context.Background(), order.ID, order.Version); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := s.DeleteOrder(context.Background(), order.ID, order.Version+1); err != nil {
		t.Fatalf("delete with current version: %v", err)
	}
	if err := s.DeleteOrder(context.Background(), order.ID, order.Version+1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestConcurrentDeductsNeverOversell(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	// 30 workers each try to take 5 of the 80 at centro; only 16 can win.
	results := make(chan error, 30)
	for i := 0; i < 30; i++ {
		go func() {
			results <- s.DeductStock(ctx, "item-harina", "br-centro", 5)
		}()
	}

	won := 0
	for i := 0; i < 30; i++ {
		if err := <-results; err == nil {
			won++
		} else if !errors.Is(err, store.ErrInsufficientStock) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 16 {
		t.Fatalf("expected exactly 16 successful deductions, got %d", won)
	}

	qty, _ := s.BranchStock(ctx, "item-harina", "br-centro")
	if qty != 0 {
		t.Fatalf("expected 0 left, got %d", qty)
	}
}

func TestAggregateDeductSurvivesBranchMutations(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if err := s.DeductStock(ctx, "item-queso", "", 5); err != nil {
		t.Fatalf("aggregate deduct: %v", err)
	}
	if qty, _ := s.BranchStock(ctx, "item-queso", ""); qty != 115 {
		t.Fatalf("expected aggregate 115 after deduct, got %d", qty)
	}

	// A branch-level move recomputes the total from branch rows; the
	// unbranched commitment must not be erased by it.
	if err := s.TransferStock(ctx, "item-queso", "br-centro", "br-norte", 1); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if qty, _ := s.BranchStock(ctx, "item-queso", ""); qty != 115 {
		t.Fatalf("transfer resurrected the aggregate deduct, got %d", qty)
	}
	if qty, _ := s.BranchStock(ctx, "item-queso", "br-centro"); qty != 79 {
		t.Fatalf("expected 79 at centro, got %d", qty)
	}
	if qty, _ := s.BranchStock(ctx, "item-queso", "br-norte"); qty != 41 {
		t.Fatalf("expected 41 at norte, got %d", qty)
	}

	if err := s.RestoreStock(ctx, "item-queso", "", 5); err != nil {
		t.Fatalf("aggregate restore: %v", err)
	}
	if qty, _ := s.BranchStock(ctx, "item-queso", ""); qty != 120 {
		t.Fatalf("expected aggregate 120 after restore, got %d", qty)
	}
}

func TestReturnedOrderIsACopy(t *testing.T) {
	s := NewSeeded()
	order := seedOrder(t, s)

	order.LineItems = append(order.LineItems, domain.LineItem{ItemID: "item-pan", Quantity: 1})

	stored, err := s.GetOrderByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if len(stored.LineItems) != 0 {
		t.Fatalf("mutating a returned order must not touch the store")
	}
}
