package ledger

import (
	"context"
	"errors"
	"testing"

	"saboracampo/backend/internal/store"
	"saboracampo/backend/internal/store/memory"
)

func newTestLedger() (*Ledger, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo), repo
}

var errForcedOutage = errors.New("storage offline")

// faultyStockRepo fails the Nth mutating stock call to force the ledger
// down its compensation path mid-sequence.
type faultyStockRepo struct {
	*memory.Store

	deductCalls    int
	failDeductOn   int
	transferCalls  int
	failTransferOn int
}

func (r *faultyStockRepo) DeductStock(ctx context.Context, itemID string, branchID string, qty int) error {
	r.deductCalls++
	if r.deductCalls == r.failDeductOn {
		return errForcedOutage
	}
	return r.Store.DeductStock(ctx, itemID, branchID, qty)
}

func (r *faultyStockRepo) TransferStock(ctx context.Context, itemID string, sourceBranchID string, destBranchID string, qty int) error {
	r.transferCalls++
	if r.transferCalls == r.failTransferOn {
		return errForcedOutage
	}
	return r.Store.TransferStock(ctx, itemID, sourceBranchID, destBranchID, qty)
}

func TestDeductAllAppliesEveryLine(t *testing.T) {
	led, repo := newTestLedger()
	ctx := context.Background()

	err := led.DeductAll(ctx, "br-centro", []Line{
		{ItemID: "item-huevos", Name: "Huevos de Campo x12", Quantity: 10},
		{ItemID: "item-queso", Name: "Queso Cremoso", Quantity: 5},
	})
	if err != nil {
		t.Fatalf("deduct all failed: %v", err)
	}

	qty, err := repo.BranchStock(ctx, "item-huevos", "br-centro")
	if err != nil {
		t.Fatalf("branch stock: %v", err)
	}
	if qty != 70 {
		t.Fatalf("expected 70 huevos at centro, got %d", qty)
	}
	qty, _ = repo.BranchStock(ctx, "item-queso", "br-centro")
	if qty != 75 {
		t.Fatalf("expected 75 queso at centro, got %d", qty)
	}
}

func TestDeductAllShortfallLeavesStockUntouched(t *testing.T) {
	led, repo := newTestLedger()
	ctx := context.Background()

	err := led.DeductAll(ctx, "br-centro", []Line{
		{ItemID: "item-huevos", Name: "Huevos de Campo x12", Quantity: 10},
		{ItemID: "item-queso", Name: "Queso Cremoso", Quantity: 500},
	})
	if err == nil {
		t.Fatalf("expected shortfall error")
	}

	var shortfall *store.InsufficientStockError
	if !errors.As(err, &shortfall) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if shortfall.ItemID != "item-queso" || shortfall.Available != 80 {
		t.Fatalf("expected queso with 80 available, got %+v", shortfall)
	}
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected error to unwrap to ErrInsufficientStock")
	}

	qty, _ := repo.BranchStock(ctx, "item-huevos", "br-centro")
	if qty != 80 {
		t.Fatalf("expected huevos untouched at 80, got %d", qty)
	}
}

func TestDeductAllMidSequenceFailureRestoresAppliedLines(t *testing.T) {
	repo := &faultyStockRepo{Store: memory.NewSeeded(), failDeductOn: 2}
	led := New(repo)
	ctx := context.Background()

	err := led.DeductAll(ctx, "br-centro", []Line{
		{ItemID: "item-huevos", Name: "Huevos de Campo x12", Quantity: 10},
		{ItemID: "item-queso", Name: "Queso Cremoso", Quantity: 5},
	})
	if !errors.Is(err, errForcedOutage) {
		t.Fatalf("expected the forced outage, got %v", err)
	}

	qty, _ := repo.BranchStock(ctx, "item-huevos", "br-centro")
	if qty != 80 {
		t.Fatalf("expected huevos restored to 80, got %d", qty)
	}
	qty, _ = repo.BranchStock(ctx, "item-queso", "br-centro")
	if qty != 80 {
		t.Fatalf("expected queso untouched at 80, got %d", qty)
	}
}

func TestTransferAllMidSequenceFailureReversesAppliedLines(t *testing.T) {
	repo := &faultyStockRepo{Store: memory.NewSeeded(), failTransferOn: 2}
	led := New(repo)
	ctx := context.Background()

	_, err := led.TransferAll(ctx, "br-centro", "br-norte", []Line{
		{ItemID: "item-leche", Name: "Leche Entera 1L", Quantity: 15},
		{ItemID: "item-pan", Name: "Pan de Campo", Quantity: 5},
	})
	if !errors.Is(err, errForcedOutage) {
		t.Fatalf("expected the forced outage, got %v", err)
	}

	qty, _ := repo.BranchStock(ctx, "item-leche", "br-centro")
	if qty != 80 {
		t.Fatalf("expected leche reversed to 80 at centro, got %d", qty)
	}
	qty, _ = repo.BranchStock(ctx, "item-leche", "br-norte")
	if qty != 40 {
		t.Fatalf("expected leche reversed to 40 at norte, got %d", qty)
	}
	qty, _ = repo.BranchStock(ctx, "item-pan", "br-centro")
	if qty != 80 {
		t.Fatalf("expected pan untouched at 80, got %d", qty)
	}
}

func TestDeductNeverDrivesBelowZero(t *testing.T) {
	led, _ := newTestLedger()
	ctx := context.Background()

	if err := led.Deduct(ctx, "item-pan", "br-norte", 40); err != nil {
		t.Fatalf("deduct failed: %v", err)
	}
	err := led.Deduct(ctx, "item-pan", "br-norte", 1)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	available, _ := led.Available(ctx, "item-pan", "br-norte")
	if available != 0 {
		t.Fatalf("expected 0 available, got %d", available)
	}
}

func TestAggregatePoolIsSeparateFromBranches(t *testing.T) {
	led, _ := newTestLedger()
	ctx := context.Background()

	available, err := led.Available(ctx, "item-miel", "")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if available != 120 {
		t.Fatalf("expected aggregate 120, got %d", available)
	}

	// A branch with no stock row reads zero even while the aggregate has stock.
	available, err = led.Available(ctx, "item-miel", "br-sur")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if available != 0 {
		t.Fatalf("expected 0 at unknown branch, got %d", available)
	}
}

func TestTransferAllRecordsBeforeAndAfter(t *testing.T) {
	led, repo := newTestLedger()
	ctx := context.Background()

	applied, err := led.TransferAll(ctx, "br-centro", "br-norte", []Line{
		{ItemID: "item-leche", Name: "Leche Entera 1L", Quantity: 15},
	})
	if err != nil {
		t.Fatalf("transfer all failed: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("expected 1 applied item, got %d", len(applied))
	}

	item := applied[0]
	if item.SourceQtyBefore != 80 || item.SourceQtyAfter != 65 {
		t.Fatalf("unexpected source snapshot: %+v", item)
	}
	if item.DestQtyBefore != 40 || item.DestQtyAfter != 55 {
		t.Fatalf("unexpected dest snapshot: %+v", item)
	}

	total, _ := repo.BranchStock(ctx, "item-leche", "")
	if total != 120 {
		t.Fatalf("transfer must not change the aggregate total, got %d", total)
	}
}

func TestTransferAllShortfallMovesNothing(t *testing.T) {
	led, repo := newTestLedger()
	ctx := context.Background()

	_, err := led.TransferAll(ctx, "br-norte", "br-centro", []Line{
		{ItemID: "item-yerba", Name: "Yerba Mate 1kg", Quantity: 5},
		{ItemID: "item-ddl", Name: "Dulce de Leche 400g", Quantity: 41},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	qty, _ := repo.BranchStock(ctx, "item-yerba", "br-norte")
	if qty != 40 {
		t.Fatalf("expected yerba untouched at 40, got %d", qty)
	}
	qty, _ = repo.BranchStock(ctx, "item-ddl", "br-centro")
	if qty != 80 {
		t.Fatalf("expected ddl untouched at 80, got %d", qty)
	}
}

func TestRestoreAllCreatesMissingBranchRow(t *testing.T) {
	led, repo := newTestLedger()
	ctx := context.Background()

	if err := led.RestoreAll(ctx, "br-sur", []Line{
		{ItemID: "item-tomate", Name: "Tomate Redondo", Quantity: 7},
	}); err != nil {
		t.Fatalf("restore all failed: %v", err)
	}

	qty, err := repo.BranchStock(ctx, "item-tomate", "br-sur")
	if err != nil {
		t.Fatalf("branch stock: %v", err)
	}
	if qty != 7 {
		t.Fatalf("expected 7 at new branch row, got %d", qty)
	}
	total, _ := repo.BranchStock(ctx, "item-tomate", "")
	if total != 127 {
		t.Fatalf("expected aggregate 127 after restore, got %d", total)
	}
}
