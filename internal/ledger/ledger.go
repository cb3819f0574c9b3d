// Package ledger is the sole mutator of branch and aggregate stock counts.
// Order and transfer code never touches stock except through it.
package ledger

import (
	"context"
	"fmt"
	"log"

	"saboracampo/backend/internal/domain"
	"saboracampo/backend/internal/store"
)

type Ledger struct {
	repo store.Repository
}

func New(repo store.Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Available returns the quantity at hand for the item; branchID "" reads
// the aggregate pool. An item with no row for the branch reads as zero.
func (l *Ledger) Available(ctx context.Context, itemID string, branchID string) (int, error) {
	return l.repo.BranchStock(ctx, itemID, branchID)
}

// Deduct decrements stock, failing with an InsufficientStockError carrying
// the actual available quantity when qty exceeds it. The underlying store
// applies it as a single conditional update.
func (l *Ledger) Deduct(ctx context.Context, itemID string, branchID string, qty int) error {
	return l.repo.DeductStock(ctx, itemID, branchID, qty)
}

// Restore is the symmetric increment; it has no upper bound.
func (l *Ledger) Restore(ctx context.Context, itemID string, branchID string, qty int) error {
	return l.repo.RestoreStock(ctx, itemID, branchID, qty)
}

// Transfer moves qty between branches; if the source deduct fails nothing
// is mutated.
func (l *Ledger) Transfer(ctx context.Context, itemID string, sourceBranchID string, destBranchID string, qty int) error {
	return l.repo.TransferStock(ctx, itemID, sourceBranchID, destBranchID, qty)
}

// Line is one item/quantity pair of a multi-line commit.
type Line struct {
	ItemID   string
	Name     string
	Quantity int
}

// DeductAll commits every line or none: it validates every line's
// availability before mutating any, and undoes already-applied lines if a
// deduct still fails mid-sequence (stock may move between the passes).
// A failed compensation is logged as an ALERT for manual reconciliation.
func (l *Ledger) DeductAll(ctx context.Context, branchID string, lines []Line) error {
	for _, line := range lines {
		available, err := l.repo.BranchStock(ctx, line.ItemID, branchID)
		if err != nil {
			return err
		}
		if available < line.Quantity {
			return &store.InsufficientStockError{
				ItemID:    line.ItemID,
				ItemName:  line.Name,
				BranchID:  branchID,
				Requested: line.Quantity,
				Available: available,
			}
		}
	}

	for i, line := range lines {
		if err := l.repo.DeductStock(ctx, line.ItemID, branchID, line.Quantity); err != nil {
			l.compensateDeducts(ctx, branchID, lines[:i])
			return err
		}
	}
	return nil
}

// RestoreAll increments every line; restores have no precondition so a
// mid-sequence failure can only come from the store itself and is alerted.
func (l *Ledger) RestoreAll(ctx context.Context, branchID string, lines []Line) error {
	for _, line := range lines {
		if err := l.repo.RestoreStock(ctx, line.ItemID, branchID, line.Quantity); err != nil {
			log.Printf("[ledger] ALERT: restore failed mid-sequence item=%s branch=%s qty=%d: %v, manual reconciliation required", line.ItemID, branchID, line.Quantity, err)
			return fmt.Errorf("restore %s: %w", line.ItemID, err)
		}
	}
	return nil
}

// TransferAll moves every line from source to dest, recording before/after
// snapshots for the transfer audit trail. Validation of every line precedes
// any mutation; a mid-sequence failure reverses the lines already moved.
func (l *Ledger) TransferAll(ctx context.Context, sourceBranchID string, destBranchID string, lines []Line) ([]domain.TransferItem, error) {
	for _, line := range lines {
		available, err := l.repo.BranchStock(ctx, line.ItemID, sourceBranchID)
		if err != nil {
			return nil, err
		}
		if available < line.Quantity {
			return nil, &store.InsufficientStockError{
				ItemID:    line.ItemID,
				ItemName:  line.Name,
				BranchID:  sourceBranchID,
				Requested: line.Quantity,
				Available: available,
			}
		}
	}

	applied := make([]domain.TransferItem, 0, len(lines))
	for _, line := range lines {
		sourceBefore, err := l.repo.BranchStock(ctx, line.ItemID, sourceBranchID)
		if err != nil {
			l.compensateTransfers(ctx, sourceBranchID, destBranchID, applied)
			return nil, err
		}
		destBefore, err := l.repo.BranchStock(ctx, line.ItemID, destBranchID)
		if err != nil {
			l.compensateTransfers(ctx, sourceBranchID, destBranchID, applied)
			return nil, err
		}

		if err := l.repo.TransferStock(ctx, line.ItemID, sourceBranchID, destBranchID, line.Quantity); err != nil {
			l.compensateTransfers(ctx, sourceBranchID, destBranchID, applied)
			return nil, err
		}

		applied = append(applied, domain.TransferItem{
			ItemID:          line.ItemID,
			Name:            line.Name,
			Quantity:        line.Quantity,
			SourceQtyBefore: sourceBefore,
			SourceQtyAfter:  sourceBefore - line.Quantity,
			DestQtyBefore:   destBefore,
			DestQtyAfter:    destBefore + line.Quantity,
		})
	}
	return applied, nil
}

func (l *Ledger) compensateDeducts(ctx context.Context, branchID string, applied []Line) {
	for _, line := range applied {
		if err := l.repo.RestoreStock(ctx, line.ItemID, branchID, line.Quantity); err != nil {
			log.Printf("[ledger] ALERT: compensation failed item=%s branch=%s qty=%d: %v, manual reconciliation required", line.ItemID, branchID, line.Quantity, err)
		}
	}
}

func (l *Ledger) compensateTransfers(ctx context.Context, sourceBranchID string, destBranchID string, applied []domain.TransferItem) {
	for _, item := range applied {
		if err := l.repo.TransferStock(ctx, item.ItemID, destBranchID, sourceBranchID, item.Quantity); err != nil {
			log.Printf("[ledger] ALERT: transfer compensation failed item=%s %s->%s qty=%d: %v, manual reconciliation required", item.ItemID, destBranchID, sourceBranchID, item.Quantity, err)
		}
	}
}
