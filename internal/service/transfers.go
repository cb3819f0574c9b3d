package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"saboracampo/backend/internal/domain"
	"saboracampo/backend/internal/ledger"
	"saboracampo/backend/internal/store"
	"saboracampo/backend/internal/xid"
)

// normalizeTransferLines merges duplicate item ids, validates quantities and
// resolves catalog names. Order of first appearance is preserved.
func (s *Service) normalizeTransferLines(ctx context.Context, items []domain.TransferItemRequest) ([]ledger.Line, error) {
	if len(items) == 0 {
		return nil, store.ErrValidation
	}

	index := make(map[string]int, len(items))
	lines := make([]ledger.Line, 0, len(items))
	for _, it := range items {
		id := strings.TrimSpace(it.ItemID)
		if id == "" || it.Quantity < 1 {
			return nil, store.ErrValidation
		}
		if at, ok := index[id]; ok {
			lines[at].Quantity += it.Quantity
			continue
		}
		item, err := s.repo.FindItemByID(ctx, id)
		if err != nil {
			return nil, err
		}
		index[id] = len(lines)
		lines = append(lines, ledger.Line{ItemID: item.ID, Name: item.Name, Quantity: it.Quantity})
	}
	return lines, nil
}

func pendingItems(lines []ledger.Line) []domain.TransferItem {
	items := make([]domain.TransferItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.TransferItem{ItemID: line.ItemID, Name: line.Name, Quantity: line.Quantity})
	}
	return items
}

func transferLines(transfer *domain.Transfer) []ledger.Line {
	lines := make([]ledger.Line, 0, len(transfer.Items))
	for _, it := range transfer.Items {
		lines = append(lines, ledger.Line{ItemID: it.ItemID, Name: it.Name, Quantity: it.Quantity})
	}
	return lines
}

// CreateTransfer requests a stock move between two branches. Immediate mode
// applies the move on the spot and records the requester as approver;
// deferred mode leaves it pending until an admin approves. Stock moves as
// one unit in either case.
func (s *Service) CreateTransfer(ctx context.Context, req domain.TransferCreateRequest) (*domain.Transfer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = domain.TransferModeDeferred
	}
	if mode != domain.TransferModeImmediate && mode != domain.TransferModeDeferred {
		return nil, store.ErrValidation
	}
	if mode == domain.TransferModeImmediate && actor.Role != domain.RoleAdmin {
		return nil, store.ErrForbidden
	}

	if req.SourceBranchID == req.DestBranchID {
		return nil, store.ErrValidation
	}
	source, err := s.repo.FindBranchByID(ctx, req.SourceBranchID)
	if err != nil {
		return nil, err
	}
	dest, err := s.repo.FindBranchByID(ctx, req.DestBranchID)
	if err != nil {
		return nil, err
	}

	lines, err := s.normalizeTransferLines(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	transfer := domain.Transfer{
		ID:          xid.New("trf"),
		Source:      domain.BranchSnapshot{ID: source.ID, Name: source.Name},
		Dest:        domain.BranchSnapshot{ID: dest.ID, Name: dest.Name},
		State:       domain.TransferPending,
		RequestedBy: snapshotOf(actor),
		Notes:       req.Notes,
		CreatedAt:   now,
	}

	if mode == domain.TransferModeImmediate {
		applied, err := s.ledger.TransferAll(ctx, source.ID, dest.ID, lines)
		if err != nil {
			return nil, err
		}
		approver := snapshotOf(actor)
		transfer.Items = applied
		transfer.State = domain.TransferCompleted
		transfer.ApprovedBy = &approver
		transfer.ApprovedAt = &now
	} else {
		transfer.Items = pendingItems(lines)
	}

	created, err := s.repo.CreateTransfer(ctx, transfer)
	if err != nil {
		if transfer.State == domain.TransferCompleted {
			s.ledger.TransferAll(ctx, dest.ID, source.ID, lines)
		}
		return nil, err
	}

	s.logAudit(ctx, source.ID, "transfer_create", "transfer", created.ID,
		fmt.Sprintf("%s transfer of %d items %s -> %s", mode, len(created.Items), source.Name, dest.Name))
	return created, nil
}

func (s *Service) GetTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.GetTransferByID(ctx, id)
}

func (s *Service) ListTransfers(ctx context.Context, filter domain.TransferListFilter) ([]domain.Transfer, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListTransfers(ctx, filter)
}

// ApproveTransfer applies a pending transfer. Availability is re-checked
// against current source stock; a shortfall leaves the transfer pending so
// it can be approved later or cancelled.
func (s *Service) ApproveTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin {
		return nil, store.ErrForbidden
	}

	transfer, err := s.repo.GetTransferByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if transfer.State != domain.TransferPending {
		return nil, store.ErrInvalidState
	}

	lines := transferLines(transfer)
	applied, err := s.ledger.TransferAll(ctx, transfer.Source.ID, transfer.Dest.ID, lines)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	approver := snapshotOf(actor)
	transfer.Items = applied
	transfer.State = domain.TransferCompleted
	transfer.ApprovedBy = &approver
	transfer.ApprovedAt = &now

	updated, err := s.repo.UpdateTransfer(ctx, *transfer)
	if err != nil {
		s.ledger.TransferAll(ctx, transfer.Dest.ID, transfer.Source.ID, lines)
		return nil, err
	}

	s.logAudit(ctx, updated.Source.ID, "transfer_approve", "transfer", updated.ID,
		fmt.Sprintf("transfer %s -> %s approved, %d items", updated.Source.Name, updated.Dest.Name, len(updated.Items)))
	return updated, nil
}

// CancelTransfer withdraws a pending transfer. Admins may cancel any,
// the requester their own. Completed transfers cannot be cancelled.
func (s *Service) CancelTransfer(ctx context.Context, id string, req domain.TransferCancelRequest) (*domain.Transfer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	transfer, err := s.repo.GetTransferByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin && actor.ID != transfer.RequestedBy.ID {
		return nil, store.ErrForbidden
	}
	if transfer.State != domain.TransferPending {
		return nil, store.ErrInvalidState
	}

	now := time.Now().UTC()
	transfer.State = domain.TransferCancelled
	transfer.CancelReason = req.Reason
	transfer.CancelledAt = &now

	updated, err := s.repo.UpdateTransfer(ctx, *transfer)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, updated.Source.ID, "transfer_cancel", "transfer", updated.ID,
		fmt.Sprintf("transfer %s -> %s cancelled: %s", updated.Source.Name, updated.Dest.Name, req.Reason))
	return updated, nil
}
