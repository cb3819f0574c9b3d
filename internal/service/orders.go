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

func canEditOrder(actor domain.Actor, order *domain.Order) bool {
	return actor.Role == domain.RoleAdmin || actor.ID == order.Seller.ID
}

func orderLines(order *domain.Order) []ledger.Line {
	lines := make([]ledger.Line, 0, len(order.LineItems))
	for _, li := range order.LineItems {
		lines = append(lines, ledger.Line{ItemID: li.ItemID, Name: li.Name, Quantity: li.Quantity})
	}
	return lines
}

func recomputeTotal(order *domain.Order) {
	var total int64
	for i := range order.LineItems {
		order.LineItems[i].SubtotalCents = order.LineItems[i].UnitPriceCents * int64(order.LineItems[i].Quantity)
		total += order.LineItems[i].SubtotalCents
	}
	order.TotalCents = total
}

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (*domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	var branch *domain.BranchSnapshot
	if req.BranchID != "" {
		found, err := s.repo.FindBranchByID(ctx, req.BranchID)
		if err != nil {
			return nil, err
		}
		branch = &domain.BranchSnapshot{ID: found.ID, Name: found.Name}
	}

	number, err := s.repo.NextOrderNumber(ctx)
	if err != nil {
		return nil, err
	}

	order := domain.Order{
		ID:        xid.New("ord"),
		Number:    number,
		Seller:    snapshotOf(actor),
		Branch:    branch,
		LineItems: []domain.LineItem{},
		State:     domain.OrderOpen,
		CreatedAt: time.Now().UTC(),
	}

	created, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, created.BranchID(), "order_create", "order", created.ID, fmt.Sprintf("order #%d opened", created.Number))
	return created, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.GetOrderByID(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, filter domain.OrderListFilter) ([]domain.Order, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListOrders(ctx, filter)
}

// AddLineItem appends one unit of an item to an open order, or bumps the
// quantity when the item is already on it. The unit price is frozen from the
// catalog at this moment and never re-read.
func (s *Service) AddLineItem(ctx context.Context, orderID string, req domain.AddLineItemRequest) (*domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canEditOrder(actor, order) {
		return nil, store.ErrForbidden
	}
	if order.State != domain.OrderOpen {
		return nil, store.ErrInvalidState
	}

	var item domain.CatalogItem
	switch {
	case strings.TrimSpace(req.ItemID) != "":
		item, err = s.LookupItemByID(ctx, req.ItemID)
	case strings.TrimSpace(req.Barcode) != "":
		item, err = s.LookupItemByBarcode(ctx, req.Barcode)
	default:
		return nil, store.ErrValidation
	}
	if err != nil {
		return nil, err
	}

	prospective := 1
	existing := -1
	for i := range order.LineItems {
		if order.LineItems[i].ItemID == item.ID {
			existing = i
			prospective = order.LineItems[i].Quantity + 1
			break
		}
	}

	available, err := s.ledger.Available(ctx, item.ID, order.BranchID())
	if err != nil {
		return nil, err
	}
	if prospective > available {
		return nil, &store.InsufficientStockError{
			ItemID:    item.ID,
			ItemName:  item.Name,
			BranchID:  order.BranchID(),
			Requested: prospective,
			Available: available,
		}
	}

	if existing >= 0 {
		order.LineItems[existing].Quantity = prospective
	} else {
		order.LineItems = append(order.LineItems, domain.LineItem{
			ItemID:         item.ID,
			Name:           item.Name,
			Barcode:        item.Barcode,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       1,
			ImageURL:       item.ImageURL,
		})
	}
	recomputeTotal(order)

	return s.repo.UpdateOrder(ctx, *order)
}

// SetLineItemQuantity sets the absolute quantity of a line on an open order.
// Zero or negative removes the line.
func (s *Service) SetLineItemQuantity(ctx context.Context, orderID string, req domain.SetLineItemQuantityRequest) (*domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canEditOrder(actor, order) {
		return nil, store.ErrForbidden
	}
	if order.State != domain.OrderOpen {
		return nil, store.ErrInvalidState
	}

	idx := -1
	for i := range order.LineItems {
		if order.LineItems[i].ItemID == req.ItemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, store.ErrNotFound
	}

	if req.Quantity < 1 {
		order.LineItems = append(order.LineItems[:idx], order.LineItems[idx+1:]...)
		recomputeTotal(order)
		return s.repo.UpdateOrder(ctx, *order)
	}

	available, err := s.ledger.Available(ctx, req.ItemID, order.BranchID())
	if err != nil {
		return nil, err
	}
	if req.Quantity > available {
		return nil, &store.InsufficientStockError{
			ItemID:    req.ItemID,
			ItemName:  order.LineItems[idx].Name,
			BranchID:  order.BranchID(),
			Requested: req.Quantity,
			Available: available,
		}
	}

	order.LineItems[idx].Quantity = req.Quantity
	recomputeTotal(order)

	return s.repo.UpdateOrder(ctx, *order)
}

func (s *Service) RemoveLineItem(ctx context.Context, orderID string, req domain.RemoveLineItemRequest) (*domain.Order, error) {
	return s.SetLineItemQuantity(ctx, orderID, domain.SetLineItemQuantityRequest{ItemID: req.ItemID, Quantity: 0})
}

// CloseOrder transitions an open order to awaiting payment. This is the
// moment stock commits: every line is deducted from the order's branch in
// one all-or-nothing pass, so a shortfall on any line leaves the order open
// and no stock touched.
func (s *Service) CloseOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canEditOrder(actor, order) {
		return nil, store.ErrForbidden
	}
	if order.State != domain.OrderOpen {
		return nil, store.ErrInvalidState
	}
	if len(order.LineItems) == 0 {
		return nil, store.ErrValidation
	}

	lines := orderLines(order)
	if err := s.ledger.DeductAll(ctx, order.BranchID(), lines); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order.State = domain.OrderAwaitingPayment
	order.ClosedAt = &now
	recomputeTotal(order)

	updated, err := s.repo.UpdateOrder(ctx, *order)
	if err != nil {
		s.ledger.RestoreAll(ctx, order.BranchID(), lines)
		return nil, err
	}

	s.logAudit(ctx, updated.BranchID(), "order_close", "order", updated.ID,
		fmt.Sprintf("order #%d closed, %d lines, total %d cents", updated.Number, len(updated.LineItems), updated.TotalCents))
	return updated, nil
}

// ReopenOrder returns an awaiting-payment order to open for line edits,
// restoring the stock the close deducted.
func (s *Service) ReopenOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canEditOrder(actor, order) {
		return nil, store.ErrForbidden
	}
	if order.State != domain.OrderAwaitingPayment {
		return nil, store.ErrInvalidState
	}

	order.State = domain.OrderOpen
	order.ClosedAt = nil

	updated, err := s.repo.UpdateOrder(ctx, *order)
	if err != nil {
		return nil, err
	}

	s.ledger.RestoreAll(ctx, updated.BranchID(), orderLines(updated))
	s.logAudit(ctx, updated.BranchID(), "order_reopen", "order", updated.ID, fmt.Sprintf("order #%d reopened", updated.Number))
	return updated, nil
}

// CompleteOrder records the payment against an awaiting-payment order.
// Stock was already committed at close, so this only finalizes state.
func (s *Service) CompleteOrder(ctx context.Context, orderID string, req domain.CompleteOrderRequest) (*domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin && actor.Role != domain.RoleCashier {
		return nil, store.ErrForbidden
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.State != domain.OrderAwaitingPayment {
		return nil, store.ErrInvalidState
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return nil, store.ErrValidation
	}

	now := time.Now().UTC()
	cashier := snapshotOf(actor)
	order.State = domain.OrderCompleted
	order.Cashier = &cashier
	order.PaymentMethod = req.PaymentMethod
	order.CompletedAt = &now

	updated, err := s.repo.UpdateOrder(ctx, *order)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, updated.BranchID(), "order_complete", "order", updated.ID,
		fmt.Sprintf("order #%d paid via %s, total %d cents", updated.Number, updated.PaymentMethod, updated.TotalCents))
	return updated, nil
}

// CancelOrder cancels a non-terminal order. Cancelling from awaiting payment
// restores the stock committed at close; cancelling from open touches none.
func (s *Service) CancelOrder(ctx context.Context, orderID string, req domain.CancelOrderRequest) (*domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canEditOrder(actor, order) {
		return nil, store.ErrForbidden
	}
	if order.State.Terminal() {
		return nil, store.ErrInvalidState
	}

	wasClosed := order.State == domain.OrderAwaitingPayment

	now := time.Now().UTC()
	order.State = domain.OrderCancelled
	order.CancelReason = req.Reason
	order.CancelledAt = &now

	updated, err := s.repo.UpdateOrder(ctx, *order)
	if err != nil {
		return nil, err
	}

	if wasClosed {
		s.ledger.RestoreAll(ctx, updated.BranchID(), orderLines(updated))
	}

	s.logAudit(ctx, updated.BranchID(), "order_cancel", "order", updated.ID,
		fmt.Sprintf("order #%d cancelled: %s", updated.Number, req.Reason))
	return updated, nil
}

// ReassignBranch moves an order to another branch. For a closed order the
// commit follows: stock is deducted at the new branch first, and restored at
// the old one only once the move sticks, so a shortfall leaves the order
// bound and committed where it was.
func (s *Service) ReassignBranch(ctx context.Context, orderID string, req domain.ReassignBranchRequest) (*domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canEditOrder(actor, order) {
		return nil, store.ErrForbidden
	}
	if order.State.Terminal() {
		return nil, store.ErrInvalidState
	}

	if strings.TrimSpace(req.BranchID) == "" {
		return nil, store.ErrValidation
	}
	branch, err := s.repo.FindBranchByID(ctx, req.BranchID)
	if err != nil {
		return nil, err
	}
	if order.BranchID() == branch.ID {
		return order, nil
	}

	oldBranchID := order.BranchID()
	lines := orderLines(order)

	if order.State == domain.OrderAwaitingPayment {
		if err := s.ledger.DeductAll(ctx, branch.ID, lines); err != nil {
			return nil, err
		}
	}

	order.Branch = &domain.BranchSnapshot{ID: branch.ID, Name: branch.Name}

	updated, err := s.repo.UpdateOrder(ctx, *order)
	if err != nil {
		if order.State == domain.OrderAwaitingPayment {
			s.ledger.RestoreAll(ctx, branch.ID, lines)
		}
		return nil, err
	}

	if updated.State == domain.OrderAwaitingPayment {
		s.ledger.RestoreAll(ctx, oldBranchID, lines)
	}

	s.logAudit(ctx, branch.ID, "order_reassign", "order", updated.ID,
		fmt.Sprintf("order #%d moved to branch %s", updated.Number, branch.Name))
	return updated, nil
}

// DeleteOrder removes an order outright. Completed orders are immutable
// history and cannot be deleted; a closed order gives its stock back first.
func (s *Service) DeleteOrder(ctx context.Context, orderID string) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if !canEditOrder(actor, order) {
		return store.ErrForbidden
	}
	if order.State == domain.OrderCompleted {
		return store.ErrInvalidState
	}

	if err := s.repo.DeleteOrder(ctx, order.ID, order.Version); err != nil {
		return err
	}

	if order.State == domain.OrderAwaitingPayment {
		s.ledger.RestoreAll(ctx, order.BranchID(), orderLines(order))
	}

	s.logAudit(ctx, order.BranchID(), "order_delete", "order", order.ID, fmt.Sprintf("order #%d deleted", order.Number))
	return nil
}
