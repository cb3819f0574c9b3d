package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"saboracampo/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("concurrent modification")
)

// InsufficientStockError carries the actual available quantity so callers
// can surface the real shortfall to register staff, never a generic message.
type InsufficientStockError struct {
	ItemID    string
	ItemName  string
	BranchID  string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	name := e.ItemName
	if name == "" {
		name = e.ItemID
	}
	if e.BranchID == "" {
		return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", name, e.Requested, e.Available)
	}
	return fmt.Sprintf("insufficient stock for %s at branch %s: requested %d, available %d", name, e.BranchID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// Repository is the persistence boundary. Stock mutation methods are
// atomic conditional updates: they either fully apply or leave the item
// untouched, even under concurrent callers.
type Repository interface {
	FindItemByID(ctx context.Context, id string) (*domain.CatalogItem, error)
	FindItemByBarcode(ctx context.Context, code string) (*domain.CatalogItem, error)
	SearchItems(ctx context.Context, query string, limit int) ([]domain.CatalogItem, error)
	ListItems(ctx context.Context) ([]domain.CatalogItem, error)

	FindBranchByID(ctx context.Context, id string) (*domain.Branch, error)
	ListBranches(ctx context.Context) ([]domain.Branch, error)

	// BranchStock returns the branch row quantity (0 when the item has no
	// row for that branch); branchID "" reads the aggregate.
	BranchStock(ctx context.Context, itemID string, branchID string) (int, error)
	DeductStock(ctx context.Context, itemID string, branchID string, qty int) error
	RestoreStock(ctx context.Context, itemID string, branchID string, qty int) error
	TransferStock(ctx context.Context, itemID string, sourceBranchID string, destBranchID string, qty int) error

	NextOrderNumber(ctx context.Context) (int64, error)
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	// UpdateOrder compares order.Version against the stored row and fails
	// with ErrConflict on interleaved writers; on success the stored
	// version is incremented.
	UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	DeleteOrder(ctx context.Context, id string, expectedVersion int) error
	ListOrders(ctx context.Context, filter domain.OrderListFilter) ([]domain.Order, error)

	CreateTransfer(ctx context.Context, transfer domain.Transfer) (*domain.Transfer, error)
	GetTransferByID(ctx context.Context, id string) (*domain.Transfer, error)
	UpdateTransfer(ctx context.Context, transfer domain.Transfer) (*domain.Transfer, error)
	ListTransfers(ctx context.Context, filter domain.TransferListFilter) ([]domain.Transfer, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
