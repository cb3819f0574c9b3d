package domain

import (
	"strings"
	"time"
)

// Role is the single enumerated role type used everywhere past the auth
// boundary. Legacy spellings from imported data are collapsed by ParseRole.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleSeller  Role = "seller"
	RoleCashier Role = "cashier"
)

func ParseRole(raw string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "admin", "administrador":
		return RoleAdmin, true
	case "seller", "vendedor":
		return RoleSeller, true
	case "cashier", "cajero":
		return RoleCashier, true
	default:
		return "", false
	}
}

type Actor struct {
	ID       string
	Username string
	Name     string
	Email    string
	Role     Role
}

// BranchStock is one branch's quantity counter on a catalog item.
type BranchStock struct {
	BranchID         string `json:"branch_id"`
	Quantity         int    `json:"quantity"`
	MinimumThreshold int    `json:"minimum_threshold"`
}

type CatalogItem struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Barcode        string        `json:"barcode,omitempty"`
	Unit           string        `json:"unit"`
	UnitPriceCents int64         `json:"unit_price_cents"`
	ImageURL       string        `json:"image_url,omitempty"`
	TotalQuantity  int           `json:"total_quantity"`
	BranchStocks   []BranchStock `json:"branch_stocks,omitempty"`
}

type Branch struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PersonSnapshot is an immutable point-in-time copy of a staff identity,
// kept so historical orders display names as they were at sale time.
type PersonSnapshot struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type BranchSnapshot struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type LineItem struct {
	ItemID         string `json:"item_id"`
	Name           string `json:"name"`
	Barcode        string `json:"barcode,omitempty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
	SubtotalCents  int64  `json:"subtotal_cents"`
	ImageURL       string `json:"image_url,omitempty"`
}

type OrderState string

const (
	OrderOpen            OrderState = "open"
	OrderAwaitingPayment OrderState = "awaiting_payment"
	OrderCompleted       OrderState = "completed"
	OrderCancelled       OrderState = "cancelled"
)

func (s OrderState) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

type Order struct {
	ID            string          `json:"id"`
	Number        int64           `json:"number"`
	Seller        PersonSnapshot  `json:"seller"`
	Branch        *BranchSnapshot `json:"branch,omitempty"`
	Cashier       *PersonSnapshot `json:"cashier,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	LineItems     []LineItem      `json:"line_items"`
	TotalCents    int64           `json:"total_cents"`
	State         OrderState      `json:"state"`
	CancelReason  string          `json:"cancel_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
	Version       int             `json:"version"`
}

// BranchID returns the branch binding, "" when the order is branch-less
// (availability and commits then run against the aggregate pool).
func (o *Order) BranchID() string {
	if o.Branch == nil {
		return ""
	}
	return o.Branch.ID
}

type OrderCreateRequest struct {
	BranchID string `json:"branch_id,omitempty"`
}

type AddLineItemRequest struct {
	ItemID  string `json:"item_id,omitempty"`
	Barcode string `json:"barcode,omitempty"`
}

type SetLineItemQuantityRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type RemoveLineItemRequest struct {
	ItemID string `json:"item_id"`
}

type CompleteOrderRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

type ReassignBranchRequest struct {
	BranchID string `json:"branch_id"`
}

type OrderListFilter struct {
	State    OrderState
	SellerID string
	BranchID string
}

type TransferState string

const (
	TransferPending   TransferState = "pending"
	TransferCompleted TransferState = "completed"
	TransferCancelled TransferState = "cancelled"
)

// Transfer modes select whether stock moves at creation or at approval.
const (
	TransferModeImmediate = "immediate"
	TransferModeDeferred  = "deferred"
)

type TransferItem struct {
	ItemID          string `json:"item_id"`
	Name            string `json:"name"`
	Quantity        int    `json:"quantity"`
	SourceQtyBefore int    `json:"source_qty_before"`
	SourceQtyAfter  int    `json:"source_qty_after"`
	DestQtyBefore   int    `json:"dest_qty_before"`
	DestQtyAfter    int    `json:"dest_qty_after"`
}

type Transfer struct {
	ID           string          `json:"id"`
	Source       BranchSnapshot  `json:"source"`
	Dest         BranchSnapshot  `json:"dest"`
	Items        []TransferItem  `json:"items"`
	State        TransferState   `json:"state"`
	RequestedBy  PersonSnapshot  `json:"requested_by"`
	ApprovedBy   *PersonSnapshot `json:"approved_by,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ApprovedAt   *time.Time      `json:"approved_at,omitempty"`
	CancelledAt  *time.Time      `json:"cancelled_at,omitempty"`
	Version      int             `json:"version"`
}

type TransferItemRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type TransferCreateRequest struct {
	SourceBranchID string                `json:"source_branch_id"`
	DestBranchID   string                `json:"dest_branch_id"`
	Items          []TransferItemRequest `json:"items"`
	Mode           string                `json:"mode"`
	Notes          string                `json:"notes,omitempty"`
}

type TransferCancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type TransferListFilter struct {
	State    TransferState
	BranchID string
	ItemID   string
	From     time.Time
	To       time.Time
}

// StockAlert is a branch stock row at or below its minimum threshold.
type StockAlert struct {
	BranchID         string `json:"branch_id"`
	BranchName       string `json:"branch_name"`
	ItemID           string `json:"item_id"`
	ItemName         string `json:"item_name"`
	Quantity         int    `json:"quantity"`
	MinimumThreshold int    `json:"minimum_threshold"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id,omitempty"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	Name        string `json:"name"`
	ExpiresAt   string `json:"expires_at"`
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      Role
	Name      string
	Email     string
	Active    bool
	CreatedAt time.Time
}
