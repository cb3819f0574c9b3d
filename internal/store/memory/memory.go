package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"saboracampo/backend/internal/domain"
	"saboracampo/backend/internal/store"
)

type Store struct {
	mu        sync.RWMutex
	items     map[string]*domain.CatalogItem
	branches  map[string]domain.Branch
	orders    map[string]*domain.Order
	transfers map[string]*domain.Transfer
	auditLogs []domain.AuditLog
	users     map[string]domain.UserAccount
	orderSeq  int64
}

// seedUsers builds the initial in-memory staff accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD, SEED_SELLER_PASSWORD and
// SEED_CASHIER_PASSWORD; hardcoded dev defaults are used otherwise with a
// warning. Production deployments use PostgreSQL (DATABASE_URL set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	sellerPwd := envOr("SEED_SELLER_PASSWORD", "seller123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SELLER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_*_PASSWORD variables to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     domain.Role
		name     string
		email    string
	}{
		{"admin", adminPwd, domain.RoleAdmin, "Administrador", "admin@saboracampo.local"},
		{"seller", sellerPwd, domain.RoleSeller, "Vendedor Demo", "seller@saboracampo.local"},
		{"cashier", cashierPwd, domain.RoleCashier, "Cajero Demo", "cashier@saboracampo.local"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Name:      u.name,
			Email:     u.email,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	branches := []domain.Branch{
		{ID: "br-centro", Name: "Sucursal Centro"},
		{ID: "br-norte", Name: "Sucursal Norte"},
	}

	seed := []domain.CatalogItem{
		{ID: "item-huevos", Name: "Huevos de Campo x12", Barcode: "7790001000011", Unit: "unidad", UnitPriceCents: 320000},
		{ID: "item-queso", Name: "Queso Cremoso", Barcode: "7790001000028", Unit: "kg", UnitPriceCents: 780000},
		{ID: "item-leche", Name: "Leche Entera 1L", Barcode: "7790001000035", Unit: "unidad", UnitPriceCents: 145000},
		{ID: "item-yerba", Name: "Yerba Mate 1kg", Barcode: "7790001000042", Unit: "unidad", UnitPriceCents: 560000},
		{ID: "item-miel", Name: "Miel Pura 500g", Barcode: "7790001000059", Unit: "unidad", UnitPriceCents: 410000},
		{ID: "item-ddl", Name: "Dulce de Leche 400g", Barcode: "7790001000066", Unit: "unidad", UnitPriceCents: 280000},
		{ID: "item-pan", Name: "Pan de Campo", Barcode: "7790001000073", Unit: "unidad", UnitPriceCents: 190000},
		{ID: "item-salame", Name: "Salame Picado Grueso", Barcode: "7790001000080", Unit: "kg", UnitPriceCents: 950000},
		{ID: "item-tomate", Name: "Tomate Redondo", Barcode: "7790001000097", Unit: "kg", UnitPriceCents: 160000},
		{ID: "item-harina", Name: "Harina 000 1kg", Barcode: "7790001000103", Unit: "unidad", UnitPriceCents: 98000},
	}

	items := make(map[string]*domain.CatalogItem, len(seed))
	for i := range seed {
		item := seed[i]
		item.BranchStocks = []domain.BranchStock{
			{BranchID: "br-centro", Quantity: 80, MinimumThreshold: 10},
			{BranchID: "br-norte", Quantity: 40, MinimumThreshold: 10},
		}
		item.TotalQuantity = 120
		items[item.ID] = &item
	}

	branchMap := make(map[string]domain.Branch, len(branches))
	for _, b := range branches {
		branchMap[b.ID] = b
	}

	return &Store{
		items:     items,
		branches:  branchMap,
		orders:    make(map[string]*domain.Order),
		transfers: make(map[string]*domain.Transfer),
		auditLogs: make([]domain.AuditLog, 0, 128),
		users:     seedUsers(),
	}
}

func (s *Store) FindItemByID(_ context.Context, id string) (*domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneItem(item), nil
}

func (s *Store) FindItemByBarcode(_ context.Context, code string) (*domain.CatalogItem, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, store.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.items {
		if item.Barcode == code {
			return cloneItem(item), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) SearchItems(_ context.Context, query string, limit int) ([]domain.CatalogItem, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if limit < 1 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CatalogItem, 0, limit)
	for _, item := range s.items {
		if query != "" && !strings.Contains(strings.ToLower(item.Name), query) && !strings.Contains(item.Barcode, query) {
			continue
		}
		result = append(result, *cloneItem(item))
	}

	slices.SortFunc(result, func(a, b domain.CatalogItem) int {
		return strings.Compare(a.Name, b.Name)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListItems(_ context.Context) ([]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CatalogItem, 0, len(s.items))
	for _, item := range s.items {
		result = append(result, *cloneItem(item))
	}
	slices.SortFunc(result, func(a, b domain.CatalogItem) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) FindBranchByID(_ context.Context, id string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, ok := s.branches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyBranch := branch
	return &copyBranch, nil
}

func (s *Store) ListBranches(_ context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Branch, 0, len(s.branches))
	for _, branch := range s.branches {
		result = append(result, branch)
	}
	slices.SortFunc(result, func(a, b domain.Branch) int {
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) BranchStock(_ context.Context, itemID string, branchID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if branchID == "" {
		return item.TotalQuantity, nil
	}
	for _, row := range item.BranchStocks {
		if row.BranchID == branchID {
			return row.Quantity, nil
		}
	}
	// Absent branch row reads as zero, not as the aggregate: an item never
	// sells from another branch's pool by accident.
	return 0, nil
}

func (s *Store) DeductStock(_ context.Context, itemID string, branchID string, qty int) error {
	if qty < 1 {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return store.ErrNotFound
	}

	if branchID == "" {
		// The unbranched pool is its own stock row with an empty branch id,
		// so the aggregate recompute keeps branch-less commitments.
		if item.TotalQuantity < qty {
			return &store.InsufficientStockError{ItemID: itemID, ItemName: item.Name, Requested: qty, Available: item.TotalQuantity}
		}
		idx := branchRowIndex(item, "")
		if idx < 0 {
			item.BranchStocks = append(item.BranchStocks, domain.BranchStock{BranchID: ""})
			idx = len(item.BranchStocks) - 1
		}
		item.BranchStocks[idx].Quantity -= qty
		recomputeTotal(item)
		return nil
	}

	idx := branchRowIndex(item, branchID)
	available := 0
	if idx >= 0 {
		available = item.BranchStocks[idx].Quantity
	}
	if available < qty {
		return &store.InsufficientStockError{ItemID: itemID, ItemName: item.Name, BranchID: branchID, Requested: qty, Available: available}
	}
	item.BranchStocks[idx].Quantity -= qty
	recomputeTotal(item)
	return nil
}

func (s *Store) RestoreStock(_ context.Context, itemID string, branchID string, qty int) error {
	if qty < 1 {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return store.ErrNotFound
	}

	if branchID == "" {
		idx := branchRowIndex(item, "")
		if idx < 0 {
			item.BranchStocks = append(item.BranchStocks, domain.BranchStock{BranchID: "", Quantity: qty})
		} else {
			item.BranchStocks[idx].Quantity += qty
		}
		recomputeTotal(item)
		return nil
	}

	idx := branchRowIndex(item, branchID)
	if idx < 0 {
		item.BranchStocks = append(item.BranchStocks, domain.BranchStock{BranchID: branchID, Quantity: qty})
	} else {
		item.BranchStocks[idx].Quantity += qty
	}
	recomputeTotal(item)
	return nil
}

func (s *Store) TransferStock(_ context.Context, itemID string, sourceBranchID string, destBranchID string, qty int) error {
	if qty < 1 || sourceBranchID == "" || destBranchID == "" || sourceBranchID == destBranchID {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return store.ErrNotFound
	}

	srcIdx := branchRowIndex(item, sourceBranchID)
	available := 0
	if srcIdx >= 0 {
		available = item.BranchStocks[srcIdx].Quantity
	}
	if available < qty {
		return &store.InsufficientStockError{ItemID: itemID, ItemName: item.Name, BranchID: sourceBranchID, Requested: qty, Available: available}
	}

	item.BranchStocks[srcIdx].Quantity -= qty
	dstIdx := branchRowIndex(item, destBranchID)
	if dstIdx < 0 {
		item.BranchStocks = append(item.BranchStocks, domain.BranchStock{BranchID: destBranchID, Quantity: qty})
	} else {
		item.BranchStocks[dstIdx].Quantity += qty
	}
	recomputeTotal(item)
	return nil
}

func (s *Store) NextOrderNumber(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orderSeq++
	return s.orderSeq, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" || order.Number < 1 || order.Seller.ID == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return nil, store.ErrValidation
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.Version = 1
	s.orders[order.ID] = cloneOrder(&order)
	return cloneOrder(&order), nil
}

func (s *Store) GetOrderByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) UpdateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.orders[order.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if existing.Version != order.Version {
		return nil, store.ErrConflict
	}
	order.Version++
	s.orders[order.ID] = cloneOrder(&order)
	return cloneOrder(&order), nil
}

func (s *Store) DeleteOrder(_ context.Context, id string, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return store.ErrConflict
	}
	delete(s.orders, id)
	return nil
}

func (s *Store) ListOrders(_ context.Context, filter domain.OrderListFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if filter.State != "" && order.State != filter.State {
			continue
		}
		if filter.SellerID != "" && order.Seller.ID != filter.SellerID {
			continue
		}
		if filter.BranchID != "" && order.BranchID() != filter.BranchID {
			continue
		}
		result = append(result, *cloneOrder(order))
	}

	slices.SortFunc(result, func(a, b domain.Order) int {
		if a.Number == b.Number {
			return 0
		}
		if a.Number > b.Number {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) CreateTransfer(_ context.Context, transfer domain.Transfer) (*domain.Transfer, error) {
	if transfer.ID == "" || transfer.Source.ID == "" || transfer.Dest.ID == "" || len(transfer.Items) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transfers[transfer.ID]; exists {
		return nil, store.ErrValidation
	}
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = time.Now().UTC()
	}
	transfer.Version = 1
	s.transfers[transfer.ID] = cloneTransfer(&transfer)
	return cloneTransfer(&transfer), nil
}

func (s *Store) GetTransferByID(_ context.Context, id string) (*domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transfer, ok := s.transfers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransfer(transfer), nil
}

func (s *Store) UpdateTransfer(_ context.Context, transfer domain.Transfer) (*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.transfers[transfer.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if existing.Version != transfer.Version {
		return nil, store.ErrConflict
	}
	transfer.Version++
	s.transfers[transfer.ID] = cloneTransfer(&transfer)
	return cloneTransfer(&transfer), nil
}

func (s *Store) ListTransfers(_ context.Context, filter domain.TransferListFilter) ([]domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transfer, 0, len(s.transfers))
	for _, transfer := range s.transfers {
		if filter.State != "" && transfer.State != filter.State {
			continue
		}
		if filter.BranchID != "" && transfer.Source.ID != filter.BranchID && transfer.Dest.ID != filter.BranchID {
			continue
		}
		if filter.ItemID != "" && !transferHasItem(transfer, filter.ItemID) {
			continue
		}
		if !filter.From.IsZero() && transfer.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !transfer.CreatedAt.Before(filter.To) {
			continue
		}
		result = append(result, *cloneTransfer(transfer))
	}

	slices.SortFunc(result, func(a, b domain.Transfer) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLogs[i]
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if _, exists := s.users[user.Username]; exists {
		return fmt.Errorf("%w: username already exists", store.ErrValidation)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		result = append(result, user)
	}
	slices.SortFunc(result, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func branchRowIndex(item *domain.CatalogItem, branchID string) int {
	for i, row := range item.BranchStocks {
		if row.BranchID == branchID {
			return i
		}
	}
	return -1
}

func recomputeTotal(item *domain.CatalogItem) {
	total := 0
	for _, row := range item.BranchStocks {
		total += row.Quantity
	}
	item.TotalQuantity = total
}

func transferHasItem(transfer *domain.Transfer, itemID string) bool {
	for _, item := range transfer.Items {
		if item.ItemID == itemID {
			return true
		}
	}
	return false
}

func cloneItem(item *domain.CatalogItem) *domain.CatalogItem {
	copyItem := *item
	copyItem.BranchStocks = slices.Clone(item.BranchStocks)
	return &copyItem
}

func cloneOrder(order *domain.Order) *domain.Order {
	copyOrder := *order
	copyOrder.LineItems = slices.Clone(order.LineItems)
	if order.Branch != nil {
		branch := *order.Branch
		copyOrder.Branch = &branch
	}
	if order.Cashier != nil {
		cashier := *order.Cashier
		copyOrder.Cashier = &cashier
	}
	copyOrder.ClosedAt = cloneTime(order.ClosedAt)
	copyOrder.CompletedAt = cloneTime(order.CompletedAt)
	copyOrder.CancelledAt = cloneTime(order.CancelledAt)
	return &copyOrder
}

func cloneTransfer(transfer *domain.Transfer) *domain.Transfer {
	copyTransfer := *transfer
	copyTransfer.Items = slices.Clone(transfer.Items)
	if transfer.ApprovedBy != nil {
		approver := *transfer.ApprovedBy
		copyTransfer.ApprovedBy = &approver
	}
	copyTransfer.ApprovedAt = cloneTime(transfer.ApprovedAt)
	copyTransfer.CancelledAt = cloneTime(transfer.CancelledAt)
	return &copyTransfer
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copyT := *t
	return &copyT
}
