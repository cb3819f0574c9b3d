package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"saboracampo/backend/internal/domain"
	"saboracampo/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) FindItemByID(ctx context.Context, id string) (*domain.CatalogItem, error) {
	return s.findItem(ctx, "id", id)
}

func (s *Store) FindItemByBarcode(ctx context.Context, code string) (*domain.CatalogItem, error) {
	return s.findItem(ctx, "barcode", code)
}

func (s *Store) findItem(ctx context.Context, column string, value string) (*domain.CatalogItem, error) {
	var item domain.CatalogItem
	var barcode, imageURL sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, barcode, unit, unit_price_cents, image_url, total_quantity
		FROM catalog_items
		WHERE `+column+` = $1
	`, value).Scan(&item.ID, &item.Name, &barcode, &item.Unit, &item.UnitPriceCents, &imageURL, &item.TotalQuantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	item.Barcode = barcode.String
	item.ImageURL = imageURL.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT branch_id, quantity, minimum_threshold
		FROM branch_stocks
		WHERE item_id = $1
		ORDER BY branch_id
	`, item.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var row domain.BranchStock
		if err := rows.Scan(&row.BranchID, &row.Quantity, &row.MinimumThreshold); err != nil {
			return nil, err
		}
		item.BranchStocks = append(item.BranchStocks, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &item, nil
}

func (s *Store) SearchItems(ctx context.Context, query string, limit int) ([]domain.CatalogItem, error) {
	if limit < 1 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, barcode, unit, unit_price_cents, image_url, total_quantity
		FROM catalog_items
		WHERE $1 = '' OR name ILIKE '%' || $1 || '%' OR barcode = $1
		ORDER BY name
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanItems(rows)
}

func (s *Store) ListItems(ctx context.Context) ([]domain.CatalogItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, barcode, unit, unit_price_cents, image_url, total_quantity
		FROM catalog_items
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	stockRows, err := s.db.QueryContext(ctx, `
		SELECT item_id, branch_id, quantity, minimum_threshold
		FROM branch_stocks
		ORDER BY item_id, branch_id
	`)
	if err != nil {
		return nil, err
	}
	defer stockRows.Close()

	byItem := make(map[string][]domain.BranchStock, len(items))
	for stockRows.Next() {
		var itemID string
		var row domain.BranchStock
		if err := stockRows.Scan(&itemID, &row.BranchID, &row.Quantity, &row.MinimumThreshold); err != nil {
			return nil, err
		}
		byItem[itemID] = append(byItem[itemID], row)
	}
	if err := stockRows.Err(); err != nil {
		return nil, err
	}

	for i := range items {
		items[i].BranchStocks = byItem[items[i].ID]
	}
	return items, nil
}

func scanItems(rows *sql.Rows) ([]domain.CatalogItem, error) {
	items := make([]domain.CatalogItem, 0, 32)
	for rows.Next() {
		var item domain.CatalogItem
		var barcode, imageURL sql.NullString
		if err := rows.Scan(&item.ID, &item.Name, &barcode, &item.Unit, &item.UnitPriceCents, &imageURL, &item.TotalQuantity); err != nil {
			return nil, err
		}
		item.Barcode = barcode.String
		item.ImageURL = imageURL.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) FindBranchByID(ctx context.Context, id string) (*domain.Branch, error) {
	var branch domain.Branch
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name FROM branches WHERE id = $1
	`, id).Scan(&branch.ID, &branch.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &branch, nil
}

func (s *Store) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name FROM branches ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 8)
	for rows.Next() {
		var branch domain.Branch
		if err := rows.Scan(&branch.ID, &branch.Name); err != nil {
			return nil, err
		}
		branches = append(branches, branch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return branches, nil
}

func (s *Store) BranchStock(ctx context.Context, itemID string, branchID string) (int, error) {
	if branchID == "" {
		var total int
		err := s.db.QueryRowContext(ctx, `
			SELECT total_quantity FROM catalog_items WHERE id = $1
		`, itemID).Scan(&total)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, store.ErrNotFound
			}
			return 0, err
		}
		return total, nil
	}

	var qty int
	err := s.db.QueryRowContext(ctx, `
		SELECT quantity FROM branch_stocks WHERE item_id = $1 AND branch_id = $2
	`, itemID, branchID).Scan(&qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Absent branch row reads as zero once the item itself exists.
			var exists bool
			if err := s.db.QueryRowContext(ctx, `
				SELECT true FROM catalog_items WHERE id = $1
			`, itemID).Scan(&exists); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return 0, store.ErrNotFound
				}
				return 0, err
			}
			return 0, nil
		}
		return 0, err
	}
	return qty, nil
}

// DeductStock removes qty from a branch row, or from the aggregate pool when
// branchID is empty. The quantity guard lives in the UPDATE itself, so two
// concurrent deductions can never drive a count negative.
func (s *Store) DeductStock(ctx context.Context, itemID string, branchID string, qty int) error {
	if qty < 1 {
		return store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if branchID == "" {
		// The unbranched pool lives in a reserved '' branch row included in
		// the recomputed sum, so the aggregate guard and the row stay in step.
		res, err := tx.ExecContext(ctx, `
			UPDATE catalog_items
			SET total_quantity = total_quantity - $1, updated_at = now()
			WHERE id = $2 AND total_quantity >= $1
		`, qty, itemID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return s.shortfall(ctx, itemID, "", qty)
		}
		if err := adjustPoolRow(ctx, tx, itemID, -qty); err != nil {
			return err
		}
		return tx.Commit()
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE branch_stocks
		SET quantity = quantity - $1, updated_at = now()
		WHERE item_id = $2 AND branch_id = $3 AND quantity >= $1
	`, qty, itemID, branchID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.shortfall(ctx, itemID, branchID, qty)
	}

	if err := recomputeTotal(ctx, tx, itemID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) RestoreStock(ctx context.Context, itemID string, branchID string, qty int) error {
	if qty < 1 {
		return store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if branchID == "" {
		res, err := tx.ExecContext(ctx, `
			UPDATE catalog_items
			SET total_quantity = total_quantity + $1, updated_at = now()
			WHERE id = $2
		`, qty, itemID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return store.ErrNotFound
		}
		if err := adjustPoolRow(ctx, tx, itemID, qty); err != nil {
			return err
		}
		return tx.Commit()
	}

	if err := itemExists(ctx, tx, itemID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO branch_stocks (item_id, branch_id, quantity, minimum_threshold, updated_at)
		VALUES ($1, $2, $3, 0, now())
		ON CONFLICT (item_id, branch_id)
		DO UPDATE SET quantity = branch_stocks.quantity + $3, updated_at = now()
	`, itemID, branchID, qty)
	if err != nil {
		return err
	}

	if err := recomputeTotal(ctx, tx, itemID); err != nil {
		return err
	}
	return tx.Commit()
}

// TransferStock moves qty between two branch rows in one transaction. The
// aggregate total is untouched by construction.
func (s *Store) TransferStock(ctx context.Context, itemID string, sourceBranchID string, destBranchID string, qty int) error {
	if qty < 1 || sourceBranchID == "" || destBranchID == "" || sourceBranchID == destBranchID {
		return store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE branch_stocks
		SET quantity = quantity - $1, updated_at = now()
		WHERE item_id = $2 AND branch_id = $3 AND quantity >= $1
	`, qty, itemID, sourceBranchID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.shortfall(ctx, itemID, sourceBranchID, qty)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO branch_stocks (item_id, branch_id, quantity, minimum_threshold, updated_at)
		VALUES ($1, $2, $3, 0, now())
		ON CONFLICT (item_id, branch_id)
		DO UPDATE SET quantity = branch_stocks.quantity + $3, updated_at = now()
	`, itemID, destBranchID, qty)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// shortfall rebuilds the error a failed conditional stock update swallowed:
// either the item does not exist, or it does and the caller gets the true
// available count.
func (s *Store) shortfall(ctx context.Context, itemID string, branchID string, requested int) error {
	var name string
	err := s.db.QueryRowContext(ctx, `
		SELECT name FROM catalog_items WHERE id = $1
	`, itemID).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	available, err := s.BranchStock(ctx, itemID, branchID)
	if err != nil {
		return err
	}
	return &store.InsufficientStockError{
		ItemID:    itemID,
		ItemName:  name,
		BranchID:  branchID,
		Requested: requested,
		Available: available,
	}
}

func itemExists(ctx context.Context, tx *sql.Tx, itemID string) error {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT true FROM catalog_items WHERE id = $1
	`, itemID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// adjustPoolRow moves delta units in or out of the reserved '' branch row
// that carries unbranched commitments. The row may go negative.
func adjustPoolRow(ctx context.Context, tx *sql.Tx, itemID string, delta int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO branch_stocks (item_id, branch_id, quantity, minimum_threshold, updated_at)
		VALUES ($1, '', $2, 0, now())
		ON CONFLICT (item_id, branch_id)
		DO UPDATE SET quantity = branch_stocks.quantity + $2, updated_at = now()
	`, itemID, delta)
	return err
}

func recomputeTotal(ctx context.Context, tx *sql.Tx, itemID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE catalog_items
		SET total_quantity = (SELECT COALESCE(SUM(quantity), 0) FROM branch_stocks WHERE item_id = $1),
		    updated_at = now()
		WHERE id = $1
	`, itemID)
	return err
}

func (s *Store) NextOrderNumber(ctx context.Context) (int64, error) {
	var number int64
	if err := s.db.QueryRowContext(ctx, `SELECT nextval('order_numbers')`).Scan(&number); err != nil {
		return 0, err
	}
	return number, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" || order.Number < 1 || order.Seller.ID == "" {
		return nil, store.ErrValidation
	}
	if order.State == "" {
		order.State = domain.OrderOpen
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.Version = 1

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var branchID, branchName any
	if order.Branch != nil {
		branchID, branchName = order.Branch.ID, order.Branch.Name
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, number, seller_id, seller_name, seller_email, branch_id, branch_name,
			payment_method, total_cents, state, cancel_reason,
			created_at, closed_at, completed_at, cancelled_at, version
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, order.ID, order.Number, order.Seller.ID, order.Seller.Name, nullIfEmpty(order.Seller.Email),
		branchID, branchName, nullIfEmpty(order.PaymentMethod), order.TotalCents, order.State,
		nullIfEmpty(order.CancelReason), order.CreatedAt, nullTime(order.ClosedAt),
		nullTime(order.CompletedAt), nullTime(order.CancelledAt), order.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	if err := insertOrderItems(ctx, tx, order.ID, order.LineItems); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrderRow(s.db.QueryRowContext(ctx, selectOrder+` WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	items, err := s.loadOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.LineItems = items
	return order, nil
}

// UpdateOrder replaces the order row and its lines, guarded by the version
// the caller read. A stale version returns ErrConflict so the caller can
// re-read and retry.
func (s *Store) UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var branchID, branchName any
	if order.Branch != nil {
		branchID, branchName = order.Branch.ID, order.Branch.Name
	}
	var cashierID, cashierName, cashierEmail any
	if order.Cashier != nil {
		cashierID, cashierName = order.Cashier.ID, order.Cashier.Name
		cashierEmail = nullIfEmpty(order.Cashier.Email)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET branch_id = $2, branch_name = $3,
		    cashier_id = $4, cashier_name = $5, cashier_email = $6,
		    payment_method = $7, total_cents = $8, state = $9, cancel_reason = $10,
		    closed_at = $11, completed_at = $12, cancelled_at = $13,
		    version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $14
	`, order.ID, branchID, branchName, cashierID, cashierName, cashierEmail,
		nullIfEmpty(order.PaymentMethod), order.TotalCents, order.State,
		nullIfEmpty(order.CancelReason), nullTime(order.ClosedAt),
		nullTime(order.CompletedAt), nullTime(order.CancelledAt), order.Version)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, s.orderMissOrConflict(ctx, order.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
		return nil, err
	}
	if err := insertOrderItems(ctx, tx, order.ID, order.LineItems); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	order.Version++
	return &order, nil
}

func (s *Store) DeleteOrder(ctx context.Context, id string, expectedVersion int) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, id); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM orders WHERE id = $1 AND version = $2
	`, id, expectedVersion)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.orderMissOrConflict(ctx, id)
	}

	return tx.Commit()
}

func (s *Store) orderMissOrConflict(ctx context.Context, id string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT true FROM orders WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return store.ErrConflict
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderListFilter) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, selectOrder+`
		WHERE ($1 = '' OR state = $1)
		  AND ($2 = '' OR seller_id = $2)
		  AND ($3 = '' OR branch_id = $3)
		ORDER BY number DESC
		LIMIT 200
	`, string(filter.State), filter.SellerID, filter.BranchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 32)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := s.loadOrderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].LineItems = items
	}
	return orders, nil
}

const selectOrder = `
	SELECT id, number, seller_id, seller_name, seller_email, branch_id, branch_name,
	       cashier_id, cashier_name, cashier_email, payment_method, total_cents,
	       state, cancel_reason, created_at, closed_at, completed_at, cancelled_at, version
	FROM orders
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(scanner rowScanner) (*domain.Order, error) {
	var order domain.Order
	var sellerEmail, branchID, branchName sql.NullString
	var cashierID, cashierName, cashierEmail sql.NullString
	var paymentMethod, cancelReason sql.NullString
	var closedAt, completedAt, cancelledAt sql.NullTime

	err := scanner.Scan(&order.ID, &order.Number, &order.Seller.ID, &order.Seller.Name, &sellerEmail,
		&branchID, &branchName, &cashierID, &cashierName, &cashierEmail,
		&paymentMethod, &order.TotalCents, &order.State, &cancelReason,
		&order.CreatedAt, &closedAt, &completedAt, &cancelledAt, &order.Version)
	if err != nil {
		return nil, err
	}

	order.Seller.Email = sellerEmail.String
	if branchID.Valid {
		order.Branch = &domain.BranchSnapshot{ID: branchID.String, Name: branchName.String}
	}
	if cashierID.Valid {
		order.Cashier = &domain.PersonSnapshot{ID: cashierID.String, Name: cashierName.String, Email: cashierEmail.String}
	}
	order.PaymentMethod = paymentMethod.String
	order.CancelReason = cancelReason.String
	order.ClosedAt = timePtr(closedAt)
	order.CompletedAt = timePtr(completedAt)
	order.CancelledAt = timePtr(cancelledAt)
	order.CreatedAt = order.CreatedAt.UTC()
	return &order, nil
}

func scanOrderRow(row *sql.Row) (*domain.Order, error) {
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

func insertOrderItems(ctx context.Context, tx *sql.Tx, orderID string, items []domain.LineItem) error {
	for pos, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, item_id, name, barcode, unit_price_cents, quantity, subtotal_cents, image_url)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, orderID, pos, item.ItemID, item.Name, nullIfEmpty(item.Barcode),
			item.UnitPriceCents, item.Quantity, item.SubtotalCents, nullIfEmpty(item.ImageURL))
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadOrderItems(ctx context.Context, orderID string) ([]domain.LineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, name, barcode, unit_price_cents, quantity, subtotal_cents, image_url
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0, 8)
	for rows.Next() {
		var item domain.LineItem
		var barcode, imageURL sql.NullString
		if err := rows.Scan(&item.ItemID, &item.Name, &barcode, &item.UnitPriceCents, &item.Quantity, &item.SubtotalCents, &imageURL); err != nil {
			return nil, err
		}
		item.Barcode = barcode.String
		item.ImageURL = imageURL.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateTransfer(ctx context.Context, transfer domain.Transfer) (*domain.Transfer, error) {
	if transfer.ID == "" || transfer.Source.ID == "" || transfer.Dest.ID == "" || len(transfer.Items) == 0 {
		return nil, store.ErrValidation
	}
	if transfer.State == "" {
		transfer.State = domain.TransferPending
	}
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = time.Now().UTC()
	}
	transfer.Version = 1

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var approvedByID, approvedByName, approvedByEmail any
	if transfer.ApprovedBy != nil {
		approvedByID, approvedByName = transfer.ApprovedBy.ID, transfer.ApprovedBy.Name
		approvedByEmail = nullIfEmpty(transfer.ApprovedBy.Email)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transfers (
			id, source_branch_id, source_branch_name, dest_branch_id, dest_branch_name,
			state, requested_by_id, requested_by_name, requested_by_email,
			approved_by_id, approved_by_name, approved_by_email,
			notes, cancel_reason, created_at, approved_at, cancelled_at, version
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, transfer.ID, transfer.Source.ID, transfer.Source.Name, transfer.Dest.ID, transfer.Dest.Name,
		transfer.State, transfer.RequestedBy.ID, transfer.RequestedBy.Name, nullIfEmpty(transfer.RequestedBy.Email),
		approvedByID, approvedByName, approvedByEmail,
		nullIfEmpty(transfer.Notes), nullIfEmpty(transfer.CancelReason),
		transfer.CreatedAt, nullTime(transfer.ApprovedAt), nullTime(transfer.CancelledAt), transfer.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	if err := insertTransferItems(ctx, tx, transfer.ID, transfer.Items); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (s *Store) GetTransferByID(ctx context.Context, id string) (*domain.Transfer, error) {
	transfer, err := scanTransfer(s.db.QueryRowContext(ctx, selectTransfer+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	items, err := s.loadTransferItems(ctx, transfer.ID)
	if err != nil {
		return nil, err
	}
	transfer.Items = items
	return transfer, nil
}

func (s *Store) UpdateTransfer(ctx context.Context, transfer domain.Transfer) (*domain.Transfer, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var approvedByID, approvedByName, approvedByEmail any
	if transfer.ApprovedBy != nil {
		approvedByID, approvedByName = transfer.ApprovedBy.ID, transfer.ApprovedBy.Name
		approvedByEmail = nullIfEmpty(transfer.ApprovedBy.Email)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE transfers
		SET state = $2, approved_by_id = $3, approved_by_name = $4, approved_by_email = $5,
		    notes = $6, cancel_reason = $7, approved_at = $8, cancelled_at = $9,
		    version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $10
	`, transfer.ID, transfer.State, approvedByID, approvedByName, approvedByEmail,
		nullIfEmpty(transfer.Notes), nullIfEmpty(transfer.CancelReason),
		nullTime(transfer.ApprovedAt), nullTime(transfer.CancelledAt), transfer.Version)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		var exists bool
		err := s.db.QueryRowContext(ctx, `SELECT true FROM transfers WHERE id = $1`, transfer.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return nil, store.ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM transfer_items WHERE transfer_id = $1`, transfer.ID); err != nil {
		return nil, err
	}
	if err := insertTransferItems(ctx, tx, transfer.ID, transfer.Items); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	transfer.Version++
	return &transfer, nil
}

func (s *Store) ListTransfers(ctx context.Context, filter domain.TransferListFilter) ([]domain.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, selectTransfer+`
		WHERE ($1 = '' OR state = $1)
		  AND ($2 = '' OR source_branch_id = $2 OR dest_branch_id = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at < $4)
		  AND ($5 = '' OR id IN (SELECT transfer_id FROM transfer_items WHERE item_id = $5))
		ORDER BY created_at DESC
		LIMIT 200
	`, string(filter.State), filter.BranchID, nullTimeValue(filter.From), nullTimeValue(filter.To), filter.ItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transfers := make([]domain.Transfer, 0, 32)
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range transfers {
		items, err := s.loadTransferItems(ctx, transfers[i].ID)
		if err != nil {
			return nil, err
		}
		transfers[i].Items = items
	}
	return transfers, nil
}

const selectTransfer = `
	SELECT id, source_branch_id, source_branch_name, dest_branch_id, dest_branch_name,
	       state, requested_by_id, requested_by_name, requested_by_email,
	       approved_by_id, approved_by_name, approved_by_email,
	       notes, cancel_reason, created_at, approved_at, cancelled_at, version
	FROM transfers
`

func scanTransfer(scanner rowScanner) (*domain.Transfer, error) {
	var transfer domain.Transfer
	var requestedByEmail sql.NullString
	var approvedByID, approvedByName, approvedByEmail sql.NullString
	var notes, cancelReason sql.NullString
	var approvedAt, cancelledAt sql.NullTime

	err := scanner.Scan(&transfer.ID, &transfer.Source.ID, &transfer.Source.Name,
		&transfer.Dest.ID, &transfer.Dest.Name, &transfer.State,
		&transfer.RequestedBy.ID, &transfer.RequestedBy.Name, &requestedByEmail,
		&approvedByID, &approvedByName, &approvedByEmail,
		&notes, &cancelReason, &transfer.CreatedAt, &approvedAt, &cancelledAt, &transfer.Version)
	if err != nil {
		return nil, err
	}

	transfer.RequestedBy.Email = requestedByEmail.String
	if approvedByID.Valid {
		transfer.ApprovedBy = &domain.PersonSnapshot{ID: approvedByID.String, Name: approvedByName.String, Email: approvedByEmail.String}
	}
	transfer.Notes = notes.String
	transfer.CancelReason = cancelReason.String
	transfer.ApprovedAt = timePtr(approvedAt)
	transfer.CancelledAt = timePtr(cancelledAt)
	transfer.CreatedAt = transfer.CreatedAt.UTC()
	return &transfer, nil
}

func insertTransferItems(ctx context.Context, tx *sql.Tx, transferID string, items []domain.TransferItem) error {
	for pos, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transfer_items (transfer_id, position, item_id, name, quantity,
				source_qty_before, source_qty_after, dest_qty_before, dest_qty_after)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, transferID, pos, item.ItemID, item.Name, item.Quantity,
			item.SourceQtyBefore, item.SourceQtyAfter, item.DestQtyBefore, item.DestQtyAfter)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadTransferItems(ctx context.Context, transferID string) ([]domain.TransferItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, name, quantity, source_qty_before, source_qty_after, dest_qty_before, dest_qty_after
		FROM transfer_items
		WHERE transfer_id = $1
		ORDER BY position
	`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.TransferItem, 0, 8)
	for rows.Next() {
		var item domain.TransferItem
		if err := rows.Scan(&item.ItemID, &item.Name, &item.Quantity,
			&item.SourceQtyBefore, &item.SourceQtyAfter, &item.DestQtyBefore, &item.DestQtyAfter); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, nullIfEmpty(entry.BranchID), entry.ActorUsername, entry.ActorRole,
		entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		var branchID sql.NullString
		if err := rows.Scan(&entry.ID, &branchID, &entry.ActorUsername, &entry.ActorRole,
			&entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.BranchID = branchID.String
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" || user.Role == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, name, email, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, username, user.Password, string(user.Role), user.Name, nullIfEmpty(user.Email), user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, name, email, active, created_at
		FROM app_users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		var role string
		var email sql.NullString
		if err := rows.Scan(&user.Username, &user.Password, &role, &user.Name, &email, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.Role = domain.Role(role)
		user.Email = email.String
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullTimeValue(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}
