package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"varejo/backend/internal/domain"
	"varejo/backend/internal/money"
	"varejo/backend/internal/store"
	"varejo/backend/internal/xid"
)

const orderColumns = `id, tenant_id, client_id, idempotency_key, status, subtotal, line_discount, order_discount,
	total_amount, payment_method, amount_received, change_amount, salesperson, cancelled_reason, cancelled_at, created_at`

func scanOrder(row interface{ Scan(...any) error }) (domain.Order, error) {
	var o domain.Order
	var clientID, reason sql.NullString
	var cancelledAt sql.NullTime
	var status string
	err := row.Scan(&o.ID, &o.TenantID, &clientID, &o.IdempotencyKey, &status, &o.Subtotal, &o.LineDiscount,
		&o.OrderDiscount, &o.TotalAmount, &o.PaymentMethod, &o.AmountReceived, &o.Change, &o.Salesperson,
		&reason, &cancelledAt, &o.CreatedAt)
	if err != nil {
		return o, err
	}
	o.Status = domain.OrderStatus(status)
	o.ClientID = clientID.String
	o.CancelledReason = reason.String
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		o.CancelledAt = &at
	}
	return o, nil
}

func loadOrderItems(ctx context.Context, q queryer, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, position, product_id, product_name, quantity, unit_price, discount, total_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0, 8)
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.Position, &it.ProductID, &it.ProductName,
			&it.Quantity, &it.UnitPrice, &it.Discount, &it.TotalPrice); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// loadOrder reads an order with its items, optionally locking the header row.
func loadOrder(ctx context.Context, q queryer, tenantID, orderID string, lock bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE tenant_id = $1 AND id = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	order, err := scanOrder(q.QueryRowContext(ctx, query, tenantID, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.Items, err = loadOrderItems(ctx, q, order.ID)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) FindOrderByID(ctx context.Context, tenantID string, orderID string) (*domain.Order, error) {
	return loadOrder(ctx, s.db, tenantID, orderID, false)
}

func (s *Store) FindOrderByIdempotency(ctx context.Context, tenantID string, key string) (*domain.Order, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM orders WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return loadOrder(ctx, s.db, tenantID, id, false)
}

func (s *Store) ListOrders(ctx context.Context, tenantID string, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	limit = store.NormalizeLimit(limit, 50, 500)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, tenantID, string(status), limit)
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range orders {
		orders[i].Items, err = loadOrderItems(ctx, s.db, orders[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *Store) CommitOrder(ctx context.Context, order domain.Order, entry domain.FinancialEntry) (*domain.Order, bool, error) {
	if order.TenantID == "" || order.IdempotencyKey == "" {
		return nil, false, domain.Validationf("order needs a tenant and an idempotency key")
	}
	if len(order.Items) == 0 {
		return nil, false, domain.Validationf("order must have at least one item")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM orders WHERE tenant_id = $1 AND idempotency_key = $2
	`, order.TenantID, order.IdempotencyKey).Scan(&existingID)
	switch {
	case err == nil:
		_ = tx.Rollback()
		existing, err := s.FindOrderByID(ctx, order.TenantID, existingID)
		return existing, true, err
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, err
	}

	wanted := make(map[string]int, len(order.Items))
	for _, item := range order.Items {
		if item.Quantity < 1 {
			return nil, false, domain.Validationf("quantity for product %s must be at least 1", item.ProductID)
		}
		wanted[item.ProductID] += item.Quantity
	}
	productIDs := make([]string, 0, len(wanted))
	for id := range wanted {
		productIDs = append(productIDs, id)
	}
	// Lock in a fixed order so two checkouts sharing products cannot deadlock.
	sort.Strings(productIDs)

	stock := make(map[string]int, len(productIDs))
	for _, id := range productIDs {
		qty, active, err := lockStock(ctx, tx, order.TenantID, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, false, domain.Validationf("product %s unavailable", id)
			}
			return nil, false, err
		}
		if !active {
			return nil, false, domain.Validationf("product %s unavailable", id)
		}
		if qty < wanted[id] {
			return nil, false, &domain.StockError{ProductID: id, Requested: wanted[id], Available: qty}
		}
		stock[id] = qty
	}

	now := s.now()
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.Status = domain.OrderStatusCompleted

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NULL,NULL,$14)
	`, order.ID, order.TenantID, nullIfEmpty(order.ClientID), order.IdempotencyKey, string(order.Status),
		order.Subtotal, order.LineDiscount, order.OrderDiscount, order.TotalAmount, order.PaymentMethod,
		order.AmountReceived, order.Change, order.Salesperson, order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// A concurrent request with the same key won the race.
			_ = tx.Rollback()
			existing, findErr := s.FindOrderByIdempotency(ctx, order.TenantID, order.IdempotencyKey)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, true, nil
		}
		return nil, false, fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		if item.ID == "" {
			item.ID = xid.New("oi")
		}
		item.OrderID = order.ID
		item.Position = i + 1
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, position, product_id, product_name, quantity, unit_price, discount, total_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, item.ID, item.OrderID, item.Position, item.ProductID, item.ProductName, item.Quantity,
			item.UnitPrice, item.Discount, item.TotalPrice); err != nil {
			return nil, false, fmt.Errorf("insert order item: %w", err)
		}

		prev := stock[item.ProductID]
		next := prev - item.Quantity
		if _, err := writeStock(ctx, tx, domain.InventoryMovement{
			TenantID:  order.TenantID,
			ProductID: item.ProductID,
			Type:      domain.MovementOut,
			Quantity:  item.Quantity,
			PrevStock: prev,
			NewStock:  next,
			Note:      "sale",
			Reference: order.ID,
			CreatedBy: order.Salesperson,
			CreatedAt: now,
		}); err != nil {
			return nil, false, err
		}
		stock[item.ProductID] = next
	}

	entry.TenantID = order.TenantID
	entry.OrderID = order.ID
	entry.Kind = domain.EntryRevenue
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, &domain.CommitError{Stock: domain.StockUnknown, Err: err}
	}
	return &order, false, nil
}

func (s *Store) CancelOrder(ctx context.Context, cancel store.Cancellation) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := loadOrder(ctx, tx, cancel.TenantID, cancel.OrderID, true)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
		return nil, store.NewTransitionError(*order, "cancel")
	}

	at := cancel.At
	if at.IsZero() {
		at = s.now()
	}
	returned, err := returnedTotals(ctx, tx, order.TenantID, order.ID)
	if err != nil {
		return nil, err
	}
	restores := store.RestoreQuantities(*order, returned)
	sort.SliceStable(restores, func(i, j int) bool { return restores[i].ProductID < restores[j].ProductID })
	for _, r := range restores {
		_, err := adjustStock(ctx, tx, domain.InventoryMovement{
			TenantID:  order.TenantID,
			ProductID: r.ProductID,
			Type:      domain.MovementIn,
			Quantity:  r.Quantity,
			Note:      "cancel",
			Reference: order.ID,
			CreatedBy: cancel.Actor,
			CreatedAt: at,
		})
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
	}

	reason := strings.TrimSpace(cancel.Reason)
	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, cancelled_reason = $2, cancelled_at = $3
		WHERE tenant_id = $4 AND id = $5
	`, string(domain.OrderStatusCancelled), nullIfEmpty(reason), at, order.TenantID, order.ID); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	if err := insertEntry(ctx, tx, domain.FinancialEntry{
		TenantID:      order.TenantID,
		OrderID:       order.ID,
		Kind:          domain.EntryReversal,
		Amount:        order.TotalAmount,
		PaymentMethod: order.PaymentMethod,
		CreatedBy:     cancel.Actor,
		CreatedAt:     at,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	order.Status = domain.OrderStatusCancelled
	order.CancelledReason = reason
	order.CancelledAt = &at
	return order, nil
}

// DeleteOrder removes a cancelled order and its items. Returns, movements and
// financial entries stay. The idempotency key goes with the order, so it can
// be used again.
func (s *Store) DeleteOrder(ctx context.Context, tenantID string, orderID string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM orders WHERE tenant_id = $1 AND id = $2 FOR UPDATE
	`, tenantID, orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if domain.OrderStatus(status) != domain.OrderStatusCancelled {
		return store.NewTransitionError(domain.Order{ID: orderID, Status: domain.OrderStatus(status)}, "remove")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("delete order items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE tenant_id = $1 AND id = $2`, tenantID, orderID); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return tx.Commit()
}

func returnedTotals(ctx context.Context, q queryer, tenantID, orderID string) (map[string]domain.ReturnedTotals, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT ri.order_item_id, COALESCE(SUM(ri.quantity), 0), COALESCE(SUM(ri.amount), 0)
		FROM order_return_items ri
		JOIN order_returns r ON r.id = ri.return_id
		WHERE r.tenant_id = $1 AND r.order_id = $2
		GROUP BY ri.order_item_id
	`, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]domain.ReturnedTotals)
	for rows.Next() {
		var id string
		var t domain.ReturnedTotals
		if err := rows.Scan(&id, &t.Quantity, &t.Amount); err != nil {
			return nil, err
		}
		totals[id] = t
	}
	return totals, rows.Err()
}

func (s *Store) ListReturns(ctx context.Context, tenantID string, orderID string) ([]domain.OrderReturn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.tenant_id, r.order_id, r.amount, r.reason, r.created_by, r.created_at,
		       ri.order_item_id, ri.product_id, ri.quantity, ri.amount
		FROM order_returns r
		JOIN order_return_items ri ON ri.return_id = r.id
		WHERE r.tenant_id = $1 AND r.order_id = $2
		ORDER BY r.created_at, r.id, ri.position
	`, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	returns := make([]domain.OrderReturn, 0, 4)
	for rows.Next() {
		var ret domain.OrderReturn
		var reason sql.NullString
		var item domain.OrderReturnItem
		if err := rows.Scan(&ret.ID, &ret.TenantID, &ret.OrderID, &ret.Amount, &reason, &ret.CreatedBy, &ret.CreatedAt,
			&item.OrderItemID, &item.ProductID, &item.Quantity, &item.Amount); err != nil {
			return nil, err
		}
		item.ReturnID = ret.ID
		if n := len(returns); n > 0 && returns[n-1].ID == ret.ID {
			returns[n-1].Items = append(returns[n-1].Items, item)
			continue
		}
		ret.Reason = reason.String
		ret.Items = []domain.OrderReturnItem{item}
		returns = append(returns, ret)
	}
	return returns, rows.Err()
}

func (s *Store) CreateReturn(ctx context.Context, ret domain.OrderReturn) (*domain.OrderReturn, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := loadOrder(ctx, tx, ret.TenantID, ret.OrderID, true)
	if err != nil {
		return nil, err
	}
	returned, err := returnedTotals(ctx, tx, order.TenantID, order.ID)
	if err != nil {
		return nil, err
	}
	items, total, err := store.CheckReturnable(*order, returned, ret.Items)
	if err != nil {
		return nil, err
	}

	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = s.now()
	}
	ret.Reason = strings.TrimSpace(ret.Reason)
	ret.Amount = total

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_returns (id, tenant_id, order_id, amount, reason, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, ret.ID, ret.TenantID, ret.OrderID, ret.Amount, nullIfEmpty(ret.Reason), ret.CreatedBy, ret.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert return: %w", err)
	}
	for i := range items {
		items[i].ReturnID = ret.ID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_return_items (return_id, position, order_item_id, product_id, quantity, amount)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, ret.ID, i+1, items[i].OrderItemID, items[i].ProductID, items[i].Quantity, items[i].Amount); err != nil {
			return nil, fmt.Errorf("insert return item: %w", err)
		}
	}
	ret.Items = items

	restock := make([]domain.OrderReturnItem, 0, len(items))
	for _, item := range items {
		if item.Quantity > 0 {
			restock = append(restock, item)
		}
	}
	sort.SliceStable(restock, func(a, b int) bool { return restock[a].ProductID < restock[b].ProductID })
	for _, item := range restock {
		_, err := adjustStock(ctx, tx, domain.InventoryMovement{
			TenantID:  ret.TenantID,
			ProductID: item.ProductID,
			Type:      domain.MovementIn,
			Quantity:  item.Quantity,
			Note:      "return",
			Reference: ret.ID,
			CreatedBy: ret.CreatedBy,
			CreatedAt: ret.CreatedAt,
		})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET total_amount = $1 WHERE tenant_id = $2 AND id = $3
	`, money.Round2(order.TotalAmount.Sub(total)), order.TenantID, order.ID); err != nil {
		return nil, fmt.Errorf("update order total: %w", err)
	}
	if total.IsPositive() {
		if err := insertEntry(ctx, tx, domain.FinancialEntry{
			TenantID:      order.TenantID,
			OrderID:       order.ID,
			Kind:          domain.EntryRefund,
			Amount:        total,
			PaymentMethod: order.PaymentMethod,
			CreatedBy:     ret.CreatedBy,
			CreatedAt:     ret.CreatedAt,
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &ret, nil
}
