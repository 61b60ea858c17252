package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"varejo/backend/internal/domain"
	"varejo/backend/internal/store"
	"varejo/backend/internal/xid"
)

// ApplyMovement updates stock and records the movement in one transaction. The
// movement insert runs under a savepoint: if only the audit row fails, the
// stock update still commits and the result reports AuditRecorded=false.
func (s *Store) ApplyMovement(ctx context.Context, m domain.InventoryMovement) (domain.MovementResult, error) {
	if !m.Type.IsValid() {
		return domain.MovementResult{}, domain.Validationf("movement type must be IN or OUT")
	}
	if m.Quantity < 1 {
		return domain.MovementResult{}, domain.Validationf("movement quantity must be at least 1")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return domain.MovementResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	prev, _, err := lockStock(ctx, tx, m.TenantID, m.ProductID)
	if err != nil {
		return domain.MovementResult{}, err
	}
	m.PrevStock = prev
	m.NewStock = nextStock(prev, m.Type, m.Quantity)
	if m.NewStock < 0 {
		return domain.MovementResult{}, &domain.StockError{ProductID: m.ProductID, Requested: m.Quantity, Available: prev}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	if m.ID == "" {
		m.ID = xid.New("mov")
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE products SET stock = $1, updated_at = $2
		WHERE tenant_id = $3 AND id = $4
	`, m.NewStock, m.CreatedAt, m.TenantID, m.ProductID); err != nil {
		return domain.MovementResult{}, fmt.Errorf("update stock of %s: %w", m.ProductID, err)
	}

	result := domain.MovementResult{Movement: m, AuditRecorded: true}
	if _, err := tx.ExecContext(ctx, `SAVEPOINT movement_audit`); err != nil {
		return domain.MovementResult{}, err
	}
	if auditErr := insertMovement(ctx, tx, &m); auditErr != nil {
		if _, err := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT movement_audit`); err != nil {
			return domain.MovementResult{}, errors.Join(auditErr, err)
		}
		result.AuditRecorded = false
		result.AuditError = auditErr.Error()
	} else if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT movement_audit`); err != nil {
		return domain.MovementResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.MovementResult{}, err
	}
	return result, nil
}

func (s *Store) ListMovements(ctx context.Context, tenantID string, productID string, limit int) ([]domain.InventoryMovement, error) {
	limit = store.NormalizeLimit(limit, 50, 500)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, product_id, type, quantity, prev_stock, new_stock, note, reference, created_by, created_at
		FROM inventory_movements
		WHERE tenant_id = $1 AND ($2 = '' OR product_id = $2)
		ORDER BY seq DESC
		LIMIT $3
	`, tenantID, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.InventoryMovement, 0, limit)
	for rows.Next() {
		var m domain.InventoryMovement
		var kind string
		var note, reference sql.NullString
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ProductID, &kind, &m.Quantity, &m.PrevStock, &m.NewStock,
			&note, &reference, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = domain.MovementType(kind)
		m.Note = note.String
		m.Reference = reference.String
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CreatePurchaseReceipt(ctx context.Context, receipt domain.PurchaseReceipt) (*domain.PurchaseReceipt, error) {
	if len(receipt.Items) == 0 {
		return nil, domain.Validationf("purchase receipt must have at least one item")
	}
	for _, item := range receipt.Items {
		if item.Quantity < 1 {
			return nil, domain.Validationf("quantity for product %s must be at least 1", item.ProductID)
		}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if receipt.ID == "" {
		receipt.ID = xid.New("pr")
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = s.now()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO purchase_receipts (id, tenant_id, supplier, note, total, attachment_ref, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,NULL,$6,$7)
	`, receipt.ID, receipt.TenantID, receipt.Supplier, nullIfEmpty(receipt.Note), receipt.Total,
		receipt.CreatedBy, receipt.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert purchase receipt: %w", err)
	}

	for i, item := range receipt.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_receipt_items (receipt_id, position, product_id, quantity, unit_cost, total)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, receipt.ID, i+1, item.ProductID, item.Quantity, item.UnitCost, item.Total); err != nil {
			return nil, fmt.Errorf("insert purchase receipt item: %w", err)
		}
	}

	lockOrder := make([]int, len(receipt.Items))
	for i := range lockOrder {
		lockOrder[i] = i
	}
	sort.SliceStable(lockOrder, func(a, b int) bool {
		return receipt.Items[lockOrder[a]].ProductID < receipt.Items[lockOrder[b]].ProductID
	})
	for _, idx := range lockOrder {
		item := receipt.Items[idx]
		if _, err := adjustStock(ctx, tx, domain.InventoryMovement{
			TenantID:  receipt.TenantID,
			ProductID: item.ProductID,
			Type:      domain.MovementIn,
			Quantity:  item.Quantity,
			Note:      "purchase receipt",
			Reference: receipt.ID,
			CreatedBy: receipt.CreatedBy,
			CreatedAt: receipt.CreatedAt,
		}); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("product %s: %w", item.ProductID, store.ErrNotFound)
			}
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (s *Store) SetPurchaseReceiptAttachment(ctx context.Context, tenantID string, receiptID string, ref string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE purchase_receipts SET attachment_ref = $1
		WHERE tenant_id = $2 AND id = $3
	`, ref, tenantID, receiptID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListPurchaseReceipts(ctx context.Context, tenantID string, limit int) ([]domain.PurchaseReceipt, error) {
	limit = store.NormalizeLimit(limit, 50, 200)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, supplier, note, total, attachment_ref, created_by, created_at
		FROM purchase_receipts
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	receipts := make([]domain.PurchaseReceipt, 0, limit)
	for rows.Next() {
		var r domain.PurchaseReceipt
		var note, ref sql.NullString
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Supplier, &note, &r.Total, &ref, &r.CreatedBy, &r.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		r.Note = note.String
		r.AttachmentRef = ref.String
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range receipts {
		items, err := s.loadReceiptItems(ctx, receipts[i].ID)
		if err != nil {
			return nil, err
		}
		receipts[i].Items = items
	}
	return receipts, nil
}

func (s *Store) loadReceiptItems(ctx context.Context, receiptID string) ([]domain.PurchaseReceiptItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, quantity, unit_cost, total
		FROM purchase_receipt_items
		WHERE receipt_id = $1
		ORDER BY position
	`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.PurchaseReceiptItem, 0, 8)
	for rows.Next() {
		var it domain.PurchaseReceiptItem
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.UnitCost, &it.Total); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
