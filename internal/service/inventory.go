package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"varejo/backend/internal/domain"
	"varejo/backend/internal/money"
	"varejo/backend/internal/storage"
)

// applyMovement is the one place manual stock changes go through. A movement
// whose stock update landed without its ledger row is logged for
// reconciliation, not failed.
func (s *Service) applyMovement(ctx context.Context, m domain.InventoryMovement) (domain.MovementResult, error) {
	res, err := s.repo.ApplyMovement(ctx, m)
	if err != nil {
		return domain.MovementResult{}, fail("apply movement", err)
	}
	if !res.AuditRecorded {
		s.log(ctx).Warn("stock changed without a movement record",
			zap.String("tenant_id", m.TenantID),
			zap.String("product_id", m.ProductID),
			zap.String("type", string(m.Type)),
			zap.Int("quantity", m.Quantity),
			zap.Int("prev_stock", res.Movement.PrevStock),
			zap.Int("new_stock", res.Movement.NewStock),
			zap.String("audit_error", res.AuditError))
	}
	return res, nil
}

func (s *Service) RecordMovement(ctx context.Context, req domain.MovementRequest) (domain.MovementResult, error) {
	actor := s.actor(ctx)
	kind := domain.MovementType(strings.ToUpper(strings.TrimSpace(string(req.Type))))
	if !kind.IsValid() {
		return domain.MovementResult{}, domain.Validationf("movement type must be IN or OUT")
	}
	if req.Quantity < 1 {
		return domain.MovementResult{}, domain.Validationf("movement quantity must be at least 1")
	}

	res, err := s.applyMovement(ctx, domain.InventoryMovement{
		TenantID:  actor.TenantID,
		ProductID: strings.TrimSpace(req.ProductID),
		Type:      kind,
		Quantity:  req.Quantity,
		Note:      strings.TrimSpace(req.Note),
		CreatedBy: actor.Username,
	})
	if err != nil {
		return domain.MovementResult{}, err
	}

	s.catalog.Invalidate(ctx, actor.TenantID)
	s.logAudit(ctx, "stock_movement", "product", res.Movement.ProductID,
		fmt.Sprintf("type=%s,qty=%d,prev=%d,new=%d", kind, req.Quantity, res.Movement.PrevStock, res.Movement.NewStock))
	return res, nil
}

func (s *Service) ListMovements(ctx context.Context, productID string, limit int) ([]domain.InventoryMovement, error) {
	movements, err := s.repo.ListMovements(ctx, s.actor(ctx).TenantID, strings.TrimSpace(productID), limit)
	return movements, fail("list movements", err)
}

// CheckStock compares a product's stock with the last figure the ledger
// recorded for it. A product with no movements yet is reported consistent.
func (s *Service) CheckStock(ctx context.Context, productID string) (domain.StockCheck, error) {
	tenantID := s.actor(ctx).TenantID
	product, err := s.repo.GetProduct(ctx, tenantID, strings.TrimSpace(productID))
	if err != nil {
		return domain.StockCheck{}, fail("get product", err)
	}
	latest, err := s.repo.ListMovements(ctx, tenantID, product.ID, 1)
	if err != nil {
		return domain.StockCheck{}, fail("list movements", err)
	}

	check := domain.StockCheck{ProductID: product.ID, ProductStock: product.Stock, Consistent: true}
	if len(latest) == 0 {
		return check, nil
	}
	check.HasMovements = true
	check.LastMovementID = latest[0].ID
	check.LastRecordedNew = latest[0].NewStock
	check.Difference = product.Stock - latest[0].NewStock
	check.Consistent = check.Difference == 0
	if !check.Consistent {
		s.log(ctx).Warn("stock differs from ledger",
			zap.String("product_id", product.ID),
			zap.Int("stock", product.Stock),
			zap.Int("ledger_stock", latest[0].NewStock))
	}
	return check, nil
}

// ReceivePurchase books incoming goods. The attachment is uploaded after the
// receipt is stored; an upload failure leaves the receipt without it.
func (s *Service) ReceivePurchase(ctx context.Context, req domain.PurchaseReceiptRequest) (domain.PurchaseReceipt, error) {
	actor := s.actor(ctx)
	supplier := strings.TrimSpace(req.Supplier)
	if supplier == "" {
		return domain.PurchaseReceipt{}, domain.Validationf("supplier is required")
	}
	if len(req.Items) == 0 {
		return domain.PurchaseReceipt{}, domain.Validationf("purchase receipt must have at least one item")
	}

	receipt := domain.PurchaseReceipt{
		TenantID:  actor.TenantID,
		Supplier:  supplier,
		Note:      strings.TrimSpace(req.Note),
		Total:     money.Zero,
		CreatedBy: actor.Username,
		Items:     make([]domain.PurchaseReceiptItem, 0, len(req.Items)),
	}
	for _, it := range req.Items {
		productID := strings.TrimSpace(it.ProductID)
		if productID == "" {
			return domain.PurchaseReceipt{}, domain.Validationf("product_id is required")
		}
		if it.Quantity < 1 {
			return domain.PurchaseReceipt{}, domain.Validationf("quantity for product %s must be at least 1", productID)
		}
		if it.UnitCost.IsNegative() {
			return domain.PurchaseReceipt{}, domain.Validationf("unit cost for product %s must not be negative", productID)
		}
		lineTotal := money.Round2(it.UnitCost.Mul(decimal.NewFromInt(int64(it.Quantity))))
		receipt.Items = append(receipt.Items, domain.PurchaseReceiptItem{
			ProductID: productID,
			Quantity:  it.Quantity,
			UnitCost:  it.UnitCost,
			Total:     lineTotal,
		})
		receipt.Total = receipt.Total.Add(lineTotal)
	}

	stored, err := s.repo.CreatePurchaseReceipt(ctx, receipt)
	if err != nil {
		return domain.PurchaseReceipt{}, fail("create purchase receipt", err)
	}
	s.catalog.Invalidate(ctx, actor.TenantID)

	if req.Attachment != nil && len(req.Attachment.Data) > 0 {
		stored.AttachmentRef = s.attach(ctx, *stored, *req.Attachment)
	}

	s.logAudit(ctx, "purchase_receive", "purchase_receipt", stored.ID,
		fmt.Sprintf("supplier=%s,total=%s,items=%d", stored.Supplier, stored.Total.StringFixed(2), len(stored.Items)))
	return *stored, nil
}

func (s *Service) attach(ctx context.Context, receipt domain.PurchaseReceipt, file domain.AttachmentUpload) string {
	key := storage.AttachmentKey(receipt.TenantID, receipt.ID, file.FileName)
	ref, err := s.objects.Upload(ctx, key, file.Data, file.ContentType)
	if err != nil {
		s.log(ctx).Warn("purchase receipt attachment upload failed",
			zap.String("receipt_id", receipt.ID), zap.String("key", key), zap.Error(err))
		return ""
	}
	if ref == "" {
		return ""
	}
	if err := s.repo.SetPurchaseReceiptAttachment(ctx, receipt.TenantID, receipt.ID, ref); err != nil {
		s.log(ctx).Warn("failed to link purchase receipt attachment",
			zap.String("receipt_id", receipt.ID), zap.String("ref", ref), zap.Error(err))
		return ""
	}
	return ref
}

func (s *Service) ListPurchaseReceipts(ctx context.Context, limit int) ([]domain.PurchaseReceipt, error) {
	receipts, err := s.repo.ListPurchaseReceipts(ctx, s.actor(ctx).TenantID, limit)
	return receipts, fail("list purchase receipts", err)
}
