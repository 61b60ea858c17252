package service

import (
	"context"
	"fmt"
	"strings"

	"varejo/backend/internal/domain"
)

// RecordReturn refunds part of a completed order. Returned units go back on
// the shelf and the order total drops by the refunded amount, all or nothing.
func (s *Service) RecordReturn(ctx context.Context, orderID string, req domain.ReturnRequest) (domain.ReturnResponse, error) {
	actor := s.actor(ctx)
	orderID = strings.TrimSpace(orderID)
	if len(req.Items) == 0 {
		return domain.ReturnResponse{}, domain.Validationf("return must have at least one item")
	}

	items := make([]domain.OrderReturnItem, 0, len(req.Items))
	restocks := false
	for _, it := range req.Items {
		items = append(items, domain.OrderReturnItem{
			OrderItemID: strings.TrimSpace(it.OrderItemID),
			Quantity:    it.Quantity,
			Amount:      it.Amount,
		})
		if it.Quantity > 0 {
			restocks = true
		}
	}

	ret, err := s.repo.CreateReturn(ctx, domain.OrderReturn{
		TenantID:  actor.TenantID,
		OrderID:   orderID,
		Reason:    strings.TrimSpace(req.Reason),
		CreatedBy: actor.Username,
		Items:     items,
	})
	if err != nil {
		return domain.ReturnResponse{}, fail("record return", err)
	}
	if restocks {
		s.catalog.Invalidate(ctx, actor.TenantID)
	}
	s.logAudit(ctx, "order_return", "order", orderID,
		fmt.Sprintf("return=%s,amount=%s,items=%d", ret.ID, ret.Amount.StringFixed(2), len(ret.Items)))

	order, err := s.repo.FindOrderByID(ctx, actor.TenantID, orderID)
	if err != nil {
		return domain.ReturnResponse{}, fail("find order", err)
	}
	returns, err := s.repo.ListReturns(ctx, actor.TenantID, orderID)
	if err != nil {
		return domain.ReturnResponse{}, fail("list returns", err)
	}
	return domain.ReturnResponse{Return: *ret, Summary: Summarize(*order, returns)}, nil
}
