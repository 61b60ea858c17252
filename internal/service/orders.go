package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"varejo/backend/internal/domain"
	"varejo/backend/internal/money"
	"varejo/backend/internal/payment"
	"varejo/backend/internal/pricing"
	"varejo/backend/internal/store"
	"varejo/backend/internal/xid"
)

var hundred = decimal.NewFromInt(100)

// orderDiscount maps the wire discount onto the allocator input. A zero
// percent counts as absent so an amount sent alongside it still applies.
func orderDiscount(req domain.OrderDiscountRequest) (pricing.OrderDiscount, error) {
	if req.Percent != nil && !req.Percent.IsZero() {
		pct := *req.Percent
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return pricing.OrderDiscount{}, domain.Validationf("order discount percent must be between 0 and 100")
		}
		return pricing.PercentOff(pct), nil
	}
	if req.Amount != nil {
		if req.Amount.IsNegative() {
			return pricing.OrderDiscount{}, domain.Validationf("order discount amount must not be negative")
		}
		return pricing.AmountOff(*req.Amount), nil
	}
	return pricing.OrderDiscount{}, nil
}

type pricedCart struct {
	cart       *pricing.Cart
	allocation pricing.Allocation
}

func (s *Service) price(ctx context.Context, tenantID string, req domain.CheckoutRequest, fresh bool) (pricedCart, error) {
	load := s.catalog.Load
	if fresh {
		load = s.catalog.LoadFresh
	}
	snap, err := load(ctx, tenantID)
	if err != nil {
		return pricedCart{}, fail("load catalog", err)
	}
	cart, err := pricing.BuildCart(snap, req.Lines)
	if err != nil {
		return pricedCart{}, err
	}
	discount, err := orderDiscount(req.Discount)
	if err != nil {
		return pricedCart{}, err
	}
	return pricedCart{cart: cart, allocation: pricing.Allocate(cart.Inputs(), discount)}, nil
}

// Quote prices a cart without committing anything. The payment preview is
// only computed when a method is given.
func (s *Service) Quote(ctx context.Context, req domain.CheckoutRequest) (domain.QuoteResponse, error) {
	priced, err := s.price(ctx, s.actor(ctx).TenantID, req, false)
	if err != nil {
		return domain.QuoteResponse{}, err
	}

	alloc := priced.allocation
	lines := priced.cart.Lines()
	resp := domain.QuoteResponse{
		Lines:         make([]domain.QuoteLine, 0, len(lines)),
		Subtotal:      money.Round2(alloc.Subtotal),
		BaseNet:       money.Round2(alloc.BaseNet),
		OrderDiscount: alloc.GlobalDiscount,
		GrandTotal:    alloc.GrandTotal,
		Change:        money.Zero,
	}
	for i, line := range lines {
		al := alloc.Lines[i]
		resp.Lines = append(resp.Lines, domain.QuoteLine{
			ProductID:          line.Product.ID,
			Name:               line.Product.Name,
			Quantity:           line.Quantity,
			UnitPrice:          line.Product.Price,
			DiscountPercent:    line.DiscountPercent,
			Subtotal:           money.Round2(al.Subtotal),
			LineDiscount:       al.LineDiscount,
			Net:                money.Round2(al.Net),
			OrderDiscountShare: al.Share,
			FinalDiscount:      al.FinalDiscount,
			FinalTotal:         al.FinalTotal,
		})
	}

	if strings.TrimSpace(req.Payment.Method) != "" {
		res, err := payment.Resolve(alloc.GrandTotal, payment.SelectionFrom(req.Payment))
		if err != nil {
			return domain.QuoteResponse{}, err
		}
		resp.PaymentMethod = string(res.Method)
		resp.Change = res.Change
	}
	return resp, nil
}

// Checkout prices the cart against a fresh catalog, resolves the payment and
// commits the order. Stock is only decremented by the commit.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	actor := s.actor(ctx)
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = xid.New("idem")
	}

	// A retry of a sale that already landed must not be re-priced: the stock
	// it consumed may no longer be available.
	if existing, err := s.repo.FindOrderByIdempotency(ctx, actor.TenantID, key); err == nil {
		return checkoutResponse(existing, true), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.CheckoutResponse{}, fail("find order", err)
	}

	priced, err := s.price(ctx, actor.TenantID, req, true)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	alloc := priced.allocation
	resolution, err := payment.Resolve(alloc.GrandTotal, payment.SelectionFrom(req.Payment))
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	lines := priced.cart.Lines()
	order := domain.Order{
		TenantID:       actor.TenantID,
		ClientID:       strings.TrimSpace(req.ClientID),
		IdempotencyKey: key,
		Subtotal:       money.Round2(alloc.Subtotal),
		LineDiscount:   money.Round2(alloc.LineDiscount),
		OrderDiscount:  alloc.GlobalDiscount,
		TotalAmount:    alloc.GrandTotal,
		PaymentMethod:  string(resolution.Method),
		AmountReceived: money.Round2(resolution.Received),
		Change:         resolution.Change,
		Salesperson:    actor.Username,
		Items:          make([]domain.OrderItem, 0, len(lines)),
	}
	for i, line := range lines {
		al := alloc.Lines[i]
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:   line.Product.ID,
			ProductName: line.Product.Name,
			Quantity:    line.Quantity,
			UnitPrice:   line.Product.Price,
			Discount:    al.FinalDiscount,
			TotalPrice:  al.FinalTotal,
		})
	}
	entry := domain.FinancialEntry{
		Amount:        order.TotalAmount,
		PaymentMethod: order.PaymentMethod,
		CreatedBy:     actor.Username,
	}

	committed, duplicate, err := s.repo.CommitOrder(ctx, order, entry)
	if err != nil {
		return s.recoverCommit(ctx, actor.TenantID, key, err)
	}

	s.catalog.Invalidate(ctx, actor.TenantID)
	if !duplicate {
		s.logAudit(ctx, "order_commit", "order", committed.ID,
			fmt.Sprintf("total=%s,method=%s,items=%d", committed.TotalAmount.StringFixed(2), committed.PaymentMethod, len(committed.Items)))
	}
	return checkoutResponse(committed, duplicate), nil
}

// recoverCommit turns a failed commit into the caller-facing error. When the
// outcome of the final commit is unknown the order is looked up by key and
// returned if it landed.
func (s *Service) recoverCommit(ctx context.Context, tenantID string, key string, err error) (domain.CheckoutResponse, error) {
	var commitErr *domain.CommitError
	if errors.As(err, &commitErr) {
		if commitErr.Stock == domain.StockUnknown {
			existing, findErr := s.repo.FindOrderByIdempotency(ctx, tenantID, key)
			if findErr == nil {
				s.log(ctx).Warn("order commit reported failure but order was stored",
					zap.String("order_id", existing.ID), zap.String("idempotency_key", key), zap.Error(err))
				s.catalog.Invalidate(ctx, tenantID)
				return checkoutResponse(existing, false), nil
			}
			s.log(ctx).Error("order commit outcome unknown",
				zap.String("idempotency_key", key), zap.Error(err), zap.NamedError("lookup_error", findErr))
		}
		return domain.CheckoutResponse{}, err
	}
	if domain.IsBusinessError(err) {
		return domain.CheckoutResponse{}, err
	}
	return domain.CheckoutResponse{}, &domain.CommitError{Stock: domain.StockUntouched, Err: err}
}

func checkoutResponse(order *domain.Order, duplicate bool) domain.CheckoutResponse {
	return domain.CheckoutResponse{Order: *order, Change: order.Change, Duplicate: duplicate}
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.OrderDetailResponse, error) {
	tenantID := s.actor(ctx).TenantID
	order, err := s.repo.FindOrderByID(ctx, tenantID, strings.TrimSpace(orderID))
	if err != nil {
		return domain.OrderDetailResponse{}, fail("find order", err)
	}
	returns, err := s.repo.ListReturns(ctx, tenantID, order.ID)
	if err != nil {
		return domain.OrderDetailResponse{}, fail("list returns", err)
	}
	entries, err := s.repo.ListFinancialEntries(ctx, tenantID, order.ID)
	if err != nil {
		return domain.OrderDetailResponse{}, fail("list financial entries", err)
	}
	return domain.OrderDetailResponse{
		Order:   *order,
		Returns: returns,
		Summary: Summarize(*order, returns),
		Entries: entries,
	}, nil
}

func (s *Service) ListOrders(ctx context.Context, status string, limit int) ([]domain.Order, error) {
	st := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(status)))
	if st != "" && !st.IsValid() {
		return nil, domain.Validationf("unknown order status %q", status)
	}
	orders, err := s.repo.ListOrders(ctx, s.actor(ctx).TenantID, st, limit)
	return orders, fail("list orders", err)
}

// Summarize reconciles an order with its returns. The stored total is the
// current total; the original is recovered by adding the refunds back.
func Summarize(order domain.Order, returns []domain.OrderReturn) domain.OrderSummary {
	returned := store.ReturnedTotalsOf(returns)
	refunded := money.Zero
	for _, ret := range returns {
		refunded = refunded.Add(ret.Amount)
	}

	summary := domain.OrderSummary{
		OrderID:       order.ID,
		Status:        order.Status,
		OriginalTotal: money.Round2(order.TotalAmount.Add(refunded)),
		Refunded:      money.Round2(refunded),
		CurrentTotal:  order.TotalAmount,
		Lines:         make([]domain.OrderLineSummary, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		t := returned[item.ID]
		summary.Lines = append(summary.Lines, domain.OrderLineSummary{
			OrderItemID:       item.ID,
			ProductID:         item.ProductID,
			Quantity:          item.Quantity,
			ReturnedQuantity:  t.Quantity,
			OriginalLineTotal: item.TotalPrice,
			Refunded:          money.Round2(t.Amount),
			CurrentLine:       money.Round2(item.TotalPrice.Sub(t.Amount)),
		})
	}
	return summary
}

func (s *Service) CancelOrder(ctx context.Context, orderID string, req domain.CancelOrderRequest) (domain.Order, error) {
	actor := s.actor(ctx)
	cancelled, err := s.repo.CancelOrder(ctx, store.Cancellation{
		TenantID: actor.TenantID,
		OrderID:  strings.TrimSpace(orderID),
		Reason:   strings.TrimSpace(req.Reason),
		Actor:    actor.Username,
		At:       s.now(),
	})
	if err != nil {
		return domain.Order{}, fail("cancel order", err)
	}

	s.catalog.Invalidate(ctx, actor.TenantID)
	s.logAudit(ctx, "order_cancel", "order", cancelled.ID,
		fmt.Sprintf("reason=%s,total=%s", cancelled.CancelledReason, cancelled.TotalAmount.StringFixed(2)))
	return *cancelled, nil
}

// RemoveOrder drops a cancelled order from history. Stock is not touched.
func (s *Service) RemoveOrder(ctx context.Context, orderID string) error {
	actor := s.actor(ctx)
	orderID = strings.TrimSpace(orderID)
	if err := s.repo.DeleteOrder(ctx, actor.TenantID, orderID); err != nil {
		return fail("remove order", err)
	}
	s.logAudit(ctx, "order_remove", "order", orderID, "")
	return nil
}

func (s *Service) BuildReceipt(ctx context.Context, orderID string) (domain.ReceiptPayload, error) {
	order, err := s.repo.FindOrderByID(ctx, s.actor(ctx).TenantID, strings.TrimSpace(orderID))
	if err != nil {
		return domain.ReceiptPayload{}, fail("find order", err)
	}

	at := order.CreatedAt.In(s.opts.Location)
	receipt := domain.ReceiptPayload{
		Header:        s.opts.ReceiptHeader,
		OrderID:       order.ID,
		Date:          at.Format("02/01/2006"),
		Time:          at.Format("15:04"),
		Items:         make([]domain.ReceiptLine, 0, len(order.Items)),
		Total:         order.TotalAmount,
		PaymentMethod: order.PaymentMethod,
		Footer:        s.opts.ReceiptFooter,
	}
	for _, item := range order.Items {
		receipt.Items = append(receipt.Items, domain.ReceiptLine{
			Name:  item.ProductName,
			Qty:   item.Quantity,
			Price: item.UnitPrice,
			Total: item.TotalPrice,
		})
	}
	return receipt, nil
}
