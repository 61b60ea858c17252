package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"varejo/backend/internal/domain"
	"varejo/backend/internal/store"
	"varejo/backend/internal/store/memory"
)

const testTenant = "loja-1"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newTestService(t *testing.T, repo store.Repository) (*Service, context.Context) {
	t.Helper()
	if repo == nil {
		repo = memory.New()
	}
	svc := New(repo, nil, nil, zap.NewNop(), Options{
		DefaultTenantID: testTenant,
		ReceiptHeader:   "Varejo",
		ReceiptFooter:   "Obrigado",
		Location:        time.UTC,
	})
	ctx := WithActor(context.Background(), domain.Actor{Username: "ana", Role: "admin", TenantID: testTenant})
	return svc, ctx
}

func mustProduct(t *testing.T, svc *Service, ctx context.Context, name string, price string, stock int) domain.Product {
	t.Helper()
	p, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name:         name,
		Price:        dec(price),
		InitialStock: stock,
		MinStock:     1,
	})
	require.NoError(t, err)
	return p
}

func stockOf(t *testing.T, repo store.Repository, productID string) int {
	t.Helper()
	p, err := repo.GetProduct(context.Background(), testTenant, productID)
	require.NoError(t, err)
	return p.Stock
}

func pix() domain.PaymentRequest {
	return domain.PaymentRequest{Method: "PIX"}
}

func TestCheckoutAppliesPercentOrderDiscount(t *testing.T) {
	repo := memory.New()
	svc, ctx := newTestService(t, repo)
	p := mustProduct(t, svc, ctx, "Produto P", "10.00", 50)

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		IdempotencyKey: "scenario-a",
		Lines:          []domain.CartLineRequest{{ProductID: p.ID, Quantity: 3}},
		Discount:       domain.OrderDiscountRequest{Percent: decPtr("10")},
		Payment:        pix(),
	})
	require.NoError(t, err)

	order := resp.Order
	assert.False(t, resp.Duplicate)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	assert.Equal(t, "30.00", order.Subtotal.StringFixed(2))
	assert.Equal(t, "3.00", order.OrderDiscount.StringFixed(2))
	assert.Equal(t, "27.00", order.TotalAmount.StringFixed(2))
	require.Len(t, order.Items, 1)
	assert.Equal(t, "3.00", order.Items[0].Discount.StringFixed(2))
	assert.Equal(t, "27.00", order.Items[0].TotalPrice.StringFixed(2))
	assert.Equal(t, "ana", order.Salesperson)
	assert.Equal(t, "PIX", order.PaymentMethod)
	assert.Equal(t, 47, stockOf(t, repo, p.ID))
}

func TestQuoteGivesRemainderToLastLine(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	a := mustProduct(t, svc, ctx, "A", "33.33", 5)
	b := mustProduct(t, svc, ctx, "B", "66.67", 5)

	quote, err := svc.Quote(ctx, domain.CheckoutRequest{
		Lines: []domain.CartLineRequest{
			{ProductID: a.ID, Quantity: 1},
			{ProductID: b.ID, Quantity: 1},
		},
		Discount: domain.OrderDiscountRequest{Amount: decPtr("10.00")},
	})
	require.NoError(t, err)

	require.Len(t, quote.Lines, 2)
	assert.Equal(t, "100.00", quote.BaseNet.StringFixed(2))
	assert.Equal(t, "3.33", quote.Lines[0].OrderDiscountShare.StringFixed(2))
	assert.Equal(t, "6.67", quote.Lines[1].OrderDiscountShare.StringFixed(2))
	assert.Equal(t, "90.00", quote.GrandTotal.StringFixed(2))
	assert.Empty(t, quote.PaymentMethod)
}

func TestQuoteDoesNotTouchStock(t *testing.T) {
	repo := memory.New()
	svc, ctx := newTestService(t, repo)
	p := mustProduct(t, svc, ctx, "Produto", "5.00", 4)

	quote, err := svc.Quote(ctx, domain.CheckoutRequest{
		Lines:   []domain.CartLineRequest{{ProductID: p.ID, Quantity: 2}},
		Payment: domain.PaymentRequest{Method: "DINHEIRO", AmountReceived: dec("20")},
	})
	require.NoError(t, err)
	assert.Equal(t, "DINHEIRO", quote.PaymentMethod)
	assert.Equal(t, "10.00", quote.Change.StringFixed(2))
	assert.Equal(t, 4, stockOf(t, repo, p.ID))
}

func TestCheckoutBlocksShortCashPayment(t *testing.T) {
	repo := memory.New()
	svc, ctx := newTestService(t, repo)
	p := mustProduct(t, svc, ctx, "Produto", "50.00", 3)

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		IdempotencyKey: "scenario-c",
		Lines:          []domain.CartLineRequest{{ProductID: p.ID, Quantity: 1}},
		Payment:        domain.PaymentRequest{Method: "DINHEIRO", AmountReceived: dec("40")},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientPayment)

	var payErr *domain.InsufficientPaymentError
	require.True(t, errors.As(err, &payErr))
	assert.Equal(t, "10.00", payErr.Shortfall.StringFixed(2))

	assert.Equal(t, 3, stockOf(t, repo, p.ID))
	orders, err := svc.ListOrders(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckoutReturnsChangeForCash(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	p := mustProduct(t, svc, ctx, "Produto", "7.50", 3)

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Lines:   []domain.CartLineRequest{{ProductID: p.ID, Quantity: 2}},
		Payment: domain.PaymentRequest{Method: "dinheiro", AmountReceived: dec("20")},
	})
	require.NoError(t, err)
	assert.Equal(t, "5.00", resp.Change.StringFixed(2))
	assert.Equal(t, "20.00", resp.Order.AmountReceived.StringFixed(2))
	assert.NotEmpty(t, resp.Order.IdempotencyKey)
}

func TestCheckoutStoresCreditCardInstallments(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	p := mustProduct(t, svc, ctx, "Produto", "120.00", 3)

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Lines:   []domain.CartLineRequest{{ProductID: p.ID, Quantity: 1}},
		Payment: domain.PaymentRequest{Method: "CARTAO", CardType: "CREDITO", Installments: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "CARTAO_CREDITO_3X", resp.Order.PaymentMethod)
}

func TestCheckoutTreatsZeroPercentAsAbsent(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	p := mustProduct(t, svc, ctx, "Produto", "20.00", 3)

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Lines:    []domain.CartLineRequest{{ProductID: p.ID, Quantity: 1}},
		Discount: domain.OrderDiscountRequest{Percent: decPtr("0"), Amount: decPtr("5")},
		Payment:  pix(),
	})
	require.NoError(t, err)
	assert.Equal(t, "15.00", resp.Order.TotalAmount.StringFixed(2))
}

func TestCheckoutRejectsBadDiscount(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	p := mustProduct(t, svc, ctx, "Produto", "20.00", 3)

	for _, discount := range []domain.OrderDiscountRequest{
		{Percent: decPtr("120")},
		{Percent: decPtr("-5")},
		{Amount: decPtr("-1")},
	} {
		_, err := svc.Checkout(ctx, domain.CheckoutRequest{
			Lines:    []domain.CartLineRequest{{ProductID: p.ID, Quantity: 1}},
			Discount: discount,
			Payment:  pix(),
		})
		require.ErrorIs(t, err, domain.ErrValidation)
	}
}

func TestCheckoutIsIdempotent(t *testing.T) {
	repo := memory.New()
	svc, ctx := newTestService(t, repo)
	p := mustProduct(t, svc, ctx, "Produto", "4.00", 2)

	req := domain.CheckoutRequest{
		IdempotencyKey: "idem-1",
		Lines:          []domain.CartLineRequest{{ProductID: p.ID, Quantity: 2}},
		Payment:        pix(),
	}
	first, err := svc.Checkout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, stockOf(t, repo, p.ID))

	// The stock is gone, yet the retry still gets the stored order back.
	second, err := svc.Checkout(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 0, stockOf(t, repo, p.ID))
}

func TestCheckoutRejectsMoreThanStock(t *testing.T) {
	repo := memory.New()
	svc, ctx := newTestService(t, repo)
	p := mustProduct(t, svc, ctx, "Produto", "4.00", 2)

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Lines:   []domain.CartLineRequest{{ProductID: p.ID, Quantity: 3}},
		Payment: pix(),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 2, stockOf(t, repo, p.ID))
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	repo := memory.New()
	svc, ctx := newTestService(t, repo)
	p := mustProduct(t, svc, ctx, "Produto", "1.00", 5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	sold := 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Checkout(ctx, domain.CheckoutRequest{
				Lines:   []domain.CartLineRequest{{ProductID: p.ID, Quantity: 1}},
				Payment: pix(),
			})
			if err == nil {
				mu.Lock()
				sold++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, sold)
	assert.Equal(t, 0, stockOf(t, repo, p.ID))
}

func TestCancelRestoresStockOnce(t *testing.T) {
	repo := memory.New()
	svc, ctx := newTestService(t, repo)
	x := mustProduct(t, svc, ctx, "X", "3.00", 10)
	y := mustProduct(t, svc, ctx, "Y", "2.00", 10)

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Lines: []domain.CartLineRequest{
			{ProductID: x.ID, Quantity: 5},
			{ProductID: y.ID, Quantity: 2},
		},
		Payment: pix(),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, stockOf(t, repo, x.ID))
	assert.Equal(t, 8, stockOf(t, repo, y.ID))

	cancelled, err := svc.CancelOrder(ctx, resp.Order.ID, domain.CancelOrderRequest{Reason: "cliente desistiu"})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, "cliente desistiu", cancelled.CancelledReason)
	assert.Equal(t, 10, stockOf(t, repo, x.ID))
	assert.Equal(t, 10, stockOf(t, repo, y.ID))

	_, err = svc.CancelOrder(ctx, resp.Order.ID, domain.CancelOrderRequest{})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 10, stockOf(t, repo, x.ID))

	detail, err := svc.GetOrder(ctx, resp.Order.ID)
	require.NoError(t, err)
	kinds := make([]string, 0, len(detail.Entries))
	for _, e := range detail.Entries {
		kinds = append(kinds, e.Kind)
	}
	assert.ElementsMatch(t, []string{domain.EntryRevenue, domain.EntryReversal}, kinds)
}

func TestReturnReconcilesTotals(t *testing.T) {
	repo := memory.New()
	svc, ctx := newTestService(t, repo)
	p := mustProduct(t, svc, ctx, "Produto", "50.00", 5)

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Lines:   []domain.CartLineRequest{{ProductID: p.ID, Quantity: 2}},
		Payment: pix(),
	})
	require.NoError(t, err)
	itemID := resp.Order.Items[0].ID

	ret, err := svc.RecordReturn(ctx, resp.Order.ID, domain.ReturnRequest{
		Items:  []domain.ReturnItemRequest{{OrderItemID: itemID, Amount: dec("30.00")}},
		Reason: "avaria",
	})
	require.NoError(t, err)
	assert.Equal(t, "30.00", ret.Return.Amount.StringFixed(2))
	assert.Equal(t, "100.00", ret.Summary.OriginalTotal.StringFixed(2))
	assert.Equal(t, "70.00", ret.Summary.CurrentTotal.StringFixed(2))
	assert.Equal(t, "30.00", ret.Summary.Refunded.StringFixed(2))
	require.Len(t, ret.Summary.Lines, 1)
	assert.Equal(t, "70.00", ret.Summary.Lines[0].CurrentLine.StringFixed(2))
	assert.Equal(t, 3, stockOf(t, repo, p.ID))

	_, err = svc.RecordReturn(ctx, resp.Order.ID, domain.ReturnRequest{
		Items: []domain.ReturnItemRequest{{OrderItemID: itemID, Amount: dec("80.00")}},
	})
	require.ErrorIs(t, err, domain.ErrOverRefund)

	detail, err := svc.GetOrder(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "70.00", detail.Order.TotalAmount.StringFixed(2))
	assert.Equal(t, "100.00", detail.Summary.OriginalTotal.StringFixed(2))
	require.Len(t, detail.Returns, 1)
}

func TestReturnCannotRefundMoreThanOrderTotal(t *testing.T) {
	repo := memory.New()
	svc, ctx := newTestService(t, repo)
	a := mustProduct(t, svc, ctx, "Bala A", "0.02", 5)
	b := mustProduct(t, svc, ctx, "Bala B", "0.02", 5)
	c := mustProduct(t, svc, ctx, "Bala C", "0.02", 5)
	d := mustProduct(t, svc, ctx, "Bala D", "0.01", 5)

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Lines: []domain.CartLineRequest{
			{ProductID: a.ID, Quantity: 1},
			{ProductID: b.ID, Quantity: 1},
			{ProductID: c.ID, Quantity: 1},
			{ProductID: d.ID, Quantity: 1},
		},
		Discount: domain.OrderDiscountRequest{Amount: decPtr("0.05")},
		Payment:  pix(),
	})
	require.NoError(t, err)
	require.Equal(t, "0.02", resp.Order.TotalAmount.StringFixed(2))
	require.Len(t, resp.Order.Items, 4)

	all := make([]domain.ReturnItemRequest, 0, 3)
	for _, item := range resp.Order.Items[:3] {
		require.Equal(t, "0.01", item.TotalPrice.StringFixed(2))
		all = append(all, domain.ReturnItemRequest{OrderItemID: item.ID, Quantity: 1, Amount: dec("0.01")})
	}

	_, err = svc.RecordReturn(ctx, resp.Order.ID, domain.ReturnRequest{Items: all})
	require.ErrorIs(t, err, domain.ErrOverRefund)
	var over *domain.OverRefundError
	require.True(t, errors.As(err, &over))
	assert.Empty(t, over.OrderItemID)
	assert.Equal(t, "0.02", over.RemainingAmount.StringFixed(2))
	assert.Equal(t, 4, stockOf(t, repo, a.ID))

	ret, err := svc.RecordReturn(ctx, resp.Order.ID, domain.ReturnRequest{Items: all[:2]})
	require.NoError(t, err)
	assert.Equal(t, "0.00", ret.Summary.CurrentTotal.StringFixed(2))

	_, err = svc.RecordReturn(ctx, resp.Order.ID, domain.ReturnRequest{Items: all[2:]})
	require.ErrorIs(t, err, domain.ErrOverRefund)

	detail, err := svc.GetOrder(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.False(t, detail.Order.TotalAmount.IsNegative())
	assert.Equal(t, "0.02", detail.Summary.OriginalTotal.StringFixed(2))
}

func TestReturnThenCancelConservesStock(t *testing.T) {
	repo := memory.New()
	svc, ctx := newTestService(t, repo)
	p := mustProduct(t, svc, ctx, "Produto", "10.00", 20)

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Lines:   []domain.CartLineRequest{{ProductID: p.ID, Quantity: 5}},
		Payment: pix(),
	})
	require.NoError(t, err)

	_, err = svc.RecordReturn(ctx, resp.Order.ID, domain.ReturnRequest{
		Items: []domain.ReturnItemRequest{{OrderItemID: resp.Order.Items[0].ID, Quantity: 2, Amount: dec("20.00")}},
	})
	require.NoError(t, err)
	assert.Equal(t, 17, stockOf(t, repo, p.ID))

	_, err = svc.CancelOrder(ctx, resp.Order.ID, domain.CancelOrderRequest{})
	require.NoError(t, err)
	assert.Equal(t, 20, stockOf(t, repo, p.ID))

	_, err = svc.RecordReturn(ctx, resp.Order.ID, domain.ReturnRequest{
		Items: []domain.ReturnItemRequest{{OrderItemID: resp.Order.Items[0].ID, Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRemoveOrderOnlyAfterCancel(t *testing.T) {
	repo := memory.New()
	svc, ctx := newTestService(t, repo)
	p := mustProduct(t, svc, ctx, "Produto", "10.00", 5)

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Lines:   []domain.CartLineRequest{{ProductID: p.ID, Quantity: 1}},
		Payment: pix(),
	})
	require.NoError(t, err)

	require.ErrorIs(t, svc.RemoveOrder(ctx, resp.Order.ID), domain.ErrInvalidTransition)

	_, err = svc.CancelOrder(ctx, resp.Order.ID, domain.CancelOrderRequest{})
	require.NoError(t, err)
	require.NoError(t, svc.RemoveOrder(ctx, resp.Order.ID))
	assert.Equal(t, 5, stockOf(t, repo, p.ID))

	_, err = svc.GetOrder(ctx, resp.Order.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBuildReceipt(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	p := mustProduct(t, svc, ctx, "Café 500g", "18.90", 5)

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Lines:   []domain.CartLineRequest{{ProductID: p.ID, Quantity: 2}},
		Payment: pix(),
	})
	require.NoError(t, err)

	receipt, err := svc.BuildReceipt(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "Varejo", receipt.Header)
	assert.Equal(t, "Obrigado", receipt.Footer)
	assert.Equal(t, resp.Order.ID, receipt.OrderID)
	assert.Equal(t, resp.Order.CreatedAt.UTC().Format("02/01/2006"), receipt.Date)
	require.Len(t, receipt.Items, 1)
	assert.Equal(t, "Café 500g", receipt.Items[0].Name)
	assert.Equal(t, 2, receipt.Items[0].Qty)
	assert.Equal(t, "37.80", receipt.Total.StringFixed(2))
	assert.Equal(t, "PIX", receipt.PaymentMethod)
}

func TestTenantsDoNotSeeEachOther(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	p := mustProduct(t, svc, ctx, "Produto", "10.00", 5)
	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Lines:   []domain.CartLineRequest{{ProductID: p.ID, Quantity: 1}},
		Payment: pix(),
	})
	require.NoError(t, err)

	other := WithActor(context.Background(), domain.Actor{Username: "bia", Role: "admin", TenantID: "loja-2"})
	_, err = svc.GetOrder(other, resp.Order.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	products, err := svc.ListProducts(other)
	require.NoError(t, err)
	assert.Empty(t, products)

	_, err = svc.Checkout(other, domain.CheckoutRequest{
		Lines:   []domain.CartLineRequest{{ProductID: p.ID, Quantity: 1}},
		Payment: pix(),
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestRecordMovementRejectsNegativeStock(t *testing.T) {
	repo := memory.New()
	svc, ctx := newTestService(t, repo)
	p := mustProduct(t, svc, ctx, "Produto", "10.00", 2)

	_, err := svc.RecordMovement(ctx, domain.MovementRequest{ProductID: p.ID, Type: domain.MovementOut, Quantity: 3})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	res, err := svc.RecordMovement(ctx, domain.MovementRequest{ProductID: p.ID, Type: "in", Quantity: 4, Note: "ajuste"})
	require.NoError(t, err)
	assert.True(t, res.AuditRecorded)
	assert.Equal(t, 2, res.Movement.PrevStock)
	assert.Equal(t, 6, res.Movement.NewStock)
	assert.Equal(t, "ana", res.Movement.CreatedBy)

	check, err := svc.CheckStock(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, check.HasMovements)
	assert.True(t, check.Consistent)
	assert.Equal(t, 6, check.LastRecordedNew)

	movements, err := svc.ListMovements(ctx, p.ID, 10)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.Equal(t, "ajuste", movements[0].Note)
}

// unauditedRepo applies stock changes but reports the ledger row as lost.
type unauditedRepo struct {
	*memory.Store
}

func (r unauditedRepo) ApplyMovement(ctx context.Context, m domain.InventoryMovement) (domain.MovementResult, error) {
	res, err := r.Store.ApplyMovement(ctx, m)
	if err != nil {
		return res, err
	}
	res.AuditRecorded = false
	res.AuditError = "insert movement: disk full"
	return res, nil
}

func TestRecordMovementWarnsWhenLedgerRowIsLost(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	repo := unauditedRepo{Store: memory.New()}
	svc := New(repo, nil, nil, zap.New(core), Options{DefaultTenantID: testTenant})
	ctx := WithActor(context.Background(), domain.Actor{Username: "ana", Role: "admin", TenantID: testTenant})

	created, err := repo.CreateProduct(ctx, domain.Product{TenantID: testTenant, Name: "Produto", Price: dec("1.00"), Active: true})
	require.NoError(t, err)

	res, err := svc.RecordMovement(ctx, domain.MovementRequest{ProductID: created.ID, Type: domain.MovementIn, Quantity: 3})
	require.NoError(t, err)
	assert.False(t, res.AuditRecorded)
	assert.Equal(t, 3, stockOf(t, repo, created.ID))

	warned := logs.FilterMessage("stock changed without a movement record")
	require.Equal(t, 1, warned.Len())
	assert.Equal(t, created.ID, warned.All()[0].ContextMap()["product_id"])
}

// commitFailingRepo fails the commit in the configured way.
type commitFailingRepo struct {
	*memory.Store
	land    bool
	outcome error
}

func (r commitFailingRepo) CommitOrder(ctx context.Context, order domain.Order, entry domain.FinancialEntry) (*domain.Order, bool, error) {
	if r.land {
		if _, _, err := r.Store.CommitOrder(ctx, order, entry); err != nil {
			return nil, false, err
		}
	}
	return nil, false, r.outcome
}

func TestCheckoutWrapsBackendFailureAsCommitError(t *testing.T) {
	repo := commitFailingRepo{Store: memory.New(), outcome: errors.New("connection refused")}
	svc, ctx := newTestService(t, repo)
	p := mustProduct(t, svc, ctx, "Produto", "10.00", 5)

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Lines:   []domain.CartLineRequest{{ProductID: p.ID, Quantity: 1}},
		Payment: pix(),
	})
	require.ErrorIs(t, err, domain.ErrCommitFailed)

	var commitErr *domain.CommitError
	require.True(t, errors.As(err, &commitErr))
	assert.Equal(t, domain.StockUntouched, commitErr.Stock)
	assert.Equal(t, 5, stockOf(t, repo, p.ID))
}

func TestCheckoutRecoversOrderAfterAmbiguousCommit(t *testing.T) {
	repo := commitFailingRepo{
		Store:   memory.New(),
		land:    true,
		outcome: &domain.CommitError{Stock: domain.StockUnknown, Err: errors.New("connection reset")},
	}
	svc, ctx := newTestService(t, repo)
	p := mustProduct(t, svc, ctx, "Produto", "10.00", 5)

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		IdempotencyKey: "idem-ambiguous",
		Lines:          []domain.CartLineRequest{{ProductID: p.ID, Quantity: 2}},
		Payment:        pix(),
	})
	require.NoError(t, err)
	assert.Equal(t, "idem-ambiguous", resp.Order.IdempotencyKey)
	assert.Equal(t, 3, stockOf(t, repo, p.ID))
}

func TestCheckoutSurfacesUnknownOutcomeWhenOrderIsMissing(t *testing.T) {
	repo := commitFailingRepo{
		Store:   memory.New(),
		outcome: &domain.CommitError{Stock: domain.StockUnknown, Err: errors.New("connection reset")},
	}
	svc, ctx := newTestService(t, repo)
	p := mustProduct(t, svc, ctx, "Produto", "10.00", 5)

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Lines:   []domain.CartLineRequest{{ProductID: p.ID, Quantity: 1}},
		Payment: pix(),
	})
	var commitErr *domain.CommitError
	require.True(t, errors.As(err, &commitErr))
	assert.Equal(t, domain.StockUnknown, commitErr.Stock)
}

type brokenOrdersRepo struct {
	*memory.Store
}

func (brokenOrdersRepo) ListOrders(context.Context, string, domain.OrderStatus, int) ([]domain.Order, error) {
	return nil, errors.New("pool exhausted")
}

func TestBackendErrorsBecomePersistenceErrors(t *testing.T) {
	svc, ctx := newTestService(t, brokenOrdersRepo{Store: memory.New()})

	_, err := svc.ListOrders(ctx, "", 10)
	require.ErrorIs(t, err, domain.ErrPersistence)

	_, err = svc.ListOrders(ctx, "shipped", 10)
	require.ErrorIs(t, err, domain.ErrValidation)
}

type recordingStorage struct {
	keys []string
	err  error
}

func (r *recordingStorage) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.keys = append(r.keys, key)
	return "s3://notas/" + key, nil
}

func TestReceivePurchaseStoresAttachment(t *testing.T) {
	repo := memory.New()
	objects := &recordingStorage{}
	svc := New(repo, nil, objects, zap.NewNop(), Options{DefaultTenantID: testTenant})
	ctx := WithActor(context.Background(), domain.Actor{Username: "ana", Role: "admin", TenantID: testTenant})
	p := mustProduct(t, svc, ctx, "Produto", "10.00", 1)

	receipt, err := svc.ReceivePurchase(ctx, domain.PurchaseReceiptRequest{
		Supplier: "Atacadão",
		Items:    []domain.PurchaseItemRequest{{ProductID: p.ID, Quantity: 3, UnitCost: dec("2.335")}},
		Attachment: &domain.AttachmentUpload{
			FileName: "nota.pdf", ContentType: "application/pdf", Data: []byte("%PDF"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "7.01", receipt.Total.StringFixed(2))
	assert.Equal(t, 4, stockOf(t, repo, p.ID))
	require.Len(t, objects.keys, 1)
	assert.Equal(t, "tenants/loja-1/purchase-receipts/"+receipt.ID+"/nota.pdf", objects.keys[0])
	assert.Equal(t, "s3://notas/"+objects.keys[0], receipt.AttachmentRef)

	listed, err := svc.ListPurchaseReceipts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, receipt.AttachmentRef, listed[0].AttachmentRef)
}

func TestReceivePurchaseKeepsReceiptWhenUploadFails(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	repo := memory.New()
	svc := New(repo, nil, &recordingStorage{err: errors.New("bucket missing")}, zap.New(core), Options{DefaultTenantID: testTenant})
	ctx := WithActor(context.Background(), domain.Actor{Username: "ana", Role: "admin", TenantID: testTenant})
	p := mustProduct(t, svc, ctx, "Produto", "10.00", 0)

	receipt, err := svc.ReceivePurchase(ctx, domain.PurchaseReceiptRequest{
		Supplier: "Atacadão",
		Items:    []domain.PurchaseItemRequest{{ProductID: p.ID, Quantity: 2, UnitCost: dec("4")}},
		Attachment: &domain.AttachmentUpload{
			FileName: "nota.pdf", ContentType: "application/pdf", Data: []byte("%PDF"),
		},
	})
	require.NoError(t, err)
	assert.Empty(t, receipt.AttachmentRef)
	assert.Equal(t, 2, stockOf(t, repo, p.ID))
	assert.Equal(t, 1, logs.FilterMessage("purchase receipt attachment upload failed").Len())
}

func TestReceivePurchaseUnknownProductWritesNothing(t *testing.T) {
	repo := memory.New()
	svc, ctx := newTestService(t, repo)
	p := mustProduct(t, svc, ctx, "Produto", "10.00", 1)

	_, err := svc.ReceivePurchase(ctx, domain.PurchaseReceiptRequest{
		Supplier: "Atacadão",
		Items: []domain.PurchaseItemRequest{
			{ProductID: p.ID, Quantity: 2, UnitCost: dec("4")},
			{ProductID: "prd-missing", Quantity: 1, UnitCost: dec("4")},
		},
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, stockOf(t, repo, p.ID))
}

func TestLowStockAndProductUpdate(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	low := mustProduct(t, svc, ctx, "Pouco", "1.00", 1)
	mustProduct(t, svc, ctx, "Bastante", "1.00", 40)

	products, err := svc.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, low.ID, products[0].ID)

	inactive := false
	updated, err := svc.UpdateProduct(ctx, low.ID, domain.ProductUpdateRequest{
		Price:  decPtr("1.499"),
		Active: &inactive,
	})
	require.NoError(t, err)
	assert.Equal(t, "1.50", updated.Price.StringFixed(2))
	assert.False(t, updated.Active)

	products, err = svc.LowStock(ctx)
	require.NoError(t, err)
	assert.Empty(t, products)

	_, err = svc.UpdateProduct(ctx, low.ID, domain.ProductUpdateRequest{RecommendedDiscountPercent: decPtr("150")})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestAuditTrailRecordsWrites(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	p := mustProduct(t, svc, ctx, "Produto", "10.00", 3)
	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Lines:   []domain.CartLineRequest{{ProductID: p.ID, Quantity: 1}},
		Payment: pix(),
	})
	require.NoError(t, err)

	logs, err := svc.ListAuditLogs(ctx, "", 50)
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, l := range logs {
		actions = append(actions, l.Action)
		assert.Equal(t, "ana", l.ActorUsername)
	}
	assert.Contains(t, actions, "product_create")
	assert.Contains(t, actions, "order_commit")

	_, err = svc.ListAuditLogs(ctx, "15/03/2026", 50)
	require.ErrorIs(t, err, domain.ErrValidation)
}
