package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"varejo/backend/internal/domain"
	"varejo/backend/internal/money"
)

var (
	ErrNotFound          = domain.ErrNotFound
	ErrInsufficientStock = domain.ErrInsufficientStock
	ErrInvalidTransition = domain.ErrInvalidTransition
)

// Repository is tenant scoped: every read filters on the tenant and every
// write stamps it.
type Repository interface {
	ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error)
	GetProduct(ctx context.Context, tenantID string, productID string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	FindOrderByIdempotency(ctx context.Context, tenantID string, key string) (*domain.Order, error)
	FindOrderByID(ctx context.Context, tenantID string, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, tenantID string, status domain.OrderStatus, limit int) ([]domain.Order, error)
	// CommitOrder stores a COMPLETED order, decrements stock and writes the
	// revenue entry as one unit. A repeated idempotency key returns the stored
	// order with duplicate set.
	CommitOrder(ctx context.Context, order domain.Order, entry domain.FinancialEntry) (*domain.Order, bool, error)
	CancelOrder(ctx context.Context, cancel Cancellation) (*domain.Order, error)
	DeleteOrder(ctx context.Context, tenantID string, orderID string) error

	ListReturns(ctx context.Context, tenantID string, orderID string) ([]domain.OrderReturn, error)
	CreateReturn(ctx context.Context, ret domain.OrderReturn) (*domain.OrderReturn, error)

	ApplyMovement(ctx context.Context, movement domain.InventoryMovement) (domain.MovementResult, error)
	ListMovements(ctx context.Context, tenantID string, productID string, limit int) ([]domain.InventoryMovement, error)

	CreatePurchaseReceipt(ctx context.Context, receipt domain.PurchaseReceipt) (*domain.PurchaseReceipt, error)
	SetPurchaseReceiptAttachment(ctx context.Context, tenantID string, receiptID string, ref string) error
	ListPurchaseReceipts(ctx context.Context, tenantID string, limit int) ([]domain.PurchaseReceipt, error)

	ListFinancialEntries(ctx context.Context, tenantID string, orderID string) ([]domain.FinancialEntry, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Cancellation struct {
	TenantID string
	OrderID  string
	Reason   string
	Actor    string
	At       time.Time
}

// StockRestore is the quantity one order line gives back on cancel.
type StockRestore struct {
	OrderItemID string
	ProductID   string
	Quantity    int
}

// ReturnedTotalsOf sums returned quantity and amount per order item.
func ReturnedTotalsOf(returns []domain.OrderReturn) map[string]domain.ReturnedTotals {
	totals := make(map[string]domain.ReturnedTotals)
	for _, ret := range returns {
		for _, item := range ret.Items {
			t := totals[item.OrderItemID]
			t.Quantity += item.Quantity
			t.Amount = t.Amount.Add(item.Amount)
			totals[item.OrderItemID] = t
		}
	}
	return totals
}

// CheckReturnable validates requested return items against what is still
// returnable on each line. Lines repeated in one request count cumulatively.
// The summed amount may not exceed the order's current total either: line
// totals can add up to more than the order total when the discount remainder
// zeroes the last line. It returns the normalized items and their summed
// amount.
func CheckReturnable(order domain.Order, returned map[string]domain.ReturnedTotals, requested []domain.OrderReturnItem) ([]domain.OrderReturnItem, decimal.Decimal, error) {
	if order.Status != domain.OrderStatusCompleted {
		return nil, decimal.Zero, NewTransitionError(order, "return")
	}
	if len(requested) == 0 {
		return nil, decimal.Zero, domain.Validationf("return must have at least one item")
	}

	byID := make(map[string]domain.OrderItem, len(order.Items))
	for _, item := range order.Items {
		byID[item.ID] = item
	}

	running := make(map[string]domain.ReturnedTotals, len(returned))
	for id, t := range returned {
		running[id] = t
	}

	total := decimal.Zero
	items := make([]domain.OrderReturnItem, 0, len(requested))
	for _, req := range requested {
		line, ok := byID[req.OrderItemID]
		if !ok {
			return nil, decimal.Zero, domain.Validationf("order item %s does not belong to order %s", req.OrderItemID, order.ID)
		}
		amount := money.Round2(req.Amount)
		if req.Quantity < 0 || amount.IsNegative() {
			return nil, decimal.Zero, domain.Validationf("return quantity and amount must not be negative")
		}
		if req.Quantity == 0 && amount.IsZero() {
			return nil, decimal.Zero, domain.Validationf("return item %s has neither quantity nor amount", req.OrderItemID)
		}

		t := running[line.ID]
		if t.Quantity+req.Quantity > line.Quantity || t.Amount.Add(amount).GreaterThan(line.TotalPrice) {
			return nil, decimal.Zero, &domain.OverRefundError{
				OrderID:           order.ID,
				OrderItemID:       line.ID,
				RemainingQuantity: line.Quantity - t.Quantity,
				RemainingAmount:   money.NonNegative(line.TotalPrice.Sub(t.Amount)),
			}
		}
		t.Quantity += req.Quantity
		t.Amount = t.Amount.Add(amount)
		running[line.ID] = t

		items = append(items, domain.OrderReturnItem{
			OrderItemID: line.ID,
			ProductID:   line.ProductID,
			Quantity:    req.Quantity,
			Amount:      amount,
		})
		total = total.Add(amount)
	}
	if total.GreaterThan(order.TotalAmount) {
		return nil, decimal.Zero, &domain.OverRefundError{
			OrderID:         order.ID,
			RemainingAmount: money.NonNegative(order.TotalAmount),
		}
	}
	return items, total, nil
}

// RestoreQuantities lists what a cancel puts back on the shelf. Units already
// restocked by returns are not counted twice.
func RestoreQuantities(order domain.Order, returned map[string]domain.ReturnedTotals) []StockRestore {
	out := make([]StockRestore, 0, len(order.Items))
	for _, item := range order.Items {
		qty := item.Quantity - returned[item.ID].Quantity
		if qty <= 0 {
			continue
		}
		out = append(out, StockRestore{OrderItemID: item.ID, ProductID: item.ProductID, Quantity: qty})
	}
	return out
}

// ValidateProduct checks the catalog fields shared by create and update.
func ValidateProduct(p domain.Product) error {
	if p.TenantID == "" || strings.TrimSpace(p.Name) == "" {
		return domain.Validationf("product needs a tenant and a name")
	}
	if p.Price.IsNegative() {
		return domain.Validationf("price must not be negative")
	}
	if p.MinStock < 0 {
		return domain.Validationf("minimum stock must not be negative")
	}
	if p.RecommendedDiscountPercent.IsNegative() || p.RecommendedDiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		return domain.Validationf("recommended discount must be between 0 and 100")
	}
	return nil
}

// NormalizeLimit keeps list sizes within [1, maxLimit].
func NormalizeLimit(limit int, fallback int, maxLimit int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// TransitionError is an ErrInvalidTransition naming the order and its status.
type TransitionError struct {
	OrderID string
	Status  domain.OrderStatus
	Action  string
}

func NewTransitionError(order domain.Order, action string) error {
	return &TransitionError{OrderID: order.ID, Status: order.Status, Action: action}
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s order %s in status %s", e.Action, e.OrderID, e.Status)
}

func (e *TransitionError) Is(target error) bool {
	return target == domain.ErrInvalidTransition
}
