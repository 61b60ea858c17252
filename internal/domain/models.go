package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "DRAFT"
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusDraft, OrderStatusPending, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether a committed order may move to next.
// DRAFT and PENDING are reserved and never reached by the commit path.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return s == OrderStatusCompleted && next == OrderStatusCancelled
}

type MovementType string

const (
	MovementIn  MovementType = "IN"
	MovementOut MovementType = "OUT"
)

func (t MovementType) IsValid() bool {
	return t == MovementIn || t == MovementOut
}

const (
	EntryRevenue  = "REVENUE"
	EntryRefund   = "REFUND"
	EntryReversal = "REVERSAL"
)

type Product struct {
	ID                         string          `json:"id"`
	TenantID                   string          `json:"tenant_id"`
	Name                       string          `json:"name"`
	Price                      decimal.Decimal `json:"price"`
	Stock                      int             `json:"stock"`
	MinStock                   int             `json:"min_stock"`
	RecommendedDiscountPercent decimal.Decimal `json:"recommended_discount_percent"`
	Active                     bool            `json:"active"`
	CreatedAt                  time.Time       `json:"created_at"`
	UpdatedAt                  time.Time       `json:"updated_at"`
}

type Order struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	ClientID        string          `json:"client_id,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key"`
	Status          OrderStatus     `json:"status"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	LineDiscount    decimal.Decimal `json:"line_discount"`
	OrderDiscount   decimal.Decimal `json:"order_discount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PaymentMethod   string          `json:"payment_method"`
	AmountReceived  decimal.Decimal `json:"amount_received"`
	Change          decimal.Decimal `json:"change"`
	Salesperson     string          `json:"salesperson"`
	CancelledReason string          `json:"cancelled_reason,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Items           []OrderItem     `json:"items"`
}

// OrderItem carries the unit price snapshot taken at sale time and the final
// reconciled discount. TotalPrice = Quantity*UnitPrice - Discount.
type OrderItem struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	Position    int             `json:"position"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

type OrderReturn struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	OrderID   string            `json:"order_id"`
	Amount    decimal.Decimal   `json:"amount"`
	Reason    string            `json:"reason,omitempty"`
	CreatedBy string            `json:"created_by"`
	CreatedAt time.Time         `json:"created_at"`
	Items     []OrderReturnItem `json:"items"`
}

type OrderReturnItem struct {
	ReturnID    string          `json:"return_id"`
	OrderItemID string          `json:"order_item_id"`
	ProductID   string          `json:"product_id"`
	Quantity    int             `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
}

// ReturnedTotals is the cumulative returned quantity and amount of one order item.
type ReturnedTotals struct {
	Quantity int
	Amount   decimal.Decimal
}

type InventoryMovement struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenant_id"`
	ProductID string       `json:"product_id"`
	Type      MovementType `json:"type"`
	Quantity  int          `json:"quantity"`
	PrevStock int          `json:"prev_stock"`
	NewStock  int          `json:"new_stock"`
	Note      string       `json:"note,omitempty"`
	Reference string       `json:"reference,omitempty"`
	CreatedBy string       `json:"created_by"`
	CreatedAt time.Time    `json:"created_at"`
}

// MovementResult reports a stock change. AuditRecorded is false when the stock
// update was applied but its movement row could not be written.
type MovementResult struct {
	Movement      InventoryMovement `json:"movement"`
	AuditRecorded bool              `json:"audit_recorded"`
	AuditError    string            `json:"audit_error,omitempty"`
}

type StockCheck struct {
	ProductID       string `json:"product_id"`
	ProductStock    int    `json:"product_stock"`
	HasMovements    bool   `json:"has_movements"`
	LastMovementID  string `json:"last_movement_id,omitempty"`
	LastRecordedNew int    `json:"last_recorded_new_stock"`
	Difference      int    `json:"difference"`
	Consistent      bool   `json:"consistent"`
}

type FinancialEntry struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	OrderID       string          `json:"order_id"`
	Kind          string          `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

type PurchaseReceipt struct {
	ID            string                `json:"id"`
	TenantID      string                `json:"tenant_id"`
	Supplier      string                `json:"supplier"`
	Note          string                `json:"note,omitempty"`
	Total         decimal.Decimal       `json:"total"`
	AttachmentRef string                `json:"attachment_ref,omitempty"`
	CreatedBy     string                `json:"created_by"`
	CreatedAt     time.Time             `json:"created_at"`
	Items         []PurchaseReceiptItem `json:"items"`
}

type PurchaseReceiptItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Total     decimal.Decimal `json:"total"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// Actor is the authenticated caller. Every write is stamped with its
// username and scoped to its tenant.
type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	TenantID  string    `json:"tenant_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
