package domain

import "github.com/shopspring/decimal"

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	TenantID    string `json:"tenant_id"`
	ExpiresAt   string `json:"expires_at"`
}

type ProductCreateRequest struct {
	Name                       string          `json:"name" validate:"required,max=200"`
	Price                      decimal.Decimal `json:"price"`
	InitialStock               int             `json:"initial_stock" validate:"gte=0"`
	MinStock                   int             `json:"min_stock" validate:"gte=0"`
	RecommendedDiscountPercent decimal.Decimal `json:"recommended_discount_percent"`
}

type ProductUpdateRequest struct {
	Name                       *string          `json:"name,omitempty" validate:"omitempty,max=200"`
	Price                      *decimal.Decimal `json:"price,omitempty"`
	MinStock                   *int             `json:"min_stock,omitempty" validate:"omitempty,gte=0"`
	RecommendedDiscountPercent *decimal.Decimal `json:"recommended_discount_percent,omitempty"`
	Active                     *bool            `json:"active,omitempty"`
}

// CartLineRequest replays one cart line. A nil DiscountPercent keeps the
// product's recommended discount.
type CartLineRequest struct {
	ProductID       string           `json:"product_id" validate:"required"`
	Quantity        int              `json:"quantity" validate:"gte=1"`
	DiscountPercent *decimal.Decimal `json:"discount_percent,omitempty"`
}

// OrderDiscountRequest holds the whole-order discount. Percent wins when both are set.
type OrderDiscountRequest struct {
	Percent *decimal.Decimal `json:"percent,omitempty"`
	Amount  *decimal.Decimal `json:"amount,omitempty"`
}

type PaymentRequest struct {
	Method         string          `json:"method"`
	CardType       string          `json:"card_type,omitempty"`
	Installments   int             `json:"installments,omitempty"`
	AmountReceived decimal.Decimal `json:"amount_received"`
}

type CheckoutRequest struct {
	IdempotencyKey string               `json:"idempotency_key" validate:"omitempty,max=128"`
	ClientID       string               `json:"client_id,omitempty"`
	Lines          []CartLineRequest    `json:"lines" validate:"required,min=1,dive"`
	Discount       OrderDiscountRequest `json:"discount"`
	Payment        PaymentRequest       `json:"payment"`
}

type QuoteLine struct {
	ProductID          string          `json:"product_id"`
	Name               string          `json:"name"`
	Quantity           int             `json:"quantity"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	DiscountPercent    decimal.Decimal `json:"discount_percent"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	LineDiscount       decimal.Decimal `json:"line_discount"`
	Net                decimal.Decimal `json:"net"`
	OrderDiscountShare decimal.Decimal `json:"order_discount_share"`
	FinalDiscount      decimal.Decimal `json:"final_discount"`
	FinalTotal         decimal.Decimal `json:"final_total"`
}

type QuoteResponse struct {
	Lines         []QuoteLine     `json:"lines"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	BaseNet       decimal.Decimal `json:"base_net"`
	OrderDiscount decimal.Decimal `json:"order_discount"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Change        decimal.Decimal `json:"change"`
}

type CheckoutResponse struct {
	Order     Order           `json:"order"`
	Change    decimal.Decimal `json:"change"`
	Duplicate bool            `json:"duplicate"`
}

type CancelOrderRequest struct {
	Reason     string `json:"reason,omitempty" validate:"max=500"`
	ManagerPIN string `json:"manager_pin"`
}

type RemoveOrderRequest struct {
	ManagerPIN string `json:"manager_pin"`
}

type ReturnItemRequest struct {
	OrderItemID string          `json:"order_item_id" validate:"required"`
	Quantity    int             `json:"quantity" validate:"gte=0"`
	Amount      decimal.Decimal `json:"amount"`
}

type ReturnRequest struct {
	Items      []ReturnItemRequest `json:"items" validate:"required,min=1,dive"`
	Reason     string              `json:"reason,omitempty" validate:"max=500"`
	ManagerPIN string              `json:"manager_pin"`
}

type ReturnResponse struct {
	Return  OrderReturn  `json:"return"`
	Summary OrderSummary `json:"summary"`
}

// OrderSummary is the original / refunded / current reconciliation of an
// order. It is always recomputed, never stored.
type OrderSummary struct {
	OrderID       string             `json:"order_id"`
	Status        OrderStatus        `json:"status"`
	OriginalTotal decimal.Decimal    `json:"original_total"`
	Refunded      decimal.Decimal    `json:"refunded"`
	CurrentTotal  decimal.Decimal    `json:"current_total"`
	Lines         []OrderLineSummary `json:"lines"`
}

type OrderLineSummary struct {
	OrderItemID       string          `json:"order_item_id"`
	ProductID         string          `json:"product_id"`
	Quantity          int             `json:"quantity"`
	ReturnedQuantity  int             `json:"returned_quantity"`
	OriginalLineTotal decimal.Decimal `json:"original_line_total"`
	Refunded          decimal.Decimal `json:"refunded"`
	CurrentLine       decimal.Decimal `json:"current_line"`
}

type OrderDetailResponse struct {
	Order   Order            `json:"order"`
	Returns []OrderReturn    `json:"returns"`
	Summary OrderSummary     `json:"summary"`
	Entries []FinancialEntry `json:"financial_entries"`
}

type MovementRequest struct {
	ProductID string       `json:"product_id" validate:"required"`
	Type      MovementType `json:"type" validate:"required,oneof=IN OUT"`
	Quantity  int          `json:"quantity" validate:"gte=1"`
	Note      string       `json:"note,omitempty" validate:"max=500"`
}

type PurchaseItemRequest struct {
	ProductID string          `json:"product_id" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gte=1"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

// AttachmentUpload is an optional document attached to a purchase receipt.
// Data is base64 in JSON.
type AttachmentUpload struct {
	FileName    string `json:"file_name" validate:"required,max=200"`
	ContentType string `json:"content_type" validate:"required"`
	Data        []byte `json:"data" validate:"required"`
}

type PurchaseReceiptRequest struct {
	Supplier   string                `json:"supplier" validate:"required,max=200"`
	Note       string                `json:"note,omitempty" validate:"max=500"`
	Items      []PurchaseItemRequest `json:"items" validate:"required,min=1,dive"`
	Attachment *AttachmentUpload     `json:"attachment,omitempty"`
}

type ReceiptLine struct {
	Name  string          `json:"name"`
	Qty   int             `json:"qty"`
	Price decimal.Decimal `json:"price"`
	Total decimal.Decimal `json:"total"`
}

// ReceiptPayload is handed to an external renderer/printer.
type ReceiptPayload struct {
	Header        string          `json:"header"`
	OrderID       string          `json:"order_id"`
	Date          string          `json:"date"`
	Time          string          `json:"time"`
	Items         []ReceiptLine   `json:"items"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method"`
	Footer        string          `json:"footer"`
}
