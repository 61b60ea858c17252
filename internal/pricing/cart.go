package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"varejo/backend/internal/domain"
	"varejo/backend/internal/money"
)

// StockSource resolves the live view of a product for stock checks.
type StockSource interface {
	Lookup(productID string) (domain.Product, bool)
}

type Line struct {
	Product         domain.Product  `json:"product"`
	Quantity        int             `json:"quantity"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

func (l Line) Subtotal() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l Line) DiscountAmount() decimal.Decimal {
	return money.Round2(money.Percent(l.Subtotal(), l.DiscountPercent))
}

func (l Line) Net() decimal.Decimal {
	return money.NonNegative(l.Subtotal().Sub(l.DiscountAmount()))
}

// Cart is the sale being composed. Lines keep insertion order, which the
// allocator relies on. Stock checks here are advisory; the committer holds
// the authoritative check.
type Cart struct {
	source StockSource
	lines  []Line
}

func NewCart(source StockSource) *Cart {
	return &Cart{source: source}
}

func (c *Cart) AddProduct(product domain.Product) error {
	if product.Stock <= 0 {
		return &domain.StockError{ProductID: product.ID, Requested: 1, Available: product.Stock}
	}

	if idx := c.index(product.ID); idx >= 0 {
		next := c.lines[idx].Quantity + 1
		if next > product.Stock {
			return &domain.StockError{ProductID: product.ID, Requested: next, Available: product.Stock}
		}
		c.lines[idx].Quantity = next
		return nil
	}

	c.lines = append(c.lines, Line{
		Product:         product,
		Quantity:        1,
		DiscountPercent: money.ClampPercent(product.RecommendedDiscountPercent),
	})
	return nil
}

func (c *Cart) Increment(productID string) error {
	idx := c.index(productID)
	if idx < 0 {
		return domain.Validationf("product %s is not in the cart", productID)
	}
	next := c.lines[idx].Quantity + 1
	if stock := c.liveStock(c.lines[idx].Product); next > stock {
		return &domain.StockError{ProductID: productID, Requested: next, Available: stock}
	}
	c.lines[idx].Quantity = next
	return nil
}

// Decrement removes the line when its quantity would drop below one.
func (c *Cart) Decrement(productID string) error {
	idx := c.index(productID)
	if idx < 0 {
		return domain.Validationf("product %s is not in the cart", productID)
	}
	if c.lines[idx].Quantity <= 1 {
		c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
		return nil
	}
	c.lines[idx].Quantity--
	return nil
}

func (c *Cart) SetQuantity(productID string, qty int) error {
	idx := c.index(productID)
	if idx < 0 {
		return domain.Validationf("product %s is not in the cart", productID)
	}
	if qty < 1 {
		return domain.Validationf("quantity for product %s must be at least 1", productID)
	}
	if stock := c.liveStock(c.lines[idx].Product); qty > stock {
		return &domain.StockError{ProductID: productID, Requested: qty, Available: stock}
	}
	c.lines[idx].Quantity = qty
	return nil
}

func (c *Cart) Remove(productID string) {
	if idx := c.index(productID); idx >= 0 {
		c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
	}
}

func (c *Cart) SetLineDiscountPercent(productID string, pct decimal.Decimal) error {
	idx := c.index(productID)
	if idx < 0 {
		return domain.Validationf("product %s is not in the cart", productID)
	}
	c.lines[idx].DiscountPercent = money.ClampPercent(pct)
	return nil
}

// SetLineDiscountPercentText accepts raw user input; anything non-numeric becomes 0.
func (c *Cart) SetLineDiscountPercentText(productID string, raw string) error {
	return c.SetLineDiscountPercent(productID, money.ParseOrZero(raw))
}

func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// Inputs returns the allocator view of the cart, in line order.
func (c *Cart) Inputs() []LineInput {
	inputs := make([]LineInput, 0, len(c.lines))
	for _, line := range c.lines {
		inputs = append(inputs, LineInput{Subtotal: line.Subtotal(), DiscountAmount: line.DiscountAmount()})
	}
	return inputs
}

func (c *Cart) index(productID string) int {
	for i, line := range c.lines {
		if line.Product.ID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) liveStock(product domain.Product) int {
	if c.source != nil {
		if live, ok := c.source.Lookup(product.ID); ok {
			return live.Stock
		}
	}
	return product.Stock
}

// BuildCart replays wire cart lines through the cart operations so the same
// validation applies server-side. Repeated products are merged.
func BuildCart(source StockSource, requests []domain.CartLineRequest) (*Cart, error) {
	cart := NewCart(source)
	for _, req := range requests {
		productID := strings.TrimSpace(req.ProductID)
		if productID == "" {
			return nil, domain.Validationf("product_id is required")
		}
		if req.Quantity < 1 {
			return nil, domain.Validationf("quantity for product %s must be at least 1", productID)
		}
		product, ok := source.Lookup(productID)
		if !ok || !product.Active {
			return nil, domain.Validationf("product %s is not available", productID)
		}

		existing := 0
		if idx := cart.index(productID); idx >= 0 {
			existing = cart.lines[idx].Quantity
		} else if err := cart.AddProduct(product); err != nil {
			return nil, err
		}
		if err := cart.SetQuantity(productID, existing+req.Quantity); err != nil {
			return nil, err
		}
		if req.DiscountPercent != nil {
			if err := cart.SetLineDiscountPercent(productID, *req.DiscountPercent); err != nil {
				return nil, err
			}
		}
	}
	if cart.IsEmpty() {
		return nil, domain.Validationf("cart is empty")
	}
	return cart, nil
}
