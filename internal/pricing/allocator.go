package pricing

import (
	"github.com/shopspring/decimal"

	"varejo/backend/internal/money"
)

type LineInput struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
}

func (l LineInput) Net() decimal.Decimal {
	return money.NonNegative(l.Subtotal.Sub(l.DiscountAmount))
}

// OrderDiscount is the whole-order discount, either a percentage or a fixed
// amount. A positive percentage wins over the amount.
type OrderDiscount struct {
	Percent *decimal.Decimal
	Amount  *decimal.Decimal
}

func PercentOff(pct decimal.Decimal) OrderDiscount {
	return OrderDiscount{Percent: &pct}
}

func AmountOff(amount decimal.Decimal) OrderDiscount {
	return OrderDiscount{Amount: &amount}
}

func (d OrderDiscount) requested(baseNet decimal.Decimal) decimal.Decimal {
	if d.Percent != nil && !d.Percent.IsZero() {
		return money.Round2(money.Percent(baseNet, *d.Percent))
	}
	if d.Amount != nil {
		return money.Round2(*d.Amount)
	}
	return money.Zero
}

type LineAllocation struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	LineDiscount  decimal.Decimal `json:"line_discount"`
	Net           decimal.Decimal `json:"net"`
	Share         decimal.Decimal `json:"share"`
	FinalDiscount decimal.Decimal `json:"final_discount"`
	FinalTotal    decimal.Decimal `json:"final_total"`
}

type Allocation struct {
	Lines          []LineAllocation `json:"lines"`
	Subtotal       decimal.Decimal  `json:"subtotal"`
	LineDiscount   decimal.Decimal  `json:"line_discount"`
	BaseNet        decimal.Decimal  `json:"base_net"`
	GlobalDiscount decimal.Decimal  `json:"global_discount"`
	GrandTotal     decimal.Decimal  `json:"grand_total"`
}

// Allocate spreads the order discount over the lines proportionally to their
// net. Every line but the last gets its rounded share; the last line takes the
// remainder so the shares always sum to the order discount. Line order matters.
func Allocate(lines []LineInput, discount OrderDiscount) Allocation {
	result := Allocation{
		Lines:        make([]LineAllocation, len(lines)),
		Subtotal:     money.Zero,
		LineDiscount: money.Zero,
		BaseNet:      money.Zero,
	}
	for i, line := range lines {
		result.Lines[i] = LineAllocation{
			Subtotal:     line.Subtotal,
			LineDiscount: line.DiscountAmount,
			Net:          line.Net(),
			Share:        money.Zero,
		}
		result.Subtotal = result.Subtotal.Add(line.Subtotal)
		result.LineDiscount = result.LineDiscount.Add(line.DiscountAmount)
		result.BaseNet = result.BaseNet.Add(result.Lines[i].Net)
	}

	baseNet := result.BaseNet
	global := money.Clamp(discount.requested(baseNet), money.Zero, money.NonNegative(baseNet))
	result.GlobalDiscount = global
	result.GrandTotal = money.Round2(money.NonNegative(baseNet.Sub(global)))

	if baseNet.IsPositive() && global.IsPositive() && len(lines) > 0 {
		allocated := money.Zero
		last := len(lines) - 1
		for i := range result.Lines {
			var share decimal.Decimal
			if i == last {
				share = global.Sub(allocated)
			} else {
				share = money.Round2(result.Lines[i].Net.Div(baseNet).Mul(global))
			}
			result.Lines[i].Share = share
			allocated = allocated.Add(share)
		}
	}

	for i := range result.Lines {
		line := &result.Lines[i]
		line.FinalDiscount = money.Round2(line.LineDiscount.Add(line.Share))
		line.FinalTotal = money.Round2(money.NonNegative(line.Subtotal.Sub(line.FinalDiscount)))
	}
	return result
}
