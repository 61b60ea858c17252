package store

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"varejo/backend/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func completedOrder() domain.Order {
	return domain.Order{
		ID:          "ord-1",
		Status:      domain.OrderStatusCompleted,
		TotalAmount: dec("100.00"),
		Items: []domain.OrderItem{
			{ID: "oi-1", ProductID: "p-1", Quantity: 5, UnitPrice: dec("10.00"), TotalPrice: dec("50.00")},
			{ID: "oi-2", ProductID: "p-2", Quantity: 2, UnitPrice: dec("25.00"), TotalPrice: dec("50.00")},
		},
	}
}

func TestCheckReturnableAcceptsWithinLimits(t *testing.T) {
	items, total, err := CheckReturnable(completedOrder(), nil, []domain.OrderReturnItem{
		{OrderItemID: "oi-1", Quantity: 2, Amount: dec("20.004")},
		{OrderItemID: "oi-2", Quantity: 0, Amount: dec("5")},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "p-1", items[0].ProductID)
	assert.Equal(t, "20.00", items[0].Amount.StringFixed(2))
	assert.Equal(t, "25.00", total.StringFixed(2))
}

func TestCheckReturnableRejectsOverRefundAmount(t *testing.T) {
	returned := map[string]domain.ReturnedTotals{"oi-1": {Quantity: 0, Amount: dec("30.00")}}

	_, _, err := CheckReturnable(completedOrder(), returned, []domain.OrderReturnItem{
		{OrderItemID: "oi-1", Amount: dec("30.00")},
	})
	require.ErrorIs(t, err, domain.ErrOverRefund)

	var over *domain.OverRefundError
	require.True(t, errors.As(err, &over))
	assert.Equal(t, "20.00", over.RemainingAmount.StringFixed(2))
	assert.Equal(t, 5, over.RemainingQuantity)
}

func TestCheckReturnableCountsRepeatedLinesCumulatively(t *testing.T) {
	_, _, err := CheckReturnable(completedOrder(), nil, []domain.OrderReturnItem{
		{OrderItemID: "oi-2", Quantity: 1, Amount: dec("25")},
		{OrderItemID: "oi-2", Quantity: 2, Amount: dec("1")},
	})
	assert.ErrorIs(t, err, domain.ErrOverRefund)
}

func TestCheckReturnableValidation(t *testing.T) {
	order := completedOrder()
	cases := map[string][]domain.OrderReturnItem{
		"empty":        nil,
		"unknown item": {{OrderItemID: "oi-9", Quantity: 1}},
		"negative":     {{OrderItemID: "oi-1", Quantity: -1}},
		"nothing":      {{OrderItemID: "oi-1"}},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := CheckReturnable(order, nil, items)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestCheckReturnableCapsAtOrderTotal(t *testing.T) {
	order := domain.Order{
		ID:          "ord-2",
		Status:      domain.OrderStatusCompleted,
		TotalAmount: dec("0.02"),
		Items: []domain.OrderItem{
			{ID: "oi-1", ProductID: "p-1", Quantity: 1, TotalPrice: dec("0.01")},
			{ID: "oi-2", ProductID: "p-2", Quantity: 1, TotalPrice: dec("0.01")},
			{ID: "oi-3", ProductID: "p-3", Quantity: 1, TotalPrice: dec("0.01")},
			{ID: "oi-4", ProductID: "p-4", Quantity: 1, TotalPrice: dec("0.00")},
		},
	}
	all := []domain.OrderReturnItem{
		{OrderItemID: "oi-1", Quantity: 1, Amount: dec("0.01")},
		{OrderItemID: "oi-2", Quantity: 1, Amount: dec("0.01")},
		{OrderItemID: "oi-3", Quantity: 1, Amount: dec("0.01")},
	}

	_, _, err := CheckReturnable(order, nil, all)
	require.ErrorIs(t, err, domain.ErrOverRefund)
	var over *domain.OverRefundError
	require.True(t, errors.As(err, &over))
	assert.Equal(t, "ord-2", over.OrderID)
	assert.Empty(t, over.OrderItemID)
	assert.Equal(t, "0.02", over.RemainingAmount.StringFixed(2))
	assert.Contains(t, err.Error(), "order ord-2")

	_, total, err := CheckReturnable(order, nil, all[:2])
	require.NoError(t, err)
	assert.Equal(t, "0.02", total.StringFixed(2))

	// after that refund the stored total is zero, so the third line is refused
	order.TotalAmount = dec("0.00")
	returned := ReturnedTotalsOf([]domain.OrderReturn{{Items: all[:2]}})
	_, _, err = CheckReturnable(order, returned, all[2:])
	assert.ErrorIs(t, err, domain.ErrOverRefund)
}

func TestCheckReturnableRequiresCompletedOrder(t *testing.T) {
	order := completedOrder()
	order.Status = domain.OrderStatusCancelled

	_, _, err := CheckReturnable(order, nil, []domain.OrderReturnItem{{OrderItemID: "oi-1", Quantity: 1}})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRestoreQuantitiesSubtractsReturnedUnits(t *testing.T) {
	returned := ReturnedTotalsOf([]domain.OrderReturn{
		{Items: []domain.OrderReturnItem{{OrderItemID: "oi-1", Quantity: 2, Amount: dec("20")}}},
		{Items: []domain.OrderReturnItem{{OrderItemID: "oi-2", Quantity: 2, Amount: dec("50")}}},
	})

	restores := RestoreQuantities(completedOrder(), returned)
	require.Len(t, restores, 1)
	assert.Equal(t, StockRestore{OrderItemID: "oi-1", ProductID: "p-1", Quantity: 3}, restores[0])
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 50, NormalizeLimit(0, 50, 200))
	assert.Equal(t, 200, NormalizeLimit(999, 50, 200))
	assert.Equal(t, 10, NormalizeLimit(10, 50, 200))
}
