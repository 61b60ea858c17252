package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrOutOfStock          = errors.New("out of stock")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrOverRefund          = errors.New("over refund")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrCommitFailed        = errors.New("commit failed")
	ErrPersistence         = errors.New("persistence error")
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// StockError is an ErrInsufficientStock (or ErrOutOfStock when nothing is
// available) naming the product and the missing units.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	if e.Available <= 0 {
		return fmt.Sprintf("product %s is out of stock", e.ProductID)
	}
	return fmt.Sprintf("insufficient stock for product %s: missing %d un", e.ProductID, e.Requested-e.Available)
}

func (e *StockError) Is(target error) bool {
	if target == ErrInsufficientStock {
		return true
	}
	return target == ErrOutOfStock && e.Available <= 0
}

type InsufficientPaymentError struct {
	Total     decimal.Decimal
	Received  decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: received %s of %s, missing %s",
		e.Received.StringFixed(2), e.Total.StringFixed(2), e.Shortfall.StringFixed(2))
}

func (e *InsufficientPaymentError) Is(target error) bool {
	return target == ErrInsufficientPayment
}

// OverRefundError names the line, or the whole order when OrderItemID is
// empty, whose refundable amount would be exceeded.
type OverRefundError struct {
	OrderID           string
	OrderItemID       string
	RemainingQuantity int
	RemainingAmount   decimal.Decimal
}

func (e *OverRefundError) Error() string {
	if e.OrderItemID == "" {
		return fmt.Sprintf("over refund on order %s: at most %s remains refundable",
			e.OrderID, e.RemainingAmount.StringFixed(2))
	}
	return fmt.Sprintf("over refund on item %s: at most %d un and %s remain returnable",
		e.OrderItemID, e.RemainingQuantity, e.RemainingAmount.StringFixed(2))
}

func (e *OverRefundError) Is(target error) bool {
	return target == ErrOverRefund
}

// StockOutcome tells a caller of a failed commit whether stock may have moved.
type StockOutcome string

const (
	StockUntouched StockOutcome = "untouched"
	StockUnknown   StockOutcome = "unknown"
)

type CommitError struct {
	Stock StockOutcome
	Err   error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed (stock %s): %v", e.Stock, e.Err)
}

func (e *CommitError) Is(target error) bool {
	return target == ErrCommitFailed
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a transport or backend failure. Retrying is safe.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsBusinessError reports whether err belongs to the domain taxonomy rather
// than to the storage backend.
func IsBusinessError(err error) bool {
	for _, target := range []error{
		ErrValidation, ErrNotFound, ErrOutOfStock, ErrInsufficientStock,
		ErrInsufficientPayment, ErrOverRefund, ErrInvalidTransition,
		ErrCommitFailed, ErrPersistence,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
