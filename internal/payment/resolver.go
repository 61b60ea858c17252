// Package payment validates the chosen payment method against an order total.
package payment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"varejo/backend/internal/domain"
	"varejo/backend/internal/money"
)

// Method is the stored wire token. Tokens are stable; reports depend on them.
type Method string

const (
	Cash        Method = "DINHEIRO"
	Pix         Method = "PIX"
	Transfer    Method = "TRANSFERENCIA"
	Boleto      Method = "BOLETO"
	StoreCredit Method = "FIADO"
	DebitCard   Method = "CARTAO_DEBITO"

	MaxInstallments = 12

	card         = "CARTAO"
	cardDebit    = "DEBITO"
	cardCredit   = "CREDITO"
	creditPrefix = "CARTAO_CREDITO_"
)

var cashTolerance = decimal.New(1, -6)

func CreditCard(installments int) Method {
	return Method(fmt.Sprintf("%s%dX", creditPrefix, installments))
}

// Installments decodes the count from a credit token; other methods report 0.
func (m Method) Installments() int {
	raw := string(m)
	if !strings.HasPrefix(raw, creditPrefix) || !strings.HasSuffix(raw, "X") {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(raw, creditPrefix), "X"))
	if err != nil || n < 1 || n > MaxInstallments {
		return 0
	}
	return n
}

func (m Method) IsCredit() bool {
	return m.Installments() > 0
}

func ParseMethod(token string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(token)))
	switch m {
	case Cash, Pix, Transfer, Boleto, StoreCredit, DebitCard:
		return m, nil
	}
	if m.IsCredit() {
		return m, nil
	}
	return "", domain.Validationf("unknown payment method %q", token)
}

type Selection struct {
	Method         string
	CardType       string
	Installments   int
	AmountReceived decimal.Decimal
}

func SelectionFrom(req domain.PaymentRequest) Selection {
	return Selection{
		Method:         req.Method,
		CardType:       req.CardType,
		Installments:   req.Installments,
		AmountReceived: req.AmountReceived,
	}
}

type Resolution struct {
	Method   Method          `json:"method"`
	Total    decimal.Decimal `json:"total"`
	Received decimal.Decimal `json:"received"`
	Change   decimal.Decimal `json:"change"`
}

// Resolve decides whether a sale of total may be finalized with sel.
func Resolve(total decimal.Decimal, sel Selection) (Resolution, error) {
	kind := strings.ToUpper(strings.TrimSpace(sel.Method))
	res := Resolution{Total: total, Received: money.Zero, Change: money.Zero}

	switch kind {
	case "":
		return Resolution{}, domain.Validationf("payment method is required")
	case string(Cash):
		received := sel.AmountReceived
		if received.Add(cashTolerance).LessThan(total) {
			return Resolution{}, &domain.InsufficientPaymentError{
				Total:     total,
				Received:  received,
				Shortfall: money.Round2(total.Sub(received)),
			}
		}
		res.Method = Cash
		res.Received = received
		res.Change = money.Round2(money.NonNegative(received.Sub(total)))
		return res, nil
	case card:
		method, err := resolveCard(sel.CardType, sel.Installments)
		if err != nil {
			return Resolution{}, err
		}
		res.Method = method
		return res, nil
	}

	method, err := ParseMethod(kind)
	if err != nil {
		return Resolution{}, err
	}
	res.Method = method
	return res, nil
}

func resolveCard(cardType string, installments int) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(cardType)) {
	case cardDebit:
		return DebitCard, nil
	case cardCredit:
		if installments < 1 || installments > MaxInstallments {
			return "", domain.Validationf("credit installments must be between 1 and %d", MaxInstallments)
		}
		return CreditCard(installments), nil
	default:
		return "", domain.Validationf("card payment requires DEBITO or CREDITO")
	}
}
