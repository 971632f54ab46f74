// Package settlement implements the order payment state machine.
//
//	Draft ──select products──▶ Pending ──full or final payment──▶ FullyPaid
//	  │                          │ ▲
//	  │                          │ └── down-payment (stays Pending)
//	  └──────── cancel ──────────┴──────────▶ Cancelled
//
// Every operation takes an Order value and returns a new one; the input is
// never modified, so a failed attempt leaves no partial state behind.
package settlement

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bloompos/backend/internal/domain"
)

// DefaultDownpaymentMinimum is the smallest accepted down-payment and also
// the smallest order total for which installments are offered.
var DefaultDownpaymentMinimum = decimal.NewFromInt(10000)

type Policy struct {
	DownpaymentMinimum decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{DownpaymentMinimum: DefaultDownpaymentMinimum}
}

func (p Policy) minimum() decimal.Decimal {
	if p.DownpaymentMinimum.IsPositive() {
		return p.DownpaymentMinimum
	}
	return DefaultDownpaymentMinimum
}

// Settle records one payment attempt against order.
func (p Policy) Settle(order domain.Order, attempt domain.PaymentAttempt, now time.Time) (domain.Order, domain.Receipt, error) {
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, domain.Receipt{}, fmt.Errorf("order %s is %s: %w", order.ID, order.Status, domain.ErrInvalidState)
	}

	method := strings.ToLower(strings.TrimSpace(attempt.Method))
	if !isSupportedMethod(method) {
		return domain.Order{}, domain.Receipt{}, fmt.Errorf("method %q: %w", attempt.Method, domain.ErrUnsupportedMethod)
	}
	mode := strings.ToLower(strings.TrimSpace(attempt.Mode))
	switch mode {
	case "":
		mode = domain.PaymentModeFull
	case domain.PaymentModeFull, domain.PaymentModeDownpayment:
	default:
		return domain.Order{}, domain.Receipt{}, fmt.Errorf("payment mode %q: %w", attempt.Mode, domain.ErrInvalidOrder)
	}
	if mode == domain.PaymentModeDownpayment {
		if err := checkCentavos("down-payment amount", attempt.Amount); err != nil {
			return domain.Order{}, domain.Receipt{}, err
		}
	}
	if method == domain.PaymentMethodCash {
		if err := checkCentavos("tendered amount", attempt.Tendered); err != nil {
			return domain.Order{}, domain.Receipt{}, err
		}
	}

	var (
		amountDue     decimal.Decimal
		isDownpayment bool
	)

	existing := order.ExistingDownpayment()
	if existing.IsPositive() {
		// An open installment only accepts the final balance.
		if mode == domain.PaymentModeDownpayment {
			return domain.Order{}, domain.Receipt{}, fmt.Errorf("order %s already has a down-payment: %w", order.ID, domain.ErrInvalidState)
		}
		amountDue = nonNegative(order.TotalAmount.Sub(existing))
	} else if mode == domain.PaymentModeDownpayment {
		if err := p.checkDownpayment(order, attempt.Amount); err != nil {
			return domain.Order{}, domain.Receipt{}, err
		}
		amountDue = attempt.Amount
		isDownpayment = true
	} else {
		amountDue = order.TotalAmount
	}

	change := decimal.Zero
	proof := strings.TrimSpace(attempt.ProofRef)
	if method == domain.PaymentMethodCash {
		if attempt.Tendered.LessThan(amountDue) {
			return domain.Order{}, domain.Receipt{}, fmt.Errorf("tendered %s, due %s: %w", attempt.Tendered.StringFixed(2), amountDue.StringFixed(2), domain.ErrInsufficientTender)
		}
		change = attempt.Tendered.Sub(amountDue)
	} else if proof == "" {
		return domain.Order{}, domain.Receipt{}, fmt.Errorf("%s payment: %w", method, domain.ErrMissingProof)
	}

	next := order.Clone()
	if amountDue.IsPositive() {
		next.PaymentHistory = append(next.PaymentHistory, domain.PaymentRecord{
			AmountPaid:    amountDue,
			Method:        method,
			IsDownpayment: isDownpayment,
			ProofRef:      proof,
			RecordedAt:    now,
		})
	}

	remaining := nonNegative(next.TotalAmount.Sub(next.TotalPaid()))
	if remaining.IsZero() {
		next.Status = domain.OrderStatusFullyPaid
	} else {
		next.Status = domain.OrderStatusPending
	}
	next.UpdatedAt = now

	return next, domain.Receipt{
		AmountDue:        amountDue,
		Change:           change,
		RemainingBalance: remaining,
		Status:           next.Status,
	}, nil
}

func (p Policy) checkDownpayment(order domain.Order, amount decimal.Decimal) error {
	minimum := p.minimum()
	if amount.LessThan(minimum) {
		return fmt.Errorf("down-payment %s is below %s: %w", amount.StringFixed(2), minimum.StringFixed(2), domain.ErrBelowMinimum)
	}
	if amount.GreaterThanOrEqual(order.TotalAmount) {
		return fmt.Errorf("down-payment %s is not below total %s: %w", amount.StringFixed(2), order.TotalAmount.StringFixed(2), domain.ErrExceedsTotal)
	}
	return nil
}

// Cancel is a business decision, not a refund: recorded payments stay.
func Cancel(order domain.Order, now time.Time) (domain.Order, error) {
	switch order.Status {
	case domain.OrderStatusDraft, domain.OrderStatusPending:
	default:
		return domain.Order{}, fmt.Errorf("cannot cancel %s order %s: %w", order.Status, order.ID, domain.ErrInvalidState)
	}
	next := order.Clone()
	next.Status = domain.OrderStatusCancelled
	next.UpdatedAt = now
	return next, nil
}

func EnsureDeletable(order domain.Order) error {
	if order.Status != domain.OrderStatusCancelled {
		return fmt.Errorf("cannot delete %s order %s: %w", order.Status, order.ID, domain.ErrInvalidState)
	}
	return nil
}

// checkCentavos rejects amounts finer than the two decimal places money is
// stored with.
func checkCentavos(field string, amount decimal.Decimal) error {
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%s %s has more than 2 decimal places: %w", field, amount.String(), domain.ErrInvalidOrder)
	}
	return nil
}

func isSupportedMethod(method string) bool {
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodGCash, domain.PaymentMethodBank:
		return true
	default:
		return false
	}
}

func nonNegative(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
