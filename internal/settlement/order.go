package settlement

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bloompos/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// ClampDiscount bounds a discount percentage to [0, 100]. clamped reports
// whether the input was out of range.
func ClampDiscount(pct decimal.Decimal) (value decimal.Decimal, clamped bool) {
	switch {
	case pct.IsNegative():
		return decimal.Zero, true
	case pct.GreaterThan(hundred):
		return hundred, true
	}
	return pct, false
}

// Totals recomputes subtotal, discount and total from lines. Money is
// rounded to centavos.
func Totals(lines []domain.OrderLineItem, discountPct decimal.Decimal) (subtotal, discount, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.LineTotal())
	}
	subtotal = subtotal.Round(2)
	pct, _ := ClampDiscount(discountPct)
	discount = subtotal.Mul(pct).Div(hundred).Round(2)
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	total = subtotal.Sub(discount)
	return subtotal, discount, total
}

func validateLines(lines []domain.OrderLineItem) ([]domain.OrderLineItem, error) {
	if len(lines) == 0 {
		return nil, domain.ErrEmptyOrder
	}
	normalized := make([]domain.OrderLineItem, 0, len(lines))
	for i, line := range lines {
		line.ProductID = strings.TrimSpace(line.ProductID)
		line.ProductName = strings.TrimSpace(line.ProductName)
		if line.ProductID == "" {
			return nil, fmt.Errorf("line %d: product id required: %w", i+1, domain.ErrInvalidLine)
		}
		if line.Quantity < 1 {
			return nil, fmt.Errorf("line %d: quantity must be at least 1: %w", i+1, domain.ErrInvalidLine)
		}
		if line.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("line %d: unit price must not be negative: %w", i+1, domain.ErrInvalidLine)
		}
		normalized = append(normalized, line)
	}
	return normalized, nil
}

// BuildOrder is the billing step: it validates lines, applies the clamped
// discount once and returns a Pending order ready for settlement.
func BuildOrder(id string, kind string, lines []domain.OrderLineItem, discountPct decimal.Decimal, event *domain.EventDetails, now time.Time) (domain.Order, error) {
	switch kind {
	case "", domain.OrderKindRetail:
		kind = domain.OrderKindRetail
		event = nil
	case domain.OrderKindEvent:
	default:
		return domain.Order{}, fmt.Errorf("unknown order kind %q: %w", kind, domain.ErrInvalidOrder)
	}

	normalized, err := validateLines(lines)
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:             id,
		Kind:           kind,
		Event:          event,
		Status:         domain.OrderStatusPending,
		PaymentHistory: []domain.PaymentRecord{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	applyLines(&order, normalized, discountPct)
	return order.Clone(), nil
}

// NewEventDraft opens an event order before any product is selected.
func NewEventDraft(id string, event domain.EventDetails, now time.Time) domain.Order {
	details := event
	return domain.Order{
		ID:                 id,
		Kind:               domain.OrderKindEvent,
		Event:              &details,
		Lines:              []domain.OrderLineItem{},
		Subtotal:           decimal.Zero,
		DiscountPercentage: decimal.Zero,
		DiscountAmount:     decimal.Zero,
		TotalAmount:        decimal.Zero,
		Status:             domain.OrderStatusDraft,
		PaymentHistory:     []domain.PaymentRecord{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// SelectProducts saves the product selection of an event order. The first
// selection moves a Draft to Pending; the selection may be replaced until a
// payment has been recorded.
func SelectProducts(order domain.Order, lines []domain.OrderLineItem, discountPct decimal.Decimal, now time.Time) (domain.Order, error) {
	if order.Kind != domain.OrderKindEvent {
		return domain.Order{}, fmt.Errorf("product selection applies to event orders: %w", domain.ErrInvalidState)
	}
	switch order.Status {
	case domain.OrderStatusDraft:
	case domain.OrderStatusPending:
		if len(order.PaymentHistory) > 0 {
			return domain.Order{}, fmt.Errorf("order %s already has payments: %w", order.ID, domain.ErrInvalidState)
		}
	default:
		return domain.Order{}, fmt.Errorf("order %s is %s: %w", order.ID, order.Status, domain.ErrInvalidState)
	}

	normalized, err := validateLines(lines)
	if err != nil {
		return domain.Order{}, err
	}

	next := order.Clone()
	applyLines(&next, normalized, discountPct)
	next.Status = domain.OrderStatusPending
	next.UpdatedAt = now
	return next, nil
}

func applyLines(order *domain.Order, lines []domain.OrderLineItem, discountPct decimal.Decimal) {
	pct, _ := ClampDiscount(discountPct)
	subtotal, discount, total := Totals(lines, pct)
	order.Lines = lines
	order.DiscountPercentage = pct
	order.Subtotal = subtotal
	order.DiscountAmount = discount
	order.TotalAmount = total
}
