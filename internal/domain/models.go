package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Actor struct {
	Username string
	Role     string
}

const (
	CategoryPerishable    = "perishable"
	CategoryNonPerishable = "non_perishable"
)

// StockBatch is one discrete receipt of stock for a product. Batches of the
// same product are never merged so each keeps its own age and expiry.
type StockBatch struct {
	ID               string          `json:"id"`
	ProductID        string          `json:"product_id"`
	ProductName      string          `json:"product_name"`
	Category         string          `json:"category"`
	QuantityOnHand   int             `json:"quantity_on_hand"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	ReceivedAt       time.Time       `json:"received_at"`
	LifespanDays     int             `json:"lifespan_days,omitempty"`
	MinimumThreshold int             `json:"minimum_threshold"`
	Supplier         string          `json:"supplier,omitempty"`
}

func (b StockBatch) Perishable() bool {
	return b.Category == CategoryPerishable && b.LifespanDays > 0
}

// ExpiresAt reports the derived expiry instant. ok is false for batches
// without a lifespan.
func (b StockBatch) ExpiresAt() (time.Time, bool) {
	if !b.Perishable() {
		return time.Time{}, false
	}
	return b.ReceivedAt.AddDate(0, 0, b.LifespanDays), true
}

type SpoilageRecord struct {
	ID          string          `json:"id"`
	BatchID     string          `json:"batch_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ExpiredAt   time.Time       `json:"expired_at"`
	RetiredAt   time.Time       `json:"retired_at"`
}

type ReceiveStockRequest struct {
	ProductID        string          `json:"product_id"`
	ProductName      string          `json:"product_name"`
	Category         string          `json:"category"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	ReceivedAt       *time.Time      `json:"received_at,omitempty"`
	LifespanDays     *int            `json:"lifespan_days,omitempty"`
	MinimumThreshold int             `json:"minimum_threshold"`
	Supplier         string          `json:"supplier,omitempty"`
}

// BatchDecrement is one step of a depletion plan.
type BatchDecrement struct {
	BatchID   string `json:"batch_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

const (
	OrderKindRetail = "retail"
	OrderKindEvent  = "event"
)

const (
	OrderStatusDraft     = "draft"
	OrderStatusPending   = "pending"
	OrderStatusFullyPaid = "fully_paid"
	OrderStatusCancelled = "cancelled"
)

const (
	PaymentMethodCash  = "cash"
	PaymentMethodGCash = "gcash"
	PaymentMethodBank  = "bank"
)

const (
	PaymentModeFull        = "full"
	PaymentModeDownpayment = "downpayment"
)

type OrderLineItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (l OrderLineItem) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// EventDetails carries the metadata only event orders have.
type EventDetails struct {
	ClientName string     `json:"client_name"`
	Address    string     `json:"address"`
	EventDate  *time.Time `json:"event_date,omitempty"`
}

type PaymentRecord struct {
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	Method        string          `json:"method"`
	IsDownpayment bool            `json:"is_downpayment"`
	ProofRef      string          `json:"proof_ref,omitempty"`
	RecordedAt    time.Time       `json:"recorded_at"`
}

type Order struct {
	ID                 string          `json:"id"`
	Kind               string          `json:"kind"`
	Event              *EventDetails   `json:"event,omitempty"`
	Lines              []OrderLineItem `json:"lines"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Status             string          `json:"status"`
	PaymentHistory     []PaymentRecord `json:"payment_history"`
	StockDepleted      bool            `json:"stock_depleted"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (o Order) TotalPaid() decimal.Decimal {
	total := decimal.Zero
	for _, p := range o.PaymentHistory {
		total = total.Add(p.AmountPaid)
	}
	return total
}

func (o Order) ExistingDownpayment() decimal.Decimal {
	total := decimal.Zero
	for _, p := range o.PaymentHistory {
		if p.IsDownpayment {
			total = total.Add(p.AmountPaid)
		}
	}
	return total
}

// RemainingBalance is never negative.
func (o Order) RemainingBalance() decimal.Decimal {
	remaining := o.TotalAmount.Sub(o.TotalPaid())
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// Clone returns a deep copy so callers never share line or payment slices.
func (o Order) Clone() Order {
	dup := o
	dup.Lines = make([]OrderLineItem, len(o.Lines))
	copy(dup.Lines, o.Lines)
	dup.PaymentHistory = make([]PaymentRecord, len(o.PaymentHistory))
	copy(dup.PaymentHistory, o.PaymentHistory)
	if o.Event != nil {
		event := *o.Event
		if o.Event.EventDate != nil {
			at := *o.Event.EventDate
			event.EventDate = &at
		}
		dup.Event = &event
	}
	return dup
}

// PaymentAttempt is the tagged payment request passed to settlement. Amount is
// only read for down-payments; the amount due for every other mode is derived
// from the order itself.
type PaymentAttempt struct {
	Mode     string          `json:"mode"`
	Amount   decimal.Decimal `json:"amount"`
	Method   string          `json:"method"`
	Tendered decimal.Decimal `json:"tendered"`
	ProofRef string          `json:"proof_ref,omitempty"`
}

type Receipt struct {
	AmountDue        decimal.Decimal `json:"amount_due"`
	Change           decimal.Decimal `json:"change"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	Status           string          `json:"status"`
}

// LineRequest is an order line as submitted. A nil UnitPrice is resolved from
// the newest batch of the product; an explicit zero is kept.
type LineRequest struct {
	ProductID   string           `json:"product_id"`
	ProductName string           `json:"product_name,omitempty"`
	Quantity    int              `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
}

type CreateOrderRequest struct {
	Kind               string          `json:"kind"`
	Lines              []LineRequest   `json:"lines"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	Event              *EventDetails   `json:"event,omitempty"`
}

type SelectProductsRequest struct {
	Lines              []LineRequest   `json:"lines"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
}

type SettleResponse struct {
	OrderID          string           `json:"order_id"`
	Change           decimal.Decimal  `json:"change"`
	RemainingBalance decimal.Decimal  `json:"remaining_balance"`
	Status           string           `json:"status"`
	Depleted         []BatchDecrement `json:"depleted,omitempty"`
}

type DeleteOrderRequest struct {
	ManagerPIN string `json:"manager_pin"`
}

type OrderListResponse struct {
	Orders []Order `json:"orders"`
}

type BatchListResponse struct {
	Batches []StockBatch `json:"batches"`
}

type RetireResponse struct {
	Retired []SpoilageRecord `json:"retired"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
