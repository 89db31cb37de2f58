package order

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-commerce/fulfillment/internal/domain/pricing"
)

var (
	ErrNotFound          = errors.New("order: not found")
	ErrConflict          = errors.New("order: concurrent modification")
	ErrEmptyOrder        = errors.New("order: at least one line is required")
	ErrInvalidQuantity   = errors.New("order: quantity must be greater than zero")
	ErrInvalidTransition = errors.New("order: invalid status transition")
)

type Status string

const (
	StatusPending           Status = "PENDING"
	StatusPaymentProcessing Status = "PAYMENT_PROCESSING"
	StatusPaymentFailed     Status = "PAYMENT_FAILED"
	StatusConfirmed         Status = "CONFIRMED"
	StatusProcessing        Status = "PROCESSING"
	StatusShipped           Status = "SHIPPED"
	StatusDelivered         Status = "DELIVERED"
	StatusCancelled         Status = "CANCELLED"
	StatusRefunded          Status = "REFUNDED"
)

// transitions is the closed set of legal status moves. CANCELLED is reachable
// from every pre-shipment state; REFUNDED only after payment succeeded.
var transitions = map[Status][]Status{
	StatusPending:           {StatusPaymentProcessing, StatusCancelled},
	StatusPaymentProcessing: {StatusConfirmed, StatusPaymentFailed, StatusCancelled},
	StatusPaymentFailed:     {StatusPaymentProcessing, StatusCancelled},
	StatusConfirmed:         {StatusProcessing, StatusCancelled, StatusRefunded},
	StatusProcessing:        {StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:           {StatusDelivered},
	StatusDelivered:         {},
	StatusCancelled:         {},
	StatusRefunded:          {},
}

func (s Status) canTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Cancellable reports whether the order may still be cancelled.
func (s Status) Cancellable() bool {
	return s.canTransitionTo(StatusCancelled)
}

// Line is a snapshot of the product at order time. It is never re-read from
// the catalog later.
type Line struct {
	ProductID string
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	Subtotal  decimal.Decimal
}

// ShippingInfo is the destination snapshot copied at creation time.
type ShippingInfo struct {
	Street         string
	City           string
	State          string
	PostalCode     string
	Country        string
	RecipientName  string
	RecipientPhone string
}

func (s ShippingInfo) Format() string {
	return fmt.Sprintf("%s, %s, %s %s, %s", s.Street, s.City, s.State, s.PostalCode, s.Country)
}

// Order is the aggregate root. It owns its lines by value; persistence is
// whole-aggregate through Repository.
type Order struct {
	ID          string
	OrderNumber string
	UserID      string
	Lines       []Line
	Status      Status

	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
	Currency string

	ShippingInfo  ShippingInfo
	PaymentID     string
	PaymentMethod string
	Notes         string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	PaidAt      *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time

	// Version guards the per-order write path: a stale update loses with
	// ErrConflict and must re-read before retrying.
	Version int64
}

func New(id, userID, currency, paymentMethod, notes string, shipping ShippingInfo, lines []Line) (*Order, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyOrder
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
	}

	now := time.Now().UTC()
	return &Order{
		ID:            id,
		OrderNumber:   NewOrderNumber(now),
		UserID:        userID,
		Lines:         append([]Line(nil), lines...),
		Status:        StatusPending,
		Currency:      currency,
		ShippingInfo:  shipping,
		PaymentMethod: paymentMethod,
		Notes:         notes,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}, nil
}

// NewOrderNumber generates the human-readable order number.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%s-%04d", now.Format("20060102150405"), rand.Intn(10000))
}

// ApplyQuote sets the monetary fields from a pricing quote.
func (o *Order) ApplyQuote(q pricing.Quote) {
	o.Subtotal = q.Subtotal
	o.Tax = q.Tax
	o.Shipping = q.Shipping
	o.Discount = q.Discount
	o.Total = q.Total
	o.touch()
}

// TransitionTo moves the order along the state machine, stamping the
// lifecycle timestamps as states are reached.
func (o *Order) TransitionTo(to Status) error {
	if !o.Status.canTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to

	now := time.Now().UTC()
	switch to {
	case StatusConfirmed:
		o.PaidAt = &now
	case StatusShipped:
		o.ShippedAt = &now
	case StatusDelivered:
		o.DeliveredAt = &now
	}
	o.touch()
	return nil
}

// CheckTotals verifies the monetary invariant.
func (o *Order) CheckTotals() error {
	sum := decimal.Zero
	for _, l := range o.Lines {
		sum = sum.Add(l.Subtotal)
	}
	if !o.Subtotal.Equal(sum) {
		return fmt.Errorf("order: subtotal %s does not match line sum %s", o.Subtotal, sum)
	}
	want := o.Subtotal.Add(o.Tax).Add(o.Shipping).Sub(o.Discount)
	if !o.Total.Equal(want) {
		return fmt.Errorf("order: total %s does not match %s", o.Total, want)
	}
	return nil
}

func (o *Order) Clone() *Order {
	clone := *o
	clone.Lines = append([]Line(nil), o.Lines...)
	if o.PaidAt != nil {
		t := *o.PaidAt
		clone.PaidAt = &t
	}
	if o.ShippedAt != nil {
		t := *o.ShippedAt
		clone.ShippedAt = &t
	}
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		clone.DeliveredAt = &t
	}
	return &clone
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
