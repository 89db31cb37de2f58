package payment

import (
	"context"

	"github.com/atlas-commerce/fulfillment/internal/domain/outbox"
)

const eventSource = "payment-processor"

// PaymentCompletedEvent is emitted after a gateway capture succeeds.
type PaymentCompletedEvent struct {
	outbox.Meta
	PaymentID     string `json:"payment_id"`
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transaction_id"`
}

func (PaymentCompletedEvent) EventName() string { return "payment.completed" }

func NewPaymentCompletedEvent(ctx context.Context, p *Payment) PaymentCompletedEvent {
	return PaymentCompletedEvent{
		Meta:          outbox.NewMeta(ctx, p.ID, eventSource),
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		UserID:        p.UserID,
		Amount:        p.Amount.StringFixed(2),
		Currency:      p.Currency,
		TransactionID: p.TransactionID,
	}
}

// PaymentFailedEvent is emitted after a decline or gateway timeout.
type PaymentFailedEvent struct {
	outbox.Meta
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
}

func (PaymentFailedEvent) EventName() string { return "payment.failed" }

func NewPaymentFailedEvent(ctx context.Context, p *Payment) PaymentFailedEvent {
	return PaymentFailedEvent{
		Meta:      outbox.NewMeta(ctx, p.ID, eventSource),
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		UserID:    p.UserID,
		Amount:    p.Amount.StringFixed(2),
		Reason:    p.FailureReason,
	}
}

// PaymentRefundedEvent is emitted after a full refund.
type PaymentRefundedEvent struct {
	outbox.Meta
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	Amount    string `json:"amount"`
}

func (PaymentRefundedEvent) EventName() string { return "payment.refunded" }

func NewPaymentRefundedEvent(ctx context.Context, p *Payment) PaymentRefundedEvent {
	amount := p.Amount
	if p.RefundAmount != nil {
		amount = *p.RefundAmount
	}
	return PaymentRefundedEvent{
		Meta:      outbox.NewMeta(ctx, p.ID, eventSource),
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Amount:    amount.StringFixed(2),
	}
}
