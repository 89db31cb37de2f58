package payment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound         = errors.New("payment: not found")
	ErrDuplicateKey     = errors.New("payment: idempotency key already used")
	ErrNotRefundable    = errors.New("payment: only completed payments can be refunded")
	ErrInvalidAmount    = errors.New("payment: amount must be greater than zero")
	ErrKeyRequired      = errors.New("payment: idempotency key is required")
	ErrUnknownMethod    = errors.New("payment: unknown payment method")
	ErrAlreadyProcessed = errors.New("payment: already processed")
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusRefunded   Status = "REFUNDED"
)

type Method string

const (
	MethodCreditCard   Method = "credit_card"
	MethodDebitCard    Method = "debit_card"
	MethodPayPal       Method = "paypal"
	MethodBankTransfer Method = "bank_transfer"
	MethodCrypto       Method = "crypto"
	MethodSimulated    Method = "simulated"
)

// ParseMethod validates a caller-supplied method string.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodCreditCard, MethodDebitCard, MethodPayPal, MethodBankTransfer, MethodCrypto, MethodSimulated:
		return Method(s), nil
	}
	return "", ErrUnknownMethod
}

// FailureReasonTimeout marks a gateway call that timed out or answered
// ambiguously. Callers seeing it must retry under a NEW idempotency key, since
// funds may have been captured.
const FailureReasonTimeout = "gateway_timeout"

// Payment is one submission attempt. Exactly one Payment exists per
// idempotency key, ever.
type Payment struct {
	ID             string
	OrderID        string
	UserID         string
	IdempotencyKey string
	Amount         decimal.Decimal
	Currency       string
	Method         Method
	Status         Status

	TransactionID string
	FailureReason string
	CardLastFour  string
	CardBrand     string

	RefundAmount *decimal.Decimal

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
	RefundedAt  *time.Time
}

func New(id, orderID, userID, idempotencyKey string, amount decimal.Decimal, currency string, method Method) (*Payment, error) {
	if idempotencyKey == "" {
		return nil, ErrKeyRequired
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	now := time.Now().UTC()
	return &Payment{
		ID:             id,
		OrderID:        orderID,
		UserID:         userID,
		IdempotencyKey: idempotencyKey,
		Amount:         amount,
		Currency:       currency,
		Method:         method,
		Status:         StatusProcessing,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Complete records a successful gateway capture.
func (p *Payment) Complete(transactionID string) {
	now := time.Now().UTC()
	p.Status = StatusCompleted
	p.TransactionID = transactionID
	p.FailureReason = ""
	p.ProcessedAt = &now
	p.UpdatedAt = now
}

// Fail records a declined or timed-out gateway call.
func (p *Payment) Fail(reason string) {
	p.Status = StatusFailed
	p.FailureReason = reason
	p.UpdatedAt = time.Now().UTC()
}

// Refund transitions a completed payment to refunded for its full amount.
func (p *Payment) Refund() error {
	if p.Status != StatusCompleted {
		return ErrNotRefundable
	}
	now := time.Now().UTC()
	amount := p.Amount
	p.Status = StatusRefunded
	p.RefundAmount = &amount
	p.RefundedAt = &now
	p.UpdatedAt = now
	return nil
}

func (p *Payment) Clone() *Payment {
	clone := *p
	if p.RefundAmount != nil {
		a := *p.RefundAmount
		clone.RefundAmount = &a
	}
	if p.ProcessedAt != nil {
		t := *p.ProcessedAt
		clone.ProcessedAt = &t
	}
	if p.RefundedAt != nil {
		t := *p.RefundedAt
		clone.RefundedAt = &t
	}
	return &clone
}
