package payment

import (
	"context"

	"github.com/shopspring/decimal"

	dompay "github.com/atlas-commerce/fulfillment/internal/domain/payment"
)

// IDGenerator produces unique payment ids.
type IDGenerator interface {
	NewID() string
}

// ChargeRequest is the single gateway invocation for a payment.
type ChargeRequest struct {
	PaymentID string
	OrderID   string
	Amount    decimal.Decimal
	Currency  string
	Method    dompay.Method
}

// ChargeResult reports the gateway's decision.
type ChargeResult struct {
	Approved      bool
	TransactionID string
	DeclineReason string
}

// Gateway is the external payment processor. Invocations are bounded by the
// context deadline; a timeout is ambiguous and must be surfaced as such.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}
