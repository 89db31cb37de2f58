package httptransport

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	apppay "github.com/atlas-commerce/fulfillment/internal/application/payment"
	dompay "github.com/atlas-commerce/fulfillment/internal/domain/payment"
)

type processPaymentRequest struct {
	OrderID        string          `json:"order_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Method         string          `json:"method"`
	CardLastFour   string          `json:"card_last_four"`
	CardBrand      string          `json:"card_brand"`
}

type paymentDTO struct {
	ID             string           `json:"id"`
	OrderID        string           `json:"order_id"`
	UserID         string           `json:"user_id"`
	IdempotencyKey string           `json:"idempotency_key"`
	Amount         decimal.Decimal  `json:"amount"`
	Currency       string           `json:"currency"`
	Method         string           `json:"method"`
	Status         string           `json:"status"`
	TransactionID  string           `json:"transaction_id,omitempty"`
	FailureReason  string           `json:"failure_reason,omitempty"`
	RefundAmount   *decimal.Decimal `json:"refund_amount,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	ProcessedAt    *time.Time       `json:"processed_at,omitempty"`
	RefundedAt     *time.Time       `json:"refunded_at,omitempty"`
}

func toPaymentDTO(p *dompay.Payment) paymentDTO {
	return paymentDTO{
		ID:             p.ID,
		OrderID:        p.OrderID,
		UserID:         p.UserID,
		IdempotencyKey: p.IdempotencyKey,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Method:         string(p.Method),
		Status:         string(p.Status),
		TransactionID:  p.TransactionID,
		FailureReason:  p.FailureReason,
		RefundAmount:   p.RefundAmount,
		CreatedAt:      p.CreatedAt,
		ProcessedAt:    p.ProcessedAt,
		RefundedAt:     p.RefundedAt,
	}
}

func (h *Handler) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeBadRequest(w, "user_required", "X-User-ID header is required")
		return
	}

	var req processPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid_json", err.Error())
		return
	}

	p, err := h.payments.Process(r.Context(), apppay.ProcessInput{
		UserID:         userID,
		OrderID:        req.OrderID,
		IdempotencyKey: req.IdempotencyKey,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Method:         req.Method,
		CardLastFour:   req.CardLastFour,
		CardBrand:      req.CardBrand,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	status := http.StatusCreated
	if p.Status == dompay.StatusFailed {
		// The payment record exists but the charge did not go through; the
		// body carries the failure reason.
		status = http.StatusOK
	}
	writeJSON(w, status, toPaymentDTO(p))
}

func (h *Handler) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeBadRequest(w, "user_required", "X-User-ID header is required")
		return
	}

	p, err := h.payments.Get(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

func (h *Handler) handleRefundPayment(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeBadRequest(w, "user_required", "X-User-ID header is required")
		return
	}

	p, err := h.payments.Refund(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}
