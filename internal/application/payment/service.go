// Package payment implements idempotent payment processing: one gateway call
// per idempotency key, ever, with replays answered from the stored record.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/atlas-commerce/fulfillment/internal/domain/outbox"
	dompay "github.com/atlas-commerce/fulfillment/internal/domain/payment"
	"github.com/atlas-commerce/fulfillment/internal/pkg/apperr"
	"github.com/atlas-commerce/fulfillment/internal/pkg/logging"
	"github.com/atlas-commerce/fulfillment/internal/pkg/metrics"
)

const tracerName = "payment-processor"

type Service struct {
	repo           dompay.Repository
	gateway        Gateway
	idGenerator    IDGenerator
	publisher      outbox.Publisher
	metrics        *metrics.Metrics
	gatewayTimeout time.Duration
}

func NewService(repo dompay.Repository, gateway Gateway, idGen IDGenerator, publisher outbox.Publisher, m *metrics.Metrics, gatewayTimeout time.Duration) *Service {
	return &Service{
		repo:           repo,
		gateway:        gateway,
		idGenerator:    idGen,
		publisher:      publisher,
		metrics:        m,
		gatewayTimeout: gatewayTimeout,
	}
}

type ProcessInput struct {
	UserID         string
	OrderID        string
	IdempotencyKey string
	Amount         decimal.Decimal
	Currency       string
	Method         string
	CardLastFour   string
	CardBrand      string
}

// Process submits a payment. A repeated call with the same idempotency key
// returns the stored record unchanged and never touches the gateway again.
func (s *Service) Process(ctx context.Context, in ProcessInput) (*dompay.Payment, error) {
	logger := logging.FromContext(ctx).With(zap.String("component", "payment_processor"))

	ctx, span := otel.Tracer(tracerName).Start(ctx, "ProcessPayment")
	defer span.End()
	span.SetAttributes(attribute.String("payment.order_id", in.OrderID))

	if in.IdempotencyKey == "" {
		return nil, apperr.Wrap(dompay.ErrKeyRequired, apperr.KindValidation, "idempotency_key_required", "idempotency key is required")
	}
	if !in.Amount.IsPositive() {
		return nil, apperr.Wrap(dompay.ErrInvalidAmount, apperr.KindValidation, "invalid_amount", "amount must be greater than zero")
	}
	method, err := dompay.ParseMethod(in.Method)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, "invalid_payment_method", "unknown payment method")
	}

	// Idempotency replay is answered before anything else happens.
	if existing, err := s.repo.FindByIdempotencyKey(ctx, in.IdempotencyKey); err == nil {
		logger.Info("payment_idempotent_replay",
			zap.String("payment_id", existing.ID),
			zap.String("idempotency_key", in.IdempotencyKey),
		)
		span.SetAttributes(attribute.Bool("payment.replayed", true))
		return existing, nil
	} else if !errors.Is(err, dompay.ErrNotFound) {
		return nil, s.classify(err)
	}

	p, err := dompay.New(s.idGenerator.NewID(), in.OrderID, in.UserID, in.IdempotencyKey, in.Amount, in.Currency, method)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, "invalid_payment", "invalid payment request")
	}
	p.CardLastFour = in.CardLastFour
	p.CardBrand = in.CardBrand

	if err := s.repo.Insert(ctx, p); err != nil {
		if errors.Is(err, dompay.ErrDuplicateKey) {
			// Lost the insert race; the winner's record is the answer.
			if existing, lookupErr := s.repo.FindByIdempotencyKey(ctx, in.IdempotencyKey); lookupErr == nil {
				return existing, nil
			}
			return nil, apperr.Wrap(err, apperr.KindConflict, "idempotency_conflict", "idempotency key already used")
		}
		return nil, s.classify(err)
	}

	s.charge(ctx, p)

	if err := s.repo.Update(ctx, p); err != nil {
		logger.Error("payment_update_failed",
			zap.String("payment_id", p.ID),
			zap.Error(err),
		)
		return nil, s.classify(err)
	}

	switch p.Status {
	case dompay.StatusCompleted:
		s.metrics.Payments.WithLabelValues("success").Inc()
		span.SetStatus(codes.Ok, "")
		logger.Info("payment_completed",
			zap.String("payment_id", p.ID),
			zap.String("transaction_id", p.TransactionID),
		)
		s.publish(ctx, dompay.NewPaymentCompletedEvent(ctx, p))
	default:
		s.metrics.Payments.WithLabelValues("failed").Inc()
		span.SetStatus(codes.Error, p.FailureReason)
		logger.Warn("payment_failed",
			zap.String("payment_id", p.ID),
			zap.String("reason", p.FailureReason),
		)
		s.publish(ctx, dompay.NewPaymentFailedEvent(ctx, p))
	}

	return p, nil
}

// charge invokes the gateway exactly once and records the outcome on p. A
// timeout or transport error is a FAILED payment with a distinguishable
// reason, never a retry under the same key.
func (s *Service) charge(ctx context.Context, p *dompay.Payment) {
	chargeCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	result, err := s.gateway.Charge(chargeCtx, ChargeRequest{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Method:    p.Method,
	})
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(chargeCtx.Err(), context.DeadlineExceeded):
		p.Fail(dompay.FailureReasonTimeout)
	case err != nil:
		p.Fail("gateway_error: " + err.Error())
	case result.Approved:
		p.Complete(result.TransactionID)
	default:
		reason := result.DeclineReason
		if reason == "" {
			reason = "declined"
		}
		p.Fail(reason)
	}
}

// Get returns a payment, ownership-checked.
func (s *Service) Get(ctx context.Context, paymentID, userID string) (*dompay.Payment, error) {
	p, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, s.classify(err)
	}
	if p.UserID != userID {
		return nil, apperr.New(apperr.KindBusinessRule, "forbidden", "payment does not belong to user")
	}
	return p, nil
}

// GetByOrder returns the payment attached to an order.
func (s *Service) GetByOrder(ctx context.Context, orderID string) (*dompay.Payment, error) {
	p, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, s.classify(err)
	}
	return p, nil
}

// Refund refunds a completed payment in full. Refunding anything else is a
// business-rule error, not a system fault.
func (s *Service) Refund(ctx context.Context, paymentID, userID string) (*dompay.Payment, error) {
	logger := logging.FromContext(ctx).With(zap.String("component", "payment_processor"))

	p, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, s.classify(err)
	}
	if p.UserID != userID {
		return nil, apperr.New(apperr.KindBusinessRule, "forbidden", "payment does not belong to user")
	}

	if err := p.Refund(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindBusinessRule, "not_refundable", "only completed payments can be refunded")
	}

	if err := s.repo.Update(ctx, p); err != nil {
		return nil, s.classify(err)
	}

	logger.Info("payment_refunded",
		zap.String("payment_id", p.ID),
		zap.String("order_id", p.OrderID),
	)
	s.publish(ctx, dompay.NewPaymentRefundedEvent(ctx, p))
	return p, nil
}

func (s *Service) classify(err error) error {
	if errors.Is(err, dompay.ErrNotFound) {
		return apperr.Wrap(err, apperr.KindNotFound, "payment_not_found", "payment not found")
	}
	return apperr.Wrap(err, apperr.KindUnavailable, "payment_store_unavailable", "payment store unavailable")
}

func (s *Service) publish(ctx context.Context, e outbox.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.metrics.PublishFailures.WithLabelValues(e.EventName()).Inc()
		logging.FromContext(ctx).Warn("event_publish_failed",
			zap.String("event", e.EventName()),
			zap.Error(err),
		)
	}
}
