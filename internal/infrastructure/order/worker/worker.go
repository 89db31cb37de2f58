// Package worker reacts to payment outcome events by advancing or unwinding
// the affected order. Handlers are idempotent: replayed events find the order
// already in the target state and do nothing.
package worker

import (
	"context"

	"go.uber.org/zap"

	apporder "github.com/atlas-commerce/fulfillment/internal/application/order"
	domoutbox "github.com/atlas-commerce/fulfillment/internal/domain/outbox"
	dompay "github.com/atlas-commerce/fulfillment/internal/domain/payment"
	"github.com/atlas-commerce/fulfillment/internal/pkg/logging"
)

type Worker struct {
	subscriber domoutbox.Subscriber
	coord      *apporder.Service
}

func New(subscriber domoutbox.Subscriber, coord *apporder.Service) *Worker {
	return &Worker{
		subscriber: subscriber,
		coord:      coord,
	}
}

func (w *Worker) Start() {
	w.subscriber.Subscribe(dompay.PaymentCompletedEvent{}.EventName(), w.handlePaymentCompleted)
	w.subscriber.Subscribe(dompay.PaymentFailedEvent{}.EventName(), w.handlePaymentFailed)
	w.subscriber.Subscribe(dompay.PaymentRefundedEvent{}.EventName(), w.handlePaymentRefunded)
}

func (w *Worker) handlePaymentCompleted(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(dompay.PaymentCompletedEvent)
	if !ok {
		return nil
	}
	logger := logging.FromContext(ctx).With(zap.String("component", "order_worker"))

	if err := w.coord.HandlePaymentCompleted(ctx, evt.OrderID, evt.PaymentID); err != nil {
		logger.Warn("order_confirmation_failed",
			zap.String("order_id", evt.OrderID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (w *Worker) handlePaymentFailed(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(dompay.PaymentFailedEvent)
	if !ok {
		return nil
	}
	logger := logging.FromContext(ctx).With(zap.String("component", "order_worker"))

	if err := w.coord.HandlePaymentFailed(ctx, evt.OrderID, evt.Reason); err != nil {
		logger.Warn("order_payment_failure_handling_failed",
			zap.String("order_id", evt.OrderID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (w *Worker) handlePaymentRefunded(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(dompay.PaymentRefundedEvent)
	if !ok {
		return nil
	}
	logger := logging.FromContext(ctx).With(zap.String("component", "order_worker"))

	if err := w.coord.HandlePaymentRefunded(ctx, evt.OrderID); err != nil {
		logger.Warn("order_refund_handling_failed",
			zap.String("order_id", evt.OrderID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
