// Package order implements the order coordinator: the saga that reserves
// inventory per line, prices and persists the order, and compensates with
// releases in reverse acquisition order when any downstream step fails.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	dominv "github.com/atlas-commerce/fulfillment/internal/domain/inventory"
	domorder "github.com/atlas-commerce/fulfillment/internal/domain/order"
	"github.com/atlas-commerce/fulfillment/internal/domain/outbox"
	"github.com/atlas-commerce/fulfillment/internal/domain/pricing"
	"github.com/atlas-commerce/fulfillment/internal/pkg/apperr"
	"github.com/atlas-commerce/fulfillment/internal/pkg/logging"
	"github.com/atlas-commerce/fulfillment/internal/pkg/metrics"
)

const tracerName = "order-coordinator"

type Service struct {
	orders      domorder.Repository
	ledger      InventoryPort
	publisher   outbox.Publisher
	idGenerator IDGenerator
	rules       pricing.Rules
	metrics     *metrics.Metrics
	currency    string

	retryMaxAttempts uint64
	retryBaseDelay   time.Duration
}

func NewService(
	orders domorder.Repository,
	ledger InventoryPort,
	publisher outbox.Publisher,
	idGen IDGenerator,
	rules pricing.Rules,
	m *metrics.Metrics,
	currency string,
	retryMaxAttempts uint64,
	retryBaseDelay time.Duration,
) *Service {
	if retryMaxAttempts == 0 {
		retryMaxAttempts = 1
	}
	return &Service{
		orders:           orders,
		ledger:           ledger,
		publisher:        publisher,
		idGenerator:      idGen,
		rules:            rules,
		metrics:          m,
		currency:         currency,
		retryMaxAttempts: retryMaxAttempts,
		retryBaseDelay:   retryBaseDelay,
	}
}

type ItemInput struct {
	ProductID string
	Quantity  int
}

type CreateOrderInput struct {
	UserID        string
	Items         []ItemInput
	Shipping      domorder.ShippingInfo
	PaymentMethod string
	Notes         string
	Discount      decimal.Decimal
}

type reservedItem struct {
	productID string
	quantity  int
}

// CreateOrder runs the creation saga. The caller sees one atomic success or
// one atomic failure: on any reservation or persistence error every granted
// reservation is released, in reverse acquisition order, before returning.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (_ *domorder.Order, err error) {
	logger := logging.FromContext(ctx).With(zap.String("component", "order_coordinator"))

	ctx, span := otel.Tracer(tracerName).Start(ctx, "CreateOrder")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, apperr.CodeOf(err))
			s.metrics.OrdersCreated.WithLabelValues("error").Inc()
		} else {
			span.SetStatus(codes.Ok, "")
			s.metrics.OrdersCreated.WithLabelValues("success").Inc()
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("order.user_id", in.UserID),
		attribute.Int("order.item_count", len(in.Items)),
	)

	if in.UserID == "" {
		return nil, apperr.New(apperr.KindValidation, "user_required", "user id is required")
	}
	if len(in.Items) == 0 {
		return nil, apperr.Wrap(domorder.ErrEmptyOrder, apperr.KindValidation, "empty_order", "at least one item is required")
	}
	for _, item := range in.Items {
		if item.Quantity <= 0 {
			return nil, apperr.Wrap(domorder.ErrInvalidQuantity, apperr.KindValidation, "invalid_quantity", "quantity must be greater than zero")
		}
	}

	orderID := s.idGenerator.NewID()
	span.SetAttributes(attribute.String("order.id", orderID))

	// Reserve strictly in request order; the failure point determines what has
	// to be compensated.
	var reserved []reservedItem
	lines := make([]domorder.Line, 0, len(in.Items))
	for _, item := range in.Items {
		product, perr := s.getProductWithRetry(ctx, item.ProductID)
		if perr != nil {
			s.compensate(ctx, reserved, orderID)
			return nil, perr
		}
		if !product.Sellable(item.Quantity) {
			s.compensate(ctx, reserved, orderID)
			return nil, apperr.New(apperr.KindBusinessRule, "insufficient_stock",
				"product %s is not available in the requested quantity", product.Name)
		}

		if rerr := s.reserveWithRetry(ctx, item.ProductID, item.Quantity, orderID); rerr != nil {
			s.compensate(ctx, reserved, orderID)
			return nil, rerr
		}
		reserved = append(reserved, reservedItem{productID: item.ProductID, quantity: item.Quantity})

		lines = append(lines, domorder.Line{
			ProductID: product.ID,
			SKU:       product.SKU,
			Name:      product.Name,
			UnitPrice: product.Price,
			Quantity:  item.Quantity,
			Subtotal:  pricing.LineSubtotal(product.Price, item.Quantity),
		})
	}

	o, err := domorder.New(orderID, in.UserID, s.currency, in.PaymentMethod, in.Notes, in.Shipping, lines)
	if err != nil {
		s.compensate(ctx, reserved, orderID)
		return nil, apperr.Wrap(err, apperr.KindValidation, "invalid_order", "invalid order request")
	}

	subtotals := make([]decimal.Decimal, 0, len(lines))
	for _, l := range lines {
		subtotals = append(subtotals, l.Subtotal)
	}
	o.ApplyQuote(s.rules.Quote(subtotals, in.Discount))

	// Persistence must follow reservation, never precede it. A failure here is
	// fatal and triggers full compensation before the error is surfaced.
	if err := s.orders.Insert(ctx, o); err != nil {
		logger.Error("order_persist_failed",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		s.compensate(ctx, reserved, orderID)
		return nil, apperr.Wrap(err, apperr.KindInternal, "order_persist_failed", "failed to persist order")
	}

	logger.Info("order_created",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.String("total", o.Total.StringFixed(2)),
	)
	s.publish(ctx, domorder.NewOrderCreatedEvent(ctx, o))

	return o, nil
}

// CancelOrder releases every line's reservation (best effort) and transitions
// the order to CANCELLED. Orders at or past SHIPPED cannot be cancelled.
func (s *Service) CancelOrder(ctx context.Context, orderID, userID string) (_ *domorder.Order, err error) {
	logger := logging.FromContext(ctx).With(zap.String("component", "order_coordinator"))

	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		s.metrics.OrdersCancelled.WithLabelValues(outcome).Inc()
	}()

	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, apperr.New(apperr.KindBusinessRule, "forbidden", "order does not belong to user")
	}
	if !o.Status.Cancellable() {
		return nil, apperr.New(apperr.KindBusinessRule, "cannot_cancel",
			"order in status %s cannot be cancelled", o.Status)
	}

	// Partial release failures are logged inside the ledger, never fatal; the
	// order still transitions.
	for _, line := range o.Lines {
		s.ledger.Release(ctx, line.ProductID, line.Quantity, o.ID)
	}

	o, err = s.transition(ctx, o, domorder.StatusCancelled)
	if err != nil {
		return nil, err
	}

	logger.Info("order_cancelled",
		zap.String("order_id", o.ID),
		zap.String("user_id", userID),
	)
	s.publish(ctx, domorder.NewOrderCancelledEvent(ctx, o))
	return o, nil
}

// GetOrder returns an order, ownership-checked.
func (s *Service) GetOrder(ctx context.Context, orderID, userID string) (*domorder.Order, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, apperr.New(apperr.KindBusinessRule, "forbidden", "order does not belong to user")
	}
	return o, nil
}

// ListOrders returns a page of the user's orders.
func (s *Service) ListOrders(ctx context.Context, userID string, page, size int) ([]*domorder.Order, error) {
	if size <= 0 {
		size = 20
	}
	if page < 0 {
		page = 0
	}
	orders, err := s.orders.List(ctx, domorder.ListFilter{UserID: userID, Page: page, Size: size})
	if err != nil {
		return nil, s.classify(err)
	}
	return orders, nil
}

// UpdateStatus moves an order along the lifecycle (internal use; shipping and
// delivery transitions arrive from fulfillment operations).
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status domorder.Status) (*domorder.Order, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, o, status)
}

// HandlePaymentCompleted confirms the order and permanently retires its
// reserved stock. Invoked by the payment-outcome worker.
func (s *Service) HandlePaymentCompleted(ctx context.Context, orderID, paymentID string) error {
	logger := logging.FromContext(ctx).With(zap.String("component", "order_coordinator"))

	o, err := s.load(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status == domorder.StatusConfirmed {
		return nil
	}

	if o.Status == domorder.StatusPending {
		if o, err = s.transition(ctx, o, domorder.StatusPaymentProcessing); err != nil {
			return err
		}
	}
	o.PaymentID = paymentID
	if o, err = s.transition(ctx, o, domorder.StatusConfirmed); err != nil {
		return err
	}

	for _, line := range o.Lines {
		if cerr := s.ledger.ConfirmSale(ctx, line.ProductID, line.Quantity, o.ID); cerr != nil {
			logger.Error("confirm_sale_failed",
				zap.String("order_id", o.ID),
				zap.String("product_id", line.ProductID),
				zap.Error(cerr),
			)
		}
	}

	logger.Info("order_confirmed",
		zap.String("order_id", o.ID),
		zap.String("payment_id", paymentID),
	)
	return nil
}

// HandlePaymentFailed marks the order PAYMENT_FAILED and releases its
// reservations so the stock is not stranded.
func (s *Service) HandlePaymentFailed(ctx context.Context, orderID, reason string) error {
	logger := logging.FromContext(ctx).With(zap.String("component", "order_coordinator"))

	o, err := s.load(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status == domorder.StatusPaymentFailed {
		return nil
	}

	if o.Status == domorder.StatusPending {
		if o, err = s.transition(ctx, o, domorder.StatusPaymentProcessing); err != nil {
			return err
		}
	}
	if o, err = s.transition(ctx, o, domorder.StatusPaymentFailed); err != nil {
		return err
	}

	for _, line := range o.Lines {
		s.ledger.Release(ctx, line.ProductID, line.Quantity, o.ID)
	}

	logger.Warn("order_payment_failed",
		zap.String("order_id", o.ID),
		zap.String("reason", reason),
	)
	return nil
}

// HandlePaymentRefunded transitions a paid order to REFUNDED. Sold-through
// stock is not restored; restocking is a manual operation.
func (s *Service) HandlePaymentRefunded(ctx context.Context, orderID string) error {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status == domorder.StatusRefunded {
		return nil
	}
	_, err = s.transition(ctx, o, domorder.StatusRefunded)
	return err
}

// compensate releases granted reservations in reverse acquisition order. It
// runs on a detached context so a cancelled request cannot strand stock, and
// it never returns an error: release failures are logged in the ledger.
func (s *Service) compensate(ctx context.Context, reserved []reservedItem, orderID string) {
	if len(reserved) == 0 {
		return
	}
	s.metrics.CompensationRuns.Inc()
	logging.FromContext(ctx).Warn("order_compensation_start",
		zap.String("order_id", orderID),
		zap.Int("reservations", len(reserved)),
	)

	ctx = context.WithoutCancel(ctx)
	for i := len(reserved) - 1; i >= 0; i-- {
		s.ledger.Release(ctx, reserved[i].productID, reserved[i].quantity, orderID)
	}
}

// transition applies a status move and writes it back, retrying exactly once
// on a concurrent-modification conflict by re-reading first.
func (s *Service) transition(ctx context.Context, o *domorder.Order, to domorder.Status) (*domorder.Order, error) {
	for attempt := 0; ; attempt++ {
		if err := o.TransitionTo(to); err != nil {
			return nil, apperr.Wrap(err, apperr.KindBusinessRule, "invalid_transition",
				fmt.Sprintf("cannot move order from %s to %s", o.Status, to))
		}
		err := s.orders.Update(ctx, o)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, domorder.ErrConflict) || attempt > 0 {
			return nil, s.classify(err)
		}
		if o, err = s.load(ctx, o.ID); err != nil {
			return nil, err
		}
	}
}

func (s *Service) getProductWithRetry(ctx context.Context, productID string) (*dominv.Product, error) {
	var product *dominv.Product
	err := s.retry(ctx, func() error {
		p, err := s.ledger.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		product = p
		return nil
	})
	return product, err
}

func (s *Service) reserveWithRetry(ctx context.Context, productID string, quantity int, orderID string) error {
	return s.retry(ctx, func() error {
		return s.ledger.Reserve(ctx, productID, quantity, orderID)
	})
}

// retry runs op with bounded exponential backoff, retrying only transient
// downstream unavailability. Terminal failures pass through immediately.
func (s *Service) retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryBaseDelay
	bo.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := op()
		if err != nil && !apperr.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, s.retryMaxAttempts-1), ctx))
}

func (s *Service) load(ctx context.Context, orderID string) (*domorder.Order, error) {
	o, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, s.classify(err)
	}
	return o, nil
}

func (s *Service) classify(err error) error {
	switch {
	case errors.Is(err, domorder.ErrNotFound):
		return apperr.Wrap(err, apperr.KindNotFound, "order_not_found", "order not found")
	case errors.Is(err, domorder.ErrConflict):
		return apperr.Wrap(err, apperr.KindConflict, "order_conflict", "order was modified concurrently")
	default:
		return apperr.Wrap(err, apperr.KindInternal, "order_store_failure", "order store failure")
	}
}

func (s *Service) publish(ctx context.Context, e outbox.Event) {
	if s.publisher == nil {
		return
	}
	// Publication is fire and forget: a failure here must not roll back the
	// committed order.
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.metrics.PublishFailures.WithLabelValues(e.EventName()).Inc()
		logging.FromContext(ctx).Warn("event_publish_failed",
			zap.String("event", e.EventName()),
			zap.Error(err),
		)
	}
}
