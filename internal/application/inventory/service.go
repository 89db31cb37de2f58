// Package inventory implements the inventory ledger: atomic conditional
// reservations, unconditional releases, and permanent sale confirmation over
// the per-product stock counters.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	dominv "github.com/atlas-commerce/fulfillment/internal/domain/inventory"
	"github.com/atlas-commerce/fulfillment/internal/domain/outbox"
	"github.com/atlas-commerce/fulfillment/internal/pkg/apperr"
	"github.com/atlas-commerce/fulfillment/internal/pkg/logging"
	"github.com/atlas-commerce/fulfillment/internal/pkg/metrics"
)

type Service struct {
	repo      dominv.Repository
	publisher outbox.Publisher
	metrics   *metrics.Metrics
}

func NewService(repo dominv.Repository, publisher outbox.Publisher, m *metrics.Metrics) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		metrics:   m,
	}
}

// GetProduct returns the current product snapshot.
func (s *Service) GetProduct(ctx context.Context, productID string) (*dominv.Product, error) {
	p, err := s.repo.Get(ctx, productID)
	if err != nil {
		return nil, s.classify(err)
	}
	return p, nil
}

// CreateProduct registers a product with its opening stock.
func (s *Service) CreateProduct(ctx context.Context, p *dominv.Product) error {
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, dominv.ErrDuplicateSKU) {
			return apperr.Wrap(err, apperr.KindConflict, "sku_exists", "product sku already exists")
		}
		return s.classify(err)
	}
	return nil
}

// Reserve atomically claims quantity units of a product for an order. Exactly
// one of two concurrent reservations for the last unit wins; the other
// observes insufficient stock.
func (s *Service) Reserve(ctx context.Context, productID string, quantity int, orderID string) error {
	logger := logging.FromContext(ctx).With(zap.String("component", "inventory_ledger"))

	if quantity <= 0 {
		return apperr.New(apperr.KindValidation, "invalid_quantity", "quantity must be greater than zero")
	}

	mv, err := s.repo.ReserveStock(ctx, productID, quantity, orderID)
	if err != nil {
		s.metrics.Reservations.WithLabelValues("error").Inc()
		switch {
		case errors.Is(err, dominv.ErrNotFound):
			return apperr.Wrap(err, apperr.KindNotFound, "product_not_found", fmt.Sprintf("product %s not found", productID))
		case errors.Is(err, dominv.ErrInsufficientStock):
			return apperr.Wrap(err, apperr.KindBusinessRule, "insufficient_stock", fmt.Sprintf("insufficient stock for product %s", productID))
		default:
			return s.classify(err)
		}
	}

	s.metrics.Reservations.WithLabelValues("success").Inc()
	logger.Info("inventory_reserved",
		zap.String("product_id", productID),
		zap.String("order_id", orderID),
		zap.Int("quantity", quantity),
		zap.Int("reserved_after", mv.After.Reserved),
	)

	s.publish(ctx, dominv.NewInventoryReservedEvent(ctx, productID, orderID, quantity, mv))
	return nil
}

// Release returns reserved units to availability. It never fails the caller:
// compensation must be unconditionally safe to call, so mismatches are logged
// and swallowed.
func (s *Service) Release(ctx context.Context, productID string, quantity int, orderID string) {
	logger := logging.FromContext(ctx).With(zap.String("component", "inventory_ledger"))

	if quantity <= 0 {
		logger.Warn("inventory_release_skipped",
			zap.String("product_id", productID),
			zap.Int("quantity", quantity),
		)
		return
	}

	mv, err := s.repo.ReleaseStock(ctx, productID, quantity, orderID)
	if err != nil {
		logger.Warn("inventory_release_failed",
			zap.String("product_id", productID),
			zap.String("order_id", orderID),
			zap.Int("quantity", quantity),
			zap.Error(err),
		)
		return
	}

	released := mv.Before.Reserved - mv.After.Reserved
	if released != quantity {
		logger.Warn("inventory_release_mismatch",
			zap.String("product_id", productID),
			zap.String("order_id", orderID),
			zap.Int("requested", quantity),
			zap.Int("released", released),
		)
	}
	if released == 0 {
		return
	}

	logger.Info("inventory_released",
		zap.String("product_id", productID),
		zap.String("order_id", orderID),
		zap.Int("quantity", released),
	)
	s.publish(ctx, dominv.NewInventoryReleasedEvent(ctx, productID, orderID, released, mv))
}

// ConfirmSale permanently retires reserved stock after payment succeeded.
func (s *Service) ConfirmSale(ctx context.Context, productID string, quantity int, orderID string) error {
	if quantity <= 0 {
		return apperr.New(apperr.KindValidation, "invalid_quantity", "quantity must be greater than zero")
	}
	if _, err := s.repo.ConfirmSale(ctx, productID, quantity, orderID); err != nil {
		if errors.Is(err, dominv.ErrNotFound) {
			return apperr.Wrap(err, apperr.KindNotFound, "product_not_found", fmt.Sprintf("product %s not found", productID))
		}
		return s.classify(err)
	}
	return nil
}

// ListLowStock returns products at or below their low-stock threshold.
func (s *Service) ListLowStock(ctx context.Context) ([]*dominv.Product, error) {
	products, err := s.repo.ListLowStock(ctx)
	if err != nil {
		return nil, s.classify(err)
	}
	return products, nil
}

func (s *Service) classify(err error) error {
	if errors.Is(err, dominv.ErrNotFound) {
		return apperr.Wrap(err, apperr.KindNotFound, "product_not_found", "product not found")
	}
	return apperr.Wrap(err, apperr.KindUnavailable, "inventory_unavailable", "inventory store unavailable")
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
