// Package sweeper reclaims reservations orphaned by a crash between
// reservation and order persistence. A journal entry older than the TTL whose
// order id was never persisted is released.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	appinventory "github.com/atlas-commerce/fulfillment/internal/application/inventory"
	dominv "github.com/atlas-commerce/fulfillment/internal/domain/inventory"
)

// OrderChecker answers whether an order id ever reached the order store.
type OrderChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

type Sweeper struct {
	repo     dominv.Repository
	ledger   *appinventory.Service
	orders   OrderChecker
	ttl      time.Duration
	interval time.Duration
	log      *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(repo dominv.Repository, ledger *appinventory.Service, orders OrderChecker, ttl, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		repo:     repo,
		ledger:   ledger,
		orders:   orders,
		ttl:      ttl,
		interval: interval,
		log:      logger.With(zap.String("component", "reservation_sweeper")),
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep releases every stale orphaned reservation once.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	stale, err := s.repo.StaleReservations(ctx, cutoff)
	if err != nil {
		s.log.Warn("stale_reservation_scan_failed", zap.Error(err))
		return
	}

	for _, entry := range stale {
		exists, err := s.orders.Exists(ctx, entry.OrderID)
		if err != nil {
			s.log.Warn("order_existence_check_failed",
				zap.String("order_id", entry.OrderID),
				zap.Error(err),
			)
			continue
		}
		if exists {
			// The order made it to the store; its lifecycle owns the claim.
			continue
		}

		s.log.Warn("orphaned_reservation_released",
			zap.String("product_id", entry.ProductID),
			zap.String("order_id", entry.OrderID),
			zap.Int("quantity", entry.Quantity),
			zap.Time("created_at", entry.CreatedAt),
		)
		s.ledger.Release(ctx, entry.ProductID, entry.Quantity, entry.OrderID)
	}
}
