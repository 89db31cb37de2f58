package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	appinventory "github.com/atlas-commerce/fulfillment/internal/application/inventory"
	apporder "github.com/atlas-commerce/fulfillment/internal/application/order"
	apppayment "github.com/atlas-commerce/fulfillment/internal/application/payment"
	"github.com/atlas-commerce/fulfillment/internal/config"
	dominv "github.com/atlas-commerce/fulfillment/internal/domain/inventory"
	domorder "github.com/atlas-commerce/fulfillment/internal/domain/order"
	domoutbox "github.com/atlas-commerce/fulfillment/internal/domain/outbox"
	dompay "github.com/atlas-commerce/fulfillment/internal/domain/payment"
	"github.com/atlas-commerce/fulfillment/internal/domain/pricing"
	"github.com/atlas-commerce/fulfillment/internal/infrastructure/gateway"
	"github.com/atlas-commerce/fulfillment/internal/infrastructure/id"
	"github.com/atlas-commerce/fulfillment/internal/infrastructure/inventory/sweeper"
	"github.com/atlas-commerce/fulfillment/internal/infrastructure/kafka"
	"github.com/atlas-commerce/fulfillment/internal/infrastructure/memory"
	orderworker "github.com/atlas-commerce/fulfillment/internal/infrastructure/order/worker"
	"github.com/atlas-commerce/fulfillment/internal/infrastructure/outbox"
	"github.com/atlas-commerce/fulfillment/internal/infrastructure/postgres"
	"github.com/atlas-commerce/fulfillment/internal/pkg/logging"
	"github.com/atlas-commerce/fulfillment/internal/pkg/metrics"
	httptransport "github.com/atlas-commerce/fulfillment/internal/presentation/http"
	"github.com/atlas-commerce/fulfillment/migrations"
)

type stores struct {
	orders    domorder.Repository
	inventory dominv.Repository
	payments  dompay.Repository
	checker   sweeper.OrderChecker
	close     func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.MustNewLogger(cfg.ServiceName, cfg.Env)
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	st, err := buildStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store_init_failed", zap.Error(err))
	}
	defer st.close()

	bus := outbox.NewBus(logger)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	var publisher domoutbox.Publisher = bus
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafka.NewPublisher(cfg.KafkaBrokers, logger)
		defer func() { _ = kp.Close() }()
		publisher = outbox.NewFanout(bus, kp)
		logger.Info("kafka_publisher_enabled", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	idGenerator := id.NewUUIDGenerator()

	inventoryService := appinventory.NewService(st.inventory, publisher, m)
	paymentService := apppayment.NewService(
		st.payments,
		gateway.NewSimulated(cfg.GatewaySuccessRate),
		idGenerator,
		publisher,
		m,
		cfg.GatewayTimeout,
	)
	orderService := apporder.NewService(
		st.orders,
		inventoryService,
		publisher,
		idGenerator,
		pricing.Rules{
			TaxRate:               cfg.TaxRate,
			ShippingFlatRate:      cfg.ShippingFlatRate,
			FreeShippingThreshold: cfg.FreeShippingThreshold,
		},
		m,
		cfg.Currency,
		cfg.RetryMaxAttempts,
		cfg.RetryBaseDelay,
	)

	paymentOutcomes := orderworker.New(bus, orderService)
	paymentOutcomes.Start()

	reservationSweeper := sweeper.New(st.inventory, inventoryService, st.checker, cfg.ReservationTTL, cfg.SweepInterval, logger)
	reservationSweeper.Start(context.Background())
	defer reservationSweeper.Stop()

	handler := httptransport.NewHandler(orderService, paymentService, inventoryService, logger, m)
	root := http.NewServeMux()
	root.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	root.Handle("/", handler.Router())

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http_server_start", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_server_shutdown_error", zap.Error(err))
	} else {
		logger.Info("http_server_stopped")
	}
}

// buildStores selects Postgres-backed repositories when DATABASE_URL is set
// and in-memory ones otherwise (dev and test runs).
func buildStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (stores, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using_memory_stores")
		orders := memory.NewOrderRepository()
		return stores{
			orders:    orders,
			inventory: memory.NewInventoryRepository(),
			payments:  memory.NewPaymentRepository(),
			checker:   orders,
			close:     func() {},
		}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return stores{}, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return stores{}, err
	}
	if err := migrations.Apply(ctx, pool); err != nil {
		pool.Close()
		return stores{}, err
	}
	logger.Info("using_postgres_stores")

	orders := postgres.NewOrderRepository(pool)
	return stores{
		orders:    orders,
		inventory: postgres.NewInventoryRepository(pool),
		payments:  postgres.NewPaymentRepository(pool),
		checker:   orders,
		close:     pool.Close,
	}, nil
}
