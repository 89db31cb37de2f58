// Package httptransport exposes the REST surface. Handlers decode, delegate
// to the application services, and encode; error classification happens in the
// services and is mapped to status codes here exactly once.
package httptransport

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	appinv "github.com/atlas-commerce/fulfillment/internal/application/inventory"
	apporder "github.com/atlas-commerce/fulfillment/internal/application/order"
	apppay "github.com/atlas-commerce/fulfillment/internal/application/payment"
	"github.com/atlas-commerce/fulfillment/internal/pkg/metrics"
)

const (
	headerRequestID = "X-Request-ID"
	headerUserID    = "X-User-ID"
)

type Handler struct {
	orders    *apporder.Service
	payments  *apppay.Service
	inventory *appinv.Service
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewHandler(orders *apporder.Service, payments *apppay.Service, inventory *appinv.Service, logger *zap.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		orders:    orders,
		payments:  payments,
		inventory: inventory,
		logger:    logger.With(zap.String("component", "http_server")),
		metrics:   m,
	}
}

// Router builds the route table. The /internal subtree is for service-to-service
// and operator calls; it is expected to be unreachable from the public edge.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.requestContext, h.instrument)

	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/orders", h.handleCreateOrder).Methods(http.MethodPost)
	r.HandleFunc("/orders", h.handleListOrders).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}", h.handleGetOrder).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}/cancel", h.handleCancelOrder).Methods(http.MethodPost)

	r.HandleFunc("/payments", h.handleProcessPayment).Methods(http.MethodPost)
	r.HandleFunc("/payments/{id}", h.handleGetPayment).Methods(http.MethodGet)
	r.HandleFunc("/payments/{id}/refund", h.handleRefundPayment).Methods(http.MethodPost)

	r.HandleFunc("/products", h.handleCreateProduct).Methods(http.MethodPost)
	r.HandleFunc("/products/{id}", h.handleGetProduct).Methods(http.MethodGet)

	internal := r.PathPrefix("/internal").Subrouter()
	internal.HandleFunc("/inventory/low-stock", h.handleListLowStock).Methods(http.MethodGet)
	internal.HandleFunc("/inventory/{productId}/reserve", h.handleReserveStock).Methods(http.MethodPost)
	internal.HandleFunc("/inventory/{productId}/release", h.handleReleaseStock).Methods(http.MethodPost)
	internal.HandleFunc("/orders/{id}/status", h.handleUpdateOrderStatus).Methods(http.MethodPost)

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
