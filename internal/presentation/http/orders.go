package httptransport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	apporder "github.com/atlas-commerce/fulfillment/internal/application/order"
	domorder "github.com/atlas-commerce/fulfillment/internal/domain/order"
)

type shippingInfoDTO struct {
	Street         string `json:"street"`
	City           string `json:"city"`
	State          string `json:"state"`
	PostalCode     string `json:"postal_code"`
	Country        string `json:"country"`
	RecipientName  string `json:"recipient_name"`
	RecipientPhone string `json:"recipient_phone"`
}

type createOrderRequest struct {
	Items []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
	Shipping      shippingInfoDTO `json:"shipping"`
	PaymentMethod string          `json:"payment_method"`
	Notes         string          `json:"notes"`
	Discount      decimal.Decimal `json:"discount"`
}

type orderLineDTO struct {
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type orderDTO struct {
	ID          string          `json:"id"`
	OrderNumber string          `json:"order_number"`
	UserID      string          `json:"user_id"`
	Status      string          `json:"status"`
	Lines       []orderLineDTO  `json:"lines"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	Shipping    decimal.Decimal `json:"shipping"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	ShippingTo  shippingInfoDTO `json:"shipping_info"`
	PaymentID   string          `json:"payment_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
	ShippedAt   *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
}

func toOrderDTO(o *domorder.Order) orderDTO {
	lines := make([]orderLineDTO, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, orderLineDTO{
			ProductID: l.ProductID,
			SKU:       l.SKU,
			Name:      l.Name,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
			Subtotal:  l.Subtotal,
		})
	}
	return orderDTO{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Status:      string(o.Status),
		Lines:       lines,
		Subtotal:    o.Subtotal,
		Tax:         o.Tax,
		Shipping:    o.Shipping,
		Discount:    o.Discount,
		Total:       o.Total,
		Currency:    o.Currency,
		ShippingTo: shippingInfoDTO{
			Street:         o.ShippingInfo.Street,
			City:           o.ShippingInfo.City,
			State:          o.ShippingInfo.State,
			PostalCode:     o.ShippingInfo.PostalCode,
			Country:        o.ShippingInfo.Country,
			RecipientName:  o.ShippingInfo.RecipientName,
			RecipientPhone: o.ShippingInfo.RecipientPhone,
		},
		PaymentID:   o.PaymentID,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		PaidAt:      o.PaidAt,
		ShippedAt:   o.ShippedAt,
		DeliveredAt: o.DeliveredAt,
	}
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeBadRequest(w, "user_required", "X-User-ID header is required")
		return
	}

	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid_json", err.Error())
		return
	}

	items := make([]apporder.ItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, apporder.ItemInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	o, err := h.orders.CreateOrder(r.Context(), apporder.CreateOrderInput{
		UserID: userID,
		Items:  items,
		Shipping: domorder.ShippingInfo{
			Street:         req.Shipping.Street,
			City:           req.Shipping.City,
			State:          req.Shipping.State,
			PostalCode:     req.Shipping.PostalCode,
			Country:        req.Shipping.Country,
			RecipientName:  req.Shipping.RecipientName,
			RecipientPhone: req.Shipping.RecipientPhone,
		},
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
		Discount:      req.Discount,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderDTO(o))
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeBadRequest(w, "user_required", "X-User-ID header is required")
		return
	}

	o, err := h.orders.GetOrder(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeBadRequest(w, "user_required", "X-User-ID header is required")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	orders, err := h.orders.ListOrders(r.Context(), userID, page, size)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	dtos := make([]orderDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, toOrderDTO(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": dtos, "page": page, "size": size})
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeBadRequest(w, "user_required", "X-User-ID header is required")
		return
	}

	o, err := h.orders.CancelOrder(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateOrderStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid_json", err.Error())
		return
	}
	if req.Status == "" {
		writeBadRequest(w, "status_required", "status is required")
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), mux.Vars(r)["id"], domorder.Status(req.Status))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}
