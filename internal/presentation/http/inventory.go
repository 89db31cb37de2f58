package httptransport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	dominv "github.com/atlas-commerce/fulfillment/internal/domain/inventory"
)

type createProductRequest struct {
	SKU               string          `json:"sku"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	StockQuantity     int             `json:"stock_quantity"`
	LowStockThreshold int             `json:"low_stock_threshold"`
}

type productDTO struct {
	ID                string          `json:"id"`
	SKU               string          `json:"sku"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	StockQuantity     int             `json:"stock_quantity"`
	ReservedQuantity  int             `json:"reserved_quantity"`
	Available         int             `json:"available"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func toProductDTO(p *dominv.Product) productDTO {
	return productDTO{
		ID:                p.ID,
		SKU:               p.SKU,
		Name:              p.Name,
		Price:             p.Price,
		StockQuantity:     p.StockQuantity,
		ReservedQuantity:  p.ReservedQuantity,
		Available:         p.Available(),
		LowStockThreshold: p.LowStockThreshold,
		Status:            string(p.Status),
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid_json", err.Error())
		return
	}
	if req.SKU == "" || req.Name == "" {
		writeBadRequest(w, "invalid_product", "sku and name are required")
		return
	}

	p, err := dominv.NewProduct(uuid.NewString(), req.SKU, req.Name, req.Price, req.StockQuantity, req.LowStockThreshold)
	if err != nil {
		writeBadRequest(w, "invalid_product", err.Error())
		return
	}

	if err := h.inventory.CreateProduct(r.Context(), p); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(p))
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.inventory.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

func (h *Handler) handleListLowStock(w http.ResponseWriter, r *http.Request) {
	products, err := h.inventory.ListLowStock(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	dtos := make([]productDTO, 0, len(products))
	for _, p := range products {
		dtos = append(dtos, toProductDTO(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": dtos})
}

// stockParams reads the quantity and orderId query parameters shared by the
// reserve and release endpoints.
func stockParams(r *http.Request) (quantity int, orderID string, ok bool) {
	q := r.URL.Query()
	quantity, err := strconv.Atoi(q.Get("quantity"))
	if err != nil {
		return 0, "", false
	}
	orderID = q.Get("orderId")
	return quantity, orderID, orderID != ""
}

func (h *Handler) handleReserveStock(w http.ResponseWriter, r *http.Request) {
	quantity, orderID, ok := stockParams(r)
	if !ok {
		writeBadRequest(w, "invalid_params", "quantity and orderId query parameters are required")
		return
	}

	if err := h.inventory.Reserve(r.Context(), mux.Vars(r)["productId"], quantity, orderID); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reserved"})
}

func (h *Handler) handleReleaseStock(w http.ResponseWriter, r *http.Request) {
	quantity, orderID, ok := stockParams(r)
	if !ok {
		writeBadRequest(w, "invalid_params", "quantity and orderId query parameters are required")
		return
	}

	h.inventory.Release(r.Context(), mux.Vars(r)["productId"], quantity, orderID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}
