package inventory

import (
	"context"

	"github.com/atlas-commerce/fulfillment/internal/domain/outbox"
)

const eventSource = "inventory-ledger"

// InventoryReservedEvent is emitted after stock is reserved for an order. It
// carries counter values before and after the mutation for audit.
type InventoryReservedEvent struct {
	outbox.Meta
	ProductID      string `json:"product_id"`
	OrderID        string `json:"order_id"`
	Quantity       int    `json:"quantity"`
	StockBefore    int    `json:"stock_before"`
	StockAfter     int    `json:"stock_after"`
	ReservedBefore int    `json:"reserved_before"`
	ReservedAfter  int    `json:"reserved_after"`
}

func (InventoryReservedEvent) EventName() string { return "inventory.reserved" }

func NewInventoryReservedEvent(ctx context.Context, productID, orderID string, quantity int, mv Movement) InventoryReservedEvent {
	return InventoryReservedEvent{
		Meta:           outbox.NewMeta(ctx, productID, eventSource),
		ProductID:      productID,
		OrderID:        orderID,
		Quantity:       quantity,
		StockBefore:    mv.Before.Stock,
		StockAfter:     mv.After.Stock,
		ReservedBefore: mv.Before.Reserved,
		ReservedAfter:  mv.After.Reserved,
	}
}

// InventoryReleasedEvent is emitted after a reservation is released.
type InventoryReleasedEvent struct {
	outbox.Meta
	ProductID      string `json:"product_id"`
	OrderID        string `json:"order_id"`
	Quantity       int    `json:"quantity"`
	StockBefore    int    `json:"stock_before"`
	StockAfter     int    `json:"stock_after"`
	ReservedBefore int    `json:"reserved_before"`
	ReservedAfter  int    `json:"reserved_after"`
}

func (InventoryReleasedEvent) EventName() string { return "inventory.released" }

func NewInventoryReleasedEvent(ctx context.Context, productID, orderID string, quantity int, mv Movement) InventoryReleasedEvent {
	return InventoryReleasedEvent{
		Meta:           outbox.NewMeta(ctx, productID, eventSource),
		ProductID:      productID,
		OrderID:        orderID,
		Quantity:       quantity,
		StockBefore:    mv.Before.Stock,
		StockAfter:     mv.After.Stock,
		ReservedBefore: mv.Before.Reserved,
		ReservedAfter:  mv.After.Reserved,
	}
}
