package order

import (
	"context"

	"github.com/atlas-commerce/fulfillment/internal/domain/outbox"
)

const eventSource = "order-coordinator"

// EventLine mirrors a persisted order line in event payloads.
type EventLine struct {
	ProductID string `json:"product_id"`
	Name      string `json:"product_name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

func eventLines(o *Order) []EventLine {
	lines := make([]EventLine, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, EventLine{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.StringFixed(2),
			Subtotal:  l.Subtotal.StringFixed(2),
		})
	}
	return lines
}

// OrderCreatedEvent is emitted once the order has been persisted with its
// reservations in place.
type OrderCreatedEvent struct {
	outbox.Meta
	OrderID         string      `json:"order_id"`
	OrderNumber     string      `json:"order_number"`
	UserID          string      `json:"user_id"`
	Lines           []EventLine `json:"items"`
	Total           string      `json:"total"`
	Currency        string      `json:"currency"`
	ShippingAddress string      `json:"shipping_address"`
	Status          Status      `json:"status"`
}

func (OrderCreatedEvent) EventName() string { return "order.created" }

func NewOrderCreatedEvent(ctx context.Context, o *Order) OrderCreatedEvent {
	return OrderCreatedEvent{
		Meta:            outbox.NewMeta(ctx, o.ID, eventSource),
		OrderID:         o.ID,
		OrderNumber:     o.OrderNumber,
		UserID:          o.UserID,
		Lines:           eventLines(o),
		Total:           o.Total.StringFixed(2),
		Currency:        o.Currency,
		ShippingAddress: o.ShippingInfo.Format(),
		Status:          o.Status,
	}
}

// OrderCancelledEvent is emitted after a cancellation transition commits.
type OrderCancelledEvent struct {
	outbox.Meta
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	UserID      string      `json:"user_id"`
	Lines       []EventLine `json:"items"`
}

func (OrderCancelledEvent) EventName() string { return "order.cancelled" }

func NewOrderCancelledEvent(ctx context.Context, o *Order) OrderCancelledEvent {
	return OrderCancelledEvent{
		Meta:        outbox.NewMeta(ctx, o.ID, eventSource),
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Lines:       eventLines(o),
	}
}
