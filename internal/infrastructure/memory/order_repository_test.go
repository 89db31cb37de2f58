package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/atlas-commerce/fulfillment/internal/domain/order"
)

func newOrder(t *testing.T, id, userID string) *domain.Order {
	t.Helper()
	o, err := domain.New(id, userID, "USD", "credit_card", "", domain.ShippingInfo{}, []domain.Line{
		{ProductID: "p1", SKU: "SKU-1", Name: "widget", UnitPrice: decimal.NewFromInt(10), Quantity: 1, Subtotal: decimal.NewFromInt(10)},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestUpdateVersionConflict(t *testing.T) {
	r := NewOrderRepository()
	o := newOrder(t, "o1", "u1")
	if err := r.Insert(context.Background(), o); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Two readers load the same version; only the first write lands.
	a, err := r.FindByID(context.Background(), "o1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	b, err := r.FindByID(context.Background(), "o1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}

	if err := a.TransitionTo(domain.StatusPaymentProcessing); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	if err := r.Update(context.Background(), a); err != nil {
		t.Fatalf("first Update: %v", err)
	}

	if err := b.TransitionTo(domain.StatusCancelled); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	if err := r.Update(context.Background(), b); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale Update = %v, want ErrConflict", err)
	}

	stored, _ := r.FindByID(context.Background(), "o1")
	if stored.Status != domain.StatusPaymentProcessing {
		t.Errorf("status = %s, the stale write must not land", stored.Status)
	}
	if stored.Version != 2 {
		t.Errorf("version = %d, want 2", stored.Version)
	}
}

func TestFindByNumber(t *testing.T) {
	r := NewOrderRepository()
	o := newOrder(t, "o1", "u1")
	if err := r.Insert(context.Background(), o); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := r.FindByNumber(context.Background(), o.OrderNumber)
	if err != nil {
		t.Fatalf("FindByNumber: %v", err)
	}
	if got.ID != "o1" {
		t.Errorf("found %s, want o1", got.ID)
	}

	if _, err := r.FindByNumber(context.Background(), "ORD-nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestListPagination(t *testing.T) {
	r := NewOrderRepository()
	for i := 0; i < 5; i++ {
		o := newOrder(t, fmt.Sprintf("o%d", i), "u1")
		if err := r.Insert(context.Background(), o); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	other := newOrder(t, "other", "u2")
	if err := r.Insert(context.Background(), other); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	page0, err := r.List(context.Background(), domain.ListFilter{UserID: "u1", Page: 0, Size: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page0) != 2 {
		t.Errorf("page 0 size = %d, want 2", len(page0))
	}

	page2, err := r.List(context.Background(), domain.ListFilter{UserID: "u1", Page: 2, Size: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page2) != 1 {
		t.Errorf("page 2 size = %d, want the 1 remaining", len(page2))
	}

	all, err := r.List(context.Background(), domain.ListFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("unpaged = %d, want 5", len(all))
	}
}

func TestExists(t *testing.T) {
	r := NewOrderRepository()
	o := newOrder(t, "o1", "u1")
	if err := r.Insert(context.Background(), o); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	ok, err := r.Exists(context.Background(), "o1")
	if err != nil || !ok {
		t.Errorf("Exists(o1) = %v, %v; want true", ok, err)
	}
	ok, err = r.Exists(context.Background(), "ghost")
	if err != nil || ok {
		t.Errorf("Exists(ghost) = %v, %v; want false", ok, err)
	}
}
