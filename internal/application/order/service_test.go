package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	dominv "github.com/atlas-commerce/fulfillment/internal/domain/inventory"
	domorder "github.com/atlas-commerce/fulfillment/internal/domain/order"
	"github.com/atlas-commerce/fulfillment/internal/domain/outbox"
	"github.com/atlas-commerce/fulfillment/internal/domain/pricing"
	"github.com/atlas-commerce/fulfillment/internal/pkg/apperr"
	"github.com/atlas-commerce/fulfillment/internal/pkg/metrics"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type stockCall struct {
	productID string
	quantity  int
	orderID   string
}

// fakeLedger scripts reservation outcomes per product and records every call.
type fakeLedger struct {
	mu          sync.Mutex
	products    map[string]*dominv.Product
	reserveErrs map[string][]error // consumed head-first per Reserve call
	reserves    []stockCall
	releases    []stockCall
	confirms    []stockCall
	confirmErr  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		products:    make(map[string]*dominv.Product),
		reserveErrs: make(map[string][]error),
	}
}

func (f *fakeLedger) addProduct(id, name string, price string, stock int) {
	f.products[id] = &dominv.Product{
		ID:            id,
		SKU:           "SKU-" + id,
		Name:          name,
		Price:         d(price),
		StockQuantity: stock,
		Status:        dominv.ProductActive,
	}
}

func (f *fakeLedger) GetProduct(_ context.Context, productID string) (*dominv.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "product_not_found", "product %s not found", productID)
	}
	clone := *p
	return &clone, nil
}

func (f *fakeLedger) Reserve(_ context.Context, productID string, quantity int, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserves = append(f.reserves, stockCall{productID, quantity, orderID})
	if errs := f.reserveErrs[productID]; len(errs) > 0 {
		f.reserveErrs[productID] = errs[1:]
		return errs[0]
	}
	return nil
}

func (f *fakeLedger) Release(_ context.Context, productID string, quantity int, orderID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, stockCall{productID, quantity, orderID})
}

func (f *fakeLedger) ConfirmSale(_ context.Context, productID string, quantity int, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms = append(f.confirms, stockCall{productID, quantity, orderID})
	return f.confirmErr
}

// fakeOrders is a minimal version-checked order store with a fail switch on
// Insert.
type fakeOrders struct {
	mu        sync.Mutex
	orders    map[string]*domorder.Order
	insertErr error
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: make(map[string]*domorder.Order)}
}

func (f *fakeOrders) Insert(_ context.Context, o *domorder.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.orders[o.ID] = o.Clone()
	return nil
}

func (f *fakeOrders) Update(_ context.Context, o *domorder.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.orders[o.ID]
	if !ok {
		return domorder.ErrNotFound
	}
	if stored.Version != o.Version {
		return domorder.ErrConflict
	}
	clone := o.Clone()
	clone.Version++
	f.orders[o.ID] = clone
	o.Version = clone.Version
	return nil
}

func (f *fakeOrders) FindByID(_ context.Context, id string) (*domorder.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, domorder.ErrNotFound
	}
	return o.Clone(), nil
}

func (f *fakeOrders) FindByNumber(_ context.Context, number string) (*domorder.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.OrderNumber == number {
			return o.Clone(), nil
		}
	}
	return nil, domorder.ErrNotFound
}

func (f *fakeOrders) Exists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.orders[id]
	return ok, nil
}

func (f *fakeOrders) List(_ context.Context, filter domorder.ListFilter) ([]*domorder.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domorder.Order
	for _, o := range f.orders {
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		out = append(out, o.Clone())
	}
	return out, nil
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []outbox.Event
}

func (f *fakePublisher) Publish(_ context.Context, e outbox.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.EventName())
	}
	return out
}

type seqIDGen struct{ n int }

func (g *seqIDGen) NewID() string {
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

func newTestService(orders *fakeOrders, ledger *fakeLedger, pub *fakePublisher) *Service {
	return NewService(
		orders,
		ledger,
		pub,
		&seqIDGen{},
		pricing.Rules{TaxRate: d("0.08")},
		metrics.NewNop(),
		"USD",
		3,
		time.Millisecond,
	)
}

func threeItemInput() CreateOrderInput {
	return CreateOrderInput{
		UserID: "user1",
		Items: []ItemInput{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 3},
			{ProductID: "p3", Quantity: 1},
		},
	}
}

func TestCreateOrderTotals(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addProduct("p1", "widget", "50.00", 10)
	ledger.addProduct("p2", "gadget", "25.00", 10)
	orders := newFakeOrders()
	pub := &fakePublisher{}
	svc := newTestService(orders, ledger, pub)

	o, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "user1",
		Items: []ItemInput{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 3},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if !o.Subtotal.Equal(d("175.00")) || !o.Tax.Equal(d("14.00")) || !o.Total.Equal(d("189.00")) {
		t.Errorf("totals = %s/%s/%s, want 175.00/14.00/189.00", o.Subtotal, o.Tax, o.Total)
	}
	if o.Status != domorder.StatusPending {
		t.Errorf("status = %s, want PENDING", o.Status)
	}
	if err := o.CheckTotals(); err != nil {
		t.Errorf("CheckTotals: %v", err)
	}
	if len(o.Lines) != 2 || o.Lines[0].SKU != "SKU-p1" || !o.Lines[0].UnitPrice.Equal(d("50.00")) {
		t.Errorf("line snapshot wrong: %+v", o.Lines)
	}
	if got := pub.names(); len(got) != 1 || got[0] != "order.created" {
		t.Errorf("published = %v, want [order.created]", got)
	}
	if len(ledger.releases) != 0 {
		t.Errorf("unexpected releases on success: %v", ledger.releases)
	}
}

func TestCreateOrderCompensatesOnReserveFailure(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addProduct("p1", "widget", "50.00", 10)
	ledger.addProduct("p2", "gadget", "25.00", 10)
	ledger.addProduct("p3", "gizmo", "10.00", 10)
	ledger.reserveErrs["p3"] = []error{
		apperr.New(apperr.KindBusinessRule, "insufficient_stock", "insufficient stock for product p3"),
	}
	orders := newFakeOrders()
	pub := &fakePublisher{}
	svc := newTestService(orders, ledger, pub)

	_, err := svc.CreateOrder(context.Background(), threeItemInput())
	if !apperr.IsKind(err, apperr.KindBusinessRule) {
		t.Fatalf("CreateOrder = %v, want business-rule error", err)
	}

	// Granted reservations are released in reverse acquisition order.
	want := []stockCall{
		{"p2", 3, "id-1"},
		{"p1", 2, "id-1"},
	}
	if len(ledger.releases) != len(want) {
		t.Fatalf("releases = %v, want %v", ledger.releases, want)
	}
	for i := range want {
		if ledger.releases[i] != want[i] {
			t.Errorf("release[%d] = %v, want %v", i, ledger.releases[i], want[i])
		}
	}

	if orders.count() != 0 {
		t.Error("order persisted despite failed reservation")
	}
	if got := pub.names(); len(got) != 0 {
		t.Errorf("events published on failure: %v", got)
	}
}

func TestCreateOrderCompensatesOnPersistFailure(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addProduct("p1", "widget", "50.00", 10)
	ledger.addProduct("p2", "gadget", "25.00", 10)
	ledger.addProduct("p3", "gizmo", "10.00", 10)
	orders := newFakeOrders()
	orders.insertErr = errors.New("disk full")
	pub := &fakePublisher{}
	svc := newTestService(orders, ledger, pub)

	_, err := svc.CreateOrder(context.Background(), threeItemInput())
	if !apperr.IsKind(err, apperr.KindInternal) {
		t.Fatalf("CreateOrder = %v, want internal error", err)
	}
	if apperr.CodeOf(err) != "order_persist_failed" {
		t.Errorf("code = %s, want order_persist_failed", apperr.CodeOf(err))
	}

	if len(ledger.releases) != 3 {
		t.Fatalf("releases = %d, want all 3", len(ledger.releases))
	}
	if ledger.releases[0].productID != "p3" || ledger.releases[2].productID != "p1" {
		t.Errorf("releases not in reverse order: %v", ledger.releases)
	}
}

func TestCreateOrderRetriesUnavailable(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addProduct("p1", "widget", "50.00", 10)
	ledger.reserveErrs["p1"] = []error{
		apperr.New(apperr.KindUnavailable, "inventory_unavailable", "store down"),
	}
	orders := newFakeOrders()
	pub := &fakePublisher{}
	svc := newTestService(orders, ledger, pub)

	o, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "user1",
		Items:  []ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if o == nil {
		t.Fatal("no order returned")
	}

	if len(ledger.reserves) != 2 {
		t.Errorf("reserve calls = %d, want 2 (one failed, one retried)", len(ledger.reserves))
	}
}

func TestCreateOrderDoesNotRetryTerminalFailures(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addProduct("p1", "widget", "50.00", 10)
	ledger.reserveErrs["p1"] = []error{
		apperr.New(apperr.KindBusinessRule, "insufficient_stock", "sold out"),
		nil, // would succeed if retried
	}
	orders := newFakeOrders()
	svc := newTestService(orders, ledger, &fakePublisher{})

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "user1",
		Items:  []ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	if !apperr.IsKind(err, apperr.KindBusinessRule) {
		t.Fatalf("CreateOrder = %v, want business-rule error", err)
	}
	if len(ledger.reserves) != 1 {
		t.Errorf("reserve calls = %d, terminal failures must not retry", len(ledger.reserves))
	}
}

func TestCreateOrderValidation(t *testing.T) {
	svc := newTestService(newFakeOrders(), newFakeLedger(), &fakePublisher{})

	tests := []struct {
		name string
		in   CreateOrderInput
		code string
	}{
		{"missing user", CreateOrderInput{Items: []ItemInput{{ProductID: "p1", Quantity: 1}}}, "user_required"},
		{"no items", CreateOrderInput{UserID: "u1"}, "empty_order"},
		{"zero quantity", CreateOrderInput{UserID: "u1", Items: []ItemInput{{ProductID: "p1", Quantity: 0}}}, "invalid_quantity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateOrder(context.Background(), tt.in)
			if !apperr.IsKind(err, apperr.KindValidation) {
				t.Fatalf("got %v, want validation error", err)
			}
			if apperr.CodeOf(err) != tt.code {
				t.Errorf("code = %s, want %s", apperr.CodeOf(err), tt.code)
			}
		})
	}
}

func createTestOrder(t *testing.T, svc *Service) *domorder.Order {
	t.Helper()
	o, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "user1",
		Items: []ItemInput{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return o
}

func TestCancelOrder(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addProduct("p1", "widget", "50.00", 10)
	ledger.addProduct("p2", "gadget", "25.00", 10)
	orders := newFakeOrders()
	pub := &fakePublisher{}
	svc := newTestService(orders, ledger, pub)

	o := createTestOrder(t, svc)

	cancelled, err := svc.CancelOrder(context.Background(), o.ID, "user1")
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelled.Status != domorder.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", cancelled.Status)
	}
	if len(ledger.releases) != 2 {
		t.Errorf("releases = %d, want one per line", len(ledger.releases))
	}
	names := pub.names()
	if names[len(names)-1] != "order.cancelled" {
		t.Errorf("last event = %s, want order.cancelled", names[len(names)-1])
	}
}

func TestCancelOrderRejections(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addProduct("p1", "widget", "50.00", 10)
	ledger.addProduct("p2", "gadget", "25.00", 10)
	orders := newFakeOrders()
	svc := newTestService(orders, ledger, &fakePublisher{})

	o := createTestOrder(t, svc)

	t.Run("wrong user", func(t *testing.T) {
		_, err := svc.CancelOrder(context.Background(), o.ID, "intruder")
		if apperr.CodeOf(err) != "forbidden" {
			t.Errorf("got %v, want forbidden", err)
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := svc.CancelOrder(context.Background(), "nope", "user1")
		if !apperr.IsKind(err, apperr.KindNotFound) {
			t.Errorf("got %v, want not-found", err)
		}
	})

	t.Run("shipped order", func(t *testing.T) {
		for _, s := range []domorder.Status{
			domorder.StatusPaymentProcessing, domorder.StatusConfirmed,
			domorder.StatusProcessing, domorder.StatusShipped,
		} {
			if _, err := svc.UpdateStatus(context.Background(), o.ID, s); err != nil {
				t.Fatalf("UpdateStatus(%s): %v", s, err)
			}
		}
		_, err := svc.CancelOrder(context.Background(), o.ID, "user1")
		if apperr.CodeOf(err) != "cannot_cancel" {
			t.Errorf("got %v, want cannot_cancel", err)
		}
	})
}

func TestGetOrderOwnership(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addProduct("p1", "widget", "50.00", 10)
	ledger.addProduct("p2", "gadget", "25.00", 10)
	svc := newTestService(newFakeOrders(), ledger, &fakePublisher{})

	o := createTestOrder(t, svc)

	if _, err := svc.GetOrder(context.Background(), o.ID, "user1"); err != nil {
		t.Errorf("owner read failed: %v", err)
	}
	if _, err := svc.GetOrder(context.Background(), o.ID, "other"); apperr.CodeOf(err) != "forbidden" {
		t.Errorf("got %v, want forbidden", err)
	}
}

func TestHandlePaymentCompleted(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addProduct("p1", "widget", "50.00", 10)
	ledger.addProduct("p2", "gadget", "25.00", 10)
	orders := newFakeOrders()
	svc := newTestService(orders, ledger, &fakePublisher{})

	o := createTestOrder(t, svc)

	if err := svc.HandlePaymentCompleted(context.Background(), o.ID, "pay-1"); err != nil {
		t.Fatalf("HandlePaymentCompleted: %v", err)
	}

	got, err := svc.GetOrder(context.Background(), o.ID, "user1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != domorder.StatusConfirmed {
		t.Errorf("status = %s, want CONFIRMED", got.Status)
	}
	if got.PaymentID != "pay-1" {
		t.Errorf("payment id = %q, want pay-1", got.PaymentID)
	}
	if got.PaidAt == nil {
		t.Error("PaidAt not stamped")
	}
	if len(ledger.confirms) != 2 {
		t.Errorf("ConfirmSale calls = %d, want one per line", len(ledger.confirms))
	}

	// Replayed event is a no-op.
	if err := svc.HandlePaymentCompleted(context.Background(), o.ID, "pay-1"); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(ledger.confirms) != 2 {
		t.Errorf("replay re-confirmed stock: %d calls", len(ledger.confirms))
	}
}

func TestHandlePaymentFailed(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addProduct("p1", "widget", "50.00", 10)
	ledger.addProduct("p2", "gadget", "25.00", 10)
	orders := newFakeOrders()
	svc := newTestService(orders, ledger, &fakePublisher{})

	o := createTestOrder(t, svc)

	if err := svc.HandlePaymentFailed(context.Background(), o.ID, "card_declined"); err != nil {
		t.Fatalf("HandlePaymentFailed: %v", err)
	}

	got, _ := svc.GetOrder(context.Background(), o.ID, "user1")
	if got.Status != domorder.StatusPaymentFailed {
		t.Errorf("status = %s, want PAYMENT_FAILED", got.Status)
	}
	if len(ledger.releases) != 2 {
		t.Errorf("releases = %d, want one per line", len(ledger.releases))
	}
}

func TestHandlePaymentRefunded(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addProduct("p1", "widget", "50.00", 10)
	ledger.addProduct("p2", "gadget", "25.00", 10)
	orders := newFakeOrders()
	svc := newTestService(orders, ledger, &fakePublisher{})

	o := createTestOrder(t, svc)
	if err := svc.HandlePaymentCompleted(context.Background(), o.ID, "pay-1"); err != nil {
		t.Fatalf("HandlePaymentCompleted: %v", err)
	}

	if err := svc.HandlePaymentRefunded(context.Background(), o.ID); err != nil {
		t.Fatalf("HandlePaymentRefunded: %v", err)
	}

	got, _ := svc.GetOrder(context.Background(), o.ID, "user1")
	if got.Status != domorder.StatusRefunded {
		t.Errorf("status = %s, want REFUNDED", got.Status)
	}
	// Sold-through stock stays retired: confirms happened, no releases.
	if len(ledger.releases) != 0 {
		t.Errorf("refund released stock: %v", ledger.releases)
	}
}
