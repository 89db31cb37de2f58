package payment

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-commerce/fulfillment/internal/domain/outbox"
	dompay "github.com/atlas-commerce/fulfillment/internal/domain/payment"
	"github.com/atlas-commerce/fulfillment/internal/pkg/apperr"
	"github.com/atlas-commerce/fulfillment/internal/pkg/metrics"
)

type fakeRepo struct {
	mu       sync.Mutex
	payments map[string]*dompay.Payment
	byKey    map[string]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		payments: make(map[string]*dompay.Payment),
		byKey:    make(map[string]string),
	}
}

func (r *fakeRepo) Insert(_ context.Context, p *dompay.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[p.IdempotencyKey]; exists {
		return dompay.ErrDuplicateKey
	}
	r.payments[p.ID] = p.Clone()
	r.byKey[p.IdempotencyKey] = p.ID
	return nil
}

func (r *fakeRepo) Update(_ context.Context, p *dompay.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.payments[p.ID]; !exists {
		return dompay.ErrNotFound
	}
	r.payments[p.ID] = p.Clone()
	return nil
}

func (r *fakeRepo) FindByID(_ context.Context, id string) (*dompay.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, dompay.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *fakeRepo) FindByIdempotencyKey(_ context.Context, key string) (*dompay.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byKey[key]
	if !ok {
		return nil, dompay.ErrNotFound
	}
	return r.payments[id].Clone(), nil
}

func (r *fakeRepo) FindByOrderID(_ context.Context, orderID string) (*dompay.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.OrderID == orderID {
			return p.Clone(), nil
		}
	}
	return nil, dompay.ErrNotFound
}

// fakeGateway counts invocations and answers from a script.
type fakeGateway struct {
	mu      sync.Mutex
	calls   int
	result  ChargeResult
	err     error
	blockOn bool // block until the context deadline fires
}

func (g *fakeGateway) Charge(ctx context.Context, _ ChargeRequest) (ChargeResult, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	if g.blockOn {
		<-ctx.Done()
		return ChargeResult{}, ctx.Err()
	}
	return g.result, g.err
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type seqIDGen struct{ n int }

func (g *seqIDGen) NewID() string {
	g.n++
	return fmt.Sprintf("pay-%d", g.n)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []outbox.Event
}

func (c *capturePublisher) Publish(_ context.Context, e outbox.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *capturePublisher) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.events {
		out = append(out, e.EventName())
	}
	return out
}

func newTestService(repo *fakeRepo, gw *fakeGateway, pub *capturePublisher) *Service {
	return NewService(repo, gw, &seqIDGen{}, pub, metrics.NewNop(), 50*time.Millisecond)
}

func approvedInput(key string) ProcessInput {
	return ProcessInput{
		UserID:         "user1",
		OrderID:        "order1",
		IdempotencyKey: key,
		Amount:         decimal.NewFromInt(189),
		Currency:       "USD",
		Method:         "credit_card",
	}
}

func TestProcessApproved(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{result: ChargeResult{Approved: true, TransactionID: "TXN-1"}}
	pub := &capturePublisher{}
	svc := newTestService(repo, gw, pub)

	p, err := svc.Process(context.Background(), approvedInput("key-1"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if p.Status != dompay.StatusCompleted || p.TransactionID != "TXN-1" {
		t.Errorf("payment = %s txn=%q, want COMPLETED/TXN-1", p.Status, p.TransactionID)
	}
	if got := pub.names(); len(got) != 1 || got[0] != "payment.completed" {
		t.Errorf("events = %v, want [payment.completed]", got)
	}
}

func TestProcessIdempotentReplay(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{result: ChargeResult{Approved: true, TransactionID: "TXN-1"}}
	svc := newTestService(repo, gw, &capturePublisher{})

	first, err := svc.Process(context.Background(), approvedInput("key-1"))
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}

	second, err := svc.Process(context.Background(), approvedInput("key-1"))
	if err != nil {
		t.Fatalf("replayed Process: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("replay returned different payment %s, want %s", second.ID, first.ID)
	}
	if gw.callCount() != 1 {
		t.Errorf("gateway called %d times for one key, want exactly 1", gw.callCount())
	}
}

func TestProcessReplayAfterFailure(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{result: ChargeResult{Approved: false, DeclineReason: "card_declined"}}
	svc := newTestService(repo, gw, &capturePublisher{})

	first, err := svc.Process(context.Background(), approvedInput("key-1"))
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if first.Status != dompay.StatusFailed {
		t.Fatalf("status = %s, want FAILED", first.Status)
	}

	// Same key replays the failed record; a new attempt needs a new key.
	second, err := svc.Process(context.Background(), approvedInput("key-1"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if second.Status != dompay.StatusFailed || gw.callCount() != 1 {
		t.Errorf("replay status=%s gateway calls=%d, want FAILED and 1", second.Status, gw.callCount())
	}
}

// racingRepo simulates losing the insert race: the pre-insert lookup misses,
// the insert hits the unique key, and the re-read finds the winner's record.
type racingRepo struct {
	*fakeRepo
	missedOnce bool
}

func (r *racingRepo) FindByIdempotencyKey(ctx context.Context, key string) (*dompay.Payment, error) {
	if !r.missedOnce {
		r.missedOnce = true
		return nil, dompay.ErrNotFound
	}
	return r.fakeRepo.FindByIdempotencyKey(ctx, key)
}

func TestProcessInsertRace(t *testing.T) {
	inner := newFakeRepo()
	winner, err := dompay.New("pay-winner", "order1", "user1", "key-1", decimal.NewFromInt(189), "USD", dompay.MethodCreditCard)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	winner.Complete("TXN-9")
	if err := inner.Insert(context.Background(), winner); err != nil {
		t.Fatalf("seed winner: %v", err)
	}

	gw := &fakeGateway{result: ChargeResult{Approved: true, TransactionID: "TXN-LOSER"}}
	svc := NewService(&racingRepo{fakeRepo: inner}, gw, &seqIDGen{}, &capturePublisher{}, metrics.NewNop(), 50*time.Millisecond)

	p, err := svc.Process(context.Background(), approvedInput("key-1"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if p.ID != "pay-winner" {
		t.Errorf("race loser returned %s, want the winner's record", p.ID)
	}
	if gw.callCount() != 0 {
		t.Errorf("gateway called %d times by the race loser, want 0", gw.callCount())
	}
}

func TestProcessGatewayTimeout(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{blockOn: true}
	pub := &capturePublisher{}
	svc := newTestService(repo, gw, pub)

	p, err := svc.Process(context.Background(), approvedInput("key-1"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if p.Status != dompay.StatusFailed {
		t.Errorf("status = %s, want FAILED", p.Status)
	}
	if p.FailureReason != dompay.FailureReasonTimeout {
		t.Errorf("reason = %q, want %q", p.FailureReason, dompay.FailureReasonTimeout)
	}

	stored, err := repo.FindByIdempotencyKey(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("timed-out payment not persisted: %v", err)
	}
	if stored.Status != dompay.StatusFailed {
		t.Errorf("stored status = %s, want FAILED", stored.Status)
	}
}

func TestProcessDeclined(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{result: ChargeResult{Approved: false, DeclineReason: "card_declined"}}
	pub := &capturePublisher{}
	svc := newTestService(repo, gw, pub)

	p, err := svc.Process(context.Background(), approvedInput("key-1"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if p.Status != dompay.StatusFailed || p.FailureReason != "card_declined" {
		t.Errorf("payment = %s/%q, want FAILED/card_declined", p.Status, p.FailureReason)
	}
	if got := pub.names(); len(got) != 1 || got[0] != "payment.failed" {
		t.Errorf("events = %v, want [payment.failed]", got)
	}
}

func TestProcessValidation(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeGateway{}, &capturePublisher{})

	tests := []struct {
		name   string
		mutate func(*ProcessInput)
	}{
		{"missing key", func(in *ProcessInput) { in.IdempotencyKey = "" }},
		{"zero amount", func(in *ProcessInput) { in.Amount = decimal.Zero }},
		{"unknown method", func(in *ProcessInput) { in.Method = "cheque" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := approvedInput("key-1")
			tt.mutate(&in)
			_, err := svc.Process(context.Background(), in)
			if !apperr.IsKind(err, apperr.KindValidation) {
				t.Errorf("got %v, want validation error", err)
			}
		})
	}
}

func TestRefund(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{result: ChargeResult{Approved: true, TransactionID: "TXN-1"}}
	pub := &capturePublisher{}
	svc := newTestService(repo, gw, pub)

	p, err := svc.Process(context.Background(), approvedInput("key-1"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	t.Run("wrong user", func(t *testing.T) {
		_, err := svc.Refund(context.Background(), p.ID, "intruder")
		if apperr.CodeOf(err) != "forbidden" {
			t.Errorf("got %v, want forbidden", err)
		}
	})

	t.Run("completed refunds in full", func(t *testing.T) {
		refunded, err := svc.Refund(context.Background(), p.ID, "user1")
		if err != nil {
			t.Fatalf("Refund: %v", err)
		}
		if refunded.Status != dompay.StatusRefunded {
			t.Errorf("status = %s, want REFUNDED", refunded.Status)
		}
		if refunded.RefundAmount == nil || !refunded.RefundAmount.Equal(p.Amount) {
			t.Errorf("refund amount = %v, want %s", refunded.RefundAmount, p.Amount)
		}
		names := pub.names()
		if names[len(names)-1] != "payment.refunded" {
			t.Errorf("last event = %s, want payment.refunded", names[len(names)-1])
		}
	})

	t.Run("already refunded", func(t *testing.T) {
		_, err := svc.Refund(context.Background(), p.ID, "user1")
		if apperr.CodeOf(err) != "not_refundable" {
			t.Errorf("got %v, want not_refundable", err)
		}
	})

	t.Run("failed payment not refundable", func(t *testing.T) {
		gwFail := &fakeGateway{result: ChargeResult{Approved: false, DeclineReason: "card_declined"}}
		svcFail := NewService(repo, gwFail, &seqIDGen{n: 100}, pub, metrics.NewNop(), 50*time.Millisecond)
		failed, err := svcFail.Process(context.Background(), approvedInput("key-2"))
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if _, err := svcFail.Refund(context.Background(), failed.ID, "user1"); apperr.CodeOf(err) != "not_refundable" {
			t.Errorf("got %v, want not_refundable", err)
		}
	})
}

func TestGetOwnership(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{result: ChargeResult{Approved: true, TransactionID: "TXN-1"}}
	svc := newTestService(repo, gw, &capturePublisher{})

	p, err := svc.Process(context.Background(), approvedInput("key-1"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if _, err := svc.Get(context.Background(), p.ID, "user1"); err != nil {
		t.Errorf("owner read failed: %v", err)
	}
	if _, err := svc.Get(context.Background(), p.ID, "other"); apperr.CodeOf(err) != "forbidden" {
		t.Errorf("got %v, want forbidden", err)
	}
	if _, err := svc.Get(context.Background(), "missing", "user1"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("got %v, want not-found", err)
	}
}
