// Package gateway provides a simulated payment gateway for environments
// without a real processor.
package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	apppayment "github.com/atlas-commerce/fulfillment/internal/application/payment"
)

const processingDelay = 100 * time.Millisecond

// Simulated approves a configurable fraction of charges after a short delay.
// It honours the context deadline so gateway-timeout handling is exercised.
type Simulated struct {
	mu          sync.Mutex
	random      *rand.Rand
	successRate float64
}

func NewSimulated(successRate float64) *Simulated {
	return &Simulated{
		random:      rand.New(rand.NewSource(time.Now().UnixNano())),
		successRate: successRate,
	}
}

func (g *Simulated) Charge(ctx context.Context, req apppayment.ChargeRequest) (apppayment.ChargeResult, error) {
	select {
	case <-time.After(processingDelay):
	case <-ctx.Done():
		return apppayment.ChargeResult{}, ctx.Err()
	}

	g.mu.Lock()
	approved := g.random.Float64() < g.successRate
	n := g.random.Intn(1000)
	g.mu.Unlock()

	if !approved {
		return apppayment.ChargeResult{Approved: false, DeclineReason: "card_declined"}, nil
	}
	return apppayment.ChargeResult{
		Approved:      true,
		TransactionID: fmt.Sprintf("TXN-%d-%03d", time.Now().UnixMilli(), n),
	}, nil
}
