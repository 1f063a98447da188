package gateway

import (
	"context"
	"fmt"
	"log"
	"sync"

	"exit-systemv1/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sim is the paper gateway: fills at the current observed price, order refs
// are locally generated. Also usable as a PriceSource when prices are pushed
// in via SetPrice.
type Sim struct {
	prices model.PriceSource // optional delegate

	mu     sync.RWMutex
	manual map[string]decimal.Decimal // security id -> price
}

func NewSim(prices model.PriceSource) *Sim {
	return &Sim{
		prices: prices,
		manual: make(map[string]decimal.Decimal),
	}
}

// SetPrice pins a price for an instrument, overriding the delegate.
func (g *Sim) SetPrice(w model.Watchable, price decimal.Decimal) {
	g.mu.Lock()
	g.manual[w.SecurityID] = price
	g.mu.Unlock()
}

// CurrentPrice serves pinned prices first, then the delegate.
func (g *Sim) CurrentPrice(ctx context.Context, w model.Watchable) (decimal.Decimal, error) {
	g.mu.RLock()
	price, ok := g.manual[w.SecurityID]
	g.mu.RUnlock()
	if ok {
		return price, nil
	}
	if g.prices != nil {
		return g.prices.CurrentPrice(ctx, w)
	}
	return decimal.Zero, model.ErrPriceUnavailable
}

// Flatten fills instantly at the current price with a generated order ref.
func (g *Sim) Flatten(ctx context.Context, p *model.Position) (model.FlattenResult, error) {
	price, err := g.CurrentPrice(ctx, p.Instrument)
	if err != nil {
		return model.FlattenResult{}, fmt.Errorf("sim flatten %s: %w", p.OrderRef, err)
	}
	ref := "SIM-" + uuid.NewString()
	log.Printf("[gateway] sim flatten %s at %s (ref %s)", p.Instrument.Symbol, price, ref)
	return model.FlattenResult{OrderRef: ref, ExitPrice: price}, nil
}
