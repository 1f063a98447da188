package gateway

import (
	"context"
	"fmt"
	"log"
	"time"

	"exit-systemv1/internal/model"
	"exit-systemv1/pkg/smartconnect"

	"github.com/shopspring/decimal"
)

const (
	fillPollInterval = 500 * time.Millisecond
	fillPollTimeout  = 15 * time.Second
)

// Live implements model.OrderGateway against the broker. Flatten submits a
// market order closing the option leg and reads the realized fill price back
// from the order book.
type Live struct {
	client *smartconnect.Client
	prices model.PriceSource // fallback exit price when the book has no fill price
}

func NewLive(client *smartconnect.Client, prices model.PriceSource) *Live {
	return &Live{client: client, prices: prices}
}

// Flatten market-closes the position. Both directions hold bought premium, so
// the closing leg is always a SELL of the held quantity.
func (g *Live) Flatten(ctx context.Context, p *model.Position) (model.FlattenResult, error) {
	orderID, err := g.client.PlaceMarketOrder(smartconnect.OrderParams{
		TradingSymbol:   p.Instrument.Symbol,
		SymbolToken:     p.Instrument.SecurityID,
		TransactionType: "SELL",
		Exchange:        restExchange(p.Instrument.Segment),
		Quantity:        p.Qty,
	})
	if err != nil {
		return model.FlattenResult{}, fmt.Errorf("flatten %s: %w", p.OrderRef, err)
	}
	log.Printf("[gateway] flatten order %s placed for %s qty=%d", orderID, p.Instrument.Symbol, p.Qty)

	exitPrice, err := g.awaitFill(ctx, orderID)
	if err != nil {
		return model.FlattenResult{}, fmt.Errorf("flatten %s: %w", p.OrderRef, err)
	}

	if exitPrice.Sign() <= 0 {
		// Book reported a complete order without an average price; fall back
		// to the last traded price so the final PnL is at least close.
		lp, perr := g.prices.CurrentPrice(ctx, p.Instrument)
		if perr != nil {
			return model.FlattenResult{}, fmt.Errorf("flatten %s: order %s filled but no exit price", p.OrderRef, orderID)
		}
		log.Printf("[gateway] order %s missing avg price, using LTP %s", orderID, lp)
		exitPrice = lp
	}

	return model.FlattenResult{OrderRef: orderID, ExitPrice: exitPrice}, nil
}

// awaitFill polls the order book until the order completes or the poll
// window elapses.
func (g *Live) awaitFill(ctx context.Context, orderID string) (decimal.Decimal, error) {
	deadline := time.Now().Add(fillPollTimeout)
	for {
		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case <-time.After(fillPollInterval):
		}

		st, err := g.client.OrderByID(orderID)
		if err != nil {
			log.Printf("[gateway] order book read failed for %s: %v", orderID, err)
		} else if st != nil {
			switch st.Status {
			case "complete":
				return st.AvgPrice, nil
			case "rejected", "cancelled":
				return decimal.Zero, fmt.Errorf("order %s %s: %s", orderID, st.Status, st.ErrorMessage)
			}
		}

		if time.Now().After(deadline) {
			return decimal.Zero, fmt.Errorf("order %s not filled within %s", orderID, fillPollTimeout)
		}
	}
}
