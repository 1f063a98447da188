// Package gateway adapts the broker surface to the exit core's ports:
// a live order gateway and price source over the SmartAPI client and tick
// feed, plus a paper gateway for simulated positions.
package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"exit-systemv1/internal/model"
	"exit-systemv1/pkg/smartconnect"

	"github.com/shopspring/decimal"
)

// maxTickAge is how old a feed tick may be before we fall back to a REST
// quote. Ticks stop during circuit halts and feed drops.
const maxTickAge = 15 * time.Second

type lastPrice struct {
	price decimal.Decimal
	at    time.Time
}

// FeedPrices implements model.PriceSource over the LTP tick feed, with the
// REST LTP endpoint as fallback for stale or missing ticks.
type FeedPrices struct {
	client *smartconnect.Client
	feed   *smartconnect.Feed

	mu     sync.RWMutex
	prices map[string]lastPrice // feed token -> last tick
}

// NewFeedPrices wires the tick callback. The feed may be nil, in which case
// every lookup goes to REST.
func NewFeedPrices(client *smartconnect.Client, feed *smartconnect.Feed) *FeedPrices {
	fp := &FeedPrices{
		client: client,
		feed:   feed,
		prices: make(map[string]lastPrice),
	}
	if feed != nil {
		feed.OnTick = fp.onTick
	}
	return fp
}

func (fp *FeedPrices) onTick(t smartconnect.Tick) {
	fp.mu.Lock()
	fp.prices[t.Token] = lastPrice{price: t.LTP, at: time.Now()}
	fp.mu.Unlock()
}

// Track subscribes the instrument on the feed so ticks start flowing.
func (fp *FeedPrices) Track(w model.Watchable) error {
	if fp.feed == nil {
		return nil
	}
	return fp.feed.Subscribe(w.Key(), []smartconnect.SubscriptionEntry{{
		ExchangeType: feedExchangeType(w.Segment),
		Tokens:       []string{w.SecurityID},
	}})
}

// Untrack drops the feed subscription once the position is closed.
func (fp *FeedPrices) Untrack(w model.Watchable) error {
	if fp.feed == nil {
		return nil
	}
	return fp.feed.Unsubscribe(w.Key(), []smartconnect.SubscriptionEntry{{
		ExchangeType: feedExchangeType(w.Segment),
		Tokens:       []string{w.SecurityID},
	}})
}

// CurrentPrice returns the freshest known price, or ErrPriceUnavailable.
func (fp *FeedPrices) CurrentPrice(ctx context.Context, w model.Watchable) (decimal.Decimal, error) {
	fp.mu.RLock()
	lp, ok := fp.prices[w.SecurityID]
	fp.mu.RUnlock()
	if ok && time.Since(lp.at) <= maxTickAge {
		return lp.price, nil
	}

	if fp.client == nil {
		return decimal.Zero, model.ErrPriceUnavailable
	}
	price, err := fp.client.LTP(restExchange(w.Segment), w.Symbol, w.SecurityID)
	if err != nil {
		log.Printf("[gateway] REST LTP fallback failed for %s: %v", w.Key(), err)
		// A stale tick beats nothing at all.
		if ok {
			return lp.price, nil
		}
		return decimal.Zero, model.ErrPriceUnavailable
	}

	fp.mu.Lock()
	fp.prices[w.SecurityID] = lastPrice{price: price, at: time.Now()}
	fp.mu.Unlock()
	return price, nil
}

// feedExchangeType maps a segment to the feed's exchange type code.
func feedExchangeType(segment string) int {
	switch segment {
	case "NSE_FO":
		return smartconnect.ExchangeNSEFO
	case "BSE_CM":
		return smartconnect.ExchangeBSECM
	case "MCX_FO":
		return smartconnect.ExchangeMCXFO
	default: // NSE_CM, IDX_I
		return smartconnect.ExchangeNSECM
	}
}

// restExchange maps a segment to the REST API exchange name.
func restExchange(segment string) string {
	switch segment {
	case "NSE_FO":
		return "NFO"
	case "BSE_CM":
		return "BSE"
	case "MCX_FO":
		return "MCX"
	default:
		return "NSE"
	}
}
