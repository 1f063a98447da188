// Package pnl resolves "current PnL" for a position from the fast cache,
// falling back to recomputation from the live price, and — for exited
// positions — to the durable final value only.
package pnl

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"exit-systemv1/internal/metrics"
	"exit-systemv1/internal/model"
)

var hundred = decimal.NewFromInt(100)

// ResolverConfig carries the resolution tunables.
type ResolverConfig struct {
	// FreshWindow is how old a cached snapshot may be and still be served
	// without recomputation.
	FreshWindow time.Duration

	// ExecCost is the flat round-trip execution cost in rupees deducted
	// from every recomputed PnL, so thresholds act on net numbers.
	ExecCost decimal.Decimal
}

// Resolver resolves PnL snapshots with cache/store duality.
type Resolver struct {
	cache  model.SnapshotCache
	prices model.PriceSource
	cfg    ResolverConfig
	logger *slog.Logger
	met    *metrics.Metrics
	now    func() time.Time
}

// NewResolver builds a resolver. met may be nil in tests.
func NewResolver(cache model.SnapshotCache, prices model.PriceSource,
	cfg ResolverConfig, logger *slog.Logger, met *metrics.Metrics) *Resolver {

	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FreshWindow <= 0 {
		cfg.FreshWindow = 5 * time.Second
	}
	return &Resolver{
		cache:  cache,
		prices: prices,
		cfg:    cfg,
		logger: logger,
		met:    met,
		now:    time.Now,
	}
}

// Resolve returns the current PnL snapshot for a position.
//
// Active positions: a fresh cache entry wins; otherwise PnL is recomputed
// from the latest price and written back to the cache. Exited positions are
// served from the durable record only — the cache is never consulted once
// the terminal state is reached, so reports stay stable after close.
//
// Returns nil, nil when no snapshot can be resolved (no price, empty cache):
// rules treat a missing snapshot as inapplicable input, not a failure.
func (r *Resolver) Resolve(ctx context.Context, p *model.Position) (*model.PnlSnapshot, error) {
	if p.Status == model.StatusExited {
		return &model.PnlSnapshot{
			PnL:           p.PnL,
			PnLPct:        p.PnLPct,
			HighWaterMark: p.HighWaterMark,
			LastPrice:     p.ExitPrice,
			ObservedAt:    p.ExitedAt,
		}, nil
	}
	if !p.Active() {
		return nil, nil
	}

	now := r.now()
	cached, err := r.cache.Get(ctx, p.OrderRef)
	if err != nil {
		r.logger.Warn("pnl cache read failed, recomputing",
			slog.String("order_ref", p.OrderRef), slog.Any("error", err))
		cached = nil
	}
	if cached != nil && cached.Fresh(now, r.cfg.FreshWindow) {
		if r.met != nil {
			r.met.CacheHits.Inc()
		}
		return cached, nil
	}
	if r.met != nil {
		r.met.CacheMisses.Inc()
	}

	price, err := r.prices.CurrentPrice(ctx, p.Instrument)
	if err != nil {
		if !errors.Is(err, model.ErrPriceUnavailable) {
			r.logger.Warn("price lookup failed",
				slog.String("order_ref", p.OrderRef), slog.Any("error", err))
		}
		if r.met != nil {
			r.met.PriceMisses.Inc()
		}
		// A stale snapshot still beats flying blind.
		return cached, nil
	}

	snap := r.Compute(p, price, cached, now)
	if err := r.cache.Put(ctx, p.OrderRef, snap); err != nil {
		r.logger.Warn("pnl cache write-back failed",
			slog.String("order_ref", p.OrderRef), slog.Any("error", err))
	}
	if r.met != nil {
		r.met.PnLRecomputes.Inc()
	}
	return snap, nil
}

// Compute builds a snapshot from a price observation, net of execution cost,
// carrying the high-water mark forward from the previous snapshot and the
// durable record (whichever is higher).
func (r *Resolver) Compute(p *model.Position, price decimal.Decimal,
	prev *model.PnlSnapshot, at time.Time) *model.PnlSnapshot {

	qty := decimal.NewFromInt(p.Qty)
	entry := p.AvgFillOrEntry()

	var gross decimal.Decimal
	if p.Direction == model.DirectionShort {
		gross = entry.Sub(price).Mul(qty)
	} else {
		gross = price.Sub(entry).Mul(qty)
	}
	net := gross.Sub(r.cfg.ExecCost)

	cost := entry.Mul(qty)
	var pct decimal.Decimal
	if cost.Sign() > 0 {
		pct = net.Div(cost).Mul(hundred)
	}

	hwm := net
	hwmPct := pct
	if prev != nil && prev.HighWaterMark.GreaterThan(hwm) {
		hwm = prev.HighWaterMark
		hwmPct = prev.HighWaterMarkPct
	}
	if p.HighWaterMark.GreaterThan(hwm) {
		hwm = p.HighWaterMark
		if cost.Sign() > 0 {
			hwmPct = p.HighWaterMark.Div(cost).Mul(hundred)
		}
	}

	return &model.PnlSnapshot{
		PnL:              net,
		PnLPct:           pct,
		HighWaterMark:    hwm,
		HighWaterMarkPct: hwmPct,
		LastPrice:        price,
		ObservedAt:       at,
	}
}
