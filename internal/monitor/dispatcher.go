// Package monitor contains the enforcement path: the periodic monitoring
// loop, the profit-floor and profit-zone stateful checks, the exit
// dispatcher, and the watchdog supervising the loop.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"exit-systemv1/internal/logger"
	"exit-systemv1/internal/metrics"
	"exit-systemv1/internal/model"
	"exit-systemv1/internal/pnl"
)

// ExitExecutor is an optional external delegate that owns exit execution
// end to end (order placement, terminal transition, notification). When one
// is supplied the dispatcher hands the position over and swallows failures.
type ExitExecutor interface {
	ExecuteExit(ctx context.Context, p *model.Position, reason string) error
}

// Dispatcher executes exit verdicts exactly once per triggering event.
type Dispatcher struct {
	store    model.PositionStore
	cache    model.SnapshotCache
	gateway  model.OrderGateway
	resolver *pnl.Resolver
	notifier model.ExitNotifier
	external ExitExecutor // nil means internal fallback
	logger   *slog.Logger
	met      *metrics.Metrics
	now      func() time.Time
}

// NewDispatcher builds a dispatcher. external, notifier and met may be nil.
func NewDispatcher(store model.PositionStore, cache model.SnapshotCache,
	gateway model.OrderGateway, resolver *pnl.Resolver, notifier model.ExitNotifier,
	external ExitExecutor, logger *slog.Logger, met *metrics.Metrics) *Dispatcher {

	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:    store,
		cache:    cache,
		gateway:  gateway,
		resolver: resolver,
		notifier: notifier,
		external: external,
		logger:   logger,
		met:      met,
		now:      time.Now,
	}
}

// Dispatch closes a position for the given reason. rule names the winning
// check for metrics; meta is the verdict's audit metadata.
//
// Idempotent: a position already out of ACTIVE is a no-op. On execution
// failure the position stays active and is retried next cycle.
func (d *Dispatcher) Dispatch(ctx context.Context, p *model.Position, reason, rule string, meta map[string]string) error {
	if !p.Active() {
		d.logger.Debug("dispatch skipped, position not active",
			slog.String("order_ref", p.OrderRef), slog.String("status", string(p.Status)))
		return nil
	}

	// Audit trail first, before any execution attempt, so a crash mid-close
	// still leaves the intent on record.
	p.SetMetaOnce(model.MetaExitReason, reason)
	p.SetMetaOnce(model.MetaExitPath, rule)
	for k, v := range meta {
		p.SetMetaOnce(k, v)
	}
	if err := d.store.Update(ctx, p); err != nil {
		d.logger.Warn("exit audit persist failed",
			slog.String("order_ref", p.OrderRef), slog.Any("error", err))
	}

	d.logger.Info("dispatching exit",
		slog.String("order_ref", p.OrderRef),
		slog.String("rule", rule),
		slog.String("reason", reason))

	if d.external != nil {
		if err := d.external.ExecuteExit(ctx, p, reason); err != nil {
			d.logger.Error("external exit executor failed",
				slog.String("order_ref", p.OrderRef), slog.Any("error", err))
			if d.met != nil {
				d.met.DispatchFailures.Inc()
			}
		}
		// The delegate owns the terminal transition either way.
		return nil
	}

	exitPrice, err := d.executeClose(ctx, p)
	if err != nil {
		d.logger.Error("exit execution failed, position stays active",
			slog.String("order_ref", p.OrderRef), slog.Any("error", err))
		if d.met != nil {
			d.met.DispatchFailures.Inc()
		}
		return err
	}

	return d.finalize(ctx, p, reason, rule, exitPrice)
}

// executeClose realizes the close: simulated positions settle at the last
// known price, live positions go through the broker gateway.
func (d *Dispatcher) executeClose(ctx context.Context, p *model.Position) (decimal.Decimal, error) {
	if p.Simulated() {
		snap, err := d.cache.Get(ctx, p.OrderRef)
		if err != nil || snap == nil {
			snap, err = d.resolver.Resolve(ctx, p)
			if err != nil || snap == nil {
				return decimal.Zero, fmt.Errorf("sim close %s: no last price available", p.OrderRef)
			}
		}
		return snap.LastPrice, nil
	}

	res, err := d.gateway.Flatten(ctx, p)
	if err != nil {
		return decimal.Zero, fmt.Errorf("flatten %s: %w", p.OrderRef, err)
	}
	return res.ExitPrice, nil
}

// finalize transitions the position to EXITED, persists final PnL, purges
// the cache entry, and fires the notification.
func (d *Dispatcher) finalize(ctx context.Context, p *model.Position, reason, rule string, exitPrice decimal.Decimal) error {
	now := d.now()

	// One last cache read for the freshest high-water mark before the entry
	// is purged; the realized exit price decides the final PnL itself.
	cached, _ := d.cache.Get(ctx, p.OrderRef)
	final := d.resolver.Compute(p, exitPrice, cached, now)

	if err := p.MarkExited(exitPrice, final.PnL, final.PnLPct, now); err != nil {
		return err
	}
	if err := d.store.Update(ctx, p); err != nil {
		// The broker close already happened; keep going so cache and
		// notification stay consistent, but surface the persist failure.
		d.logger.Error("final position persist failed",
			slog.String("order_ref", p.OrderRef), slog.Any("error", err))
	}
	if err := d.cache.Delete(ctx, p.OrderRef); err != nil {
		d.logger.Warn("pnl cache purge failed",
			slog.String("order_ref", p.OrderRef), slog.Any("error", err))
	}

	if d.notifier != nil {
		if err := d.notifier.NotifyExit(ctx, p, reason, exitPrice, final.PnL); err != nil {
			d.logger.Warn("exit notification failed",
				slog.String("order_ref", p.OrderRef), slog.Any("error", err))
			if d.met != nil {
				d.met.NotifyFailures.Inc()
			}
		}
	}
	if d.met != nil {
		d.met.ExitsTotal.WithLabelValues(rule).Inc()
	}

	attrs := []any{
		slog.String("order_ref", p.OrderRef),
		slog.String("rule", rule),
		slog.String("exit_price", exitPrice.String()),
		slog.String("pnl", final.PnL.String()),
	}
	d.logger.Info("position exited", append(attrs, logger.LogWithTrace(ctx)...)...)
	return nil
}
