package pnl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"exit-systemv1/internal/metrics"
	"exit-systemv1/internal/model"
)

// Reconciler removes PnL cache entries whose order reference is no longer in
// the active set (positions exited, cancelled, or plain gone). Sweeps are
// rate-limited to at most one per MinInterval to bound store load.
type Reconciler struct {
	cache  model.SnapshotCache
	store  model.PositionStore
	logger *slog.Logger
	met    *metrics.Metrics
	now    func() time.Time

	mu      sync.Mutex
	lastRun time.Time

	// MinInterval is the minimum spacing between sweeps.
	MinInterval time.Duration
}

// NewReconciler builds a reconciler. met may be nil in tests.
func NewReconciler(cache model.SnapshotCache, store model.PositionStore,
	minInterval time.Duration, logger *slog.Logger, met *metrics.Metrics) *Reconciler {

	if logger == nil {
		logger = slog.Default()
	}
	if minInterval <= 0 {
		minInterval = 5 * time.Minute
	}
	return &Reconciler{
		cache:       cache,
		store:       store,
		logger:      logger,
		met:         met,
		now:         time.Now,
		MinInterval: minInterval,
	}
}

// Sweep deletes orphaned cache entries. Returns the number removed, or
// (0, nil) when the sweep was rate-limited away. Safe to call every cycle.
func (rc *Reconciler) Sweep(ctx context.Context) (int, error) {
	rc.mu.Lock()
	now := rc.now()
	if !rc.lastRun.IsZero() && now.Sub(rc.lastRun) < rc.MinInterval {
		rc.mu.Unlock()
		return 0, nil
	}
	rc.lastRun = now
	rc.mu.Unlock()

	refs, err := rc.cache.Refs(ctx)
	if err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, nil
	}

	actives, err := rc.store.ActivePositions(ctx)
	if err != nil {
		return 0, err
	}
	alive := make(map[string]struct{}, len(actives))
	for _, p := range actives {
		alive[p.OrderRef] = struct{}{}
	}

	removed := 0
	for _, ref := range refs {
		if _, ok := alive[ref]; ok {
			continue
		}
		if err := rc.cache.Delete(ctx, ref); err != nil {
			rc.logger.Warn("orphan cache delete failed",
				slog.String("order_ref", ref), slog.Any("error", err))
			continue
		}
		removed++
	}
	if rc.met != nil {
		rc.met.SweepsTotal.Inc()
		rc.met.OrphansSwept.Add(float64(removed))
	}
	if removed > 0 {
		rc.logger.Info("reconciliation sweep removed orphaned pnl entries",
			slog.Int("removed", removed), slog.Int("cached", len(refs)))
	}
	return removed, nil
}
