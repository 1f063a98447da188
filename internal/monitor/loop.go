package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"exit-systemv1/internal/logger"
	"exit-systemv1/internal/metrics"
	"exit-systemv1/internal/model"
	"exit-systemv1/internal/pnl"
	"exit-systemv1/internal/rules"
	"exit-systemv1/internal/strategyconf"
)

// Loop is the supervisory enforcement loop: every cycle it refreshes PnL for
// all active positions, runs the stateful checks and the rule engine against
// each, and hands exit verdicts to the dispatcher.
//
// Single-threaded by construction: one goroutine runs cycles back to back
// with at least Period between cycle starts. A slow cycle delays the next
// one. In-flight collaborator calls are not cancelled on Stop.
type Loop struct {
	store      model.PositionStore
	resolver   *pnl.Resolver
	reconciler *pnl.Reconciler
	engine     *rules.Engine
	dispatcher *Dispatcher
	floor      *FloorCheck
	zones      *ZoneCheck
	session    model.SessionOracle
	structure  model.StructureSource
	cfg        *strategyconf.Document
	logger     *slog.Logger
	met        *metrics.Metrics

	// Period is the minimum spacing between cycle starts.
	Period time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	// Run-state, reset on restart.
	idle     atomic.Bool  // closed-market short-circuit armed
	lastBeat atomic.Int64 // unix nanos of the last completed cycle
}

// LoopDeps bundles the loop's collaborators.
type LoopDeps struct {
	Store      model.PositionStore
	Resolver   *pnl.Resolver
	Reconciler *pnl.Reconciler
	Engine     *rules.Engine
	Dispatcher *Dispatcher
	Floor      *FloorCheck
	Zones      *ZoneCheck
	Session    model.SessionOracle
	Structure  model.StructureSource
	Cfg        *strategyconf.Document
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// NewLoop builds the loop. Structure and Metrics may be nil.
func NewLoop(deps LoopDeps, period time.Duration) *Loop {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if period <= 0 {
		period = 5 * time.Second
	}
	return &Loop{
		store:      deps.Store,
		resolver:   deps.Resolver,
		reconciler: deps.Reconciler,
		engine:     deps.Engine,
		dispatcher: deps.Dispatcher,
		floor:      deps.Floor,
		zones:      deps.Zones,
		session:    deps.Session,
		structure:  deps.Structure,
		cfg:        deps.Cfg,
		logger:     deps.Logger,
		met:        deps.Metrics,
		Period:     period,
	}
}

// Start launches the loop goroutine. Starting a running loop is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.running = true
	l.lastBeat.Store(time.Now().UnixNano())
	go l.run(l.stop, l.done)
	l.logger.Info("monitor loop started", slog.Duration("period", l.Period))
}

// Stop signals the loop and waits up to timeout for the current cycle to
// finish. Returns false if the join timed out (cycle stuck in an external
// call).
func (l *Loop) Stop(timeout time.Duration) bool {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return true
	}
	close(l.stop)
	l.running = false
	done := l.done
	l.mu.Unlock()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		l.logger.Warn("monitor loop join timed out", slog.Duration("timeout", timeout))
		return false
	}
}

// Restart is the watchdog's recovery path: join the old goroutine (best
// effort), reset run-state, and start fresh.
func (l *Loop) Restart(joinTimeout time.Duration) {
	l.Stop(joinTimeout)
	l.idle.Store(false)
	l.Start()
}

// Alive reports whether the loop heartbeat is newer than staleAfter.
func (l *Loop) Alive(staleAfter time.Duration) bool {
	l.mu.Lock()
	running := l.running
	l.mu.Unlock()
	if !running {
		return false
	}
	last := time.Unix(0, l.lastBeat.Load())
	return time.Since(last) < staleAfter
}

func (l *Loop) run(stop, done chan struct{}) {
	defer close(done)
	for {
		start := time.Now()
		l.runCycle(context.Background())
		l.lastBeat.Store(time.Now().UnixNano())
		if l.met != nil {
			l.met.HeartbeatAge.Set(0)
		}

		wait := l.Period - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-stop:
			return
		case <-time.After(wait):
		}
	}
}

// runCycle performs one full enforcement pass.
func (l *Loop) runCycle(ctx context.Context) {
	if l.met != nil {
		l.met.CyclesTotal.Inc()
		start := time.Now()
		defer func() { l.met.CycleDur.Observe(time.Since(start).Seconds()) }()
	}

	now := l.session.Now()
	closed := l.session.MarketClosed(now)
	if l.met != nil {
		if closed {
			l.met.MarketState.Set(0)
		} else {
			l.met.MarketState.Set(1)
		}
	}

	// Closed market with nothing active: skip all store/cache work until the
	// market reopens or the idle latch is reset.
	if closed && l.idle.Load() {
		return
	}
	if !closed {
		l.idle.Store(false)
	}

	queryStart := time.Now()
	actives, err := l.store.ActivePositions(ctx)
	if err != nil {
		l.logger.Error("active position query failed", slog.Any("error", err))
		return
	}
	if l.met != nil {
		l.met.StoreQueryDur.Observe(time.Since(queryStart).Seconds())
		l.met.ActivePositions.Set(float64(len(actives)))
	}

	if closed && len(actives) == 0 {
		l.idle.Store(true)
		l.logger.Info("market closed and no active positions, monitor idling")
		return
	}

	if l.reconciler != nil {
		if _, err := l.reconciler.Sweep(ctx); err != nil {
			l.logger.Warn("reconciliation sweep failed", slog.Any("error", err))
		}
	}

	for _, p := range actives {
		if err := l.enforceOne(ctx, p, now); err != nil {
			l.logger.Error("position enforcement failed",
				slog.String("order_ref", p.OrderRef), slog.Any("error", err))
			if l.met != nil {
				l.met.PositionFaults.Inc()
			}
		}
	}
}

// enforceOne runs the full enforcement sequence for a single position. A
// panic anywhere inside is converted to an error so one bad entity cannot
// take down the batch.
func (l *Loop) enforceOne(ctx context.Context, p *model.Position, now time.Time) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic enforcing %s: %v", p.OrderRef, rec)
		}
	}()
	if l.met != nil {
		l.met.PositionsChecked.Inc()
	}
	ctx = logger.WithTraceID(ctx, logger.EnforceTraceID(p.OrderRef, now))

	snap, err := l.resolver.Resolve(ctx, p)
	if err != nil {
		return err
	}

	dirty := false
	if snap != nil {
		p.ApplyPnL(snap.PnL, snap.PnLPct)
		dirty = l.advanceTradeState(p) || dirty
	}

	// Stateful checks run before the catalog: they own per-position state
	// and their exits carry their own reasons.
	if res, armed := l.floor.Check(p, snap); res.IsExit() {
		return l.dispatcher.Dispatch(ctx, p, res.Reason, "profit_floor", res.Meta)
	} else if armed {
		dirty = true
	}

	if res, changed := l.zones.Check(p, snap); res.IsExit() {
		return l.dispatcher.Dispatch(ctx, p, res.Reason, "profit_zone", res.Meta)
	} else if changed {
		dirty = true
	}

	rc := rules.NewContext(ctx, p, snap, l.cfg, l.structure, now)
	res, winner := l.engine.Evaluate(rc)
	if res.IsExit() {
		return l.dispatcher.Dispatch(ctx, p, res.Reason, winner, res.Meta)
	}
	if res.Action == rules.ActionNoAction && res.Reason != "" {
		l.logger.Debug("position held",
			slog.String("order_ref", p.OrderRef),
			slog.String("rule", winner),
			slog.String("reason", res.Reason))
	}

	if dirty {
		if err := l.store.Update(ctx, p); err != nil {
			return fmt.Errorf("persist position state: %w", err)
		}
	}
	return nil
}

// advanceTradeState drives the R-multiple trade state as far forward as the
// fresh PnL allows (a single big move can cross both thresholds). Returns
// true when the state changed.
func (l *Loop) advanceTradeState(p *model.Position) bool {
	changed := false
	for {
		before := p.TradeState
		p.AdvanceTradeState()
		if p.TradeState == before {
			return changed
		}
		changed = true
	}
}
