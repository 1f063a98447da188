package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exit-systemv1/internal/model"
	"exit-systemv1/internal/pnl"
	"exit-systemv1/internal/rules"
	"exit-systemv1/internal/strategyconf"
)

type loopFixture struct {
	loop    *Loop
	store   *memStore
	cache   *memCache
	gw      *fakeGateway
	notif   *fakeNotifier
	session *fakeSession
}

func newLoopFixture(t *testing.T, cfgMap map[string]any, positions ...*model.Position) *loopFixture {
	t.Helper()
	store := newMemStore(positions...)
	cache := newMemCache()
	gw := &fakeGateway{exitPrice: dec("100")}
	notif := &fakeNotifier{}
	session := &fakeSession{now: tradingMorning()}
	cfg := strategyconf.New(cfgMap)

	prices := &stubPrices{avail: false}
	resolver := testResolver(cache, prices)
	dispatcher := NewDispatcher(store, cache, gw, resolver, notif, nil, nil, nil)

	loop := NewLoop(LoopDeps{
		Store:      store,
		Resolver:   resolver,
		Reconciler: pnl.NewReconciler(cache, store, time.Minute, nil, nil),
		Engine:     rules.NewDefaultEngine(nil, cfg),
		Dispatcher: dispatcher,
		Floor:      NewFloorCheck(cfg),
		Zones:      NewZoneCheck(cfg),
		Session:    session,
		Cfg:        cfg,
	}, 50*time.Millisecond)
	return &loopFixture{loop: loop, store: store, cache: cache, gw: gw, notif: notif, session: session}
}

func TestLoop_CycleDispatchesStopLoss(t *testing.T) {
	t.Parallel()

	pos := activePosition(t, "ORD-C1", "100", 50)
	fx := newLoopFixture(t, map[string]any{
		"risk": map[string]any{"stop_loss_pct": 20},
	}, pos)
	fx.cache.snaps[pos.OrderRef] = snapFor(pos, "79")
	fx.gw.exitPrice = dec("79")

	fx.loop.runCycle(context.Background())

	assert.Equal(t, model.StatusExited, pos.Status)
	assert.Equal(t, 1, fx.notif.count())
	assert.Contains(t, pos.Meta[model.MetaExitReason], "SL")
	assert.NotContains(t, fx.cache.snaps, pos.OrderRef)

	// The next cycle sees no active positions and dispatches nothing more.
	fx.loop.runCycle(context.Background())
	assert.Equal(t, 1, fx.gw.calls)
	assert.Equal(t, 1, fx.notif.count())
}

func TestLoop_PerPositionFaultIsolation(t *testing.T) {
	t.Parallel()

	bad, err := model.NewPosition("ORD-BAD", model.Watchable{
		Kind: model.KindOption, SecurityID: "PANIC", Segment: "NSE_FO",
		Symbol: "BADCE", Underlying: "NIFTY", OptionType: "CE",
	}, model.DirectionLong, 50, dec("100"))
	require.NoError(t, err)
	require.NoError(t, bad.MarkActive(dec("100"), time.Now().Add(-time.Hour)))

	good := activePosition(t, "ORD-GOOD", "100", 50)
	fx := newLoopFixture(t, map[string]any{
		"risk": map[string]any{"stop_loss_pct": 20},
	}, bad, good)
	fx.cache.snaps[good.OrderRef] = snapFor(good, "79")
	fx.gw.exitPrice = dec("79")

	// The bad position's price source panics; the good one must still be
	// enforced within the same cycle.
	fx.loop.runCycle(context.Background())

	assert.Equal(t, model.StatusActive, bad.Status)
	assert.Equal(t, model.StatusExited, good.Status)
}

func TestLoop_ClosedMarketShortCircuit(t *testing.T) {
	t.Parallel()

	fx := newLoopFixture(t, nil)
	fx.session.closed = true

	// First closed cycle discovers the empty active set and latches idle.
	fx.loop.runCycle(context.Background())
	assert.Equal(t, 1, fx.store.queries)

	// Subsequent closed cycles skip all store work.
	fx.loop.runCycle(context.Background())
	fx.loop.runCycle(context.Background())
	assert.Equal(t, 1, fx.store.queries)

	// Market reopens: full checks re-arm.
	fx.session.mu.Lock()
	fx.session.closed = false
	fx.session.mu.Unlock()
	fx.loop.runCycle(context.Background())
	assert.Equal(t, 2, fx.store.queries)
}

func TestLoop_ClosedMarketWithActivePositionStillEnforces(t *testing.T) {
	t.Parallel()

	pos := activePosition(t, "ORD-C2", "100", 50)
	fx := newLoopFixture(t, nil, pos)
	fx.session.closed = true
	fx.cache.snaps[pos.OrderRef] = snapFor(pos, "100")

	// An open position keeps the loop working even after hours.
	fx.loop.runCycle(context.Background())
	fx.loop.runCycle(context.Background())
	assert.Equal(t, 2, fx.store.queries, "idle latch must not engage while positions are active")
}

func TestLoop_PersistsArmedFloor(t *testing.T) {
	t.Parallel()

	pos := activePosition(t, "ORD-C3", "100", 50)
	fx := newLoopFixture(t, map[string]any{
		"floor": map[string]any{"lock_rupees": 1000},
	}, pos)
	fx.cache.snaps[pos.OrderRef] = snapFor(pos, "124") // pnl 1200

	fx.loop.runCycle(context.Background())

	assert.Equal(t, model.StatusActive, pos.Status)
	assert.Equal(t, "1000", pos.Meta[model.MetaProfitFloor])
	assert.GreaterOrEqual(t, fx.store.updates, 1, "armed floor must be persisted")
}

func TestLoop_StartStopAlive(t *testing.T) {
	t.Parallel()

	fx := newLoopFixture(t, nil)
	fx.loop.Start()
	fx.loop.Start() // second start is a no-op

	time.Sleep(120 * time.Millisecond)
	assert.True(t, fx.loop.Alive(time.Second))

	require.True(t, fx.loop.Stop(time.Second))
	assert.False(t, fx.loop.Alive(time.Second))
}

func TestWatchdog_RestartsDeadLoop(t *testing.T) {
	t.Parallel()

	fx := newLoopFixture(t, nil)
	wd := NewWatchdog(fx.loop, 10*time.Millisecond, 50*time.Millisecond, nil, nil)

	// Loop never started: judged dead, watchdog brings it up.
	require.False(t, fx.loop.Alive(wd.StaleAfter))
	wd.check()
	assert.True(t, fx.loop.Alive(wd.StaleAfter))

	require.True(t, fx.loop.Stop(time.Second))
}
