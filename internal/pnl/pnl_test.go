package pnl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exit-systemv1/internal/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// memCache is an in-memory SnapshotCache.
type memCache struct {
	mu    sync.Mutex
	snaps map[string]*model.PnlSnapshot
	puts  int
	refsN int
}

func newMemCache() *memCache { return &memCache{snaps: map[string]*model.PnlSnapshot{}} }

func (c *memCache) Get(_ context.Context, ref string) (*model.PnlSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snaps[ref], nil
}

func (c *memCache) Put(_ context.Context, ref string, s *model.PnlSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[ref] = s
	c.puts++
	return nil
}

func (c *memCache) Delete(_ context.Context, ref string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, ref)
	return nil
}

func (c *memCache) Refs(_ context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refsN++
	refs := make([]string, 0, len(c.snaps))
	for ref := range c.snaps {
		refs = append(refs, ref)
	}
	return refs, nil
}

// stubPrices serves one fixed price, or ErrPriceUnavailable.
type stubPrices struct {
	price decimal.Decimal
	avail bool
}

func (s *stubPrices) CurrentPrice(_ context.Context, _ model.Watchable) (decimal.Decimal, error) {
	if !s.avail {
		return decimal.Zero, model.ErrPriceUnavailable
	}
	return s.price, nil
}

// memStore implements the slice of PositionStore the reconciler touches.
type memStore struct {
	actives []*model.Position
	queries int
}

func (s *memStore) ActivePositions(_ context.Context) ([]*model.Position, error) {
	s.queries++
	return s.actives, nil
}

func (s *memStore) Get(_ context.Context, ref string) (*model.Position, error) {
	for _, p := range s.actives {
		if p.OrderRef == ref {
			return p, nil
		}
	}
	return nil, nil
}

func (s *memStore) Save(_ context.Context, _ *model.Position) error   { return nil }
func (s *memStore) Update(_ context.Context, _ *model.Position) error { return nil }
func (s *memStore) Close() error                                      { return nil }

func activePosition(t *testing.T, ref, entry string, qty int64) *model.Position {
	t.Helper()
	p, err := model.NewPosition(ref, model.Watchable{
		Kind: model.KindOption, SecurityID: "1001", Segment: "NSE_FO",
		Symbol: "NIFTY24DEC24500CE", Underlying: "NIFTY", OptionType: "CE",
	}, model.DirectionLong, qty, dec(entry))
	require.NoError(t, err)
	require.NoError(t, p.MarkActive(dec(entry), time.Now().Add(-15*time.Minute)))
	return p
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC)
}

func newTestResolver(cache model.SnapshotCache, prices model.PriceSource, execCost string) *Resolver {
	r := NewResolver(cache, prices, ResolverConfig{
		FreshWindow: 5 * time.Second,
		ExecCost:    dec(execCost),
	}, nil, nil)
	r.now = fixedNow
	return r
}

func TestResolve_FreshCacheWins(t *testing.T) {
	t.Parallel()

	pos := activePosition(t, "ORD-1", "100", 50)
	cache := newMemCache()
	cached := &model.PnlSnapshot{
		PnL: dec("500"), PnLPct: dec("10"), HighWaterMark: dec("600"),
		LastPrice: dec("110"), ObservedAt: fixedNow().Add(-2 * time.Second),
	}
	cache.snaps[pos.OrderRef] = cached

	// A recompute would give a very different number; the fresh cache entry
	// must win regardless.
	r := newTestResolver(cache, &stubPrices{price: dec("150"), avail: true}, "0")
	snap, err := r.Resolve(context.Background(), pos)

	require.NoError(t, err)
	assert.Equal(t, cached, snap)
	assert.Zero(t, cache.puts, "no write-back on a cache hit")
}

func TestResolve_StaleCacheRecomputesAndWritesBack(t *testing.T) {
	t.Parallel()

	pos := activePosition(t, "ORD-2", "100", 50)
	cache := newMemCache()
	cache.snaps[pos.OrderRef] = &model.PnlSnapshot{
		PnL: dec("900"), PnLPct: dec("18"), HighWaterMark: dec("1100"),
		HighWaterMarkPct: dec("22"),
		LastPrice:        dec("118"), ObservedAt: fixedNow().Add(-time.Minute),
	}

	r := newTestResolver(cache, &stubPrices{price: dec("110"), avail: true}, "0")
	snap, err := r.Resolve(context.Background(), pos)

	require.NoError(t, err)
	assert.Equal(t, "500", snap.PnL.String())
	assert.Equal(t, "10", snap.PnLPct.String())
	// HWM is carried forward from the stale snapshot, never reset.
	assert.Equal(t, "1100", snap.HighWaterMark.String())
	assert.Equal(t, "22", snap.HighWaterMarkPct.String())
	assert.Equal(t, 1, cache.puts, "recomputed snapshot written back")
	assert.Equal(t, snap, cache.snaps[pos.OrderRef])
}

func TestResolve_ExecutionCostDeducted(t *testing.T) {
	t.Parallel()

	pos := activePosition(t, "ORD-3", "100", 50)
	r := newTestResolver(newMemCache(), &stubPrices{price: dec("102"), avail: true}, "40")
	snap, err := r.Resolve(context.Background(), pos)

	require.NoError(t, err)
	// Gross (102-100)*50 = 100, minus 40 execution cost.
	assert.Equal(t, "60", snap.PnL.String())
	assert.Equal(t, "1.2", snap.PnLPct.String())
}

func TestResolve_ExitedServedFromDurableOnly(t *testing.T) {
	t.Parallel()

	pos := activePosition(t, "ORD-4", "100", 50)
	require.NoError(t, pos.MarkExited(dec("120"), dec("1000"), dec("20"), fixedNow()))

	// A stale cache entry with a contradictory value must be ignored.
	cache := newMemCache()
	cache.snaps[pos.OrderRef] = &model.PnlSnapshot{
		PnL: dec("9999"), ObservedAt: fixedNow(),
	}

	r := newTestResolver(cache, &stubPrices{price: dec("150"), avail: true}, "0")
	snap, err := r.Resolve(context.Background(), pos)

	require.NoError(t, err)
	assert.Equal(t, "1000", snap.PnL.String())
	assert.Equal(t, "20", snap.PnLPct.String())
	assert.Equal(t, "120", snap.LastPrice.String())
}

func TestResolve_PriceUnavailable(t *testing.T) {
	t.Parallel()

	pos := activePosition(t, "ORD-5", "100", 50)

	// Stale snapshot still beats nothing.
	cache := newMemCache()
	stale := &model.PnlSnapshot{PnL: dec("250"), ObservedAt: fixedNow().Add(-time.Minute)}
	cache.snaps[pos.OrderRef] = stale

	r := newTestResolver(cache, &stubPrices{avail: false}, "0")
	snap, err := r.Resolve(context.Background(), pos)
	require.NoError(t, err)
	assert.Equal(t, stale, snap)

	// No cache at all: unresolvable, not an error.
	r2 := newTestResolver(newMemCache(), &stubPrices{avail: false}, "0")
	snap, err = r2.Resolve(context.Background(), pos)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestResolve_PendingPositionUnresolvable(t *testing.T) {
	t.Parallel()

	pending, err := model.NewPosition("ORD-6", model.Watchable{}, model.DirectionLong, 10, dec("100"))
	require.NoError(t, err)

	r := newTestResolver(newMemCache(), &stubPrices{price: dec("110"), avail: true}, "0")
	snap, err := r.Resolve(context.Background(), pending)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestCompute_ShortDirection(t *testing.T) {
	t.Parallel()

	p, err := model.NewPosition("ORD-7", model.Watchable{}, model.DirectionShort, 50, dec("100"))
	require.NoError(t, err)
	require.NoError(t, p.MarkActive(dec("100"), fixedNow().Add(-10*time.Minute)))

	r := newTestResolver(newMemCache(), &stubPrices{}, "0")
	snap := r.Compute(p, dec("90"), nil, fixedNow())

	assert.Equal(t, "500", snap.PnL.String())
	assert.Equal(t, "10", snap.PnLPct.String())
}

func TestSweep_RemovesOrphansKeepsActive(t *testing.T) {
	t.Parallel()

	alive := activePosition(t, "ORD-A", "100", 50)
	cache := newMemCache()
	cache.snaps["ORD-A"] = &model.PnlSnapshot{PnL: dec("10")}
	cache.snaps["ORD-GONE"] = &model.PnlSnapshot{PnL: dec("20")}
	cache.snaps["ORD-STALE"] = &model.PnlSnapshot{PnL: dec("30")}

	store := &memStore{actives: []*model.Position{alive}}
	rc := NewReconciler(cache, store, time.Minute, nil, nil)

	removed, err := rc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Contains(t, cache.snaps, "ORD-A")
	assert.NotContains(t, cache.snaps, "ORD-GONE")
	assert.NotContains(t, cache.snaps, "ORD-STALE")
}

func TestSweep_RateLimited(t *testing.T) {
	t.Parallel()

	cache := newMemCache()
	cache.snaps["ORD-GONE"] = &model.PnlSnapshot{PnL: dec("20")}
	store := &memStore{}
	rc := NewReconciler(cache, store, time.Minute, nil, nil)

	base := fixedNow()
	now := base
	rc.now = func() time.Time { return now }

	removed, err := rc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.queries)

	// Within the interval: no store load at all.
	cache.snaps["ORD-GONE-2"] = &model.PnlSnapshot{PnL: dec("20")}
	now = base.Add(30 * time.Second)
	removed, err = rc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, 1, store.queries, "sweep inside the interval must not hit the store")

	// Past the interval it runs again.
	now = base.Add(2 * time.Minute)
	removed, err = rc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, store.queries)
}
