package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"exit-systemv1/internal/model"
	"exit-systemv1/internal/pnl"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var testIST = time.FixedZone("IST", 5*3600+30*60)

func tradingMorning() time.Time {
	return time.Date(2026, 8, 28, 10, 30, 0, 0, testIST)
}

// memStore is an in-memory PositionStore.
type memStore struct {
	mu        sync.Mutex
	positions map[string]*model.Position
	queries   int
	updates   int
}

func newMemStore(ps ...*model.Position) *memStore {
	s := &memStore{positions: map[string]*model.Position{}}
	for _, p := range ps {
		s.positions[p.OrderRef] = p
	}
	return s
}

func (s *memStore) ActivePositions(_ context.Context) ([]*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	var out []*model.Position
	for _, p := range s.positions {
		if p.Status == model.StatusActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) Get(_ context.Context, ref string) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[ref], nil
}

func (s *memStore) Save(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.OrderRef] = p
	return nil
}

func (s *memStore) Update(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.OrderRef] = p
	s.updates++
	return nil
}

func (s *memStore) Close() error { return nil }

// memCache is an in-memory SnapshotCache.
type memCache struct {
	mu    sync.Mutex
	snaps map[string]*model.PnlSnapshot
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
	refs := make([]string, 0, len(c.snaps))
	for ref := range c.snaps {
		refs = append(refs, ref)
	}
	return refs, nil
}

// stubPrices serves a fixed price; panics for instruments whose security id
// is "PANIC" so fault isolation can be exercised.
type stubPrices struct {
	price decimal.Decimal
	avail bool
}

func (s *stubPrices) CurrentPrice(_ context.Context, w model.Watchable) (decimal.Decimal, error) {
	if w.SecurityID == "PANIC" {
		panic("defective price source")
	}
	if !s.avail {
		return decimal.Zero, model.ErrPriceUnavailable
	}
	return s.price, nil
}

// fakeGateway records flatten calls.
type fakeGateway struct {
	mu        sync.Mutex
	exitPrice decimal.Decimal
	err       error
	calls     int
}

func (g *fakeGateway) Flatten(_ context.Context, p *model.Position) (model.FlattenResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return model.FlattenResult{}, g.err
	}
	return model.FlattenResult{OrderRef: p.OrderRef + "-X", ExitPrice: g.exitPrice}, nil
}

// fakeNotifier counts exit notifications.
type fakeNotifier struct {
	mu    sync.Mutex
	calls int
	last  string
}

func (n *fakeNotifier) NotifyExit(_ context.Context, _ *model.Position, reason string, _, _ decimal.Decimal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	n.last = reason
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

// fakeSession is a fixed clock and market state.
type fakeSession struct {
	mu     sync.Mutex
	now    time.Time
	closed bool
}

func (s *fakeSession) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *fakeSession) MarketClosed(_ time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func activePosition(t *testing.T, ref, entry string, qty int64) *model.Position {
	t.Helper()
	p, err := model.NewPosition(ref, model.Watchable{
		Kind: model.KindOption, SecurityID: "1001", Segment: "NSE_FO",
		Symbol: "NIFTY24DEC24500CE", Underlying: "NIFTY", OptionType: "CE",
	}, model.DirectionLong, qty, dec(entry))
	require.NoError(t, err)
	require.NoError(t, p.MarkActive(dec(entry), time.Now().Add(-30*time.Minute)))
	return p
}

func snapFor(p *model.Position, price string) *model.PnlSnapshot {
	px := dec(price)
	qty := decimal.NewFromInt(p.Qty)
	pnlAmt := px.Sub(p.AvgFillOrEntry()).Mul(qty)
	pct := pnlAmt.Div(p.AvgFillOrEntry().Mul(qty)).Mul(decimal.NewFromInt(100))
	hwm := pnlAmt
	if p.HighWaterMark.GreaterThan(hwm) {
		hwm = p.HighWaterMark
	}
	return &model.PnlSnapshot{
		PnL: pnlAmt, PnLPct: pct, HighWaterMark: hwm,
		HighWaterMarkPct: pct, LastPrice: px, ObservedAt: time.Now(),
	}
}

func testResolver(cache model.SnapshotCache, prices model.PriceSource) *pnl.Resolver {
	return pnl.NewResolver(cache, prices, pnl.ResolverConfig{FreshWindow: time.Minute}, nil, nil)
}
