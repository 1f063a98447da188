package model

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ── Collaborator Port Interfaces ──
// These interfaces decouple the exit core from its concrete collaborators
// (Redis, SQLite, the broker gateway, the indicator engine). Each
// implementation satisfies one or more of these.

// ErrPriceUnavailable is returned when no current price exists for an
// instrument. Rules treat it as missing input, never as a failure.
var ErrPriceUnavailable = errors.New("price unavailable")

// PriceSource supplies the latest traded price for an instrument.
type PriceSource interface {
	// CurrentPrice returns the latest price in rupees, or ErrPriceUnavailable.
	CurrentPrice(ctx context.Context, w Watchable) (decimal.Decimal, error)
}

// SnapshotCache is the fast, short-lived PnL cache keyed by order reference.
type SnapshotCache interface {
	// Get returns the cached snapshot, or nil, nil when absent.
	Get(ctx context.Context, orderRef string) (*PnlSnapshot, error)

	// Put stores a snapshot under the cache's freshness TTL.
	Put(ctx context.Context, orderRef string, snap *PnlSnapshot) error

	// Delete purges a cache entry. Deleting an absent entry is not an error.
	Delete(ctx context.Context, orderRef string) error

	// Refs lists all order references currently cached, for orphan cleanup.
	Refs(ctx context.Context) ([]string, error)
}

// PositionStore is the durable position record store.
type PositionStore interface {
	// ActivePositions returns all positions with status ACTIVE.
	ActivePositions(ctx context.Context) ([]*Position, error)

	// Get returns a position by order reference, or nil, nil when absent.
	Get(ctx context.Context, orderRef string) (*Position, error)

	// Save inserts or replaces a position record.
	Save(ctx context.Context, p *Position) error

	// Update persists the current state of a single position row.
	Update(ctx context.Context, p *Position) error

	// Close releases underlying resources.
	Close() error
}

// FlattenResult is the broker's answer to a flatten request.
type FlattenResult struct {
	OrderRef  string          // broker reference of the closing order
	ExitPrice decimal.Decimal // realized exit price in rupees
}

// OrderGateway places the closing order for a live position.
type OrderGateway interface {
	// Flatten market-closes the position and returns the realized exit price.
	Flatten(ctx context.Context, p *Position) (FlattenResult, error)
}

// CoCDirection is the direction of a change-of-character event.
type CoCDirection string

const (
	CoCNone CoCDirection = ""
	CoCUp   CoCDirection = "UP"
	CoCDown CoCDirection = "DOWN"
)

// ATRState describes volatility regime from the structure source.
type ATRState string

const (
	ATRExpanding   ATRState = "EXPANDING"
	ATRContracting ATRState = "CONTRACTING"
	ATRFlat        ATRState = "FLAT"
)

// StructureSource exposes per-instrument, per-timeframe structural and
// indicator state computed by the (external) indicator engine. Timeframes are
// in seconds: 60 for 1-minute, 300 for 5-minute.
type StructureSource interface {
	// RecentHigh returns the highest close over the last n candles.
	RecentHigh(ctx context.Context, w Watchable, tf, n int) (decimal.Decimal, error)

	// RecentLow returns the lowest close over the last n candles.
	RecentLow(ctx context.Context, w Watchable, tf, n int) (decimal.Decimal, error)

	// ChangeOfCharacter reports a structural reversal within the lookback,
	// or CoCNone.
	ChangeOfCharacter(ctx context.Context, w Watchable, tf, lookback int) (CoCDirection, error)

	// TrendScore returns the structural/ADX trend score (0-100).
	TrendScore(ctx context.Context, w Watchable, tf int) (decimal.Decimal, error)

	// ATRTrend reports the volatility regime.
	ATRTrend(ctx context.Context, w Watchable, tf int) (ATRState, error)
}

// ExitNotifier delivers exit events. Fire-and-forget: failures are logged by
// callers, never raised.
type ExitNotifier interface {
	NotifyExit(ctx context.Context, p *Position, reason string, exitPrice, pnl decimal.Decimal) error
}

// SessionOracle is the clock and market-session authority.
type SessionOracle interface {
	Now() time.Time
	MarketClosed(at time.Time) bool
}
