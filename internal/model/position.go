// Package model defines the position entity, its lifecycle state machines,
// the ephemeral PnL snapshot, and the port interfaces that decouple the exit
// core from its collaborators (price feed, broker, structure source, stores).
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the order/position lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusExited    Status = "EXITED"
	StatusCancelled Status = "CANCELLED"
)

// TradeState tracks unrealized-risk-multiple progress, independent of Status.
// It only ever advances forward: INIT -> VALIDATED (>=1R) -> EXPANSION (>=2R).
type TradeState string

const (
	TradeStateInit      TradeState = "INIT"
	TradeStateValidated TradeState = "VALIDATED"
	TradeStateExpansion TradeState = "EXPANSION"
)

// Direction is the directional exposure of the position. For a bought option
// both legs are long premium; direction says which way the underlying must
// move (LONG = call-equivalent, SHORT = put-equivalent).
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Metadata keys written by the enforcement path.
const (
	MetaExitReason    = "exit_reason"
	MetaExitPath      = "exit_path"
	MetaProfitFloor   = "profit_floor_armed"
	MetaProfitFloorAt = "profit_floor_armed_at"
	MetaProfitZone    = "profit_zone"
	MetaGreenStop     = "green_stop_rupees"
	MetaTradeType     = "trade_type" // SCALP, TREND
	MetaMomentumTF    = "momentum_tf"
	MetaBracketSLHit  = "bracket_sl_hit"
	MetaBracketTPHit  = "bracket_tp_hit"
	MetaSimulated     = "simulated"
)

// Position is the unit under management. Money fields are rupee amounts held
// as exact decimals; Qty is contracts (lots * lot size), always > 0 while
// active.
type Position struct {
	OrderRef   string    `json:"order_ref"` // globally unique broker order reference
	Instrument Watchable `json:"instrument"`
	Direction  Direction `json:"direction"`
	Qty        int64     `json:"qty"`

	EntryPrice   decimal.Decimal `json:"entry_price"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	ExitPrice    decimal.Decimal `json:"exit_price"`

	// Last known PnL; frozen to final values once exited.
	PnL           decimal.Decimal `json:"pnl"`
	PnLPct        decimal.Decimal `json:"pnl_pct"`
	HighWaterMark decimal.Decimal `json:"high_water_mark"`

	// Initially defined risk in rupees (loss at the entry stop). Denominator
	// for R-multiple trade-state advancement; zero disables it.
	InitialRisk decimal.Decimal `json:"initial_risk"`

	Status     Status     `json:"status"`
	TradeState TradeState `json:"trade_state"`

	Meta map[string]string `json:"meta,omitempty"`

	EnteredAt time.Time `json:"entered_at"`
	ExitedAt  time.Time `json:"exited_at,omitempty"`
}

// NewPosition creates a pending position for a submitted entry order.
func NewPosition(orderRef string, inst Watchable, dir Direction, qty int64, entryPrice decimal.Decimal) (*Position, error) {
	if orderRef == "" {
		return nil, fmt.Errorf("position: empty order ref")
	}
	if qty <= 0 {
		return nil, fmt.Errorf("position %s: qty must be > 0, got %d", orderRef, qty)
	}
	if entryPrice.Sign() <= 0 {
		return nil, fmt.Errorf("position %s: entry price must be > 0, got %s", orderRef, entryPrice)
	}
	return &Position{
		OrderRef:   orderRef,
		Instrument: inst,
		Direction:  dir,
		Qty:        qty,
		EntryPrice: entryPrice,
		Status:     StatusPending,
		TradeState: TradeStateInit,
		Meta:       make(map[string]string),
	}, nil
}

// Active reports whether the position is live and under management.
func (p *Position) Active() bool { return p.Status == StatusActive }

// Terminal reports whether the position reached a final state.
func (p *Position) Terminal() bool {
	return p.Status == StatusExited || p.Status == StatusCancelled
}

// Simulated reports whether the position is paper-traded (no broker leg).
func (p *Position) Simulated() bool { return p.Meta[MetaSimulated] == "true" }

// MarkActive transitions PENDING -> ACTIVE on fill confirmation, capturing the
// average fill price.
func (p *Position) MarkActive(fillPrice decimal.Decimal, at time.Time) error {
	if p.Status != StatusPending {
		return fmt.Errorf("position %s: cannot activate from %s", p.OrderRef, p.Status)
	}
	if fillPrice.Sign() > 0 {
		p.AvgFillPrice = fillPrice
	} else {
		p.AvgFillPrice = p.EntryPrice
	}
	p.Status = StatusActive
	p.EnteredAt = at
	return nil
}

// MarkCancelled transitions PENDING -> CANCELLED when the entry never fills.
func (p *Position) MarkCancelled() error {
	if p.Status != StatusPending {
		return fmt.Errorf("position %s: cannot cancel from %s", p.OrderRef, p.Status)
	}
	p.Status = StatusCancelled
	return nil
}

// MarkExited transitions ACTIVE -> EXITED, freezing the final exit price and
// PnL. After this the live monitoring path must not mutate PnL fields again.
func (p *Position) MarkExited(exitPrice, finalPnL, finalPnLPct decimal.Decimal, at time.Time) error {
	if p.Status != StatusActive {
		return fmt.Errorf("position %s: cannot exit from %s", p.OrderRef, p.Status)
	}
	p.Status = StatusExited
	p.ExitPrice = exitPrice
	p.PnL = finalPnL
	p.PnLPct = finalPnLPct
	if finalPnL.GreaterThan(p.HighWaterMark) {
		p.HighWaterMark = finalPnL
	}
	p.ExitedAt = at
	return nil
}

// ApplyPnL records a fresh PnL observation. The high-water mark only ever
// ratchets up. Silently ignored once the position is no longer active, so the
// monitoring path cannot disturb frozen final values.
func (p *Position) ApplyPnL(pnl, pnlPct decimal.Decimal) {
	if p.Status != StatusActive {
		return
	}
	p.PnL = pnl
	p.PnLPct = pnlPct
	if pnl.GreaterThan(p.HighWaterMark) {
		p.HighWaterMark = pnl
	}
}

// RMultiple returns unrealized PnL as a multiple of the initially defined
// risk. Zero when no risk was defined.
func (p *Position) RMultiple() decimal.Decimal {
	if p.InitialRisk.Sign() <= 0 {
		return decimal.Zero
	}
	return p.PnL.Div(p.InitialRisk)
}

// AdvanceTradeState moves the trade-state machine forward based on the
// current R-multiple. Transitions are monotonic: the state never regresses
// even if PnL falls back. No-op unless active.
func (p *Position) AdvanceTradeState() {
	if p.Status != StatusActive {
		return
	}
	r := p.RMultiple()
	switch p.TradeState {
	case TradeStateInit:
		if r.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			p.TradeState = TradeStateValidated
		}
	case TradeStateValidated:
		if r.GreaterThanOrEqual(decimal.NewFromInt(2)) {
			p.TradeState = TradeStateExpansion
		}
	}
}

// SetMetaOnce writes a metadata value only if the key is not already set.
// Returns true if the write happened. This is the at-most-once guard used for
// arming floors and flipping zone state without a lock.
func (p *Position) SetMetaOnce(key, value string) bool {
	if p.Meta == nil {
		p.Meta = make(map[string]string)
	}
	if _, ok := p.Meta[key]; ok {
		return false
	}
	p.Meta[key] = value
	return true
}

// SetMeta unconditionally writes a metadata value.
func (p *Position) SetMeta(key, value string) {
	if p.Meta == nil {
		p.Meta = make(map[string]string)
	}
	p.Meta[key] = value
}

// MetaValue reads a metadata value; ok is false when absent.
func (p *Position) MetaValue(key string) (string, bool) {
	v, ok := p.Meta[key]
	return v, ok
}

// MetaDecimal reads a metadata value as a decimal. Returns zero, false when
// absent or malformed.
func (p *Position) MetaDecimal(key string) (decimal.Decimal, bool) {
	v, ok := p.Meta[key]
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Cost returns the position cost basis in rupees (entry price * qty).
func (p *Position) Cost() decimal.Decimal {
	return p.AvgFillOrEntry().Mul(decimal.NewFromInt(p.Qty))
}

// AvgFillOrEntry returns the average fill price, falling back to the
// submitted entry price before fill confirmation.
func (p *Position) AvgFillOrEntry() decimal.Decimal {
	if p.AvgFillPrice.Sign() > 0 {
		return p.AvgFillPrice
	}
	return p.EntryPrice
}
