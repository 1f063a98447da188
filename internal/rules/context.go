package rules

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"exit-systemv1/internal/model"
	"exit-systemv1/internal/strategyconf"
)

// Context is the read-only adapter exposing normalized decision inputs for
// one position at one evaluation instant. Constructed fresh per
// (position, cycle) pair; never persisted.
type Context struct {
	Pos       *model.Position
	Snap      *model.PnlSnapshot // nil when no snapshot could be resolved
	Cfg       *strategyconf.Document
	Structure model.StructureSource // nil when the indicator engine is absent
	Now       time.Time

	ctx context.Context

	// Derived once at construction.
	trailingActivated bool
}

// NewContext builds the evaluation context. trailingActivated is computed
// once here so every trailing/peak-drawdown-style rule shares the same gate.
func NewContext(ctx context.Context, pos *model.Position, snap *model.PnlSnapshot,
	cfg *strategyconf.Document, structure model.StructureSource, now time.Time) *Context {

	rc := &Context{
		Pos:       pos,
		Snap:      snap,
		Cfg:       cfg,
		Structure: structure,
		Now:       now,
		ctx:       ctx,
	}
	if snap != nil {
		threshold := rc.ConfigDecimal("trailing.activation_pct", "trailing_activation_pct",
			decimal.NewFromInt(10))
		rc.trailingActivated = snap.PnLPct.GreaterThanOrEqual(threshold)
	}
	return rc
}

// Ctx returns the cancellation context for collaborator lookups during
// evaluation.
func (rc *Context) Ctx() context.Context { return rc.ctx }

// Active reports whether the position is active and a snapshot exists.
func (rc *Context) Active() bool {
	return rc.Pos != nil && rc.Pos.Active() && rc.Snap != nil
}

// PnLPct returns current PnL as a percentage of position cost; ok is false
// when no snapshot exists.
func (rc *Context) PnLPct() (decimal.Decimal, bool) {
	if rc.Snap == nil {
		return decimal.Zero, false
	}
	return rc.Snap.PnLPct, true
}

// PnLRupees returns current PnL in rupees; ok is false without a snapshot.
func (rc *Context) PnLRupees() (decimal.Decimal, bool) {
	if rc.Snap == nil {
		return decimal.Zero, false
	}
	return rc.Snap.PnL, true
}

// HighWaterMark returns the peak PnL amount observed since entry.
func (rc *Context) HighWaterMark() decimal.Decimal {
	if rc.Snap == nil {
		return decimal.Zero
	}
	return rc.Snap.HighWaterMark
}

// PeakProfitPct returns the peak PnL percentage observed since entry.
func (rc *Context) PeakProfitPct() decimal.Decimal {
	if rc.Snap == nil {
		return decimal.Zero
	}
	return rc.Snap.HighWaterMarkPct
}

// CurrentPrice returns the last observed premium price; ok is false without a
// snapshot.
func (rc *Context) CurrentPrice() (decimal.Decimal, bool) {
	if rc.Snap == nil {
		return decimal.Zero, false
	}
	return rc.Snap.LastPrice, true
}

// EntryPrice returns the position's fill price.
func (rc *Context) EntryPrice() decimal.Decimal { return rc.Pos.AvgFillOrEntry() }

// Qty returns the position quantity.
func (rc *Context) Qty() int64 { return rc.Pos.Qty }

// HeldFor returns how long the position has been active.
func (rc *Context) HeldFor() time.Duration {
	if rc.Pos.EnteredAt.IsZero() {
		return 0
	}
	return rc.Now.Sub(rc.Pos.EnteredAt)
}

// TrailingActivated reports whether current PnL% has reached the configured
// activation threshold (nested "trailing.activation_pct" takes precedence
// over the flat legacy key). None of the trailing/peak-drawdown rules fire
// before this minimum profit cushion exists.
func (rc *Context) TrailingActivated() bool { return rc.trailingActivated }

// ConfigHas reports whether either the nested or the flat key is configured.
func (rc *Context) ConfigHas(nested, flat string) bool {
	return rc.Cfg.Has(nested) || rc.Cfg.Has(flat)
}

// ConfigString resolves a string threshold: nested path, then legacy flat
// key, then default.
func (rc *Context) ConfigString(nested, flat, def string) string {
	if rc.Cfg.Has(nested) {
		return rc.Cfg.String(nested, def)
	}
	return rc.Cfg.String(flat, def)
}

// ConfigDecimal resolves a decimal threshold with the same layering.
func (rc *Context) ConfigDecimal(nested, flat string, def decimal.Decimal) decimal.Decimal {
	if rc.Cfg.Has(nested) {
		return rc.Cfg.Decimal(nested, def)
	}
	return rc.Cfg.Decimal(flat, def)
}

// ConfigInt resolves an integer threshold with the same layering.
func (rc *Context) ConfigInt(nested, flat string, def int) int {
	if rc.Cfg.Has(nested) {
		return rc.Cfg.Int(nested, def)
	}
	return rc.Cfg.Int(flat, def)
}

// ConfigBool resolves a feature flag with the same layering.
func (rc *Context) ConfigBool(nested, flat string, def bool) bool {
	if rc.Cfg.Has(nested) {
		return rc.Cfg.Bool(nested, def)
	}
	return rc.Cfg.Bool(flat, def)
}

// ConfigTimeOfDay resolves an "HH:MM" threshold with the same layering.
func (rc *Context) ConfigTimeOfDay(nested, flat string, def strategyconf.TimeOfDay) strategyconf.TimeOfDay {
	if rc.Cfg.Has(nested) {
		return rc.Cfg.TimeOfDay(nested, def)
	}
	return rc.Cfg.TimeOfDay(flat, def)
}

// IndexInt resolves a per-index integer ceiling: "prefix.<INDEX>.key" wins
// over "prefix.key".
func (rc *Context) IndexInt(prefix, key string, def int) int {
	idx := rc.Pos.Instrument.IndexKey()
	perIndex := prefix + "." + idx + "." + key
	if rc.Cfg.Has(perIndex) {
		return rc.Cfg.Int(perIndex, def)
	}
	return rc.Cfg.Int(prefix+"."+key, def)
}

// IndexDecimal resolves a per-index decimal threshold the same way.
func (rc *Context) IndexDecimal(prefix, key string, def decimal.Decimal) decimal.Decimal {
	idx := rc.Pos.Instrument.IndexKey()
	perIndex := prefix + "." + idx + "." + key
	if rc.Cfg.Has(perIndex) {
		return rc.Cfg.Decimal(perIndex, def)
	}
	return rc.Cfg.Decimal(prefix+"."+key, def)
}
