package rules

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TrailingStopRule is the legacy trailing form: once trailing is activated,
// exit when PnL has fallen from the high-water mark by more than a configured
// fraction of that mark.
type TrailingStopRule struct {
	enabled bool
}

func NewTrailingStopRule(enabled bool) *TrailingStopRule { return &TrailingStopRule{enabled: enabled} }

func (r *TrailingStopRule) Name() string  { return "trailing_stop" }
func (r *TrailingStopRule) Priority() int { return 50 }
func (r *TrailingStopRule) Enabled() bool { return r.enabled }

func (r *TrailingStopRule) Evaluate(rc *Context) Result {
	if !rc.TrailingActivated() {
		return Skip()
	}
	hwm := rc.HighWaterMark()
	if hwm.Sign() <= 0 {
		return Skip()
	}
	pnl, ok := rc.PnLRupees()
	if !ok {
		return Skip()
	}
	frac := rc.ConfigDecimal("trailing.pullback_fraction", "trailing_pullback_fraction",
		decimal.RequireFromString("0.5"))
	giveBack := hwm.Sub(pnl)
	if giveBack.LessThanOrEqual(hwm.Mul(frac)) {
		return Skip()
	}
	reason := fmt.Sprintf("TRAIL stop: PnL %s fell more than %s of HWM %s", pnl, frac, hwm)
	return Exit(reason, map[string]string{
		"hwm":      hwm.String(),
		"pnl":      pnl.String(),
		"fraction": frac.String(),
	})
}
