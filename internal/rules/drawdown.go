package rules

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PeakDrawdownRule exits when current profit has fallen from its peak by more
// than a tiered threshold that widens with the size of the peak: a small peak
// is protected tightly, a large runner is given more room to breathe.
type PeakDrawdownRule struct {
	enabled bool
}

func NewPeakDrawdownRule(enabled bool) *PeakDrawdownRule { return &PeakDrawdownRule{enabled: enabled} }

func (r *PeakDrawdownRule) Name() string  { return "peak_drawdown" }
func (r *PeakDrawdownRule) Priority() int { return 45 }
func (r *PeakDrawdownRule) Enabled() bool { return r.enabled }

func (r *PeakDrawdownRule) Evaluate(rc *Context) Result {
	if !rc.TrailingActivated() {
		return Skip()
	}
	peak := rc.PeakProfitPct()
	if peak.Sign() <= 0 {
		return Skip()
	}
	pnlPct, ok := rc.PnLPct()
	if !ok {
		return Skip()
	}

	allowedPct := r.allowedGiveBack(rc, peak)
	drawdown := peak.Sub(pnlPct)
	allowed := peak.Mul(allowedPct).Div(decimal.NewFromInt(100))
	if drawdown.LessThanOrEqual(allowed) {
		return Skip()
	}
	reason := fmt.Sprintf("PEAK DRAWDOWN: gave back %s%% of peak %s%% (allowed %s%%)",
		drawdown.StringFixed(2), peak.StringFixed(2), allowed.StringFixed(2))
	return Exit(reason, map[string]string{
		"peak_pct":     peak.String(),
		"drawdown_pct": drawdown.String(),
		"allowed_pct":  allowed.String(),
	})
}

// allowedGiveBack returns the tier fraction (percent of peak) the position
// may retrace before the rule fires.
func (r *PeakDrawdownRule) allowedGiveBack(rc *Context, peak decimal.Decimal) decimal.Decimal {
	midAbove := rc.ConfigDecimal("drawdown.mid_peak_above", "drawdown_mid_peak_above", decimal.NewFromInt(10))
	largeAbove := rc.ConfigDecimal("drawdown.large_peak_above", "drawdown_large_peak_above", decimal.NewFromInt(20))

	switch {
	case peak.GreaterThanOrEqual(largeAbove):
		return rc.ConfigDecimal("drawdown.large_peak_pct", "drawdown_large_peak_pct", decimal.NewFromInt(55))
	case peak.GreaterThanOrEqual(midAbove):
		return rc.ConfigDecimal("drawdown.mid_peak_pct", "drawdown_mid_peak_pct", decimal.NewFromInt(45))
	default:
		return rc.ConfigDecimal("drawdown.small_peak_pct", "drawdown_small_peak_pct", decimal.NewFromInt(35))
	}
}
