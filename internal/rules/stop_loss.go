package rules

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// StopLossRule exits when PnL% breaches the configured stop percentage.
type StopLossRule struct {
	enabled bool
}

func NewStopLossRule(enabled bool) *StopLossRule { return &StopLossRule{enabled: enabled} }

func (r *StopLossRule) Name() string  { return "stop_loss" }
func (r *StopLossRule) Priority() int { return 20 }
func (r *StopLossRule) Enabled() bool { return r.enabled }

func (r *StopLossRule) Evaluate(rc *Context) Result {
	pnlPct, ok := rc.PnLPct()
	if !ok {
		return Skip()
	}
	if !rc.ConfigHas("risk.stop_loss_pct", "stop_loss_pct") {
		return Skip()
	}
	stop := rc.ConfigDecimal("risk.stop_loss_pct", "stop_loss_pct", decimal.Zero)
	if stop.Sign() <= 0 {
		return Skip()
	}
	if pnlPct.GreaterThan(stop.Neg()) {
		return Skip()
	}
	reason := fmt.Sprintf("SL hit: PnL %s%% <= -%s%%", pnlPct.StringFixed(2), stop.String())
	return Exit(reason, map[string]string{
		"pnl_pct":  pnlPct.String(),
		"stop_pct": stop.String(),
	})
}
