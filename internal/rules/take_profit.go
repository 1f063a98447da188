package rules

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TakeProfitRule exits when PnL% reaches the configured target percentage.
type TakeProfitRule struct {
	enabled bool
}

func NewTakeProfitRule(enabled bool) *TakeProfitRule { return &TakeProfitRule{enabled: enabled} }

func (r *TakeProfitRule) Name() string  { return "take_profit" }
func (r *TakeProfitRule) Priority() int { return 30 }
func (r *TakeProfitRule) Enabled() bool { return r.enabled }

func (r *TakeProfitRule) Evaluate(rc *Context) Result {
	pnlPct, ok := rc.PnLPct()
	if !ok {
		return Skip()
	}
	if !rc.ConfigHas("risk.take_profit_pct", "take_profit_pct") {
		return Skip()
	}
	target := rc.ConfigDecimal("risk.take_profit_pct", "take_profit_pct", decimal.Zero)
	if target.Sign() <= 0 {
		return Skip()
	}
	if pnlPct.LessThan(target) {
		return Skip()
	}
	reason := fmt.Sprintf("TP hit: PnL %s%% >= %s%%", pnlPct.StringFixed(2), target.String())
	return Exit(reason, map[string]string{
		"pnl_pct":    pnlPct.String(),
		"target_pct": target.String(),
	})
}
