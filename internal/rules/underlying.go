package rules

import (
	"fmt"

	"github.com/shopspring/decimal"

	"exit-systemv1/internal/model"
)

// UnderlyingExitRule watches the underlying index rather than the option
// premium: exit when the underlying's trend, structure, or volatility state
// turns unfavorable for the position direction. Feature-flagged.
type UnderlyingExitRule struct {
	enabled bool
}

func NewUnderlyingExitRule(enabled bool) *UnderlyingExitRule {
	return &UnderlyingExitRule{enabled: enabled}
}

func (r *UnderlyingExitRule) Name() string  { return "underlying_exit" }
func (r *UnderlyingExitRule) Priority() int { return 60 }
func (r *UnderlyingExitRule) Enabled() bool { return r.enabled }

func (r *UnderlyingExitRule) Evaluate(rc *Context) Result {
	if !rc.ConfigBool("underlying_exit.enabled", "underlying_exit_enabled", false) {
		return Skip()
	}
	if rc.Structure == nil {
		return Skip()
	}
	u := rc.Pos.Instrument.UnderlyingWatchable()
	tf := rc.ConfigInt("underlying_exit.tf", "underlying_exit_tf", 300)

	score, err := rc.Structure.TrendScore(rc.Ctx(), u, tf)
	if err == nil {
		floor := rc.ConfigDecimal("underlying_exit.trend_score_floor", "underlying_trend_score_floor",
			decimal.NewFromInt(20))
		if score.LessThan(floor) {
			return Exit(
				fmt.Sprintf("UNDERLYING exit: trend score %s below floor %s", score, floor),
				map[string]string{"trend_score": score.String()})
		}
	}

	coc, err := rc.Structure.ChangeOfCharacter(rc.Ctx(), u, tf,
		rc.ConfigInt("underlying_exit.coc_lookback", "underlying_coc_lookback", 10))
	if err == nil && againstDirection(coc, rc.Pos.Direction) {
		return Exit(
			fmt.Sprintf("UNDERLYING exit: CoC %s against %s position", coc, rc.Pos.Direction),
			map[string]string{"coc": string(coc)})
	}

	atr, err := rc.Structure.ATRTrend(rc.Ctx(), u, tf)
	if err == nil && atr == model.ATRContracting {
		// Collapsing volatility bleeds bought premium regardless of direction.
		if pct, ok := rc.PnLPct(); ok && pct.Sign() <= 0 {
			return Exit(
				"UNDERLYING exit: volatility contracting with position underwater",
				map[string]string{"atr_trend": string(atr)})
		}
	}
	return Skip()
}
