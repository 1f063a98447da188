package rules

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"exit-systemv1/internal/model"
	"exit-systemv1/internal/strategyconf"
)

// TimeExitRule exits at an absolute configured time of day. A minimum-profit
// override can veto the exit: when profit sits below the configured floor the
// rule holds the position (NoAction) to let it recover instead of booking the
// loss at the clock tick.
type TimeExitRule struct {
	enabled bool
}

func NewTimeExitRule(enabled bool) *TimeExitRule { return &TimeExitRule{enabled: enabled} }

func (r *TimeExitRule) Name() string  { return "time_exit" }
func (r *TimeExitRule) Priority() int { return 40 }
func (r *TimeExitRule) Enabled() bool { return r.enabled }

func (r *TimeExitRule) Evaluate(rc *Context) Result {
	if !rc.ConfigHas("time_exit.at", "time_exit_at") {
		return Skip()
	}
	at := rc.ConfigTimeOfDay("time_exit.at", "time_exit_at", strategyconf.TimeOfDay{})
	if at.Minutes() == 0 {
		return Skip()
	}
	if rc.Now.Before(at.At(rc.Now)) {
		return Skip()
	}

	if rc.ConfigHas("time_exit.min_profit_rupees", "time_exit_min_profit_rupees") {
		floor := rc.ConfigDecimal("time_exit.min_profit_rupees", "time_exit_min_profit_rupees", decimal.Zero)
		if pnl, ok := rc.PnLRupees(); ok && pnl.LessThan(floor) {
			return NoAction(fmt.Sprintf("time exit deferred: PnL %s below floor %s", pnl, floor))
		}
	}
	reason := fmt.Sprintf("TIME EXIT: configured exit time %02d:%02d reached", at.Hour, at.Minute)
	return Exit(reason, map[string]string{"exit_at": fmt.Sprintf("%02d:%02d", at.Hour, at.Minute)})
}

// TimeStopRule caps holding time by trade classification: scalps by candle
// count, trend trades by wall-clock minutes, with per-index ceilings.
type TimeStopRule struct {
	enabled bool
}

func NewTimeStopRule(enabled bool) *TimeStopRule { return &TimeStopRule{enabled: enabled} }

func (r *TimeStopRule) Name() string  { return "time_stop" }
func (r *TimeStopRule) Priority() int { return 40 }
func (r *TimeStopRule) Enabled() bool { return r.enabled }

func (r *TimeStopRule) Evaluate(rc *Context) Result {
	tradeType, ok := rc.Pos.MetaValue(model.MetaTradeType)
	if !ok {
		return Skip()
	}
	held := rc.HeldFor()
	if held <= 0 {
		return Skip()
	}

	switch tradeType {
	case "SCALP":
		// Scalps are measured in 1-minute candles.
		ceiling := rc.IndexInt("time_stop", "scalp_candles", 15)
		elapsed := int(held / time.Minute)
		if elapsed >= ceiling {
			return Exit(
				fmt.Sprintf("TIME STOP: scalp held %d candles >= ceiling %d", elapsed, ceiling),
				map[string]string{"trade_type": tradeType, "candles": fmt.Sprint(elapsed)})
		}
	case "TREND":
		ceiling := rc.IndexInt("time_stop", "trend_minutes", 75)
		elapsed := int(held / time.Minute)
		if elapsed >= ceiling {
			return Exit(
				fmt.Sprintf("TIME STOP: trend held %dm >= ceiling %dm", elapsed, ceiling),
				map[string]string{"trade_type": tradeType, "minutes": fmt.Sprint(elapsed)})
		}
	default:
		return Skip()
	}
	return Skip()
}
