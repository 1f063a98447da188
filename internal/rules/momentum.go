package rules

import (
	"fmt"
	"strconv"
	"time"

	"exit-systemv1/internal/model"
)

// MomentumFailureRule exits when the premium stops making progress: no new
// high (long) or new low (short) within the last N candles on the position's
// tagged timeframe. N is per-index configurable.
type MomentumFailureRule struct {
	enabled bool
}

func NewMomentumFailureRule(enabled bool) *MomentumFailureRule {
	return &MomentumFailureRule{enabled: enabled}
}

func (r *MomentumFailureRule) Name() string  { return "momentum_failure" }
func (r *MomentumFailureRule) Priority() int { return 30 }
func (r *MomentumFailureRule) Enabled() bool { return r.enabled }

func (r *MomentumFailureRule) Evaluate(rc *Context) Result {
	tfStr, ok := rc.Pos.MetaValue(model.MetaMomentumTF)
	if !ok {
		return Skip()
	}
	tf, err := strconv.Atoi(tfStr)
	if err != nil || (tf != 60 && tf != 300) {
		return Skip()
	}
	if rc.Structure == nil {
		return Skip()
	}
	n := rc.IndexInt("momentum", "candles", 5)
	if n <= 0 {
		return Skip()
	}
	// Too early to judge: the window has not elapsed yet.
	if rc.HeldFor() < time.Duration(n*tf)*time.Second {
		return Skip()
	}

	w := rc.Pos.Instrument
	switch rc.Pos.Direction {
	case model.DirectionLong:
		// The best close of the recent window matching the best of a longer
		// window means the high was set earlier: no new high within N candles.
		recent, err1 := rc.Structure.RecentHigh(rc.Ctx(), w, tf, n)
		wider, err2 := rc.Structure.RecentHigh(rc.Ctx(), w, tf, 2*n)
		if err1 != nil || err2 != nil {
			return Skip()
		}
		if recent.LessThan(wider) {
			return Exit(
				fmt.Sprintf("MOMENTUM failure: no new high in %d candles (%ds)", n, tf),
				map[string]string{"tf": tfStr, "candles": strconv.Itoa(n)})
		}
	case model.DirectionShort:
		recent, err1 := rc.Structure.RecentLow(rc.Ctx(), w, tf, n)
		wider, err2 := rc.Structure.RecentLow(rc.Ctx(), w, tf, 2*n)
		if err1 != nil || err2 != nil {
			return Skip()
		}
		if recent.GreaterThan(wider) {
			return Exit(
				fmt.Sprintf("MOMENTUM failure: no new low in %d candles (%ds)", n, tf),
				map[string]string{"tf": tfStr, "candles": strconv.Itoa(n)})
		}
	}
	return Skip()
}
