package rules

import (
	"fmt"

	"github.com/shopspring/decimal"

	"exit-systemv1/internal/model"
)

// BracketZoneRule covers two related conditions at one priority slot:
// broker-side bracket order flags (SL/TP leg already hit), and the
// post-profit-zone hold condition — once PnL has crossed the secured-profit
// rupee threshold, the position is only kept while BOTH the underlying trend
// and the option-premium momentum stay favorable.
type BracketZoneRule struct {
	enabled bool
}

func NewBracketZoneRule(enabled bool) *BracketZoneRule { return &BracketZoneRule{enabled: enabled} }

func (r *BracketZoneRule) Name() string  { return "bracket_zone" }
func (r *BracketZoneRule) Priority() int { return 25 }
func (r *BracketZoneRule) Enabled() bool { return r.enabled }

func (r *BracketZoneRule) Evaluate(rc *Context) Result {
	// Broker-side bracket flags win outright.
	if v, _ := rc.Pos.MetaValue(model.MetaBracketSLHit); v == "true" {
		return Exit("BRACKET SL leg hit at broker", map[string]string{"bracket": "sl"})
	}
	if v, _ := rc.Pos.MetaValue(model.MetaBracketTPHit); v == "true" {
		return Exit("BRACKET TP leg hit at broker", map[string]string{"bracket": "tp"})
	}

	pnl, ok := rc.PnLRupees()
	if !ok {
		return Skip()
	}
	secured := rc.ConfigDecimal("zones.secured_rupees", "secured_profit_rupees", decimal.Zero)
	if secured.Sign() <= 0 || pnl.LessThan(secured) {
		return Skip()
	}
	if rc.Structure == nil {
		return Skip()
	}

	if reason, meta, bad := r.underlyingUnfavorable(rc); bad {
		return Exit(reason, meta)
	}
	if reason, meta, bad := r.premiumMomentumBroken(rc); bad {
		return Exit(reason, meta)
	}
	return Skip()
}

// underlyingUnfavorable checks the underlying index trend: structural score
// below the floor or a change of character against direction.
func (r *BracketZoneRule) underlyingUnfavorable(rc *Context) (string, map[string]string, bool) {
	u := rc.Pos.Instrument.UnderlyingWatchable()
	tf := rc.ConfigInt("zones.trend_tf", "zones_trend_tf", 300)

	score, err := rc.Structure.TrendScore(rc.Ctx(), u, tf)
	if err == nil {
		floor := rc.ConfigDecimal("zones.trend_score_floor", "trend_score_floor", decimal.NewFromInt(25))
		if score.LessThan(floor) {
			return fmt.Sprintf("ZONE underlying trend failed: score %s below floor %s", score, floor),
				map[string]string{"trend_score": score.String(), "floor": floor.String()}, true
		}
	}

	coc, err := rc.Structure.ChangeOfCharacter(rc.Ctx(), u, tf, rc.ConfigInt("zones.coc_lookback", "zones_coc_lookback", 10))
	if err == nil && againstDirection(coc, rc.Pos.Direction) {
		return fmt.Sprintf("ZONE underlying trend failed: CoC %s against %s", coc, rc.Pos.Direction),
			map[string]string{"coc": string(coc)}, true
	}
	return "", nil, false
}

// premiumMomentumBroken checks the option premium itself: a pullback beyond
// the configured fraction of the last swing means momentum is gone.
func (r *BracketZoneRule) premiumMomentumBroken(rc *Context) (string, map[string]string, bool) {
	price, ok := rc.CurrentPrice()
	if !ok {
		return "", nil, false
	}
	tf := rc.ConfigInt("zones.momentum_tf", "zones_momentum_tf", 60)
	lookback := rc.ConfigInt("zones.swing_lookback", "zones_swing_lookback", 20)
	w := rc.Pos.Instrument

	high, errH := rc.Structure.RecentHigh(rc.Ctx(), w, tf, lookback)
	low, errL := rc.Structure.RecentLow(rc.Ctx(), w, tf, lookback)
	if errH != nil || errL != nil || high.LessThanOrEqual(low) {
		return "", nil, false
	}
	swing := high.Sub(low)
	frac := rc.ConfigDecimal("zones.pullback_fraction", "zones_pullback_fraction",
		decimal.RequireFromString("0.5"))

	var pullback decimal.Decimal
	if rc.Pos.Direction == model.DirectionLong {
		pullback = high.Sub(price)
	} else {
		pullback = price.Sub(low)
	}
	if pullback.GreaterThan(swing.Mul(frac)) {
		return fmt.Sprintf("ZONE premium momentum failed: pullback %s beyond %s of swing %s",
				pullback, frac, swing),
			map[string]string{
				"pullback": pullback.String(),
				"swing":    swing.String(),
				"fraction": frac.String(),
			}, true
	}
	return "", nil, false
}
