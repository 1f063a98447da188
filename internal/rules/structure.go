package rules

import (
	"fmt"

	"exit-systemv1/internal/model"
)

// Structure timeframes checked, in seconds.
var structureTimeframes = []int{60, 300}

// StructureInvalidationRule exits when recent price structure breaks against
// the position direction: a close below the recent swing low for a long (or
// above the recent swing high for a short), or a change of character against
// direction, on 1-minute or 5-minute structure.
type StructureInvalidationRule struct {
	enabled bool
}

func NewStructureInvalidationRule(enabled bool) *StructureInvalidationRule {
	return &StructureInvalidationRule{enabled: enabled}
}

func (r *StructureInvalidationRule) Name() string  { return "structure_invalidation" }
func (r *StructureInvalidationRule) Priority() int { return 20 }
func (r *StructureInvalidationRule) Enabled() bool { return r.enabled }

func (r *StructureInvalidationRule) Evaluate(rc *Context) Result {
	if rc.Structure == nil {
		return Skip()
	}
	price, ok := rc.CurrentPrice()
	if !ok {
		return Skip()
	}
	lookback := rc.ConfigInt("structure.swing_lookback", "structure_swing_lookback", 10)
	w := rc.Pos.Instrument

	for _, tf := range structureTimeframes {
		switch rc.Pos.Direction {
		case model.DirectionLong:
			low, err := rc.Structure.RecentLow(rc.Ctx(), w, tf, lookback)
			if err == nil && low.Sign() > 0 && price.LessThan(low) {
				return Exit(
					fmt.Sprintf("STRUCTURE break: close %s below swing low %s (%ds)", price, low, tf),
					map[string]string{"tf": fmt.Sprint(tf), "swing_low": low.String()})
			}
		case model.DirectionShort:
			high, err := rc.Structure.RecentHigh(rc.Ctx(), w, tf, lookback)
			if err == nil && high.Sign() > 0 && price.GreaterThan(high) {
				return Exit(
					fmt.Sprintf("STRUCTURE break: close %s above swing high %s (%ds)", price, high, tf),
					map[string]string{"tf": fmt.Sprint(tf), "swing_high": high.String()})
			}
		}

		coc, err := rc.Structure.ChangeOfCharacter(rc.Ctx(), w, tf, lookback)
		if err != nil {
			continue
		}
		if againstDirection(coc, rc.Pos.Direction) {
			return Exit(
				fmt.Sprintf("STRUCTURE CoC %s against %s position (%ds)", coc, rc.Pos.Direction, tf),
				map[string]string{"tf": fmt.Sprint(tf), "coc": string(coc)})
		}
	}
	return Skip()
}

// againstDirection reports whether a change of character opposes the
// position's required move.
func againstDirection(coc model.CoCDirection, dir model.Direction) bool {
	switch dir {
	case model.DirectionLong:
		return coc == model.CoCDown
	case model.DirectionShort:
		return coc == model.CoCUp
	}
	return false
}
