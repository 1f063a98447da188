package monitor

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"exit-systemv1/internal/model"
	"exit-systemv1/internal/rules"
	"exit-systemv1/internal/strategyconf"
)

// FloorCheck enforces the profit floor: once net PnL first reaches the
// configured lock level, a floor is armed at that level (at most once, a
// one-way ratchet — never re-armed lower). If PnL later falls back to the
// floor plus execution cost, or a maximum time since arming elapses, the
// position is exited.
//
// Runs outside the rule catalog because it mutates per-position state.
type FloorCheck struct {
	cfg *strategyconf.Document
	now func() time.Time
}

// NewFloorCheck builds the check against a strategy document.
func NewFloorCheck(cfg *strategyconf.Document) *FloorCheck {
	return &FloorCheck{cfg: cfg, now: time.Now}
}

// Check evaluates the floor for one position. armed reports that the floor
// was armed this call, so the caller can persist the position row.
func (f *FloorCheck) Check(p *model.Position, snap *model.PnlSnapshot) (res rules.Result, armed bool) {
	if !p.Active() || snap == nil {
		return rules.Skip(), false
	}
	lock := f.threshold("floor.lock_rupees", "profit_floor_lock_rupees", decimal.Zero)
	if lock.Sign() <= 0 {
		return rules.Skip(), false
	}

	floorStr, have := p.MetaValue(model.MetaProfitFloor)
	if !have {
		if snap.PnL.LessThan(lock) {
			return rules.Skip(), false
		}
		// First touch of the lock level arms the floor. SetMetaOnce keeps
		// this at-most-once even if two writers race.
		if p.SetMetaOnce(model.MetaProfitFloor, lock.String()) {
			p.SetMetaOnce(model.MetaProfitFloorAt, f.now().Format(time.RFC3339))
			return rules.NoAction(fmt.Sprintf("profit floor armed at %s", lock)), true
		}
		return rules.Skip(), false
	}

	floor, err := decimal.NewFromString(floorStr)
	if err != nil {
		return rules.Skip(), false
	}

	execCost := f.threshold("floor.exec_cost_rupees", "floor_exec_cost_rupees", decimal.Zero)
	exitLevel := floor.Add(execCost)
	if snap.PnL.LessThanOrEqual(exitLevel) {
		return rules.Exit(
			fmt.Sprintf("PROFIT FLOOR: PnL %s fell to armed floor %s (exit level %s)",
				snap.PnL, floor, exitLevel),
			map[string]string{"floor": floor.String(), "exit_level": exitLevel.String()}), false
	}

	maxHold := f.cfg.Int("floor.max_hold_minutes", 0)
	if maxHold > 0 {
		if atStr, ok := p.MetaValue(model.MetaProfitFloorAt); ok {
			if at, err := time.Parse(time.RFC3339, atStr); err == nil {
				held := f.now().Sub(at)
				if held >= time.Duration(maxHold)*time.Minute {
					return rules.Exit(
						fmt.Sprintf("PROFIT FLOOR: held %s past armed floor %s (max %dm)",
							held.Round(time.Second), floor, maxHold),
						map[string]string{"floor": floor.String()}), false
				}
			}
		}
	}
	return rules.NoAction(""), false
}

func (f *FloorCheck) threshold(nested, flat string, def decimal.Decimal) decimal.Decimal {
	if f.cfg.Has(nested) {
		return f.cfg.Decimal(nested, def)
	}
	return f.cfg.Decimal(flat, def)
}
