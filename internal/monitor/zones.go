package monitor

import (
	"fmt"

	"github.com/shopspring/decimal"

	"exit-systemv1/internal/model"
	"exit-systemv1/internal/rules"
	"exit-systemv1/internal/strategyconf"
)

// Profit zone names, stored on the position. Strictly ordered: a position
// only ever moves up.
const (
	ZoneEntry   = "entry"
	ZoneSecured = "secured_profit_zone"
	ZoneRunner  = "runner_zone"
)

func zoneRank(z string) int {
	switch z {
	case ZoneSecured:
		return 1
	case ZoneRunner:
		return 2
	default:
		return 0
	}
}

// ZoneCheck runs the profit-zone state machine: classify the position by its
// rupee PnL, ratchet the zone forward, arm the green stop on entering the
// secured zone, and enforce the green stop from then on. The trend+momentum
// hold condition for secured positions lives in the bracket/zone rule of the
// catalog; this check owns the stateful transitions.
type ZoneCheck struct {
	cfg *strategyconf.Document
}

// NewZoneCheck builds the check against a strategy document.
func NewZoneCheck(cfg *strategyconf.Document) *ZoneCheck {
	return &ZoneCheck{cfg: cfg}
}

// Check advances the zone state for one position and enforces the green
// stop. changed reports a state transition the caller should persist.
func (z *ZoneCheck) Check(p *model.Position, snap *model.PnlSnapshot) (res rules.Result, changed bool) {
	if !p.Active() || snap == nil {
		return rules.Skip(), false
	}
	secured := z.threshold("zones.secured_rupees", "secured_profit_rupees", decimal.Zero)
	if secured.Sign() <= 0 {
		return rules.Skip(), false
	}
	runner := z.threshold("zones.runner_rupees", "runner_profit_rupees", decimal.Zero)

	target := ZoneEntry
	if runner.Sign() > 0 && snap.PnL.GreaterThanOrEqual(runner) {
		target = ZoneRunner
	} else if snap.PnL.GreaterThanOrEqual(secured) {
		target = ZoneSecured
	}

	current, _ := p.MetaValue(model.MetaProfitZone)
	if current == "" {
		current = ZoneEntry
	}

	// One-way ratchet: zone never regresses even when PnL does.
	if zoneRank(target) > zoneRank(current) {
		p.SetMeta(model.MetaProfitZone, target)
		current = target
		changed = true
		if zoneRank(target) >= zoneRank(ZoneSecured) {
			greenStop := z.threshold("zones.green_stop_rupees", "green_stop_rupees",
				decimal.NewFromInt(100))
			// Armed once; entering the runner zone keeps the original stop.
			p.SetMetaOnce(model.MetaGreenStop, greenStop.String())
		}
	}

	if zoneRank(current) >= zoneRank(ZoneSecured) {
		if gsStr, ok := p.MetaValue(model.MetaGreenStop); ok {
			if gs, err := decimal.NewFromString(gsStr); err == nil && snap.PnL.LessThanOrEqual(gs) {
				return rules.Exit(
					fmt.Sprintf("GREEN STOP: PnL %s fell to secured-zone stop %s", snap.PnL, gs),
					map[string]string{"green_stop": gs.String(), "zone": current}), changed
			}
		}
	}
	return rules.NoAction(""), changed
}

func (z *ZoneCheck) threshold(nested, flat string, def decimal.Decimal) decimal.Decimal {
	if z.cfg.Has(nested) {
		return z.cfg.Decimal(nested, def)
	}
	return z.cfg.Decimal(flat, def)
}
