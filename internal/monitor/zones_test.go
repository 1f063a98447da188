package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exit-systemv1/internal/model"
	"exit-systemv1/internal/rules"
	"exit-systemv1/internal/strategyconf"
)

func zoneCfg() *strategyconf.Document {
	return strategyconf.New(map[string]any{"zones": map[string]any{
		"secured_rupees":    1000,
		"runner_rupees":     2500,
		"green_stop_rupees": 100,
	}})
}

func TestZones_AdvanceAndGreenStop(t *testing.T) {
	t.Parallel()

	pos := activePosition(t, "ORD-Z1", "100", 50)
	z := NewZoneCheck(zoneCfg())

	// Entry zone: nothing armed.
	res, changed := z.Check(pos, snapFor(pos, "110")) // pnl 500
	assert.Equal(t, rules.ActionNoAction, res.Action)
	assert.False(t, changed)
	_, have := pos.MetaValue(model.MetaGreenStop)
	assert.False(t, have)

	// Crossing into the secured zone arms the green stop.
	res, changed = z.Check(pos, snapFor(pos, "124")) // pnl 1200
	assert.Equal(t, rules.ActionNoAction, res.Action)
	assert.True(t, changed)
	assert.Equal(t, ZoneSecured, pos.Meta[model.MetaProfitZone])
	assert.Equal(t, "100", pos.Meta[model.MetaGreenStop])

	// PnL collapses through the green stop: exit, zone retained.
	res, _ = z.Check(pos, snapFor(pos, "101.6")) // pnl 80
	require.True(t, res.IsExit())
	assert.Contains(t, res.Reason, "GREEN STOP")
	assert.Equal(t, ZoneSecured, pos.Meta[model.MetaProfitZone], "zone never regresses")
}

func TestZones_RunnerZoneKeepsOriginalStop(t *testing.T) {
	t.Parallel()

	pos := activePosition(t, "ORD-Z2", "100", 50)
	z := NewZoneCheck(zoneCfg())

	_, changed := z.Check(pos, snapFor(pos, "124")) // secured
	require.True(t, changed)
	_, changed = z.Check(pos, snapFor(pos, "160")) // pnl 3000, runner
	require.True(t, changed)
	assert.Equal(t, ZoneRunner, pos.Meta[model.MetaProfitZone])
	assert.Equal(t, "100", pos.Meta[model.MetaGreenStop], "green stop armed once, not re-armed")

	// Falling back to secured-zone PnL does not regress the state.
	res, changed := z.Check(pos, snapFor(pos, "124"))
	assert.False(t, changed)
	assert.Equal(t, ZoneRunner, pos.Meta[model.MetaProfitZone])
	assert.Equal(t, rules.ActionNoAction, res.Action)
}

func TestZones_SkipsBigJumpStraightToRunner(t *testing.T) {
	t.Parallel()

	pos := activePosition(t, "ORD-Z3", "100", 50)
	z := NewZoneCheck(zoneCfg())

	// One observation can cross both thresholds; the green stop still arms.
	_, changed := z.Check(pos, snapFor(pos, "170")) // pnl 3500
	require.True(t, changed)
	assert.Equal(t, ZoneRunner, pos.Meta[model.MetaProfitZone])
	assert.Equal(t, "100", pos.Meta[model.MetaGreenStop])
}

func TestZones_UnconfiguredIsNoOp(t *testing.T) {
	t.Parallel()

	pos := activePosition(t, "ORD-Z4", "100", 50)
	z := NewZoneCheck(strategyconf.New(nil))
	res, changed := z.Check(pos, snapFor(pos, "170"))
	assert.Equal(t, rules.ActionSkip, res.Action)
	assert.False(t, changed)
}
