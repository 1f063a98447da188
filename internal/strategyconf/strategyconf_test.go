package strategyconf

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
risk:
  stop_loss_pct: 20
  take_profit_pct: 30.5
trailing:
  activation_pct: 10
zones:
  secured_rupees: 1000
  green_stop_rupees: "150.25"
session:
  force_flatten: "15:15"
underlying_exit:
  enabled: true
momentum:
  candles: 5
  BANKNIFTY:
    candles: 3
stop_loss_pct: 99
legacy_only_flat: 7
`

func mustParse(t *testing.T) *Document {
	t.Helper()
	d, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	return d
}

func TestLookup_NestedTakesPrecedenceOverFlat(t *testing.T) {
	t.Parallel()
	d := mustParse(t)

	// "risk.stop_loss_pct" resolves nested (20), not the flat "stop_loss_pct" (99).
	got := d.Decimal("risk.stop_loss_pct", decimal.Zero)
	assert.True(t, decimal.NewFromInt(20).Equal(got))
}

func TestLookup_FlatFallback(t *testing.T) {
	t.Parallel()
	d := mustParse(t)

	assert.Equal(t, 7, d.Int("legacy_only_flat", 0))
	// Missing everywhere -> default.
	assert.Equal(t, 42, d.Int("nope.missing", 42))
}

func TestDecimal_ExactFromYAMLFloat(t *testing.T) {
	t.Parallel()
	d := mustParse(t)

	got := d.Decimal("risk.take_profit_pct", decimal.Zero)
	assert.Equal(t, "30.5", got.String())

	// Quoted decimal strings parse exactly too.
	green := d.Decimal("zones.green_stop_rupees", decimal.Zero)
	assert.Equal(t, "150.25", green.String())
}

func TestTimeOfDay(t *testing.T) {
	t.Parallel()
	d := mustParse(t)

	tod := d.TimeOfDay("session.force_flatten", TimeOfDay{Hour: 15, Minute: 25})
	assert.Equal(t, 15, tod.Hour)
	assert.Equal(t, 15, tod.Minute)

	ist := time.FixedZone("IST", 5*3600+30*60)
	ref := time.Date(2026, 8, 28, 9, 30, 0, 0, ist)
	at := tod.At(ref)
	assert.Equal(t, 15, at.Hour())
	assert.Equal(t, 15, at.Minute())
	assert.Equal(t, ref.Location(), at.Location())
}

func TestParseTimeOfDay_Malformed(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "15", "25:00", "12:61", "ab:cd"} {
		_, err := ParseTimeOfDay(s)
		assert.Error(t, err, s)
	}
}

func TestBoolAndPerIndexOverride(t *testing.T) {
	t.Parallel()
	d := mustParse(t)

	assert.True(t, d.Bool("underlying_exit.enabled", false))
	assert.False(t, d.Bool("some.other.flag", false))

	// Per-index ceiling overrides the generic one.
	assert.Equal(t, 3, d.Int("momentum.BANKNIFTY.candles", d.Int("momentum.candles", 5)))
	assert.Equal(t, 5, d.Int("momentum.NIFTY.candles", d.Int("momentum.candles", 0)))
}
