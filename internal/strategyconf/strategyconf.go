// Package strategyconf loads the strategy threshold document: a nested YAML
// key-value file supplying stop/target percentages, rupee thresholds,
// time-of-day strings, and per-index ceilings.
//
// Lookup is layered for backward compatibility with older flat documents: a
// dotted key like "risk.stop_loss_pct" is first resolved as a nested path,
// then as a literal flat key, then falls back to the supplied default. Nested
// always takes precedence.
package strategyconf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Document is an immutable view over the parsed strategy config.
type Document struct {
	root map[string]any
}

// Load reads and parses a YAML strategy document from disk.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("strategyconf read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a YAML strategy document.
func Parse(data []byte) (*Document, error) {
	root := make(map[string]any)
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("strategyconf parse: %w", err)
	}
	return &Document{root: root}, nil
}

// New builds a document from an already-assembled map (used in tests).
func New(root map[string]any) *Document {
	if root == nil {
		root = make(map[string]any)
	}
	return &Document{root: root}
}

// Value resolves key via nested path, then flat literal key, then default.
func (d *Document) Value(key string, def any) any {
	if v, ok := d.lookupNested(key); ok {
		return v
	}
	if v, ok := d.root[key]; ok {
		return v
	}
	return def
}

// Has reports whether the key resolves at all (nested or flat).
func (d *Document) Has(key string) bool {
	if _, ok := d.lookupNested(key); ok {
		return true
	}
	_, ok := d.root[key]
	return ok
}

// String returns a string-typed value.
func (d *Document) String(key, def string) string {
	v := d.Value(key, def)
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Bool returns a bool-typed value. Accepts native bools and "true"/"false".
func (d *Document) Bool(key string, def bool) bool {
	switch t := d.Value(key, def).(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return def
		}
		return b
	default:
		return def
	}
}

// Int returns an int-typed value.
func (d *Document) Int(key string, def int) int {
	switch t := d.Value(key, def).(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		return n
	default:
		return def
	}
}

// Decimal returns an exact-decimal-typed value. YAML numbers are converted
// through their string form to avoid binary-float artefacts.
func (d *Document) Decimal(key string, def decimal.Decimal) decimal.Decimal {
	v := d.Value(key, nil)
	if v == nil {
		return def
	}
	switch t := v.(type) {
	case int:
		return decimal.NewFromInt(int64(t))
	case int64:
		return decimal.NewFromInt(t)
	case float64:
		dd, err := decimal.NewFromString(strconv.FormatFloat(t, 'f', -1, 64))
		if err != nil {
			return def
		}
		return dd
	case string:
		dd, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		return dd
	default:
		return def
	}
}

// TimeOfDay is a wall-clock "HH:MM" value from the document.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("strategyconf: malformed time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("strategyconf: malformed hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("strategyconf: malformed minute in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// At anchors the time of day to the date of ref in ref's location.
func (t TimeOfDay) At(ref time.Time) time.Time {
	return time.Date(ref.Year(), ref.Month(), ref.Day(), t.Hour, t.Minute, 0, 0, ref.Location())
}

// Minutes returns minutes since midnight, for ordering comparisons.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

// TimeOfDay returns an "HH:MM"-typed value, falling back to def on absence or
// malformed input.
func (d *Document) TimeOfDay(key string, def TimeOfDay) TimeOfDay {
	v := d.Value(key, nil)
	if v == nil {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	t, err := ParseTimeOfDay(s)
	if err != nil {
		return def
	}
	return t
}

func (d *Document) lookupNested(key string) (any, bool) {
	parts := strings.Split(key, ".")
	if len(parts) < 2 {
		v, ok := d.root[key]
		return v, ok
	}
	var cur any = d.root
	for _, part := range parts {
		m, ok := toStringMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// toStringMap normalizes the map shapes yaml.v3 can produce.
func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}
