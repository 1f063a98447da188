package rules

import (
	"log/slog"
	"sort"
)

// Rule is one independent exit condition evaluator.
type Rule interface {
	// Name identifies the rule in logs and audit metadata.
	Name() string

	// Priority orders evaluation; lower runs first.
	Priority() int

	// Enabled reports whether the rule participates at all.
	Enabled() bool

	// Evaluate inspects the context and returns a verdict. Rules return
	// Skip when their inputs are missing or their trigger condition is not
	// in play, so evaluation can fall through to lower-priority rules.
	Evaluate(rc *Context) Result
}

// Engine evaluates rules in ascending priority order.
//
// Termination semantics: the FIRST rule returning a non-skip verdict ends
// evaluation, and that verdict — exit or no-action alike — is the engine's
// answer for the cycle. Only the highest-priority applicable rule is ever
// consulted; lower rules are reached only when everything above them skips.
// This is a deliberate choice: thresholds and fixtures are tuned against
// first-applicable-wins, not first-exit-wins.
type Engine struct {
	rules  []Rule
	logger *slog.Logger
}

// NewEngine builds an engine over the given rules, stably sorted by ascending
// priority (registration order breaks ties).
func NewEngine(logger *slog.Logger, ruleset ...Rule) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := make([]Rule, len(ruleset))
	copy(sorted, ruleset)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Engine{rules: sorted, logger: logger}
}

// Rules returns the evaluation order, for diagnostics.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate runs the catalog against one context. For a position that is not
// active the engine is a no-op and answers Skip without consulting any rule.
// If every rule skips, the default answer is NoAction. The winning rule's
// name accompanies the verdict ("" when no rule applied).
func (e *Engine) Evaluate(rc *Context) (Result, string) {
	if rc.Pos == nil || !rc.Pos.Active() {
		return Skip(), ""
	}

	for _, r := range e.rules {
		if !r.Enabled() {
			continue
		}
		res := e.evaluateOne(r, rc)
		if res.Applicable() {
			return res, r.Name()
		}
	}
	return NoAction(""), ""
}

// evaluateOne shields the engine from a defective rule: a panic is logged and
// treated as if the rule had returned Skip, so one bad rule cannot halt
// evaluation of the remainder.
func (e *Engine) evaluateOne(r Rule, rc *Context) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("rule panicked, treating as skip",
				slog.String("rule", r.Name()),
				slog.String("order_ref", rc.Pos.OrderRef),
				slog.Any("panic", rec))
			res = Skip()
		}
	}()
	return r.Evaluate(rc)
}
