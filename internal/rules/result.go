// Package rules implements the priority-ordered exit rule catalog and the
// engine that evaluates it against one position per monitoring cycle.
package rules

// Action is the three-valued rule verdict.
type Action string

const (
	// ActionSkip means the rule does not apply to this context at all:
	// required inputs are missing or the rule's feature flag is off.
	ActionSkip Action = "SKIP"

	// ActionNoAction means the rule applies and deliberately holds the
	// position this cycle.
	ActionNoAction Action = "NO_ACTION"

	// ActionExit means the rule applies and its exit condition is met.
	ActionExit Action = "EXIT"
)

// Result is an immutable rule verdict: the action, a human-readable reason,
// and a metadata bag attached to the position's audit trail after exit.
type Result struct {
	Action Action
	Reason string
	Meta   map[string]string
}

// Skip returns the inapplicable verdict.
func Skip() Result { return Result{Action: ActionSkip} }

// NoAction returns the hold verdict with an optional reason for logging.
func NoAction(reason string) Result {
	return Result{Action: ActionNoAction, Reason: reason}
}

// Exit returns the exit verdict.
func Exit(reason string, meta map[string]string) Result {
	return Result{Action: ActionExit, Reason: reason, Meta: meta}
}

// IsExit reports whether this verdict demands an exit.
func (r Result) IsExit() bool { return r.Action == ActionExit }

// Applicable reports whether the rule applied at all (non-skip).
func (r Result) Applicable() bool { return r.Action != ActionSkip }
