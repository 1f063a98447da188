package rules

import (
	"fmt"

	"exit-systemv1/internal/strategyconf"
)

// SessionEndRule force-flattens every position once the end-of-session
// window is reached (default 15:15 IST, ahead of the 15:30 NSE close).
type SessionEndRule struct {
	enabled bool
}

func NewSessionEndRule(enabled bool) *SessionEndRule { return &SessionEndRule{enabled: enabled} }

func (r *SessionEndRule) Name() string  { return "session_end" }
func (r *SessionEndRule) Priority() int { return 10 }
func (r *SessionEndRule) Enabled() bool { return r.enabled }

func (r *SessionEndRule) Evaluate(rc *Context) Result {
	flatten := rc.ConfigTimeOfDay("session.force_flatten", "session_force_flatten",
		strategyconf.TimeOfDay{Hour: 15, Minute: 15})
	if rc.Now.Before(flatten.At(rc.Now)) {
		return Skip()
	}
	reason := fmt.Sprintf("SESSION END: force flatten window %02d:%02d reached", flatten.Hour, flatten.Minute)
	return Exit(reason, map[string]string{
		"flatten_at": fmt.Sprintf("%02d:%02d", flatten.Hour, flatten.Minute),
		"now":        rc.Now.Format("15:04:05"),
	})
}
