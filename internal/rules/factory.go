package rules

import (
	"log/slog"

	"exit-systemv1/internal/strategyconf"
)

// NewDefaultEngine assembles the production rule catalog from the strategy
// document. Each rule can be switched off under "rules.<name>.enabled";
// everything is on by default except the underlying-aware exit, which is
// additionally gated by its own feature flag at evaluation time.
func NewDefaultEngine(logger *slog.Logger, cfg *strategyconf.Document) *Engine {
	on := func(name string) bool {
		return cfg.Bool("rules."+name+".enabled", true)
	}
	return NewEngine(logger,
		NewSessionEndRule(on("session_end")),
		NewStopLossRule(on("stop_loss")),
		NewStructureInvalidationRule(on("structure_invalidation")),
		NewBracketZoneRule(on("bracket_zone")),
		NewTakeProfitRule(on("take_profit")),
		NewMomentumFailureRule(on("momentum_failure")),
		NewTimeExitRule(on("time_exit")),
		NewTimeStopRule(on("time_stop")),
		NewPeakDrawdownRule(on("peak_drawdown")),
		NewTrailingStopRule(on("trailing_stop")),
		NewUnderlyingExitRule(on("underlying_exit")),
	)
}
