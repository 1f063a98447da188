package notification

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"exit-systemv1/internal/model"
)

// ExitAlerter adapts the generic notifier stack to the monitor's exit event
// contract.
type ExitAlerter struct {
	backend Notifier
}

// NewExitAlerter wraps a backend (use Multi for fan-out).
func NewExitAlerter(backend Notifier) *ExitAlerter {
	return &ExitAlerter{backend: backend}
}

// NotifyExit delivers one exit event.
func (a *ExitAlerter) NotifyExit(ctx context.Context, p *model.Position, reason string, exitPrice, pnl decimal.Decimal) error {
	level := AlertInfo
	if pnl.Sign() < 0 {
		level = AlertWarning
	}
	title := fmt.Sprintf("EXIT %s %s", p.Instrument.Symbol, p.Direction)
	msg := fmt.Sprintf("%s closed at %s, PnL %s (%s%%): %s",
		p.OrderRef, exitPrice, pnl, p.PnLPct.StringFixed(2), reason)

	return a.backend.Send(ctx, Alert{
		Level:   level,
		Title:   title,
		Message: msg,
		Fields: map[string]string{
			"order_ref":  p.OrderRef,
			"symbol":     p.Instrument.Symbol,
			"qty":        fmt.Sprint(p.Qty),
			"exit_price": exitPrice.String(),
			"pnl":        pnl.String(),
			"reason":     reason,
		},
	})
}
