// Package notification delivers exit events and operational alerts to
// external channels (Telegram, webhooks). Delivery is fire-and-forget:
// failures are logged by callers, never raised into the enforcement path.
package notification

import (
	"context"
	"log"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is one notification. Fields carries structured key/values rendered
// by each backend (order ref, exit price, PnL and so on).
type Alert struct {
	Level   AlertLevel        `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts (useful for development and as a fallback).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s %v", alert.Level, alert.Title, alert.Message, alert.Fields)
	return nil
}

// Multi fans one alert out to several backends. A failing backend is logged
// and skipped; Send never fails as long as at least one backend succeeds.
type Multi struct {
	backends []Notifier
}

// NewMulti creates a fan-out notifier.
func NewMulti(backends ...Notifier) *Multi {
	return &Multi{backends: backends}
}

func (m *Multi) Send(ctx context.Context, alert Alert) error {
	var lastErr error
	ok := false
	for _, b := range m.backends {
		if err := b.Send(ctx, alert); err != nil {
			log.Printf("[notify] backend failed: %v", err)
			lastErr = err
			continue
		}
		ok = true
	}
	if ok {
		return nil
	}
	return lastErr
}
