package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PnlSnapshot is the ephemeral per-position PnL observation held in the fast
// cache. Authoritative only while the position is active; on exit the final
// values are copied into the durable record and the cache entry is deleted.
type PnlSnapshot struct {
	PnL              decimal.Decimal `json:"pnl"`
	PnLPct           decimal.Decimal `json:"pnl_pct"`
	HighWaterMark    decimal.Decimal `json:"hwm"`
	HighWaterMarkPct decimal.Decimal `json:"hwm_pct"`
	LastPrice        decimal.Decimal `json:"last_price"`
	ObservedAt       time.Time       `json:"observed_at"`
}

// Fresh reports whether the snapshot was observed within the freshness window.
func (s *PnlSnapshot) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(s.ObservedAt) <= window
}

// JSON serializes the snapshot for cache storage.
func (s *PnlSnapshot) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// SnapshotFromJSON deserializes a cached snapshot.
func SnapshotFromJSON(data []byte) (*PnlSnapshot, error) {
	var s PnlSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ZeroSnapshot seeds the cache at fill confirmation: zero PnL at the fill
// price.
func ZeroSnapshot(fillPrice decimal.Decimal, at time.Time) *PnlSnapshot {
	return &PnlSnapshot{
		PnL:              decimal.Zero,
		PnLPct:           decimal.Zero,
		HighWaterMark:    decimal.Zero,
		HighWaterMarkPct: decimal.Zero,
		LastPrice:        fillPrice,
		ObservedAt:       at,
	}
}
