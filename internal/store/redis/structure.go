package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"exit-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// ErrStructureUnavailable is returned when no structure document exists for
// an instrument/timeframe. Rules skip on it.
var ErrStructureUnavailable = errors.New("structure unavailable")

// structureDoc is the latest-value document the indicator engine publishes
// per instrument and timeframe. Closes run oldest to newest as decimal
// strings; CoCAge counts candles since the change-of-character event.
type structureDoc struct {
	Closes     []string `json:"closes"`
	CoC        string   `json:"coc"`
	CoCAge     int      `json:"coc_age"`
	TrendScore string   `json:"trend_score"`
	ATRState   string   `json:"atr_state"`
}

func decodeStructure(data []byte) (*structureDoc, error) {
	var doc structureDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("structure doc: %w", err)
	}
	return &doc, nil
}

// tailExtremes returns the highest and lowest close over the last n entries.
func (d *structureDoc) tailExtremes(n int) (high, low decimal.Decimal, err error) {
	if len(d.Closes) == 0 || n <= 0 {
		return decimal.Zero, decimal.Zero, ErrStructureUnavailable
	}
	start := len(d.Closes) - n
	if start < 0 {
		start = 0
	}
	for i, s := range d.Closes[start:] {
		c, perr := decimal.NewFromString(s)
		if perr != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("structure doc: bad close %q: %w", s, perr)
		}
		if i == 0 {
			high, low = c, c
			continue
		}
		if c.GreaterThan(high) {
			high = c
		}
		if c.LessThan(low) {
			low = c
		}
	}
	return high, low, nil
}

// StructureReader implements model.StructureSource against the latest-value
// keys the indicator engine maintains, keyed
// "ind:structure:{tf}s:latest:{segment}:{security_id}".
type StructureReader struct {
	client *goredis.Client
}

// NewStructureReader connects and pings the server.
func NewStructureReader(addr, password string, db int) (*StructureReader, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &StructureReader{client: client}, nil
}

// NewStructureReaderWith reuses an existing client, so the cache and the
// structure reader can share one connection pool.
func NewStructureReaderWith(client *goredis.Client) *StructureReader {
	return &StructureReader{client: client}
}

func structureKey(w model.Watchable, tf int) string {
	return fmt.Sprintf("ind:structure:%ds:latest:%s:%s", tf, w.Segment, w.SecurityID)
}

func (r *StructureReader) doc(ctx context.Context, w model.Watchable, tf int) (*structureDoc, error) {
	data, err := r.client.Get(ctx, structureKey(w, tf)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, ErrStructureUnavailable
		}
		return nil, fmt.Errorf("redis get structure %s: %w", structureKey(w, tf), err)
	}
	return decodeStructure(data)
}

// RecentHigh returns the highest close over the last n candles.
func (r *StructureReader) RecentHigh(ctx context.Context, w model.Watchable, tf, n int) (decimal.Decimal, error) {
	doc, err := r.doc(ctx, w, tf)
	if err != nil {
		return decimal.Zero, err
	}
	high, _, err := doc.tailExtremes(n)
	return high, err
}

// RecentLow returns the lowest close over the last n candles.
func (r *StructureReader) RecentLow(ctx context.Context, w model.Watchable, tf, n int) (decimal.Decimal, error) {
	doc, err := r.doc(ctx, w, tf)
	if err != nil {
		return decimal.Zero, err
	}
	_, low, err := doc.tailExtremes(n)
	return low, err
}

// ChangeOfCharacter reports a structural reversal that happened within the
// lookback, or CoCNone.
func (r *StructureReader) ChangeOfCharacter(ctx context.Context, w model.Watchable, tf, lookback int) (model.CoCDirection, error) {
	doc, err := r.doc(ctx, w, tf)
	if err != nil {
		return model.CoCNone, err
	}
	if doc.CoC == "" || doc.CoCAge > lookback {
		return model.CoCNone, nil
	}
	return model.CoCDirection(doc.CoC), nil
}

// TrendScore returns the structural/ADX trend score (0-100).
func (r *StructureReader) TrendScore(ctx context.Context, w model.Watchable, tf int) (decimal.Decimal, error) {
	doc, err := r.doc(ctx, w, tf)
	if err != nil {
		return decimal.Zero, err
	}
	if doc.TrendScore == "" {
		return decimal.Zero, ErrStructureUnavailable
	}
	score, perr := decimal.NewFromString(doc.TrendScore)
	if perr != nil {
		return decimal.Zero, fmt.Errorf("structure doc: bad trend score %q: %w", doc.TrendScore, perr)
	}
	return score, nil
}

// ATRTrend reports the volatility regime.
func (r *StructureReader) ATRTrend(ctx context.Context, w model.Watchable, tf int) (model.ATRState, error) {
	doc, err := r.doc(ctx, w, tf)
	if err != nil {
		return model.ATRFlat, err
	}
	if doc.ATRState == "" {
		return model.ATRFlat, nil
	}
	return model.ATRState(doc.ATRState), nil
}

// Close closes the Redis client.
func (r *StructureReader) Close() error {
	return r.client.Close()
}
