package model

// WatchableKind discriminates what a position actually references on the feed:
// an outright index/equity instrument or an option contract on one.
type WatchableKind string

const (
	KindIndex  WatchableKind = "INDEX"
	KindEquity WatchableKind = "EQUITY"
	KindOption WatchableKind = "OPTION"
)

// Watchable is the price-feed identity of an instrument. It is a tagged union:
// Kind selects which fields are meaningful. Option-only fields are zero for
// outright instruments. Resolved once when the position is loaded.
type Watchable struct {
	Kind       WatchableKind `json:"kind"`
	SecurityID string        `json:"security_id"`
	Segment    string        `json:"segment"` // e.g. NSE_FO, NSE_CM, IDX_I
	Symbol     string        `json:"symbol"`  // e.g. NIFTY24DEC24500CE

	// Option contract fields (Kind == KindOption).
	Underlying string `json:"underlying,omitempty"`  // index key, e.g. NIFTY, BANKNIFTY
	OptionType string `json:"option_type,omitempty"` // CE, PE
	LotSize    int    `json:"lot_size,omitempty"`
}

// Key returns the unique feed key "segment:security_id".
func (w Watchable) Key() string {
	return w.Segment + ":" + w.SecurityID
}

// IndexKey returns the underlying index key for options, or the symbol itself
// for outright instruments. Used for per-index threshold lookup.
func (w Watchable) IndexKey() string {
	if w.Kind == KindOption && w.Underlying != "" {
		return w.Underlying
	}
	return w.Symbol
}

// UnderlyingWatchable returns the feed identity of the option's underlying
// index. For non-options it returns the watchable itself.
func (w Watchable) UnderlyingWatchable() Watchable {
	if w.Kind != KindOption {
		return w
	}
	return Watchable{
		Kind:       KindIndex,
		SecurityID: w.Underlying,
		Segment:    "IDX_I",
		Symbol:     w.Underlying,
	}
}
