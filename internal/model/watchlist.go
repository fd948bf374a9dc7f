package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// WatchlistEntry is a signal admitted onto the watchlist, pending entry
// confirmation. Exclusively owned by the Trade Manager once admitted;
// the Signal Router never mutates it again.
type WatchlistEntry struct {
	Signal Signal

	AdmittedAt time.Time
	ExpiresAt  time.Time // AdmittedAt + signal TTL (spec §6 signal.ttl.minutes)

	// RecentCandles is a bounded trailing window of closed candles used by
	// the entry-gate checks (pivot-retest, volume surge, pattern). Guarded
	// by the Trade Manager's own lock — not a lock-free structure, since
	// the Trade Manager already serializes access to watchlist state.
	RecentCandles []Candle

	PivotPrice     decimal.Decimal
	PivotAvailable bool

	// HasBreachedPivot is the stateful pivot-retest breach latch (spec
	// §4.5.3 gate 1): once price crosses the pivot against the trade's
	// direction, this stays true across candles until reclaimed and
	// confirmed.
	HasBreachedPivot bool

	// PotentialRR is the risk:reward ratio computed when this entry last
	// passed all entry gates; used to rank multiple ready candidates.
	PotentialRR float64
}

// Expired reports whether this entry's TTL has elapsed as of now.
func (w *WatchlistEntry) Expired(now time.Time) bool {
	return now.After(w.ExpiresAt)
}

// PushCandle appends a closed candle to the trailing window, discarding
// the oldest entry once maxLen is reached.
func (w *WatchlistEntry) PushCandle(c Candle, maxLen int) {
	w.RecentCandles = append(w.RecentCandles, c)
	if len(w.RecentCandles) > maxLen {
		w.RecentCandles = w.RecentCandles[len(w.RecentCandles)-maxLen:]
	}
}
