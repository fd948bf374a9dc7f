package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick represents a single market data tick for an instrument. High/Low
// are the exchange-reported running high/low for the trading session at
// the time of this tick, not just the LTP — the Candle Builder folds
// these into each bucket's OHLC rather than deriving them from Price
// alone (spec §4.3: "high = running max over ticks").
type Tick struct {
	Token    string          `json:"token"`
	Exchange string          `json:"exchange"`
	Price    decimal.Decimal `json:"price"`              // LTP
	High     decimal.Decimal `json:"high"`               // reported high at tick time
	Low      decimal.Decimal `json:"low"`                // reported low at tick time
	Qty      int64           `json:"qty"`                // last traded quantity
	TickTS   time.Time       `json:"tick_ts"`            // UTC arrival timestamp
	EventTS  time.Time       `json:"event_ts,omitempty"` // exchange-provided canonical time
}

// CanonicalTS returns the best available timestamp for this tick.
// Prefers the exchange-provided EventTS; falls back to TickTS (arrival time).
func (t *Tick) CanonicalTS() time.Time {
	if !t.EventTS.IsZero() {
		return t.EventTS
	}
	return t.TickTS
}
