package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is an OHLC bar for a single instrument at a fixed resolution.
// Prices use decimal.Decimal, never float64 or an integer minor-unit
// convention: every trade-affecting computation must be exact (Money).
type Candle struct {
	Token      string          `json:"token"`
	Exchange   string          `json:"exchange"`
	Resolution time.Duration   `json:"resolution"` // e.g. time.Minute, 5*time.Minute
	TS         time.Time       `json:"ts"`          // bucket start time (UTC, resolution-aligned)
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     int64           `json:"volume"`      // cumulative quantity in this bucket
	TicksCount int             `json:"ticks_count"` // number of ticks aggregated
	Forming    bool            `json:"forming"`     // true while the bucket is still open
}

// Key returns a unique key for this candle's instrument: "exchange:token".
func (c *Candle) Key() string {
	return c.Exchange + ":" + c.Token
}

// Valid reports whether the OHLC relationship holds. A violation is a
// defect to be counted, never silently repaired.
func (c *Candle) Valid() bool {
	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) || c.Low.GreaterThan(c.High) {
		return false
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) {
		return false
	}
	return true
}

// BullishBody reports whether Close > Open — the tie-break rule applied
// when two exit conditions fire on the same candle.
func (c *Candle) BullishBody() bool {
	return c.Close.GreaterThan(c.Open)
}

// BucketStart aligns ts down to the start of its resolution-sized bucket:
// bucket = ts - (ts % resolution).
func BucketStart(ts time.Time, resolution time.Duration) time.Time {
	return ts.Truncate(resolution)
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
