// Package model holds the data types shared across the trade execution
// engine: signals, watchlist entries, active trades, candles, and the
// terminal trade result. Types here are plain structs with small helper
// methods; no business logic lives in this package.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the trade side derived from a signal's textual type.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// ExchangeType distinguishes equity from derivative instruments, which
// drives order-type selection (§4.5.5) and trailing-stop percent (§4.5.4).
type ExchangeType string

const (
	ExchangeEquity     ExchangeType = "EQUITY"
	ExchangeDerivative ExchangeType = "DERIVATIVE"
)

// Signal is the immutable record created when a raw signal is received and
// has passed validation. Ownership: Signal Router until admission, then the
// derived WatchlistEntry is exclusively owned by the Trade Manager.
type Signal struct {
	ScripCode    string
	CompanyName  string
	Exchange     string
	ExchangeType ExchangeType

	Direction Direction

	EntryHint    decimal.Decimal
	StopLossHint decimal.Decimal
	Targets      [4]decimal.Decimal // T1..T4, ordered monotonic in trade direction

	OriginTimestamp time.Time // producer wall time
	IngestTimestamp time.Time

	Confidence  float64 // [0,1]
	RiskReward  float64
	VolumeSurge float64
	OIChange    float64
	ATR30m      float64
	PivotSource bool

	SignalKind string // producer-supplied classification, part of the idempotency key
	Rationale  string
}

// IdempotencyKey identifies a signal for deduplication purposes, per spec
// §4.4 step 3: (scripCode, direction, originTimestamp, signalKind).
func (s *Signal) IdempotencyKey() string {
	return s.ScripCode + "|" + string(s.Direction) + "|" +
		s.OriginTimestamp.UTC().Format(time.RFC3339Nano) + "|" + s.SignalKind
}

// Age is ingest minus origin, signed. A negative age means the producer
// timestamp is in the future relative to ingest — a clock-skew condition
// that must be rejected outright, never corrected with an absolute value
// (spec §9 open question: the signed-age behavior is intentional, not a
// bug to "fix" with Math.Abs).
func (s *Signal) Age() time.Duration {
	return s.IngestTimestamp.Sub(s.OriginTimestamp)
}

// FirstTarget returns T1, the target used for potentialRR and partial-exit
// computations.
func (s *Signal) FirstTarget() decimal.Decimal {
	return s.Targets[0]
}

// JSON returns the JSON-encoded signal for stream publication.
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
