package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the lifecycle state of an ActiveTrade (spec §3).
type TradeStatus string

const (
	StatusWaitingForEntry TradeStatus = "WAITING_FOR_ENTRY" // order placed, not yet confirmed
	StatusActive          TradeStatus = "ACTIVE"
	StatusPartialExit     TradeStatus = "PARTIAL_EXIT" // T1 hit, remainder still open
	StatusClosedProfit    TradeStatus = "CLOSED_PROFIT"
	StatusClosedLoss      TradeStatus = "CLOSED_LOSS"
	StatusClosedTime      TradeStatus = "CLOSED_TIME" // market-close sweep
	StatusCancelled       TradeStatus = "CANCELLED"
	StatusFailed          TradeStatus = "FAILED" // broker rejected / could not execute
)

// ActiveTrade is the single in-flight trade the Trade Manager may hold at
// any moment. The spec mandates at most one ActiveTrade system-wide; the
// Trade Manager enforces this with an atomic.Pointer[ActiveTrade] CAS
// rather than a mutex-guarded field, so admission and exit supervision
// never race on the "is a trade already active" check.
type ActiveTrade struct {
	TradeID string // generated at entry execution, e.g. uuid

	Signal Signal

	EntryPrice decimal.Decimal
	EntryQty   int64
	EnteredAt  time.Time

	StopLoss decimal.Decimal
	Targets  [4]decimal.Decimal

	HighSinceEntry decimal.Decimal
	LowSinceEntry  decimal.Decimal
	Target1Hit     bool

	TrailingStop  decimal.Decimal // recalculated as price advances; zero until armed
	TrailingArmed bool

	RemainingQty int64 // starts equal to EntryQty, reduced by partial exits

	Status TradeStatus

	OrderID string // broker order id for the entry leg

	LastPrice decimal.Decimal // most recent known price, for the market-close sweeper's forced exit
}

// Direction returns the trade's side.
func (t *ActiveTrade) Direction() Direction {
	return t.Signal.Direction
}

// Favorable reports whether price has moved in the trade's favor relative
// to the entry price.
func (t *ActiveTrade) Favorable(price decimal.Decimal) bool {
	if t.Direction() == Long {
		return price.GreaterThan(t.EntryPrice)
	}
	return price.LessThan(t.EntryPrice)
}

// FavorablePercent returns how far price has moved in the trade's favor
// since entry, as a percentage (e.g. 2.0 for a 2% favorable move). Used
// to decide early trailing-stop activation.
func (t *ActiveTrade) FavorablePercent(price decimal.Decimal) decimal.Decimal {
	if t.EntryPrice.IsZero() {
		return decimal.Zero
	}
	diff := price.Sub(t.EntryPrice)
	if t.Direction() == Short {
		diff = diff.Neg()
	}
	return diff.Div(t.EntryPrice).Mul(decimal.NewFromInt(100))
}

// UpdateExtremes advances HighSinceEntry/LowSinceEntry from a closed
// candle's high/low, per spec §4.5.4 ("updated every candle").
func (t *ActiveTrade) UpdateExtremes(high, low decimal.Decimal) {
	if high.GreaterThan(t.HighSinceEntry) {
		t.HighSinceEntry = high
	}
	if t.LowSinceEntry.IsZero() || low.LessThan(t.LowSinceEntry) {
		t.LowSinceEntry = low
	}
}

// JSON returns the JSON-encoded trade for stream publication.
func (t *ActiveTrade) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}

// Open reports whether the trade is still live (has quantity remaining
// and has not reached a terminal status).
func (t *ActiveTrade) Open() bool {
	switch t.Status {
	case StatusClosedProfit, StatusClosedLoss, StatusClosedTime, StatusCancelled, StatusFailed:
		return false
	default:
		return t.RemainingQty > 0
	}
}
