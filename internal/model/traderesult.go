package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ExitReason classifies how a trade (or a partial leg of one) terminated.
type ExitReason string

const (
	ExitStopLoss       ExitReason = "STOP_LOSS"
	ExitPartialTarget1 ExitReason = "PARTIAL_TARGET_1"
	ExitTargetN        ExitReason = "TARGET_N"
	ExitTrailingStop   ExitReason = "TRAILING_STOP"
	ExitGapProtection  ExitReason = "GAP_PROTECTION"
	ExitMarketClose    ExitReason = "MARKET_CLOSE_SWEEP"
	ExitCancelled      ExitReason = "CANCELLED"
	ExitBrokerFailure  ExitReason = "BROKER_FAILURE"
)

// TradeResult is the terminal record emitted when a trade (live or
// backtested) finishes, either fully or via a partial exit leg. Persisted
// by the trade-record repository and published by the Result Sink.
type TradeResult struct {
	TradeID    string          `json:"trade_id"`
	ScripCode  string          `json:"scrip_code"`
	Direction  Direction       `json:"direction"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	Qty        int64           `json:"qty"`
	EnteredAt  time.Time       `json:"entered_at"`
	ExitedAt   time.Time       `json:"exited_at"`
	Reason     ExitReason      `json:"reason"`
	PnL        decimal.Decimal `json:"pnl"`
	PnLPercent decimal.Decimal `json:"pnl_percent"`
	IsPartial  bool            `json:"is_partial"`
	Backtest   bool            `json:"backtest"`
}

// JSON returns the JSON-encoded result for stream publication.
func (r *TradeResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// Win reports whether this leg closed profitably.
func (r *TradeResult) Win() bool {
	return r.PnL.IsPositive()
}
