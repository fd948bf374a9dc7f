package backtest

import (
	"github.com/shopspring/decimal"

	"trade-execution-engine/internal/model"
)

// SlippageModel holds the per-asset-class basis-point slippage rates
// spec §5 "slippage.bps.equity/options/mcx" configures. The live engine
// only carries a binary model.ExchangeType (equity/derivative); the
// backtest slippage table additionally splits derivatives by exchange
// into options vs. commodity (MCX) since their microstructure differs.
type SlippageModel struct {
	EquityBps  decimal.Decimal
	OptionsBps decimal.Decimal
	McxBps     decimal.Decimal
}

// DefaultSlippageModel provides conservative defaults.
func DefaultSlippageModel() SlippageModel {
	return SlippageModel{
		EquityBps:  decimal.NewFromFloat(5),
		OptionsBps: decimal.NewFromFloat(15),
		McxBps:     decimal.NewFromFloat(10),
	}
}

// baseBpsFor maps a signal's exchange/exchangeType to the slippage rate
// that applies to its entry fill.
func (s SlippageModel) baseBpsFor(signal model.Signal) decimal.Decimal {
	if signal.ExchangeType == model.ExchangeEquity {
		return s.EquityBps
	}
	if signal.Exchange == "MCX" {
		return s.McxBps
	}
	return s.OptionsBps
}
