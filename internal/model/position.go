package model

import "github.com/shopspring/decimal"

// Position represents a tracked trading position.
type Position struct {
	Token         string          `json:"token"`
	Exchange      string          `json:"exchange"`
	TradingSymbol string          `json:"trading_symbol"`
	ProductType   string          `json:"product_type"` // INTRADAY, DELIVERY
	Qty           int64           `json:"qty"`           // positive = long, negative = short
	AvgPrice      decimal.Decimal `json:"avg_price"`
	LastPrice     decimal.Decimal `json:"last_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
}

// UnrealizedPnL computes unrealized profit/loss.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.LastPrice.Sub(p.AvgPrice).Mul(decimal.NewFromInt(p.Qty))
}

// Key returns a unique key for this position: "exchange:token".
func (p *Position) Key() string {
	return p.Exchange + ":" + p.Token
}
