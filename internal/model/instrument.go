package model

import "github.com/shopspring/decimal"

// Instrument represents a tradeable instrument/symbol.
type Instrument struct {
	Token          string          `json:"token"`
	Exchange       string          `json:"exchange"`
	TradingSymbol  string          `json:"trading_symbol"`
	Name           string          `json:"name"`
	InstrumentType string          `json:"instrument_type"` // EQ, FUT, CE, PE
	LotSize        int             `json:"lot_size"`
	TickSize       decimal.Decimal `json:"tick_size"` // minimum price movement
}

// Key returns a unique key for this instrument: "exchange:token".
func (i *Instrument) Key() string {
	return i.Exchange + ":" + i.Token
}
