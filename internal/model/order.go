package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a broker order placed by the Broker Gateway.
type Order struct {
	OrderID         string          `json:"order_id"`
	ClientToken     string          `json:"client_token"` // idempotency key supplied on placement
	Token           string          `json:"token"`
	Exchange        string          `json:"exchange"`
	ExchangeType    ExchangeType    `json:"exchange_type"` // instrument asset class, drives per-class slippage
	TradingSymbol   string          `json:"trading_symbol"`
	TransactionType string          `json:"transaction_type"` // BUY, SELL
	OrderType       string          `json:"order_type"`       // MARKET, LIMIT, SL, SL-M
	ProductType     string          `json:"product_type"`     // INTRADAY, DELIVERY, CARRYFORWARD
	Variety         string          `json:"variety"`          // NORMAL, STOPLOSS, AMO
	Qty             int64           `json:"qty"`
	Price           decimal.Decimal `json:"price"`         // limit price (zero value for market)
	TriggerPrice    decimal.Decimal `json:"trigger_price"` // trigger price
	Status          string          `json:"status"`        // PLACED, OPEN, COMPLETE, REJECTED, CANCELLED
	FilledQty       int64           `json:"filled_qty"`
	AvgPrice        decimal.Decimal `json:"avg_price"` // fill average
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// JSON marshals the order for dead-letter persistence.
func (o Order) JSON() []byte {
	b, _ := json.Marshal(o)
	return b
}
