// Package sizing computes position sizes bounded by configured risk
// limits (spec §5 "max.risk.per.trade.percent", "max.position.size",
// "max.single.position.percent"), adapted from the teacher's
// portfolio.RiskManager bound-checking idiom into a forward-computing
// sizer instead of a post-hoc CanTrade check, since the Trade Manager
// needs a quantity before it can place an order.
package sizing

import (
	"github.com/shopspring/decimal"
)

// Limits bounds the quantity a Sizer may return.
type Limits struct {
	Capital                  decimal.Decimal
	MaxRiskPerTradePercent   decimal.Decimal // e.g. 1.0 for 1% of capital
	MaxPositionSize          int64           // absolute quantity ceiling
	MaxSinglePositionPercent decimal.Decimal // e.g. 10.0 for 10% of capital
}

// Sizer computes a position size for a confirmed entry.
type Sizer struct {
	limits Limits
}

// New builds a Sizer with the given limits.
func New(limits Limits) *Sizer {
	return &Sizer{limits: limits}
}

// Size returns the quantity to trade for an entry at entryPrice with a
// stop at stopLoss, or 0 if risk-per-unit is zero or the computed size
// would be less than 1 unit. The caller (Trade Manager §4.5.5) must
// abort entry execution on a zero result.
func (s *Sizer) Size(entryPrice, stopLoss decimal.Decimal) int64 {
	riskPerUnit := entryPrice.Sub(stopLoss).Abs()
	if riskPerUnit.IsZero() || entryPrice.IsZero() {
		return 0
	}

	maxRiskAmount := s.limits.Capital.Mul(s.limits.MaxRiskPerTradePercent).Div(decimal.NewFromInt(100))
	byRisk := maxRiskAmount.Div(riskPerUnit).IntPart()

	maxPositionValue := s.limits.Capital.Mul(s.limits.MaxSinglePositionPercent).Div(decimal.NewFromInt(100))
	bySinglePosition := maxPositionValue.Div(entryPrice).IntPart()

	size := byRisk
	if bySinglePosition < size {
		size = bySinglePosition
	}
	if s.limits.MaxPositionSize > 0 && s.limits.MaxPositionSize < size {
		size = s.limits.MaxPositionSize
	}
	if size < 1 {
		return 0
	}
	return size
}
