package trademanager

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	applog "trade-execution-engine/internal/logger"
	"trade-execution-engine/internal/model"
)

// exitCandidate describes a target-side exit event considered for the
// same-candle tie-break against a stop-loss hit.
type exitCandidate struct {
	price    decimal.Decimal
	finalize func(ctx context.Context) // runs the exit (partial or full), after tie-break resolves
}

// evaluateExit implements spec §4.5.4: exit priority (stop-loss, T1
// partial, gap-past-T1 protection, target-N full close, trailing stop)
// with the documented same-candle tie-break when both a stop and a
// target are touched.
func (m *Manager) evaluateExit(ctx context.Context, trade *model.ActiveTrade, candle model.Candle) {
	trade.UpdateExtremes(candle.High, candle.Low)
	trade.LastPrice = candle.Close
	direction := trade.Direction()

	stopHit := stopLossHit(trade, candle, direction)

	target := m.selectTargetEvent(trade, candle, direction)

	switch {
	case stopHit && target != nil:
		if tieBreakWinner(candle, trade.StopLoss, target.price, direction) == "stop" {
			m.executeStopLoss(ctx, trade, candle)
		} else {
			target.finalize(ctx)
		}
	case stopHit:
		m.executeStopLoss(ctx, trade, candle)
	case target != nil:
		target.finalize(ctx)
	default:
		m.evaluateTrailingStop(ctx, trade, candle, direction)
	}
}

func stopLossHit(trade *model.ActiveTrade, candle model.Candle, direction model.Direction) bool {
	if direction == model.Long {
		return candle.Low.LessThanOrEqual(trade.StopLoss)
	}
	return candle.High.GreaterThanOrEqual(trade.StopLoss)
}

// selectTargetEvent picks the single highest-priority target-side exit
// event applicable to this candle: T1 partial / gap-past-T1 protection
// when T1 hasn't fired yet, else the highest target-N reached.
func (m *Manager) selectTargetEvent(trade *model.ActiveTrade, candle model.Candle, direction model.Direction) *exitCandidate {
	if !trade.Target1Hit {
		t1 := trade.Targets[0]
		t2 := trade.Targets[1]

		// Gap-past-T1 protection: the candle's open already lies beyond T2
		// in the favorable direction, meaning price gapped straight past
		// the T1 level before this candle even opened — a fill exactly at
		// T1 is not reachable, so the partial is taken at the close
		// instead (spec §4.5.4 step 3).
		gapped := !t2.IsZero() && ((direction == model.Long && candle.Open.GreaterThanOrEqual(t2)) ||
			(direction == model.Short && candle.Open.LessThanOrEqual(t2)))
		if gapped {
			price := candle.Close
			return &exitCandidate{
				price: price,
				finalize: func(ctx context.Context) {
					m.executePartial(ctx, trade, price, model.ExitGapProtection)
				},
			}
		}

		t1Touched := (direction == model.Long && candle.High.GreaterThanOrEqual(t1)) ||
			(direction == model.Short && candle.Low.LessThanOrEqual(t1))
		if t1Touched {
			return &exitCandidate{
				price: t1,
				finalize: func(ctx context.Context) {
					m.executePartial(ctx, trade, t1, model.ExitPartialTarget1)
				},
			}
		}
		return nil
	}

	// T1 already hit: target-N full close, highest target reached wins.
	for i := 3; i >= 1; i-- {
		tN := trade.Targets[i]
		if tN.IsZero() {
			continue
		}
		touched := (direction == model.Long && candle.High.GreaterThanOrEqual(tN)) ||
			(direction == model.Short && candle.Low.LessThanOrEqual(tN))
		if touched {
			price := tN
			return &exitCandidate{
				price: price,
				finalize: func(ctx context.Context) {
					m.closeTrade(ctx, trade, price, model.ExitTargetN, trade.RemainingQty)
				},
			}
		}
	}
	return nil
}

// tieBreakWinner implements spec §4.5.4's same-candle tie-break.
func tieBreakWinner(candle model.Candle, stopPrice, targetPrice decimal.Decimal, direction model.Direction) string {
	switch direction {
	case model.Long:
		if candle.Open.LessThanOrEqual(stopPrice) {
			return "stop" // opened already below stop: gap down
		}
		if candle.Open.GreaterThanOrEqual(targetPrice) {
			return "target" // opened already above target: gap up
		}
	case model.Short:
		if candle.Open.GreaterThanOrEqual(stopPrice) {
			return "stop"
		}
		if candle.Open.LessThanOrEqual(targetPrice) {
			return "target"
		}
	}

	if candle.BullishBody() {
		// Bullish candle: the low is assumed touched before the high.
		if direction == model.Long {
			return "stop" // low = stop side, touched first
		}
		return "target" // SHORT: target is on the low side, touched first
	}
	// Bearish candle: high assumed touched before low.
	if direction == model.Long {
		return "target" // LONG: target is on the high side, touched first
	}
	return "stop"
}

func (m *Manager) evaluateTrailingStop(ctx context.Context, trade *model.ActiveTrade, candle model.Candle, direction model.Direction) {
	if !trade.TrailingArmed {
		if trade.Target1Hit || trade.FavorablePercent(candle.Close).GreaterThanOrEqual(m.cfg.EarlyTrailingActivationPercent) {
			trade.TrailingArmed = true
		} else {
			return
		}
	}

	percent := m.cfg.TrailingPercentEquity
	if trade.Signal.ExchangeType == model.ExchangeDerivative {
		percent = m.cfg.TrailingPercentDerivative
	}
	hundred := decimal.NewFromInt(100)

	var trigger decimal.Decimal
	if direction == model.Long {
		trigger = trade.HighSinceEntry.Mul(hundred.Sub(percent)).Div(hundred)
	} else {
		trigger = trade.LowSinceEntry.Mul(hundred.Add(percent)).Div(hundred)
	}
	trade.TrailingStop = trigger

	hit := (direction == model.Long && candle.Low.LessThanOrEqual(trigger)) ||
		(direction == model.Short && candle.High.GreaterThanOrEqual(trigger))
	if hit {
		m.closeTrade(ctx, trade, trigger, model.ExitTrailingStop, trade.RemainingQty)
	}
}

func (m *Manager) executeStopLoss(ctx context.Context, trade *model.ActiveTrade, candle model.Candle) {
	reason := model.ExitStopLoss
	m.closeTrade(ctx, trade, trade.StopLoss, reason, trade.RemainingQty)
}

// executePartial exits 50% of the remaining quantity at the nominal price,
// leaving the trade open in PARTIAL_EXIT status (spec §4.5.4 step 2/3).
// ExitPrice/PnL use the broker's actual slippage-adjusted fill, not the
// nominal trigger price.
func (m *Manager) executePartial(ctx context.Context, trade *model.ActiveTrade, price decimal.Decimal, reason model.ExitReason) {
	qty := trade.RemainingQty / 2
	if qty <= 0 {
		qty = trade.RemainingQty
	}

	fillPrice, err := m.placeExitOrder(ctx, trade, price, qty)
	if err != nil {
		m.failExit(ctx, trade, err)
		return
	}
	if fillPrice.IsZero() {
		fillPrice = price
	}

	trade.RemainingQty -= qty
	trade.Target1Hit = true
	trade.Status = model.StatusPartialExit

	result := model.TradeResult{
		TradeID:    trade.TradeID,
		ScripCode:  trade.Signal.ScripCode,
		Direction:  trade.Direction(),
		EntryPrice: trade.EntryPrice,
		ExitPrice:  fillPrice,
		Qty:        qty,
		EnteredAt:  trade.EnteredAt,
		ExitedAt:   time.Now(),
		Reason:     reason,
		PnL:        pnl(trade, fillPrice, qty),
		IsPartial:  true,
	}
	result.PnLPercent = pnlPercent(trade, fillPrice)

	if m.results != nil {
		_ = m.results.PublishPartialExit(ctx, result)
	}

	if trade.RemainingQty <= 0 {
		m.active.Store(nil)
	}
}

// closeTrade fully closes the trade (or its remaining quantity),
// publishes the terminal result, and clears the active-trade slot.
// ExitPrice/PnL use the broker's actual slippage-adjusted fill, not the
// nominal stop/target/trailing price passed in.
func (m *Manager) closeTrade(ctx context.Context, trade *model.ActiveTrade, price decimal.Decimal, reason model.ExitReason, qty int64) {
	if qty <= 0 {
		return
	}
	fillPrice, err := m.placeExitOrder(ctx, trade, price, qty)
	if err != nil {
		m.failExit(ctx, trade, err)
		return
	}
	if fillPrice.IsZero() {
		fillPrice = price
	}

	trade.RemainingQty -= qty
	tradePnL := pnl(trade, fillPrice, qty)
	trade.Status = terminalStatus(reason, tradePnL)

	result := model.TradeResult{
		TradeID:    trade.TradeID,
		ScripCode:  trade.Signal.ScripCode,
		Direction:  trade.Direction(),
		EntryPrice: trade.EntryPrice,
		ExitPrice:  fillPrice,
		Qty:        qty,
		EnteredAt:  trade.EnteredAt,
		ExitedAt:   time.Now(),
		Reason:     reason,
		PnL:        tradePnL,
		PnLPercent: pnlPercent(trade, fillPrice),
	}

	if m.results != nil {
		_ = m.results.PublishTradeClosed(ctx, result)
	}
	m.active.Store(nil)
}

// failExit transitions the trade to FAILED and raises a critical alert
// rather than leaving the logical position silently open (spec §4.5.4:
// "never leaves the logical position silently open").
func (m *Manager) failExit(ctx context.Context, trade *model.ActiveTrade, cause error) {
	m.log.Error("exit order failed", append([]any{"trade_id", trade.TradeID, "scrip", trade.Signal.ScripCode, "error", cause}, applog.LogWithTrace(ctx)...)...)
	trade.Status = model.StatusFailed
	if m.results != nil {
		_ = m.results.PublishTradeFailed(ctx, trade.Signal, cause.Error())
	}
	m.active.Store(nil)
}

// placeExitOrder places the exit against the nominal stop/target/trailing
// price and returns the broker's slippage-adjusted fill price, which
// callers must use for ExitPrice/PnL instead of the nominal price passed
// in (spec §4.7: exits fill at 1.5x the base slippage in the adverse
// direction, not at the exact stop/target level).
func (m *Manager) placeExitOrder(ctx context.Context, trade *model.ActiveTrade, price decimal.Decimal, qty int64) (decimal.Decimal, error) {
	side := "SELL"
	if trade.Direction() == model.Short {
		side = "BUY"
	}
	order := model.Order{
		ClientToken:     trade.TradeID + "-exit-" + string(trade.Status),
		Token:           trade.Signal.ScripCode,
		Exchange:        trade.Signal.Exchange,
		ExchangeType:    trade.Signal.ExchangeType,
		TransactionType: side,
		OrderType:       "MARKET",
		ProductType:     "INTRADAY",
		Variety:         "NORMAL",
		Qty:             qty,
		Price:           price,
	}
	placed, err := m.broker.PlaceOrder(ctx, order)
	if err != nil {
		return decimal.Zero, err
	}
	return placed.AvgPrice, nil
}

func terminalStatus(reason model.ExitReason, tradePnL decimal.Decimal) model.TradeStatus {
	if reason == model.ExitMarketClose {
		return model.StatusClosedTime
	}
	if tradePnL.IsNegative() {
		return model.StatusClosedLoss
	}
	return model.StatusClosedProfit
}

func pnl(trade *model.ActiveTrade, exitPrice decimal.Decimal, qty int64) decimal.Decimal {
	diff := exitPrice.Sub(trade.EntryPrice)
	if trade.Direction() == model.Short {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromInt(qty))
}

func pnlPercent(trade *model.ActiveTrade, exitPrice decimal.Decimal) decimal.Decimal {
	if trade.EntryPrice.IsZero() {
		return decimal.Zero
	}
	diff := exitPrice.Sub(trade.EntryPrice)
	if trade.Direction() == model.Short {
		diff = diff.Neg()
	}
	return diff.Div(trade.EntryPrice).Mul(decimal.NewFromInt(100))
}
