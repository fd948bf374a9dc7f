package trademanager

import (
	"context"

	"github.com/shopspring/decimal"

	"trade-execution-engine/internal/model"
)

// evaluateGates runs all three entry gates (spec §4.5.3) in order on
// the same closed candle. All must pass; a failing gate short-circuits
// the rest. On full pass it returns the confirmation stop-loss and the
// potential risk:reward, anchoring risk to the confirmation candle
// rather than the signal's original stop hint.
func (m *Manager) evaluateGates(ctx context.Context, entry *model.WatchlistEntry, candle model.Candle) (pass bool, stopLoss decimal.Decimal, potentialRR float64) {
	if !m.pivotRetestGate(ctx, entry, candle) {
		return false, decimal.Zero, 0
	}
	if !volumeGate(entry, candle, m.cfg.VolumeGateK) {
		return false, decimal.Zero, 0
	}
	if !patternGate(entry, candle) {
		return false, decimal.Zero, 0
	}

	stopLoss = confirmationStopLoss(entry.Signal.Direction, candle, m.cfg.StopLossBuffer)
	potentialRR = computePotentialRR(entry.Signal, candle.Close, stopLoss)
	return true, stopLoss, potentialRR
}

// pivotRetestGate implements spec §4.5.3 gate 1: a stateful breach latch
// plus same-candle reclaim.
func (m *Manager) pivotRetestGate(ctx context.Context, entry *model.WatchlistEntry, candle model.Candle) bool {
	pivot, ok := m.resolvePivot(ctx, entry)
	if !ok {
		return false
	}

	direction := entry.Signal.Direction
	switch direction {
	case model.Long:
		if candle.Low.LessThanOrEqual(pivot) {
			entry.HasBreachedPivot = true
		}
	case model.Short:
		if candle.High.GreaterThanOrEqual(pivot) {
			entry.HasBreachedPivot = true
		}
	}
	if !entry.HasBreachedPivot {
		return false
	}

	switch direction {
	case model.Long:
		return candle.Close.GreaterThan(pivot)
	case model.Short:
		return candle.Close.LessThan(pivot)
	default:
		return false
	}
}

// resolvePivot looks up the cached pivot on the entry, falling back to
// the Pivot Client, then to the signal's own pivot hint (spec §4.2:
// "callers must fall back to pre-computed hints carried on the signal").
func (m *Manager) resolvePivot(ctx context.Context, entry *model.WatchlistEntry) (decimal.Decimal, bool) {
	if entry.PivotAvailable {
		return entry.PivotPrice, true
	}
	if m.pivot != nil {
		if price, ok, err := m.pivot.DailyPivot(ctx, entry.Signal.ScripCode); err == nil && ok {
			entry.PivotPrice = decimal.NewFromFloat(price)
			entry.PivotAvailable = true
			return entry.PivotPrice, true
		}
	}
	if entry.Signal.PivotSource && !entry.Signal.EntryHint.IsZero() {
		entry.PivotPrice = entry.Signal.EntryHint
		entry.PivotAvailable = true
		return entry.PivotPrice, true
	}
	return decimal.Zero, false
}

// volumeGate implements spec §4.5.3 gate 2: current volume must be at
// least k times the rolling mean of prior candles in the trailing
// window. With no prior candles there is no baseline, so the gate
// fails closed rather than passing vacuously.
func volumeGate(entry *model.WatchlistEntry, candle model.Candle, k float64) bool {
	prior := priorCandles(entry)
	if len(prior) == 0 {
		return false
	}
	var sum int64
	for _, c := range prior {
		sum += c.Volume
	}
	mean := float64(sum) / float64(len(prior))
	if mean <= 0 {
		return false
	}
	return float64(candle.Volume) >= k*mean
}

// patternGate implements spec §4.5.3 gate 3: a two-candle engulfing
// pattern in the trade direction, compared on open/close only.
func patternGate(entry *model.WatchlistEntry, candle model.Candle) bool {
	prior := priorCandles(entry)
	if len(prior) == 0 {
		return false
	}
	prev := prior[len(prior)-1]

	switch entry.Signal.Direction {
	case model.Long:
		prevBearish := prev.Close.LessThan(prev.Open)
		currBullish := candle.Close.GreaterThan(candle.Open)
		engulfs := candle.Open.LessThanOrEqual(prev.Close) && candle.Close.GreaterThanOrEqual(prev.Open)
		return prevBearish && currBullish && engulfs
	case model.Short:
		prevBullish := prev.Close.GreaterThan(prev.Open)
		currBearish := candle.Close.LessThan(candle.Open)
		engulfs := candle.Open.GreaterThanOrEqual(prev.Close) && candle.Close.LessThanOrEqual(prev.Open)
		return prevBullish && currBearish && engulfs
	default:
		return false
	}
}

// priorCandles returns the recent-candle window excluding the
// just-appended current candle (the caller always pushes the current
// candle onto RecentCandles before calling evaluateGates).
func priorCandles(entry *model.WatchlistEntry) []model.Candle {
	if len(entry.RecentCandles) <= 1 {
		return nil
	}
	return entry.RecentCandles[:len(entry.RecentCandles)-1]
}

// confirmationStopLoss overrides the signal's hinted stop, anchoring
// risk to the confirmation candle's extreme plus a buffer (spec
// §4.5.3 step 4).
func confirmationStopLoss(direction model.Direction, candle model.Candle, buffer decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if direction == model.Long {
		return candle.Low.Mul(one.Sub(buffer))
	}
	return candle.High.Mul(one.Add(buffer))
}

// computePotentialRR is |firstTarget - entry| / |entry - stopLoss|,
// zero if risk is zero (spec §4.5.3 step 4).
func computePotentialRR(signal model.Signal, entry, stopLoss decimal.Decimal) float64 {
	risk := entry.Sub(stopLoss).Abs()
	if risk.IsZero() {
		return 0
	}
	reward := signal.FirstTarget().Sub(entry).Abs()
	rr, _ := reward.Div(risk).Float64()
	return rr
}
