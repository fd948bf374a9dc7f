// Package candle implements the Candle Builder component (spec §4.3): a
// tick-to-candle aggregator followed by an incremental resampler,
// adapted from the teacher's agg/tfbuilder pair into a single pipeline
// operating on decimal prices and arbitrary resolutions instead of a
// fixed 1s-then-int-seconds-TF scheme.
package candle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trade-execution-engine/internal/model"
)

// Aggregator builds base-resolution OHLC candles from a stream of ticks,
// using an event-time watermark with a bounded reorder tolerance so that
// modestly out-of-order ticks don't corrupt an already-finalized bucket.
type Aggregator struct {
	mu         sync.Mutex
	states     map[string]*aggState
	resolution time.Duration

	flushInterval time.Duration
	reorderBuffer time.Duration

	maxEventTS time.Time
	watermark  time.Time

	// OnDroppedTick fires when the output channel is full and a candle
	// had to be dropped. OnLateTick fires when a tick lands behind the
	// watermark and is discarded. OnOHLCDefect fires when a finalized
	// candle fails its own OHLC invariant (still emitted, per spec §4.3).
	OnDroppedTick func()
	OnLateTick    func()
	OnOHLCDefect  func()

	log *slog.Logger
}

type aggState struct {
	bucket time.Time
	candle model.Candle
}

// NewAggregator builds an Aggregator for the given base resolution
// (typically one minute — see spec §4.3's historical-preload rate).
func NewAggregator(resolution time.Duration, log *slog.Logger) *Aggregator {
	return &Aggregator{
		states:        make(map[string]*aggState),
		resolution:    resolution,
		flushInterval: 100 * time.Millisecond,
		reorderBuffer: 300 * time.Millisecond,
		log:           log,
	}
}

// WatermarkDelay reports how far behind wall-clock the event-time
// watermark currently lags.
func (a *Aggregator) WatermarkDelay() time.Duration {
	a.mu.Lock()
	wm := a.watermark
	a.mu.Unlock()
	if wm.IsZero() {
		return 0
	}
	return time.Since(wm)
}

// Run consumes ticks from tickCh, aggregates into base-resolution
// candles, and emits finalized candles to candleCh. Blocks until ctx is
// cancelled or tickCh is closed, flushing any open candles on exit.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, candleCh chan<- model.Candle) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flushAll(candleCh)
			return
		case tick, ok := <-tickCh:
			if !ok {
				a.flushAll(candleCh)
				return
			}
			a.processTick(tick, candleCh)
		case <-ticker.C:
			a.flushOld(candleCh)
		}
	}
}

func (a *Aggregator) processTick(tick model.Tick, candleCh chan<- model.Candle) {
	canonical := tick.CanonicalTS()
	bucket := model.BucketStart(canonical, a.resolution)
	key := tick.Exchange + ":" + tick.Token

	a.mu.Lock()
	defer a.mu.Unlock()

	if canonical.After(a.maxEventTS) {
		a.maxEventTS = canonical
		a.watermark = a.maxEventTS.Add(-a.reorderBuffer)
	}

	if !a.watermark.IsZero() && canonical.Before(a.watermark) {
		cb := a.OnLateTick
		a.mu.Unlock()
		if cb != nil {
			cb()
		}
		a.mu.Lock()
		return
	}

	state, exists := a.states[key]

	if exists && bucket.Before(state.bucket) {
		// Tick belongs to an older, not-yet-finalized bucket — start a
		// separate state for it rather than corrupting the current one.
		a.states[key+":"+bucket.Format("15:04:05")] = &aggState{
			bucket: bucket,
			candle: newCandle(tick, bucket, a.resolution),
		}
		return
	}

	if exists && bucket.After(state.bucket) {
		a.emit(state, candleCh)
		delete(a.states, key)
		exists = false
	}

	if !exists {
		a.states[key] = &aggState{bucket: bucket, candle: newCandle(tick, bucket, a.resolution)}
		return
	}

	c := &state.candle
	if tick.High.GreaterThan(c.High) {
		c.High = tick.High
	}
	if tick.Low.LessThan(c.Low) {
		c.Low = tick.Low
	}
	c.Close = tick.Price
	c.Volume += tick.Qty
	c.TicksCount++
}

func newCandle(tick model.Tick, bucket time.Time, resolution time.Duration) model.Candle {
	return model.Candle{
		Token:      tick.Token,
		Exchange:   tick.Exchange,
		Resolution: resolution,
		TS:         bucket,
		Open:       tick.Price,
		High:       tick.High,
		Low:        tick.Low,
		Close:      tick.Price,
		Volume:     tick.Qty,
		TicksCount: 1,
		Forming:    true,
	}
}

func (a *Aggregator) flushOld(candleCh chan<- model.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.watermark.IsZero() {
		now := time.Now()
		for key, state := range a.states {
			if state.bucket.Before(now) {
				a.emit(state, candleCh)
				delete(a.states, key)
			}
		}
		return
	}
	for key, state := range a.states {
		if state.bucket.Before(a.watermark) {
			a.emit(state, candleCh)
			delete(a.states, key)
		}
	}
}

// FlushSession finalizes and emits all in-progress candles. Called at
// market close so the final candle includes the closing tick.
func (a *Aggregator) FlushSession(candleCh chan<- model.Candle) {
	a.flushAll(candleCh)
	a.log.Info("session flushed, all forming candles finalized")
}

func (a *Aggregator) flushAll(candleCh chan<- model.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, state := range a.states {
		a.emit(state, candleCh)
		delete(a.states, key)
	}
}

func (a *Aggregator) emit(state *aggState, candleCh chan<- model.Candle) {
	state.candle.Forming = false
	if !state.candle.Valid() {
		a.log.Warn("candle failed OHLC invariant", "key", state.candle.Key(), "ts", state.candle.TS)
		if a.OnOHLCDefect != nil {
			a.OnOHLCDefect()
		}
	}
	select {
	case candleCh <- state.candle:
	default:
		if a.OnDroppedTick != nil {
			a.OnDroppedTick()
		}
		a.log.Warn("candle channel full, dropping candle", "key", state.candle.Key(), "ts", state.candle.TS)
	}
}
