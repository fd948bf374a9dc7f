package candle

import (
	"context"
	"log/slog"
	"time"

	"trade-execution-engine/internal/model"
)

// Resampler incrementally merges base-resolution candles into one or
// more coarser resolutions (e.g. one-minute candles into five-minute
// candles for entry confirmation), O(1) per input candle per target
// resolution, with a staleness tolerance guarding against late candles
// corrupting an already-advancing bucket.
type Resampler struct {
	resolutions []time.Duration
	states      []map[string]*resampleState

	// StaleTolerance bounds how far behind the current forming bucket an
	// incoming candle may be before it is rejected outright.
	StaleTolerance time.Duration

	OnCandle      func(c model.Candle)
	OnStaleCandle func()
	OnOHLCDefect  func()

	log *slog.Logger
}

type resampleState struct {
	bucket  time.Time
	candle  model.Candle
	started bool
}

// NewResampler builds a Resampler targeting the given resolutions.
func NewResampler(resolutions []time.Duration, log *slog.Logger) *Resampler {
	states := make([]map[string]*resampleState, len(resolutions))
	for i := range states {
		states[i] = make(map[string]*resampleState, 64)
	}
	return &Resampler{
		resolutions:    resolutions,
		states:         states,
		StaleTolerance: 2 * time.Second,
		log:            log,
	}
}

// Run consumes base-resolution candles from candleCh, resamples them,
// and emits forming snapshots and finalized candles to outCh for each
// configured resolution.
func (r *Resampler) Run(ctx context.Context, candleCh <-chan model.Candle, outCh chan<- model.Candle) {
	for {
		select {
		case <-ctx.Done():
			r.flushAll(outCh)
			return
		case c, ok := <-candleCh:
			if !ok {
				r.flushAll(outCh)
				return
			}
			r.Process(c, outCh)
		}
	}
}

// Process folds a single base-resolution candle into every target
// resolution's forming state. Exported so a caller can drive the
// resampler inline, without a channel.
func (r *Resampler) Process(c model.Candle, outCh chan<- model.Candle) {
	key := c.Key()

	for i, res := range r.resolutions {
		bucket := model.BucketStart(c.TS, res)
		st, exists := r.states[i][key]

		if r.StaleTolerance > 0 && exists && bucket.Before(st.bucket) {
			lag := st.bucket.Sub(bucket)
			if lag > r.StaleTolerance {
				if r.OnStaleCandle != nil {
					r.OnStaleCandle()
				}
				continue
			}
		}

		if exists && bucket.After(st.bucket) {
			r.finalize(outCh, st)
			exists = false
		}

		if !exists {
			newState := &resampleState{
				bucket:  bucket,
				started: true,
				candle: model.Candle{
					Token:      c.Token,
					Exchange:   c.Exchange,
					Resolution: res,
					TS:         bucket,
					Open:       c.Open,
					High:       c.High,
					Low:        c.Low,
					Close:      c.Close,
					Volume:     c.Volume,
					TicksCount: 1,
					Forming:    true,
				},
			}
			r.states[i][key] = newState
			emit(outCh, newState.candle)
			continue
		}

		fc := &st.candle
		if c.High.GreaterThan(fc.High) {
			fc.High = c.High
		}
		if c.Low.LessThan(fc.Low) {
			fc.Low = c.Low
		}
		fc.Close = c.Close
		fc.Volume += c.Volume
		fc.TicksCount++

		snap := *fc
		emit(outCh, snap)
	}
}

func (r *Resampler) finalize(outCh chan<- model.Candle, st *resampleState) {
	st.candle.Forming = false
	if !st.candle.Valid() {
		if r.log != nil {
			r.log.Warn("resampled candle failed OHLC invariant", "key", st.candle.Key(), "ts", st.candle.TS)
		}
		if r.OnOHLCDefect != nil {
			r.OnOHLCDefect()
		}
	}
	emit(outCh, st.candle)
	if r.OnCandle != nil {
		r.OnCandle(st.candle)
	}
}

func (r *Resampler) flushAll(outCh chan<- model.Candle) {
	for i := range r.resolutions {
		for key, st := range r.states[i] {
			if st.started {
				r.finalize(outCh, st)
			}
			delete(r.states[i], key)
		}
	}
}

func emit(outCh chan<- model.Candle, c model.Candle) {
	select {
	case outCh <- c:
	default:
	}
}
