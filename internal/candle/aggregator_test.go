package candle

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"trade-execution-engine/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tick(token string, price, qty int64, ts time.Time) model.Tick {
	return model.Tick{Token: token, Exchange: "NSE", Price: d(price), High: d(price), Low: d(price), Qty: qty, TickTS: ts}
}

func TestAggregator_BasicCandle(t *testing.T) {
	agg := NewAggregator(time.Second, discardLogger())
	tickCh := make(chan model.Tick, 100)
	candleCh := make(chan model.Candle, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agg.Run(ctx, tickCh, candleCh)
		close(done)
	}()

	now := time.Now().UTC().Truncate(time.Second)

	tickCh <- tick("3045", 50000, 10, now)
	tickCh <- tick("3045", 50500, 20, now.Add(200*time.Millisecond))
	tickCh <- tick("3045", 49800, 5, now.Add(500*time.Millisecond))
	tickCh <- tick("3045", 50100, 15, now.Add(1*time.Second))

	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	var candles []model.Candle
	for {
		select {
		case c := <-candleCh:
			candles = append(candles, c)
		default:
			goto collected
		}
	}
collected:

	if len(candles) < 1 {
		t.Fatalf("expected at least 1 candle, got %d", len(candles))
	}
	c := candles[0]
	if !c.Open.Equal(d(50000)) {
		t.Errorf("expected open=50000, got %v", c.Open)
	}
	if !c.High.Equal(d(50500)) {
		t.Errorf("expected high=50500, got %v", c.High)
	}
	if !c.Low.Equal(d(49800)) {
		t.Errorf("expected low=49800, got %v", c.Low)
	}
	if !c.Close.Equal(d(49800)) {
		t.Errorf("expected close=49800, got %v", c.Close)
	}
	if c.TicksCount != 3 {
		t.Errorf("expected ticks_count=3, got %d", c.TicksCount)
	}
}

// tickHL builds a tick with a reported high/low distinct from last price,
// the way the wire feed (and real exchange ticks) actually report them.
func tickHL(token string, last, high, low int64, ts time.Time) model.Tick {
	return model.Tick{Token: token, Exchange: "NSE", Price: d(last), High: d(high), Low: d(low), Qty: 1, TickTS: ts}
}

func TestAggregator_HighLowTrackReportedExtremesNotLastPrice(t *testing.T) {
	agg := NewAggregator(time.Second, discardLogger())
	tickCh := make(chan model.Tick, 100)
	candleCh := make(chan model.Candle, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agg.Run(ctx, tickCh, candleCh)
		close(done)
	}()

	now := time.Now().UTC().Truncate(time.Second)

	tickCh <- tickHL("3045", 100, 100, 100, now)
	tickCh <- tickHL("3045", 102, 103, 99, now.Add(100*time.Millisecond))
	tickCh <- tickHL("3045", 101, 104, 98, now.Add(200*time.Millisecond))
	tickCh <- tickHL("3045", 99, 104, 96, now.Add(300*time.Millisecond))

	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	var candles []model.Candle
	for {
		select {
		case c := <-candleCh:
			candles = append(candles, c)
		default:
			goto collected
		}
	}
collected:

	if len(candles) < 1 {
		t.Fatalf("expected at least 1 candle, got %d", len(candles))
	}
	c := candles[0]
	if !c.High.Equal(d(104)) {
		t.Errorf("expected high=104, got %v", c.High)
	}
	if !c.Low.Equal(d(96)) {
		t.Errorf("expected low=96, got %v", c.Low)
	}
}
