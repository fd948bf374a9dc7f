package candle

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trade-execution-engine/internal/model"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func makeMinuteCandle(token string, unixSec, open, high, low, close_, vol int64) model.Candle {
	return model.Candle{
		Token:      token,
		Exchange:   "NSE",
		Resolution: time.Minute,
		TS:         time.Unix(unixSec, 0).UTC(),
		Open:       d(open),
		High:       d(high),
		Low:        d(low),
		Close:      d(close_),
		Volume:     vol,
		TicksCount: 1,
	}
}

func TestResampler_FiveMinuteBucket(t *testing.T) {
	r := NewResampler([]time.Duration{5 * time.Minute}, nil)
	r.StaleTolerance = 0
	outCh := make(chan model.Candle, 1000)

	baseTS := int64(1700000000)
	baseTS -= baseTS % 300

	for i := int64(0); i < 5; i++ {
		r.Process(makeMinuteCandle("SBIN", baseTS+i*60, 500+i, 510+i, 490+i, 505+i, 100), outCh)
	}

	for len(outCh) > 0 {
		c := <-outCh
		if !c.Forming {
			t.Fatalf("unexpected finalized candle before bucket close: %+v", c)
		}
	}

	r.Process(makeMinuteCandle("SBIN", baseTS+300, 600, 610, 590, 605, 100), outCh)

	var finalized *model.Candle
	for len(outCh) > 0 {
		c := <-outCh
		if !c.Forming {
			finalized = &c
			break
		}
	}
	if finalized == nil {
		t.Fatal("expected a finalized 5-minute candle after bucket close")
	}
	if !finalized.Open.Equal(d(500)) {
		t.Errorf("expected open=500, got %v", finalized.Open)
	}
	if !finalized.Close.Equal(d(509)) { // 505 + 4
		t.Errorf("expected close=509, got %v", finalized.Close)
	}
	if finalized.Volume != 500 {
		t.Errorf("expected volume=500, got %d", finalized.Volume)
	}
	if finalized.TicksCount != 5 {
		t.Errorf("expected tickscount=5, got %d", finalized.TicksCount)
	}
}

func TestResampler_PartialBucketNoFinalize(t *testing.T) {
	r := NewResampler([]time.Duration{5 * time.Minute}, nil)
	r.StaleTolerance = 0
	outCh := make(chan model.Candle, 100)

	baseTS := int64(1700000000)
	baseTS -= baseTS % 300

	for i := int64(0); i < 3; i++ {
		r.Process(makeMinuteCandle("X", baseTS+i*60, 100, 110, 90, 105, 1), outCh)
	}
	for {
		select {
		case c := <-outCh:
			if !c.Forming {
				t.Fatalf("unexpected finalized candle from partial bucket: %+v", c)
			}
		default:
			return
		}
	}
}

func TestResampler_MultiToken(t *testing.T) {
	r := NewResampler([]time.Duration{time.Minute}, nil)
	r.StaleTolerance = 0
	outCh := make(chan model.Candle, 1000)

	baseTS := int64(1700000000)
	baseTS -= baseTS % 60

	for i := int64(0); i < 60; i++ {
		r.Process(makeMinuteCandle("A", baseTS+i, 100, 110, 90, 105, 1), outCh)
		r.Process(makeMinuteCandle("B", baseTS+i, 200, 210, 190, 205, 2), outCh)
	}
	r.Process(makeMinuteCandle("A", baseTS+60, 100, 110, 90, 105, 1), outCh)
	r.Process(makeMinuteCandle("B", baseTS+60, 200, 210, 190, 205, 2), outCh)

	tokens := map[string]bool{}
	drained := 0
	for len(outCh) > 0 && drained < 1000 {
		c := <-outCh
		drained++
		if !c.Forming {
			tokens[c.Token] = true
		}
	}
	if !tokens["A"] || !tokens["B"] {
		t.Errorf("expected finalized candles for both A and B, got %v", tokens)
	}
}
