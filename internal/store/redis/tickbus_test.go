package redis

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	goredis "github.com/go-redis/redis/v8"
)

func newTestTickBus() *TickBus {
	return &TickBus{lastQty: make(map[string]int64), log: discardLogger()}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTickBus_DeltaQty_FirstReadingIsFullQuantity(t *testing.T) {
	b := newTestTickBus()
	got := b.deltaQty("NSE:RELIANCE", 1000)
	if got != 1000 {
		t.Errorf("deltaQty = %d, want 1000", got)
	}
}

func TestTickBus_DeltaQty_ComputesDeltaBetweenTicks(t *testing.T) {
	b := newTestTickBus()
	b.deltaQty("NSE:RELIANCE", 1000)
	got := b.deltaQty("NSE:RELIANCE", 1250)
	if got != 250 {
		t.Errorf("deltaQty = %d, want 250", got)
	}
}

func TestTickBus_DeltaQty_ResetCounterTakesFullReading(t *testing.T) {
	b := newTestTickBus()
	b.deltaQty("NSE:RELIANCE", 5000)
	got := b.deltaQty("NSE:RELIANCE", 100) // new session, counter reset
	if got != 100 {
		t.Errorf("deltaQty = %d, want 100 on counter reset", got)
	}
}

func TestTickBus_DeltaQty_TracksInstrumentsIndependently(t *testing.T) {
	b := newTestTickBus()
	b.deltaQty("NSE:RELIANCE", 1000)
	got := b.deltaQty("NSE:TCS", 500)
	if got != 500 {
		t.Errorf("deltaQty for distinct instrument = %d, want 500", got)
	}
}

func TestTickBus_ParseMessage_DecodesAndComputesDelta(t *testing.T) {
	b := newTestTickBus()
	wire := tickWire{
		Token:         "RELIANCE",
		LastRate:      "2500.50",
		High:          "2510.00",
		Low:           "2490.00",
		Exch:          "NSE",
		ExchType:      "C",
		TotalQuantity: 1000,
		TickDt:        1700000000000,
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		t.Fatal(err)
	}
	msg := goredis.XMessage{ID: "1-1", Values: map[string]interface{}{"data": string(raw)}}

	tick, ok := b.parseMessage(msg)
	if !ok {
		t.Fatal("parseMessage returned ok=false")
	}
	if tick.Token != "RELIANCE" || tick.Exchange != "NSE" {
		t.Errorf("tick identity = %+v", tick)
	}
	if tick.Qty != 1000 {
		t.Errorf("Qty = %d, want 1000 on first reading", tick.Qty)
	}
	if !tick.Price.Equal(parseDecimal("2500.50")) {
		t.Errorf("Price = %v, want 2500.50", tick.Price)
	}
	if !tick.High.Equal(parseDecimal("2510.00")) {
		t.Errorf("High = %v, want 2510.00", tick.High)
	}
	if !tick.Low.Equal(parseDecimal("2490.00")) {
		t.Errorf("Low = %v, want 2490.00", tick.Low)
	}

	// Second tick for the same instrument: delta, not cumulative.
	wire.TotalQuantity = 1400
	raw2, _ := json.Marshal(wire)
	msg2 := goredis.XMessage{ID: "1-2", Values: map[string]interface{}{"data": string(raw2)}}
	tick2, ok := b.parseMessage(msg2)
	if !ok {
		t.Fatal("parseMessage returned ok=false")
	}
	if tick2.Qty != 400 {
		t.Errorf("Qty = %d, want 400", tick2.Qty)
	}
}

func TestTickBus_ParseMessage_MissingHighLowFallsBackToLastPrice(t *testing.T) {
	b := newTestTickBus()
	wire := tickWire{Token: "RELIANCE", LastRate: "2500.50", Exch: "NSE", TotalQuantity: 1000, TickDt: 1700000000000}
	raw, err := json.Marshal(wire)
	if err != nil {
		t.Fatal(err)
	}
	msg := goredis.XMessage{ID: "1-1", Values: map[string]interface{}{"data": string(raw)}}

	tick, ok := b.parseMessage(msg)
	if !ok {
		t.Fatal("parseMessage returned ok=false")
	}
	if !tick.High.Equal(parseDecimal("2500.50")) || !tick.Low.Equal(parseDecimal("2500.50")) {
		t.Errorf("High/Low = %v/%v, want both to fall back to last price 2500.50", tick.High, tick.Low)
	}
}

func TestTickBus_ParseMessage_MissingDataFieldIsRejected(t *testing.T) {
	b := newTestTickBus()
	msg := goredis.XMessage{ID: "1-1", Values: map[string]interface{}{}}
	_, ok := b.parseMessage(msg)
	if ok {
		t.Fatal("expected ok=false for message without data field")
	}
}

func TestTickBus_ParseMessage_MalformedJSONIsRejected(t *testing.T) {
	b := newTestTickBus()
	msg := goredis.XMessage{ID: "1-1", Values: map[string]interface{}{"data": "{not json"}}
	_, ok := b.parseMessage(msg)
	if ok {
		t.Fatal("expected ok=false for malformed payload")
	}
}
