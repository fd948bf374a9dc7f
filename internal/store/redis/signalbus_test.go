package redis

import (
	"testing"

	"github.com/shopspring/decimal"

	"trade-execution-engine/internal/model"
)

func TestSignalWire_ToSignal(t *testing.T) {
	w := signalWire{
		ScripCode:    "RELIANCE",
		CompanyName:  "Reliance Industries",
		Exchange:     "NSE",
		ExchangeType: "EQUITY",
		Direction:    "LONG",
		EntryPrice:   "2500.50",
		StopLoss:     "2480.00",
		Target1:      "2520.00",
		Target2:      "2540.00",
		Timestamp:    1700000000000,
		Confidence:   0.8,
		VolumeT:      100,
		SurgeT:       250,
	}

	sig := w.toSignal()

	if sig.ScripCode != "RELIANCE" {
		t.Errorf("ScripCode = %q, want RELIANCE", sig.ScripCode)
	}
	if sig.ExchangeType != model.ExchangeEquity {
		t.Errorf("ExchangeType = %v, want EQUITY", sig.ExchangeType)
	}
	if sig.Direction != model.Long {
		t.Errorf("Direction = %v, want LONG", sig.Direction)
	}
	want, _ := decimal.NewFromString("2500.50")
	if !sig.EntryHint.Equal(want) {
		t.Errorf("EntryHint = %v, want 2500.50", sig.EntryHint)
	}
	if sig.VolumeSurge != 2.5 {
		t.Errorf("VolumeSurge = %v, want 2.5 (surgeT/volumeT)", sig.VolumeSurge)
	}
	if sig.SignalKind != "LONG" {
		t.Errorf("SignalKind = %q, want fallback to direction LONG", sig.SignalKind)
	}
	if sig.OriginTimestamp.UnixMilli() != 1700000000000 {
		t.Errorf("OriginTimestamp millis = %d, want 1700000000000", sig.OriginTimestamp.UnixMilli())
	}
}

func TestSignalWire_SignalFieldFallback(t *testing.T) {
	w := signalWire{Signal: "SHORT"}
	sig := w.toSignal()
	if sig.Direction != model.Short {
		t.Errorf("Direction = %v, want SHORT (from legacy \"signal\" field)", sig.Direction)
	}
}

func TestSignalWire_DirectionWinsOverSignal(t *testing.T) {
	w := signalWire{Signal: "SHORT", Direction: "LONG"}
	sig := w.toSignal()
	if sig.Direction != model.Long {
		t.Errorf("Direction = %v, want LONG (direction field takes priority)", sig.Direction)
	}
}

func TestSignalWire_ZeroVolumeTGivesZeroSurge(t *testing.T) {
	w := signalWire{SurgeT: 100}
	sig := w.toSignal()
	if sig.VolumeSurge != 0 {
		t.Errorf("VolumeSurge = %v, want 0 when volumeT is 0", sig.VolumeSurge)
	}
}
