package config

import (
	"testing"
	"time"
)

func TestParseBackoff(t *testing.T) {
	c := &Config{BrokerRetryBackoffMs: "1000,2000,4000"}
	got := c.ParseBackoff()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestParseBackoff_EmptyFallsBackToDefault(t *testing.T) {
	c := &Config{BrokerRetryBackoffMs: ""}
	got := c.ParseBackoff()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 (default 1s/2s/4s)", len(got))
	}
}

func TestParseBackoff_SkipsInvalidEntries(t *testing.T) {
	c := &Config{BrokerRetryBackoffMs: "1000,bogus,3000"}
	got := c.ParseBackoff()
	want := []time.Duration{time.Second, 3 * time.Second}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
}

func TestSizingLimits_UsesConfiguredCapital(t *testing.T) {
	c := &Config{Capital: 500000, MaxRiskPerTradePercent: 2, MaxPositionSize: 5000, MaxSinglePositionPercent: 20}
	limits := c.SizingLimits()
	if limits.Capital.String() != "500000" {
		t.Fatalf("Capital = %s, want 500000", limits.Capital)
	}
	if limits.MaxPositionSize != 5000 {
		t.Errorf("MaxPositionSize = %d, want 5000", limits.MaxPositionSize)
	}
}
