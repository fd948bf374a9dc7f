package resultsink

import (
	"testing"

	"trade-execution-engine/internal/model"
)

func TestWarrantsWarning(t *testing.T) {
	cases := []struct {
		reason model.ExitReason
		want   bool
	}{
		{model.ExitStopLoss, true},
		{model.ExitMarketClose, true},
		{model.ExitPartialTarget1, false},
		{model.ExitTargetN, false},
		{model.ExitTrailingStop, false},
		{model.ExitGapProtection, false},
	}
	for _, c := range cases {
		if got := warrantsWarning(c.reason); got != c.want {
			t.Errorf("warrantsWarning(%v) = %v, want %v", c.reason, got, c.want)
		}
	}
}

func TestNew_PingFailureReturnsError(t *testing.T) {
	// No Redis is listening on this port; Ping must fail fast rather than
	// New() silently returning a client that will fail on first use.
	_, err := New(Config{Addr: "127.0.0.1:1"}, nil, nil, nil)
	if err == nil {
		t.Fatal("expected error dialing an unreachable redis address, got nil")
	}
}
