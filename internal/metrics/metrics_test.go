package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTradeOutcome_WinRate(t *testing.T) {
	m := &Metrics{
		TradesWon:  prometheus.NewCounter(prometheus.CounterOpts{Name: "test_won"}),
		TradesLost: prometheus.NewCounter(prometheus.CounterOpts{Name: "test_lost"}),
		WinRate:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_win_rate"}),
	}

	m.RecordTradeOutcome(true)
	m.RecordTradeOutcome(true)
	m.RecordTradeOutcome(false)

	got := testutil.ToFloat64(m.WinRate)
	want := 2.0 / 3.0
	if got != want {
		t.Errorf("WinRate = %v, want %v", got, want)
	}
}

func TestHealthStatus_CheckAll_NilProbeIsHealthy(t *testing.T) {
	h := NewHealthStatus()
	h.CheckAll(context.Background(), nil, nil, nil, nil)

	if !h.BrokerOK || !h.BusOK || !h.PivotOK || !h.RepositoryOK {
		t.Error("nil probes should report healthy-by-absence, not down")
	}
}

func TestHealthStatus_CheckAll_FailingProbeMarksDown(t *testing.T) {
	h := NewHealthStatus()
	failing := ProbeFunc(func(ctx context.Context) error { return errors.New("dial tcp: connection refused") })
	h.CheckAll(context.Background(), failing, nil, nil, nil)

	if h.BrokerOK {
		t.Error("BrokerOK should be false after a failing probe")
	}
	if !h.BusOK {
		t.Error("BusOK should remain true when its probe is nil")
	}
}

func TestHealthStatus_ServeHTTP_DegradedOnOneDown(t *testing.T) {
	h := NewHealthStatus()
	h.CheckAll(context.Background(), ProbeFunc(func(ctx context.Context) error { return errors.New("down") }), nil, nil, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != 503 {
		t.Errorf("status code = %d, want 503 when one dependency is down", rec.Code)
	}
}

func TestHealthStatus_ServeHTTP_HealthyWhenAllUp(t *testing.T) {
	h := NewHealthStatus()
	h.CheckAll(context.Background(), nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Errorf("status code = %d, want 200 when all dependencies are up", rec.Code)
	}
}
