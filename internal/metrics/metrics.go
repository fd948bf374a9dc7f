// Package metrics exposes the trade execution engine's Prometheus
// metrics and health/liveness surface (spec §4.10), grounded verbatim on
// the teacher's internal/metrics/metrics.go shape: one Metrics struct of
// named Counters/Gauges/Histograms/Vecs registered once at construction,
// served via prometheus/client_golang/prometheus/promhttp alongside a
// /healthz endpoint.
package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric the trade execution engine
// publishes (spec §4.10's mandatory list: trades executed/won/lost,
// partial exits, broker orders failed, consumer lag per input stream,
// candle-defect count, circuit-breaker state, derived win rate).
type Metrics struct {
	TradesEntered      prometheus.Counter
	TradesWon          prometheus.Counter
	TradesLost         prometheus.Counter
	PartialExitsTotal  prometheus.Counter
	BrokerOrdersFailed *prometheus.CounterVec // labels: reason
	SignalConsumerLag  prometheus.Gauge       // pending entries in the signal consumer group
	CandleDefectsTotal prometheus.Counter     // OHLC-invariant violations observed
	BrokerCircuitState prometheus.Gauge       // 0=closed, 1=open, 2=half-open
	WinRate            prometheus.Gauge       // derived: TradesWon / (TradesWon + TradesLost)
	DeadLettersTotal   *prometheus.CounterVec // labels: source (router|broker|exit)

	won  int64 // atomic, backs WinRate's derivation alongside lost
	lost int64 // atomic
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TradesEntered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_trades_entered_total",
			Help: "Total trades entered",
		}),
		TradesWon: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_trades_won_total",
			Help: "Total trades closed at a profit",
		}),
		TradesLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_trades_lost_total",
			Help: "Total trades closed at a loss",
		}),
		PartialExitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_partial_exits_total",
			Help: "Total T1 partial-exit legs executed",
		}),
		BrokerOrdersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeengine_broker_orders_failed_total",
			Help: "Broker order placements that failed permanently or exhausted retries",
		}, []string{"reason"}),
		SignalConsumerLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeengine_signal_consumer_lag",
			Help: "Pending (unacked) entries in the signal consumer group",
		}),
		CandleDefectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_candle_defects_total",
			Help: "Candles rejected for violating the OHLC invariant",
		}),
		BrokerCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeengine_broker_circuit_state",
			Help: "Broker Gateway circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		WinRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeengine_win_rate",
			Help: "Fraction of closed trades that were profitable",
		}),
		DeadLettersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeengine_dead_letters_total",
			Help: "Payloads routed to the dead-letter path",
		}, []string{"source"}),
	}

	prometheus.MustRegister(
		m.TradesEntered,
		m.TradesWon,
		m.TradesLost,
		m.PartialExitsTotal,
		m.BrokerOrdersFailed,
		m.SignalConsumerLag,
		m.CandleDefectsTotal,
		m.BrokerCircuitState,
		m.WinRate,
		m.DeadLettersTotal,
	)

	return m
}

// RecordTradeOutcome increments TradesWon or TradesLost and recomputes the
// derived WinRate gauge. win is decided by the caller (ResultSink, on a
// terminal TradeResult) from the trade's PnL sign.
func (m *Metrics) RecordTradeOutcome(win bool) {
	var won, lost int64
	if win {
		m.TradesWon.Inc()
		won = atomic.AddInt64(&m.won, 1)
		lost = atomic.LoadInt64(&m.lost)
	} else {
		m.TradesLost.Inc()
		lost = atomic.AddInt64(&m.lost, 1)
		won = atomic.LoadInt64(&m.won)
	}
	total := won + lost
	if total > 0 {
		m.WinRate.Set(float64(won) / float64(total))
	}
}

// ProbeFunc checks liveness of one dependency, returning nil if healthy.
// cmd/ wiring supplies these as thin closures over the Broker Gateway,
// Signal/Candle Bus, Pivot client, and Trade Repository's own Ping
// methods.
type ProbeFunc func(ctx context.Context) error

// HealthStatus tracks liveness of the engine's four external dependencies
// (spec §4.10: "reporting broker/bus/pivot/repository liveness"),
// generalized from the teacher's WS/TF-builder/indicator-specific
// HealthStatus into the trade execution engine's own dependency set.
type HealthStatus struct {
	mu sync.RWMutex

	BrokerOK     bool `json:"broker_ok"`
	BusOK        bool `json:"bus_ok"`
	PivotOK      bool `json:"pivot_ok"`
	RepositoryOK bool `json:"repository_ok"`

	BrokerLatencyMs     float64   `json:"broker_latency_ms"`
	BusLatencyMs        float64   `json:"bus_latency_ms"`
	PivotLatencyMs      float64   `json:"pivot_latency_ms"`
	RepositoryLatencyMs float64   `json:"repository_latency_ms"`
	LastCheckAt         time.Time `json:"last_check_at"`
	StartedAt           time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetBrokerOK(v bool) {
	h.mu.Lock()
	h.BrokerOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetBusOK(v bool) {
	h.mu.Lock()
	h.BusOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetPivotOK(v bool) {
	h.mu.Lock()
	h.PivotOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRepositoryOK(v bool) {
	h.mu.Lock()
	h.RepositoryOK = v
	h.mu.Unlock()
}

// checkOne runs probe (if non-nil) and records its ok/latency under the
// supplied setters; a nil probe (dependency not wired, e.g. SHADOW mode
// skipping the broker) is reported healthy-by-absence rather than down.
func checkOne(ctx context.Context, probe ProbeFunc, setOK func(bool), setLatencyMs func(float64)) {
	if probe == nil {
		setOK(true)
		return
	}
	start := time.Now()
	err := probe(ctx)
	setOK(err == nil)
	setLatencyMs(float64(time.Since(start).Microseconds()) / 1000.0)
}

// CheckAll probes every wired dependency and records the results. Any of
// broker/bus/pivot/repo may be nil if that dependency isn't active in the
// current trading.mode.
func (h *HealthStatus) CheckAll(ctx context.Context, broker, bus, pivot, repo ProbeFunc) {
	checkOne(ctx, broker, h.SetBrokerOK, func(ms float64) {
		h.mu.Lock()
		h.BrokerLatencyMs = ms
		h.mu.Unlock()
	})
	checkOne(ctx, bus, h.SetBusOK, func(ms float64) {
		h.mu.Lock()
		h.BusLatencyMs = ms
		h.mu.Unlock()
	})
	checkOne(ctx, pivot, h.SetPivotOK, func(ms float64) {
		h.mu.Lock()
		h.PivotLatencyMs = ms
		h.mu.Unlock()
	})
	checkOne(ctx, repo, h.SetRepositoryOK, func(ms float64) {
		h.mu.Lock()
		h.RepositoryLatencyMs = ms
		h.mu.Unlock()
	})

	h.mu.Lock()
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs CheckAll on a fixed interval until ctx is
// cancelled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, broker, bus, pivot, repo ProbeFunc, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.CheckAll(probeCtx, broker, bus, pivot, repo)
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	downCount := 0
	for _, ok := range []bool{h.BrokerOK, h.BusOK, h.PivotOK, h.RepositoryOK} {
		if !ok {
			downCount++
		}
	}
	if downCount == 1 {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	} else if downCount > 1 {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	status := struct {
		Status              string  `json:"status"`
		Uptime              string  `json:"uptime"`
		BrokerOK            bool    `json:"broker_ok"`
		BrokerLatencyMs     float64 `json:"broker_latency_ms"`
		BusOK               bool    `json:"bus_ok"`
		BusLatencyMs        float64 `json:"bus_latency_ms"`
		PivotOK             bool    `json:"pivot_ok"`
		PivotLatencyMs      float64 `json:"pivot_latency_ms"`
		RepositoryOK        bool    `json:"repository_ok"`
		RepositoryLatencyMs float64 `json:"repository_latency_ms"`
		LastCheckAt         string  `json:"last_check_at"`
	}{
		Status:              overallStatus,
		Uptime:              time.Since(h.StartedAt).Round(time.Second).String(),
		BrokerOK:            h.BrokerOK,
		BrokerLatencyMs:     h.BrokerLatencyMs,
		BusOK:               h.BusOK,
		BusLatencyMs:        h.BusLatencyMs,
		PivotOK:             h.PivotOK,
		PivotLatencyMs:      h.PivotLatencyMs,
		RepositoryOK:        h.RepositoryOK,
		RepositoryLatencyMs: h.RepositoryLatencyMs,
		LastCheckAt:         h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
