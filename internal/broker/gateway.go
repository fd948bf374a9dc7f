// Package broker implements the Broker Gateway component (spec §4.6):
// idempotent order placement wrapped with retry + exponential backoff +
// a circuit breaker + dead-letter hand-off. The breaker's state machine
// (closed/open/half-open, consecutive-failure counter, reset timeout) is
// grounded on the teacher's Redis circuit breaker
// (internal/store/redis/circuitbreaker.go), folded directly into
// Gateway's own retry loop rather than kept as a standalone wrapper
// type, since Gateway is its only caller.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	applog "trade-execution-engine/internal/logger"
	"trade-execution-engine/internal/model"
)

// State is the Gateway's circuit breaker state.
type State int

const (
	StateClosed   State = 0 // normal operation — orders pass through
	StateOpen     State = 1 // tripped — orders rejected immediately
	StateHalfOpen State = 2 // testing — one order allowed through to probe
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the breaker is open.
var ErrCircuitOpen = fmt.Errorf("circuit breaker is open")

// Gateway wraps a model.BrokerClient with retry, a circuit breaker, and
// dead-letter hand-off on terminal failure.
type Gateway struct {
	client model.BrokerClient
	dlq    model.DeadLetterWriter
	log    *slog.Logger

	retryMax int
	backoff  []time.Duration

	mu   sync.Mutex
	seen map[string]model.Order // idempotency: client token -> placed order

	// circuit breaker state, guarded by cbMu independently of mu (the
	// idempotency cache lock) since a breaker trip and an order lookup
	// are unrelated concerns that shouldn't serialize against each other.
	cbMu           sync.Mutex
	cbState        State
	cbFailures     int
	cbMaxFailures  int
	cbResetTimeout time.Duration
	cbLastFailure  time.Time

	// OnAlert fires when the circuit breaker opens or a terminal failure
	// occurs, for the Result Sink's operator-alert path.
	OnAlert func(reason string)
}

// Config configures retry/backoff and circuit breaker thresholds.
type Config struct {
	RetryMax            int
	Backoff             []time.Duration // one entry per retry attempt after the first
	CircuitMaxFailures  int
	CircuitResetTimeout time.Duration
}

// DefaultConfig matches spec §6: 3 attempts, 1s/2s/4s backoff.
func DefaultConfig() Config {
	return Config{
		RetryMax:            3,
		Backoff:             []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		CircuitMaxFailures:  3,
		CircuitResetTimeout: 30 * time.Second,
	}
}

// NewGateway builds a Gateway wrapping client.
func NewGateway(client model.BrokerClient, cfg Config, dlq model.DeadLetterWriter, log *slog.Logger) *Gateway {
	return &Gateway{
		client:         client,
		dlq:            dlq,
		log:            log,
		retryMax:       cfg.RetryMax,
		backoff:        cfg.Backoff,
		seen:           make(map[string]model.Order),
		cbMaxFailures:  cfg.CircuitMaxFailures,
		cbResetTimeout: cfg.CircuitResetTimeout,
	}
}

// CircuitState reports the current circuit breaker state, for metrics.
func (g *Gateway) CircuitState() State {
	g.cbMu.Lock()
	defer g.cbMu.Unlock()
	return g.cbState
}

// Ping reports the broker as unhealthy whenever its circuit breaker is
// open, for use as a metrics.ProbeFunc. The broker wire protocol offers
// no cheap no-op liveness call, so circuit state is the proxy.
func (g *Gateway) Ping(_ context.Context) error {
	if g.CircuitState() == StateOpen {
		return fmt.Errorf("broker circuit breaker open")
	}
	return nil
}

// guard runs fn through the circuit breaker: rejects immediately while
// open (until resetTimeout elapses, at which point a single half-open
// probe is let through), trips to open after cbMaxFailures consecutive
// failures, and closes again on a successful probe.
func (g *Gateway) guard(fn func() error) error {
	g.cbMu.Lock()

	switch g.cbState {
	case StateOpen:
		if time.Since(g.cbLastFailure) > g.cbResetTimeout {
			g.transition(StateHalfOpen)
		} else {
			g.cbMu.Unlock()
			return ErrCircuitOpen
		}
	case StateHalfOpen:
		// a probe is already in flight; reject until it resolves
		g.cbMu.Unlock()
		return ErrCircuitOpen
	}

	g.cbMu.Unlock()

	err := fn()

	g.cbMu.Lock()
	defer g.cbMu.Unlock()

	if err != nil {
		g.cbFailures++
		g.cbLastFailure = time.Now()

		if g.cbState == StateHalfOpen {
			g.transition(StateOpen)
		} else if g.cbFailures >= g.cbMaxFailures {
			g.transition(StateOpen)
		}
		return err
	}

	if g.cbState == StateHalfOpen {
		g.transition(StateClosed)
	}
	g.cbFailures = 0
	return nil
}

// transition must be called with cbMu held.
func (g *Gateway) transition(to State) {
	from := g.cbState
	g.cbState = to
	if to == StateClosed {
		g.cbFailures = 0
	}
	g.log.Warn("broker circuit breaker state change", "from", from, "to", to)
	if to == StateOpen && g.OnAlert != nil {
		g.OnAlert("broker circuit breaker opened")
	}
}

// PlaceOrder places order idempotently: a repeated call with the same
// ClientToken returns the previously-placed order without re-submitting.
// Transient failures are retried with exponential backoff up to
// retryMax attempts; a permanent failure or an open circuit aborts
// immediately. Terminal failure hands the order off to the dead-letter
// sink.
func (g *Gateway) PlaceOrder(ctx context.Context, order model.Order) (model.Order, error) {
	if cached, ok := g.lookup(order.ClientToken); ok {
		return cached, nil
	}

	var lastErr error
	for attempt := 0; attempt < g.retryMax; attempt++ {
		var result model.Order
		err := g.guard(func() error {
			o, e := g.client.PlaceOrder(ctx, order)
			if e == nil {
				result = o
			}
			return e
		})
		if err == nil {
			g.store(order.ClientToken, result)
			return result, nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) {
			break
		}
		if !isTransient(err) {
			break
		}
		if attempt < g.retryMax-1 {
			select {
			case <-ctx.Done():
				return model.Order{}, ctx.Err()
			case <-time.After(g.backoff[attempt]):
			}
		}
	}

	g.deadLetter(ctx, order, lastErr)
	return model.Order{}, fmt.Errorf("broker: place order failed for %s: %w", order.ClientToken, lastErr)
}

// CancelOrder cancels a previously-placed order. Not retried: a stale
// cancel on an already-filled order is a permanent condition.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	return g.client.CancelOrder(ctx, orderID)
}

// OrderStatus queries the broker for reconciliation.
func (g *Gateway) OrderStatus(ctx context.Context, orderID string) (model.Order, error) {
	return g.client.OrderStatus(ctx, orderID)
}

func (g *Gateway) deadLetter(ctx context.Context, order model.Order, cause error) {
	if g.dlq == nil {
		return
	}
	payload := order.JSON()
	reason := "broker order placement exhausted retries"
	if cause != nil {
		reason = fmt.Sprintf("%s: %v", reason, cause)
	}
	if err := g.dlq.Write(ctx, payload, reason); err != nil {
		g.log.Error("failed to write broker dead letter", append([]any{"error", err}, applog.LogWithTrace(ctx)...)...)
	}
	if g.OnAlert != nil {
		g.OnAlert(reason)
	}
}

func (g *Gateway) lookup(token string) (model.Order, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.seen[token]
	return o, ok
}

func (g *Gateway) store(token string, order model.Order) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen[token] = order
}
