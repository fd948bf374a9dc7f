package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"trade-execution-engine/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDLQ struct {
	writes int
	reason string
}

func (f *fakeDLQ) Write(ctx context.Context, payload []byte, reason string) error {
	f.writes++
	f.reason = reason
	return nil
}

// flakyClient fails the first failCount calls with a transient error,
// then succeeds.
type flakyClient struct {
	failCount int
	calls     int
	permanent bool
}

func (f *flakyClient) PlaceOrder(ctx context.Context, order model.Order) (model.Order, error) {
	f.calls++
	if f.calls <= f.failCount {
		if f.permanent {
			return model.Order{}, &PermanentError{Op: "place", Err: errors.New("instrument halted")}
		}
		return model.Order{}, &TransientError{Op: "place", Err: errors.New("503")}
	}
	order.OrderID = "OK-1"
	order.Status = "COMPLETE"
	return order, nil
}
func (f *flakyClient) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *flakyClient) OrderStatus(ctx context.Context, orderID string) (model.Order, error) {
	return model.Order{}, nil
}

func fastConfig() Config {
	return Config{
		RetryMax:            3,
		Backoff:             []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		CircuitMaxFailures:  3,
		CircuitResetTimeout: 50 * time.Millisecond,
	}
}

func TestPlaceOrderRetriesTransientThenSucceeds(t *testing.T) {
	client := &flakyClient{failCount: 2}
	dlq := &fakeDLQ{}
	g := NewGateway(client, fastConfig(), dlq, discardLogger())

	order := model.Order{ClientToken: "tok-1", Qty: 10}
	result, err := g.PlaceOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}
	if result.OrderID != "OK-1" {
		t.Errorf("OrderID = %q, want OK-1", result.OrderID)
	}
	if dlq.writes != 0 {
		t.Errorf("expected no dead letters, got %d", dlq.writes)
	}
}

func TestPlaceOrderIsIdempotent(t *testing.T) {
	client := &flakyClient{}
	g := NewGateway(client, fastConfig(), &fakeDLQ{}, discardLogger())

	order := model.Order{ClientToken: "tok-dup", Qty: 5}
	first, _ := g.PlaceOrder(context.Background(), order)
	second, _ := g.PlaceOrder(context.Background(), order)

	if client.calls != 1 {
		t.Errorf("expected 1 underlying call, got %d", client.calls)
	}
	if first.OrderID != second.OrderID {
		t.Errorf("idempotent calls returned different order IDs: %s vs %s", first.OrderID, second.OrderID)
	}
}

func TestPlaceOrderPermanentFailureSkipsRetryAndDeadLetters(t *testing.T) {
	client := &flakyClient{failCount: 5, permanent: true}
	dlq := &fakeDLQ{}
	g := NewGateway(client, fastConfig(), dlq, discardLogger())

	_, err := g.PlaceOrder(context.Background(), model.Order{ClientToken: "tok-perm"})
	if err == nil {
		t.Fatal("expected an error for permanent failure")
	}
	if client.calls != 1 {
		t.Errorf("expected exactly 1 attempt for a permanent failure, got %d", client.calls)
	}
	if dlq.writes != 1 {
		t.Errorf("expected 1 dead letter, got %d", dlq.writes)
	}
}

func TestPlaceOrderExhaustsRetriesAndOpensCircuit(t *testing.T) {
	client := &flakyClient{failCount: 100}
	dlq := &fakeDLQ{}
	g := NewGateway(client, fastConfig(), dlq, discardLogger())

	_, err := g.PlaceOrder(context.Background(), model.Order{ClientToken: "tok-fail"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if client.calls != 3 {
		t.Errorf("expected 3 attempts (retryMax), got %d", client.calls)
	}
	if g.CircuitState() != StateOpen {
		t.Errorf("expected circuit to be open after 3 consecutive failures, got %s", g.CircuitState())
	}
	if dlq.writes != 1 {
		t.Errorf("expected 1 dead letter, got %d", dlq.writes)
	}
}
