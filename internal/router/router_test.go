package router

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trade-execution-engine/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDLQ struct{ writes int }

func (f *fakeDLQ) Write(ctx context.Context, payload []byte, reason string) error {
	f.writes++
	return nil
}

type fakeLive struct{ admitted []model.Signal }

func (f *fakeLive) Admit(ctx context.Context, s model.Signal) error {
	f.admitted = append(f.admitted, s)
	return nil
}

type fakeBacktest struct{ enqueued []model.Signal }

func (f *fakeBacktest) Enqueue(ctx context.Context, s model.Signal) error {
	f.enqueued = append(f.enqueued, s)
	return nil
}

type alwaysOpen struct{}

func (alwaysOpen) IsMarketOpen(exchange string, t time.Time) bool { return true }

type alwaysClosed struct{}

func (alwaysClosed) IsMarketOpen(exchange string, t time.Time) bool { return false }

func validLongSignal(now time.Time) model.Signal {
	return model.Signal{
		ScripCode:       "NSE:RELIANCE",
		Exchange:        "NSE",
		Direction:       model.Long,
		EntryHint:       decimal.NewFromInt(100),
		StopLossHint:    decimal.NewFromInt(95),
		Targets:         [4]decimal.Decimal{decimal.NewFromInt(110), decimal.NewFromInt(120), decimal.Zero, decimal.Zero},
		OriginTimestamp: now.Add(-time.Second),
		IngestTimestamp: now,
		SignalKind:      "breakout",
	}
}

func TestOnSignalRoutesLiveWithinAgeAndHours(t *testing.T) {
	now := time.Now()
	live, backtest, dlq := &fakeLive{}, &fakeBacktest{}, &fakeDLQ{}
	r := New(DefaultConfig(), alwaysOpen{}, live, backtest, dlq, discardLogger())

	if err := r.OnSignal(context.Background(), validLongSignal(now)); err != nil {
		t.Fatalf("OnSignal error: %v", err)
	}
	if len(live.admitted) != 1 || len(backtest.enqueued) != 0 {
		t.Errorf("expected 1 live admission, got live=%d backtest=%d", len(live.admitted), len(backtest.enqueued))
	}
}

func TestOnSignalRoutesToBacktestWhenStale(t *testing.T) {
	now := time.Now()
	s := validLongSignal(now)
	s.OriginTimestamp = now.Add(-5 * time.Minute) // age > 120s threshold

	live, backtest := &fakeLive{}, &fakeBacktest{}
	r := New(DefaultConfig(), alwaysOpen{}, live, backtest, &fakeDLQ{}, discardLogger())

	if err := r.OnSignal(context.Background(), s); err != nil {
		t.Fatalf("OnSignal error: %v", err)
	}
	if len(backtest.enqueued) != 1 || len(live.admitted) != 0 {
		t.Errorf("expected stale signal routed to backtest, got live=%d backtest=%d", len(live.admitted), len(backtest.enqueued))
	}
}

func TestOnSignalRoutesToBacktestWhenMarketClosed(t *testing.T) {
	now := time.Now()
	live, backtest := &fakeLive{}, &fakeBacktest{}
	r := New(DefaultConfig(), alwaysClosed{}, live, backtest, &fakeDLQ{}, discardLogger())

	if err := r.OnSignal(context.Background(), validLongSignal(now)); err != nil {
		t.Fatalf("OnSignal error: %v", err)
	}
	if len(backtest.enqueued) != 1 || len(live.admitted) != 0 {
		t.Errorf("expected market-closed signal fallback to backtest, got live=%d backtest=%d", len(live.admitted), len(backtest.enqueued))
	}
}

func TestOnSignalRejectsClockSkew(t *testing.T) {
	now := time.Now()
	s := validLongSignal(now)
	s.OriginTimestamp = now.Add(time.Hour) // origin in the future -> negative age

	live, backtest, dlq := &fakeLive{}, &fakeBacktest{}, &fakeDLQ{}
	r := New(DefaultConfig(), alwaysOpen{}, live, backtest, dlq, discardLogger())

	if err := r.OnSignal(context.Background(), s); err != nil {
		t.Fatalf("OnSignal error: %v", err)
	}
	if dlq.writes != 1 || len(live.admitted) != 0 || len(backtest.enqueued) != 0 {
		t.Errorf("expected clock-skewed signal dead-lettered, got dlq=%d live=%d backtest=%d", dlq.writes, len(live.admitted), len(backtest.enqueued))
	}
}

func TestOnSignalDeduplicates(t *testing.T) {
	now := time.Now()
	live := &fakeLive{}
	r := New(DefaultConfig(), alwaysOpen{}, live, &fakeBacktest{}, &fakeDLQ{}, discardLogger())

	s := validLongSignal(now)
	r.OnSignal(context.Background(), s)
	r.OnSignal(context.Background(), s)

	if len(live.admitted) != 1 {
		t.Errorf("expected duplicate signal discarded, got %d admissions", len(live.admitted))
	}
}

func TestOnSignalRejectsInvalidDirectionConsistency(t *testing.T) {
	now := time.Now()
	s := validLongSignal(now)
	s.StopLossHint = decimal.NewFromInt(105) // invalid: LONG requires stopLoss < entryHint

	live, backtest, dlq := &fakeLive{}, &fakeBacktest{}, &fakeDLQ{}
	r := New(DefaultConfig(), alwaysOpen{}, live, backtest, dlq, discardLogger())
	r.OnSignal(context.Background(), s)

	if dlq.writes != 1 || len(live.admitted) != 0 {
		t.Errorf("expected invalid signal dead-lettered, got dlq=%d live=%d", dlq.writes, len(live.admitted))
	}
}

func TestOnSignalRejectsImplausibleEntryHint(t *testing.T) {
	now := time.Now()
	s := validLongSignal(now)
	s.EntryHint = decimal.NewFromInt(50_000_000) // implausible, e.g. a paise/rupee unit error

	live, backtest, dlq := &fakeLive{}, &fakeBacktest{}, &fakeDLQ{}
	r := New(DefaultConfig(), alwaysOpen{}, live, backtest, dlq, discardLogger())
	r.OnSignal(context.Background(), s)

	if dlq.writes != 1 || len(live.admitted) != 0 {
		t.Errorf("expected implausible entryHint dead-lettered, got dlq=%d live=%d", dlq.writes, len(live.admitted))
	}
}
