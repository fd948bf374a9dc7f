package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trade-execution-engine/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "trades.db")
	repo, err := New(Config{DBPath: dbPath}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleResult(tradeID string, exitedAt time.Time, pnl int64) model.TradeResult {
	return model.TradeResult{
		TradeID:    tradeID,
		ScripCode:  "RELIANCE",
		Direction:  model.Long,
		EntryPrice: decimal.NewFromInt(100),
		ExitPrice:  decimal.NewFromInt(100 + pnl),
		Qty:        10,
		EnteredAt:  exitedAt.Add(-time.Hour),
		ExitedAt:   exitedAt,
		Reason:     model.ExitTargetN,
		PnL:        decimal.NewFromInt(pnl * 10),
		PnLPercent: decimal.NewFromInt(pnl),
		Backtest:   true,
	}
}

func TestRecordAndQueryResults(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	if err := repo.RecordResult(ctx, sampleResult("t1", now, 5)); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
	if err := repo.RecordResult(ctx, sampleResult("t2", now.Add(time.Minute), -3)); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}

	results, err := repo.Results(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	// newest first
	if results[0].TradeID != "t2" {
		t.Errorf("expected t2 first (newest), got %s", results[0].TradeID)
	}
	if !results[1].PnL.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected pnl 50 for t1, got %s", results[1].PnL)
	}
}

func TestRecordDeadLetter(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	err := repo.RecordDeadLetter(ctx, []byte(`{"bad":"payload"}`), "validation failure", time.Now())
	if err != nil {
		t.Fatalf("RecordDeadLetter: %v", err)
	}

	var count int
	if err := repo.db.QueryRow(`SELECT COUNT(*) FROM dead_letters`).Scan(&count); err != nil {
		t.Fatalf("query dead_letters: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 dead letter row, got %d", count)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name string
		r    model.TradeResult
		want model.TradeStatus
	}{
		{"partial", model.TradeResult{IsPartial: true}, model.StatusPartialExit},
		{"stop loss", model.TradeResult{Reason: model.ExitStopLoss}, model.StatusClosedLoss},
		{"market close", model.TradeResult{Reason: model.ExitMarketClose}, model.StatusClosedTime},
		{"cancelled", model.TradeResult{Reason: model.ExitCancelled}, model.StatusCancelled},
		{"broker failure", model.TradeResult{Reason: model.ExitBrokerFailure}, model.StatusFailed},
		{"target profit", model.TradeResult{Reason: model.ExitTargetN, PnL: decimal.NewFromInt(10)}, model.StatusClosedProfit},
		{"target loss", model.TradeResult{Reason: model.ExitTargetN, PnL: decimal.NewFromInt(-10)}, model.StatusClosedLoss},
	}
	for _, c := range cases {
		if got := statusFor(c.r); got != c.want {
			t.Errorf("%s: statusFor() = %v, want %v", c.name, got, c.want)
		}
	}
}
