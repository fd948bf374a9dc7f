package backtest

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"trade-execution-engine/internal/model"
)

// sink is the model.ResultSink a replay hands to the Trade Manager.
// Spec §4.7 wants a single terminal TradeResult per backtested signal
// even though the live path emits a separate PARTIAL_EXIT event per
// leg, so this sink folds every leg's PnL into one running total and
// only exposes the combined record once the position reaches a
// terminal outcome.
//
// result is the folded-down outcome of a single backtest replay.
type result struct {
	tradeID    string
	entryPrice decimal.Decimal
	entryQty   int64

	totalPnL decimal.Decimal
	lastLeg  model.TradeResult

	terminal bool // PublishTradeClosed/Cancelled/Failed has fired
	outcome  string
}

type sink struct {
	mu  sync.Mutex
	res result
}

func newSink() *sink {
	return &sink{}
}

func (s *sink) PublishSignalAdmitted(ctx context.Context, sig model.Signal) error {
	return nil
}

func (s *sink) PublishTradeEntered(ctx context.Context, t model.ActiveTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.res.tradeID = t.TradeID
	s.res.entryPrice = t.EntryPrice
	s.res.entryQty = t.EntryQty
	return nil
}

func (s *sink) PublishPartialExit(ctx context.Context, r model.TradeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.res.totalPnL = s.res.totalPnL.Add(r.PnL)
	s.res.lastLeg = r
	return nil
}

func (s *sink) PublishTradeClosed(ctx context.Context, r model.TradeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.res.totalPnL = s.res.totalPnL.Add(r.PnL)
	s.res.lastLeg = r
	s.res.terminal = true
	s.res.outcome = "closed"
	return nil
}

func (s *sink) PublishTradeCancelled(ctx context.Context, sig model.Signal, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.res.terminal = true
	s.res.outcome = "cancelled: " + reason
	return nil
}

func (s *sink) PublishTradeFailed(ctx context.Context, sig model.Signal, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.res.terminal = true
	s.res.outcome = "failed: " + reason
	return nil
}

func (s *sink) Close() error { return nil }

func (s *sink) snapshot() result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res
}
