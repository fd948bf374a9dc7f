package trademanager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trade-execution-engine/internal/model"
	"trade-execution-engine/internal/sizing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func d(v string) decimal.Decimal {
	x, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return x
}

type alwaysOpenClock struct{}

func (alwaysOpenClock) IsMarketOpen(exchange string, t time.Time) bool              { return true }
func (alwaysOpenClock) IsWithinGoldenEntryWindow(exchange string, t time.Time) bool { return true }

type closedClock struct{}

func (closedClock) IsMarketOpen(exchange string, t time.Time) bool              { return false }
func (closedClock) IsWithinGoldenEntryWindow(exchange string, t time.Time) bool { return true }

type fakePivot struct {
	price float64
	ok    bool
}

func (p fakePivot) DailyPivot(ctx context.Context, instrumentKey string) (float64, bool, error) {
	return p.price, p.ok, nil
}

type noHistory struct{}

func (noHistory) Load(ctx context.Context, instrumentKey string, from, to time.Time) ([]model.Candle, error) {
	return nil, nil
}

type fakeResults struct {
	admitted  int
	entered   []model.ActiveTrade
	partials  []model.TradeResult
	closed    []model.TradeResult
	cancelled int
	failed    int
}

func (f *fakeResults) PublishSignalAdmitted(ctx context.Context, s model.Signal) error {
	f.admitted++
	return nil
}
func (f *fakeResults) PublishTradeEntered(ctx context.Context, t model.ActiveTrade) error {
	f.entered = append(f.entered, t)
	return nil
}
func (f *fakeResults) PublishPartialExit(ctx context.Context, r model.TradeResult) error {
	f.partials = append(f.partials, r)
	return nil
}
func (f *fakeResults) PublishTradeClosed(ctx context.Context, r model.TradeResult) error {
	f.closed = append(f.closed, r)
	return nil
}
func (f *fakeResults) PublishTradeCancelled(ctx context.Context, s model.Signal, reason string) error {
	f.cancelled++
	return nil
}
func (f *fakeResults) PublishTradeFailed(ctx context.Context, s model.Signal, reason string) error {
	f.failed++
	return nil
}
func (f *fakeResults) Close() error { return nil }

type fakeDLQ struct{}

func (fakeDLQ) Write(ctx context.Context, payload []byte, reason string) error { return nil }

type fakeBroker struct {
	seq      int
	canceled []string
}

func (b *fakeBroker) PlaceOrder(ctx context.Context, order model.Order) (model.Order, error) {
	b.seq++
	order.OrderID = fmt.Sprintf("ORD-%d", b.seq)
	order.AvgPrice = order.Price
	order.Status = "COMPLETE"
	return order, nil
}
func (b *fakeBroker) CancelOrder(ctx context.Context, orderID string) error {
	b.canceled = append(b.canceled, orderID)
	return nil
}
func (b *fakeBroker) OrderStatus(ctx context.Context, orderID string) (model.Order, error) {
	return model.Order{OrderID: orderID}, nil
}

func newTestManager(clk TradingClock, results *fakeResults, broker model.BrokerClient) *Manager {
	sizer := sizing.New(sizing.Limits{
		Capital:                  d("1000000"),
		MaxRiskPerTradePercent:   d("10"),
		MaxSinglePositionPercent: d("100"),
		MaxPositionSize:          100000,
	})
	return New(DefaultConfig(), clk, fakePivot{price: 98, ok: true}, noHistory{}, sizer, broker, results, fakeDLQ{}, discardLogger())
}

func baseSignal() model.Signal {
	return model.Signal{
		ScripCode:    "NSE:TEST",
		Exchange:     "NSE",
		ExchangeType: model.ExchangeEquity,
		Direction:    model.Long,
		EntryHint:    d("100"),
		StopLossHint: d("95"),
		Targets:      [4]decimal.Decimal{d("110"), d("120"), decimal.Zero, decimal.Zero},
		PivotSource:  false,
	}
}

func candle(ts time.Time, o, h, l, c string, vol int64) model.Candle {
	return model.Candle{
		Token:      "NSE:TEST",
		Exchange:   "NSE",
		Resolution: 5 * time.Minute,
		TS:         ts,
		Open:       d(o),
		High:       d(h),
		Low:        d(l),
		Close:      d(c),
		Volume:     vol,
	}
}

func TestAdmitRejectsWhenActiveOnSameInstrument(t *testing.T) {
	results := &fakeResults{}
	m := newTestManager(alwaysOpenClock{}, results, &fakeBroker{})
	m.active.Store(&model.ActiveTrade{Signal: baseSignal(), Status: model.StatusActive})

	err := m.Admit(context.Background(), baseSignal())
	if err == nil {
		t.Fatal("expected admission to be rejected while a position is active on the same instrument")
	}
}

func TestAdmitPublishesSignalAdmitted(t *testing.T) {
	results := &fakeResults{}
	m := newTestManager(alwaysOpenClock{}, results, &fakeBroker{})

	if err := m.Admit(context.Background(), baseSignal()); err != nil {
		t.Fatalf("Admit error: %v", err)
	}
	if results.admitted != 1 {
		t.Errorf("expected 1 admitted event, got %d", results.admitted)
	}
}

func TestOnClosedCandleConfirmsEntryThroughAllGates(t *testing.T) {
	results := &fakeResults{}
	broker := &fakeBroker{}
	m := newTestManager(alwaysOpenClock{}, results, broker)
	ctx := context.Background()

	now := time.Now()
	m.Admit(ctx, baseSignal())

	// Seed two prior bearish candles so the volume/pattern
	// gates have a baseline and a bearish prior body to engulf.
	prior1 := candle(now.Add(-10*time.Minute), "100", "101", "98", "99", 1000)
	m.OnClosedCandle(ctx, prior1)
	prior2 := candle(now.Add(-5*time.Minute), "99", "100", "97", "98", 1000)
	m.OnClosedCandle(ctx, prior2)

	// Confirmation candle: pivot breached (low <= pivot=98, available via
	// the fake Pivot Client) and reclaimed (close > pivot), volume surge,
	// bullish body engulfing the prior bearish body.
	confirm := candle(now, "97", "103", "96", "102", 5000)
	m.OnClosedCandle(ctx, confirm)

	if len(results.entered) != 1 {
		t.Fatalf("expected 1 trade entered, got %d (broker calls=%d)", len(results.entered), broker.seq)
	}
	if m.active.Load() == nil {
		t.Fatal("expected an active trade after confirmation")
	}
}

func TestSweepForceClosesOnMarketClose(t *testing.T) {
	results := &fakeResults{}
	broker := &fakeBroker{}
	m := newTestManager(closedClock{}, results, broker)

	trade := &model.ActiveTrade{
		TradeID:      "T1",
		Signal:       baseSignal(),
		EntryPrice:   d("100"),
		RemainingQty: 10,
		LastPrice:    d("105"),
		Status:       model.StatusActive,
	}
	m.active.Store(trade)

	m.Sweep(context.Background(), time.Now())

	if len(results.closed) != 1 {
		t.Fatalf("expected 1 closed trade from sweeper, got %d", len(results.closed))
	}
	if results.closed[0].Reason != model.ExitMarketClose {
		t.Errorf("expected MARKET_CLOSE_SWEEP reason, got %s", results.closed[0].Reason)
	}
	if m.active.Load() != nil {
		t.Error("expected active trade cleared after sweep")
	}
}

func TestSweepCancelsWaitingEntriesOnClosedMarket(t *testing.T) {
	results := &fakeResults{}
	m := newTestManager(closedClock{}, results, &fakeBroker{})
	m.Admit(context.Background(), baseSignal())

	m.Sweep(context.Background(), time.Now())

	if results.cancelled != 1 {
		t.Errorf("expected 1 cancelled watchlist entry, got %d", results.cancelled)
	}
}
