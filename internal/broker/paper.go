package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"trade-execution-engine/internal/model"
)

// PaperClient simulates order execution without a real broker connection.
// Adapted from the teacher's execution.PaperExecutor, generalized from
// int64-paise fills to decimal.Decimal and from a single slippage rate
// to a rate chosen per model.ExchangeType (equity vs. derivative; that
// binary type does not tell options apart from MCX).
type PaperClient struct {
	mu      sync.RWMutex
	orders  map[string]model.Order
	seq     int64
	log     *slog.Logger
	slipBps func(exchangeType model.ExchangeType) decimal.Decimal
}

// NewPaperClient builds a PaperClient. slipBps returns the slippage, in
// basis points, to apply for a given instrument's exchange type.
func NewPaperClient(slipBps func(model.ExchangeType) decimal.Decimal, log *slog.Logger) *PaperClient {
	return &PaperClient{
		orders:  make(map[string]model.Order),
		log:     log,
		slipBps: slipBps,
	}
}

// PlaceOrder fills immediately at the requested price adjusted for
// simulated slippage: buys fill higher, sells fill lower.
func (p *PaperClient) PlaceOrder(ctx context.Context, order model.Order) (model.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	seq := atomic.AddInt64(&p.seq, 1)
	order.OrderID = fmt.Sprintf("PAPER-%d", seq)
	order.Status = "COMPLETE"
	order.FilledQty = order.Qty

	fillPrice := order.Price
	bps := decimal.Zero
	if p.slipBps != nil {
		bps = p.slipBps(order.ExchangeType)
	}
	if !fillPrice.IsZero() && !bps.IsZero() {
		slip := fillPrice.Mul(bps).Div(decimal.NewFromInt(10000))
		if order.TransactionType == "BUY" {
			fillPrice = fillPrice.Add(slip)
		} else {
			fillPrice = fillPrice.Sub(slip)
		}
	}
	order.AvgPrice = fillPrice
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt

	p.orders[order.OrderID] = order
	p.log.Info("paper order filled", "order_id", order.OrderID, "symbol", order.TradingSymbol,
		"side", order.TransactionType, "qty", order.Qty, "fill_price", order.AvgPrice.String())
	return order, nil
}

// CancelOrder marks a paper order cancelled; paper fills are immediate
// so this only applies to orders not yet observed as complete.
func (p *PaperClient) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper broker: unknown order %s", orderID)
	}
	if o.Status == "COMPLETE" {
		return fmt.Errorf("paper broker: order %s already filled", orderID)
	}
	o.Status = "CANCELLED"
	o.UpdatedAt = time.Now()
	p.orders[orderID] = o
	return nil
}

// OrderStatus returns the last known state of a paper order.
func (p *PaperClient) OrderStatus(ctx context.Context, orderID string) (model.Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	o, ok := p.orders[orderID]
	if !ok {
		return model.Order{}, fmt.Errorf("paper broker: unknown order %s", orderID)
	}
	return o, nil
}
