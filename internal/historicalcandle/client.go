// Package historicalcandle implements the historical-candle service
// client (spec §6): an HTTP client supplying the 1-minute candles the
// Trade Manager needs for watchlist preload (spec §4.5.2) and the
// Backtest Engine needs for stale/after-hours signal replay (spec
// §4.7). Grounded on the same timeout'd http.Client idiom as
// internal/pivot, which is itself grounded on pkg/smartconnect/client.go.
package historicalcandle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"trade-execution-engine/internal/model"
)

// Client implements model.HistoricalCandleSource over a remote
// historical-candle service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client against baseURL, with requests bounded by timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type candleWire struct {
	Exchange string `json:"exchange"`
	Token    string `json:"token"`
	TS       int64  `json:"ts"` // unix seconds
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   int64  `json:"volume"`
}

// Load implements model.HistoricalCandleSource: fetches closed
// 1-minute candles for instrumentKey in [from, to).
func (c *Client) Load(ctx context.Context, instrumentKey string, from, to time.Time) ([]model.Candle, error) {
	q := url.Values{}
	q.Set("instrument", instrumentKey)
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("to", strconv.FormatInt(to.Unix(), 10))
	reqURL := c.baseURL + "/candles?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("historicalcandle: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("historicalcandle: request %s: %w", instrumentKey, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("historicalcandle: %s returned status %d", instrumentKey, resp.StatusCode)
	}

	var wire []candleWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("historicalcandle: decode response for %s: %w", instrumentKey, err)
	}

	candles := make([]model.Candle, 0, len(wire))
	for _, w := range wire {
		candles = append(candles, model.Candle{
			Token:      w.Token,
			Exchange:   w.Exchange,
			Resolution: time.Minute,
			TS:         time.Unix(w.TS, 0).UTC(),
			Open:       mustDecimal(w.Open),
			High:       mustDecimal(w.High),
			Low:        mustDecimal(w.Low),
			Close:      mustDecimal(w.Close),
			Volume:     w.Volume,
			Forming:    false,
		})
	}
	return candles, nil
}

// Ping reports whether the historical-candle service is reachable, for
// use as a metrics.ProbeFunc.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("historicalcandle: build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("historicalcandle: health request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("historicalcandle: health check returned status %d", resp.StatusCode)
	}
	return nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
