// Package pivot implements the Pivot Client component (spec §4.2): a
// read-through cache over a remote daily-pivot service. The HTTP call
// shape (timeout'd http.Client, GET with query params, JSON decode) is
// carried over from the teacher's broker client idiom; the TOTP/session
// machinery that client needs for a live broker login is out of scope
// here, since the Pivot Client talks to a simple read-only service.
package pivot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Client is a read-through cache for daily pivot prices. Pivots are
// computed once per trading day upstream and change only at session
// rollover, so a TTL cache avoids hammering the pivot service on every
// candle tick.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	cache map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	price     float64
	available bool
	expiresAt time.Time
}

// NewClient builds a pivot Client against baseURL, with requests bounded
// by timeout and cache entries valid for ttl.
func NewClient(baseURL string, timeout, ttl time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		cache:   make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

type pivotResponse struct {
	Price     float64 `json:"price"`
	Available bool    `json:"available"`
}

// DailyPivot implements model.PivotClient: returns the cached pivot if
// fresh, otherwise fetches and caches it.
func (c *Client) DailyPivot(ctx context.Context, instrumentKey string) (float64, bool, error) {
	if entry, ok := c.lookup(instrumentKey); ok {
		return entry.price, entry.available, nil
	}

	q := url.Values{}
	q.Set("instrument", instrumentKey)
	reqURL := c.baseURL + "/pivots?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, false, fmt.Errorf("pivot: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("pivot: request %s: %w", instrumentKey, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.store(instrumentKey, cacheEntry{available: false, expiresAt: time.Now().Add(c.ttl)})
		return 0, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, false, fmt.Errorf("pivot: %s returned status %d", instrumentKey, resp.StatusCode)
	}

	var out pivotResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, false, fmt.Errorf("pivot: decode response for %s: %w", instrumentKey, err)
	}

	c.store(instrumentKey, cacheEntry{
		price:     out.Price,
		available: out.Available,
		expiresAt: time.Now().Add(c.ttl),
	})
	return out.Price, out.Available, nil
}

// Ping reports whether the pivot service is reachable, for use as a
// metrics.ProbeFunc.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("pivot: build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pivot: health request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("pivot: health check returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) lookup(key string) (cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return cacheEntry{}, false
	}
	return entry, true
}

func (c *Client) store(key string, entry cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = entry
}
