package pivot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDailyPivotCaches(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		json.NewEncoder(w).Encode(pivotResponse{Price: 101.5, Available: true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, time.Minute)

	price, ok, err := c.DailyPivot(context.Background(), "NSE:1234")
	if err != nil || !ok || price != 101.5 {
		t.Fatalf("DailyPivot = %v, %v, %v", price, ok, err)
	}

	// Second call within TTL should hit the cache, not the server.
	if _, _, err := c.DailyPivot(context.Background(), "NSE:1234"); err != nil {
		t.Fatal(err)
	}
	if hits != 1 {
		t.Errorf("expected 1 upstream hit, got %d", hits)
	}
}

func TestDailyPivotNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, time.Minute)
	_, ok, err := c.DailyPivot(context.Background(), "NSE:9999")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected ok=false for 404 response")
	}
}
