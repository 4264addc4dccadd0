package products

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSearchFallbackWithoutAPIKey(t *testing.T) {
	c := NewClient("", "")
	result, err := c.Search(context.Background(), "macbook pro", 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if result.Source != "estimated" {
		t.Errorf("source = %q, want estimated", result.Source)
	}
	if len(result.Products) == 0 {
		t.Fatal("no fallback products")
	}
	for _, p := range result.Products {
		if !p.Estimated {
			t.Errorf("fallback product %q not marked estimated", p.Name)
		}
	}
}

func TestSearchFallbackCategoryAliases(t *testing.T) {
	c := NewClient("", "")
	result, err := c.Search(context.Background(), "a good smartphone", 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if result.Products[0].Name != "iPhone 15 Pro" {
		t.Errorf("alias lookup = %+v", result.Products)
	}
}

func TestSearchFallbackUnknownQuery(t *testing.T) {
	c := NewClient("", "")
	result, err := c.Search(context.Background(), "antique spoons", 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Products) != 1 || !result.Products[0].Estimated {
		t.Errorf("generic fallback = %+v", result.Products)
	}
}

func TestSearchFallbackPriceFilter(t *testing.T) {
	c := NewClient("", "")
	result, err := c.Search(context.Background(), "headphones", 5, 300)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range result.Products {
		if p.Name == "Sony WH-1000XM5" {
			t.Error("product over max price not filtered")
		}
	}
	if len(result.Products) == 0 {
		t.Error("filter removed everything")
	}
}

func TestSearchLive(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("api key header = %q", r.Header.Get("x-api-key"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"products": []map[string]any{
				{"title": "Widget One", "price": "$10", "currency": "USD", "store": "WidgetCo", "rating": 4.2, "link": "https://example.com/1"},
				{"title": "Widget Two", "price": "$20", "currency": "USD", "store": "WidgetCo", "rating": 4.0, "link": "https://example.com/2"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	result, err := c.Search(context.Background(), "widget", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if result.Source != "live" {
		t.Errorf("source = %q, want live", result.Source)
	}
	if len(result.Products) != 2 || result.Products[0].Name != "Widget One" {
		t.Errorf("products = %+v", result.Products)
	}

	// Second identical search hits the cache, not the server.
	cached, err := c.Search(context.Background(), "widget", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if cached.Source != "cache" {
		t.Errorf("source = %q, want cache", cached.Source)
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want 1", calls.Load())
	}
}

func TestSearchCacheExpiry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"products": []map[string]any{
				{"title": "Widget", "price": "$10", "currency": "USD", "store": "W", "link": "#"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	current := time.Now()
	c.now = func() time.Time { return current }

	if _, err := c.Search(context.Background(), "widget", 1, 0); err != nil {
		t.Fatal(err)
	}
	current = current.Add(2 * time.Hour)
	if _, err := c.Search(context.Background(), "widget", 1, 0); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("server called %d times after expiry, want 2", calls.Load())
	}
}

func TestSearchLiveFailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	result, err := c.Search(context.Background(), "laptop", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if result.Source != "estimated" {
		t.Errorf("source = %q, want estimated on API failure", result.Source)
	}
}
