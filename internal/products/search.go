// Package products searches retail product listings for affordability
// conversations, with a one-hour response cache and an estimated-price
// fallback catalog for when the live API is unreachable.
package products

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cofina-ai/cofina-agent/internal/httpkit"
)

const cacheDuration = time.Hour

// Product is one search hit.
type Product struct {
	Name      string  `json:"name"`
	Price     string  `json:"price"`
	Currency  string  `json:"currency"`
	Store     string  `json:"store"`
	Rating    float64 `json:"rating,omitempty"`
	URL       string  `json:"url"`
	Estimated bool    `json:"estimated"`
}

// SearchResult is the outcome of one product search.
type SearchResult struct {
	Query    string    `json:"query"`
	Source   string    `json:"source"` // "live", "estimated", or "cache"
	Products []Product `json:"products"`
	Note     string    `json:"note,omitempty"`
}

type cacheEntry struct {
	result  *SearchResult
	expires time.Time
}

// Client searches a product API and falls back to the built-in catalog
// when the API is unavailable. Safe for concurrent use.
type Client struct {
	apiURL string
	apiKey string
	http   *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

// NewClient creates a product search client. An empty apiKey disables
// live lookups entirely and every search serves estimated prices.
func NewClient(apiURL, apiKey string) *Client {
	return &Client{
		apiURL: apiURL,
		apiKey: apiKey,
		http:   httpkit.NewClient(httpkit.WithTimeout(5 * time.Second)),
		cache:  make(map[string]cacheEntry),
		now:    time.Now,
	}
}

// Search returns up to limit products matching the query. Results are
// cached for an hour per query and optional maxPrice filter.
func (c *Client) Search(ctx context.Context, query string, limit int, maxPrice float64) (*SearchResult, error) {
	if limit < 1 {
		limit = 1
	} else if limit > 5 {
		limit = 5
	}

	key := fmt.Sprintf("%s:%d:%.2f", strings.ToLower(query), limit, maxPrice)
	if cached := c.lookup(key); cached != nil {
		out := *cached
		out.Source = "cache"
		return &out, nil
	}

	if c.apiKey != "" {
		if result, err := c.searchLive(ctx, query, limit, maxPrice); err == nil {
			c.store(key, result)
			return result, nil
		}
	}

	result := &SearchResult{
		Query:    query,
		Source:   "estimated",
		Products: filterByPrice(fallbackProducts(query), maxPrice, limit),
		Note:     "Live prices temporarily unavailable, showing estimated prices",
	}
	return result, nil
}

func (c *Client) lookup(key string) *SearchResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key]
	if !ok || c.now().After(entry.expires) {
		return nil
	}
	return entry.result
}

func (c *Client) store(key string, result *SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{result: result, expires: c.now().Add(cacheDuration)}
}

func (c *Client) searchLive(ctx context.Context, query string, limit int, maxPrice float64) (*SearchResult, error) {
	params := url.Values{
		"q":     {query},
		"limit": {strconv.Itoa(limit * 2)},
		"page":  {"1"},
	}
	if maxPrice > 0 {
		params.Set("max_price", strconv.FormatFloat(maxPrice, 'f', 2, 64))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("product API returned status %d", resp.StatusCode)
	}

	var payload struct {
		Products []struct {
			Title    string  `json:"title"`
			Price    string  `json:"price"`
			Currency string  `json:"currency"`
			Store    string  `json:"store"`
			Rating   float64 `json:"rating"`
			Link     string  `json:"link"`
		} `json:"products"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding product response: %w", err)
	}
	if len(payload.Products) == 0 {
		return nil, fmt.Errorf("no products returned for %q", query)
	}

	result := &SearchResult{Query: query, Source: "live"}
	for _, p := range payload.Products {
		if len(result.Products) >= limit {
			break
		}
		result.Products = append(result.Products, Product{
			Name:     p.Title,
			Price:    p.Price,
			Currency: p.Currency,
			Store:    p.Store,
			Rating:   p.Rating,
			URL:      p.Link,
		})
	}
	return result, nil
}

// fallbackCatalog maps query keywords to estimated listings.
var fallbackCatalog = map[string][]Product{
	"macbook": {
		{Name: "Apple MacBook Air 13-inch (M1)", Price: "$999", Currency: "USD", Store: "Apple", Rating: 4.8, URL: "https://www.apple.com/macbook-air/", Estimated: true},
		{Name: "Apple MacBook Pro 14-inch (M3)", Price: "$1,599", Currency: "USD", Store: "Apple", Rating: 4.9, URL: "https://www.apple.com/macbook-pro/", Estimated: true},
	},
	"laptop": {
		{Name: "Dell XPS 13", Price: "$1,199", Currency: "USD", Store: "Dell", Rating: 4.7, URL: "https://www.dell.com/xps13", Estimated: true},
		{Name: "HP Spectre x360", Price: "$1,299", Currency: "USD", Store: "HP", Rating: 4.6, URL: "https://www.hp.com/spectre", Estimated: true},
	},
	"iphone": {
		{Name: "iPhone 15 Pro", Price: "$999", Currency: "USD", Store: "Apple", Rating: 4.9, URL: "https://www.apple.com/iphone/", Estimated: true},
		{Name: "iPhone 15", Price: "$799", Currency: "USD", Store: "Apple", Rating: 4.8, URL: "https://www.apple.com/iphone/", Estimated: true},
	},
	"headphones": {
		{Name: "Sony WH-1000XM5", Price: "$398", Currency: "USD", Store: "Sony", Rating: 4.9, URL: "https://www.sony.com/headphones", Estimated: true},
		{Name: "Apple AirPods Pro (2nd gen)", Price: "$249", Currency: "USD", Store: "Apple", Rating: 4.8, URL: "https://www.apple.com/airpods/", Estimated: true},
	},
}

// categoryAliases route generic terms onto a catalog entry.
var categoryAliases = map[string]string{
	"computer": "laptop", "mac": "laptop", "pc": "laptop",
	"phone": "iphone", "smartphone": "iphone", "mobile": "iphone",
	"audio": "headphones", "earbuds": "headphones", "earphones": "headphones",
}

func fallbackProducts(query string) []Product {
	q := strings.ToLower(query)
	for key, products := range fallbackCatalog {
		if strings.Contains(q, key) {
			return products
		}
	}
	for alias, key := range categoryAliases {
		if strings.Contains(q, alias) {
			return fallbackCatalog[key]
		}
	}
	return []Product{{
		Name:      "Popular options for " + query,
		Price:     "Varies by model",
		Currency:  "USD",
		Store:     "Multiple retailers",
		Estimated: true,
	}}
}

func filterByPrice(products []Product, maxPrice float64, limit int) []Product {
	if maxPrice <= 0 {
		if len(products) > limit {
			return products[:limit]
		}
		return products
	}
	var out []Product
	for _, p := range products {
		price, ok := parsePrice(p.Price)
		if !ok || price <= maxPrice {
			out = append(out, p)
		}
		if len(out) >= limit {
			break
		}
	}
	return out
}

func parsePrice(s string) (float64, bool) {
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}
