package coingecko

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
)

func marketsJSON(n int) string {
	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"id":"coin-%d","symbol":"c%d","name":"Coin %d","current_price":%d.5,"market_cap":%d,"price_change_percentage_24h":-1.25,"image":"https://img/%d.png"}`,
			i, i, i, i+1, 1000-i, i)
	}
	b.WriteString("]")
	return b.String()
}

func TestFetchPageSuccess(t *testing.T) {
	var gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/markets" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("x-cg-demo-api-key")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, marketsJSON(3))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "secret", PerPage: 3, MinAssets: 3})
	assets, err := c.FetchPage(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{"vs_currency=usd", "order=market_cap_desc", "per_page=3", "page=2", "sparkline=false"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("expected query to contain %q, got %q", want, gotQuery)
		}
	}
	if gotKey != "secret" {
		t.Errorf("expected api key header, got %q", gotKey)
	}
	if len(assets) != 3 {
		t.Fatalf("expected 3 assets, got %d", len(assets))
	}
	first := assets[0]
	if first.ID != "coin-0" || first.Symbol != "C0" || first.Name != "Coin 0" {
		t.Errorf("unexpected mapping: %+v", first)
	}
	// page 2 with 3 per page starts at rank 4
	if first.Rank != 4 || assets[2].Rank != 6 {
		t.Errorf("expected ranks 4..6, got %d..%d", first.Rank, assets[2].Rank)
	}
	if first.Price != 1.5 || first.MarketCap != 1000 || first.PriceChange24h != -1.25 {
		t.Errorf("unexpected numbers: %+v", first)
	}
}

func TestFetchPageNullNumbers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"x","symbol":"x","name":"X","current_price":null,"market_cap":null}]`)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, MinAssets: 1})
	assets, err := c.FetchPage(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if assets[0].Price != 0 || assets[0].MarketCap != 0 || assets[0].PriceChange24h != 0 {
		t.Errorf("expected zero values, got %+v", assets[0])
	}
}

func TestFetchPageNoKeyHeaderWhenUnset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v := r.Header.Get("x-cg-demo-api-key"); v != "" {
			t.Errorf("expected no api key header, got %q", v)
		}
		fmt.Fprint(w, marketsJSON(1))
	}))
	defer srv.Close()

	if _, err := NewClient(Config{BaseURL: srv.URL, MinAssets: 1}).FetchPage(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFetchPageClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		header   map[string]string
		kind     domain.FetchErrorKind
		sentinel error
	}{
		{"rate limited", http.StatusTooManyRequests, `{"status":"throttled"}`, map[string]string{"Retry-After": "7"}, domain.KindRateLimited, domain.ErrRateLimited},
		{"server error", http.StatusBadGateway, "bad gateway", nil, domain.KindUpstreamStatus, domain.ErrUpstreamStatus},
		{"unauthorized", http.StatusUnauthorized, "no", nil, domain.KindUpstreamStatus, domain.ErrUpstreamStatus},
		{"malformed", http.StatusOK, `{"not":"a list"}`, nil, domain.KindInvalidPayload, domain.ErrInvalidPayload},
		{"too short", http.StatusOK, marketsJSON(2), nil, domain.KindInvalidPayload, domain.ErrInvalidPayload},
		{"missing id", http.StatusOK, `[{"symbol":"a"},{"id":"b"},{"id":"c"}]`, nil, domain.KindInvalidPayload, domain.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			c := NewClient(Config{BaseURL: srv.URL, MinAssets: 3})
			_, err := c.FetchPage(context.Background(), 1)

			var fe *domain.FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("expected *domain.FetchError, got %v", err)
			}
			if fe.Kind != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, fe.Kind)
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("expected errors.Is(%v)", tt.sentinel)
			}
			if tt.kind == domain.KindRateLimited && fe.RetryAfter != 7*time.Second {
				t.Errorf("expected retry after 7s, got %s", fe.RetryAfter)
			}
		})
	}
}

func TestFetchPageTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, marketsJSON(3))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	_, err := c.FetchPage(context.Background(), 1)
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestFetchPageOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `[{"id":"coin-0","name":"%s"}]`, strings.Repeat("x", 200<<10))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, PerPage: 1, MinAssets: 1})
	_, err := c.FetchPage(context.Background(), 1)

	var fe *domain.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *domain.FetchError, got %v", err)
	}
	if fe.Kind != domain.KindInvalidPayload {
		t.Errorf("expected invalid payload, got %s", fe.Kind)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"-4", 0},
		{"garbage", 0},
		{now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second},
		{now.Add(-10 * time.Second).Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
