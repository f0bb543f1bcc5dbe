// Package coingecko fetches the ranked market listing from the CoinGecko
// /coins/markets endpoint.
package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
	"github.com/alanyoungcy/cryptoboard/internal/metrics"
)

const (
	// maxErrorBody bounds how much of a failed response is kept in the error.
	maxErrorBody = 512

	// A full /coins/markets element is about 1 KiB; these leave ample room.
	maxBytesPerAsset = 8 << 10
	bodySlack        = 64 << 10
)

// Config holds the client settings.
type Config struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	VsCurrency   string
	PerPage      int
	// MinAssets is the smallest plausible first page. Shorter pages are
	// reported as invalid payloads.
	MinAssets int
	Timeout   time.Duration
}

// Client is the REST client for the CoinGecko market listing.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new CoinGecko client.
//
// cfg.BaseURL is the API root, e.g. "https://api.coingecko.com/api/v3".
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.VsCurrency == "" {
		cfg.VsCurrency = "usd"
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 250
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "x-cg-demo-api-key"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// PerPage returns the configured page size.
func (c *Client) PerPage() int { return c.cfg.PerPage }

// FetchPage returns one page of the listing, 1-based, ordered by market cap.
// Assets carry a rank relative to the start of the whole listing. Every
// failure is a *domain.FetchError.
func (c *Client) FetchPage(ctx context.Context, page int) ([]domain.Asset, error) {
	start := time.Now()
	assets, err := c.fetchPage(ctx, page)

	outcome := "ok"
	if err != nil {
		var fe *domain.FetchError
		if errors.As(err, &fe) {
			outcome = fe.Kind.String()
		}
	}
	metrics.UpstreamRequests.WithLabelValues(outcome).Inc()
	metrics.UpstreamLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	return assets, err
}

func (c *Client) fetchPage(ctx context.Context, page int) ([]domain.Asset, error) {
	if page < 1 {
		page = 1
	}

	params := url.Values{}
	params.Set("vs_currency", c.cfg.VsCurrency)
	params.Set("order", "market_cap_desc")
	params.Set("per_page", strconv.Itoa(c.cfg.PerPage))
	params.Set("page", strconv.Itoa(page))
	params.Set("sparkline", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/coins/markets?"+params.Encode(), nil)
	if err != nil {
		return nil, &domain.FetchError{Kind: domain.KindTransport, Page: page, Err: fmt.Errorf("coingecko: create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set(c.cfg.APIKeyHeader, c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.FetchError{Kind: domain.KindTransport, Page: page, Err: fmt.Errorf("coingecko: execute request: %w", err)}
	}
	defer resp.Body.Close()

	limit := c.maxBody()
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &domain.FetchError{Kind: domain.KindTransport, Page: page, Err: fmt.Errorf("coingecko: read response body: %w", err)}
	}
	if err := checkHTTPStatus(page, resp, body); err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, &domain.FetchError{Kind: domain.KindInvalidPayload, Page: page, StatusCode: resp.StatusCode, Err: fmt.Errorf("coingecko: response exceeds %d bytes", limit)}
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, &domain.FetchError{Kind: domain.KindInvalidPayload, Page: page, StatusCode: resp.StatusCode, Err: fmt.Errorf("coingecko: decode markets: %w", err)}
	}
	if page == 1 && len(apiMarkets) < c.cfg.MinAssets {
		return nil, &domain.FetchError{
			Kind:       domain.KindInvalidPayload,
			Page:       page,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("coingecko: got %d assets, want at least %d", len(apiMarkets), c.cfg.MinAssets),
		}
	}

	offset := (page - 1) * c.cfg.PerPage
	assets := make([]domain.Asset, 0, len(apiMarkets))
	for i := range apiMarkets {
		if apiMarkets[i].ID == "" {
			return nil, &domain.FetchError{Kind: domain.KindInvalidPayload, Page: page, StatusCode: resp.StatusCode, Err: fmt.Errorf("coingecko: element %d has no id", i)}
		}
		assets = append(assets, apiMarkets[i].ToDomainAsset(offset+i+1))
	}
	return assets, nil
}

// maxBody bounds the response size of one page.
func (c *Client) maxBody() int64 {
	return int64(c.cfg.PerPage)*maxBytesPerAsset + bodySlack
}

// checkHTTPStatus maps non-2xx status codes to fetch errors.
func checkHTTPStatus(page int, resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	if len(bodyStr) > maxErrorBody {
		bodyStr = bodyStr[:maxErrorBody]
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &domain.FetchError{
			Kind:       domain.KindRateLimited,
			Page:       page,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        errors.New(bodyStr),
		}
	}
	return &domain.FetchError{
		Kind:       domain.KindUpstreamStatus,
		Page:       page,
		StatusCode: resp.StatusCode,
		Err:        errors.New(bodyStr),
	}
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
