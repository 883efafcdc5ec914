// Package coingecko is a REST client for CoinGecko-compatible market data
// APIs, used as the primary quote provider.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// DefaultBaseURL is the public CoinGecko v3 API root.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// apiKeyHeader is sent when an API key is configured.
const apiKeyHeader = "x-cg-demo-api-key"

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Client fetches batched spot quotes from /simple/price.
type Client struct {
	baseURL    string
	apiKey     string
	vsCurrency string
	httpClient *http.Client
}

// NewClient creates a new client.
//
// baseURL is the API root, e.g. "https://api.coingecko.com/api/v3". An empty
// vsCurrency defaults to "usd"; a zero timeout defaults to 10s.
func NewClient(baseURL, apiKey, vsCurrency string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if vsCurrency == "" {
		vsCurrency = "usd"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		vsCurrency: strings.ToLower(vsCurrency),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchQuotes returns quotes for the given provider ids in a single request.
// Ids missing from the response, or carrying a non-positive price, are left
// out of the result rather than reported as an error.
func (c *Client) FetchQuotes(ctx context.Context, ids []string) (map[string]domain.ProviderQuote, error) {
	if len(ids) == 0 {
		return map[string]domain.ProviderQuote{}, nil
	}

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", c.vsCurrency)
	params.Set("include_24hr_change", "true")
	params.Set("include_market_cap", "true")
	params.Set("include_24hr_vol", "true")

	body, err := c.doGet(ctx, "/simple/price?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("coingecko: simple price: %w", err)
	}

	var raw map[string]map[string]*float64
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("coingecko: decode simple price: %w", err)
	}

	out := make(map[string]domain.ProviderQuote, len(raw))
	for id, fields := range raw {
		price := value(fields, c.vsCurrency)
		if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
			continue
		}
		out[id] = domain.ProviderQuote{
			Price:     price,
			Change24h: value(fields, c.vsCurrency+"_24h_change"),
			MarketCap: value(fields, c.vsCurrency+"_market_cap"),
			Volume24h: value(fields, c.vsCurrency+"_24h_vol"),
		}
	}
	return out, nil
}

func value(fields map[string]*float64, key string) float64 {
	if v := fields[key]; v != nil {
		return *v
	}
	return 0
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("read response: body exceeds %d bytes", maxResponseBytes)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
