// Package marketdata implements the external price source: a REST quote
// client and a streaming tick feed. Only the valuation side consumes it;
// trade prices always come from the order confirmation.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oakline/wealthcore/internal/domain"
)

// Client is the REST client for the market-data provider's quote API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a quote client. timeout bounds each request; the
// accounting side never waits on this client, so a generous timeout here
// cannot stall a ledger mutation.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type apiQuote struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("marketdata: create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketdata: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("marketdata: %s: unexpected status %d: %s", path, resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

// CurrentPrice returns the latest quote for a ticker, or domain.ErrNotFound
// for an unknown symbol.
func (c *Client) CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	body, err := c.doGet(ctx, "/v1/quote/"+url.PathEscape(ticker))
	if err != nil {
		return decimal.Zero, fmt.Errorf("marketdata: quote %s: %w", ticker, err)
	}

	var q apiQuote
	if err := json.Unmarshal(body, &q); err != nil {
		return decimal.Zero, fmt.Errorf("marketdata: decode quote %s: %w", ticker, err)
	}
	price, err := decimal.NewFromString(q.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("marketdata: parse price %s=%q: %w", ticker, q.Price, err)
	}
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("marketdata: non-positive price for %s", ticker)
	}
	return price, nil
}

// Quote returns the full observation including the provider's timestamp.
func (c *Client) Quote(ctx context.Context, ticker string) (domain.Quote, error) {
	body, err := c.doGet(ctx, "/v1/quote/"+url.PathEscape(ticker))
	if err != nil {
		return domain.Quote{}, fmt.Errorf("marketdata: quote %s: %w", ticker, err)
	}

	var q apiQuote
	if err := json.Unmarshal(body, &q); err != nil {
		return domain.Quote{}, fmt.Errorf("marketdata: decode quote %s: %w", ticker, err)
	}
	price, err := decimal.NewFromString(q.Price)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("marketdata: parse price %s=%q: %w", ticker, q.Price, err)
	}
	asOf := time.Unix(q.Timestamp, 0).UTC()
	if q.Timestamp == 0 {
		asOf = time.Now().UTC()
	}
	return domain.Quote{Ticker: ticker, Price: price, AsOf: asOf}, nil
}

// IsValidSymbol reports whether the provider recognizes the ticker. A
// syntactically invalid ticker is rejected without a network round trip.
func (c *Client) IsValidSymbol(ctx context.Context, ticker string) (bool, error) {
	if !domain.ValidTicker(ticker) {
		return false, nil
	}
	_, err := c.doGet(ctx, "/v1/symbols/"+url.PathEscape(ticker))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("marketdata: validate %s: %w", ticker, err)
	}
	return true, nil
}
