package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/oakline/wealthcore/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each ticker's
// latest quote is stored at key "quote:{ticker}" with fields "price" and
// "ts" (Unix nanosecond timestamp). Prices round-trip as strings so the
// decimal representation is exact.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(ticker string) string {
	return "quote:" + ticker
}

// SetQuote stores the latest quote for a ticker.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	fields := map[string]interface{}{
		"price": q.Price.String(),
		"ts":    strconv.FormatInt(q.AsOf.UnixNano(), 10),
	}
	if err := qc.rdb.HSet(ctx, quoteKey(q.Ticker), fields).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Ticker, err)
	}
	return nil
}

func parseQuote(ticker string, vals map[string]string) (domain.Quote, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse price %s: %w", ticker, err)
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ts %s: %w", ticker, err)
	}
	return domain.Quote{Ticker: ticker, Price: price, AsOf: time.Unix(0, tsNano)}, nil
}

// GetQuote retrieves the latest quote for a ticker. It returns
// domain.ErrNotFound when no quote is cached.
func (qc *QuoteCache) GetQuote(ctx context.Context, ticker string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(ticker)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", ticker, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}
	return parseQuote(ticker, vals)
}

// GetQuotes retrieves the latest quotes for multiple tickers using a
// pipeline. Tickers with no cached quote are silently omitted.
func (qc *QuoteCache) GetQuotes(ctx context.Context, tickers []string) (map[string]domain.Quote, error) {
	if len(tickers) == 0 {
		return map[string]domain.Quote{}, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(tickers))
	for _, t := range tickers {
		cmds[t] = pipe.HGetAll(ctx, quoteKey(t))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	out := make(map[string]domain.Quote, len(tickers))
	for t, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := parseQuote(t, vals)
		if err != nil {
			continue
		}
		out[t] = q
	}
	return out, nil
}
