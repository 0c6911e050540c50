package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one ticker price observation.
type Quote struct {
	Ticker string
	Price  decimal.Decimal
	AsOf   time.Time
}

// QuoteCache provides fast access to the latest quotes.
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	// GetQuote returns ErrNotFound when no quote is cached for the ticker.
	GetQuote(ctx context.Context, ticker string) (Quote, error)
	// GetQuotes returns the cached quotes for the given tickers; tickers
	// with no cached quote are omitted.
	GetQuotes(ctx context.Context, tickers []string) (map[string]Quote, error)
}

// SignalBus provides pub/sub delivery of domain events to out-of-process
// subscribers (notification service, dashboards). Publishing is fire and
// forget from the engine's point of view; delivery failures never roll back
// an accounting mutation.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
