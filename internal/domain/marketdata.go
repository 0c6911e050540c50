package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// MarketData is the external price source. It is consumed only by the
// valuation side; buy/sell/dividend take their prices from the order
// confirmation, never from here.
type MarketData interface {
	// CurrentPrice returns the latest quote for a ticker, or ErrNotFound.
	CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
	IsValidSymbol(ctx context.Context, ticker string) (bool, error)
}
