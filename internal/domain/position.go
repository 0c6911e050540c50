package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceFreshness is how old a quote may be before a position's valuation is
// flagged stale. Staleness never blocks an operation; it is surfaced on every
// valuation read so old numbers are not presented as fresh.
const PriceFreshness = time.Hour

var tickerRe = regexp.MustCompile(`^[A-Z]{1,5}$`)

// ValidTicker reports whether s is an acceptable ticker symbol.
func ValidTicker(s string) bool {
	return tickerRe.MatchString(s)
}

// Position is one ticker's holding within a portfolio: share count, weighted
// average cost basis, and current valuation. The ticker is immutable once the
// position is created. Positions are mutated only through the accounting
// engine and the valuation updater, which serialize access per portfolio;
// the mutating methods below assume the caller holds that lock.
type Position struct {
	ID                  uuid.UUID
	PortfolioID         uuid.UUID
	Ticker              string
	Shares              decimal.Decimal
	AverageCostBasis    decimal.Decimal
	TotalCost           decimal.Decimal
	CurrentPrice        decimal.Decimal
	CurrentValue        decimal.Decimal
	CumulativeDividends decimal.Decimal
	LastPriceUpdate     time.Time
	OpenedAt            time.Time
	UpdatedAt           time.Time
}

// OpenPosition creates a new position from the first buy of a ticker. The
// initial average cost basis is the fill price.
func OpenPosition(portfolioID uuid.UUID, ticker string, shares, pricePerShare decimal.Decimal, now time.Time) (*Position, error) {
	if !ValidTicker(ticker) {
		return nil, fmt.Errorf("open position %q: %w", ticker, ErrInvalidTicker)
	}
	if shares.Sign() <= 0 || pricePerShare.Sign() <= 0 {
		return nil, ErrInvalidQuantity
	}
	shares = RoundShares(shares)
	return &Position{
		ID:                  uuid.New(),
		PortfolioID:         portfolioID,
		Ticker:              ticker,
		Shares:              shares,
		AverageCostBasis:    RoundBasis(pricePerShare),
		TotalCost:           RoundMoney(shares.Mul(pricePerShare)),
		CurrentPrice:        pricePerShare,
		CurrentValue:        RoundMoney(shares.Mul(pricePerShare)),
		CumulativeDividends: decimal.Zero,
		LastPriceUpdate:     now,
		OpenedAt:            now,
		UpdatedAt:           now,
	}, nil
}

// Buy adds shares at the given fill price and recomputes the weighted
// average cost basis: newBasis = (oldCost + shares*price) / (oldShares + shares).
func (p *Position) Buy(shares, pricePerShare decimal.Decimal, now time.Time) error {
	if shares.Sign() <= 0 || pricePerShare.Sign() <= 0 {
		return ErrInvalidQuantity
	}
	shares = RoundShares(shares)
	newShares := p.Shares.Add(shares)
	newCost := RoundMoney(p.TotalCost.Add(shares.Mul(pricePerShare)))
	p.Shares = newShares
	p.TotalCost = newCost
	p.AverageCostBasis = RoundBasis(newCost.Div(newShares))
	p.CurrentValue = RoundMoney(p.Shares.Mul(p.CurrentPrice))
	p.UpdatedAt = now
	return nil
}

// Sell removes shares. The average cost basis is unchanged by a sell; only
// shares and total cost decrease. The sold cost is allocated pro-rata from
// the stored total cost rather than from the rounded basis, so the cost
// remaining on the position never goes negative. It returns the cost basis
// of the shares sold, which the caller needs for realized gain/loss. A
// request for more shares than held is rejected whole; there are no partial
// fills at this layer.
func (p *Position) Sell(shares decimal.Decimal, now time.Time) (costBasisSold decimal.Decimal, err error) {
	if shares.Sign() <= 0 {
		return decimal.Zero, ErrInvalidQuantity
	}
	shares = RoundShares(shares)
	if shares.GreaterThan(p.Shares) {
		return decimal.Zero, fmt.Errorf("sell %s of %s held: %w", shares, p.Shares, ErrInsufficientShares)
	}
	if shares.Equal(p.Shares) {
		// Closing the position takes the whole stored cost, so no
		// rounding residue lingers on an empty position.
		costBasisSold = p.TotalCost
		p.Shares = decimal.Zero
		p.TotalCost = decimal.Zero
	} else {
		costBasisSold = RoundMoney(p.TotalCost.Mul(shares).Div(p.Shares))
		p.Shares = p.Shares.Sub(shares)
		p.TotalCost = p.TotalCost.Sub(costBasisSold)
	}
	p.CurrentValue = RoundMoney(p.Shares.Mul(p.CurrentPrice))
	p.UpdatedAt = now
	return costBasisSold, nil
}

// ReceiveDividend accrues a cash dividend against the position. Shares, cost
// basis, and current value are untouched.
func (p *Position) ReceiveDividend(amount decimal.Decimal, now time.Time) error {
	if amount.Sign() <= 0 {
		return ErrInvalidQuantity
	}
	p.CumulativeDividends = RoundMoney(p.CumulativeDividends.Add(amount))
	p.UpdatedAt = now
	return nil
}

// ApplyPrice records a new market price and revalues the holding.
func (p *Position) ApplyPrice(price decimal.Decimal, asOf time.Time) error {
	if price.Sign() <= 0 {
		return ErrInvalidQuantity
	}
	p.CurrentPrice = price
	p.CurrentValue = RoundMoney(p.Shares.Mul(price))
	p.LastPriceUpdate = asOf
	p.UpdatedAt = asOf
	return nil
}

// Closed reports whether all shares have been sold.
func (p *Position) Closed() bool {
	return p.Shares.Sign() == 0
}

// Stale reports whether the last quote is older than PriceFreshness at the
// given instant.
func (p *Position) Stale(now time.Time) bool {
	return now.Sub(p.LastPriceUpdate) > PriceFreshness
}

// UnrealizedGainLoss is the paper profit on held shares.
func (p *Position) UnrealizedGainLoss() decimal.Decimal {
	return p.CurrentValue.Sub(p.TotalCost)
}

// Reconcile verifies the stored total cost against shares*averageCostBasis.
// The tolerance grows with the share count: the stored basis is rounded at
// ScaleBasis, so each held share can legitimately carry up to half a basis
// quantum of rounding drift. A mismatch beyond that means the ledger was
// corrupted outside the engine.
func (p *Position) Reconcile() error {
	if p.Shares.Sign() < 0 || p.TotalCost.Sign() < 0 {
		return fmt.Errorf("position %s: negative shares or cost: %w", p.Ticker, ErrReconciliation)
	}
	want := RoundMoney(p.Shares.Mul(p.AverageCostBasis))
	tolerance := basisTolerance.Add(p.Shares.Mul(halfBasisQuantum))
	if p.TotalCost.Sub(want).Abs().GreaterThan(tolerance) {
		return fmt.Errorf("position %s: total cost %s does not reconcile with %s shares @ %s: %w",
			p.Ticker, p.TotalCost, p.Shares, p.AverageCostBasis, ErrReconciliation)
	}
	return nil
}
