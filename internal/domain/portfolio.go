package domain

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RiskProfile is a stored classification set by advisory policy. The engine
// never derives it; it only exposes equality checks.
type RiskProfile string

const (
	RiskConservative RiskProfile = "CONSERVATIVE"
	RiskModerate     RiskProfile = "MODERATE"
	RiskAggressive   RiskProfile = "AGGRESSIVE"
)

// significantWeightPct is the position-weight threshold above which a holding
// is called significant.
var significantWeightPct = decimal.NewFromInt(10)

// Portfolio aggregates one client's positions and cash. Aggregate fields
// (TotalValue, TotalCost, LastCalculated) are recomputed from the position
// set on every mutation; they are stored, not trusted, and Recalculate is
// the only way they change.
type Portfolio struct {
	ID                  uuid.UUID
	ClientID            uuid.UUID
	Name                string
	CashBalance         decimal.Decimal
	SettleCash          bool // when set, buys and fees must be covered by cash
	TotalValue          decimal.Decimal
	TotalCost           decimal.Decimal
	RealizedGainLoss    decimal.Decimal
	CumulativeDividends decimal.Decimal
	RiskProfile         RiskProfile
	IsActive            bool
	CreatedAt           time.Time
	LastCalculated      time.Time

	positions map[string]*Position
}

// NewPortfolio creates an empty active portfolio for a client.
func NewPortfolio(clientID uuid.UUID, name string, risk RiskProfile, now time.Time) *Portfolio {
	return &Portfolio{
		ID:                  uuid.New(),
		ClientID:            clientID,
		Name:                name,
		CashBalance:         decimal.Zero,
		TotalValue:          decimal.Zero,
		TotalCost:           decimal.Zero,
		RealizedGainLoss:    decimal.Zero,
		CumulativeDividends: decimal.Zero,
		RiskProfile:         risk,
		IsActive:            true,
		CreatedAt:           now,
		LastCalculated:      now,
		positions:           make(map[string]*Position),
	}
}

// Position returns the open position for a ticker, if any.
func (pf *Portfolio) Position(ticker string) (*Position, bool) {
	p, ok := pf.positions[ticker]
	return p, ok
}

// Positions returns the portfolio's positions sorted by ticker.
func (pf *Portfolio) Positions() []*Position {
	out := make([]*Position, 0, len(pf.positions))
	for _, p := range pf.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// AttachPosition places a loaded or newly opened position into the set.
// At most one position may exist per ticker.
func (pf *Portfolio) AttachPosition(p *Position) error {
	if pf.positions == nil {
		pf.positions = make(map[string]*Position)
	}
	if _, ok := pf.positions[p.Ticker]; ok {
		return ErrAlreadyExists
	}
	p.PortfolioID = pf.ID
	pf.positions[p.Ticker] = p
	return nil
}

// RemovePosition drops a closed position from the set. Its journal history
// is retained by the transaction store regardless.
func (pf *Portfolio) RemovePosition(ticker string) {
	delete(pf.positions, ticker)
}

// Recalculate recomputes the stored aggregates from the position set. It is
// called after every mutation, and exactly once for a batch of them.
func (pf *Portfolio) Recalculate(now time.Time) {
	value := decimal.Zero
	cost := decimal.Zero
	for _, p := range pf.positions {
		value = value.Add(p.CurrentValue)
		cost = cost.Add(p.TotalCost)
	}
	pf.TotalValue = RoundMoney(value)
	pf.TotalCost = RoundMoney(cost)
	pf.LastCalculated = now
}

// UnrealizedGainLoss is the paper gain across all open positions.
func (pf *Portfolio) UnrealizedGainLoss() decimal.Decimal {
	return pf.TotalValue.Sub(pf.TotalCost)
}

// TotalGainLoss combines unrealized and realized gains.
func (pf *Portfolio) TotalGainLoss() decimal.Decimal {
	return pf.UnrealizedGainLoss().Add(pf.RealizedGainLoss)
}

// TotalReturn is total gain/loss plus dividends received.
func (pf *Portfolio) TotalReturn() decimal.Decimal {
	return pf.TotalGainLoss().Add(pf.CumulativeDividends)
}

// ReturnPercentage is the total return over total cost, as a percentage.
// It is zero, never a division error, on a costless portfolio.
func (pf *Portfolio) ReturnPercentage() decimal.Decimal {
	if pf.TotalCost.Sign() == 0 {
		return decimal.Zero
	}
	return pf.TotalReturn().Div(pf.TotalCost).Mul(decimal.NewFromInt(100)).Round(ScaleBasis)
}

// PositionWeight is a holding's share of total assets (investments plus
// cash), as a percentage. Zero when the denominator is zero or the ticker
// is not held.
func (pf *Portfolio) PositionWeight(ticker string) decimal.Decimal {
	p, ok := pf.positions[ticker]
	if !ok {
		return decimal.Zero
	}
	denom := pf.TotalValue.Add(pf.CashBalance)
	if denom.Sign() == 0 {
		return decimal.Zero
	}
	return p.CurrentValue.Div(denom).Mul(decimal.NewFromInt(100)).Round(ScaleBasis)
}

// IsSignificantPosition reports whether a holding exceeds 10% of total assets.
func (pf *Portfolio) IsSignificantPosition(ticker string) bool {
	return pf.PositionWeight(ticker).GreaterThan(significantWeightPct)
}

// AnnualizedReturn compounds the total-return fraction over the holding
// period: (1 + r)^(365/daysHeld) - 1. Zero on day zero. Float is fine here;
// this is a reporting figure, not a ledger amount.
func (pf *Portfolio) AnnualizedReturn(now time.Time) float64 {
	daysHeld := int(now.Sub(pf.CreatedAt).Hours() / 24)
	if daysHeld <= 0 || pf.TotalCost.Sign() == 0 {
		return 0
	}
	r := pf.TotalReturn().Div(pf.TotalCost).InexactFloat64()
	if r <= -1 {
		return -1
	}
	return math.Pow(1+r, 365/float64(daysHeld)) - 1
}

func (pf *Portfolio) IsHighRisk() bool { return pf.RiskProfile == RiskAggressive }
func (pf *Portfolio) IsLowRisk() bool  { return pf.RiskProfile == RiskConservative }

// Credit adds to the cash balance.
func (pf *Portfolio) Credit(amount decimal.Decimal) {
	pf.CashBalance = RoundMoney(pf.CashBalance.Add(amount))
}

// Debit removes cash. An overdraw is rejected; the balance never goes
// negative.
func (pf *Portfolio) Debit(amount decimal.Decimal) error {
	next := pf.CashBalance.Sub(amount)
	if next.Sign() < 0 {
		return ErrInsufficientCash
	}
	pf.CashBalance = RoundMoney(next)
	return nil
}
