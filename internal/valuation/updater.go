// Package valuation applies market prices to positions and produces
// staleness-aware portfolio valuations. It shares the accounting engine's
// per-portfolio lock table, so a price update never interleaves with a trade
// on the same portfolio. Quotes are fetched by callers before any lock is
// taken; the critical sections here are pure computation plus the
// persistence round trip.
package valuation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oakline/wealthcore/internal/domain"
	"github.com/oakline/wealthcore/internal/ledger"
)

// PositionValuation is one position's contribution to a valuation report.
// Stale flags a quote older than the freshness threshold; it never blocks
// anything, but callers must surface it so old numbers are not presented
// as fresh.
type PositionValuation struct {
	Ticker             string
	Shares             decimal.Decimal
	AverageCostBasis   decimal.Decimal
	TotalCost          decimal.Decimal
	CurrentPrice       decimal.Decimal
	CurrentValue       decimal.Decimal
	UnrealizedGainLoss decimal.Decimal
	Weight             decimal.Decimal
	LastPriceUpdate    time.Time
	Stale              bool
}

// Report is an internally consistent portfolio valuation: all numbers come
// from one snapshot taken under the portfolio's lock.
type Report struct {
	PortfolioID        uuid.UUID
	AsOf               time.Time
	TotalValue         decimal.Decimal
	TotalCost          decimal.Decimal
	CashBalance        decimal.Decimal
	UnrealizedGainLoss decimal.Decimal
	RealizedGainLoss   decimal.Decimal
	TotalGainLoss      decimal.Decimal
	Dividends          decimal.Decimal
	TotalReturn        decimal.Decimal
	ReturnPercentage   decimal.Decimal
	AnnualizedReturn   float64
	RiskProfile        domain.RiskProfile
	Positions          []PositionValuation
	// HasStalePrices is set when any position's quote is older than the
	// freshness threshold.
	HasStalePrices bool
}

// Updater applies quotes to positions and recomputes portfolio aggregates.
type Updater struct {
	portfolios domain.PortfolioStore
	bus        domain.SignalBus
	locks      *ledger.Locks
	logger     *slog.Logger
	now        func() time.Time
}

// NewUpdater creates an Updater sharing the engine's lock table.
func NewUpdater(portfolios domain.PortfolioStore, bus domain.SignalBus, locks *ledger.Locks, logger *slog.Logger) *Updater {
	return &Updater{
		portfolios: portfolios,
		bus:        bus,
		locks:      locks,
		logger:     logger.With(slog.String("component", "valuation")),
		now:        time.Now,
	}
}

// UpdatePrice applies one quote to one position and recomputes the
// portfolio. It returns the revalued position.
func (u *Updater) UpdatePrice(ctx context.Context, portfolioID uuid.UUID, ticker string, price decimal.Decimal, asOf time.Time) (domain.Position, error) {
	if price.Sign() <= 0 {
		return domain.Position{}, domain.ErrInvalidQuantity
	}

	release := u.locks.Acquire(portfolioID)
	defer release()

	pf, err := u.portfolios.Get(ctx, portfolioID)
	if err != nil {
		return domain.Position{}, err
	}
	pos, ok := pf.Position(ticker)
	if !ok {
		return domain.Position{}, fmt.Errorf("update price %s: %w", ticker, domain.ErrPositionNotFound)
	}

	if err := pos.ApplyPrice(price, asOf); err != nil {
		return domain.Position{}, err
	}
	pf.Recalculate(u.now().UTC())

	if err := u.portfolios.Save(ctx, pf); err != nil {
		return domain.Position{}, fmt.Errorf("update price %s: %v: %w", ticker, err, domain.ErrPersistence)
	}
	return *pos, nil
}

// UpdatePrices applies a batch of quotes to a portfolio and recomputes the
// aggregate exactly once, not once per ticker. Tickers with no open
// position are skipped. It returns the number of positions revalued.
func (u *Updater) UpdatePrices(ctx context.Context, portfolioID uuid.UUID, quotes map[string]domain.Quote) (int, error) {
	if len(quotes) == 0 {
		return 0, nil
	}

	release := u.locks.Acquire(portfolioID)
	defer release()

	pf, err := u.portfolios.Get(ctx, portfolioID)
	if err != nil {
		return 0, err
	}

	applied := 0
	for ticker, q := range quotes {
		pos, ok := pf.Position(ticker)
		if !ok {
			continue
		}
		if err := pos.ApplyPrice(q.Price, q.AsOf); err != nil {
			u.logger.WarnContext(ctx, "quote rejected",
				slog.String("ticker", ticker),
				slog.String("price", q.Price.String()),
			)
			continue
		}
		applied++
	}
	if applied == 0 {
		return 0, nil
	}
	now := u.now().UTC()
	pf.Recalculate(now)

	if err := u.portfolios.Save(ctx, pf); err != nil {
		return 0, fmt.Errorf("update prices: %v: %w", err, domain.ErrPersistence)
	}

	if u.bus != nil {
		evt := domain.Event{
			Type:        domain.EventPricesRefreshed,
			PortfolioID: portfolioID,
			Amount:      pf.TotalValue,
			OccurredAt:  now,
		}
		if err := u.bus.Publish(ctx, domain.EventChannel, evt.Encode()); err != nil {
			u.logger.WarnContext(ctx, "event publish failed", slog.String("error", err.Error()))
		}
	}
	return applied, nil
}

// Valuation builds a consistent report for one portfolio. All figures are
// read under the portfolio's lock, so they cannot mix pre- and
// post-mutation positions.
func (u *Updater) Valuation(ctx context.Context, portfolioID uuid.UUID) (Report, error) {
	release := u.locks.Acquire(portfolioID)
	defer release()

	pf, err := u.portfolios.Get(ctx, portfolioID)
	if err != nil {
		return Report{}, err
	}

	now := u.now().UTC()
	rep := Report{
		PortfolioID:        pf.ID,
		AsOf:               now,
		TotalValue:         pf.TotalValue,
		TotalCost:          pf.TotalCost,
		CashBalance:        pf.CashBalance,
		UnrealizedGainLoss: pf.UnrealizedGainLoss(),
		RealizedGainLoss:   pf.RealizedGainLoss,
		TotalGainLoss:      pf.TotalGainLoss(),
		Dividends:          pf.CumulativeDividends,
		TotalReturn:        pf.TotalReturn(),
		ReturnPercentage:   pf.ReturnPercentage(),
		AnnualizedReturn:   pf.AnnualizedReturn(now),
		RiskProfile:        pf.RiskProfile,
	}
	for _, pos := range pf.Positions() {
		stale := pos.Stale(now)
		if stale {
			rep.HasStalePrices = true
		}
		rep.Positions = append(rep.Positions, PositionValuation{
			Ticker:             pos.Ticker,
			Shares:             pos.Shares,
			AverageCostBasis:   pos.AverageCostBasis,
			TotalCost:          pos.TotalCost,
			CurrentPrice:       pos.CurrentPrice,
			CurrentValue:       pos.CurrentValue,
			UnrealizedGainLoss: pos.UnrealizedGainLoss(),
			Weight:             pf.PositionWeight(pos.Ticker),
			LastPriceUpdate:    pos.LastPriceUpdate,
			Stale:              stale,
		})
	}
	return rep, nil
}
