// Package ledger implements the accounting engine: the only legal mutation
// path for positions and portfolios. Every operation validates its input,
// serializes on the portfolio's lock, mutates a freshly loaded copy, and
// commits the new state together with the journal entry in one persistence
// call. Nothing is considered to have happened until that commit succeeds.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oakline/wealthcore/internal/domain"
)

// Engine validates and applies buy/sell/dividend/fee events to portfolios.
type Engine struct {
	portfolios domain.PortfolioStore
	ledger     domain.LedgerStore
	audit      domain.AuditStore
	bus        domain.SignalBus
	locks      *Locks
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine creates an Engine over the given collaborators. The lock table
// is shared with the valuation updater so price updates and trades on the
// same portfolio never interleave.
func NewEngine(
	portfolios domain.PortfolioStore,
	ledger domain.LedgerStore,
	audit domain.AuditStore,
	bus domain.SignalBus,
	locks *Locks,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		portfolios: portfolios,
		ledger:     ledger,
		audit:      audit,
		bus:        bus,
		locks:      locks,
		logger:     logger.With(slog.String("component", "ledger")),
		now:        time.Now,
	}
}

// Locks exposes the shared lock table for collaborators that must coordinate
// with the engine (valuation updater, snapshotter).
func (e *Engine) Locks() *Locks { return e.locks }

// load fetches a portfolio and rejects operations on archived ones.
func (e *Engine) load(ctx context.Context, portfolioID uuid.UUID) (*domain.Portfolio, error) {
	pf, err := e.portfolios.Get(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	if !pf.IsActive {
		return nil, fmt.Errorf("portfolio %s: %w", portfolioID, domain.ErrPortfolioArchived)
	}
	return pf, nil
}

// commit persists the mutation atomically with its journal entry. On failure
// the in-memory copy is discarded by the caller; the stored state is
// untouched, so there is nothing to roll back.
func (e *Engine) commit(ctx context.Context, pf *domain.Portfolio, txn *domain.Transaction) error {
	if err := txn.Complete(); err != nil {
		return err
	}
	if err := e.ledger.Commit(ctx, pf, *txn); err != nil {
		return fmt.Errorf("commit %s %s: %v: %w", txn.Type, txn.Reference, err, domain.ErrPersistence)
	}
	return nil
}

// publish emits a domain event and audit entry after a successful commit.
// Neither failure mode affects the committed mutation; both are logged.
func (e *Engine) publish(ctx context.Context, evt domain.Event, detail map[string]any) {
	if e.bus != nil {
		if err := e.bus.Publish(ctx, domain.EventChannel, evt.Encode()); err != nil {
			e.logger.WarnContext(ctx, "event publish failed",
				slog.String("event", evt.Type),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.audit != nil {
		if err := e.audit.Log(ctx, evt.Type, detail); err != nil {
			e.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", evt.Type),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ApplyBuy records a share purchase. The first buy of a ticker opens the
// position at the fill price; later buys recompute the weighted average cost
// basis. The portfolio aggregate is recomputed before commit.
func (e *Engine) ApplyBuy(ctx context.Context, portfolioID uuid.UUID, ticker string, shares, pricePerShare, fee decimal.Decimal) (domain.Transaction, error) {
	if shares.Sign() <= 0 || pricePerShare.Sign() <= 0 || fee.Sign() < 0 {
		return domain.Transaction{}, domain.ErrInvalidQuantity
	}
	if !domain.ValidTicker(ticker) {
		return domain.Transaction{}, fmt.Errorf("buy %q: %w", ticker, domain.ErrInvalidTicker)
	}

	release := e.locks.Acquire(portfolioID)
	defer release()

	pf, err := e.load(ctx, portfolioID)
	if err != nil {
		return domain.Transaction{}, err
	}

	now := e.now().UTC()
	txn, err := domain.NewTrade(portfolioID, ticker, domain.TransactionBuy, shares, pricePerShare, fee, now)
	if err != nil {
		return domain.Transaction{}, err
	}

	if pf.SettleCash {
		if err := pf.Debit(txn.TotalAmount); err != nil {
			return domain.Transaction{}, fmt.Errorf("buy %s %s: %w", shares, ticker, err)
		}
	}

	pos, ok := pf.Position(ticker)
	opened := !ok
	if opened {
		pos, err = domain.OpenPosition(portfolioID, ticker, shares, pricePerShare, now)
		if err != nil {
			return domain.Transaction{}, err
		}
		if err := pf.AttachPosition(pos); err != nil {
			return domain.Transaction{}, err
		}
	} else {
		if err := pos.Buy(shares, pricePerShare, now); err != nil {
			return domain.Transaction{}, err
		}
	}
	pf.Recalculate(now)
	if err := pos.Reconcile(); err != nil {
		return domain.Transaction{}, err
	}

	if err := e.commit(ctx, pf, &txn); err != nil {
		return domain.Transaction{}, err
	}

	evtType := domain.EventSharesPurchased
	if opened {
		evtType = domain.EventPositionOpened
	}
	e.logger.InfoContext(ctx, "buy applied",
		slog.String("portfolio", portfolioID.String()),
		slog.String("ticker", ticker),
		slog.String("shares", shares.String()),
		slog.String("price", pricePerShare.String()),
	)
	e.publish(ctx, domain.Event{
		Type:        evtType,
		PortfolioID: portfolioID,
		Ticker:      ticker,
		Reference:   txn.Reference,
		Shares:      txn.Trade.Shares,
		Amount:      txn.TotalAmount,
		OccurredAt:  now,
	}, map[string]any{
		"portfolio_id": portfolioID.String(),
		"ticker":       ticker,
		"shares":       shares.String(),
		"price":        pricePerShare.String(),
		"reference":    txn.Reference,
	})
	return txn, nil
}

// ApplySell records a share sale. The average cost basis is unchanged; only
// shares and total cost decrease. It returns the journal entry and the cost
// basis of the shares sold. Selling more than is held is rejected whole.
func (e *Engine) ApplySell(ctx context.Context, portfolioID uuid.UUID, ticker string, shares, pricePerShare, fee decimal.Decimal) (domain.Transaction, decimal.Decimal, error) {
	if shares.Sign() <= 0 || pricePerShare.Sign() <= 0 || fee.Sign() < 0 {
		return domain.Transaction{}, decimal.Zero, domain.ErrInvalidQuantity
	}

	release := e.locks.Acquire(portfolioID)
	defer release()

	pf, err := e.load(ctx, portfolioID)
	if err != nil {
		return domain.Transaction{}, decimal.Zero, err
	}

	pos, ok := pf.Position(ticker)
	if !ok {
		return domain.Transaction{}, decimal.Zero, fmt.Errorf("sell %s: %w", ticker, domain.ErrPositionNotFound)
	}

	now := e.now().UTC()
	txn, err := domain.NewTrade(portfolioID, ticker, domain.TransactionSell, shares, pricePerShare, fee, now)
	if err != nil {
		return domain.Transaction{}, decimal.Zero, err
	}

	costBasisSold, err := pos.Sell(shares, now)
	if err != nil {
		return domain.Transaction{}, decimal.Zero, err
	}

	// Realized gain = proceeds - cost basis of the shares sold - fee.
	realized := domain.RoundMoney(shares.Mul(pricePerShare).Sub(costBasisSold).Sub(fee))
	pf.RealizedGainLoss = domain.RoundMoney(pf.RealizedGainLoss.Add(realized))
	if pf.SettleCash {
		pf.Credit(txn.TotalAmount)
	}
	if pos.Closed() {
		pf.RemovePosition(ticker)
	}
	pf.Recalculate(now)
	if err := pos.Reconcile(); err != nil {
		return domain.Transaction{}, decimal.Zero, err
	}

	if err := e.commit(ctx, pf, &txn); err != nil {
		return domain.Transaction{}, decimal.Zero, err
	}

	e.logger.InfoContext(ctx, "sell applied",
		slog.String("portfolio", portfolioID.String()),
		slog.String("ticker", ticker),
		slog.String("shares", shares.String()),
		slog.String("realized", realized.String()),
	)
	e.publish(ctx, domain.Event{
		Type:        domain.EventSharesSold,
		PortfolioID: portfolioID,
		Ticker:      ticker,
		Reference:   txn.Reference,
		Shares:      txn.Trade.Shares,
		Amount:      realized,
		OccurredAt:  now,
	}, map[string]any{
		"portfolio_id": portfolioID.String(),
		"ticker":       ticker,
		"shares":       shares.String(),
		"realized":     realized.String(),
		"reference":    txn.Reference,
	})
	return txn, costBasisSold, nil
}

// ApplyDividend accrues a cash dividend against a held position. Shares,
// cost basis, and current value are untouched on both the position and the
// portfolio aggregates.
func (e *Engine) ApplyDividend(ctx context.Context, portfolioID uuid.UUID, ticker string, amount decimal.Decimal) (domain.Transaction, error) {
	if amount.Sign() <= 0 {
		return domain.Transaction{}, domain.ErrInvalidQuantity
	}

	release := e.locks.Acquire(portfolioID)
	defer release()

	pf, err := e.load(ctx, portfolioID)
	if err != nil {
		return domain.Transaction{}, err
	}

	pos, ok := pf.Position(ticker)
	if !ok {
		return domain.Transaction{}, fmt.Errorf("dividend %s: %w", ticker, domain.ErrPositionNotFound)
	}

	now := e.now().UTC()
	txn, err := domain.NewDividend(portfolioID, ticker, amount, now)
	if err != nil {
		return domain.Transaction{}, err
	}

	if err := pos.ReceiveDividend(amount, now); err != nil {
		return domain.Transaction{}, err
	}
	pf.CumulativeDividends = domain.RoundMoney(pf.CumulativeDividends.Add(amount))
	if pf.SettleCash {
		pf.Credit(txn.TotalAmount)
	}
	pf.Recalculate(now)

	if err := e.commit(ctx, pf, &txn); err != nil {
		return domain.Transaction{}, err
	}

	e.logger.InfoContext(ctx, "dividend applied",
		slog.String("portfolio", portfolioID.String()),
		slog.String("ticker", ticker),
		slog.String("amount", amount.String()),
	)
	e.publish(ctx, domain.Event{
		Type:        domain.EventDividendReceived,
		PortfolioID: portfolioID,
		Ticker:      ticker,
		Reference:   txn.Reference,
		Amount:      txn.TotalAmount,
		OccurredAt:  now,
	}, map[string]any{
		"portfolio_id": portfolioID.String(),
		"ticker":       ticker,
		"amount":       amount.String(),
		"reference":    txn.Reference,
	})
	return txn, nil
}

// ApplyFee records a standalone charge (e.g. an advisory fee). It debits
// cash when the portfolio settles in cash and touches no position.
func (e *Engine) ApplyFee(ctx context.Context, portfolioID uuid.UUID, amount decimal.Decimal, memo string) (domain.Transaction, error) {
	if amount.Sign() <= 0 {
		return domain.Transaction{}, domain.ErrInvalidQuantity
	}

	release := e.locks.Acquire(portfolioID)
	defer release()

	pf, err := e.load(ctx, portfolioID)
	if err != nil {
		return domain.Transaction{}, err
	}

	now := e.now().UTC()
	txn, err := domain.NewFee(portfolioID, amount, memo, now)
	if err != nil {
		return domain.Transaction{}, err
	}

	if pf.SettleCash {
		if err := pf.Debit(amount); err != nil {
			return domain.Transaction{}, fmt.Errorf("fee %s: %w", amount, err)
		}
	}
	pf.Recalculate(now)

	if err := e.commit(ctx, pf, &txn); err != nil {
		return domain.Transaction{}, err
	}

	e.logger.InfoContext(ctx, "fee applied",
		slog.String("portfolio", portfolioID.String()),
		slog.String("amount", amount.String()),
	)
	return txn, nil
}

// IsValidationError reports whether err is a pre-mutation rejection (bad
// input or unknown target) rather than an infrastructure failure. Callers
// use it to choose between a 4xx-style response and a retryable failure.
func IsValidationError(err error) bool {
	return errors.Is(err, domain.ErrInvalidQuantity) ||
		errors.Is(err, domain.ErrInvalidTicker) ||
		errors.Is(err, domain.ErrInsufficientShares) ||
		errors.Is(err, domain.ErrInsufficientCash) ||
		errors.Is(err, domain.ErrPositionNotFound) ||
		errors.Is(err, domain.ErrPortfolioNotFound) ||
		errors.Is(err, domain.ErrPortfolioArchived)
}
