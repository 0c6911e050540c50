// Package refresh keeps position valuations current. On each cycle it
// collects the tickers held across active portfolios, resolves a quote for
// each (cache first, then the market-data provider), and applies one batch
// price update per portfolio. All external I/O completes before any
// portfolio lock is taken; the updater's critical section is computation
// plus the persistence write.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oakline/wealthcore/internal/domain"
	"github.com/oakline/wealthcore/internal/valuation"
)

// Quoter is the slice of the market-data client the refresher needs.
type Quoter interface {
	Quote(ctx context.Context, ticker string) (domain.Quote, error)
}

// Config holds refresher tuning parameters.
type Config struct {
	// Interval between refresh cycles.
	Interval time.Duration
	// FetchTimeout bounds each provider quote fetch. Timeouts apply only
	// to this external step, never to the accounting mutation.
	FetchTimeout time.Duration
	// Concurrency limits parallel portfolio updates per cycle.
	Concurrency int
}

// Refresher drives periodic batch price updates.
type Refresher struct {
	cfg        Config
	portfolios domain.PortfolioStore
	quotes     domain.QuoteCache
	provider   Quoter
	updater    *valuation.Updater
	logger     *slog.Logger
}

// NewRefresher creates a Refresher.
func NewRefresher(
	cfg Config,
	portfolios domain.PortfolioStore,
	quotes domain.QuoteCache,
	provider Quoter,
	updater *valuation.Updater,
	logger *slog.Logger,
) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Refresher{
		cfg:        cfg,
		portfolios: portfolios,
		quotes:     quotes,
		provider:   provider,
		updater:    updater,
		logger:     logger.With(slog.String("component", "refresh")),
	}
}

// Run refreshes on the configured interval until ctx is cancelled. The
// first cycle runs immediately.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := r.RefreshAll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.WarnContext(ctx, "refresh cycle failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RefreshAll runs one cycle over every active portfolio.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	ids, err := r.portfolios.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("refresh: list portfolios: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			n, err := r.RefreshPortfolio(gctx, id)
			if err != nil {
				// One portfolio failing does not abort the cycle.
				r.logger.WarnContext(gctx, "portfolio refresh failed",
					slog.String("portfolio", id.String()),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if n > 0 {
				r.logger.DebugContext(gctx, "portfolio refreshed",
					slog.String("portfolio", id.String()),
					slog.Int("positions", n),
				)
			}
			return nil
		})
	}
	return g.Wait()
}

// RefreshPortfolio resolves quotes for one portfolio's tickers and applies
// them in a single batch update.
func (r *Refresher) RefreshPortfolio(ctx context.Context, id uuid.UUID) (int, error) {
	pf, err := r.portfolios.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	tickers := make([]string, 0, len(pf.Positions()))
	for _, p := range pf.Positions() {
		tickers = append(tickers, p.Ticker)
	}
	if len(tickers) == 0 {
		return 0, nil
	}

	quotes, err := r.resolveQuotes(ctx, tickers)
	if err != nil {
		return 0, err
	}
	if len(quotes) == 0 {
		return 0, nil
	}
	return r.updater.UpdatePrices(ctx, id, quotes)
}

// resolveQuotes reads the cache first and fetches only the misses from the
// provider, warming the cache with anything fetched. A ticker the provider
// does not know is skipped; it will show up as stale on the next valuation
// read rather than blocking the batch.
func (r *Refresher) resolveQuotes(ctx context.Context, tickers []string) (map[string]domain.Quote, error) {
	quotes, err := r.quotes.GetQuotes(ctx, tickers)
	if err != nil {
		r.logger.WarnContext(ctx, "quote cache read failed", slog.String("error", err.Error()))
		quotes = map[string]domain.Quote{}
	}

	for _, t := range tickers {
		if _, ok := quotes[t]; ok {
			continue
		}
		fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
		q, err := r.provider.Quote(fetchCtx, t)
		cancel()
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.WarnContext(ctx, "quote fetch failed",
				slog.String("ticker", t),
				slog.String("error", err.Error()),
			)
			continue
		}
		quotes[t] = q
		if err := r.quotes.SetQuote(ctx, q); err != nil {
			r.logger.DebugContext(ctx, "quote cache write failed", slog.String("ticker", t))
		}
	}
	return quotes, nil
}
