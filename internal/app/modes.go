package app

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oakline/wealthcore/internal/backup"
	"github.com/oakline/wealthcore/internal/domain"
	"github.com/oakline/wealthcore/internal/ledger"
	"github.com/oakline/wealthcore/internal/marketdata"
	"github.com/oakline/wealthcore/internal/notify"
	"github.com/oakline/wealthcore/internal/refresh"
	"github.com/oakline/wealthcore/internal/server"
	"github.com/oakline/wealthcore/internal/server/handler"
	"github.com/oakline/wealthcore/internal/valuation"
)

// core bundles the accounting engine, valuation updater, and the shared
// per-portfolio lock table every mode builds on.
type core struct {
	locks   *ledger.Locks
	engine  *ledger.Engine
	updater *valuation.Updater
}

func (a *App) buildCore(deps *Dependencies) core {
	locks := ledger.NewLocks()
	return core{
		locks:   locks,
		engine:  ledger.NewEngine(deps.Portfolios, deps.Ledger, deps.Audit, deps.SignalBus, locks, a.logger),
		updater: valuation.NewUpdater(deps.Portfolios, deps.SignalBus, locks, a.logger),
	}
}

// startServer registers routes and runs the HTTP server until ctx is
// cancelled, then shuts it down gracefully.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c core) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode),
		Portfolios: handler.NewPortfolioHandler(
			deps.Portfolios, deps.Transactions, c.engine, c.updater, a.logger,
		),
	}
	srv := server.NewServer(server.Config{
		Port:   a.cfg.Server.Port,
		APIKey: a.cfg.Server.APIKey,
	}, handlers, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startRelay forwards ledger events to the configured notification
// channels. No-op when no sender is configured.
func (a *App) startRelay(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier == nil {
		return
	}
	relay := notify.NewRelay(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		return relay.Run(ctx)
	})
}

// startRefresher runs the periodic quote refresh, plus the streaming feed
// when configured. Streamed ticks only warm the quote cache; the refresher
// applies them on its own schedule.
func (a *App) startRefresher(ctx context.Context, g *errgroup.Group, deps *Dependencies, c core) {
	refresher := refresh.NewRefresher(
		refresh.Config{
			Interval:     time.Duration(a.cfg.Refresh.IntervalSeconds) * time.Second,
			FetchTimeout: time.Duration(a.cfg.MarketData.FetchTimeoutSeconds) * time.Second,
			Concurrency:  a.cfg.Refresh.Concurrency,
		},
		deps.Portfolios,
		deps.QuoteCache,
		deps.MarketData,
		c.updater,
		a.logger,
	)
	g.Go(func() error {
		return refresher.Run(ctx)
	})

	if a.cfg.MarketData.StreamQuotes && a.cfg.MarketData.WsURL != "" {
		tickers := a.heldTickers(ctx, deps.Portfolios)
		if len(tickers) == 0 {
			a.logger.InfoContext(ctx, "no open positions, quote stream not started")
			return
		}
		feed := marketdata.NewFeed(
			a.cfg.MarketData.WsURL,
			tickers,
			func(ctx context.Context, q domain.Quote) {
				if err := deps.QuoteCache.SetQuote(ctx, q); err != nil {
					a.logger.WarnContext(ctx, "quote cache write failed",
						slog.String("ticker", q.Ticker),
						slog.String("error", err.Error()),
					)
				}
			},
			a.logger,
		)
		g.Go(func() error {
			defer feed.Close()
			return feed.Run(ctx)
		})
	}
}

// startSnapshots archives every active portfolio on the configured
// interval. Individual archive failures are logged, not fatal.
func (a *App) startSnapshots(ctx context.Context, g *errgroup.Group, deps *Dependencies, c core) {
	snap := backup.NewSnapshotter(deps.Portfolios, deps.Transactions, deps.BlobWriter, c.locks, a.logger)
	g.Go(func() error {
		ticker := time.NewTicker(time.Duration(a.cfg.Backup.IntervalHours) * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := snap.ArchiveAll(ctx); err != nil {
					a.logger.ErrorContext(ctx, "snapshot archive failed",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	})
}

// heldTickers collects the distinct tickers held across active portfolios,
// used to subscribe the streaming feed.
func (a *App) heldTickers(ctx context.Context, portfolios domain.PortfolioStore) []string {
	ids, err := portfolios.ListIDs(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "listing portfolios for feed failed",
			slog.String("error", err.Error()),
		)
		return nil
	}
	seen := make(map[string]bool)
	for _, id := range ids {
		pf, err := portfolios.Get(ctx, id)
		if err != nil {
			continue
		}
		for _, pos := range pf.Positions() {
			seen[pos.Ticker] = true
		}
	}
	tickers := make([]string, 0, len(seen))
	for t := range seen {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}

// ServeMode runs the HTTP API and the notification relay.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	c := a.buildCore(deps)

	a.startServer(ctx, g, deps, c)
	a.startRelay(ctx, g, deps)

	return g.Wait()
}

// RefreshMode runs the periodic valuation refresh and, when configured, the
// streaming quote feed.
func (a *App) RefreshMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting refresh mode")

	g, ctx := errgroup.WithContext(ctx)
	c := a.buildCore(deps)

	a.startRefresher(ctx, g, deps, c)
	a.startRelay(ctx, g, deps)

	return g.Wait()
}

// BackupMode archives one snapshot of every active portfolio and exits.
func (a *App) BackupMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting backup mode")

	c := a.buildCore(deps)
	snap := backup.NewSnapshotter(deps.Portfolios, deps.Transactions, deps.BlobWriter, c.locks, a.logger)
	return snap.ArchiveAll(ctx)
}

// FullMode runs everything: the HTTP API, the valuation refresh, periodic
// snapshots, and the notification relay.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	c := a.buildCore(deps)

	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, c)
	}
	a.startRefresher(ctx, g, deps, c)
	a.startSnapshots(ctx, g, deps, c)
	a.startRelay(ctx, g, deps)

	return g.Wait()
}
