package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oakline/wealthcore/internal/domain"
)

// Relay subscribes to the ledger event channel and forwards each event to
// the Notifier. It runs as its own goroutine, downstream of the engine: a
// slow or failing sender delays nothing on the accounting side.
type Relay struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewRelay creates a Relay between the signal bus and the notifier.
func NewRelay(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Relay {
	return &Relay{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_relay")),
	}
}

// Run consumes events until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ch, err := r.bus.Subscribe(ctx, domain.EventChannel)
	if err != nil {
		return fmt.Errorf("relay: subscribe: %w", err)
	}
	r.logger.Info("relay started", slog.String("channel", domain.EventChannel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			evt, err := domain.DecodeEvent(payload)
			if err != nil {
				r.logger.Warn("undecodable event", slog.String("error", err.Error()))
				continue
			}
			title, message := format(evt)
			if err := r.notifier.Notify(ctx, evt.Type, title, message); err != nil {
				r.logger.Warn("notify failed",
					slog.String("event", evt.Type),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func format(evt domain.Event) (title, message string) {
	switch evt.Type {
	case domain.EventPositionOpened:
		return "Position opened",
			fmt.Sprintf("%s: opened with %s shares (total %s)", evt.Ticker, evt.Shares, evt.Amount)
	case domain.EventSharesPurchased:
		return "Shares purchased",
			fmt.Sprintf("%s: bought %s shares (total %s)", evt.Ticker, evt.Shares, evt.Amount)
	case domain.EventSharesSold:
		return "Shares sold",
			fmt.Sprintf("%s: sold %s shares (realized %s)", evt.Ticker, evt.Shares, evt.Amount)
	case domain.EventDividendReceived:
		return "Dividend received",
			fmt.Sprintf("%s: dividend of %s", evt.Ticker, evt.Amount)
	case domain.EventPricesRefreshed:
		return "Portfolio revalued",
			fmt.Sprintf("portfolio %s now valued at %s", evt.PortfolioID, evt.Amount)
	default:
		return evt.Type, fmt.Sprintf("portfolio %s", evt.PortfolioID)
	}
}
