package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/oakline/wealthcore/internal/domain"
)

// TickHandler is called for each streamed quote.
type TickHandler func(ctx context.Context, q domain.Quote)

// Feed connects to the provider's streaming endpoint, subscribes to the
// given tickers, and invokes the handler on each tick. It reconnects with
// backoff on disconnect. Ticks only warm the quote cache; the valuation
// updater applies them on its own schedule, so a flood of ticks never
// contends for portfolio locks.
type Feed struct {
	wsURL     string
	tickers   []string
	onTick    TickHandler
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewFeed creates a streaming feed for the given tickers.
func NewFeed(wsURL string, tickers []string, onTick TickHandler, logger *slog.Logger) *Feed {
	return &Feed{
		wsURL:   wsURL,
		tickers: tickers,
		onTick:  onTick,
		logger:  logger.With(slog.String("component", "marketdata_feed")),
		done:    make(chan struct{}),
	}
}

type wsSubscribe struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

type wsTick struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

// Run connects and streams until ctx is cancelled or Close is called.
func (f *Feed) Run(ctx context.Context) error {
	if len(f.tickers) == 0 {
		f.logger.Info("no tickers to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("feed disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *Feed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("marketdata: dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	sub := wsSubscribe{Action: "subscribe", Symbols: f.tickers}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("marketdata: subscribe: %w", err)
	}
	f.logger.Info("feed subscribed", slog.Int("tickers", len(f.tickers)))

	// Close the connection when the context ends so ReadMessage unblocks.
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		}
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("marketdata: read: %w", err)
		}

		var tick wsTick
		if err := json.Unmarshal(msg, &tick); err != nil {
			f.logger.Debug("unparseable tick", slog.String("error", err.Error()))
			continue
		}
		price, err := decimal.NewFromString(tick.Price)
		if err != nil || price.Sign() <= 0 {
			continue
		}
		asOf := time.Unix(tick.Timestamp, 0).UTC()
		if tick.Timestamp == 0 {
			asOf = time.Now().UTC()
		}
		if f.onTick != nil {
			f.onTick(ctx, domain.Quote{Ticker: tick.Symbol, Price: price, AsOf: asOf})
		}
	}
}

// Close stops the feed.
func (f *Feed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
