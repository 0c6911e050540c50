package refresh

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakline/wealthcore/internal/domain"
	"github.com/oakline/wealthcore/internal/ledger"
	"github.com/oakline/wealthcore/internal/valuation"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type memPortfolios struct {
	mu         sync.Mutex
	portfolios map[uuid.UUID]*domain.Portfolio
}

func newMemPortfolios() *memPortfolios {
	return &memPortfolios{portfolios: make(map[uuid.UUID]*domain.Portfolio)}
}

func clone(src *domain.Portfolio) *domain.Portfolio {
	cp := domain.NewPortfolio(src.ClientID, src.Name, src.RiskProfile, src.CreatedAt)
	cp.ID = src.ID
	cp.TotalValue = src.TotalValue
	cp.TotalCost = src.TotalCost
	cp.IsActive = src.IsActive
	for _, p := range src.Positions() {
		pp := *p
		_ = cp.AttachPosition(&pp)
	}
	return cp
}

func (m *memPortfolios) Create(_ context.Context, pf *domain.Portfolio) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolios[pf.ID] = clone(pf)
	return nil
}

func (m *memPortfolios) Get(_ context.Context, id uuid.UUID) (*domain.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pf, ok := m.portfolios[id]
	if !ok {
		return nil, domain.ErrPortfolioNotFound
	}
	return clone(pf), nil
}

func (m *memPortfolios) Save(_ context.Context, pf *domain.Portfolio) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolios[pf.ID] = clone(pf)
	return nil
}

func (m *memPortfolios) Archive(context.Context, uuid.UUID) error { return nil }

func (m *memPortfolios) ListActive(context.Context, domain.ListOpts) ([]*domain.Portfolio, error) {
	return nil, nil
}

func (m *memPortfolios) ListIDs(context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(m.portfolios))
	for id := range m.portfolios {
		ids = append(ids, id)
	}
	return ids, nil
}

// memQuotes is an in-memory QuoteCache.
type memQuotes struct {
	mu     sync.Mutex
	quotes map[string]domain.Quote
	sets   int
}

func newMemQuotes() *memQuotes { return &memQuotes{quotes: make(map[string]domain.Quote)} }

func (m *memQuotes) SetQuote(_ context.Context, q domain.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.Ticker] = q
	m.sets++
	return nil
}

func (m *memQuotes) GetQuote(_ context.Context, ticker string) (domain.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[ticker]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

func (m *memQuotes) GetQuotes(_ context.Context, tickers []string) (map[string]domain.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.Quote)
	for _, t := range tickers {
		if q, ok := m.quotes[t]; ok {
			out[t] = q
		}
	}
	return out, nil
}

// stubQuoter serves canned quotes and records which tickers were fetched.
type stubQuoter struct {
	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	fetched []string
}

func (s *stubQuoter) Quote(_ context.Context, ticker string) (domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, ticker)
	price, ok := s.prices[ticker]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return domain.Quote{Ticker: ticker, Price: price, AsOf: time.Now().UTC()}, nil
}

func newTestRefresher(t *testing.T) (*Refresher, *memPortfolios, *memQuotes, *stubQuoter) {
	t.Helper()
	store := newMemPortfolios()
	cache := newMemQuotes()
	provider := &stubQuoter{prices: map[string]decimal.Decimal{
		"AAPL": dec("15"),
		"MSFT": dec("25"),
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	updater := valuation.NewUpdater(store, nil, ledger.NewLocks(), logger)
	r := NewRefresher(Config{}, store, cache, provider, updater, logger)
	return r, store, cache, provider
}

func seed(t *testing.T, store *memPortfolios, tickers ...string) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	pf := domain.NewPortfolio(uuid.New(), "growth", domain.RiskModerate, now)
	for _, ticker := range tickers {
		pos, err := domain.OpenPosition(pf.ID, ticker, dec("100"), dec("10"), now)
		require.NoError(t, err)
		require.NoError(t, pf.AttachPosition(pos))
	}
	pf.Recalculate(now)
	require.NoError(t, store.Create(context.Background(), pf))
	return pf.ID
}

func TestRefreshPortfolioFetchesAndApplies(t *testing.T) {
	r, store, cache, provider := newTestRefresher(t)
	ctx := context.Background()
	id := seed(t, store, "AAPL", "MSFT")

	applied, err := r.RefreshPortfolio(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	pf, _ := store.Get(ctx, id)
	pos, _ := pf.Position("AAPL")
	assert.True(t, pos.CurrentValue.Equal(dec("1500")), "got %s", pos.CurrentValue)

	// Fetched quotes were written back to the cache.
	assert.Equal(t, 2, cache.sets)
	assert.ElementsMatch(t, []string{"AAPL", "MSFT"}, provider.fetched)
}

func TestRefreshPortfolioPrefersCache(t *testing.T) {
	r, store, cache, provider := newTestRefresher(t)
	ctx := context.Background()
	id := seed(t, store, "AAPL", "MSFT")

	require.NoError(t, cache.SetQuote(ctx, domain.Quote{
		Ticker: "AAPL", Price: dec("14"), AsOf: time.Now().UTC(),
	}))

	applied, err := r.RefreshPortfolio(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	// Only the cache miss hit the provider.
	assert.Equal(t, []string{"MSFT"}, provider.fetched)

	pf, _ := store.Get(ctx, id)
	pos, _ := pf.Position("AAPL")
	assert.True(t, pos.CurrentPrice.Equal(dec("14")))
}

func TestRefreshPortfolioSkipsUnknownTickers(t *testing.T) {
	r, store, _, _ := newTestRefresher(t)
	ctx := context.Background()
	id := seed(t, store, "AAPL", "ZZZQ")

	// The provider does not know ZZZQ; the batch still applies AAPL.
	applied, err := r.RefreshPortfolio(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
}

func TestRefreshPortfolioNoPositions(t *testing.T) {
	r, store, _, provider := newTestRefresher(t)
	id := seed(t, store)

	applied, err := r.RefreshPortfolio(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, applied)
	assert.Empty(t, provider.fetched)
}

func TestRefreshAllCoversEveryPortfolio(t *testing.T) {
	r, store, _, _ := newTestRefresher(t)
	ctx := context.Background()
	a := seed(t, store, "AAPL")
	b := seed(t, store, "MSFT")

	require.NoError(t, r.RefreshAll(ctx))

	pfA, _ := store.Get(ctx, a)
	posA, _ := pfA.Position("AAPL")
	assert.True(t, posA.CurrentPrice.Equal(dec("15")))

	pfB, _ := store.Get(ctx, b)
	posB, _ := pfB.Position("MSFT")
	assert.True(t, posB.CurrentPrice.Equal(dec("25")))
}
