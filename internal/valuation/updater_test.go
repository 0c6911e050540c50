package valuation

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
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(dec(want)), "want %s, got %s", want, got)
}

// memStore keeps portfolios in memory and hands out rebuilt copies on Get,
// the way a store load does.
type memStore struct {
	mu         sync.Mutex
	portfolios map[uuid.UUID]*domain.Portfolio
	saves      int
}

func newMemStore() *memStore {
	return &memStore{portfolios: make(map[uuid.UUID]*domain.Portfolio)}
}

func clone(src *domain.Portfolio) *domain.Portfolio {
	cp := domain.NewPortfolio(src.ClientID, src.Name, src.RiskProfile, src.CreatedAt)
	cp.ID = src.ID
	cp.CashBalance = src.CashBalance
	cp.SettleCash = src.SettleCash
	cp.TotalValue = src.TotalValue
	cp.TotalCost = src.TotalCost
	cp.RealizedGainLoss = src.RealizedGainLoss
	cp.CumulativeDividends = src.CumulativeDividends
	cp.IsActive = src.IsActive
	cp.LastCalculated = src.LastCalculated
	for _, p := range src.Positions() {
		pp := *p
		_ = cp.AttachPosition(&pp)
	}
	return cp
}

func (m *memStore) Create(_ context.Context, pf *domain.Portfolio) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolios[pf.ID] = clone(pf)
	return nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (*domain.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pf, ok := m.portfolios[id]
	if !ok {
		return nil, domain.ErrPortfolioNotFound
	}
	return clone(pf), nil
}

func (m *memStore) Save(_ context.Context, pf *domain.Portfolio) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolios[pf.ID] = clone(pf)
	m.saves++
	return nil
}

func (m *memStore) Archive(context.Context, uuid.UUID) error { return nil }

func (m *memStore) ListActive(context.Context, domain.ListOpts) ([]*domain.Portfolio, error) {
	return nil, nil
}

func (m *memStore) ListIDs(context.Context) ([]uuid.UUID, error) { return nil, nil }

func newTestUpdater(t *testing.T) (*Updater, *memStore) {
	t.Helper()
	store := newMemStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewUpdater(store, nil, ledger.NewLocks(), logger), store
}

func seed(t *testing.T, store *memStore, now time.Time) uuid.UUID {
	t.Helper()
	pf := domain.NewPortfolio(uuid.New(), "growth", domain.RiskModerate, now)
	for _, h := range []struct{ ticker, shares, price string }{
		{"AAPL", "100", "10"},
		{"MSFT", "50", "20"},
	} {
		pos, err := domain.OpenPosition(pf.ID, h.ticker, dec(h.shares), dec(h.price), now)
		require.NoError(t, err)
		require.NoError(t, pf.AttachPosition(pos))
	}
	pf.Recalculate(now)
	require.NoError(t, store.Create(context.Background(), pf))
	return pf.ID
}

func TestUpdatePrice(t *testing.T) {
	now := time.Now().UTC()
	u, store := newTestUpdater(t)
	id := seed(t, store, now)

	pos, err := u.UpdatePrice(context.Background(), id, "AAPL", dec("15"), now)
	require.NoError(t, err)
	assertDec(t, "1500", pos.CurrentValue)

	pf, _ := store.Get(context.Background(), id)
	assertDec(t, "2500", pf.TotalValue) // 1500 + 1000
}

func TestUpdatePriceValidation(t *testing.T) {
	now := time.Now().UTC()
	u, store := newTestUpdater(t)
	id := seed(t, store, now)

	_, err := u.UpdatePrice(context.Background(), id, "AAPL", dec("0"), now)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = u.UpdatePrice(context.Background(), id, "TSLA", dec("1"), now)
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func TestUpdatePricesBatch(t *testing.T) {
	now := time.Now().UTC()
	u, store := newTestUpdater(t)
	id := seed(t, store, now)

	applied, err := u.UpdatePrices(context.Background(), id, map[string]domain.Quote{
		"AAPL": {Ticker: "AAPL", Price: dec("12"), AsOf: now},
		"MSFT": {Ticker: "MSFT", Price: dec("25"), AsOf: now},
		"TSLA": {Ticker: "TSLA", Price: dec("400"), AsOf: now}, // not held
	})
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	// One batch means one aggregate recomputation and one save.
	assert.Equal(t, 1, store.saves)

	pf, _ := store.Get(context.Background(), id)
	assertDec(t, "2450", pf.TotalValue) // 1200 + 1250
}

func TestUpdatePricesEmptyBatch(t *testing.T) {
	now := time.Now().UTC()
	u, store := newTestUpdater(t)
	id := seed(t, store, now)

	applied, err := u.UpdatePrices(context.Background(), id, nil)
	require.NoError(t, err)
	assert.Zero(t, applied)
	assert.Zero(t, store.saves)
}

func TestValuationSurfacesStaleness(t *testing.T) {
	now := time.Now().UTC()
	u, store := newTestUpdater(t)
	id := seed(t, store, now)

	// Age AAPL's quote past the freshness threshold.
	_, err := u.UpdatePrice(context.Background(), id, "AAPL", dec("15"), now.Add(-2*time.Hour))
	require.NoError(t, err)

	rep, err := u.Valuation(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, rep.HasStalePrices)
	require.Len(t, rep.Positions, 2)

	byTicker := map[string]PositionValuation{}
	for _, pv := range rep.Positions {
		byTicker[pv.Ticker] = pv
	}
	assert.True(t, byTicker["AAPL"].Stale)
	assert.False(t, byTicker["MSFT"].Stale)
	assertDec(t, "500", byTicker["AAPL"].UnrealizedGainLoss)
}

func TestValuationConsistency(t *testing.T) {
	now := time.Now().UTC()
	u, store := newTestUpdater(t)
	id := seed(t, store, now)

	rep, err := u.Valuation(context.Background(), id)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, pv := range rep.Positions {
		sum = sum.Add(pv.CurrentValue)
	}
	assert.True(t, rep.TotalValue.Equal(sum), "aggregate %s != position sum %s", rep.TotalValue, sum)
	assertDec(t, "2000", rep.TotalValue)
	assertDec(t, "0", rep.UnrealizedGainLoss)
}
