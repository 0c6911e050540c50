package ledger

import (
	"context"
	"errors"
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
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(dec(want)), "want %s, got %s", want, got)
}

// clonePortfolio rebuilds an independent copy, the way a store load does.
func clonePortfolio(src *domain.Portfolio) *domain.Portfolio {
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

// fakeLedger backs the engine with an in-memory portfolio map and journal.
// Get hands out independent copies so a failed commit cannot leak mutations
// into stored state.
type fakeLedger struct {
	mu         sync.Mutex
	portfolios map[uuid.UUID]*domain.Portfolio
	journal    []domain.Transaction
	failCommit bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{portfolios: make(map[uuid.UUID]*domain.Portfolio)}
}

func (f *fakeLedger) Create(_ context.Context, pf *domain.Portfolio) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portfolios[pf.ID] = clonePortfolio(pf)
	return nil
}

func (f *fakeLedger) Get(_ context.Context, id uuid.UUID) (*domain.Portfolio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pf, ok := f.portfolios[id]
	if !ok {
		return nil, domain.ErrPortfolioNotFound
	}
	return clonePortfolio(pf), nil
}

func (f *fakeLedger) Save(_ context.Context, pf *domain.Portfolio) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portfolios[pf.ID] = clonePortfolio(pf)
	return nil
}

func (f *fakeLedger) Archive(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pf, ok := f.portfolios[id]
	if !ok {
		return domain.ErrPortfolioNotFound
	}
	pf.IsActive = false
	return nil
}

func (f *fakeLedger) ListActive(context.Context, domain.ListOpts) ([]*domain.Portfolio, error) {
	return nil, nil
}

func (f *fakeLedger) ListIDs(context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(f.portfolios))
	for id := range f.portfolios {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeLedger) Commit(_ context.Context, pf *domain.Portfolio, txn domain.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCommit {
		return errors.New("postgres: connection refused")
	}
	f.portfolios[pf.ID] = clonePortfolio(pf)
	f.journal = append(f.journal, txn)
	return nil
}

type fakeBus struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (b *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeLedger, *fakeBus, *fakeAudit) {
	t.Helper()
	store := newFakeLedger()
	bus := &fakeBus{}
	audit := &fakeAudit{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := NewEngine(store, store, audit, bus, NewLocks(), logger)
	return eng, store, bus, audit
}

func seedPortfolio(t *testing.T, store *fakeLedger) uuid.UUID {
	t.Helper()
	pf := domain.NewPortfolio(uuid.New(), "growth", domain.RiskModerate, time.Now().UTC())
	require.NoError(t, store.Create(context.Background(), pf))
	return pf.ID
}

func TestApplyBuyOpensPosition(t *testing.T) {
	eng, store, bus, audit := newTestEngine(t)
	ctx := context.Background()
	id := seedPortfolio(t, store)

	txn, err := eng.ApplyBuy(ctx, id, "AAPL", dec("100"), dec("10"), dec("0"))
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionCompleted, txn.Status)
	assert.Equal(t, domain.TransactionBuy, txn.Type)

	pf, err := store.Get(ctx, id)
	require.NoError(t, err)
	pos, ok := pf.Position("AAPL")
	require.True(t, ok)
	assertDec(t, "100", pos.Shares)
	assertDec(t, "10", pos.AverageCostBasis)
	assertDec(t, "1000", pf.TotalValue)

	assert.Len(t, store.journal, 1)
	assert.Len(t, bus.payloads, 1)
	assert.Equal(t, []string{domain.EventPositionOpened}, audit.events)
}

func TestApplyBuyAveragesAcrossLots(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedPortfolio(t, store)

	_, err := eng.ApplyBuy(ctx, id, "AAPL", dec("100"), dec("10"), dec("0"))
	require.NoError(t, err)
	_, err = eng.ApplyBuy(ctx, id, "AAPL", dec("50"), dec("16"), dec("0"))
	require.NoError(t, err)

	pf, _ := store.Get(ctx, id)
	pos, _ := pf.Position("AAPL")
	assertDec(t, "150", pos.Shares)
	assertDec(t, "12", pos.AverageCostBasis)
	assertDec(t, "1800", pos.TotalCost)
}

func TestBuyEventsDistinguishOpeningFromAveraging(t *testing.T) {
	eng, store, bus, audit := newTestEngine(t)
	ctx := context.Background()
	id := seedPortfolio(t, store)

	_, err := eng.ApplyBuy(ctx, id, "AAPL", dec("100"), dec("10"), dec("0"))
	require.NoError(t, err)
	_, err = eng.ApplyBuy(ctx, id, "AAPL", dec("50"), dec("16"), dec("0"))
	require.NoError(t, err)

	require.Len(t, bus.payloads, 2)
	first, err := domain.DecodeEvent(bus.payloads[0])
	require.NoError(t, err)
	second, err := domain.DecodeEvent(bus.payloads[1])
	require.NoError(t, err)
	assert.Equal(t, domain.EventPositionOpened, first.Type)
	assert.Equal(t, domain.EventSharesPurchased, second.Type)
	assert.Equal(t, []string{domain.EventPositionOpened, domain.EventSharesPurchased}, audit.events)
}

func TestApplyBuyValidation(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedPortfolio(t, store)

	_, err := eng.ApplyBuy(ctx, id, "AAPL", dec("0"), dec("10"), dec("0"))
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = eng.ApplyBuy(ctx, id, "aapl", dec("1"), dec("10"), dec("0"))
	assert.ErrorIs(t, err, domain.ErrInvalidTicker)

	_, err = eng.ApplyBuy(ctx, uuid.New(), "AAPL", dec("1"), dec("10"), dec("0"))
	assert.ErrorIs(t, err, domain.ErrPortfolioNotFound)
}

func TestApplySellRealizesGain(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedPortfolio(t, store)

	_, err := eng.ApplyBuy(ctx, id, "AAPL", dec("100"), dec("10"), dec("0"))
	require.NoError(t, err)
	_, err = eng.ApplyBuy(ctx, id, "AAPL", dec("50"), dec("16"), dec("0"))
	require.NoError(t, err)

	txn, costBasisSold, err := eng.ApplySell(ctx, id, "AAPL", dec("60"), dec("20"), dec("0"))
	require.NoError(t, err)
	assertDec(t, "720", costBasisSold)
	assertDec(t, "1200", txn.TotalAmount)

	pf, _ := store.Get(ctx, id)
	pos, _ := pf.Position("AAPL")
	assertDec(t, "90", pos.Shares)
	assertDec(t, "12", pos.AverageCostBasis)
	assertDec(t, "480", pf.RealizedGainLoss)
}

func TestApplySellLargePennyPositionStaysConsistent(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedPortfolio(t, store)

	_, err := eng.ApplyBuy(ctx, id, "PENY", dec("1000000"), dec("0.0001"), dec("0"))
	require.NoError(t, err)
	_, err = eng.ApplyBuy(ctx, id, "PENY", dec("1000000"), dec("0.0002"), dec("0"))
	require.NoError(t, err)

	_, costBasisSold, err := eng.ApplySell(ctx, id, "PENY", dec("1900000"), dec("0.0002"), dec("0"))
	require.NoError(t, err)
	assertDec(t, "285", costBasisSold)

	pf, _ := store.Get(ctx, id)
	pos, ok := pf.Position("PENY")
	require.True(t, ok)
	assertDec(t, "100000", pos.Shares)
	assertDec(t, "15", pos.TotalCost)
	assert.True(t, pos.TotalCost.Sign() >= 0)
	require.NoError(t, pos.Reconcile())
}

func TestSellRejectedWhenStoredStateDoesNotReconcile(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedPortfolio(t, store)

	_, err := eng.ApplyBuy(ctx, id, "AAPL", dec("100"), dec("10"), dec("0"))
	require.NoError(t, err)

	// Corrupt the stored cost behind the engine's back.
	store.mu.Lock()
	pos, ok := store.portfolios[id].Position("AAPL")
	require.True(t, ok)
	pos.TotalCost = dec("5000")
	store.mu.Unlock()

	_, _, err = eng.ApplySell(ctx, id, "AAPL", dec("10"), dec("12"), dec("0"))
	assert.ErrorIs(t, err, domain.ErrReconciliation)

	// Nothing committed: journal holds only the seeding buy and the
	// corrupted value is still what the store reports.
	assert.Len(t, store.journal, 1)
	pf, _ := store.Get(ctx, id)
	got, _ := pf.Position("AAPL")
	assertDec(t, "5000", got.TotalCost)
}

func TestApplySellAllRemovesPosition(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedPortfolio(t, store)

	_, err := eng.ApplyBuy(ctx, id, "AAPL", dec("10"), dec("10"), dec("0"))
	require.NoError(t, err)
	_, _, err = eng.ApplySell(ctx, id, "AAPL", dec("10"), dec("12"), dec("0"))
	require.NoError(t, err)

	pf, _ := store.Get(ctx, id)
	_, ok := pf.Position("AAPL")
	assert.False(t, ok)
	assertDec(t, "0", pf.TotalValue)
	assertDec(t, "20", pf.RealizedGainLoss)
}

func TestApplySellInsufficientSharesLeavesStateUntouched(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedPortfolio(t, store)

	_, err := eng.ApplyBuy(ctx, id, "AAPL", dec("10"), dec("10"), dec("0"))
	require.NoError(t, err)

	_, _, err = eng.ApplySell(ctx, id, "AAPL", dec("11"), dec("12"), dec("0"))
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)

	pf, _ := store.Get(ctx, id)
	pos, _ := pf.Position("AAPL")
	assertDec(t, "10", pos.Shares)
	assertDec(t, "0", pf.RealizedGainLoss)
	assert.Len(t, store.journal, 1) // only the buy
}

func TestApplySellUnknownTicker(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	id := seedPortfolio(t, store)

	_, _, err := eng.ApplySell(context.Background(), id, "MSFT", dec("1"), dec("1"), dec("0"))
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func TestApplyDividend(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedPortfolio(t, store)

	_, err := eng.ApplyBuy(ctx, id, "AAPL", dec("100"), dec("10"), dec("0"))
	require.NoError(t, err)

	before, _ := store.Get(ctx, id)
	_, err = eng.ApplyDividend(ctx, id, "AAPL", dec("25.50"))
	require.NoError(t, err)

	pf, _ := store.Get(ctx, id)
	pos, _ := pf.Position("AAPL")
	assertDec(t, "25.50", pos.CumulativeDividends)
	assertDec(t, "25.50", pf.CumulativeDividends)

	// Shares, basis, and valuation are untouched by a dividend.
	beforePos, _ := before.Position("AAPL")
	assert.True(t, beforePos.Shares.Equal(pos.Shares))
	assert.True(t, beforePos.AverageCostBasis.Equal(pos.AverageCostBasis))
	assert.True(t, before.TotalValue.Equal(pf.TotalValue))
}

func TestApplyDividendRequiresOpenPosition(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	id := seedPortfolio(t, store)

	_, err := eng.ApplyDividend(context.Background(), id, "AAPL", dec("10"))
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func TestApplyFeeSettlesCash(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	pf := domain.NewPortfolio(uuid.New(), "managed", domain.RiskConservative, time.Now().UTC())
	pf.SettleCash = true
	pf.Credit(dec("100"))
	require.NoError(t, store.Create(ctx, pf))

	_, err := eng.ApplyFee(ctx, pf.ID, dec("30"), "advisory")
	require.NoError(t, err)

	got, _ := store.Get(ctx, pf.ID)
	assertDec(t, "70", got.CashBalance)

	_, err = eng.ApplyFee(ctx, pf.ID, dec("80"), "advisory")
	assert.ErrorIs(t, err, domain.ErrInsufficientCash)
}

func TestBuyRejectedWhenCashShort(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	pf := domain.NewPortfolio(uuid.New(), "managed", domain.RiskModerate, time.Now().UTC())
	pf.SettleCash = true
	pf.Credit(dec("500"))
	require.NoError(t, store.Create(ctx, pf))

	_, err := eng.ApplyBuy(ctx, pf.ID, "AAPL", dec("60"), dec("10"), dec("0"))
	assert.ErrorIs(t, err, domain.ErrInsufficientCash)

	got, _ := store.Get(ctx, pf.ID)
	assertDec(t, "500", got.CashBalance)
	_, ok := got.Position("AAPL")
	assert.False(t, ok)
}

func TestArchivedPortfolioRejectsMutations(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedPortfolio(t, store)
	require.NoError(t, store.Archive(ctx, id))

	_, err := eng.ApplyBuy(ctx, id, "AAPL", dec("1"), dec("1"), dec("0"))
	assert.ErrorIs(t, err, domain.ErrPortfolioArchived)
}

func TestCommitFailureLeavesStateUntouched(t *testing.T) {
	eng, store, bus, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedPortfolio(t, store)

	_, err := eng.ApplyBuy(ctx, id, "AAPL", dec("10"), dec("10"), dec("0"))
	require.NoError(t, err)

	store.failCommit = true
	_, _, err = eng.ApplySell(ctx, id, "AAPL", dec("5"), dec("12"), dec("0"))
	assert.ErrorIs(t, err, domain.ErrPersistence)

	// The stored state and journal reflect only the committed buy, and no
	// event was published for the failed sell.
	pf, _ := store.Get(ctx, id)
	pos, _ := pf.Position("AAPL")
	assertDec(t, "10", pos.Shares)
	assert.Len(t, store.journal, 1)
	assert.Len(t, bus.payloads, 1)
}

func TestConcurrentSellsSerialize(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedPortfolio(t, store)

	_, err := eng.ApplyBuy(ctx, id, "AAPL", dec("100"), dec("10"), dec("0"))
	require.NoError(t, err)

	// Ten racing sells of 15 shares against 100 held: exactly six can
	// succeed; the rest must see the updated share count and be rejected.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := eng.ApplySell(ctx, id, "AAPL", dec("15"), dec("11"), dec("0")); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 6, succeeded)
	pf, _ := store.Get(ctx, id)
	pos, ok := pf.Position("AAPL")
	require.True(t, ok)
	assertDec(t, "10", pos.Shares)
	assert.NoError(t, pos.Reconcile())
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, IsValidationError(domain.ErrInvalidQuantity))
	assert.True(t, IsValidationError(domain.ErrInsufficientShares))
	assert.True(t, IsValidationError(domain.ErrPortfolioArchived))
	assert.False(t, IsValidationError(domain.ErrPersistence))
	assert.False(t, IsValidationError(errors.New("boom")))
}
