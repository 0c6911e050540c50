package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oakline/wealthcore/internal/domain"
	"github.com/oakline/wealthcore/internal/ledger"
	"github.com/oakline/wealthcore/internal/valuation"
)

// AccountingService defines the engine operations the portfolio handler
// requires.
type AccountingService interface {
	ApplyBuy(ctx context.Context, portfolioID uuid.UUID, ticker string, shares, pricePerShare, fee decimal.Decimal) (domain.Transaction, error)
	ApplySell(ctx context.Context, portfolioID uuid.UUID, ticker string, shares, pricePerShare, fee decimal.Decimal) (domain.Transaction, decimal.Decimal, error)
	ApplyDividend(ctx context.Context, portfolioID uuid.UUID, ticker string, amount decimal.Decimal) (domain.Transaction, error)
	ApplyFee(ctx context.Context, portfolioID uuid.UUID, amount decimal.Decimal, memo string) (domain.Transaction, error)
}

// ValuationService defines the valuation operations the handler requires.
type ValuationService interface {
	Valuation(ctx context.Context, portfolioID uuid.UUID) (valuation.Report, error)
	UpdatePrices(ctx context.Context, portfolioID uuid.UUID, quotes map[string]domain.Quote) (int, error)
}

// PortfolioHandler serves portfolio, trade, and valuation HTTP endpoints.
type PortfolioHandler struct {
	portfolios domain.PortfolioStore
	txns       domain.TransactionStore
	engine     AccountingService
	valuations ValuationService
	logger     *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler with the given collaborators.
func NewPortfolioHandler(
	portfolios domain.PortfolioStore,
	txns domain.TransactionStore,
	engine AccountingService,
	valuations ValuationService,
	logger *slog.Logger,
) *PortfolioHandler {
	return &PortfolioHandler{
		portfolios: portfolios,
		txns:       txns,
		engine:     engine,
		valuations: valuations,
		logger:     logger,
	}
}

// respondErr maps domain errors onto HTTP status codes: unknown targets are
// 404, archived portfolios 409, other rejected input 422, and everything
// else a logged 500.
func (h *PortfolioHandler) respondErr(w http.ResponseWriter, r *http.Request, action string, err error) {
	switch {
	case errors.Is(err, domain.ErrPortfolioNotFound),
		errors.Is(err, domain.ErrPositionNotFound),
		errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrPortfolioArchived):
		writeError(w, http.StatusConflict, err.Error())
	case ledger.IsValidationError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "handler: "+action+" failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, action+" failed")
	}
}

type createPortfolioRequest struct {
	ClientID    uuid.UUID          `json:"client_id"`
	Name        string             `json:"name"`
	RiskProfile domain.RiskProfile `json:"risk_profile"`
	SettleCash  bool               `json:"settle_cash"`
	OpeningCash decimal.Decimal    `json:"opening_cash"`
}

// CreatePortfolio provisions a new empty portfolio.
// POST /api/portfolios
func (h *PortfolioHandler) CreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req createPortfolioRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClientID == uuid.Nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "client_id and name required")
		return
	}
	switch req.RiskProfile {
	case domain.RiskConservative, domain.RiskModerate, domain.RiskAggressive:
	case "":
		req.RiskProfile = domain.RiskModerate
	default:
		writeError(w, http.StatusBadRequest, "unknown risk_profile")
		return
	}
	if req.OpeningCash.Sign() < 0 {
		writeError(w, http.StatusBadRequest, "opening_cash must not be negative")
		return
	}

	pf := domain.NewPortfolio(req.ClientID, req.Name, req.RiskProfile, time.Now().UTC())
	pf.SettleCash = req.SettleCash
	if req.OpeningCash.Sign() > 0 {
		pf.Credit(req.OpeningCash)
	}

	if err := h.portfolios.Create(r.Context(), pf); err != nil {
		h.respondErr(w, r, "create portfolio", err)
		return
	}
	writeJSON(w, http.StatusCreated, pf)
}

// ListPortfolios returns active portfolios.
// GET /api/portfolios
func (h *PortfolioHandler) ListPortfolios(w http.ResponseWriter, r *http.Request) {
	pfs, err := h.portfolios.ListActive(r.Context(), parseListOpts(r))
	if err != nil {
		h.respondErr(w, r, "list portfolios", err)
		return
	}
	if pfs == nil {
		pfs = []*domain.Portfolio{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"portfolios": pfs})
}

// GetPortfolio returns one portfolio with its open positions.
// GET /api/portfolios/{id}
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return
	}
	pf, err := h.portfolios.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, r, "get portfolio", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"portfolio": pf,
		"positions": pf.Positions(),
	})
}

// ArchivePortfolio retires a portfolio. Archived portfolios keep their data
// but reject further mutations.
// POST /api/portfolios/{id}/archive
func (h *PortfolioHandler) ArchivePortfolio(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return
	}
	if err := h.portfolios.Archive(r.Context(), id); err != nil {
		h.respondErr(w, r, "archive portfolio", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

// GetValuation returns a consistent valuation report for one portfolio.
// Positions whose last quote is older than the freshness threshold carry a
// Stale flag, and HasStalePrices summarizes them.
// GET /api/portfolios/{id}/valuation
func (h *PortfolioHandler) GetValuation(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return
	}
	rep, err := h.valuations.Valuation(r.Context(), id)
	if err != nil {
		h.respondErr(w, r, "valuation", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ListTransactions returns journal entries for a portfolio, newest first,
// optionally filtered by ticker.
// GET /api/portfolios/{id}/transactions?ticker=AAPL&since=...&limit=...
func (h *PortfolioHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return
	}
	opts := parseListOpts(r)

	var txns []domain.Transaction
	if ticker := r.URL.Query().Get("ticker"); ticker != "" {
		txns, err = h.txns.ListByTicker(r.Context(), id, ticker, opts)
	} else {
		txns, err = h.txns.ListByPortfolio(r.Context(), id, opts)
	}
	if err != nil {
		h.respondErr(w, r, "list transactions", err)
		return
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

type tradeRequest struct {
	Ticker        string          `json:"ticker"`
	Shares        decimal.Decimal `json:"shares"`
	PricePerShare decimal.Decimal `json:"price_per_share"`
	Fee           decimal.Decimal `json:"fee"`
}

// Buy records a share purchase against a portfolio.
// POST /api/portfolios/{id}/buy
func (h *PortfolioHandler) Buy(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return
	}
	var req tradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	txn, err := h.engine.ApplyBuy(r.Context(), id, req.Ticker, req.Shares, req.PricePerShare, req.Fee)
	if err != nil {
		h.respondErr(w, r, "buy", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transaction": txn})
}

// Sell records a share sale. The response includes the cost basis of the
// shares sold and the realized gain or loss net of the fee.
// POST /api/portfolios/{id}/sell
func (h *PortfolioHandler) Sell(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return
	}
	var req tradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	txn, costBasisSold, err := h.engine.ApplySell(r.Context(), id, req.Ticker, req.Shares, req.PricePerShare, req.Fee)
	if err != nil {
		h.respondErr(w, r, "sell", err)
		return
	}
	realized := domain.RoundMoney(req.Shares.Mul(req.PricePerShare).Sub(costBasisSold).Sub(req.Fee))
	writeJSON(w, http.StatusCreated, map[string]any{
		"transaction":     txn,
		"cost_basis_sold": costBasisSold,
		"realized_gain":   realized,
	})
}

type dividendRequest struct {
	Ticker string          `json:"ticker"`
	Amount decimal.Decimal `json:"amount"`
}

// Dividend accrues a cash dividend against a held position.
// POST /api/portfolios/{id}/dividend
func (h *PortfolioHandler) Dividend(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return
	}
	var req dividendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	txn, err := h.engine.ApplyDividend(r.Context(), id, req.Ticker, req.Amount)
	if err != nil {
		h.respondErr(w, r, "dividend", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transaction": txn})
}

type feeRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Memo   string          `json:"memo"`
}

// Fee records a standalone charge against a portfolio.
// POST /api/portfolios/{id}/fee
func (h *PortfolioHandler) Fee(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return
	}
	var req feeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	txn, err := h.engine.ApplyFee(r.Context(), id, req.Amount, req.Memo)
	if err != nil {
		h.respondErr(w, r, "fee", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transaction": txn})
}

type priceUpdate struct {
	Price decimal.Decimal `json:"price"`
	AsOf  time.Time       `json:"as_of"`
}

// UpdatePrices applies a batch of quotes to a portfolio's positions and
// recomputes the aggregate once. Tickers with no open position are skipped.
// POST /api/portfolios/{id}/prices
func (h *PortfolioHandler) UpdatePrices(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return
	}
	var req map[string]priceUpdate
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req) == 0 {
		writeError(w, http.StatusBadRequest, "no quotes supplied")
		return
	}

	now := time.Now().UTC()
	quotes := make(map[string]domain.Quote, len(req))
	for ticker, upd := range req {
		asOf := upd.AsOf
		if asOf.IsZero() {
			asOf = now
		}
		quotes[ticker] = domain.Quote{Ticker: ticker, Price: upd.Price, AsOf: asOf}
	}

	applied, err := h.valuations.UpdatePrices(r.Context(), id, quotes)
	if err != nil {
		h.respondErr(w, r, "update prices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": applied})
}
