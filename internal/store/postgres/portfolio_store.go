package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakline/wealthcore/internal/domain"
)

// PortfolioStore implements domain.PortfolioStore using PostgreSQL.
type PortfolioStore struct {
	pool *pgxpool.Pool
}

// NewPortfolioStore creates a PortfolioStore backed by the given pool.
func NewPortfolioStore(pool *pgxpool.Pool) *PortfolioStore {
	return &PortfolioStore{pool: pool}
}

const portfolioCols = `id, client_id, name, cash_balance, settle_cash,
	total_value, total_cost, realized_gain_loss, cumulative_dividends,
	risk_profile, is_active, created_at, last_calculated`

const positionCols = `id, portfolio_id, ticker, shares, avg_cost_basis,
	total_cost, current_price, current_value, cumulative_dividends,
	last_price_update, opened_at, updated_at`

func scanPortfolioRow(row pgx.Row) (*domain.Portfolio, error) {
	var pf domain.Portfolio
	var risk string
	err := row.Scan(
		&pf.ID, &pf.ClientID, &pf.Name, &pf.CashBalance, &pf.SettleCash,
		&pf.TotalValue, &pf.TotalCost, &pf.RealizedGainLoss, &pf.CumulativeDividends,
		&risk, &pf.IsActive, &pf.CreatedAt, &pf.LastCalculated,
	)
	if err != nil {
		return nil, err
	}
	pf.RiskProfile = domain.RiskProfile(risk)
	return &pf, nil
}

func scanPositionRows(rows pgx.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(
			&p.ID, &p.PortfolioID, &p.Ticker, &p.Shares, &p.AverageCostBasis,
			&p.TotalCost, &p.CurrentPrice, &p.CurrentValue, &p.CumulativeDividends,
			&p.LastPriceUpdate, &p.OpenedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		positions = append(positions, &p)
	}
	return positions, rows.Err()
}

// Create inserts a new portfolio row. The position set is expected to be
// empty at creation time.
func (s *PortfolioStore) Create(ctx context.Context, pf *domain.Portfolio) error {
	const query = `
		INSERT INTO portfolios (` + portfolioCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, query,
		pf.ID, pf.ClientID, pf.Name, pf.CashBalance, pf.SettleCash,
		pf.TotalValue, pf.TotalCost, pf.RealizedGainLoss, pf.CumulativeDividends,
		string(pf.RiskProfile), pf.IsActive, pf.CreatedAt, pf.LastCalculated,
	)
	if err != nil {
		return fmt.Errorf("postgres: create portfolio %s: %w", pf.ID, err)
	}
	return nil
}

// Get loads a portfolio with all of its open positions attached.
func (s *PortfolioStore) Get(ctx context.Context, id uuid.UUID) (*domain.Portfolio, error) {
	const query = `SELECT ` + portfolioCols + ` FROM portfolios WHERE id = $1`

	pf, err := scanPortfolioRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: portfolio %s: %w", id, domain.ErrPortfolioNotFound)
		}
		return nil, fmt.Errorf("postgres: get portfolio %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE portfolio_id = $1 ORDER BY ticker`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: get positions for %s: %w", id, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions for %s: %w", id, err)
	}
	for _, p := range positions {
		if err := pf.AttachPosition(p); err != nil {
			return nil, fmt.Errorf("postgres: attach position %s: %w", p.Ticker, err)
		}
	}
	return pf, nil
}

// Save persists the portfolio and its position set.
func (s *PortfolioStore) Save(ctx context.Context, pf *domain.Portfolio) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := saveInTx(ctx, tx, pf); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit save: %w", err)
	}
	return nil
}

// saveInTx performs the portfolio + position writes within tx. It is shared
// with the ledger store's atomic commit.
func saveInTx(ctx context.Context, tx pgx.Tx, pf *domain.Portfolio) error {
	const update = `
		UPDATE portfolios SET
			cash_balance         = $2,
			settle_cash          = $3,
			total_value          = $4,
			total_cost           = $5,
			realized_gain_loss   = $6,
			cumulative_dividends = $7,
			risk_profile         = $8,
			is_active            = $9,
			last_calculated      = $10
		WHERE id = $1`

	tag, err := tx.Exec(ctx, update,
		pf.ID, pf.CashBalance, pf.SettleCash, pf.TotalValue, pf.TotalCost,
		pf.RealizedGainLoss, pf.CumulativeDividends, string(pf.RiskProfile),
		pf.IsActive, pf.LastCalculated,
	)
	if err != nil {
		return fmt.Errorf("postgres: save portfolio %s: %w", pf.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: portfolio %s: %w", pf.ID, domain.ErrPortfolioNotFound)
	}

	const upsert = `
		INSERT INTO positions (` + positionCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (portfolio_id, ticker) DO UPDATE SET
			shares               = EXCLUDED.shares,
			avg_cost_basis       = EXCLUDED.avg_cost_basis,
			total_cost           = EXCLUDED.total_cost,
			current_price        = EXCLUDED.current_price,
			current_value        = EXCLUDED.current_value,
			cumulative_dividends = EXCLUDED.cumulative_dividends,
			last_price_update    = EXCLUDED.last_price_update,
			updated_at           = EXCLUDED.updated_at`

	tickers := make([]string, 0, len(pf.Positions()))
	for _, p := range pf.Positions() {
		tickers = append(tickers, p.Ticker)
		if _, err := tx.Exec(ctx, upsert,
			p.ID, p.PortfolioID, p.Ticker, p.Shares, p.AverageCostBasis,
			p.TotalCost, p.CurrentPrice, p.CurrentValue, p.CumulativeDividends,
			p.LastPriceUpdate, p.OpenedAt, p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("postgres: save position %s/%s: %w", pf.ID, p.Ticker, err)
		}
	}

	// Closed positions dropped from the set are removed; their journal
	// entries remain in transactions.
	if _, err := tx.Exec(ctx,
		`DELETE FROM positions WHERE portfolio_id = $1 AND ticker != ALL($2)`,
		pf.ID, tickers,
	); err != nil {
		return fmt.Errorf("postgres: prune positions for %s: %w", pf.ID, err)
	}
	return nil
}

// Archive marks a portfolio inactive. Archived portfolios reject mutations
// at the engine; their data is retained.
func (s *PortfolioStore) Archive(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE portfolios SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: archive portfolio %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: portfolio %s: %w", id, domain.ErrPortfolioNotFound)
	}
	return nil
}

// ListActive returns active portfolios without their position sets.
func (s *PortfolioStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]*domain.Portfolio, error) {
	query := `SELECT ` + portfolioCols + ` FROM portfolios WHERE is_active ORDER BY created_at`
	args := []any{}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list portfolios: %w", err)
	}
	defer rows.Close()

	var out []*domain.Portfolio
	for rows.Next() {
		pf, err := scanPortfolioRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan portfolio: %w", err)
		}
		out = append(out, pf)
	}
	return out, rows.Err()
}

// ListIDs returns the ids of all active portfolios, for batch refresh.
func (s *PortfolioStore) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM portfolios WHERE is_active`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list portfolio ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan portfolio id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
