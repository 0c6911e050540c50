package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/oakline/wealthcore/internal/domain"
)

// TransactionStore implements the append-only journal using PostgreSQL.
// Entries are inserted once and never updated.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a TransactionStore backed by the given pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const txnCols = `id, portfolio_id, ticker, type, status, reference,
	shares, price_per_share, fee, memo, total_amount, occurred_at, created_at`

const txnInsert = `
	INSERT INTO transactions (` + txnCols + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

// txnArgs flattens the typed detail structs into journal columns.
func txnArgs(t domain.Transaction) []any {
	var (
		ticker        *string
		shares, price *decimal.Decimal
		fee           *decimal.Decimal
		memo          *string
	)
	if t.Ticker != "" {
		ticker = &t.Ticker
	}
	switch {
	case t.Trade != nil:
		shares, price, fee = &t.Trade.Shares, &t.Trade.PricePerShare, &t.Trade.Fee
	case t.Fee != nil:
		fee = &t.Fee.Amount
		if t.Fee.Memo != "" {
			memo = &t.Fee.Memo
		}
	}
	return []any{
		t.ID, t.PortfolioID, ticker, string(t.Type), string(t.Status), t.Reference,
		shares, price, fee, memo, t.TotalAmount, t.OccurredAt, t.CreatedAt,
	}
}

func scanTxnRow(row pgx.Row) (domain.Transaction, error) {
	var (
		t             domain.Transaction
		typ, status   string
		ticker, memo  *string
		shares, price *decimal.Decimal
		fee           *decimal.Decimal
	)
	err := row.Scan(
		&t.ID, &t.PortfolioID, &ticker, &typ, &status, &t.Reference,
		&shares, &price, &fee, &memo, &t.TotalAmount, &t.OccurredAt, &t.CreatedAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}
	t.Type = domain.TransactionType(typ)
	t.Status = domain.TransactionStatus(status)
	if ticker != nil {
		t.Ticker = *ticker
	}
	switch t.Type {
	case domain.TransactionBuy, domain.TransactionSell:
		td := domain.TradeDetail{}
		if shares != nil {
			td.Shares = *shares
		}
		if price != nil {
			td.PricePerShare = *price
		}
		if fee != nil {
			td.Fee = *fee
		}
		t.Trade = &td
	case domain.TransactionDividend:
		t.Dividend = &domain.DividendDetail{Amount: t.TotalAmount}
	case domain.TransactionFee:
		fd := domain.FeeDetail{Amount: t.TotalAmount}
		if memo != nil {
			fd.Memo = *memo
		}
		t.Fee = &fd
	}
	return t, nil
}

// Append inserts a journal entry.
func (s *TransactionStore) Append(ctx context.Context, txn domain.Transaction) error {
	if _, err := s.pool.Exec(ctx, txnInsert, txnArgs(txn)...); err != nil {
		return fmt.Errorf("postgres: append transaction %s: %w", txn.Reference, err)
	}
	return nil
}

// GetByReference looks a journal entry up by its unique reference number.
func (s *TransactionStore) GetByReference(ctx context.Context, ref string) (domain.Transaction, error) {
	const query = `SELECT ` + txnCols + ` FROM transactions WHERE reference = $1`
	t, err := scanTxnRow(s.pool.QueryRow(ctx, query, ref))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, fmt.Errorf("postgres: transaction %s: %w", ref, domain.ErrNotFound)
		}
		return domain.Transaction{}, fmt.Errorf("postgres: get transaction %s: %w", ref, err)
	}
	return t, nil
}

func (s *TransactionStore) list(ctx context.Context, query string, args []any, opts domain.ListOpts) ([]domain.Transaction, error) {
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND occurred_at <= $%d", len(args))
	}
	query += " ORDER BY occurred_at DESC, created_at DESC"
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
		return nil, fmt.Errorf("postgres: list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTxnRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListByPortfolio returns a portfolio's journal entries, newest first.
func (s *TransactionStore) ListByPortfolio(ctx context.Context, portfolioID uuid.UUID, opts domain.ListOpts) ([]domain.Transaction, error) {
	query := `SELECT ` + txnCols + ` FROM transactions WHERE portfolio_id = $1`
	return s.list(ctx, query, []any{portfolioID}, opts)
}

// ListByTicker returns the journal for one ticker within a portfolio. The
// history of a closed position stays queryable here after the position row
// is gone.
func (s *TransactionStore) ListByTicker(ctx context.Context, portfolioID uuid.UUID, ticker string, opts domain.ListOpts) ([]domain.Transaction, error) {
	query := `SELECT ` + txnCols + ` FROM transactions WHERE portfolio_id = $1 AND ticker = $2`
	return s.list(ctx, query, []any{portfolioID, ticker}, opts)
}
