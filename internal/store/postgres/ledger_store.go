package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakline/wealthcore/internal/domain"
)

// LedgerStore implements domain.LedgerStore: one accounting mutation (the
// portfolio's new state plus its journal entry) commits in a single
// database transaction. A failure leaves the stored state untouched, so the
// engine's in-memory copy can simply be discarded.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Commit atomically persists the portfolio and appends the journal entry.
func (s *LedgerStore) Commit(ctx context.Context, pf *domain.Portfolio, txn domain.Transaction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := saveInTx(ctx, tx, pf); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, txnInsert, txnArgs(txn)...); err != nil {
		return fmt.Errorf("postgres: append transaction %s: %w", txn.Reference, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit %s: %w", txn.Reference, err)
	}
	return nil
}
