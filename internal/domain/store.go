package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PortfolioStore persists portfolios together with their position sets.
type PortfolioStore interface {
	Create(ctx context.Context, pf *Portfolio) error
	// Get loads a portfolio with all of its open positions attached. It
	// returns ErrPortfolioNotFound when the id is unknown.
	Get(ctx context.Context, id uuid.UUID) (*Portfolio, error)
	// Save writes the portfolio's aggregate fields and every attached
	// position. Positions that were closed and removed are deleted.
	Save(ctx context.Context, pf *Portfolio) error
	Archive(ctx context.Context, id uuid.UUID) error
	ListActive(ctx context.Context, opts ListOpts) ([]*Portfolio, error)
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
}

// TransactionStore is the append-only journal. Entries are never updated or
// deleted; corrections are new entries.
type TransactionStore interface {
	Append(ctx context.Context, txn Transaction) error
	GetByReference(ctx context.Context, ref string) (Transaction, error)
	ListByPortfolio(ctx context.Context, portfolioID uuid.UUID, opts ListOpts) ([]Transaction, error)
	ListByTicker(ctx context.Context, portfolioID uuid.UUID, ticker string, opts ListOpts) ([]Transaction, error)
}

// LedgerStore persists one accounting mutation atomically: the portfolio's
// new state and the journal entry that caused it commit or fail together.
// A failure means the operation did not happen; the engine reports it and
// discards its in-memory copy.
type LedgerStore interface {
	Commit(ctx context.Context, pf *Portfolio, txn Transaction) error
}

// AuditEntry is a single audit trail row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit trail of engine mutations.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
