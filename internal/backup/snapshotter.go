// Package backup produces consistent portfolio snapshots and archives them
// to object storage.
package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oakline/wealthcore/internal/domain"
	"github.com/oakline/wealthcore/internal/ledger"
)

// Snapshotter assembles a full snapshot of a portfolio (aggregate state,
// positions, journal) under the portfolio's lock, so the snapshot is taken
// between operations and is internally consistent. The upload happens after
// the lock is released; only the in-memory assembly is serialized.
type Snapshotter struct {
	portfolios domain.PortfolioStore
	txns       domain.TransactionStore
	writer     domain.BlobWriter
	locks      *ledger.Locks
	logger     *slog.Logger
	now        func() time.Time
}

// NewSnapshotter creates a Snapshotter sharing the engine's lock table.
func NewSnapshotter(
	portfolios domain.PortfolioStore,
	txns domain.TransactionStore,
	writer domain.BlobWriter,
	locks *ledger.Locks,
	logger *slog.Logger,
) *Snapshotter {
	return &Snapshotter{
		portfolios: portfolios,
		txns:       txns,
		writer:     writer,
		locks:      locks,
		logger:     logger.With(slog.String("component", "backup")),
		now:        time.Now,
	}
}

// Take assembles a consistent snapshot of one portfolio.
func (s *Snapshotter) Take(ctx context.Context, portfolioID uuid.UUID) (domain.Snapshot, error) {
	release := s.locks.Acquire(portfolioID)
	defer release()

	pf, err := s.portfolios.Get(ctx, portfolioID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	txns, err := s.txns.ListByPortfolio(ctx, portfolioID, domain.ListOpts{})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("backup: list transactions: %w", err)
	}

	return domain.Snapshot{
		TakenAt:      s.now().UTC(),
		Portfolio:    pf,
		Positions:    pf.Positions(),
		Transactions: txns,
	}, nil
}

// Archive takes a snapshot and uploads it as gzipped JSON. The object key
// is snapshots/{portfolioID}/{timestamp}.json.gz.
func (s *Snapshotter) Archive(ctx context.Context, portfolioID uuid.UUID) (string, error) {
	snap, err := s.Take(ctx, portfolioID)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(snap); err != nil {
		return "", fmt.Errorf("backup: encode snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("backup: compress snapshot: %w", err)
	}

	key := fmt.Sprintf("snapshots/%s/%s.json.gz",
		portfolioID, snap.TakenAt.Format("20060102T150405Z"))
	if err := s.writer.Put(ctx, key, &buf, "application/gzip"); err != nil {
		return "", fmt.Errorf("backup: upload snapshot: %w", err)
	}

	s.logger.InfoContext(ctx, "snapshot archived",
		slog.String("portfolio", portfolioID.String()),
		slog.String("key", key),
		slog.Int("transactions", len(snap.Transactions)),
	)
	return key, nil
}

// ArchiveAll snapshots every active portfolio, a few concurrently. Each
// portfolio locks independently, so backups of different portfolios do not
// serialize behind one another.
func (s *Snapshotter) ArchiveAll(ctx context.Context) error {
	ids, err := s.portfolios.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("backup: list portfolios: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := s.Archive(ctx, id); err != nil {
				return fmt.Errorf("backup: portfolio %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}
