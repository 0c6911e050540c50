package backup

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/oakline/wealthcore/internal/domain"
)

// snapshot keys embed a sortable timestamp, so the lexically greatest key
// under a portfolio's prefix is the newest snapshot.
func snapshotPrefix(portfolioID uuid.UUID) string {
	return fmt.Sprintf("snapshots/%s/", portfolioID)
}

// LatestKey returns the key of the newest archived snapshot for a
// portfolio, or domain.ErrNotFound when none exist.
func LatestKey(ctx context.Context, reader domain.BlobReader, portfolioID uuid.UUID) (string, error) {
	keys, err := reader.List(ctx, snapshotPrefix(portfolioID))
	if err != nil {
		return "", fmt.Errorf("backup: list snapshots for %s: %w", portfolioID, err)
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("backup: no snapshots for %s: %w", portfolioID, domain.ErrNotFound)
	}
	sort.Strings(keys)
	return keys[len(keys)-1], nil
}

// Restore downloads and decodes an archived snapshot.
func Restore(ctx context.Context, reader domain.BlobReader, key string) (domain.Snapshot, error) {
	body, err := reader.Get(ctx, key)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("backup: fetch snapshot %s: %w", key, err)
	}
	defer body.Close()

	gz, err := gzip.NewReader(body)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("backup: decompress snapshot %s: %w", key, err)
	}
	defer gz.Close()

	var snap domain.Snapshot
	if err := json.NewDecoder(gz).Decode(&snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("backup: decode snapshot %s: %w", key, err)
	}
	return snap, nil
}
