package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/kittclouds/dice/pkg/extraction"
)

// WindowHistory implements analyzer.HistoryStore against the same SQLite
// database as the proposition repository, so a host process gets
// across-restart window dedup for free instead of an in-memory-only set
// that forgets everything on exit.
type WindowHistory struct {
	db *sql.DB
}

// History returns a WindowHistory bound to s's underlying database.
func (s *SQLiteStore) History() *WindowHistory {
	return &WindowHistory{db: s.db}
}

// WasProcessed reports whether sourceID/contentHash has already been
// recorded, successful or failed. A failed window is not retried
// automatically, matching the analyzer's documented behavior.
func (h *WindowHistory) WasProcessed(ctx context.Context, sourceID, contentHash string) (bool, error) {
	var n int
	err := h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM window_history WHERE source_id = ? AND content_hash = ?`,
		sourceID, contentHash).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Record marks chunk as processed for sourceID.
func (h *WindowHistory) Record(ctx context.Context, sourceID string, chunk extraction.Chunk) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO window_history (source_id, content_hash, recorded_at) VALUES (?, ?, ?)`,
		sourceID, chunk.ContentHash(), time.Now().Unix())
	return err
}

// SaveRevisionStats accumulates a reviser run's fast-path/total counters
// against contextID, for dicectl stats to report a running fast-path hit
// rate across ingest invocations.
func (s *SQLiteStore) SaveRevisionStats(ctx context.Context, contextID string, fastPathHits, totalInputs int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revision_stats (context_id, fast_path_hits, total_inputs)
		VALUES (?, ?, ?)
		ON CONFLICT(context_id) DO UPDATE SET
			fast_path_hits = fast_path_hits + excluded.fast_path_hits,
			total_inputs = total_inputs + excluded.total_inputs
	`, contextID, fastPathHits, totalInputs)
	return err
}

// RevisionStats returns the accumulated fast-path/total counters for
// contextID, both zero if no ingest has run against it yet.
func (s *SQLiteStore) RevisionStats(ctx context.Context, contextID string) (fastPathHits, totalInputs int64, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT fast_path_hits, total_inputs FROM revision_stats WHERE context_id = ?`, contextID)
	err = row.Scan(&fastPathHits, &totalInputs)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	return fastPathHits, totalInputs, err
}
