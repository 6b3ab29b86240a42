package store

import (
	"context"
	"fmt"
	"time"
)

// RunRetention deletes key/value rows not written within maxAge and returns
// how many were removed. Leads are never purged.
func (s *Store) RunRetention(ctx context.Context, maxAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale kv rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted kv rows: %w", err)
	}
	if n > 0 {
		s.logger.Info().Int64("rows", n).Dur("max_age", maxAge).Msg("retention purged kv rows")
	}
	return n, nil
}

// DBSizeBytes returns the database size in bytes
func (s *Store) DBSizeBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount, pageSize int64
	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}
	return pageCount * pageSize, nil
}
