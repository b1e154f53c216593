package store

import (
	"context"
	"fmt"
)

// RefreshViews rebuilds both materialized views, one after the other, on
// the underlying connections, never inside a caller's transaction (Postgres
// forbids REFRESH MATERIALIZED VIEW CONCURRENTLY in a transaction block
// that has already taken other locks, and the views component (§4.I) runs
// it standalone on a timer anyway). A view that has never been populated
// (v5 creates both WITH NO DATA) gets a plain REFRESH, since Postgres
// refuses CONCURRENTLY on it; later refreshes use CONCURRENTLY.
func (s *Store) RefreshViews(ctx context.Context) error {
	for _, view := range []string{"session_times", "utxos"} {
		var populated bool
		if err := s.pool.QueryRow(ctx, `SELECT ispopulated FROM pg_matviews WHERE matviewname = $1`, view).Scan(&populated); err != nil {
			return fmt.Errorf("check %s populated: %w", view, err)
		}
		stmt := `REFRESH MATERIALIZED VIEW ` + view
		if populated {
			stmt = `REFRESH MATERIALIZED VIEW CONCURRENTLY ` + view
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("refresh %s: %w", view, err)
		}
	}
	return nil
}
