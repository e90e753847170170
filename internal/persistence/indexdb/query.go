package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Generations returns up to limit rows starting at generation from.
func (s *SQLiteIndex) Generations(ctx context.Context, from uint64, limit int) ([]GenerationRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT generation,at,rule,dirty,births,deaths,overrides,live,digest
		 FROM generations WHERE generation >= ? ORDER BY generation LIMIT ?`, int64(from), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GenerationRow
	for rows.Next() {
		var (
			g  GenerationRow
			n  int64
			at string
		)
		if err := rows.Scan(&n, &at, &g.Rule, &g.Dirty, &g.Births, &g.Deaths, &g.Overrides, &g.Live, &g.Digest); err != nil {
			return nil, err
		}
		g.Generation = uint64(n)
		g.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, g)
	}
	return out, rows.Err()
}

// LatestSnapshot returns the newest recorded snapshot, ok=false when none.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context) (SnapshotRow, bool, error) {
	var (
		r SnapshotRow
		n int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT generation,path,grid_rows,grid_cols,rule,digest FROM snapshots ORDER BY generation DESC LIMIT 1`).
		Scan(&n, &r.Path, &r.Rows, &r.Cols, &r.Rule, &r.Digest)
	if errors.Is(err, sql.ErrNoRows) {
		return r, false, nil
	}
	if err != nil {
		return r, false, err
	}
	r.Generation = uint64(n)
	return r, true, nil
}

// CommitCounts returns the number of successful and failed commits.
func (s *SQLiteIndex) CommitCounts(ctx context.Context) (ok, failed int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN err IS NULL THEN 1 ELSE 0 END),0),
		        COALESCE(SUM(CASE WHEN err IS NULL THEN 0 ELSE 1 END),0)
		 FROM commits`).Scan(&ok, &failed)
	return ok, failed, err
}
