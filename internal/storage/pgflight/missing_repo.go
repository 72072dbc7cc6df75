package pgflight

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// recomputeMissingTx rebuilds the materialized missing set: every key in
// [min,max] over full and simple records that no record covers. Runs inside
// the mutating transaction so the set is never stale after commit.
func recomputeMissingTx(ctx context.Context, tx pgx.Tx, flightID uint64) error {
	if _, err := tx.Exec(ctx, `
DELETE FROM missing_numbers WHERE flight_id = $1
`, flightID); err != nil {
		return errors.Wrap(err, "clear missing numbers")
	}

	if _, err := tx.Exec(ctx, `
WITH keys AS (
  SELECT hbnb FROM hbpr_records WHERE flight_id = $1
  UNION
  SELECT hbnb FROM simple_records WHERE flight_id = $1
),
bounds AS (
  SELECT min(hbnb) AS lo, max(hbnb) AS hi FROM keys
)
INSERT INTO missing_numbers (flight_id, hbnb)
SELECT $1, gs
FROM bounds, generate_series(bounds.lo, bounds.hi) AS gs
WHERE NOT EXISTS (SELECT 1 FROM keys WHERE keys.hbnb = gs)
`, flightID); err != nil {
		return errors.Wrap(err, "rebuild missing numbers")
	}
	return nil
}

// RecomputeMissingNumbers rebuilds the missing set outside any other
// mutation and returns the fresh result.
func (s *Storage) RecomputeMissingNumbers(ctx context.Context, flightID uint64) ([]int, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockFlight(ctx, tx, flightID); err != nil {
		return nil, err
	}
	if err := recomputeMissingTx(ctx, tx, flightID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return s.GetMissingNumbers(ctx, flightID)
}

func (s *Storage) GetMissingNumbers(ctx context.Context, flightID uint64) ([]int, error) {
	rows, err := s.db.Query(ctx, `
SELECT hbnb FROM missing_numbers WHERE flight_id = $1 ORDER BY hbnb
`, flightID)
	if err != nil {
		return nil, errors.Wrap(err, "select missing numbers")
	}
	defer rows.Close()

	out := []int{}
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, errors.Wrap(err, "scan missing number")
		}
		out = append(out, n)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
