package pgflight

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/PaxBox/internal/models"
)

// GetFlightStats aggregates the flight's record counts straight from the
// tables. Callers cache the result; the store always computes fresh.
func (s *Storage) GetFlightStats(ctx context.Context, flight *models.Flight) (*models.FlightStats, error) {
	stats := &models.FlightStats{
		FlightKey:  flight.FlightKey,
		ComputedAt: time.Now().UTC(),
	}

	err := s.db.QueryRow(ctx, `
SELECT
  count(*),
  count(*) FILTER (WHERE validated),
  count(*) FILTER (WHERE validated AND valid),
  count(*) FILTER (WHERE validated AND NOT valid),
  count(*) FILTER (WHERE accepted)
FROM hbpr_records
WHERE flight_id = $1
`, flight.ID).Scan(&stats.TotalRecords, &stats.Validated, &stats.Valid, &stats.Invalid, &stats.Accepted)
	if err != nil {
		return nil, errors.Wrap(err, "count records")
	}

	err = s.db.QueryRow(ctx, `
SELECT
  (SELECT count(*) FROM simple_records WHERE flight_id = $1),
  (SELECT count(*) FROM duplicate_records WHERE flight_id = $1),
  (SELECT count(*) FROM missing_numbers WHERE flight_id = $1)
`, flight.ID).Scan(&stats.SimpleRecords, &stats.DuplicateRecords, &stats.MissingCount)
	if err != nil {
		return nil, errors.Wrap(err, "count side tables")
	}

	var minKey, maxKey *int
	err = s.db.QueryRow(ctx, `
SELECT min(hbnb), max(hbnb) FROM (
  SELECT hbnb FROM hbpr_records WHERE flight_id = $1
  UNION
  SELECT hbnb FROM simple_records WHERE flight_id = $1
) keys
`, flight.ID).Scan(&minKey, &maxKey)
	if err != nil {
		return nil, errors.Wrap(err, "key bounds")
	}
	stats.MinHbnb, stats.MaxHbnb = minKey, maxKey

	rows, err := s.db.Query(ctx, `
SELECT main_class, count(*)
FROM hbpr_records
WHERE flight_id = $1 AND main_class <> ''
GROUP BY main_class
`, flight.ID)
	if err != nil {
		return nil, errors.Wrap(err, "class breakdown")
	}
	defer rows.Close()

	stats.ClassCounts = map[string]int{}
	for rows.Next() {
		var class string
		var n int
		if err := rows.Scan(&class, &n); err != nil {
			return nil, errors.Wrap(err, "scan class count")
		}
		stats.ClassCounts[class] = n
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return stats, nil
}
