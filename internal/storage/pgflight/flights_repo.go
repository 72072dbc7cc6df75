package pgflight

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/PaxBox/internal/models"
)

const flightColumns = `id, flight_key, number, date, station, created_at, updated_at`

// CreateOrGetFlight upserts the flight row for a key. The number, date and
// station columns are derived from the key itself; an existing row is
// returned untouched.
func (s *Storage) CreateOrGetFlight(ctx context.Context, flightKey string) (*models.Flight, error) {
	number, date, station := models.ParseFlightKey(flightKey)
	now := time.Now().UTC()

	var f models.Flight
	err := s.db.QueryRow(ctx, `
INSERT INTO flights (flight_key, number, date, station, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5)
ON CONFLICT (flight_key)
DO UPDATE SET updated_at = flights.updated_at
RETURNING `+flightColumns+`
`, flightKey, number, date, station, now).Scan(
		&f.ID, &f.FlightKey, &f.Number, &f.Date, &f.Station, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "upsert flight")
	}
	return &f, nil
}

func (s *Storage) GetFlightByKey(ctx context.Context, flightKey string) (*models.Flight, error) {
	var f models.Flight
	err := s.db.QueryRow(ctx, `
SELECT `+flightColumns+` FROM flights WHERE flight_key = $1
`, flightKey).Scan(
		&f.ID, &f.FlightKey, &f.Number, &f.Date, &f.Station, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{FlightKey: flightKey}
	}
	if err != nil {
		return nil, errors.Wrap(err, "select flight")
	}
	return &f, nil
}

// HasRecords reports whether the flight holds any full or simple record.
func (s *Storage) HasRecords(ctx context.Context, flightID uint64) (bool, error) {
	var has bool
	err := s.db.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM hbpr_records WHERE flight_id = $1)
    OR EXISTS (SELECT 1 FROM simple_records WHERE flight_id = $1)
`, flightID).Scan(&has)
	return has, errors.Wrap(err, "check flight records")
}

// DeleteFlightData wipes every record row of the flight but keeps the
// flight itself. Used by rebuild ingests.
func (s *Storage) DeleteFlightData(ctx context.Context, flightID uint64) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockFlight(ctx, tx, flightID); err != nil {
		return err
	}
	for _, table := range []string{"hbpr_records", "simple_records", "duplicate_records", "missing_numbers"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE flight_id = $1`, flightID); err != nil {
			return errors.Wrap(err, "delete "+table)
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}
