// Package pgflight is the Postgres storage layer. It owns every persisted
// entity: flights, full and simple records, duplicate snapshots and the
// materialized missing-number set.
package pgflight

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type Storage struct {
	db *pgxpool.Pool
}

func New(connString string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}

	db, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}

	s := &Storage{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// lockFlight takes the per-flight advisory lock for the transaction. Every
// mutating operation goes through it, so writers to one flight serialize
// while different flights proceed in parallel. Reads stay lock-free.
func lockFlight(ctx context.Context, tx pgx.Tx, flightID uint64) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(flightID))
	return errors.Wrap(err, "lock flight")
}
