package pgflight

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS flights (
  id BIGSERIAL PRIMARY KEY,
  flight_key TEXT NOT NULL,
  number TEXT NOT NULL DEFAULT '',
  date TIMESTAMPTZ NULL,
  station TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (flight_key)
)`,
		`
CREATE TABLE IF NOT EXISTS hbpr_records (
  id BIGSERIAL PRIMARY KEY,
  flight_id BIGINT NOT NULL REFERENCES flights(id) ON DELETE CASCADE,
  hbnb INT NOT NULL,
  content TEXT NOT NULL,
  validated BOOLEAN NOT NULL DEFAULT FALSE,
  valid BOOLEAN NOT NULL DEFAULT FALSE,
  accepted BOOLEAN NOT NULL DEFAULT FALSE,
  main_class TEXT NOT NULL DEFAULT '',
  pax_name TEXT NOT NULL DEFAULT '',
  seat TEXT NOT NULL DEFAULT '',
  parsed JSONB NULL,
  outcome JSONB NULL,
  needs_revalidation BOOLEAN NOT NULL DEFAULT TRUE,
  revalidate_after TIMESTAMPTZ NOT NULL,
  validate_fail_count INT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (flight_id, hbnb)
)`,
		`CREATE INDEX IF NOT EXISTS idx_hbpr_records_revalidate ON hbpr_records(needs_revalidation, revalidate_after)`,
		`
CREATE TABLE IF NOT EXISTS simple_records (
  id BIGSERIAL PRIMARY KEY,
  flight_id BIGINT NOT NULL REFERENCES flights(id) ON DELETE CASCADE,
  hbnb INT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  UNIQUE (flight_id, hbnb)
)`,
		`
CREATE TABLE IF NOT EXISTS duplicate_records (
  id BIGSERIAL PRIMARY KEY,
  flight_id BIGINT NOT NULL REFERENCES flights(id) ON DELETE CASCADE,
  hbnb INT NOT NULL,
  content TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_duplicate_records_key ON duplicate_records(flight_id, hbnb, created_at)`,
		`
CREATE TABLE IF NOT EXISTS missing_numbers (
  flight_id BIGINT NOT NULL REFERENCES flights(id) ON DELETE CASCADE,
  hbnb INT NOT NULL,
  PRIMARY KEY (flight_id, hbnb)
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
