package pgflight

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/PaxBox/internal/models"
)

const recordColumns = `
  id, flight_id, hbnb, content,
  validated, valid,
  needs_revalidation, revalidate_after, validate_fail_count,
  parsed, outcome,
  created_at, updated_at`

func scanRecord(row pgx.Row) (*models.HbprRecord, error) {
	var (
		r               models.HbprRecord
		revalidateAfter time.Time
		parsed, outcome []byte
	)
	err := row.Scan(
		&r.ID, &r.FlightID, &r.Hbnb, &r.Content,
		&r.Validated, &r.Valid,
		&r.NeedsRevalidation, &revalidateAfter, &r.ValidateFailCount,
		&parsed, &outcome,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.RevalidateAfter = &revalidateAfter
	if len(parsed) > 0 {
		r.Parsed = &models.ParsedFields{}
		if err := json.Unmarshal(parsed, r.Parsed); err != nil {
			return nil, errors.Wrap(err, "decode parsed fields")
		}
	}
	if len(outcome) > 0 {
		r.Outcome = &models.ValidationOutcome{}
		if err := json.Unmarshal(outcome, r.Outcome); err != nil {
			return nil, errors.Wrap(err, "decode outcome")
		}
	}
	return &r, nil
}

// CreateFullRecord inserts a live record for the key. A live record already
// holding the key is a DuplicateKeyError; a simple placeholder for the key
// is consumed. The missing set is recomputed before commit.
func (s *Storage) CreateFullRecord(ctx context.Context, flightID uint64, hbnb int, content string) (*models.HbprRecord, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockFlight(ctx, tx, flightID); err != nil {
		return nil, err
	}

	var exists bool
	err = tx.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM hbpr_records WHERE flight_id = $1 AND hbnb = $2)
`, flightID, hbnb).Scan(&exists)
	if err != nil {
		return nil, errors.Wrap(err, "check record exists")
	}
	if exists {
		return nil, &models.DuplicateKeyError{Hbnb: hbnb}
	}

	now := time.Now().UTC()
	rec, err := scanRecord(tx.QueryRow(ctx, `
INSERT INTO hbpr_records (flight_id, hbnb, content, revalidate_after, created_at, updated_at)
VALUES ($1,$2,$3,$4,$4,$4)
RETURNING `+recordColumns, flightID, hbnb, content, now))
	if err != nil {
		return nil, errors.Wrap(err, "insert record")
	}

	if _, err := tx.Exec(ctx, `
DELETE FROM simple_records WHERE flight_id = $1 AND hbnb = $2
`, flightID, hbnb); err != nil {
		return nil, errors.Wrap(err, "consume simple record")
	}

	if err := recomputeMissingTx(ctx, tx, flightID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return rec, nil
}

// ReplaceFullRecord swaps the live record's content and archives the prior
// content as a duplicate snapshot keeping its original created_at, so the
// lineage stays ordered with the oldest snapshot first. Key membership does
// not change, so the missing set stays as is.
func (s *Storage) ReplaceFullRecord(ctx context.Context, flightID uint64, hbnb int, content string) (*models.HbprRecord, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockFlight(ctx, tx, flightID); err != nil {
		return nil, err
	}

	var (
		prevContent   string
		prevCreatedAt time.Time
	)
	err = tx.QueryRow(ctx, `
SELECT content, created_at FROM hbpr_records WHERE flight_id = $1 AND hbnb = $2 FOR UPDATE
`, flightID, hbnb).Scan(&prevContent, &prevCreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{Hbnb: hbnb}
	}
	if err != nil {
		return nil, errors.Wrap(err, "select record for replace")
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO duplicate_records (flight_id, hbnb, content, created_at)
VALUES ($1,$2,$3,$4)
`, flightID, hbnb, prevContent, prevCreatedAt); err != nil {
		return nil, errors.Wrap(err, "archive prior content")
	}

	now := time.Now().UTC()
	rec, err := scanRecord(tx.QueryRow(ctx, `
UPDATE hbpr_records
SET
  content = $3,
  validated = FALSE,
  valid = FALSE,
  accepted = FALSE,
  main_class = '',
  pax_name = '',
  seat = '',
  parsed = NULL,
  outcome = NULL,
  needs_revalidation = TRUE,
  revalidate_after = $4,
  validate_fail_count = 0,
  created_at = $4,
  updated_at = $4
WHERE flight_id = $1 AND hbnb = $2
RETURNING `+recordColumns, flightID, hbnb, content, now))
	if err != nil {
		return nil, errors.Wrap(err, "replace record")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return rec, nil
}

// ArchiveDuplicate stores a duplicate snapshot without touching the live
// record. The snapshot is timestamped now, keeping it newest in the lineage.
func (s *Storage) ArchiveDuplicate(ctx context.Context, flightID uint64, hbnb int, content string) (*models.DuplicateRecord, error) {
	var d models.DuplicateRecord
	err := s.db.QueryRow(ctx, `
INSERT INTO duplicate_records (flight_id, hbnb, content, created_at)
VALUES ($1,$2,$3,now())
RETURNING id, flight_id, hbnb, content, created_at
`, flightID, hbnb, content).Scan(&d.ID, &d.FlightID, &d.Hbnb, &d.Content, &d.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "insert duplicate")
	}
	return &d, nil
}

// CreateSimpleRecord acknowledges a key without content. Creation is
// idempotent; a full record already holding the key is a DuplicateKeyError.
func (s *Storage) CreateSimpleRecord(ctx context.Context, flightID uint64, hbnb int) (*models.SimpleRecord, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockFlight(ctx, tx, flightID); err != nil {
		return nil, err
	}

	var exists bool
	err = tx.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM hbpr_records WHERE flight_id = $1 AND hbnb = $2)
`, flightID, hbnb).Scan(&exists)
	if err != nil {
		return nil, errors.Wrap(err, "check record exists")
	}
	if exists {
		return nil, &models.DuplicateKeyError{Hbnb: hbnb}
	}

	var rec models.SimpleRecord
	err = tx.QueryRow(ctx, `
INSERT INTO simple_records (flight_id, hbnb, created_at)
VALUES ($1,$2,now())
ON CONFLICT (flight_id, hbnb)
DO UPDATE SET created_at = simple_records.created_at
RETURNING id, flight_id, hbnb, created_at
`, flightID, hbnb).Scan(&rec.ID, &rec.FlightID, &rec.Hbnb, &rec.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "insert simple record")
	}

	if err := recomputeMissingTx(ctx, tx, flightID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return &rec, nil
}

func (s *Storage) DeleteSimpleRecord(ctx context.Context, flightID uint64, hbnb int) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockFlight(ctx, tx, flightID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
DELETE FROM simple_records WHERE flight_id = $1 AND hbnb = $2
`, flightID, hbnb)
	if err != nil {
		return errors.Wrap(err, "delete simple record")
	}
	if tag.RowsAffected() == 0 {
		return &models.NotFoundError{Hbnb: hbnb}
	}

	if err := recomputeMissingTx(ctx, tx, flightID); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

// UpdateValidationResult persists one pipeline run: the parsed projection,
// the outcome, and the flattened query columns derived from them. It also
// clears the revalidation flag.
func (s *Storage) UpdateValidationResult(ctx context.Context, flightID uint64, hbnb int, parsed *models.ParsedFields, outcome *models.ValidationOutcome) error {
	parsedJSON, err := json.Marshal(parsed)
	if err != nil {
		return errors.Wrap(err, "encode parsed fields")
	}
	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		return errors.Wrap(err, "encode outcome")
	}

	var name, seat, mainClass, ticket string
	if parsed != nil {
		name, seat, mainClass, ticket = parsed.Name, parsed.Seat, parsed.MainClass, parsed.TicketNumber
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockFlight(ctx, tx, flightID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
UPDATE hbpr_records
SET
  validated = TRUE,
  valid = $3,
  accepted = $4,
  main_class = $5,
  pax_name = $6,
  seat = $7,
  parsed = $8,
  outcome = $9,
  needs_revalidation = FALSE,
  validate_fail_count = 0,
  updated_at = now()
WHERE flight_id = $1 AND hbnb = $2
`, flightID, hbnb, outcome.Valid(), ticket != "", mainClass, name, seat, parsedJSON, outcomeJSON)
	if err != nil {
		return errors.Wrap(err, "update validation result")
	}
	if tag.RowsAffected() == 0 {
		return &models.NotFoundError{Hbnb: hbnb}
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) GetFullRecord(ctx context.Context, flightID uint64, hbnb int) (*models.HbprRecord, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx, `
SELECT `+recordColumns+`
FROM hbpr_records
WHERE flight_id = $1 AND hbnb = $2
`, flightID, hbnb))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{Hbnb: hbnb}
	}
	if err != nil {
		return nil, errors.Wrap(err, "select record")
	}
	return rec, nil
}

// ListRecordSummaries merges full and simple records into one listing
// ordered by key.
func (s *Storage) ListRecordSummaries(ctx context.Context, flightID uint64) ([]*models.RecordSummary, error) {
	rows, err := s.db.Query(ctx, `
SELECT r.hbnb, 'full' AS kind, r.validated, r.valid, r.pax_name, r.seat, r.main_class,
       (SELECT count(*) FROM duplicate_records d
        WHERE d.flight_id = r.flight_id AND d.hbnb = r.hbnb) AS duplicates
FROM hbpr_records r
WHERE r.flight_id = $1
UNION ALL
SELECT s.hbnb, 'simple', FALSE, FALSE, '', '', '', 0
FROM simple_records s
WHERE s.flight_id = $1
ORDER BY 1
`, flightID)
	if err != nil {
		return nil, errors.Wrap(err, "select summaries")
	}
	defer rows.Close()

	var out []*models.RecordSummary
	for rows.Next() {
		var rs models.RecordSummary
		if err := rows.Scan(&rs.Hbnb, &rs.Kind, &rs.Validated, &rs.Valid,
			&rs.Name, &rs.Seat, &rs.MainClass, &rs.Duplicates); err != nil {
			return nil, errors.Wrap(err, "scan summary")
		}
		out = append(out, &rs)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ListDuplicates returns the key's snapshot lineage, oldest first.
func (s *Storage) ListDuplicates(ctx context.Context, flightID uint64, hbnb int) ([]*models.DuplicateRecord, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, flight_id, hbnb, content, created_at
FROM duplicate_records
WHERE flight_id = $1 AND hbnb = $2
ORDER BY created_at ASC, id ASC
`, flightID, hbnb)
	if err != nil {
		return nil, errors.Wrap(err, "select duplicates")
	}
	defer rows.Close()

	var out []*models.DuplicateRecord
	for rows.Next() {
		var d models.DuplicateRecord
		if err := rows.Scan(&d.ID, &d.FlightID, &d.Hbnb, &d.Content, &d.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan duplicate")
		}
		out = append(out, &d)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// PendingRecord is one claimed revalidation unit together with the flight
// context the pipeline needs.
type PendingRecord struct {
	RecordID   uint64
	FlightID   uint64
	Hbnb       int
	Content    string
	FailCount  int32
	FlightKey  string
	FlightDate *time.Time
}

// ClaimPendingRecords picks a batch of records due for revalidation and
// leases them so concurrent workers do not pick them up again while they
// are being processed. Uses SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimPendingRecords(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*PendingRecord, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT r.id, r.flight_id, r.hbnb, r.content, r.validate_fail_count, f.flight_key, f.date
FROM hbpr_records r
JOIN flights f ON f.id = r.flight_id
WHERE r.needs_revalidation
  AND r.revalidate_after <= $1
ORDER BY r.revalidate_after ASC
LIMIT $2
FOR UPDATE OF r SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select pending records")
	}
	defer rows.Close()

	var picked []*PendingRecord
	for rows.Next() {
		var p PendingRecord
		if err := rows.Scan(&p.RecordID, &p.FlightID, &p.Hbnb, &p.Content,
			&p.FailCount, &p.FlightKey, &p.FlightDate); err != nil {
			return nil, errors.Wrap(err, "scan pending record")
		}
		picked = append(picked, &p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, p := range picked {
		_, err := tx.Exec(ctx, `
UPDATE hbpr_records SET revalidate_after = $2, updated_at = now() WHERE id = $1
`, p.RecordID, leaseUntil)
		if err != nil {
			return nil, errors.Wrap(err, "lease pending record")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// DeferRevalidation pushes a faulted record's next attempt out and bumps
// its failure count. The record stays pending.
func (s *Storage) DeferRevalidation(ctx context.Context, recordID uint64, next time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE hbpr_records
SET revalidate_after = $2, validate_fail_count = validate_fail_count + 1, updated_at = now()
WHERE id = $1
`, recordID, next.UTC())
	return errors.Wrap(err, "defer revalidation")
}
