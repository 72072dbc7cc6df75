package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/BearBump/PaxBox/internal/hbpr"
	"github.com/BearBump/PaxBox/internal/models"
	"github.com/BearBump/PaxBox/internal/rules"
)

// ErrRebuildRequired is returned when a dump is ingested into a flight that
// already holds records and no rebuild was requested.
var ErrRebuildRequired = errors.New("flight already has records, rebuild required")

// Store is the storage surface the loader needs.
type Store interface {
	CreateOrGetFlight(ctx context.Context, flightKey string) (*models.Flight, error)
	HasRecords(ctx context.Context, flightID uint64) (bool, error)
	DeleteFlightData(ctx context.Context, flightID uint64) error
	CreateFullRecord(ctx context.Context, flightID uint64, hbnb int, content string) (*models.HbprRecord, error)
	ReplaceFullRecord(ctx context.Context, flightID uint64, hbnb int, content string) (*models.HbprRecord, error)
	CreateSimpleRecord(ctx context.Context, flightID uint64, hbnb int) (*models.SimpleRecord, error)
	UpdateValidationResult(ctx context.Context, flightID uint64, hbnb int, parsed *models.ParsedFields, outcome *models.ValidationOutcome) error
	GetMissingNumbers(ctx context.Context, flightID uint64) ([]int, error)
}

// Options tune one ingest run.
type Options struct {
	// Rebuild wipes the flight's rows before loading. Required when the
	// flight already holds records.
	Rebuild bool

	// Progress, when set, is called after every ProgressEvery records
	// (default 10). Never called mid-record.
	Progress      func(done, total int)
	ProgressEvery int
}

// Loader ingests whole dump blobs: split, validate, persist, summarize.
type Loader struct {
	store  Store
	tables rules.Tables
	log    *slog.Logger
}

func NewLoader(store Store, tables rules.Tables, log *slog.Logger) *Loader {
	return &Loader{store: store, tables: tables, log: log}
}

// Load ingests one dump into the flight addressed by flightKey. The blob's
// own identity must agree with flightKey when it has one. Each record is
// processed atomically; cancellation is honored between records, never
// inside one.
func (l *Loader) Load(ctx context.Context, flightKey, blob string, opts Options) (*models.BatchSummary, error) {
	blob = hbpr.Sanitize(blob)
	res := Split(blob)
	if got, ok := FlightIdentity(blob); ok && got != flightKey {
		return nil, &models.FlightMismatchError{Want: flightKey, Got: got}
	}

	flight, err := l.store.CreateOrGetFlight(ctx, flightKey)
	if err != nil {
		return nil, errors.Wrap(err, "create or get flight")
	}
	populated, err := l.store.HasRecords(ctx, flight.ID)
	if err != nil {
		return nil, errors.Wrap(err, "check flight records")
	}
	if populated {
		if !opts.Rebuild {
			return nil, ErrRebuildRequired
		}
		if err := l.store.DeleteFlightData(ctx, flight.ID); err != nil {
			return nil, errors.Wrap(err, "wipe flight data")
		}
	}

	summary := &models.BatchSummary{
		BatchID:   uuid.NewString(),
		FlightKey: flightKey,
		StartedAt: time.Now().UTC(),
	}
	validator := hbpr.NewValidator(l.tables, flightDate(flight))

	every := opts.ProgressEvery
	if every <= 0 {
		every = 10
	}
	total := len(res.Records) + len(res.SimpleRefs)
	done := 0
	report := func() {
		done++
		if opts.Progress != nil && (done%every == 0 || done == total) {
			opts.Progress(done, total)
		}
	}

	fullKeys := make(map[int]bool, len(res.Records))
	for _, rec := range res.Records {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "ingest canceled")
		}
		parsed, out := validator.Run(rec.Text)
		if hbpr.Fatal(out) {
			summary.FatalRecords++
			l.log.Warn("record without usable key skipped",
				slog.String("flightKey", flightKey),
				slog.String("batchId", summary.BatchID))
			report()
			continue
		}
		if err := l.storeRecord(ctx, flight.ID, out.Hbnb, rec.Text, parsed, out); err != nil {
			return nil, err
		}
		fullKeys[out.Hbnb] = true
		summary.FullRecords++
		if out.Valid() {
			summary.ValidRecords++
		} else {
			summary.InvalidRecords++
		}
		report()
	}

	for _, ref := range res.SimpleRefs {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "ingest canceled")
		}
		if fullKeys[ref] {
			summary.RedundantSimple = append(summary.RedundantSimple, ref)
			report()
			continue
		}
		if _, err := l.store.CreateSimpleRecord(ctx, flight.ID, ref); err != nil {
			if models.IsDuplicateKey(err) {
				summary.RedundantSimple = append(summary.RedundantSimple, ref)
				report()
				continue
			}
			return nil, errors.Wrap(err, "create simple record")
		}
		summary.SimpleRecords++
		report()
	}

	missing, err := l.store.GetMissingNumbers(ctx, flight.ID)
	if err != nil {
		return nil, errors.Wrap(err, "get missing numbers")
	}
	summary.MissingCount = len(missing)
	summary.FinishedAt = time.Now().UTC()

	l.log.Info("batch ingested",
		slog.String("flightKey", flightKey),
		slog.String("batchId", summary.BatchID),
		slog.Int("full", summary.FullRecords),
		slog.Int("simple", summary.SimpleRecords),
		slog.Int("invalid", summary.InvalidRecords),
		slog.Int("missing", summary.MissingCount))
	return summary, nil
}

// storeRecord persists one record plus its validation result. A second
// chunk with the same key inside one dump replaces the live record and the
// prior content is kept as a duplicate snapshot.
func (l *Loader) storeRecord(ctx context.Context, flightID uint64, hbnb int, content string, parsed *models.ParsedFields, out *models.ValidationOutcome) error {
	_, err := l.store.CreateFullRecord(ctx, flightID, hbnb, content)
	if models.IsDuplicateKey(err) {
		_, err = l.store.ReplaceFullRecord(ctx, flightID, hbnb, content)
	}
	if err != nil {
		return errors.Wrap(err, "store full record")
	}
	if err := l.store.UpdateValidationResult(ctx, flightID, hbnb, parsed, out); err != nil {
		return errors.Wrap(err, "store validation result")
	}
	return nil
}

func flightDate(f *models.Flight) time.Time {
	if f.Date != nil {
		return *f.Date
	}
	_, date, _ := models.ParseFlightKey(f.FlightKey)
	if date != nil {
		return *date
	}
	return time.Time{}
}
