// Package records is the facade over storage, cache, loader and broker: one
// entry point per collaborator operation, with cache invalidation and event
// publication at the mutation call sites.
package records

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/PaxBox/internal/batch"
	"github.com/BearBump/PaxBox/internal/broker/messages"
	"github.com/BearBump/PaxBox/internal/hbpr"
	"github.com/BearBump/PaxBox/internal/models"
	"github.com/BearBump/PaxBox/internal/rules"
)

type Repository interface {
	CreateOrGetFlight(ctx context.Context, flightKey string) (*models.Flight, error)
	GetFlightByKey(ctx context.Context, flightKey string) (*models.Flight, error)
	CreateFullRecord(ctx context.Context, flightID uint64, hbnb int, content string) (*models.HbprRecord, error)
	ReplaceFullRecord(ctx context.Context, flightID uint64, hbnb int, content string) (*models.HbprRecord, error)
	ArchiveDuplicate(ctx context.Context, flightID uint64, hbnb int, content string) (*models.DuplicateRecord, error)
	CreateSimpleRecord(ctx context.Context, flightID uint64, hbnb int) (*models.SimpleRecord, error)
	DeleteSimpleRecord(ctx context.Context, flightID uint64, hbnb int) error
	UpdateValidationResult(ctx context.Context, flightID uint64, hbnb int, parsed *models.ParsedFields, outcome *models.ValidationOutcome) error
	GetFullRecord(ctx context.Context, flightID uint64, hbnb int) (*models.HbprRecord, error)
	ListRecordSummaries(ctx context.Context, flightID uint64) ([]*models.RecordSummary, error)
	ListDuplicates(ctx context.Context, flightID uint64, hbnb int) ([]*models.DuplicateRecord, error)
	GetMissingNumbers(ctx context.Context, flightID uint64) ([]int, error)
	GetFlightStats(ctx context.Context, flight *models.Flight) (*models.FlightStats, error)
}

type StatsCache interface {
	Get(ctx context.Context, flightKey string) (*models.FlightStats, bool, error)
	Set(ctx context.Context, stats *models.FlightStats) error
	Invalidate(ctx context.Context, flightKey string) error
	InvalidateAll(ctx context.Context) error
}

type Loader interface {
	Load(ctx context.Context, flightKey, blob string, opts batch.Options) (*models.BatchSummary, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// DumpSource pulls a flight's raw HBPR dump from the departure control
// system for ingests without a client-side upload.
type DumpSource interface {
	FetchDump(ctx context.Context, flightKey string) (string, error)
}

// Topics names the event streams the service publishes to. Empty topic
// means the event is not published.
type Topics struct {
	RecordValidated string
	BatchIngested   string
}

type Service struct {
	repo     Repository
	loader   Loader
	cache    StatsCache
	producer Publisher
	dumps    DumpSource
	topics   Topics
	tables   rules.Tables
	log      *slog.Logger
}

func New(repo Repository, loader Loader, cache StatsCache, producer Publisher, dumps DumpSource, topics Topics, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		loader:   loader,
		cache:    cache,
		producer: producer,
		dumps:    dumps,
		topics:   topics,
		tables:   rules.Default(),
		log:      log,
	}
}

// Ingest bulk-loads one dump blob into the flight and publishes the batch
// event. The flight's cached statistics are dropped afterwards.
func (s *Service) Ingest(ctx context.Context, flightKey, blob string, rebuild bool) (*models.BatchSummary, error) {
	if flightKey == "" {
		return nil, errors.New("flightKey is required")
	}
	if blob == "" {
		return nil, errors.New("empty dump")
	}

	sum, err := s.loader.Load(ctx, flightKey, blob, batch.Options{Rebuild: rebuild})
	if err != nil {
		return nil, err
	}

	s.invalidateStats(ctx, flightKey)
	s.publish(ctx, s.topics.BatchIngested, flightKey, messages.BatchIngested{
		BatchID:        sum.BatchID,
		FlightKey:      sum.FlightKey,
		FullRecords:    sum.FullRecords,
		SimpleRecords:  sum.SimpleRecords,
		InvalidRecords: sum.InvalidRecords,
		FatalRecords:   sum.FatalRecords,
		MissingCount:   sum.MissingCount,
		FinishedAt:     sum.FinishedAt,
	})
	return sum, nil
}

// Sync pulls the flight's dump from the departure control system and
// ingests it.
func (s *Service) Sync(ctx context.Context, flightKey string, rebuild bool) (*models.BatchSummary, error) {
	if s.dumps == nil {
		return nil, errors.New("no dump source configured")
	}
	blob, err := s.dumps.FetchDump(ctx, flightKey)
	if err != nil {
		return nil, errors.Wrap(err, "fetch dump")
	}
	return s.Ingest(ctx, flightKey, blob, rebuild)
}

// ValidateRecord reruns the pipeline over the stored content and persists
// the result.
func (s *Service) ValidateRecord(ctx context.Context, flightKey string, hbnb int) (*models.ValidationOutcome, error) {
	flight, err := s.repo.GetFlightByKey(ctx, flightKey)
	if err != nil {
		return nil, err
	}
	rec, err := s.repo.GetFullRecord(ctx, flight.ID, hbnb)
	if err != nil {
		return nil, err
	}

	parsed, out := s.validator(flight).Run(rec.Content)
	if hbpr.Fatal(out) {
		return nil, &models.FatalParseError{Reason: "stored content lost its record marker"}
	}
	if err := s.repo.UpdateValidationResult(ctx, flight.ID, hbnb, parsed, out); err != nil {
		return nil, err
	}

	s.invalidateStats(ctx, flightKey)
	s.publishRecordValidated(ctx, flightKey, out, "api")
	return out, nil
}

// CreateRecord stores new content under a fresh key and validates it right
// away.
func (s *Service) CreateRecord(ctx context.Context, flightKey string, hbnb int, content string) (*models.HbprRecord, error) {
	return s.putRecord(ctx, flightKey, hbnb, content, false)
}

// ReplaceRecord swaps the live content, archiving the prior text in the
// duplicate lineage, and revalidates.
func (s *Service) ReplaceRecord(ctx context.Context, flightKey string, hbnb int, content string) (*models.HbprRecord, error) {
	return s.putRecord(ctx, flightKey, hbnb, content, true)
}

func (s *Service) putRecord(ctx context.Context, flightKey string, hbnb int, content string, replace bool) (*models.HbprRecord, error) {
	if hbnb <= 0 || hbnb == models.InvalidHbnb {
		return nil, errors.New("hbnb out of range")
	}
	content = hbpr.Sanitize(content)

	flight, err := s.repo.CreateOrGetFlight(ctx, flightKey)
	if err != nil {
		return nil, err
	}

	if replace {
		_, err = s.repo.ReplaceFullRecord(ctx, flight.ID, hbnb, content)
	} else {
		_, err = s.repo.CreateFullRecord(ctx, flight.ID, hbnb, content)
	}
	if err != nil {
		return nil, err
	}

	parsed, out := s.validator(flight).Run(content)
	if !hbpr.Fatal(out) {
		if err := s.repo.UpdateValidationResult(ctx, flight.ID, hbnb, parsed, out); err != nil {
			return nil, err
		}
		s.publishRecordValidated(ctx, flightKey, out, "api")
	}
	s.invalidateStats(ctx, flightKey)

	return s.repo.GetFullRecord(ctx, flight.ID, hbnb)
}

// ArchiveDuplicate snapshots content into the key's lineage without
// touching the live record.
func (s *Service) ArchiveDuplicate(ctx context.Context, flightKey string, hbnb int, content string) (*models.DuplicateRecord, error) {
	flight, err := s.repo.GetFlightByKey(ctx, flightKey)
	if err != nil {
		return nil, err
	}
	dup, err := s.repo.ArchiveDuplicate(ctx, flight.ID, hbnb, hbpr.Sanitize(content))
	if err != nil {
		return nil, err
	}
	s.invalidateStats(ctx, flightKey)
	return dup, nil
}

func (s *Service) CreateSimple(ctx context.Context, flightKey string, hbnb int) (*models.SimpleRecord, error) {
	if hbnb <= 0 || hbnb == models.InvalidHbnb {
		return nil, errors.New("hbnb out of range")
	}
	flight, err := s.repo.CreateOrGetFlight(ctx, flightKey)
	if err != nil {
		return nil, err
	}
	rec, err := s.repo.CreateSimpleRecord(ctx, flight.ID, hbnb)
	if err != nil {
		return nil, err
	}
	s.invalidateStats(ctx, flightKey)
	return rec, nil
}

func (s *Service) DeleteSimple(ctx context.Context, flightKey string, hbnb int) error {
	flight, err := s.repo.GetFlightByKey(ctx, flightKey)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSimpleRecord(ctx, flight.ID, hbnb); err != nil {
		return err
	}
	s.invalidateStats(ctx, flightKey)
	return nil
}

func (s *Service) GetRecord(ctx context.Context, flightKey string, hbnb int) (*models.HbprRecord, error) {
	flight, err := s.repo.GetFlightByKey(ctx, flightKey)
	if err != nil {
		return nil, err
	}
	return s.repo.GetFullRecord(ctx, flight.ID, hbnb)
}

func (s *Service) ListRecords(ctx context.Context, flightKey string) ([]*models.RecordSummary, error) {
	flight, err := s.repo.GetFlightByKey(ctx, flightKey)
	if err != nil {
		return nil, err
	}
	return s.repo.ListRecordSummaries(ctx, flight.ID)
}

func (s *Service) ListDuplicates(ctx context.Context, flightKey string, hbnb int) ([]*models.DuplicateRecord, error) {
	flight, err := s.repo.GetFlightByKey(ctx, flightKey)
	if err != nil {
		return nil, err
	}
	return s.repo.ListDuplicates(ctx, flight.ID, hbnb)
}

func (s *Service) GetMissing(ctx context.Context, flightKey string) ([]int, error) {
	flight, err := s.repo.GetFlightByKey(ctx, flightKey)
	if err != nil {
		return nil, err
	}
	return s.repo.GetMissingNumbers(ctx, flight.ID)
}

// GetStats serves statistics cache-aside: a fresh cached snapshot wins, a
// miss recomputes from storage and repopulates.
func (s *Service) GetStats(ctx context.Context, flightKey string) (*models.FlightStats, error) {
	if s.cache != nil {
		if stats, ok, err := s.cache.Get(ctx, flightKey); err == nil && ok {
			return stats, nil
		}
	}

	flight, err := s.repo.GetFlightByKey(ctx, flightKey)
	if err != nil {
		return nil, err
	}
	stats, err := s.repo.GetFlightStats(ctx, flight)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, stats); err != nil {
			s.log.Warn("stats cache set failed", slog.String("flightKey", flightKey), slog.Any("error", err))
		}
	}
	return stats, nil
}

// Match reports whether a blob's own flight identity agrees with the
// flight it is addressed to.
func (s *Service) Match(ctx context.Context, flightKey, text string) (bool, string) {
	got, ok := batch.FlightIdentity(hbpr.Sanitize(text))
	if !ok {
		return false, models.UnknownFlightKey
	}
	return got == flightKey, got
}

// ApplyRecordEvent keeps this process's statistics cache coherent with
// validation runs performed elsewhere.
func (s *Service) ApplyRecordEvent(ctx context.Context, msg messages.RecordValidated) error {
	if msg.FlightKey == "" {
		return errors.New("flight_key is required")
	}
	s.invalidateStats(ctx, msg.FlightKey)
	return nil
}

// ApplyBatchEvent drops the cached statistics of a flight another process
// just reloaded.
func (s *Service) ApplyBatchEvent(ctx context.Context, msg messages.BatchIngested) error {
	if msg.FlightKey == "" {
		return errors.New("flight_key is required")
	}
	s.invalidateStats(ctx, msg.FlightKey)
	return nil
}

func (s *Service) validator(flight *models.Flight) *hbpr.Validator {
	var date time.Time
	if flight.Date != nil {
		date = *flight.Date
	}
	return hbpr.NewValidator(s.tables, date)
}

func (s *Service) invalidateStats(ctx context.Context, flightKey string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, flightKey); err != nil {
		s.log.Warn("stats cache invalidate failed", slog.String("flightKey", flightKey), slog.Any("error", err))
	}
}

func (s *Service) publishRecordValidated(ctx context.Context, flightKey string, out *models.ValidationOutcome, source string) {
	s.publish(ctx, s.topics.RecordValidated, flightKey, messages.RecordValidated{
		FlightKey:   flightKey,
		Hbnb:        out.Hbnb,
		Valid:       out.Valid(),
		ErrorCount:  out.ErrorCount(),
		ValidatedAt: time.Now().UTC(),
		Source:      source,
	})
}

// publish is best effort: the mutation is already committed, a broker
// outage must not fail the request.
func (s *Service) publish(ctx context.Context, topic, key string, msg any) {
	if s.producer == nil || topic == "" {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("encode event", slog.String("topic", topic), slog.Any("error", err))
		return
	}
	if err := s.producer.Publish(ctx, topic, []byte(key), b); err != nil {
		s.log.Error("publish event", slog.String("topic", topic), slog.Any("error", err))
	}
}
