package records

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/PaxBox/internal/batch"
	"github.com/BearBump/PaxBox/internal/broker/messages"
	"github.com/BearBump/PaxBox/internal/models"
)

type fakeRepo struct {
	flight *models.Flight

	records map[int]*models.HbprRecord
	simple  map[int]bool
	dups    []*models.DuplicateRecord
	missing []int
	stats   *models.FlightStats

	statsCalls  int
	updatedHbnb int
	updatedOut  *models.ValidationOutcome
}

func newFakeRepo() *fakeRepo {
	date := time.Date(2025, time.July, 25, 0, 0, 0, 0, time.UTC)
	return &fakeRepo{
		flight:  &models.Flight{ID: 1, FlightKey: "CA984_25JUL25_LAX", Date: &date},
		records: map[int]*models.HbprRecord{},
		simple:  map[int]bool{},
		stats:   &models.FlightStats{FlightKey: "CA984_25JUL25_LAX", TotalRecords: 7},
	}
}

func (f *fakeRepo) CreateOrGetFlight(ctx context.Context, flightKey string) (*models.Flight, error) {
	return f.flight, nil
}
func (f *fakeRepo) GetFlightByKey(ctx context.Context, flightKey string) (*models.Flight, error) {
	if flightKey != f.flight.FlightKey {
		return nil, &models.NotFoundError{FlightKey: flightKey}
	}
	return f.flight, nil
}
func (f *fakeRepo) CreateFullRecord(ctx context.Context, flightID uint64, hbnb int, content string) (*models.HbprRecord, error) {
	if _, ok := f.records[hbnb]; ok {
		return nil, &models.DuplicateKeyError{Hbnb: hbnb}
	}
	rec := &models.HbprRecord{FlightID: flightID, Hbnb: hbnb, Content: content}
	f.records[hbnb] = rec
	return rec, nil
}
func (f *fakeRepo) ReplaceFullRecord(ctx context.Context, flightID uint64, hbnb int, content string) (*models.HbprRecord, error) {
	rec, ok := f.records[hbnb]
	if !ok {
		return nil, &models.NotFoundError{Hbnb: hbnb}
	}
	f.dups = append(f.dups, &models.DuplicateRecord{Hbnb: hbnb, Content: rec.Content})
	rec.Content = content
	return rec, nil
}
func (f *fakeRepo) ArchiveDuplicate(ctx context.Context, flightID uint64, hbnb int, content string) (*models.DuplicateRecord, error) {
	d := &models.DuplicateRecord{FlightID: flightID, Hbnb: hbnb, Content: content}
	f.dups = append(f.dups, d)
	return d, nil
}
func (f *fakeRepo) CreateSimpleRecord(ctx context.Context, flightID uint64, hbnb int) (*models.SimpleRecord, error) {
	f.simple[hbnb] = true
	return &models.SimpleRecord{FlightID: flightID, Hbnb: hbnb}, nil
}
func (f *fakeRepo) DeleteSimpleRecord(ctx context.Context, flightID uint64, hbnb int) error {
	if !f.simple[hbnb] {
		return &models.NotFoundError{Hbnb: hbnb}
	}
	delete(f.simple, hbnb)
	return nil
}
func (f *fakeRepo) UpdateValidationResult(ctx context.Context, flightID uint64, hbnb int, parsed *models.ParsedFields, outcome *models.ValidationOutcome) error {
	rec, ok := f.records[hbnb]
	if !ok {
		return &models.NotFoundError{Hbnb: hbnb}
	}
	rec.Validated = true
	rec.Valid = outcome.Valid()
	rec.Parsed = parsed
	rec.Outcome = outcome
	f.updatedHbnb = hbnb
	f.updatedOut = outcome
	return nil
}
func (f *fakeRepo) GetFullRecord(ctx context.Context, flightID uint64, hbnb int) (*models.HbprRecord, error) {
	rec, ok := f.records[hbnb]
	if !ok {
		return nil, &models.NotFoundError{Hbnb: hbnb}
	}
	return rec, nil
}
func (f *fakeRepo) ListRecordSummaries(ctx context.Context, flightID uint64) ([]*models.RecordSummary, error) {
	return nil, nil
}
func (f *fakeRepo) ListDuplicates(ctx context.Context, flightID uint64, hbnb int) ([]*models.DuplicateRecord, error) {
	return f.dups, nil
}
func (f *fakeRepo) GetMissingNumbers(ctx context.Context, flightID uint64) ([]int, error) {
	return f.missing, nil
}
func (f *fakeRepo) GetFlightStats(ctx context.Context, flight *models.Flight) (*models.FlightStats, error) {
	f.statsCalls++
	return f.stats, nil
}

type fakeStats struct {
	m           map[string]*models.FlightStats
	invalidated []string
}

func newFakeStats() *fakeStats {
	return &fakeStats{m: map[string]*models.FlightStats{}}
}

func (c *fakeStats) Get(ctx context.Context, flightKey string) (*models.FlightStats, bool, error) {
	s, ok := c.m[flightKey]
	return s, ok, nil
}
func (c *fakeStats) Set(ctx context.Context, stats *models.FlightStats) error {
	c.m[stats.FlightKey] = stats
	return nil
}
func (c *fakeStats) Invalidate(ctx context.Context, flightKey string) error {
	delete(c.m, flightKey)
	c.invalidated = append(c.invalidated, flightKey)
	return nil
}
func (c *fakeStats) InvalidateAll(ctx context.Context) error {
	c.m = map[string]*models.FlightStats{}
	return nil
}

type fakeLoader struct {
	flightKey string
	blob      string
	opts      batch.Options
	sum       *models.BatchSummary
	err       error
}

func (l *fakeLoader) Load(ctx context.Context, flightKey, blob string, opts batch.Options) (*models.BatchSummary, error) {
	l.flightKey, l.blob, l.opts = flightKey, blob, opts
	return l.sum, l.err
}

type fakeProducer struct {
	topics []string
	keys   [][]byte
	values [][]byte
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return nil
}

type fakeDumps struct {
	blob string
}

func (d *fakeDumps) FetchDump(ctx context.Context, flightKey string) (string, error) {
	return d.blob, nil
}

var testTopics = Topics{RecordValidated: "record.validated", BatchIngested: "batch.ingested"}

const flightKey = "CA984_25JUL25_LAX"

func newTestService(repo *fakeRepo, loader Loader, cache StatsCache, prod Publisher, dumps DumpSource) *Service {
	return New(repo, loader, cache, prod, dumps, testTopics, slog.Default())
}

func TestService_Ingest(t *testing.T) {
	loader := &fakeLoader{sum: &models.BatchSummary{BatchID: "b1", FlightKey: flightKey, FullRecords: 3}}
	cache := newFakeStats()
	prod := &fakeProducer{}
	s := newTestService(newFakeRepo(), loader, cache, prod, nil)

	sum, err := s.Ingest(context.Background(), flightKey, "blob", true)
	require.NoError(t, err)
	require.Equal(t, "b1", sum.BatchID)
	require.True(t, loader.opts.Rebuild)
	require.Equal(t, "blob", loader.blob)

	require.Equal(t, []string{flightKey}, cache.invalidated)
	require.Equal(t, []string{"batch.ingested"}, prod.topics)

	var msg messages.BatchIngested
	require.NoError(t, json.Unmarshal(prod.values[0], &msg))
	require.Equal(t, 3, msg.FullRecords)
}

func TestService_Ingest_Validates(t *testing.T) {
	s := newTestService(newFakeRepo(), &fakeLoader{}, nil, nil, nil)

	_, err := s.Ingest(context.Background(), "", "blob", false)
	require.Error(t, err)
	_, err = s.Ingest(context.Background(), flightKey, "", false)
	require.Error(t, err)
}

func TestService_Sync(t *testing.T) {
	loader := &fakeLoader{sum: &models.BatchSummary{FlightKey: flightKey}}
	s := newTestService(newFakeRepo(), loader, nil, nil, &fakeDumps{blob: "dcs dump"})

	_, err := s.Sync(context.Background(), flightKey, false)
	require.NoError(t, err)
	require.Equal(t, "dcs dump", loader.blob)
}

func TestService_ValidateRecord(t *testing.T) {
	repo := newFakeRepo()
	repo.records[67] = &models.HbprRecord{FlightID: 1, Hbnb: 67, Content: ">HBPR: CA984/25JUL25*LAX,67\n"}
	cache := newFakeStats()
	prod := &fakeProducer{}
	s := newTestService(repo, nil, cache, prod, nil)

	out, err := s.ValidateRecord(context.Background(), flightKey, 67)
	require.NoError(t, err)
	require.Equal(t, 67, out.Hbnb)
	require.False(t, out.Valid())

	require.Equal(t, 67, repo.updatedHbnb)
	require.Equal(t, []string{flightKey}, cache.invalidated)
	require.Equal(t, []string{"record.validated"}, prod.topics)

	var msg messages.RecordValidated
	require.NoError(t, json.Unmarshal(prod.values[0], &msg))
	require.Equal(t, 67, msg.Hbnb)
	require.Equal(t, "api", msg.Source)
}

func TestService_ValidateRecord_FatalContent(t *testing.T) {
	repo := newFakeRepo()
	repo.records[5] = &models.HbprRecord{FlightID: 1, Hbnb: 5, Content: "no marker here"}
	s := newTestService(repo, nil, nil, nil, nil)

	_, err := s.ValidateRecord(context.Background(), flightKey, 5)
	require.True(t, models.IsFatalParse(err))
	require.Zero(t, repo.updatedHbnb)
}

func TestService_CreateRecord(t *testing.T) {
	repo := newFakeRepo()
	s := newTestService(repo, nil, newFakeStats(), nil, nil)

	rec, err := s.CreateRecord(context.Background(), flightKey, 67, ">HBPR: CA984/25JUL25*LAX,67\n")
	require.NoError(t, err)
	require.True(t, rec.Validated)
	require.NotNil(t, rec.Outcome)

	_, err = s.CreateRecord(context.Background(), flightKey, 67, ">HBPR: CA984/25JUL25*LAX,67\n")
	require.True(t, models.IsDuplicateKey(err))
}

func TestService_CreateRecord_KeyBounds(t *testing.T) {
	s := newTestService(newFakeRepo(), nil, nil, nil, nil)

	_, err := s.CreateRecord(context.Background(), flightKey, 0, "x")
	require.Error(t, err)
	_, err = s.CreateRecord(context.Background(), flightKey, models.InvalidHbnb, "x")
	require.Error(t, err)
}

func TestService_ReplaceRecord_ArchivesPrior(t *testing.T) {
	repo := newFakeRepo()
	repo.records[67] = &models.HbprRecord{FlightID: 1, Hbnb: 67, Content: "old"}
	s := newTestService(repo, nil, newFakeStats(), nil, nil)

	rec, err := s.ReplaceRecord(context.Background(), flightKey, 67, ">HBPR: CA984/25JUL25*LAX,67\n")
	require.NoError(t, err)
	require.Contains(t, rec.Content, ">HBPR:")
	require.Len(t, repo.dups, 1)
	require.Equal(t, "old", repo.dups[0].Content)
}

func TestService_GetStats_CacheAside(t *testing.T) {
	repo := newFakeRepo()
	cache := newFakeStats()
	s := newTestService(repo, nil, cache, nil, nil)
	ctx := context.Background()

	got, err := s.GetStats(ctx, flightKey)
	require.NoError(t, err)
	require.Equal(t, 7, got.TotalRecords)
	require.Equal(t, 1, repo.statsCalls)

	// Second read is served from cache.
	_, err = s.GetStats(ctx, flightKey)
	require.NoError(t, err)
	require.Equal(t, 1, repo.statsCalls)

	// A mutation drops the entry; the next read recomputes.
	_, err = s.CreateSimple(ctx, flightKey, 3)
	require.NoError(t, err)
	_, err = s.GetStats(ctx, flightKey)
	require.NoError(t, err)
	require.Equal(t, 2, repo.statsCalls)
}

func TestService_Match(t *testing.T) {
	s := newTestService(newFakeRepo(), nil, nil, nil, nil)

	ok, got := s.Match(context.Background(), flightKey, ">HBPR: CA984/25JUL25*LAX,1\n")
	require.True(t, ok)
	require.Equal(t, flightKey, got)

	ok, got = s.Match(context.Background(), "CA100_01JAN25_PEK", ">HBPR: CA984/25JUL25*LAX,1\n")
	require.False(t, ok)
	require.Equal(t, flightKey, got)

	ok, _ = s.Match(context.Background(), flightKey, "nothing")
	require.False(t, ok)
}

func TestService_ApplyEvents_InvalidateStats(t *testing.T) {
	cache := newFakeStats()
	s := newTestService(newFakeRepo(), nil, cache, nil, nil)
	ctx := context.Background()

	require.NoError(t, s.ApplyRecordEvent(ctx, messages.RecordValidated{FlightKey: flightKey}))
	require.NoError(t, s.ApplyBatchEvent(ctx, messages.BatchIngested{FlightKey: flightKey}))
	require.Equal(t, []string{flightKey, flightKey}, cache.invalidated)

	require.Error(t, s.ApplyRecordEvent(ctx, messages.RecordValidated{}))
	require.Error(t, s.ApplyBatchEvent(ctx, messages.BatchIngested{}))
}
