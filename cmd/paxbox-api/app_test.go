package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	recordsapi "github.com/BearBump/PaxBox/internal/api/records_api"
	"github.com/BearBump/PaxBox/internal/models"
	"github.com/BearBump/PaxBox/internal/services/records"
)

type fakeRepo struct{}

func (r *fakeRepo) CreateOrGetFlight(ctx context.Context, flightKey string) (*models.Flight, error) {
	return &models.Flight{ID: 1, FlightKey: flightKey}, nil
}
func (r *fakeRepo) GetFlightByKey(ctx context.Context, flightKey string) (*models.Flight, error) {
	return &models.Flight{ID: 1, FlightKey: flightKey}, nil
}
func (r *fakeRepo) CreateFullRecord(ctx context.Context, flightID uint64, hbnb int, content string) (*models.HbprRecord, error) {
	return &models.HbprRecord{FlightID: flightID, Hbnb: hbnb, Content: content}, nil
}
func (r *fakeRepo) ReplaceFullRecord(ctx context.Context, flightID uint64, hbnb int, content string) (*models.HbprRecord, error) {
	return &models.HbprRecord{FlightID: flightID, Hbnb: hbnb, Content: content}, nil
}
func (r *fakeRepo) ArchiveDuplicate(ctx context.Context, flightID uint64, hbnb int, content string) (*models.DuplicateRecord, error) {
	return &models.DuplicateRecord{FlightID: flightID, Hbnb: hbnb, Content: content}, nil
}
func (r *fakeRepo) CreateSimpleRecord(ctx context.Context, flightID uint64, hbnb int) (*models.SimpleRecord, error) {
	return &models.SimpleRecord{FlightID: flightID, Hbnb: hbnb}, nil
}
func (r *fakeRepo) DeleteSimpleRecord(ctx context.Context, flightID uint64, hbnb int) error {
	return nil
}
func (r *fakeRepo) UpdateValidationResult(ctx context.Context, flightID uint64, hbnb int, parsed *models.ParsedFields, outcome *models.ValidationOutcome) error {
	return nil
}
func (r *fakeRepo) GetFullRecord(ctx context.Context, flightID uint64, hbnb int) (*models.HbprRecord, error) {
	return &models.HbprRecord{FlightID: flightID, Hbnb: hbnb}, nil
}
func (r *fakeRepo) ListRecordSummaries(ctx context.Context, flightID uint64) ([]*models.RecordSummary, error) {
	return []*models.RecordSummary{}, nil
}
func (r *fakeRepo) ListDuplicates(ctx context.Context, flightID uint64, hbnb int) ([]*models.DuplicateRecord, error) {
	return []*models.DuplicateRecord{}, nil
}
func (r *fakeRepo) GetMissingNumbers(ctx context.Context, flightID uint64) ([]int, error) {
	return []int{}, nil
}
func (r *fakeRepo) GetFlightStats(ctx context.Context, flight *models.Flight) (*models.FlightStats, error) {
	return &models.FlightStats{FlightKey: flight.FlightKey}, nil
}

type fakeConsumer struct{}

func (c fakeConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunPaxAPI_SwaggerAndHealthServed(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	svc := records.New(&fakeRepo{}, nil, nil, nil, nil, records.Topics{}, slog.Default())
	api := recordsapi.New(svc, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := paxAPIOpts{
		httpAddr:      "127.0.0.1:0",
		swaggerPath:   sw,
		recordTopic:   "record.validated",
		batchTopic:    "batch.ingested",
		consumerGroup: "g",
		onListen:      func(addr string) { addrCh <- addr },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runPaxAPI(ctx, opts, svc, api, fakeConsumer{}, fakeConsumer{})
	}()

	addr := <-addrCh

	resp, err := http.Get("http://" + addr + "/swagger.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	require.Contains(t, string(body), "\"swagger\"")

	resp, err = http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	resp, err = http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	resp, err = http.Get("http://" + addr + "/v1/flights/CA984_25JUL25_LAX/stats")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	cancel()
	select {
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting server to stop")
	case err := <-errCh:
		require.Error(t, err)
	}
}

func TestRunPaxAPI_MissingSwaggerFails(t *testing.T) {
	svc := records.New(&fakeRepo{}, nil, nil, nil, nil, records.Topics{}, slog.Default())
	api := recordsapi.New(svc, nil, 0)

	err := runPaxAPI(context.Background(), paxAPIOpts{httpAddr: "127.0.0.1:0"}, svc, api, nil, nil)
	require.Error(t, err)
}
