package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/PaxBox/config"
	"github.com/BearBump/PaxBox/internal/models"
	"github.com/BearBump/PaxBox/internal/services/revalidator"
	"github.com/BearBump/PaxBox/internal/storage/pgflight"
)

type fakeRepo struct{}

func (r *fakeRepo) ClaimPendingRecords(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*pgflight.PendingRecord, error) {
	return []*pgflight.PendingRecord{}, nil
}
func (r *fakeRepo) UpdateValidationResult(ctx context.Context, flightID uint64, hbnb int, parsed *models.ParsedFields, outcome *models.ValidationOutcome) error {
	return nil
}
func (r *fakeRepo) DeferRevalidation(ctx context.Context, recordID uint64, next time.Time) error {
	return nil
}

type noopProducer struct{}

func (p noopProducer) Publish(ctx context.Context, topic string, key, value []byte) error { return nil }

func writeSwagger(t *testing.T) string {
	t.Helper()
	sw := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))
	return sw
}

func TestDefaultWorkerFactories_ProducerNonNil(t *testing.T) {
	f := defaultWorkerFactories()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
	}
	require.NotNil(t, f.newProducer(cfg))
}

func TestRunPaxWorker_ContextCanceled(t *testing.T) {
	calledClose := false

	f := workerFactories{
		newStorage: func(cfg *config.Config) (revalidator.Repository, func(), error) {
			return &fakeRepo{}, func() { calledClose = true }, nil
		},
		newProducer: func(cfg *config.Config) revalidator.Producer {
			return noopProducer{}
		},
	}

	cfg := &config.Config{
		Kafka: config.KafkaConfig{RecordValidatedTopicName: "t"},
		PaxBox: config.PaxBoxConfig{
			WorkerHTTPAddr:            "127.0.0.1:0",
			WorkerPollIntervalSeconds: 1,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunPaxWorker(ctx, cfg, f, writeSwagger(t))
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, calledClose)
}

func TestWorkerHTTPServer_StatsAndTrigger(t *testing.T) {
	w := revalidator.New(&fakeRepo{}, noopProducer{}, "t")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sw := writeSwagger(t)
	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    "127.0.0.1:0",
			swaggerPath: sw,
			onListen:    func(addr string) { addrCh <- addr },
			worker:      w,
			cfg:         &config.Config{},
		})
	}()

	addr := <-addrCh

	resp, err := http.Get("http://" + addr + "/stats")
	require.NoError(t, err)
	var st revalidator.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	resp, err = http.Post("http://"+addr+"/trigger", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	require.NotNil(t, w.Stats().LastTriggerAt)

	resp, err = http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	cancel()
	select {
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting http server to stop")
	case <-errCh:
	}
}

func TestRunPaxWorker_MissingSwaggerFails(t *testing.T) {
	f := workerFactories{
		newStorage: func(cfg *config.Config) (revalidator.Repository, func(), error) {
			return &fakeRepo{}, nil, nil
		},
		newProducer: func(cfg *config.Config) revalidator.Producer {
			return noopProducer{}
		},
	}

	cfg := &config.Config{
		PaxBox: config.PaxBoxConfig{WorkerHTTPAddr: "127.0.0.1:0"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := RunPaxWorker(ctx, cfg, f, "")
	require.Error(t, err)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
}
