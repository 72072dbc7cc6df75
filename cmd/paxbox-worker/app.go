package main

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/PaxBox/config"
	"github.com/BearBump/PaxBox/internal/broker/kafka"
	"github.com/BearBump/PaxBox/internal/services/revalidator"
	"github.com/BearBump/PaxBox/internal/storage/pgflight"
)

type workerFactories struct {
	newStorage  func(cfg *config.Config) (repo revalidator.Repository, closeFn func(), err error)
	newProducer func(cfg *config.Config) revalidator.Producer
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (revalidator.Repository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgflight.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) revalidator.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
	}
}

func newWorker(cfg *config.Config, repo revalidator.Repository, producer revalidator.Producer) *revalidator.Worker {
	topic := cfg.Kafka.RecordValidatedTopicName
	if topic == "" {
		topic = "record.validated"
	}

	pollInterval := time.Duration(cfg.PaxBox.WorkerPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	batchSize := cfg.PaxBox.WorkerBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := cfg.PaxBox.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	lease := time.Duration(cfg.PaxBox.WorkerLeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 120 * time.Second
	}

	return revalidator.New(repo, producer, topic).
		WithSettings(pollInterval, batchSize, concurrency, lease).
		WithPlanner(revalidator.PlannerConfig{
			Backoff1: time.Duration(cfg.PaxBox.WorkerBackoff1Seconds) * time.Second,
			Backoff2: time.Duration(cfg.PaxBox.WorkerBackoff2Seconds) * time.Second,
			Backoff3: time.Duration(cfg.PaxBox.WorkerBackoff3Seconds) * time.Second,
			Backoff4: time.Duration(cfg.PaxBox.WorkerBackoff4Seconds) * time.Second,
		})
}

func RunPaxWorker(ctx context.Context, cfg *config.Config, f workerFactories, swaggerPath string) error {
	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	w := newWorker(cfg, repo, f.newProducer(cfg))

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.PaxBox.WorkerHTTPAddr,
			swaggerPath: swaggerPath,
			worker:      w,
			cfg:         cfg,
		})
	}()

	workerErr := make(chan error, 1)
	go func() {
		workerErr <- w.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	case err := <-workerErr:
		return err
	}
}
