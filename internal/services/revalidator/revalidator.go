// Package revalidator is the background worker that drains the
// needs_revalidation backlog: claim a leased batch, rerun the pipeline on
// each record, persist the result or defer it with backoff.
package revalidator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/PaxBox/internal/broker/messages"
	"github.com/BearBump/PaxBox/internal/hbpr"
	"github.com/BearBump/PaxBox/internal/metrics"
	"github.com/BearBump/PaxBox/internal/models"
	"github.com/BearBump/PaxBox/internal/rules"
	"github.com/BearBump/PaxBox/internal/storage/pgflight"
)

type Repository interface {
	ClaimPendingRecords(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*pgflight.PendingRecord, error)
	UpdateValidationResult(ctx context.Context, flightID uint64, hbnb int, parsed *models.ParsedFields, outcome *models.ValidationOutcome) error
	DeferRevalidation(ctx context.Context, recordID uint64, next time.Time) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Worker struct {
	repo     Repository
	producer Producer

	topic  string
	tables rules.Tables

	planner *Planner

	pollInterval time.Duration
	batchSize    int
	concurrency  int
	lease        time.Duration

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalDeferred       atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, producer Producer, topic string) *Worker {
	return &Worker{
		repo:              repo,
		producer:          producer,
		topic:             topic,
		tables:            rules.Default(),
		planner:           NewPlanner(DefaultPlannerConfig()),
		pollInterval:      5 * time.Second,
		batchSize:         100,
		concurrency:       10,
		lease:             120 * time.Second,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (w *Worker) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration) *Worker {
	if pollInterval > 0 {
		w.pollInterval = pollInterval
	}
	if batchSize > 0 {
		w.batchSize = batchSize
	}
	if concurrency > 0 {
		w.concurrency = concurrency
	}
	if lease > 0 {
		w.lease = lease
	}
	return w
}

func (w *Worker) WithPlanner(cfg PlannerConfig) *Worker {
	w.planner = NewPlanner(cfg)
	return w
}

// Trigger forces an immediate cycle (best-effort, non-blocking).
func (w *Worker) Trigger() {
	w.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalDeferred  int64      `json:"totalDeferred"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (w *Worker) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, w.startedAtUnixNano).UTC(),
		TotalClaimed:   w.totalClaimed.Load(),
		TotalProcessed: w.totalProcessed.Load(),
		TotalDeferred:  w.totalDeferred.Load(),
		TotalErrors:    w.totalErrors.Load(),
		InFlight:       w.inFlight.Load(),
	}
	if n := w.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := w.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	w.lastErrorMu.Lock()
	st.LastError = w.lastError
	w.lastErrorMu.Unlock()
	return st
}

func (w *Worker) Run(ctx context.Context) error {
	t := time.NewTicker(w.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			w.runOnce(ctx)
		case <-w.triggerCh:
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	w.lastCycleUnixNano.Store(now.UnixNano())

	items, err := w.repo.ClaimPendingRecords(ctx, now, w.batchSize, w.lease)
	if err != nil {
		slog.Error("claim pending records", "error", err.Error())
		w.setLastError(err)
		return
	}
	w.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for _, rec := range items {
		sem <- struct{}{}
		wg.Add(1)
		recCopy := rec
		w.inFlight.Add(1)
		go func() {
			defer func() {
				w.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := w.processOne(ctx, recCopy); err != nil {
				w.totalErrors.Add(1)
				w.setLastError(err)
				slog.Error("revalidate record", "record_id", recCopy.RecordID, "hbnb", recCopy.Hbnb, "error", err.Error())
			}
			w.totalProcessed.Add(1)
		}()
	}
	wg.Wait()
}

func (w *Worker) processOne(ctx context.Context, rec *pgflight.PendingRecord) error {
	now := time.Now().UTC()

	var date time.Time
	if rec.FlightDate != nil {
		date = *rec.FlightDate
	}
	parsed, out := hbpr.NewValidator(w.tables, date).Run(rec.Content)

	// A record that lost its key cannot be stored as a result; push it back
	// with backoff so a later content fix gets picked up.
	if hbpr.Fatal(out) {
		return w.pushBack(ctx, rec, now)
	}

	if err := w.repo.UpdateValidationResult(ctx, rec.FlightID, rec.Hbnb, parsed, out); err != nil {
		if derr := w.pushBack(ctx, rec, now); derr != nil {
			return derr
		}
		return err
	}

	metrics.ObserveOutcome(out.Valid(), "worker", out.Errors)
	return w.publishValidated(ctx, rec.FlightKey, out, now)
}

func (w *Worker) pushBack(ctx context.Context, rec *pgflight.PendingRecord, now time.Time) error {
	w.totalDeferred.Add(1)
	metrics.RevalidationsDeferred.Inc()
	next := now.Add(w.planner.BackoffDelay(rec.FailCount + 1))
	return w.repo.DeferRevalidation(ctx, rec.RecordID, next)
}

func (w *Worker) publishValidated(ctx context.Context, flightKey string, out *models.ValidationOutcome, now time.Time) error {
	if w.producer == nil || w.topic == "" {
		return nil
	}
	b, err := json.Marshal(messages.RecordValidated{
		FlightKey:   flightKey,
		Hbnb:        out.Hbnb,
		Valid:       out.Valid(),
		ErrorCount:  out.ErrorCount(),
		ValidatedAt: now,
		Source:      "worker",
	})
	if err != nil {
		return errors.Wrap(err, "marshal kafka msg")
	}

	// Kafka may not be up right after docker compose starts; retry briefly.
	var pubErr error
	for i := 0; i < 10; i++ {
		if pubErr = w.producer.Publish(ctx, w.topic, []byte(flightKey), b); pubErr == nil {
			break
		}
		time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
	}
	return pubErr
}

func (w *Worker) setLastError(err error) {
	w.lastErrorMu.Lock()
	w.lastError = err.Error()
	w.lastErrorMu.Unlock()
}
