package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	recordsapi "github.com/BearBump/PaxBox/internal/api/records_api"
	"github.com/BearBump/PaxBox/internal/broker/messages"
	"github.com/BearBump/PaxBox/internal/services/records"
)

type paxAPIOpts struct {
	httpAddr    string
	swaggerPath string

	recordTopic   string
	batchTopic    string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runPaxAPI(ctx context.Context, opts paxAPIOpts, svc *records.Service, api *recordsapi.RecordsAPI, recordConsumer, batchConsumer kafkaConsumer) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))

	api.Routes(r)

	// Events from other processes keep this instance's stats cache coherent.
	if recordConsumer != nil {
		go func() {
			slog.Info("kafka consumer started", "topic", opts.recordTopic, "group", opts.consumerGroup)
			_ = recordConsumer.Consume(ctx, func(_key, value []byte) error {
				var m messages.RecordValidated
				if err := json.Unmarshal(value, &m); err != nil {
					return err
				}
				return svc.ApplyRecordEvent(ctx, m)
			})
		}()
	}
	if batchConsumer != nil {
		go func() {
			slog.Info("kafka consumer started", "topic", opts.batchTopic, "group", opts.consumerGroup)
			_ = batchConsumer.Consume(ctx, func(_key, value []byte) error {
				var m messages.BatchIngested
				if err := json.Unmarshal(value, &m); err != nil {
					return err
				}
				return svc.ApplyBatchEvent(ctx, m)
			})
		}()
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}
