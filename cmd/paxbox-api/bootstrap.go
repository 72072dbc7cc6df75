package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/PaxBox/config"
	recordsapi "github.com/BearBump/PaxBox/internal/api/records_api"
	"github.com/BearBump/PaxBox/internal/batch"
	"github.com/BearBump/PaxBox/internal/broker/kafka"
	"github.com/BearBump/PaxBox/internal/cache/rediscache"
	"github.com/BearBump/PaxBox/internal/cache/statscache"
	"github.com/BearBump/PaxBox/internal/integrations/dcs/dumphttp"
	dcsfake "github.com/BearBump/PaxBox/internal/integrations/dcs/fake"
	"github.com/BearBump/PaxBox/internal/rules"
	"github.com/BearBump/PaxBox/internal/services/records"
	"github.com/BearBump/PaxBox/internal/storage/pgflight"
)

type paxAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   paxAPIOpts

	svc *records.Service
	api *recordsapi.RecordsAPI

	recordConsumer *kafka.Consumer
	batchConsumer  *kafka.Consumer
	closeDB        func()
}

func mustBootstrapPaxAPI() *paxAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to parse config: %v", err))
	}

	httpAddr := cfg.PaxBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.PaxBox.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "paxbox-api"
	}
	recordTopic := cfg.Kafka.RecordValidatedTopicName
	if recordTopic == "" {
		recordTopic = "record.validated"
	}
	batchTopic := cfg.Kafka.BatchIngestedTopicName
	if batchTopic == "" {
		batchTopic = "batch.ingested"
	}
	statsTTL := time.Duration(cfg.PaxBox.StatsTTLSeconds) * time.Second
	if statsTTL <= 0 {
		statsTTL = statscache.DefaultTTL
	}

	st := mustOpenPostgresWithRetry(postgresConnString(cfg), 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	stats := statscache.New(rediscache.New(redisAddr), statsTTL)
	rl := rediscache.NewRateLimiter(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)

	log := slog.Default()
	loader := batch.NewLoader(st, rules.Default(), log)
	svc := records.New(st, loader, stats, producer, newDumpSource(cfg), records.Topics{
		RecordValidated: recordTopic,
		BatchIngested:   batchTopic,
	}, log)

	api := recordsapi.New(svc, rl, int64(cfg.PaxBox.IngestRateLimitPerMinute))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &paxAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: paxAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			recordTopic:   recordTopic,
			batchTopic:    batchTopic,
			consumerGroup: consumerGroup,
		},
		svc:            svc,
		api:            api,
		recordConsumer: kafka.NewConsumer(brokers, recordTopic, consumerGroup),
		batchConsumer:  kafka.NewConsumer(brokers, batchTopic, consumerGroup),
		closeDB:        st.Close,
	}
}

func newDumpSource(cfg *config.Config) records.DumpSource {
	if cfg.PaxBox.DCSMode == "http" && cfg.PaxBox.DCSBaseURL != "" {
		return dumphttp.New(cfg.PaxBox.DCSBaseURL, cfg.PaxBox.DCSAPIKey)
	}
	return dcsfake.New()
}

func postgresConnString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgflight.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgflight.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *paxAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.recordConsumer != nil {
		_ = a.recordConsumer.Close()
	}
	if a.batchConsumer != nil {
		_ = a.batchConsumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *paxAPIApp) Run() error {
	return runPaxAPI(a.ctx, a.opts, a.svc, a.api, a.recordConsumer, a.batchConsumer)
}
