// Package service wires the pipeline components into a runnable worker.
package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"etl-narrative-engine/internal/broker"
	"etl-narrative-engine/internal/config"
	"etl-narrative-engine/internal/consumer"
	"etl-narrative-engine/internal/errclass"
	"etl-narrative-engine/internal/formatter"
	"etl-narrative-engine/internal/ledger"
	"etl-narrative-engine/internal/metrics"
	"etl-narrative-engine/internal/processor"
	"etl-narrative-engine/internal/storage"
	"etl-narrative-engine/internal/validator"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server owns the worker's clients and lifecycle.
type Server struct {
	cfg         *config.Config
	logger      *zap.Logger
	redisClient *redis.Client
	led         ledger.Ledger
	consumer    *consumer.Consumer
	metricsSrv  *http.Server
}

// NewServer builds all components. The ledger backend is chosen by
// configuration: sqlite for a single worker, redis when multiple workers
// share the queue.
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s3Client, err := storage.NewS3Client(ctx, cfg.Storage.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	store := storage.NewS3Store(s3Client)

	var led ledger.Ledger
	switch cfg.Ledger.Backend {
	case "redis":
		led = ledger.NewRedisLedger(redisClient, cfg.Ledger.KeyPrefix, cfg.Ledger.PendingTTL, logger)
	default:
		db, err := ledger.OpenSQLite(cfg.Ledger.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger: %w", err)
		}
		led = ledger.NewSQLiteLedger(db, cfg.Ledger.PendingTTL, logger)
	}

	registry, err := processor.NewDefaultRegistry(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build processor registry: %w", err)
	}

	registerer := prometheus.DefaultRegisterer
	m := metrics.New(registerer)

	orch := consumer.NewOrchestrator(
		cfg,
		store,
		led,
		validator.NewValidator(cfg.Pipeline.QualityThreshold, logger),
		registry,
		formatter.NewFormatter(logger),
		errclass.NewRetryPolicy(cfg.Pipeline.MaxRetries),
		m,
		logger,
	)

	streamBroker := broker.NewRedisStreamBroker(redisClient, broker.StreamConfig{
		InboundStream:    cfg.Broker.InboundStream,
		DelayedSet:       cfg.Broker.DelayedSet,
		DeadLetterStream: cfg.Broker.DeadLetterStream,
		ConsumerGroup:    cfg.Broker.ConsumerGroup,
		ConsumerName:     cfg.Broker.ConsumerName,
		BatchSize:        cfg.Broker.BatchSize,
	}, logger)

	metricsSrv := &http.Server{
		Addr:    cfg.Metrics.Addr,
		Handler: promhttp.Handler(),
	}

	return &Server{
		cfg:         cfg,
		logger:      logger,
		redisClient: redisClient,
		led:         led,
		consumer:    consumer.NewConsumer(streamBroker, orch, logger),
		metricsSrv:  metricsSrv,
	}, nil
}

// Start runs the metrics endpoint and the blocking consumer loop.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		s.logger.Info("Metrics endpoint listening", zap.String("addr", s.metricsSrv.Addr))
		if err := s.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics endpoint failed", zap.Error(err))
		}
	}()

	return s.consumer.Start(ctx)
}

// Stop releases clients after the consumer loop drains.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.metricsSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Error shutting down metrics endpoint", zap.Error(err))
	}

	if err := s.led.Close(); err != nil {
		s.logger.Error("Error closing ledger", zap.Error(err))
	}
	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Error closing redis client", zap.Error(err))
	}

	s.logger.Info("Service stopped")
	return nil
}
