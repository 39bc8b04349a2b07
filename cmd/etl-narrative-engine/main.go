package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"etl-narrative-engine/internal/config"
	"etl-narrative-engine/internal/logger"
	"etl-narrative-engine/internal/service"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.New(cfg.Log.Level, cfg.Log.Format, "etl-narrative-engine")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting etl-narrative-engine worker",
		zap.String("inbound_stream", cfg.Broker.InboundStream),
		zap.String("consumer_group", cfg.Broker.ConsumerGroup),
		zap.String("consumer_name", cfg.Broker.ConsumerName),
		zap.String("ledger_backend", cfg.Ledger.Backend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := service.NewServer(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create service", zap.Error(err))
	}

	go func() {
		if err := server.Start(ctx); err != nil {
			zapLogger.Fatal("Failed to start service", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	cancel()
	if err := server.Stop(context.Background()); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}
}
