package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ventittlas/storefront/internal/config"
	"github.com/ventittlas/storefront/internal/inventory"
	kafkax "github.com/ventittlas/storefront/internal/kafka"
	"github.com/ventittlas/storefront/internal/logging"
	"github.com/ventittlas/storefront/internal/postgres"
	"github.com/ventittlas/storefront/internal/redisx"
	"github.com/ventittlas/storefront/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	service := cfg.ServiceName + "-restock"
	log, err := logging.New(cfg.LogLevel, service)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OtelEndpoint, service)
	if err != nil {
		log.Fatal("tracing", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &inventory.Service{
		DB:          db,
		Ledger:      inventory.NewLedger(),
		Redis:       rdb,
		Log:         log,
		ServiceName: "restock",
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.RestockGroup, inventory.TopicRestock, cfg.RestockWorkers, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("restock consumer started",
			zap.String("group", cfg.RestockGroup),
			zap.String("topic", inventory.TopicRestock),
			zap.Int("workers", cfg.RestockWorkers))
		if err := cons.Start(ctx, svc.HandleRestock); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	<-done
}
