package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ventittlas/storefront/internal/config"
	"github.com/ventittlas/storefront/internal/logging"
	"github.com/ventittlas/storefront/internal/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.ServiceName+"-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 2)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	applied, err := postgres.Migrate(ctx, db)
	if err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	log.Info("migrations done", zap.Ints("applied", applied))
}
