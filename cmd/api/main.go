package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ventittlas/storefront/internal/config"
	"github.com/ventittlas/storefront/internal/httpx"
	"github.com/ventittlas/storefront/internal/inventory"
	kafkax "github.com/ventittlas/storefront/internal/kafka"
	"github.com/ventittlas/storefront/internal/logging"
	"github.com/ventittlas/storefront/internal/postgres"
	"github.com/ventittlas/storefront/internal/redisx"
	"github.com/ventittlas/storefront/internal/sales"
	"github.com/ventittlas/storefront/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}
	tolerance, err := cfg.Tolerance()
	if err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OtelEndpoint, cfg.ServiceName)
	if err != nil {
		log.Fatal("tracing", zap.Error(err))
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per topic
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, sales.TopicSaleCreated, 1024, log)
	pCreated.Start(ctx)
	pStatus := kafkax.NewProducer(cfg.KafkaBrokers, sales.TopicPaymentStatusChanged, 256, log)
	pStatus.Start(ctx)

	engine := sales.NewEngine(db, inventory.NewLedger(), log.Named("checkout"))
	engine.Timeout = cfg.CheckoutTimeout
	engine.Tolerance = tolerance
	if cfg.PricingPolicy == config.PricingCatalog {
		engine.Pricing = sales.PriceFromCatalog
	}

	router := httpx.NewRouter(log.Named("http"), cfg.CORSOrigins)
	httpx.MountAPI(router,
		&httpx.Authenticator{Secret: []byte(cfg.JWTSecret)},
		&httpx.CheckoutHandler{
			Engine:    engine,
			Idem:      redisx.NewIdempotencyStore(rdb, cfg.IdempotencyTTL),
			Publisher: pCreated,
			Service:   cfg.ServiceName,
			Log:       log.Named("checkout"),
		},
		&httpx.AdminHandler{
			Repo:      &sales.Repo{DB: db},
			Publisher: pStatus,
			Service:   cfg.ServiceName,
			Log:       log.Named("admin"),
		},
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("pricing", cfg.PricingPolicy))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	// handlers are done; flush queued events before the brokers go away
	pCreated.Close()
	pStatus.Close()
	pCreated.WaitClosed()
	pStatus.WaitClosed()
	if err := shutdownTracing(ctx2); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}
}
