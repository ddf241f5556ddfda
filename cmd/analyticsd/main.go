// Command analyticsd aggregates query analytics across every queryd
// replica.
//
// It consumes query events from Kafka, aggregates them in memory (totals by
// outcome, latency percentiles, cache hit rate, top and empty queries, node
// kinds) and serves them at GET /api/v1/analytics. With
// analytics.persistInterval set, aggregates are saved to PostgreSQL and
// restored on start.
//
// Usage:
//
//	go run ./cmd/analyticsd [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("analytics service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	if !cfg.Kafka.Enabled {
		return errors.New("analyticsd needs kafka: set kafka.enabled or CQ_KAFKA_BROKERS")
	}

	m := metrics.New()
	metricsServer, err := metrics.Listen(cfg.Metrics, "analyticsd")
	if err != nil {
		return err
	}
	defer metricsServer.Close()

	checker := health.NewChecker()
	aggregator := analytics.NewAggregator()

	if cfg.Analytics.PersistInterval > 0 {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer db.Close()
		checker.Register("postgres", health.Ping(2*time.Second, false, db.Ping))

		store := analytics.NewStore(db)
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating analytics store: %w", err)
		}
		latest, err := store.LatestSnapshot(ctx)
		if err != nil {
			return err
		}
		if latest != nil {
			aggregator.Seed(*latest)
			slog.Info("analytics restored", "total_queries", latest.TotalQueries, "total_jobs", latest.TotalJobs)
		}
		store.StartPeriodicSave(ctx, aggregator, cfg.Analytics.PersistInterval)
	}

	// One group shared by analyticsd replicas: each event is counted once.
	consumerCfg := cfg.Kafka
	consumerCfg.ConsumerGroup = cfg.Kafka.ConsumerGroup + "-analytics"
	consumer := kafka.NewConsumer(consumerCfg, cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleEvent(aggregator))
	defer consumer.Close()
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()
	checker.Register("kafka", func(context.Context) health.ComponentHealth {
		select {
		case <-consumerDone:
			return health.ComponentHealth{Status: health.StatusDown, Message: "consumer stopped"}
		default:
			return health.ComponentHealth{Status: health.StatusUp, Message: "consuming " + cfg.Kafka.Topics.AnalyticsEvents}
		}
	})
	slog.Info("analytics consumer started", "topic", cfg.Kafka.Topics.AnalyticsEvents, "group", consumerCfg.ConsumerGroup)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", analytics.NewHandler(aggregator).Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, middleware.RequestID, middleware.Recover, middleware.Metrics(m)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
