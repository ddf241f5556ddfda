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

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus/index"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus/pgstore"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus/reload"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/cache"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/engine"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/executor"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/handler"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/jobs"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/service"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/resilience"
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
	slog.Info("starting query service",
		"port", cfg.Server.Port,
		"snapshot", cfg.Corpus.SnapshotPath,
		"annotations", cfg.Corpus.AnnotationSource,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("query service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("query service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New()
	metricsServer, err := metrics.Listen(cfg.Metrics, "queryd")
	if err != nil {
		return err
	}
	defer metricsServer.Close()

	checker := health.NewChecker()

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, query caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis, m)
			checker.Register("redis", health.Ping(2*time.Second, true, redisClient.Ping))
			slog.Info("query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	idx := index.NewMemoryIndex(corpus.Tokenization{})
	var invalidator reload.Invalidator
	if queryCache != nil {
		invalidator = queryCache
	}
	reloader := reload.New(idx, cfg.Corpus.SnapshotPath, invalidator, m)
	if err := reloader.Reload(ctx, ""); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading corpus: %w", err)
		}
		slog.Warn("no corpus snapshot yet, starting empty", "path", cfg.Corpus.SnapshotPath)
	}
	checker.Register("corpus", func(context.Context) health.ComponentHealth {
		at, path := reloader.LoadedAt()
		if at.IsZero() {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "no snapshot loaded"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d documents from %s", idx.DocCount(), path),
		}
	})

	var db *postgres.Client
	if cfg.Corpus.AnnotationSource == "postgres" || cfg.Analytics.PersistInterval > 0 {
		var err error
		db, err = postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer db.Close()
		checker.Register("postgres", health.Ping(2*time.Second, false, db.Ping))
	}

	var queryIndex executor.Index = idx
	if cfg.Corpus.AnnotationSource == "postgres" {
		breaker := resilience.NewCircuitBreaker("annotations", resilience.CircuitBreakerConfig{
			IsFailure: pgstore.IsFailure,
			OnStateChange: func(name string, _, to resilience.State) {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			},
		})
		store := pgstore.New(db, breaker)
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating annotation store: %w", err)
		}
		queryIndex = executor.Compose(idx, store)
		checker.Register("annotations", health.Breaker(breaker))
		slog.Info("annotations served from postgres")
	}

	eng, err := engine.New(queryIndex, cfg.Query, cfg.Tracing, m)
	if err != nil {
		return fmt.Errorf("creating query engine: %w", err)
	}
	runner, err := jobs.NewRunner(eng, cfg.Query, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := runner.Close(cfg.Server.ShutdownTimeout); err != nil {
			slog.Warn("job runner did not stop cleanly", "error", err)
		}
	}()

	// The local aggregator always sees this instance's events; with Kafka
	// they are also published for analyticsd to aggregate across replicas.
	aggregator := analytics.NewAggregator()
	var publisher analytics.Publisher = aggregator
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, true)
		defer producer.Close()
		publisher = analytics.Fanout(aggregator, producer)

		// Every replica must reload, so each consumes snapshot announcements
		// in a group of its own.
		snapshotCfg := cfg.Kafka
		snapshotCfg.ConsumerGroup = fmt.Sprintf("%s-snapshot-%s", cfg.Kafka.ConsumerGroup, instanceID())
		snapshotConsumer := kafka.NewConsumer(snapshotCfg, cfg.Kafka.Topics.SnapshotUpdated, reloader.HandleSnapshotUpdated)
		defer snapshotConsumer.Close()
		go func() {
			if err := snapshotConsumer.Start(ctx); err != nil {
				slog.Error("snapshot consumer error", "error", err)
			}
		}()
		slog.Info("kafka wired",
			"analytics_topic", cfg.Kafka.Topics.AnalyticsEvents,
			"snapshot_topic", cfg.Kafka.Topics.SnapshotUpdated,
			"snapshot_group", snapshotCfg.ConsumerGroup,
		)
	}
	collector := analytics.NewCollector(publisher, cfg.Analytics)
	collector.Start(ctx)
	defer collector.Close()

	if db != nil && cfg.Analytics.PersistInterval > 0 {
		analyticsStore := analytics.NewStore(db)
		if err := analyticsStore.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating analytics store: %w", err)
		}
		analyticsStore.StartPeriodicSave(ctx, aggregator, cfg.Analytics.PersistInterval)
	}

	opts := []service.Option{
		service.WithJobs(runner),
		service.WithTracker(collector),
		service.WithMetrics(m),
	}
	if queryCache != nil {
		opts = append(opts, service.WithCache(queryCache))
	}
	svc := service.New(eng, cfg.Query, opts...)

	if cfg.RPC.Enabled {
		rpcServer := grpc.NewServer(grpc.WithErrorMapper(service.MapError))
		service.Register(rpcServer, svc)
		checker.RegisterRPC(rpcServer)
		go func() {
			if err := rpcServer.Serve(cfg.RPC.Addr); err != nil {
				slog.Error("rpc server error", "error", err)
			}
		}()
		defer rpcServer.Stop()
		slog.Info("rpc server listening", "addr", cfg.RPC.Addr, "methods", rpcServer.MethodCount())
	}

	mux := http.NewServeMux()
	handler.New(svc).Routes(mux)
	reload.NewHandler(reloader).Routes(mux)
	mux.HandleFunc("GET /api/v1/analytics", analytics.NewHandler(aggregator).Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var limiter *middleware.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewLimiter(ctx, cfg.Server.RateLimit, time.Minute)
		slog.Info("rate limiting enabled", "per_minute", cfg.Server.RateLimit)
	}

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.Server.CORSOrigins
	chain := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Recover,
		middleware.CORS(corsCfg),
		middleware.RateLimit(limiter),
		middleware.Timeout(cfg.Server.RequestTimeout),
		middleware.Metrics(m),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
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

	slog.Info("query service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// instanceID names this process for per-instance consumer groups.
func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}
