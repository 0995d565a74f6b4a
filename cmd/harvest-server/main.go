// Package main runs the reference harvesting service: an AMQP
// consumer draining retrieval requests, the harvester adapters, the
// Postgres store and the health endpoint.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/crisref/harvest-core/internal/archive"
	"github.com/crisref/harvest-core/internal/broker"
	"github.com/crisref/harvest-core/internal/cache"
	"github.com/crisref/harvest-core/internal/concepts"
	"github.com/crisref/harvest-core/internal/config"
	"github.com/crisref/harvest-core/internal/harvester"
	"github.com/crisref/harvest-core/internal/health"
	"github.com/crisref/harvest-core/internal/metrics"
	"github.com/crisref/harvest-core/internal/retrieval"
	"github.com/crisref/harvest-core/internal/store"

	// Adapter registrations.
	_ "github.com/crisref/harvest-core/internal/harvester/hal"
	_ "github.com/crisref/harvest-core/internal/harvester/idref"
	_ "github.com/crisref/harvest-core/internal/harvester/openalex"
	_ "github.com/crisref/harvest-core/internal/harvester/scanr"
	_ "github.com/crisref/harvest-core/internal/harvester/scopus"
)

const (
	solverTimeout = 20 * time.Second

	idrefSolverURL = "https://www.idref.fr"
	jelSolverURL   = "http://zbw.eu/beta/sparql/jel/query"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "harvest-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := sql.Open("pgx", cfg.DB.DSN())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)

	st, err := store.New(db)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}

	var apiCache cache.Cache = cache.NoopCache{}
	if cfg.Redis.ThirdAPICachingEnabled {
		redisCache := cache.NewRedisCache(cfg.Redis)
		apiCache = redisCache
		defer redisCache.Close()
	}

	solvers := concepts.NewRegistry(
		cfg.ConceptLanguages,
		concepts.NewIdRefSolver(idrefSolverURL, solverTimeout),
		concepts.NewJELSolver(jelSolverURL, solverTimeout),
	)

	m := metrics.NewDefault()
	state := health.NewState()

	deps := harvester.Deps{
		Store:   st,
		Cache:   apiCache,
		Solvers: solvers,
		Sources: cfg.Sources,
		Logger:  logger,
	}
	archiver, err := archive.New(cfg.Archive, logger)
	if err != nil {
		return fmt.Errorf("initializing archive: %w", err)
	}
	var recordArchiver retrieval.RecordArchiver
	if archiver != nil {
		recordArchiver = archiver
	}
	factory, err := retrieval.NewFactory(cfg, harvester.DefaultRegistry(), deps, recordArchiver, m, logger)
	if err != nil {
		return fmt.Errorf("building harvesters: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HealthHost, cfg.HealthPort),
		Handler: health.Handler(state, logger),
	}
	go func() {
		logger.Info("health endpoint listening", zap.String("addr", healthServer.Addr))
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = healthServer.Shutdown(shutdownCtx)
	}()

	if !cfg.AMQP.Enabled {
		logger.Warn("amqp disabled, serving health endpoint only")
		<-ctx.Done()
		return nil
	}

	consumer := broker.NewConsumer(cfg.AMQP, state, logger)
	publisher := broker.NewPublisher(consumer.Exchange(), m, logger)
	processor := broker.NewProcessor(
		broker.FactoryFunc(func(opts retrieval.Options) (broker.Service, error) {
			return factory.NewService(opts)
		}),
		publisher, state, m, logger,
		cfg.IdentifierTypes(),
		cfg.ResultTimeout, cfg.MaxExpectedResults,
	)

	logger.Info("starting consumer",
		zap.String("queue", cfg.AMQP.QueueName),
		zap.Int("workers", cfg.AMQP.ParallelismLimit))
	if err := consumer.Run(ctx, processor.Process); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
