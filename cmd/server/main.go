package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldledger/fieldledger/internal/config"
	"github.com/fieldledger/fieldledger/internal/entity"
	"github.com/fieldledger/fieldledger/internal/graph"
	"github.com/fieldledger/fieldledger/internal/handlers"
	"github.com/fieldledger/fieldledger/internal/history"
	"github.com/fieldledger/fieldledger/internal/kafka"
	"github.com/fieldledger/fieldledger/internal/matching"
	"github.com/fieldledger/fieldledger/internal/metrics"
	"github.com/fieldledger/fieldledger/internal/middleware"
	"github.com/fieldledger/fieldledger/internal/resolver"
	"github.com/fieldledger/fieldledger/internal/store"
	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	logger.Info("Starting FieldLedger entity registry",
		"http_port", cfg.Server.HTTPPort,
		"database_host", cfg.Database.Host,
		"kafka_brokers", cfg.Kafka.Brokers,
		"graph_enabled", cfg.Neo4j.Enabled)

	metricsCollector := metrics.NewCollector()

	repository, err := store.NewRepository(cfg.Database, logger)
	if err != nil {
		logger.Error("Failed to initialize database repository", "error", err)
		os.Exit(1)
	}
	defer repository.Close()

	if err := repository.Migrate(); err != nil {
		logger.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	var graphClient *graph.Client
	if cfg.Neo4j.Enabled {
		graphClient, err = graph.NewClient(cfg.Neo4j, logger)
		if err != nil {
			logger.Error("Failed to initialize Neo4j client", "error", err)
			os.Exit(1)
		}
		defer graphClient.Close()
	}

	kafkaProducer, err := kafka.NewProducer(cfg.Kafka, logger)
	if err != nil {
		logger.Error("Failed to initialize Kafka producer", "error", err)
		os.Exit(1)
	}
	defer kafkaProducer.Close()

	nameIndex := matching.NewNameIndex()
	if err := seedNameIndex(repository, nameIndex); err != nil {
		logger.Error("Failed to seed name index", "error", err)
		os.Exit(1)
	}

	matcher := matching.NewEngine(cfg.Matching, logger)
	recorder := history.NewRecorder(repository, cfg.Resolver, metricsCollector, logger)

	// Assign the interface only when the client exists; a nil *Client
	// inside a non-nil interface would defeat the resolver's nil check.
	var projector resolver.GraphProjector
	if graphClient != nil {
		projector = graphClient
	}

	entityResolver := resolver.NewResolver(
		repository,
		matcher,
		recorder,
		nameIndex,
		kafkaProducer,
		projector,
		metricsCollector,
		cfg.Matching,
		logger,
	)

	kafkaConsumer, err := kafka.NewConsumer(cfg.Kafka, entityResolver, logger)
	if err != nil {
		logger.Error("Failed to initialize Kafka consumer", "error", err)
		os.Exit(1)
	}
	defer kafkaConsumer.Close()

	httpHandlers := handlers.NewHTTPHandler(
		entityResolver,
		repository,
		nameIndex,
		graphClient,
		cfg,
		logger,
	)

	router := mux.NewRouter()
	router.Use(
		middleware.Recovery(logger),
		middleware.Logging(logger),
		middleware.Metrics(metricsCollector),
	)
	httpHandlers.RegisterRoutes(router)
	router.Handle("/metrics", metricsCollector.Handler())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server starting", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	go func() {
		logger.Info("Starting Kafka consumer", "topic", cfg.Kafka.MentionsTopic)
		if err := kafkaConsumer.Start(consumerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Kafka consumer failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info("Received shutdown signal", "signal", sig.String())

	stopConsumer()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	} else {
		logger.Info("HTTP server stopped")
	}

	logger.Info("FieldLedger entity registry stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	options := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, options)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, options)
	}

	return slog.New(handler)
}

func seedNameIndex(repository *store.Repository, index *matching.NameIndex) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, kind := range []entity.Kind{entity.KindPerson, entity.KindVendor} {
		profiles, err := repository.ListActiveProfiles(ctx, kind, "")
		if err != nil {
			return fmt.Errorf("list active %s profiles: %w", kind, err)
		}
		index.Load(profiles)
	}

	return nil
}
