package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/trip-dispatch/internal/agents"
	"github.com/example/trip-dispatch/internal/config"
	"github.com/example/trip-dispatch/internal/eligibility"
	"github.com/example/trip-dispatch/internal/eta"
	"github.com/example/trip-dispatch/internal/fanout"
	"github.com/example/trip-dispatch/internal/httpapi"
	"github.com/example/trip-dispatch/internal/ingest"
	"github.com/example/trip-dispatch/internal/lifecycle"
	"github.com/example/trip-dispatch/internal/logging"
	"github.com/example/trip-dispatch/internal/offer"
	"github.com/example/trip-dispatch/internal/position"
	"github.com/example/trip-dispatch/internal/registry"
	"github.com/example/trip-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.JobStore
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(cfg.PGDSN, logger)
		}
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		store = ps
	} else {
		store = storage.NewMemoryStore()
	}

	reg := registry.New(store)
	agentStore := agents.NewStore()
	var positions position.Store
	if cfg.RedisAddr != "" {
		positions = position.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, cfg.Dispatch.StalenessWindow)
	} else {
		positions = position.NewMemoryStore(cfg.Dispatch.StalenessWindow)
	}
	wsreg := fanout.NewWSRegistry(logger)

	sinks := []fanout.Notifier{wsreg, &fanout.LogSink{Logger: logger}}
	if cfg.AMQPURL != "" {
		amqpSink, err := fanout.NewAMQPSink(ctx, cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Error("amqp unavailable", "error", err)
			os.Exit(1)
		}
		defer amqpSink.Close()
		sinks = append(sinks, amqpSink)
	}
	var producer *ingest.PositionProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewPositionProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		events := ingest.NewEventSink(cfg.KafkaBrokers, cfg.KafkaEventTopic)
		defer events.Close()
		sinks = append(sinks, events)
	}
	notify := fanout.NewTee(sinks...)

	var road eta.Estimator
	if cfg.OSRMEndpoint != "" {
		road = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}
	estimates := eta.NewService(road, eta.NewCache(cfg.EtaCacheTTL), cfg.Dispatch.AvgSpeedMps, cfg.Dispatch.EtaFloorSec)

	pool := eligibility.NewPool(agentStore, positions)
	coord := offer.NewCoordinator(cfg.Dispatch, reg, agentStore, pool, estimates, notify, logger)
	machine := lifecycle.NewMachine(reg, agentStore, coord, notify, logger)

	srv := httpapi.NewServer(cfg.Dispatch, logger, reg, agentStore, positions, coord, machine, estimates, notify, wsreg, producer)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("trip-dispatch listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	if err := coord.Shutdown(shutdownCtx); err != nil {
		logger.Warn("dispatch loops did not drain in time", "error", err)
	}
}

// runMigrations applies migrations/001_create_jobs.sql when requested.
func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_jobs.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_jobs.sql")
}
