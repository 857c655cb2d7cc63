package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/erp-ticketing/internal/api/http"
	"github.com/spec-kit/erp-ticketing/internal/api/http/handlers"
	"github.com/spec-kit/erp-ticketing/internal/auth"
	"github.com/spec-kit/erp-ticketing/internal/config"
	"github.com/spec-kit/erp-ticketing/internal/domain"
	"github.com/spec-kit/erp-ticketing/internal/events"
	"github.com/spec-kit/erp-ticketing/internal/observability"
	"github.com/spec-kit/erp-ticketing/internal/persistence"
	"github.com/spec-kit/erp-ticketing/internal/repository"
	"github.com/spec-kit/erp-ticketing/internal/service"
	"github.com/spec-kit/erp-ticketing/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(cfg.Postgres.DSN, persistence.MigrateUp, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	sink, closeSink := newSink(cfg, redis, logger)
	defer closeSink()
	dispatcher := events.NewDispatcher()
	dispatcher.Subscribe(events.AnyModule, sink)

	store := repository.NewPostgresStore(pg.PoolHandle())
	deliveryWorker := worker.NewDeliveryWorker(store, dispatcher, worker.Options{
		BatchSize:      cfg.Delivery.BatchSize,
		Workers:        cfg.Delivery.Workers,
		PollInterval:   cfg.Delivery.PollInterval(),
		ClaimLease:     cfg.Delivery.ClaimLease(),
		MaxAttempts:    cfg.Delivery.MaxAttempts,
		InitialBackoff: cfg.Delivery.InitialBackoff(),
		MaxBackoff:     cfg.Delivery.MaxBackoff(),
	}, logger.Named("delivery"), metrics)

	location, err := cfg.Ticketing.Location()
	if err != nil {
		logger.Fatal("invalid ticket id time zone", zap.Error(err))
	}
	engine := service.NewTicketingEngine(service.EngineDependencies{
		Store:    store,
		Notifier: deliveryWorker,
		Logger:   logger,
		Metrics:  metrics,
		Location: location,
		Reorder: service.ReorderPolicy{
			Buffer:    int64(cfg.Reorder.Buffer),
			Priority:  domain.Priority(cfg.Reorder.Priority),
			CreatedBy: cfg.Reorder.CreatedBy,
		},
	})

	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := deliveryWorker.Run(workerCtx); err != nil {
			logger.Error("delivery worker exited", zap.Error(err))
		}
	}()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, 0)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Tickets:        handlers.NewTicketsHandler(engine, nil),
		Reorders:       handlers.NewReorderHandler(engine, nil),
		Events:         handlers.NewEventsHandler(engine),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Gatherer:       registry,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownTimeout := cfg.Delivery.ShutdownTimeout()
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	stopWorker()
	select {
	case <-workerDone:
	case <-time.After(shutdownTimeout):
		logger.Warn("delivery worker did not stop in time; claims expire with their lease")
	}
}

// newSink builds the integration layer sink selected by configuration.
func newSink(cfg *config.Config, redis *persistence.Redis, logger *zap.Logger) (events.Sink, func()) {
	switch cfg.Delivery.Sink {
	case config.SinkHTTP:
		return events.NewHTTPSink(cfg.Integration.HTTPURL, cfg.Integration.HTTPTimeout()), func() {}
	case config.SinkAMQP:
		sink := events.NewAMQPSink(cfg.Integration.AMQPURL, cfg.Integration.AMQPExchange, logger)
		return sink, sink.Close
	case config.SinkRedis:
		return events.NewRedisStreamSink(redis.Client, cfg.Integration.RedisStreamPrefix), func() {}
	default:
		return events.NewLogSink(logger.Named("integration")), func() {}
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
