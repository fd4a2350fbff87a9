package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/config"
	httpdelivery "github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/delivery/http"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/integration"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/repository/sqlstore"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/service"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	telemetry.InitLogger(os.Stderr, cfg.LogLevel)
	if cfg.WorkerID == "" {
		cfg.WorkerID = hostname()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Service stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("Service stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	// --- Database ---
	db, err := sqlstore.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	idempotency, closeIdempotency, err := openIdempotencyStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeIdempotency()

	// --- Bus ---
	bus, err := newBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			slog.Error("Failed to close bus", "err", err)
		}
	}()

	eventLog := sqlstore.NewEventLog(db)
	outbox := service.NewOutboxPublisher(eventLog, bus, service.OutboxConfig{
		WorkerID:        cfg.WorkerID,
		BatchSize:       cfg.OutboxBatchSize,
		PollInterval:    cfg.OutboxPollInterval,
		InFlightTimeout: cfg.OutboxInFlightTimeout,
		PublishTimeout:  cfg.OutboxPublishTimeout,
		RetryInitial:    cfg.OutboxRetryInitial,
		RetryMax:        cfg.OutboxRetryMax,
	})

	// --- Services ---
	translator := integration.DomainTranslator{}
	guard := service.NewIdempotencyGuard(idempotency, cfg.IdempotencyLease)
	inventory, identity := newCollaborators(cfg)

	orders := service.NewOrderService(sqlstore.NewOrderRepository(db, translator), identity, guard, outbox)
	shipments := service.NewShipmentService(sqlstore.NewShipmentRepository(db, translator), guard, outbox)

	handlers := service.NewIntegrationHandlers(orders, shipments, inventory)
	if err := handlers.Register(bus); err != nil {
		return err
	}

	// --- HTTP API ---
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpdelivery.NewRouter(httpdelivery.NewHandler(orders, shipments, outbox)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// --- Start everything ---
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return bus.Run(ctx)
	})

	// nothing publishes until every handler is subscribed
	select {
	case <-bus.Running():
	case <-ctx.Done():
		return g.Wait()
	}

	g.Go(func() error {
		slog.Info("🚀 HTTP server starting", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return outbox.Run(ctx)
	})
	if cfg.IdempotencyBackend == config.IdempotencySQL {
		g.Go(func() error {
			return guard.RunJanitor(ctx, cfg.IdempotencyGCInterval, cfg.IdempotencyTTL)
		})
	}

	slog.Info("🔄 Fulfillment running", "transport", cfg.BusTransport, "worker", cfg.WorkerID)
	return g.Wait()
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "fulfillment"
	}
	return name
}
