// Package main is the entry point for the maintdesk PM engine API server.
//
// It loads configuration, connects the pgx pool, wires the repositories,
// generator, and handlers into the core chassis, and serves HTTP on the
// configured port. Graceful shutdown is handled via OS signal interception
// (SIGINT, SIGTERM).
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

	"github.com/go-chi/chi/v5"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"maintdesk/internal/api/handlers"
	"maintdesk/internal/config"
	"maintdesk/internal/core"
	"maintdesk/internal/db"
	"maintdesk/internal/external"
	"maintdesk/internal/metrics"
	"maintdesk/internal/pm"
	"maintdesk/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("maintdesk API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database.
	pool, err := db.Connect(ctx, cfg.Database.URL.Unmask(), db.PoolSettings{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	scheduleRepo := db.NewScheduleRepository(pool)
	ledgerRepo := db.NewLedgerRepository(pool)

	workOrders := newWorkOrderCreator(cfg, pool)

	// AWS clients: pass metrics and the async trigger queue. Both are
	// optional for local development.
	var passMetrics pm.PassMetrics = metrics.NoopPassMetrics{}
	var requester handlers.PassRequester
	if cfg.AWS.MetricsEnabled || cfg.AWS.PassQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("loading AWS configuration: %w", err)
		}
		if cfg.AWS.MetricsEnabled {
			passMetrics = metrics.NewCloudWatchPassMetrics(cloudwatch.NewFromConfig(awsCfg), logger)
		}
		if cfg.AWS.PassQueueURL != "" {
			requester = queue.NewPassTrigger(sqs.NewFromConfig(awsCfg), cfg.AWS.PassQueueURL, logger)
		}
	}

	generator := pm.NewGenerator(pm.GeneratorConfig{
		Schedules:   scheduleRepo,
		Ledger:      ledgerRepo,
		WorkOrders:  workOrders,
		Metrics:     passMetrics,
		Logger:      logger,
		Parallelism: cfg.Engine.Parallelism,
	})

	// HTTP chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	// pgxpool.Close is idempotent, so the deferred close above remains safe.
	srv.Closers = append(srv.Closers, pool.Close)
	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
		ProbeName: "database",
		Fn:        pool.Ping,
	})

	scheduleHandler := handlers.NewScheduleHandler(scheduleRepo, nil, logger)
	generateHandler := handlers.NewGenerateHandler(generator, requester, logger)
	historyHandler := handlers.NewHistoryHandler(ledgerRepo, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) { scheduleHandler.RegisterRoutes(r) },
		func(r chi.Router) { generateHandler.RegisterRoutes(r) },
		func(r chi.Router) { historyHandler.RegisterRoutes(r) },
	)
	srv.MountRoutes()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return srv.Shutdown(shutdownCtx)
}

// newWorkOrderCreator selects the work-order collaborator per configuration:
// direct inserts into this database, or the remote service behind the
// circuit-broken HTTP client.
func newWorkOrderCreator(cfg *config.Config, pool *pgxpool.Pool) pm.WorkOrderCreator {
	if cfg.WorkOrder.Mode != "remote" {
		return db.NewWorkOrderRepository(pool)
	}

	baseClient := external.NewBaseClient(
		&http.Client{Timeout: cfg.WorkOrder.Timeout},
		"workorder-service",
		external.RetryPolicy{
			MaxRetries: cfg.WorkOrder.MaxRetries,
			MinWait:    500 * time.Millisecond,
			MaxWait:    10 * time.Second,
		},
		cfg.Service,
	)
	return external.NewWorkOrderServiceClient(
		baseClient,
		cfg.WorkOrder.BaseURL,
		cfg.WorkOrder.APIKey.Unmask(),
	)
}

// newLogger creates a structured slog.Logger configured for the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
