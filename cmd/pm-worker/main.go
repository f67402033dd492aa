// Package main is the entrypoint for the pm-worker Lambda function.
//
// The worker runs generation passes and ledger sweeps. It is invoked two
// ways: an EventBridge schedule rule delivers a PassPayload directly (the
// nightly all-store pass), and the API's async trigger path delivers
// PassPayload messages through SQS. The handler accepts both shapes.
//
// Cold start wires the database pool, the work-order client, CloudWatch
// metrics, and the generator. Each invocation takes the advisory job lock,
// records a pass history row, runs the task, and records the outcome.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"maintdesk/internal/config"
	"maintdesk/internal/db"
	"maintdesk/internal/external"
	"maintdesk/internal/metrics"
	"maintdesk/internal/pm"
	"maintdesk/internal/types"
)

// Handler holds the dependencies for the pm-worker Lambda handler.
type Handler struct {
	generator *pm.Generator
	history   *db.PassHistoryRepository
	locks     *db.JobLockRepository
	ledger    *db.LedgerRepository
	logger    *slog.Logger

	lockTTL  time.Duration
	staleAge time.Duration
	workerID string
}

// Handle is the Lambda entry point. The raw payload is either an SQS event
// batch or a bare PassPayload from an EventBridge schedule rule.
func (h *Handler) Handle(ctx context.Context, raw json.RawMessage) error {
	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(raw, &sqsEvent); err == nil && len(sqsEvent.Records) > 0 {
		for _, record := range sqsEvent.Records {
			var payload types.PassPayload
			if err := json.Unmarshal([]byte(record.Body), &payload); err != nil {
				h.logger.Error("discarding malformed pass payload",
					"message_id", record.MessageId,
					"error", err,
				)
				continue
			}
			if err := h.runTask(ctx, payload); err != nil {
				return err
			}
		}
		return nil
	}

	var payload types.PassPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("unmarshalling invocation payload: %w", err)
	}
	return h.runTask(ctx, payload)
}

// runTask dispatches one task. Unknown task types are an error so a
// misconfigured EventBridge rule is noticed instead of silently no-opping.
func (h *Handler) runTask(ctx context.Context, payload types.PassPayload) error {
	task := payload.Task
	if task == "" {
		task = types.TaskGenerationPass
	}

	switch task {
	case types.TaskGenerationPass:
		return h.runGenerationPass(ctx, payload)
	case types.TaskLedgerSweep:
		return h.runLedgerSweep(ctx)
	default:
		return fmt.Errorf("unknown task type %q", task)
	}
}

// runGenerationPass executes one generation pass under the advisory job lock.
// A lost lock means another worker is already running the same pass; the
// invocation exits cleanly. The ledger, not the lock, is what guarantees
// at-most-one work order per occurrence.
func (h *Handler) runGenerationPass(ctx context.Context, payload types.PassPayload) error {
	opts := pm.PassOptions{StoreID: payload.StoreID}
	if payload.ReferenceTime != nil {
		opts.AsOf = *payload.ReferenceTime
	}

	lockID := "generation_pass"
	if payload.StoreID != "" {
		lockID += ":" + payload.StoreID
	}

	acquired, err := h.locks.Acquire(ctx, lockID, h.workerID, h.lockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		h.logger.Info("generation pass already running elsewhere, skipping",
			"lock_id", lockID,
		)
		return nil
	}

	historyID, err := h.history.Start(ctx, types.TaskGenerationPass, payload.StoreID, payload.RequestedBy)
	if err != nil {
		return err
	}

	report, passErr := h.generator.RunPass(ctx, opts)
	if err := h.history.Finish(ctx, historyID, report, passErr); err != nil {
		h.logger.Error("failed to record pass outcome", "error", err)
	}
	if passErr != nil {
		return passErr
	}

	h.logger.Info("generation pass complete",
		"pass_id", report.PassID,
		"store_id", report.StoreID,
		"evaluated", report.Evaluated,
		"generated", len(report.Generated),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
	)
	return nil
}

// sweepReportLimit caps one sweep's output.
const sweepReportLimit = 200

// runLedgerSweep reports reservations that never committed. They are logged
// for operator review rather than auto-released: the work order may exist
// even though the commit never landed, and releasing would invite a
// duplicate on the next pass.
func (h *Handler) runLedgerSweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-h.staleAge)

	stale, err := h.ledger.ListStaleReservations(ctx, cutoff, sweepReportLimit)
	if err != nil {
		return err
	}

	if len(stale) == 0 {
		h.logger.Info("ledger sweep complete, no stale reservations")
		return nil
	}

	for _, record := range stale {
		h.logger.Warn("stale ledger reservation needs review",
			"schedule_id", record.ScheduleID,
			"occurrence_date", record.OccurrenceDate.Format("2006-01-02"),
			"reserved_at", record.ReservedAt,
		)
	}
	h.logger.Warn("ledger sweep complete", "stale_reservations", len(stale))
	return nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Database.URL.Unmask(), db.PoolSettings{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		logger.Error("fatal: connecting to database", "error", err)
		os.Exit(1)
	}

	workOrders := newWorkOrderCreator(cfg, pool)

	var passMetrics pm.PassMetrics = metrics.NoopPassMetrics{}
	if cfg.AWS.MetricsEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			logger.Error("fatal: loading AWS configuration", "error", err)
			os.Exit(1)
		}
		passMetrics = metrics.NewCloudWatchPassMetrics(cloudwatch.NewFromConfig(awsCfg), logger)
	}

	generator := pm.NewGenerator(pm.GeneratorConfig{
		Schedules:   db.NewScheduleRepository(pool),
		Ledger:      db.NewLedgerRepository(pool),
		WorkOrders:  workOrders,
		Metrics:     passMetrics,
		Logger:      logger,
		Parallelism: cfg.Engine.Parallelism,
	})

	handler := &Handler{
		generator: generator,
		history:   db.NewPassHistoryRepository(pool),
		locks:     db.NewJobLockRepository(pool),
		ledger:    db.NewLedgerRepository(pool),
		logger:    logger,
		lockTTL:   cfg.Engine.LockTTL,
		staleAge:  cfg.Engine.StaleReservationAge,
		workerID:  uuid.NewString(),
	}

	lambda.Start(handler.Handle)
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
