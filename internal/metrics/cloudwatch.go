// Package metrics publishes pass-outcome telemetry to CloudWatch.
package metrics

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"maintdesk/internal/types"
)

// Namespace is the CloudWatch namespace for all engine metrics.
const Namespace = "MaintDesk/PMEngine"

// Metric names emitted per pass.
const (
	MetricSchedulesEvaluated  = "SchedulesEvaluated"
	MetricWorkOrdersGenerated = "WorkOrdersGenerated"
	MetricGenerationFailures  = "GenerationFailures"
	MetricPassDuration        = "PassDuration"
)

// DimStore is the tenant-scope dimension; omitted for all-store passes.
const DimStore = "Store"

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchPassMetrics implements pm.PassMetrics by emitting per-pass
// counters and latency to CloudWatch. Emission failures are logged and
// swallowed; telemetry must never fail a pass.
type CloudWatchPassMetrics struct {
	client CloudWatchClient
	logger *slog.Logger
}

// NewCloudWatchPassMetrics creates a publisher using the given client.
func NewCloudWatchPassMetrics(client CloudWatchClient, logger *slog.Logger) *CloudWatchPassMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchPassMetrics{client: client, logger: logger}
}

// RecordPass emits the pass counters and duration in a single PutMetricData
// call.
func (m *CloudWatchPassMetrics) RecordPass(ctx context.Context, report *types.PassReport) {
	var dims []cwtypes.Dimension
	if report.StoreID != "" {
		dims = []cwtypes.Dimension{{
			Name:  aws.String(DimStore),
			Value: aws.String(report.StoreID),
		}}
	}

	count := func(name string, v float64) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(v),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		}
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(Namespace),
		MetricData: []cwtypes.MetricDatum{
			count(MetricSchedulesEvaluated, float64(report.Evaluated)),
			count(MetricWorkOrdersGenerated, float64(len(report.Generated))),
			count(MetricGenerationFailures, float64(len(report.Failed))),
			{
				MetricName: aws.String(MetricPassDuration),
				Value:      aws.Float64(float64(report.FinishedAt.Sub(report.StartedAt).Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to publish pass metrics",
			"pass_id", report.PassID,
			"error", err,
		)
	}
}

// NoopPassMetrics discards all metrics. Used when CloudWatch is not
// configured (local development).
type NoopPassMetrics struct{}

// RecordPass does nothing.
func (NoopPassMetrics) RecordPass(context.Context, *types.PassReport) {}
