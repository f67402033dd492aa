// Package queue provides the SQS-based producer used by the API's async mode
// to hand generation-pass requests to the pm-worker.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"maintdesk/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// PassTrigger serializes a PassPayload and sends it to the pm-worker queue.
// It is the producer half of the async "run due-generation pass now" action;
// the worker consumes the same payload shape that EventBridge rules send.
type PassTrigger struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewPassTrigger creates a PassTrigger publishing to the given queue URL.
func NewPassTrigger(client SQSSender, queueURL string, logger *slog.Logger) *PassTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &PassTrigger{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// RequestPass enqueues one generation-pass request. Duplicate or redundant
// requests are harmless: the worker's job lock collapses concurrent fires and
// the ledger guarantees at-most-one work order per occurrence regardless.
func (t *PassTrigger) RequestPass(ctx context.Context, payload types.PassPayload) error {
	if payload.Task == "" {
		payload.Task = types.TaskGenerationPass
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to marshal pass payload", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"task": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(payload.Task)),
			},
		},
	}

	if _, err := t.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			"failed to enqueue pass request", err)
	}

	t.logger.Info("pass request enqueued",
		"task", payload.Task,
		"store_id", payload.StoreID,
		"requested_by", payload.RequestedBy,
	)
	return nil
}
