package handler

import (
	"context"
	"errors"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"line-chat-bot/internal/domain"
	"line-chat-bot/internal/integrations/queue"
	"line-chat-bot/internal/usecase"
)

// Runner executes one conversation turn.
type Runner interface {
	Run(ctx context.Context, req domain.ChatRequest) usecase.ExecutionOutcome
}

// Consumer is the SQS-triggered entry point of the orchestrator.
type Consumer struct {
	runner    Runner
	redeliver bool
	log       *zap.Logger
}

// NewConsumer builds a Consumer. With redeliver set, executions that end in
// a failed or timed-out state are reported back to SQS for another attempt.
func NewConsumer(runner Runner, redeliver bool, log *zap.Logger) (*Consumer, error) {
	if runner == nil {
		return nil, errors.New("handler: runner must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{runner: runner, redeliver: redeliver, log: log}, nil
}

// Handle runs records in order so two messages of one conversation in the
// same batch append to history in sequence.
func (c *Consumer) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		req, err := queue.Decode(rec.Body)
		if err != nil {
			c.log.Warn("dropping malformed queue message",
				zap.String("message_id", rec.MessageId), zap.Error(err))
			continue
		}
		if err := req.Validate(); err != nil {
			c.log.Warn("dropping invalid queue message",
				zap.String("message_id", rec.MessageId), zap.Error(err))
			continue
		}

		out := c.runner.Run(ctx, req)
		if c.redeliver && redeliverable(out) {
			resp.BatchItemFailures = append(resp.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

// redeliverable reports whether another attempt can run without repeating a
// reply or a history append that already happened.
func redeliverable(out usecase.ExecutionOutcome) bool {
	var uerr *usecase.Error
	if errors.As(out.Err, &uerr) && uerr.Code == usecase.ErrorInvalidInput {
		return false
	}
	switch out.State {
	case usecase.StateFailedPrepare, usecase.StateFailedInvoke:
		return true
	case usecase.StateTimedOut:
		return !out.Replied && !out.Persisted
	}
	return false
}
