package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"line-chat-bot/internal/domain"
)

// sqsAPI is the minimal SQS interface required by Publisher.
type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher enqueues chat requests for the orchestrator.
type Publisher struct {
	api      sqsAPI
	queueURL string
}

func NewPublisher(api sqsAPI, queueURL string) (*Publisher, error) {
	if api == nil {
		return nil, errors.New("queue: api must not be nil")
	}
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, errors.New("queue: queue url must not be empty")
	}
	return &Publisher{api: api, queueURL: queueURL}, nil
}

// Publish sends req as a JSON message body and returns the SQS message id.
func (p *Publisher) Publish(ctx context.Context, req domain.ChatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("queue: Publish marshal: %w", err)
	}
	out, err := p.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return "", fmt.Errorf("queue: Publish: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// Decode parses a message body produced by Publish.
func Decode(body string) (domain.ChatRequest, error) {
	var req domain.ChatRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return domain.ChatRequest{}, fmt.Errorf("queue: Decode: %w", err)
	}
	return req, nil
}
