package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"line-chat-bot/internal/domain"
)

// bedrockAPI is the minimal Bedrock Runtime interface required by Client.
type bedrockAPI interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// completionRequest is the Anthropic text-completion body.
type completionRequest struct {
	Prompt            string  `json:"prompt"`
	MaxTokensToSample int     `json:"max_tokens_to_sample"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	TopK              int     `json:"top_k"`
}

type completionResponse struct {
	Completion string `json:"completion"`
	StopReason string `json:"stop_reason"`
}

// Client invokes a Claude text-completion model on Amazon Bedrock.
type Client struct {
	api     bedrockAPI
	modelID string
}

func New(api bedrockAPI, modelID string) (*Client, error) {
	if api == nil {
		return nil, errors.New("bedrock: api must not be nil")
	}
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return nil, errors.New("bedrock: model id must not be empty")
	}
	return &Client{api: api, modelID: modelID}, nil
}

// Invoke returns the model's completion. Every failure is a *domain.ModelError.
func (c *Client) Invoke(ctx context.Context, prompt string, params domain.SamplingParams) (string, error) {
	body, err := json.Marshal(completionRequest{
		Prompt:            prompt,
		MaxTokensToSample: params.MaxTokens,
		Temperature:       params.Temperature,
		TopP:              params.TopP,
		TopK:              params.TopK,
	})
	if err != nil {
		return "", domain.NewModelError(domain.ModelRejected, fmt.Errorf("bedrock: marshal request: %w", err))
	}

	out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return "", classify(ctx, err)
	}
	if out == nil {
		return "", domain.NewModelError(domain.ModelUnavailable, errors.New("bedrock: empty response"))
	}

	var resp completionResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", domain.NewModelError(domain.ModelRejected, fmt.Errorf("bedrock: decode response: %w", err))
	}
	if strings.TrimSpace(resp.Completion) == "" {
		return "", domain.NewModelError(domain.ModelRejected, errors.New("bedrock: empty completion"))
	}
	return resp.Completion, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewModelError(domain.ModelTimeout, fmt.Errorf("bedrock: invoke: %w", err))
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ModelTimeoutException":
			return domain.NewModelError(domain.ModelTimeout, fmt.Errorf("bedrock: invoke: %w", err))
		case "ThrottlingException", "ServiceUnavailableException", "InternalServerException",
			"ModelNotReadyException", "ServiceQuotaExceededException":
			return domain.NewModelError(domain.ModelUnavailable, fmt.Errorf("bedrock: invoke: %w", err))
		case "ValidationException", "AccessDeniedException", "ModelErrorException",
			"ResourceNotFoundException":
			return domain.NewModelError(domain.ModelRejected, fmt.Errorf("bedrock: invoke: %w", err))
		}
		if apiErr.ErrorFault() == smithy.FaultClient {
			return domain.NewModelError(domain.ModelRejected, fmt.Errorf("bedrock: invoke: %w", err))
		}
	}
	return domain.NewModelError(domain.ModelUnavailable, fmt.Errorf("bedrock: invoke: %w", err))
}
