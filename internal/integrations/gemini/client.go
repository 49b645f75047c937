package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"line-chat-bot/internal/domain"
)

// generator is the slice of *genai.Models that Client uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client is a model gateway over the Gemini API.
type Client struct {
	models generator
	model  string
}

// NewClient creates a Gemini API client for apiKey.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: API key is required")
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return New(gc.Models, model)
}

func New(models generator, model string) (*Client, error) {
	if models == nil {
		return nil, errors.New("gemini: models must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("gemini: model must not be empty")
	}
	return &Client{models: models, model: model}, nil
}

// Invoke generates a completion for prompt. Every failure is a
// *domain.ModelError.
func (c *Client) Invoke(ctx context.Context, prompt string, params domain.SamplingParams) (string, error) {
	resp, err := c.models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature:     genai.Ptr(float32(params.Temperature)),
			TopP:            genai.Ptr(float32(params.TopP)),
			TopK:            genai.Ptr(float32(params.TopK)),
			MaxOutputTokens: int32(params.MaxTokens),
		},
	)
	if err != nil {
		return "", classify(ctx, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", domain.NewModelError(domain.ModelRejected, errors.New("gemini: no candidates in response"))
	}
	if reason := resp.Candidates[0].FinishReason; reason == genai.FinishReasonSafety ||
		reason == genai.FinishReasonProhibitedContent || reason == genai.FinishReasonBlocklist {
		return "", domain.NewModelError(domain.ModelRejected, fmt.Errorf("gemini: generation stopped: %s", reason))
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", domain.NewModelError(domain.ModelRejected, errors.New("gemini: empty completion"))
	}
	return text, nil
}

func classify(ctx context.Context, err error) error {
	wrapped := fmt.Errorf("gemini: generate content: %w", err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewModelError(domain.ModelTimeout, wrapped)
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}

	switch {
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return domain.NewModelError(domain.ModelTimeout, wrapped)
	case code == 0, code == http.StatusTooManyRequests, code >= 500:
		return domain.NewModelError(domain.ModelUnavailable, wrapped)
	default:
		return domain.NewModelError(domain.ModelRejected, wrapped)
	}
}
