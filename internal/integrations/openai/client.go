package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"line-chat-bot/internal/domain"
	"line-chat-bot/internal/integrations/paramstore"
)

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

// Client is a model gateway over an OpenAI-compatible chat completions API.
type Client struct {
	model      string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	getter     paramstore.Getter
	tokenParam string

	mu     sync.Mutex
	client *goopenai.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKey sets the key directly, skipping the parameter store.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithParamStore resolves the key from paramPrefix + "/open-ai-token" when no
// key was given. The parameter holds {"token": "..."}.
func WithParamStore(ps paramstore.Getter, paramPrefix string) Option {
	return func(c *Client) {
		c.getter = ps
		c.tokenParam = strings.TrimRight(strings.TrimSpace(paramPrefix), "/") + "/open-ai-token"
	}
}

func NewClient(model string, opts ...Option) (*Client, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	c := &Client{
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey == "" && c.getter == nil {
		return nil, errors.New("openai: an API key or a paramstore getter is required")
	}
	return c, nil
}

// resolveClient builds the SDK client on first successful key lookup.
func (c *Client) resolveClient(ctx context.Context) (*goopenai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	key := c.apiKey
	if key == "" {
		var err error
		key, err = fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParam)
		if err != nil {
			return nil, err
		}
	}

	cfg := goopenai.DefaultConfig(key)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	if c.httpClient != nil {
		cfg.HTTPClient = c.httpClient
	}
	c.client = goopenai.NewClientWithConfig(cfg)
	return c.client, nil
}

// Invoke sends the formatted prompt as one user message and returns the first
// choice. Every failure is a *domain.ModelError.
func (c *Client) Invoke(ctx context.Context, prompt string, params domain.SamplingParams) (string, error) {
	client, err := c.resolveClient(ctx)
	if err != nil {
		return "", domain.NewModelError(domain.ModelUnavailable, err)
	}

	resp, err := client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   params.MaxTokens,
		Temperature: float32(params.Temperature),
		TopP:        float32(params.TopP),
	})
	if err != nil {
		return "", classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewModelError(domain.ModelRejected, errors.New("openai: no choices in response"))
	}
	choice := resp.Choices[0]
	if choice.FinishReason == goopenai.FinishReasonContentFilter {
		return "", domain.NewModelError(domain.ModelRejected, errors.New("openai: completion blocked by content filter"))
	}
	if strings.TrimSpace(choice.Message.Content) == "" {
		return "", domain.NewModelError(domain.ModelRejected, errors.New("openai: empty completion"))
	}
	return choice.Message.Content, nil
}

func classify(ctx context.Context, err error) error {
	wrapped := fmt.Errorf("openai: chat completion: %w", err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewModelError(domain.ModelTimeout, wrapped)
	}

	status := 0
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == 0:
		return domain.NewModelError(domain.ModelUnavailable, wrapped)
	case status == http.StatusRequestTimeout:
		return domain.NewModelError(domain.ModelTimeout, wrapped)
	case status == http.StatusTooManyRequests || status >= 500:
		return domain.NewModelError(domain.ModelUnavailable, wrapped)
	default:
		return domain.NewModelError(domain.ModelRejected, wrapped)
	}
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter paramstore.Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("openai: API token is empty")
	}
	return tp.Token, nil
}
