package line

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"line-chat-bot/internal/domain"
	"line-chat-bot/internal/integrations/paramstore"
)

const defaultBaseURL = "https://api.line.me"

// replyTokenRejection is the message LINE returns for a used or stale token.
const replyTokenRejection = "invalid reply token"

type apiErrorBody struct {
	Message string `json:"message"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("line: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends reply messages through the LINE Messaging API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      *CachedParam
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

// NewClient creates a Client whose channel access token is read from the
// named parameter on first use.
func NewClient(ps paramstore.Getter, tokenParam string, opts ...Option) (*Client, error) {
	token, err := NewCachedParam(ps, tokenParam)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		token:      token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func endpoint(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base
}

func replyURL(baseURL string) string {
	return endpoint(baseURL) + "/v2/bot/message/reply"
}

// Send delivers text as a single reply message. Every failure is a
// *domain.ReplyError.
func (c *Client) Send(ctx context.Context, replyToken, text string) error {
	if strings.TrimSpace(replyToken) == "" {
		return domain.NewReplyError(domain.ReplyRejected, errors.New("line: reply token is required"))
	}

	accessToken, err := c.token.Get(ctx)
	if err != nil {
		if errors.Is(err, paramstore.ErrNotFound) {
			return domain.NewReplyError(domain.ReplyRejected, err)
		}
		return domain.NewReplyError(domain.ReplyTransient, err)
	}

	// The SDK client holds the request context, so each send gets its own.
	api, err := c.messagingAPI(accessToken)
	if err != nil {
		return domain.NewReplyError(domain.ReplyRejected, err)
	}
	res, _, err := api.WithContext(ctx).ReplyMessageWithHttpInfo(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: text},
		},
	})
	if err != nil {
		// A 2xx whose body the SDK could not decode was still delivered.
		if res != nil && res.StatusCode/100 == 2 {
			_ = res.Body.Close()
			return nil
		}
		return classify(statusError(res, replyURL(c.baseURL), err))
	}
	return nil
}

func (c *Client) messagingAPI(accessToken string) (*messaging_api.MessagingApiAPI, error) {
	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	api, err := messaging_api.NewMessagingApiAPI(accessToken,
		messaging_api.WithEndpoint(endpoint(c.baseURL)),
		messaging_api.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("line: create messaging api client: %w", err)
	}
	return api, nil
}

// statusError turns an SDK failure carrying an HTTP response into an
// *HTTPStatusError. Failures without a response pass through unchanged.
func statusError(res *http.Response, url string, err error) error {
	if res == nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	body := string(buf)
	if body == "" {
		// The SDK error message embeds the response body.
		body = err.Error()
	}
	return &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: body}
}

// classify maps a transport or status failure to a reply error kind.
func classify(err error) error {
	var se *HTTPStatusError
	if !errors.As(err, &se) {
		// Connection resets, DNS failures and client timeouts.
		return domain.NewReplyError(domain.ReplyTransient, fmt.Errorf("line: request failed: %w", err))
	}

	switch {
	case se.StatusCode == http.StatusBadRequest && isReplyTokenRejection(se.Body):
		return domain.NewReplyError(domain.ReplyTokenExpired, se)
	case se.StatusCode == http.StatusRequestTimeout,
		se.StatusCode == http.StatusTooManyRequests,
		se.StatusCode >= 500:
		return domain.NewReplyError(domain.ReplyTransient, se)
	default:
		return domain.NewReplyError(domain.ReplyRejected, se)
	}
}

func isReplyTokenRejection(body string) bool {
	var parsed apiErrorBody
	if err := json.Unmarshal([]byte(body), &parsed); err == nil && parsed.Message != "" {
		return strings.EqualFold(strings.TrimSpace(parsed.Message), replyTokenRejection)
	}
	return strings.Contains(strings.ToLower(body), replyTokenRejection)
}

// CachedParam reads a parameter once and keeps it for the process lifetime.
// A failed read is not cached, so the next call tries again.
type CachedParam struct {
	getter paramstore.Getter
	name   string

	mu    sync.Mutex
	value string
}

func NewCachedParam(ps paramstore.Getter, name string) (*CachedParam, error) {
	if ps == nil {
		return nil, errors.New("line: paramstore getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("line: parameter name must not be empty")
	}
	return &CachedParam{getter: ps, name: name}, nil
}

func (p *CachedParam) Get(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.value != "" {
		return p.value, nil
	}
	v, err := p.getter.GetParameter(ctx, p.name)
	if err != nil {
		return "", fmt.Errorf("line: fetch %s: %w", p.name, err)
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("line: parameter %s is empty", p.name)
	}
	p.value = v
	return v, nil
}
