package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"line-chat-bot/internal/domain"
	"line-chat-bot/internal/integrations/line"
	"line-chat-bot/internal/logging"
)

const correlationHeader = "X-Correlation-Id"

// Publisher enqueues a chat request for the orchestrator.
type Publisher interface {
	Publish(ctx context.Context, req domain.ChatRequest) (string, error)
}

// Replier sends an immediate reply. Used only for the enqueue-failure apology.
type Replier interface {
	Send(ctx context.Context, replyToken, text string) error
}

// SecretSource yields the LINE channel secret.
type SecretSource interface {
	Get(ctx context.Context) (string, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

// Webhook is the API Gateway entry point that receives LINE events.
type Webhook struct {
	secret    SecretSource
	publisher Publisher
	replier   Replier
	log       *zap.Logger
}

func NewWebhook(secret SecretSource, publisher Publisher, replier Replier, log *zap.Logger) (*Webhook, error) {
	if secret == nil {
		return nil, errors.New("handler: secret source must not be nil")
	}
	if publisher == nil {
		return nil, errors.New("handler: publisher must not be nil")
	}
	if replier == nil {
		return nil, errors.New("handler: replier must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Webhook{secret: secret, publisher: publisher, replier: replier, log: log}, nil
}

func (h *Webhook) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.log.With(zap.String("correlation_id", correlationID))

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{Error: "invalid_body"}), nil
		}
		body = decoded
	}

	secret, err := h.secret.Get(ctx)
	if err != nil {
		log.Error("channel secret unavailable", zap.Error(err))
		return jsonResponse(http.StatusInternalServerError, correlationID, errorResponse{Error: "internal"}), nil
	}
	cb, err := line.ParseCallback(secret, body, headerValue(req.Headers, line.SignatureHeader))
	if errors.Is(err, line.ErrInvalidSignature) {
		log.Warn("webhook signature validation failed")
		return jsonResponse(http.StatusUnauthorized, correlationID, errorResponse{Error: "invalid_signature"}), nil
	}
	if err != nil {
		log.Warn("malformed webhook body", zap.Error(err))
		return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{Error: "invalid_body"}), nil
	}

	var g errgroup.Group
	for _, ev := range cb.Events {
		g.Go(func() error {
			h.handleEvent(ctx, log, ev)
			return nil
		})
	}
	_ = g.Wait()

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusAccepted,
		Headers:    map[string]string{correlationHeader: correlationID},
		Body:       "Accepted",
	}, nil
}

func (h *Webhook) handleEvent(ctx context.Context, log *zap.Logger, ev webhook.EventInterface) {
	req, ok := line.ChatRequest(ev)
	if !ok {
		log.Debug("skipping non-text event", zap.String("event_type", fmt.Sprintf("%T", ev)))
		return
	}
	log = log.With(logging.Conversation(req.ConversationKey))

	id, err := h.publisher.Publish(ctx, req)
	if err == nil {
		log.Debug("message enqueued", zap.String("queue_message_id", id))
		return
	}

	log.Error("enqueue failed, sending apology",
		logging.Redacted("reply_token", req.ReplyToken), zap.Error(err))
	if err := h.replier.Send(ctx, req.ReplyToken, line.ApologyText); err != nil {
		log.Error("apology reply failed", zap.Error(err))
	}
}

// headerValue looks a header up case-insensitively.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	buf, err := json.Marshal(body)
	if err != nil {
		buf = []byte(`{"error":"internal"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(buf),
	}
}
