package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"line-chat-bot/internal/domain"
	"line-chat-bot/internal/integrations/line"
)

const testSecret = "channel-secret"

type staticSecret struct {
	value string
	err   error
}

func (s staticSecret) Get(context.Context) (string, error) {
	return s.value, s.err
}

type fakePublisher struct {
	mu   sync.Mutex
	reqs []domain.ChatRequest
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, req domain.ChatRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return "", f.err
	}
	return "msg-" + req.MessageID, nil
}

type fakeReplier struct {
	mu     sync.Mutex
	tokens []string
	texts  []string
}

func (f *fakeReplier) Send(_ context.Context, token, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	f.texts = append(f.texts, text)
	return nil
}

func textEvent(id, user, token, text string) string {
	return fmt.Sprintf(`{"type":"message","mode":"active","timestamp":1700000000000,"webhookEventId":"e-%[1]s",
		"deliveryContext":{"isRedelivery":false},"replyToken":%[3]q,
		"source":{"type":"user","userId":%[2]q},
		"message":{"id":%[1]q,"type":"text","quoteToken":"q","text":%[4]q}}`, id, user, token, text)
}

const (
	followEvent = `{"type":"follow","mode":"active","timestamp":1700000000000,"webhookEventId":"e-f",
		"deliveryContext":{"isRedelivery":false},"replyToken":"t2",
		"source":{"type":"user","userId":"U9"},"follow":{"isUnblocked":false}}`
	stickerEvent = `{"type":"message","mode":"active","timestamp":1700000000000,"webhookEventId":"e-s",
		"deliveryContext":{"isRedelivery":false},"replyToken":"t4",
		"source":{"type":"user","userId":"U9"},
		"message":{"id":"m4","type":"sticker","quoteToken":"q","packageId":"1","stickerId":"2","stickerResourceType":"STATIC"}}`
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedRequest(t *testing.T, evs ...string) events.APIGatewayProxyRequest {
	t.Helper()
	raw := []byte(`{"destination":"Ubot","events":[` + strings.Join(evs, ",") + `]}`)
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/webhook",
		Headers:    map[string]string{"x-line-signature": sign(testSecret, raw)},
		Body:       string(raw),
	}
}

func newWebhook(t *testing.T, pub *fakePublisher, rep *fakeReplier) *Webhook {
	t.Helper()
	h, err := NewWebhook(staticSecret{value: testSecret}, pub, rep, nil)
	require.NoError(t, err)
	return h
}

func TestWebhook_EnqueuesTextMessages(t *testing.T) {
	pub, rep := &fakePublisher{}, &fakeReplier{}
	h := newWebhook(t, pub, rep)

	req := signedRequest(t,
		textEvent("m1", "U1", "t1", "hello"),
		followEvent,
		textEvent("m3", "U2", "t3", "hi"),
		stickerEvent,
	)
	resp, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, resp.Headers[correlationHeader])

	require.Len(t, pub.reqs, 2)
	sort.Slice(pub.reqs, func(i, j int) bool { return pub.reqs[i].MessageID < pub.reqs[j].MessageID })
	require.Equal(t, domain.ConversationKey("U1", ""), pub.reqs[0].ConversationKey)
	require.Equal(t, "hello", pub.reqs[0].Message)
	require.Equal(t, int64(1700000000), pub.reqs[0].TimestampSecond)
	require.Equal(t, "t1", pub.reqs[0].ReplyToken)
	require.Equal(t, "hi", pub.reqs[1].Message)
	require.Empty(t, rep.tokens)
}

func TestWebhook_ApologizesWhenEnqueueFails(t *testing.T) {
	pub, rep := &fakePublisher{err: errors.New("sqs down")}, &fakeReplier{}
	h := newWebhook(t, pub, rep)

	resp, err := h.Handle(context.Background(), signedRequest(t, textEvent("m1", "U1", "t1", "hello")))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, []string{"t1"}, rep.tokens)
	require.Equal(t, []string{line.ApologyText}, rep.texts)
}

func TestWebhook_ApologyLogRedactsReplyToken(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h, err := NewWebhook(staticSecret{value: testSecret}, &fakePublisher{err: errors.New("sqs down")}, &fakeReplier{}, zap.New(core))
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), signedRequest(t, textEvent("m1", "U1", "tok-secret", "hello")))
	require.NoError(t, err)

	entries := logs.FilterMessage("enqueue failed, sending apology").All()
	require.Len(t, entries, 1)
	require.Equal(t, "[REDACTED]", entries[0].ContextMap()["reply_token"])
	for _, entry := range logs.All() {
		for _, v := range entry.ContextMap() {
			if s, ok := v.(string); ok {
				require.NotContains(t, s, "tok-secret")
			}
		}
	}
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	pub := &fakePublisher{}
	h := newWebhook(t, pub, &fakeReplier{})

	req := signedRequest(t, textEvent("m1", "U1", "t1", "x"))
	req.Headers["x-line-signature"] = sign("wrong", []byte(req.Body))
	resp, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Empty(t, pub.reqs)

	delete(req.Headers, "x-line-signature")
	resp, err = h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhook_AcceptsCanonicalSignatureHeader(t *testing.T) {
	pub := &fakePublisher{}
	h := newWebhook(t, pub, &fakeReplier{})

	req := signedRequest(t, textEvent("m1", "U1", "t1", "x"))
	req.Headers = map[string]string{line.SignatureHeader: req.Headers["x-line-signature"]}
	resp, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, pub.reqs, 1)
}

func TestWebhook_Base64Body(t *testing.T) {
	pub := &fakePublisher{}
	h := newWebhook(t, pub, &fakeReplier{})

	req := signedRequest(t, textEvent("m1", "U1", "t1", "x"))
	req.Body = base64.StdEncoding.EncodeToString([]byte(req.Body))
	req.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, pub.reqs, 1)
}

func TestWebhook_MalformedBody(t *testing.T) {
	h := newWebhook(t, &fakePublisher{}, &fakeReplier{})
	raw := []byte("not-json")
	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{
		Headers: map[string]string{"X-Line-Signature": sign(testSecret, raw)},
		Body:    string(raw),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhook_SecretUnavailable(t *testing.T) {
	h, err := NewWebhook(staticSecret{err: errors.New("ssm throttled")}, &fakePublisher{}, &fakeReplier{}, nil)
	require.NoError(t, err)
	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{Body: "{}"})
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestWebhook_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newWebhook(t, &fakePublisher{}, &fakeReplier{})
	req := signedRequest(t)
	req.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers[correlationHeader])
}

func TestNewWebhook_ValidatesDependencies(t *testing.T) {
	_, err := NewWebhook(nil, &fakePublisher{}, &fakeReplier{}, nil)
	require.Error(t, err)
	_, err = NewWebhook(staticSecret{}, nil, &fakeReplier{}, nil)
	require.Error(t, err)
	_, err = NewWebhook(staticSecret{}, &fakePublisher{}, nil, nil)
	require.Error(t, err)
}
