package line

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"line-chat-bot/internal/domain"
)

// SignatureHeader carries base64(HMAC-SHA256(channelSecret, body)).
const SignatureHeader = "X-Line-Signature"

// ApologyText is sent when a message could not be queued.
const ApologyText = "Sorry, cannot accept your message. Please retry."

// ErrInvalidSignature reports a webhook body that does not match its
// signature header.
var ErrInvalidSignature = webhook.ErrInvalidSignature

// ParseCallback verifies body against signature and decodes the LINE
// callback it carries.
func ParseCallback(channelSecret string, body []byte, signature string) (*webhook.CallbackRequest, error) {
	if channelSecret == "" || signature == "" {
		return nil, ErrInvalidSignature
	}
	r, err := http.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("line: build callback request: %w", err)
	}
	r.Header.Set(SignatureHeader, signature)

	cb, err := webhook.ParseRequest(channelSecret, r)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			return nil, ErrInvalidSignature
		}
		return nil, fmt.Errorf("line: parse callback: %w", err)
	}
	return cb, nil
}

// ChatRequest converts a text message event to a queued request. Other
// events report false.
func ChatRequest(ev webhook.EventInterface) (domain.ChatRequest, bool) {
	msg, ok := ev.(webhook.MessageEvent)
	if !ok {
		return domain.ChatRequest{}, false
	}
	text, ok := msg.Message.(webhook.TextMessageContent)
	if !ok {
		return domain.ChatRequest{}, false
	}
	userID, groupID := sourceIDs(msg.Source)
	return domain.ChatRequest{
		MessageID:       text.Id,
		ConversationKey: domain.ConversationKey(userID, groupID),
		UserID:          userID,
		GroupID:         groupID,
		ReplyToken:      msg.ReplyToken,
		TimestampSecond: domain.EpochSeconds(msg.Timestamp),
		Timestamp:       msg.Timestamp,
		Message:         text.Text,
		Mode:            domain.ModeChat,
	}, true
}

// sourceIDs returns the sender and, for group chats only, the group.
func sourceIDs(src webhook.SourceInterface) (userID, groupID string) {
	switch s := src.(type) {
	case webhook.UserSource:
		return s.UserId, ""
	case webhook.GroupSource:
		return s.UserId, s.GroupId
	case webhook.RoomSource:
		return s.UserId, ""
	}
	return "", ""
}
