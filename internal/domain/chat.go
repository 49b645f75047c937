package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ModeChat is the only message-handling mode currently produced by ingress.
const ModeChat = "chat"

// ChatRequest is one queued unit of work. The JSON shape is the queue wire
// format shared by the webhook ingress and the orchestrator consumer.
type ChatRequest struct {
	MessageID       string `json:"messageId"`
	ConversationKey string `json:"chatId"`
	UserID          string `json:"userId"`
	GroupID         string `json:"groupId"`
	ReplyToken      string `json:"replyToken"`
	TimestampSecond int64  `json:"timestampSecond"`
	Timestamp       int64  `json:"timestamp"`
	Message         string `json:"message"`
	Mode            string `json:"mode"`
}

// ConversationKey derives the non-reversible thread key: the group when the
// message came from a group, the sender otherwise.
func ConversationKey(userID, groupID string) string {
	source := groupID
	if source == "" {
		source = userID
	}
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// EpochSeconds rounds a millisecond timestamp to the nearest second.
func EpochSeconds(ms int64) int64 {
	return (ms + 500) / 1000
}

// Validate reports whether the request carries what the orchestrator needs.
func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.ConversationKey) == "" {
		return errors.New("domain: chat request missing conversation key")
	}
	if strings.TrimSpace(r.ReplyToken) == "" {
		return errors.New("domain: chat request missing reply token")
	}
	if r.Mode != "" && r.Mode != ModeChat {
		return errors.New("domain: unsupported chat request mode " + r.Mode)
	}
	if r.TimestampSecond <= 0 {
		return errors.New("domain: chat request missing timestamp")
	}
	return nil
}
