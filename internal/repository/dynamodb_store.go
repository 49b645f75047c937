package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"line-chat-bot/internal/domain"
)

// Attribute names of the history table. The table's TTL attribute is "ttl".
const (
	attrChatID  = "chat_id"
	attrHistory = "history"
	attrTTL     = "ttl"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore stores one history item per conversation in a DynamoDB table.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewDynamoStore creates a history store over the given table.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName, now: time.Now}, nil
}

// Load returns the conversation's history, or Absent when there is no item.
// DynamoDB deletes expired items lazily, so an item past its ttl is treated
// as absent too.
func (c *DynamoStore) Load(ctx context.Context, conversationKey string) (domain.HistoryLookup, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			attrChatID: &types.AttributeValueMemberS{Value: conversationKey},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Absent(), fmt.Errorf("repository: Load get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Absent(), nil
	}

	rec, err := itemToRecord(out.Item)
	if err != nil {
		return domain.Absent(), fmt.Errorf("repository: Load decode: %w", err)
	}
	if expired(rec, c.now()) {
		return domain.Absent(), nil
	}
	return domain.Present(rec), nil
}

// Save replaces the conversation's history item. Last write wins.
func (c *DynamoStore) Save(ctx context.Context, conversationKey, historyText string, expiresAt int64) error {
	if strings.TrimSpace(conversationKey) == "" {
		return errors.New("repository: Save: conversation key is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: recordItem(domain.HistoryRecord{
			ConversationKey: conversationKey,
			Text:            historyText,
			ExpiresAt:       expiresAt,
		}),
	})
	if err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	return nil
}

func expired(rec domain.HistoryRecord, now time.Time) bool {
	return rec.ExpiresAt > 0 && rec.ExpiresAt <= now.Unix()
}

// itemToRecord converts a DynamoDB attribute map to a HistoryRecord.
func itemToRecord(item map[string]types.AttributeValue) (domain.HistoryRecord, error) {
	key, err := strAttr(item, attrChatID)
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	text, err := strAttr(item, attrHistory)
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	ttl, err := int64Attr(item, attrTTL)
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	return domain.HistoryRecord{ConversationKey: key, Text: text, ExpiresAt: ttl}, nil
}

func recordItem(rec domain.HistoryRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrChatID:  &types.AttributeValueMemberS{Value: rec.ConversationKey},
		attrHistory: &types.AttributeValueMemberS{Value: rec.Text},
		attrTTL:     &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.ExpiresAt, 10)},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
