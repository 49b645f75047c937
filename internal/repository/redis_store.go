package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"line-chat-bot/internal/domain"
)

type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetArgs(ctx context.Context, key string, value interface{}, a redis.SetArgs) *redis.StatusCmd
}

// redisValue is the JSON document stored under each conversation key.
type redisValue struct {
	History   string `json:"history"`
	ExpiresAt int64  `json:"ttl"`
}

// RedisStore keeps one JSON value per conversation and lets Redis expire it
// at the record's expiry.
type RedisStore struct {
	rdb    redisAPI
	prefix string
}

func NewRedisStore(rdb redisAPI, keyPrefix string) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("repository: redis client must not be nil")
	}
	return &RedisStore{rdb: rdb, prefix: keyPrefix}, nil
}

func (s *RedisStore) key(conversationKey string) string {
	return s.prefix + conversationKey
}

func (s *RedisStore) Load(ctx context.Context, conversationKey string) (domain.HistoryLookup, error) {
	raw, err := s.rdb.Get(ctx, s.key(conversationKey)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Absent(), nil
	}
	if err != nil {
		return domain.Absent(), fmt.Errorf("repository: redis Load: %w", err)
	}

	var v redisValue
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return domain.Absent(), fmt.Errorf("repository: redis Load decode: %w", err)
	}
	return domain.Present(domain.HistoryRecord{
		ConversationKey: conversationKey,
		Text:            v.History,
		ExpiresAt:       v.ExpiresAt,
	}), nil
}

func (s *RedisStore) Save(ctx context.Context, conversationKey, historyText string, expiresAt int64) error {
	if strings.TrimSpace(conversationKey) == "" {
		return errors.New("repository: redis Save: conversation key is required")
	}
	body, err := json.Marshal(redisValue{History: historyText, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("repository: redis Save encode: %w", err)
	}

	args := redis.SetArgs{}
	if expiresAt > 0 {
		args.ExpireAt = time.Unix(expiresAt, 0)
	}
	if err := s.rdb.SetArgs(ctx, s.key(conversationKey), body, args).Err(); err != nil {
		return fmt.Errorf("repository: redis Save: %w", err)
	}
	return nil
}
