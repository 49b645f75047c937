package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	values   map[string]string
	getErr   error
	setErr   error
	lastKey  string
	lastArgs redis.SetArgs
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) SetArgs(_ context.Context, key string, value interface{}, a redis.SetArgs) *redis.StatusCmd {
	f.lastKey = key
	f.lastArgs = a
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func TestRedisStore_RoundTrip(t *testing.T) {
	rdb := newFakeRedis()
	s, err := NewRedisStore(rdb, "history:")
	require.NoError(t, err)

	require.NoError(t, s.Save(context.Background(), "abc", "\n\nHuman: a\n\nAssistant: b", 4600))
	require.Equal(t, "history:abc", rdb.lastKey)
	require.True(t, rdb.lastArgs.ExpireAt.Equal(time.Unix(4600, 0)))

	got, err := s.Load(context.Background(), "abc")
	require.NoError(t, err)
	rec, ok := got.Get()
	require.True(t, ok)
	require.Equal(t, "abc", rec.ConversationKey)
	require.Equal(t, "\n\nHuman: a\n\nAssistant: b", rec.Text)
	require.Equal(t, int64(4600), rec.ExpiresAt)
}

func TestRedisStore_MissingKeyIsAbsent(t *testing.T) {
	s, err := NewRedisStore(newFakeRedis(), "history:")
	require.NoError(t, err)

	got, err := s.Load(context.Background(), "nobody")
	require.NoError(t, err)
	require.False(t, got.IsPresent())
}

func TestRedisStore_EmptyTextIsPresent(t *testing.T) {
	s, err := NewRedisStore(newFakeRedis(), "")
	require.NoError(t, err)

	require.NoError(t, s.Save(context.Background(), "abc", "", 4600))
	got, err := s.Load(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, got.IsPresent())
}

func TestRedisStore_NoExpiryWhenZero(t *testing.T) {
	rdb := newFakeRedis()
	s, err := NewRedisStore(rdb, "")
	require.NoError(t, err)

	require.NoError(t, s.Save(context.Background(), "abc", "x", 0))
	require.True(t, rdb.lastArgs.ExpireAt.IsZero())
}

func TestRedisStore_Errors(t *testing.T) {
	rdb := newFakeRedis()
	rdb.getErr = errors.New("connection refused")
	rdb.setErr = errors.New("READONLY")
	s, err := NewRedisStore(rdb, "")
	require.NoError(t, err)

	_, err = s.Load(context.Background(), "abc")
	require.ErrorContains(t, err, "redis Load")

	err = s.Save(context.Background(), "abc", "x", 1)
	require.ErrorContains(t, err, "redis Save")
}

func TestRedisStore_CorruptValue(t *testing.T) {
	rdb := newFakeRedis()
	rdb.values["abc"] = "not json"
	s, err := NewRedisStore(rdb, "")
	require.NoError(t, err)

	_, err = s.Load(context.Background(), "abc")
	require.ErrorContains(t, err, "decode")
}

func TestNewRedisStore_NilClient(t *testing.T) {
	_, err := NewRedisStore(nil, "")
	require.Error(t, err)
}
