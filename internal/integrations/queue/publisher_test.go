package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"line-chat-bot/internal/domain"
)

type fakeSQS struct {
	err    error
	lastIn *sqs.SendMessageInput
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.lastIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("msg-1")}, nil
}

func sampleRequest() domain.ChatRequest {
	return domain.ChatRequest{
		MessageID:       "m1",
		ConversationKey: domain.ConversationKey("U1", ""),
		UserID:          "U1",
		ReplyToken:      "tok",
		TimestampSecond: 1700000000,
		Timestamp:       1700000000123,
		Message:         "hello",
		Mode:            domain.ModeChat,
	}
}

func TestPublish_SendsWireFormat(t *testing.T) {
	api := &fakeSQS{}
	p, err := NewPublisher(api, "https://sqs.local/queue")
	require.NoError(t, err)

	id, err := p.Publish(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Equal(t, "msg-1", id)
	require.Equal(t, "https://sqs.local/queue", *api.lastIn.QueueUrl)
	require.Contains(t, *api.lastIn.MessageBody, `"chatId":"`)
	require.Contains(t, *api.lastIn.MessageBody, `"timestampSecond":1700000000`)

	decoded, err := Decode(*api.lastIn.MessageBody)
	require.NoError(t, err)
	if diff := cmp.Diff(sampleRequest(), decoded); diff != "" {
		t.Fatalf("decoded request mismatch (-want +got):\n%s", diff)
	}
}

func TestPublish_Error(t *testing.T) {
	p, err := NewPublisher(&fakeSQS{err: errors.New("AccessDenied")}, "q")
	require.NoError(t, err)
	_, err = p.Publish(context.Background(), sampleRequest())
	require.ErrorContains(t, err, "Publish")
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode("{not json")
	require.Error(t, err)
}

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(nil, "q")
	require.Error(t, err)
	_, err = NewPublisher(&fakeSQS{}, " ")
	require.Error(t, err)
}
