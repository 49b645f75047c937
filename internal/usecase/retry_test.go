package usecase

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"line-chat-bot/internal/domain"
)

var errTransient = domain.NewReplyError(domain.ReplyTransient, errors.New("503"))

func TestRetryPolicy_Ceiling(t *testing.T) {
	p := DefaultReplyPolicy()
	require.Equal(t, time.Second, p.Ceiling(1))
	require.Equal(t, 2*time.Second, p.Ceiling(2))
	require.Equal(t, 4*time.Second, p.Ceiling(3))
	require.Equal(t, time.Second, p.Ceiling(0))
}

func TestPolicyBackOff_FullJitterStaysUnderCeiling(t *testing.T) {
	src := rand.New(rand.NewPCG(1, 2))
	p := DefaultReplyPolicy()
	p.MaxAttempts = 6

	var sums [5]time.Duration
	const runs = 2000
	for i := 0; i < runs; i++ {
		b := &policyBackOff{policy: p, rand: src.Float64}
		for n := 1; n < p.MaxAttempts; n++ {
			wait := b.NextBackOff()
			require.GreaterOrEqual(t, wait, time.Duration(0))
			require.LessOrEqual(t, wait, time.Second<<(n-1))
			sums[n-1] += wait
		}
		require.Equal(t, backoff.Stop, b.NextBackOff())
	}
	for n := 1; n < len(sums); n++ {
		require.Greater(t, sums[n], sums[n-1], "mean wait must grow with each retry")
	}
}

func TestPolicyBackOff_NoJitterAndReset(t *testing.T) {
	p := DefaultReplyPolicy()
	p.Jitter = JitterNone
	b := &policyBackOff{policy: p}

	require.Equal(t, time.Second, b.NextBackOff())
	require.Equal(t, 2*time.Second, b.NextBackOff())
	require.Equal(t, backoff.Stop, b.NextBackOff())

	b.Reset()
	require.Equal(t, time.Second, b.NextBackOff())
}

func TestPolicyBackOff_SingleAttemptNeverWaits(t *testing.T) {
	p := DefaultReplyPolicy()
	p.MaxAttempts = 1
	b := &policyBackOff{policy: p}
	require.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestRetrier_SucceedsAfterTransientFailures(t *testing.T) {
	timer := &recordingTimer{}
	calls := 0
	var notified []int
	r := Retrier{
		Policy: DefaultReplyPolicy(),
		Rand:   func() float64 { return 1 },
		Timer:  timer,
		Notify: func(attempt int, _ error, _ time.Duration) { notified = append(notified, attempt) },
	}

	attempts, err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, timer.recorded())
	require.Equal(t, []int{1, 2}, notified)
}

func TestRetrier_StopsOnNonRetryable(t *testing.T) {
	expired := domain.NewReplyError(domain.ReplyTokenExpired, nil)
	r := Retrier{Policy: DefaultReplyPolicy(), Timer: &recordingTimer{}}

	attempts, err := r.Do(context.Background(), func(context.Context) error { return expired })

	require.Equal(t, 1, attempts)
	require.ErrorIs(t, err, expired)
}

func TestRetrier_ReturnsLastErrorWhenExhausted(t *testing.T) {
	r := Retrier{Policy: DefaultReplyPolicy(), Timer: &recordingTimer{}}

	attempts, err := r.Do(context.Background(), func(context.Context) error { return errTransient })

	require.Equal(t, 3, attempts)
	require.ErrorIs(t, err, errTransient)
}

func TestRetrier_NilPredicateNeverRetries(t *testing.T) {
	p := DefaultReplyPolicy()
	p.Retryable = nil
	r := Retrier{Policy: p, Timer: &recordingTimer{}}

	attempts, err := r.Do(context.Background(), func(context.Context) error { return errTransient })
	require.Equal(t, 1, attempts)
	require.Error(t, err)
}

func TestRetrier_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := Retrier{Policy: DefaultReplyPolicy(), Timer: &recordingTimer{}}

	attempts, err := r.Do(ctx, func(context.Context) error {
		cancel()
		return errTransient
	})

	require.Equal(t, 1, attempts)
	require.Error(t, err)
}

func TestRetrier_RealTimer(t *testing.T) {
	p := DefaultReplyPolicy()
	p.BaseDelay = time.Millisecond
	calls := 0
	attempts, err := Retrier{Policy: p}.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}
