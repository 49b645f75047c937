package usecase

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"

	"line-chat-bot/internal/domain"
)

type JitterStrategy string

const (
	JitterNone JitterStrategy = "NONE"
	// JitterFull draws each wait uniformly from [0, computed interval].
	JitterFull JitterStrategy = "FULL"
)

// RetryPolicy describes how a failing call is retried. MaxAttempts counts the
// first call, so 3 means at most two retries.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Jitter      JitterStrategy
	Retryable   func(error) bool
}

// DefaultReplyPolicy retries transient reply failures: 3 attempts, 1s base
// interval doubling each retry, full jitter.
func DefaultReplyPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		Jitter:      JitterFull,
		Retryable:   domain.IsTransientReply,
	}
}

// Ceiling is the un-jittered interval waited before retry n (n >= 1):
// BaseDelay * Multiplier^(n-1).
func (p RetryPolicy) Ceiling(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n-1)))
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable == nil {
		return false
	}
	return p.Retryable(err)
}

// policyBackOff adapts a RetryPolicy to backoff.BackOff. Its state lives for
// one Do call only.
type policyBackOff struct {
	policy  RetryPolicy
	retries int
	rand    func() float64
}

func (b *policyBackOff) NextBackOff() time.Duration {
	if b.retries+1 >= b.policy.MaxAttempts {
		return backoff.Stop
	}
	b.retries++
	ceiling := b.policy.Ceiling(b.retries)
	if b.policy.Jitter == JitterFull {
		return time.Duration(b.rand() * float64(ceiling))
	}
	return ceiling
}

func (b *policyBackOff) Reset() {
	b.retries = 0
}

// Retrier executes operations under a RetryPolicy.
type Retrier struct {
	Policy RetryPolicy
	// Rand returns values in [0, 1); defaults to math/rand/v2.
	Rand func() float64
	// Timer overrides the wait clock; nil uses real timers.
	Timer backoff.Timer
	// Notify is called before each wait with the attempt that just failed.
	Notify func(attempt int, err error, wait time.Duration)
}

// Do runs op until it succeeds, fails with a non-retryable error, exhausts
// MaxAttempts, or ctx ends. It returns the number of attempts made.
func (r Retrier) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	rnd := r.Rand
	if rnd == nil {
		rnd = rand.Float64
	}

	attempts := 0
	operation := func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !r.Policy.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if r.Notify != nil {
			r.Notify(attempts, err, wait)
		}
	}

	b := backoff.WithContext(&policyBackOff{policy: r.Policy, rand: rnd}, ctx)
	err := backoff.RetryNotifyWithTimer(operation, b, notify, r.Timer)
	return attempts, err
}
