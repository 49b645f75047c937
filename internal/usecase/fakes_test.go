package usecase

import (
	"context"
	"sync"
	"time"

	"line-chat-bot/internal/domain"
)

type savedTurn struct {
	key       string
	text      string
	expiresAt int64
}

type fakeHistory struct {
	mu      sync.Mutex
	lookup  domain.HistoryLookup
	loadErr error
	saveErr error
	loads   int
	saves   []savedTurn
	// onLoad runs inside Load before it returns.
	onLoad func(ctx context.Context)
	// onSave runs inside Save before it returns.
	onSave func(ctx context.Context)
	// persist makes Save visible to later Loads.
	persist bool
}

func (f *fakeHistory) Load(ctx context.Context, key string) (domain.HistoryLookup, error) {
	if f.onLoad != nil {
		f.onLoad(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.lookup, f.loadErr
}

func (f *fakeHistory) Save(ctx context.Context, key, text string, expiresAt int64) error {
	if f.onSave != nil {
		f.onSave(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, savedTurn{key: key, text: text, expiresAt: expiresAt})
	if f.saveErr == nil && f.persist {
		f.lookup = domain.Present(domain.HistoryRecord{ConversationKey: key, Text: text, ExpiresAt: expiresAt})
	}
	return f.saveErr
}

func (f *fakeHistory) savedTurns() []savedTurn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]savedTurn(nil), f.saves...)
}

type fakeTemplates struct {
	mu     sync.Mutex
	value  string
	err    error
	names  []string
	onLoad func(ctx context.Context)
}

func (f *fakeTemplates) Load(ctx context.Context, name string) (string, error) {
	if f.onLoad != nil {
		f.onLoad(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	return f.value, f.err
}

type fakeModel struct {
	mu      sync.Mutex
	answer  string
	err     error
	prompts []string
	params  []domain.SamplingParams
	// block makes Invoke wait for ctx to end.
	block bool
}

func (f *fakeModel) Invoke(ctx context.Context, prompt string, params domain.SamplingParams) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.params = append(f.params, params)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return "", domain.NewModelError(domain.ModelTimeout, ctx.Err())
	}
	return f.answer, f.err
}

func (f *fakeModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type replyCall struct {
	token string
	text  string
}

type fakeReply struct {
	mu    sync.Mutex
	errs  []error // per attempt; attempts beyond len succeed
	calls []replyCall
	// onSend runs inside Send before it returns.
	onSend func(ctx context.Context)
}

func (f *fakeReply) Send(ctx context.Context, token, text string) error {
	if f.onSend != nil {
		f.onSend(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, replyCall{token: token, text: text})
	if n := len(f.calls); n <= len(f.errs) {
		return f.errs[n-1]
	}
	return nil
}

func (f *fakeReply) sent() []replyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]replyCall(nil), f.calls...)
}

// recordingTimer fires immediately and records every requested wait.
type recordingTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

func (t *recordingTimer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waits = append(t.waits, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Time{}
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c
}

func (t *recordingTimer) recorded() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.waits...)
}
