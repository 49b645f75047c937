package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"line-chat-bot/internal/domain"
	"line-chat-bot/internal/logging"
)

const (
	defaultRetentionSeconds = 3600
	defaultExecutionTimeout = 60 * time.Second
	tracerName              = "line-chat-bot/usecase"
)

type HistoryGateway interface {
	Load(ctx context.Context, conversationKey string) (domain.HistoryLookup, error)
	Save(ctx context.Context, conversationKey, historyText string, expiresAt int64) error
}

type TemplateGateway interface {
	Load(ctx context.Context, templateName string) (string, error)
}

type ModelGateway interface {
	Invoke(ctx context.Context, prompt string, params domain.SamplingParams) (string, error)
}

type ReplyGateway interface {
	Send(ctx context.Context, replyToken, text string) error
}

// State is one node of the conversation state machine.
type State string

const (
	StatePrepare       State = "Prepare"
	StateMergeHistory  State = "MergeHistory"
	StateFormat        State = "Format"
	StateInvokeModel   State = "InvokeModel"
	StateRespond       State = "Respond"
	StateCompleted     State = "Completed"
	StateFailedPrepare State = "FailedPrepare"
	StateFailedFormat  State = "FailedFormat"
	StateFailedInvoke  State = "FailedInvoke"
	StateTimedOut      State = "TimedOut"
)

func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailedPrepare, StateFailedFormat, StateFailedInvoke, StateTimedOut:
		return true
	}
	return false
}

// transitions lists every edge the machine may take. Any non-terminal state
// may also move to StateTimedOut.
var transitions = map[State][]State{
	StatePrepare:      {StateMergeHistory, StateFailedPrepare},
	StateMergeHistory: {StateFormat},
	StateFormat:       {StateInvokeModel, StateFailedFormat},
	StateInvokeModel:  {StateRespond, StateFailedInvoke},
	StateRespond:      {StateCompleted},
}

func allowed(from, to State) bool {
	if to == StateTimedOut && !from.Terminal() {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// HistoryBranch records which merge transition an execution took.
type HistoryBranch string

const (
	BranchExistingHistory HistoryBranch = "ExistsHistory"
	BranchFirstTurn       HistoryBranch = "NotExistsHistory"
)

// ExecutionOutcome is the terminal record of one run. Replied and Persisted
// are independent; Err is set only for failed terminal states.
type ExecutionOutcome struct {
	ExecutionID   string
	State         State
	Path          []State
	HistoryBranch HistoryBranch
	Replied       bool
	Persisted     bool
	ReplyAttempts int
	ReplyErr      error
	SaveErr       error
	Err           error
}

// Report is the JSON-friendly view of an outcome.
type Report struct {
	ExecutionID   string   `json:"executionId"`
	State         State    `json:"state"`
	Path          []State  `json:"path"`
	HistoryBranch string   `json:"historyBranch,omitempty"`
	Replied       bool     `json:"replied"`
	Persisted     bool     `json:"persisted"`
	ReplyAttempts int      `json:"replyAttempts"`
	Errors        []string `json:"errors,omitempty"`
}

func (o ExecutionOutcome) Report() Report {
	r := Report{
		ExecutionID:   o.ExecutionID,
		State:         o.State,
		Path:          o.Path,
		HistoryBranch: string(o.HistoryBranch),
		Replied:       o.Replied,
		Persisted:     o.Persisted,
		ReplyAttempts: o.ReplyAttempts,
	}
	for _, err := range []error{o.Err, o.ReplyErr, o.SaveErr} {
		if err != nil {
			r.Errors = append(r.Errors, err.Error())
		}
	}
	return r
}

type OrchestratorConfig struct {
	TemplateName     string
	RetentionSeconds int64
	Timeout          time.Duration
	Sampling         domain.SamplingParams
	ReplyPolicy      RetryPolicy
}

// Orchestrator runs one state machine execution per ChatRequest. It holds no
// per-execution state, so one instance serves concurrent executions.
type Orchestrator struct {
	history   HistoryGateway
	templates TemplateGateway
	model     ModelGateway
	reply     ReplyGateway
	cfg       OrchestratorConfig
	log       *zap.Logger
	tracer    trace.Tracer

	handlers map[State]stateHandler

	// test seams
	newID      func() string
	retryRand  func() float64
	retryTimer func() backoff.Timer
}

type stateHandler func(ctx context.Context, ex *execution) State

// execution is the data carried between states of one run.
type execution struct {
	req      domain.ChatRequest
	log      *zap.Logger
	lookup   domain.HistoryLookup
	template string
	merged   string
	prompt   string
	answer   string
	outcome  ExecutionOutcome
}

func NewOrchestrator(h HistoryGateway, t TemplateGateway, m ModelGateway, r ReplyGateway, cfg OrchestratorConfig, log *zap.Logger) (*Orchestrator, error) {
	if h == nil {
		return nil, errors.New("usecase: history gateway must not be nil")
	}
	if t == nil {
		return nil, errors.New("usecase: template gateway must not be nil")
	}
	if m == nil {
		return nil, errors.New("usecase: model gateway must not be nil")
	}
	if r == nil {
		return nil, errors.New("usecase: reply gateway must not be nil")
	}
	cfg.TemplateName = strings.TrimSpace(cfg.TemplateName)
	if cfg.TemplateName == "" {
		return nil, errors.New("usecase: template name must not be empty")
	}
	if cfg.RetentionSeconds <= 0 {
		cfg.RetentionSeconds = defaultRetentionSeconds
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultExecutionTimeout
	}
	if cfg.Sampling == (domain.SamplingParams{}) {
		cfg.Sampling = domain.DefaultSampling()
	}
	if cfg.ReplyPolicy.MaxAttempts <= 0 {
		cfg.ReplyPolicy = DefaultReplyPolicy()
	}
	if cfg.ReplyPolicy.Retryable == nil {
		cfg.ReplyPolicy.Retryable = domain.IsTransientReply
	}
	if log == nil {
		log = zap.NewNop()
	}

	o := &Orchestrator{
		history:   h,
		templates: t,
		model:     m,
		reply:     r,
		cfg:       cfg,
		log:       log,
		tracer:    otel.Tracer(tracerName),
		newID:     uuid.NewString,
	}
	o.handlers = map[State]stateHandler{
		StatePrepare:      o.prepare,
		StateMergeHistory: o.mergeHistory,
		StateFormat:       o.format,
		StateInvokeModel:  o.invokeModel,
		StateRespond:      o.respond,
	}
	return o, nil
}

// Run drives req through the state machine to a terminal state. It never
// returns an error; failures are recorded on the outcome.
func (o *Orchestrator) Run(ctx context.Context, req domain.ChatRequest) ExecutionOutcome {
	ex := &execution{req: req}
	ex.outcome.ExecutionID = o.newID()
	ex.log = o.log.With(
		zap.String("execution_id", ex.outcome.ExecutionID),
		logging.Conversation(req.ConversationKey),
		zap.String("message_id", req.MessageID),
		logging.Redacted("reply_token", req.ReplyToken),
	)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "conversation.execute",
		trace.WithAttributes(attribute.String("execution.id", ex.outcome.ExecutionID)))
	defer span.End()

	state := StatePrepare
	if err := req.Validate(); err != nil {
		ex.outcome.Err = newError(ErrorInvalidInput, "invalid_request", err)
		state = StateFailedPrepare
	}
	ex.outcome.Path = append(ex.outcome.Path, state)

	for !state.Terminal() {
		next := o.step(ctx, state, ex)
		if !allowed(state, next) {
			// Unreachable unless a handler is miswired.
			panic(fmt.Sprintf("usecase: illegal transition %s -> %s", state, next))
		}
		ex.log.Debug("transition", zap.String("from", string(state)), zap.String("to", string(next)))
		ex.outcome.Path = append(ex.outcome.Path, next)
		state = next
	}
	ex.outcome.State = state

	span.SetAttributes(
		attribute.String("execution.state", string(state)),
		attribute.Bool("execution.replied", ex.outcome.Replied),
		attribute.Bool("execution.persisted", ex.outcome.Persisted),
	)
	if ex.outcome.Err != nil {
		span.SetStatus(codes.Error, ex.outcome.Err.Error())
	}
	o.logOutcome(ex)
	return ex.outcome
}

func (o *Orchestrator) step(ctx context.Context, state State, ex *execution) State {
	if err := ctx.Err(); err != nil {
		ex.outcome.Err = newError(ErrorTimeout, "execution_timeout", err)
		return StateTimedOut
	}
	ctx, span := o.tracer.Start(ctx, string(state))
	defer span.End()
	return o.handlers[state](ctx, ex)
}

// prepare loads history and the template in parallel. Both branches finish
// before merge; the first failure cancels the other.
func (o *Orchestrator) prepare(ctx context.Context, ex *execution) State {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lookup, err := o.history.Load(gctx, ex.req.ConversationKey)
		if err != nil {
			return newError(ErrorPrepare, "history_load_error", err)
		}
		ex.lookup = lookup
		return nil
	})
	g.Go(func() error {
		tmpl, err := o.templates.Load(gctx, o.cfg.TemplateName)
		if err != nil {
			return newError(ErrorPrepare, "template_load_error", err)
		}
		ex.template = tmpl
		return nil
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			ex.outcome.Err = newError(ErrorTimeout, "execution_timeout", err)
			return StateTimedOut
		}
		ex.outcome.Err = err
		return StateFailedPrepare
	}
	return StateMergeHistory
}

func (o *Orchestrator) mergeHistory(_ context.Context, ex *execution) State {
	if rec, ok := ex.lookup.Get(); ok {
		ex.merged = rec.Text
		ex.outcome.HistoryBranch = BranchExistingHistory
	} else {
		ex.merged = ""
		ex.outcome.HistoryBranch = BranchFirstTurn
	}
	return StateFormat
}

func (o *Orchestrator) format(_ context.Context, ex *execution) State {
	if SlotCount(ex.template) < 2 {
		ex.log.Warn("prompt template has fewer than two slots", zap.Int("slots", SlotCount(ex.template)))
	}
	ex.prompt = FormatPrompt(ex.template, ex.merged, ex.req.Message)
	return StateInvokeModel
}

// invokeModel is never retried; a failure ends the execution with no reply
// and no save.
func (o *Orchestrator) invokeModel(ctx context.Context, ex *execution) State {
	answer, err := o.model.Invoke(ctx, ex.prompt, o.cfg.Sampling)
	if err != nil {
		if ctx.Err() != nil {
			ex.outcome.Err = newError(ErrorTimeout, "execution_timeout", err)
			return StateTimedOut
		}
		ex.outcome.Err = newError(ErrorInvoke, strings.ToLower(string(domain.ModelErrorKindOf(err))), err)
		return StateFailedInvoke
	}
	ex.answer = answer
	return StateRespond
}

// respond delivers the reply and saves the turn concurrently. Neither branch
// cancels the other; both outcomes are recorded.
func (o *Orchestrator) respond(ctx context.Context, ex *execution) State {
	var g errgroup.Group
	g.Go(func() error {
		o.sendReply(ctx, ex)
		return nil
	})
	g.Go(func() error {
		o.saveTurn(ctx, ex)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		ex.outcome.Err = newError(ErrorTimeout, "execution_timeout", err)
		return StateTimedOut
	}
	return StateCompleted
}

func (o *Orchestrator) sendReply(ctx context.Context, ex *execution) {
	retrier := Retrier{
		Policy: o.cfg.ReplyPolicy,
		Rand:   o.retryRand,
		Notify: func(attempt int, err error, wait time.Duration) {
			ex.log.Warn("reply attempt failed, retrying",
				zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		},
	}
	if o.retryTimer != nil {
		retrier.Timer = o.retryTimer()
	}

	attempts, err := retrier.Do(ctx, func(ctx context.Context) error {
		return o.reply.Send(ctx, ex.req.ReplyToken, ex.answer)
	})
	ex.outcome.ReplyAttempts = attempts
	if err != nil {
		reason := strings.ToLower(string(domain.ReplyErrorKindOf(err)))
		switch {
		case ctx.Err() != nil:
			reason = "execution_timeout"
		case domain.IsTransientReply(err):
			reason = "retries_exhausted"
		}
		ex.outcome.ReplyErr = newError(ErrorReply, reason, err)
		return
	}
	ex.outcome.Replied = true
}

// saveTurn appends the exchange to the history merged during this run; it
// does not re-read the store and is never retried.
func (o *Orchestrator) saveTurn(ctx context.Context, ex *execution) {
	text := FormatTurn(ex.merged, ex.req.Message, ex.answer)
	expiresAt := ex.req.TimestampSecond + o.cfg.RetentionSeconds
	if err := o.history.Save(ctx, ex.req.ConversationKey, text, expiresAt); err != nil {
		ex.outcome.SaveErr = newError(ErrorSave, "history_save_error", err)
		return
	}
	ex.outcome.Persisted = true
}

func (o *Orchestrator) logOutcome(ex *execution) {
	out := ex.outcome
	fields := []zap.Field{
		zap.String("state", string(out.State)),
		zap.String("history_branch", string(out.HistoryBranch)),
		zap.Bool("replied", out.Replied),
		zap.Bool("persisted", out.Persisted),
		zap.Int("reply_attempts", out.ReplyAttempts),
	}
	if out.ReplyErr != nil {
		ex.log.Error("reply not delivered", zap.Error(out.ReplyErr))
	}
	if out.SaveErr != nil {
		ex.log.Error("turn not persisted", zap.Error(out.SaveErr))
	}
	if out.Err != nil {
		ex.log.Error("execution failed", append(fields, zap.Error(out.Err))...)
		return
	}
	ex.log.Info("execution completed", fields...)
}
