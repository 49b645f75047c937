// Package bootstrap builds gateways from configuration for the cmd binaries.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"line-chat-bot/internal/config"
	"line-chat-bot/internal/domain"
	"line-chat-bot/internal/integrations/bedrock"
	"line-chat-bot/internal/integrations/gemini"
	"line-chat-bot/internal/integrations/line"
	"line-chat-bot/internal/integrations/openai"
	"line-chat-bot/internal/integrations/paramstore"
	"line-chat-bot/internal/repository"
	"line-chat-bot/internal/usecase"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewHistoryStore returns the configured history backend and a closer for
// any connection it holds.
func NewHistoryStore(cfg config.HistoryConfig, awsCfg aws.Config) (usecase.HistoryGateway, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendDynamoDB:
		store, err := repository.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.Table)
		if err != nil {
			return nil, nil, err
		}
		return store, nopCloser{}, nil
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store, err := repository.NewRedisStore(rdb, cfg.RedisKeyPrefix)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return store, rdb, nil
	case config.BackendSQLite:
		store, err := repository.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown history backend %q", cfg.Backend)
	}
}

// NewModelGateway returns the configured model provider, bounded by the
// per-call model timeout.
func NewModelGateway(ctx context.Context, cfg config.Config, awsCfg aws.Config, params paramstore.Getter) (usecase.ModelGateway, error) {
	var (
		gw  usecase.ModelGateway
		err error
	)
	switch cfg.Model.Provider {
	case config.ProviderBedrock:
		gw, err = bedrock.New(bedrockruntime.NewFromConfig(awsCfg), cfg.Model.ModelID)
	case config.ProviderOpenAI:
		opts := []openai.Option{openai.WithBaseURL(cfg.Model.OpenAIBaseURL)}
		if cfg.Model.OpenAIAPIKey != "" {
			opts = append(opts, openai.WithAPIKey(cfg.Model.OpenAIAPIKey))
		} else {
			opts = append(opts, openai.WithParamStore(params, cfg.ParamPrefix))
		}
		gw, err = openai.NewClient(cfg.Model.ModelID, opts...)
	case config.ProviderGemini:
		gw, err = gemini.NewClient(ctx, cfg.Model.GeminiAPIKey, cfg.Model.ModelID)
	default:
		return nil, fmt.Errorf("bootstrap: unknown model provider %q", cfg.Model.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithModelTimeout(gw, cfg.Model.Timeout), nil
}

type timeoutModel struct {
	next    usecase.ModelGateway
	timeout time.Duration
}

// WithModelTimeout bounds every Invoke call by d. d <= 0 disables the bound.
func WithModelTimeout(next usecase.ModelGateway, d time.Duration) usecase.ModelGateway {
	if d <= 0 {
		return next
	}
	return timeoutModel{next: next, timeout: d}
}

func (m timeoutModel) Invoke(ctx context.Context, prompt string, params domain.SamplingParams) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.next.Invoke(ctx, prompt, params)
}

// Deps overrides pieces of the orchestrator wiring.
type Deps struct {
	Templates usecase.TemplateGateway
	Reply     usecase.ReplyGateway
}

// NewOrchestrator wires a full orchestrator. The returned closer releases the
// history store.
func NewOrchestrator(ctx context.Context, cfg config.Config, awsCfg aws.Config, params paramstore.Getter, deps Deps, log *zap.Logger) (*usecase.Orchestrator, io.Closer, error) {
	history, closer, err := NewHistoryStore(cfg.History, awsCfg)
	if err != nil {
		return nil, nil, err
	}
	fail := func(err error) (*usecase.Orchestrator, io.Closer, error) {
		_ = closer.Close()
		return nil, nil, err
	}

	model, err := NewModelGateway(ctx, cfg, awsCfg, params)
	if err != nil {
		return fail(err)
	}

	templates := deps.Templates
	if templates == nil {
		if templates, err = paramstore.NewTemplateLoader(params); err != nil {
			return fail(err)
		}
	}

	reply := deps.Reply
	if reply == nil {
		if reply, err = line.NewClient(params, cfg.ChannelAccessTokenParam(), line.WithBaseURL(cfg.Reply.BaseURL)); err != nil {
			return fail(err)
		}
	}

	policy := usecase.DefaultReplyPolicy()
	policy.MaxAttempts = cfg.Reply.MaxAttempts
	policy.BaseDelay = cfg.Reply.BaseDelay
	policy.Multiplier = cfg.Reply.Multiplier

	orch, err := usecase.NewOrchestrator(history, templates, model, reply, usecase.OrchestratorConfig{
		TemplateName:     cfg.PromptTemplateParam,
		RetentionSeconds: cfg.History.RetentionSeconds,
		Timeout:          cfg.ExecutionTimeout,
		Sampling:         domain.DefaultSampling(),
		ReplyPolicy:      policy,
	}, log)
	if err != nil {
		return fail(err)
	}
	return orch, closer, nil
}
