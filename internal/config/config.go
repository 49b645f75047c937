package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

type HistoryBackend string

const (
	BackendDynamoDB HistoryBackend = "dynamodb"
	BackendRedis    HistoryBackend = "redis"
	BackendSQLite   HistoryBackend = "sqlite"
)

type ModelProvider string

const (
	ProviderBedrock ModelProvider = "bedrock"
	ProviderOpenAI  ModelProvider = "openai"
	ProviderGemini  ModelProvider = "gemini"
)

type HistoryConfig struct {
	Backend          HistoryBackend `env:"HISTORY_BACKEND" envDefault:"dynamodb"`
	Table            string         `env:"HISTORY_TABLE"`
	RedisAddr        string         `env:"REDIS_ADDR"`
	RedisKeyPrefix   string         `env:"REDIS_KEY_PREFIX" envDefault:"history:"`
	SQLitePath       string         `env:"SQLITE_PATH" envDefault:"history.db"`
	RetentionSeconds int64          `env:"RETENTION_SECONDS" envDefault:"3600"`
}

type ModelConfig struct {
	Provider      ModelProvider `env:"MODEL_PROVIDER" envDefault:"bedrock"`
	ModelID       string        `env:"MODEL_ID" envDefault:"anthropic.claude-v2:1"`
	OpenAIAPIKey  string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string        `env:"OPENAI_BASE_URL"`
	GeminiAPIKey  string        `env:"GEMINI_API_KEY"`
	Timeout       time.Duration `env:"MODEL_TIMEOUT" envDefault:"45s"`
}

type ReplyConfig struct {
	MaxAttempts int           `env:"REPLY_MAX_ATTEMPTS" envDefault:"3"`
	BaseDelay   time.Duration `env:"REPLY_BASE_DELAY" envDefault:"1s"`
	Multiplier  float64       `env:"REPLY_MULTIPLIER" envDefault:"2"`
	BaseURL     string        `env:"LINE_API_BASE_URL" envDefault:"https://api.line.me"`
}

type LogConfig struct {
	Mode  string `env:"LOG_MODE" envDefault:"prod"`
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

// Config is read once per process, in main.
type Config struct {
	ParamPrefix         string        `env:"PARAM_PREFIX" envDefault:"/line-bot-with-amazon-bedrock"`
	PromptTemplateParam string        `env:"PROMPT_TEMPLATE_PARAM"`
	ExecutionTimeout    time.Duration `env:"EXECUTION_TIMEOUT" envDefault:"60s"`
	QueueURL            string        `env:"QUEUE_URL"`
	RedeliverOnFailure  bool          `env:"CONSUMER_REDELIVER_ON_FAILURE" envDefault:"false"`
	Tracing             string        `env:"TRACING" envDefault:"off"`

	History HistoryConfig
	Model   ModelConfig
	Reply   ReplyConfig
	Log     LogConfig
}

// Load parses the environment and fills derived defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	if cfg.ParamPrefix == "" {
		return Config{}, errors.New("config: PARAM_PREFIX must not be empty")
	}
	if strings.TrimSpace(cfg.PromptTemplateParam) == "" {
		cfg.PromptTemplateParam = cfg.ParamPrefix + "/prompt-template"
	}
	return cfg, nil
}

func (c Config) ChannelAccessTokenParam() string {
	return c.ParamPrefix + "/line_channel_access_token"
}

func (c Config) ChannelSecretParam() string {
	return c.ParamPrefix + "/line_channel_secret"
}

// ValidateOrchestrator checks what the queue consumer and replay CLI need.
func (c Config) ValidateOrchestrator() error {
	switch c.History.Backend {
	case BackendDynamoDB:
		if strings.TrimSpace(c.History.Table) == "" {
			return errors.New("config: HISTORY_TABLE is required for the dynamodb backend")
		}
	case BackendRedis:
		if strings.TrimSpace(c.History.RedisAddr) == "" {
			return errors.New("config: REDIS_ADDR is required for the redis backend")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.History.SQLitePath) == "" {
			return errors.New("config: SQLITE_PATH is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("config: unknown history backend %q", c.History.Backend)
	}

	switch c.Model.Provider {
	case ProviderBedrock:
	case ProviderOpenAI:
		// Without OPENAI_API_KEY the key is read from <prefix>/open-ai-token.
	case ProviderGemini:
		if strings.TrimSpace(c.Model.GeminiAPIKey) == "" {
			return errors.New("config: GEMINI_API_KEY is required for the gemini provider")
		}
	default:
		return fmt.Errorf("config: unknown model provider %q", c.Model.Provider)
	}
	if strings.TrimSpace(c.Model.ModelID) == "" {
		return errors.New("config: MODEL_ID must not be empty")
	}
	if c.Model.Timeout <= 0 {
		return errors.New("config: MODEL_TIMEOUT must be positive")
	}

	if c.History.RetentionSeconds <= 0 {
		return errors.New("config: RETENTION_SECONDS must be positive")
	}
	if c.ExecutionTimeout <= 0 {
		return errors.New("config: EXECUTION_TIMEOUT must be positive")
	}
	if c.Reply.MaxAttempts < 1 {
		return errors.New("config: REPLY_MAX_ATTEMPTS must be at least 1")
	}
	if c.Reply.Multiplier < 1 {
		return errors.New("config: REPLY_MULTIPLIER must be at least 1")
	}
	return nil
}

// ValidateWebhook checks what the ingress Lambda needs.
func (c Config) ValidateWebhook() error {
	if strings.TrimSpace(c.QueueURL) == "" {
		return errors.New("config: QUEUE_URL is required")
	}
	return nil
}
