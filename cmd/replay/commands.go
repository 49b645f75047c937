package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"line-chat-bot/internal/bootstrap"
	"line-chat-bot/internal/config"
	"line-chat-bot/internal/domain"
	"line-chat-bot/internal/integrations/paramstore"
	"line-chat-bot/internal/logging"
	"line-chat-bot/internal/telemetry"
)

type app struct {
	out     io.Writer
	envFile string

	cfg    config.Config
	log    *zap.Logger
	awsCfg aws.Config
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:           "replay",
		Short:         "Run conversation turns locally",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(a.runCmd(), a.historyCmd(), a.purgeCmd())
	return root
}

func (a *app) setup(ctx context.Context) error {
	if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", a.envFile, err)
	}
	if os.Getenv("HISTORY_BACKEND") == "" {
		_ = os.Setenv("HISTORY_BACKEND", string(config.BackendSQLite))
	}
	if os.Getenv("LOG_MODE") == "" {
		_ = os.Setenv("LOG_MODE", "dev")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return err
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}
	a.cfg, a.log, a.awsCfg = cfg, log, awsCfg
	return nil
}

func (a *app) runCmd() *cobra.Command {
	var (
		file         string
		templateFile string
		dryReply     bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one orchestrator run for a request file and print the outcome",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.cfg.ValidateOrchestrator(); err != nil {
				return err
			}
			req, err := readRequest(file, time.Now())
			if err != nil {
				return err
			}

			shutdown, err := telemetry.Init(ctx, a.log, a.cfg.Tracing, "line-chat-bot-replay")
			if err != nil {
				return err
			}
			defer func() { _ = shutdown(ctx) }()

			params, err := paramstore.New(awsssm.NewFromConfig(a.awsCfg))
			if err != nil {
				return err
			}
			var deps bootstrap.Deps
			if templateFile != "" {
				raw, err := os.ReadFile(templateFile)
				if err != nil {
					return fmt.Errorf("read template: %w", err)
				}
				deps.Templates = paramstore.StaticTemplates{a.cfg.PromptTemplateParam: string(raw)}
			}
			if dryReply {
				deps.Reply = printReplier{out: cmd.ErrOrStderr()}
			}

			orch, closer, err := bootstrap.NewOrchestrator(ctx, a.cfg, a.awsCfg, params, deps, a.log)
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			return writeJSON(a.out, orch.Run(ctx, req).Report())
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "chat request JSON file")
	cmd.Flags().StringVar(&templateFile, "template-file", "", "prompt template file used instead of the parameter store")
	cmd.Flags().BoolVar(&dryReply, "dry-reply", false, "print the reply instead of calling LINE")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	var key, userID, groupID string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the stored history record of a conversation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if key == "" {
				if userID == "" && groupID == "" {
					return errors.New("one of --key, --user or --group is required")
				}
				key = domain.ConversationKey(userID, groupID)
			}
			store, closer, err := bootstrap.NewHistoryStore(a.cfg.History, a.awsCfg)
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			lookup, err := store.Load(cmd.Context(), key)
			if err != nil {
				return err
			}
			rec, ok := lookup.Get()
			return writeJSON(a.out, historyView{
				ConversationKey: key,
				Present:         ok,
				History:         rec.Text,
				ExpiresAt:       rec.ExpiresAt,
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "conversation key")
	cmd.Flags().StringVar(&userID, "user", "", "derive the key from a LINE user id")
	cmd.Flags().StringVar(&groupID, "group", "", "derive the key from a LINE group id")
	return cmd
}

// expiryPurger is implemented by history stores without native TTL expiry.
type expiryPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

func (a *app) purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired history records from a local store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closer, err := bootstrap.NewHistoryStore(a.cfg.History, a.awsCfg)
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			purger, ok := store.(expiryPurger)
			if !ok {
				return fmt.Errorf("history backend %q expires records itself", a.cfg.History.Backend)
			}
			n, err := purger.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			a.log.Info("purged expired history", zap.Int64("removed", n))
			return writeJSON(a.out, purgeView{Removed: n})
		},
	}
}

type purgeView struct {
	Removed int64 `json:"removed"`
}

type historyView struct {
	ConversationKey string `json:"chatId"`
	Present         bool   `json:"present"`
	History         string `json:"history,omitempty"`
	ExpiresAt       int64  `json:"ttl,omitempty"`
}

// readRequest loads a ChatRequest and fills what a hand-written file
// usually leaves out.
func readRequest(path string, now time.Time) (domain.ChatRequest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.ChatRequest{}, fmt.Errorf("read request: %w", err)
	}
	var req domain.ChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return domain.ChatRequest{}, fmt.Errorf("decode request: %w", err)
	}
	if req.ConversationKey == "" && (req.UserID != "" || req.GroupID != "") {
		req.ConversationKey = domain.ConversationKey(req.UserID, req.GroupID)
	}
	if req.Timestamp == 0 {
		req.Timestamp = now.UnixMilli()
	}
	if req.TimestampSecond == 0 {
		req.TimestampSecond = domain.EpochSeconds(req.Timestamp)
	}
	if req.Mode == "" {
		req.Mode = domain.ModeChat
	}
	return req, nil
}

// printReplier writes replies to a stream instead of LINE.
type printReplier struct {
	out io.Writer
}

func (p printReplier) Send(_ context.Context, replyToken, text string) error {
	_, err := fmt.Fprintf(p.out, "reply[%s]: %s\n", replyToken, strings.TrimSpace(text))
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
