package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"line-chat-bot/handler"
	"line-chat-bot/internal/bootstrap"
	"line-chat-bot/internal/config"
	"line-chat-bot/internal/integrations/paramstore"
	"line-chat-bot/internal/logging"
	"line-chat-bot/internal/telemetry"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.ValidateOrchestrator(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	shutdown, err := telemetry.Init(ctx, log, cfg.Tracing, "line-chat-bot-orchestrator")
	if err != nil {
		log.Fatal("failed to init tracing", zap.Error(err))
	}
	defer func() { _ = shutdown(ctx) }()

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal("failed to load AWS config", zap.Error(err))
	}

	// ---- Clients ----
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		log.Fatal("failed to create SSM client", zap.Error(err))
	}
	orch, closer, err := bootstrap.NewOrchestrator(ctx, cfg, awsCfg, params, bootstrap.Deps{}, log)
	if err != nil {
		log.Fatal("failed to create orchestrator", zap.Error(err))
	}
	defer func() { _ = closer.Close() }()

	// ---- Handler ----
	h, err := handler.NewConsumer(orch, cfg.RedeliverOnFailure, log)
	if err != nil {
		log.Fatal("failed to create consumer", zap.Error(err))
	}

	lambda.Start(h.Handle)
}
