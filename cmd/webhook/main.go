package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"line-chat-bot/handler"
	"line-chat-bot/internal/config"
	"line-chat-bot/internal/integrations/line"
	"line-chat-bot/internal/integrations/paramstore"
	"line-chat-bot/internal/integrations/queue"
	"line-chat-bot/internal/logging"
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

	if err := cfg.ValidateWebhook(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

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
	secret, err := line.NewCachedParam(params, cfg.ChannelSecretParam())
	if err != nil {
		log.Fatal("failed to create channel secret source", zap.Error(err))
	}
	replier, err := line.NewClient(params, cfg.ChannelAccessTokenParam(), line.WithBaseURL(cfg.Reply.BaseURL))
	if err != nil {
		log.Fatal("failed to create LINE client", zap.Error(err))
	}
	publisher, err := queue.NewPublisher(awssqs.NewFromConfig(awsCfg), cfg.QueueURL)
	if err != nil {
		log.Fatal("failed to create queue publisher", zap.Error(err))
	}

	// ---- Handler ----
	h, err := handler.NewWebhook(secret, publisher, replier, log)
	if err != nil {
		log.Fatal("failed to create webhook handler", zap.Error(err))
	}

	lambda.Start(h.Handle)
}
