package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"linebot-bridge/handler"
	"linebot-bridge/internal/config"
	"linebot-bridge/internal/integrations/line"
	"linebot-bridge/internal/integrations/llm"
	"linebot-bridge/internal/integrations/paramstore"
	"linebot-bridge/internal/repository"
	"linebot-bridge/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		logger.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}

	var store usecase.HistoryStore
	if cfg.HistoryEnabled {
		historyClient, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.TableName, cfg.TTLAttrName, cfg.Retention)
		if err != nil {
			logger.Error("failed to create history client", "err", err)
			os.Exit(1)
		}
		store = historyClient
	}

	model, err := newModel(ctx, cfg, awsCfg, ssmClient)
	if err != nil {
		logger.Error("failed to create model client", "provider", cfg.ModelProvider, "err", err)
		os.Exit(1)
	}

	var lineTokens line.TokenSource = line.StaticToken(cfg.LineAccessToken)
	if cfg.LineAccessToken == "" {
		lineTokens, err = paramstore.NewSecretToken(ssmClient, cfg.LineAccessTokenParam)
		if err != nil {
			logger.Error("failed to create LINE token source", "err", err)
			os.Exit(1)
		}
	}
	lineClient, err := line.NewClient(lineTokens, line.WithTimeout(cfg.HTTPTimeout))
	if err != nil {
		logger.Error("failed to create LINE client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	replyService, err := usecase.NewReplyService(model, lineClient, store, usecase.Options{
		HistoryEnabled:     cfg.HistoryEnabled,
		MaxTokens:          cfg.MaxTokens,
		MaxHistoryTurns:    cfg.MaxHistoryTurns,
		PersistBeforeReply: cfg.PersistBeforeReply,
		CallTimeout:        cfg.HTTPTimeout,
		Logger:             logger,
	})
	if err != nil {
		logger.Error("failed to create reply service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(replyService, logger)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	logger.Info("bridge ready",
		"provider", cfg.ModelProvider,
		"model", model.Model(),
		"history_enabled", cfg.HistoryEnabled,
	)
	lambda.Start(h.Handle)
}

func newModel(ctx context.Context, cfg config.Config, awsCfg aws.Config, getter paramstore.Getter) (*llm.Client, error) {
	if cfg.ModelProvider == config.ProviderAnthropic {
		secret, err := paramstore.NewSecretToken(getter, cfg.AnthropicKeyParam)
		if err != nil {
			return nil, err
		}
		apiKey, err := secret.Token(ctx)
		if err != nil {
			return nil, err
		}
		return llm.NewAnthropic(apiKey, cfg.ModelID, llm.WithTimeout(cfg.HTTPTimeout))
	}

	// Bedrock may live in a different region than the table.
	bedrockCfg := awsCfg.Copy()
	bedrockCfg.Region = cfg.BedrockRegion
	return llm.NewBedrock(bedrockCfg, cfg.ModelID, llm.WithTimeout(cfg.HTTPTimeout))
}
