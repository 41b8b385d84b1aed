package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"marketplace-assistant/handler"
	"marketplace-assistant/internal/integrations/gemini"
	"marketplace-assistant/internal/integrations/paramstore"
	"marketplace-assistant/internal/repository"
	"marketplace-assistant/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	assistantID := mustEnv("ASSISTANT_SENDER_ID")
	assistantProfileID := mustEnv("ASSISTANT_PROFILE_ID")
	assistantTitle := envStr("ASSISTANT_TITLE", "Marketplace Assistant")
	chatModel := envStr("CHAT_MODEL", "gemini-1.5-pro-001")
	historyLimit := envInt("HISTORY_LIMIT", 20)
	maxToolRounds := envInt("MAX_TOOL_ROUNDS", 3)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	repo, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable, "")
	if err != nil {
		slog.Error("failed to create repository client", "err", err)
		os.Exit(1)
	}
	geminiClient, err := gemini.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create Gemini client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	registry, err := usecase.NewToolRegistry(repo)
	if err != nil {
		slog.Error("failed to create tool registry", "err", err)
		os.Exit(1)
	}
	chatService, err := usecase.NewChatService(geminiClient, repo, registry, usecase.ChatConfig{
		AssistantID:        assistantID,
		AssistantProfileID: assistantProfileID,
		AssistantTitle:     assistantTitle,
		Model:              chatModel,
		HistoryLimit:       historyLimit,
		MaxToolRounds:      maxToolRounds,
	})
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewChatHandler(chatService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envStr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
