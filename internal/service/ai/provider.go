package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/Jeffrey-done/SubScript/internal/apperr"
	"github.com/Jeffrey-done/SubScript/internal/config"
	"github.com/Jeffrey-done/SubScript/internal/models"
	"github.com/Jeffrey-done/SubScript/internal/spark"
)

const ProviderSpark = "spark"

// NewChatModel returns the chat model for provider. The vendor session is the default;
// openai, gemini and claude are built from cfg.
func NewChatModel(ctx context.Context, provider string, cfg config.ProviderConfig, client *spark.Client, cred models.ModelCredential) (model.BaseChatModel, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" || provider == ProviderSpark {
		if client == nil {
			client = spark.NewClient()
		}
		return NewSparkChatModel(client, cred), nil
	}
	if cfg.APIKey == "" {
		return nil, apperr.Configuration("ai.provider", fmt.Sprintf("provider %s: api key not configured", provider))
	}

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = newOpenAI(ctx, cfg)
	case "gemini":
		chatModel, err = newGemini(ctx, cfg)
	case "claude":
		chatModel, err = newClaude(ctx, cfg)
	default:
		return nil, apperr.Configuration("ai.provider", "invalid provider: "+provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return chatModel, nil
}

func newOpenAI(ctx context.Context, cfg config.ProviderConfig) (model.BaseChatModel, error) {
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, err
	}
	return cm, nil
}

func newGemini(ctx context.Context, cfg config.ProviderConfig) (model.BaseChatModel, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	cm, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client: genaiClient,
		Model:  cfg.Model,
	})
	if err != nil {
		return nil, err
	}
	return cm, nil
}

func newClaude(ctx context.Context, cfg config.ProviderConfig) (model.BaseChatModel, error) {
	var baseURL *string
	if cfg.BaseURL != "" {
		baseURL = &cfg.BaseURL
	}
	cm, err := claude.NewChatModel(ctx, &claude.Config{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		BaseURL:   baseURL,
		MaxTokens: 3000,
	})
	if err != nil {
		return nil, err
	}
	return cm, nil
}
