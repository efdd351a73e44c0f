// File: internal/llm/client.go
package llm

import (
	"context"
	"fmt"
	"io"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/mistral"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/AnandaIndraTan/CERBERUS/api/schemas"
	"github.com/AnandaIndraTan/CERBERUS/internal/config"
	"github.com/AnandaIndraTan/CERBERUS/internal/observability"
)

const defaultOllamaURL = "http://localhost:11434"

// LangchainClient adapts a langchaingo chat model to the schemas.LLMClient
// contract used across the engine.
type LangchainClient struct {
	model  llms.Model
	logger *zap.Logger
}

// NewClient constructs a chat client for the configured provider. Hosted
// providers fail fast on a missing API key; ollama never needs one.
func NewClient(ctx context.Context, cfg config.LLMConfig) (*LangchainClient, error) {
	logger := observability.GetLogger().Named("llm").With(
		zap.String("provider", string(cfg.Provider)),
		zap.String("model", cfg.Model),
	)

	model, err := newModel(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Debug("LLM client initialized.")
	return &LangchainClient{model: model, logger: logger}, nil
}

func newModel(ctx context.Context, cfg config.LLMConfig) (llms.Model, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)

	case config.ProviderMistral:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("mistral provider requires an API key")
		}
		opts := []mistral.Option{
			mistral.WithAPIKey(cfg.APIKey),
			mistral.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, mistral.WithEndpoint(cfg.BaseURL))
		}
		return mistral.New(opts...)

	case config.ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		)

	case config.ProviderGoogle:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("googleai provider requires an API key")
		}
		return googleai.New(ctx,
			googleai.WithAPIKey(cfg.APIKey),
			googleai.WithDefaultModel(cfg.Model),
		)

	case config.ProviderOllama:
		serverURL := cfg.BaseURL
		if serverURL == "" {
			serverURL = defaultOllamaURL
		}
		return ollama.New(
			ollama.WithServerURL(serverURL),
			ollama.WithModel(cfg.Model),
		)

	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// Generate runs one chat completion and returns the text of the first choice.
func (c *LangchainClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	var messages []llms.MessageContent
	if req.SystemPrompt != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(req.SystemPrompt)},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(req.UserPrompt)},
	})

	opts := []llms.CallOption{llms.WithTemperature(req.Options.Temperature)}
	if req.Options.ForceJSONFormat {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}

	content := resp.Choices[0].Content
	if content == "" {
		return "", fmt.Errorf("model returned an empty completion")
	}
	return content, nil
}

// Close releases provider resources where the underlying model holds any.
func (c *LangchainClient) Close() error {
	if closer, ok := c.model.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.logger.Warn("Failed to close LLM client.", zap.Error(err))
			return err
		}
	}
	return nil
}
