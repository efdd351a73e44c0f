// File: internal/llm/embedding.go
package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/mistral"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/AnandaIndraTan/CERBERUS/internal/config"
)

// LangchainEmbedder adapts a langchaingo embedder to schemas.EmbeddingClient.
type LangchainEmbedder struct {
	embedder embeddings.Embedder
}

// NewEmbedder constructs an embedding client for the configured provider.
// Anthropic is rejected here rather than at call time: it has no embeddings
// endpoint.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (*LangchainEmbedder, error) {
	client, err := newEmbedderClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return &LangchainEmbedder{embedder: embedder}, nil
}

func newEmbedderClient(ctx context.Context, cfg config.EmbeddingConfig) (embeddings.EmbedderClient, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai embeddings require an API key")
		}
		return openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithEmbeddingModel(cfg.Model),
		)

	case config.ProviderMistral:
		// Mistral serves a single embedding model; cfg.Model is not used.
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("mistral embeddings require an API key")
		}
		return mistral.New(mistral.WithAPIKey(cfg.APIKey))

	case config.ProviderGoogle:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("googleai embeddings require an API key")
		}
		return googleai.New(ctx,
			googleai.WithAPIKey(cfg.APIKey),
			googleai.WithDefaultEmbeddingModel(cfg.Model),
		)

	case config.ProviderOllama:
		return ollama.New(
			ollama.WithServerURL(defaultOllamaURL),
			ollama.WithModel(cfg.Model),
		)

	case config.ProviderAnthropic:
		return nil, fmt.Errorf("anthropic exposes no embeddings API; use openai, mistral, googleai, or ollama")

	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
}

// Embed converts each text into a vector, preserving input order.
func (e *LangchainEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d documents: %w", len(texts), err)
	}
	return vectors, nil
}
