package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/querysage-ai/querysage-engine/pkg/config"
)

// NewClient builds the chat client selected by the provider setting.
// For "anthropic" the chat goes through the Messages API while embeddings
// are served by an OpenAI-compatible client built from the embedding
// settings. For "openai" (the default) one client serves both.
func NewClient(cfg *config.LLMConfig, logger *zap.Logger) (Client, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIClient(&OpenAIConfig{
			Endpoint:       cfg.Endpoint,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			APIKey:         cfg.APIKey,
			Timeout:        cfg.Timeout(),
		}, logger)

	case "anthropic":
		var embedder Client
		endpoint, apiKey := cfg.EmbeddingBase()
		if cfg.EmbeddingModel != "" {
			var err error
			embedder, err = NewOpenAIClient(&OpenAIConfig{
				Endpoint:       endpoint,
				EmbeddingModel: cfg.EmbeddingModel,
				APIKey:         apiKey,
				Timeout:        cfg.Timeout(),
			}, logger)
			if err != nil {
				return nil, fmt.Errorf("create embedding client: %w", err)
			}
		}
		return NewAnthropicClient(&AnthropicConfig{
			Model:    cfg.Model,
			APIKey:   cfg.APIKey,
			Timeout:  cfg.Timeout(),
			Embedder: embedder,
		}, logger)

	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
