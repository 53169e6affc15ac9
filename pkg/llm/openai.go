package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/querysage-ai/querysage-engine/pkg/retry"
)

// OpenAIClient talks to any OpenAI-compatible endpoint (OpenAI, vLLM,
// Ollama, LM Studio).
type OpenAIClient struct {
	client         *openai.Client
	endpoint       string
	model          string
	embeddingModel string
	timeout        time.Duration
	logger         *zap.Logger
}

// OpenAIConfig holds configuration for creating an OpenAI-compatible client.
type OpenAIConfig struct {
	Endpoint       string // Base URL, e.g. "https://api.openai.com/v1"
	Model          string // Chat model, e.g. "gpt-4o"
	EmbeddingModel string // e.g. "text-embedding-3-small"
	APIKey         string // Optional for local endpoints
	Timeout        time.Duration
}

// NewOpenAIClient creates a new OpenAI-compatible LLM client.
func NewOpenAIClient(cfg *OpenAIConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" && cfg.EmbeddingModel == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientConfig),
		endpoint:       cfg.Endpoint,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		timeout:        timeout,
		logger:         logger.Named("llm"),
	}, nil
}

// GenerateResponse generates a chat completion response.
func (c *OpenAIClient) GenerateResponse(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)),
		zap.Float64("temperature", temperature))

	start := time.Now()

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(temperature),
	}

	resp, err := retry.DoWithResult(ctx, retry.LLMConfig(), func() (openai.ChatCompletionResponse, error) {
		r, callErr := c.client.CreateChatCompletion(ctx, req)
		if callErr != nil {
			return r, ClassifyError(callErr)
		}
		return r, nil
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", NewError(ErrorTypeModel, "no choices in response", false, nil)
	}

	c.logger.Info("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return resp.Choices[0].Message.Content, nil
}

// CreateEmbedding generates an embedding vector for the input text.
func (c *OpenAIClient) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	embeddings, err := c.CreateEmbeddings(ctx, []string{input})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// CreateEmbeddings generates embeddings for multiple inputs.
func (c *OpenAIClient) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := c.embeddingModel
	if model == "" {
		model = "text-embedding-3-small"
	}

	resp, err := retry.DoWithResult(ctx, retry.LLMConfig(), func() (openai.EmbeddingResponse, error) {
		r, callErr := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(model),
			Input: inputs,
		})
		if callErr != nil {
			return r, ClassifyError(callErr)
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(inputs), len(resp.Data))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
		embeddings[i] = d.Embedding
	}
	return embeddings, nil
}

// Model returns the configured chat model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Endpoint returns the configured endpoint.
func (c *OpenAIClient) Endpoint() string {
	return c.endpoint
}
