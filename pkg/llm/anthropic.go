package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/querysage-ai/querysage-engine/pkg/retry"
)

// AnthropicClient talks to the Anthropic Messages API. It only serves chat;
// embedding calls are delegated to a paired OpenAI-compatible client by the
// factory, since Anthropic exposes no embeddings endpoint.
type AnthropicClient struct {
	client    *anthropic.Client
	model     string
	timeout   time.Duration
	embedder  Client // nil when embeddings are not configured
	logger    *zap.Logger
	maxTokens int
}

// AnthropicConfig holds configuration for creating an Anthropic client.
type AnthropicConfig struct {
	Model     string
	APIKey    string
	Timeout   time.Duration
	MaxTokens int    // Defaults to 4096
	Embedder  Client // Optional embeddings delegate
}

// NewAnthropicClient creates a new Anthropic chat client.
func NewAnthropicClient(cfg *AnthropicConfig, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(cfg.APIKey),
		model:     cfg.Model,
		timeout:   timeout,
		embedder:  cfg.Embedder,
		logger:    logger.Named("llm"),
		maxTokens: maxTokens,
	}, nil
}

// GenerateResponse generates a chat completion response.
func (c *AnthropicClient) GenerateResponse(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)),
		zap.Float64("temperature", temperature))

	start := time.Now()
	temp := float32(temperature)

	req := anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		System:      systemMessage,
		MaxTokens:   c.maxTokens,
		Temperature: &temp,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				anthropic.NewTextMessageContent(prompt),
			}},
		},
	}

	resp, err := retry.DoWithResult(ctx, retry.LLMConfig(), func() (anthropic.MessagesResponse, error) {
		r, callErr := c.client.CreateMessages(ctx, req)
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

	if len(resp.Content) == 0 || resp.Content[0].Text == nil {
		return "", NewError(ErrorTypeModel, "no content in response", false, nil)
	}

	c.logger.Info("LLM request completed",
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return *resp.Content[0].Text, nil
}

// CreateEmbedding delegates to the paired embedding client.
func (c *AnthropicClient) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	if c.embedder == nil {
		return nil, fmt.Errorf("anthropic provider has no embeddings endpoint configured")
	}
	return c.embedder.CreateEmbedding(ctx, input)
}

// CreateEmbeddings delegates to the paired embedding client.
func (c *AnthropicClient) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	if c.embedder == nil {
		return nil, fmt.Errorf("anthropic provider has no embeddings endpoint configured")
	}
	return c.embedder.CreateEmbeddings(ctx, inputs)
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string {
	return c.model
}

// Endpoint returns the API endpoint identifier.
func (c *AnthropicClient) Endpoint() string {
	return "https://api.anthropic.com"
}
