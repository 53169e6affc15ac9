// Package llm provides provider-agnostic chat and embedding clients for
// OpenAI-compatible and Anthropic endpoints.
package llm

import (
	"context"
)

// Client defines the interface for LLM operations. It combines generative
// (chat completion) and embedding capabilities. Use this interface for
// dependency injection to enable mocking in tests.
type Client interface {
	// GenerateResponse generates a chat completion for a user prompt under
	// a system message.
	GenerateResponse(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error)

	// CreateEmbedding generates an embedding vector for the input text.
	CreateEmbedding(ctx context.Context, input string) ([]float32, error)

	// CreateEmbeddings generates embeddings for multiple inputs.
	CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)

	// Model returns the configured model name.
	Model() string

	// Endpoint returns the configured endpoint.
	Endpoint() string
}

// Compile-time interface checks.
var (
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*AnthropicClient)(nil)
	_ Client = (*MockClient)(nil)
)
