package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a scripted Client for tests. Responses are consumed in
// order; when the script runs out the last response repeats. Recorded
// prompts let tests assert on what was sent.
type MockClient struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int

	Prompts        []string
	SystemMessages []string

	// EmbeddingDim controls the size of generated embedding vectors.
	EmbeddingDim int
	EmbedErr     error
}

// NewMockClient creates a mock that replays the given responses.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{responses: responses, EmbeddingDim: 8}
}

// QueueError makes the next call fail with err, after any queued responses.
func (m *MockClient) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

// GenerateResponse replays the next scripted response.
func (m *MockClient) GenerateResponse(_ context.Context, prompt, systemMessage string, _ float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Prompts = append(m.Prompts, prompt)
	m.SystemMessages = append(m.SystemMessages, systemMessage)

	idx := m.calls
	m.calls++

	if idx >= len(m.responses) {
		overflow := idx - len(m.responses)
		if overflow < len(m.errs) {
			return "", m.errs[overflow]
		}
		if len(m.responses) == 0 {
			return "", fmt.Errorf("mock: no responses scripted")
		}
		return m.responses[len(m.responses)-1], nil
	}
	return m.responses[idx], nil
}

// Calls returns how many chat completions were requested.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// CreateEmbedding returns a deterministic vector derived from the input.
func (m *MockClient) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	vecs, err := m.CreateEmbeddings(ctx, []string{input})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// CreateEmbeddings returns deterministic vectors derived from the inputs.
// Equal inputs embed equal, so similarity search in tests behaves sensibly.
func (m *MockClient) CreateEmbeddings(_ context.Context, inputs []string) ([][]float32, error) {
	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}
	dim := m.EmbeddingDim
	if dim == 0 {
		dim = 8
	}
	out := make([][]float32, len(inputs))
	for i, input := range inputs {
		vec := make([]float32, dim)
		for j := 0; j < len(input); j++ {
			vec[j%dim] += float32(input[j]) / 255.0
		}
		out[i] = vec
	}
	return out, nil
}

// Model returns a fixed mock model identifier.
func (m *MockClient) Model() string {
	return "mock-model"
}

// Endpoint returns a fixed mock endpoint.
func (m *MockClient) Endpoint() string {
	return "mock://llm"
}
