package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/querysage-ai/querysage-engine/pkg/llm"
)

// RecordSeparator joins retrieved turns in the context blob.
const RecordSeparator = "\n---\n"

// blobCharBudget caps the retrieved context. Roughly a thousand
// tokens at four characters per token.
const blobCharBudget = 4000

// Memory embeds and retrieves conversation turns for prompts.
type Memory struct {
	store    Store
	embedder llm.Client
	logger   *zap.Logger
}

// New wires a vector store to an embeddings provider.
func New(store Store, embedder llm.Client, logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		store:    store,
		embedder: embedder,
		logger:   logger.Named("memory"),
	}
}

// StoreTurn embeds and persists one conversation turn.
func (m *Memory) StoreTurn(ctx context.Context, sessionID string, role Role, text string, meta Metadata) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}

	embedding, err := m.embedder.CreateEmbedding(ctx, text)
	if err != nil {
		return fmt.Errorf("embed turn: %w", err)
	}

	record := Record{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		Metadata:  meta,
		Embedding: embedding,
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return fmt.Errorf("store turn: %w", err)
	}

	m.logger.Debug("turn stored",
		zap.String("session_id", sessionID),
		zap.String("role", string(role)),
		zap.Int("text_len", len(text)))
	return nil
}

// Retrieve returns the top-k semantically similar prior turns as a
// prompt-ready blob. Empty sessions return the empty string.
func (m *Memory) Retrieve(ctx context.Context, sessionID, query string, k int) (string, error) {
	embedding, err := m.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}

	hits, err := m.store.Search(ctx, sessionID, embedding, k)
	if err != nil {
		return "", fmt.Errorf("search memory: %w", err)
	}
	if len(hits) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(hits))
	for _, hit := range hits {
		parts = append(parts, formatHit(hit.Record))
	}
	return truncateBlob(strings.Join(parts, RecordSeparator), blobCharBudget), nil
}

// DeleteSession removes all records belonging to a session.
func (m *Memory) DeleteSession(ctx context.Context, sessionID string) error {
	return m.store.DeleteSession(ctx, sessionID)
}

func formatHit(r Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", r.Role, r.Text)
	if r.Metadata.SQL != "" {
		fmt.Fprintf(&b, "\nSQL: %s", r.Metadata.SQL)
	}
	if r.Metadata.ResultRowCount > 0 {
		fmt.Fprintf(&b, "\nRows returned: %d", r.Metadata.ResultRowCount)
	}
	return b.String()
}

func truncateBlob(blob string, budget int) string {
	if len(blob) <= budget {
		return blob
	}
	return blob[:budget]
}
