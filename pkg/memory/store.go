package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a remembered turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Metadata carries optional context stored alongside a turn.
type Metadata struct {
	Question       string    `json:"question,omitempty"`
	SQL            string    `json:"sql,omitempty"`
	ResultRowCount int       `json:"result_rowcount,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Record is one embedded conversation turn. Immutable after insert.
type Record struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Metadata  Metadata  `json:"metadata"`
	Embedding []float32 `json:"embedding"`
}

// ScoredRecord is a search hit with its cosine similarity.
type ScoredRecord struct {
	Record     Record
	Similarity float64
}

// Store is the vector persistence capability behind conversation
// memory. Implementations must isolate sessions from each other.
type Store interface {
	Upsert(ctx context.Context, record Record) error
	Search(ctx context.Context, sessionID string, embedding []float32, k int) ([]ScoredRecord, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}
