package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// PostgresStore persists memory records in a pgvector-backed table.
// The pool must have pgvector types registered (see pgvector-go/pgx).
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a store over an existing pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{pool: pool, logger: logger.Named("memory")}
}

// EnsureSchema creates the extension, table and index if missing.
// dimensions must match the embedding model's output size.
func (s *PostgresStore) EnsureSchema(ctx context.Context, dimensions int) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS conversation_memory (
			id UUID PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dimensions),
		`CREATE INDEX IF NOT EXISTS conversation_memory_session_idx ON conversation_memory (session_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure memory schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, record Record) error {
	meta, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	const query = `
		INSERT INTO conversation_memory (id, session_id, role, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content,
		    metadata = EXCLUDED.metadata,
		    embedding = EXCLUDED.embedding
	`
	_, err = s.pool.Exec(ctx, query,
		record.ID, record.SessionID, string(record.Role), record.Text,
		meta, pgvector.NewVector(record.Embedding))
	if err != nil {
		return fmt.Errorf("upsert memory record: %w", err)
	}
	return nil
}

// Search returns the k nearest records for the session by cosine
// distance, most similar first.
func (s *PostgresStore) Search(ctx context.Context, sessionID string, embedding []float32, k int) ([]ScoredRecord, error) {
	if k <= 0 {
		k = 3
	}

	const query = `
		SELECT id, session_id, role, content, metadata,
		       1 - (embedding <=> $2) AS similarity
		FROM conversation_memory
		WHERE session_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`

	vec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx, query, sessionID, vec, k)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()

	var hits []ScoredRecord
	for rows.Next() {
		var hit ScoredRecord
		var role string
		var meta []byte
		if err := rows.Scan(&hit.Record.ID, &hit.Record.SessionID, &role,
			&hit.Record.Text, &meta, &hit.Similarity); err != nil {
			return nil, fmt.Errorf("scan memory record: %w", err)
		}
		hit.Record.Role = Role(role)
		if err := json.Unmarshal(meta, &hit.Record.Metadata); err != nil {
			s.logger.Warn("unreadable memory metadata",
				zap.String("record_id", hit.Record.ID.String()),
				zap.Error(err))
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory records: %w", err)
	}
	return hits, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversation_memory WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session memory: %w", err)
	}
	s.logger.Debug("session memory deleted",
		zap.String("session_id", sessionID),
		zap.Int64("records", tag.RowsAffected()))
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

var _ Store = (*PostgresStore)(nil)
