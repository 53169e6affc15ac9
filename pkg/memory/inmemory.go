package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// InMemoryStore keeps records per session in process memory. When a
// persist directory is set, each session is mirrored to a JSON file so
// records survive restarts.
type InMemoryStore struct {
	persistDir string
	logger     *zap.Logger

	mu       sync.RWMutex
	sessions map[string][]Record
}

// NewInMemoryStore creates a store. persistDir may be empty for a
// purely ephemeral store; otherwise existing session files are loaded.
func NewInMemoryStore(persistDir string, logger *zap.Logger) (*InMemoryStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &InMemoryStore{
		persistDir: persistDir,
		logger:     logger.Named("memory"),
		sessions:   make(map[string][]Record),
	}
	if persistDir != "" {
		if err := os.MkdirAll(persistDir, 0o755); err != nil {
			return nil, fmt.Errorf("create memory persist dir: %w", err)
		}
		if err := s.loadAll(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *InMemoryStore) Upsert(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.sessions[record.SessionID]
	replaced := false
	for i := range records {
		if records[i].ID == record.ID {
			records[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, record)
	}
	s.sessions[record.SessionID] = records

	return s.persistSessionLocked(record.SessionID)
}

func (s *InMemoryStore) Search(_ context.Context, sessionID string, embedding []float32, k int) ([]ScoredRecord, error) {
	if k <= 0 {
		k = 3
	}

	s.mu.RLock()
	records := s.sessions[sessionID]
	s.mu.RUnlock()

	hits := make([]ScoredRecord, 0, len(records))
	for _, r := range records {
		hits = append(hits, ScoredRecord{
			Record:     r,
			Similarity: cosineSimilarity(embedding, r.Embedding),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *InMemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	if s.persistDir == "" {
		return nil
	}
	path := s.sessionFile(sessionID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

// Count returns the number of records stored for a session.
func (s *InMemoryStore) Count(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions[sessionID])
}

func (s *InMemoryStore) sessionFile(sessionID string) string {
	// Session ids are opaque; keep the filename filesystem-safe.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, sessionID)
	return filepath.Join(s.persistDir, safe+".json")
}

func (s *InMemoryStore) persistSessionLocked(sessionID string) error {
	if s.persistDir == "" {
		return nil
	}
	data, err := json.Marshal(s.sessions[sessionID])
	if err != nil {
		return fmt.Errorf("marshal session records: %w", err)
	}
	if err := os.WriteFile(s.sessionFile(sessionID), data, 0o644); err != nil {
		return fmt.Errorf("persist session records: %w", err)
	}
	return nil
}

func (s *InMemoryStore) loadAll() error {
	entries, err := os.ReadDir(s.persistDir)
	if err != nil {
		return fmt.Errorf("read memory persist dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.persistDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read session file %s: %w", entry.Name(), err)
		}
		var records []Record
		if err := json.Unmarshal(data, &records); err != nil {
			s.logger.Warn("skipping unreadable session file",
				zap.String("file", entry.Name()),
				zap.Error(err))
			continue
		}
		if len(records) > 0 {
			s.sessions[records[0].SessionID] = records
		}
	}
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ Store = (*InMemoryStore)(nil)
