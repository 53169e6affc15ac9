// Package session holds per-session engine state: conversation memory,
// the query cache, the result table registry and the column exploration
// cache. Idle sessions are evicted after a TTL; state is rebuilt lazily on
// the next turn, and memory records persist past eviction in their store.
package session

import (
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/querysage-ai/querysage-engine/pkg/cache"
	"github.com/querysage-ai/querysage-engine/pkg/execution"
	"github.com/querysage-ai/querysage-engine/pkg/generator"
	"github.com/querysage-ai/querysage-engine/pkg/llm"
	"github.com/querysage-ai/querysage-engine/pkg/memory"
)

// Session is the per-session state bundle. Turns in the same session
// serialize on the session mutex; the later turn waits for the earlier to
// finish.
type Session struct {
	ID string

	Memory   *memory.Memory
	Cache    *cache.QueryCache
	Tables   *execution.Registry
	Explorer *generator.Explorer

	mu sync.Mutex

	// editMu guards the edit flags on its own, so they stay readable
	// while a turn holds mu.
	editMu   sync.Mutex
	editMode bool
	editSet  bool
}

// Lock serializes a turn against other turns in the same session.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the turn serialization lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// EditMode reports whether data-changing statements may run in this
// session.
func (s *Session) EditMode() bool {
	s.editMu.Lock()
	defer s.editMu.Unlock()
	return s.editMode
}

// SetEditMode overrides the session's edit permission.
func (s *Session) SetEditMode(enabled bool) {
	s.editMu.Lock()
	defer s.editMu.Unlock()
	s.editMode = enabled
	s.editSet = true
}

// Deps are the process-wide resources sessions are built from.
type Deps struct {
	Pool         *pgxpool.Pool
	MemoryStore  memory.Store
	Embedder     llm.Client
	TargetSchema string
	TargetTable  string

	PageSizeDefault int
	PageSizeMax     int
	EditModeDefault bool
}

// Registry creates sessions lazily and evicts them after the idle TTL.
type Registry struct {
	deps     Deps
	sessions *gocache.Cache
	ttl      time.Duration
	mu       sync.Mutex
	logger   *zap.Logger
}

// NewRegistry creates a session registry with the given idle TTL.
func NewRegistry(deps Deps, idleTTL time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		deps:     deps,
		sessions: gocache.New(idleTTL, 10*time.Minute),
		ttl:      idleTTL,
		logger:   logger.Named("session"),
	}
}

// Acquire returns the session for the id, creating it if absent, and
// refreshes its idle TTL.
func (r *Registry) Acquire(sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, found := r.sessions.Get(sessionID); found {
		s := existing.(*Session)
		r.sessions.Set(sessionID, s, gocache.DefaultExpiration)
		return s
	}

	s := r.build(sessionID)
	r.sessions.Set(sessionID, s, gocache.DefaultExpiration)
	r.logger.Info("session created", zap.String("session_id", sessionID))
	return s
}

// Remove drops a session's in-memory state. Persisted memory records
// survive.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions.Delete(sessionID)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.sessions.ItemCount()
}

func (r *Registry) build(sessionID string) *Session {
	s := &Session{
		ID:       sessionID,
		Cache:    cache.New(cache.DefaultCapacity, r.logger),
		Tables:   execution.NewRegistry(r.deps.PageSizeDefault, r.deps.PageSizeMax),
		Explorer: generator.NewExplorer(r.deps.Pool, r.deps.TargetSchema, r.deps.TargetTable, r.logger),
		editMode: r.deps.EditModeDefault,
	}
	if r.deps.MemoryStore != nil && r.deps.Embedder != nil {
		s.Memory = memory.New(r.deps.MemoryStore, r.deps.Embedder, r.logger)
	}
	return s
}
