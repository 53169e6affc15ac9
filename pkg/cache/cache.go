package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/querysage-ai/querysage-engine/pkg/execution"
	"github.com/querysage-ai/querysage-engine/pkg/sqlutil"
)

// DefaultCapacity bounds each session's cache.
const DefaultCapacity = 64

// Entry is a cached query outcome keyed by fingerprint.
type Entry struct {
	Fingerprint   string                  `json:"fingerprint"`
	Question      string                  `json:"question"`
	SQL           string                  `json:"sql"`
	Result        *execution.SelectResult `json:"result"`
	SchemaVersion int64                   `json:"schema_version"`
	CreatedAt     time.Time               `json:"created_at"`
}

// Fingerprint derives the deterministic cache key for a question at a
// schema version. Questions that normalize identically share a key.
func Fingerprint(question string, schemaVersion int64) string {
	normalized := sqlutil.NormalizeQuestion(question)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", normalized, schemaVersion)))
	return hex.EncodeToString(sum[:])
}

// QueryCache is a per-session LRU of successful query results.
// Entries from older schema versions are evicted in bulk when the
// version advances.
type QueryCache struct {
	capacity int
	logger   *zap.Logger

	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element

	hits   int64
	misses int64
}

// New creates a cache. Non-positive capacity falls back to the default.
func New(capacity int, logger *zap.Logger) *QueryCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryCache{
		capacity: capacity,
		logger:   logger.Named("cache"),
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Get returns the entry for (question, schemaVersion), or nil on miss.
// A hit refreshes recency.
func (c *QueryCache) Get(question string, schemaVersion int64) *Entry {
	fp := Fingerprint(question, schemaVersion)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[fp]
	if !ok {
		c.misses++
		return nil
	}
	entry := elem.Value.(*Entry)
	if entry.SchemaVersion != schemaVersion {
		c.misses++
		return nil
	}

	c.order.MoveToFront(elem)
	c.hits++
	c.logger.Debug("cache hit", zap.String("fingerprint", fp[:12]))
	return entry
}

// Put stores a successful result, evicting the least recently used
// entry when the cache is full.
func (c *QueryCache) Put(question, sql string, result *execution.SelectResult, schemaVersion int64) {
	fp := Fingerprint(question, schemaVersion)
	entry := &Entry{
		Fingerprint:   fp,
		Question:      question,
		SQL:           sql,
		Result:        result,
		SchemaVersion: schemaVersion,
		CreatedAt:     time.Now().UTC(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[fp]; ok {
		elem.Value = entry
		c.order.MoveToFront(elem)
		return
	}

	c.entries[fp] = c.order.PushFront(entry)
	for len(c.entries) > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		evicted := c.order.Remove(oldest).(*Entry)
		delete(c.entries, evicted.Fingerprint)
	}
}

// InvalidateBefore evicts every entry older than the given schema
// version. Called when DDL bumps the version.
func (c *QueryCache) InvalidateBefore(schemaVersion int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*Entry)
		if entry.SchemaVersion < schemaVersion {
			c.order.Remove(elem)
			delete(c.entries, entry.Fingerprint)
			removed++
		}
		elem = next
	}
	if removed > 0 {
		c.logger.Info("cache invalidated",
			zap.Int64("schema_version", schemaVersion),
			zap.Int("evicted", removed))
	}
	return removed
}

// Clear drops every entry.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

// Len returns the number of cached entries.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cumulative hit and miss counts.
func (c *QueryCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
