package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querysage-ai/querysage-engine/pkg/llm"
	"github.com/querysage-ai/querysage-engine/pkg/memory"
)

func newRegistry(t *testing.T, ttl time.Duration) *Registry {
	t.Helper()
	store, err := memory.NewInMemoryStore("", nil)
	require.NoError(t, err)
	deps := Deps{
		MemoryStore:     store,
		Embedder:        llm.NewMockClient(),
		TargetSchema:    "public",
		TargetTable:     "rates",
		PageSizeDefault: 10,
		PageSizeMax:     200,
	}
	return NewRegistry(deps, ttl, nil)
}

func TestAcquireCreatesLazily(t *testing.T) {
	r := newRegistry(t, time.Hour)
	assert.Equal(t, 0, r.Len())

	s := r.Acquire("s1")
	require.NotNil(t, s)
	assert.Equal(t, "s1", s.ID)
	assert.NotNil(t, s.Cache)
	assert.NotNil(t, s.Tables)
	assert.NotNil(t, s.Explorer)
	assert.NotNil(t, s.Memory)
	assert.Equal(t, 1, r.Len())
}

func TestAcquireReturnsSameSession(t *testing.T) {
	r := newRegistry(t, time.Hour)
	a := r.Acquire("s1")
	b := r.Acquire("s1")
	assert.Same(t, a, b)

	c := r.Acquire("s2")
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, r.Len())
}

func TestRemoveDropsSession(t *testing.T) {
	r := newRegistry(t, time.Hour)
	a := r.Acquire("s1")
	r.Remove("s1")

	b := r.Acquire("s1")
	assert.NotSame(t, a, b)
}

func TestIdleEviction(t *testing.T) {
	r := newRegistry(t, 20*time.Millisecond)
	a := r.Acquire("s1")

	time.Sleep(40 * time.Millisecond)
	b := r.Acquire("s1")
	assert.NotSame(t, a, b)
}

func TestEditModeDefaultsAndOverride(t *testing.T) {
	deps := Deps{
		TargetSchema:    "public",
		TargetTable:     "rates",
		PageSizeDefault: 10,
		PageSizeMax:     200,
		EditModeDefault: false,
	}
	r := NewRegistry(deps, time.Hour, nil)

	s := r.Acquire("s1")
	assert.False(t, s.EditMode())

	s.SetEditMode(true)
	assert.True(t, s.EditMode())
}

func TestMemoryNilWithoutStore(t *testing.T) {
	deps := Deps{
		TargetSchema:    "public",
		TargetTable:     "rates",
		PageSizeDefault: 10,
		PageSizeMax:     200,
	}
	r := NewRegistry(deps, time.Hour, nil)
	s := r.Acquire("s1")
	assert.Nil(t, s.Memory)
}

func TestSessionLockSerializes(t *testing.T) {
	r := newRegistry(t, time.Hour)
	s := r.Acquire("s1")

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	s.Lock()
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Lock()
		defer s.Unlock()
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	}()

	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	s.Unlock()
	wg.Wait()

	assert.Equal(t, []int{1, 2}, order)
}

func TestConcurrentAcquire(t *testing.T) {
	r := newRegistry(t, time.Hour)
	var wg sync.WaitGroup
	sessions := make([]*Session, 8)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i] = r.Acquire("shared")
		}(i)
	}
	wg.Wait()

	for _, s := range sessions[1:] {
		assert.Same(t, sessions[0], s)
	}
}
