package flow

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryStateStore implements StateStore with an in-process map. States are
// copied on the way in and out so callers never share memory with the store.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]*ConversationState
	now    func() time.Time
}

// NewMemoryStateStore creates an empty in-memory store. A nil clock uses time.Now.
func NewMemoryStateStore(now func() time.Time) *MemoryStateStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStateStore{states: make(map[string]*ConversationState), now: now}
}

// Get retrieves a copy of the state for key.
func (m *MemoryStateStore) Get(_ context.Context, key string) (*ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[key]
	if !ok {
		return nil, nil
	}
	return st.Clone(), nil
}

// Put stores a copy of st after checking its version.
func (m *MemoryStateStore) Put(_ context.Context, st *ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if existing, ok := m.states[st.Key]; ok {
		current = existing.Version
	}
	if current != st.Version {
		slog.Warn("MemoryStateStore.Put: version conflict", "key", st.Key, "stored", current, "given", st.Version)
		return ErrStateConflict
	}

	st.Version++
	st.UpdatedAt = m.now()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = st.UpdatedAt
	}
	m.states[st.Key] = st.Clone()
	slog.Debug("MemoryStateStore.Put: stored", "key", st.Key, "version", st.Version, "stage", st.Stage)
	return nil
}

// Delete removes the state for key.
func (m *MemoryStateStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, key)
	slog.Debug("MemoryStateStore.Delete: removed", "key", key)
	return nil
}

// Count returns the number of active conversations.
func (m *MemoryStateStore) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states), nil
}

// keyedMutex serializes work per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
