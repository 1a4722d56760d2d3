// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	threads  map[string]*Thread
	events   map[string][]*LedgerEvent // keyed by thread ID, in seq order
	settings map[string]string
	nextSeq  int64
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		threads:  make(map[string]*Thread),
		events:   make(map[string][]*LedgerEvent),
		settings: make(map[string]string),
	}
}

// CreateThread stores a new thread.
func (m *MockStore) CreateThread(ctx context.Context, thread *Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.threads[thread.ID]; exists {
		return ErrDuplicateThread
	}
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now().UTC()
	}
	if thread.UpdatedAt.IsZero() {
		thread.UpdatedAt = thread.CreatedAt
	}

	t := *thread
	m.threads[t.ID] = &t
	return nil
}

// GetThread retrieves a thread by ID.
func (m *MockStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// UpdateThread saves a thread's mutable fields.
func (m *MockStore) UpdateThread(ctx context.Context, thread *Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.threads[thread.ID]
	if !ok {
		return ErrNotFound
	}
	thread.UpdatedAt = time.Now().UTC()
	existing.RemoteThreadID = thread.RemoteThreadID
	existing.Title = thread.Title
	existing.State = thread.State
	existing.UpdatedAt = thread.UpdatedAt
	return nil
}

// DeleteThread removes a thread and its events.
func (m *MockStore) DeleteThread(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.threads[id]; !ok {
		return ErrNotFound
	}
	delete(m.threads, id)
	delete(m.events, id)
	return nil
}

// ListThreads returns threads, most recently updated first.
func (m *MockStore) ListThreads(ctx context.Context, limit int) ([]*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	threads := make([]*Thread, 0, len(m.threads))
	for _, t := range m.threads {
		cp := *t
		threads = append(threads, &cp)
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})
	if limit > 0 && len(threads) > limit {
		threads = threads[:limit]
	}
	return threads, nil
}

// SaveEvent appends an event to its thread.
func (m *MockStore) SaveEvent(ctx context.Context, event *LedgerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.threads[event.ThreadID]; !ok {
		return ErrNotFound
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	m.nextSeq++
	event.Seq = m.nextSeq

	e := *event
	m.events[e.ThreadID] = append(m.events[e.ThreadID], &e)
	return nil
}

// ListEvents returns a thread's events oldest first.
func (m *MockStore) ListEvents(ctx context.Context, threadID string, limit int) ([]*LedgerEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.events[threadID]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return copyEvents(all), nil
}

// ListRecentEvents returns up to limit events newest first.
func (m *MockStore) ListRecentEvents(ctx context.Context, threadID string, limit int) ([]*LedgerEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	all := m.events[threadID]
	out := make([]*LedgerEvent, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		e := *all[i]
		out = append(out, &e)
	}
	return out, nil
}

func copyEvents(events []*LedgerEvent) []*LedgerEvent {
	out := make([]*LedgerEvent, len(events))
	for i, e := range events {
		cp := *e
		out[i] = &cp
	}
	return out
}

// GetSetting returns a setting or ErrNotFound.
func (m *MockStore) GetSetting(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.settings[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// SetSetting stores a setting.
func (m *MockStore) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

// DeleteSetting removes a setting.
func (m *MockStore) DeleteSetting(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.settings, key)
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
