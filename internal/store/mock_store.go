// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without a database and to inject backend failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store and TranscriptStore implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	transcripts   map[string][]TranscriptMessage
	writes        int

	// err, when set, is returned by every operation
	err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		transcripts:   make(map[string][]TranscriptMessage),
	}
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := *c
	return &result, nil
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	if _, ok := m.conversations[conv.ConversationID]; ok {
		return ErrDuplicateConversation
	}

	// Make a copy to avoid external modification
	c := *conv
	m.conversations[c.ConversationID] = &c
	m.writes++
	return nil
}

// UpdateConversation advances the continuation token of a stored conversation.
func (m *MockStore) UpdateConversation(ctx context.Context, id, latestResponseID string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.LatestResponseID = latestResponseID
	c.LastUpdatedAt = updatedAt.UTC()
	m.writes++
	return nil
}

// ListConversations returns the user's conversations, most recently updated first.
func (m *MockStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return nil, m.err
	}

	result := []*Conversation{}
	for _, c := range m.conversations {
		if c.UserID == userID {
			copied := *c
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastUpdatedAt.Equal(result[j].LastUpdatedAt) {
			return result[i].LastUpdatedAt.After(result[j].LastUpdatedAt)
		}
		return result[i].ConversationID < result[j].ConversationID
	})
	return result, nil
}

// Ping reports the injected error, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// GetTranscript returns a stored transcript.
func (m *MockStore) GetTranscript(ctx context.Context, responseID string) ([]TranscriptMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return nil, m.err
	}
	msgs, ok := m.transcripts[responseID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]TranscriptMessage(nil), msgs...), nil
}

// PutTranscript stores a transcript.
func (m *MockStore) PutTranscript(ctx context.Context, responseID string, messages []TranscriptMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.transcripts[responseID] = append([]TranscriptMessage(nil), messages...)
	return nil
}

// SetErr injects an error returned by all subsequent operations.
func (m *MockStore) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Writes returns how many conversation writes succeeded.
func (m *MockStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

var (
	_ Store           = (*MockStore)(nil)
	_ TranscriptStore = (*MockStore)(nil)
)
