// ABOUTME: Mock Store implementation for testing
// ABOUTME: In-memory, enforces the same invariants as SQLite, and can inject transient failures

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrInjected is the transient failure returned by MockStore.FailNext
var ErrInjected = errors.New("injected store failure")

// Operation names accepted by MockStore.FailNext
const (
	OpCreateConversation = "CreateConversation"
	OpAppendMessage      = "AppendMessage"
	OpMarkCompleted      = "MarkCompleted"
	OpCountMessages      = "CountMessages"
	OpListMessages       = "ListMessages"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	businesses    map[string]*Business
	conversations map[string]*Conversation
	messages      map[string][]*Message // keyed by conversation ID, ascending
	failures      map[string]int
	calls         map[string]int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		businesses:    make(map[string]*Business),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		failures:      make(map[string]int),
		calls:         make(map[string]int),
	}
}

// FailNext makes the next n calls of op return ErrInjected.
func (m *MockStore) FailNext(op string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = n
}

// Calls returns how many times op has been invoked, failures included.
func (m *MockStore) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// SeedConversation stores conv as-is, bypassing the single-active check.
// Tests use it to build states a crash could leave behind.
func (m *MockStore) SeedConversation(conv *Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *conv
	m.conversations[c.ID] = &c
}

// SeedMessage stores msg without order checks.
func (m *MockStore) SeedMessage(msg *Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.messages[cp.ConversationID] = append(m.messages[cp.ConversationID], &cp)
	sort.Slice(m.messages[cp.ConversationID], func(i, j int) bool {
		return m.messages[cp.ConversationID][i].OrderIndex < m.messages[cp.ConversationID][j].OrderIndex
	})
}

// enter records a call and reports an injected failure. Must be called with mu held.
func (m *MockStore) enter(op string) error {
	m.calls[op]++
	if m.failures[op] > 0 {
		m.failures[op]--
		return ErrInjected
	}
	return nil
}

// UpsertBusiness stores a business profile.
func (m *MockStore) UpsertBusiness(ctx context.Context, b *Business) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.businesses[cp.ID] = &cp
	return nil
}

// GetBusiness retrieves a business by ID.
func (m *MockStore) GetBusiness(ctx context.Context, id string) (*Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.businesses[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

// ListBusinesses returns all businesses ordered by name.
func (m *MockStore) ListBusinesses(ctx context.Context) ([]*Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Business, 0, len(m.businesses))
	for _, b := range m.businesses {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateConversation stores conv as active unless another conversation is active.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpCreateConversation); err != nil {
		return err
	}

	for _, c := range m.conversations {
		if c.Status == StatusActive {
			return ErrActiveConversationExists
		}
	}

	conv.Status = StatusActive
	c := *conv
	m.conversations[c.ID] = &c
	return nil
}

// AppendMessage stores msg if it directly follows the last persisted message.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpAppendMessage); err != nil {
		return err
	}

	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if c.Status != StatusActive {
		return ErrConversationClosed
	}

	msgs := m.messages[msg.ConversationID]
	highest := 0
	if len(msgs) > 0 {
		highest = msgs[len(msgs)-1].OrderIndex
	}
	if err := checkOrder(highest, msg.OrderIndex); err != nil {
		return err
	}

	cp := *msg
	m.messages[msg.ConversationID] = append(msgs, &cp)
	return nil
}

// MarkCompleted transitions an active conversation to completed.
func (m *MockStore) MarkCompleted(ctx context.Context, conversationID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpMarkCompleted); err != nil {
		return err
	}

	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	if c.Status == StatusCompleted {
		return ErrAlreadyCompleted
	}
	c.Status = StatusCompleted
	done := at
	c.CompletedAt = &done
	return nil
}

// CountMessages returns the number of stored messages for a conversation.
func (m *MockStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpCountMessages); err != nil {
		return 0, err
	}
	return len(m.messages[conversationID]), nil
}

// ListNonTerminal returns active conversations, newest first.
func (m *MockStore) ListNonTerminal(ctx context.Context) ([]*Conversation, error) {
	return m.ListConversations(ctx, ConversationFilter{Status: StatusActive})
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.copyConversation(c), nil
}

// ListConversations returns conversations matching filter, newest first.
func (m *MockStore) ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Conversation
	for _, c := range m.conversations {
		if filter.BusinessID != "" && c.BusinessID != filter.BusinessID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, m.copyConversation(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// copyConversation must be called with mu held.
func (m *MockStore) copyConversation(c *Conversation) *Conversation {
	cp := *c
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}
	cp.MessageCount = len(m.messages[c.ID])
	return &cp
}

// ListMessages returns copies of a conversation's messages.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, order Order) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpListMessages); err != nil {
		return nil, err
	}

	msgs := m.messages[conversationID]
	out := make([]*Message, len(msgs))
	for i, msg := range msgs {
		cp := *msg
		if order == Descending {
			out[len(msgs)-1-i] = &cp
		} else {
			out[i] = &cp
		}
	}
	return out, nil
}

// Stats returns totals across all stored data.
func (m *MockStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := &Stats{TotalConversations: len(m.conversations)}
	for _, c := range m.conversations {
		if c.Status == StatusCompleted {
			st.CompletedConversations++
		}
	}
	for _, msgs := range m.messages {
		st.TotalMessages += len(msgs)
		for _, msg := range msgs {
			if !msg.CreatedAt.Before(since) {
				st.MessagesSince++
			}
		}
	}
	return st, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
