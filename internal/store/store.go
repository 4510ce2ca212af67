// ABOUTME: Repository interface and data types for parley persistence
// ABOUTME: Defines Business, Conversation, Message and the sentinel errors shared by all backends

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrActiveConversationExists is returned by CreateConversation when another
// conversation is already active
var ErrActiveConversationExists = errors.New("an active conversation already exists")

// ErrDuplicateOrder is returned when a message's order_index is already taken
var ErrDuplicateOrder = errors.New("order index already persisted")

// ErrOrderGap is returned when a message's order_index would leave a gap
var ErrOrderGap = errors.New("order index would leave a gap")

// ErrConversationClosed is returned when appending to a conversation that is not active
var ErrConversationClosed = errors.New("conversation is not active")

// ErrAlreadyCompleted is returned when completing a conversation twice
var ErrAlreadyCompleted = errors.New("conversation already completed")

// Status is a conversation lifecycle state
type Status string

// Conversation states. StatusScheduled is never persisted.
const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Order selects the direction messages are listed in
type Order int

const (
	Ascending Order = iota
	Descending
)

// Business is a business profile used as prompt context
type Business struct {
	ID          string
	Name        string
	Location    string
	Industry    string
	Website     string
	Description string
}

// Conversation is one bounded run of generated messages about a single topic
type Conversation struct {
	ID             string
	BusinessID     string
	Topic          string
	Status         Status
	TargetMessages int
	Rounds         int
	CreatedAt      time.Time
	CompletedAt    *time.Time

	// MessageCount is filled on reads with the number of persisted messages
	MessageCount int
}

// Message is one utterance inside a conversation
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	AgentName      string    `json:"agent_name"`
	AgentProvider  string    `json:"agent_provider"`
	Content        string    `json:"content"`
	OrderIndex     int       `json:"order_index"`
	CreatedAt      time.Time `json:"created_at"` // logical timestamp, see orchestrator
	Fallback       bool      `json:"fallback"`
}

// ConversationFilter narrows ListConversations
type ConversationFilter struct {
	BusinessID string
	Status     Status
	Limit      int
}

// Stats are system-wide totals for status reporting
type Stats struct {
	TotalConversations     int
	CompletedConversations int
	TotalMessages          int
	MessagesSince          int
}

// Repository is the orchestrator's only view of persistent state.
type Repository interface {
	// CreateConversation persists conv as active. It fails with
	// ErrActiveConversationExists when another conversation is active.
	CreateConversation(ctx context.Context, conv *Conversation) error

	// AppendMessage persists msg. OrderIndex must be exactly one past the
	// highest persisted index for the conversation.
	AppendMessage(ctx context.Context, msg *Message) error

	// MarkCompleted moves an active conversation to completed, once.
	MarkCompleted(ctx context.Context, conversationID string, at time.Time) error

	CountMessages(ctx context.Context, conversationID string) (int, error)

	// ListNonTerminal returns every active conversation, newest first, with
	// MessageCount filled.
	ListNonTerminal(ctx context.Context) ([]*Conversation, error)

	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListMessages(ctx context.Context, conversationID string, order Order) ([]*Message, error)
	ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error)
	Stats(ctx context.Context, since time.Time) (*Stats, error)
}

// BusinessLookup resolves business profiles
type BusinessLookup interface {
	GetBusiness(ctx context.Context, id string) (*Business, error)
}

// Store is a complete persistence backend
type Store interface {
	Repository
	BusinessLookup
	UpsertBusiness(ctx context.Context, b *Business) error
	ListBusinesses(ctx context.Context) ([]*Business, error)
	Close() error
}

// Rounds returns how many full rounds target messages make for a roster of size n.
func Rounds(target, n int) int {
	if n <= 0 {
		return 0
	}
	return target / n
}

// checkOrder validates that next directly follows highest.
func checkOrder(highest, next int) error {
	switch {
	case next <= highest:
		return ErrDuplicateOrder
	case next > highest+1:
		return ErrOrderGap
	}
	return nil
}
