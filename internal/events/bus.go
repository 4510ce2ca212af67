// ABOUTME: In-memory fan-out event bus for conversation progress
// ABOUTME: Publishing never blocks; events are dropped for subscribers whose buffers are full

package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Kind identifies an event type
type Kind string

const (
	KindStateChanged    Kind = "state_changed"
	KindMessageAppended Kind = "message_appended"
)

// Progress counts messages generated against the target
type Progress struct {
	Generated int `json:"generated"`
	Target    int `json:"target"`
}

// StateChanged announces an orchestrator transition
type StateChanged struct {
	Status         string     `json:"status"`
	ConversationID string     `json:"conversation_id,omitempty"`
	Topic          string     `json:"topic,omitempty"`
	Progress       Progress   `json:"progress"`
	NextEventTime  *time.Time `json:"next_event_time,omitempty"`
}

// MessageAppended announces a persisted message
type MessageAppended struct {
	ConversationID string         `json:"conversation_id"`
	Message        *store.Message `json:"message"`
}

// Event is one notification. Exactly one of State or Message is set.
type Event struct {
	Kind    Kind             `json:"type"`
	Time    time.Time        `json:"time"`
	State   *StateChanged    `json:"state,omitempty"`
	Message *MessageAppended `json:"message,omitempty"`
}

// NewStateChanged builds a state event.
func NewStateChanged(at time.Time, s StateChanged) Event {
	return Event{Kind: KindStateChanged, Time: at, State: &s}
}

// NewMessageAppended builds a message event.
func NewMessageAppended(at time.Time, msg *store.Message) Event {
	return Event{
		Kind:    KindMessageAppended,
		Time:    at,
		Message: &MessageAppended{ConversationID: msg.ConversationID, Message: msg},
	}
}

// Bus provides in-memory pub/sub for orchestrator events. Subscribers receive
// events published after they subscribe; anyone needing history reads the
// repository.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event // subID -> ch
	closed      bool
	dropped     atomic.Int64
	logger      *slog.Logger
}

// NewBus creates a bus. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]chan Event),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers a subscriber. Returns a channel that receives events and
// a subscription ID for later unsubscription. The subscription is cleaned up
// when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers without blocking.
func (b *Bus) Publish(event Event) {
	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send; each send is non-blocking.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
			b.logger.Debug("dropped event for slow subscriber",
				"sub_id", id,
				"type", event.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}
	b.closed = true

	b.logger.Debug("bus closed")
}
