// ABOUTME: Topic selection for automatically started conversations
// ABOUTME: Picks randomly among configured topics while avoiding ones the business used recently

package topics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/2389/parley/internal/store"
)

// ErrNoTopics is returned when the rotation has nothing to choose from
var ErrNoTopics = errors.New("no topics configured")

// ConversationLister is the slice of the repository the rotation consults
type ConversationLister interface {
	ListConversations(ctx context.Context, filter store.ConversationFilter) ([]*store.Conversation, error)
}

// Rotation picks a topic uniformly among those the business has not
// discussed in its last Memory conversations.
type Rotation struct {
	topics []string
	memory int
	convs  ConversationLister
	logger *slog.Logger

	// intn is replaceable for tests
	intn func(n int) int
}

// NewRotation creates a rotation. convs may be nil, in which case history is
// ignored.
func NewRotation(topics []string, memory int, convs ConversationLister, logger *slog.Logger) *Rotation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rotation{
		topics: append([]string(nil), topics...),
		memory: memory,
		convs:  convs,
		logger: logger.With("component", "topics"),
		intn:   rand.IntN,
	}
}

// Topic returns the next topic for businessID. A failed history lookup is
// logged and the full list is used.
func (r *Rotation) Topic(ctx context.Context, businessID string) (string, error) {
	if len(r.topics) == 0 {
		return "", ErrNoTopics
	}

	candidates := r.topics
	recent, err := r.recent(ctx, businessID)
	if err != nil {
		r.logger.Warn("topic history unavailable", "business_id", businessID, "error", err)
	} else if len(recent) > 0 {
		fresh := make([]string, 0, len(r.topics))
		for _, t := range r.topics {
			if !recent[strings.ToLower(t)] {
				fresh = append(fresh, t)
			}
		}
		if len(fresh) > 0 {
			candidates = fresh
		}
	}

	topic := candidates[r.intn(len(candidates))]
	r.logger.Debug("topic selected", "business_id", businessID, "topic", topic, "candidates", len(candidates))
	return topic, nil
}

func (r *Rotation) recent(ctx context.Context, businessID string) (map[string]bool, error) {
	if r.convs == nil || r.memory <= 0 {
		return nil, nil
	}
	convs, err := r.convs.ListConversations(ctx, store.ConversationFilter{BusinessID: businessID, Limit: r.memory})
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	seen := make(map[string]bool, len(convs))
	for _, c := range convs {
		seen[strings.ToLower(c.Topic)] = true
	}
	return seen, nil
}

// Fixed always returns the same topic
type Fixed string

// Topic implements the orchestrator's topic policy.
func (f Fixed) Topic(ctx context.Context, businessID string) (string, error) {
	if f == "" {
		return "", ErrNoTopics
	}
	return string(f), nil
}
