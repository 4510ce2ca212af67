// ABOUTME: Repository decorator that retries transient failures with exponential backoff
// ABOUTME: Domain errors such as duplicate order or not found are returned immediately

package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const defaultMaxElapsed = 30 * time.Second

// RetryPolicy bounds how a RetryingRepository retries.
type RetryPolicy struct {
	Attempts   int           // total tries, including the first
	BaseDelay  time.Duration // delay before the second try
	MaxDelay   time.Duration // backoff ceiling
	MaxElapsed time.Duration // give up once this much time has passed; 0 means 30s
}

// backOff returns a fresh doubling schedule from BaseDelay capped at MaxDelay.
func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// RetryingRepository wraps a Repository and retries transient errors.
type RetryingRepository struct {
	next   Repository
	policy RetryPolicy
	logger *slog.Logger

	// newBackOff builds the wait schedule for one call; replaced in tests.
	newBackOff func() backoff.BackOff
}

// NewRetryingRepository wraps next with policy.
func NewRetryingRepository(next Repository, policy RetryPolicy, logger *slog.Logger) *RetryingRepository {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.MaxElapsed <= 0 {
		policy.MaxElapsed = defaultMaxElapsed
	}
	return &RetryingRepository{
		next:       next,
		policy:     policy,
		logger:     logger.With("component", "store.retry"),
		newBackOff: policy.backOff,
	}
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, permanent := range []error{
		ErrNotFound,
		ErrActiveConversationExists,
		ErrDuplicateOrder,
		ErrOrderGap,
		ErrConversationClosed,
		ErrAlreadyCompleted,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}

func (r *RetryingRepository) do(ctx context.Context, op string, fn func() error) error {
	var last error
	attempt := 0
	_, err := backoff.Retry(ctx,
		func() (struct{}, error) {
			attempt++
			last = fn()
			if last != nil && !IsRetryable(last) {
				return struct{}{}, backoff.Permanent(last)
			}
			return struct{}{}, last
		},
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(uint(r.policy.Attempts)),
		backoff.WithMaxElapsedTime(r.policy.MaxElapsed),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.logger.Warn("repository call failed, retrying",
				"op", op,
				"attempt", attempt,
				"backoff", wait,
				"error", err,
			)
		}),
	)
	if err != nil {
		// Retry reports the context's cause when cancelled between tries;
		// callers get the repository's own error.
		return last
	}
	return nil
}

// CreateConversation retries next.CreateConversation.
func (r *RetryingRepository) CreateConversation(ctx context.Context, conv *Conversation) error {
	return r.do(ctx, "create_conversation", func() error { return r.next.CreateConversation(ctx, conv) })
}

// AppendMessage retries next.AppendMessage.
func (r *RetryingRepository) AppendMessage(ctx context.Context, msg *Message) error {
	return r.do(ctx, "append_message", func() error { return r.next.AppendMessage(ctx, msg) })
}

// MarkCompleted retries next.MarkCompleted.
func (r *RetryingRepository) MarkCompleted(ctx context.Context, conversationID string, at time.Time) error {
	return r.do(ctx, "mark_completed", func() error { return r.next.MarkCompleted(ctx, conversationID, at) })
}

// CountMessages retries next.CountMessages.
func (r *RetryingRepository) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := r.do(ctx, "count_messages", func() error {
		var err error
		n, err = r.next.CountMessages(ctx, conversationID)
		return err
	})
	return n, err
}

// ListNonTerminal retries next.ListNonTerminal.
func (r *RetryingRepository) ListNonTerminal(ctx context.Context) ([]*Conversation, error) {
	var out []*Conversation
	err := r.do(ctx, "list_non_terminal", func() error {
		var err error
		out, err = r.next.ListNonTerminal(ctx)
		return err
	})
	return out, err
}

// GetConversation retries next.GetConversation.
func (r *RetryingRepository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var out *Conversation
	err := r.do(ctx, "get_conversation", func() error {
		var err error
		out, err = r.next.GetConversation(ctx, id)
		return err
	})
	return out, err
}

// ListMessages retries next.ListMessages.
func (r *RetryingRepository) ListMessages(ctx context.Context, conversationID string, order Order) ([]*Message, error) {
	var out []*Message
	err := r.do(ctx, "list_messages", func() error {
		var err error
		out, err = r.next.ListMessages(ctx, conversationID, order)
		return err
	})
	return out, err
}

// ListConversations retries next.ListConversations.
func (r *RetryingRepository) ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error) {
	var out []*Conversation
	err := r.do(ctx, "list_conversations", func() error {
		var err error
		out, err = r.next.ListConversations(ctx, filter)
		return err
	})
	return out, err
}

// Stats retries next.Stats.
func (r *RetryingRepository) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	var out *Stats
	err := r.do(ctx, "stats", func() error {
		var err error
		out, err = r.next.Stats(ctx, since)
		return err
	})
	return out, err
}
