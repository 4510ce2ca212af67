// ABOUTME: Behavioural contract shared by every Store implementation
// ABOUTME: SQLite, Postgres and the mock all run the same assertions

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var contractEpoch = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func newConversation(businessID string, created time.Time) *Conversation {
	return &Conversation{
		ID:             uuid.New().String(),
		BusinessID:     businessID,
		Topic:          "Emergency Repairs",
		TargetMessages: 16,
		Rounds:         4,
		CreatedAt:      created,
	}
}

func newMessage(convID string, index int, at time.Time) *Message {
	return &Message{
		ID:             uuid.New().String(),
		ConversationID: convID,
		AgentName:      fmt.Sprintf("agent-%d", index%4),
		AgentProvider:  "openai",
		Content:        fmt.Sprintf("message %d", index),
		OrderIndex:     index,
		CreatedAt:      at,
	}
}

func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	t.Run("business round trip", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		b := &Business{ID: "acme", Name: "Acme Roofing", Location: "Denver, CO", Industry: "Roofing", Website: "https://acme.example"}
		require.NoError(t, s.UpsertBusiness(ctx, b))

		b.Location = "Boulder, CO"
		require.NoError(t, s.UpsertBusiness(ctx, b))

		got, err := s.GetBusiness(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, "Boulder, CO", got.Location)
		assert.Equal(t, "Acme Roofing", got.Name)

		_, err = s.GetBusiness(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		all, err := s.ListBusinesses(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("create and get conversation", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		conv := newConversation("acme", contractEpoch)
		require.NoError(t, s.CreateConversation(ctx, conv))
		assert.Equal(t, StatusActive, conv.Status)

		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, conv.ID, got.ID)
		assert.Equal(t, StatusActive, got.Status)
		assert.Equal(t, "Emergency Repairs", got.Topic)
		assert.Equal(t, 16, got.TargetMessages)
		assert.Equal(t, 4, got.Rounds)
		assert.True(t, contractEpoch.Equal(got.CreatedAt))
		assert.Nil(t, got.CompletedAt)

		_, err = s.GetConversation(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("second active conversation is rejected", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		first := newConversation("acme", contractEpoch)
		require.NoError(t, s.CreateConversation(ctx, first))

		second := newConversation("acme", contractEpoch.Add(time.Second))
		err := s.CreateConversation(ctx, second)
		assert.ErrorIs(t, err, ErrActiveConversationExists)

		_, err = s.GetConversation(ctx, second.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.MarkCompleted(ctx, first.ID, contractEpoch.Add(time.Hour)))
		require.NoError(t, s.CreateConversation(ctx, second))
	})

	t.Run("append enforces dense order", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		conv := newConversation("acme", contractEpoch)
		require.NoError(t, s.CreateConversation(ctx, conv))

		require.NoError(t, s.AppendMessage(ctx, newMessage(conv.ID, 1, contractEpoch)))
		require.NoError(t, s.AppendMessage(ctx, newMessage(conv.ID, 2, contractEpoch.Add(time.Minute))))

		assert.ErrorIs(t, s.AppendMessage(ctx, newMessage(conv.ID, 2, contractEpoch)), ErrDuplicateOrder)
		assert.ErrorIs(t, s.AppendMessage(ctx, newMessage(conv.ID, 1, contractEpoch)), ErrDuplicateOrder)
		assert.ErrorIs(t, s.AppendMessage(ctx, newMessage(conv.ID, 4, contractEpoch)), ErrOrderGap)
		assert.ErrorIs(t, s.AppendMessage(ctx, newMessage("missing", 1, contractEpoch)), ErrNotFound)

		n, err := s.CountMessages(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("list messages in order", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		conv := newConversation("acme", contractEpoch)
		require.NoError(t, s.CreateConversation(ctx, conv))
		for i := 1; i <= 5; i++ {
			msg := newMessage(conv.ID, i, contractEpoch.Add(time.Duration(i)*90*time.Second))
			msg.Fallback = i%2 == 0
			require.NoError(t, s.AppendMessage(ctx, msg))
		}

		asc, err := s.ListMessages(ctx, conv.ID, Ascending)
		require.NoError(t, err)
		require.Len(t, asc, 5)
		for i, m := range asc {
			assert.Equal(t, i+1, m.OrderIndex)
			assert.Equal(t, (i+1)%2 == 0, m.Fallback)
		}
		assert.True(t, contractEpoch.Add(90*time.Second).Equal(asc[0].CreatedAt))

		desc, err := s.ListMessages(ctx, conv.ID, Descending)
		require.NoError(t, err)
		require.Len(t, desc, 5)
		assert.Equal(t, 5, desc[0].OrderIndex)
		assert.Equal(t, 1, desc[4].OrderIndex)

		empty, err := s.ListMessages(ctx, "missing", Ascending)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("mark completed exactly once", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		conv := newConversation("acme", contractEpoch)
		require.NoError(t, s.CreateConversation(ctx, conv))
		require.NoError(t, s.AppendMessage(ctx, newMessage(conv.ID, 1, contractEpoch)))

		done := contractEpoch.Add(30 * time.Minute)
		require.NoError(t, s.MarkCompleted(ctx, conv.ID, done))
		assert.ErrorIs(t, s.MarkCompleted(ctx, conv.ID, done), ErrAlreadyCompleted)
		assert.ErrorIs(t, s.MarkCompleted(ctx, "missing", done), ErrNotFound)

		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, done.Equal(*got.CompletedAt))
		assert.Equal(t, 1, got.MessageCount)

		assert.ErrorIs(t, s.AppendMessage(ctx, newMessage(conv.ID, 2, done)), ErrConversationClosed)
	})

	t.Run("list non terminal and filters", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		old := newConversation("acme", contractEpoch)
		require.NoError(t, s.CreateConversation(ctx, old))
		require.NoError(t, s.MarkCompleted(ctx, old.ID, contractEpoch.Add(time.Minute)))

		current := newConversation("zenith", contractEpoch.Add(time.Hour))
		require.NoError(t, s.CreateConversation(ctx, current))
		require.NoError(t, s.AppendMessage(ctx, newMessage(current.ID, 1, current.CreatedAt)))

		active, err := s.ListNonTerminal(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, current.ID, active[0].ID)
		assert.Equal(t, 1, active[0].MessageCount)

		all, err := s.ListConversations(ctx, ConversationFilter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, current.ID, all[0].ID, "newest first")

		acme, err := s.ListConversations(ctx, ConversationFilter{BusinessID: "acme"})
		require.NoError(t, err)
		require.Len(t, acme, 1)
		assert.Equal(t, old.ID, acme[0].ID)

		limited, err := s.ListConversations(ctx, ConversationFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("stats", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		conv := newConversation("acme", contractEpoch)
		require.NoError(t, s.CreateConversation(ctx, conv))
		for i := 1; i <= 3; i++ {
			require.NoError(t, s.AppendMessage(ctx, newMessage(conv.ID, i, contractEpoch.Add(time.Duration(i)*time.Hour))))
		}
		require.NoError(t, s.MarkCompleted(ctx, conv.ID, contractEpoch.Add(4*time.Hour)))

		st, err := s.Stats(ctx, contractEpoch.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, st.TotalConversations)
		assert.Equal(t, 1, st.CompletedConversations)
		assert.Equal(t, 3, st.TotalMessages)
		assert.Equal(t, 2, st.MessagesSince)
	})
}
