// ABOUTME: Tests for startup recovery of active conversations
// ABOUTME: Seeds crash states directly into the mock store

package orchestrator

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/store"
)

func seedActive(t *testing.T, ms *store.MockStore, id string, createdAt time.Time, messages int) {
	t.Helper()
	ms.SeedConversation(&store.Conversation{
		ID:             id,
		BusinessID:     "acme",
		Topic:          "Emergency Repairs",
		Status:         store.StatusActive,
		TargetMessages: 16,
		Rounds:         4,
		CreatedAt:      createdAt,
	})
	for i := 1; i <= messages; i++ {
		ms.SeedMessage(&store.Message{
			ID:             fmt.Sprintf("%s-%d", id, i),
			ConversationID: id,
			AgentName:      testAgents()[(i-1)%4].Name,
			AgentProvider:  testAgents()[(i-1)%4].Provider,
			Content:        fmt.Sprintf("message %d", i),
			OrderIndex:     i,
			CreatedAt:      createdAt.Add(time.Duration(i-1) * 90 * time.Second),
		})
	}
}

func newRecoveryStore(t *testing.T) *store.MockStore {
	t.Helper()
	ms := store.NewMockStore()
	require.NoError(t, ms.UpsertBusiness(t.Context(), &store.Business{ID: "acme", Name: "Acme Roofing"}))
	return ms
}

func TestRecoverNothing(t *testing.T) {
	ms := newRecoveryStore(t)
	res, err := NewRecoveryManager(ms, ms, 16, clockwork.NewFakeClockAt(testEpoch), nil).Recover(t.Context())
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestRecoverFinalizesFinishedConversation(t *testing.T) {
	ms := newRecoveryStore(t)
	seedActive(t, ms, "done", testEpoch.Add(-time.Hour), 16)

	res, err := NewRecoveryManager(ms, ms, 16, clockwork.NewFakeClockAt(testEpoch), nil).Recover(t.Context())
	require.NoError(t, err)
	assert.Nil(t, res)

	conv, err := ms.GetConversation(t.Context(), "done")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, conv.Status)
	require.NotNil(t, conv.CompletedAt)
	assert.True(t, conv.CompletedAt.Equal(testEpoch))
}

func TestRecoverUsesConfiguredTargetWhenUnset(t *testing.T) {
	ms := newRecoveryStore(t)
	ms.SeedConversation(&store.Conversation{ID: "legacy", BusinessID: "acme", Status: store.StatusActive, CreatedAt: testEpoch})
	for i := 1; i <= 8; i++ {
		ms.SeedMessage(&store.Message{ID: fmt.Sprint(i), ConversationID: "legacy", OrderIndex: i, CreatedAt: testEpoch})
	}

	res, err := NewRecoveryManager(ms, ms, 8, clockwork.NewFakeClockAt(testEpoch), nil).Recover(t.Context())
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestRecoverResumesPartialConversation(t *testing.T) {
	ms := newRecoveryStore(t)
	started := testEpoch.Add(-10 * time.Minute)
	seedActive(t, ms, "partial", started, 5)

	clk := clockwork.NewFakeClockAt(testEpoch)
	res, err := NewRecoveryManager(ms, ms, 16, clk, nil).Recover(t.Context())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "partial", res.Conversation.ID)
	assert.Equal(t, 6, res.NextIndex())
	assert.Equal(t, 5, res.LastMessage().OrderIndex)
	assert.Equal(t, "Acme Roofing", res.Business.Name)

	h := newHarness(t, harnessOptions{mockStore: ms, clock: clk})
	require.NoError(t, h.orch.Resume(res))

	state := h.orch.GetState()
	assert.Equal(t, StatusActive, state.Status)
	assert.Equal(t, 5, state.MessagesGenerated)

	h.run()

	// the next message is due immediately, not after a restart delay
	msgs, err := ms.ListMessages(t.Context(), "partial", store.Ascending)
	require.NoError(t, err)
	require.Len(t, msgs, 6)
	gap := msgs[5].CreatedAt.Sub(msgs[4].CreatedAt)
	assert.GreaterOrEqual(t, gap, 60*time.Second)
	assert.LessOrEqual(t, gap, 120*time.Second)
	assert.Equal(t, testAgents()[1].Name, msgs[5].AgentName)

	h.advanceUntil(h.conversationDone("partial"))

	msgs, err = ms.ListMessages(t.Context(), "partial", store.Ascending)
	require.NoError(t, err)
	assertDenseTranscript(t, msgs, 16)
	assertRoundCoverage(t, msgs, 4)
}

func TestResumedCompletionNotBeforeLastMessage(t *testing.T) {
	ms := newRecoveryStore(t)
	// crash 10s after message 15; message 16 is stamped 60-120s after it
	last := testEpoch.Add(-10 * time.Second)
	seedActive(t, ms, "quick-restart", last.Add(-14*90*time.Second), 15)

	clk := clockwork.NewFakeClockAt(testEpoch)
	res, err := NewRecoveryManager(ms, ms, 16, clk, nil).Recover(t.Context())
	require.NoError(t, err)
	require.NotNil(t, res)

	h := newHarness(t, harnessOptions{mockStore: ms, clock: clk})
	require.NoError(t, h.orch.Resume(res))
	h.run()
	h.advanceUntil(h.conversationDone("quick-restart"))

	msgs, err := ms.ListMessages(t.Context(), "quick-restart", store.Ascending)
	require.NoError(t, err)
	require.Len(t, msgs, 16)
	require.True(t, msgs[15].CreatedAt.After(clk.Now()), "final message stamped ahead of the wall clock")

	conv, err := ms.GetConversation(t.Context(), "quick-restart")
	require.NoError(t, err)
	require.NotNil(t, conv.CompletedAt)
	assert.True(t, conv.CompletedAt.Equal(msgs[15].CreatedAt))
}

func TestCompletedAtUsesWallClockWhenAhead(t *testing.T) {
	history := []*store.Message{{OrderIndex: 1, CreatedAt: testEpoch.Add(-time.Minute)}}
	assert.Equal(t, testEpoch, completedAt(testEpoch, history))
	assert.Equal(t, testEpoch, completedAt(testEpoch, nil))
}

func TestRecoverDoubleActive(t *testing.T) {
	ms := newRecoveryStore(t)
	seedActive(t, ms, "older", testEpoch.Add(-2*time.Hour), 3)
	seedActive(t, ms, "newer", testEpoch.Add(-time.Hour), 7)

	res, err := NewRecoveryManager(ms, ms, 16, clockwork.NewFakeClockAt(testEpoch), nil).Recover(t.Context())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "newer", res.Conversation.ID)
	assert.Equal(t, 8, res.NextIndex())

	active, err := ms.ListNonTerminal(t.Context())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "newer", active[0].ID)

	older, err := ms.GetConversation(t.Context(), "older")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, older.Status)
	assert.Equal(t, 3, older.MessageCount)
}

func TestRecoverDoubleActiveBothFinished(t *testing.T) {
	ms := newRecoveryStore(t)
	seedActive(t, ms, "a", testEpoch.Add(-2*time.Hour), 16)
	seedActive(t, ms, "b", testEpoch.Add(-time.Hour), 16)

	res, err := NewRecoveryManager(ms, ms, 16, clockwork.NewFakeClockAt(testEpoch), nil).Recover(t.Context())
	require.NoError(t, err)
	assert.Nil(t, res)

	active, err := ms.ListNonTerminal(t.Context())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRecoverUnknownBusiness(t *testing.T) {
	ms := store.NewMockStore()
	seedActive(t, ms, "orphan", testEpoch, 2)

	res, err := NewRecoveryManager(ms, ms, 16, clockwork.NewFakeClockAt(testEpoch), nil).Recover(t.Context())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "acme", res.Business.ID)
	assert.Equal(t, "acme", res.Business.Name)
}

func TestRecoverCompletionFailure(t *testing.T) {
	ms := newRecoveryStore(t)
	seedActive(t, ms, "done", testEpoch, 16)
	ms.FailNext(store.OpMarkCompleted, 1)

	_, err := NewRecoveryManager(ms, ms, 16, clockwork.NewFakeClockAt(testEpoch), nil).Recover(t.Context())
	assert.ErrorIs(t, err, store.ErrInjected)
}
