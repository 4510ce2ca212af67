// ABOUTME: Startup recovery of conversations left active by a crash
// ABOUTME: Finalizes finished ones, resumes the newest unfinished one and force-completes the rest

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jonboulle/clockwork"

	"github.com/2389/parley/internal/store"
)

// Resumption is a conversation to continue, handed to Orchestrator.Resume
type Resumption struct {
	Conversation *store.Conversation
	Business     store.Business
	History      []*store.Message // persisted messages, ascending
}

// NextIndex is the order_index of the message to generate next.
func (r *Resumption) NextIndex() int { return len(r.History) + 1 }

// LastMessage returns the newest persisted message, or nil.
func (r *Resumption) LastMessage() *store.Message {
	if len(r.History) == 0 {
		return nil
	}
	return r.History[len(r.History)-1]
}

// RecoveryManager inspects persisted state once at startup
type RecoveryManager struct {
	repo       store.Repository
	businesses store.BusinessLookup
	target     int
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewRecoveryManager creates a recovery manager. target applies to
// conversations persisted without a target of their own.
func NewRecoveryManager(repo store.Repository, businesses store.BusinessLookup, target int, clk clockwork.Clock, logger *slog.Logger) *RecoveryManager {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &RecoveryManager{
		repo:       repo,
		businesses: businesses,
		target:     target,
		clock:      clk,
		logger:     logger.With("component", "recovery"),
	}
}

// Recover leaves the repository with at most one active conversation and
// returns it for resumption, or nil when nothing needs resuming.
func (m *RecoveryManager) Recover(ctx context.Context) (*Resumption, error) {
	convs, err := m.repo.ListNonTerminal(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active conversations: %w", err)
	}
	if len(convs) == 0 {
		m.logger.Debug("nothing to recover")
		return nil, nil
	}

	var unfinished []*store.Conversation
	for _, c := range convs {
		target := c.TargetMessages
		if target <= 0 {
			target = m.target
		}
		if c.MessageCount >= target {
			if err := m.complete(ctx, c); err != nil {
				return nil, err
			}
			m.logger.Info("finalized conversation whose completion was lost",
				"conversation_id", c.ID,
				"messages", c.MessageCount,
			)
			continue
		}
		unfinished = append(unfinished, c)
	}
	if len(unfinished) == 0 {
		return nil, nil
	}

	sort.SliceStable(unfinished, func(i, j int) bool {
		return unfinished[i].CreatedAt.After(unfinished[j].CreatedAt)
	})
	keep := unfinished[0]

	for _, c := range unfinished[1:] {
		m.logger.Warn("multiple active conversations found, force completing older one",
			"conversation_id", c.ID,
			"messages", c.MessageCount,
			"kept", keep.ID,
		)
		if err := m.complete(ctx, c); err != nil {
			return nil, err
		}
	}

	history, err := m.repo.ListMessages(ctx, keep.ID, store.Ascending)
	if err != nil {
		return nil, fmt.Errorf("loading transcript of %s: %w", keep.ID, err)
	}

	biz, err := m.businesses.GetBusiness(ctx, keep.BusinessID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		m.logger.Warn("business of resumed conversation not found, using its id",
			"conversation_id", keep.ID,
			"business_id", keep.BusinessID,
		)
		biz = &store.Business{ID: keep.BusinessID, Name: keep.BusinessID}
	case err != nil:
		return nil, fmt.Errorf("loading business %s: %w", keep.BusinessID, err)
	}

	res := &Resumption{Conversation: keep, Business: *biz, History: history}
	m.logger.Info("resuming conversation",
		"conversation_id", keep.ID,
		"next_index", res.NextIndex(),
		"topic", keep.Topic,
	)
	return res, nil
}

func (m *RecoveryManager) complete(ctx context.Context, c *store.Conversation) error {
	err := m.repo.MarkCompleted(ctx, c.ID, m.clock.Now())
	if err != nil && !errors.Is(err, store.ErrAlreadyCompleted) {
		return fmt.Errorf("completing %s: %w", c.ID, err)
	}
	return nil
}
