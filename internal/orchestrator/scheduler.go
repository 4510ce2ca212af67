// ABOUTME: The single scheduler loop and the transitions it performs
// ABOUTME: Starts conversations, paces messages, persists them in order and completes conversations

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/parley/internal/events"
	"github.com/2389/parley/internal/provider"
	"github.com/2389/parley/internal/store"
)

// Run executes the scheduler loop until ctx is cancelled. A message whose
// generation is interrupted by shutdown is not persisted; recovery picks the
// conversation up on the next start.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(o.stopped)

	if o.cur == nil && o.due.IsZero() && o.cfg.FeaturedBusiness != "" {
		o.due = o.clock.Now().Add(o.cfg.InitialDelay)
	}
	o.publishState()

	o.logger.Info("scheduler started",
		"featured_business", o.cfg.FeaturedBusiness,
		"resumed", o.cur != nil,
	)

	for {
		o.tick(ctx)
		if ctx.Err() != nil {
			break
		}

		timer := o.clock.NewTimer(o.sleepFor())
		select {
		case <-ctx.Done():
			timer.Stop()
		case cmd := <-o.cmds:
			timer.Stop()
			id, err := o.start(ctx, cmd.businessID, cmd.topic)
			cmd.reply <- startReply{id: id, err: err}
		case <-timer.Chan():
		}
		if ctx.Err() != nil {
			break
		}
	}

	o.logger.Info("scheduler stopped")
	return nil
}

// sleepFor returns how long the loop may sleep: until the next due time,
// capped at the poll interval.
func (o *Orchestrator) sleepFor() time.Duration {
	wait := o.cfg.PollInterval
	if o.due.IsZero() {
		return wait
	}
	if d := o.due.Sub(o.clock.Now()); d < wait {
		wait = max(d, 0)
	}
	return wait
}

// tick performs whatever transition is due.
func (o *Orchestrator) tick(ctx context.Context) {
	now := o.clock.Now()
	if o.due.IsZero() || now.Before(o.due) {
		return
	}

	if o.cur == nil {
		if _, err := o.start(ctx, o.cfg.FeaturedBusiness, ""); err != nil {
			if ctx.Err() != nil {
				return
			}
			o.logger.Warn("automatic start failed, will retry",
				"business_id", o.cfg.FeaturedBusiness,
				"retry_in", o.cfg.RetryInterval,
				"error", err,
			)
			o.due = o.clock.Now().Add(o.cfg.RetryInterval)
			o.publishState()
			return
		}
	}

	if o.cur.nextIndex > o.cur.target {
		o.complete(ctx)
		return
	}
	o.step(ctx)
}

// start creates a conversation and makes it active with message 1 due now.
func (o *Orchestrator) start(ctx context.Context, businessID, topic string) (string, error) {
	if o.cur != nil {
		return "", ErrAlreadyActive
	}
	if businessID == "" {
		return "", errors.New("business id is required")
	}

	biz, err := o.businesses.GetBusiness(ctx, businessID)
	if err != nil {
		return "", fmt.Errorf("business %q: %w", businessID, err)
	}
	if topic == "" {
		if topic, err = o.topics.Topic(ctx, businessID); err != nil {
			return "", fmt.Errorf("choosing topic: %w", err)
		}
	}

	now := o.clock.Now()
	conv := &store.Conversation{
		ID:             uuid.NewString(),
		BusinessID:     businessID,
		Topic:          topic,
		Status:         store.StatusActive,
		TargetMessages: o.cfg.TargetMessages,
		Rounds:         store.Rounds(o.cfg.TargetMessages, o.gen.Roster().Size()),
		CreatedAt:      now,
	}

	if err := o.repo.CreateConversation(ctx, conv); err != nil {
		if !errors.Is(err, store.ErrActiveConversationExists) {
			return "", fmt.Errorf("creating conversation: %w", err)
		}
		// A retried insert can report a conflict with itself.
		existing, gerr := o.repo.GetConversation(ctx, conv.ID)
		if gerr != nil || existing.Status != store.StatusActive {
			return "", ErrAlreadyActive
		}
	}

	o.cur = &run{
		conv:      conv,
		business:  *biz,
		target:    conv.TargetMessages,
		nextIndex: 1,
		nextAt:    conv.CreatedAt,
	}
	o.due = now
	o.publishState()

	o.logger.Info("conversation started",
		"conversation_id", conv.ID,
		"business_id", businessID,
		"topic", topic,
		"target", conv.TargetMessages,
	)
	return conv.ID, nil
}

// step generates and persists the next message. A failed write keeps the
// generated content and retries the same slot after RetryInterval.
func (o *Orchestrator) step(ctx context.Context) {
	r := o.cur

	ctx, span := o.tracer.Start(ctx, "orchestrator.message", trace.WithAttributes(
		attribute.String("conversation.id", r.conv.ID),
		attribute.Int("message.order_index", r.nextIndex),
	))
	defer span.End()

	if r.pending == nil {
		res := o.gen.Generate(ctx, provider.Request{
			ConversationID: r.conv.ID,
			Business:       r.business,
			Topic:          r.conv.Topic,
			OrderIndex:     r.nextIndex,
			TargetMessages: r.target,
			History:        r.history,
		})
		if ctx.Err() != nil {
			o.logger.Info("shutdown during generation, message not persisted",
				"conversation_id", r.conv.ID,
				"order_index", r.nextIndex,
			)
			return
		}
		r.pending = &store.Message{
			ID:             uuid.NewString(),
			ConversationID: r.conv.ID,
			AgentName:      res.Agent.Name,
			AgentProvider:  res.Agent.Provider,
			Content:        res.Text,
			OrderIndex:     r.nextIndex,
			CreatedAt:      r.nextAt,
			Fallback:       res.Fallback,
		}
	}

	err := o.repo.AppendMessage(ctx, r.pending)
	if errors.Is(err, store.ErrDuplicateOrder) {
		err = o.adoptPersisted(ctx, r)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")

		if errors.Is(err, store.ErrConversationClosed) || errors.Is(err, store.ErrNotFound) {
			o.logger.Warn("active conversation closed outside the scheduler, dropping it",
				"conversation_id", r.conv.ID,
				"error", err,
			)
			o.finish()
			return
		}

		o.logger.Warn("persisting message failed, holding slot",
			"conversation_id", r.conv.ID,
			"order_index", r.pending.OrderIndex,
			"retry_in", o.cfg.RetryInterval,
			"error", err,
		)
		o.due = o.clock.Now().Add(o.cfg.RetryInterval)
		o.publishState()
		return
	}

	msg := r.pending
	r.pending = nil
	r.history = append(r.history, msg)
	now := o.clock.Now()
	o.bus.Publish(events.NewMessageAppended(now, msg))

	o.logger.Info("message appended",
		"conversation_id", r.conv.ID,
		"order_index", msg.OrderIndex,
		"agent", msg.AgentName,
		"fallback", msg.Fallback,
	)

	if msg.OrderIndex >= r.target {
		r.nextIndex = r.target + 1
		o.complete(ctx)
		return
	}

	delay := o.drawDelay()
	r.nextIndex = msg.OrderIndex + 1
	r.nextAt = msg.CreatedAt.Add(delay)
	o.due = now.Add(delay)
	o.publishState()
}

// adoptPersisted handles ErrDuplicateOrder from a retried write: when the
// slot holds a message, an earlier attempt landed and that row is used.
func (o *Orchestrator) adoptPersisted(ctx context.Context, r *run) error {
	msgs, err := o.repo.ListMessages(ctx, r.conv.ID, store.Ascending)
	if err != nil {
		return fmt.Errorf("verifying duplicate order index: %w", err)
	}
	idx := r.pending.OrderIndex
	if len(msgs) < idx || msgs[idx-1].OrderIndex != idx {
		return store.ErrDuplicateOrder
	}
	o.logger.Info("message already persisted by an earlier attempt",
		"conversation_id", r.conv.ID,
		"order_index", idx,
	)
	r.pending = msgs[idx-1]
	return nil
}

// complete marks the active conversation completed and starts the waiting
// countdown. A failed write is retried after RetryInterval.
func (o *Orchestrator) complete(ctx context.Context) {
	r := o.cur
	now := o.clock.Now()

	err := o.repo.MarkCompleted(ctx, r.conv.ID, completedAt(now, r.history))
	if err != nil && !errors.Is(err, store.ErrAlreadyCompleted) {
		if ctx.Err() != nil {
			return
		}
		o.logger.Warn("completing conversation failed, will retry",
			"conversation_id", r.conv.ID,
			"retry_in", o.cfg.RetryInterval,
			"error", err,
		)
		o.due = now.Add(o.cfg.RetryInterval)
		o.publishState()
		return
	}

	o.logger.Info("conversation completed",
		"conversation_id", r.conv.ID,
		"messages", len(r.history),
		"next_start_in", o.cfg.WaitingPeriod,
	)
	o.finish()
}

// completedAt is now, or the last message's time when a resumed run stamped
// it ahead of the wall clock.
func completedAt(now time.Time, history []*store.Message) time.Time {
	if n := len(history); n > 0 && history[n-1].CreatedAt.After(now) {
		return history[n-1].CreatedAt
	}
	return now
}

// finish returns to WAITING and schedules the next automatic start.
func (o *Orchestrator) finish() {
	o.cur = nil
	o.due = time.Time{}
	if o.cfg.FeaturedBusiness != "" {
		o.due = o.clock.Now().Add(o.cfg.WaitingPeriod)
	}
	o.publishState()
}
