// ABOUTME: Conversation orchestrator owning the WAITING/ACTIVE lifecycle
// ABOUTME: Public API used by the HTTP surface: start commands, state snapshots, transcripts and events

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/parley/internal/events"
	"github.com/2389/parley/internal/provider"
	"github.com/2389/parley/internal/store"
)

var (
	// ErrAlreadyActive is returned when a start is requested while a
	// conversation is active. Requests are never queued.
	ErrAlreadyActive = errors.New("a conversation is already in progress")

	// ErrNotRunning is returned by commands when the scheduler loop is not running.
	ErrNotRunning = errors.New("orchestrator is not running")

	// ErrAlreadyStarted is returned by Run and Resume once the loop has started.
	ErrAlreadyStarted = errors.New("orchestrator already started")
)

// Status is the orchestrator's lifecycle state
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusActive  Status = "active"
)

// State is a read-only snapshot of the orchestrator
type State struct {
	Status            Status     `json:"status"`
	ConversationID    string     `json:"conversation_id,omitempty"`
	BusinessID        string     `json:"business_id,omitempty"`
	Topic             string     `json:"topic,omitempty"`
	MessagesGenerated int        `json:"messages_generated"`
	TargetMessages    int        `json:"target_messages"`
	NextEventTime     *time.Time `json:"next_event_time,omitempty"`
}

// Generator produces message text. *provider.Router implements it.
type Generator interface {
	Generate(ctx context.Context, req provider.Request) provider.Result
	Roster() *provider.Roster
}

// TopicPolicy picks a topic when a start does not name one
type TopicPolicy interface {
	Topic(ctx context.Context, businessID string) (string, error)
}

// Config holds pacing and scheduling parameters
type Config struct {
	TargetMessages   int
	MinInterval      time.Duration
	MaxInterval      time.Duration
	WaitingPeriod    time.Duration
	InitialDelay     time.Duration // before the first automatic start
	PollInterval     time.Duration // upper bound on how long the loop sleeps
	RetryInterval    time.Duration // after a failed write or automatic start
	FeaturedBusiness string        // empty disables automatic starts
}

// Deps are the collaborators the orchestrator drives
type Deps struct {
	Repo       store.Repository
	Businesses store.BusinessLookup
	Generator  Generator
	Topics     TopicPolicy
	Bus        *events.Bus
	Clock      clockwork.Clock // defaults to the real clock
	Tracer     trace.Tracer    // defaults to the global provider

	// Int64N draws delays; defaults to math/rand/v2.
	Int64N func(n int64) int64
}

// Orchestrator runs one conversation at a time. All transitions happen on the
// goroutine executing Run; other goroutines read snapshots or send commands.
type Orchestrator struct {
	cfg        Config
	repo       store.Repository
	businesses store.BusinessLookup
	gen        Generator
	topics     TopicPolicy
	bus        *events.Bus
	clock      clockwork.Clock
	tracer     trace.Tracer
	int64n     func(int64) int64
	logger     *slog.Logger

	cmds    chan startCmd
	started atomic.Bool
	stopped chan struct{}

	// owned by the loop goroutine
	cur *run
	due time.Time

	mu    sync.RWMutex
	state State
}

// run is the in-memory cache of the active conversation. The repository stays
// authoritative; recovery rebuilds this after a restart.
type run struct {
	conv      *store.Conversation
	business  store.Business
	target    int
	history   []*store.Message
	nextIndex int
	nextAt    time.Time      // logical timestamp for nextIndex
	pending   *store.Message // generated but not yet persisted
}

type startCmd struct {
	businessID string
	topic      string
	reply      chan startReply
}

type startReply struct {
	id  string
	err error
}

// New creates an orchestrator in the WAITING state.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Repo == nil || deps.Businesses == nil || deps.Generator == nil || deps.Topics == nil {
		return nil, errors.New("orchestrator: repo, businesses, generator and topics are required")
	}
	if cfg.TargetMessages <= 0 {
		return nil, fmt.Errorf("orchestrator: target messages must be positive, got %d", cfg.TargetMessages)
	}
	if cfg.MinInterval < 0 || cfg.MaxInterval < cfg.MinInterval {
		return nil, fmt.Errorf("orchestrator: invalid interval [%s, %s]", cfg.MinInterval, cfg.MaxInterval)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = cfg.PollInterval
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus(logger)
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("github.com/2389/parley/internal/orchestrator")
	}
	if deps.Int64N == nil {
		deps.Int64N = rand.Int64N
	}

	o := &Orchestrator{
		cfg:        cfg,
		repo:       deps.Repo,
		businesses: deps.Businesses,
		gen:        deps.Generator,
		topics:     deps.Topics,
		bus:        deps.Bus,
		clock:      deps.Clock,
		tracer:     deps.Tracer,
		int64n:     deps.Int64N,
		logger:     logger.With("component", "orchestrator"),
		cmds:       make(chan startCmd),
		stopped:    make(chan struct{}),
	}
	o.state = State{Status: StatusWaiting, TargetMessages: cfg.TargetMessages}
	return o, nil
}

// Resume installs a conversation found by recovery as the active one. Its
// next message is due as soon as Run starts. Must be called before Run.
func (o *Orchestrator) Resume(res *Resumption) error {
	if res == nil {
		return nil
	}
	if o.started.Load() {
		return ErrAlreadyStarted
	}

	target := res.Conversation.TargetMessages
	if target <= 0 {
		target = o.cfg.TargetMessages
	}

	r := &run{
		conv:      res.Conversation,
		business:  res.Business,
		target:    target,
		history:   append([]*store.Message(nil), res.History...),
		nextIndex: len(res.History) + 1,
		nextAt:    res.Conversation.CreatedAt,
	}
	if n := len(res.History); n > 0 {
		r.nextAt = res.History[n-1].CreatedAt.Add(o.drawDelay())
	}

	o.cur = r
	o.due = o.clock.Now()
	o.updateState()

	o.logger.Info("conversation resumed",
		"conversation_id", r.conv.ID,
		"next_index", r.nextIndex,
		"target", r.target,
	)
	return nil
}

// RequestStart asks the loop to start a conversation. An empty topic is
// chosen by the topic policy. It fails with ErrAlreadyActive, without
// queuing, when a conversation is in progress.
func (o *Orchestrator) RequestStart(ctx context.Context, businessID, topic string) (string, error) {
	if !o.Running() {
		return "", ErrNotRunning
	}
	if o.GetState().Status == StatusActive {
		return "", ErrAlreadyActive
	}

	cmd := startCmd{businessID: businessID, topic: topic, reply: make(chan startReply, 1)}
	select {
	case o.cmds <- cmd:
	case <-o.stopped:
		return "", ErrNotRunning
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case r := <-cmd.reply:
		return r.id, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// StartConversation is RequestStart under the name collaborators use.
func (o *Orchestrator) StartConversation(ctx context.Context, businessID, topic string) (string, error) {
	return o.RequestStart(ctx, businessID, topic)
}

// GetState returns a snapshot safe to read from any goroutine.
func (o *Orchestrator) GetState() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s := o.state
	if s.NextEventTime != nil {
		t := *s.NextEventTime
		s.NextEventTime = &t
	}
	return s
}

// GetStatus returns the same snapshot as GetState.
func (o *Orchestrator) GetStatus() State { return o.GetState() }

// Running reports whether the scheduler loop is executing.
func (o *Orchestrator) Running() bool {
	if !o.started.Load() {
		return false
	}
	select {
	case <-o.stopped:
		return false
	default:
		return true
	}
}

// GetTranscript returns a conversation's messages in order_index order.
func (o *Orchestrator) GetTranscript(ctx context.Context, conversationID string) ([]*store.Message, error) {
	if _, err := o.repo.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return o.repo.ListMessages(ctx, conversationID, store.Ascending)
}

// Subscribe streams state and message events until ctx is cancelled.
func (o *Orchestrator) Subscribe(ctx context.Context) (<-chan events.Event, string) {
	return o.bus.Subscribe(ctx)
}

// Bus returns the event bus the orchestrator publishes to.
func (o *Orchestrator) Bus() *events.Bus { return o.bus }

// drawDelay picks the gap before the next message uniformly in
// [MinInterval, MaxInterval].
func (o *Orchestrator) drawDelay() time.Duration {
	span := o.cfg.MaxInterval - o.cfg.MinInterval
	if span <= 0 {
		return o.cfg.MinInterval
	}
	return o.cfg.MinInterval + time.Duration(o.int64n(int64(span)+1))
}

// updateState refreshes the snapshot from loop-owned fields.
func (o *Orchestrator) updateState() State {
	s := State{Status: StatusWaiting, TargetMessages: o.cfg.TargetMessages}
	if r := o.cur; r != nil {
		s.Status = StatusActive
		s.ConversationID = r.conv.ID
		s.BusinessID = r.conv.BusinessID
		s.Topic = r.conv.Topic
		s.MessagesGenerated = len(r.history)
		s.TargetMessages = r.target
	}
	if !o.due.IsZero() {
		due := o.due
		s.NextEventTime = &due
	}

	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	return s
}

// publishState refreshes the snapshot and announces it.
func (o *Orchestrator) publishState() {
	s := o.updateState()
	o.bus.Publish(events.NewStateChanged(o.clock.Now(), events.StateChanged{
		Status:         string(s.Status),
		ConversationID: s.ConversationID,
		Topic:          s.Topic,
		Progress:       events.Progress{Generated: s.MessagesGenerated, Target: s.TargetMessages},
		NextEventTime:  s.NextEventTime,
	}))
}
