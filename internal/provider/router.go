// ABOUTME: Dispatches generation requests to the adapter of the speaking agent
// ABOUTME: Any adapter failure is replaced by deterministic fallback text and never returned

package provider

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/2389/parley/internal/provider"

// RouterOptions tunes a Router
type RouterOptions struct {
	Timeout   time.Duration // per adapter call, default 30s
	MaxChars  int           // reply length cap, 0 disables
	Excerpter *Excerpter
	Tracer    trace.Tracer
}

// Result is the outcome of one Generate call. Text is always usable.
type Result struct {
	Agent    Agent
	Text     string
	Fallback bool
	Err      error // adapter failure that caused the fallback
	Latency  time.Duration
}

// ProviderStatus reports whether a backend has credentials
type ProviderStatus struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

// Router owns the roster and the adapters.
type Router struct {
	roster   *Roster
	adapters map[string]Adapter
	opts     RouterOptions
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewRouter creates a router. Adapters are keyed by Name(); a later adapter
// with the same name replaces an earlier one.
func NewRouter(roster *Roster, adapters []Adapter, opts RouterOptions, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	byName := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}

	return &Router{
		roster:   roster,
		adapters: byName,
		opts:     opts,
		tracer:   tracer,
		logger:   logger.With("component", "router"),
	}
}

// Roster returns the roster used for agent assignment.
func (r *Router) Roster() *Roster { return r.roster }

// Providers lists the adapters and their credential status, sorted by name.
func (r *Router) Providers() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(r.adapters))
	for name, a := range r.adapters {
		out = append(out, ProviderStatus{Name: name, Configured: a.Configured()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Generate produces the message at req.OrderIndex. The agent is chosen by
// the roster. When the adapter fails, times out, or returns nothing usable,
// the result carries fallback text and the cause in Err.
func (r *Router) Generate(ctx context.Context, req Request) Result {
	agent := r.roster.AgentFor(req.ConversationID, req.OrderIndex)

	ctx, span := r.tracer.Start(ctx, "provider.generate", trace.WithAttributes(
		attribute.String("agent.name", agent.Name),
		attribute.String("agent.provider", agent.Provider),
		attribute.String("conversation.id", req.ConversationID),
		attribute.Int("message.order_index", req.OrderIndex),
	))
	defer span.End()

	start := time.Now()
	text, err := r.call(ctx, agent, req)
	latency := time.Since(start)

	res := Result{Agent: agent, Text: text, Latency: latency}
	if err != nil {
		res.Err = err
		res.Fallback = true
		res.Text = Fallback(agent, req.Topic, req.Business.Name, req.OrderIndex, r.roster.Size())

		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		r.logger.Warn("provider call failed, using fallback",
			"provider", agent.Provider,
			"agent", agent.Name,
			"success", false,
			"kind", KindOf(err),
			"latency_ms", latency.Milliseconds(),
			"error", err,
		)
	} else {
		r.logger.Info("provider call",
			"provider", agent.Provider,
			"agent", agent.Name,
			"success", true,
			"latency_ms", latency.Milliseconds(),
			"chars", len(text),
		)
	}
	span.SetAttributes(attribute.Bool("fallback", res.Fallback))
	return res
}

func (r *Router) call(ctx context.Context, agent Agent, req Request) (string, error) {
	adapter, ok := r.adapters[agent.Provider]
	if !ok {
		return "", &Error{Provider: agent.Provider, Kind: KindUnknownProvider, Err: errUnknownProvider}
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	prompt := BuildPrompt(agent, req, r.roster.Size(), r.opts.Excerpter.Lines(req.History), r.opts.MaxChars)

	raw, err := adapter.Generate(ctx, prompt)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded && KindOf(err) != KindTimeout {
			return "", &Error{Provider: agent.Provider, Kind: KindTimeout, Err: err}
		}
		return "", transportError(agent.Provider, err)
	}

	text := PlainText(raw, r.opts.MaxChars)
	if text == "" {
		return "", malformed(agent.Provider, "empty reply")
	}
	return text, nil
}
