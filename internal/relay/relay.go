// ABOUTME: Shared loop that feeds event bus notifications to an external sink
// ABOUTME: Failed deliveries are logged and skipped; the loop ends with its context

package relay

import (
	"context"
	"log/slog"

	"github.com/2389/parley/internal/events"
)

// Sink delivers one event to an external system
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev events.Event) error
}

// Subscriber is the part of the event bus a relay needs
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan events.Event, string)
}

// Run subscribes sink to bus and delivers events until ctx is cancelled or
// the bus closes. It returns the number of events delivered.
func Run(ctx context.Context, bus Subscriber, sink Sink, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relay", "sink", sink.Name())

	ch, subID := bus.Subscribe(ctx)
	logger.Info("relay started", "sub_id", subID)

	delivered := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("relay stopped", "delivered", delivered)
			return delivered
		case ev, ok := <-ch:
			if !ok {
				logger.Info("event bus closed", "delivered", delivered)
				return delivered
			}
			if err := sink.Deliver(ctx, ev); err != nil {
				if ctx.Err() != nil {
					continue
				}
				logger.Warn("delivery failed, skipping event", "type", ev.Kind, "error", err)
				continue
			}
			delivered++
		}
	}
}
