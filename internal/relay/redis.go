// ABOUTME: Redis relay publishing events to a pub/sub channel and messages to a stream
// ABOUTME: The stream is capped with an approximate MAXLEN

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/2389/parley/internal/events"
)

// streamMaxLen caps the message stream (MAXLEN ~)
const streamMaxLen = 1000

// Redis publishes every event as JSON to Channel and appends message events
// to Stream.
type Redis struct {
	client  redis.Cmdable
	channel string
	stream  string
}

// NewRedis creates a Redis sink. An empty stream disables XADD.
func NewRedis(client redis.Cmdable, channel, stream string) *Redis {
	return &Redis{client: client, channel: channel, stream: stream}
}

func (r *Redis) Name() string { return "redis" }

// Deliver publishes ev and, for appended messages, adds a stream entry.
func (r *Redis) Deliver(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	if ev.Kind != events.KindMessageAppended || ev.Message == nil || r.stream == "" {
		return nil
	}
	msg := ev.Message.Message
	if err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"conversation_id": msg.ConversationID,
			"order_index":     strconv.Itoa(msg.OrderIndex),
			"agent":           msg.AgentName,
			"provider":        msg.AgentProvider,
			"content":         msg.Content,
			"fallback":        strconv.FormatBool(msg.Fallback),
		},
	}).Err(); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}
