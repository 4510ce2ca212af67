// ABOUTME: Matrix relay posting conversation messages into a room
// ABOUTME: Messages go out as HTML-formatted text, lifecycle changes as notices

package relay

import (
	"context"
	"fmt"
	"html"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/parley/internal/events"
)

// RoomSender is the part of *mautrix.Client the relay uses
type RoomSender interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	SendNotice(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
}

// Matrix posts into a single room
type Matrix struct {
	client RoomSender
	room   id.RoomID

	lastStatus string
	lastConv   string
}

// NewMatrixClient logs in with an access token.
func NewMatrixClient(homeserver, userID, accessToken string) (*mautrix.Client, error) {
	client, err := mautrix.NewClient(homeserver, id.UserID(userID), accessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return client, nil
}

// NewMatrix creates a Matrix sink for roomID.
func NewMatrix(client RoomSender, roomID string) *Matrix {
	return &Matrix{client: client, room: id.RoomID(roomID)}
}

func (m *Matrix) Name() string { return "matrix" }

// Deliver posts appended messages and announces conversation starts and ends.
// Progress-only state changes are not posted.
func (m *Matrix) Deliver(ctx context.Context, ev events.Event) error {
	switch ev.Kind {
	case events.KindMessageAppended:
		if ev.Message == nil || ev.Message.Message == nil {
			return nil
		}
		content := FormatMessage(ev.Message.Message.AgentName, ev.Message.Message.Content)
		_, err := m.client.SendMessageEvent(ctx, m.room, event.EventMessage, content)
		return err
	case events.KindStateChanged:
		if ev.State == nil {
			return nil
		}
		notice, ok := m.stateNotice(ev.State)
		if !ok {
			return nil
		}
		_, err := m.client.SendNotice(ctx, m.room, notice)
		return err
	}
	return nil
}

// stateNotice returns a notice for transitions, skipping repeats.
func (m *Matrix) stateNotice(s *events.StateChanged) (string, bool) {
	if s.Status == m.lastStatus && s.ConversationID == m.lastConv {
		return "", false
	}
	prevConv := m.lastConv
	m.lastStatus, m.lastConv = s.Status, s.ConversationID

	switch {
	case s.Status == "active":
		return fmt.Sprintf("New conversation: %s (%d messages)", s.Topic, s.Progress.Target), true
	case s.Status == "waiting" && prevConv != "":
		return "Conversation complete.", true
	}
	return "", false
}

// FormatMessage renders one chat line with the agent name in bold. Body
// carries the plain fallback for clients that ignore formatted_body.
func FormatMessage(agent, content string) *event.MessageEventContent {
	return &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          agent + ": " + content,
		Format:        event.FormatHTML,
		FormattedBody: "<strong>" + html.EscapeString(agent) + "</strong>: " + html.EscapeString(content),
	}
}
