// ABOUTME: Server-Sent Events stream of orchestrator events
// ABOUTME: Sends the current state first, then every bus event, with periodic keepalives

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/parley/internal/events"
)

// keepAliveInterval spaces SSE comments on an idle stream
var keepAliveInterval = 15 * time.Second

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	ch, subID := s.opts.Orchestrator.Subscribe(ctx)
	logger := s.logger.With("sub_id", subID)
	logger.Debug("event stream opened", "remote", r.RemoteAddr)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s.writeSSEEvent(w, "state", s.opts.Orchestrator.GetState())
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("event stream closed")
			return
		case <-keepAlive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.writeSSEEvent(w, sseEventName(ev), ev)
			flusher.Flush()
		}
	}
}

func sseEventName(ev events.Event) string {
	if ev.Kind == events.KindMessageAppended {
		return "message"
	}
	return "state"
}

// writeSSEEvent writes one event in "event: x\ndata: json\n\n" form.
func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, dataJSON)
}
