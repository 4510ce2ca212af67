// ABOUTME: JSON handlers for status, conversation start, listing and transcripts
// ABOUTME: Errors are rendered as {"error": "..."} with a matching status code

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/orchestrator"
	"github.com/2389/parley/internal/provider"
	"github.com/2389/parley/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Countdown states reported by /api/status
const (
	CountdownNextMessage      = "next_message"
	CountdownNextConversation = "next_conversation"
	CountdownIdle             = "idle"
)

// StartRequest is the body of POST /api/conversations
type StartRequest struct {
	BusinessID string `json:"business_id"`
	Topic      string `json:"topic,omitempty"`
}

// StartResponse is returned by POST /api/conversations
type StartResponse struct {
	ConversationID string `json:"conversation_id"`
}

// Countdown tells clients how long until the next event
type Countdown struct {
	State            string `json:"state"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// Totals are system-wide counters
type Totals struct {
	TotalConversations     int `json:"total_conversations"`
	CompletedConversations int `json:"completed_conversations"`
	TotalMessages          int `json:"total_messages"`
	MessagesLastHour       int `json:"messages_last_hour"`
}

// StatusResponse is returned by GET /api/status
type StatusResponse struct {
	orchestrator.State
	Countdown Countdown                 `json:"countdown"`
	Providers []provider.ProviderStatus `json:"providers"`
	Totals    *Totals                   `json:"totals,omitempty"`
}

// ConversationResponse describes one conversation
type ConversationResponse struct {
	ID             string     `json:"id"`
	BusinessID     string     `json:"business_id"`
	Topic          string     `json:"topic"`
	Status         string     `json:"status"`
	TargetMessages int        `json:"target_messages"`
	Rounds         int        `json:"rounds"`
	MessageCount   int        `json:"message_count"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// ListConversationsResponse is returned by GET /api/conversations
type ListConversationsResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
}

// TranscriptResponse is returned by GET /api/conversations/{id}/messages
type TranscriptResponse struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []*store.Message `json:"messages"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 while the scheduler loop runs.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.opts.Orchestrator.Running() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("scheduler not running"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%s)", s.opts.Orchestrator.GetState().Status)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := s.opts.Orchestrator.GetState()
	now := s.opts.Now()

	resp := StatusResponse{
		State:     state,
		Countdown: countdown(state, now),
		Providers: []provider.ProviderStatus{},
	}
	if s.opts.Providers != nil {
		resp.Providers = s.opts.Providers.Providers()
	}

	stats, err := s.opts.Repo.Stats(r.Context(), now.Add(-time.Hour))
	if err != nil {
		s.logger.Warn("loading totals failed", "error", err)
	} else {
		resp.Totals = &Totals{
			TotalConversations:     stats.TotalConversations,
			CompletedConversations: stats.CompletedConversations,
			TotalMessages:          stats.TotalMessages,
			MessagesLastHour:       stats.MessagesSince,
		}
	}

	s.sendJSON(w, http.StatusOK, resp)
}

// countdown derives the countdown from a state snapshot.
func countdown(state orchestrator.State, now time.Time) Countdown {
	if state.NextEventTime == nil {
		return Countdown{State: CountdownIdle}
	}
	remaining := max(int(state.NextEventTime.Sub(now).Round(time.Second)/time.Second), 0)
	if state.Status == orchestrator.StatusActive {
		return Countdown{State: CountdownNextMessage, RemainingSeconds: remaining}
	}
	return Countdown{State: CountdownNextConversation, RemainingSeconds: remaining}
}

func (s *Server) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.Topic = strings.TrimSpace(req.Topic)
	if req.BusinessID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "business_id is required")
		return
	}

	subject := auth.SubjectFromContext(r.Context())
	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && s.opts.Dedupe != nil {
		if id, ok := s.opts.Dedupe.Get(subject + ":" + idemKey); ok {
			w.Header().Set("Idempotent-Replayed", "true")
			s.sendJSON(w, http.StatusCreated, StartResponse{ConversationID: id})
			return
		}
	}

	id, err := s.opts.Orchestrator.RequestStart(r.Context(), req.BusinessID, req.Topic)
	switch {
	case errors.Is(err, orchestrator.ErrAlreadyActive):
		s.sendJSONError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, store.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, fmt.Sprintf("business %q not found", req.BusinessID))
		return
	case errors.Is(err, orchestrator.ErrNotRunning):
		s.sendJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Error("starting conversation failed", "business_id", req.BusinessID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if idemKey != "" && s.opts.Dedupe != nil {
		s.opts.Dedupe.Put(subject+":"+idemKey, id)
	}
	s.logger.Info("conversation started via API",
		"conversation_id", id,
		"business_id", req.BusinessID,
		"subject", subject,
	)
	w.Header().Set("Location", "/api/conversations/"+id)
	s.sendJSON(w, http.StatusCreated, StartResponse{ConversationID: id})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	convs, err := s.opts.Repo.ListConversations(r.Context(), store.ConversationFilter{
		BusinessID: r.URL.Query().Get("business_id"),
		Limit:      limit,
	})
	if err != nil {
		s.logger.Error("listing conversations failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ListConversationsResponse{Conversations: make([]ConversationResponse, 0, len(convs))}
	for _, c := range convs {
		resp.Conversations = append(resp.Conversations, toConversationResponse(c))
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.opts.Repo.GetConversation(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("loading conversation failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.sendJSON(w, http.StatusOK, toConversationResponse(conv))
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msgs, err := s.opts.Orchestrator.GetTranscript(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("loading transcript failed", "conversation_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	s.sendJSON(w, http.StatusOK, TranscriptResponse{ConversationID: id, Messages: msgs})
}

func toConversationResponse(c *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:             c.ID,
		BusinessID:     c.BusinessID,
		Topic:          c.Topic,
		Status:         string(c.Status),
		TargetMessages: c.TargetMessages,
		Rounds:         c.Rounds,
		MessageCount:   c.MessageCount,
		CreatedAt:      c.CreatedAt,
		CompletedAt:    c.CompletedAt,
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("writing response failed", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}
