// ABOUTME: Tests for the HTTP client commands against a stub server

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/orchestrator"
	"github.com/2389/parley/internal/provider"
	"github.com/2389/parley/internal/server"
	"github.com/2389/parley/internal/store"
)

func noColor(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func TestBaseURL(t *testing.T) {
	resetFlags(t)
	cfg := config.Default()

	cfg.Server.HTTPAddr = ":8080"
	assert.Equal(t, "http://127.0.0.1:8080", baseURL(cfg))

	cfg.Server.HTTPAddr = "10.0.0.5:9000"
	assert.Equal(t, "http://10.0.0.5:9000", baseURL(cfg))

	serverFlag = "https://parley.example/"
	assert.Equal(t, "https://parley.example", baseURL(cfg))
}

func TestResolveToken(t *testing.T) {
	resetFlags(t)
	t.Setenv("PARLEY_TOKEN", "")
	cfg := config.Default()

	token, err := resolveToken(cfg)
	require.NoError(t, err)
	assert.Empty(t, token)

	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	token, err = resolveToken(cfg)
	require.NoError(t, err)
	sub, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "parley-cli", sub)

	t.Setenv("PARLEY_TOKEN", "from-env")
	token, _ = resolveToken(cfg)
	assert.Equal(t, "from-env", token)

	tokenFlag = "from-flag"
	token, _ = resolveToken(cfg)
	assert.Equal(t, "from-flag", token)
}

func TestAPICall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
			var req server.StartRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(server.StartResponse{ConversationID: "conv-" + req.BusinessID})
		case "/conflict":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"a conversation is already in progress"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	var resp server.StartResponse
	err := apiCall(t.Context(), http.MethodPost, srv.URL+"/ok", server.StartRequest{BusinessID: "acme"},
		map[string]string{"Authorization": "Bearer abc"}, &resp)
	require.NoError(t, err)
	assert.Equal(t, "conv-acme", resp.ConversationID)

	err = apiCall(t.Context(), http.MethodPost, srv.URL+"/conflict", server.StartRequest{BusinessID: "acme"}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")
	assert.Contains(t, err.Error(), "409")

	err = apiCall(t.Context(), http.MethodGet, srv.URL+"/other", nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestPrintStatus(t *testing.T) {
	noColor(t)
	var buf bytes.Buffer
	printStatus(&buf, server.StatusResponse{
		State: orchestrator.State{
			Status:            orchestrator.StatusActive,
			ConversationID:    "c1",
			BusinessID:        "acme",
			Topic:             "Emergency Repairs",
			MessagesGenerated: 5,
			TargetMessages:    16,
		},
		Countdown: server.Countdown{State: server.CountdownNextMessage, RemainingSeconds: 75},
		Providers: []provider.ProviderStatus{{Name: "openai", Configured: true}, {Name: "gemini"}},
		Totals:    &server.Totals{TotalConversations: 3, CompletedConversations: 2, TotalMessages: 37, MessagesLastHour: 9},
	})

	out := buf.String()
	assert.Contains(t, out, "active")
	assert.Contains(t, out, "5/16")
	assert.Contains(t, out, "1m15s")
	assert.Contains(t, out, "✓ openai")
	assert.Contains(t, out, "✗ gemini")
	assert.Contains(t, out, "3 (2 completed)")
	assert.Contains(t, out, "37 (9 in the last hour)")
}

func TestPrintTranscript(t *testing.T) {
	noColor(t)
	var buf bytes.Buffer
	printTranscript(&buf, server.TranscriptResponse{})
	assert.Equal(t, "no messages yet\n", buf.String())

	buf.Reset()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	printTranscript(&buf, server.TranscriptResponse{
		ConversationID: "c1",
		Messages: []*store.Message{
			{AgentName: "Business AI Assistant", Content: "Hello.", OrderIndex: 1, CreatedAt: at},
			{AgentName: "SEO AI Specialist", Content: "Hi.", OrderIndex: 2, CreatedAt: at.Add(90 * time.Second), Fallback: true},
		},
	})
	out := buf.String()
	assert.Contains(t, out, " 1 12:00:00 Business AI Assistant: Hello.")
	assert.Contains(t, out, " 2 12:01:30 SEO AI Specialist (fallback): Hi.")
}
