// ABOUTME: Tests for Router dispatch, timeouts and fallback substitution
// ABOUTME: Uses in-process stub adapters so no network is touched

package provider

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/2389/parley/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	name       string
	configured bool
	reply      string
	err        error
	block      bool

	mu      sync.Mutex
	prompts []Prompt
}

func (s *stubAdapter) Name() string     { return s.name }
func (s *stubAdapter) Configured() bool { return s.configured }

func (s *stubAdapter) Generate(ctx context.Context, p Prompt) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, p)
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.reply, s.err
}

func (s *stubAdapter) lastPrompt() Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[len(s.prompts)-1]
}

func testAgents() []Agent {
	return []Agent{
		{Name: "Business AI Assistant", Provider: OpenAI, Role: "Business strategy expert"},
		{Name: "SEO AI Specialist", Provider: Anthropic, Role: "SEO specialist"},
		{Name: "Customer Service AI", Provider: Perplexity, Role: "Customer experience expert"},
		{Name: "Marketing AI Expert", Provider: Gemini, Role: "Marketing specialist"},
	}
}

func testRequest(index int) Request {
	return Request{
		ConversationID: "conv-1",
		Business:       store.Business{ID: "acme", Name: "Acme Roofing", Industry: "Roofing", Location: "Denver, CO"},
		Topic:          "Emergency Repairs",
		OrderIndex:     index,
		TargetMessages: 16,
	}
}

func newTestRouter(t *testing.T, adapters []Adapter, opts RouterOptions) *Router {
	t.Helper()
	roster, err := NewRoster(testAgents(), OrderFixed)
	require.NoError(t, err)
	return NewRouter(roster, adapters, opts, nil)
}

func TestRouterGenerateSuccess(t *testing.T) {
	openai := &stubAdapter{name: OpenAI, configured: true, reply: "**Acme Roofing** should publish a clear\n\nemergency line."}
	r := newTestRouter(t, []Adapter{openai}, RouterOptions{MaxChars: 280})

	res := r.Generate(t.Context(), testRequest(1))

	require.NoError(t, res.Err)
	assert.False(t, res.Fallback)
	assert.Equal(t, "Business AI Assistant", res.Agent.Name)
	assert.Equal(t, "Acme Roofing should publish a clear emergency line.", res.Text)

	p := openai.lastPrompt()
	assert.Contains(t, p.System, "You are Business AI Assistant")
	assert.Contains(t, p.System, "under 280 characters")
	assert.Contains(t, p.User, "Business: Acme Roofing")
	assert.Contains(t, p.User, "Topic: Emergency Repairs")
	assert.Contains(t, p.User, "Round 1 of 4 (message 1 of 16)")
}

func TestRouterFallbackOnAdapterError(t *testing.T) {
	anthropic := &stubAdapter{name: Anthropic, configured: true, err: &Error{Provider: Anthropic, Kind: KindStatus, StatusCode: 500, Err: errors.New("boom")}}
	r := newTestRouter(t, []Adapter{anthropic}, RouterOptions{})

	res := r.Generate(t.Context(), testRequest(2))

	assert.True(t, res.Fallback)
	assert.Equal(t, KindStatus, KindOf(res.Err))
	assert.Equal(t, "SEO AI Specialist", res.Agent.Name)
	assert.Equal(t, Fallback(res.Agent, "Emergency Repairs", "Acme Roofing", 2, 4), res.Text)
	assert.Contains(t, res.Text, "emergency repairs")
	assert.Contains(t, res.Text, "Acme Roofing")
}

func TestRouterFallbackOnTimeout(t *testing.T) {
	slow := &stubAdapter{name: OpenAI, configured: true, block: true}
	r := newTestRouter(t, []Adapter{slow}, RouterOptions{Timeout: 20 * time.Millisecond})

	start := time.Now()
	res := r.Generate(t.Context(), testRequest(1))

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, res.Fallback)
	assert.Equal(t, KindTimeout, KindOf(res.Err))
	assert.NotEmpty(t, res.Text)
}

func TestRouterFallbackOnUnknownProvider(t *testing.T) {
	r := newTestRouter(t, nil, RouterOptions{})

	res := r.Generate(t.Context(), testRequest(4))

	assert.True(t, res.Fallback)
	assert.Equal(t, KindUnknownProvider, KindOf(res.Err))
	assert.Equal(t, "Marketing AI Expert", res.Agent.Name)
}

func TestRouterFallbackOnEmptyReply(t *testing.T) {
	empty := &stubAdapter{name: OpenAI, configured: true, reply: "  <br>  "}
	r := newTestRouter(t, []Adapter{empty}, RouterOptions{})

	res := r.Generate(t.Context(), testRequest(1))

	assert.True(t, res.Fallback)
	assert.Equal(t, KindMalformed, KindOf(res.Err))
}

func TestRouterFallbackOnMissingKey(t *testing.T) {
	r := newTestRouter(t, []Adapter{NewOpenAIAdapter(AdapterConfig{})}, RouterOptions{})

	res := r.Generate(t.Context(), testRequest(1))

	assert.True(t, res.Fallback)
	assert.Equal(t, KindCredentials, KindOf(res.Err))
}

func TestRouterAllProvidersFailingCompletesEveryMessage(t *testing.T) {
	failing := []Adapter{
		&stubAdapter{name: OpenAI, err: errors.New("down")},
		&stubAdapter{name: Anthropic, err: errors.New("down")},
		&stubAdapter{name: Perplexity, err: errors.New("down")},
		&stubAdapter{name: Gemini, err: errors.New("down")},
	}
	r := newTestRouter(t, failing, RouterOptions{})

	for i := 1; i <= 16; i++ {
		res := r.Generate(t.Context(), testRequest(i))
		assert.True(t, res.Fallback, "message %d", i)
		assert.NotEmpty(t, strings.TrimSpace(res.Text), "message %d", i)
	}
}

func TestRouterIncludesExcerpt(t *testing.T) {
	openai := &stubAdapter{name: OpenAI, configured: true, reply: "ok"}
	ex := NewExcerpter(2, 0, nil)
	r := newTestRouter(t, []Adapter{openai}, RouterOptions{Excerpter: ex})

	req := testRequest(5)
	req.History = []*store.Message{
		{AgentName: "Business AI Assistant", Content: "first"},
		{AgentName: "SEO AI Specialist", Content: "second"},
		{AgentName: "Customer Service AI", Content: "third"},
	}
	r.Generate(t.Context(), req)

	p := openai.lastPrompt()
	assert.Contains(t, p.User, "Previous conversation:")
	assert.NotContains(t, p.User, "first")
	assert.Contains(t, p.User, "SEO AI Specialist: second")
	assert.Contains(t, p.User, "Customer Service AI: third")
	assert.Contains(t, p.User, "Round 2 of 4 (message 5 of 16)")
}

func TestRouterProviders(t *testing.T) {
	r := newTestRouter(t, []Adapter{
		&stubAdapter{name: OpenAI, configured: true},
		&stubAdapter{name: Anthropic},
	}, RouterOptions{})

	assert.Equal(t, []ProviderStatus{
		{Name: Anthropic, Configured: false},
		{Name: OpenAI, Configured: true},
	}, r.Providers())
}
