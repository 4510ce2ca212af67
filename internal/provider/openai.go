// ABOUTME: OpenAI chat completions adapter, also used for OpenAI-compatible backends
// ABOUTME: Perplexity is served by the same adapter pointed at its base URL

package provider

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIAdapter calls an OpenAI-compatible chat completions endpoint
type OpenAIAdapter struct {
	cfg    AdapterConfig
	client openai.Client
}

// NewOpenAIAdapter creates an adapter. cfg.Name defaults to "openai".
func NewOpenAIAdapter(cfg AdapterConfig) *OpenAIAdapter {
	if cfg.Name == "" {
		cfg.Name = OpenAI
	}

	// The router owns retry and fallback policy.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIAdapter{
		cfg:    cfg,
		client: openai.NewClient(opts...),
	}
}

// NewPerplexityAdapter creates an OpenAI-compatible adapter for Perplexity.
func NewPerplexityAdapter(cfg AdapterConfig) *OpenAIAdapter {
	cfg.Name = Perplexity
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.perplexity.ai"
	}
	return NewOpenAIAdapter(cfg)
}

// Name returns the provider key.
func (a *OpenAIAdapter) Name() string { return a.cfg.Name }

// Configured reports whether an API key is set.
func (a *OpenAIAdapter) Configured() bool { return a.cfg.APIKey != "" }

// Generate sends a system and user message and returns the first choice.
func (a *OpenAIAdapter) Generate(ctx context.Context, p Prompt) (string, error) {
	if !a.Configured() {
		return "", missingKey(a.cfg.Name)
	}

	params := openai.ChatCompletionNewParams{
		Model: a.cfg.model(p),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.System),
			openai.UserMessage(p.User),
		},
		MaxTokens: openai.Int(int64(a.cfg.maxTokens(p))),
	}
	params.Temperature = openai.Float(a.cfg.temperature(p))

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", statusError(a.cfg.Name, apiErr.StatusCode, err)
		}
		return "", transportError(a.cfg.Name, err)
	}

	if len(resp.Choices) == 0 {
		return "", malformed(a.cfg.Name, "no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
