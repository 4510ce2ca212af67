// ABOUTME: Anthropic Messages API adapter
// ABOUTME: Concatenates text blocks from the response into one reply

package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicAdapter calls the Anthropic Messages API
type AnthropicAdapter struct {
	cfg    AdapterConfig
	client anthropic.Client
}

// NewAnthropicAdapter creates an adapter.
func NewAnthropicAdapter(cfg AdapterConfig) *AnthropicAdapter {
	cfg.Name = Anthropic

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicAdapter{
		cfg:    cfg,
		client: anthropic.NewClient(opts...),
	}
}

// Name returns the provider key.
func (a *AnthropicAdapter) Name() string { return a.cfg.Name }

// Configured reports whether an API key is set.
func (a *AnthropicAdapter) Configured() bool { return a.cfg.APIKey != "" }

// Generate sends the prompt as a single user turn with a system block.
func (a *AnthropicAdapter) Generate(ctx context.Context, p Prompt) (string, error) {
	if !a.Configured() {
		return "", missingKey(a.cfg.Name)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.model(p)),
		MaxTokens: int64(a.cfg.maxTokens(p)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.User)),
		},
		Temperature: anthropic.Float(a.cfg.temperature(p)),
	}
	if p.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.System}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", statusError(a.cfg.Name, apiErr.StatusCode, err)
		}
		return "", transportError(a.cfg.Name, err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", malformed(a.cfg.Name, "no text blocks in response (stop_reason %q)", resp.StopReason)
	}
	return b.String(), nil
}
