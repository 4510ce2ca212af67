// ABOUTME: Google Gemini adapter built on the generative-ai-go client
// ABOUTME: The client is created on first use and reused until Close

package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GeminiAdapter calls the Gemini generateContent API
type GeminiAdapter struct {
	cfg AdapterConfig

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiAdapter creates an adapter.
func NewGeminiAdapter(cfg AdapterConfig) *GeminiAdapter {
	cfg.Name = Gemini
	return &GeminiAdapter{cfg: cfg}
}

// Name returns the provider key.
func (a *GeminiAdapter) Name() string { return a.cfg.Name }

// Configured reports whether an API key is set.
func (a *GeminiAdapter) Configured() bool { return a.cfg.APIKey != "" }

// getClient creates the shared client on first use. It is built from a
// background context because it outlives the request that created it.
func (a *GeminiAdapter) getClient() (*genai.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return a.client, nil
	}

	opts := []option.ClientOption{option.WithAPIKey(a.cfg.APIKey)}
	if a.cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(a.cfg.BaseURL))
	}
	client, err := genai.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	a.client = client
	return client, nil
}

// Generate runs one generateContent call with the system prompt as the
// model's system instruction.
func (a *GeminiAdapter) Generate(ctx context.Context, p Prompt) (string, error) {
	if !a.Configured() {
		return "", missingKey(a.cfg.Name)
	}

	client, err := a.getClient()
	if err != nil {
		return "", transportError(a.cfg.Name, err)
	}

	model := client.GenerativeModel(a.cfg.model(p))
	model.SetMaxOutputTokens(int32(a.cfg.maxTokens(p)))
	model.SetTemperature(float32(a.cfg.temperature(p)))
	if p.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(p.System)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(p.User))
	if err != nil {
		return "", classifyGeminiError(err)
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		var b strings.Builder
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			return b.String(), nil
		}
	}
	return "", malformed(a.cfg.Name, "no text in %d candidates", len(resp.Candidates))
}

// Close releases the underlying client.
func (a *GeminiAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}

// classifyGeminiError maps REST and gRPC errors from the Gemini client onto
// provider error kinds.
func classifyGeminiError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &Error{Provider: Gemini, Kind: KindMalformed, Err: err}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return statusError(Gemini, apiErr.Code, err)
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unauthenticated, codes.PermissionDenied:
			return &Error{Provider: Gemini, Kind: KindAuth, Err: err}
		case codes.DeadlineExceeded:
			return &Error{Provider: Gemini, Kind: KindTimeout, Err: err}
		case codes.Unavailable, codes.ResourceExhausted:
			return &Error{Provider: Gemini, Kind: KindUnavailable, Err: err}
		default:
			return &Error{Provider: Gemini, Kind: KindStatus, Err: err}
		}
	}

	return transportError(Gemini, err)
}
