// ABOUTME: Core types for text generation backends
// ABOUTME: Defines Agent, Prompt, the Adapter interface and the typed provider Error

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Provider names used in roster entries
const (
	OpenAI     = "openai"
	Anthropic  = "anthropic"
	Perplexity = "perplexity"
	Gemini     = "gemini"
)

// Agent is one roster entry: a named participant bound to a backend
type Agent struct {
	Name     string
	Provider string
	Model    string
	Role     string
	Fallback []string // optional templates using {topic} and {business}
}

// Prompt is the backend-neutral request an adapter turns into an API call
type Prompt struct {
	System      string
	User        string
	Model       string // empty means the adapter default
	MaxTokens   int
	Temperature float64
}

// Adapter turns a Prompt into text for one backend.
type Adapter interface {
	// Name is the provider key agents refer to, e.g. "openai".
	Name() string
	// Configured reports whether credentials are present.
	Configured() bool
	Generate(ctx context.Context, p Prompt) (string, error)
}

// AdapterConfig configures one adapter
type AdapterConfig struct {
	Name        string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

func (c AdapterConfig) model(p Prompt) string {
	if p.Model != "" {
		return p.Model
	}
	return c.Model
}

func (c AdapterConfig) maxTokens(p Prompt) int {
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 100
}

func (c AdapterConfig) temperature(p Prompt) float64 {
	if p.Temperature > 0 {
		return p.Temperature
	}
	if c.Temperature > 0 {
		return c.Temperature
	}
	return 0.7
}

// ErrorKind classifies adapter failures
type ErrorKind string

const (
	KindTimeout         ErrorKind = "timeout"
	KindAuth            ErrorKind = "auth"
	KindCredentials     ErrorKind = "credentials"
	KindStatus          ErrorKind = "status"
	KindMalformed       ErrorKind = "malformed"
	KindUnavailable     ErrorKind = "unavailable"
	KindUnknownProvider ErrorKind = "unknown_provider"
)

var (
	errMissingKey      = errors.New("api key not configured")
	errUnknownProvider = errors.New("no adapter registered")
)

// Error is the single failure type adapters report
type Error struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a provider error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}

func missingKey(provider string) error {
	return &Error{Provider: provider, Kind: KindCredentials, Err: errMissingKey}
}

func malformed(provider string, format string, args ...any) error {
	return &Error{Provider: provider, Kind: KindMalformed, Err: fmt.Errorf(format, args...)}
}

// statusError classifies an HTTP status returned by a backend.
func statusError(provider string, code int, err error) error {
	kind := KindStatus
	if code == 401 || code == 403 {
		kind = KindAuth
	}
	return &Error{Provider: provider, Kind: kind, StatusCode: code, Err: err}
}

// transportError classifies failures that never produced an API status.
func transportError(provider string, err error) error {
	var perr *Error
	if errors.As(err, &perr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Provider: provider, Kind: KindTimeout, Err: err}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &Error{Provider: provider, Kind: KindMalformed, Err: err}
	}
	return &Error{Provider: provider, Kind: KindUnavailable, Err: err}
}
