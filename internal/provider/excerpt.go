// ABOUTME: Builds the transcript excerpt included in each prompt
// ABOUTME: Keeps the most recent messages and trims them to a tiktoken budget

package provider

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/parley/internal/store"
	"github.com/pkoukk/tiktoken-go"
)

const excerptEncoding = "cl100k_base"

// Excerpter selects the prior messages an agent sees
type Excerpter struct {
	messages int
	budget   int
	logger   *slog.Logger

	once  sync.Once
	count func(string) int
}

// NewExcerpter keeps the last messages entries of the history. A positive
// budget additionally drops the oldest lines until the excerpt fits in that
// many tokens.
func NewExcerpter(messages, budget int, logger *slog.Logger) *Excerpter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Excerpter{
		messages: messages,
		budget:   budget,
		logger:   logger.With("component", "excerpt"),
	}
}

// Lines returns "Agent: content" lines, oldest first.
func (e *Excerpter) Lines(history []*store.Message) []string {
	if e == nil || e.messages <= 0 || len(history) == 0 {
		return nil
	}

	start := max(len(history)-e.messages, 0)
	lines := make([]string, 0, len(history)-start)
	for _, m := range history[start:] {
		lines = append(lines, fmt.Sprintf("%s: %s", m.AgentName, m.Content))
	}

	if e.budget <= 0 {
		return lines
	}

	count := e.counter()
	total := 0
	for _, l := range lines {
		total += count(l)
	}
	for len(lines) > 0 && total > e.budget {
		total -= count(lines[0])
		lines = lines[1:]
	}
	return lines
}

// counter loads the tokenizer on first use. The BPE ranks may need a
// download, so a failure falls back to a four-characters-per-token estimate.
func (e *Excerpter) counter() func(string) int {
	e.once.Do(func() {
		if e.count != nil {
			return
		}
		enc, err := tiktoken.GetEncoding(excerptEncoding)
		if err != nil {
			e.logger.Warn("tokenizer unavailable, estimating", "encoding", excerptEncoding, "error", err)
			e.count = estimateTokens
			return
		}
		e.count = func(s string) int { return len(enc.Encode(s, nil, nil)) }
	})
	return e.count
}

func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
