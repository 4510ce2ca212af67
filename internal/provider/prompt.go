// ABOUTME: Builds the shared prompt every backend receives
// ABOUTME: System text carries the persona and guidelines, user text the business context and excerpt

package provider

import (
	"fmt"
	"strings"

	"github.com/2389/parley/internal/store"
)

// Request is everything the router needs to produce one message
type Request struct {
	ConversationID string
	Business       store.Business
	Topic          string
	OrderIndex     int // 1-based
	TargetMessages int
	History        []*store.Message // persisted messages so far, in order
}

// BuildPrompt renders the system and user text for agent.
func BuildPrompt(agent Agent, req Request, rosterSize int, excerpt []string, maxChars int) Prompt {
	role := agent.Role
	if role == "" {
		role = "business expert"
	}
	business := req.Business.Name
	if business == "" {
		business = "the business"
	}

	var sys strings.Builder
	fmt.Fprintf(&sys, "You are %s, a %s taking part in a live panel discussion with other AI experts.\n", agent.Name, strings.ToLower(role))
	fmt.Fprintf(&sys, "Speak from your own expertise and mention %s by name.\n", business)
	fmt.Fprintf(&sys, "Build on what the others said instead of repeating it.\n")
	if maxChars > 0 {
		fmt.Fprintf(&sys, "Keep your reply under %d characters, in plain sentences without markdown or lists.", maxChars)
	} else {
		sys.WriteString("Reply in plain sentences without markdown or lists.")
	}

	if rosterSize <= 0 {
		rosterSize = 1
	}
	rounds := req.TargetMessages / rosterSize
	round := 1
	if req.OrderIndex > 0 {
		round = (req.OrderIndex-1)/rosterSize + 1
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Business: %s\n", business)
	writeField(&user, "Industry", req.Business.Industry)
	writeField(&user, "Location", req.Business.Location)
	writeField(&user, "Website", req.Business.Website)
	writeField(&user, "About", req.Business.Description)
	fmt.Fprintf(&user, "Topic: %s\n", req.Topic)
	fmt.Fprintf(&user, "Round %d of %d (message %d of %d)\n", round, rounds, req.OrderIndex, req.TargetMessages)

	if len(excerpt) > 0 {
		user.WriteString("\nPrevious conversation:\n")
		for _, line := range excerpt {
			user.WriteString(line)
			user.WriteByte('\n')
		}
		fmt.Fprintf(&user, "\nContinue the discussion about %s as %s.", req.Topic, agent.Name)
	} else {
		fmt.Fprintf(&user, "\nOpen the discussion about %s as %s.", req.Topic, agent.Name)
	}

	return Prompt{
		System: sys.String(),
		User:   user.String(),
		Model:  agent.Model,
	}
}

func writeField(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}
