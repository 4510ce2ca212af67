// ABOUTME: Deterministic canned replies used when a backend call fails
// ABOUTME: Templates are agent specific and filled with the topic and business name

package provider

import (
	"strings"
)

// fallbackTemplates are keyed by agent name. {topic} is replaced with the
// lower-cased topic and {business} with the business name.
var fallbackTemplates = map[string][]string{
	"Business AI Assistant": {
		"From a business perspective, {topic} represents a crucial opportunity for growth and competitive advantage at {business}.",
		"Strategic implementation of {topic} can significantly improve operational efficiency and customer satisfaction for {business}.",
		"The key to successful {topic} at {business} lies in understanding market dynamics and customer needs.",
	},
	"SEO AI Specialist": {
		"For optimal SEO results, {business} should work {topic} into its content strategy and local search optimization.",
		"Search engines reward businesses like {business} that demonstrate real expertise in {topic} through quality content.",
		"Local SEO benefits tremendously when {business} showcases its capabilities in {topic}.",
	},
	"Customer Service AI": {
		"Customers consistently appreciate transparency and expertise from {business} when it comes to {topic}.",
		"Clear communication about {topic} builds trust and long-term customer relationships for {business}.",
		"The customer experience at {business} improves when the team proactively addresses {topic}.",
	},
	"Marketing AI Expert": {
		"Marketing {topic} effectively takes authentic storytelling and demonstrated results, which {business} can offer.",
		"Brand positioning around {topic} gives {business} real differentiation in a competitive market.",
		"Content marketing focused on {topic} drives engagement and qualified leads for {business}.",
	},
}

var genericTemplates = []string{
	"{topic} is an important part of how {business} serves its customers and deserves careful consideration.",
	"Looking at {topic}, {business} has a clear opportunity to stand out.",
	"{business} can turn {topic} into a lasting strength with a consistent approach.",
}

// Fallback returns the canned reply for agent. The template is chosen by the
// round the message belongs to, so each agent varies its line across rounds
// while the same inputs always give the same text.
func Fallback(agent Agent, topic, business string, orderIndex, rosterSize int) string {
	templates := agent.Fallback
	if len(templates) == 0 {
		templates = fallbackTemplates[agent.Name]
	}
	if len(templates) == 0 {
		templates = genericTemplates
	}

	if rosterSize <= 0 {
		rosterSize = 1
	}
	round := 0
	if orderIndex > 0 {
		round = (orderIndex - 1) / rosterSize
	}

	if business == "" {
		business = "the business"
	}
	topic = strings.ToLower(strings.TrimSpace(topic))
	if topic == "" {
		topic = "this topic"
	}

	text := strings.NewReplacer("{topic}", topic, "{business}", business).Replace(templates[round%len(templates)])
	return capitalizeFirst(text)
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}
