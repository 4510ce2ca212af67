// ABOUTME: Tests for deterministic fallback text
// ABOUTME: Covers template selection by round, placeholders and overrides

package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallbackDeterministic(t *testing.T) {
	agent := testAgents()[0]
	a := Fallback(agent, "Emergency Repairs", "Acme Roofing", 5, 4)
	b := Fallback(agent, "Emergency Repairs", "Acme Roofing", 5, 4)
	assert.Equal(t, a, b)
}

func TestFallbackVariesByRound(t *testing.T) {
	agent := testAgents()[1]
	round1 := Fallback(agent, "Emergency Repairs", "Acme Roofing", 2, 4)
	round2 := Fallback(agent, "Emergency Repairs", "Acme Roofing", 6, 4)
	round4 := Fallback(agent, "Emergency Repairs", "Acme Roofing", 14, 4)

	assert.NotEqual(t, round1, round2)
	// three templates, so round 4 wraps to the first one
	assert.Equal(t, round1, round4)
}

func TestFallbackPlaceholders(t *testing.T) {
	text := Fallback(testAgents()[2], "Emergency Repairs", "Acme Roofing", 3, 4)
	assert.Contains(t, text, "emergency repairs")
	assert.Contains(t, text, "Acme Roofing")
	assert.NotContains(t, text, "{")
}

func TestFallbackAgentOverride(t *testing.T) {
	agent := Agent{Name: "Custom", Fallback: []string{"{business} loves {topic}."}}
	assert.Equal(t, "Acme Roofing loves gutters.", Fallback(agent, "Gutters", "Acme Roofing", 1, 4))
}

func TestFallbackGenericTemplates(t *testing.T) {
	text := Fallback(Agent{Name: "Stranger"}, "Gutters", "", 1, 4)
	assert.Equal(t, "Gutters is an important part of how the business serves its customers and deserves careful consideration.", text)
}
