// ABOUTME: Default values for every configuration section
// ABOUTME: Reference roster, pacing constants and the built-in topic list live here

package config

import (
	"os"
	"time"
)

// DefaultTopics is the topic list used when conversation.topics is empty.
var DefaultTopics = []string{
	"Professional Service Excellence and Quality Standards",
	"Emergency Response and Reliability",
	"Customer Communication and Transparency",
	"Digital Marketing and Online Presence",
	"Local Community Involvement and Reputation",
	"Pricing Strategy and Value Proposition",
	"Seasonal Demand and Capacity Planning",
	"Customer Reviews and Reputation Management",
	"Safety Standards and Certifications",
	"Technology Adoption and Modern Tools",
}

// DefaultAgents is the reference four-agent roster.
func DefaultAgents() []AgentConfig {
	return []AgentConfig{
		{Name: "Business AI Assistant", Provider: "openai", Model: "gpt-4o", Role: "Business strategy and operations expert"},
		{Name: "SEO AI Specialist", Provider: "anthropic", Model: "claude-sonnet-4-20250514", Role: "SEO and digital marketing specialist"},
		{Name: "Customer Service AI", Provider: "perplexity", Model: "llama-3.1-sonar-large-128k-online", Role: "Customer experience and service expert"},
		{Name: "Marketing AI Expert", Provider: "gemini", Model: "gemini-2.5-flash", Role: "Marketing and brand positioning specialist"},
	}
}

// applyDefaults fills zero values after decoding and duration parsing.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}
	if c.Tailscale.StateDir == "" {
		c.Tailscale.StateDir = "./tsnet-state"
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Path == "" && c.Database.Driver != DriverPostgres {
		c.Database.Path = "./parley.db"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "parley"
	}

	s := &c.Schedule
	if s.MessageCount == 0 {
		s.MessageCount = 16
	}
	if s.MinInterval == 0 {
		s.MinInterval = 60 * time.Second
	}
	if s.MaxInterval == 0 {
		s.MaxInterval = 120 * time.Second
	}
	if s.WaitingPeriod == 0 {
		s.WaitingPeriod = 5 * time.Minute
	}
	if s.InitialDelay == 0 {
		s.InitialDelay = s.WaitingPeriod
	}
	if s.PollInterval == 0 {
		s.PollInterval = 30 * time.Second
	}
	if s.ProviderTimeout == 0 {
		s.ProviderTimeout = 30 * time.Second
	}
	if s.RetryInterval == 0 {
		s.RetryInterval = s.PollInterval
	}

	p := &c.Persistence
	if p.RetryAttempts == 0 {
		p.RetryAttempts = 3
	}
	if p.RetryBaseDelay == 0 {
		p.RetryBaseDelay = 200 * time.Millisecond
	}
	if p.RetryMaxDelay == 0 {
		p.RetryMaxDelay = 2 * time.Second
	}

	if c.Roster.Order == "" {
		c.Roster.Order = OrderFixed
	}
	if len(c.Roster.Agents) == 0 {
		c.Roster.Agents = DefaultAgents()
	}

	providerDefaults(&c.Providers.OpenAI, "OPENAI_API_KEY", "gpt-4o", "")
	providerDefaults(&c.Providers.Anthropic, "ANTHROPIC_API_KEY", "claude-sonnet-4-20250514", "")
	providerDefaults(&c.Providers.Perplexity, "PERPLEXITY_API_KEY", "llama-3.1-sonar-large-128k-online", "https://api.perplexity.ai")
	providerDefaults(&c.Providers.Gemini, "GEMINI_API_KEY", "gemini-2.5-flash", "")

	cv := &c.Conversation
	if len(cv.Topics) == 0 {
		cv.Topics = append([]string(nil), DefaultTopics...)
	}
	if cv.TopicMemory == 0 {
		cv.TopicMemory = 3
	}
	if cv.HistoryMessages == 0 {
		cv.HistoryMessages = 6
	}
	if cv.MaxMessageChars == 0 {
		cv.MaxMessageChars = 280
	}
	if cv.FeaturedBusiness == "" && len(c.Businesses) > 0 {
		cv.FeaturedBusiness = c.Businesses[0].ID
	}

	if c.Relay.Redis.Channel == "" {
		c.Relay.Redis.Channel = "parley:events"
	}
	if c.Relay.Redis.Stream == "" {
		c.Relay.Redis.Stream = "parley:messages"
	}
}

func providerDefaults(p *ProviderConfig, keyEnv, model, baseURL string) {
	if p.APIKey == "" {
		p.APIKey = os.Getenv(keyEnv)
	}
	if p.Model == "" {
		p.Model = model
	}
	if p.BaseURL == "" {
		p.BaseURL = baseURL
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = 100
	}
	if p.Temperature == 0 {
		p.Temperature = 0.7
	}
}
