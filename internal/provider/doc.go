// Package provider turns a conversation slot into text.
//
// # Overview
//
// A Roster fixes which Agent speaks at each order_index. The Router builds a
// Prompt for that agent, calls the matching Adapter under a timeout, and
// flattens the reply with PlainText:
//
//	roster, _ := provider.NewRoster(agents, provider.OrderFixed)
//	router := provider.NewRouter(roster, adapters, provider.RouterOptions{
//	    Timeout:   30 * time.Second,
//	    MaxChars:  280,
//	    Excerpter: provider.NewExcerpter(6, 0, logger),
//	}, logger)
//	res := router.Generate(ctx, req)
//
// # Adapters
//
//   - OpenAIAdapter: chat completions via openai-go
//   - NewPerplexityAdapter: the same adapter against api.perplexity.ai
//   - AnthropicAdapter: Messages API via anthropic-sdk-go
//   - GeminiAdapter: generateContent via generative-ai-go
//
// Adapters report failures as *Error with a Kind (timeout, auth, credentials,
// status, malformed, unavailable). SDK-level retries are disabled.
//
// # Fallback
//
// Router.Generate never fails. When the adapter errors, times out, is missing
// or returns nothing usable, the Result carries Fallback text built from the
// agent's templates, the topic and the business name. The template is picked
// by round, so the same slot always produces the same text.
//
// # Roster order
//
// OrderFixed repeats the configured order every round. OrderShuffled permutes
// each round with a seed derived from the conversation id and round number.
// Both use every agent exactly once per round.
package provider
