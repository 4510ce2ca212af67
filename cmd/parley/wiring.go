// ABOUTME: Builds the service's components from configuration
// ABOUTME: Store selection, business seeding, provider adapters, roster and router

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/provider"
	"github.com/2389/parley/internal/store"
)

// openStore opens the configured backend.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pg, err := store.NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case config.DriverSQLite, config.DriverSQLite3:
		lite, err := store.OpenSQLite(cfg.Driver, cfg.Path)
		if err != nil {
			return nil, err
		}
		return lite, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// seedBusinesses upserts the configured business profiles.
func seedBusinesses(ctx context.Context, st store.Store, businesses []config.BusinessConfig) error {
	for _, b := range businesses {
		err := st.UpsertBusiness(ctx, &store.Business{
			ID:          b.ID,
			Name:        b.Name,
			Location:    b.Location,
			Industry:    b.Industry,
			Website:     b.Website,
			Description: b.Description,
		})
		if err != nil {
			return fmt.Errorf("seeding business %s: %w", b.ID, err)
		}
	}
	return nil
}

func adapterConfig(p config.ProviderConfig) provider.AdapterConfig {
	return provider.AdapterConfig{
		APIKey:      p.APIKey,
		BaseURL:     p.BaseURL,
		Model:       p.Model,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	}
}

// buildAdapters creates one adapter per supported backend. Adapters without
// a key are still registered; they report themselves unconfigured and the
// router falls back for them.
func buildAdapters(cfg config.ProvidersConfig) ([]provider.Adapter, func()) {
	gemini := provider.NewGeminiAdapter(adapterConfig(cfg.Gemini))
	adapters := []provider.Adapter{
		provider.NewOpenAIAdapter(adapterConfig(cfg.OpenAI)),
		provider.NewAnthropicAdapter(adapterConfig(cfg.Anthropic)),
		provider.NewPerplexityAdapter(adapterConfig(cfg.Perplexity)),
		gemini,
	}
	return adapters, func() { _ = gemini.Close() }
}

func buildRoster(cfg config.RosterConfig) (*provider.Roster, error) {
	agents := make([]provider.Agent, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		agents = append(agents, provider.Agent{
			Name:     a.Name,
			Provider: a.Provider,
			Model:    a.Model,
			Role:     a.Role,
			Fallback: a.Fallback,
		})
	}
	return provider.NewRoster(agents, cfg.Order)
}

// buildRouter wires roster, adapters and excerpt budget into a router.
func buildRouter(cfg *config.Config, adapters []provider.Adapter, logger *slog.Logger) (*provider.Router, error) {
	roster, err := buildRoster(cfg.Roster)
	if err != nil {
		return nil, fmt.Errorf("building roster: %w", err)
	}

	for _, a := range roster.Agents() {
		found := false
		for _, ad := range adapters {
			if ad.Name() == a.Provider {
				found = true
				break
			}
		}
		if !found {
			logger.Warn("agent uses an unknown provider and will always fall back",
				"agent", a.Name,
				"provider", a.Provider,
			)
		}
	}

	return provider.NewRouter(roster, adapters, provider.RouterOptions{
		Timeout:   cfg.Schedule.ProviderTimeout,
		MaxChars:  cfg.Conversation.MaxMessageChars,
		Excerpter: provider.NewExcerpter(cfg.Conversation.HistoryMessages, cfg.Conversation.ContextTokenBudget, logger),
	}, logger), nil
}

func retryPolicy(cfg config.PersistenceConfig) store.RetryPolicy {
	return store.RetryPolicy{
		Attempts:  cfg.RetryAttempts,
		BaseDelay: cfg.RetryBaseDelay,
		MaxDelay:  cfg.RetryMaxDelay,
	}
}
