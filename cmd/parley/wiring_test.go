// ABOUTME: Tests for building components from configuration
// ABOUTME: Covers adapters, roster, router, store selection and the starter config

package main

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/provider"
	"github.com/2389/parley/internal/store"
)

func TestBuildAdapters(t *testing.T) {
	cfg := config.ProvidersConfig{
		OpenAI:    config.ProviderConfig{APIKey: "sk-test"},
		Anthropic: config.ProviderConfig{},
	}
	adapters, closeFn := buildAdapters(cfg)
	defer closeFn()

	configured := map[string]bool{}
	for _, a := range adapters {
		configured[a.Name()] = a.Configured()
	}
	assert.Equal(t, map[string]bool{
		provider.OpenAI:     true,
		provider.Anthropic:  false,
		provider.Perplexity: false,
		provider.Gemini:     false,
	}, configured)
}

func TestBuildRoster(t *testing.T) {
	roster, err := buildRoster(config.RosterConfig{Order: config.OrderFixed, Agents: config.DefaultAgents()})
	require.NoError(t, err)
	assert.Equal(t, 4, roster.Size())
	assert.Equal(t, "Business AI Assistant", roster.AgentFor("c1", 1).Name)
	assert.Equal(t, "Marketing AI Expert", roster.AgentFor("c1", 4).Name)
}

func TestBuildRouterWarnsOnUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Roster.Agents = append(cfg.Roster.Agents[:3:3], config.AgentConfig{Name: "Mystery", Provider: "mistral"})

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	adapters, closeFn := buildAdapters(cfg.Providers)
	defer closeFn()

	router, err := buildRouter(cfg, adapters, logger)
	require.NoError(t, err)
	require.NotNil(t, router)
	assert.Contains(t, buf.String(), "unknown provider")
	assert.Contains(t, buf.String(), "provider=mistral")
}

func TestOrchestratorConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Conversation.FeaturedBusiness = "acme"

	oc := orchestratorConfig(cfg)
	assert.Equal(t, cfg.Schedule.MessageCount, oc.TargetMessages)
	assert.Equal(t, cfg.Schedule.MinInterval, oc.MinInterval)
	assert.Equal(t, cfg.Schedule.MaxInterval, oc.MaxInterval)
	assert.Equal(t, cfg.Schedule.WaitingPeriod, oc.WaitingPeriod)
	assert.Equal(t, "acme", oc.FeaturedBusiness)
}

func TestOpenStoreAndSeed(t *testing.T) {
	st, err := openStore(t.Context(), config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "parley.db"),
	})
	require.NoError(t, err)
	defer st.Close()

	err = seedBusinesses(t.Context(), st, []config.BusinessConfig{{ID: "acme", Name: "Acme Roofing", Industry: "Roofing"}})
	require.NoError(t, err)

	biz, err := st.GetBusiness(t.Context(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Roofing", biz.Name)
	assert.Equal(t, "Roofing", biz.Industry)
}

func TestOpenStoreUnsupportedDriver(t *testing.T) {
	_, err := openStore(t.Context(), config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}

func TestRetryPolicy(t *testing.T) {
	cfg := config.Default()
	p := retryPolicy(cfg.Persistence)
	assert.Equal(t, cfg.Persistence.RetryAttempts, p.Attempts)
	assert.Equal(t, cfg.Persistence.RetryBaseDelay, p.BaseDelay)
	assert.Equal(t, cfg.Persistence.RetryMaxDelay, p.MaxDelay)
	var _ store.RetryPolicy = p
}

func TestStarterConfigParses(t *testing.T) {
	secret, err := generateSecret()
	require.NoError(t, err)
	assert.Len(t, secret, 44)

	data, err := starterConfig(secret)
	require.NoError(t, err)

	cfg, err := config.Parse(string(data), false)
	require.NoError(t, err)
	assert.Equal(t, secret, cfg.Auth.JWTSecret)
	assert.Equal(t, "acme", cfg.Conversation.FeaturedBusiness)
	assert.Len(t, cfg.Roster.Agents, 4)
	require.Len(t, cfg.Businesses, 1)
	assert.Equal(t, "Acme Roofing", cfg.Businesses[0].Name)
}
