// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:9090"
  grpc_addr: "0.0.0.0:50051"
  shutdown_timeout: "10s"

database:
  path: "./test.db"

schedule:
  message_count: 8
  min_interval: "1s"
  max_interval: "2s"
  waiting_period: "1m"
  poll_interval: "5s"

roster:
  order: shuffled
  agents:
    - name: "Alpha"
      provider: "openai"
    - name: "Beta"
      provider: "anthropic"

businesses:
  - id: "acme"
    name: "Acme Roofing"
    location: "Denver, CO"
    industry: "Roofing"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 8, cfg.Schedule.MessageCount)
	assert.Equal(t, time.Second, cfg.Schedule.MinInterval)
	assert.Equal(t, 2*time.Second, cfg.Schedule.MaxInterval)
	assert.Equal(t, time.Minute, cfg.Schedule.WaitingPeriod)
	assert.Equal(t, time.Minute, cfg.Schedule.InitialDelay, "initial delay defaults to the waiting period")
	assert.Equal(t, 5*time.Second, cfg.Schedule.RetryInterval, "retry interval defaults to the poll interval")
	assert.Equal(t, OrderShuffled, cfg.Roster.Order)
	require.Len(t, cfg.Roster.Agents, 2)
	assert.Equal(t, "acme", cfg.Conversation.FeaturedBusiness)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_ValidTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
http_addr = "127.0.0.1:7000"

[database]
driver = "postgres"
dsn = "postgres://localhost/parley"

[schedule]
min_interval = "30s"
max_interval = "45s"

[[businesses]]
id = "acme"
name = "Acme Roofing"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Server.HTTPAddr)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Empty(t, cfg.Database.Path)
	assert.Equal(t, 30*time.Second, cfg.Schedule.MinInterval)
	assert.Equal(t, 45*time.Second, cfg.Schedule.MaxInterval)
	assert.Len(t, cfg.Roster.Agents, 4)
	assert.Equal(t, "Acme Roofing", cfg.Businesses[0].Name)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("PARLEY_TEST_SECRET", "super-secret-value")
	t.Setenv("PARLEY_TEST_OPENAI", "sk-test")

	path := writeConfig(t, "config.yaml", `
auth:
  jwt_secret: "${PARLEY_TEST_SECRET}"
providers:
  openai:
    api_key: "${PARLEY_TEST_OPENAI}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-value", cfg.Auth.JWTSecret)
	assert.Equal(t, "sk-test", cfg.Providers.OpenAI.APIKey)
}

func TestLoad_ProviderKeysFallBackToEnvironment(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gemini-from-env")

	cfg, err := Parse("{}", false)
	require.NoError(t, err)
	assert.Equal(t, "gemini-from-env", cfg.Providers.Gemini.APIKey)
	assert.Equal(t, "https://api.perplexity.ai", cfg.Providers.Perplexity.BaseURL)
}

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 16, cfg.Schedule.MessageCount)
	assert.Equal(t, 60*time.Second, cfg.Schedule.MinInterval)
	assert.Equal(t, 120*time.Second, cfg.Schedule.MaxInterval)
	assert.Equal(t, 5*time.Minute, cfg.Schedule.WaitingPeriod)
	assert.Equal(t, 30*time.Second, cfg.Schedule.ProviderTimeout)
	assert.Equal(t, 30*time.Second, cfg.Schedule.PollInterval)
	assert.Equal(t, OrderFixed, cfg.Roster.Order)
	assert.Equal(t, 6, cfg.Conversation.HistoryMessages)
	assert.Len(t, cfg.Conversation.Topics, len(DefaultTopics))

	providers := make([]string, 0, len(cfg.Roster.Agents))
	for _, a := range cfg.Roster.Agents {
		providers = append(providers, a.Provider)
	}
	assert.Equal(t, []string{"openai", "anthropic", "perplexity", "gemini"}, providers)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
schedule:
  min_interval: "soon"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule.min_interval")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "database.driver",
		},
		{
			name: "postgres without dsn",
			mutate: func(c *Config) {
				c.Database.Driver = DriverPostgres
				c.Database.DSN = ""
			},
			wantErr: "database.dsn",
		},
		{
			name:    "inverted interval",
			mutate:  func(c *Config) { c.Schedule.MaxInterval = c.Schedule.MinInterval / 2 },
			wantErr: "schedule.min_interval",
		},
		{
			name:    "bad order policy",
			mutate:  func(c *Config) { c.Roster.Order = "random" },
			wantErr: "roster.order",
		},
		{
			name: "duplicate agent",
			mutate: func(c *Config) {
				c.Roster.Agents[1].Name = c.Roster.Agents[0].Name
			},
			wantErr: "duplicate agent name",
		},
		{
			name:    "count not a multiple of roster",
			mutate:  func(c *Config) { c.Schedule.MessageCount = 10 },
			wantErr: "multiple of the roster size",
		},
		{
			name:    "tailscale without hostname",
			mutate:  func(c *Config) { c.Tailscale.Enabled = true },
			wantErr: "tailscale.hostname",
		},
		{
			name:    "redis relay without addr",
			mutate:  func(c *Config) { c.Relay.Redis.Enabled = true },
			wantErr: "relay.redis.addr",
		},
		{
			name:    "business without name",
			mutate:  func(c *Config) { c.Businesses = []BusinessConfig{{ID: "x"}} },
			wantErr: "businesses[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should mention %q", err, tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}
