// ABOUTME: Configuration loading and parsing for parley
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Round order policies for the agent roster.
const (
	OrderFixed    = "fixed"
	OrderShuffled = "shuffled"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverSQLite3  = "sqlite3"
	DriverPostgres = "postgres"
)

// Config represents the complete parley configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Tailscale    TailscaleConfig    `yaml:"tailscale" toml:"tailscale"`
	Database     DatabaseConfig     `yaml:"database" toml:"database"`
	Auth         AuthConfig         `yaml:"auth" toml:"auth"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" toml:"telemetry"`
	Schedule     ScheduleConfig     `yaml:"schedule" toml:"schedule"`
	Persistence  PersistenceConfig  `yaml:"persistence" toml:"persistence"`
	Roster       RosterConfig       `yaml:"roster" toml:"roster"`
	Providers    ProvidersConfig    `yaml:"providers" toml:"providers"`
	Conversation ConversationConfig `yaml:"conversation" toml:"conversation"`
	Businesses   []BusinessConfig   `yaml:"businesses" toml:"businesses"`
	Relay        RelayConfig        `yaml:"relay" toml:"relay"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // optional grpc health endpoint

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig selects the repository backend
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"` // sqlite file
	DSN    string `yaml:"dsn" toml:"dsn"`   // postgres connection string
}

// AuthConfig holds API authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// TelemetryConfig controls OpenTelemetry tracing
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	ServiceName string `yaml:"service_name" toml:"service_name"`
	Endpoint    string `yaml:"endpoint" toml:"endpoint"` // OTLP/HTTP base URL; empty writes spans to stdout
	Headers     string `yaml:"headers" toml:"headers"`   // comma separated key=value pairs
}

// ScheduleConfig holds conversation pacing
type ScheduleConfig struct {
	MessageCount int `yaml:"message_count" toml:"message_count"`

	MinInterval     time.Duration `yaml:"-" toml:"-"`
	MaxInterval     time.Duration `yaml:"-" toml:"-"`
	WaitingPeriod   time.Duration `yaml:"-" toml:"-"`
	InitialDelay    time.Duration `yaml:"-" toml:"-"`
	PollInterval    time.Duration `yaml:"-" toml:"-"`
	ProviderTimeout time.Duration `yaml:"-" toml:"-"`
	RetryInterval   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	MinIntervalRaw     string `yaml:"min_interval" toml:"min_interval"`
	MaxIntervalRaw     string `yaml:"max_interval" toml:"max_interval"`
	WaitingPeriodRaw   string `yaml:"waiting_period" toml:"waiting_period"`
	InitialDelayRaw    string `yaml:"initial_delay" toml:"initial_delay"`
	PollIntervalRaw    string `yaml:"poll_interval" toml:"poll_interval"`
	ProviderTimeoutRaw string `yaml:"provider_timeout" toml:"provider_timeout"`
	RetryIntervalRaw   string `yaml:"retry_interval" toml:"retry_interval"`
}

// PersistenceConfig holds repository retry policy
type PersistenceConfig struct {
	RetryAttempts int `yaml:"retry_attempts" toml:"retry_attempts"`

	RetryBaseDelay time.Duration `yaml:"-" toml:"-"`
	RetryMaxDelay  time.Duration `yaml:"-" toml:"-"`

	RetryBaseDelayRaw string `yaml:"retry_base_delay" toml:"retry_base_delay"`
	RetryMaxDelayRaw  string `yaml:"retry_max_delay" toml:"retry_max_delay"`
}

// RosterConfig lists the participating agents
type RosterConfig struct {
	Order  string        `yaml:"order" toml:"order"`
	Agents []AgentConfig `yaml:"agents" toml:"agents"`
}

// AgentConfig is one roster entry
type AgentConfig struct {
	Name     string   `yaml:"name" toml:"name"`
	Provider string   `yaml:"provider" toml:"provider"`
	Model    string   `yaml:"model" toml:"model"`
	Role     string   `yaml:"role" toml:"role"`
	Fallback []string `yaml:"fallback" toml:"fallback"` // templates with {topic} and {business}
}

// ProvidersConfig holds per-backend credentials and tuning
type ProvidersConfig struct {
	OpenAI     ProviderConfig `yaml:"openai" toml:"openai"`
	Anthropic  ProviderConfig `yaml:"anthropic" toml:"anthropic"`
	Perplexity ProviderConfig `yaml:"perplexity" toml:"perplexity"`
	Gemini     ProviderConfig `yaml:"gemini" toml:"gemini"`
}

// ProviderConfig configures a single backend
type ProviderConfig struct {
	APIKey      string  `yaml:"api_key" toml:"api_key"`
	BaseURL     string  `yaml:"base_url" toml:"base_url"`
	Model       string  `yaml:"model" toml:"model"`
	MaxTokens   int     `yaml:"max_tokens" toml:"max_tokens"`
	Temperature float64 `yaml:"temperature" toml:"temperature"`
}

// ConversationConfig holds content settings
type ConversationConfig struct {
	FeaturedBusiness   string   `yaml:"featured_business" toml:"featured_business"`
	Topics             []string `yaml:"topics" toml:"topics"`
	TopicMemory        int      `yaml:"topic_memory" toml:"topic_memory"`
	HistoryMessages    int      `yaml:"history_messages" toml:"history_messages"`
	ContextTokenBudget int      `yaml:"context_token_budget" toml:"context_token_budget"`
	MaxMessageChars    int      `yaml:"max_message_chars" toml:"max_message_chars"`
}

// BusinessConfig seeds one business profile
type BusinessConfig struct {
	ID          string `yaml:"id" toml:"id"`
	Name        string `yaml:"name" toml:"name"`
	Location    string `yaml:"location" toml:"location"`
	Industry    string `yaml:"industry" toml:"industry"`
	Website     string `yaml:"website" toml:"website"`
	Description string `yaml:"description" toml:"description"`
}

// RelayConfig holds optional event relays
type RelayConfig struct {
	Redis  RedisRelayConfig  `yaml:"redis" toml:"redis"`
	Matrix MatrixRelayConfig `yaml:"matrix" toml:"matrix"`
}

// RedisRelayConfig publishes events to Redis
type RedisRelayConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Channel  string `yaml:"channel" toml:"channel"`
	Stream   string `yaml:"stream" toml:"stream"`
}

// MatrixRelayConfig posts messages into a Matrix room
type MatrixRelayConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Homeserver  string `yaml:"homeserver" toml:"homeserver"`
	UserID      string `yaml:"user_id" toml:"user_id"`
	AccessToken string `yaml:"access_token" toml:"access_token"`
	RoomID      string `yaml:"room_id" toml:"room_id"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(string(data), strings.EqualFold(filepath.Ext(path), ".toml"))
}

// Parse decodes configuration text, applies defaults and validates the result.
func Parse(text string, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(text)

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied and nothing read from disk.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case DriverSQLite, DriverSQLite3:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}

	s := c.Schedule
	if s.MessageCount <= 0 {
		return fmt.Errorf("schedule.message_count must be positive")
	}
	if s.MinInterval <= 0 || s.MaxInterval < s.MinInterval {
		return fmt.Errorf("schedule.min_interval must be positive and not exceed schedule.max_interval")
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("schedule.poll_interval must be positive")
	}

	if c.Roster.Order != OrderFixed && c.Roster.Order != OrderShuffled {
		return fmt.Errorf("roster.order must be %q or %q", OrderFixed, OrderShuffled)
	}
	if len(c.Roster.Agents) == 0 {
		return fmt.Errorf("roster.agents is required")
	}
	seen := make(map[string]bool, len(c.Roster.Agents))
	for i, a := range c.Roster.Agents {
		if a.Name == "" || a.Provider == "" {
			return fmt.Errorf("roster.agents[%d] needs a name and a provider", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("roster.agents[%d]: duplicate agent name %q", i, a.Name)
		}
		seen[a.Name] = true
	}
	if s.MessageCount%len(c.Roster.Agents) != 0 {
		return fmt.Errorf("schedule.message_count (%d) must be a multiple of the roster size (%d)",
			s.MessageCount, len(c.Roster.Agents))
	}

	for i, b := range c.Businesses {
		if b.ID == "" || b.Name == "" {
			return fmt.Errorf("businesses[%d] needs an id and a name", i)
		}
	}

	if c.Relay.Redis.Enabled && c.Relay.Redis.Addr == "" {
		return fmt.Errorf("relay.redis.addr is required when the redis relay is enabled")
	}
	if m := c.Relay.Matrix; m.Enabled && (m.Homeserver == "" || m.AccessToken == "" || m.RoomID == "") {
		return fmt.Errorf("relay.matrix needs homeserver, access_token and room_id when enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"schedule.min_interval", cfg.Schedule.MinIntervalRaw, &cfg.Schedule.MinInterval},
		{"schedule.max_interval", cfg.Schedule.MaxIntervalRaw, &cfg.Schedule.MaxInterval},
		{"schedule.waiting_period", cfg.Schedule.WaitingPeriodRaw, &cfg.Schedule.WaitingPeriod},
		{"schedule.initial_delay", cfg.Schedule.InitialDelayRaw, &cfg.Schedule.InitialDelay},
		{"schedule.poll_interval", cfg.Schedule.PollIntervalRaw, &cfg.Schedule.PollInterval},
		{"schedule.provider_timeout", cfg.Schedule.ProviderTimeoutRaw, &cfg.Schedule.ProviderTimeout},
		{"schedule.retry_interval", cfg.Schedule.RetryIntervalRaw, &cfg.Schedule.RetryInterval},
		{"persistence.retry_base_delay", cfg.Persistence.RetryBaseDelayRaw, &cfg.Persistence.RetryBaseDelay},
		{"persistence.retry_max_delay", cfg.Persistence.RetryMaxDelayRaw, &cfg.Persistence.RetryMaxDelay},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
