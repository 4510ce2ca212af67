// ABOUTME: The init command writes a starter configuration file
// ABOUTME: Generates a random JWT secret and lists the reference roster

package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/2389/parley/internal/config"
)

var forceInit bool

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing config file")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := getConfigPath()
		if _, err := os.Stat(path); err == nil && !forceInit {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("checking %s: %w", path, err)
		}

		secret, err := generateSecret()
		if err != nil {
			return err
		}
		data, err := starterConfig(secret)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0600); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		color.New(color.FgGreen).Fprint(cmd.OutOrStdout(), "✓ ")
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		fmt.Fprintln(cmd.OutOrStdout(), "  set OPENAI_API_KEY, ANTHROPIC_API_KEY, PERPLEXITY_API_KEY and GEMINI_API_KEY, then run: parley serve")
		return nil
	},
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

type starterFile struct {
	Server struct {
		HTTPAddr string `yaml:"http_addr"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Schedule struct {
		MessageCount  int    `yaml:"message_count"`
		MinInterval   string `yaml:"min_interval"`
		MaxInterval   string `yaml:"max_interval"`
		WaitingPeriod string `yaml:"waiting_period"`
	} `yaml:"schedule"`
	Roster struct {
		Order  string               `yaml:"order"`
		Agents []config.AgentConfig `yaml:"agents"`
	} `yaml:"roster"`
	Providers map[string]map[string]string `yaml:"providers"`
	Conversation struct {
		FeaturedBusiness string `yaml:"featured_business"`
	} `yaml:"conversation"`
	Businesses []config.BusinessConfig `yaml:"businesses"`
}

// starterConfig renders a config that loads with config.Parse.
func starterConfig(secret string) ([]byte, error) {
	var f starterFile
	f.Server.HTTPAddr = "127.0.0.1:8080"
	f.Database.Driver = config.DriverSQLite
	f.Database.Path = "./parley.db"
	f.Auth.JWTSecret = secret
	f.Logging.Level = "info"
	f.Logging.Format = "text"
	f.Schedule.MessageCount = 16
	f.Schedule.MinInterval = "60s"
	f.Schedule.MaxInterval = "120s"
	f.Schedule.WaitingPeriod = "5m"
	f.Roster.Order = config.OrderFixed
	f.Roster.Agents = config.DefaultAgents()
	f.Providers = map[string]map[string]string{
		"openai":     {"api_key": "${OPENAI_API_KEY}"},
		"anthropic":  {"api_key": "${ANTHROPIC_API_KEY}"},
		"perplexity": {"api_key": "${PERPLEXITY_API_KEY}"},
		"gemini":     {"api_key": "${GEMINI_API_KEY}"},
	}
	f.Conversation.FeaturedBusiness = "acme"
	f.Businesses = []config.BusinessConfig{{
		ID:          "acme",
		Name:        "Acme Roofing",
		Location:    "Springfield",
		Industry:    "Roofing",
		Website:     "https://acme-roofing.example",
		Description: "Family-owned roofing contractor offering repairs, replacements and 24/7 emergency service.",
	}}

	data, err := yaml.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return data, nil
}
