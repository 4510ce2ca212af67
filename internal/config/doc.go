// Package config handles configuration loading for parley.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files (chosen by extension) with
// environment variable expansion. Every field has a default, so an empty file
// produces a runnable single-node setup backed by SQLite.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path given with --config
//  2. Path from PARLEY_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/parley/config.yaml
//  4. ~/.config/parley/config.yaml
//
// # Environment Variable Expansion
//
//	providers:
//	  openai:
//	    api_key: "${OPENAI_API_KEY}"
//
// Provider keys left empty are read from OPENAI_API_KEY, ANTHROPIC_API_KEY,
// PERPLEXITY_API_KEY and GEMINI_API_KEY.
//
// # Pacing
//
//	schedule:
//	  message_count: 16
//	  min_interval: "60s"
//	  max_interval: "120s"
//	  waiting_period: "5m"
//	  poll_interval: "30s"
//	  provider_timeout: "30s"
//
// # Roster
//
//	roster:
//	  order: fixed       # fixed, shuffled
//	  agents:
//	    - name: "Business AI Assistant"
//	      provider: openai
//	      model: gpt-4o
//	      role: "Business strategy and operations expert"
package config
