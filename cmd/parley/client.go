// ABOUTME: CLI commands that talk to a running server over its HTTP API
// ABOUTME: status, start and transcript

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/server"
)

var (
	serverFlag   string
	tokenFlag    string
	businessFlag string
	topicFlag    string
)

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, startCmd, transcriptCmd} {
		cmd.Flags().StringVar(&serverFlag, "server", "", "server base URL (default from server.http_addr)")
	}
	startCmd.Flags().StringVar(&tokenFlag, "token", "", "bearer token (default $PARLEY_TOKEN, or minted from auth.jwt_secret)")
	startCmd.Flags().StringVar(&businessFlag, "business", "", "business id (default conversation.featured_business)")
	startCmd.Flags().StringVar(&topicFlag, "topic", "", "topic (default chosen by the server)")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the engine's current state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		var st server.StatusResponse
		if err := apiCall(cmd.Context(), http.MethodGet, baseURL(cfg)+"/api/status", nil, nil, &st); err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), st)
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a conversation now",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		business := businessFlag
		if business == "" {
			business = cfg.Conversation.FeaturedBusiness
		}
		if business == "" {
			return fmt.Errorf("--business is required when no featured business is configured")
		}

		token, err := resolveToken(cfg)
		if err != nil {
			return err
		}
		headers := map[string]string{"Idempotency-Key": uuid.NewString()}
		if token != "" {
			headers["Authorization"] = "Bearer " + token
		}

		var resp server.StartResponse
		body := server.StartRequest{BusinessID: business, Topic: topicFlag}
		if err := apiCall(cmd.Context(), http.MethodPost, baseURL(cfg)+"/api/conversations", body, headers, &resp); err != nil {
			return err
		}
		color.New(color.FgGreen).Fprint(cmd.OutOrStdout(), "✓ ")
		fmt.Fprintf(cmd.OutOrStdout(), "started conversation %s\n", resp.ConversationID)
		return nil
	},
}

var transcriptCmd = &cobra.Command{
	Use:   "transcript <conversation-id>",
	Short: "Print a conversation's messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		var tr server.TranscriptResponse
		if err := apiCall(cmd.Context(), http.MethodGet, baseURL(cfg)+"/api/conversations/"+args[0]+"/messages", nil, nil, &tr); err != nil {
			return err
		}
		printTranscript(cmd.OutOrStdout(), tr)
		return nil
	},
}

func baseURL(cfg *config.Config) string {
	if serverFlag != "" {
		return strings.TrimSuffix(serverFlag, "/")
	}
	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

// resolveToken prefers --token, then PARLEY_TOKEN, then a short-lived token
// signed with the configured secret.
func resolveToken(cfg *config.Config) (string, error) {
	if tokenFlag != "" {
		return tokenFlag, nil
	}
	if t := os.Getenv("PARLEY_TOKEN"); t != "" {
		return t, nil
	}
	if cfg.Auth.JWTSecret == "" {
		return "", nil
	}
	return auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate("parley-cli", 5*time.Minute)
}

// apiCall sends a JSON request and decodes a JSON response into out. Non-2xx
// responses become errors carrying the server's message.
func apiCall(ctx context.Context, method, url string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func printStatus(w io.Writer, st server.StatusResponse) {
	label := color.New(color.FgHiBlack)
	value := color.New(color.FgCyan)

	line := func(name, v string) {
		label.Fprintf(w, "%-14s", name)
		value.Fprintln(w, v)
	}

	line("status", string(st.Status))
	if st.ConversationID != "" {
		line("conversation", st.ConversationID)
		line("business", st.BusinessID)
		line("topic", st.Topic)
		line("progress", fmt.Sprintf("%d/%d", st.MessagesGenerated, st.TargetMessages))
	}
	switch st.Countdown.State {
	case server.CountdownNextMessage:
		line("next message", formatSeconds(st.Countdown.RemainingSeconds))
	case server.CountdownNextConversation:
		line("next start", formatSeconds(st.Countdown.RemainingSeconds))
	}

	var keys []string
	for _, p := range st.Providers {
		mark := color.RedString("✗")
		if p.Configured {
			mark = color.GreenString("✓")
		}
		keys = append(keys, mark+" "+p.Name)
	}
	if len(keys) > 0 {
		label.Fprintf(w, "%-14s", "providers")
		fmt.Fprintln(w, strings.Join(keys, "  "))
	}

	if t := st.Totals; t != nil {
		line("conversations", fmt.Sprintf("%d (%d completed)", t.TotalConversations, t.CompletedConversations))
		line("messages", fmt.Sprintf("%d (%d in the last hour)", t.TotalMessages, t.MessagesLastHour))
	}
}

func formatSeconds(s int) string {
	return (time.Duration(s) * time.Second).String()
}

func printTranscript(w io.Writer, tr server.TranscriptResponse) {
	if len(tr.Messages) == 0 {
		fmt.Fprintln(w, "no messages yet")
		return
	}
	for _, m := range tr.Messages {
		color.New(color.FgHiBlack).Fprintf(w, "%2d %s ", m.OrderIndex, m.CreatedAt.Format("15:04:05"))
		color.New(color.FgCyan, color.Bold).Fprint(w, m.AgentName)
		if m.Fallback {
			color.New(color.FgYellow).Fprint(w, " (fallback)")
		}
		fmt.Fprintf(w, ": %s\n", m.Content)
	}
}
