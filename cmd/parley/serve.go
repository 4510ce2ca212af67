// ABOUTME: The serve command: runs recovery, the scheduler loop, relays and the API
// ABOUTME: Everything shuts down together when the process is signalled

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/dedupe"
	"github.com/2389/parley/internal/events"
	"github.com/2389/parley/internal/orchestrator"
	"github.com/2389/parley/internal/relay"
	"github.com/2389/parley/internal/server"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/telemetry"
	"github.com/2389/parley/internal/topics"
)

const (
	idempotencyTTL     = 10 * time.Minute
	idempotencyMaxKeys = 1000
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the conversation engine and its API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Driver)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Print("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	green.Print("    ▶ ")
	fmt.Print("Featured:  ")
	if cfg.Conversation.FeaturedBusiness == "" {
		yellow.Println("none (automatic starts disabled)")
	} else {
		fmt.Println(cfg.Conversation.FeaturedBusiness)
	}
	fmt.Println()

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Headers:        cfg.Telemetry.Headers,
	}, logger)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if err := seedBusinesses(ctx, st, cfg.Businesses); err != nil {
		return err
	}
	repo := store.NewRetryingRepository(st, retryPolicy(cfg.Persistence), logger)

	adapters, closeAdapters := buildAdapters(cfg.Providers)
	defer closeAdapters()
	router, err := buildRouter(cfg, adapters, logger)
	if err != nil {
		return err
	}
	for _, p := range router.Providers() {
		logger.Info("provider", "name", p.Name, "configured", p.Configured)
	}

	bus := events.NewBus(logger)
	defer bus.Close()

	orch, err := orchestrator.New(orchestratorConfig(cfg), orchestrator.Deps{
		Repo:       repo,
		Businesses: st,
		Generator:  router,
		Topics:     topics.NewRotation(cfg.Conversation.Topics, cfg.Conversation.TopicMemory, repo, logger),
		Bus:        bus,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	res, err := orchestrator.NewRecoveryManager(repo, st, cfg.Schedule.MessageCount, nil, logger).Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovering conversations: %w", err)
	}
	if err := orch.Resume(res); err != nil {
		return fmt.Errorf("resuming conversation: %w", err)
	}

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	} else {
		logger.Warn("auth.jwt_secret is not set, POST /api/conversations is unauthenticated")
	}

	idem := dedupe.New(idempotencyTTL, idempotencyMaxKeys)
	defer idem.Close()

	srv, err := server.New(server.Options{
		Server:       cfg.Server,
		Tailscale:    cfg.Tailscale,
		Orchestrator: orch,
		Repo:         repo,
		Providers:    router,
		Verifier:     verifier,
		Dedupe:       idem,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if err := startRelays(runCtx, &wg, cfg.Relay, bus, logger); err != nil {
		return err
	}

	orchDone := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		orchDone <- orch.Run(runCtx)
	}()

	serveErr := srv.Run(runCtx)
	cancel()
	wg.Wait()

	if err := <-orchDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler stopped with error", "error", err)
	}
	logger.Info("parley stopped")
	return serveErr
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		TargetMessages:   cfg.Schedule.MessageCount,
		MinInterval:      cfg.Schedule.MinInterval,
		MaxInterval:      cfg.Schedule.MaxInterval,
		WaitingPeriod:    cfg.Schedule.WaitingPeriod,
		InitialDelay:     cfg.Schedule.InitialDelay,
		PollInterval:     cfg.Schedule.PollInterval,
		RetryInterval:    cfg.Schedule.RetryInterval,
		FeaturedBusiness: cfg.Conversation.FeaturedBusiness,
	}
}

// startRelays launches the enabled relays on wg.
func startRelays(ctx context.Context, wg *sync.WaitGroup, cfg config.RelayConfig, bus *events.Bus, logger *slog.Logger) error {
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		sink := relay.NewRedis(client, cfg.Redis.Channel, cfg.Redis.Stream)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer client.Close()
			relay.Run(ctx, bus, sink, logger)
		}()
	}

	if cfg.Matrix.Enabled {
		client, err := relay.NewMatrixClient(cfg.Matrix.Homeserver, cfg.Matrix.UserID, cfg.Matrix.AccessToken)
		if err != nil {
			return err
		}
		sink := relay.NewMatrix(client, cfg.Matrix.RoomID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Run(ctx, bus, sink, logger)
		}()
	}
	return nil
}
