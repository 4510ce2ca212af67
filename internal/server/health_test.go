// ABOUTME: Tests for the gRPC health status and the listener lifecycle

package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/parley/internal/config"
)

func healthStatus(t *testing.T, s *Server) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := s.health.Check(t.Context(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthFollowsScheduler(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, healthStatus(t, env.srv))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go env.srv.watchHealth(ctx)

	require.Eventually(t, func() bool {
		return healthStatus(t, env.srv) == healthpb.HealthCheckResponse_SERVING
	}, 3*time.Second, 10*time.Millisecond)

	env.orch.mu.Lock()
	env.orch.running = false
	env.orch.mu.Unlock()

	require.Eventually(t, func() bool {
		return healthStatus(t, env.srv) == healthpb.HealthCheckResponse_NOT_SERVING
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Server = config.ServerConfig{
			HTTPAddr:        "127.0.0.1:0",
			GRPCAddr:        "127.0.0.1:0",
			ShutdownTimeout: time.Second,
		}
	})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- env.srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunFailsOnBadAddress(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Server = config.ServerConfig{HTTPAddr: "256.0.0.1:bad"}
	})
	assert.Error(t, env.srv.Run(t.Context()))
}
