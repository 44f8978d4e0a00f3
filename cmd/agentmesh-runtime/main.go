package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	amnats "github.com/meshworks/agentmesh/internal/adapter/nats"
	"github.com/meshworks/agentmesh/internal/domain/task"
	"github.com/meshworks/agentmesh/internal/runtime"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	agentID := os.Getenv("AGENTMESH_AGENT_ID")
	if agentID == "" {
		return fmt.Errorf("AGENTMESH_AGENT_ID is required")
	}
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	log = log.With("agent_id", agentID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue, err := amnats.Connect(ctx, natsURL, log)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Drain() }()

	registry := runtime.NewRegistry()
	registerBuiltins(registry)

	rt := runtime.New(runtime.Options{
		AgentID:           agentID,
		MaxConcurrent:     envInt("AGENTMESH_MAX_CONCURRENT", 1),
		HeartbeatInterval: envDuration("AGENTMESH_HEARTBEAT_INTERVAL", 10*time.Second),
		TaskTimeout:       envDuration("AGENTMESH_TASK_TIMEOUT", 5*time.Minute),
		ShutdownGrace:     envDuration("AGENTMESH_SHUTDOWN_GRACE", 30*time.Second),
	}, queue, registry, log)

	probe := rt.ProbeServer(envString("AGENTMESH_PROBE_PORT", "8090"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := rt.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		log.Info("probe server listening", "addr", probe.Addr)
		if err := probe.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("probe server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return probe.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// registerBuiltins installs the task handlers every runtime ships with.
// Real deployments extend the registry with domain handlers.
func registerBuiltins(r *runtime.Registry) {
	r.Register("echo", runtime.ExecutorFunc(func(_ context.Context, t task.Task) (json.RawMessage, error) {
		if len(t.Payload) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return t.Payload, nil
	}))

	r.Register("sleep", runtime.ExecutorFunc(func(ctx context.Context, t task.Task) (json.RawMessage, error) {
		var p struct {
			DurationMS int `json:"duration_ms"`
		}
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		select {
		case <-time.After(time.Duration(p.DurationMS) * time.Millisecond):
			return json.RawMessage(`{"slept_ms":` + fmt.Sprint(p.DurationMS) + `}`), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
