// Package docker implements the launcher port by running each agent runtime
// in its own Docker container via the docker CLI.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/meshworks/agentmesh/internal/config"
	"github.com/meshworks/agentmesh/internal/domain/agent"
	"github.com/meshworks/agentmesh/internal/port/launcher"
)

// Launcher starts agent runtimes as Docker containers.
type Launcher struct {
	image   string
	network string
	natsURL string
	grace   time.Duration
}

// New creates a docker-backed launcher from pool configuration.
func New(cfg config.Pool, natsURL string) *Launcher {
	return &Launcher{
		image:   cfg.DockerImage,
		network: cfg.DockerNetwork,
		natsURL: natsURL,
		grace:   cfg.StopGracePeriod,
	}
}

// Start creates and starts a container for the agent, returning its container ID.
func (l *Launcher) Start(ctx context.Context, cfg agent.Config) (string, error) {
	containerName := "agentmesh-" + shortID(cfg.AgentID)

	args := []string{
		"run", "-d",
		"--name", containerName,
		fmt.Sprintf("--memory=%dm", cfg.MemoryLimitMB),
		fmt.Sprintf("--cpus=%.2f", cfg.CPULimit),
		"--pids-limit=256",
		"--security-opt=no-new-privileges",
		"--restart=no", // restarts are the pool's decision, not Docker's
	}

	for _, kv := range launcher.RuntimeEnv(cfg, l.natsURL, l.grace) {
		args = append(args, "-e", kv)
	}

	if l.network != "" {
		args = append(args, "--network="+l.network)
	}

	args = append(args, l.image)

	output, err := runDocker(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("launch %s: %w", cfg.AgentID, err)
	}
	return strings.TrimSpace(output), nil
}

// Stop stops and removes the container. The context deadline bounds the
// stop grace period before Docker sends SIGKILL.
func (l *Launcher) Stop(ctx context.Context, instanceID string) error {
	grace := 10
	if deadline, ok := ctx.Deadline(); ok {
		secs := int(time.Until(deadline).Seconds())
		if secs < 1 {
			secs = 1
		}
		if secs < grace {
			grace = secs
		}
	}

	if _, err := runDocker(ctx, "stop", "-t", fmt.Sprint(grace), instanceID); err != nil {
		return fmt.Errorf("stop container: %w", err)
	}
	if _, err := runDocker(ctx, "rm", "-f", instanceID); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// Alive reports whether the container is still running.
func (l *Launcher) Alive(ctx context.Context, instanceID string) (bool, error) {
	output, err := runDocker(ctx, "inspect", "-f", "{{.State.Running}}", instanceID)
	if err != nil {
		// Inspect fails when the container no longer exists.
		return false, nil
	}
	return strings.TrimSpace(output) == "true", nil
}

// shortID returns the first 12 characters of an ID (or the full string if shorter).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// runDocker executes a docker command and returns stdout.
func runDocker(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...) //nolint:gosec // G204: docker args are constructed internally, not from user input

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}
