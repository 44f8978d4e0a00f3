// Package localproc implements the launcher port by running each agent
// runtime as a local OS process. Used in development and single-host
// deployments where Docker is unavailable.
package localproc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/meshworks/agentmesh/internal/config"
	"github.com/meshworks/agentmesh/internal/domain/agent"
	"github.com/meshworks/agentmesh/internal/port/launcher"
)

// Launcher starts agent runtimes as child processes of the control plane.
type Launcher struct {
	binary  string
	natsURL string
	grace   time.Duration

	mu    sync.Mutex
	procs map[string]*exec.Cmd // instance ID -> running process
}

// New creates a local-process launcher from pool configuration.
func New(cfg config.Pool, natsURL string) *Launcher {
	return &Launcher{
		binary:  cfg.RuntimeBinary,
		natsURL: natsURL,
		grace:   cfg.StopGracePeriod,
		procs:   make(map[string]*exec.Cmd),
	}
}

// Start launches the runtime binary for the agent. The instance ID is the
// process PID.
func (l *Launcher) Start(_ context.Context, cfg agent.Config) (string, error) {
	cmd := exec.Command(l.binary) //nolint:gosec // G204: binary path comes from operator config
	cmd.Env = append(os.Environ(), launcher.RuntimeEnv(cfg, l.natsURL, l.grace)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("launch %s: %w", cfg.AgentID, err)
	}

	instanceID := strconv.Itoa(cmd.Process.Pid)

	l.mu.Lock()
	l.procs[instanceID] = cmd
	l.mu.Unlock()

	// Reap the process when it exits so Alive sees it go away.
	go func() {
		_ = cmd.Wait()
		l.mu.Lock()
		delete(l.procs, instanceID)
		l.mu.Unlock()
	}()

	return instanceID, nil
}

// Stop sends SIGTERM and escalates to SIGKILL when the context deadline
// passes before the process exits.
func (l *Launcher) Stop(ctx context.Context, instanceID string) error {
	l.mu.Lock()
	cmd, ok := l.procs[instanceID]
	l.mu.Unlock()
	if !ok {
		return nil // already gone
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal %s: %w", instanceID, err)
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			l.mu.Lock()
			_, running := l.procs[instanceID]
			l.mu.Unlock()
			if !running {
				close(done)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return nil
	}
}

// Alive reports whether the process is still running.
func (l *Launcher) Alive(_ context.Context, instanceID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.procs[instanceID]
	return ok, nil
}
