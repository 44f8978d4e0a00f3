// Package launcher defines the port for starting and stopping agent runtimes.
package launcher

import (
	"context"
	"fmt"
	"time"

	"github.com/meshworks/agentmesh/internal/domain/agent"
)

// Launcher starts and stops agent runtime instances. Implementations run
// the runtime as a Docker container or a local OS process.
type Launcher interface {
	// Start launches a runtime for the given agent config and returns an
	// opaque instance ID (container ID or process handle).
	Start(ctx context.Context, cfg agent.Config) (instanceID string, err error)

	// Stop terminates the instance. The context deadline bounds the grace
	// period before a hard kill.
	Stop(ctx context.Context, instanceID string) error

	// Alive reports whether the instance is still running.
	Alive(ctx context.Context, instanceID string) (bool, error)
}

// RuntimeEnv builds the environment a spawned runtime needs to match the
// agent's config: identity, broker URL, concurrency and timing knobs.
func RuntimeEnv(cfg agent.Config, natsURL string, grace time.Duration) []string {
	return []string{
		"AGENTMESH_AGENT_ID=" + cfg.AgentID,
		"NATS_URL=" + natsURL,
		fmt.Sprintf("AGENTMESH_MAX_CONCURRENT=%d", cfg.MaxConcurrentTasks),
		"AGENTMESH_HEARTBEAT_INTERVAL=" + cfg.HeartbeatInterval.String(),
		"AGENTMESH_TASK_TIMEOUT=" + cfg.TaskTimeout.String(),
		"AGENTMESH_SHUTDOWN_GRACE=" + grace.String(),
	}
}
