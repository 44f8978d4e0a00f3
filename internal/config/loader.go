package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "agentmesh.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "AGENTMESH_PORT")
	setString(&cfg.Server.CORSOrigin, "AGENTMESH_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AGENTMESH_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AGENTMESH_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "AGENTMESH_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "AGENTMESH_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "AGENTMESH_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "AGENTMESH_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTMESH_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "AGENTMESH_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AGENTMESH_BREAKER_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxBytes, "AGENTMESH_CACHE_L1_BYTES")
	setDuration(&cfg.Cache.L1Expire, "AGENTMESH_CACHE_L1_EXPIRE")
	setString(&cfg.Cache.KVBucket, "AGENTMESH_CACHE_KV_BUCKET")
	setDuration(&cfg.Cache.DefaultTTL, "AGENTMESH_CACHE_TTL")

	// Pool
	setDuration(&cfg.Pool.HealthInterval, "AGENTMESH_POOL_HEALTH_INTERVAL")
	setDuration(&cfg.Pool.HeartbeatTimeout, "AGENTMESH_POOL_HEARTBEAT_TIMEOUT")
	setDuration(&cfg.Pool.StopGracePeriod, "AGENTMESH_POOL_STOP_GRACE")
	setInt(&cfg.Pool.MaxRestarts, "AGENTMESH_POOL_MAX_RESTARTS")
	setDuration(&cfg.Pool.RestartWindow, "AGENTMESH_POOL_RESTART_WINDOW")
	setFloat64(&cfg.Pool.Budget.CPU, "AGENTMESH_POOL_BUDGET_CPU")
	setInt(&cfg.Pool.Budget.MemoryMB, "AGENTMESH_POOL_BUDGET_MEMORY_MB")
	setString(&cfg.Pool.Launcher, "AGENTMESH_POOL_LAUNCHER")
	setString(&cfg.Pool.DockerImage, "AGENTMESH_POOL_DOCKER_IMAGE")
	setString(&cfg.Pool.DockerNetwork, "AGENTMESH_POOL_DOCKER_NETWORK")
	setString(&cfg.Pool.RuntimeBinary, "AGENTMESH_POOL_RUNTIME_BINARY")

	// Runtime
	setDuration(&cfg.Runtime.HeartbeatInterval, "AGENTMESH_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Runtime.ShutdownGrace, "AGENTMESH_SHUTDOWN_GRACE")
	setString(&cfg.Runtime.ProbePort, "AGENTMESH_PROBE_PORT")

	// Gaps
	setDuration(&cfg.Gaps.ScanInterval, "AGENTMESH_GAP_SCAN_INTERVAL")
	setBool(&cfg.Gaps.SelfHeal, "AGENTMESH_GAP_SELF_HEAL")

	// Snapshots
	setInt(&cfg.Snapshots.KeepLast, "AGENTMESH_SNAPSHOT_KEEP_LAST")
	setDuration(&cfg.Snapshots.KeepFor, "AGENTMESH_SNAPSHOT_KEEP_FOR")
	setDuration(&cfg.Snapshots.SweepEach, "AGENTMESH_SNAPSHOT_SWEEP_EACH")

	// Memory
	setDuration(&cfg.Memory.EphemeralTTL, "AGENTMESH_MEMORY_TTL")
	setString(&cfg.Memory.VectorDir, "AGENTMESH_MEMORY_VECTOR_DIR")
	setInt(&cfg.Memory.TopK, "AGENTMESH_MEMORY_TOP_K")

	// Telemetry
	setBool(&cfg.Telemetry.Enabled, "AGENTMESH_TELEMETRY_ENABLED")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Pool.Launcher != "docker" && cfg.Pool.Launcher != "localproc" {
		return errors.New("pool.launcher must be \"docker\" or \"localproc\"")
	}
	for _, r := range cfg.Gaps.Required {
		if r.MinCount < 1 {
			return errors.New("gaps.required min_count must be >= 1")
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
