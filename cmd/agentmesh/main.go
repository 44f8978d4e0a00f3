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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/meshworks/agentmesh/internal/adapter/chromem"
	amhttp "github.com/meshworks/agentmesh/internal/adapter/http"
	"github.com/meshworks/agentmesh/internal/adapter/launcher/docker"
	"github.com/meshworks/agentmesh/internal/adapter/launcher/localproc"
	amnats "github.com/meshworks/agentmesh/internal/adapter/nats"
	"github.com/meshworks/agentmesh/internal/adapter/natskv"
	"github.com/meshworks/agentmesh/internal/adapter/otel"
	"github.com/meshworks/agentmesh/internal/adapter/postgres"
	"github.com/meshworks/agentmesh/internal/adapter/ristretto"
	"github.com/meshworks/agentmesh/internal/adapter/tiered"
	"github.com/meshworks/agentmesh/internal/adapter/ws"
	"github.com/meshworks/agentmesh/internal/config"
	"github.com/meshworks/agentmesh/internal/logger"
	"github.com/meshworks/agentmesh/internal/middleware"
	"github.com/meshworks/agentmesh/internal/port/database"
	"github.com/meshworks/agentmesh/internal/port/launcher"
	"github.com/meshworks/agentmesh/internal/resilience"
	"github.com/meshworks/agentmesh/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"launcher", cfg.Pool.Launcher,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	shutdownOtel, err := otel.Init(ctx, cfg.Telemetry, cfg.Logging.Service, log)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOtel(shutdownCtx)
	}()

	instruments, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metric instruments: %w", err)
	}

	// --- Infrastructure ---

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	pgpool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	store := postgres.NewStore(pgpool)
	defer store.Close()
	log.Info("postgres connected")

	queue, err := amnats.Connect(ctx, cfg.NATS.URL, log)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Drain() }()

	// Tiered memory cache: in-process L1 over a NATS KV bucket.
	l1, err := ristretto.New(cfg.Cache.L1MaxBytes)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()

	l2, err := natskv.EnsureBucket(ctx, queue.JetStream(), cfg.Cache.KVBucket, cfg.Cache.DefaultTTL)
	if err != nil {
		return fmt.Errorf("kv bucket: %w", err)
	}
	memCache := tiered.New(l1, l2, cfg.Cache.L1Expire)

	index, err := chromem.New(cfg.Memory.VectorDir, nil)
	if err != nil {
		return fmt.Errorf("vector index: %w", err)
	}

	var launch launcher.Launcher
	switch cfg.Pool.Launcher {
	case "docker":
		launch = docker.New(cfg.Pool, cfg.NATS.URL)
	default:
		launch = localproc.New(cfg.Pool, cfg.NATS.URL)
	}

	// --- Services ---

	hub := ws.NewHub(log, func(ctx context.Context) (string, any) {
		records, err := store.ListAgents(ctx)
		if err != nil {
			log.Warn("agent list snapshot failed", "error", err)
			return ws.EventAgentList, nil
		}
		return ws.EventAgentList, records
	})

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)

	poolSvc := service.NewPoolService(cfg.Pool, store, queue, launch, hub, log)
	orchSvc := service.NewOrchestratorService(store, queue, hub, breaker, log)
	factorySvc := service.NewFactoryService(poolSvc, store, log)
	snapSvc := service.NewSnapshotService(cfg.Snapshots, store, poolSvc, log)
	memSvc := service.NewMemoryService(cfg.Memory, memCache, index, log)
	gapSvc := service.NewGapService(cfg.Gaps, store, hub, log)
	metricsSvc := service.NewMetricsService(cfg.Retention, store, log)

	poolSvc.SetSnapshotter(snapSvc)
	poolSvc.SetMetrics(instruments)
	orchSvc.SetMetrics(instruments)
	orchSvc.SetSelfHeal(cfg.Gaps, gapSvc, factorySvc)
	snapSvc.SetMemory(memSvc)
	snapSvc.SetMetrics(instruments)
	gapSvc.SetMetrics(instruments)

	// --- Broker subscribers ---

	cancelHeartbeats, err := poolSvc.StartHeartbeatSubscriber(ctx)
	if err != nil {
		return fmt.Errorf("heartbeat subscriber: %w", err)
	}
	defer cancelHeartbeats()

	cancelResults, err := orchSvc.StartResultSubscriber(ctx)
	if err != nil {
		return fmt.Errorf("result subscriber: %w", err)
	}
	defer cancelResults()

	cancelIngest, err := metricsSvc.StartIngest(ctx, queue)
	if err != nil {
		return fmt.Errorf("metrics ingest: %w", err)
	}
	defer cancelIngest()

	// --- HTTP ---

	handlers := &amhttp.Handlers{
		Pool:         poolSvc,
		Orchestrator: orchSvc,
		Factory:      factorySvc,
		Snapshots:    snapSvc,
		Gaps:         gapSvc,
		Memory:       memSvc,
		Metrics:      metricsSvc,
	}

	r := chi.NewRouter()
	r.Use(amhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(amhttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.Telemetry.Enabled {
		r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	}

	r.Get("/health", healthHandler(store, queue))
	r.Get("/ws", hub.HandleWS)
	amhttp.MountRoutes(r, handlers)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- Background loops ---

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		poolSvc.RunHealthLoop(gctx)
		return nil
	})
	g.Go(func() error {
		orchSvc.RunCoverageLoop(gctx)
		return nil
	})
	g.Go(func() error {
		orchSvc.RunDispatchLoop(gctx)
		return nil
	})
	g.Go(func() error {
		snapSvc.RunRetentionLoop(gctx)
		return nil
	})
	g.Go(func() error {
		metricsSvc.RunRetentionLoop(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// healthHandler reports liveness of the control plane's dependencies.
func healthHandler(store database.Store, queue *amnats.Broker) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
		NATS     string `json:"nats"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{Status: "ok", Postgres: "ok", NATS: "ok"}
		code := http.StatusOK

		if err := store.Ping(r.Context()); err != nil {
			status.Status = "degraded"
			status.Postgres = err.Error()
			code = http.StatusServiceUnavailable
		}
		if !queue.IsConnected() {
			status.Status = "degraded"
			status.NATS = "disconnected"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
