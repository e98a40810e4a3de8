// Command orchestratord runs the agent-orchestration control plane:
// the HTTP/WS API, task scheduler, agent health monitor, worker
// runtime, and webhook dispatcher all in one process, wired up and
// then blocked on a shutdown signal. Subcommands (serve, migrate,
// version) are organized with cobra rather than flag, since a service
// with a migration step doesn't fit a flag-only main().
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetctl/orchestrator/internal/agentmanager"
	"github.com/fleetctl/orchestrator/internal/api"
	"github.com/fleetctl/orchestrator/internal/config"
	"github.com/fleetctl/orchestrator/internal/domain"
	"github.com/fleetctl/orchestrator/internal/eventbus"
	"github.com/fleetctl/orchestrator/internal/knowledge"
	"github.com/fleetctl/orchestrator/internal/metrics"
	"github.com/fleetctl/orchestrator/internal/persistence"
	"github.com/fleetctl/orchestrator/internal/runner"
	"github.com/fleetctl/orchestrator/internal/scheduler"
	"github.com/fleetctl/orchestrator/internal/statestore"
	"github.com/fleetctl/orchestrator/internal/webhooks"
	"github.com/fleetctl/orchestrator/internal/worker"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var poolsPath string

func main() {
	root := &cobra.Command{
		Use:   "orchestratord",
		Short: "Agent-orchestration control plane",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane (API, scheduler, worker runtime, webhook dispatcher)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	serveCmd.Flags().StringVar(&poolsPath, "pools", "", "optional pools.yaml declaring static agent pools and per-type defaults")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the orchestratord version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	root.AddCommand(serveCmd, migrateCmd, versionCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := persistence.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	fmt.Printf("schema at %s is up to date\n", cfg.DatabaseURL)
	return nil
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.New(log.Writer(), "[ORCHESTRATORD] ", log.LstdFlags)
	if cfg.RedisURL != "" {
		logger.Printf("REDIS_URL is set but no redis backend is wired; using the in-process state store")
	}

	db, err := persistence.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	store := persistence.NewStore(db, 500*time.Millisecond)

	bus, closeBus := buildEventBus(cfg, logger)
	defer closeBus()

	state := statestore.New(time.Minute, time.Minute)

	agents := agentmanager.New(store, bus, state, log.New(log.Writer(), "[AGENTS] ", log.LstdFlags))

	sched := scheduler.New(store, agents, bus, state, scheduler.Config{
		Strategy:    scheduler.Strategy(cfg.SchedulerStrategy),
		AgingFactor: cfg.SchedulerAgingFactor,
	}, log.New(log.Writer(), "[SCHEDULER] ", log.LstdFlags))

	health := agentmanager.NewHealthMonitor(agents, cfg.AgentHeartbeatTimeout, func(ctx context.Context, agentID string) {
		sched.ReleaseAgentTasks(ctx, agentID)
	}, log.New(log.Writer(), "[HEALTH] ", log.LstdFlags))

	registry := runner.NewRegistry()
	seedRunners(registry)
	runtime := worker.New(sched, store, registry, bus, worker.Config{
		TaskTimeout: cfg.TaskDefaultTimeout,
	}, log.New(log.Writer(), "[WORKER] ", log.LstdFlags))

	dispatcher := webhooks.New(store, bus, state, webhooks.Config{}, log.New(log.Writer(), "[WEBHOOKS] ", log.LstdFlags))
	collector := metrics.NewCollector()
	sched.SetCollector(collector)
	dispatcher.SetCollector(collector)
	if cfg.WebhookSecretKey != "" {
		dispatcher.SetSecretCipher(webhooks.NewSecretCipher(cfg.WebhookSecretKey))
	}

	if poolsPath != "" {
		seedPools(store, poolsPath, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	if err := health.Start(ctx); err != nil {
		return fmt.Errorf("start health monitor: %w", err)
	}
	defer health.Stop()

	if err := runtime.Start(); err != nil {
		return fmt.Errorf("start worker runtime: %w", err)
	}
	defer runtime.Stop()

	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("start webhook dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	stopRefresh := make(chan struct{})
	go refreshMetricsLoop(collector, sched, agents, stopRefresh)
	defer close(stopRefresh)

	srv := api.NewServer(api.Config{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	}, api.Deps{
		Store:     store,
		Agents:    agents,
		Scheduler: sched,
		State:     state,
		Bus:       bus,
		Metrics:   collector,
	}, log.New(log.Writer(), "[API] ", log.LstdFlags))

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start(ctx) }()

	logger.Printf("listening on %s:%d", cfg.Host, cfg.Port)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Printf("server error: %v", err)
		}
	case <-shutdown:
		logger.Println("shutting down (signal received)")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("server shutdown error: %v", err)
	}
	store.FlushHeartbeatsNow()
	logger.Println("goodbye")
	return nil
}

// buildEventBus attempts a durable JetStream-backed bus and falls back
// to the in-process memory bus if NATS is unreachable.
func buildEventBus(cfg *config.Config, logger *log.Logger) (eventbus.Bus, func()) {
	bus, err := eventbus.NewJetStreamBus(cfg.KafkaBootstrapServers, log.New(log.Writer(), "[EVENTBUS] ", log.LstdFlags))
	if err != nil {
		logger.Printf("jetstream unavailable (%v), falling back to in-process event bus", err)
		mem := eventbus.NewMemoryBus(log.New(log.Writer(), "[EVENTBUS] ", log.LstdFlags))
		return mem, func() { mem.Close() }
	}
	return bus, func() { bus.Close() }
}

// seedRunners registers the default LLM-backed runner for every agent
// type the fleet ships with. A real LLM client is a deployment
// concern (see runner.LLM's doc comment); NullLLM keeps the pipeline
// wired end to end until one is configured.
func seedRunners(registry *runner.Registry) {
	types := map[domain.AgentType]string{
		domain.AgentTypeOrchestrator: "orchestrator",
		domain.AgentTypeWorker:       "worker",
		domain.AgentTypeResearch:     "research assistant",
		domain.AgentTypeAnalysis:     "data analyst",
		domain.AgentTypeSpecialist:   "specialist",
		domain.AgentTypeCoordinator:  "coordinator",
	}
	for agentType, role := range types {
		registry.Register(agentType, runner.NewLLMRunnerFactory(role, runner.NullLLM{}, knowledge.NullStore{}))
	}
}

func seedPools(store *persistence.Store, path string, logger *log.Logger) {
	poolsCfg, err := config.LoadPoolsConfig(path)
	if err != nil {
		logger.Printf("failed to load pools config %s: %v", path, err)
		return
	}
	for _, pool := range poolsCfg.ToDomainPools() {
		if err := store.SavePool(pool); err != nil {
			logger.Printf("failed to save pool %s: %v", pool.ID, err)
		}
	}
}

func refreshMetricsLoop(collector *metrics.Collector, sched *scheduler.Scheduler, agents *agentmanager.Manager, stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			collector.Refresh(sched, agents)
		}
	}
}
