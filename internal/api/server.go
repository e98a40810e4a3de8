// Package api exposes the control plane over HTTP and WebSocket:
// agent and task admission/query endpoints, health probes, a
// Prometheus scrape target, and a live event feed, routed through a
// gorilla/mux router with an /api/v1 subrouter.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/fleetctl/orchestrator/internal/agentmanager"
	"github.com/fleetctl/orchestrator/internal/eventbus"
	"github.com/fleetctl/orchestrator/internal/metrics"
	"github.com/fleetctl/orchestrator/internal/persistence"
	"github.com/fleetctl/orchestrator/internal/scheduler"
	"github.com/fleetctl/orchestrator/internal/statestore"
	"github.com/gorilla/mux"
)

// Config tunes rate limiting and the HTTP listener.
type Config struct {
	Addr              string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Server wires the control plane's domain services to an HTTP router.
type Server struct {
	cfg     Config
	store   *persistence.Store
	agents  *agentmanager.Manager
	sched   *scheduler.Scheduler
	state   *statestore.Store
	bus     eventbus.Bus
	metrics *metrics.Collector
	hub     *Hub
	logger  *log.Logger

	router     *mux.Router
	httpServer *http.Server
	startTime  time.Time
}

// Deps bundles the services Server routes requests to.
type Deps struct {
	Store     *persistence.Store
	Agents    *agentmanager.Manager
	Scheduler *scheduler.Scheduler
	State     *statestore.Store
	Bus       eventbus.Bus
	Metrics   *metrics.Collector
}

// NewServer builds a Server and its route table. Start must be called
// to begin serving; it also subscribes the WebSocket hub to the event
// bus and starts relaying events to it.
func NewServer(cfg Config, deps Deps, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[API] ", log.LstdFlags)
	}
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = 60 * time.Second
	}

	s := &Server{
		cfg:       cfg,
		store:     deps.Store,
		agents:    deps.Agents,
		sched:     deps.Scheduler,
		state:     deps.State,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		hub:       NewHub(logger),
		logger:    logger,
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.tracingMiddleware)
	s.router.Use(s.rateLimitMiddleware)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/agents/spawn", s.handleSpawnAgent).Methods(http.MethodPost)
	v1.HandleFunc("/agents", s.handleListAgents).Methods(http.MethodGet)
	v1.HandleFunc("/agents/{id}", s.handleGetAgent).Methods(http.MethodGet)
	v1.HandleFunc("/agents/{id}/status", s.handlePatchAgentStatus).Methods(http.MethodPatch)
	v1.HandleFunc("/agents/{id}/heartbeat", s.handleAgentHeartbeat).Methods(http.MethodPost)
	v1.HandleFunc("/agents/{id}/terminate", s.handleTerminateAgent).Methods(http.MethodPost)

	v1.HandleFunc("/tasks/submit", s.handleSubmitTask).Methods(http.MethodPost)
	v1.HandleFunc("/tasks", s.handleListTasks).Methods(http.MethodGet)
	v1.HandleFunc("/tasks/{id}", s.handleGetTask).Methods(http.MethodGet)
	v1.HandleFunc("/tasks/{id}/status", s.handleTaskStatus).Methods(http.MethodGet)
	v1.HandleFunc("/tasks/{id}", s.handlePatchTask).Methods(http.MethodPatch)
	v1.HandleFunc("/tasks/{id}/cancel", s.handleCancelTask).Methods(http.MethodPost)
	v1.HandleFunc("/tasks/{id}/dependencies", s.handleAddDependency).Methods(http.MethodPost)

	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	v1.HandleFunc("/health/ready", s.handleReady).Methods(http.MethodGet)
	v1.HandleFunc("/health/live", s.handleLive).Methods(http.MethodGet)
	if s.metrics != nil {
		v1.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	v1.HandleFunc("/events/stream", s.handleEventsStream)
}

// Router exposes the configured mux.Router, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start begins relaying event-bus traffic to the WebSocket hub and
// serving HTTP on cfg.Addr. It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	if err := s.hub.Subscribe(s.bus); err != nil {
		return fmt.Errorf("subscribe event hub: %w", err)
	}
	go s.hub.Run(ctx)

	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.router,
	}
	s.logger.Printf("listening on %s", s.cfg.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
