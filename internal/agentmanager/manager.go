// Package agentmanager owns the agent roster: spawning, status and
// heartbeat updates, termination, pool membership, and the stale-agent
// health sweep.
package agentmanager

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fleetctl/orchestrator/internal/domain"
	"github.com/fleetctl/orchestrator/internal/eventbus"
	"github.com/fleetctl/orchestrator/internal/persistence"
	"github.com/fleetctl/orchestrator/internal/statestore"
)

// Manager is the control plane's agent roster. Agent status changes
// are serialized per-agent via the state store's lock primitive
// (lock:agent:<id>) so concurrent status-change calls for the same
// agent never race. Heartbeats take no lock; they go straight to the
// persistence store's debounced heartbeat writer.
type Manager struct {
	mu       sync.RWMutex
	spawnMu  sync.Mutex
	store    *persistence.Store
	bus      eventbus.Bus
	state    *statestore.Store
	logger   *log.Logger
	counters map[domain.AgentType]int
}

// New builds a Manager over the given persistence, event bus, and
// state store.
func New(store *persistence.Store, bus eventbus.Bus, state *statestore.Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(log.Writer(), "[AGENTMANAGER] ", log.LstdFlags)
	}
	return &Manager{
		store:    store,
		bus:      bus,
		state:    state,
		logger:   logger,
		counters: make(map[domain.AgentType]int),
	}
}

// Spawn creates a new agent record in the starting state, persists it,
// and publishes agent.spawned keyed on the new agent's id.
func (m *Manager) Spawn(ctx context.Context, agentType domain.AgentType, name string, caps domain.Capabilities, cfg domain.AgentConfig, parentID string) (*domain.Agent, error) {
	if err := caps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capabilities: %w", err)
	}

	m.spawnMu.Lock()
	agent := domain.NewAgent(agentType, name, caps, cfg, parentID)
	m.counters[agentType]++
	m.spawnMu.Unlock()

	if err := m.store.SpawnAgent(agent, "agentmanager"); err != nil {
		return nil, fmt.Errorf("persist spawned agent: %w", err)
	}

	env := eventbus.NewEnvelope(eventbus.EventAgentSpawned, agent.ID, "", map[string]interface{}{
		"agent_id":   agent.ID,
		"name":       agent.Name,
		"agent_type": string(agent.Type),
	})
	if err := m.bus.Publish(ctx, eventbus.TopicAgentLifecycle, env); err != nil {
		m.logger.Printf("failed to publish agent.spawned for %s: %v", agent.ID, err)
	}
	return agent, nil
}

// UpdateStatus transitions agentID to newStatus under a per-agent
// lock, persists the change, and publishes the corresponding lifecycle
// event. An optional reason is attached to the published event (most
// relevant for a transition into stopping/offline, which maps to
// agent.stopped); callers making a routine status change can omit it.
func (m *Manager) UpdateStatus(ctx context.Context, agentID string, newStatus domain.AgentStatus, reason ...string) error {
	r := ""
	if len(reason) > 0 {
		r = reason[0]
	}
	return m.transition(ctx, agentID, newStatus, r, true)
}

// transition applies the status change and, when emit is true,
// publishes the lifecycle event exactly once. Terminate uses emit=false
// on its intermediate stopping step so a single termination produces a
// single agent.stopped event rather than one per step.
func (m *Manager) transition(ctx context.Context, agentID string, newStatus domain.AgentStatus, reason string, emit bool) error {
	lock, err := m.state.Acquire(ctx, lockAgentKey(agentID), 5*time.Second, 2*time.Second)
	if err != nil {
		return fmt.Errorf("acquire agent lock %s: %w", agentID, err)
	}
	defer m.state.Release(lock)

	agent, err := m.store.GetAgent(agentID)
	if err != nil {
		return fmt.Errorf("load agent %s: %w", agentID, err)
	}
	if agent == nil {
		return fmt.Errorf("agent %s not found", agentID)
	}

	if err := agent.TransitionTo(newStatus); err != nil {
		return err
	}
	if err := m.store.SaveAgent(agent); err != nil {
		return fmt.Errorf("save agent %s: %w", agentID, err)
	}
	if err := m.store.RecordAudit("agent", agentID, "agent.status_changed", "agentmanager", string(newStatus)); err != nil {
		m.logger.Printf("failed to record audit for %s: %v", agentID, err)
	}

	if !emit {
		return nil
	}

	eventType := statusEventType(newStatus)
	payload := map[string]interface{}{
		"agent_id": agentID,
		"status":   string(newStatus),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	env := eventbus.NewEnvelope(eventType, agentID, "", payload)
	if err := m.bus.Publish(ctx, eventbus.TopicAgentLifecycle, env); err != nil {
		m.logger.Printf("failed to publish %s for %s: %v", eventType, agentID, err)
	}
	return nil
}

func statusEventType(status domain.AgentStatus) string {
	switch status {
	case domain.AgentIdle:
		return eventbus.EventAgentStarted
	case domain.AgentOffline, domain.AgentStopping:
		return eventbus.EventAgentStopped
	case domain.AgentFailed:
		return eventbus.EventAgentFailed
	default:
		return eventbus.EventAgentHeartbeat
	}
}

// RecordHeartbeat stamps agentID's heartbeat through the debounced
// persistence writer (not synchronous; see persistence.Store).
func (m *Manager) RecordHeartbeat(agentID string, at time.Time) {
	m.store.RecordHeartbeat(agentID, at)
}

// Terminate transitions agentID through stopping to offline, publishing
// exactly one agent.stopped event (on the final offline transition)
// carrying reason.
func (m *Manager) Terminate(ctx context.Context, agentID, reason string) error {
	if err := m.transition(ctx, agentID, domain.AgentStopping, "", false); err != nil {
		return err
	}
	return m.transition(ctx, agentID, domain.AgentOffline, reason, true)
}

// PickAvailable returns the first idle agent matching agentType (when
// non-empty) and possessing every skill in requiredSkills.
func (m *Manager) PickAvailable(agentType domain.AgentType, requiredSkills []string) (*domain.Agent, error) {
	candidates, err := m.store.ListAgents(domain.AgentIdle, agentType)
	if err != nil {
		return nil, fmt.Errorf("list idle agents: %w", err)
	}
	for _, a := range candidates {
		if a.Available(agentType, requiredSkills) {
			return a, nil
		}
	}
	return nil, nil
}

// AgentCountsByStatus returns the number of registered agents in each
// lifecycle status, for the metrics collector's periodic refresh.
func (m *Manager) AgentCountsByStatus() map[domain.AgentStatus]int {
	counts := make(map[domain.AgentStatus]int)
	agents, err := m.store.ListAgents("", "")
	if err != nil {
		m.logger.Printf("list agents for metrics failed: %v", err)
		return counts
	}
	for _, a := range agents {
		counts[a.Status]++
	}
	return counts
}

func lockAgentKey(agentID string) string {
	return "lock:agent:" + agentID
}
