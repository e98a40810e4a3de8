// Package domain holds the core entities of the orchestrator control
// plane: agents, tasks, dependencies, and pools, plus the state-machine
// invariants that govern their transitions.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentType enumerates the kinds of agent the fleet can spawn.
type AgentType string

const (
	AgentTypeOrchestrator AgentType = "orchestrator"
	AgentTypeWorker       AgentType = "worker"
	AgentTypeResearch     AgentType = "research"
	AgentTypeAnalysis     AgentType = "analysis"
	AgentTypeSpecialist   AgentType = "specialist"
	AgentTypeCoordinator  AgentType = "coordinator"
)

// AgentStatus is the lifecycle state of an agent record.
type AgentStatus string

const (
	AgentStarting AgentStatus = "starting"
	AgentIdle     AgentStatus = "idle"
	AgentBusy     AgentStatus = "busy"
	AgentStopping AgentStatus = "stopping"
	AgentOffline  AgentStatus = "offline"
	AgentFailed   AgentStatus = "failed"
)

// agentTransitions encodes the allowed status moves: starting -> idle;
// idle <-> busy; starting, idle or busy -> stopping; idle, busy or
// stopping -> offline; any non-terminal status -> failed. offline and
// failed are terminal.
var agentTransitions = map[AgentStatus][]AgentStatus{
	AgentStarting: {AgentIdle, AgentFailed, AgentStopping},
	AgentIdle:     {AgentBusy, AgentStopping, AgentFailed, AgentOffline},
	AgentBusy:     {AgentIdle, AgentStopping, AgentFailed, AgentOffline},
	AgentStopping: {AgentOffline, AgentFailed},
	AgentOffline:  {},
	AgentFailed:   {},
}

// CanTransition reports whether from -> to is an allowed agent status
// transition.
func CanTransition(from, to AgentStatus) bool {
	for _, s := range agentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Capabilities describes what an agent is able to do and how much work
// it can carry concurrently.
type Capabilities struct {
	Skills             []string `json:"skills,omitempty"`
	MaxConcurrentTasks int      `json:"max_concurrent_tasks"`
}

// Validate enforces MaxConcurrentTasks in [1, 100].
func (c Capabilities) Validate() error {
	if c.MaxConcurrentTasks < 1 || c.MaxConcurrentTasks > 100 {
		return fmt.Errorf("max_concurrent_tasks must be between 1 and 100")
	}
	return nil
}

// HasSkills reports whether the capability set contains every skill in
// required.
func (c Capabilities) HasSkills(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(c.Skills))
	for _, s := range c.Skills {
		have[s] = true
	}
	for _, want := range required {
		if !have[want] {
			return false
		}
	}
	return true
}

// AgentConfig carries the model/runtime knobs an agent is spawned with.
type AgentConfig struct {
	Model         string  `json:"model"`
	Temperature   float64 `json:"temperature"`
	MaxTokens     int     `json:"max_tokens"`
	Timeout       int     `json:"timeout_seconds"`
	RetryCount    int     `json:"retry_count"`
	MemoryEnabled bool    `json:"memory_enabled"`
}

// Agent is a roster record for one fleet member.
type Agent struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Type            AgentType    `json:"agent_type"`
	Status          AgentStatus  `json:"status"`
	Capabilities    Capabilities `json:"capabilities"`
	Config          AgentConfig  `json:"config"`
	ParentID        string       `json:"parent_id,omitempty"`
	PoolID          string       `json:"pool_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	LastHeartbeatAt time.Time    `json:"last_heartbeat_at"`
}

// NewAgent builds a roster record in the "starting" status. If name is
// empty, a name of the form "<type>-<8-hex>" is generated.
func NewAgent(agentType AgentType, name string, caps Capabilities, cfg AgentConfig, parentID string) *Agent {
	now := time.Now()
	id := uuid.NewString()
	if name == "" {
		name = fmt.Sprintf("%s-%s", agentType, shortHex(id))
	}
	return &Agent{
		ID:              id,
		Name:            name,
		Type:            agentType,
		Status:          AgentStarting,
		Capabilities:    caps,
		Config:          cfg,
		ParentID:        parentID,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastHeartbeatAt: now,
	}
}

func shortHex(id string) string {
	compact := ""
	for _, r := range id {
		if r == '-' {
			continue
		}
		compact += string(r)
		if len(compact) == 8 {
			break
		}
	}
	return compact
}

// TransitionTo attempts to move the agent to newStatus, validating
// against the allowed-transition table.
func (a *Agent) TransitionTo(newStatus AgentStatus) error {
	if !CanTransition(a.Status, newStatus) {
		return fmt.Errorf("invalid transition from %s to %s", a.Status, newStatus)
	}
	a.Status = newStatus
	a.UpdatedAt = time.Now()
	return nil
}

// RecordHeartbeat stamps LastHeartbeatAt, keeping it monotonically
// non-decreasing.
func (a *Agent) RecordHeartbeat(at time.Time) {
	if at.After(a.LastHeartbeatAt) {
		a.LastHeartbeatAt = at
	}
	a.UpdatedAt = time.Now()
}

// IsStale reports whether the agent has not heartbeat within timeout of
// now.
func (a *Agent) IsStale(now time.Time, timeout time.Duration) bool {
	return now.Sub(a.LastHeartbeatAt) > timeout
}

// Available reports whether the agent is idle and matches the
// requested type/skills, used by PickAvailable.
func (a *Agent) Available(agentType AgentType, requiredSkills []string) bool {
	if a.Status != AgentIdle {
		return false
	}
	if agentType != "" && a.Type != agentType {
		return false
	}
	return a.Capabilities.HasSkills(requiredSkills)
}
