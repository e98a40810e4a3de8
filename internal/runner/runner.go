// Package runner holds the per-agent-type execution strategies the
// worker runtime dispatches a task to. Instead of switching on agent
// type inline wherever a task is executed, every type registers a
// Runner factory once and the worker looks it up by key, so adding an
// agent type never touches the dispatch path.
package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/fleetctl/orchestrator/internal/domain"
)

// Input is what the worker runtime hands a Runner for one task
// execution.
type Input struct {
	TaskID      string
	AgentID     string
	Description string
	Data        map[string]interface{}
}

// Output is what a Runner returns on success.
type Output struct {
	Data map[string]interface{}
}

// Runner executes one task for a specific agent kind.
type Runner interface {
	// SystemPrompt returns the priming prompt this runner's LLM calls
	// should be given, describing the agent kind's role.
	SystemPrompt() string
	// Execute runs input to completion or returns an error. Runners
	// should respect ctx cancellation for anything that blocks.
	Execute(ctx context.Context, input Input) (Output, error)
}

// Factory builds a fresh Runner for one agent.
type Factory func(agent *domain.Agent) Runner

// Registry maps agent type to the factory that builds its Runner.
type Registry struct {
	mu        sync.RWMutex
	factories map[domain.AgentType]Factory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[domain.AgentType]Factory)}
}

// Register installs factory for agentType, replacing any existing
// registration.
func (r *Registry) Register(agentType domain.AgentType, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[agentType] = factory
}

// Build looks up agentType's factory and constructs a Runner for
// agent, returning an error if no factory was registered.
func (r *Registry) Build(agentType domain.AgentType, agent *domain.Agent) (Runner, error) {
	r.mu.RLock()
	factory, ok := r.factories[agentType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no runner registered for agent type %q", agentType)
	}
	return factory(agent), nil
}
