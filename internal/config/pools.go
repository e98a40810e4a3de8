package config

import (
	"fmt"
	"os"

	"github.com/fleetctl/orchestrator/internal/domain"
	"gopkg.in/yaml.v3"
)

// AgentTypeDefaults holds the defaults applied to any agent spawned
// without overrides for them: capability floor and concurrency.
type AgentTypeDefaults struct {
	AgentType          domain.AgentType `yaml:"agent_type"`
	Skills             []string         `yaml:"skills"`
	MaxConcurrentTasks int              `yaml:"max_concurrent_tasks"`
}

// PoolConfig is one statically declared agent pool.
type PoolConfig struct {
	ID        string           `yaml:"id"`
	Name      string           `yaml:"name"`
	AgentType domain.AgentType `yaml:"agent_type"`
	MinAgents int              `yaml:"min_agents"`
	MaxAgents int              `yaml:"max_agents"`
}

// PoolsConfig is the top-level shape of pools.yaml: a list of static
// pools plus per-type spawn defaults.
type PoolsConfig struct {
	Pools    []PoolConfig        `yaml:"pools"`
	Defaults []AgentTypeDefaults `yaml:"defaults"`
}

// LoadPoolsConfig reads and parses path into a PoolsConfig.
func LoadPoolsConfig(path string) (*PoolsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pools config %s: %w", path, err)
	}
	var cfg PoolsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse pools config %s: %w", path, err)
	}
	return &cfg, nil
}

// DefaultsFor finds the configured defaults for agentType by name.
func (c *PoolsConfig) DefaultsFor(agentType domain.AgentType) *AgentTypeDefaults {
	for i := range c.Defaults {
		if c.Defaults[i].AgentType == agentType {
			return &c.Defaults[i]
		}
	}
	return nil
}

// ToDomainPools converts every statically declared pool into a
// domain.AgentPool ready to hand to agentmanager.Manager.AssignToPool
// callers, with an empty Members slice since pool membership is
// runtime state, not config.
func (c *PoolsConfig) ToDomainPools() []*domain.AgentPool {
	out := make([]*domain.AgentPool, 0, len(c.Pools))
	for _, p := range c.Pools {
		out = append(out, &domain.AgentPool{
			ID:        p.ID,
			Name:      p.Name,
			AgentType: p.AgentType,
			MinAgents: p.MinAgents,
			MaxAgents: p.MaxAgents,
		})
	}
	return out
}
