package domain

import "fmt"

// AgentPool is a named group of same-typed agents with bounds.
type AgentPool struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AgentType AgentType `json:"agent_type"`
	MinAgents int       `json:"min_agents"`
	MaxAgents int       `json:"max_agents"`
	Members   []string  `json:"members,omitempty"`
}

// Validate checks that bounds are sane (0 <= min <= max).
func (p *AgentPool) Validate() error {
	if p.MinAgents < 0 {
		return fmt.Errorf("min_agents must be >= 0")
	}
	if p.MaxAgents < p.MinAgents {
		return fmt.Errorf("max_agents must be >= min_agents")
	}
	return nil
}

// HasRoom reports whether the pool can accept another member.
func (p *AgentPool) HasRoom() bool {
	return len(p.Members) < p.MaxAgents
}

// AddMember appends an agent id if not already present and there is
// room. Returns false if the pool is full or the agent is already a
// member.
func (p *AgentPool) AddMember(agentID string) bool {
	if !p.HasRoom() {
		return false
	}
	for _, m := range p.Members {
		if m == agentID {
			return false
		}
	}
	p.Members = append(p.Members, agentID)
	return true
}

// RemoveMember removes an agent id from the pool's membership.
func (p *AgentPool) RemoveMember(agentID string) {
	for i, m := range p.Members {
		if m == agentID {
			p.Members = append(p.Members[:i], p.Members[i+1:]...)
			return
		}
	}
}
