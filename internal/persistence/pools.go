package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fleetctl/orchestrator/internal/domain"
)

// SavePool upserts p.
func (d *DB) SavePool(p *domain.AgentPool) error {
	members, err := json.Marshal(p.Members)
	if err != nil {
		return fmt.Errorf("marshal pool members: %w", err)
	}
	_, err = d.conn.Exec(`
		INSERT INTO agent_pools (id, name, agent_type, min_agents, max_agents, members)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			min_agents = excluded.min_agents,
			max_agents = excluded.max_agents,
			members = excluded.members`,
		p.ID, p.Name, string(p.AgentType), p.MinAgents, p.MaxAgents, string(members))
	if err != nil {
		return fmt.Errorf("save pool %s: %w", p.ID, err)
	}
	return nil
}

// GetPool loads one pool by id, returning nil if not found.
func (d *DB) GetPool(poolID string) (*domain.AgentPool, error) {
	row := d.conn.QueryRow(`SELECT id, name, agent_type, min_agents, max_agents, members FROM agent_pools WHERE id = ?`, poolID)
	var p domain.AgentPool
	var agentType string
	var members sql.NullString

	err := row.Scan(&p.ID, &p.Name, &agentType, &p.MinAgents, &p.MaxAgents, &members)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", poolID, err)
	}
	p.AgentType = domain.AgentType(agentType)
	if members.Valid {
		if err := json.Unmarshal([]byte(members.String), &p.Members); err != nil {
			return nil, fmt.Errorf("unmarshal pool members for %s: %w", poolID, err)
		}
	}
	return &p, nil
}

// ListPools returns every registered pool.
func (d *DB) ListPools() ([]*domain.AgentPool, error) {
	rows, err := d.conn.Query(`SELECT id, name, agent_type, min_agents, max_agents, members FROM agent_pools`)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var out []*domain.AgentPool
	for rows.Next() {
		var p domain.AgentPool
		var agentType string
		var members sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &agentType, &p.MinAgents, &p.MaxAgents, &members); err != nil {
			return nil, err
		}
		p.AgentType = domain.AgentType(agentType)
		if members.Valid {
			if err := json.Unmarshal([]byte(members.String), &p.Members); err != nil {
				return nil, err
			}
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
