package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetctl/orchestrator/internal/domain"
)

// SaveAgent upserts a.
func (d *DB) SaveAgent(a *domain.Agent) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	_, err = d.conn.Exec(`
		INSERT INTO agents (id, name, agent_type, status, capabilities, config, parent_id, pool_id, created_at, updated_at, last_heartbeat_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			agent_type = excluded.agent_type,
			status = excluded.status,
			capabilities = excluded.capabilities,
			config = excluded.config,
			parent_id = excluded.parent_id,
			pool_id = excluded.pool_id,
			updated_at = excluded.updated_at,
			last_heartbeat_at = excluded.last_heartbeat_at`,
		a.ID, a.Name, string(a.Type), string(a.Status), string(caps), string(cfg),
		nullable(a.ParentID), nullable(a.PoolID), a.CreatedAt, a.UpdatedAt, a.LastHeartbeatAt)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	return nil
}

// TouchHeartbeat updates only last_heartbeat_at and updated_at for
// agentID, the high-frequency, non-critical write the worker runtime
// issues on every heartbeat tick.
func (d *DB) TouchHeartbeat(agentID string, at time.Time) error {
	_, err := d.conn.Exec(`UPDATE agents SET last_heartbeat_at = ?, updated_at = ? WHERE id = ?`, at, at, agentID)
	if err != nil {
		return fmt.Errorf("touch heartbeat for %s: %w", agentID, err)
	}
	return nil
}

// GetAgent loads one agent by id, returning nil if not found.
func (d *DB) GetAgent(agentID string) (*domain.Agent, error) {
	row := d.conn.QueryRow(`SELECT id, name, agent_type, status, capabilities, config, parent_id, pool_id, created_at, updated_at, last_heartbeat_at FROM agents WHERE id = ?`, agentID)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListAgents returns agents, optionally filtered by status and type
// (empty string means "any").
func (d *DB) ListAgents(status domain.AgentStatus, agentType domain.AgentType) ([]*domain.Agent, error) {
	query := `SELECT id, name, agent_type, status, capabilities, config, parent_id, pool_id, created_at, updated_at, last_heartbeat_at FROM agents WHERE 1=1`
	var args []interface{}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	if agentType != "" {
		query += " AND agent_type = ?"
		args = append(args, string(agentType))
	}
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListStaleAgents returns non-terminal agents whose last heartbeat
// predates the cutoff.
func (d *DB) ListStaleAgents(cutoff time.Time) ([]*domain.Agent, error) {
	rows, err := d.conn.Query(`
		SELECT id, name, agent_type, status, capabilities, config, parent_id, pool_id, created_at, updated_at, last_heartbeat_at
		FROM agents
		WHERE last_heartbeat_at < ? AND status NOT IN ('offline', 'failed')`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale agents: %w", err)
	}
	defer rows.Close()

	var out []*domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAgent removes an agent record.
func (d *DB) DeleteAgent(agentID string) error {
	_, err := d.conn.Exec(`DELETE FROM agents WHERE id = ?`, agentID)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var a domain.Agent
	var agentType, status, caps, cfg string
	var parentID, poolID sql.NullString

	err := row.Scan(&a.ID, &a.Name, &agentType, &status, &caps, &cfg, &parentID, &poolID, &a.CreatedAt, &a.UpdatedAt, &a.LastHeartbeatAt)
	if err != nil {
		return nil, err
	}
	a.Type = domain.AgentType(agentType)
	a.Status = domain.AgentStatus(status)
	a.ParentID = parentID.String
	a.PoolID = poolID.String

	if err := json.Unmarshal([]byte(caps), &a.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshal capabilities for %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(cfg), &a.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config for %s: %w", a.ID, err)
	}
	return &a, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
