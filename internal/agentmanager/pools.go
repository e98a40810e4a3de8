package agentmanager

import "fmt"

// AssignToPool adds agentID to poolID's membership if the pool has
// room, persisting the updated pool.
func (m *Manager) AssignToPool(agentID, poolID string) error {
	pool, err := m.store.GetPool(poolID)
	if err != nil {
		return fmt.Errorf("load pool %s: %w", poolID, err)
	}
	if pool == nil {
		return fmt.Errorf("pool %s not found", poolID)
	}
	if !pool.AddMember(agentID) {
		return fmt.Errorf("pool %s has no room for %s", poolID, agentID)
	}
	agent, err := m.store.GetAgent(agentID)
	if err != nil {
		return fmt.Errorf("load agent %s: %w", agentID, err)
	}
	if agent == nil {
		return fmt.Errorf("agent %s not found", agentID)
	}
	agent.PoolID = poolID
	if err := m.store.SaveAgent(agent); err != nil {
		return fmt.Errorf("save agent %s: %w", agentID, err)
	}
	return m.store.SavePool(pool)
}
