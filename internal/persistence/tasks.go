package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fleetctl/orchestrator/internal/domain"
)

// SaveTask upserts t.
func (d *DB) SaveTask(t *domain.Task) error {
	input, err := marshalMap(t.InputData)
	if err != nil {
		return err
	}
	output, err := marshalMap(t.OutputData)
	if err != nil {
		return err
	}
	meta, err := marshalMap(t.Metadata)
	if err != nil {
		return err
	}

	_, err = d.conn.Exec(`
		INSERT INTO tasks (id, description, status, priority, input_data, output_data, metadata, agent_id, agent_type, parent_task_id, deadline, created_at, started_at, completed_at, trace_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			output_data = excluded.output_data,
			metadata = excluded.metadata,
			agent_id = excluded.agent_id,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		t.ID, t.Description, string(t.Status), t.Priority, input, output, meta,
		nullable(t.AgentID), nullable(string(t.AgentType)), nullable(t.ParentTaskID),
		t.Deadline, t.CreatedAt, t.StartedAt, t.CompletedAt, t.TraceID())
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask loads one task by id, returning nil if not found.
func (d *DB) GetTask(taskID string) (*domain.Task, error) {
	row := d.conn.QueryRow(`SELECT id, description, status, priority, input_data, output_data, metadata, agent_id, agent_type, parent_task_id, deadline, created_at, started_at, completed_at FROM tasks WHERE id = ?`, taskID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// ListTasksByStatus returns every task in status.
func (d *DB) ListTasksByStatus(status domain.TaskStatus) ([]*domain.Task, error) {
	rows, err := d.conn.Query(`SELECT id, description, status, priority, input_data, output_data, metadata, agent_id, agent_type, parent_task_id, deadline, created_at, started_at, completed_at FROM tasks WHERE status = ?`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tasks by status %s: %w", status, err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListTasksByAgent returns every task currently assigned to agentID.
func (d *DB) ListTasksByAgent(agentID string) ([]*domain.Task, error) {
	rows, err := d.conn.Query(`SELECT id, description, status, priority, input_data, output_data, metadata, agent_id, agent_type, parent_task_id, deadline, created_at, started_at, completed_at FROM tasks WHERE agent_id = ?`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for agent %s: %w", agentID, err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListTasks returns every task matching the given filters, treating an
// empty status/agentID as a wildcard, the same WHERE-1=1 pattern
// ListAgents uses.
func (d *DB) ListTasks(status domain.TaskStatus, agentID string) ([]*domain.Task, error) {
	query := `SELECT id, description, status, priority, input_data, output_data, metadata, agent_id, agent_type, parent_task_id, deadline, created_at, started_at, completed_at FROM tasks WHERE 1=1`
	var args []interface{}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	if agentID != "" {
		query += " AND agent_id = ?"
		args = append(args, agentID)
	}
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) ([]*domain.Task, error) {
	var out []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var status string
	var input, output, meta sql.NullString
	var agentID, agentType, parentTaskID sql.NullString

	err := row.Scan(&t.ID, &t.Description, &status, &t.Priority, &input, &output, &meta,
		&agentID, &agentType, &parentTaskID, &t.Deadline, &t.CreatedAt, &t.StartedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	t.Status = domain.TaskStatus(status)
	t.AgentID = agentID.String
	t.AgentType = domain.AgentType(agentType.String)
	t.ParentTaskID = parentTaskID.String

	if input.Valid {
		if err := json.Unmarshal([]byte(input.String), &t.InputData); err != nil {
			return nil, fmt.Errorf("unmarshal input_data for %s: %w", t.ID, err)
		}
	}
	if output.Valid {
		if err := json.Unmarshal([]byte(output.String), &t.OutputData); err != nil {
			return nil, fmt.Errorf("unmarshal output_data for %s: %w", t.ID, err)
		}
	}
	if meta.Valid {
		if err := json.Unmarshal([]byte(meta.String), &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func marshalMap(m map[string]interface{}) (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal map: %w", err)
	}
	return string(data), nil
}

// ErrCyclicDependency is returned when adding an edge would create a
// cycle in the task dependency graph.
var ErrCyclicDependency = fmt.Errorf("adding this dependency would create a cycle")

// AddDependency inserts the (taskID, dependsOnID) edge inside a
// transaction that also verifies the edge does not close a cycle,
// walking the existing edge table with a bounded depth-first search.
func (d *DB) AddDependency(taskID, dependsOnID string) error {
	return d.withTx(func(tx *sql.Tx) error {
		creates, err := wouldCreateCycle(tx, taskID, dependsOnID)
		if err != nil {
			return err
		}
		if creates {
			return ErrCyclicDependency
		}
		_, err = tx.Exec(`INSERT OR IGNORE INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)`, taskID, dependsOnID)
		return err
	})
}

// wouldCreateCycle reports whether adding taskID -> dependsOnID would
// let a walk starting at dependsOnID reach back to taskID, bounded to
// the number of existing edges so a corrupt graph can't loop forever.
func wouldCreateCycle(tx *sql.Tx, taskID, dependsOnID string) (bool, error) {
	if taskID == dependsOnID {
		return true, nil
	}
	visited := map[string]bool{}
	stack := []string{dependsOnID}
	maxSteps := 100000

	for len(stack) > 0 && maxSteps > 0 {
		maxSteps--
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == taskID {
			return true, nil
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true

		rows, err := tx.Query(`SELECT depends_on_id FROM task_dependencies WHERE task_id = ?`, cur)
		if err != nil {
			return false, fmt.Errorf("walk dependency graph: %w", err)
		}
		var next []string
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				rows.Close()
				return false, err
			}
			next = append(next, n)
		}
		rows.Close()
		stack = append(stack, next...)
	}
	return false, nil
}

// RemoveDependency drops the (taskID, dependsOnID) edge.
func (d *DB) RemoveDependency(taskID, dependsOnID string) error {
	_, err := d.conn.Exec(`DELETE FROM task_dependencies WHERE task_id = ? AND depends_on_id = ?`, taskID, dependsOnID)
	return err
}

// Dependencies returns the ids taskID directly depends on.
func (d *DB) Dependencies(taskID string) ([]string, error) {
	rows, err := d.conn.Query(`SELECT depends_on_id FROM task_dependencies WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies of %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Dependents returns the ids that directly depend on taskID.
func (d *DB) Dependents(taskID string) ([]string, error) {
	rows, err := d.conn.Query(`SELECT task_id FROM task_dependencies WHERE depends_on_id = ?`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list dependents of %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
