package domain

import "fmt"

// TaskDependency is an ordered edge: Task depends on DependsOn.
type TaskDependency struct {
	TaskID      string `json:"task_id"`
	DependsOnID string `json:"depends_on_task_id"`
}

// Validate rejects self-edges.
func (d TaskDependency) Validate() error {
	if d.TaskID == "" || d.DependsOnID == "" {
		return fmt.Errorf("task_id and depends_on_task_id are required")
	}
	if d.TaskID == d.DependsOnID {
		return fmt.Errorf("a task cannot depend on itself")
	}
	return nil
}
