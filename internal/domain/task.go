package domain

import (
	"fmt"
	"time"

	"github.com/fleetctl/orchestrator/internal/stringutils"
	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskQueued     TaskStatus = "queued"
	TaskInProgress TaskStatus = "in_progress"
	TaskRetrying   TaskStatus = "retrying"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// taskTransitions encodes the task status machine. Terminal states have
// no outgoing edges: once reached, a task is write-once.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskQueued, TaskCancelled},
	TaskQueued:     {TaskInProgress, TaskCancelled, TaskRetrying},
	TaskInProgress: {TaskCompleted, TaskFailed, TaskRetrying, TaskCancelled},
	TaskRetrying:   {TaskPending, TaskQueued, TaskFailed},
	TaskCompleted:  {},
	TaskFailed:     {},
	TaskCancelled:  {},
}

// IsTerminal reports whether status is a terminal (write-once) state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// CanTransitionTask reports whether from -> to is allowed for tasks.
func CanTransitionTask(from, to TaskStatus) bool {
	for _, s := range taskTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Task is a unit of work submitted to the scheduler.
type Task struct {
	ID           string                 `json:"id"`
	Description  string                 `json:"description"`
	Status       TaskStatus             `json:"status"`
	Priority     int                    `json:"priority"` // [-10, 10]
	InputData    map[string]interface{} `json:"input_data,omitempty"`
	OutputData   map[string]interface{} `json:"output_data,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	AgentID      string                 `json:"agent_id,omitempty"`
	AgentType    AgentType              `json:"agent_type,omitempty"`
	ParentTaskID string                 `json:"parent_task_id,omitempty"`
	Deadline     *time.Time             `json:"deadline,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

// NewTask builds a pending task. description must be non-empty and
// priority must fall in [-10, 10]; callers validate before persisting
// (see Validate).
func NewTask(description string, priority int, agentType AgentType, traceID string) *Task {
	now := time.Now()
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return &Task{
		ID:          uuid.NewString(),
		Description: description,
		Status:      TaskPending,
		Priority:    priority,
		Metadata: map[string]interface{}{
			"retry_count": 0,
			"trace_id":    traceID,
			"progress":    0.0,
		},
		AgentType: agentType,
		CreatedAt: now,
	}
}

// Validate checks field invariants (description non-empty, priority
// range).
func (t *Task) Validate() error {
	if stringutils.IsEmpty(t.Description) {
		return fmt.Errorf("description is required")
	}
	if t.Priority < -10 || t.Priority > 10 {
		return fmt.Errorf("priority must be between -10 and 10")
	}
	return nil
}

// RetryCount reads metadata.retry_count, defaulting to 0.
func (t *Task) RetryCount() int {
	if t.Metadata == nil {
		return 0
	}
	switch v := t.Metadata["retry_count"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// SetRetryCount writes metadata.retry_count.
func (t *Task) SetRetryCount(n int) {
	if t.Metadata == nil {
		t.Metadata = map[string]interface{}{}
	}
	t.Metadata["retry_count"] = n
}

// SetProgress writes metadata.progress, clamped to [0, 1].
func (t *Task) SetProgress(frac float64) {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	if t.Metadata == nil {
		t.Metadata = map[string]interface{}{}
	}
	t.Metadata["progress"] = frac
}

// TraceID reads metadata.trace_id.
func (t *Task) TraceID() string {
	if t.Metadata == nil {
		return ""
	}
	if v, ok := t.Metadata["trace_id"].(string); ok {
		return v
	}
	return ""
}

// TransitionTo validates and applies a status transition, recording
// StartedAt/CompletedAt as appropriate. Terminal states reject any
// further transition.
func (t *Task) TransitionTo(newStatus TaskStatus) error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("task %s is terminal (%s), cannot transition to %s", t.ID, t.Status, newStatus)
	}
	if !CanTransitionTask(t.Status, newStatus) {
		return fmt.Errorf("invalid task transition from %s to %s", t.Status, newStatus)
	}
	now := time.Now()
	switch newStatus {
	case TaskInProgress:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case TaskCompleted, TaskFailed, TaskCancelled:
		t.CompletedAt = &now
	case TaskRetrying:
		t.AgentID = ""
	}
	t.Status = newStatus
	return nil
}

// Ready reports whether status is a schedulable state (pending or
// retrying) — the dependency check is performed by the caller, which
// holds the dependency graph.
func (t *Task) Ready() bool {
	return t.Status == TaskPending || t.Status == TaskRetrying
}
