package domain

import "testing"

func TestNewTaskDefaults(t *testing.T) {
	task := NewTask("summarize doc", 0, AgentTypeResearch, "")
	if task.Status != TaskPending {
		t.Errorf("expected pending, got %s", task.Status)
	}
	if task.RetryCount() != 0 {
		t.Errorf("expected retry_count 0, got %d", task.RetryCount())
	}
	if task.TraceID() == "" {
		t.Error("expected a minted trace id")
	}
}

func TestTaskValidate(t *testing.T) {
	task := NewTask("", 0, "", "")
	if task.Validate() == nil {
		t.Error("expected error for empty description")
	}
	task2 := NewTask("ok", 11, "", "")
	if task2.Validate() == nil {
		t.Error("expected error for out-of-range priority")
	}
}

func TestTaskTerminalImmutability(t *testing.T) {
	task := NewTask("do it", 0, "", "")
	task.Status = TaskQueued
	if err := task.TransitionTo(TaskInProgress); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if err := task.TransitionTo(TaskCompleted); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if err := task.TransitionTo(TaskFailed); err == nil {
		t.Error("terminal task should reject further transitions")
	}
}

func TestTaskRetryingClearsAgent(t *testing.T) {
	task := NewTask("do it", 0, "", "")
	task.Status = TaskInProgress
	task.AgentID = "agent-1"
	if err := task.TransitionTo(TaskRetrying); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if task.AgentID != "" {
		t.Error("expected AgentID cleared on retrying")
	}
}

func TestTaskStartedBeforeCompleted(t *testing.T) {
	task := NewTask("do it", 0, "", "")
	task.Status = TaskQueued
	_ = task.TransitionTo(TaskInProgress)
	started := *task.StartedAt
	_ = task.TransitionTo(TaskCompleted)
	if task.CompletedAt.Before(started) {
		t.Error("CompletedAt must not precede StartedAt")
	}
}
