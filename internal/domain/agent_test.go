package domain

import (
	"testing"
	"time"
)

func TestNewAgentGeneratesName(t *testing.T) {
	a := NewAgent(AgentTypeResearch, "", Capabilities{MaxConcurrentTasks: 1}, AgentConfig{}, "")
	if a.Name == "" {
		t.Fatal("expected generated name")
	}
	if a.Status != AgentStarting {
		t.Errorf("expected starting status, got %s", a.Status)
	}
}

func TestAgentTransitionTo(t *testing.T) {
	a := NewAgent(AgentTypeWorker, "w1", Capabilities{MaxConcurrentTasks: 1}, AgentConfig{}, "")
	if err := a.TransitionTo(AgentIdle); err != nil {
		t.Fatalf("starting->idle should be allowed: %v", err)
	}
	if err := a.TransitionTo(AgentBusy); err != nil {
		t.Fatalf("idle->busy should be allowed: %v", err)
	}
	if err := a.TransitionTo(AgentStarting); err == nil {
		t.Error("busy->starting should be rejected")
	}
}

func TestCapabilitiesValidate(t *testing.T) {
	if (Capabilities{MaxConcurrentTasks: 0}).Validate() == nil {
		t.Error("expected error for MaxConcurrentTasks=0")
	}
	if (Capabilities{MaxConcurrentTasks: 101}).Validate() == nil {
		t.Error("expected error for MaxConcurrentTasks=101")
	}
	if err := (Capabilities{MaxConcurrentTasks: 5}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCapabilitiesHasSkills(t *testing.T) {
	c := Capabilities{Skills: []string{"go", "search"}, MaxConcurrentTasks: 1}
	if !c.HasSkills([]string{"go"}) {
		t.Error("expected has skill go")
	}
	if c.HasSkills([]string{"go", "rust"}) {
		t.Error("expected missing skill rust to fail")
	}
	if !c.HasSkills(nil) {
		t.Error("nil required skills should always match")
	}
}

func TestAgentIsStale(t *testing.T) {
	a := NewAgent(AgentTypeWorker, "w1", Capabilities{MaxConcurrentTasks: 1}, AgentConfig{}, "")
	now := a.LastHeartbeatAt
	if a.IsStale(now, 90*time.Second) {
		t.Error("should not be stale at zero elapsed")
	}
	later := now.Add(200 * time.Second)
	if !a.IsStale(later, 90*time.Second) {
		t.Error("should be stale after exceeding timeout")
	}
}
