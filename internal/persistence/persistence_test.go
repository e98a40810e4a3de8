package persistence

import (
	"testing"
	"time"

	"github.com/fleetctl/orchestrator/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndGetAgent(t *testing.T) {
	db := openTestDB(t)
	a := domain.NewAgent(domain.AgentTypeWorker, "w1", domain.Capabilities{MaxConcurrentTasks: 2}, domain.AgentConfig{}, "")

	if err := db.SaveAgent(a); err != nil {
		t.Fatalf("save agent: %v", err)
	}
	got, err := db.GetAgent(a.ID)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got == nil || got.Name != "w1" {
		t.Fatalf("expected agent w1, got %+v", got)
	}
}

func TestListStaleAgents(t *testing.T) {
	db := openTestDB(t)
	a := domain.NewAgent(domain.AgentTypeWorker, "stale-1", domain.Capabilities{MaxConcurrentTasks: 1}, domain.AgentConfig{}, "")
	_ = a.TransitionTo(domain.AgentIdle)
	a.LastHeartbeatAt = time.Now().Add(-time.Hour)
	if err := db.SaveAgent(a); err != nil {
		t.Fatalf("save agent: %v", err)
	}

	stale, err := db.ListStaleAgents(time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != a.ID {
		t.Fatalf("expected one stale agent, got %d", len(stale))
	}
}

func TestSaveAndGetTask(t *testing.T) {
	db := openTestDB(t)
	task := domain.NewTask("do a thing", 3, domain.AgentTypeResearch, "")
	if err := db.SaveTask(task); err != nil {
		t.Fatalf("save task: %v", err)
	}
	got, err := db.GetTask(task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got == nil || got.Description != "do a thing" || got.Priority != 3 {
		t.Fatalf("unexpected task: %+v", got)
	}
}

func TestDependencyCycleRejected(t *testing.T) {
	db := openTestDB(t)
	a := domain.NewTask("a", 0, "", "")
	b := domain.NewTask("b", 0, "", "")
	c := domain.NewTask("c", 0, "", "")
	for _, tk := range []*domain.Task{a, b, c} {
		if err := db.SaveTask(tk); err != nil {
			t.Fatalf("save task: %v", err)
		}
	}

	if err := db.AddDependency(b.ID, a.ID); err != nil {
		t.Fatalf("b depends on a: %v", err)
	}
	if err := db.AddDependency(c.ID, b.ID); err != nil {
		t.Fatalf("c depends on b: %v", err)
	}
	if err := db.AddDependency(a.ID, c.ID); err != ErrCyclicDependency {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestDependencySelfEdgeRejected(t *testing.T) {
	db := openTestDB(t)
	task := domain.NewTask("solo", 0, "", "")
	if err := db.SaveTask(task); err != nil {
		t.Fatalf("save task: %v", err)
	}
	if err := db.AddDependency(task.ID, task.ID); err != ErrCyclicDependency {
		t.Fatalf("expected ErrCyclicDependency for self-edge, got %v", err)
	}
}

func TestAuditTrail(t *testing.T) {
	db := openTestDB(t)
	if err := db.RecordAudit("agent", "agent-1", "agent.spawned", "system", "spawned via api"); err != nil {
		t.Fatalf("record audit: %v", err)
	}
	entries, err := db.AuditForEntity("agent", "agent-1", 10)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	if len(entries) != 1 || entries[0].EventType != "agent.spawned" {
		t.Fatalf("unexpected audit entries: %+v", entries)
	}
}

func TestDebouncedHeartbeatFlush(t *testing.T) {
	db := openTestDB(t)
	a := domain.NewAgent(domain.AgentTypeWorker, "hb", domain.Capabilities{MaxConcurrentTasks: 1}, domain.AgentConfig{}, "")
	if err := db.SaveAgent(a); err != nil {
		t.Fatalf("save agent: %v", err)
	}

	store := NewStore(db, 20*time.Millisecond)
	later := time.Now().Add(time.Minute)
	store.RecordHeartbeat(a.ID, later)
	store.FlushHeartbeatsNow()

	got, err := db.GetAgent(a.ID)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if !got.LastHeartbeatAt.Equal(later) {
		t.Errorf("expected heartbeat to be flushed, got %v want %v", got.LastHeartbeatAt, later)
	}
}
