package scheduler

import (
	"testing"
	"time"

	"github.com/fleetctl/orchestrator/internal/domain"
)

func TestReadySetOrdersByPriority(t *testing.T) {
	rs := NewReadySet(StrategyPriority, 0)
	low := domain.NewTask("low", 1, domain.AgentTypeWorker, "")
	high := domain.NewTask("high", 9, domain.AgentTypeWorker, "")
	rs.Enqueue(low)
	rs.Enqueue(high)

	got := rs.Dequeue(domain.AgentTypeWorker, nil)
	if got == nil || got.ID != high.ID {
		t.Fatalf("expected high priority task first, got %v", got)
	}
}

func TestReadySetFIFOIgnoresPriority(t *testing.T) {
	rs := NewReadySet(StrategyFIFO, 0)
	first := domain.NewTask("first", 1, domain.AgentTypeWorker, "")
	rs.Enqueue(first)
	time.Sleep(2 * time.Millisecond)
	second := domain.NewTask("second", 9, domain.AgentTypeWorker, "")
	rs.Enqueue(second)

	got := rs.Dequeue(domain.AgentTypeWorker, nil)
	if got == nil || got.ID != first.ID {
		t.Fatalf("expected FIFO order, got %v", got)
	}
}

func TestReadySetDeadlineUrgencyOutranksPriority(t *testing.T) {
	rs := NewReadySet(StrategyDeadline, 0)
	soon := time.Now().Add(time.Minute)
	urgent := domain.NewTask("urgent", -5, domain.AgentTypeWorker, "")
	urgent.Deadline = &soon
	relaxed := domain.NewTask("relaxed", 9, domain.AgentTypeWorker, "")

	rs.Enqueue(relaxed)
	rs.Enqueue(urgent)

	got := rs.Dequeue(domain.AgentTypeWorker, nil)
	if got == nil || got.ID != urgent.ID {
		t.Fatalf("expected the near-deadline task first, got %v", got)
	}
}

func TestReadySetOverdueDominatesPriorityAndAgingUnderDefaultStrategy(t *testing.T) {
	rs := NewReadySet(StrategyPriority, 0.5)
	past := time.Now().Add(-time.Hour)
	overdue := domain.NewTask("overdue", -10, domain.AgentTypeWorker, "")
	overdue.Deadline = &past
	rs.Enqueue(overdue)

	// A long-waiting, max-priority task with no deadline at all; its
	// aging boost alone should still lose to an overdue deadline.
	maxPriority := domain.NewTask("max priority", 10, domain.AgentTypeWorker, "")
	rs.Enqueue(maxPriority)
	rs.mu.Lock()
	for _, e := range rs.entries {
		if e.task.ID == maxPriority.ID {
			e.enqueuedAt = time.Now().Add(-24 * time.Hour)
		}
	}
	rs.mu.Unlock()
	rs.Resort()

	got := rs.Dequeue(domain.AgentTypeWorker, nil)
	if got == nil || got.ID != overdue.ID {
		t.Fatalf("expected the overdue task to dominate priority and aging, got %v", got)
	}
}

func TestReadySetDequeueFiltersByAgentType(t *testing.T) {
	rs := NewReadySet(StrategyPriority, 0)
	research := domain.NewTask("research", 5, domain.AgentTypeResearch, "")
	rs.Enqueue(research)

	if got := rs.Dequeue(domain.AgentTypeWorker, nil); got != nil {
		t.Fatalf("expected no match for worker type, got %v", got)
	}
	if got := rs.Dequeue(domain.AgentTypeResearch, nil); got == nil {
		t.Fatal("expected the research task to be dequeued")
	}
}

func TestReadySetRemove(t *testing.T) {
	rs := NewReadySet(StrategyPriority, 0)
	task := domain.NewTask("cancel me", 0, domain.AgentTypeWorker, "")
	rs.Enqueue(task)

	if !rs.Remove(task.ID) {
		t.Fatal("expected Remove to report the entry existed")
	}
	if rs.Len() != 0 {
		t.Fatalf("expected empty set after remove, got %d", rs.Len())
	}
	if rs.Remove(task.ID) {
		t.Fatal("expected a second Remove to report false")
	}
}

func TestReadySetAgingBoostsWaitingTasks(t *testing.T) {
	rs := NewReadySet(StrategyPriority, 1000)
	old := domain.NewTask("old", 0, domain.AgentTypeWorker, "")
	rs.Enqueue(old)
	// backdate the entry's enqueue time to simulate it having waited
	rs.mu.Lock()
	rs.entries[0].enqueuedAt = time.Now().Add(-time.Minute)
	rs.mu.Unlock()

	fresh := domain.NewTask("fresh", 0, domain.AgentTypeWorker, "")
	rs.Enqueue(fresh)
	rs.Resort()

	got := rs.Dequeue(domain.AgentTypeWorker, nil)
	if got == nil || got.ID != old.ID {
		t.Fatalf("expected the aged task to win on equal priority, got %v", got)
	}
}
