package metrics

import (
	"testing"
	"time"

	"github.com/fleetctl/orchestrator/internal/domain"
)

type fakeQueue struct{ depth int }

func (f fakeQueue) ReadyLen() int { return f.depth }

type fakeAgents struct{ counts map[domain.AgentStatus]int }

func (f fakeAgents) AgentCountsByStatus() map[domain.AgentStatus]int { return f.counts }

func TestRefreshAppendsSnapshotAndSetsGauges(t *testing.T) {
	c := NewCollector()
	snap := c.Refresh(fakeQueue{depth: 4}, fakeAgents{counts: map[domain.AgentStatus]int{domain.AgentIdle: 2, domain.AgentBusy: 1}})

	if snap.QueueDepth != 4 {
		t.Fatalf("expected queue depth 4, got %d", snap.QueueDepth)
	}
	if snap.AgentsByStatus[domain.AgentIdle] != 2 {
		t.Fatalf("expected 2 idle agents, got %d", snap.AgentsByStatus[domain.AgentIdle])
	}

	latest := c.Latest()
	if latest.QueueDepth != 4 {
		t.Fatalf("expected latest snapshot to match last refresh, got %d", latest.QueueDepth)
	}
	if len(c.History()) != 1 {
		t.Fatalf("expected one snapshot in history, got %d", len(c.History()))
	}
}

func TestHistoryIsBoundedByMaxHistory(t *testing.T) {
	c := NewCollector()
	c.maxHistory = 3
	for i := 0; i < 5; i++ {
		c.Refresh(fakeQueue{depth: i}, fakeAgents{counts: map[domain.AgentStatus]int{}})
	}
	hist := c.History()
	if len(hist) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(hist))
	}
	if hist[len(hist)-1].QueueDepth != 4 {
		t.Fatalf("expected the most recent snapshot retained, got %d", hist[len(hist)-1].QueueDepth)
	}
}

func TestResetHistoryClearsSnapshots(t *testing.T) {
	c := NewCollector()
	c.Refresh(fakeQueue{depth: 1}, fakeAgents{counts: map[domain.AgentStatus]int{}})
	c.ResetHistory()
	if len(c.History()) != 0 {
		t.Fatal("expected history cleared")
	}
	if !c.Latest().Taken.IsZero() {
		t.Fatal("expected latest to be zero value after reset")
	}
}

func TestObserveTaskTerminalDoesNotPanic(t *testing.T) {
	c := NewCollector()
	c.ObserveTaskTerminal(domain.TaskCompleted, time.Now().Add(-time.Second))
	c.ObserveTaskTerminal(domain.TaskFailed, time.Time{})
	c.ObserveWebhookDelivery("success", 50*time.Millisecond)
}
