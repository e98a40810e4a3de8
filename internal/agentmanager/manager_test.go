package agentmanager

import (
	"context"
	"testing"
	"time"

	"github.com/fleetctl/orchestrator/internal/domain"
	"github.com/fleetctl/orchestrator/internal/eventbus"
	"github.com/fleetctl/orchestrator/internal/persistence"
	"github.com/fleetctl/orchestrator/internal/statestore"
)

func newTestManager(t *testing.T) (*Manager, *persistence.Store) {
	mgr, store, _ := newTestManagerWithBus(t)
	return mgr, store
}

func newTestManagerWithBus(t *testing.T) (*Manager, *persistence.Store, eventbus.Bus) {
	t.Helper()
	db, err := persistence.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := persistence.NewStore(db, 20*time.Millisecond)
	bus := eventbus.NewMemoryBus(nil)
	t.Cleanup(func() { bus.Close() })
	state := statestore.New(time.Minute, time.Minute)

	return New(store, bus, state, nil), store, bus
}

func TestSpawnPersistsAndTransitions(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	agent, err := mgr.Spawn(ctx, domain.AgentTypeWorker, "", domain.Capabilities{MaxConcurrentTasks: 2}, domain.AgentConfig{}, "")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if agent.Status != domain.AgentStarting {
		t.Fatalf("expected starting, got %s", agent.Status)
	}

	if err := mgr.UpdateStatus(ctx, agent.ID, domain.AgentIdle); err != nil {
		t.Fatalf("update status: %v", err)
	}

	got, err := store.GetAgent(agent.ID)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got.Status != domain.AgentIdle {
		t.Fatalf("expected idle in store, got %s", got.Status)
	}
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	agent, _ := mgr.Spawn(ctx, domain.AgentTypeWorker, "", domain.Capabilities{MaxConcurrentTasks: 1}, domain.AgentConfig{}, "")
	if err := mgr.UpdateStatus(ctx, agent.ID, domain.AgentBusy); err == nil {
		t.Error("expected starting->busy to be rejected")
	}
}

func TestPickAvailableRequiresIdleAndSkills(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	agent, _ := mgr.Spawn(ctx, domain.AgentTypeResearch, "", domain.Capabilities{Skills: []string{"search"}, MaxConcurrentTasks: 1}, domain.AgentConfig{}, "")

	if picked, _ := mgr.PickAvailable(domain.AgentTypeResearch, []string{"search"}); picked != nil {
		t.Error("starting agent should not be pickable")
	}

	_ = mgr.UpdateStatus(ctx, agent.ID, domain.AgentIdle)

	picked, err := mgr.PickAvailable(domain.AgentTypeResearch, []string{"search"})
	if err != nil {
		t.Fatalf("pick available: %v", err)
	}
	if picked == nil || picked.ID != agent.ID {
		t.Fatal("expected to pick the idle agent")
	}

	if picked, _ := mgr.PickAvailable(domain.AgentTypeResearch, []string{"unrelated"}); picked != nil {
		t.Error("should not match missing skill")
	}
}

func TestTerminatePublishesExactlyOneStoppedEventWithReason(t *testing.T) {
	mgr, _, bus := newTestManagerWithBus(t)
	ctx := context.Background()

	agent, _ := mgr.Spawn(ctx, domain.AgentTypeWorker, "", domain.Capabilities{MaxConcurrentTasks: 1}, domain.AgentConfig{}, "")
	if err := mgr.UpdateStatus(ctx, agent.ID, domain.AgentIdle); err != nil {
		t.Fatalf("mark idle: %v", err)
	}

	stopped := make(chan eventbus.Envelope, 4)
	sub, err := bus.Subscribe(eventbus.TopicAgentLifecycle, "watcher", []string{eventbus.EventAgentStopped}, func(ctx context.Context, env eventbus.Envelope) error {
		stopped <- env
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := mgr.Terminate(ctx, agent.ID, "operator requested shutdown"); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	select {
	case env := <-stopped:
		if env.Payload["reason"] != "operator requested shutdown" {
			t.Fatalf("expected reason on agent.stopped, got %v", env.Payload["reason"])
		}
	case <-time.After(time.Second):
		t.Fatal("expected an agent.stopped event")
	}

	select {
	case env := <-stopped:
		t.Fatalf("expected exactly one agent.stopped event, got a second: %v", env.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHealthMonitorMarksStaleAgentsOffline(t *testing.T) {
	mgr, store, bus := newTestManagerWithBus(t)
	ctx := context.Background()

	agent, _ := mgr.Spawn(ctx, domain.AgentTypeWorker, "", domain.Capabilities{MaxConcurrentTasks: 1}, domain.AgentConfig{}, "")
	_ = mgr.UpdateStatus(ctx, agent.ID, domain.AgentIdle)

	a, _ := store.GetAgent(agent.ID)
	a.LastHeartbeatAt = time.Now().Add(-time.Hour)
	if err := store.SaveAgent(a); err != nil {
		t.Fatalf("save agent: %v", err)
	}

	stopped := make(chan eventbus.Envelope, 1)
	sub, err := bus.Subscribe(eventbus.TopicAgentLifecycle, "watcher", []string{eventbus.EventAgentStopped}, func(ctx context.Context, env eventbus.Envelope) error {
		stopped <- env
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	released := make(chan string, 1)
	hm := NewHealthMonitor(mgr, time.Minute, func(ctx context.Context, agentID string) {
		released <- agentID
	}, nil)
	hm.sweep(ctx)

	select {
	case env := <-stopped:
		if env.Payload["reason"] != "heartbeat_timeout" {
			t.Fatalf("expected reason heartbeat_timeout, got %v", env.Payload["reason"])
		}
	case <-time.After(time.Second):
		t.Fatal("expected an agent.stopped event carrying the heartbeat_timeout reason")
	}

	got, err := store.GetAgent(agent.ID)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got.Status != domain.AgentOffline {
		t.Fatalf("expected offline, got %s", got.Status)
	}

	select {
	case id := <-released:
		if id != agent.ID {
			t.Errorf("expected release callback for %s, got %s", agent.ID, id)
		}
	case <-time.After(time.Second):
		t.Fatal("expected onReleased callback to fire")
	}
}
